// Copyright 2020 Lingfei Kong <colin404@foxmail.com>. All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package code

//go:generate codegen -type=int

// ott-apiserver用户模块错误（1100xx）：服务11 + 模块00 + 序号
const (
	// ErrUserNotFound - 404: 用户不存在
	ErrUserNotFound int = iota + 110001 // 110001

	// ErrUserAlreadyExist - 400: 用户已存在
	ErrUserAlreadyExist // 110002

	// ErrUnauthorized - 401: 未授权访问用户资源
	ErrUnauthorized // 110003

	// ErrInvalidParameter - 400: 用户参数无效（如用户名为空）
	ErrInvalidParameter // 110004

	// ErrInternal - 500: 用户模块内部错误
	ErrInternal // 110005

	// ErrResourceConflict - 409: 用户资源冲突
	ErrResourceConflict // 110006

	// ErrUserDisabled - 403: 用户已被禁用
	ErrUserDisabled // 110007

	// ErrRateLimitExceeded - 429: 请求过于频繁
	ErrRateLimitExceeded // 110008
)

// ott-apiserver一次性令牌模块错误（1101xx）：服务11 + 模块01 + 序号
const (
	// ErrTokenNotFound - 401: 一次性令牌不存在或已被使用
	ErrTokenNotFound int = iota + 110101 // 110101

	// ErrTokenConsumed - 401: 一次性令牌已被使用
	ErrTokenConsumed // 110102

	// ErrTokenExpiredOTT - 401: 一次性令牌已过期
	ErrTokenExpiredOTT // 110103

	// ErrTokenGenerateFailed - 500: 一次性令牌生成失败
	ErrTokenGenerateFailed // 110104

	// ErrTokenStoreUnavailable - 503: 令牌存储暂不可用
	ErrTokenStoreUnavailable // 110105
)

// nolint: gochecknoinits
func init() {
	register(ErrUserNotFound, 404, "用户不存在")
	register(ErrUserAlreadyExist, 400, "用户已存在")
	register(ErrUnauthorized, 401, "未授权访问用户资源")
	register(ErrInvalidParameter, 400, "用户参数无效")
	register(ErrInternal, 500, "用户模块内部错误")
	register(ErrResourceConflict, 409, "用户资源冲突")
	register(ErrUserDisabled, 403, "用户已被禁用")
	register(ErrRateLimitExceeded, 429, "请求过于频繁，请稍后重试")

	register(ErrTokenNotFound, 401, "一次性令牌不存在或已被使用")
	register(ErrTokenConsumed, 401, "一次性令牌已被使用")
	register(ErrTokenExpiredOTT, 401, "一次性令牌已过期")
	register(ErrTokenGenerateFailed, 500, "一次性令牌生成失败")
	register(ErrTokenStoreUnavailable, 503, "令牌存储暂不可用")
}
