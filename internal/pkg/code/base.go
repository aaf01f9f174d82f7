// Copyright 2020 Lingfei Kong <colin404@foxmail.com>. All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package code

//go:generate codegen -type=int
//go:generate codegen -type=int -doc -output ../../../docs/guide/zh-CN/api/error_code_generated.md

// 通用基本错误（1000xx）：服务10 + 模块00 + 序号
const (
	// ErrSuccess - 200: 成功
	ErrSuccess int = iota + 100001 // 100001

	// ErrUnknown - 500: 内部服务器错误
	ErrUnknown // 100002

	// ErrBind - 400: 请求体绑定结构体失败
	ErrBind // 100003

	// ErrValidation - 422: 数据验证失败
	ErrValidation // 100004

	// ErrPageNotFound - 404: 页面不存在
	ErrPageNotFound // 100005

	// ErrMethodNotAllowed - 405: 方法不存在
	ErrMethodNotAllowed // 100006

	// ErrUnsupportedMediaType - 415: 不支持的Content-Type
	ErrUnsupportedMediaType // 100007

	// ErrContextCanceled - 408: 请求上下文被取消
	ErrContextCanceled // 100008
)

// 通用数据库错误（1001xx）：服务10 + 模块01 + 序号
const (
	// ErrDatabase - 500: 数据库操作错误
	ErrDatabase int = iota + 100101 // 100101

	// ErrDatabaseTimeout - 500: 数据库超时
	ErrDatabaseTimeout // 100102

	// ErrDatabaseDeadlock - 500: 数据库死锁，重试后仍失败
	ErrDatabaseDeadlock // 100103
)

// 通用授权认证错误（1002xx）：服务10 + 模块02 + 序号
const (
	// ErrEncrypt - 401: 用户密码加密失败
	ErrEncrypt int = iota + 100201 // 100201

	// ErrSignatureInvalid - 401: 签名无效
	ErrSignatureInvalid // 100202

	// ErrExpired - 401: 令牌已过期
	ErrExpired // 100203

	// ErrInvalidAuthHeader - 401: 无效的授权头
	ErrInvalidAuthHeader // 100204

	// ErrMissingHeader - 401: Authorization头为空
	ErrMissingHeader // 100205

	// ErrPasswordIncorrect - 401: 密码不正确
	ErrPasswordIncorrect // 100206

	// ErrPermissionDenied - 403: 权限不足
	ErrPermissionDenied // 100207

	// ErrTokenInvalid - 401: 令牌无效
	ErrTokenInvalid // 100208

	// ErrBase64DecodeFail - 400: Basic认证 payload Base64解码失败
	ErrBase64DecodeFail // 100209

	// ErrInvalidBasicPayload - 400: Basic认证 payload格式无效（缺少冒号分隔）
	ErrInvalidBasicPayload // 100210

	// ErrRespCodeRTRevoked - 403: 令牌被撤销
	ErrRespCodeRTRevoked // 100211
)

// 通用加解码错误（1003xx）：服务10 + 模块03 + 序号
const (
	// ErrEncodingFailed - 500: 数据编码失败
	ErrEncodingFailed int = iota + 100301 // 100301

	// ErrDecodingFailed - 500: 数据解码失败
	ErrDecodingFailed // 100302

	// ErrInvalidJSON - 500: 无效的JSON格式
	ErrInvalidJSON // 100303

	// ErrEncodingJSON - 500: JSON编码失败
	ErrEncodingJSON // 100304

	// ErrDecodingJSON - 500: JSON解码失败
	ErrDecodingJSON // 100305
)

// 通用外部组件错误（1004xx）：服务10 + 模块04 + 序号
const (
	// ErrKafkaSendFailed - 500: Kafka消息发送失败
	ErrKafkaSendFailed int = iota + 100401 // 100401

	// ErrRedisFailed - 500: Redis操作失败
	ErrRedisFailed // 100402
)

// nolint: gochecknoinits 错误码必须在进程启动时一次性登记
func init() {
	register(ErrSuccess, 200, "成功")
	register(ErrUnknown, 500, "内部服务器错误")
	register(ErrBind, 400, "请求体绑定结构体失败")
	register(ErrValidation, 422, "数据验证失败")
	register(ErrPageNotFound, 404, "页面不存在")
	register(ErrMethodNotAllowed, 405, "方法不存在")
	register(ErrUnsupportedMediaType, 415, "不支持的Content-Type")
	register(ErrContextCanceled, 408, "请求上下文被取消")

	register(ErrDatabase, 500, "数据库操作错误")
	register(ErrDatabaseTimeout, 500, "数据库超时")
	register(ErrDatabaseDeadlock, 500, "数据库死锁")

	register(ErrEncrypt, 401, "用户密码加密失败")
	register(ErrSignatureInvalid, 401, "签名无效")
	register(ErrExpired, 401, "令牌已过期")
	register(ErrInvalidAuthHeader, 401, "无效的授权头")
	register(ErrMissingHeader, 401, "Authorization头为空")
	register(ErrPasswordIncorrect, 401, "密码不正确")
	register(ErrPermissionDenied, 403, "权限不足")
	register(ErrTokenInvalid, 401, "令牌无效")
	register(ErrBase64DecodeFail, 400, "Basic认证payload Base64解码失败")
	register(ErrInvalidBasicPayload, 400, "Basic认证payload格式无效")
	register(ErrRespCodeRTRevoked, 403, "令牌被撤销")

	register(ErrEncodingFailed, 500, "数据编码失败")
	register(ErrDecodingFailed, 500, "数据解码失败")
	register(ErrInvalidJSON, 500, "无效的JSON格式")
	register(ErrEncodingJSON, 500, "JSON编码失败")
	register(ErrDecodingJSON, 500, "JSON解码失败")

	register(ErrKafkaSendFailed, 500, "Kafka消息发送失败")
	register(ErrRedisFailed, 500, "Redis操作失败")
}
