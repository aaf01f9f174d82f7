/*
jwtvalidator 包独立校验会话JWT并提取声明, 供会话自省接口和冒烟
工具使用。错误分类严格按「格式错误→过期→签名无效」的优先级返回
withCode错误, 调用方可以直接用 errors.IsCode 分支处理。

与 gin-jwt 中间件的区别: 中间件负责保护路由(校验失败直接写401),
本包只做解析和分类, 把决定权留给调用方。
*/
package jwtvalidator

import (
	stderrors "errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/maxiaolu1981/cretem/nexuscore/errors"
	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/code"
	"github.com/maxiaolu1981/cretem/ottserver/pkg/log"
)

// 会话签发时间的合理上限, 与 jwt.max-refresh 的默认值对齐:
// 超过该窗口的令牌即使签名有效也视为过期。
const maxSessionAge = 7 * 24 * time.Hour

// SessionClaims 是一次性令牌登录后签发的会话JWT声明。
// Username 与 sub 内容一致, 双写是为了兼容只认标准声明的客户端。
type SessionClaims struct {
	Username             string `json:"username"`
	jwt.RegisteredClaims        // 标准声明(exp/iat/sub等)
}

// ValidateToken 校验会话令牌并返回声明。
// 校验失败返回withCode错误(含业务码和堆栈), 调用方用 errors.IsCode 分支。
func ValidateToken(tokenString string, secret []byte) (*SessionClaims, error) {
	if tokenString == "" {
		return nil, errors.WithCode(code.ErrMissingHeader, "Authorization header is not present")
	}

	// 带Bearer前缀但没有令牌本体, 算授权头格式错误
	tokenString = trimBearerPrefix(tokenString)
	if tokenString == "" {
		return nil, errors.WithCode(code.ErrInvalidAuthHeader, "invalid authorization header format")
	}

	// 锁定签名算法为HMAC, 拒绝alg=none之类的算法替换
	keyfunc := func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.WithCode(code.ErrTokenInvalid,
				"unsupported signing method: %v", t.Header["alg"])
		}
		return secret, nil
	}

	var claims SessionClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, keyfunc)
	if err != nil {
		return nil, classifyParseError(err)
	}

	sessionClaims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, errors.WithCode(code.ErrTokenInvalid, "token is invalid")
	}
	if err := validateSessionClaims(sessionClaims); err != nil {
		return nil, err
	}
	return sessionClaims, nil
}

// classifyParseError 把jwt库的解析错误翻译成业务错误码。复合错误按
// 格式错误→过期→签名无效 的优先级归类: 一个又畸形又"过期"的串应当
// 报格式错误, 又过期又验签失败的串应当报过期。
func classifyParseError(err error) error {
	var ve *jwt.ValidationError
	if stderrors.As(err, &ve) {
		switch {
		case ve.Errors&jwt.ValidationErrorMalformed != 0:
			return errors.WithCode(code.ErrTokenInvalid, "令牌格式错误")
		case ve.Errors&jwt.ValidationErrorExpired != 0:
			return errors.WithCode(code.ErrExpired, "令牌已过期")
		case ve.Errors&jwt.ValidationErrorSignatureInvalid != 0:
			return errors.WithCode(code.ErrSignatureInvalid, "signature is invalid")
		}
	}

	// jwt库的部分失败路径不设位标志, 按错误文本兜底归类
	msg := err.Error()
	switch {
	case strings.Contains(msg, "token is expired"):
		return errors.WithCode(code.ErrExpired, "令牌已过期")
	case strings.Contains(msg, "invalid number of segments"),
		strings.HasPrefix(msg, "illegal base64 data"):
		return errors.WithCode(code.ErrTokenInvalid, "令牌格式错误")
	case strings.Contains(msg, "signature is invalid"):
		return errors.WithCode(code.ErrSignatureInvalid, "signature is invalid")
	}

	log.Warnf("会话令牌校验失败(未分类): %s", msg)
	return errors.WithCode(code.ErrUnauthorized, "authentication failed: %v", msg)
}

// trimBearerPrefix 移除Bearer前缀(兼容大小写), 裸令牌原样返回。
func trimBearerPrefix(token string) string {
	const prefix = "bearer "
	if len(token) >= len(prefix) && strings.EqualFold(token[:len(prefix)], prefix) {
		return token[len(prefix):]
	}
	return token
}

// validateSessionClaims 业务规则校验: 必须能定位到用户名,
// 签发时间不能早于会话窗口上限。username缺失时从sub回填,
// 通过校验后调用方只需读 claims.Username。
func validateSessionClaims(claims *SessionClaims) error {
	if claims.Username == "" {
		claims.Username = claims.Subject
	}
	if claims.Username == "" {
		return errors.WithCode(code.ErrTokenInvalid, "token missing username")
	}

	if claims.IssuedAt != nil && claims.IssuedAt.Before(time.Now().Add(-maxSessionAge)) {
		return errors.WithCode(code.ErrExpired, "token issued too early")
	}

	return nil
}
