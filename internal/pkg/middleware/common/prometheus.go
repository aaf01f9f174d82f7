package common

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/maxiaolu1981/cretem/nexuscore/errors"
	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/code"
	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/metrics"
	"github.com/maxiaolu1981/cretem/ottserver/pkg/log"
)

// PrometheusMiddleware 采集每个请求的时延、吞吐、请求/响应大小与错误分类指标。
// 放在中间件链前部, 这样路由内抛出的4xx/5xx都能被计入。
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		metrics.HTTPMiddlewareStart()

		var requestSize int64
		if c.Request.Body != nil {
			requestSize = c.Request.ContentLength
		}

		c.Next()

		status := c.Writer.Status()
		responseSize := c.Writer.Size()
		if responseSize < 0 {
			responseSize = 0
		}

		metrics.RecordHTTPRequest(
			routePath(c),
			c.Request.Method,
			strconv.Itoa(status),
			time.Since(start).Seconds(),
			requestSize,
			int64(responseSize),
		)

		if status >= http.StatusBadRequest {
			if status >= http.StatusInternalServerError {
				log.Errorf("server error: path=%s method=%s status=%d err=%v",
					c.Request.URL.Path, c.Request.Method, status, c.Errors.Last())
			}
			metrics.HTTPErrors.WithLabelValues(
				c.Request.Method,
				routePath(c),
				strconv.Itoa(status),
				errorLabel(c, status),
			).Inc()
		}

		metrics.HTTPMiddlewareEnd()
	}
}

// routePath 优先用注册的路由模板, 避免路径参数把指标标签打散。
func routePath(c *gin.Context) string {
	if path := c.FullPath(); path != "" {
		return path
	}
	return c.Request.URL.Path
}

// errorLabel 给失败请求归类: 业务错误码优先(上下文键或c.Errors里的coder),
// 两者都没有时退回HTTP状态码分档。
func errorLabel(c *gin.Context, status int) string {
	if v, ok := c.Get("error_code"); ok {
		if bizCode, ok := v.(int); ok {
			return labelForCode(bizCode)
		}
	}
	if last := c.Errors.Last(); last != nil {
		if coder := errors.ParseCoderByErr(last); coder != nil {
			return labelForCode(coder.Code())
		}
	}
	return labelForStatus(status)
}

func labelForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "permission_denied"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusRequestTimeout:
		return "request_timeout"
	case http.StatusUnsupportedMediaType:
		return "unsupported_media_type"
	case http.StatusTooManyRequests:
		return "rate_limit"
	default:
		if status >= http.StatusInternalServerError {
			return "server_error"
		}
		return "client_error"
	}
}

// labelForCode 把业务错误码映射成指标标签, 表里没有的按码段归大类。
var errorLabelByCode = map[int]string{
	// 通用 100xxx
	code.ErrUnknown:              "unknown_error",
	code.ErrBind:                 "bad_request",
	code.ErrValidation:           "validation_error",
	code.ErrPageNotFound:         "not_found",
	code.ErrMethodNotAllowed:     "method_not_allowed",
	code.ErrUnsupportedMediaType: "unsupported_media_type",
	code.ErrContextCanceled:      "request_timeout",

	// 数据库
	code.ErrDatabase:         "database_error",
	code.ErrDatabaseTimeout:  "database_timeout",
	code.ErrDatabaseDeadlock: "database_deadlock",

	// 认证授权
	code.ErrEncrypt:             "encryption_error",
	code.ErrSignatureInvalid:    "signature_invalid",
	code.ErrExpired:             "token_expired",
	code.ErrInvalidAuthHeader:   "invalid_auth_header",
	code.ErrMissingHeader:       "missing_auth_header",
	code.ErrPasswordIncorrect:   "password_incorrect",
	code.ErrPermissionDenied:    "permission_denied",
	code.ErrTokenInvalid:        "token_invalid",
	code.ErrBase64DecodeFail:    "base64_decode_error",
	code.ErrInvalidBasicPayload: "invalid_basic_payload",
	code.ErrRespCodeRTRevoked:   "token_revoked",

	// 编解码
	code.ErrEncodingFailed: "encoding_error",
	code.ErrDecodingFailed: "decoding_error",
	code.ErrInvalidJSON:    "invalid_json",
	code.ErrEncodingJSON:   "json_encoding_error",
	code.ErrDecodingJSON:   "json_decoding_error",

	// 外部组件
	code.ErrKafkaSendFailed: "kafka_error",
	code.ErrRedisFailed:     "redis_error",

	// 用户模块 110xxx
	code.ErrUserNotFound:      "user_not_found",
	code.ErrUserAlreadyExist:  "user_already_exists",
	code.ErrUnauthorized:      "unauthorized",
	code.ErrInvalidParameter:  "invalid_parameter",
	code.ErrInternal:          "user_internal_error",
	code.ErrResourceConflict:  "resource_conflict",
	code.ErrUserDisabled:      "user_disabled",
	code.ErrRateLimitExceeded: "rate_limit",

	// 一次性令牌模块 1101xx
	code.ErrTokenNotFound:         "ott_not_found",
	code.ErrTokenConsumed:         "ott_consumed",
	code.ErrTokenExpiredOTT:       "ott_expired",
	code.ErrTokenGenerateFailed:   "ott_generate_failed",
	code.ErrTokenStoreUnavailable: "ott_store_unavailable",
}

func labelForCode(bizCode int) string {
	if label, ok := errorLabelByCode[bizCode]; ok {
		return label
	}
	switch {
	case bizCode >= 100000 && bizCode < 101000:
		return "common_error"
	case bizCode >= 110000 && bizCode < 111000:
		return "business_error"
	default:
		return "unknown_error"
	}
}
