/*
metrics 包集中定义 ott-apiserver 的 Prometheus 指标。

指标按关注点分块: HTTP、Kafka生产/消费、业务操作、缓存。令牌域指标在
token.go, 数据库通用指标在 database.go, Redis 运维指标在 redis.go。
全部通过 promauto 注册到默认 Registry, 由 /metrics 端点暴露。
*/
package metrics

import (
	"strconv"
	"time"

	"github.com/maxiaolu1981/cretem/nexuscore/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 生产者指标
	ProducerAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kafka_producer_attempts_total",
		Help: "审计消息发送尝试次数, 含重试",
	}, []string{"topic", "operation"})

	ProducerSuccess = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kafka_producer_success_total",
		Help: "审计消息发送成功次数",
	}, []string{"topic", "operation"})

	ProducerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kafka_producer_failures_total",
		Help: "审计消息发送失败次数, 按错误类型区分",
	}, []string{"topic", "operation", "error_type"})
)

var (
	// Kafka消费者指标
	ConsumerMessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kafka_consumer_messages_received_total",
		Help: "消费者收到的消息条数",
	}, []string{"topic", "group", "operation"})

	ConsumerMessagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kafka_consumer_messages_processed_total",
		Help: "消费者处理成功的消息条数",
	}, []string{"topic", "group", "operation"})

	ConsumerProcessingErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kafka_consumer_processing_errors_total",
		Help: "消费者处理失败的消息条数",
	}, []string{"topic", "group", "operation", "error_type"})

	ConsumerProcessingTime = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kafka_consumer_processing_seconds",
		Help:    "单条消息的消费处理耗时",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"topic", "group", "operation", "status"})

	ConsumerRetryMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kafka_consumer_retry_messages_total",
		Help: "进入重试主题的消息条数",
	}, []string{"topic", "group", "operation", "error_type"})

	ConsumerDeadLetterMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kafka_consumer_dead_letter_messages_total",
		Help: "进入死信主题的消息条数",
	}, []string{"topic", "group", "operation", "error_type"})
)

var (
	// 业务操作指标: MonitorBusinessOperation 统一打点
	BusinessProcessingTime = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "business_processing_seconds",
		Help:    "业务操作耗时, operation为module.operation",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"operation"})

	BusinessSuccess = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "business_operations_success_total",
		Help: "业务操作成功次数",
	}, []string{"operation"})

	BusinessFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "business_operations_failures_total",
		Help: "业务操作失败次数, error_type为业务错误码",
	}, []string{"operation", "error_type"})
)

var (
	// HTTP指标
	HTTPResponseTime = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_response_time_seconds",
		Help:    "HTTP请求处理耗时",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
	}, []string{"path", "method", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "HTTP请求总数",
	}, []string{"path", "method", "status"})

	HTTPRequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "http_requests_in_flight",
		Help: "正在处理中的HTTP请求数",
	})

	HTTPErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_errors_total",
		Help: "HTTP错误响应数, 按错误类型区分",
	}, []string{"method", "path", "status", "error_type"})

	HTTPRequestSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_size_bytes",
		Help:    "HTTP请求体大小分布",
		Buckets: prometheus.ExponentialBuckets(64, 4, 8),
	}, []string{"path", "method"})

	HTTPResponseSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_response_size_bytes",
		Help:    "HTTP响应体大小分布",
		Buckets: prometheus.ExponentialBuckets(64, 4, 8),
	}, []string{"path", "method"})

	// 写限流拒绝计数, reason区分本地限流/redis限流/降级
	WriteLimiterTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ott_write_limited_total",
		Help: "写限流拒绝的请求数, reason区分限流来源",
	}, []string{"path", "reason"})
)

var (
	// 缓存命中指标
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "user_cache_hits_total",
		Help: "用户缓存查询结果分布",
	}, []string{"type"}) // hit, null_hit, no_record, degraded
)

var (
	// 审计事件指标
	AuditEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audit_events_total",
		Help: "审计事件产生总数",
	}, []string{"action", "resource", "outcome"})

	AuditFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audit_failures_total",
		Help: "被审计操作的失败次数",
	}, []string{"action", "resource"})

	AuditDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audit_events_dropped_total",
		Help: "审计链路丢弃的事件数",
	}, []string{"reason"})
)

// MonitorBusinessOperation 包裹一段业务逻辑并记录耗时与成败。
// module.operation 形成指标的 operation 标签, source 标记调用入口(http/kafka)。
func MonitorBusinessOperation(module, operation, source string, fn func() error) error {
	op := module + "." + operation
	start := time.Now()

	err := fn()

	BusinessProcessingTime.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		BusinessFailures.WithLabelValues(op, businessErrorType(err)).Inc()
		return err
	}
	BusinessSuccess.WithLabelValues(op).Inc()
	return nil
}

// businessErrorType 用注册的业务错误码做标签, 未注册错误归为 unknown。
func businessErrorType(err error) string {
	coder := errors.ParseCoderByErr(err)
	if coder == nil {
		return "unknown"
	}
	return strconv.Itoa(coder.Code())
}

// RecordAuditEvent 审计事件计数。
func RecordAuditEvent(action, resource, outcome string) {
	AuditEvents.WithLabelValues(action, resource, outcome).Inc()
}

// RecordAuditFailure 被审计操作失败计数。
func RecordAuditFailure(action, resource string) {
	AuditFailures.WithLabelValues(action, resource).Inc()
}

// RecordAuditDropped 审计链路丢弃计数(队列满、kafka发送失败等)。
func RecordAuditDropped(reason string) {
	AuditDropped.WithLabelValues(reason).Inc()
}

// RecordHTTPRequest 记录一次HTTP请求的观测值。
func RecordHTTPRequest(path, method, status string, duration float64, requestSize, responseSize int64) {
	HTTPResponseTime.WithLabelValues(path, method, status).Observe(duration)
	HTTPRequestsTotal.WithLabelValues(path, method, status).Inc()
	if requestSize > 0 {
		HTTPRequestSize.WithLabelValues(path, method).Observe(float64(requestSize))
	}
	if responseSize > 0 {
		HTTPResponseSize.WithLabelValues(path, method).Observe(float64(responseSize))
	}
}

// HTTP中间件使用的函数
func HTTPMiddlewareStart() {
	HTTPRequestsInFlight.Inc()
}

func HTTPMiddlewareEnd() {
	HTTPRequestsInFlight.Dec()
}
