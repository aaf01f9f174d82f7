package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 数据库层指标, 按操作和表打标签。mysql存储层的每个方法都会上报,
// 错误另带error_type(not_found/duplicate/deadlock/other)便于告警分级。
var (
	DatabaseOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "database_operations_total",
			Help: "数据库操作次数, 按操作与表区分",
		},
		[]string{"operation", "table"},
	)

	DatabaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "database_operation_duration_seconds",
			Help:    "数据库操作耗时分布",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"operation", "table"},
	)

	DatabaseErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "database_errors_total",
			Help: "数据库错误次数, error_type由存储层分类",
		},
		[]string{"operation", "table", "error_type"},
	)
)

// RecordOperation 上报一次数据库操作的计数与耗时。
func RecordOperation(operation, table string, duration time.Duration) {
	DatabaseOperations.WithLabelValues(operation, table).Inc()
	DatabaseDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordError 上报一次数据库错误。errorType由存储层分类后传入。
func RecordError(operation, table, errorType string) {
	DatabaseErrors.WithLabelValues(operation, table, errorType).Inc()
}
