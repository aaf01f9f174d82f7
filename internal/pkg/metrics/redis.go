package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RedisOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "redis_operations_total",
		Help: "Total number of Redis operations by status",
	}, []string{"operation", "status"})

	RedisOperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "redis_operation_seconds",
		Help:    "Latency of Redis operations",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	}, []string{"operation"})

	RedisUp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "redis_up",
		Help: "Whether the Redis connection pool is reachable (1 = up)",
	})
)

// RecordRedisOperation 记录一次Redis操作。operation 用调用方语义
// (user_cache_get 等)而不是redis命令名, 方便按业务面板聚合。
func RecordRedisOperation(operation string, seconds float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	RedisOperations.WithLabelValues(operation, status).Inc()
	RedisOperationLatency.WithLabelValues(operation).Observe(seconds)
}

// WatchRedisHealth 周期性探测Redis连通性并更新 redis_up。
// probe 由调用方注入, 避免metrics包反向依赖存储层。
func WatchRedisHealth(ctx context.Context, interval time.Duration, probe func() bool) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	set := func() {
		if probe() {
			RedisUp.Set(1)
		} else {
			RedisUp.Set(0)
		}
	}

	set()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			set()
		}
	}
}
