package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 令牌域指标。result/outcome 标签值由 service 层收敛, 基数可控:
// result: success|error
// outcome: success|not_found|used|expired|unknown_user|disabled|error
var (
	TokensGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ott_tokens_generated_total",
		Help: "Total number of one-time tokens generated",
	}, []string{"result"})

	TokensConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ott_tokens_consumed_total",
		Help: "Total number of one-time token consume attempts by outcome",
	}, []string{"outcome"})

	TokenFilterRejects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ott_token_filter_rejects_total",
		Help: "Total number of consume attempts rejected or flagged by the negative cache",
	})

	TokenConsumeLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ott_token_consume_seconds",
		Help:    "Latency of successful token consume operations",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})

	TokensSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ott_tokens_swept_total",
		Help: "Total number of expired tokens removed by the background sweeper",
	})

	ActiveTokens = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ott_tokens_active",
		Help: "Number of unexpired tokens currently stored",
	})
)
