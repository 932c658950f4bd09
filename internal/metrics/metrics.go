package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the gateway's Prometheus collectors.
type Metrics struct {
	TurnsTotal       *prometheus.CounterVec
	TurnErrorsTotal  *prometheus.CounterVec
	PromptTokens     *prometheus.CounterVec
	CompletionTokens *prometheus.CounterVec
	TurnDuration     *prometheus.HistogramVec
}

var (
	once   sync.Once
	global *Metrics
)

// Global returns the process-wide metrics, registering them on first use.
func Global() *Metrics {
	once.Do(func() {
		global = &Metrics{
			TurnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "chat_gateway",
				Name:      "turns_total",
				Help:      "Total chat turns executed",
			}, []string{"provider", "model"}),
			TurnErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "chat_gateway",
				Name:      "turn_errors_total",
				Help:      "Total chat turns that failed",
			}, []string{"provider"}),
			PromptTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "chat_gateway",
				Name:      "prompt_tokens_total",
				Help:      "Estimated prompt tokens sent upstream",
			}, []string{"provider", "model"}),
			CompletionTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "chat_gateway",
				Name:      "completion_tokens_total",
				Help:      "Estimated completion tokens received",
			}, []string{"provider", "model"}),
			TurnDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "chat_gateway",
				Name:      "turn_duration_seconds",
				Help:      "Wall time of a chat turn including streaming",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
			}, []string{"provider"}),
		}
		prometheus.MustRegister(
			global.TurnsTotal,
			global.TurnErrorsTotal,
			global.PromptTokens,
			global.CompletionTokens,
			global.TurnDuration,
		)
	})
	return global
}
