// Package metrics defines prometheus metrics to expose
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "claude_proxy_request_duration_seconds",
			Help:    "Total time taken for requests in seconds",
			Buckets: []float64{1, 2.5, 5, 10, 15, 20, 25, 30, 40, 50, 75, 100, 150, 200, 350, 400, 500, 600},
		},
		[]string{"model", "endpoint"},
	)

	TimeToFirstToken = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "claude_proxy_time_to_first_token_seconds",
			Help:    "Time to first token in seconds",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 15, 20, 25, 30, 40, 50, 75, 100, 150, 200, 350, 400, 500, 600},
		},
		[]string{"model", "endpoint"},
	)

	PromptTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claude_proxy_prompt_tokens_total",
			Help: "Total number of prompt tokens used",
		},
		[]string{"model", "endpoint"},
	)

	CompletionTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claude_proxy_completion_tokens_total",
			Help: "Total number of completion tokens used",
		},
		[]string{"model", "endpoint"},
	)

	TotalTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claude_proxy_total_tokens_total",
			Help: "Total number of tokens used",
		},
		[]string{"model", "endpoint"},
	)

	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claude_proxy_request_count_total",
			Help: "Total number of requests processed",
		},
		[]string{"model", "endpoint", "status"},
	)

	TokensPerSecond = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "claude_proxy_tokens_per_second",
			Help:    "Tokens per second",
			Buckets: []float64{1, 5, 10, 15, 20, 25, 30, 35, 40, 45, 50, 60, 70, 80},
		},
		[]string{"model", "endpoint"},
	)

	CanceledRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claude_proxy_canceled_requests_total",
			Help: "Requests canceled by the client before completion",
		},
		[]string{"model", "endpoint"},
	)

	ErrorCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claude_proxy_error_count",
			Help: "Error count",
		},
		[]string{"model", "endpoint", "from"},
	)

	ResponseCodes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claude_proxy_status_code",
			Help: "Status Codes",
		},
		[]string{"path", "status_code"},
	)
)
