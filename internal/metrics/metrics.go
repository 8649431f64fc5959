// Package metrics exposes the service's Prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	IngestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "askdoc_ingest_total",
		Help: "Document ingestions by outcome.",
	}, []string{"status"})

	IngestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "askdoc_ingest_duration_seconds",
		Help:    "Wall time of full document ingestions.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	QueryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "askdoc_query_total",
		Help: "Questions answered by outcome.",
	}, []string{"status"})

	QueryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "askdoc_query_duration_seconds",
		Help:    "Wall time of retrieve-and-generate round trips.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	ActiveChunks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "askdoc_active_chunks",
		Help: "Chunks in the currently active corpus.",
	})

	LLMRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "askdoc_llm_requests_total",
		Help: "Upstream LLM calls by provider, operation, and outcome.",
	}, []string{"provider", "op", "status"})
)
