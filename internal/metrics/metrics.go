// Package metrics holds the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fbpostai"

var (
	PipelineResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_results_total",
			Help:      "Pipeline outcomes by status",
		},
		[]string{"status"}, // scheduled, pending_approval, failed
	)

	PipelineDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "Time from intake to pipeline result",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 8), // 250ms to ~32s
		},
	)

	PublishAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_attempts_total",
			Help:      "Publish attempts by outcome",
		},
		[]string{"outcome"}, // succeeded, retried, failed
	)

	QueueJobs = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_jobs",
			Help:      "Jobs in the publish queue by state",
		},
		[]string{"state"},
	)

	ModerationChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "moderation_checks_total",
			Help:      "Moderation verdicts",
		},
		[]string{"result"}, // safe, unsafe, error
	)

	LLMCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_calls_total",
			Help:      "Generation calls by purpose and status",
		},
		[]string{"purpose", "status"},
	)

	CredentialCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credential_cache_total",
			Help:      "Credential cache lookups by result",
		},
		[]string{"result"}, // hit, miss, stale
	)

	MediaFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "media_fetches_total",
			Help:      "Remote media downloads by result",
		},
		[]string{"result"}, // stored, rejected, error
	)
)
