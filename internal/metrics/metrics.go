// ============================================================================
// replydraft Metrics - Prometheus instrumentation
// ============================================================================
//
// Package: internal/metrics
// File: metrics.go
// Purpose: collect and expose job and generation metrics for Prometheus
//
// Metrics:
//
//   1. Job counters, labelled by kind:
//      - replydraft_jobs_submitted_total{kind}
//      - replydraft_jobs_dispatched_total{kind}
//      - replydraft_jobs_finished_total{kind,state}
//      - replydraft_jobs_evicted_total
//
//   2. Latency:
//      - replydraft_job_duration_seconds{kind}   worker execution time
//
//   3. Generation:
//      - replydraft_drafts_total{strategy}
//      - replydraft_draft_confidence             histogram over [0,1]
//      - replydraft_strategy_rejections_total{strategy,reason}
//
//   4. Gauges:
//      - replydraft_jobs{state}                  current registry counts
//      - replydraft_restore_time_seconds         last snapshot restore
//
// Example queries:
//
//   # share of drafts that fell all the way back to the template
//   rate(replydraft_drafts_total{strategy="Template"}[5m])
//     / ignoring(strategy) sum(rate(replydraft_drafts_total[5m]))
//
//   # 95th percentile generation job latency
//   histogram_quantile(0.95,
//     rate(replydraft_job_duration_seconds_bucket{kind="GenerateResponse"}[5m]))
//
// A nil *Collector is valid and records nothing.
//
// ============================================================================

package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "replydraft"

// Collector holds every replydraft metric
type Collector struct {
	jobsSubmitted  *prometheus.CounterVec
	jobsDispatched *prometheus.CounterVec
	jobsFinished   *prometheus.CounterVec
	jobsEvicted    prometheus.Counter
	jobDuration    *prometheus.HistogramVec

	drafts             *prometheus.CounterVec
	draftConfidence    prometheus.Histogram
	strategyRejections *prometheus.CounterVec

	jobs        *prometheus.GaugeVec
	restoreTime prometheus.Gauge
}

// NewCollector creates the metrics and registers them with the default
// registerer.
func NewCollector() *Collector {
	c := &Collector{
		jobsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Total number of jobs accepted by Submit",
		}, []string{"kind"}),
		jobsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_dispatched_total",
			Help:      "Total number of jobs handed to workers",
		}, []string{"kind"}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Total number of jobs that reached a terminal state",
		}, []string{"kind", "state"}),
		jobsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_evicted_total",
			Help:      "Total number of terminal jobs removed after the retention window",
		}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Worker execution time per job",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		drafts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drafts_total",
			Help:      "Drafts produced, by winning strategy",
		}, []string{"strategy"}),
		draftConfidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "draft_confidence",
			Help:      "Confidence of produced drafts",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
		strategyRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "strategy_rejections_total",
			Help:      "Strategy attempts that did not produce the final draft",
		}, []string{"strategy", "reason"}),
		jobs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs",
			Help:      "Current number of jobs per state",
		}, []string{"state"}),
		restoreTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "restore_time_seconds",
			Help:      "Time taken by the last snapshot restore",
		}),
	}

	prometheus.MustRegister(
		c.jobsSubmitted,
		c.jobsDispatched,
		c.jobsFinished,
		c.jobsEvicted,
		c.jobDuration,
		c.drafts,
		c.draftConfidence,
		c.strategyRejections,
		c.jobs,
		c.restoreTime,
	)
	return c
}

// RecordSubmitted counts an accepted job
func (c *Collector) RecordSubmitted(kind string) {
	if c == nil {
		return
	}
	c.jobsSubmitted.WithLabelValues(kind).Inc()
}

// RecordDispatched counts a job handed to the pool
func (c *Collector) RecordDispatched(kind string) {
	if c == nil {
		return
	}
	c.jobsDispatched.WithLabelValues(kind).Inc()
}

// RecordFinished counts a terminal transition
func (c *Collector) RecordFinished(kind, state string) {
	if c == nil {
		return
	}
	c.jobsFinished.WithLabelValues(kind, state).Inc()
}

// ObserveDuration records worker execution time
func (c *Collector) ObserveDuration(kind string, seconds float64) {
	if c == nil {
		return
	}
	c.jobDuration.WithLabelValues(kind).Observe(seconds)
}

// RecordEvicted counts evicted jobs
func (c *Collector) RecordEvicted(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.jobsEvicted.Add(float64(n))
}

// RecordDraft counts a produced draft and its confidence
func (c *Collector) RecordDraft(strategy string, confidence float64) {
	if c == nil {
		return
	}
	c.drafts.WithLabelValues(strategy).Inc()
	c.draftConfidence.Observe(confidence)
}

// RecordRejection counts a strategy attempt that was passed over
func (c *Collector) RecordRejection(strategy, reason string) {
	if c == nil {
		return
	}
	c.strategyRejections.WithLabelValues(strategy, reason).Inc()
}

// UpdateJobStats sets the per-state gauges from registry counts
func (c *Collector) UpdateJobStats(stats map[string]int) {
	if c == nil {
		return
	}
	for state, n := range stats {
		c.jobs.WithLabelValues(state).Set(float64(n))
	}
}

// SetRestoreTime records how long the last snapshot restore took
func (c *Collector) SetRestoreTime(seconds float64) {
	if c == nil {
		return
	}
	c.restoreTime.Set(seconds)
}

// Handler serves the default gatherer in the Prometheus text format
func Handler() http.Handler {
	return promhttp.Handler()
}

// StartServer serves /metrics on port until the listener fails
func StartServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	addr := fmt.Sprintf(":%d", port)
	return http.ListenAndServe(addr, mux)
}
