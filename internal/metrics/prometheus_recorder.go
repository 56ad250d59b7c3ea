package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once          sync.Once
	jobDuration   prom.Histogram
	stageDuration *prom.HistogramVec
	jobOutcome    *prom.CounterVec
	errorKinds    *prom.CounterVec
	pageResolved  *prom.CounterVec
	retries       prom.Counter
	queueDepth    prom.Gauge
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.jobDuration = prom.NewHistogram(prom.HistogramOpts{
			Namespace: "bookbinder",
			Name:      "job_duration_seconds",
			Help:      "Total generation job duration",
			Buckets:   prom.DefBuckets,
		})
		pr.stageDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "bookbinder",
			Name:      "stage_duration_seconds",
			Help:      "Duration of individual pipeline stages",
			Buckets:   prom.DefBuckets,
		}, []string{"stage"})
		pr.jobOutcome = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "bookbinder",
			Name:      "job_outcomes_total",
			Help:      "Job outcomes by terminal state",
		}, []string{"outcome"})
		pr.errorKinds = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "bookbinder",
			Name:      "job_errors_total",
			Help:      "Errored jobs by error kind",
		}, []string{"kind"})
		pr.pageResolved = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "bookbinder",
			Name:      "pages_resolved_total",
			Help:      "Resolved page slots by page type",
		}, []string{"page_type"})
		pr.retries = prom.NewCounter(prom.CounterOpts{
			Namespace: "bookbinder",
			Name:      "job_retries_total",
			Help:      "Total transient retries across jobs",
		})
		pr.queueDepth = prom.NewGauge(prom.GaugeOpts{
			Namespace: "bookbinder",
			Name:      "queue_depth",
			Help:      "Jobs waiting in the generation queue",
		})
		reg.MustRegister(pr.jobDuration, pr.stageDuration, pr.jobOutcome,
			pr.errorKinds, pr.pageResolved, pr.retries, pr.queueDepth)
	})
	return pr
}

func (p *PrometheusRecorder) ObserveJobDuration(d time.Duration) {
	if p == nil || p.jobDuration == nil {
		return
	}
	p.jobDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveStageDuration(stage string, d time.Duration) {
	if p == nil || p.stageDuration == nil {
		return
	}
	p.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncJobOutcome(outcome string) {
	if p == nil || p.jobOutcome == nil {
		return
	}
	p.jobOutcome.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) IncErrorKind(kind string) {
	if p == nil || p.errorKinds == nil {
		return
	}
	p.errorKinds.WithLabelValues(kind).Inc()
}

func (p *PrometheusRecorder) IncPageResolved(pageType string) {
	if p == nil || p.pageResolved == nil {
		return
	}
	p.pageResolved.WithLabelValues(pageType).Inc()
}

func (p *PrometheusRecorder) IncJobRetry() {
	if p == nil || p.retries == nil {
		return
	}
	p.retries.Inc()
}

func (p *PrometheusRecorder) SetQueueDepth(n int) {
	if p == nil || p.queueDepth == nil {
		return
	}
	p.queueDepth.Set(float64(n))
}
