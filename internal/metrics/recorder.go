// Package metrics defines observability hooks for the generation pipeline.
package metrics

import "time"

// Recorder defines observability hooks for job and stage metrics.
// Implementations may forward to Prometheus, OpenTelemetry, etc. The
// NoopRecorder is the default when metrics are not configured.
type Recorder interface {
	ObserveJobDuration(d time.Duration)
	ObserveStageDuration(stage string, d time.Duration)
	IncJobOutcome(outcome string) // outcome: done|error
	IncErrorKind(kind string)
	IncPageResolved(pageType string)
	IncJobRetry()
	SetQueueDepth(n int)
}

// NoopRecorder is a Recorder that does nothing.
type NoopRecorder struct{}

func (NoopRecorder) ObserveJobDuration(time.Duration)           {}
func (NoopRecorder) ObserveStageDuration(string, time.Duration) {}
func (NoopRecorder) IncJobOutcome(string)                       {}
func (NoopRecorder) IncErrorKind(string)                        {}
func (NoopRecorder) IncPageResolved(string)                     {}
func (NoopRecorder) IncJobRetry()                               {}
func (NoopRecorder) SetQueueDepth(int)                          {}
