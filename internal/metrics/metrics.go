// Package metrics records run outcomes as Prometheus series.
//
// A crucible run is a short-lived process, so series are written once at exit
// to a node-exporter textfile instead of being scraped.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "crucible"

// Recorder holds the run's collectors. A nil *Recorder records nothing.
type Recorder struct {
	registry *prometheus.Registry

	boots        *prometheus.CounterVec
	bootDuration prometheus.Histogram
	lockWait     prometheus.Histogram
	steps        *prometheus.CounterVec
	destroys     *prometheus.CounterVec
}

// New returns a Recorder with its own registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		boots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "boot_total",
			Help:      "Environment boots by result.",
		}, []string{"result"}),
		bootDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "boot_duration_seconds",
			Help:      "Time spent in the boot critical section.",
			Buckets:   prometheus.ExponentialBuckets(5, 2, 8),
		}),
		lockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for the host boot lock.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_total",
			Help:      "Build steps by kind and result.",
		}, []string{"kind", "result"}),
		destroys: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "destroy_total",
			Help:      "Environment destroys by result.",
		}, []string{"result"}),
	}
	r.registry.MustRegister(r.boots, r.bootDuration, r.lockWait, r.steps, r.destroys)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Boot records one boot attempt.
func (r *Recorder) Boot(ok bool, d time.Duration) {
	if r == nil {
		return
	}
	r.boots.WithLabelValues(outcome(ok)).Inc()
	r.bootDuration.Observe(d.Seconds())
}

// LockWait records how long the boot lock took to acquire.
func (r *Recorder) LockWait(d time.Duration) {
	if r == nil {
		return
	}
	r.lockWait.Observe(d.Seconds())
}

// Step records a finished build step.
func (r *Recorder) Step(kind string, ok bool) {
	if r == nil {
		return
	}
	r.steps.WithLabelValues(kind, outcome(ok)).Inc()
}

// Destroy records one destroy attempt.
func (r *Recorder) Destroy(ok bool) {
	if r == nil {
		return
	}
	r.destroys.WithLabelValues(outcome(ok)).Inc()
}

// WriteTextfile writes every series to path in the text exposition format.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
