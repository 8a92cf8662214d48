// Package metrics holds the Prometheus counters for an upload run. A batch run is
// short-lived, so the registry is pushed to a Pushgateway when the run ends rather
// than scraped.
package metrics

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "devup"

// Recorder collects run counters. All methods are safe on a nil Recorder.
type Recorder struct {
	registry *prometheus.Registry

	folders         *prometheus.CounterVec
	media           *prometheus.CounterVec
	recordsInserted prometheus.Counter
	retries         *prometheus.CounterVec
	runDuration     prometheus.Gauge
	lastRun         prometheus.Gauge
}

// New creates a Recorder with its own registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		folders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "folders_total",
			Help:      "Folders processed, by result.",
		}, []string{"result"}),
		media: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "media_uploads_total",
			Help:      "Media files attempted, by result.",
		}, []string{"result"}),
		recordsInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_inserted_total",
			Help:      "Manifest rows persisted to the table.",
		}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Backoff retries, by backend operation.",
		}, []string{"operation"}),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last batch run.",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last batch run finished.",
		}),
	}

	r.registry.MustRegister(r.folders, r.media, r.recordsInserted, r.retries, r.runDuration, r.lastRun)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failed"
}

// FolderDone counts one finished folder.
func (r *Recorder) FolderDone(ok bool) {
	if r == nil {
		return
	}
	r.folders.WithLabelValues(result(ok)).Inc()
}

// MediaDone counts one media upload outcome.
func (r *Recorder) MediaDone(ok bool) {
	if r == nil {
		return
	}
	r.media.WithLabelValues(result(ok)).Inc()
}

// RecordsInserted adds n persisted rows.
func (r *Recorder) RecordsInserted(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.recordsInserted.Add(float64(n))
}

// Retry counts one backoff retry of operation.
func (r *Recorder) Retry(operation string) {
	if r == nil {
		return
	}
	r.retries.WithLabelValues(operation).Inc()
}

// RunFinished stores the run's duration and completion time.
func (r *Recorder) RunFinished(d time.Duration, at time.Time) {
	if r == nil {
		return
	}
	r.runDuration.Set(d.Seconds())
	r.lastRun.Set(float64(at.Unix()))
}

// Push sends the registry to a Pushgateway under job.
func (r *Recorder) Push(ctx context.Context, gatewayURL, job string) error {
	if r == nil {
		return errors.New("nil recorder")
	}
	gatewayURL = strings.TrimSpace(gatewayURL)
	if gatewayURL == "" {
		return errors.New("pushgateway url is required")
	}
	if job == "" {
		job = namespace
	}
	return push.New(gatewayURL, job).Gatherer(r.registry).PushContext(ctx)
}
