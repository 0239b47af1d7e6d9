// Package metrics records what one consumer run did. A batch job does not live
// long enough to be scraped, so the registry is pushed to a Pushgateway at the
// end of the run when one is configured.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const (
	metricPrefix = "pvlive_consumer_"
	jobName      = "pvlive_consumer"

	ResultSuccess = "success"
	ResultError   = "error"
	ResultEmpty   = "empty"

	SourcePVLive   = "pvlive"
	SourceNational = "national"
)

// Run holds the metrics of one run on a private registry.
type Run struct {
	registry *prometheus.Registry

	fetches       *prometheus.CounterVec
	fetchLatency  prometheus.Histogram
	yieldsSaved   *prometheus.CounterVec
	flushes       prometheus.Counter
	locations     *prometheus.GaugeVec
	duration      prometheus.Gauge
	lastSuccess   prometheus.Gauge
	capacityMoves prometheus.Counter
}

// NewRun registers the run metrics, labelled with regime.
func NewRun(regime string) *Run {
	constLabels := prometheus.Labels{"regime": regime}
	r := &Run{
		registry: prometheus.NewRegistry(),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        metricPrefix + "fetches_total",
			Help:        "PVLive fetches by result",
			ConstLabels: constLabels,
		}, []string{"result"}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        metricPrefix + "fetch_latency_seconds",
			Help:        "PVLive fetch latency in seconds",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		}),
		yieldsSaved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        metricPrefix + "yields_saved_total",
			Help:        "GSP yields written by source",
			ConstLabels: constLabels,
		}, []string{"source"}),
		flushes: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        metricPrefix + "flushes_total",
			Help:        "Batched writes to storage",
			ConstLabels: constLabels,
		}),
		locations: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        metricPrefix + "locations",
			Help:        "Locations loaded and selected for fetching",
			ConstLabels: constLabels,
		}, []string{"stage"}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        metricPrefix + "run_duration_seconds",
			Help:        "Wall time of the last run",
			ConstLabels: constLabels,
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        metricPrefix + "last_success_timestamp_seconds",
			Help:        "Unix time of the last successful run",
			ConstLabels: constLabels,
		}),
		capacityMoves: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        metricPrefix + "capacity_updates_total",
			Help:        "Installed capacity changes written to locations",
			ConstLabels: constLabels,
		}),
	}
	r.registry.MustRegister(
		r.fetches, r.fetchLatency, r.yieldsSaved, r.flushes,
		r.locations, r.duration, r.lastSuccess, r.capacityMoves,
	)
	return r
}

// Registry exposes the underlying registry.
func (r *Run) Registry() *prometheus.Registry { return r.registry }

// ObserveFetch counts one PVLive fetch by result and records its latency.
func (r *Run) ObserveFetch(result string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.fetches.WithLabelValues(result).Inc()
	r.fetchLatency.Observe(elapsed.Seconds())
}

// AddSaved adds n written yields for source.
func (r *Run) AddSaved(source string, n int) {
	if r == nil || n == 0 {
		return
	}
	r.yieldsSaved.WithLabelValues(source).Add(float64(n))
}

// IncFlush counts one batched write.
func (r *Run) IncFlush() {
	if r == nil {
		return
	}
	r.flushes.Inc()
}

// IncCapacityUpdate counts one installed capacity change.
func (r *Run) IncCapacityUpdate() {
	if r == nil {
		return
	}
	r.capacityMoves.Inc()
}

// SetLocations sets the number of locations at stage, e.g. "loaded" or "eligible".
func (r *Run) SetLocations(stage string, n int) {
	if r == nil {
		return
	}
	r.locations.WithLabelValues(stage).Set(float64(n))
}

// Finish records the run duration, and the success time when ok.
func (r *Run) Finish(started, now time.Time, ok bool) {
	if r == nil {
		return
	}
	r.duration.Set(now.Sub(started).Seconds())
	if ok {
		r.lastSuccess.Set(float64(now.Unix()))
	}
}

// Push sends the registry to the Pushgateway at url. An empty url is a no-op.
func (r *Run) Push(ctx context.Context, url string) error {
	if r == nil || url == "" {
		return nil
	}
	if err := push.New(url, jobName).Gatherer(r.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
