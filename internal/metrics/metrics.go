// Package metrics records pipeline stage timings and dataset sizes on a
// private Prometheus registry.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "longitudinal"

// Recorder aggregates stage outcomes and durations. A nil *Recorder discards
// everything, so components can take one unconditionally.
type Recorder struct {
	registry *prometheus.Registry

	stageSeconds *prometheus.HistogramVec
	stageTotal   *prometheus.CounterVec

	wideRows        prometheus.Gauge
	longRows        prometheus.Gauge
	missingOutcomes prometheus.Gauge
	unmappedRows    prometheus.Gauge
}

// New registers the pipeline collectors on a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,
		stageSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time spent in each pipeline stage.",
			Buckets:   []float64{.001, .01, .1, .5, 1, 5, 15, 60, 300},
		}, []string{"stage"}),
		stageTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_total",
			Help:      "Pipeline stage executions by outcome.",
		}, []string{"stage", "status"}),
		wideRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "wide_rows", Help: "Subjects in the last loaded wide table.",
		}),
		longRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "person_period_rows", Help: "Rows in the last person-period table.",
		}),
		missingOutcomes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "missing_outcomes", Help: "Person-period rows with a missing outcome.",
		}),
		unmappedRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "unmapped_occasions", Help: "Rows whose occasion label had no time index.",
		}),
	}
	reg.MustRegister(r.stageSeconds, r.stageTotal, r.wideRows, r.longRows, r.missingOutcomes, r.unmappedRows)
	return r
}

// Registry exposes the underlying registry for scraping or tests.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Observe records one stage outcome.
func (r *Recorder) Observe(_ context.Context, stage string, success bool, duration time.Duration) {
	if r == nil || stage == "" {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	r.stageSeconds.WithLabelValues(stage).Observe(duration.Seconds())
	r.stageTotal.WithLabelValues(stage, status).Inc()
}

// Dataset records the sizes of the current run's tables.
func (r *Recorder) Dataset(wide, long, missing, unmapped int) {
	if r == nil {
		return
	}
	r.wideRows.Set(float64(wide))
	r.longRows.Set(float64(long))
	r.missingOutcomes.Set(float64(missing))
	r.unmappedRows.Set(float64(unmapped))
}

// Push sends the registry to a Pushgateway, grouped by run id. Batch runs end
// before any scrape could reach them.
func (r *Recorder) Push(ctx context.Context, url, job, runID string) error {
	if r == nil || url == "" {
		return nil
	}
	p := push.New(url, job).Gatherer(r.registry)
	if runID != "" {
		p = p.Grouping("run_id", runID)
	}
	if err := p.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
