package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/evolab/evomon/internal/progress"
)

// PrometheusSink exports monitor progress metrics via Prometheus. It owns all
// collectors for runs observed/completed and per-run iteration gauges.
type PrometheusSink struct {
	runsObserved  prometheus.Counter
	runsCompleted prometheus.Counter
	runDuration   prometheus.Histogram

	iterationsTotal *prometheus.CounterVec
	trendTotal      *prometheus.CounterVec
	latestMaxTemp   *prometheus.GaugeVec
	latestPenalty   *prometheus.GaugeVec
	violationsTotal *prometheus.CounterVec
	rollbackCount   *prometheus.GaugeVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsObserved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "evomon_runs_observed_total",
			Help: "Total run directories the monitor has started watching.",
		}),
		runsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "evomon_runs_completed_total",
			Help: "Total runs that reached the iteration target.",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "evomon_run_duration_seconds",
			Help:    "Wall time from first observation to completion per run.",
			Buckets: []float64{30, 60, 300, 600, 1800, 3600, 7200, 14400},
		}),
		iterationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evomon_iterations_total",
			Help: "New trace rows observed, partitioned by run.",
		}, []string{"run"}),
		trendTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evomon_trend_total",
			Help: "Trend classifications observed, partitioned by direction.",
		}, []string{"trend"}),
		latestMaxTemp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "evomon_latest_max_temp_celsius",
			Help: "Peak temperature of the most recent iteration per run.",
		}, []string{"run"}),
		latestPenalty: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "evomon_latest_penalty_score",
			Help: "Penalty score of the most recent iteration per run.",
		}, []string{"run"}),
		violationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evomon_violations_total",
			Help: "Constraint violations accumulated across iterations per run.",
		}, []string{"run"}),
		rollbackCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "evomon_rollbacks",
			Help: "Cumulative rollback count reported by the optimizer per run.",
		}, []string{"run"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsObserved,
		s.runsCompleted,
		s.runDuration,
		s.iterationsTotal,
		s.trendTotal,
		s.latestMaxTemp,
		s.latestPenalty,
		s.violationsTotal,
		s.rollbackCount,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		if s.tracker.start(evt.Run) {
			s.runsObserved.Inc()
		}
	case progress.StageIteration:
		s.iterationsTotal.WithLabelValues(evt.Run).Inc()
		s.latestMaxTemp.WithLabelValues(evt.Run).Set(evt.MaxTemp)
		s.latestPenalty.WithLabelValues(evt.Run).Set(evt.Penalty)
		if evt.Violations > 0 {
			s.violationsTotal.WithLabelValues(evt.Run).Add(float64(evt.Violations))
		}
		if evt.Trend != "" {
			s.trendTotal.WithLabelValues(string(evt.Trend)).Inc()
		}
	case progress.StageRollback:
		s.rollbackCount.WithLabelValues(evt.Run).Set(float64(evt.Rollbacks))
	case progress.StageRunDone:
		if s.tracker.complete(evt.Run) {
			s.runsCompleted.Inc()
		}
		if evt.Dur > 0 {
			s.runDuration.Observe(evt.Dur.Seconds())
		}
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

// runTracker deduplicates RUN_START/RUN_DONE pairs so re-emitted events do not
// inflate the run counters.
type runTracker struct {
	mu      sync.Mutex
	started map[string]bool
	done    map[string]bool
}

func newRunTracker() *runTracker {
	return &runTracker{started: make(map[string]bool), done: make(map[string]bool)}
}

func (t *runTracker) start(run string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started[run] {
		return false
	}
	t.started[run] = true
	return true
}

func (t *runTracker) complete(run string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done[run] {
		return false
	}
	t.done[run] = true
	return true
}
