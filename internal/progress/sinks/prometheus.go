package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/realtime-cpi-dedup/internal/progress"
)

// PrometheusSink exports run progress via Prometheus: runs started, completed
// and in flight, run duration, and merged group throughput.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runDuration   *prometheus.HistogramVec
	groupsMerged  prometheus.Counter
	groupsTotal   prometheus.Gauge

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dedup_runs_started_total",
			Help: "Total deduplication runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dedup_runs_completed_total",
			Help: "Total deduplication runs completed partitioned by result.",
		}, []string{"result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dedup_runs_running",
			Help: "Current number of running deduplication runs.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dedup_run_duration_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900},
		}, []string{"result"}),
		groupsMerged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dedup_groups_merged_total",
			Help: "Total key groups collapsed into a single record.",
		}),
		groupsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dedup_groups_last_run",
			Help: "Number of key groups in the most recently reported run.",
		}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runDuration,
		s.groupsMerged,
		s.groupsTotal,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			s.runsStarted.Inc()
			if s.tracker.start(evt.RunID) {
				s.runsRunning.Inc()
			}
		case progress.StageGroupsMerged:
			if delta := s.tracker.advance(evt.RunID, evt.Processed); delta > 0 {
				s.groupsMerged.Add(float64(delta))
			}
			s.groupsTotal.Set(float64(evt.Total))
		case progress.StageRunDone:
			s.finish(evt, "success")
		case progress.StageRunError:
			s.finish(evt, "error")
		}
	}
	return nil
}

func (s *PrometheusSink) finish(evt progress.Event, result string) {
	s.runsCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.runDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.RunID) {
		s.runsRunning.Dec()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

// runTracker remembers in-flight runs and the last cumulative group count seen
// for each, so GROUPS_MERGED snapshots become counter deltas.
type runTracker struct {
	mu        sync.Mutex
	running   map[[16]byte]struct{}
	processed map[[16]byte]int64
}

func newRunTracker() *runTracker {
	return &runTracker{
		running:   make(map[[16]byte]struct{}),
		processed: make(map[[16]byte]int64),
	}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) advance(id [16]byte, processed int64) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	last := t.processed[id]
	if processed <= last {
		return 0
	}
	t.processed[id] = processed
	return processed - last
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.processed, id)
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
