package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/novelarc/novelarc/internal/progress"
)

// PrometheusSink exports archive progress metrics. It owns all collectors for
// sessions started/running and per-outcome chapter counters.
type PrometheusSink struct {
	sessionsStarted prometheus.Counter
	sessionsDone    *prometheus.CounterVec
	sessionsRunning prometheus.Gauge
	chaptersTotal   *prometheus.CounterVec
	chapterDuration *prometheus.HistogramVec
	uploadBytes     prometheus.Counter

	tracker *sessionTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "novelarc_sessions_started_total",
			Help: "Total archive sessions that have started.",
		}),
		sessionsDone: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "novelarc_sessions_finished_total",
			Help: "Total sessions finished partitioned by how they ended.",
		}, []string{"reason"}),
		sessionsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "novelarc_sessions_running",
			Help: "Current number of running archive sessions.",
		}),
		chaptersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "novelarc_chapters_total",
			Help: "Chapter completions partitioned by outcome.",
		}, []string{"outcome"}),
		chapterDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "novelarc_chapter_duration_seconds",
			Help:    "End-to-end fetch+upload duration per chapter.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"outcome"}),
		uploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "novelarc_upload_bytes_total",
			Help: "Bytes of chapter content uploaded to the file store.",
		}),
		tracker: newSessionTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.sessionsStarted,
		s.sessionsDone,
		s.sessionsRunning,
		s.chaptersTotal,
		s.chapterDuration,
		s.uploadBytes,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors using the provided batch. Safe for
// concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageSessionStart:
		s.sessionsStarted.Inc()
		if s.tracker.start(evt.SessionID) {
			s.sessionsRunning.Inc()
		}
	case progress.StageSessionDone:
		s.sessionsDone.WithLabelValues("finished").Inc()
		if s.tracker.complete(evt.SessionID) {
			s.sessionsRunning.Dec()
		}
	case progress.StageSessionStop:
		s.sessionsDone.WithLabelValues("stopped").Inc()
		if s.tracker.complete(evt.SessionID) {
			s.sessionsRunning.Dec()
		}
	case progress.StageChapterDone:
		outcome := string(evt.Outcome)
		s.chaptersTotal.WithLabelValues(outcome).Inc()
		if evt.Dur > 0 {
			s.chapterDuration.WithLabelValues(outcome).Observe(evt.Dur.Seconds())
		}
		if evt.Bytes > 0 {
			s.uploadBytes.Add(float64(evt.Bytes))
		}
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type sessionTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newSessionTracker() *sessionTracker {
	return &sessionTracker{running: make(map[string]struct{})}
}

func (t *sessionTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *sessionTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
