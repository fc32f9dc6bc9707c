package metrics

import (
	"log/slog"
	"sync/atomic"
	"time"
)

// Metrics counts what happened to frames as they moved through the pipeline
type Metrics struct {
	framesSeen      atomic.Int64
	framesAdmitted  atomic.Int64
	framesDropped   atomic.Int64
	classified      atomic.Int64
	emptyResults    atomic.Int64
	failures        atomic.Int64
	suppressed      atomic.Int64
	totalLatency    atomic.Int64
	scaleSamples    atomic.Int64
	notReadyTicks   atomic.Int64
	lastFrameUnixMs atomic.Int64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) IncrementFramesSeen() {
	m.framesSeen.Add(1)
	m.lastFrameUnixMs.Store(time.Now().UnixMilli())
}

func (m *Metrics) IncrementAdmitted() {
	m.framesAdmitted.Add(1)
}

func (m *Metrics) IncrementDropped() {
	m.framesDropped.Add(1)
}

func (m *Metrics) IncrementClassified() {
	m.classified.Add(1)
}

func (m *Metrics) IncrementEmpty() {
	m.emptyResults.Add(1)
}

func (m *Metrics) IncrementFailures() {
	m.failures.Add(1)
}

func (m *Metrics) IncrementSuppressed() {
	m.suppressed.Add(1)
}

func (m *Metrics) RecordLatency(d time.Duration) {
	m.totalLatency.Add(d.Milliseconds())
}

func (m *Metrics) IncrementScaleSamples() {
	m.scaleSamples.Add(1)
}

func (m *Metrics) IncrementNotReady() {
	m.notReadyTicks.Add(1)
}

// Snapshot is a point-in-time copy of the counters
type Snapshot struct {
	FramesSeen     int64   `json:"frames_seen"`
	FramesAdmitted int64   `json:"frames_admitted"`
	FramesDropped  int64   `json:"frames_dropped"`
	Classified     int64   `json:"classified"`
	EmptyResults   int64   `json:"empty_results"`
	Failures       int64   `json:"failures"`
	Suppressed     int64   `json:"suppressed"`
	AvgLatencyMs   float64 `json:"avg_latency_ms"`
	ScaleSamples   int64   `json:"scale_samples"`
	NotReadyTicks  int64   `json:"not_ready_ticks"`
	LastFrameUnix  int64   `json:"last_frame_unix_ms"`
}

func (m *Metrics) Snapshot() Snapshot {
	s := Snapshot{
		FramesSeen:     m.framesSeen.Load(),
		FramesAdmitted: m.framesAdmitted.Load(),
		FramesDropped:  m.framesDropped.Load(),
		Classified:     m.classified.Load(),
		EmptyResults:   m.emptyResults.Load(),
		Failures:       m.failures.Load(),
		Suppressed:     m.suppressed.Load(),
		ScaleSamples:   m.scaleSamples.Load(),
		NotReadyTicks:  m.notReadyTicks.Load(),
		LastFrameUnix:  m.lastFrameUnixMs.Load(),
	}
	if done := s.Classified + s.Failures; done > 0 {
		s.AvgLatencyMs = float64(m.totalLatency.Load()) / float64(done)
	}
	return s
}

// LogValue lets a snapshot be logged as a group
func (s Snapshot) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("seen", s.FramesSeen),
		slog.Int64("admitted", s.FramesAdmitted),
		slog.Int64("dropped", s.FramesDropped),
		slog.Int64("classified", s.Classified),
		slog.Int64("empty", s.EmptyResults),
		slog.Int64("failures", s.Failures),
		slog.Int64("suppressed", s.Suppressed),
		slog.Float64("avg_latency_ms", s.AvgLatencyMs),
		slog.Int64("scale_samples", s.ScaleSamples),
		slog.Int64("not_ready", s.NotReadyTicks),
	)
}
