package session_test

import (
	"context"
	"image"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/geo/r3"

	"github.com/bdougie/plantcam/internal/inference"
	"github.com/bdougie/plantcam/internal/metrics"
	"github.com/bdougie/plantcam/internal/models"
	"github.com/bdougie/plantcam/internal/recorder"
	"github.com/bdougie/plantcam/internal/scale"
	"github.com/bdougie/plantcam/internal/sensors"
	"github.com/bdougie/plantcam/internal/session"
	"github.com/bdougie/plantcam/internal/testutil"
)

var viewport = models.Size{Width: 375, Height: 667}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// trackedResolver resolves the reference segment 10 cm apart and the center at the origin
func trackedResolver(e *scale.Estimator) *testutil.MockResolver {
	seg := e.Segment()
	return &testutil.MockResolver{Points: map[models.ScreenPoint]r3.Vector{
		seg.Start:  {X: -0.05},
		seg.End:    {X: 0.05},
		e.Center(): {},
	}}
}

type harness struct {
	s       *session.Session
	display *testutil.MockDisplay
	frames  chan models.FrameSample
	errc    chan error
	cancel  context.CancelFunc
}

func start(t *testing.T, cfg session.Config, attach func(*session.Session) session.Submitter) *harness {
	t.Helper()
	display := &testutil.MockDisplay{}
	cfg.Display = display
	if cfg.Logger == nil {
		cfg.Logger = quietLogger()
	}
	s, err := session.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if attach != nil {
		s.Attach(attach(s))
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{
		s:       s,
		display: display,
		frames:  make(chan models.FrameSample),
		errc:    make(chan error, 1),
		cancel:  cancel,
	}
	go func() { h.errc <- s.Run(ctx, h.frames) }()
	t.Cleanup(cancel)
	return h
}

func (h *harness) send(t *testing.T, f models.FrameSample) {
	t.Helper()
	select {
	case h.frames <- f:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out sending a frame")
	}
}

// barrier returns once everything queued before it has run on the session goroutine
func (h *harness) barrier(t *testing.T) {
	t.Helper()
	h.run(t, func() {})
}

func (h *harness) run(t *testing.T, fn func()) {
	t.Helper()
	done := make(chan struct{})
	h.s.Post(func() {
		fn()
		close(done)
	})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for the session goroutine")
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func TestSession_ShowsScaleAndReadiness(t *testing.T) {
	e := scale.NewEstimator(viewport, 100, 2, nil)
	m := metrics.NewMetrics()
	h := start(t, session.Config{Estimator: e, Resolver: trackedResolver(e), Metrics: m}, nil)

	var released atomic.Int64
	h.send(t, testutil.Frame(1, &released))
	h.barrier(t)

	if len(h.display.Scales) != 1 {
		t.Fatalf("Expected one scale update, got %d", len(h.display.Scales))
	}
	if got := h.display.Scales[0]; got.LengthInPixel != 200 || got.LengthInCentiMeter < 9.999 || got.LengthInCentiMeter > 10.001 {
		t.Errorf("Unexpected sample %+v", got)
	}
	if len(h.display.Ready) != 2 || h.display.Ready[0] || !h.display.Ready[1] {
		t.Errorf("Expected not-ready then ready, got %v", h.display.Ready)
	}
	if released.Load() != 1 {
		t.Error("Expected frame released without a gate")
	}
	if m.Snapshot().ScaleSamples != 1 {
		t.Error("Expected a scale sample counted")
	}
}

func TestSession_NotReadyFramesShowNothing(t *testing.T) {
	e := scale.NewEstimator(viewport, 100, 2, nil)
	m := metrics.NewMetrics()
	resolver := &testutil.MockResolver{Points: map[models.ScreenPoint]r3.Vector{}}
	h := start(t, session.Config{Estimator: e, Resolver: resolver, Metrics: m}, nil)

	for i := 1; i <= 3; i++ {
		h.send(t, testutil.Frame(uint64(i), nil))
	}
	h.barrier(t)

	if len(h.display.Scales) != 0 {
		t.Errorf("Expected no scale while not ready, got %v", h.display.Scales)
	}
	if len(h.display.Ready) != 1 {
		t.Errorf("Expected readiness reported once, got %v", h.display.Ready)
	}
	if m.Snapshot().NotReadyTicks != 3 {
		t.Errorf("Expected 3 not-ready ticks, got %d", m.Snapshot().NotReadyTicks)
	}
}

func newGate(t *testing.T, s *session.Session, scores models.ClassificationVector) *inference.Gate {
	t.Helper()
	labels, err := inference.NewLabelTable([]string{"aloe", "basil"})
	if err != nil {
		t.Fatal(err)
	}
	gate, err := inference.NewGate(inference.Config{
		Classifier: &testutil.MockClassifier{ClassifyFunc: func(context.Context, image.Image) (models.ClassificationVector, error) {
			return scores, nil
		}},
		Labels:     labels,
		Dispatcher: s,
		Sink:       s,
		Mode:       s,
		Logger:     quietLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	gate.Start(context.Background())
	t.Cleanup(gate.Close)
	return gate
}

func TestSession_MeasuringSuppressesClassification(t *testing.T) {
	e := scale.NewEstimator(viewport, 100, 2, nil)
	var gate *inference.Gate
	h := start(t, session.Config{Estimator: e, Resolver: trackedResolver(e)}, func(s *session.Session) session.Submitter {
		gate = newGate(t, s, models.ClassificationVector{0.95, 0.05})
		return gate
	})

	h.s.TouchBegan()
	h.barrier(t)
	if !h.s.Measuring() {
		t.Fatal("Expected measuring after touch began")
	}

	h.send(t, testutil.Frame(1, nil))
	eventually(t, "suppressed delivery", func() bool { return gate.Stats().Suppressed == 1 })
	h.barrier(t)
	if labels := h.display.LabelsSnapshot(); len(labels) != 0 {
		t.Fatalf("Expected no label while measuring, got %v", labels)
	}

	h.s.TouchEnded()
	h.barrier(t)
	h.send(t, testutil.Frame(2, nil))
	eventually(t, "label", func() bool { return len(h.display.LabelsSnapshot()) == 1 })

	if got := h.display.LabelsSnapshot()[0]; got != "aloe (0.95)" {
		t.Errorf("Expected aloe (0.95), got %q", got)
	}
}

func TestSession_EmptyResultClearsLabel(t *testing.T) {
	e := scale.NewEstimator(viewport, 100, 2, nil)
	h := start(t, session.Config{Estimator: e, Resolver: trackedResolver(e)}, func(s *session.Session) session.Submitter {
		return newGate(t, s, models.ClassificationVector{0.4, 0.3})
	})

	h.send(t, testutil.Frame(1, nil))
	eventually(t, "label", func() bool { return len(h.display.LabelsSnapshot()) == 1 })

	if got := h.display.LabelsSnapshot()[0]; got != "" {
		t.Errorf("Expected an empty label below threshold, got %q", got)
	}
}

func TestSession_RulerFollowsAim(t *testing.T) {
	e := scale.NewEstimator(viewport, 100, 2, nil)
	resolver := trackedResolver(e)
	h := start(t, session.Config{Estimator: e, Resolver: resolver}, nil)

	h.s.TouchBegan()
	h.barrier(t)
	h.send(t, testutil.Frame(1, nil))
	h.run(t, func() { resolver.Points[e.Center()] = r3.Vector{X: 0.05} })
	h.send(t, testutil.Frame(2, nil))
	h.s.TouchEnded()
	h.barrier(t)
	h.run(t, func() { resolver.Points[e.Center()] = r3.Vector{X: 0.5} })
	h.send(t, testutil.Frame(3, nil))
	h.barrier(t)

	rulers := h.display.Rulers
	if len(rulers) != 3 {
		t.Fatalf("Expected 3 ruler updates, got %v", rulers)
	}
	if rulers[0] != `0.00 cm / 0.00"` {
		t.Errorf("Expected reset readout, got %q", rulers[0])
	}
	if rulers[2] != `5.00 cm / 1.97"` {
		t.Errorf("Expected 5 cm, got %q", rulers[2])
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	bursts []string
}

func (p *recordingPublisher) PublishScale(models.WorldDistanceSample) {}
func (p *recordingPublisher) PublishClassification(models.BestGuess)  {}
func (p *recordingPublisher) PublishBurst(burst string, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bursts = append(p.bursts, burst)
}

func newRecorder(t *testing.T, store *testutil.MockStorage, s *sensors.Static) *recorder.Recorder {
	t.Helper()
	r, err := recorder.New(recorder.Config{
		Interval: 10 * time.Millisecond,
		Storage:  store,
		Motion:   s,
		Locator:  s,
		Logger:   quietLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func readySensors() *sensors.Static {
	s := sensors.NewStatic()
	s.SetAttitude(models.Attitude{Pitch: -1.5})
	s.SetLocation(models.Location{Latitude: 51.5, Longitude: -0.12})
	return s
}

func TestSession_RecordsBurst(t *testing.T) {
	e := scale.NewEstimator(viewport, 100, 2, nil)
	store := &testutil.MockStorage{}
	rec := newRecorder(t, store, readySensors())
	pub := &recordingPublisher{}
	h := start(t, session.Config{
		Estimator: e,
		Resolver:  trackedResolver(e),
		Recorder:  rec,
		Publisher: pub,
		Now:       testutil.Now,
	}, nil)

	h.send(t, testutil.Frame(1, nil))
	h.s.ToggleRecording()
	eventually(t, "two snapshots", func() bool { return rec.Buffered() >= 2 })
	h.s.ToggleRecording()
	h.barrier(t)

	stored := store.Stored()
	if len(stored) < 2 {
		t.Fatalf("Expected at least 2 stored snapshots, got %d", len(stored))
	}
	if !strings.HasPrefix(stored[0].Burst, "0205") || stored[0].LengthInCentiMeter < 9.999 {
		t.Errorf("Unexpected snapshot %+v", stored[0])
	}
	if len(h.display.Recording) != 2 || !h.display.Recording[0] || h.display.Recording[1] {
		t.Errorf("Expected recording on then off, got %v", h.display.Recording)
	}
	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.bursts) != 1 || pub.bursts[0] != stored[0].Burst {
		t.Errorf("Expected burst published, got %v", pub.bursts)
	}
}

func TestSession_RecordingHaltRaisesAlert(t *testing.T) {
	e := scale.NewEstimator(viewport, 100, 2, nil)
	s := readySensors()
	s.ClearLocation()
	rec := newRecorder(t, &testutil.MockStorage{}, s)
	h := start(t, session.Config{Estimator: e, Resolver: trackedResolver(e), Recorder: rec}, nil)

	h.send(t, testutil.Frame(1, nil))
	h.s.ToggleRecording()
	eventually(t, "alert", func() bool { return len(h.display.AlertsSnapshot()) == 1 })

	if !strings.HasPrefix(h.display.AlertsSnapshot()[0], "Location is disabled") {
		t.Errorf("Unexpected alert %q", h.display.AlertsSnapshot()[0])
	}
	if rec.Recording() {
		t.Error("Expected recording halted")
	}
}

func TestSession_ScaleNotReadyHaltsRecording(t *testing.T) {
	e := scale.NewEstimator(viewport, 100, 2, nil)
	rec := newRecorder(t, &testutil.MockStorage{}, readySensors())
	resolver := &testutil.MockResolver{Points: map[models.ScreenPoint]r3.Vector{}}
	h := start(t, session.Config{Estimator: e, Resolver: resolver, Recorder: rec}, nil)

	h.send(t, testutil.Frame(1, nil))
	h.s.ToggleRecording()
	eventually(t, "alert", func() bool { return len(h.display.AlertsSnapshot()) == 1 })

	if got := h.display.AlertsSnapshot()[0]; got != recorder.ErrScaleNotReady.Error() {
		t.Errorf("Unexpected alert %q", got)
	}
}

func TestSession_ClosingFramesStoresBurst(t *testing.T) {
	e := scale.NewEstimator(viewport, 100, 2, nil)
	store := &testutil.MockStorage{}
	rec := newRecorder(t, store, readySensors())
	h := start(t, session.Config{Estimator: e, Resolver: trackedResolver(e), Recorder: rec}, nil)

	h.send(t, testutil.Frame(1, nil))
	h.s.ToggleRecording()
	eventually(t, "a snapshot", func() bool { return rec.Buffered() >= 1 })
	close(h.frames)

	select {
	case err := <-h.errc:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected Run to return once frames close")
	}
	if len(store.Stored()) == 0 {
		t.Error("Expected the open burst to be stored")
	}

	// posting after the loop ended must not block
	h.s.Post(func() {})
}

func TestNew_Validation(t *testing.T) {
	e := scale.NewEstimator(viewport, 100, 2, nil)
	resolver := &testutil.MockResolver{}
	display := &testutil.MockDisplay{}

	tests := []struct {
		name string
		cfg  session.Config
	}{
		{"missing estimator", session.Config{Resolver: resolver, Display: display}},
		{"missing resolver", session.Config{Estimator: e, Display: display}},
		{"missing display", session.Config{Estimator: e, Resolver: resolver}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := session.New(tt.cfg); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}
