package testutil

import (
	"context"
	"image"
	"image/color"
	"sync"
	"sync/atomic"

	"github.com/golang/geo/r3"

	"github.com/bdougie/plantcam/internal/inference"
	"github.com/bdougie/plantcam/internal/models"
)

// MockResolver is a mock implementation of tracking.Resolver for testing
type MockResolver struct {
	ResolveFunc func(p models.ScreenPoint) (r3.Vector, bool)
	Points      map[models.ScreenPoint]r3.Vector

	mu        sync.Mutex
	CallCount int
}

func (m *MockResolver) ResolveWorldPoint(p models.ScreenPoint) (r3.Vector, bool) {
	m.mu.Lock()
	m.CallCount++
	m.mu.Unlock()

	if m.ResolveFunc != nil {
		return m.ResolveFunc(p)
	}
	v, ok := m.Points[p]
	return v, ok
}

// MockClassifier is a mock implementation of inference.Classifier for testing
type MockClassifier struct {
	ClassifyFunc func(ctx context.Context, img image.Image) (models.ClassificationVector, error)

	mu        sync.Mutex
	CallCount int
}

func (m *MockClassifier) Classify(ctx context.Context, img image.Image) (models.ClassificationVector, error) {
	m.mu.Lock()
	m.CallCount++
	m.mu.Unlock()

	if m.ClassifyFunc != nil {
		return m.ClassifyFunc(ctx, img)
	}
	return models.ClassificationVector{}, nil
}

// Calls returns the number of Classify invocations so far
func (m *MockClassifier) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount
}

// QueueDispatcher collects posted functions until the test runs them
type QueueDispatcher struct {
	C chan func()
}

func NewQueueDispatcher() *QueueDispatcher {
	return &QueueDispatcher{C: make(chan func(), 64)}
}

func (d *QueueDispatcher) Post(fn func()) {
	d.C <- fn
}

// ImmediateDispatcher runs posted functions on the caller's goroutine
type ImmediateDispatcher struct{}

func (ImmediateDispatcher) Post(fn func()) { fn() }

// ModeFlag is a settable inference.Mode
type ModeFlag struct {
	measuring atomic.Bool
}

func (m *ModeFlag) Set(measuring bool) { m.measuring.Store(measuring) }

func (m *ModeFlag) Measuring() bool { return m.measuring.Load() }

// RecordingSink records every classification delivered to it
type RecordingSink struct {
	mu      sync.Mutex
	Results []inference.Result
}

func (s *RecordingSink) OnClassification(r inference.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Results = append(s.Results, r)
}

// Len returns the number of recorded results
func (s *RecordingSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Results)
}

// Last returns the most recent result
func (s *RecordingSink) Last() (inference.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Results) == 0 {
		return inference.Result{}, false
	}
	return s.Results[len(s.Results)-1], true
}

// MockDisplay records what the session asked the presentation layer to show
type MockDisplay struct {
	mu        sync.Mutex
	Scales    []models.WorldDistanceSample
	Labels    []string
	Rulers    []string
	Ready     []bool
	Recording []bool
	Alerts    []string
}

func (d *MockDisplay) ShowScale(s models.WorldDistanceSample) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Scales = append(d.Scales, s)
}

func (d *MockDisplay) ShowLabel(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Labels = append(d.Labels, text)
}

func (d *MockDisplay) ShowRuler(readout string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Rulers = append(d.Rulers, readout)
}

func (d *MockDisplay) SetReady(ready bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Ready = append(d.Ready, ready)
}

func (d *MockDisplay) SetRecording(recording bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Recording = append(d.Recording, recording)
}

func (d *MockDisplay) Alert(message string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Alerts = append(d.Alerts, message)
}

// LabelsSnapshot returns a copy of the labels shown so far
func (d *MockDisplay) LabelsSnapshot() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.Labels...)
}

// AlertsSnapshot returns a copy of the alerts raised so far
func (d *MockDisplay) AlertsSnapshot() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.Alerts...)
}

// SolidImage returns a small uniformly colored image
func SolidImage(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

// Frame returns a frame whose release increments the given counter
func Frame(seq uint64, released *atomic.Int64) models.FrameSample {
	return models.NewFrameSample(seq, Now(), SolidImage(4, 4, color.White), func() {
		if released != nil {
			released.Add(1)
		}
	})
}

// MockStorage is a mock implementation of storage.Storage for testing
type MockStorage struct {
	AddSnapshotFunc func(ctx context.Context, s models.Snapshot) error
	FlushFunc       func(ctx context.Context) error

	mu         sync.Mutex
	Snapshots  []models.Snapshot
	FlushCount int
}

func (m *MockStorage) AddSnapshot(ctx context.Context, s models.Snapshot) error {
	if m.AddSnapshotFunc != nil {
		if err := m.AddSnapshotFunc(ctx, s); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Snapshots = append(m.Snapshots, s)
	return nil
}

func (m *MockStorage) Flush(ctx context.Context) error {
	m.mu.Lock()
	m.FlushCount++
	m.mu.Unlock()

	if m.FlushFunc != nil {
		return m.FlushFunc(ctx)
	}
	return nil
}

// Stored returns a copy of the snapshots added so far
func (m *MockStorage) Stored() []models.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Snapshot(nil), m.Snapshots...)
}
