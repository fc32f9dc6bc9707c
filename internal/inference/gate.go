// Package inference serializes camera frames into an image classifier.
//
// The Gate holds at most one frame at a time. A frame that arrives while another is
// being classified is dropped and released immediately, so the camera's buffer pool is
// never starved by a slow model. Classification runs on the gate's own goroutine and the
// outcome is handed to a Dispatcher, which runs delivery on the context that owns the
// display.
package inference

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bdougie/plantcam/internal/metrics"
	"github.com/bdougie/plantcam/internal/models"
)

// DefaultThreshold is the confidence floor used when none is configured
const DefaultThreshold = 0.5

// Classifier runs the on-device model over one image
type Classifier interface {
	Classify(ctx context.Context, img image.Image) (models.ClassificationVector, error)
}

// Dispatcher runs fn on the display-owning context
type Dispatcher interface {
	Post(fn func())
}

// Mode tells the gate whether the user is currently measuring
type Mode interface {
	Measuring() bool
}

// Sink receives classification outcomes on the display-owning context
type Sink interface {
	OnClassification(Result)
}

// Result is one delivered classification. An empty Guess means "no result".
type Result struct {
	Frame   uint64
	Guess   models.BestGuess
	Scores  models.ClassificationVector
	Latency time.Duration
	Failed  bool
}

// State of the single frame slot
type State int32

const (
	Idle State = iota
	Classifying
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Classifying:
		return "classifying"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config wires a Gate to its collaborators
type Config struct {
	Classifier Classifier
	Labels     *LabelTable
	// Threshold is the confidence floor; nil means DefaultThreshold.
	Threshold  *float32
	Dispatcher Dispatcher
	Sink       Sink
	// Mode may be nil, in which case results are never suppressed.
	Mode    Mode
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Gate admits one frame at a time into the classifier
type Gate struct {
	classifier Classifier
	labels     *LabelTable
	dispatcher Dispatcher
	sink       Sink
	mode       Mode
	logger     *slog.Logger
	metrics    *metrics.Metrics

	threshold atomic.Uint32
	state     atomic.Int32

	// closeMu makes the closed check and the send in Submit atomic with respect to Close
	closeMu sync.RWMutex
	closed  bool

	jobs         chan models.FrameSample
	wg           sync.WaitGroup
	cancel       context.CancelFunc
	startOnce    sync.Once
	closeOnce    sync.Once
	mismatchOnce sync.Once
}

// NewGate validates the configuration and returns an idle gate
func NewGate(cfg Config) (*Gate, error) {
	if cfg.Classifier == nil {
		return nil, errors.New("classifier is required")
	}
	if cfg.Labels.Len() == 0 {
		return nil, ErrNoLabels
	}
	if cfg.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if cfg.Sink == nil {
		return nil, errors.New("sink is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewMetrics()
	}
	threshold := float32(DefaultThreshold)
	if cfg.Threshold != nil {
		threshold = *cfg.Threshold
	}

	g := &Gate{
		classifier: cfg.Classifier,
		labels:     cfg.Labels,
		dispatcher: cfg.Dispatcher,
		sink:       cfg.Sink,
		mode:       cfg.Mode,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		// capacity 1: only the goroutine that won the claim ever sends
		jobs: make(chan models.FrameSample, 1),
	}
	g.threshold.Store(math.Float32bits(threshold))
	return g, nil
}

// Start launches the classification goroutine
func (g *Gate) Start(ctx context.Context) {
	g.startOnce.Do(func() {
		ctx, g.cancel = context.WithCancel(ctx)
		g.wg.Add(1)
		go g.run(ctx)
	})
}

// Close stops the classification goroutine and releases any frame still queued.
// An in-flight classification is allowed to finish.
func (g *Gate) Close() {
	g.closeOnce.Do(func() {
		g.closeMu.Lock()
		g.closed = true
		g.closeMu.Unlock()

		if g.cancel != nil {
			g.cancel()
		}
		g.wg.Wait()
		g.drain()
	})
}

// Submit offers a frame. It returns true when the frame was admitted; otherwise the frame
// has already been released.
func (g *Gate) Submit(frame models.FrameSample) bool {
	g.metrics.IncrementFramesSeen()

	g.closeMu.RLock()
	defer g.closeMu.RUnlock()

	if g.closed || !g.state.CompareAndSwap(int32(Idle), int32(Classifying)) {
		g.metrics.IncrementDropped()
		frame.Release()
		return false
	}

	g.metrics.IncrementAdmitted()
	g.jobs <- frame
	return true
}

// State returns the current slot state
func (g *Gate) State() State {
	return State(g.state.Load())
}

// Threshold returns the confidence floor
func (g *Gate) Threshold() float32 {
	return math.Float32frombits(g.threshold.Load())
}

// SetThreshold changes the confidence floor for results decided from now on
func (g *Gate) SetThreshold(t float32) {
	g.threshold.Store(math.Float32bits(t))
}

// Metrics returns the counters the gate writes to
func (g *Gate) Metrics() *metrics.Metrics {
	return g.metrics
}

// Stats returns a snapshot of the gate's counters
func (g *Gate) Stats() metrics.Snapshot {
	return g.metrics.Snapshot()
}

func (g *Gate) run(ctx context.Context) {
	defer g.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-g.jobs:
			g.process(ctx, frame)
		}
	}
}

func (g *Gate) process(ctx context.Context, frame models.FrameSample) {
	start := time.Now()

	vec, err := func() (models.ClassificationVector, error) {
		// reopen the slot on every exit path
		defer func() {
			frame.Release()
			g.state.Store(int32(Idle))
		}()
		return g.classify(ctx, frame.Image)
	}()

	latency := time.Since(start)
	g.metrics.RecordLatency(latency)

	seq := frame.Seq
	g.dispatcher.Post(func() {
		g.deliver(seq, vec, err, latency)
	})
}

func (g *Gate) classify(ctx context.Context, img image.Image) (vec models.ClassificationVector, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("classifier panicked: %v", r)
		}
	}()
	return g.classifier.Classify(ctx, img)
}

func (g *Gate) deliver(seq uint64, vec models.ClassificationVector, err error, latency time.Duration) {
	if err != nil {
		g.metrics.IncrementFailures()
		g.logger.Warn("classification failed", "frame", seq, "err", err)
	} else if len(vec) != g.labels.Len() {
		g.mismatchOnce.Do(func() {
			g.logger.Warn("model output does not match label table",
				"outputs", len(vec), "labels", g.labels.Len())
		})
	}

	if g.mode != nil && g.mode.Measuring() {
		g.metrics.IncrementSuppressed()
		g.logger.Debug("classification suppressed while measuring", "frame", seq)
		return
	}

	if err != nil {
		g.sink.OnClassification(Result{Frame: seq, Latency: latency, Failed: true})
		return
	}

	guess := Decide(vec, g.labels, g.Threshold())
	g.metrics.IncrementClassified()
	if guess.IsEmpty() {
		g.metrics.IncrementEmpty()
	}
	g.logger.Debug("classification", "frame", seq, "label", guess.Label,
		"confidence", guess.Confidence, "latency", latency)

	g.sink.OnClassification(Result{
		Frame:   seq,
		Guess:   guess,
		Scores:  vec,
		Latency: latency,
	})
}

func (g *Gate) drain() {
	for {
		select {
		case frame := <-g.jobs:
			frame.Release()
			g.state.Store(int32(Idle))
		default:
			return
		}
	}
}
