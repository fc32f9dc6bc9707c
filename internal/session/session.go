// Package session owns the display context. A single goroutine runs Run, which takes
// each rendered frame, updates the scale readout and the ruler, hands the frame to the
// inference gate, and executes everything other goroutines Post back to it. Display state
// is only ever touched from that goroutine.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/bdougie/plantcam/internal/inference"
	"github.com/bdougie/plantcam/internal/metrics"
	"github.com/bdougie/plantcam/internal/models"
	"github.com/bdougie/plantcam/internal/publish"
	"github.com/bdougie/plantcam/internal/recorder"
	"github.com/bdougie/plantcam/internal/scale"
	"github.com/bdougie/plantcam/internal/tracking"
)

const defaultQueueSize = 64

// Display is the presentation layer
type Display interface {
	ShowScale(sample models.WorldDistanceSample)
	ShowLabel(text string)
	ShowRuler(readout string)
	SetReady(ready bool)
	SetRecording(recording bool)
	Alert(message string)
}

// FrameDisplay is implemented by displays that also show the camera image
type FrameDisplay interface {
	ShowFrame(img image.Image)
}

// Submitter accepts frames for classification
type Submitter interface {
	Submit(frame models.FrameSample) bool
}

// Advancer moves recorded collaborators forward one frame
type Advancer interface {
	Advance() bool
}

// Config wires a Session
type Config struct {
	Estimator *scale.Estimator
	Resolver  tracking.Resolver
	Display   Display

	// Optional collaborators.
	Advancer  Advancer
	Recorder  *recorder.Recorder
	Publisher publish.Publisher
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	Now       func() time.Time
	QueueSize int
}

// Session is the render loop. It implements inference.Dispatcher, inference.Mode and
// inference.Sink.
type Session struct {
	estimator *scale.Estimator
	resolver  tracking.Resolver
	display   Display
	advancer  Advancer
	recorder  *recorder.Recorder
	publisher publish.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time

	gate      Submitter
	posts     chan func()
	done      chan struct{}
	running   atomic.Bool
	measuring atomic.Bool

	// loop-owned state
	ctx       context.Context
	ruler     scale.Ruler
	ready     bool
	lastScale models.WorldDistanceSample
	hasScale  bool
	lastGuess models.BestGuess
	scores    models.ClassificationVector
	lastFrame image.Image
}

var (
	_ inference.Dispatcher = (*Session)(nil)
	_ inference.Mode       = (*Session)(nil)
	_ inference.Sink       = (*Session)(nil)
)

// New validates cfg and returns a session that is not yet running
func New(cfg Config) (*Session, error) {
	if cfg.Estimator == nil {
		return nil, errors.New("estimator is required")
	}
	if cfg.Resolver == nil {
		return nil, errors.New("resolver is required")
	}
	if cfg.Display == nil {
		return nil, errors.New("display is required")
	}
	if cfg.Publisher == nil {
		cfg.Publisher = publish.Nop{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}

	return &Session{
		estimator: cfg.Estimator,
		resolver:  cfg.Resolver,
		display:   cfg.Display,
		advancer:  cfg.Advancer,
		recorder:  cfg.Recorder,
		publisher: cfg.Publisher,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		now:       cfg.Now,
		posts:     make(chan func(), cfg.QueueSize),
		done:      make(chan struct{}),
	}, nil
}

// Attach sets the gate frames are submitted to. It must be called before Run.
func (s *Session) Attach(gate Submitter) {
	s.gate = gate
}

// Post queues fn to run on the session goroutine. After Run has returned, fn is dropped.
func (s *Session) Post(fn func()) {
	select {
	case s.posts <- fn:
	case <-s.done:
	}
}

// Measuring reports whether a touch-and-hold measurement is in progress
func (s *Session) Measuring() bool {
	return s.measuring.Load()
}

// Run drives the session until ctx is cancelled or frames is closed. A burst still being
// recorded when the run ends is stored.
func (s *Session) Run(ctx context.Context, frames <-chan models.FrameSample) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("session already running")
	}
	defer close(s.done)

	s.ctx = ctx
	s.display.SetReady(false)

	for {
		var ticks <-chan time.Time
		if s.recorder != nil {
			ticks = s.recorder.C()
		}

		select {
		case <-ctx.Done():
			s.finish()
			return ctx.Err()
		case fn := <-s.posts:
			fn()
		case frame, ok := <-frames:
			if !ok {
				s.drainPosts()
				s.finish()
				return nil
			}
			s.tick(frame)
		case now := <-ticks:
			s.capture(now)
		}
	}
}

func (s *Session) drainPosts() {
	for {
		select {
		case fn := <-s.posts:
			fn()
		default:
			return
		}
	}
}

func (s *Session) finish() {
	if s.recorder == nil || (!s.recorder.Recording() && s.recorder.Buffered() == 0) {
		return
	}
	s.stopRecording(context.WithoutCancel(s.ctx))
}

func (s *Session) tick(frame models.FrameSample) {
	if s.advancer != nil {
		s.advancer.Advance()
	}
	if fd, ok := s.display.(FrameDisplay); ok {
		fd.ShowFrame(frame.Image)
	}
	s.lastFrame = frame.Image

	if sample, ok := s.estimator.Estimate(s.resolver); ok {
		s.metrics.IncrementScaleSamples()
		s.lastScale = sample
		s.hasScale = true
		s.display.ShowScale(sample)
		s.publisher.PublishScale(sample)
	} else {
		s.metrics.IncrementNotReady()
	}

	if ready := s.estimator.Ready(s.resolver); ready != s.ready {
		s.ready = ready
		s.display.SetReady(ready)
	}

	if s.Measuring() {
		if meters, ok := s.ruler.Update(s.resolver, s.estimator.Center()); ok {
			s.display.ShowRuler(scale.Readout(meters))
		}
	}

	if s.gate == nil {
		frame.Release()
		return
	}
	s.gate.Submit(frame)
}

// OnClassification shows a delivered result. It runs on the session goroutine.
func (s *Session) OnClassification(r inference.Result) {
	s.lastGuess = r.Guess
	s.scores = r.Scores

	text := ""
	if !r.Guess.IsEmpty() {
		text = fmt.Sprintf("%s (%.2f)", r.Guess.Label, r.Guess.Confidence)
	}
	s.display.ShowLabel(text)
	s.publisher.PublishClassification(r.Guess)
}

// TouchBegan starts a touch-and-hold measurement
func (s *Session) TouchBegan() {
	s.Post(func() {
		s.ruler.Begin()
		s.measuring.Store(true)
		s.display.ShowRuler(scale.Readout(0))
	})
}

// TouchEnded stops the measurement. The last reading stays on screen until the next
// classification replaces it.
func (s *Session) TouchEnded() {
	s.Post(func() {
		s.ruler.End()
		s.measuring.Store(false)
	})
}

// Resize lays the reference segment out for a new viewport
func (s *Session) Resize(viewport models.Size) {
	s.Post(func() {
		s.estimator.Resize(viewport)
	})
}

// ToggleRecording starts or stops a burst
func (s *Session) ToggleRecording() {
	s.Post(func() {
		if s.recorder == nil {
			s.display.Alert("recording is not available")
			return
		}
		if s.recorder.Recording() {
			s.stopRecording(s.ctx)
			return
		}
		s.recorder.Start()
		s.display.SetRecording(true)
	})
}

func (s *Session) stopRecording(ctx context.Context) {
	s.display.SetRecording(false)

	n := s.recorder.Buffered()
	burst, err := s.recorder.Stop(ctx, s.now())
	if err != nil {
		s.logger.Error("couldn't store burst", "err", err)
		s.display.Alert(err.Error())
		return
	}
	if burst == "" {
		return
	}
	s.publisher.PublishBurst(burst, n)
}

func (s *Session) capture(now time.Time) {
	err := s.recorder.Capture(s.ctx, now, recorder.Current{
		Image:    s.lastFrame,
		Scale:    s.lastScale,
		HasScale: s.hasScale,
		Guess:    s.lastGuess,
		Scores:   s.scores,
	})
	if err != nil {
		s.display.SetRecording(false)
		s.display.Alert(alertMessage(err))
	}
}

func alertMessage(err error) string {
	if errors.Is(err, recorder.ErrLocationDisabled) {
		return "Location is disabled. We need location information to collect better data."
	}
	return err.Error()
}
