// Package app wires a capture session from configuration. Both the headless runner and
// the desktop viewer build their pipeline here.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"

	"github.com/golang/geo/r3"

	"github.com/bdougie/plantcam/internal/classifier/agent"
	"github.com/bdougie/plantcam/internal/classifier/ort"
	"github.com/bdougie/plantcam/internal/config"
	"github.com/bdougie/plantcam/internal/extractor"
	"github.com/bdougie/plantcam/internal/inference"
	"github.com/bdougie/plantcam/internal/metrics"
	"github.com/bdougie/plantcam/internal/models"
	"github.com/bdougie/plantcam/internal/publish"
	"github.com/bdougie/plantcam/internal/recorder"
	"github.com/bdougie/plantcam/internal/scale"
	"github.com/bdougie/plantcam/internal/sensors"
	"github.com/bdougie/plantcam/internal/session"
	"github.com/bdougie/plantcam/internal/storage"
	"github.com/bdougie/plantcam/internal/trace"
	"github.com/bdougie/plantcam/internal/tracking"
)

// DeskHeight is how far above the table the fixed camera sits when no trace is given
const DeskHeight = 0.3

// Options are the per-run inputs that do not come from the environment
type Options struct {
	VideoPath string
	FramesDir string
	TracePath string
	Loop      bool
	Record    bool
	// Location is reported to the recorder when no trace provides one.
	Location *models.Location
}

// App is a fully wired capture pipeline
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	Session *session.Session
	Gate    *inference.Gate
	Source  *extractor.Source
	Segment models.ScreenSegment

	closers []func()
}

// New builds every component. Close releases what was opened even when New fails halfway.
func New(ctx context.Context, cfg *config.Config, opts Options, display session.Display, logger *slog.Logger) (_ *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{cfg: cfg, logger: logger, metrics: metrics.NewMetrics()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	labels, err := inference.LoadLabels(cfg.LabelsPath)
	if err != nil {
		return nil, err
	}
	logger.Info("Loaded labels", "count", labels.Len(), "path", cfg.LabelsPath)

	classifier, err := a.newClassifier(ctx, labels)
	if err != nil {
		return nil, err
	}

	framesDir := opts.FramesDir
	if opts.VideoPath != "" {
		framesDir, err = extractor.ExtractFrames(ctx, logger, opts.VideoPath, filepath.Join(cfg.OutputDir, "frames"), cfg.FrameRate)
		if err != nil {
			return nil, err
		}
	}
	if framesDir == "" {
		return nil, errors.New("a video or a frames directory is required")
	}
	a.Source = &extractor.Source{
		Dir:       framesDir,
		FrameRate: cfg.FrameRate,
		Loop:      opts.Loop,
		Logger:    logger,
	}

	viewport := cfg.Viewport()
	layout := scale.CenteredSegment
	if cfg.SegmentAnchor == config.AnchorLeading {
		layout = scale.LeadingSegment
	}
	estimator := scale.NewEstimator(viewport, cfg.ScaleWidth, cfg.DisplayScale, layout)
	a.Segment = estimator.Segment()

	var (
		resolver tracking.Resolver
		motion   sensors.Motion
		locator  sensors.Locator
		advancer session.Advancer
	)
	if opts.TracePath != "" {
		t, err := trace.Load(opts.TracePath)
		if err != nil {
			return nil, err
		}
		player := trace.NewPlayer(t, viewport)
		resolver, motion, locator, advancer = player, player, player, player
		logger.Info("Replaying trace", "path", opts.TracePath, "frames", player.Len())
	} else {
		static := sensors.NewStatic()
		static.SetAttitude(models.Attitude{Pitch: -math.Pi / 2})
		if opts.Location != nil {
			static.SetLocation(*opts.Location)
		}
		resolver = deskResolver(viewport)
		motion, locator = static, static
		logger.Info("No trace given, assuming a camera looking down at a table", "height_m", DeskHeight)
	}

	publisher, err := a.newPublisher()
	if err != nil {
		return nil, err
	}

	var rec *recorder.Recorder
	if opts.Record {
		store, err := a.newStorage(ctx)
		if err != nil {
			return nil, err
		}
		rec, err = recorder.New(recorder.Config{
			Interval: cfg.RecordInterval,
			Storage:  store,
			Motion:   motion,
			Locator:  locator,
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
	}

	a.Session, err = session.New(session.Config{
		Estimator: estimator,
		Resolver:  resolver,
		Display:   display,
		Advancer:  advancer,
		Recorder:  rec,
		Publisher: publisher,
		Metrics:   a.metrics,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	threshold := float32(cfg.ConfidenceThreshold)
	a.Gate, err = inference.NewGate(inference.Config{
		Classifier: classifier,
		Labels:     labels,
		Threshold:  &threshold,
		Dispatcher: a.Session,
		Sink:       a.Session,
		Mode:       a.Session,
		Logger:     logger,
		Metrics:    a.metrics,
	})
	if err != nil {
		return nil, err
	}
	a.Session.Attach(a.Gate)
	return a, nil
}

func (a *App) newClassifier(ctx context.Context, labels *inference.LabelTable) (inference.Classifier, error) {
	switch a.cfg.Classifier {
	case config.BackendOllama:
		c, err := agent.New(ctx, agent.Config{
			BaseURL: a.cfg.OllamaURL,
			Port:    a.cfg.OllamaPort,
			Model:   a.cfg.OllamaModel,
			Logger:  a.logger,
		}, labels.Labels())
		if err != nil {
			return nil, fmt.Errorf("failed to initialize vision agent: %w", err)
		}
		return c, nil
	default:
		c, err := ort.New(ort.Config{
			Library:   a.cfg.OrtLibrary,
			ModelPath: a.cfg.ModelPath,
			InputSize: a.cfg.InputSize,
			Softmax:   a.cfg.Softmax,
			Logger:    a.logger,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() {
			if err := c.Close(); err != nil {
				a.logger.Warn("closing classifier", "err", err)
			}
		})
		if c.Classes() != labels.Len() {
			a.logger.Warn("Model classes differ from label count", "classes", c.Classes(), "labels", labels.Len())
		}
		return c, nil
	}
}

func (a *App) newPublisher() (publish.Publisher, error) {
	if a.cfg.RedisAddress == "" {
		return publish.Nop{}, nil
	}
	pool := publish.NewPool(a.cfg.RedisAddress, a.cfg.RedisMaxConnections)
	async := publish.NewAsync(publish.NewRedisPublisher(pool, a.logger), publish.DefaultQueueSize, a.logger)
	// closers run in reverse, so queued events go out before the pool closes
	a.closers = append(a.closers, func() { pool.Close() }, async.Close)
	a.logger.Info("Publishing updates to redis", "address", a.cfg.RedisAddress)
	return async, nil
}

func (a *App) newStorage(ctx context.Context) (storage.Storage, error) {
	files := storage.NewFileStorage(a.cfg.OutputDir, a.logger)
	if !a.cfg.PostgresEnabled() {
		return files, nil
	}

	a.logger.Info("Connecting to postgres", "dsn", a.cfg.DSNForLog())
	pg, err := storage.NewPostgresStorage(ctx, storage.PostgresConfig{
		Host:     a.cfg.DBHost,
		Port:     a.cfg.DBPort,
		User:     a.cfg.DBUser,
		Password: a.cfg.DBPassword,
		DBName:   a.cfg.DBName,
	}, a.logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, pg.Close)
	if err := pg.Migrate(ctx); err != nil {
		return nil, err
	}
	return storage.NewMulti(files, pg), nil
}

// deskResolver is a camera DeskHeight above a flat table, looking straight down
func deskResolver(viewport models.Size) *tracking.PlaneResolver {
	r := tracking.NewPlaneResolver()
	r.Update(tracking.Camera{
		Position:    r3.Vector{Y: DeskHeight},
		Forward:     r3.Vector{Y: -1},
		Up:          r3.Vector{Z: -1},
		FocalLength: viewport.Width * 1.3,
		Viewport:    viewport,
	}, []tracking.Plane{{Normal: r3.Vector{Y: 1}}}, true)
	return r
}

// Run streams frames through the session until they run out or ctx is cancelled
func (a *App) Run(ctx context.Context) error {
	frames, err := a.Source.Stream(ctx)
	if err != nil {
		return err
	}

	a.Gate.Start(ctx)
	defer a.Gate.Close()

	err = a.Session.Run(ctx, frames)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	a.logger.Info("Session finished", "stats", a.Gate.Stats(), "skipped_frames", a.Source.Skipped())
	return err
}

// Stats returns the pipeline counters
func (a *App) Stats() metrics.Snapshot {
	return a.metrics.Snapshot()
}

// Close releases the classifier, database and redis connections
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
