// Package recorder captures bursts of measured snapshots while recording is switched on.
//
// Every tick takes one snapshot, and only when the scale, the device attitude and the
// location are all known. The first tick that lacks any of them halts recording; the
// snapshots taken so far stay buffered until the burst is stopped and stored.
package recorder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/bdougie/plantcam/internal/models"
	"github.com/bdougie/plantcam/internal/sensors"
	"github.com/bdougie/plantcam/internal/storage"
)

// DefaultInterval between snapshots
const DefaultInterval = time.Second

var (
	ErrScaleNotReady    = errors.New("AR sensor not ready")
	ErrMotionNotReady   = errors.New("motion sensor not ready")
	ErrLocationDisabled = errors.New("location is disabled")
	ErrCountMismatch    = errors.New("photos and metadata count not consistent")
)

const burstLetters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// Current is what the screen shows at the moment a snapshot is taken
type Current struct {
	Image    image.Image
	Scale    models.WorldDistanceSample
	HasScale bool
	Guess    models.BestGuess
	Scores   models.ClassificationVector
}

// Config wires a Recorder to its collaborators
type Config struct {
	Interval time.Duration
	Storage  storage.Storage
	Motion   sensors.Motion
	Locator  sensors.Locator
	Logger   *slog.Logger
	// IntN picks burst letters; math/rand/v2 when nil.
	IntN func(n int) int
}

// Recorder buffers snapshots and hands whole bursts to storage
type Recorder struct {
	mu       sync.Mutex
	interval time.Duration
	storage  storage.Storage
	motion   sensors.Motion
	locator  sensors.Locator
	logger   *slog.Logger
	intN     func(int) int

	ticker *time.Ticker
	photos [][]byte
	metas  []models.Snapshot
}

// New returns a recorder that is not recording
func New(cfg Config) (*Recorder, error) {
	if cfg.Storage == nil {
		return nil, errors.New("storage is required")
	}
	if cfg.Motion == nil || cfg.Locator == nil {
		return nil, errors.New("motion and location providers are required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.IntN == nil {
		cfg.IntN = rand.IntN
	}
	return &Recorder{
		interval: cfg.Interval,
		storage:  cfg.Storage,
		motion:   cfg.Motion,
		locator:  cfg.Locator,
		logger:   cfg.Logger,
		intN:     cfg.IntN,
	}, nil
}

// Recording reports whether the snapshot timer is running
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ticker != nil
}

// Buffered returns the number of snapshots waiting to be stored
func (r *Recorder) Buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.metas)
}

// C delivers snapshot ticks while recording and is nil otherwise
func (r *Recorder) C() <-chan time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ticker == nil {
		return nil
	}
	return r.ticker.C
}

// Toggle starts recording, or stops it and stores the burst. It returns whether the
// recorder is recording afterwards.
func (r *Recorder) Toggle(ctx context.Context, now time.Time) (bool, error) {
	if r.Recording() {
		_, err := r.Stop(ctx, now)
		return false, err
	}
	r.Start()
	return true, nil
}

// Start begins taking a snapshot every interval
func (r *Recorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ticker != nil {
		return
	}
	r.ticker = time.NewTicker(r.interval)
	r.logger.Info("recording started", "interval", r.interval, "buffered", len(r.metas))
}

func (r *Recorder) halt(reason error) error {
	if r.ticker != nil {
		r.ticker.Stop()
		r.ticker = nil
	}
	r.logger.Warn("recording halted", "reason", reason, "buffered", len(r.metas))
	return reason
}

// Capture takes one snapshot of cur. A missing reading halts recording and is returned.
func (r *Recorder) Capture(ctx context.Context, now time.Time, cur Current) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ticker == nil {
		return nil
	}

	if !cur.HasScale {
		return r.halt(ErrScaleNotReady)
	}

	if cur.Image == nil {
		return r.halt(ErrMotionNotReady)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, cur.Image, imaging.JPEG, imaging.JPEGQuality(100)); err != nil {
		return r.halt(fmt.Errorf("%w: encode snapshot: %v", ErrMotionNotReady, err))
	}
	attitude, ok := r.motion.Attitude()
	if !ok {
		return r.halt(ErrMotionNotReady)
	}

	location, ok := r.locator.Location()
	if !ok {
		return r.halt(ErrLocationDisabled)
	}

	r.metas = append(r.metas, models.Snapshot{
		ID:                 uuid.New(),
		Captured:           now,
		LengthInPixel:      cur.Scale.LengthInPixel,
		LengthInCentiMeter: cur.Scale.LengthInCentiMeter,
		Roll:               attitude.Roll,
		Pitch:              attitude.Pitch,
		Yaw:                attitude.Yaw,
		Latitude:           location.Latitude,
		Longitude:          location.Longitude,
		LatitudeRef:        location.LatitudeRef(),
		LongitudeRef:       location.LongitudeRef(),
		Label:              cur.Guess.Label,
		Confidence:         cur.Guess.Confidence,
		Scores:             append([]float32(nil), cur.Scores...),
	})
	r.photos = append(r.photos, buf.Bytes())
	return nil
}

// Stop stops the timer and stores everything buffered as one burst. The buffer is kept
// when storing fails so that a later Stop can retry under a new name.
func (r *Recorder) Stop(ctx context.Context, now time.Time) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ticker != nil {
		r.ticker.Stop()
		r.ticker = nil
	}

	if len(r.photos) != len(r.metas) {
		return "", ErrCountMismatch
	}
	if len(r.metas) == 0 {
		return "", nil
	}

	burst := r.burstName(now)
	var errs []error
	for i, meta := range r.metas {
		meta.Burst = burst
		meta.Index = i
		meta.JPEG = r.photos[i]
		if err := r.storage.AddSnapshot(ctx, meta); err != nil {
			errs = append(errs, fmt.Errorf("store snapshot %d: %w", i, err))
		}
	}
	// flush even after a failed add so no storage carries this attempt into the next one
	if err := r.storage.Flush(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return "", fmt.Errorf("store burst %s: %w", burst, err)
	}

	r.logger.Info("burst stored", "burst", burst, "snapshots", len(r.metas))
	r.photos = nil
	r.metas = nil
	return burst, nil
}

// burstName is the 12-hour clock time followed by five random capital letters
func (r *Recorder) burstName(now time.Time) string {
	b := make([]byte, 0, 9)
	b = now.AppendFormat(b, "0304")
	for i := 0; i < 5; i++ {
		b = append(b, burstLetters[r.intN(len(burstLetters))])
	}
	return string(b)
}
