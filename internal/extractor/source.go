package extractor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"

	"github.com/bdougie/plantcam/internal/models"
)

// Source replays a directory of still frames as a live camera feed
type Source struct {
	Dir       string
	FrameRate int
	// Loop restarts from the first frame when the directory is exhausted.
	Loop   bool
	Logger *slog.Logger

	// Now stamps captured frames; time.Now when nil.
	Now func() time.Time

	inFlight atomic.Int64
	skipped  atomic.Int64
}

// InFlight returns how many emitted frames have not been released yet
func (s *Source) InFlight() int64 {
	return s.inFlight.Load()
}

// Skipped returns how many ticks passed without the consumer taking a frame
func (s *Source) Skipped() int64 {
	return s.skipped.Load()
}

func listFrames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Stream decodes frames in name order and offers one per tick. A frame the consumer is not
// ready for is skipped rather than queued. The channel closes when the frames run out or ctx
// is cancelled.
func (s *Source) Stream(ctx context.Context) (<-chan models.FrameSample, error) {
	if s.FrameRate <= 0 {
		return nil, fmt.Errorf("invalid frame rate %d", s.FrameRate)
	}
	names, err := listFrames(s.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read frames directory '%s': %w", s.Dir, err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no frames found in directory '%s'", s.Dir)
	}

	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := s.Now
	if now == nil {
		now = time.Now
	}

	out := make(chan models.FrameSample)
	go func() {
		defer close(out)

		ticker := time.NewTicker(time.Second / time.Duration(s.FrameRate))
		defer ticker.Stop()

		var seq uint64
		i := 0
		due := false
		for {
			if i == len(names) {
				if !s.Loop {
					return
				}
				i = 0
			}

			if !due {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
			}
			due = false

			name := names[i]
			i++
			img, err := imaging.Open(filepath.Join(s.Dir, name))
			if err != nil {
				logger.Warn("skipping unreadable frame", "file", name, "err", err)
				continue
			}

			seq++
			s.inFlight.Add(1)
			frame := models.NewFrameSample(seq, now(), img, func() {
				s.inFlight.Add(-1)
			})

			// offered until the next tick
			select {
			case out <- frame:
			case <-ctx.Done():
				frame.Release()
				return
			case <-ticker.C:
				s.skipped.Add(1)
				frame.Release()
				due = true
			}
		}
	}()
	return out, nil
}
