// Package scale turns the on-screen reference segment into a real-world length.
//
// The estimator runs once per rendered frame. Each call either produces a
// WorldDistanceSample or reports that the world tracker could not resolve both
// endpoints yet; the next frame is the retry.
package scale

import (
	"sync"

	"github.com/bdougie/plantcam/internal/models"
	"github.com/bdougie/plantcam/internal/tracking"
)

// DefaultWidth is the reference segment width in logical points
const DefaultWidth = 100.0

// CenteredSegment spans width points horizontally, centered on the viewport
func CenteredSegment(viewport models.Size, width float64) models.ScreenSegment {
	c := viewport.Center()
	half := width / 2
	return models.ScreenSegment{
		Start: models.ScreenPoint{X: c.X - half, Y: c.Y},
		End:   models.ScreenPoint{X: c.X + half, Y: c.Y},
	}
}

// LeadingSegment starts at the viewport center and extends width points to the right
func LeadingSegment(viewport models.Size, width float64) models.ScreenSegment {
	c := viewport.Center()
	return models.ScreenSegment{
		Start: c,
		End:   models.ScreenPoint{X: c.X + width, Y: c.Y},
	}
}

// SegmentFunc builds a segment for a viewport
type SegmentFunc func(viewport models.Size, width float64) models.ScreenSegment

// Estimator converts the reference segment to pixel and centimeter lengths
type Estimator struct {
	mu           sync.RWMutex
	layout       SegmentFunc
	width        float64
	viewport     models.Size
	segment      models.ScreenSegment
	displayScale float64
}

// NewEstimator lays out the segment for the viewport. A nil layout means CenteredSegment.
func NewEstimator(viewport models.Size, width, displayScale float64, layout SegmentFunc) *Estimator {
	if layout == nil {
		layout = CenteredSegment
	}
	if width <= 0 {
		width = DefaultWidth
	}
	if displayScale <= 0 {
		displayScale = 1
	}
	return &Estimator{
		layout:       layout,
		width:        width,
		viewport:     viewport,
		segment:      layout(viewport, width),
		displayScale: displayScale,
	}
}

// Resize recomputes the segment after the view changes size
func (e *Estimator) Resize(viewport models.Size) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.viewport = viewport
	e.segment = e.layout(viewport, e.width)
}

// Segment returns the current reference segment
func (e *Estimator) Segment() models.ScreenSegment {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.segment
}

// Center returns the viewport center, the aim point for the ready indicator and the ruler
func (e *Estimator) Center() models.ScreenPoint {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.viewport.Center()
}

// PixelLength is the segment length on the physical display. It is always available.
func (e *Estimator) PixelLength() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.segment.LengthInPoints() * e.displayScale
}

// Estimate resolves both endpoints and measures the distance between them.
// It returns false when either endpoint is not tracked this frame.
func (e *Estimator) Estimate(r tracking.Resolver) (models.WorldDistanceSample, bool) {
	e.mu.RLock()
	seg := e.segment
	px := seg.LengthInPoints() * e.displayScale
	e.mu.RUnlock()

	start, ok := r.ResolveWorldPoint(seg.Start)
	if !ok {
		return models.WorldDistanceSample{}, false
	}
	end, ok := r.ResolveWorldPoint(seg.End)
	if !ok {
		return models.WorldDistanceSample{}, false
	}

	meters := start.Distance(end)
	return models.WorldDistanceSample{
		LengthInPixel:      px,
		LengthInCentiMeter: meters * 100,
	}, true
}

// Ready reports whether the viewport center currently resolves to a world point
func (e *Estimator) Ready(r tracking.Resolver) bool {
	_, ok := r.ResolveWorldPoint(e.Center())
	return ok
}
