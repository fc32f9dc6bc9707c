// Package trace replays a recorded capture session. Each frame carries the camera pose,
// the planes detected so far and the sensor readings, so a session can run without a device.
package trace

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/golang/geo/r3"

	"github.com/bdougie/plantcam/internal/models"
	"github.com/bdougie/plantcam/internal/tracking"
)

// Frame is one recorded render tick
type Frame struct {
	T        float64          `json:"t"`
	Tracking bool             `json:"tracking"`
	Camera   tracking.Camera  `json:"camera"`
	Planes   []tracking.Plane `json:"planes"`
	Attitude *models.Attitude `json:"attitude"`
	Location *models.Location `json:"location"`
}

// Trace is a whole recorded session
type Trace struct {
	Frames []Frame `json:"frames"`
}

// Load reads a trace file
func Load(path string) (*Trace, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace %s: %w", path, err)
	}
	defer file.Close()

	t, err := Parse(file)
	if err != nil {
		return nil, fmt.Errorf("parse trace %s: %w", path, err)
	}
	return t, nil
}

// Parse decodes a trace from r
func Parse(r io.Reader) (*Trace, error) {
	var t Trace
	if err := json.NewDecoder(r).Decode(&t); err != nil {
		return nil, err
	}
	if len(t.Frames) == 0 {
		return nil, errors.New("trace has no frames")
	}
	return &t, nil
}

// Player steps through a trace one render tick at a time. It stays on the last frame once
// the trace is exhausted.
type Player struct {
	mu       sync.RWMutex
	trace    *Trace
	index    int
	viewport models.Size
	resolver *tracking.PlaneResolver
}

// NewPlayer positions a player on the first frame. Frames recorded without a viewport use
// the given one.
func NewPlayer(t *Trace, viewport models.Size) *Player {
	p := &Player{
		trace:    t,
		viewport: viewport,
		resolver: tracking.NewPlaneResolver(),
	}
	p.apply()
	return p
}

// Advance moves to the next frame. It returns false when already on the last one.
func (p *Player) Advance() bool {
	p.mu.Lock()
	if p.index >= len(p.trace.Frames)-1 {
		p.mu.Unlock()
		return false
	}
	p.index++
	p.mu.Unlock()

	p.apply()
	return true
}

// Index returns the current frame position
func (p *Player) Index() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.index
}

// Len returns the number of frames in the trace
func (p *Player) Len() int {
	return len(p.trace.Frames)
}

func (p *Player) current() Frame {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.trace.Frames[p.index]
}

func (p *Player) apply() {
	f := p.current()
	camera := f.Camera
	if camera.Viewport.Width == 0 || camera.Viewport.Height == 0 {
		camera.Viewport = p.viewport
	}
	p.resolver.Update(camera, f.Planes, f.Tracking)
}

func (p *Player) ResolveWorldPoint(pt models.ScreenPoint) (r3.Vector, bool) {
	return p.resolver.ResolveWorldPoint(pt)
}

func (p *Player) Attitude() (models.Attitude, bool) {
	f := p.current()
	if f.Attitude == nil {
		return models.Attitude{}, false
	}
	return *f.Attitude, true
}

func (p *Player) Location() (models.Location, bool) {
	f := p.current()
	if f.Location == nil {
		return models.Location{}, false
	}
	return *f.Location, true
}
