// Package tracking resolves screen points to world points by ray casting against detected planes.
package tracking

import (
	"math"
	"sync"

	"github.com/golang/geo/r3"

	"github.com/bdougie/plantcam/internal/models"
)

// DefaultMaxRange is the farthest hit, in meters, that still counts as a tracked surface
const DefaultMaxRange = 5.0

const parallelEpsilon = 1e-9

// Resolver maps a screen point to a world point, or reports that nothing is tracked there
type Resolver interface {
	ResolveWorldPoint(p models.ScreenPoint) (r3.Vector, bool)
}

// Camera is a pinhole camera in world space. FocalLength is expressed in logical points.
type Camera struct {
	Position    r3.Vector   `json:"position"`
	Forward     r3.Vector   `json:"forward"`
	Up          r3.Vector   `json:"up"`
	FocalLength float64     `json:"focalLength"`
	Viewport    models.Size `json:"viewport"`
}

// Ray returns the normalized direction through the given screen point
func (c Camera) Ray(p models.ScreenPoint) r3.Vector {
	forward := c.Forward.Normalize()
	right := forward.Cross(c.Up).Normalize()
	up := right.Cross(forward).Normalize()

	center := c.Viewport.Center()
	dx := p.X - center.X
	dy := p.Y - center.Y

	// screen y grows downwards
	return forward.Mul(c.FocalLength).
		Add(right.Mul(dx)).
		Sub(up.Mul(dy)).
		Normalize()
}

// Plane is a detected surface
type Plane struct {
	Point  r3.Vector `json:"point"`
	Normal r3.Vector `json:"normal"`
}

// Intersect returns the distance along the ray to the plane
func (pl Plane) Intersect(origin, dir r3.Vector) (float64, bool) {
	n := pl.Normal.Normalize()
	denom := dir.Dot(n)
	if math.Abs(denom) < parallelEpsilon {
		return 0, false
	}
	t := pl.Point.Sub(origin).Dot(n) / denom
	if t <= 0 {
		return 0, false
	}
	return t, true
}

// PlaneResolver hit-tests screen points against the planes detected so far.
// Frame updates and lookups may come from different goroutines.
type PlaneResolver struct {
	mu       sync.RWMutex
	camera   Camera
	planes   []Plane
	tracking bool
	maxRange float64
}

// NewPlaneResolver creates a resolver that is not yet tracking
func NewPlaneResolver() *PlaneResolver {
	return &PlaneResolver{maxRange: DefaultMaxRange}
}

// SetMaxRange overrides the farthest accepted hit
func (r *PlaneResolver) SetMaxRange(meters float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maxRange = meters
}

// Update replaces the camera pose and plane set for the current frame
func (r *PlaneResolver) Update(camera Camera, planes []Plane, tracking bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.camera = camera
	r.planes = append(r.planes[:0], planes...)
	r.tracking = tracking
}

// Reset drops tracking state, as after a session restart
func (r *PlaneResolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.planes = nil
	r.tracking = false
}

// ResolveWorldPoint returns the nearest plane hit under the screen point
func (r *PlaneResolver) ResolveWorldPoint(p models.ScreenPoint) (r3.Vector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.tracking || len(r.planes) == 0 || r.camera.FocalLength <= 0 {
		return r3.Vector{}, false
	}

	dir := r.camera.Ray(p)
	best := math.Inf(1)
	for _, pl := range r.planes {
		t, ok := pl.Intersect(r.camera.Position, dir)
		if !ok || t > r.maxRange {
			continue
		}
		if t < best {
			best = t
		}
	}
	if math.IsInf(best, 1) {
		return r3.Vector{}, false
	}
	return r.camera.Position.Add(dir.Mul(best)), true
}
