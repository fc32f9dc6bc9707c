package scale

import (
	"fmt"

	"github.com/golang/geo/r3"

	"github.com/bdougie/plantcam/internal/models"
	"github.com/bdougie/plantcam/internal/tracking"
)

const inchesPerCentimeter = 0.3937007874

// Ruler measures touch-and-hold distances: the first tracked aim point after Begin is the
// start, every later one moves the end. It is driven from the render loop only.
type Ruler struct {
	active   bool
	hasStart bool
	start    r3.Vector
	end      r3.Vector
}

// Begin resets the ruler and starts measuring
func (r *Ruler) Begin() {
	r.Reset()
	r.active = true
}

// End stops measuring. The last reading is kept.
func (r *Ruler) End() {
	r.active = false
}

// Reset clears both endpoints and stops measuring
func (r *Ruler) Reset() {
	r.active = false
	r.hasStart = false
	r.start = r3.Vector{}
	r.end = r3.Vector{}
}

// Active reports whether a measurement is in progress
func (r *Ruler) Active() bool {
	return r.active
}

// Meters returns the current start to end distance
func (r *Ruler) Meters() float64 {
	if !r.hasStart {
		return 0
	}
	return r.start.Distance(r.end)
}

// Update samples the aim point. It returns false when not measuring or the point is untracked.
func (r *Ruler) Update(res tracking.Resolver, aim models.ScreenPoint) (float64, bool) {
	if !r.active {
		return 0, false
	}
	p, ok := res.ResolveWorldPoint(aim)
	if !ok {
		return 0, false
	}
	if !r.hasStart {
		r.start = p
		r.hasStart = true
	}
	r.end = p
	return r.Meters(), true
}

// Readout formats a distance in meters as "12.34 cm / 4.86\""
func Readout(meters float64) string {
	cm := meters * 100
	inch := cm * inchesPerCentimeter
	return fmt.Sprintf("%.2f cm / %.2f\"", cm, inch)
}
