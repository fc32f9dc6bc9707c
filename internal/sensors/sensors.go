// Package sensors provides the device attitude and location readings attached to snapshots.
package sensors

import (
	"sync"

	"github.com/bdougie/plantcam/internal/models"
)

// Motion reports the latest device attitude. False means no reading is available yet.
type Motion interface {
	Attitude() (models.Attitude, bool)
}

// Locator reports the latest device location. False means location is disabled or unknown.
type Locator interface {
	Location() (models.Location, bool)
}

// Static holds fixed readings that can be changed at runtime
type Static struct {
	mu          sync.RWMutex
	attitude    models.Attitude
	hasAttitude bool
	location    models.Location
	hasLocation bool
}

// NewStatic returns a provider with no readings
func NewStatic() *Static {
	return &Static{}
}

func (s *Static) SetAttitude(a models.Attitude) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attitude = a
	s.hasAttitude = true
}

func (s *Static) SetLocation(l models.Location) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.location = l
	s.hasLocation = true
}

// ClearLocation simulates the user disabling location access
func (s *Static) ClearLocation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hasLocation = false
}

func (s *Static) Attitude() (models.Attitude, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.attitude, s.hasAttitude
}

func (s *Static) Location() (models.Location, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.location, s.hasLocation
}
