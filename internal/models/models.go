package models

import (
	"image"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FrameSample represents a single camera frame handed to the inference gate
type FrameSample struct {
	Seq      uint64
	Captured time.Time
	Image    image.Image

	once    *sync.Once
	release func()
}

// NewFrameSample wraps an image with a hook that runs when the frame is released
func NewFrameSample(seq uint64, captured time.Time, img image.Image, release func()) FrameSample {
	return FrameSample{
		Seq:      seq,
		Captured: captured,
		Image:    img,
		once:     &sync.Once{},
		release:  release,
	}
}

// Release hands the underlying buffer back to its producer. Safe to call more than once.
func (f FrameSample) Release() {
	if f.once == nil || f.release == nil {
		return
	}
	f.once.Do(f.release)
}

// ClassificationVector holds one confidence score per label, index-aligned to the label table
type ClassificationVector []float32

// Argmax returns the index and value of the highest score. Ties resolve to the lowest index
// and NaN entries are skipped; ok is false when no entry is a number.
func (v ClassificationVector) Argmax() (int, float32, bool) {
	best := -1
	for i, s := range v {
		if math.IsNaN(float64(s)) {
			continue
		}
		if best < 0 || s > v[best] {
			best = i
		}
	}
	if best < 0 {
		return 0, 0, false
	}
	return best, v[best], true
}

// BestGuess is the top label that survived the confidence floor. The zero value means no result.
type BestGuess struct {
	Label      string  `json:"label"`
	Confidence float32 `json:"confidence"`
}

// IsEmpty reports whether the guess carries no label
func (g BestGuess) IsEmpty() bool {
	return g.Label == ""
}

// ScreenPoint is a position in viewport coordinates, in logical points
type ScreenPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size is a viewport size in logical points
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the middle of the viewport
func (s Size) Center() ScreenPoint {
	return ScreenPoint{X: s.Width / 2, Y: s.Height / 2}
}

// ScreenSegment is the on-screen reference ruler
type ScreenSegment struct {
	Start ScreenPoint `json:"start"`
	End   ScreenPoint `json:"end"`
}

// LengthInPoints returns the euclidean length of the segment in logical points
func (s ScreenSegment) LengthInPoints() float64 {
	return math.Hypot(s.End.X-s.Start.X, s.End.Y-s.Start.Y)
}

// WorldDistanceSample is the scale reading for one rendered frame
type WorldDistanceSample struct {
	LengthInPixel      float64 `json:"lengthInPixel"`
	LengthInCentiMeter float64 `json:"lengthInCentiMeter"`
}

// Attitude is the device orientation in radians
type Attitude struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// Location is a WGS84 coordinate
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// LatitudeRef returns the GPS hemisphere reference for the latitude
func (l Location) LatitudeRef() string {
	if l.Latitude < 0 {
		return "S"
	}
	return "N"
}

// LongitudeRef returns the GPS hemisphere reference for the longitude
func (l Location) LongitudeRef() string {
	if l.Longitude < 0 {
		return "W"
	}
	return "E"
}

// Snapshot is one recorded photo together with the sensor data captured alongside it
type Snapshot struct {
	ID                 uuid.UUID `json:"id"`
	Burst              string    `json:"burst"`
	Index              int       `json:"index"`
	Captured           time.Time `json:"captured"`
	LengthInPixel      float64   `json:"lengthInPixel"`
	LengthInCentiMeter float64   `json:"lengthInCentiMeter"`
	Roll               float64   `json:"roll"`
	Pitch              float64   `json:"pitch"`
	Yaw                float64   `json:"yaw"`
	Latitude           float64   `json:"latitude"`
	Longitude          float64   `json:"longitude"`
	LatitudeRef        string    `json:"latitudeRef"`
	LongitudeRef       string    `json:"longitudeRef"`
	Label              string    `json:"label,omitempty"`
	Confidence         float32   `json:"confidence,omitempty"`
	Scores             []float32 `json:"-"`
	JPEG               []byte    `json:"-"`
}

// FileName returns the name the snapshot image is stored under inside its burst directory
func (s Snapshot) FileName() string {
	return s.Burst + "_" + strconv.Itoa(s.Index) + ".jpg"
}

// SimilarSnapshot is a snapshot returned from a similarity search
type SimilarSnapshot struct {
	ID         uuid.UUID `json:"id"`
	Burst      string    `json:"burst"`
	Index      int       `json:"index"`
	Label      string    `json:"label"`
	Distance   float64   `json:"distance"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	CentiMeter float64   `json:"lengthInCentiMeter"`
}
