package geolocation

import (
	"fmt"
	"math"
	"time"

	"github.com/golang/geo/s2"
)

// Sample is a single reading delivered by a positioning capability.
type Sample struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
}

// Fix is the averaged position computed over the retained window.
type Fix struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"`
	// Samples is the number of window samples averaged into the fix.
	Samples int `json:"samples"`
	// Spread is the largest great-circle distance, in meters, between a
	// window sample and the averaged position.
	Spread float64 `json:"spread"`
}

const earthRadiusMeters = 6371008.8

// meanFix averages latitude, longitude and accuracy over the given samples.
func meanFix(window []Sample) *Fix {
	if len(window) == 0 {
		return nil
	}
	var lat, lng, acc float64
	for _, s := range window {
		lat += s.Latitude
		lng += s.Longitude
		acc += s.Accuracy
	}
	n := float64(len(window))
	fix := &Fix{
		Latitude:  lat / n,
		Longitude: lng / n,
		Accuracy:  acc / n,
		Samples:   len(window),
	}

	center := s2.LatLngFromDegrees(fix.Latitude, fix.Longitude)
	for _, s := range window {
		d := center.Distance(s2.LatLngFromDegrees(s.Latitude, s.Longitude)).Radians() * earthRadiusMeters
		fix.Spread = math.Max(fix.Spread, d)
	}
	return fix
}

// ErrorCode classifies a failure reported by a positioning capability.
type ErrorCode int

const (
	CodeOther ErrorCode = iota
	CodePermissionDenied
	CodePositionUnavailable
	CodeTimeout
)

func (c ErrorCode) String() string {
	switch c {
	case CodePermissionDenied:
		return "permission-denied"
	case CodePositionUnavailable:
		return "position-unavailable"
	case CodeTimeout:
		return "timeout"
	default:
		return "other"
	}
}

// PositionError is an error reported by the positioning capability itself.
type PositionError struct {
	Code    ErrorCode
	Message string
}

func (e *PositionError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("position error: %s", e.Code)
	}
	return fmt.Sprintf("position error: %s: %s", e.Code, e.Message)
}

// Reading is one delivery on a watch channel: either a sample or an error.
type Reading struct {
	Sample Sample
	Err    error
}

// PositionOptions are passed through to the positioning capability.
type PositionOptions struct {
	HighAccuracy bool
	// Timeout bounds a single underlying request. Zero means no limit.
	Timeout time.Duration
	// MaxAge is the oldest cached reading the capability may return.
	// Zero requires a fresh reading.
	MaxAge time.Duration
}
