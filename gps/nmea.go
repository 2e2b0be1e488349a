// Package gps feeds NMEA 0183 receivers into the location acquirer.
package gps

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/adrianmo/go-nmea"
	"github.com/apex/log"

	"olhovivo/geolocation"
)

// DefaultUERE is the user equivalent range error, in meters, used to turn
// HDOP into an accuracy estimate when the receiver sends no GST.
const DefaultUERE = 5.0

// gstMaxAge bounds how long a GST error estimate is applied to later fixes.
const gstMaxAge = 3 * time.Second

// Opener opens the byte stream carrying NMEA sentences.
type Opener func() (io.ReadCloser, error)

// NMEAPositioner turns GGA fixes into samples. Accuracy comes from the
// latest GST sentence when the receiver sends one.
type NMEAPositioner struct {
	open Opener
	UERE float64
	now  func() time.Time
}

func NewNMEAPositioner(open Opener) *NMEAPositioner {
	return &NMEAPositioner{open: open, UERE: DefaultUERE, now: time.Now}
}

// NewSerialPositioner reads from a serial receiver. A zero baud rate is
// detected on first use.
func NewSerialPositioner(path string, baud int) *NMEAPositioner {
	var mu sync.Mutex
	return NewNMEAPositioner(func() (io.ReadCloser, error) {
		mu.Lock()
		defer mu.Unlock()
		if baud == 0 {
			detected, err := DetectBaud(path)
			if err != nil {
				return nil, err
			}
			baud = detected
		}
		return OpenSerial(path, baud)
	})
}

// SecureContext is always true for a locally attached receiver.
func (p *NMEAPositioner) SecureContext() bool { return true }

func (p *NMEAPositioner) WatchPosition(ctx context.Context, _ geolocation.PositionOptions) (<-chan geolocation.Reading, error) {
	rc, err := p.open()
	if err != nil {
		return nil, fmt.Errorf("open receiver: %w", err)
	}

	out := make(chan geolocation.Reading)
	stopped := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-stopped:
		}
		rc.Close()
	}()

	go func() {
		defer close(out)
		defer close(stopped)
		err := p.scan(ctx, rc, out)
		if err == nil || ctx.Err() != nil {
			return
		}
		select {
		case out <- geolocation.Reading{Err: &geolocation.PositionError{
			Code:    geolocation.CodePositionUnavailable,
			Message: err.Error(),
		}}:
		case <-ctx.Done():
		}
	}()
	return out, nil
}

type gstEstimate struct {
	meters float64
	at     time.Time
}

func (p *NMEAPositioner) scan(ctx context.Context, r io.Reader, out chan<- geolocation.Reading) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 4096), 16384)

	var gst gstEstimate
	var lastEpoch nmea.Time
	for scanner.Scan() {
		s, err := nmea.Parse(scanner.Text())
		if err != nil {
			continue
		}

		var sample geolocation.Sample
		switch m := s.(type) {
		case nmea.GST:
			if m.StdDevLat > 0 || m.StdDevLong > 0 {
				gst = gstEstimate{meters: math.Hypot(m.StdDevLat, m.StdDevLong), at: p.now()}
			}
			continue
		case nmea.GGA:
			if m.FixQuality == nmea.Invalid || (m.Latitude == 0 && m.Longitude == 0) {
				continue
			}
			if m.Time.Valid && m.Time == lastEpoch {
				continue
			}
			lastEpoch = m.Time
			sample = geolocation.Sample{
				Latitude:  m.Latitude,
				Longitude: m.Longitude,
				Accuracy:  p.accuracy(m.HDOP, gst),
				Timestamp: p.now(),
			}
		default:
			continue
		}

		select {
		case out <- geolocation.Reading{Sample: sample}:
		case <-ctx.Done():
			return nil
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	log.Infof("NMEA stream ended")
	return nil
}

func (p *NMEAPositioner) accuracy(hdop float64, gst gstEstimate) float64 {
	if gst.meters > 0 && p.now().Sub(gst.at) <= gstMaxAge {
		return gst.meters
	}
	if hdop <= 0 {
		// no error estimate at all, treat as unusable
		return math.MaxFloat64
	}
	return hdop * p.UERE
}
