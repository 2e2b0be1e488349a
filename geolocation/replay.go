package geolocation

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Recorded is one line of a replay file.
type Recorded struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"`
	// DelayMs is waited before the reading is delivered.
	DelayMs int            `json:"delayMs"`
	Error   *RecordedError `json:"error,omitempty"`
}

type RecordedError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ParseErrorCode maps the textual codes used on the wire and in replay
// files to an ErrorCode.
func ParseErrorCode(code string) ErrorCode {
	switch strings.ToLower(code) {
	case "permission-denied", "permission_denied", "1":
		return CodePermissionDenied
	case "position-unavailable", "position_unavailable", "2":
		return CodePositionUnavailable
	case "timeout", "3":
		return CodeTimeout
	default:
		return CodeOther
	}
}

// ReadRecording parses newline-delimited JSON readings. Blank lines and
// lines starting with '#' are skipped.
func ReadRecording(r io.Reader) ([]Recorded, error) {
	var out []Recorded
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var rec Recorded
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ReplayPositioner plays back a recording as a watch. Samples are stamped
// with the time they are delivered.
type ReplayPositioner struct {
	records []Recorded
	// Speed divides the recorded delays. Zero delivers without delay.
	Speed  float64
	Secure bool
	now    func() time.Time
}

func NewReplayPositioner(records []Recorded, speed float64) *ReplayPositioner {
	return &ReplayPositioner{records: records, Speed: speed, Secure: true, now: time.Now}
}

func (p *ReplayPositioner) SecureContext() bool { return p.Secure }

func (p *ReplayPositioner) WatchPosition(ctx context.Context, _ PositionOptions) (<-chan Reading, error) {
	if len(p.records) == 0 {
		return nil, fmt.Errorf("empty recording")
	}
	ch := make(chan Reading)
	go func() {
		defer close(ch)
		for _, rec := range p.records {
			if p.Speed > 0 && rec.DelayMs > 0 {
				wait := time.Duration(float64(rec.DelayMs)/p.Speed) * time.Millisecond
				t := time.NewTimer(wait)
				select {
				case <-ctx.Done():
					t.Stop()
					return
				case <-t.C:
				}
			}
			select {
			case ch <- p.reading(rec):
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (p *ReplayPositioner) reading(rec Recorded) Reading {
	if rec.Error != nil {
		return Reading{Err: &PositionError{Code: ParseErrorCode(rec.Error.Code), Message: rec.Error.Message}}
	}
	return Reading{Sample: Sample{
		Latitude:  rec.Latitude,
		Longitude: rec.Longitude,
		Accuracy:  rec.Accuracy,
		Timestamp: p.now(),
	}}
}
