package geolocation

import (
	"fmt"
	"math"
	"time"
)

// Status is the lifecycle position of an acquisition run.
type Status int

const (
	StatusIdle Status = iota
	StatusWarming
	StatusSampling
	StatusAccepted
	StatusFailed
)

var statusNames = [...]string{"idle", "warming-up", "sampling", "accepted", "failed"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", int(s))
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusAccepted || s == StatusFailed
}

// Progress is emitted for every sample a run observes.
type Progress struct {
	RunID       uint64 `json:"runId"`
	SamplesSeen int    `json:"samplesSeen"`
	// BestAccuracy is nil until a post-warm-up sample has been observed.
	BestAccuracy *float64 `json:"bestAccuracy,omitempty"`
	Fix          *Fix     `json:"fix,omitempty"`
	Status       Status   `json:"status"`
	Message      string   `json:"message"`
}

// Outcome is the terminal result of a run.
type Outcome struct {
	RunID        uint64
	Status       Status
	Fix          *Fix
	Err          error
	SamplesSeen  int
	BestAccuracy float64
}

// state is owned by exactly one run loop and never shared.
type state struct {
	cfg         Config
	samplesSeen int
	window      []Sample
	best        float64
	fix         *Fix
	status      Status
	softStarted bool
	softElapsed bool
	err         *AcquisitionError
}

// step tells the run loop what to do after a transition.
type step struct {
	progress  bool
	startSoft bool
	done      bool
}

func newState(cfg Config) *state {
	return &state{
		cfg:    cfg,
		window: make([]Sample, 0, cfg.WindowSize+1),
		best:   math.Inf(1),
	}
}

func (s *state) begin() {
	if s.cfg.WarmupSamples > 0 {
		s.status = StatusWarming
	} else {
		s.status = StatusSampling
	}
}

func (s *state) observe(sample Sample, now time.Time) step {
	if s.status.Terminal() {
		return step{}
	}
	if s.cfg.MaxSampleAge > 0 && !sample.Timestamp.IsZero() && now.Sub(sample.Timestamp) > s.cfg.MaxSampleAge {
		return step{}
	}

	s.samplesSeen++
	if s.samplesSeen <= s.cfg.WarmupSamples {
		s.status = StatusWarming
		return step{progress: true}
	}
	s.status = StatusSampling

	var st step
	if sample.Accuracy < s.cfg.AccuracyThreshold {
		s.window = append(s.window, sample)
		if len(s.window) > s.cfg.WindowSize {
			s.window = append(s.window[:0], s.window[1:]...)
		}
		if !s.softStarted {
			s.softStarted = true
			st.startSoft = true
		}
		if len(s.window) >= s.cfg.MinWindow {
			s.fix = meanFix(s.window)
		}
	}
	if sample.Accuracy < s.best {
		s.best = sample.Accuracy
	}

	st.progress = true
	if len(s.window) >= s.cfg.MinWindow && (sample.Accuracy < s.cfg.ExcellentAccuracy || s.softElapsed) {
		s.accept()
		st.done = true
	}
	return st
}

func (s *state) softExpired() step {
	if s.status.Terminal() {
		return step{}
	}
	s.softElapsed = true
	if s.best < s.cfg.AccuracyThreshold && len(s.window) >= s.cfg.MinWindow {
		s.accept()
		return step{done: true}
	}
	return step{}
}

func (s *state) hardExpired() step {
	if s.status.Terminal() {
		return step{}
	}
	s.status = StatusFailed
	if math.IsInf(s.best, 1) {
		s.err = &AcquisitionError{Reason: ReasonNoFix}
	} else {
		s.err = &AcquisitionError{Reason: ReasonAccuracyInsufficient, BestAccuracy: s.best}
	}
	return step{done: true}
}

func (s *state) capabilityFailed(err error) step {
	if s.status.Terminal() {
		return step{}
	}
	s.status = StatusFailed
	s.err = reasonFor(err)
	if !math.IsInf(s.best, 1) {
		s.err.BestAccuracy = s.best
	}
	s.fix = nil
	return step{done: true}
}

func (s *state) accept() {
	s.status = StatusAccepted
	s.fix = meanFix(s.window)
}

func (s *state) progress(runID uint64) Progress {
	p := Progress{
		RunID:       runID,
		SamplesSeen: s.samplesSeen,
		Status:      s.status,
	}
	if !math.IsInf(s.best, 1) {
		best := s.best
		p.BestAccuracy = &best
	}
	if s.fix != nil {
		fix := *s.fix
		p.Fix = &fix
	}

	switch {
	case s.status == StatusWarming:
		p.Message = fmt.Sprintf("warming up (%d/%d)", s.samplesSeen, s.cfg.WarmupSamples)
	case s.status == StatusAccepted:
		p.Message = fmt.Sprintf("location acquired (±%.0fm, %s)", s.fix.Accuracy, AccuracyLabel(s.fix.Accuracy))
	case p.BestAccuracy == nil:
		p.Message = "waiting for location"
	case s.best >= s.cfg.AccuracyThreshold:
		p.Message = fmt.Sprintf("improving accuracy (±%.0fm, need under %.0fm)", s.best, s.cfg.AccuracyThreshold)
	default:
		p.Message = fmt.Sprintf("best accuracy ±%.0fm (%s), %d/%d samples", s.best, AccuracyLabel(s.best), len(s.window), s.cfg.WindowSize)
	}
	return p
}

func (s *state) outcome(runID uint64) Outcome {
	o := Outcome{
		RunID:        runID,
		Status:       s.status,
		SamplesSeen:  s.samplesSeen,
		BestAccuracy: s.best,
	}
	if s.status == StatusAccepted && s.fix != nil {
		fix := *s.fix
		o.Fix = &fix
	}
	if s.err != nil {
		o.Err = s.err
	}
	return o
}
