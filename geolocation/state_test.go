package geolocation

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"
)

func feed(s *state, accuracies ...float64) step {
	var last step
	for _, a := range accuracies {
		last = s.observe(acc(a).Sample, time.Time{})
	}
	return last
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestWarmupThenExcellentAccept(t *testing.T) {
	s := newState(DefaultConfig())
	s.begin()

	readings := []Reading{
		at(-16.40, -54.60, 500),
		at(-16.40, -54.60, 500),
		at(-16.40, -54.60, 500),
		at(-16.4670, -54.6360, 80),
		at(-16.4672, -54.6362, 60),
		at(-16.4674, -54.6364, 70),
		at(-16.4676, -54.6366, 15),
	}
	var st step
	for i, r := range readings {
		st = s.observe(r.Sample, time.Time{})
		if i < 3 && s.status != StatusWarming {
			t.Errorf("sample %d: expected warming, got %s", i+1, s.status)
		}
		if i < 3 && !math.IsInf(s.best, 1) {
			t.Errorf("sample %d: warm-up sample changed best accuracy to %v", i+1, s.best)
		}
		if i < 6 && st.done {
			t.Fatalf("sample %d: accepted too early", i+1)
		}
	}

	if !st.done || s.status != StatusAccepted {
		t.Fatalf("expected accepted on sample 7, got %s", s.status)
	}
	if s.fix.Samples != 4 {
		t.Errorf("expected fix over 4 samples, got %d", s.fix.Samples)
	}
	if !almostEqual(s.fix.Accuracy, (80+60+70+15)/4.0) {
		t.Errorf("expected mean accuracy 56.25, got %v", s.fix.Accuracy)
	}
	if !almostEqual(s.fix.Latitude, (-16.4670-16.4672-16.4674-16.4676)/4) {
		t.Errorf("unexpected mean latitude %v", s.fix.Latitude)
	}
	if !almostEqual(s.fix.Longitude, (-54.6360-54.6362-54.6364-54.6366)/4) {
		t.Errorf("unexpected mean longitude %v", s.fix.Longitude)
	}
	if s.fix.Spread <= 0 {
		t.Errorf("expected a positive spread, got %v", s.fix.Spread)
	}
}

func TestHardDeadlineReasons(t *testing.T) {
	testCases := []struct {
		name       string
		warmup     int
		accuracies []float64
		reason     Reason
	}{
		{
			name:   "no samples",
			reason: ReasonNoFix,
		},
		{
			name:       "only warm-up samples",
			warmup:     3,
			accuracies: []float64{10, 10},
			reason:     ReasonNoFix,
		},
		{
			name:       "nothing under threshold",
			accuracies: []float64{150, 120, 100, 300},
			reason:     ReasonAccuracyInsufficient,
		},
		{
			name:       "passing samples but window never filled",
			accuracies: []float64{150, 40, 130},
			reason:     ReasonAccuracyInsufficient,
		},
	}

	for _, testCase := range testCases {
		cfg := DefaultConfig()
		cfg.WarmupSamples = testCase.warmup
		s := newState(cfg)
		s.begin()
		feed(s, testCase.accuracies...)

		if st := s.hardExpired(); !st.done {
			t.Errorf("%s: expected hard deadline to finish the run", testCase.name)
		}
		o := s.outcome(1)
		if o.Status != StatusFailed {
			t.Errorf("%s: expected failed, got %s", testCase.name, o.Status)
		}
		if o.Fix != nil {
			t.Errorf("%s: expected no fix, got %+v", testCase.name, o.Fix)
		}
		var aerr *AcquisitionError
		if !errors.As(o.Err, &aerr) || aerr.Reason != testCase.reason {
			t.Errorf("%s: expected reason %s, got %v", testCase.name, testCase.reason, o.Err)
		}
	}
}

func TestWindowEvictsOldest(t *testing.T) {
	s := newState(testConfig())
	s.begin()
	feed(s, 90, 80, 70, 60, 50, 40, 30)

	if len(s.window) != 5 {
		t.Fatalf("expected 5 retained samples, got %d", len(s.window))
	}
	if s.window[0].Accuracy != 70 {
		t.Errorf("expected oldest retained accuracy 70, got %v", s.window[0].Accuracy)
	}
	if !almostEqual(s.fix.Accuracy, 50) {
		t.Errorf("expected mean of last five (50), got %v", s.fix.Accuracy)
	}
	if s.best != 30 {
		t.Errorf("expected best 30, got %v", s.best)
	}
}

func TestSoftDeadline(t *testing.T) {
	testCases := []struct {
		name       string
		before     []float64
		acceptsNow bool
		after      []float64
		acceptsOn  int
	}{
		{
			name:       "window full enough",
			before:     []float64{50, 45, 55},
			acceptsNow: true,
		},
		{
			name:      "window too small, next passing sample accepts",
			before:    []float64{50, 45},
			after:     []float64{200, 60},
			acceptsOn: 2,
		},
		{
			name:      "nothing passing after expiry keeps sampling",
			before:    []float64{50},
			after:     []float64{200, 300},
			acceptsOn: 0,
		},
	}

	for _, testCase := range testCases {
		s := newState(testConfig())
		s.begin()
		if st := feed(s, testCase.before...); st.done {
			t.Fatalf("%s: accepted before the soft deadline", testCase.name)
		}
		st := s.softExpired()
		if st.done != testCase.acceptsNow {
			t.Errorf("%s: soft expiry done=%v, expected %v", testCase.name, st.done, testCase.acceptsNow)
		}
		for i, a := range testCase.after {
			st := s.observe(acc(a).Sample, time.Time{})
			if st.done != (i+1 == testCase.acceptsOn) {
				t.Errorf("%s: sample %d done=%v", testCase.name, i+1, st.done)
			}
		}
		if testCase.acceptsNow || testCase.acceptsOn > 0 {
			if s.status != StatusAccepted {
				t.Errorf("%s: expected accepted, got %s", testCase.name, s.status)
			}
			if s.fix == nil || s.fix.Samples < s.cfg.MinWindow {
				t.Errorf("%s: accepted fix must average at least %d samples: %+v", testCase.name, s.cfg.MinWindow, s.fix)
			}
		} else if s.status != StatusSampling {
			t.Errorf("%s: expected still sampling, got %s", testCase.name, s.status)
		}
	}
}

func TestSoftTimerStartsOnFirstPassingSample(t *testing.T) {
	s := newState(testConfig())
	s.begin()

	if st := feed(s, 300); st.startSoft {
		t.Errorf("failing sample must not start the soft timer")
	}
	if st := feed(s, 90); !st.startSoft {
		t.Errorf("first passing sample must start the soft timer")
	}
	if st := feed(s, 80); st.startSoft {
		t.Errorf("soft timer must start only once")
	}
}

func TestCapabilityFailure(t *testing.T) {
	testCases := []struct {
		err    error
		reason Reason
	}{
		{&PositionError{Code: CodePermissionDenied}, ReasonPermissionDenied},
		{&PositionError{Code: CodePositionUnavailable}, ReasonPositionUnavailable},
		{&PositionError{Code: CodeTimeout}, ReasonTimeout},
		{&PositionError{Code: CodeOther, Message: "kaput"}, ReasonCapabilityError},
		{errors.New("serial port closed"), ReasonCapabilityError},
	}

	for _, testCase := range testCases {
		s := newState(testConfig())
		s.begin()
		feed(s, 50, 40, 30)
		if st := s.capabilityFailed(testCase.err); !st.done {
			t.Errorf("%v: expected terminal", testCase.err)
		}
		o := s.outcome(1)
		var aerr *AcquisitionError
		if !errors.As(o.Err, &aerr) || aerr.Reason != testCase.reason {
			t.Errorf("%v: expected %s, got %v", testCase.err, testCase.reason, o.Err)
		}
		if o.Fix != nil {
			t.Errorf("%v: failed run must not carry a fix", testCase.err)
		}
		if aerr != nil && aerr.UserMessage() == "" {
			t.Errorf("%v: empty user message", testCase.err)
		}
	}
}

func TestTerminalStatusIsFinal(t *testing.T) {
	s := newState(testConfig())
	s.begin()
	feed(s, 50, 40, 10)
	if s.status != StatusAccepted {
		t.Fatalf("expected accepted, got %s", s.status)
	}
	fix := *s.fix

	if st := s.observe(acc(5).Sample, time.Time{}); st != (step{}) {
		t.Errorf("observe after accept returned %+v", st)
	}
	if st := s.hardExpired(); st.done {
		t.Errorf("hard deadline after accept must be a no-op")
	}
	if st := s.capabilityFailed(&PositionError{Code: CodeTimeout}); st.done {
		t.Errorf("capability error after accept must be a no-op")
	}
	if s.status != StatusAccepted || *s.fix != fix || s.samplesSeen != 3 {
		t.Errorf("terminal state changed: %s %+v %d", s.status, s.fix, s.samplesSeen)
	}
}

func TestFixIsAlwaysMeanOfWindow(t *testing.T) {
	cfg := testConfig()
	cfg.ExcellentAccuracy = 1
	rng := rand.New(rand.NewSource(7))

	s := newState(cfg)
	s.begin()
	for i := 0; i < 200 && !s.status.Terminal(); i++ {
		r := at(-16.46+rng.Float64()/100, -54.63+rng.Float64()/100, 1+rng.Float64()*200)
		s.observe(r.Sample, time.Time{})

		for _, w := range s.window {
			if w.Accuracy >= cfg.AccuracyThreshold {
				t.Fatalf("window holds a sample at %v", w.Accuracy)
			}
		}
		if len(s.window) > cfg.WindowSize {
			t.Fatalf("window grew to %d", len(s.window))
		}
		if len(s.window) >= cfg.MinWindow {
			want := meanFix(s.window)
			if s.fix == nil || !almostEqual(s.fix.Latitude, want.Latitude) ||
				!almostEqual(s.fix.Longitude, want.Longitude) || !almostEqual(s.fix.Accuracy, want.Accuracy) {
				t.Fatalf("sample %d: fix %+v is not the window mean %+v", i, s.fix, want)
			}
		}
	}
}

func TestStaleSamplesIgnored(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSampleAge = 5 * time.Second
	s := newState(cfg)
	s.begin()

	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	old := Sample{Latitude: 1, Longitude: 1, Accuracy: 10, Timestamp: now.Add(-time.Minute)}
	if st := s.observe(old, now); st.progress {
		t.Errorf("stale sample produced progress")
	}
	if s.samplesSeen != 0 {
		t.Errorf("stale sample counted")
	}

	fresh := old
	fresh.Timestamp = now.Add(-time.Second)
	s.observe(fresh, now)
	if s.samplesSeen != 1 {
		t.Errorf("fresh sample not counted")
	}
}

func TestProgressMessages(t *testing.T) {
	cfg := DefaultConfig()
	s := newState(cfg)
	s.begin()

	feed(s, 500)
	p := s.progress(3)
	if p.Message != "warming up (1/3)" || p.BestAccuracy != nil || p.RunID != 3 {
		t.Errorf("unexpected warm-up progress %+v", p)
	}

	feed(s, 500, 500, 150)
	p = s.progress(3)
	if p.BestAccuracy == nil || *p.BestAccuracy != 150 || p.Fix != nil {
		t.Errorf("unexpected progress %+v", p)
	}
}
