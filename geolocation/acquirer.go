package geolocation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/apex/log"
)

const progressBuffer = 16

// Acquirer drives a positioning capability until it yields a fix that is
// both accurate and stable, or until it gives up. At most one run is
// active per Acquirer; starting a new one cancels the previous.
type Acquirer struct {
	positioner Positioner
	clock      Clock
	observer   func(Outcome, time.Duration)

	startMu    sync.Mutex
	mu         sync.Mutex
	generation uint64
	active     *Subscription
}

// Option configures an Acquirer.
type Option func(*Acquirer)

// WithClock replaces the wall clock used for deadlines.
func WithClock(c Clock) Option {
	return func(a *Acquirer) { a.clock = c }
}

// WithObserver registers fn to be called once per finished run with its
// outcome and elapsed time. fn runs after the outcome has been delivered.
func WithObserver(fn func(Outcome, time.Duration)) Option {
	return func(a *Acquirer) { a.observer = fn }
}

// NewAcquirer returns an idle acquirer reading from p.
func NewAcquirer(p Positioner, opts ...Option) *Acquirer {
	a := &Acquirer{positioner: p, clock: realClock{}}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start begins a new run. The hard deadline starts counting immediately.
// Cancelling ctx cancels the run. The context handed to the positioner
// carries the run id, see RunID.
func (a *Acquirer) Start(ctx context.Context, cfg Config) (*Subscription, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid acquisition config: %w", err)
	}
	if a.positioner == nil {
		return nil, ErrCapabilityUnavailable
	}
	if cfg.RequireSecureContext {
		if sc, ok := a.positioner.(SecureContexter); ok && !sc.SecureContext() {
			return nil, ErrInsecureContext
		}
	}

	a.startMu.Lock()
	defer a.startMu.Unlock()

	a.mu.Lock()
	prev := a.active
	a.active = nil
	a.generation++
	id := a.generation
	a.mu.Unlock()
	if prev != nil {
		prev.Cancel()
	}

	runCtx, cancel := context.WithCancel(context.WithValue(ctx, runIDKey{}, id))
	readings, err := a.positioner.WatchPosition(runCtx, cfg.positionOptions())
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %v", ErrCapabilityUnavailable, err)
	}

	sub := &Subscription{
		id:           id,
		progress:     make(chan Progress, progressBuffer),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
		cancelSource: cancel,
	}
	st := newState(cfg)
	st.begin()
	hard := a.clock.NewTimer(cfg.HardDeadline)

	a.mu.Lock()
	a.active = sub
	a.mu.Unlock()

	go a.run(runCtx, sub, st, readings, hard)
	return sub, nil
}

// Cancel stops sub, or the active run when sub is nil.
func (a *Acquirer) Cancel(sub *Subscription) {
	if sub == nil {
		sub = a.Active()
	}
	if sub != nil {
		sub.Cancel()
	}
}

// Active returns the current run, if any.
func (a *Acquirer) Active() *Subscription {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

func (a *Acquirer) release(sub *Subscription) {
	a.mu.Lock()
	if a.active == sub {
		a.active = nil
	}
	a.mu.Unlock()
}

func (a *Acquirer) run(ctx context.Context, sub *Subscription, st *state, readings <-chan Reading, hard Timer) {
	started := a.clock.Now()
	var soft Timer
	var softC <-chan time.Time
	canceled := false

	for done := false; !done; {
		select {
		case <-sub.stop:
			canceled = true
			done = true
			continue
		default:
		}

		select {
		case <-sub.stop:
			canceled, done = true, true
		case <-ctx.Done():
			canceled, done = true, true
		case r, ok := <-readings:
			if !ok {
				// The capability has gone quiet; the deadlines decide.
				readings = nil
				continue
			}
			if r.Err != nil {
				log.WithField("run", sub.id).Warnf("positioning capability failed: %v", r.Err)
				done = st.capabilityFailed(r.Err).done
				continue
			}
			s := st.observe(r.Sample, a.clock.Now())
			if s.startSoft {
				soft = a.clock.NewTimer(st.cfg.SoftAcceptDeadline)
				softC = soft.C()
			}
			if s.progress {
				sub.emit(st.progress(sub.id))
			}
			done = s.done
		case <-softC:
			softC = nil
			done = st.softExpired().done
		case <-hard.C():
			done = st.hardExpired().done
		}
	}

	hard.Stop()
	if soft != nil {
		soft.Stop()
	}
	sub.cancelSource()

	var outcome Outcome
	if canceled {
		outcome = Outcome{
			RunID:        sub.id,
			Status:       st.status,
			Err:          &AcquisitionError{Reason: ReasonCanceled},
			SamplesSeen:  st.samplesSeen,
			BestAccuracy: st.best,
		}
		sub.drain()
	} else {
		outcome = st.outcome(sub.id)
	}

	elapsed := a.clock.Now().Sub(started)
	entry := log.WithFields(log.Fields{
		"run":     sub.id,
		"status":  outcome.Status.String(),
		"samples": outcome.SamplesSeen,
		"elapsed": elapsed.String(),
	})
	if outcome.Err != nil {
		entry.Infof("acquisition ended: %v", outcome.Err)
	} else {
		entry.Infof("acquisition accepted at ±%.1fm", outcome.Fix.Accuracy)
	}

	a.release(sub)
	sub.finish(outcome)

	if a.observer != nil {
		a.observer(outcome, elapsed)
	}
}

// Subscription is the handle of one run.
type Subscription struct {
	id           uint64
	progress     chan Progress
	stop         chan struct{}
	stopOnce     sync.Once
	done         chan struct{}
	outcome      Outcome
	cancelSource context.CancelFunc
}

// ID is the run id, also found in every Progress and the Outcome.
func (s *Subscription) ID() uint64 { return s.id }

// Progress delivers one event per observed sample. When the consumer falls
// behind, the oldest undelivered event is dropped. The channel is closed
// when the run ends.
func (s *Subscription) Progress() <-chan Progress { return s.progress }

// Done is closed once the outcome is available.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Outcome returns the terminal result and whether the run has ended.
func (s *Subscription) Outcome() (Outcome, bool) {
	select {
	case <-s.done:
		return s.outcome, true
	default:
		return Outcome{}, false
	}
}

// Wait blocks until the run ends or ctx is done. The returned error is the
// run's failure, if any.
func (s *Subscription) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-s.done:
		return s.outcome, s.outcome.Err
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Cancel ends the run and waits for it to stop. Once Cancel returns no
// further progress is delivered. Calling it again is a no-op.
func (s *Subscription) Cancel() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

func (s *Subscription) emit(p Progress) {
	select {
	case s.progress <- p:
		return
	default:
	}
	select {
	case <-s.progress:
	default:
	}
	select {
	case s.progress <- p:
	default:
	}
}

func (s *Subscription) drain() {
	for {
		select {
		case <-s.progress:
		default:
			return
		}
	}
}

func (s *Subscription) finish(o Outcome) {
	s.outcome = o
	close(s.progress)
	close(s.done)
}
