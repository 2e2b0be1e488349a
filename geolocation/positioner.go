package geolocation

import (
	"context"
	"fmt"
)

// Positioner is a platform positioning capability that can watch
// continuously. The returned channel is closed when ctx is done or the
// capability has nothing more to deliver.
type Positioner interface {
	WatchPosition(ctx context.Context, opts PositionOptions) (<-chan Reading, error)
}

// OneShotPositioner can answer a single request without a watch.
type OneShotPositioner interface {
	CurrentPosition(ctx context.Context, opts PositionOptions) (Sample, error)
}

type runIDKey struct{}

// RunID returns the id of the acquisition run that opened the watch ctx
// belongs to, or 0 outside a run.
func RunID(ctx context.Context) uint64 {
	id, _ := ctx.Value(runIDKey{}).(uint64)
	return id
}

// SecureContexter is implemented by capabilities that know whether they
// run in a secure context.
type SecureContexter interface {
	SecureContext() bool
}

// CurrentPosition requests a single reading from p.
func CurrentPosition(ctx context.Context, p Positioner, opts PositionOptions) (Sample, error) {
	if p == nil {
		return Sample{}, ErrCapabilityUnavailable
	}
	if one, ok := p.(OneShotPositioner); ok {
		return one.CurrentPosition(ctx, opts)
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	readings, err := p.WatchPosition(ctx, opts)
	if err != nil {
		return Sample{}, fmt.Errorf("%w: %v", ErrCapabilityUnavailable, err)
	}
	select {
	case r, ok := <-readings:
		if !ok {
			return Sample{}, &PositionError{Code: CodePositionUnavailable, Message: "no reading delivered"}
		}
		return r.Sample, r.Err
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return Sample{}, &PositionError{Code: CodeTimeout, Message: ctx.Err().Error()}
		}
		return Sample{}, ctx.Err()
	}
}
