package fsm

import (
	"context"
	"errors"

	"github.com/looplab/fsm"
)

// WrapEvent adapts an error-returning callback to fsm.Callback, recording the
// error on the event.
func WrapEvent(fn func(ctx context.Context, event *fsm.Event) error) fsm.Callback {
	return func(ctx context.Context, event *fsm.Event) {
		if err := fn(ctx, event); err != nil {
			event.Err = err
		}
	}
}

// IsInvalidTransition reports whether err rejects an event in the current state.
func IsInvalidTransition(err error) bool {
	var invalid fsm.InvalidEventError
	return errors.As(err, &invalid)
}

// IsNoTransition reports whether err means the event left the state unchanged.
func IsNoTransition(err error) bool {
	var none fsm.NoTransitionError
	return errors.As(err, &none)
}
