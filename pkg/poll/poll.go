// Package poll provides the one retry-with-fixed-backoff helper shared by
// every polling site in the system: the client waiting for the project to
// start or for global parameters, the server waiting for the compensator's
// contribution, and the compensator retrying its forward to the server.
package poll

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
)

// ErrTimeout is returned when the condition does not hold within the
// configured timeout.
var ErrTimeout = errors.New("polling timed out")

// Condition is evaluated once per period. Returning done, or a non-nil
// error, stops polling. Returning (false, nil) means "not yet, keep going";
// transient failures are the condition's to swallow and log.
type Condition func(ctx context.Context) (done bool, err error)

// Until evaluates cond immediately and then once per period until it reports
// done or fails, the timeout elapses, or the context is cancelled. A timeout
// of zero polls forever.
func Until(ctx context.Context, clock clockwork.Clock, period, timeout time.Duration, cond Condition) error {
	var deadline <-chan time.Time
	if timeout > 0 {
		deadline = clock.After(timeout)
	}

	for {
		done, err := cond(ctx)
		if done || err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return ErrTimeout
		case <-clock.After(period):
		}
	}
}
