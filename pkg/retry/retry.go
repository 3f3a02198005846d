package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/fabric/pkg/errdefs"
	"github.com/cuemby/fabric/pkg/types"
)

// Policy describes an exponential backoff schedule
type Policy struct {
	// Initial is the delay before the first retry
	Initial time.Duration

	// Multiplier scales the delay after each retry
	Multiplier float64

	// MaxInterval caps the per-try delay. Zero means uncapped.
	MaxInterval time.Duration

	// MaxElapsed bounds the total time spent inside Do, attempts included.
	// Zero means retry forever (until ctx cancels).
	MaxElapsed time.Duration
}

// DefaultPolicy returns the config-push schedule: 500ms initial, 1.5x
// growth, 1 minute per-try cap, 15 minute total budget
func DefaultPolicy() Policy {
	return Policy{
		Initial:     types.DefaultConfigBackoffInitial,
		Multiplier:  types.DefaultConfigBackoffMultiplier,
		MaxInterval: 1 * time.Minute,
		MaxElapsed:  types.DefaultConfigBackoffMaxElapsed,
	}
}

// Do invokes op until it succeeds, the policy's elapsed budget runs out, or
// ctx is cancelled. Between attempts Do sleeps the current backoff delay but
// stays responsive to cancellation. On budget exhaustion the last error from
// op is returned wrapped; on cancellation the error satisfies
// errdefs.IsCancelled.
func (p Policy) Do(ctx context.Context, op func() error) error {
	start := time.Now()
	delay := p.Initial
	attempt := 0

	for {
		if err := errdefs.FromContext(ctx); err != nil {
			return err
		}

		attempt++
		err := op()
		if err == nil {
			return nil
		}

		if p.MaxElapsed > 0 && time.Since(start)+delay > p.MaxElapsed {
			return fmt.Errorf("giving up after %d attempts over %s: %w",
				attempt, time.Since(start).Truncate(time.Millisecond), err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errdefs.Cancelled(ctx.Err())
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * p.Multiplier)
		if p.MaxInterval > 0 && delay > p.MaxInterval {
			delay = p.MaxInterval
		}
	}
}
