package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/fabric/pkg/errdefs"
)

func fastPolicy() Policy {
	return Policy{
		Initial:     5 * time.Millisecond,
		Multiplier:  1.5,
		MaxInterval: 50 * time.Millisecond,
		MaxElapsed:  300 * time.Millisecond,
	}
}

func TestDoSucceedsFirstTry(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesThenSucceeds(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), func() error {
		calls++
		if calls < 4 {
			return errors.New("flaky")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 4, calls)
}

func TestDoExhaustsBudget(t *testing.T) {
	boom := errors.New("down")
	start := time.Now()
	err := fastPolicy().Do(context.Background(), func() error { return boom })
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	// Budget is 300ms; allow scheduler slack but reject unbounded retries.
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDoObservesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	p := Policy{Initial: 10 * time.Second, Multiplier: 2}
	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, func() error { return errors.New("never") })
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.True(t, errdefs.IsCancelled(err))
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not observe cancellation")
	}
}

func TestDoCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := fastPolicy().Do(ctx, func() error {
		calls++
		return nil
	})
	assert.True(t, errdefs.IsCancelled(err))
	assert.Equal(t, 0, calls)
}
