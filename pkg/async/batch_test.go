package async

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMap_PreservesOrder(t *testing.T) {
	items := []int{5, 1, 4, 2, 3}

	results, errs := Map(context.Background(), items, 3, func(ctx context.Context, n int) (int, error) {
		time.Sleep(time.Duration(n) * time.Millisecond)
		return n * 10, nil
	})

	assert.Equal(t, []int{50, 10, 40, 20, 30}, results)
	for _, err := range errs {
		assert.NoError(t, err)
	}
}

func TestMap_BoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	items := make([]int, 20)

	Map(context.Background(), items, 4, func(ctx context.Context, _ int) (struct{}, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return struct{}{}, nil
	})

	assert.LessOrEqual(t, peak.Load(), int32(4))
	assert.Positive(t, peak.Load())
}

func TestMap_ErrorsAndPanics(t *testing.T) {
	boom := errors.New("boom")

	results, errs := Map(context.Background(), []string{"ok", "fail", "panic"}, 2, func(ctx context.Context, s string) (string, error) {
		switch s {
		case "fail":
			return "", boom
		case "panic":
			panic("kaboom")
		}
		return s, nil
	})

	require.Len(t, errs, 3)
	assert.NoError(t, errs[0])
	assert.Equal(t, "ok", results[0])
	assert.ErrorIs(t, errs[1], boom)
	assert.EqualError(t, errs[2], "panic: kaboom")
	assert.Empty(t, results[2])
}

func TestMap_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int32
	_, errs := Map(ctx, []int{1, 2, 3}, 2, func(ctx context.Context, n int) (int, error) {
		calls.Add(1)
		return n, nil
	})

	assert.Zero(t, calls.Load())
	for _, err := range errs {
		assert.ErrorIs(t, err, context.Canceled)
	}
}

func TestMap_ZeroWorkers(t *testing.T) {
	results, _ := Map(context.Background(), []int{1, 2}, 0, func(ctx context.Context, n int) (int, error) {
		return n + 1, nil
	})
	assert.Equal(t, []int{2, 3}, results)
}
