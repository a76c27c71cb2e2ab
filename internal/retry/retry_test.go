package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

// recordSleep returns a Sleep func that records delays without waiting.
func recordSleep(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return ctx.Err()
	}
}

func TestDo_SucceedsAfterTwoFailures(t *testing.T) {
	var delays []time.Duration
	calls := 0
	v, ok := Do(context.Background(), Policy{Sleep: recordSleep(&delays)}, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errBoom
		}
		return "done", nil
	})

	assert.True(t, ok)
	assert.Equal(t, "done", v)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, delays)
}

func TestDo_ExhaustsAfterMaxAttempts(t *testing.T) {
	var delays []time.Duration
	calls := 0
	v, ok := Do(context.Background(), Policy{MaxAttempts: 5, Sleep: recordSleep(&delays)}, func(context.Context) (int, error) {
		calls++
		return 42, errBoom
	})

	assert.False(t, ok)
	assert.Equal(t, 0, v, "exhaustion returns the zero value")
	assert.Equal(t, 5, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}, delays)
}

func TestDo_ExhaustsEarlyOnMaxTimeout(t *testing.T) {
	var delays []time.Duration
	calls := 0
	_, ok := Do(context.Background(), Policy{
		MaxAttempts: 10,
		MaxTimeout:  5 * time.Second,
		Sleep:       recordSleep(&delays),
	}, func(context.Context) (struct{}, error) {
		calls++
		return struct{}{}, errBoom
	})

	// 1s + 2s = 3s, next delay 4s brings the total to 7s >= 5s.
	assert.False(t, ok)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, delays)
}

func TestDo_FirstAttemptSuccessDoesNotSleep(t *testing.T) {
	var delays []time.Duration
	v, ok := Do(context.Background(), Policy{Sleep: recordSleep(&delays)}, func(context.Context) (int, error) {
		return 7, nil
	})
	assert.True(t, ok)
	assert.Equal(t, 7, v)
	assert.Empty(t, delays)
}

func TestDo_SingleAttempt(t *testing.T) {
	calls := 0
	_, ok := Do(context.Background(), Policy{MaxAttempts: 1}, func(context.Context) (int, error) {
		calls++
		return 0, errBoom
	})
	assert.False(t, ok)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelledDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	start := time.Now()
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, ok := Do(ctx, Policy{BaseDelay: time.Hour, MaxTimeout: 10 * time.Hour}, func(context.Context) (int, error) {
		calls++
		return 0, errBoom
	})

	assert.False(t, ok)
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestDo_OnRetry(t *testing.T) {
	type seen struct {
		attempt int
		delay   time.Duration
	}
	var got []seen
	var delays []time.Duration
	_, _ = Do(context.Background(), Policy{
		MaxAttempts: 3,
		Sleep:       recordSleep(&delays),
		OnRetry: func(attempt int, delay time.Duration, err error) {
			assert.ErrorIs(t, err, errBoom)
			got = append(got, seen{attempt, delay})
		},
	}, func(context.Context) (int, error) {
		return 0, errBoom
	})

	assert.Equal(t, []seen{{1, time.Second}, {2, 2 * time.Second}}, got)
}

func TestDo_RealSleepUsesBaseDelay(t *testing.T) {
	calls := 0
	_, ok := Do(context.Background(), Policy{BaseDelay: time.Millisecond}, func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errBoom
		}
		return 1, nil
	})
	assert.True(t, ok)
	assert.Equal(t, 3, calls)
}

func TestSchedule(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
		want   []time.Duration
	}{
		{"defaults", Policy{}, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}},
		{"capped by timeout", Policy{MaxAttempts: 10, MaxTimeout: 10 * time.Second}, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}},
		{"one attempt", Policy{MaxAttempts: 1}, nil},
		{"custom base", Policy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond}, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Schedule(tt.policy))
		})
	}
}

func TestSleep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Sleep(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackoff_Saturates(t *testing.T) {
	assert.Equal(t, time.Second, backoff(time.Second, 1))
	assert.Equal(t, 8*time.Second, backoff(time.Second, 4))
	assert.Equal(t, maxDelay, backoff(time.Second, 40))
	assert.Equal(t, maxDelay, backoff(time.Second, 100))
	assert.Equal(t, maxDelay, backoff(time.Second, 1000))
}

func TestDo_LargeLimitsNeverSleepNonPositive(t *testing.T) {
	var delays []time.Duration
	calls := 0
	_, ok := Do(context.Background(), Policy{
		MaxAttempts: 1000,
		MaxTimeout:  maxDelay,
		BaseDelay:   time.Second,
		Sleep:       recordSleep(&delays),
	}, func(context.Context) (int, error) {
		calls++
		return 0, errBoom
	})

	assert.False(t, ok)
	assert.Less(t, calls, 1000, "summed delays must exhaust the run before max attempts")
	require.NotEmpty(t, delays)
	for i, d := range delays {
		assert.Positive(t, d, "delay %d", i)
		if i > 0 {
			assert.Greater(t, d, delays[i-1], "delay %d", i)
		}
	}
	assert.Equal(t, delays, Schedule(Policy{MaxAttempts: 1000, MaxTimeout: maxDelay, BaseDelay: time.Second}))
}
