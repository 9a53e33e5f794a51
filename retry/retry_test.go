package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhenxun-org/zhenxun-core/errors"
)

var errBoom = errors.New("boom")

func fastCfg() Config {
	return Config{MaxAttempts: 3, Delay: time.Millisecond}
}

func TestDoSucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastCfg(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errBoom
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	var failed error
	cfg := fastCfg()
	cfg.OnFailure = func(err error) { failed = err }

	err := Do(context.Background(), cfg, func(context.Context) error {
		calls++
		return errBoom
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, errBoom)
	assert.ErrorIs(t, failed, errBoom)
}

func TestDoRetryOnFiltersErrors(t *testing.T) {
	calls := 0
	cfg := fastCfg()
	cfg.RetryOn = []error{errors.ErrTimeout}

	err := Do(context.Background(), cfg, func(context.Context) error {
		calls++
		return errBoom
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "non-matching error must not be retried")

	calls = 0
	err = Do(context.Background(), cfg, func(context.Context) error {
		calls++
		return errors.Wrap(errors.ErrTimeout, "db")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoValueRetryOnResult(t *testing.T) {
	calls := 0
	cfg := ValueConfig[int]{
		Config:        fastCfg(),
		RetryOnResult: func(v int) bool { return v < 0 },
	}

	got, err := DoValue(context.Background(), cfg, func(context.Context) (int, error) {
		calls++
		if calls < 2 {
			return -1, nil
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 2, calls)
}

func TestDoValueReturnOnFailure(t *testing.T) {
	fallback := 7
	var succeeded bool
	cfg := ValueConfig[int]{
		Config:          fastCfg(),
		OnSuccess:       func(int) { succeeded = true },
		ReturnOnFailure: &fallback,
	}

	got, err := DoValue(context.Background(), cfg, func(context.Context) (int, error) {
		return 0, errBoom
	})
	require.NoError(t, err, "final error is swallowed when a fallback is set")
	assert.Equal(t, 7, got)
	assert.False(t, succeeded, "OnSuccess must not fire on the fallback path")
}

func TestDoValueOnSuccess(t *testing.T) {
	var got int
	cfg := ValueConfig[int]{
		Config:    fastCfg(),
		OnSuccess: func(v int) { got = v },
	}

	_, err := DoValue(context.Background(), cfg, func(context.Context) (int, error) {
		return 9, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 9, got)
}

func TestExponentialDelayForAttempt(t *testing.T) {
	cfg := Config{Strategy: Exponential, Delay: time.Second, MaxDelay: 5 * time.Second}.withDefaults()

	assert.Equal(t, 1*time.Second, cfg.delayForAttempt(0))
	assert.Equal(t, 2*time.Second, cfg.delayForAttempt(1))
	assert.Equal(t, 4*time.Second, cfg.delayForAttempt(2))
	assert.Equal(t, 5*time.Second, cfg.delayForAttempt(3), "capped at MaxDelay")
}
