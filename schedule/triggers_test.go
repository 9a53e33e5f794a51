package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCronTriggerNext(t *testing.T) {
	trigger, err := ParseTrigger(TriggerCron, map[string]any{
		"minute": "30", "hour": "8",
	}, time.UTC)
	require.NoError(t, err)

	after := time.Date(2026, 8, 25, 7, 0, 0, 0, time.UTC)
	next, ok := trigger.Next(after)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 8, 25, 8, 30, 0, 0, time.UTC), next)

	// Past today's fire, the next day is chosen.
	next, ok = trigger.Next(next)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 8, 26, 8, 30, 0, 0, time.UTC), next)
}

func TestCronTriggerWithSeconds(t *testing.T) {
	trigger, err := ParseTrigger(TriggerCron, map[string]any{
		"second": "15", "minute": "0", "hour": "12",
	}, time.UTC)
	require.NoError(t, err)

	next, ok := trigger.Next(time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC))
	require.True(t, ok)
	assert.Equal(t, 15, next.Second())
}

func TestIntervalTriggerNext(t *testing.T) {
	trigger, err := ParseTrigger(TriggerInterval, map[string]any{
		"minutes": float64(5),
	}, time.UTC)
	require.NoError(t, err)

	after := time.Date(2026, 8, 25, 7, 0, 0, 0, time.UTC)
	next, ok := trigger.Next(after)
	require.True(t, ok)
	assert.Equal(t, after.Add(5*time.Minute), next)
}

func TestIntervalTriggerRequiresPeriod(t *testing.T) {
	_, err := ParseTrigger(TriggerInterval, map[string]any{}, time.UTC)
	require.Error(t, err)
}

func TestDateTriggerFiresOnce(t *testing.T) {
	at := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	trigger, err := ParseTrigger(TriggerDate, map[string]any{
		"run_date": at.Format(time.RFC3339),
	}, time.UTC)
	require.NoError(t, err)

	next, ok := trigger.Next(at.Add(-time.Hour))
	require.True(t, ok)
	assert.Equal(t, at, next)

	_, ok = trigger.Next(at)
	assert.False(t, ok)
}

func TestTriggerEndDate(t *testing.T) {
	trigger, err := ParseTrigger(TriggerInterval, map[string]any{
		"hours":    float64(1),
		"end_date": "2026-08-25 12:00:00",
	}, time.UTC)
	require.NoError(t, err)

	_, ok := trigger.Next(time.Date(2026, 8, 25, 11, 30, 0, 0, time.UTC))
	assert.False(t, ok)
}

func TestTriggerTimezone(t *testing.T) {
	trigger, err := ParseTrigger(TriggerCron, map[string]any{
		"minute": "0", "hour": "8", "timezone": "Asia/Shanghai",
	}, time.UTC)
	require.NoError(t, err)

	next, ok := trigger.Next(time.Date(2026, 8, 24, 20, 0, 0, 0, time.UTC))
	require.True(t, ok)
	// 08:00 in Shanghai is 00:00 UTC.
	assert.Equal(t, time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC), next.UTC())
}

func TestExecutionOptionsValidate(t *testing.T) {
	spread := 2.0
	assert.NoError(t, (*ExecutionOptions)(nil).Validate())
	assert.NoError(t, (&ExecutionOptions{Interval: 3}).Validate())
	assert.NoError(t, (&ExecutionOptions{Spread: &spread}).Validate())
	assert.Error(t, (&ExecutionOptions{Interval: 3, Spread: &spread}).Validate())
	assert.Error(t, (&ExecutionOptions{ConcurrencyPolicy: "SOMETIMES"}).Validate())
	assert.Error(t, (&ExecutionOptions{Retries: -1}).Validate())
}
