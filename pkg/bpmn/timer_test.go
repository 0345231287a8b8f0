package bpmn

import (
	"testing"
	"time"

	"github.com/pbinitiative/zenexec/pkg/bpmn/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextCycle(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name        string
		cycle       string
		remaining   int
		dueDate     time.Time
		repetitions int
		wantErr     bool
	}{
		{name: "repeating interval", cycle: "R3/PT10M", dueDate: now.Add(10 * time.Minute), repetitions: 3},
		{name: "repeating interval continues with remaining", cycle: "R3/PT10M", remaining: 2, dueDate: now.Add(10 * time.Minute), repetitions: 2},
		{name: "unbounded interval", cycle: "R/P1D", dueDate: now.AddDate(0, 0, 1), repetitions: infiniteRepetitions},
		{name: "cron", cycle: "0 * * * *", dueDate: now.Add(time.Hour), repetitions: infiniteRepetitions},
		{name: "interval missing", cycle: "R3", wantErr: true},
		{name: "zero repetitions", cycle: "R0/PT1M", wantErr: true},
		{name: "invalid duration", cycle: "R2/1M", wantErr: true},
		{name: "invalid cron", cycle: "every minute", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			schedule, err := nextCycle(tt.cycle, now, tt.remaining)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.dueDate, schedule.dueDate)
			assert.Equal(t, tt.repetitions, schedule.repetitions)
		})
	}
}

func TestRemainingAfterFiring(t *testing.T) {
	assert.Equal(t, 0, remainingAfterFiring(0))
	assert.Equal(t, 0, remainingAfterFiring(1))
	assert.Equal(t, 2, remainingAfterFiring(3))
	assert.Equal(t, infiniteRepetitions, remainingAfterFiring(infiniteRepetitions))
}

func TestTimerBoundaryFiresWhenDue(t *testing.T) {
	// given
	engine := newTestEngine(t)
	engine.deploy(t, "timer_boundary.yaml")
	instanceKey := engine.createInstance(t, "timer-boundary", nil)
	timers := engine.records(runtime.ValueTypeTimer, runtime.IntentCreated)
	require.Len(t, timers, 1)
	assert.Equal(t, engine.now.Add(time.Hour).UnixMilli(), timers[0].Value.(runtime.TimerRecord).DueDate)

	// when
	fired, err := engine.TriggerDueTimers(t.Context())

	// then
	require.NoError(t, err)
	assert.Equal(t, 0, fired)

	// when
	engine.now = engine.now.Add(2 * time.Hour)
	fired, err = engine.TriggerDueTimers(t.Context())

	// then
	require.NoError(t, err)
	assert.Equal(t, 1, fired)
	assert.Len(t, engine.elementRecords("wait", runtime.IntentElementTerminated), 1)
	assert.Len(t, engine.elementRecords("timed-out", runtime.IntentElementCompleted), 1)
	assert.Empty(t, engine.FindActivatableJobs("wait"))
	assert.True(t, engine.hasCompleted(instanceKey))
	assert.Empty(t, engine.State().FindDueTimers(engine.now.UnixMilli()))
}

func TestTimerBoundaryIsCanceledWithTheActivity(t *testing.T) {
	// given
	engine := newTestEngine(t)
	engine.deploy(t, "timer_boundary.yaml")
	instanceKey := engine.createInstance(t, "timer-boundary", nil)

	// when
	engine.completeJobs(t, "wait", nil)

	// then
	assert.True(t, engine.hasCompleted(instanceKey))
	assert.Len(t, engine.records(runtime.ValueTypeTimer, runtime.IntentCanceled), 1)
	engine.now = engine.now.Add(2 * time.Hour)
	fired, err := engine.TriggerDueTimers(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 0, fired)
}

func TestTriggeringUnknownTimerIsRejected(t *testing.T) {
	// given
	engine := newTestEngine(t)

	// when
	err := engine.TriggerTimer(t.Context(), 4242)

	// then
	var engineErr *EngineError
	assert.ErrorAs(t, err, &engineErr)
	assert.NoError(t, engine.Halted())
}

func TestTimerStartCycleFiresItsRepetitions(t *testing.T) {
	// given
	engine := newTestEngine(t)
	engine.deploy(t, "timer_start_cycle.yaml")

	fired := 0
	for range 3 {
		// when
		engine.now = engine.now.Add(time.Minute)
		count, err := engine.TriggerDueTimers(t.Context())

		// then
		require.NoError(t, err)
		fired += count
	}
	assert.Equal(t, 2, fired)
	assert.Len(t, engine.elementRecords("timer-start-cycle", runtime.IntentElementCompleted), 2)
	assert.Len(t, engine.records(runtime.ValueTypeTimer, runtime.IntentTriggered), 2)
	assert.Empty(t, engine.State().FindDueTimers(engine.now.Add(24*time.Hour).UnixMilli()))
}
