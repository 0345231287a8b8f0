package bpmn

import (
	"fmt"
	"testing"

	"github.com/pbinitiative/zenexec/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenexec/pkg/storage"
	"github.com/pbinitiative/zenexec/pkg/storage/inmemory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEveryWrittenEventHasAnApplier(t *testing.T) {
	appliers := NewEventAppliers()
	events := map[runtime.ValueType][]runtime.Intent{
		runtime.ValueTypeProcess: {runtime.IntentCreated},
		runtime.ValueTypeProcessInstance: {
			runtime.IntentElementActivating,
			runtime.IntentElementActivated,
			runtime.IntentElementCompleting,
			runtime.IntentElementCompleted,
			runtime.IntentElementTerminating,
			runtime.IntentElementTerminated,
			runtime.IntentSequenceFlowTaken,
		},
		runtime.ValueTypeProcessInstanceCreation: {runtime.IntentCreated},
		runtime.ValueTypeVariable:                {runtime.IntentCreated, runtime.IntentUpdated},
		runtime.ValueTypeJob: {
			runtime.IntentCreated,
			runtime.IntentCompleted,
			runtime.IntentCanceled,
			runtime.IntentFailed,
			runtime.IntentErrorThrown,
			runtime.IntentRetriesUpdated,
		},
		runtime.ValueTypeIncident:                 {runtime.IntentCreated, runtime.IntentResolved},
		runtime.ValueTypeProcessEvent:             {runtime.IntentTriggering, runtime.IntentTriggered},
		runtime.ValueTypeMessageSubscription:      {runtime.IntentCreated, runtime.IntentDeleted},
		runtime.ValueTypeSignalSubscription:       {runtime.IntentCreated, runtime.IntentDeleted},
		runtime.ValueTypeTimer:                    {runtime.IntentCreated, runtime.IntentTriggered, runtime.IntentCanceled},
		runtime.ValueTypeCompensationSubscription: {runtime.IntentCreated, runtime.IntentTriggered, runtime.IntentCompleted, runtime.IntentDeleted},
	}
	for valueType, intents := range events {
		for _, intent := range intents {
			t.Run(fmt.Sprintf("%s.%s", valueType, intent), func(t *testing.T) {
				assert.True(t, appliers.IsRegistered(valueType, intent))
			})
		}
	}
}

func TestApplyingEventWithoutApplierFails(t *testing.T) {
	// given
	appliers := NewEventAppliers()
	record := runtime.Record{
		Position:   1,
		RecordType: runtime.RecordTypeEvent,
		ValueType:  runtime.ValueTypeJob,
		Intent:     runtime.IntentTriggered,
		Value:      runtime.JobRecord{},
	}

	// when
	err := appliers.Apply(record, inmemory.NewState())

	// then
	assert.ErrorIs(t, err, ErrNoEventApplier)
}

func TestApplyingCommandFails(t *testing.T) {
	// given
	appliers := NewEventAppliers()
	record := runtime.Record{
		Position:   1,
		RecordType: runtime.RecordTypeCommand,
		ValueType:  runtime.ValueTypeProcessInstance,
		Intent:     runtime.IntentActivateElement,
		Value:      runtime.ProcessInstanceRecord{},
	}

	// when
	err := appliers.Apply(record, inmemory.NewState())

	// then
	assert.Error(t, err)
}

func TestJobAppliers(t *testing.T) {
	tests := []struct {
		name     string
		intent   runtime.Intent
		value    runtime.JobRecord
		expected runtime.Job
	}{
		{
			name:     "failed with retries left",
			intent:   runtime.IntentFailed,
			value:    runtime.JobRecord{Type: "worker", Retries: 2, ErrorMessage: "timeout"},
			expected: runtime.Job{Key: 10, State: runtime.JobStateActivatable, JobRecord: runtime.JobRecord{Type: "worker", Retries: 2, ErrorMessage: "timeout"}},
		},
		{
			name:     "failed without retries",
			intent:   runtime.IntentFailed,
			value:    runtime.JobRecord{Type: "worker", Retries: 0, ErrorMessage: "down"},
			expected: runtime.Job{Key: 10, State: runtime.JobStateFailed, JobRecord: runtime.JobRecord{Type: "worker", Retries: 0, ErrorMessage: "down"}},
		},
		{
			name:     "error thrown",
			intent:   runtime.IntentErrorThrown,
			value:    runtime.JobRecord{Type: "worker", ErrorCode: "boom", ErrorMessage: "it went boom"},
			expected: runtime.Job{Key: 10, State: runtime.JobStateErrorThrown, JobRecord: runtime.JobRecord{Type: "worker", Retries: 3, ErrorCode: "boom", ErrorMessage: "it went boom"}},
		},
		{
			name:     "retries updated",
			intent:   runtime.IntentRetriesUpdated,
			value:    runtime.JobRecord{Type: "worker", Retries: 5},
			expected: runtime.Job{Key: 10, State: runtime.JobStateActivatable, JobRecord: runtime.JobRecord{Type: "worker", Retries: 5}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// given
			appliers := NewEventAppliers()
			state := inmemory.NewState()
			applyEvent(t, appliers, state, 10, runtime.IntentCreated, runtime.JobRecord{Type: "worker", Retries: 3})

			// when
			applyEvent(t, appliers, state, 10, tt.intent, tt.value)

			// then
			job, err := state.FindJobByKey(10)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, job)
		})
	}
}

func TestCompletedJobIsRemoved(t *testing.T) {
	// given
	appliers := NewEventAppliers()
	state := inmemory.NewState()
	applyEvent(t, appliers, state, 10, runtime.IntentCreated, runtime.JobRecord{Type: "worker", Retries: 3})

	// when
	applyEvent(t, appliers, state, 10, runtime.IntentCompleted, runtime.JobRecord{Type: "worker"})

	// then
	_, err := state.FindJobByKey(10)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Empty(t, state.FindJobsByType("worker"))
}

func applyEvent(t *testing.T, appliers *EventAppliers, state storage.MutableState, key int64, intent runtime.Intent, value runtime.RecordValue) {
	t.Helper()
	record := runtime.Record{
		Position:   state.LastAppliedPosition() + 1,
		Key:        key,
		RecordType: runtime.RecordTypeEvent,
		ValueType:  value.ValueType(),
		Intent:     intent,
		Value:      value,
	}
	require.NoError(t, appliers.Apply(record, state))
	state.SetLastAppliedPosition(record.Position)
}
