package bpmn

import (
	"errors"
	"testing"

	"github.com/pbinitiative/zenexec/pkg/bpmn/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIncidentOfFailedInputMappingIsRetriedOnResolve(t *testing.T) {
	// given
	engine := newTestEngine(t)
	broken := true
	engine.evaluator.funcs["=broken"] = func(map[string]any) (any, error) {
		if broken {
			return nil, errors.New("variable is missing")
		}
		return "fixed", nil
	}
	engine.deploy(t, "input_mapping.yaml")
	instanceKey := engine.createInstance(t, "input-mapping", nil)

	incidents := engine.GetIncidents(instanceKey)
	require.Len(t, incidents, 1)
	assert.Equal(t, runtime.ErrorTypeIoMappingError, incidents[0].ErrorType)
	mapped, err := engine.GetElementInstance(incidents[0].ElementInstanceKey)
	require.NoError(t, err)
	assert.Equal(t, runtime.IntentElementActivating, mapped.State)

	// when
	broken = false
	err = engine.ResolveIncident(t.Context(), incidents[0].Key)

	// then
	require.NoError(t, err)
	assert.Empty(t, engine.GetIncidents(instanceKey))
	assert.True(t, engine.hasCompleted(mapped.Key))
	assert.True(t, engine.hasCompleted(instanceKey))
	assert.Len(t, engine.records(runtime.ValueTypeIncident, runtime.IntentResolved), 1)
}

func TestIncidentIsCreatedAgainWhenRetryFailsAgain(t *testing.T) {
	// given
	engine := newTestEngine(t)
	engine.evaluator.funcs["=broken"] = func(map[string]any) (any, error) {
		return nil, errors.New("variable is missing")
	}
	engine.deploy(t, "input_mapping.yaml")
	instanceKey := engine.createInstance(t, "input-mapping", nil)
	incidents := engine.GetIncidents(instanceKey)
	require.Len(t, incidents, 1)

	// when
	err := engine.ResolveIncident(t.Context(), incidents[0].Key)

	// then
	require.NoError(t, err)
	again := engine.GetIncidents(instanceKey)
	require.Len(t, again, 1)
	assert.NotEqual(t, incidents[0].Key, again[0].Key)
	assert.NoError(t, engine.Halted())
}

func TestJobWithoutRetriesNeedsRetriesBeforeItsIncidentIsResolved(t *testing.T) {
	// given
	engine := newTestEngine(t)
	engine.deploy(t, "simple_task.yaml")
	instanceKey := engine.createInstance(t, "Simple_Task_Process", nil)
	job := engine.singleJob(t, "worker")

	// when
	require.NoError(t, engine.FailJob(t.Context(), job.Key, 2, "first attempt"))

	// then
	assert.Empty(t, engine.GetIncidents(instanceKey))
	assert.Equal(t, int32(2), engine.singleJob(t, "worker").Retries)

	// when
	require.NoError(t, engine.FailJob(t.Context(), job.Key, 0, "service unavailable"))

	// then
	assert.Empty(t, engine.FindActivatableJobs("worker"))
	incidents := engine.GetIncidents(instanceKey)
	require.Len(t, incidents, 1)
	assert.Equal(t, runtime.ErrorTypeJobNoRetries, incidents[0].ErrorType)
	assert.Equal(t, job.Key, incidents[0].JobKey)
	assert.Equal(t, "service unavailable", incidents[0].ErrorMessage)

	// when
	err := engine.ResolveIncident(t.Context(), incidents[0].Key)

	// then
	var engineErr *EngineError
	require.ErrorAs(t, err, &engineErr)
	assert.Len(t, engine.GetIncidents(instanceKey), 1)

	// when
	require.NoError(t, engine.UpdateJobRetries(t.Context(), job.Key, 1))
	require.NoError(t, engine.ResolveIncident(t.Context(), incidents[0].Key))

	// then
	assert.Empty(t, engine.GetIncidents(instanceKey))
	retried := engine.singleJob(t, "worker")
	assert.Equal(t, job.Key, retried.Key)
	assert.Equal(t, int32(1), retried.Retries)

	// when
	require.NoError(t, engine.CompleteJob(t.Context(), retried.Key, nil))

	// then
	assert.True(t, engine.hasCompleted(instanceKey))
}

func TestFailedJobCannotBeCompleted(t *testing.T) {
	// given
	engine := newTestEngine(t)
	engine.deploy(t, "simple_task.yaml")
	engine.createInstance(t, "Simple_Task_Process", nil)
	job := engine.singleJob(t, "worker")
	require.NoError(t, engine.FailJob(t.Context(), job.Key, 0, ""))

	// when
	err := engine.CompleteJob(t.Context(), job.Key, nil)

	// then
	var engineErr *EngineError
	assert.ErrorAs(t, err, &engineErr)
	assert.NoError(t, engine.Halted())
}

func TestUpdateJobRetriesRejectsNonPositiveRetries(t *testing.T) {
	// given
	engine := newTestEngine(t)
	engine.deploy(t, "simple_task.yaml")
	engine.createInstance(t, "Simple_Task_Process", nil)
	job := engine.singleJob(t, "worker")

	// when
	err := engine.UpdateJobRetries(t.Context(), job.Key, 0)

	// then
	var engineErr *EngineError
	assert.ErrorAs(t, err, &engineErr)
	assert.Empty(t, engine.records(runtime.ValueTypeJob, runtime.IntentRetriesUpdated))
}

func TestResolvingUnknownIncidentIsRejected(t *testing.T) {
	// given
	engine := newTestEngine(t)

	// when
	err := engine.ResolveIncident(t.Context(), 12345)

	// then
	var engineErr *EngineError
	assert.ErrorAs(t, err, &engineErr)
	assert.NoError(t, engine.Halted())
}
