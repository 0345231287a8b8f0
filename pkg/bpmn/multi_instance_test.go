package bpmn

import (
	"fmt"
	"testing"

	"github.com/pbinitiative/zenexec/pkg/bpmn/model"
	"github.com/pbinitiative/zenexec/pkg/bpmn/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequentialMultiInstanceActivatesOneItemAfterAnother(t *testing.T) {
	// given
	engine := newTestEngine(t)
	engine.deploy(t, "multi_instance_sequential.yaml")
	instanceKey := engine.createInstance(t, "multi-instance-sequential", map[string]any{"items": []any{"a", "b"}})

	// when
	first := engine.singleJob(t, "collect")
	require.NoError(t, engine.CompleteJob(t.Context(), first.Key, nil))
	second := engine.singleJob(t, "collect")

	// then
	assert.Equal(t, "a", first.Variables["item"])
	assert.Equal(t, float64(1), first.Variables[loopCounterVariable])
	assert.Equal(t, "b", second.Variables["item"])
	assert.Equal(t, float64(2), second.Variables[loopCounterVariable])

	// when
	require.NoError(t, engine.CompleteJob(t.Context(), second.Key, nil))

	// then
	engine.singleJob(t, "wait")
	assert.Equal(t, []any{"a", "b"}, engine.GetVariables(instanceKey)["results"])
	body := engine.elementRecords("collect", runtime.IntentElementCompleted)
	require.Len(t, body, 3, "two inner instances and the body")
	assert.Equal(t, model.ElementTypeMultiInstanceBody, body[2].Value.(runtime.ProcessInstanceRecord).BpmnElementType)
}

func TestSequentialMultiInstanceNeverRunsTwoInnerInstancesAtOnce(t *testing.T) {
	// given
	engine := newTestEngine(t)
	engine.deploy(t, "multi_instance_sequential.yaml")
	engine.createInstance(t, "multi-instance-sequential", map[string]any{"items": []any{"a", "b", "c"}})

	for i := 1; i <= 3; i++ {
		// when
		body := engine.elementRecords("collect", runtime.IntentElementActivated)[0]
		instance, err := engine.GetElementInstance(body.Key)
		require.NoError(t, err)

		// then
		assert.Equal(t, 1, instance.ActiveChildren)
		assert.Equal(t, i, instance.ChildrenCreated)
		require.Equal(t, 1, engine.completeJobs(t, "collect", nil))
	}
	assert.Len(t, engine.FindActivatableJobs("wait"), 1)
}

func TestMultiInstanceWithEmptyCollectionCompletesRightAway(t *testing.T) {
	// given
	engine := newTestEngine(t)
	engine.deploy(t, "multi_instance_sequential.yaml")

	// when
	instanceKey := engine.createInstance(t, "multi-instance-sequential", map[string]any{"items": []any{}})

	// then
	assert.Empty(t, engine.FindActivatableJobs("collect"))
	engine.singleJob(t, "wait")
	assert.Equal(t, []any{}, engine.GetVariables(instanceKey)["results"])
}

func TestMultiInstanceWithoutCollectionCreatesIncident(t *testing.T) {
	// given
	engine := newTestEngine(t)
	engine.deploy(t, "multi_instance_sequential.yaml")

	// when
	instanceKey := engine.createInstance(t, "multi-instance-sequential", map[string]any{"items": "not a list"})

	// then
	incidents := engine.GetIncidents(instanceKey)
	require.Len(t, incidents, 1)
	assert.Equal(t, runtime.ErrorTypeExtractValueError, incidents[0].ErrorType)
	assert.Equal(t, "collect", incidents[0].ElementId)
	assert.NoError(t, engine.Halted())
}

func TestSequentialMultiInstanceContinuesAfterIncidentOfChangedCollectionIsResolved(t *testing.T) {
	// given
	var items any = []any{"a", "b"}
	engine := newTestEngine(t)
	engine.evaluator.funcs["=items"] = func(map[string]any) (any, error) {
		return items, nil
	}
	engine.deploy(t, "multi_instance_sequential.yaml")
	instanceKey := engine.createInstance(t, "multi-instance-sequential", nil)
	first := engine.singleJob(t, "collect")
	items = "broken"

	// when
	require.NoError(t, engine.CompleteJob(t.Context(), first.Key, nil))

	// then
	incidents := engine.GetIncidents(instanceKey)
	require.Len(t, incidents, 1)
	assert.Equal(t, runtime.ErrorTypeExtractValueError, incidents[0].ErrorType)
	assert.Equal(t, first.ElementInstanceKey, incidents[0].ElementInstanceKey)
	inner, err := engine.GetElementInstance(first.ElementInstanceKey)
	require.NoError(t, err)
	assert.Equal(t, runtime.IntentElementCompleting, inner.State)
	assert.Empty(t, engine.FindActivatableJobs("collect"))

	// when
	require.NoError(t, engine.ResolveIncident(t.Context(), incidents[0].Key))

	// then
	again := engine.GetIncidents(instanceKey)
	require.Len(t, again, 1, "the retry fails while the collection is still broken")
	assert.Equal(t, first.ElementInstanceKey, again[0].ElementInstanceKey)

	// when
	items = []any{"a", "b"}
	require.NoError(t, engine.ResolveIncident(t.Context(), again[0].Key))

	// then
	assert.Empty(t, engine.GetIncidents(instanceKey))
	second := engine.singleJob(t, "collect")
	assert.Equal(t, "b", second.Variables["item"])
	require.NoError(t, engine.CompleteJob(t.Context(), second.Key, nil))
	engine.singleJob(t, "wait")
	assert.Equal(t, []any{"a", "b"}, engine.GetVariables(instanceKey)["results"])
	assert.NoError(t, engine.Halted())
}

func TestParallelMultiInstanceActivatesAllItemsInOneBatch(t *testing.T) {
	// given
	engine := newTestEngine(t)
	engine.deploy(t, "multi_instance_parallel.yaml")
	items := []any{"a", "b", "c"}

	// when
	engine.createInstance(t, "multi-instance-parallel", map[string]any{"items": items})

	// then
	body := engine.elementRecords("collect", runtime.IntentElementActivated)
	require.NotEmpty(t, body)
	var fanOut RecordBatch
	for _, batch := range engine.log.Batches() {
		for _, record := range batch.Records {
			if record.Key == body[0].Key && record.Intent == runtime.IntentElementActivated {
				fanOut = batch
			}
		}
	}
	activations := 0
	for _, record := range fanOut.Records {
		value, ok := record.Value.(runtime.ProcessInstanceRecord)
		if record.RecordType == runtime.RecordTypeCommand && ok && value.BpmnElementType == model.ElementTypeServiceTask {
			assert.Equal(t, body[0].Key, value.FlowScopeKey)
			activations++
		}
	}
	assert.Equal(t, len(items), activations)

	jobs := engine.FindActivatableJobs("collect")
	require.Len(t, jobs, len(items))
	for i, job := range jobs {
		assert.Equal(t, items[i], job.Variables["item"], "loop counter %d", i+1)
	}
}

func TestParallelMultiInstanceCompletionConditionTerminatesRemainingInstances(t *testing.T) {
	// given
	engine := newTestEngine(t)
	engine.evaluator.funcs["=enough"] = func(variables map[string]any) (any, error) {
		completed, ok := variables["numberOfCompletedInstances"].(int)
		if !ok {
			return nil, fmt.Errorf("numberOfCompletedInstances is %T", variables["numberOfCompletedInstances"])
		}
		return completed >= 2, nil
	}
	engine.deploy(t, "multi_instance_parallel.yaml")
	instanceKey := engine.createInstance(t, "multi-instance-parallel", map[string]any{"items": []any{1, 2, 3, 4}})
	jobs := engine.FindActivatableJobs("collect")
	require.Len(t, jobs, 4)

	// when
	require.NoError(t, engine.CompleteJob(t.Context(), jobs[0].Key, nil))

	// then
	assert.Len(t, engine.FindActivatableJobs("collect"), 3)
	assert.False(t, engine.hasCompleted(instanceKey))

	// when
	require.NoError(t, engine.CompleteJob(t.Context(), jobs[1].Key, nil))

	// then
	assert.Empty(t, engine.FindActivatableJobs("collect"))
	assert.Len(t, engine.records(runtime.ValueTypeJob, runtime.IntentCanceled), 2)
	assert.True(t, engine.hasCompleted(instanceKey))
}
