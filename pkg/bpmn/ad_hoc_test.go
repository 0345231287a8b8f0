package bpmn

import (
	"testing"

	"github.com/pbinitiative/zenexec/pkg/bpmn/model"
	"github.com/pbinitiative/zenexec/pkg/bpmn/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func adHocInstanceKey(t *testing.T, engine *testEngine) int64 {
	t.Helper()
	activated := engine.elementRecords("research", runtime.IntentElementActivated)
	require.Len(t, activated, 1)
	return activated[0].Key
}

func TestAdHocSubProcessActivatesActiveElementsCollection(t *testing.T) {
	// given
	engine := newTestEngine(t)
	engine.deploy(t, "ad_hoc.yaml")

	// when
	instanceKey := engine.createInstance(t, "ad-hoc", map[string]any{"toDo": []any{"read"}})

	// then
	job := engine.singleJob(t, "read")
	assert.Empty(t, engine.FindActivatableJobs("write"))
	readInstance, err := engine.GetElementInstance(job.ElementInstanceKey)
	require.NoError(t, err)
	inner, err := engine.GetElementInstance(readInstance.Value.FlowScopeKey)
	require.NoError(t, err)
	assert.Equal(t, model.ElementTypeAdHocSubProcessInnerInstance, inner.Value.BpmnElementType)
	assert.Equal(t, "research#innerInstance", inner.Value.ElementId)
	assert.Equal(t, adHocInstanceKey(t, engine), inner.Value.FlowScopeKey)

	// when
	require.NoError(t, engine.CompleteJob(t.Context(), job.Key, nil))

	// then
	assert.True(t, engine.hasCompleted(inner.Key))
	assert.True(t, engine.hasCompleted(instanceKey))
}

func TestActivateAdHocElementsRunsEachElementInItsOwnInnerInstance(t *testing.T) {
	// given
	engine := newTestEngine(t)
	engine.deploy(t, "ad_hoc.yaml")
	instanceKey := engine.createInstance(t, "ad-hoc", map[string]any{"toDo": []any{"read"}})
	adHocKey := adHocInstanceKey(t, engine)

	// when
	err := engine.ActivateAdHocElements(t.Context(), adHocKey, []string{"write"}, map[string]any{"topic": "go"})

	// then
	require.NoError(t, err)
	write := engine.singleJob(t, "write")
	assert.Equal(t, "go", write.Variables["topic"])
	assert.Nil(t, engine.singleJob(t, "read").Variables["topic"], "variables are local to the inner instance")
	adHoc, err := engine.GetElementInstance(adHocKey)
	require.NoError(t, err)
	assert.Equal(t, 2, adHoc.ActiveChildren)

	// when
	engine.completeJobs(t, "read", nil)

	// then
	assert.False(t, engine.hasCompleted(adHocKey))

	// when
	engine.completeJobs(t, "write", nil)

	// then
	assert.True(t, engine.hasCompleted(adHocKey))
	assert.True(t, engine.hasCompleted(instanceKey))
}

func TestAdHocElementWithIncomingFlowCannotBeActivated(t *testing.T) {
	// given
	engine := newTestEngine(t)
	engine.deploy(t, "ad_hoc.yaml")
	engine.createInstance(t, "ad-hoc", map[string]any{"toDo": []any{"read"}})
	adHocKey := adHocInstanceKey(t, engine)
	positionBefore := engine.State().LastAppliedPosition()

	// when
	err := engine.ActivateAdHocElements(t.Context(), adHocKey, []string{"review", "publish"}, nil)

	// then
	var engineErr *EngineError
	require.ErrorAs(t, err, &engineErr)
	assert.Equal(t, positionBefore, engine.State().LastAppliedPosition(), "nothing is activated when one element is invalid")
	assert.NoError(t, engine.Halted())
}

func TestAdHocElementsFollowTheirSequenceFlows(t *testing.T) {
	// given
	engine := newTestEngine(t)
	engine.deploy(t, "ad_hoc.yaml")

	// when
	instanceKey := engine.createInstance(t, "ad-hoc", map[string]any{"toDo": []any{"review"}})

	// then
	assert.Len(t, engine.elementRecords("publish", runtime.IntentElementCompleted), 1)
	assert.True(t, engine.hasCompleted(instanceKey))
}

func TestAdHocWithUnknownActiveElementCreatesIncident(t *testing.T) {
	// given
	engine := newTestEngine(t)
	engine.deploy(t, "ad_hoc.yaml")

	// when
	instanceKey := engine.createInstance(t, "ad-hoc", map[string]any{"toDo": []any{"unknown"}})

	// then
	incidents := engine.GetIncidents(instanceKey)
	require.Len(t, incidents, 1)
	assert.Equal(t, runtime.ErrorTypeExtractValueError, incidents[0].ErrorType)
	assert.Equal(t, "research", incidents[0].ElementId)
}
