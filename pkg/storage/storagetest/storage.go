package storagetest

import (
	"reflect"
	"strings"
	"testing"

	stdruntime "runtime"

	"github.com/pbinitiative/zenexec/pkg/bpmn/model"
	bpmnruntime "github.com/pbinitiative/zenexec/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenexec/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StorageTestFunc is a conformance test every storage.MutableState implementation has to pass.
// Every test receives a fresh state.
type StorageTestFunc func(s storage.MutableState, t *testing.T) func(t *testing.T)

type StorageTester struct{}

func (st *StorageTester) GetTests() map[string]StorageTestFunc {
	tests := map[string]StorageTestFunc{}

	// all test functions need to be registered here
	functions := []StorageTestFunc{
		st.TestElementInstanceStorage,
		st.TestProcessDefinitionStorage,
		st.TestVariableStorage,
		st.TestJobStorage,
		st.TestIncidentStorage,
		st.TestEventTriggerStorage,
		st.TestSubscriptionStorage,
		st.TestTimerStorage,
		st.TestCompensationSubscriptionStorage,
	}

	for _, function := range functions {
		funcName := getFunctionName(function)
		strippedName := funcName[strings.LastIndex(funcName, ".")+1:]
		strippedName = strings.TrimSuffix(strippedName, "-fm")
		tests[strippedName] = function
	}
	return tests
}

func getFunctionName(i any) string {
	return stdruntime.FuncForPC(reflect.ValueOf(i).Pointer()).Name()
}

func instance(key, flowScopeKey int64, elementId string) bpmnruntime.ElementInstance {
	return bpmnruntime.ElementInstance{
		Key:   key,
		State: bpmnruntime.IntentElementActivating,
		Value: bpmnruntime.ProcessInstanceRecord{
			ElementId:          elementId,
			FlowScopeKey:       flowScopeKey,
			ProcessInstanceKey: 1,
		},
	}
}

func (st *StorageTester) TestElementInstanceStorage(s storage.MutableState, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		s.SaveElementInstance(instance(1, -1, "process"))
		s.SaveElementInstance(instance(5, 1, "b"))
		s.SaveElementInstance(instance(3, 1, "a"))

		children := s.FindChildElementInstances(1)
		require.Len(t, children, 2)
		assert.Equal(t, int64(3), children[0].Key)
		assert.Equal(t, int64(5), children[1].Key)

		// get / mutate / put
		child, err := s.FindElementInstanceByKey(3)
		require.NoError(t, err)
		child.State = bpmnruntime.IntentElementActivated
		stored, _ := s.FindElementInstanceByKey(3)
		assert.Equal(t, bpmnruntime.IntentElementActivating, stored.State)
		s.SaveElementInstance(child)
		stored, _ = s.FindElementInstanceByKey(3)
		assert.Equal(t, bpmnruntime.IntentElementActivated, stored.State)
		assert.Len(t, s.FindChildElementInstances(1), 2)

		s.RemoveElementInstance(3)
		_, err = s.FindElementInstanceByKey(3)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		assert.Len(t, s.FindChildElementInstances(1), 1)
		assert.Empty(t, s.FindChildElementInstances(3))
	}
}

const simpleProcess = `
id: simple
elements:
  - {id: start, type: START_EVENT}
`

func (st *StorageTester) TestProcessDefinitionStorage(s storage.MutableState, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		for version := int32(1); version <= 2; version++ {
			s.SaveProcessDefinition(bpmnruntime.ProcessDefinition{ProcessRecord: bpmnruntime.ProcessRecord{
				ProcessDefinitionKey: int64(10 + version),
				BpmnProcessId:        "simple",
				Version:              version,
				Resource:             []byte(simpleProcess),
			}})
		}

		latest, err := s.FindLatestProcessDefinitionById("simple")
		require.NoError(t, err)
		assert.Equal(t, int32(2), latest.Version)
		assert.Len(t, s.FindProcessDefinitions(), 1)

		_, err = s.FindLatestProcessDefinitionById("missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		process, err := s.GetProcess(latest.Key())
		require.NoError(t, err)
		assert.Equal(t, model.ElementTypeStartEvent, process.GetElement("start").Type)
		cached, err := s.GetProcess(latest.Key())
		require.NoError(t, err)
		assert.Same(t, process, cached)
	}
}

func (st *StorageTester) TestVariableStorage(s storage.MutableState, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		s.CreateScope(1, -1)
		s.CreateScope(2, 1)
		s.SetVariable(1, "a", "root")
		s.SetVariable(1, "b", "root")
		s.SetVariable(2, "a", "child")

		assert.Equal(t, map[string]any{"a": "child", "b": "root"}, s.GetVariableHolder(2).Document())
		scope, found := s.FindVariableScope(2, "b")
		assert.True(t, found)
		assert.Equal(t, int64(1), scope)
		_, found = s.FindVariableScope(2, "c")
		assert.False(t, found)
		parent, found := s.FindParentScopeKey(2)
		assert.True(t, found)
		assert.Equal(t, int64(1), parent)

		local := s.FindLocalVariables(2)
		local["a"] = "mutated"
		assert.Equal(t, "child", s.FindLocalVariables(2)["a"])

		s.RemoveScope(2)
		assert.Empty(t, s.FindLocalVariables(2))
	}
}

func (st *StorageTester) TestJobStorage(s storage.MutableState, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		s.SaveJob(bpmnruntime.Job{Key: 7, State: bpmnruntime.JobStateActivatable, JobRecord: bpmnruntime.JobRecord{Type: "work", ElementInstanceKey: 3}})

		job, err := s.FindJobByElementInstanceKey(3)
		require.NoError(t, err)
		assert.Equal(t, int64(7), job.Key)
		assert.Len(t, s.FindJobsByType("work"), 1)

		s.DeleteJob(7)
		_, err = s.FindJobByKey(7)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	}
}

func (st *StorageTester) TestIncidentStorage(s storage.MutableState, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		s.SaveIncident(bpmnruntime.Incident{Key: 9, IncidentRecord: bpmnruntime.IncidentRecord{ElementInstanceKey: 3, ProcessInstanceKey: 1}})
		s.SaveIncident(bpmnruntime.Incident{Key: 8, IncidentRecord: bpmnruntime.IncidentRecord{ElementInstanceKey: 4, ProcessInstanceKey: 1}})

		assert.Len(t, s.FindIncidentsByElementInstanceKey(3), 1)
		incidents := s.FindIncidentsByProcessInstanceKey(1)
		require.Len(t, incidents, 2)
		assert.Equal(t, int64(8), incidents[0].Key)

		s.DeleteIncident(9)
		_, err := s.FindIncidentByKey(9)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	}
}

func (st *StorageTester) TestEventTriggerStorage(s storage.MutableState, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		s.SaveEventTrigger(bpmnruntime.EventTrigger{EventKey: 20, ProcessEventRecord: bpmnruntime.ProcessEventRecord{ScopeKey: 1, TargetElementId: "second"}})
		s.SaveEventTrigger(bpmnruntime.EventTrigger{EventKey: 10, ProcessEventRecord: bpmnruntime.ProcessEventRecord{ScopeKey: 1, TargetElementId: "first"}})

		triggers := s.FindEventTriggers(1)
		require.Len(t, triggers, 2)
		assert.Equal(t, "second", triggers[0].TargetElementId, "triggers are kept in arrival order")

		s.DeleteEventTrigger(1, 20)
		assert.Len(t, s.FindEventTriggers(1), 1)
		s.DeleteEventTriggers(1)
		assert.Empty(t, s.FindEventTriggers(1))
	}
}

func (st *StorageTester) TestSubscriptionStorage(s storage.MutableState, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		s.SaveMessageSubscription(bpmnruntime.MessageSubscription{Key: 1, MessageSubscriptionRecord: bpmnruntime.MessageSubscriptionRecord{ElementInstanceKey: 5, MessageName: "msg", CorrelationKey: "c1"}})
		s.SaveMessageSubscription(bpmnruntime.MessageSubscription{Key: 2, MessageSubscriptionRecord: bpmnruntime.MessageSubscriptionRecord{ElementInstanceKey: 6, MessageName: "msg", CorrelationKey: "c2"}})
		s.SaveSignalSubscription(bpmnruntime.SignalSubscription{Key: 3, SignalSubscriptionRecord: bpmnruntime.SignalSubscriptionRecord{ElementInstanceKey: 5, SignalName: "sig"}})

		assert.Len(t, s.FindMessageSubscriptionsByName("msg", "c1"), 1)
		assert.Len(t, s.FindMessageSubscriptionsByElementInstanceKey(6), 1)
		assert.Len(t, s.FindSignalSubscriptionsByName("sig"), 1)

		s.DeleteMessageSubscription(1)
		s.DeleteSignalSubscription(3)
		_, err := s.FindMessageSubscriptionByKey(1)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		assert.Empty(t, s.FindSignalSubscriptionsByElementInstanceKey(5))
	}
}

func (st *StorageTester) TestTimerStorage(s storage.MutableState, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		s.SaveTimer(bpmnruntime.Timer{Key: 1, TimerRecord: bpmnruntime.TimerRecord{ElementInstanceKey: 5, DueDate: 300}})
		s.SaveTimer(bpmnruntime.Timer{Key: 2, TimerRecord: bpmnruntime.TimerRecord{ElementInstanceKey: 5, DueDate: 100}})
		s.SaveTimer(bpmnruntime.Timer{Key: 3, TimerRecord: bpmnruntime.TimerRecord{ElementInstanceKey: -1, ProcessDefinitionKey: 11, DueDate: 1000}})

		due := s.FindDueTimers(300)
		require.Len(t, due, 2)
		assert.Equal(t, int64(2), due[0].Key)
		assert.Len(t, s.FindTimersByElementInstanceKey(5), 2)
		assert.Len(t, s.FindTimersByProcessDefinitionKey(11), 1)

		s.DeleteTimer(1)
		_, err := s.FindTimerByKey(1)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	}
}

func (st *StorageTester) TestCompensationSubscriptionStorage(s storage.MutableState, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		s.SaveCompensationSubscription(bpmnruntime.CompensationSubscription{Key: 1, State: bpmnruntime.CompensationSubscriptionCreated, CompensationSubscriptionRecord: bpmnruntime.CompensationSubscriptionRecord{FlowScopeKey: 2, ProcessInstanceKey: 1}})
		s.SaveCompensationSubscription(bpmnruntime.CompensationSubscription{Key: 4, State: bpmnruntime.CompensationSubscriptionTriggered, CompensationSubscriptionRecord: bpmnruntime.CompensationSubscriptionRecord{FlowScopeKey: 1, ProcessInstanceKey: 1, ThrowEventInstanceKey: 9}})

		assert.Len(t, s.FindCompensationSubscriptionsByFlowScopeKey(2), 1)
		assert.Len(t, s.FindCompensationSubscriptionsByProcessInstanceKey(1), 2)
		assert.Len(t, s.FindCompensationSubscriptionsByThrowEventInstanceKey(9), 1)

		s.DeleteCompensationSubscription(4)
		_, err := s.FindCompensationSubscriptionByKey(4)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	}
}
