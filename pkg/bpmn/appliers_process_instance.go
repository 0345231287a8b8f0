package bpmn

import (
	"github.com/pbinitiative/zenexec/pkg/bpmn/model"
	"github.com/pbinitiative/zenexec/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenexec/pkg/storage"
)

func (a *EventAppliers) registerProcessInstanceAppliers() {
	register(a, runtime.IntentElementActivating, applyElementActivating)
	register(a, runtime.IntentElementActivated, applyElementState(runtime.IntentElementActivated))
	register(a, runtime.IntentElementCompleting, applyElementState(runtime.IntentElementCompleting))
	register(a, runtime.IntentElementTerminating, applyElementState(runtime.IntentElementTerminating))
	register(a, runtime.IntentElementCompleted, func(key int64, value runtime.ProcessInstanceRecord, state storage.MutableState) {
		removeElementInstance(key, value, state, func(flowScope *runtime.ElementInstance) {
			flowScope.ChildrenCompleted++
			// a terminate end event ends the scope, pending flow tokens are dropped
			if isTerminateEndEvent(value) && !flowScope.IsInterrupted() {
				flowScope.InterruptingElementId = value.ElementId
			}
		})
	})
	register(a, runtime.IntentElementTerminated, func(key int64, value runtime.ProcessInstanceRecord, state storage.MutableState) {
		removeElementInstance(key, value, state, func(flowScope *runtime.ElementInstance) {
			flowScope.ChildrenTerminated++
		})
	})
	register(a, runtime.IntentSequenceFlowTaken, func(_ int64, value runtime.ProcessInstanceRecord, state storage.MutableState) {
		flowScope, err := state.FindElementInstanceByKey(value.FlowScopeKey)
		if err != nil {
			return
		}
		flowScope.ActiveFlows++
		state.SaveElementInstance(flowScope)
	})
}

func applyElementActivating(key int64, value runtime.ProcessInstanceRecord, state storage.MutableState) {
	instance := runtime.ElementInstance{
		Key:          key,
		State:        runtime.IntentElementActivating,
		Value:        value,
		ProcessDepth: 1,
	}
	parentScopeKey := int64(-1)
	if value.FlowScopeKey > 0 {
		parentScopeKey = value.FlowScopeKey
		if flowScope, err := state.FindElementInstanceByKey(value.FlowScopeKey); err == nil {
			flowScope.ActiveChildren++
			flowScope.ChildrenCreated++
			if flowScope.ActiveFlows > 0 && consumesFlowToken(value, state) {
				flowScope.ActiveFlows--
			}
			if flowScope.Value.BpmnElementType == model.ElementTypeMultiInstanceBody {
				instance.MultiInstanceLoopCounter = flowScope.ChildrenCreated
			}
			instance.ProcessDepth = flowScope.ProcessDepth
			state.SaveElementInstance(flowScope)
		}
	} else if value.ParentElementInstanceKey > 0 {
		if callActivity, err := state.FindElementInstanceByKey(value.ParentElementInstanceKey); err == nil {
			callActivity.CalledChildInstanceKey = key
			instance.ProcessDepth = callActivity.ProcessDepth + 1
			state.SaveElementInstance(callActivity)
		}
	}
	state.SaveElementInstance(instance)
	state.CreateScope(key, parentScopeKey)
}

func isTerminateEndEvent(value runtime.ProcessInstanceRecord) bool {
	return value.BpmnElementType == model.ElementTypeEndEvent && value.BpmnEventType == model.EventTypeTerminate
}

// consumesFlowToken reports whether the activation was announced by a flow token on the
// flow scope: a taken sequence flow or a triggered event sub process.
func consumesFlowToken(value runtime.ProcessInstanceRecord, state storage.ReadonlyState) bool {
	if value.BpmnElementType == model.ElementTypeEventSubProcess {
		return true
	}
	process, err := state.GetProcess(value.ProcessDefinitionKey)
	if err != nil {
		return false
	}
	element := process.GetFlowNode(value.ElementId, value.BpmnElementType)
	return element != nil && len(element.Incoming) > 0
}

func applyElementState(intent runtime.Intent) func(key int64, value runtime.ProcessInstanceRecord, state storage.MutableState) {
	return func(key int64, _ runtime.ProcessInstanceRecord, state storage.MutableState) {
		instance, err := state.FindElementInstanceByKey(key)
		if err != nil {
			return
		}
		instance.State = intent
		state.SaveElementInstance(instance)
	}
}

func removeElementInstance(key int64, value runtime.ProcessInstanceRecord, state storage.MutableState, count func(flowScope *runtime.ElementInstance)) {
	if value.FlowScopeKey > 0 {
		if flowScope, err := state.FindElementInstanceByKey(value.FlowScopeKey); err == nil {
			flowScope.ActiveChildren--
			count(&flowScope)
			state.SaveElementInstance(flowScope)
		}
	}
	state.RemoveElementInstance(key)
	state.RemoveScope(key)
	state.DeleteEventTriggers(key)
}
