package bpmn

import (
	"github.com/pbinitiative/zenexec/pkg/bpmn/model"
	"github.com/pbinitiative/zenexec/pkg/bpmn/runtime"
)

// BpmnElementContext is the view of an element instance passed between the
// processors while a command is processed. It is passed by value and never persisted.
type BpmnElementContext struct {
	ElementInstanceKey int64
	Intent             runtime.Intent
	Value              runtime.ProcessInstanceRecord
}

func newElementContext(instance runtime.ElementInstance) BpmnElementContext {
	return BpmnElementContext{
		ElementInstanceKey: instance.Key,
		Intent:             instance.State,
		Value:              instance.Value,
	}
}

func (c BpmnElementContext) FlowScopeKey() int64 {
	return c.Value.FlowScopeKey
}

func (c BpmnElementContext) ProcessInstanceKey() int64 {
	return c.Value.ProcessInstanceKey
}

func (c BpmnElementContext) ProcessDefinitionKey() int64 {
	return c.Value.ProcessDefinitionKey
}

func (c BpmnElementContext) ElementId() string {
	return c.Value.ElementId
}

func (c BpmnElementContext) ElementType() model.ElementType {
	return c.Value.BpmnElementType
}

func (c BpmnElementContext) withIntent(intent runtime.Intent) BpmnElementContext {
	c.Intent = intent
	return c
}

// childRecord describes an instance of element created in this context as flow scope.
func (c BpmnElementContext) childRecord(element *model.ExecutableElement) runtime.ProcessInstanceRecord {
	return runtime.ProcessInstanceRecord{
		BpmnElementType:          element.Type,
		BpmnEventType:            element.EventType,
		ElementId:                element.Id,
		BpmnProcessId:            c.Value.BpmnProcessId,
		Version:                  c.Value.Version,
		ProcessDefinitionKey:     c.Value.ProcessDefinitionKey,
		ProcessInstanceKey:       c.Value.ProcessInstanceKey,
		FlowScopeKey:             c.ElementInstanceKey,
		ParentProcessInstanceKey: c.Value.ParentProcessInstanceKey,
		ParentElementInstanceKey: c.Value.ParentElementInstanceKey,
		TenantId:                 c.Value.TenantId,
	}
}

// siblingRecord describes an instance of element created in the same flow scope as this context.
func (c BpmnElementContext) siblingRecord(element *model.ExecutableElement) runtime.ProcessInstanceRecord {
	value := c.childRecord(element)
	value.FlowScopeKey = c.Value.FlowScopeKey
	return value
}
