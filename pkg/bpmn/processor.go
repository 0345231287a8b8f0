package bpmn

import (
	"fmt"

	"github.com/pbinitiative/zenexec/pkg/bpmn/model"
	"github.com/pbinitiative/zenexec/pkg/bpmn/runtime"
)

// processProcessInstanceCommand drives the lifecycle of an element instance.
// Rejected commands write a rejection record and leave the state untouched.
func (engine *Engine) processProcessInstanceCommand(command runtime.Record) error {
	value, ok := command.Value.(runtime.ProcessInstanceRecord)
	if !ok {
		return newProcessingErrorf("command %s carries %T instead of a process instance record", command, command.Value)
	}
	element, err := engine.lookupElement(value)
	if err != nil {
		return err
	}
	switch command.Intent {
	case runtime.IntentActivateElement:
		return engine.onActivateCommand(command, element, value)
	case runtime.IntentCompleteElement:
		return engine.onCompleteCommand(command, element)
	case runtime.IntentTerminateElement:
		return engine.onTerminateCommand(command, element)
	}
	return newProcessingErrorf("unsupported process instance command %s", command.Intent)
}

func (engine *Engine) onActivateCommand(command runtime.Record, element *model.ExecutableElement, value runtime.ProcessInstanceRecord) error {
	if value.FlowScopeKey > 0 {
		flowScope, err := engine.state.FindElementInstanceByKey(value.FlowScopeKey)
		if err != nil || !flowScope.IsActive() {
			engine.commandWriter.AppendRejection(command, fmt.Sprintf("expected flow scope %d of element %s to be active", value.FlowScopeKey, element.Id))
			return nil
		}
		if flowScope.IsInterrupted() && flowScope.InterruptingElementId != element.Id {
			engine.commandWriter.AppendRejection(command, fmt.Sprintf("flow scope %d was interrupted by %s", value.FlowScopeKey, flowScope.InterruptingElementId))
			return nil
		}
	} else if value.ParentElementInstanceKey > 0 {
		callActivity, err := engine.state.FindElementInstanceByKey(value.ParentElementInstanceKey)
		if err != nil || !callActivity.IsActive() {
			engine.commandWriter.AppendRejection(command, fmt.Sprintf("expected calling element instance %d to be active", value.ParentElementInstanceKey))
			return nil
		}
	}
	key := command.Key
	if key <= 0 {
		key = engine.generateKey()
	} else if _, err := engine.state.FindElementInstanceByKey(key); err == nil {
		engine.commandWriter.AppendRejection(command, fmt.Sprintf("element instance %d already exists", key))
		return nil
	}

	ctx := engine.transitions.TransitionToActivating(BpmnElementContext{ElementInstanceKey: key, Value: value})
	if len(command.Variables) > 0 {
		engine.variables.SetLocalVariables(ctx, key, command.Variables)
	}
	return engine.activate(element, ctx)
}

func (engine *Engine) onCompleteCommand(command runtime.Record, element *model.ExecutableElement) error {
	instance, err := engine.state.FindElementInstanceByKey(command.Key)
	if err != nil || !instance.IsActive() {
		engine.commandWriter.AppendRejection(command, fmt.Sprintf("expected element instance %d to be %s", command.Key, runtime.IntentElementActivated))
		return nil
	}
	ctx := engine.transitions.TransitionToCompleting(newElementContext(instance))
	return engine.complete(element, ctx)
}

func (engine *Engine) onTerminateCommand(command runtime.Record, element *model.ExecutableElement) error {
	instance, err := engine.state.FindElementInstanceByKey(command.Key)
	if err != nil || !instance.CanTerminate() {
		engine.commandWriter.AppendRejection(command, fmt.Sprintf("element instance %d cannot be terminated", command.Key))
		return nil
	}
	ctx := engine.transitions.TransitionToTerminating(newElementContext(instance))
	_, err = engine.onTerminate(element, ctx)
	return err
}

// activate runs the activation steps of an ACTIVATING instance. It is also
// used to retry an activation after its incident was resolved.
func (engine *Engine) activate(element *model.ExecutableElement, ctx BpmnElementContext) error {
	if ctx.FlowScopeKey() > 0 && element.FlowScope != nil {
		flowScope, err := engine.state.FindElementInstanceByKey(ctx.FlowScopeKey())
		if err != nil {
			return &ProcessingError{Msg: fmt.Sprintf("flow scope %d of element instance %d not found", ctx.FlowScopeKey(), ctx.ElementInstanceKey), Err: err}
		}
		if err := engine.onChildActivating(element.FlowScope, newElementContext(flowScope), ctx); err != nil {
			return engine.handleFailure(ctx, err)
		}
	}
	if err := engine.onActivate(element, ctx); err != nil {
		return engine.handleFailure(ctx, err)
	}
	return engine.handleFailure(ctx, engine.finalizeActivation(element, ctx))
}

// complete runs the completion steps of a COMPLETING instance.
func (engine *Engine) complete(element *model.ExecutableElement, ctx BpmnElementContext) error {
	if err := engine.onComplete(element, ctx); err != nil {
		return engine.handleFailure(ctx, err)
	}
	return engine.handleFailure(ctx, engine.finalizeCompletion(element, ctx))
}

// finalizeTermination writes ELEMENT_TERMINATED and continues the flow scope.
func (engine *Engine) finalizeTermination(element *model.ExecutableElement, ctx BpmnElementContext) error {
	boundaryTrigger := engine.events.findBoundaryTrigger(element, ctx.ElementInstanceKey)
	terminated := engine.transitions.TransitionToTerminated(ctx)
	return engine.transitions.OnElementTerminated(element, terminated, boundaryTrigger)
}

// handleFailure creates an incident for a Failure, other errors abort the command.
func (engine *Engine) handleFailure(ctx BpmnElementContext, err error) error {
	if err == nil {
		return nil
	}
	if failure, ok := asFailure(err); ok {
		engine.incidents.CreateIncident(ctx, failure, 0)
		return nil
	}
	return err
}

// retry continues an instance that was blocked by a resolved incident.
func (engine *Engine) retry(instance runtime.ElementInstance) error {
	element, err := engine.elementOf(instance)
	if err != nil {
		return err
	}
	ctx := newElementContext(instance)
	switch instance.State {
	case runtime.IntentElementActivating:
		return engine.activate(element, ctx)
	case runtime.IntentElementCompleting:
		return engine.complete(element, ctx)
	}
	return nil
}
