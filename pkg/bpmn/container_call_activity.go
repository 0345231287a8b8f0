package bpmn

import (
	"github.com/pbinitiative/zenexec/pkg/bpmn/model"
	"github.com/pbinitiative/zenexec/pkg/bpmn/runtime"
)

// callActivityOnActivate resolves the called process. The latest deployed
// version is called, the depth of nested calls is limited.
func (engine *Engine) callActivityOnActivate(element *model.ExecutableElement, ctx BpmnElementContext) error {
	if err := engine.variables.ApplyInputMappings(element, ctx); err != nil {
		return err
	}
	called, err := engine.resolveCalledProcess(element, ctx)
	if err != nil {
		return err
	}
	engine.batch.calledProcesses[ctx.ElementInstanceKey] = called
	return engine.events.SubscribeToEvents(element, ctx)
}

type calledProcess struct {
	definition runtime.ProcessDefinition
	process    *model.Process
}

func (engine *Engine) resolveCalledProcess(element *model.ExecutableElement, ctx BpmnElementContext) (calledProcess, error) {
	processId, err := engine.expressions.EvaluateString(element.CalledElement.ProcessId, ctx.ElementInstanceKey)
	if err != nil {
		return calledProcess{}, newFailuref(runtime.ErrorTypeExtractValueError, "failed to evaluate called process id of %s: %s", element.Id, err)
	}
	definition, err := engine.state.FindLatestProcessDefinitionById(processId)
	if err != nil {
		return calledProcess{}, newFailuref(runtime.ErrorTypeCalledElementError, "expected process with id %s to be deployed, but not found", processId)
	}
	process, err := engine.state.GetProcess(definition.ProcessDefinitionKey)
	if err != nil {
		return calledProcess{}, &ProcessingError{Msg: "failed to load called process definition", Err: err}
	}
	if process.Element.NoneStartEvent() == nil {
		return calledProcess{}, newFailuref(runtime.ErrorTypeCalledElementError, "expected called process %s to have a none start event", processId)
	}
	instance, err := engine.state.FindElementInstanceByKey(ctx.ElementInstanceKey)
	if err != nil {
		return calledProcess{}, &ProcessingError{Msg: "call activity instance not found", Err: err}
	}
	if instance.ProcessDepth+1 > engine.maxProcessDepth {
		return calledProcess{}, newFailuref(runtime.ErrorTypeCalledElementError,
			"the call activity %s exceeded the maximum depth of %d nested process instances, this is probably caused by an infinite recursion",
			element.Id, engine.maxProcessDepth)
	}
	return calledProcess{definition: definition, process: process}, nil
}

// callActivityFinalizeActivation activates the call activity and creates the child process instance.
func (engine *Engine) callActivityFinalizeActivation(element *model.ExecutableElement, ctx BpmnElementContext) error {
	called, ok := engine.batch.calledProcesses[ctx.ElementInstanceKey]
	if !ok {
		var err error
		if called, err = engine.resolveCalledProcess(element, ctx); err != nil {
			return err
		}
	}
	delete(engine.batch.calledProcesses, ctx.ElementInstanceKey)
	definition, process := called.definition, called.process
	var variables map[string]any
	if element.CalledElement.ShouldPropagateAllParentVariables() {
		variables = engine.state.GetVariableHolder(ctx.ElementInstanceKey).Document()
	} else {
		variables = engine.state.FindLocalVariables(ctx.ElementInstanceKey)
	}
	ctx = engine.transitions.TransitionToActivated(ctx)

	childKey := engine.generateKey()
	engine.commandWriter.AppendFollowUpCommand(childKey, runtime.IntentActivateElement, runtime.ProcessInstanceRecord{
		BpmnElementType:          model.ElementTypeProcess,
		BpmnEventType:            model.EventTypeUnspecified,
		ElementId:                process.Element.Id,
		BpmnProcessId:            definition.BpmnProcessId,
		Version:                  definition.Version,
		ProcessDefinitionKey:     definition.ProcessDefinitionKey,
		ProcessInstanceKey:       childKey,
		FlowScopeKey:             -1,
		ParentProcessInstanceKey: ctx.ProcessInstanceKey(),
		ParentElementInstanceKey: ctx.ElementInstanceKey,
		TenantId:                 definition.TenantId,
	}, variables)
	return nil
}

func (engine *Engine) callActivityOnComplete(element *model.ExecutableElement, ctx BpmnElementContext) error {
	hasOutput, err := engine.variables.ApplyOutputMappings(element, ctx)
	if err != nil {
		return err
	}
	if !hasOutput && element.CalledElement.ShouldPropagateAllChildVariables() {
		engine.variables.MergeDocument(ctx, ctx.FlowScopeKey(), engine.state.FindLocalVariables(ctx.ElementInstanceKey))
	}
	engine.events.UnsubscribeFromEvents(ctx)
	return nil
}

// callActivityOnTerminate terminates the called process instance first.
func (engine *Engine) callActivityOnTerminate(element *model.ExecutableElement, ctx BpmnElementContext) (TransitionOutcome, error) {
	engine.events.UnsubscribeFromEvents(ctx)
	engine.incidents.ResolveIncidents(ctx)
	instance, err := engine.state.FindElementInstanceByKey(ctx.ElementInstanceKey)
	if err != nil {
		return TransitionOutcomeContinue, &ProcessingError{Msg: "call activity instance not found", Err: err}
	}
	if instance.CalledChildInstanceKey > 0 {
		if child, err := engine.state.FindElementInstanceByKey(instance.CalledChildInstanceKey); err == nil {
			if child.CanTerminate() {
				engine.transitions.TerminateElement(newElementContext(child))
			}
			return TransitionOutcomeDeferred, nil
		}
	}
	return TransitionOutcomeContinue, engine.finalizeTermination(element, ctx)
}

// callActivityOnChildTerminated finishes the termination of the call activity
// or, when the called process was terminated on its own, terminates it.
func (engine *Engine) callActivityOnChildTerminated(element *model.ExecutableElement, flowScopeCtx BpmnElementContext, _ BpmnElementContext) error {
	callActivity, err := engine.state.FindElementInstanceByKey(flowScopeCtx.ElementInstanceKey)
	if err != nil {
		return nil
	}
	ctx := newElementContext(callActivity)
	switch {
	case callActivity.IsTerminating():
		return engine.finalizeTermination(element, ctx)
	case callActivity.IsActive():
		engine.transitions.TerminateElement(ctx)
	}
	return nil
}
