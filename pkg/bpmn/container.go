package bpmn

import (
	"github.com/pbinitiative/zenexec/pkg/bpmn/model"
)

// The functions in this file dispatch the lifecycle steps to the processor of
// the element type. Containers additionally receive the notifications of
// their children.

func (engine *Engine) onActivate(element *model.ExecutableElement, ctx BpmnElementContext) error {
	switch element.Type {
	case model.ElementTypeProcess:
		return engine.processOnActivate(element, ctx)
	case model.ElementTypeSubProcess:
		return engine.subProcessOnActivate(element, ctx)
	case model.ElementTypeEventSubProcess:
		return engine.eventSubProcessOnActivate(element, ctx)
	case model.ElementTypeAdHocSubProcess:
		return engine.adHocOnActivate(element, ctx)
	case model.ElementTypeAdHocSubProcessInnerInstance:
		return newProcessingErrorf("inner instance %s of an ad-hoc sub process is never activated by a command", element.Id)
	case model.ElementTypeCallActivity:
		return engine.callActivityOnActivate(element, ctx)
	case model.ElementTypeMultiInstanceBody:
		return engine.multiInstanceOnActivate(element, ctx)
	case model.ElementTypeStartEvent, model.ElementTypeEndEvent, model.ElementTypeIntermediateThrowEvent, model.ElementTypeBoundaryEvent:
		return engine.eventOnActivate(element, ctx)
	case model.ElementTypeTask, model.ElementTypeServiceTask:
		return engine.taskOnActivate(element, ctx)
	}
	return newProcessingErrorf("element %s has unsupported type %s", element.Id, element.Type)
}

func (engine *Engine) finalizeActivation(element *model.ExecutableElement, ctx BpmnElementContext) error {
	switch element.Type {
	case model.ElementTypeProcess:
		return engine.processFinalizeActivation(element, ctx)
	case model.ElementTypeSubProcess:
		return engine.subProcessFinalizeActivation(element, ctx)
	case model.ElementTypeEventSubProcess:
		return engine.eventSubProcessFinalizeActivation(element, ctx)
	case model.ElementTypeAdHocSubProcess:
		return engine.adHocFinalizeActivation(element, ctx)
	case model.ElementTypeAdHocSubProcessInnerInstance:
		return newProcessingErrorf("inner instance %s of an ad-hoc sub process is never activated by a command", element.Id)
	case model.ElementTypeCallActivity:
		return engine.callActivityFinalizeActivation(element, ctx)
	case model.ElementTypeMultiInstanceBody:
		return engine.multiInstanceFinalizeActivation(element, ctx)
	case model.ElementTypeStartEvent, model.ElementTypeEndEvent, model.ElementTypeIntermediateThrowEvent, model.ElementTypeBoundaryEvent:
		return engine.eventFinalizeActivation(element, ctx)
	case model.ElementTypeTask, model.ElementTypeServiceTask:
		return engine.taskFinalizeActivation(element, ctx)
	}
	return newProcessingErrorf("element %s has unsupported type %s", element.Id, element.Type)
}

func (engine *Engine) onComplete(element *model.ExecutableElement, ctx BpmnElementContext) error {
	switch element.Type {
	case model.ElementTypeProcess:
		return engine.processOnComplete(element, ctx)
	case model.ElementTypeSubProcess, model.ElementTypeEventSubProcess:
		return engine.subProcessOnComplete(element, ctx)
	case model.ElementTypeAdHocSubProcess:
		return engine.adHocOnComplete(element, ctx)
	case model.ElementTypeAdHocSubProcessInnerInstance:
		return nil
	case model.ElementTypeCallActivity:
		return engine.callActivityOnComplete(element, ctx)
	case model.ElementTypeMultiInstanceBody:
		return engine.multiInstanceOnComplete(element, ctx)
	case model.ElementTypeStartEvent, model.ElementTypeEndEvent, model.ElementTypeIntermediateThrowEvent, model.ElementTypeBoundaryEvent:
		return engine.eventOnComplete(element, ctx)
	case model.ElementTypeTask, model.ElementTypeServiceTask:
		return engine.taskOnComplete(element, ctx)
	}
	return newProcessingErrorf("element %s has unsupported type %s", element.Id, element.Type)
}

func (engine *Engine) finalizeCompletion(element *model.ExecutableElement, ctx BpmnElementContext) error {
	switch element.Type {
	case model.ElementTypeProcess, model.ElementTypeEventSubProcess, model.ElementTypeAdHocSubProcessInnerInstance,
		model.ElementTypeStartEvent, model.ElementTypeEndEvent, model.ElementTypeIntermediateThrowEvent, model.ElementTypeBoundaryEvent:
		_, err := engine.transitions.TransitionToCompleted(element, ctx)
		return err
	case model.ElementTypeSubProcess, model.ElementTypeAdHocSubProcess, model.ElementTypeCallActivity,
		model.ElementTypeMultiInstanceBody, model.ElementTypeTask, model.ElementTypeServiceTask:
		return engine.activityFinalizeCompletion(element, ctx)
	}
	return newProcessingErrorf("element %s has unsupported type %s", element.Id, element.Type)
}

func (engine *Engine) onTerminate(element *model.ExecutableElement, ctx BpmnElementContext) (TransitionOutcome, error) {
	switch element.Type {
	case model.ElementTypeProcess, model.ElementTypeSubProcess, model.ElementTypeEventSubProcess,
		model.ElementTypeAdHocSubProcess, model.ElementTypeAdHocSubProcessInnerInstance, model.ElementTypeMultiInstanceBody:
		return engine.containerOnTerminate(element, ctx)
	case model.ElementTypeCallActivity:
		return engine.callActivityOnTerminate(element, ctx)
	case model.ElementTypeStartEvent, model.ElementTypeEndEvent, model.ElementTypeIntermediateThrowEvent,
		model.ElementTypeBoundaryEvent, model.ElementTypeTask, model.ElementTypeServiceTask:
		return engine.leafOnTerminate(element, ctx)
	}
	return TransitionOutcomeContinue, newProcessingErrorf("element %s has unsupported type %s", element.Id, element.Type)
}

// onChildActivating lets the container prepare the variables of a child before it is activated.
func (engine *Engine) onChildActivating(container *model.ExecutableElement, flowScopeCtx BpmnElementContext, childCtx BpmnElementContext) error {
	if container.Type == model.ElementTypeMultiInstanceBody {
		return engine.multiInstanceOnChildActivating(container, flowScopeCtx, childCtx)
	}
	return nil
}

// beforeExecutionPathCompleted is called before a child ending an execution
// path completes. It reports whether the completion condition of the
// container is satisfied.
func (engine *Engine) beforeExecutionPathCompleted(container *model.ExecutableElement, flowScopeCtx BpmnElementContext, childCtx BpmnElementContext) (bool, error) {
	switch container.Type {
	case model.ElementTypeMultiInstanceBody:
		return engine.multiInstanceBeforeExecutionPathCompleted(container, flowScopeCtx, childCtx)
	case model.ElementTypeAdHocSubProcess:
		return engine.adHocBeforeExecutionPathCompleted(container, flowScopeCtx, childCtx)
	}
	return false, nil
}

// afterExecutionPathCompleted is called after a child ending an execution path completed.
func (engine *Engine) afterExecutionPathCompleted(container *model.ExecutableElement, flowScopeCtx BpmnElementContext, childCtx BpmnElementContext, satisfiesCompletionCondition bool) error {
	switch container.Type {
	case model.ElementTypeMultiInstanceBody:
		return engine.multiInstanceAfterExecutionPathCompleted(container, flowScopeCtx, childCtx, satisfiesCompletionCondition)
	case model.ElementTypeAdHocSubProcess:
		return engine.adHocAfterExecutionPathCompleted(container, flowScopeCtx, childCtx, satisfiesCompletionCondition)
	}
	return engine.continueFlowScope(flowScopeCtx, childCtx)
}

// continueFlowScope completes the flow scope once its last execution path
// ended. An interrupted scope ignores its pending flow tokens and activates
// the interrupting event sub process first, if there is one.
func (engine *Engine) continueFlowScope(flowScopeCtx BpmnElementContext, childCtx BpmnElementContext) error {
	flowScope, err := engine.state.FindElementInstanceByKey(flowScopeCtx.ElementInstanceKey)
	if err != nil || !flowScope.IsActive() {
		return nil
	}
	flowScopeCtx = newElementContext(flowScope)
	if flowScope.IsInterrupted() {
		if flowScope.ActiveChildren > 0 {
			return nil
		}
		activated, err := engine.events.ActivateInterruptingEventSubProcess(flowScopeCtx)
		if err != nil || activated {
			return err
		}
	} else if !engine.transitions.CanBeCompleted(childCtx) {
		return nil
	}
	engine.transitions.CompleteElement(flowScopeCtx)
	return nil
}

// onChildTerminated is called after a child of the container was terminated.
func (engine *Engine) onChildTerminated(container *model.ExecutableElement, flowScopeCtx BpmnElementContext, childCtx BpmnElementContext) error {
	if container.Type == model.ElementTypeCallActivity {
		return engine.callActivityOnChildTerminated(container, flowScopeCtx, childCtx)
	}
	flowScope, err := engine.state.FindElementInstanceByKey(flowScopeCtx.ElementInstanceKey)
	if err != nil {
		return nil
	}
	flowScopeCtx = newElementContext(flowScope)
	switch {
	case flowScope.IsTerminating():
		if flowScope.ActiveChildren == 0 {
			return engine.finalizeTermination(container, flowScopeCtx)
		}
	case flowScope.IsActive():
		return engine.continueFlowScope(flowScopeCtx, childCtx)
	}
	return nil
}

// containerOnTerminate terminates all children. The container is finalized
// right away when it has none, otherwise by the termination of its last child.
func (engine *Engine) containerOnTerminate(element *model.ExecutableElement, ctx BpmnElementContext) (TransitionOutcome, error) {
	engine.events.UnsubscribeFromEvents(ctx)
	engine.incidents.ResolveIncidents(ctx)
	switch element.Type {
	case model.ElementTypeProcess:
		engine.compensation.DeleteProcessInstanceSubscriptions(ctx)
	case model.ElementTypeSubProcess, model.ElementTypeEventSubProcess:
		engine.compensation.DeleteScopeSubscriptions(ctx)
	}
	if engine.transitions.TerminateChildInstances(ctx) {
		return TransitionOutcomeContinue, engine.finalizeTermination(element, ctx)
	}
	return TransitionOutcomeDeferred, nil
}
