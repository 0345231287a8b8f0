package bpmn

import (
	"fmt"

	"github.com/pbinitiative/zenexec/pkg/bpmn/model"
	"github.com/pbinitiative/zenexec/pkg/bpmn/runtime"
)

// TransitionOutcome tells the caller of a termination whether the element was
// finalized or waits for its children.
type TransitionOutcome int

const (
	TransitionOutcomeContinue TransitionOutcome = iota
	TransitionOutcomeDeferred
)

// StateTransitionBehavior writes the lifecycle events of element instances and
// the commands that move the execution forward.
type StateTransitionBehavior struct {
	engine *Engine
}

func (b *StateTransitionBehavior) transition(ctx BpmnElementContext, intent runtime.Intent) BpmnElementContext {
	b.engine.stateWriter.AppendFollowUpEvent(ctx.ElementInstanceKey, intent, ctx.Value)
	return ctx.withIntent(intent)
}

func (b *StateTransitionBehavior) TransitionToActivating(ctx BpmnElementContext) BpmnElementContext {
	return b.transition(ctx, runtime.IntentElementActivating)
}

func (b *StateTransitionBehavior) TransitionToActivated(ctx BpmnElementContext) BpmnElementContext {
	return b.transition(ctx, runtime.IntentElementActivated)
}

func (b *StateTransitionBehavior) TransitionToCompleting(ctx BpmnElementContext) BpmnElementContext {
	return b.transition(ctx, runtime.IntentElementCompleting)
}

func (b *StateTransitionBehavior) TransitionToTerminating(ctx BpmnElementContext) BpmnElementContext {
	return b.transition(ctx, runtime.IntentElementTerminating)
}

func (b *StateTransitionBehavior) TransitionToTerminated(ctx BpmnElementContext) BpmnElementContext {
	return b.transition(ctx, runtime.IntentElementTerminated)
}

// TransitionToCompleted writes ELEMENT_COMPLETED. When the element ends an
// execution path (no outgoing flows, an instance of a multi-instance body or
// an element of an interrupted flow scope) the flow scope container is asked
// before and notified after the event, otherwise the outgoing sequence flows
// are taken.
func (b *StateTransitionBehavior) TransitionToCompleted(element *model.ExecutableElement, ctx BpmnElementContext) (BpmnElementContext, error) {
	hasFlowScope := ctx.FlowScopeKey() > 0 && element.FlowScope != nil
	endOfPath := len(element.Outgoing) == 0 || element.IsMultiInstanceInner() || (hasFlowScope && b.isFlowScopeInterrupted(ctx))

	satisfiesCompletionCondition := false
	if endOfPath && hasFlowScope {
		flowScope, err := b.engine.state.FindElementInstanceByKey(ctx.FlowScopeKey())
		if err != nil {
			return ctx, &ProcessingError{Msg: fmt.Sprintf("flow scope %d of element instance %d not found", ctx.FlowScopeKey(), ctx.ElementInstanceKey), Err: err}
		}
		satisfiesCompletionCondition, err = b.engine.beforeExecutionPathCompleted(element.FlowScope, newElementContext(flowScope), ctx)
		if err != nil {
			return ctx, err
		}
	}

	completed := b.transition(ctx, runtime.IntentElementCompleted)

	if !endOfPath {
		b.TakeOutgoingSequenceFlows(element, completed)
		return completed, nil
	}
	if hasFlowScope {
		flowScope, err := b.engine.state.FindElementInstanceByKey(ctx.FlowScopeKey())
		if err != nil {
			return completed, nil
		}
		return completed, b.engine.afterExecutionPathCompleted(element.FlowScope, newElementContext(flowScope), completed, satisfiesCompletionCondition)
	}
	return completed, b.OnElementCompleted(completed)
}

// OnElementCompleted continues the calling call activity when a called process completed.
func (b *StateTransitionBehavior) OnElementCompleted(ctx BpmnElementContext) error {
	if ctx.ElementType() != model.ElementTypeProcess || ctx.Value.ParentElementInstanceKey <= 0 {
		return nil
	}
	callActivity, err := b.engine.state.FindElementInstanceByKey(ctx.Value.ParentElementInstanceKey)
	if err != nil || !callActivity.IsActive() {
		return nil
	}
	b.CompleteElement(newElementContext(callActivity))
	return nil
}

// OnElementTerminated notifies the flow scope container, or the calling call
// activity for a process root, that the element was terminated. A pending
// boundary event trigger of the element is activated instead.
func (b *StateTransitionBehavior) OnElementTerminated(element *model.ExecutableElement, ctx BpmnElementContext, boundaryTrigger *runtime.EventTrigger) error {
	if ctx.FlowScopeKey() > 0 && element.FlowScope != nil {
		flowScope, err := b.engine.state.FindElementInstanceByKey(ctx.FlowScopeKey())
		if err != nil {
			return nil
		}
		if boundaryTrigger != nil && flowScope.IsActive() && !flowScope.IsInterrupted() {
			return b.engine.events.ActivateBoundaryEvent(ctx, *boundaryTrigger)
		}
		return b.engine.onChildTerminated(element.FlowScope, newElementContext(flowScope), ctx)
	}
	if ctx.ElementType() == model.ElementTypeProcess && ctx.Value.ParentElementInstanceKey > 0 {
		callActivity, err := b.engine.state.FindElementInstanceByKey(ctx.Value.ParentElementInstanceKey)
		if err != nil {
			return nil
		}
		callActivityElement, err := b.engine.elementOf(callActivity)
		if err != nil {
			return err
		}
		return b.engine.onChildTerminated(callActivityElement, newElementContext(callActivity), ctx)
	}
	return nil
}

// TakeOutgoingSequenceFlows writes SEQUENCE_FLOW_TAKEN and the activation of the target for every outgoing flow.
func (b *StateTransitionBehavior) TakeOutgoingSequenceFlows(element *model.ExecutableElement, ctx BpmnElementContext) {
	for _, flow := range element.Outgoing {
		flowValue := ctx.Value
		flowValue.ElementId = flow.Id
		flowValue.BpmnElementType = model.ElementTypeSequenceFlow
		flowValue.BpmnEventType = model.EventTypeUnspecified
		b.engine.stateWriter.AppendFollowUpEvent(b.engine.generateKey(), runtime.IntentSequenceFlowTaken, flowValue)
		b.engine.commandWriter.AppendFollowUpCommand(-1, runtime.IntentActivateElement, ctx.siblingRecord(flow.Target), nil)
	}
}

// ActivateChildInstance writes the activation of child inside the container instance of ctx.
func (b *StateTransitionBehavior) ActivateChildInstance(ctx BpmnElementContext, child *model.ExecutableElement) {
	b.engine.commandWriter.AppendFollowUpCommand(-1, runtime.IntentActivateElement, ctx.childRecord(child), nil)
}

// ActivateChildInstances writes n activations of child in one batch.
func (b *StateTransitionBehavior) ActivateChildInstances(ctx BpmnElementContext, child *model.ExecutableElement, n int) {
	for i := 0; i < n; i++ {
		b.ActivateChildInstance(ctx, child)
	}
}

func (b *StateTransitionBehavior) CompleteElement(ctx BpmnElementContext) {
	b.engine.commandWriter.AppendFollowUpCommand(ctx.ElementInstanceKey, runtime.IntentCompleteElement, ctx.Value, nil)
}

func (b *StateTransitionBehavior) TerminateElement(ctx BpmnElementContext) {
	b.engine.commandWriter.AppendFollowUpCommand(ctx.ElementInstanceKey, runtime.IntentTerminateElement, ctx.Value, nil)
}

// TerminateChildInstances writes a termination for every child that is not
// terminating already. It reports whether the container has no active child.
func (b *StateTransitionBehavior) TerminateChildInstances(ctx BpmnElementContext) bool {
	children := b.engine.state.FindChildElementInstances(ctx.ElementInstanceKey)
	for _, child := range children {
		if child.CanTerminate() {
			b.TerminateElement(newElementContext(child))
		}
	}
	return len(children) == 0
}

func (b *StateTransitionBehavior) isFlowScopeInterrupted(ctx BpmnElementContext) bool {
	flowScope, err := b.engine.state.FindElementInstanceByKey(ctx.FlowScopeKey())
	return err == nil && flowScope.IsInterrupted()
}

// CanBeCompleted reports whether the flow scope of childCtx is active and has no
// active child and no pending flow token. Pending tokens of an interrupted scope
// are ignored, their activations are rejected.
func (b *StateTransitionBehavior) CanBeCompleted(childCtx BpmnElementContext) bool {
	flowScope, err := b.engine.state.FindElementInstanceByKey(childCtx.FlowScopeKey())
	if err != nil || !flowScope.IsActive() {
		return false
	}
	return flowScope.ActiveChildren == 0 && (flowScope.ActiveFlows == 0 || flowScope.IsInterrupted())
}
