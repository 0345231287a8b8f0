package bpmn

import (
	"github.com/pbinitiative/zenexec/pkg/bpmn/model"
	"github.com/pbinitiative/zenexec/pkg/bpmn/runtime"
)

// Start, end, intermediate throw and boundary events. Catch events are
// activated through their triggers, the processors below only decide what a
// throw does.

func (engine *Engine) eventOnActivate(element *model.ExecutableElement, ctx BpmnElementContext) error {
	if err := engine.variables.ApplyInputMappings(element, ctx); err != nil {
		return err
	}
	if element.Type == model.ElementTypeEndEvent && element.EventType == model.EventTypeError {
		errorCode := element.Definition().ErrorCode
		caught, err := engine.errorEvents.ThrowErrorEvent(ctx, errorCode, nil)
		if err != nil {
			return err
		}
		if !caught {
			return newFailuref(runtime.ErrorTypeUnhandledErrorEvent,
				"expected to throw an error event with the code '%s', but it was not caught", errorCode)
		}
	}
	return nil
}

func (engine *Engine) eventFinalizeActivation(element *model.ExecutableElement, ctx BpmnElementContext) error {
	switch element.EventType {
	case model.EventTypeError:
		if element.Type == model.ElementTypeEndEvent {
			// the thrown error terminates this instance together with its scope
			return nil
		}
	case model.EventTypeCompensation:
		if element.Type == model.ElementTypeEndEvent || element.Type == model.ElementTypeIntermediateThrowEvent {
			ctx = engine.transitions.TransitionToActivated(ctx)
			triggered, err := engine.compensation.TriggerCompensation(element, ctx)
			if err != nil {
				return err
			}
			if triggered == 0 {
				engine.transitions.CompleteElement(ctx)
			}
			return nil
		}
	}
	ctx = engine.transitions.TransitionToActivated(ctx)
	engine.transitions.CompleteElement(ctx)
	return nil
}

func (engine *Engine) eventOnComplete(element *model.ExecutableElement, ctx BpmnElementContext) error {
	if _, err := engine.variables.ApplyOutputMappings(element, ctx); err != nil {
		return err
	}
	if element.Type == model.ElementTypeEndEvent && element.EventType == model.EventTypeTerminate {
		engine.terminateSiblings(ctx)
	}
	return nil
}

// terminateSiblings terminates every other instance in the flow scope of ctx.
// The flow scope completes once the last of them was terminated.
func (engine *Engine) terminateSiblings(ctx BpmnElementContext) {
	for _, sibling := range engine.state.FindChildElementInstances(ctx.FlowScopeKey()) {
		if sibling.Key != ctx.ElementInstanceKey && sibling.CanTerminate() {
			engine.transitions.TerminateElement(newElementContext(sibling))
		}
	}
}

// leafOnTerminate cleans up what the instance owns and finalizes the termination right away.
func (engine *Engine) leafOnTerminate(element *model.ExecutableElement, ctx BpmnElementContext) (TransitionOutcome, error) {
	engine.jobs.CancelJob(ctx)
	engine.events.UnsubscribeFromEvents(ctx)
	engine.incidents.ResolveIncidents(ctx)
	return TransitionOutcomeContinue, engine.finalizeTermination(element, ctx)
}
