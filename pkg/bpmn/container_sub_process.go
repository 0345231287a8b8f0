package bpmn

import (
	"github.com/pbinitiative/zenexec/pkg/bpmn/model"
	"github.com/pbinitiative/zenexec/pkg/bpmn/runtime"
)

func (engine *Engine) subProcessOnActivate(element *model.ExecutableElement, ctx BpmnElementContext) error {
	if err := engine.variables.ApplyInputMappings(element, ctx); err != nil {
		return err
	}
	return engine.events.SubscribeToEvents(element, ctx)
}

func (engine *Engine) subProcessFinalizeActivation(element *model.ExecutableElement, ctx BpmnElementContext) error {
	start := element.NoneStartEvent()
	if start == nil {
		return newFailuref(runtime.ErrorTypeUnknown, "expected sub process %s to have a none start event", element.Id)
	}
	ctx = engine.transitions.TransitionToActivated(ctx)
	engine.transitions.ActivateChildInstance(ctx, start)
	return nil
}

// subProcessOnComplete is shared by embedded and event sub processes.
func (engine *Engine) subProcessOnComplete(element *model.ExecutableElement, ctx BpmnElementContext) error {
	if _, err := engine.variables.ApplyOutputMappings(element, ctx); err != nil {
		return err
	}
	engine.events.UnsubscribeFromEvents(ctx)
	engine.compensation.DeleteScopeSubscriptions(ctx)
	return nil
}

func (engine *Engine) eventSubProcessOnActivate(element *model.ExecutableElement, ctx BpmnElementContext) error {
	return engine.events.SubscribeToEvents(element, ctx)
}

// eventSubProcessFinalizeActivation activates the single start event, the
// trigger that started the event sub process was consumed already.
func (engine *Engine) eventSubProcessFinalizeActivation(element *model.ExecutableElement, ctx BpmnElementContext) error {
	starts := element.StartEvents()
	if len(starts) == 0 {
		return newFailuref(runtime.ErrorTypeUnknown, "expected event sub process %s to have a start event", element.Id)
	}
	ctx = engine.transitions.TransitionToActivated(ctx)
	engine.transitions.ActivateChildInstance(ctx, starts[0])
	return nil
}

// activityFinalizeCompletion completes an activity. A finished compensation
// handler notifies its throw event and a compensable activity leaves a
// compensation subscription behind.
func (engine *Engine) activityFinalizeCompletion(element *model.ExecutableElement, ctx BpmnElementContext) error {
	if element.IsForCompensation {
		engine.compensation.OnHandlerCompleted(ctx)
	}
	engine.compensation.CreateSubscription(element, ctx)
	_, err := engine.transitions.TransitionToCompleted(element, ctx)
	return err
}
