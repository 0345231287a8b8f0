package bpmn

import (
	"github.com/pbinitiative/zenexec/pkg/bpmn/model"
	"github.com/pbinitiative/zenexec/pkg/bpmn/runtime"
)

func (engine *Engine) processOnActivate(element *model.ExecutableElement, ctx BpmnElementContext) error {
	return engine.events.SubscribeToEvents(element, ctx)
}

// processFinalizeActivation activates the start event selected by a pending
// trigger or the none start event.
func (engine *Engine) processFinalizeActivation(element *model.ExecutableElement, ctx BpmnElementContext) error {
	trigger := engine.events.findStartTrigger(element, ctx.ElementInstanceKey)
	var start *model.ExecutableElement
	if trigger != nil {
		start = element.Child(trigger.TargetElementId)
	} else {
		start = element.NoneStartEvent()
	}
	if start == nil {
		return newFailuref(runtime.ErrorTypeUnknown, "expected process %s to have a none start event", element.Id)
	}
	ctx = engine.transitions.TransitionToActivated(ctx)
	if trigger != nil {
		engine.stateWriter.AppendFollowUpEvent(trigger.EventKey, runtime.IntentTriggered, trigger.ProcessEventRecord)
		engine.variables.SetLocalVariables(ctx, ctx.ElementInstanceKey, trigger.Variables)
	}
	engine.transitions.ActivateChildInstance(ctx, start)
	return nil
}

func (engine *Engine) processOnComplete(_ *model.ExecutableElement, ctx BpmnElementContext) error {
	engine.events.UnsubscribeFromEvents(ctx)
	engine.compensation.DeleteProcessInstanceSubscriptions(ctx)
	if ctx.Value.ParentElementInstanceKey <= 0 {
		return nil
	}
	callActivity, err := engine.state.FindElementInstanceByKey(ctx.Value.ParentElementInstanceKey)
	if err != nil {
		return nil
	}
	callActivityElement, err := engine.elementOf(callActivity)
	if err != nil {
		return err
	}
	if callActivityElement.CalledElement.ShouldPropagateAllChildVariables() || len(callActivityElement.Output) > 0 {
		// the call activity applies its output mappings to the variables of the child
		engine.variables.SetLocalVariables(newElementContext(callActivity), callActivity.Key, engine.state.FindLocalVariables(ctx.ElementInstanceKey))
	}
	return nil
}
