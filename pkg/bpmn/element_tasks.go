package bpmn

import (
	"github.com/pbinitiative/zenexec/pkg/bpmn/model"
)

// A task completes right after its activation, a service task waits for its
// job to be completed.

func (engine *Engine) taskOnActivate(element *model.ExecutableElement, ctx BpmnElementContext) error {
	if err := engine.variables.ApplyInputMappings(element, ctx); err != nil {
		return err
	}
	if element.Type == model.ElementTypeServiceTask {
		if err := engine.jobs.CreateJob(element, ctx); err != nil {
			return err
		}
	}
	return engine.events.SubscribeToEvents(element, ctx)
}

func (engine *Engine) taskFinalizeActivation(element *model.ExecutableElement, ctx BpmnElementContext) error {
	ctx = engine.transitions.TransitionToActivated(ctx)
	if element.Type == model.ElementTypeTask {
		engine.transitions.CompleteElement(ctx)
	}
	return nil
}

func (engine *Engine) taskOnComplete(element *model.ExecutableElement, ctx BpmnElementContext) error {
	if _, err := engine.variables.ApplyOutputMappings(element, ctx); err != nil {
		return err
	}
	engine.events.UnsubscribeFromEvents(ctx)
	return nil
}
