package bpmn

import (
	"github.com/pbinitiative/zenexec/pkg/bpmn/model"
	"github.com/pbinitiative/zenexec/pkg/bpmn/runtime"
)

// An ad-hoc sub process hosts every activated element in its own inner
// instance. The inner instances are created with events only, they have no
// command lifecycle of their own.

func (engine *Engine) adHocOnActivate(element *model.ExecutableElement, ctx BpmnElementContext) error {
	if err := engine.variables.ApplyInputMappings(element, ctx); err != nil {
		return err
	}
	return engine.events.SubscribeToEvents(element, ctx)
}

// adHocFinalizeActivation activates the elements named by the active elements
// collection. The collection is evaluated before the instance is activated.
func (engine *Engine) adHocFinalizeActivation(element *model.ExecutableElement, ctx BpmnElementContext) error {
	activeElements := make([]*model.ExecutableElement, 0)
	if element.AdHoc.ActiveElementsCollection != "" {
		collection, err := engine.expressions.EvaluateArray(element.AdHoc.ActiveElementsCollection, ctx.ElementInstanceKey)
		if err != nil {
			return newFailuref(runtime.ErrorTypeExtractValueError, "failed to evaluate active elements collection of %s: %s", element.Id, err)
		}
		for _, item := range collection {
			id, ok := item.(string)
			if !ok {
				return newFailuref(runtime.ErrorTypeExtractValueError, "expected active elements collection of %s to contain element ids, but found %T", element.Id, item)
			}
			child, err := adHocElement(element, id)
			if err != nil {
				return err
			}
			activeElements = append(activeElements, child)
		}
	}
	ctx = engine.transitions.TransitionToActivated(ctx)
	for _, child := range activeElements {
		engine.activateAdHocElement(element, ctx, child, nil)
	}
	return nil
}

func adHocElement(element *model.ExecutableElement, id string) (*model.ExecutableElement, error) {
	if !element.IsAdHocElement(id) {
		return nil, newFailuref(runtime.ErrorTypeExtractValueError, "element %s cannot be activated in ad-hoc sub process %s", id, element.Id)
	}
	return element.InnerInstance.Child(id), nil
}

// activateAdHocElement creates an inner instance and activates child inside it.
func (engine *Engine) activateAdHocElement(element *model.ExecutableElement, adHocCtx BpmnElementContext, child *model.ExecutableElement, variables map[string]any) {
	innerCtx := BpmnElementContext{
		ElementInstanceKey: engine.generateKey(),
		Value:              adHocCtx.childRecord(element.InnerInstance),
	}
	innerCtx = engine.transitions.TransitionToActivating(innerCtx)
	engine.variables.SetLocalVariables(innerCtx, innerCtx.ElementInstanceKey, variables)
	innerCtx = engine.transitions.TransitionToActivated(innerCtx)
	engine.transitions.ActivateChildInstance(innerCtx, child)
}

// adHocBeforeExecutionPathCompleted evaluates the completion condition when an inner instance completes.
func (engine *Engine) adHocBeforeExecutionPathCompleted(element *model.ExecutableElement, flowScopeCtx BpmnElementContext, _ BpmnElementContext) (bool, error) {
	if element.AdHoc.CompletionCondition == "" {
		return false, nil
	}
	satisfied, err := engine.expressions.EvaluateBoolean(element.AdHoc.CompletionCondition, flowScopeCtx.ElementInstanceKey)
	if err != nil {
		return false, newFailuref(runtime.ErrorTypeConditionError, "failed to evaluate completion condition of %s: %s", element.Id, err)
	}
	return satisfied, nil
}

func (engine *Engine) adHocAfterExecutionPathCompleted(element *model.ExecutableElement, flowScopeCtx BpmnElementContext, childCtx BpmnElementContext, satisfiesCompletionCondition bool) error {
	switch {
	case element.AdHoc.CompletionCondition == "":
		if engine.transitions.CanBeCompleted(childCtx) {
			engine.transitions.CompleteElement(flowScopeCtx)
		}
	case satisfiesCompletionCondition && element.AdHoc.CancelRemainingInstances:
		if engine.transitions.TerminateChildInstances(flowScopeCtx) {
			engine.transitions.CompleteElement(flowScopeCtx)
		}
	case satisfiesCompletionCondition:
		if engine.transitions.CanBeCompleted(childCtx) {
			engine.transitions.CompleteElement(flowScopeCtx)
		}
	}
	return nil
}

func (engine *Engine) adHocOnComplete(element *model.ExecutableElement, ctx BpmnElementContext) error {
	if _, err := engine.variables.ApplyOutputMappings(element, ctx); err != nil {
		return err
	}
	engine.events.UnsubscribeFromEvents(ctx)
	return nil
}
