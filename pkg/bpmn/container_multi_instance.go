package bpmn

import (
	"fmt"
	"slices"

	"github.com/pbinitiative/zenexec/pkg/bpmn/model"
	"github.com/pbinitiative/zenexec/pkg/bpmn/runtime"
)

const loopCounterVariable = "loopCounter"

// The multi-instance body activates one instance of the inner activity per
// item of the input collection, one after another or all at once.

func (engine *Engine) multiInstanceInputCollection(element *model.ExecutableElement, bodyKey int64) ([]any, error) {
	collection, err := engine.expressions.EvaluateArray(element.LoopCharacteristics.InputCollection, bodyKey)
	if err != nil {
		return nil, newFailuref(runtime.ErrorTypeExtractValueError, "failed to evaluate input collection of %s: %s", element.Id, err)
	}
	return collection, nil
}

func (engine *Engine) multiInstanceOnActivate(element *model.ExecutableElement, ctx BpmnElementContext) error {
	collection, err := engine.multiInstanceInputCollection(element, ctx.ElementInstanceKey)
	if err != nil {
		return err
	}
	if err := engine.events.SubscribeToEvents(element, ctx); err != nil {
		return err
	}
	if outputCollection := element.LoopCharacteristics.OutputCollection; outputCollection != "" {
		engine.variables.SetLocalVariable(ctx, ctx.ElementInstanceKey, outputCollection, make([]any, len(collection)))
	}
	return nil
}

func (engine *Engine) multiInstanceFinalizeActivation(element *model.ExecutableElement, ctx BpmnElementContext) error {
	collection, err := engine.multiInstanceInputCollection(element, ctx.ElementInstanceKey)
	if err != nil {
		return err
	}
	ctx = engine.transitions.TransitionToActivated(ctx)
	switch {
	case len(collection) == 0:
		engine.transitions.CompleteElement(ctx)
	case element.LoopCharacteristics.IsSequential:
		engine.transitions.ActivateChildInstance(ctx, element.InnerActivity)
	default:
		engine.transitions.ActivateChildInstances(ctx, element.InnerActivity, len(collection))
	}
	return nil
}

// multiInstanceOnChildActivating sets the input element and the loop counter
// as local variables of the inner instance.
func (engine *Engine) multiInstanceOnChildActivating(element *model.ExecutableElement, bodyCtx BpmnElementContext, childCtx BpmnElementContext) error {
	collection, err := engine.multiInstanceInputCollection(element, bodyCtx.ElementInstanceKey)
	if err != nil {
		return err
	}
	child, err := engine.state.FindElementInstanceByKey(childCtx.ElementInstanceKey)
	if err != nil {
		return &ProcessingError{Msg: "inner instance of multi-instance body not found", Err: err}
	}
	loopCounter := child.MultiInstanceLoopCounter
	if loopCounter < 1 || loopCounter > len(collection) {
		return newFailuref(runtime.ErrorTypeExtractValueError,
			"expected input collection of %s to have an item at index %d, but it has %d items", element.Id, loopCounter, len(collection))
	}
	if inputElement := element.LoopCharacteristics.InputElement; inputElement != "" {
		engine.variables.SetLocalVariable(childCtx, child.Key, inputElement, collection[loopCounter-1])
	}
	engine.variables.SetLocalVariable(childCtx, child.Key, loopCounterVariable, loopCounter)
	return nil
}

// multiInstanceBeforeExecutionPathCompleted collects the output element of the
// completing inner instance and evaluates the completion condition. The input
// collection the next sequential iteration needs is checked here too, so a
// Failure blocks the completing inner instance and is retried with it.
func (engine *Engine) multiInstanceBeforeExecutionPathCompleted(element *model.ExecutableElement, bodyCtx BpmnElementContext, childCtx BpmnElementContext) (bool, error) {
	loop := element.LoopCharacteristics
	child, err := engine.state.FindElementInstanceByKey(childCtx.ElementInstanceKey)
	if err != nil {
		return false, &ProcessingError{Msg: "inner instance of multi-instance body not found", Err: err}
	}
	var collection []any
	if loop.IsSequential || loop.CompletionCondition != "" {
		collection, err = engine.multiInstanceInputCollection(element, bodyCtx.ElementInstanceKey)
		if err != nil {
			return false, err
		}
	}
	if loop.OutputCollection != "" {
		var outputElement any
		if loop.OutputElement != "" {
			outputElement, err = engine.expressions.EvaluateAny(loop.OutputElement, child.Key)
			if err != nil {
				return false, newFailuref(runtime.ErrorTypeExtractValueError, "failed to evaluate output element of %s: %s", element.Id, err)
			}
		}
		current, ok := engine.state.FindLocalVariables(bodyCtx.ElementInstanceKey)[loop.OutputCollection].([]any)
		if !ok || child.MultiInstanceLoopCounter < 1 || child.MultiInstanceLoopCounter > len(current) {
			return false, newFailuref(runtime.ErrorTypeExtractValueError,
				"unable to store output element of %s at index %d of output collection %s", element.Id, child.MultiInstanceLoopCounter, loop.OutputCollection)
		}
		updated := slices.Clone(current)
		updated[child.MultiInstanceLoopCounter-1] = outputElement
		engine.variables.SetLocalVariable(bodyCtx, bodyCtx.ElementInstanceKey, loop.OutputCollection, updated)
	}

	if loop.CompletionCondition == "" {
		return false, nil
	}
	body, err := engine.state.FindElementInstanceByKey(bodyCtx.ElementInstanceKey)
	if err != nil {
		return false, &ProcessingError{Msg: "multi-instance body not found", Err: err}
	}
	// the completing instance is still counted as active
	satisfied, err := engine.expressions.EvaluateBooleanWithVariables(loop.CompletionCondition, child.Key, map[string]any{
		"numberOfInstances":           len(collection),
		"numberOfActiveInstances":     body.ActiveChildren - 1,
		"numberOfCompletedInstances":  body.ChildrenCompleted + 1,
		"numberOfTerminatedInstances": body.ChildrenTerminated,
		loopCounterVariable:           child.MultiInstanceLoopCounter,
	})
	if err != nil {
		return false, newFailuref(runtime.ErrorTypeConditionError, "failed to evaluate completion condition of %s: %s", element.Id, err)
	}
	return satisfied, nil
}

func (engine *Engine) multiInstanceAfterExecutionPathCompleted(element *model.ExecutableElement, bodyCtx BpmnElementContext, childCtx BpmnElementContext, satisfiesCompletionCondition bool) error {
	if satisfiesCompletionCondition {
		if engine.transitions.TerminateChildInstances(bodyCtx) {
			engine.transitions.CompleteElement(bodyCtx)
		}
		return nil
	}
	if element.LoopCharacteristics.IsSequential {
		body, err := engine.state.FindElementInstanceByKey(bodyCtx.ElementInstanceKey)
		if err != nil || !body.IsActive() {
			return nil
		}
		// evaluated successfully before the inner instance completed
		collection, err := engine.multiInstanceInputCollection(element, bodyCtx.ElementInstanceKey)
		if err != nil {
			return &ProcessingError{Msg: fmt.Sprintf("input collection of %s changed while its inner instance completed", element.Id), Err: err}
		}
		if body.ChildrenCreated < len(collection) {
			engine.transitions.ActivateChildInstance(bodyCtx, element.InnerActivity)
			return nil
		}
	}
	if engine.transitions.CanBeCompleted(childCtx) {
		engine.transitions.CompleteElement(bodyCtx)
	}
	return nil
}

// multiInstanceOnComplete propagates the output collection to the flow scope of the body.
func (engine *Engine) multiInstanceOnComplete(element *model.ExecutableElement, ctx BpmnElementContext) error {
	if outputCollection := element.LoopCharacteristics.OutputCollection; outputCollection != "" {
		value := engine.state.FindLocalVariables(ctx.ElementInstanceKey)[outputCollection]
		engine.variables.MergeDocument(ctx, ctx.FlowScopeKey(), map[string]any{outputCollection: value})
	}
	engine.events.UnsubscribeFromEvents(ctx)
	return nil
}
