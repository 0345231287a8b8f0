package bpmn

import (
	"maps"
	"reflect"
	"slices"

	"github.com/pbinitiative/zenexec/pkg/bpmn/model"
	"github.com/pbinitiative/zenexec/pkg/bpmn/runtime"
)

// VariableBehavior writes VARIABLE events. Variables are written one event per
// name in sorted order so equal documents always produce equal batches.
type VariableBehavior struct {
	engine *Engine
}

// SetLocalVariable sets the variable in scopeKey itself. Setting a variable
// to the value it already has writes nothing.
func (b *VariableBehavior) SetLocalVariable(ctx BpmnElementContext, scopeKey int64, name string, value any) {
	value = normalizeValue(value)
	intent := runtime.IntentCreated
	if current, exists := b.engine.state.FindLocalVariables(scopeKey)[name]; exists {
		if reflect.DeepEqual(current, value) {
			return
		}
		intent = runtime.IntentUpdated
	}
	b.engine.stateWriter.AppendFollowUpEvent(b.engine.generateKey(), intent, runtime.VariableRecord{
		Name:                 name,
		Value:                value,
		ScopeKey:             scopeKey,
		ProcessInstanceKey:   ctx.ProcessInstanceKey(),
		ProcessDefinitionKey: ctx.ProcessDefinitionKey(),
		BpmnProcessId:        ctx.Value.BpmnProcessId,
	})
}

func (b *VariableBehavior) SetLocalVariables(ctx BpmnElementContext, scopeKey int64, variables map[string]any) {
	for _, name := range slices.Sorted(maps.Keys(variables)) {
		b.SetLocalVariable(ctx, scopeKey, name, variables[name])
	}
}

// MergeDocument sets every variable in the nearest scope, starting at scopeKey,
// that already defines it. Unknown variables are created in the root scope.
func (b *VariableBehavior) MergeDocument(ctx BpmnElementContext, scopeKey int64, document map[string]any) {
	if len(document) == 0 {
		return
	}
	rootScopeKey := b.rootScopeKey(scopeKey)
	for _, name := range slices.Sorted(maps.Keys(document)) {
		target, ok := b.engine.state.FindVariableScope(scopeKey, name)
		if !ok {
			target = rootScopeKey
		}
		b.SetLocalVariable(ctx, target, name, document[name])
	}
}

func (b *VariableBehavior) rootScopeKey(scopeKey int64) int64 {
	root := scopeKey
	for {
		parent, ok := b.engine.state.FindParentScopeKey(root)
		if !ok || parent <= 0 {
			return root
		}
		root = parent
	}
}

// ApplyInputMappings evaluates the input mappings of element and sets the results as local variables.
func (b *VariableBehavior) ApplyInputMappings(element *model.ExecutableElement, ctx BpmnElementContext) error {
	if len(element.Input) == 0 {
		return nil
	}
	holder := b.engine.state.GetVariableHolder(ctx.ElementInstanceKey)
	result, err := holder.EvaluateMappings(element.Input, b.engine.evaluator.Evaluate)
	if err != nil {
		return newFailuref(runtime.ErrorTypeIoMappingError, "failed to evaluate input mappings of %s: %s", element.Id, err)
	}
	b.SetLocalVariables(ctx, ctx.ElementInstanceKey, result)
	return nil
}

// ApplyOutputMappings evaluates the output mappings of element and merges the
// result into its flow scope. It reports whether the element has output mappings.
func (b *VariableBehavior) ApplyOutputMappings(element *model.ExecutableElement, ctx BpmnElementContext) (bool, error) {
	if len(element.Output) == 0 {
		return false, nil
	}
	holder := b.engine.state.GetVariableHolder(ctx.ElementInstanceKey)
	result, err := holder.EvaluateMappings(element.Output, b.engine.evaluator.Evaluate)
	if err != nil {
		return true, newFailuref(runtime.ErrorTypeIoMappingError, "failed to evaluate output mappings of %s: %s", element.Id, err)
	}
	b.MergeDocument(ctx, ctx.FlowScopeKey(), result)
	return true, nil
}
