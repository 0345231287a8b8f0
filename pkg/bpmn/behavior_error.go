package bpmn

import (
	"github.com/pbinitiative/zenexec/pkg/bpmn/model"
)

// ErrorEventBehavior finds the catch event of a thrown BPMN error. The search
// starts at the throwing instance and walks up the flow scopes, crossing from a
// called process into its call activity.
type ErrorEventBehavior struct {
	engine *Engine
}

// ThrowErrorEvent triggers the nearest error catch event matching errorCode.
// It reports false when no catch event was found.
func (b *ErrorEventBehavior) ThrowErrorEvent(throwCtx BpmnElementContext, errorCode string, variables map[string]any) (bool, error) {
	current := throwCtx
	for {
		element, err := b.engine.lookupElement(current.Value)
		if err != nil {
			return false, err
		}
		if current.ElementInstanceKey != throwCtx.ElementInstanceKey && element.Type.IsContainer() {
			if start := findErrorCatchEvent(element.EventSubProcessStartEvents(), errorCode); start != nil {
				triggered, err := b.engine.events.triggerEventSubProcess(start, current.ElementInstanceKey, variables)
				if err != nil || triggered {
					return triggered, err
				}
			}
		}
		if boundary := findErrorCatchEvent(element.BoundaryEvents, errorCode); boundary != nil {
			triggered, err := b.engine.events.triggerBoundaryEvent(boundary, current.ElementInstanceKey, variables)
			if err != nil || triggered {
				return triggered, err
			}
		}

		next := current.FlowScopeKey()
		if next <= 0 {
			next = current.Value.ParentElementInstanceKey
		}
		if next <= 0 {
			return false, nil
		}
		instance, err := b.engine.state.FindElementInstanceByKey(next)
		if err != nil {
			return false, nil
		}
		current = newElementContext(instance)
	}
}

// findErrorCatchEvent prefers a catch event for exactly errorCode over one catching all errors.
func findErrorCatchEvent(catchEvents []*model.ExecutableElement, errorCode string) *model.ExecutableElement {
	var catchAll *model.ExecutableElement
	for _, catchEvent := range catchEvents {
		if catchEvent.EventType != model.EventTypeError {
			continue
		}
		code := catchEvent.Definition().ErrorCode
		if code == errorCode {
			return catchEvent
		}
		if code == "" && catchAll == nil {
			catchAll = catchEvent
		}
	}
	return catchAll
}
