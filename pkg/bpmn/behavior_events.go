package bpmn

import (
	"github.com/pbinitiative/zenexec/pkg/bpmn/model"
	"github.com/pbinitiative/zenexec/pkg/bpmn/runtime"
)

// EventSubscriptionBehavior opens the subscriptions of catch events and turns
// occurred events into triggers. A trigger is stored on the instance that owns
// the subscription (PROCESS_EVENT TRIGGERING) and consumed when the catch
// event is activated (PROCESS_EVENT TRIGGERED).
type EventSubscriptionBehavior struct {
	engine *Engine
}

// pendingSubscription is an evaluated subscription that was not written yet.
type pendingSubscription struct {
	intent runtime.Intent
	value  runtime.RecordValue
}

// SubscribeToEvents opens the subscriptions of the boundary events attached to
// element and of the event sub process start events inside it. All
// expressions are evaluated before the first subscription is written.
func (b *EventSubscriptionBehavior) SubscribeToEvents(element *model.ExecutableElement, ctx BpmnElementContext) error {
	catchEvents := make([]*model.ExecutableElement, 0, len(element.BoundaryEvents))
	catchEvents = append(catchEvents, element.BoundaryEvents...)
	if element.Type.IsContainer() {
		catchEvents = append(catchEvents, element.EventSubProcessStartEvents()...)
	}
	subscribed := b.subscribedElementIds(ctx.ElementInstanceKey)
	pending := make([]pendingSubscription, 0, len(catchEvents))
	for _, catchEvent := range catchEvents {
		if !catchEvent.EventType.IsSubscribable() || subscribed[catchEvent.Id] {
			continue
		}
		subscription, err := b.evaluateSubscription(catchEvent, ctx)
		if err != nil {
			return err
		}
		pending = append(pending, subscription)
	}
	for _, subscription := range pending {
		b.engine.stateWriter.AppendFollowUpEvent(b.engine.generateKey(), subscription.intent, subscription.value)
	}
	return nil
}

// subscribedElementIds returns the catch events the instance is subscribed to already.
func (b *EventSubscriptionBehavior) subscribedElementIds(elementInstanceKey int64) map[string]bool {
	res := make(map[string]bool)
	for _, subscription := range b.engine.state.FindMessageSubscriptionsByElementInstanceKey(elementInstanceKey) {
		res[subscription.ElementId] = true
	}
	for _, subscription := range b.engine.state.FindSignalSubscriptionsByElementInstanceKey(elementInstanceKey) {
		res[subscription.ElementId] = true
	}
	for _, timer := range b.engine.state.FindTimersByElementInstanceKey(elementInstanceKey) {
		res[timer.TargetElementId] = true
	}
	return res
}

func (b *EventSubscriptionBehavior) evaluateSubscription(catchEvent *model.ExecutableElement, ctx BpmnElementContext) (pendingSubscription, error) {
	definition := catchEvent.Definition()
	switch catchEvent.EventType {
	case model.EventTypeMessage:
		messageName, err := b.engine.expressions.EvaluateString(definition.MessageName, ctx.ElementInstanceKey)
		if err != nil {
			return pendingSubscription{}, newFailuref(runtime.ErrorTypeExtractValueError, "failed to evaluate message name of %s: %s", catchEvent.Id, err)
		}
		correlationKey, err := b.engine.expressions.EvaluateString(definition.CorrelationKey, ctx.ElementInstanceKey)
		if err != nil {
			return pendingSubscription{}, newFailuref(runtime.ErrorTypeExtractValueError, "failed to evaluate correlation key of %s: %s", catchEvent.Id, err)
		}
		return pendingSubscription{intent: runtime.IntentCreated, value: runtime.MessageSubscriptionRecord{
			ElementInstanceKey:   ctx.ElementInstanceKey,
			ProcessInstanceKey:   ctx.ProcessInstanceKey(),
			ProcessDefinitionKey: ctx.ProcessDefinitionKey(),
			BpmnProcessId:        ctx.Value.BpmnProcessId,
			ElementId:            catchEvent.Id,
			MessageName:          messageName,
			CorrelationKey:       correlationKey,
			Interrupting:         catchEvent.Interrupting,
		}}, nil
	case model.EventTypeSignal:
		signalName, err := b.engine.expressions.EvaluateString(definition.SignalName, ctx.ElementInstanceKey)
		if err != nil {
			return pendingSubscription{}, newFailuref(runtime.ErrorTypeExtractValueError, "failed to evaluate signal name of %s: %s", catchEvent.Id, err)
		}
		return pendingSubscription{intent: runtime.IntentCreated, value: runtime.SignalSubscriptionRecord{
			ElementInstanceKey:   ctx.ElementInstanceKey,
			ProcessInstanceKey:   ctx.ProcessInstanceKey(),
			ProcessDefinitionKey: ctx.ProcessDefinitionKey(),
			BpmnProcessId:        ctx.Value.BpmnProcessId,
			ElementId:            catchEvent.Id,
			SignalName:           signalName,
			Interrupting:         catchEvent.Interrupting,
		}}, nil
	case model.EventTypeTimer:
		schedule, err := b.evaluateTimer(definition, func(expression string) (string, error) {
			return b.engine.expressions.EvaluateString(expression, ctx.ElementInstanceKey)
		})
		if err != nil {
			return pendingSubscription{}, newFailuref(runtime.ErrorTypeExtractValueError, "failed to evaluate timer of %s: %s", catchEvent.Id, err)
		}
		return pendingSubscription{intent: runtime.IntentCreated, value: runtime.TimerRecord{
			ElementInstanceKey:   ctx.ElementInstanceKey,
			ProcessInstanceKey:   ctx.ProcessInstanceKey(),
			ProcessDefinitionKey: ctx.ProcessDefinitionKey(),
			TargetElementId:      catchEvent.Id,
			DueDate:              schedule.dueDate.UnixMilli(),
			Repetitions:          schedule.repetitions,
			Interrupting:         catchEvent.Interrupting,
		}}, nil
	}
	return pendingSubscription{}, newProcessingErrorf("catch event %s of type %s has no subscription", catchEvent.Id, catchEvent.EventType)
}

// UnsubscribeFromEvents closes every subscription owned by the instance of ctx.
func (b *EventSubscriptionBehavior) UnsubscribeFromEvents(ctx BpmnElementContext) {
	b.unsubscribe(ctx, func(string) bool { return true })
}

// unsubscribeEventSubProcesses closes the subscriptions of the event sub process
// start events of the container, its boundary events stay subscribed.
func (b *EventSubscriptionBehavior) unsubscribeEventSubProcesses(container *model.ExecutableElement, ctx BpmnElementContext) {
	b.unsubscribe(ctx, func(elementId string) bool {
		return isEventSubProcessStart(container, elementId)
	})
}

func isEventSubProcessStart(container *model.ExecutableElement, elementId string) bool {
	for _, start := range container.EventSubProcessStartEvents() {
		if start.Id == elementId {
			return true
		}
	}
	return false
}

func (b *EventSubscriptionBehavior) unsubscribe(ctx BpmnElementContext, matches func(elementId string) bool) {
	state := b.engine.state
	for _, subscription := range state.FindMessageSubscriptionsByElementInstanceKey(ctx.ElementInstanceKey) {
		if matches(subscription.ElementId) {
			b.engine.stateWriter.AppendFollowUpEvent(subscription.Key, runtime.IntentDeleted, subscription.MessageSubscriptionRecord)
		}
	}
	for _, subscription := range state.FindSignalSubscriptionsByElementInstanceKey(ctx.ElementInstanceKey) {
		if matches(subscription.ElementId) {
			b.engine.stateWriter.AppendFollowUpEvent(subscription.Key, runtime.IntentDeleted, subscription.SignalSubscriptionRecord)
		}
	}
	for _, timer := range state.FindTimersByElementInstanceKey(ctx.ElementInstanceKey) {
		if matches(timer.TargetElementId) {
			b.engine.stateWriter.AppendFollowUpEvent(timer.Key, runtime.IntentCanceled, timer.TimerRecord)
		}
	}
}

// TriggerEvent handles an event that occurred for the catch event subscribed by
// the instance scopeKey. It reports whether the event was accepted.
func (b *EventSubscriptionBehavior) TriggerEvent(scopeKey int64, processDefinitionKey int64, catchEventId string, variables map[string]any) (bool, error) {
	process, err := b.engine.state.GetProcess(processDefinitionKey)
	if err != nil {
		return false, &ProcessingError{Msg: "failed to load process definition", Err: err}
	}
	catchEvent := process.GetElement(catchEventId)
	if catchEvent == nil {
		return false, newProcessingErrorf("catch event %s not found in process %s", catchEventId, process.BpmnProcessId)
	}
	switch {
	case catchEvent.Type == model.ElementTypeBoundaryEvent:
		return b.triggerBoundaryEvent(catchEvent, scopeKey, variables)
	case catchEvent.Type == model.ElementTypeStartEvent && catchEvent.FlowScope.Type == model.ElementTypeEventSubProcess:
		return b.triggerEventSubProcess(catchEvent, scopeKey, variables)
	}
	return false, newProcessingErrorf("element %s of type %s cannot be triggered in instance %d", catchEventId, catchEvent.Type, scopeKey)
}

func (b *EventSubscriptionBehavior) writeTriggering(scope BpmnElementContext, catchEvent *model.ExecutableElement, variables map[string]any) runtime.EventTrigger {
	trigger := runtime.EventTrigger{
		EventKey: b.engine.generateKey(),
		ProcessEventRecord: runtime.ProcessEventRecord{
			ScopeKey:             scope.ElementInstanceKey,
			TargetElementId:      catchEvent.Id,
			Variables:            normalizeDocument(variables),
			ProcessInstanceKey:   scope.ProcessInstanceKey(),
			ProcessDefinitionKey: scope.ProcessDefinitionKey(),
			Interrupting:         catchEvent.Interrupting,
		},
	}
	b.engine.stateWriter.AppendFollowUpEvent(trigger.EventKey, runtime.IntentTriggering, trigger.ProcessEventRecord)
	return trigger
}

// triggerBoundaryEvent stores the trigger on the attached instance. An
// interrupting boundary event terminates the instance first and is activated
// once the termination finished.
func (b *EventSubscriptionBehavior) triggerBoundaryEvent(boundary *model.ExecutableElement, attachedKey int64, variables map[string]any) (bool, error) {
	attached, err := b.engine.state.FindElementInstanceByKey(attachedKey)
	if err != nil || !attached.IsActive() {
		return false, nil
	}
	ctx := newElementContext(attached)
	trigger := b.writeTriggering(ctx, boundary, variables)
	if boundary.Interrupting {
		b.UnsubscribeFromEvents(ctx)
		b.engine.transitions.TerminateElement(ctx)
		return true, nil
	}
	return true, b.ActivateBoundaryEvent(ctx, trigger)
}

// ActivateBoundaryEvent consumes the trigger and activates the boundary event
// in the flow scope of the instance it is attached to.
func (b *EventSubscriptionBehavior) ActivateBoundaryEvent(attachedCtx BpmnElementContext, trigger runtime.EventTrigger) error {
	process, err := b.engine.state.GetProcess(trigger.ProcessDefinitionKey)
	if err != nil {
		return &ProcessingError{Msg: "failed to load process definition", Err: err}
	}
	boundary := process.GetElement(trigger.TargetElementId)
	if boundary == nil {
		return newProcessingErrorf("boundary event %s not found in process %s", trigger.TargetElementId, process.BpmnProcessId)
	}
	b.engine.stateWriter.AppendFollowUpEvent(trigger.EventKey, runtime.IntentTriggered, trigger.ProcessEventRecord)

	ctx := BpmnElementContext{
		ElementInstanceKey: b.engine.generateKey(),
		Value:              attachedCtx.siblingRecord(boundary),
	}
	ctx = b.engine.transitions.TransitionToActivating(ctx)
	b.engine.variables.MergeDocument(ctx, ctx.FlowScopeKey(), trigger.Variables)
	ctx = b.engine.transitions.TransitionToActivated(ctx)
	b.engine.transitions.CompleteElement(ctx)
	return nil
}

// findBoundaryTrigger returns the pending trigger of a boundary event attached to element.
func (b *EventSubscriptionBehavior) findBoundaryTrigger(element *model.ExecutableElement, instanceKey int64) *runtime.EventTrigger {
	for _, trigger := range b.engine.state.FindEventTriggers(instanceKey) {
		for _, boundary := range element.BoundaryEvents {
			if boundary.Id == trigger.TargetElementId {
				return &trigger
			}
		}
	}
	return nil
}

// triggerEventSubProcess stores the trigger on the container instance. An
// interrupting event sub process is activated once all other children of the
// container were terminated.
func (b *EventSubscriptionBehavior) triggerEventSubProcess(start *model.ExecutableElement, scopeKey int64, variables map[string]any) (bool, error) {
	scope, err := b.engine.state.FindElementInstanceByKey(scopeKey)
	if err != nil || !scope.IsActive() || scope.IsInterrupted() {
		return false, nil
	}
	ctx := newElementContext(scope)
	trigger := b.writeTriggering(ctx, start, variables)
	if !start.Interrupting {
		b.ActivateTriggeredEvent(ctx, trigger)
		return true, nil
	}
	container := start.FlowScope.FlowScope
	b.unsubscribeEventSubProcesses(container, ctx)
	if b.engine.transitions.TerminateChildInstances(ctx) {
		b.ActivateTriggeredEvent(ctx, trigger)
	}
	return true, nil
}

// ActivateInterruptingEventSubProcess activates the event sub process that
// interrupted the scope of ctx after its last child was terminated. It reports
// false when no trigger is pending, the event sub process already ran or the
// scope was ended by a terminate end event.
func (b *EventSubscriptionBehavior) ActivateInterruptingEventSubProcess(scopeCtx BpmnElementContext) (bool, error) {
	scope, err := b.engine.state.FindElementInstanceByKey(scopeCtx.ElementInstanceKey)
	if err != nil {
		return false, nil
	}
	process, err := b.engine.state.GetProcess(scopeCtx.ProcessDefinitionKey())
	if err != nil {
		return false, &ProcessingError{Msg: "failed to load process definition", Err: err}
	}
	for _, trigger := range b.engine.state.FindEventTriggers(scope.Key) {
		target := process.GetElement(trigger.TargetElementId)
		if target != nil && target.FlowScope != nil && target.FlowScope.Id == scope.InterruptingElementId {
			b.ActivateTriggeredEvent(scopeCtx, trigger)
			return true, nil
		}
	}
	return false, nil
}

// ActivateTriggeredEvent consumes the trigger and activates the event sub
// process of its start event inside the container instance of scopeCtx.
func (b *EventSubscriptionBehavior) ActivateTriggeredEvent(scopeCtx BpmnElementContext, trigger runtime.EventTrigger) {
	process, err := b.engine.state.GetProcess(trigger.ProcessDefinitionKey)
	if err != nil {
		return
	}
	start := process.GetElement(trigger.TargetElementId)
	if start == nil || start.FlowScope == nil {
		return
	}
	b.engine.stateWriter.AppendFollowUpEvent(trigger.EventKey, runtime.IntentTriggered, trigger.ProcessEventRecord)
	b.engine.commandWriter.AppendFollowUpCommand(-1, runtime.IntentActivateElement, scopeCtx.childRecord(start.FlowScope), trigger.Variables)
}

// findStartTrigger returns the pending trigger that selects the start event of the process instance.
func (b *EventSubscriptionBehavior) findStartTrigger(process *model.ExecutableElement, instanceKey int64) *runtime.EventTrigger {
	for _, trigger := range b.engine.state.FindEventTriggers(instanceKey) {
		if start := process.Child(trigger.TargetElementId); start != nil && start.Type == model.ElementTypeStartEvent {
			return &trigger
		}
	}
	return nil
}

// StartProcessInstance writes the creation of a process instance. A start
// event id selects the start event through a trigger, otherwise the none start
// event is used. The created instance key is returned.
func (b *EventSubscriptionBehavior) StartProcessInstance(definition runtime.ProcessDefinition, process *model.Process, startEventId string, variables map[string]any) int64 {
	key := b.engine.generateKey()
	value := runtime.ProcessInstanceRecord{
		BpmnElementType:          model.ElementTypeProcess,
		BpmnEventType:            model.EventTypeUnspecified,
		ElementId:                process.Element.Id,
		BpmnProcessId:            definition.BpmnProcessId,
		Version:                  definition.Version,
		ProcessDefinitionKey:     definition.ProcessDefinitionKey,
		ProcessInstanceKey:       key,
		FlowScopeKey:             -1,
		ParentProcessInstanceKey: -1,
		ParentElementInstanceKey: -1,
		TenantId:                 definition.TenantId,
	}
	b.engine.stateWriter.AppendFollowUpEvent(key, runtime.IntentCreated, runtime.ProcessInstanceCreationRecord{
		BpmnProcessId:        definition.BpmnProcessId,
		Version:              definition.Version,
		ProcessDefinitionKey: definition.ProcessDefinitionKey,
		ProcessInstanceKey:   key,
		StartElementId:       startEventId,
		Variables:            normalizeDocument(variables),
	})
	commandVariables := variables
	if startEventId != "" {
		start := process.GetElement(startEventId)
		b.writeTriggering(BpmnElementContext{ElementInstanceKey: key, Value: value}, start, variables)
		commandVariables = nil
	}
	b.engine.commandWriter.AppendFollowUpCommand(key, runtime.IntentActivateElement, value, commandVariables)
	return key
}
