package bpmn

import (
	"github.com/pbinitiative/zenexec/pkg/bpmn/model"
	"github.com/pbinitiative/zenexec/pkg/bpmn/runtime"
)

// CompensationBehavior keeps track of completed activities that can be
// compensated and activates their handlers when compensation is thrown.
type CompensationBehavior struct {
	engine *Engine
}

// CreateSubscription remembers a completed activity that has a compensation handler.
func (b *CompensationBehavior) CreateSubscription(element *model.ExecutableElement, ctx BpmnElementContext) {
	if element.CompensationHandler == nil {
		return
	}
	for _, subscription := range b.engine.state.FindCompensationSubscriptionsByFlowScopeKey(ctx.FlowScopeKey()) {
		if subscription.ElementInstanceKey == ctx.ElementInstanceKey {
			// completion retried after an incident
			return
		}
	}
	b.engine.stateWriter.AppendFollowUpEvent(b.engine.generateKey(), runtime.IntentCreated, runtime.CompensationSubscriptionRecord{
		ProcessInstanceKey:    ctx.ProcessInstanceKey(),
		ProcessDefinitionKey:  ctx.ProcessDefinitionKey(),
		ElementId:             element.Id,
		ElementInstanceKey:    ctx.ElementInstanceKey,
		FlowScopeKey:          ctx.FlowScopeKey(),
		CompensationHandlerId: element.CompensationHandler.Id,
		Variables:             normalizeDocument(b.engine.state.FindLocalVariables(ctx.ElementInstanceKey)),
	})
}

// TriggerCompensation activates the handlers of all compensable activities
// completed in the flow scope of the throw event. It returns the number of
// activated handlers.
func (b *CompensationBehavior) TriggerCompensation(throwElement *model.ExecutableElement, ctx BpmnElementContext) (int, error) {
	process, err := b.engine.state.GetProcess(ctx.ProcessDefinitionKey())
	if err != nil {
		return 0, &ProcessingError{Msg: "failed to load process definition", Err: err}
	}
	triggered := 0
	for _, subscription := range b.engine.state.FindCompensationSubscriptionsByFlowScopeKey(ctx.FlowScopeKey()) {
		if subscription.State != runtime.CompensationSubscriptionCreated {
			continue
		}
		handler := process.GetElement(subscription.CompensationHandlerId)
		if handler == nil {
			return triggered, newFailuref(runtime.ErrorTypeCompensationError, "compensation handler %s of %s not found", subscription.CompensationHandlerId, subscription.ElementId)
		}
		handlerKey := b.engine.generateKey()
		record := subscription.CompensationSubscriptionRecord
		record.CompensationHandlerInstanceKey = handlerKey
		record.ThrowEventId = throwElement.Id
		record.ThrowEventInstanceKey = ctx.ElementInstanceKey
		b.engine.stateWriter.AppendFollowUpEvent(subscription.Key, runtime.IntentTriggered, record)
		b.engine.commandWriter.AppendFollowUpCommand(handlerKey, runtime.IntentActivateElement, ctx.siblingRecord(handler), subscription.Variables)
		triggered++
	}
	return triggered, nil
}

// OnHandlerCompleted marks the subscription of a finished compensation handler
// as completed. The throw event continues when all its handlers finished.
func (b *CompensationBehavior) OnHandlerCompleted(ctx BpmnElementContext) {
	for _, subscription := range b.engine.state.FindCompensationSubscriptionsByFlowScopeKey(ctx.FlowScopeKey()) {
		if subscription.CompensationHandlerInstanceKey != ctx.ElementInstanceKey {
			continue
		}
		b.engine.stateWriter.AppendFollowUpEvent(subscription.Key, runtime.IntentCompleted, subscription.CompensationSubscriptionRecord)
		if len(b.engine.state.FindCompensationSubscriptionsByThrowEventInstanceKey(subscription.ThrowEventInstanceKey)) > 0 {
			continue
		}
		throwEvent, err := b.engine.state.FindElementInstanceByKey(subscription.ThrowEventInstanceKey)
		if err == nil && throwEvent.IsActive() {
			b.engine.transitions.CompleteElement(newElementContext(throwEvent))
		}
	}
}

// DeleteScopeSubscriptions drops the subscriptions of activities completed inside the sub process of ctx.
func (b *CompensationBehavior) DeleteScopeSubscriptions(ctx BpmnElementContext) {
	b.delete(b.engine.state.FindCompensationSubscriptionsByFlowScopeKey(ctx.ElementInstanceKey))
}

// DeleteProcessInstanceSubscriptions drops all subscriptions of the process instance of ctx.
func (b *CompensationBehavior) DeleteProcessInstanceSubscriptions(ctx BpmnElementContext) {
	b.delete(b.engine.state.FindCompensationSubscriptionsByProcessInstanceKey(ctx.ProcessInstanceKey()))
}

func (b *CompensationBehavior) delete(subscriptions []runtime.CompensationSubscription) {
	for _, subscription := range subscriptions {
		b.engine.stateWriter.AppendFollowUpEvent(subscription.Key, runtime.IntentDeleted, subscription.CompensationSubscriptionRecord)
	}
}
