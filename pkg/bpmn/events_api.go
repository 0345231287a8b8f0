package bpmn

import (
	"context"
	"errors"

	"github.com/pbinitiative/zenexec/pkg/bpmn/model"
	"github.com/pbinitiative/zenexec/pkg/bpmn/runtime"
	otelPkg "github.com/pbinitiative/zenexec/pkg/otel"
	"github.com/pbinitiative/zenexec/pkg/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// PublishMessage correlates a message to every subscription of its name and
// correlation key and starts an instance of every process with a matching
// message start event. It returns the number of correlations, a message
// without subscriber is dropped.
func (engine *Engine) PublishMessage(ctx context.Context, messageName string, correlationKey string, variables map[string]any) (int, error) {
	correlated := 0
	err := engine.execute(ctx, "message:publish", func(ctx context.Context) error {
		correlated = 0
		for _, subscription := range engine.state.FindMessageSubscriptionsByName(messageName, correlationKey) {
			if subscription.ElementInstanceKey <= 0 {
				continue
			}
			// an earlier correlation of this message may have closed it
			if _, err := engine.state.FindMessageSubscriptionByKey(subscription.Key); err != nil {
				continue
			}
			triggered, err := engine.events.TriggerEvent(subscription.ElementInstanceKey, subscription.ProcessDefinitionKey, subscription.ElementId, variables)
			if err != nil {
				return err
			}
			if triggered {
				correlated++
			}
		}
		for _, subscription := range engine.state.FindMessageSubscriptionsByName(messageName, "") {
			if subscription.ElementInstanceKey > 0 {
				continue
			}
			if err := engine.startByEvent(subscription.ProcessDefinitionKey, subscription.ElementId, variables); err != nil {
				return err
			}
			correlated++
		}
		trace.SpanFromContext(ctx).SetAttributes(attribute.Int("correlated", correlated))
		return nil
	})
	return correlated, err
}

// BroadcastSignal triggers every subscription of the signal.
func (engine *Engine) BroadcastSignal(ctx context.Context, signalName string, variables map[string]any) (int, error) {
	triggeredCount := 0
	err := engine.execute(ctx, "signal:broadcast", func(ctx context.Context) error {
		triggeredCount = 0
		for _, subscription := range engine.state.FindSignalSubscriptionsByName(signalName) {
			if subscription.ElementInstanceKey <= 0 {
				if err := engine.startByEvent(subscription.ProcessDefinitionKey, subscription.ElementId, variables); err != nil {
					return err
				}
				triggeredCount++
				continue
			}
			if !engine.isSignalSubscribed(subscription) {
				continue
			}
			triggered, err := engine.events.TriggerEvent(subscription.ElementInstanceKey, subscription.ProcessDefinitionKey, subscription.ElementId, variables)
			if err != nil {
				return err
			}
			if triggered {
				triggeredCount++
			}
		}
		return nil
	})
	return triggeredCount, err
}

func (engine *Engine) isSignalSubscribed(subscription runtime.SignalSubscription) bool {
	for _, current := range engine.state.FindSignalSubscriptionsByElementInstanceKey(subscription.ElementInstanceKey) {
		if current.Key == subscription.Key {
			return true
		}
	}
	return false
}

// startByEvent creates a process instance through one of its start events.
func (engine *Engine) startByEvent(processDefinitionKey int64, startEventId string, variables map[string]any) error {
	definition, err := engine.state.FindProcessDefinitionByKey(processDefinitionKey)
	if err != nil {
		return &ProcessingError{Msg: "process definition of start event subscription not found", Err: err}
	}
	process, err := engine.state.GetProcess(processDefinitionKey)
	if err != nil {
		return &ProcessingError{Msg: "failed to load process definition", Err: err}
	}
	engine.events.StartProcessInstance(definition, process, startEventId, variables)
	return nil
}

// TriggerTimer fires a timer. A cycle is scheduled again until its repetitions
// are used up, unless firing it interrupted the instance that owns it.
func (engine *Engine) TriggerTimer(ctx context.Context, timerKey int64) error {
	return engine.execute(ctx, "timer:trigger", func(ctx context.Context) error {
		timer, err := engine.state.FindTimerByKey(timerKey)
		if err != nil {
			return errors.Join(newEngineErrorf("failed to find timer with key: %d", timerKey), err)
		}
		trace.SpanFromContext(ctx).SetAttributes(
			attribute.Int64(otelPkg.AttributeProcessDefinitionKey, timer.ProcessDefinitionKey),
			attribute.String(otelPkg.AttributeElementId, timer.TargetElementId),
		)
		engine.stateWriter.AppendFollowUpEvent(timer.Key, runtime.IntentTriggered, timer.TimerRecord)

		if timer.ElementInstanceKey <= 0 {
			if err := engine.startByEvent(timer.ProcessDefinitionKey, timer.TargetElementId, nil); err != nil {
				return err
			}
		} else {
			triggered, err := engine.events.TriggerEvent(timer.ElementInstanceKey, timer.ProcessDefinitionKey, timer.TargetElementId, nil)
			if err != nil {
				return err
			}
			if !triggered || timer.Interrupting {
				return nil
			}
		}
		return engine.rescheduleTimer(timer)
	})
}

func (engine *Engine) rescheduleTimer(timer runtime.Timer) error {
	remaining := remainingAfterFiring(timer.Repetitions)
	if remaining == 0 {
		return nil
	}
	process, err := engine.state.GetProcess(timer.ProcessDefinitionKey)
	if err != nil {
		return &ProcessingError{Msg: "failed to load process definition", Err: err}
	}
	catchEvent := process.GetElement(timer.TargetElementId)
	if catchEvent == nil || catchEvent.EventType != model.EventTypeTimer {
		return newProcessingErrorf("timer catch event %s not found in process %s", timer.TargetElementId, process.BpmnProcessId)
	}
	cycle, err := engine.expressions.EvaluateString(catchEvent.Definition().TimeCycle, timer.ElementInstanceKey)
	if err != nil {
		engine.recordTimerFailure(timer, err)
		return nil
	}
	schedule, err := nextCycle(cycle, engine.clock(), remaining)
	if err != nil {
		engine.recordTimerFailure(timer, err)
		return nil
	}
	next := timer.TimerRecord
	next.DueDate = schedule.dueDate.UnixMilli()
	next.Repetitions = schedule.repetitions
	engine.stateWriter.AppendFollowUpEvent(engine.generateKey(), runtime.IntentCreated, next)
	return nil
}

// recordTimerFailure creates an incident when the next firing of a cycle
// owned by an element instance cannot be computed.
func (engine *Engine) recordTimerFailure(timer runtime.Timer, err error) {
	instance, findErr := engine.state.FindElementInstanceByKey(timer.ElementInstanceKey)
	if findErr != nil {
		return
	}
	engine.incidents.CreateIncident(newElementContext(instance),
		newFailuref(runtime.ErrorTypeExtractValueError, "failed to schedule next firing of timer %s: %s", timer.TargetElementId, err), 0)
}

// TriggerDueTimers fires every timer due at the current engine clock and
// returns how many were fired.
func (engine *Engine) TriggerDueTimers(ctx context.Context) (int, error) {
	engine.mu.Lock()
	due := engine.state.FindDueTimers(engine.clock().UnixMilli())
	engine.mu.Unlock()

	fired := 0
	for _, timer := range due {
		err := engine.TriggerTimer(ctx, timer.Key)
		var engineErr *EngineError
		switch {
		case errors.As(err, &engineErr) && errors.Is(err, storage.ErrNotFound):
			// canceled in the meantime
			continue
		case err != nil:
			return fired, err
		}
		fired++
	}
	return fired, nil
}
