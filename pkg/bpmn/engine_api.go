package bpmn

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/pbinitiative/zenexec/internal/appcontext"
	"github.com/pbinitiative/zenexec/pkg/bpmn/model"
	"github.com/pbinitiative/zenexec/pkg/bpmn/runtime"
	otelPkg "github.com/pbinitiative/zenexec/pkg/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DeployProcess deploys a process definition as the next version of its
// process id. Deploying a resource equal to the latest version returns that
// version unchanged. The start event subscriptions of the previous version are
// replaced by the ones of the new version.
func (engine *Engine) DeployProcess(ctx context.Context, resourceName string, resource []byte) (runtime.ProcessDefinition, error) {
	var res runtime.ProcessDefinition
	err := engine.execute(ctx, "process:deploy", func(ctx context.Context) error {
		process, err := model.ParseProcess(resource)
		if err != nil {
			return errors.Join(newEngineErrorf("failed to compile process definition %s", resourceName), err)
		}
		version := int32(1)
		previous, err := engine.state.FindLatestProcessDefinitionById(process.BpmnProcessId)
		if err == nil {
			if bytes.Equal(previous.Resource, resource) {
				res = previous
				return nil
			}
			version = previous.Version + 1
		}
		definition := runtime.ProcessDefinition{ProcessRecord: runtime.ProcessRecord{
			ProcessDefinitionKey: engine.generateKey(),
			BpmnProcessId:        process.BpmnProcessId,
			Version:              version,
			ResourceName:         resourceName,
			Resource:             resource,
		}}
		subscriptions, err := engine.evaluateStartSubscriptions(definition, process)
		if err != nil {
			return err
		}

		trace.SpanFromContext(ctx).SetAttributes(
			attribute.String(otelPkg.AttributeProcessId, definition.BpmnProcessId),
			attribute.Int64(otelPkg.AttributeProcessDefinitionKey, definition.ProcessDefinitionKey),
		)
		engine.stateWriter.AppendFollowUpEvent(definition.ProcessDefinitionKey, runtime.IntentCreated, definition.ProcessRecord)
		if previous.ProcessDefinitionKey > 0 {
			engine.deleteStartSubscriptions(previous.ProcessDefinitionKey)
		}
		for _, subscription := range subscriptions {
			engine.stateWriter.AppendFollowUpEvent(engine.generateKey(), subscription.intent, subscription.value)
		}
		res = definition
		return nil
	})
	return res, err
}

// evaluateStartSubscriptions evaluates the subscriptions of the message, signal
// and timer start events of a process. They are owned by the definition, there
// is no element instance yet.
func (engine *Engine) evaluateStartSubscriptions(definition runtime.ProcessDefinition, process *model.Process) ([]pendingSubscription, error) {
	res := make([]pendingSubscription, 0)
	for _, start := range process.Element.StartEvents() {
		if !start.EventType.IsSubscribable() {
			continue
		}
		ctx := BpmnElementContext{
			ElementInstanceKey: -1,
			Value: runtime.ProcessInstanceRecord{
				BpmnProcessId:        definition.BpmnProcessId,
				ProcessDefinitionKey: definition.ProcessDefinitionKey,
				ProcessInstanceKey:   -1,
			},
		}
		subscription, err := engine.events.evaluateSubscription(start, ctx)
		if err != nil {
			return nil, errors.Join(newEngineErrorf("failed to subscribe to start event %s", start.Id), err)
		}
		res = append(res, subscription)
	}
	return res, nil
}

func (engine *Engine) deleteStartSubscriptions(processDefinitionKey int64) {
	for _, subscription := range engine.state.FindMessageSubscriptionsByElementInstanceKey(-1) {
		if subscription.ProcessDefinitionKey == processDefinitionKey {
			engine.stateWriter.AppendFollowUpEvent(subscription.Key, runtime.IntentDeleted, subscription.MessageSubscriptionRecord)
		}
	}
	for _, subscription := range engine.state.FindSignalSubscriptionsByElementInstanceKey(-1) {
		if subscription.ProcessDefinitionKey == processDefinitionKey {
			engine.stateWriter.AppendFollowUpEvent(subscription.Key, runtime.IntentDeleted, subscription.SignalSubscriptionRecord)
		}
	}
	for _, timer := range engine.state.FindTimersByProcessDefinitionKey(processDefinitionKey) {
		if timer.ElementInstanceKey <= 0 {
			engine.stateWriter.AppendFollowUpEvent(timer.Key, runtime.IntentCanceled, timer.TimerRecord)
		}
	}
}

type createInstanceOptions struct {
	startElementId       string
	processDefinitionKey int64
}

type CreateInstanceOption = func(*createInstanceOptions)

// WithStartElement starts the instance at the given start event instead of the none start event.
func WithStartElement(elementId string) CreateInstanceOption {
	return func(o *createInstanceOptions) {
		o.startElementId = elementId
	}
}

// WithProcessDefinitionKey creates the instance of an exact version instead of the latest one.
func WithProcessDefinitionKey(processDefinitionKey int64) CreateInstanceOption {
	return func(o *createInstanceOptions) {
		o.processDefinitionKey = processDefinitionKey
	}
}

// CreateProcessInstance creates an instance of the latest version of bpmnProcessId
// and returns its key. A request id in ctx makes the call idempotent.
func (engine *Engine) CreateProcessInstance(ctx context.Context, bpmnProcessId string, variables map[string]any, options ...CreateInstanceOption) (int64, error) {
	opts := createInstanceOptions{}
	for _, option := range options {
		option(&opts)
	}
	requestId, hasRequestId := appcontext.GetRequestId(ctx)
	var key int64
	err := engine.execute(ctx, "process-instance:create", func(ctx context.Context) error {
		if hasRequestId {
			if cached, ok := engine.idempotency.Get(requestId); ok {
				key = cached
				return nil
			}
		}
		var definition runtime.ProcessDefinition
		var err error
		if opts.processDefinitionKey > 0 {
			definition, err = engine.state.FindProcessDefinitionByKey(opts.processDefinitionKey)
		} else {
			definition, err = engine.state.FindLatestProcessDefinitionById(bpmnProcessId)
		}
		if err != nil {
			return errors.Join(newEngineErrorf("no process definition found for %s", bpmnProcessId), err)
		}
		process, err := engine.state.GetProcess(definition.ProcessDefinitionKey)
		if err != nil {
			return errors.Join(newEngineErrorf("failed to load process definition %d", definition.ProcessDefinitionKey), err)
		}
		if opts.startElementId != "" {
			start := process.Element.Child(opts.startElementId)
			if start == nil || start.Type != model.ElementTypeStartEvent {
				return newEngineErrorf("process %s has no start event %s", definition.BpmnProcessId, opts.startElementId)
			}
		} else if process.Element.NoneStartEvent() == nil {
			return newEngineErrorf("process %s has no none start event", definition.BpmnProcessId)
		}
		key = engine.events.StartProcessInstance(definition, process, opts.startElementId, variables)
		trace.SpanFromContext(ctx).SetAttributes(attribute.Int64(otelPkg.AttributeProcessInstanceKey, key))
		if hasRequestId {
			engine.idempotency.Add(requestId, key)
		}
		return nil
	})
	return key, err
}

// CancelProcessInstance terminates a root process instance with everything inside it.
func (engine *Engine) CancelProcessInstance(ctx context.Context, processInstanceKey int64) error {
	return engine.execute(ctx, "process-instance:cancel", func(ctx context.Context) error {
		instance, err := engine.state.FindElementInstanceByKey(processInstanceKey)
		if err != nil || instance.Value.BpmnElementType != model.ElementTypeProcess {
			return newEngineErrorf("process instance %d not found", processInstanceKey)
		}
		if instance.Value.ParentElementInstanceKey > 0 {
			return newEngineErrorf("process instance %d was created by call activity %d, cancel the root instance %d instead",
				processInstanceKey, instance.Value.ParentElementInstanceKey, instance.Value.ParentProcessInstanceKey)
		}
		if !instance.CanTerminate() {
			return newEngineErrorf("process instance %d is already %s", processInstanceKey, instance.State)
		}
		trace.SpanFromContext(ctx).SetAttributes(attribute.Int64(otelPkg.AttributeProcessInstanceKey, processInstanceKey))
		engine.transitions.TerminateElement(newElementContext(instance))
		return nil
	})
}

// ActivateAdHocElements activates elements of an active ad-hoc sub process,
// each in its own inner instance with variables as local variables.
func (engine *Engine) ActivateAdHocElements(ctx context.Context, adHocInstanceKey int64, elementIds []string, variables map[string]any) error {
	return engine.execute(ctx, "ad-hoc:activate", func(ctx context.Context) error {
		instance, err := engine.state.FindElementInstanceByKey(adHocInstanceKey)
		if err != nil || instance.Value.BpmnElementType != model.ElementTypeAdHocSubProcess {
			return newEngineErrorf("ad-hoc sub process instance %d not found", adHocInstanceKey)
		}
		if !instance.IsActive() {
			return newEngineErrorf("expected ad-hoc sub process instance %d to be %s, but was %s", adHocInstanceKey, runtime.IntentElementActivated, instance.State)
		}
		element, err := engine.elementOf(instance)
		if err != nil {
			return err
		}
		children := make([]*model.ExecutableElement, 0, len(elementIds))
		for _, id := range elementIds {
			child, err := adHocElement(element, id)
			if err != nil {
				return newEngineErrorf("failed to activate ad-hoc element: %s", err)
			}
			children = append(children, child)
		}
		adHocCtx := newElementContext(instance)
		for _, child := range children {
			engine.activateAdHocElement(element, adHocCtx, child, variables)
		}
		return nil
	})
}

// Replay rebuilds the state from committed batches and continues with the
// follow-up commands that were written but not processed before.
func (engine *Engine) Replay(ctx context.Context, batches []RecordBatch) error {
	engine.mu.Lock()
	replayer := NewReplayer(engine.state, engine.appliers)
	for _, batch := range batches {
		if err := replayer.ApplyBatch(batch); err != nil {
			engine.mu.Unlock()
			return fmt.Errorf("failed to replay batch of source position %d: %w", batch.SourcePosition, err)
		}
	}
	engine.position = engine.state.LastAppliedPosition()
	engine.mu.Unlock()
	return engine.Resume(ctx, replayer.PendingCommands())
}

// Resume processes commands that were committed by a previous leader but not processed yet.
func (engine *Engine) Resume(ctx context.Context, commands []runtime.Record) error {
	engine.mu.Lock()
	defer engine.mu.Unlock()
	if engine.halted != nil {
		return fmt.Errorf("%w: %w", ErrPartitionHalted, engine.halted)
	}
	engine.position = max(engine.position, engine.state.LastAppliedPosition())
	engine.queue = append(engine.queue, commands...)
	return engine.drainQueue(ctx)
}

func (engine *Engine) GetElementInstance(key int64) (runtime.ElementInstance, error) {
	engine.mu.Lock()
	defer engine.mu.Unlock()
	return engine.state.FindElementInstanceByKey(key)
}

// GetChildElementInstances returns the element instances whose flow scope is key.
func (engine *Engine) GetChildElementInstances(key int64) []runtime.ElementInstance {
	engine.mu.Lock()
	defer engine.mu.Unlock()
	return engine.state.FindChildElementInstances(key)
}

func (engine *Engine) GetIncidents(processInstanceKey int64) []runtime.Incident {
	engine.mu.Lock()
	defer engine.mu.Unlock()
	return engine.state.FindIncidentsByProcessInstanceKey(processInstanceKey)
}

// GetVariables returns the local variables of a scope.
func (engine *Engine) GetVariables(scopeKey int64) map[string]any {
	engine.mu.Lock()
	defer engine.mu.Unlock()
	return engine.state.FindLocalVariables(scopeKey)
}

// GetProcessDefinitions returns the latest version of every deployed process.
func (engine *Engine) GetProcessDefinitions() []runtime.ProcessDefinition {
	engine.mu.Lock()
	defer engine.mu.Unlock()
	return engine.state.FindProcessDefinitions()
}
