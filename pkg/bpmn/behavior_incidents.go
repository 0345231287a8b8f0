package bpmn

import (
	"github.com/pbinitiative/zenexec/pkg/bpmn/runtime"
)

// IncidentBehavior creates and resolves incidents. An incident blocks the
// element instance in the state it failed in until it is resolved.
type IncidentBehavior struct {
	engine *Engine
}

// CreateIncident writes INCIDENT CREATED for the instance of ctx. jobKey is 0
// when the incident is not caused by a job.
func (b *IncidentBehavior) CreateIncident(ctx BpmnElementContext, failure *Failure, jobKey int64) int64 {
	key := b.engine.generateKey()
	b.engine.stateWriter.AppendFollowUpEvent(key, runtime.IntentCreated, runtime.IncidentRecord{
		ErrorType:            failure.ErrorType,
		ErrorMessage:         failure.Message,
		ElementId:            ctx.ElementId(),
		ElementInstanceKey:   ctx.ElementInstanceKey,
		ProcessInstanceKey:   ctx.ProcessInstanceKey(),
		ProcessDefinitionKey: ctx.ProcessDefinitionKey(),
		BpmnProcessId:        ctx.Value.BpmnProcessId,
		VariableScopeKey:     ctx.ElementInstanceKey,
		JobKey:               jobKey,
	})
	return key
}

// ResolveIncidents resolves all incidents of the instance of ctx, used when the instance is terminated.
func (b *IncidentBehavior) ResolveIncidents(ctx BpmnElementContext) {
	for _, incident := range b.engine.state.FindIncidentsByElementInstanceKey(ctx.ElementInstanceKey) {
		b.engine.stateWriter.AppendFollowUpEvent(incident.Key, runtime.IntentResolved, incident.IncidentRecord)
	}
}
