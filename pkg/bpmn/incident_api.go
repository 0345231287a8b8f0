package bpmn

import (
	"context"
	"errors"

	"github.com/pbinitiative/zenexec/pkg/bpmn/runtime"
	otelPkg "github.com/pbinitiative/zenexec/pkg/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ResolveIncident resolves an incident and continues the blocked instance.
// An incident of a job makes the job activatable again, its retries have to be
// updated first. Any other incident retries the step the instance failed in.
func (engine *Engine) ResolveIncident(ctx context.Context, incidentKey int64) error {
	return engine.execute(ctx, "incident:resolve", func(ctx context.Context) error {
		incident, err := engine.state.FindIncidentByKey(incidentKey)
		if err != nil {
			return errors.Join(newEngineErrorf("failed to find incident with key: %d", incidentKey), err)
		}
		trace.SpanFromContext(ctx).SetAttributes(
			attribute.Int64(otelPkg.AttributeIncidentKey, incident.Key),
			attribute.Int64(otelPkg.AttributeProcessInstanceKey, incident.ProcessInstanceKey),
		)
		if incident.JobKey > 0 {
			job, err := engine.state.FindJobByKey(incident.JobKey)
			if err == nil && job.Retries <= 0 {
				return newEngineErrorf("job %d of incident %d has no retries left, update its retries first", job.Key, incident.Key)
			}
		}
		engine.stateWriter.AppendFollowUpEvent(incident.Key, runtime.IntentResolved, incident.IncidentRecord)
		if incident.JobKey > 0 {
			return nil
		}
		instance, err := engine.state.FindElementInstanceByKey(incident.ElementInstanceKey)
		if err != nil {
			return nil
		}
		return engine.retry(instance)
	})
}
