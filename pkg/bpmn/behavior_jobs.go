package bpmn

import (
	"strconv"

	"github.com/pbinitiative/zenexec/pkg/bpmn/model"
	"github.com/pbinitiative/zenexec/pkg/bpmn/runtime"
)

const DefaultJobRetries = 3

// JobBehavior creates and cancels the jobs of service tasks.
type JobBehavior struct {
	engine *Engine
}

// CreateJob writes JOB CREATED for the service task instance of ctx. Type
// and retries are evaluated before anything is written.
func (b *JobBehavior) CreateJob(element *model.ExecutableElement, ctx BpmnElementContext) error {
	if _, err := b.engine.state.FindJobByElementInstanceKey(ctx.ElementInstanceKey); err == nil {
		// activation retried after an incident
		return nil
	}
	jobType, err := b.engine.expressions.EvaluateString(element.TaskDefinition.TypeName, ctx.ElementInstanceKey)
	if err != nil {
		return newFailuref(runtime.ErrorTypeExtractValueError, "failed to evaluate job type of %s: %s", element.Id, err)
	}
	retries := DefaultJobRetries
	if element.TaskDefinition.Retries != "" {
		value, err := b.engine.expressions.EvaluateString(element.TaskDefinition.Retries, ctx.ElementInstanceKey)
		if err != nil {
			return newFailuref(runtime.ErrorTypeExtractValueError, "failed to evaluate job retries of %s: %s", element.Id, err)
		}
		retries, err = strconv.Atoi(value)
		if err != nil {
			return newFailuref(runtime.ErrorTypeExtractValueError, "job retries %q of %s is not a number", value, element.Id)
		}
	}
	b.engine.stateWriter.AppendFollowUpEvent(b.engine.generateKey(), runtime.IntentCreated, runtime.JobRecord{
		Type:                 jobType,
		Retries:              int32(retries),
		ElementId:            ctx.ElementId(),
		ElementInstanceKey:   ctx.ElementInstanceKey,
		ProcessInstanceKey:   ctx.ProcessInstanceKey(),
		ProcessDefinitionKey: ctx.ProcessDefinitionKey(),
		BpmnProcessId:        ctx.Value.BpmnProcessId,
	})
	return nil
}

// CancelJob cancels the job of the instance of ctx if there is one.
func (b *JobBehavior) CancelJob(ctx BpmnElementContext) {
	job, err := b.engine.state.FindJobByElementInstanceKey(ctx.ElementInstanceKey)
	if err != nil {
		return
	}
	b.engine.stateWriter.AppendFollowUpEvent(job.Key, runtime.IntentCanceled, job.JobRecord)
}
