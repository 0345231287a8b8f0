package bpmn

import (
	"context"
	"errors"
	"fmt"

	"github.com/pbinitiative/zenexec/pkg/bpmn/runtime"
	otelPkg "github.com/pbinitiative/zenexec/pkg/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ActivatedJob is a job handed to a worker together with the variables visible to its task.
type ActivatedJob struct {
	runtime.Job
	Variables map[string]any `json:"variables"`
}

// FindActivatableJobs returns the jobs of jobType a worker can work on.
func (engine *Engine) FindActivatableJobs(jobType string) []ActivatedJob {
	engine.mu.Lock()
	defer engine.mu.Unlock()
	res := make([]ActivatedJob, 0)
	for _, job := range engine.state.FindJobsByType(jobType) {
		if job.State != runtime.JobStateActivatable {
			continue
		}
		res = append(res, ActivatedJob{
			Job:       job,
			Variables: engine.state.GetVariableHolder(job.ElementInstanceKey).Document(),
		})
	}
	return res
}

// findJobInstance loads an activatable job and the instance of its service task.
func (engine *Engine) findJobInstance(ctx context.Context, jobKey int64) (runtime.Job, runtime.ElementInstance, error) {
	job, err := engine.state.FindJobByKey(jobKey)
	if err != nil {
		return job, runtime.ElementInstance{}, errors.Join(newEngineErrorf("failed to find job with key: %d", jobKey), err)
	}
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.Int64(otelPkg.AttributeJobKey, job.Key),
		attribute.Int64(otelPkg.AttributeProcessInstanceKey, job.ProcessInstanceKey),
	)
	if job.State != runtime.JobStateActivatable {
		return job, runtime.ElementInstance{}, newEngineErrorf("job %d is %s and cannot be worked on", job.Key, job.State)
	}
	instance, err := engine.state.FindElementInstanceByKey(job.ElementInstanceKey)
	if err != nil || !instance.IsActive() {
		return job, instance, newEngineErrorf("expected element instance %d of job %d to be %s", job.ElementInstanceKey, job.Key, runtime.IntentElementActivated)
	}
	return job, instance, nil
}

// CompleteJob completes the job and its service task. Without output mappings
// the variables are merged into the scopes of the task, otherwise they become
// local variables the output mappings are applied to.
func (engine *Engine) CompleteJob(ctx context.Context, jobKey int64, variables map[string]any) error {
	return engine.execute(ctx, "job:complete", func(ctx context.Context) error {
		job, instance, err := engine.findJobInstance(ctx, jobKey)
		if err != nil {
			return err
		}
		element, err := engine.elementOf(instance)
		if err != nil {
			return err
		}
		record := job.JobRecord
		record.Variables = normalizeDocument(variables)
		engine.stateWriter.AppendFollowUpEvent(job.Key, runtime.IntentCompleted, record)

		taskCtx := newElementContext(instance)
		if len(element.Output) > 0 {
			engine.variables.SetLocalVariables(taskCtx, instance.Key, variables)
		} else {
			engine.variables.MergeDocument(taskCtx, instance.Key, variables)
		}
		engine.transitions.CompleteElement(taskCtx)
		return nil
	})
}

// FailJob reports a failed attempt. The job stays activatable while it has
// retries left, otherwise an incident is created for its task.
func (engine *Engine) FailJob(ctx context.Context, jobKey int64, retries int32, errorMessage string) error {
	return engine.execute(ctx, "job:fail", func(ctx context.Context) error {
		job, instance, err := engine.findJobInstance(ctx, jobKey)
		if err != nil {
			return err
		}
		record := job.JobRecord
		record.Retries = retries
		record.ErrorMessage = errorMessage
		engine.stateWriter.AppendFollowUpEvent(job.Key, runtime.IntentFailed, record)
		if retries <= 0 {
			message := errorMessage
			if message == "" {
				message = "no more retries left"
			}
			engine.incidents.CreateIncident(newElementContext(instance), newFailuref(runtime.ErrorTypeJobNoRetries, "%s", message), job.Key)
		}
		return nil
	})
}

// ThrowJobError throws a BPMN error from the service task of the job. An
// error nobody catches becomes an incident of the task.
func (engine *Engine) ThrowJobError(ctx context.Context, jobKey int64, errorCode string, errorMessage string, variables map[string]any) error {
	return engine.execute(ctx, "job:throw-error", func(ctx context.Context) error {
		job, instance, err := engine.findJobInstance(ctx, jobKey)
		if err != nil {
			return err
		}
		record := job.JobRecord
		record.ErrorCode = errorCode
		record.ErrorMessage = errorMessage
		engine.stateWriter.AppendFollowUpEvent(job.Key, runtime.IntentErrorThrown, record)

		taskCtx := newElementContext(instance)
		caught, err := engine.errorEvents.ThrowErrorEvent(taskCtx, errorCode, variables)
		if err != nil {
			return err
		}
		if !caught {
			engine.incidents.CreateIncident(taskCtx, newFailuref(runtime.ErrorTypeUnhandledErrorEvent,
				"expected to throw an error event with the code '%s' with message '%s', but it was not caught", errorCode, errorMessage), job.Key)
		}
		return nil
	})
}

// UpdateJobRetries sets the retries of a job, a failed job becomes activatable
// again once its incident is resolved.
func (engine *Engine) UpdateJobRetries(ctx context.Context, jobKey int64, retries int32) error {
	return engine.execute(ctx, "job:update-retries", func(ctx context.Context) error {
		job, err := engine.state.FindJobByKey(jobKey)
		if err != nil {
			return errors.Join(newEngineErrorf("failed to find job with key: %d", jobKey), err)
		}
		if retries < 1 {
			return newEngineErrorf("expected retries of job %d to be positive, but was %d", jobKey, retries)
		}
		trace.SpanFromContext(ctx).SetAttributes(attribute.Int64(otelPkg.AttributeJobKey, job.Key))
		record := job.JobRecord
		record.Retries = retries
		engine.stateWriter.AppendFollowUpEvent(job.Key, runtime.IntentRetriesUpdated, record)
		return nil
	})
}

func (j ActivatedJob) String() string {
	return fmt.Sprintf("job %d of type %s for %s", j.Key, j.Type, j.ElementId)
}
