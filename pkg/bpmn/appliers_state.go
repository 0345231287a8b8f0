package bpmn

import (
	"github.com/pbinitiative/zenexec/pkg/bpmn/model"
	"github.com/pbinitiative/zenexec/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenexec/pkg/storage"
)

func (a *EventAppliers) registerProcessAppliers() {
	register(a, runtime.IntentCreated, func(_ int64, value runtime.ProcessRecord, state storage.MutableState) {
		state.SaveProcessDefinition(runtime.ProcessDefinition{ProcessRecord: value})
	})
}

func (a *EventAppliers) registerVariableAppliers() {
	setVariable := func(_ int64, value runtime.VariableRecord, state storage.MutableState) {
		state.SetVariable(value.ScopeKey, value.Name, value.Value)
	}
	register(a, runtime.IntentCreated, setVariable)
	register(a, runtime.IntentUpdated, setVariable)
}

func (a *EventAppliers) registerJobAppliers() {
	register(a, runtime.IntentCreated, func(key int64, value runtime.JobRecord, state storage.MutableState) {
		state.SaveJob(runtime.Job{Key: key, State: runtime.JobStateActivatable, JobRecord: value})
		setInstanceJobKey(value.ElementInstanceKey, key, state)
	})
	removeJob := func(key int64, value runtime.JobRecord, state storage.MutableState) {
		state.DeleteJob(key)
		setInstanceJobKey(value.ElementInstanceKey, 0, state)
	}
	register(a, runtime.IntentCompleted, removeJob)
	register(a, runtime.IntentCanceled, removeJob)
	register(a, runtime.IntentFailed, func(key int64, value runtime.JobRecord, state storage.MutableState) {
		updateJob(key, state, func(job *runtime.Job) {
			job.Retries = value.Retries
			job.ErrorMessage = value.ErrorMessage
			job.State = runtime.JobStateActivatable
			if job.Retries <= 0 {
				job.State = runtime.JobStateFailed
			}
		})
	})
	register(a, runtime.IntentErrorThrown, func(key int64, value runtime.JobRecord, state storage.MutableState) {
		updateJob(key, state, func(job *runtime.Job) {
			job.State = runtime.JobStateErrorThrown
			job.ErrorCode = value.ErrorCode
			job.ErrorMessage = value.ErrorMessage
		})
	})
	register(a, runtime.IntentRetriesUpdated, func(key int64, value runtime.JobRecord, state storage.MutableState) {
		updateJob(key, state, func(job *runtime.Job) {
			job.Retries = value.Retries
		})
	})
}

func updateJob(key int64, state storage.MutableState, update func(job *runtime.Job)) {
	job, err := state.FindJobByKey(key)
	if err != nil {
		return
	}
	update(&job)
	state.SaveJob(job)
}

func setInstanceJobKey(elementInstanceKey int64, jobKey int64, state storage.MutableState) {
	instance, err := state.FindElementInstanceByKey(elementInstanceKey)
	if err != nil {
		return
	}
	instance.JobKey = jobKey
	state.SaveElementInstance(instance)
}

func (a *EventAppliers) registerIncidentAppliers() {
	register(a, runtime.IntentCreated, func(key int64, value runtime.IncidentRecord, state storage.MutableState) {
		state.SaveIncident(runtime.Incident{Key: key, IncidentRecord: value})
	})
	register(a, runtime.IntentResolved, func(key int64, value runtime.IncidentRecord, state storage.MutableState) {
		state.DeleteIncident(key)
		if value.JobKey <= 0 {
			return
		}
		updateJob(value.JobKey, state, func(job *runtime.Job) {
			if job.Retries > 0 {
				job.State = runtime.JobStateActivatable
			}
		})
	})
}

func (a *EventAppliers) registerProcessEventAppliers() {
	register(a, runtime.IntentTriggering, func(key int64, value runtime.ProcessEventRecord, state storage.MutableState) {
		state.SaveEventTrigger(runtime.EventTrigger{EventKey: key, ProcessEventRecord: value})
		if !value.Interrupting {
			return
		}
		if eventSubProcess := targetEventSubProcess(value, state); eventSubProcess != nil {
			updateInstance(value.ScopeKey, state, func(scope *runtime.ElementInstance) {
				scope.InterruptingElementId = eventSubProcess.Id
			})
		}
	})
	register(a, runtime.IntentTriggered, func(key int64, value runtime.ProcessEventRecord, state storage.MutableState) {
		state.DeleteEventTrigger(value.ScopeKey, key)
		if targetEventSubProcess(value, state) != nil {
			updateInstance(value.ScopeKey, state, func(scope *runtime.ElementInstance) {
				scope.ActiveFlows++
			})
		}
	})
}

// targetEventSubProcess returns the event sub process started by the trigger or nil.
func targetEventSubProcess(value runtime.ProcessEventRecord, state storage.ReadonlyState) *model.ExecutableElement {
	process, err := state.GetProcess(value.ProcessDefinitionKey)
	if err != nil {
		return nil
	}
	target := process.GetElement(value.TargetElementId)
	if target == nil || target.FlowScope == nil || target.FlowScope.Type != model.ElementTypeEventSubProcess {
		return nil
	}
	return target.FlowScope
}

func updateInstance(key int64, state storage.MutableState, update func(instance *runtime.ElementInstance)) {
	instance, err := state.FindElementInstanceByKey(key)
	if err != nil {
		return
	}
	update(&instance)
	state.SaveElementInstance(instance)
}

func (a *EventAppliers) registerSubscriptionAppliers() {
	register(a, runtime.IntentCreated, func(key int64, value runtime.MessageSubscriptionRecord, state storage.MutableState) {
		state.SaveMessageSubscription(runtime.MessageSubscription{Key: key, MessageSubscriptionRecord: value})
	})
	register(a, runtime.IntentDeleted, func(key int64, _ runtime.MessageSubscriptionRecord, state storage.MutableState) {
		state.DeleteMessageSubscription(key)
	})
	register(a, runtime.IntentCreated, func(key int64, value runtime.SignalSubscriptionRecord, state storage.MutableState) {
		state.SaveSignalSubscription(runtime.SignalSubscription{Key: key, SignalSubscriptionRecord: value})
	})
	register(a, runtime.IntentDeleted, func(key int64, _ runtime.SignalSubscriptionRecord, state storage.MutableState) {
		state.DeleteSignalSubscription(key)
	})
}

func (a *EventAppliers) registerTimerAppliers() {
	register(a, runtime.IntentCreated, func(key int64, value runtime.TimerRecord, state storage.MutableState) {
		state.SaveTimer(runtime.Timer{Key: key, TimerRecord: value})
	})
	deleteTimer := func(key int64, _ runtime.TimerRecord, state storage.MutableState) {
		state.DeleteTimer(key)
	}
	register(a, runtime.IntentTriggered, deleteTimer)
	register(a, runtime.IntentCanceled, deleteTimer)
}

func (a *EventAppliers) registerCompensationAppliers() {
	register(a, runtime.IntentCreated, func(key int64, value runtime.CompensationSubscriptionRecord, state storage.MutableState) {
		state.SaveCompensationSubscription(runtime.CompensationSubscription{
			Key:                            key,
			State:                          runtime.CompensationSubscriptionCreated,
			CompensationSubscriptionRecord: value,
		})
	})
	register(a, runtime.IntentTriggered, func(key int64, value runtime.CompensationSubscriptionRecord, state storage.MutableState) {
		state.SaveCompensationSubscription(runtime.CompensationSubscription{
			Key:                            key,
			State:                          runtime.CompensationSubscriptionTriggered,
			CompensationSubscriptionRecord: value,
		})
	})
	deleteSubscription := func(key int64, _ runtime.CompensationSubscriptionRecord, state storage.MutableState) {
		state.DeleteCompensationSubscription(key)
	}
	register(a, runtime.IntentCompleted, deleteSubscription)
	register(a, runtime.IntentDeleted, deleteSubscription)
}
