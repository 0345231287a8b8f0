package storage

import (
	"errors"

	"github.com/pbinitiative/zenexec/pkg/bpmn/model"
	"github.com/pbinitiative/zenexec/pkg/bpmn/runtime"
)

var ErrNotFound = errors.New("not found")

// ReadonlyState is the read side of the partition state used while processing commands.
type ReadonlyState interface {
	ElementInstanceStorageReader
	ProcessDefinitionStorageReader
	VariableStorageReader
	JobStorageReader
	IncidentStorageReader
	EventTriggerStorageReader
	MessageSubscriptionStorageReader
	SignalSubscriptionStorageReader
	TimerStorageReader
	CompensationSubscriptionStorageReader

	// LastAppliedPosition returns the log position of the last applied event.
	LastAppliedPosition() int64
}

// MutableState is the state mutated by event appliers only.
type MutableState interface {
	ReadonlyState
	ElementInstanceStorageWriter
	ProcessDefinitionStorageWriter
	VariableStorageWriter
	JobStorageWriter
	IncidentStorageWriter
	EventTriggerStorageWriter
	MessageSubscriptionStorageWriter
	SignalSubscriptionStorageWriter
	TimerStorageWriter
	CompensationSubscriptionStorageWriter

	SetLastAppliedPosition(position int64)
}

type ElementInstanceStorageReader interface {
	FindElementInstanceByKey(key int64) (runtime.ElementInstance, error)

	// FindChildElementInstances returns the instances whose flow scope is parentKey
	FindChildElementInstances(parentKey int64) []runtime.ElementInstance
}

type ElementInstanceStorageWriter interface {
	// SaveElementInstance inserts or overwrites the instance and indexes it under its flow scope
	SaveElementInstance(instance runtime.ElementInstance)

	RemoveElementInstance(key int64)
}

type ProcessDefinitionStorageReader interface {
	FindProcessDefinitionByKey(processDefinitionKey int64) (runtime.ProcessDefinition, error)

	FindLatestProcessDefinitionById(bpmnProcessId string) (runtime.ProcessDefinition, error)

	// FindProcessDefinitions returns the latest version of every deployed process
	FindProcessDefinitions() []runtime.ProcessDefinition

	// GetProcess returns the compiled model of the definition
	GetProcess(processDefinitionKey int64) (*model.Process, error)
}

type ProcessDefinitionStorageWriter interface {
	SaveProcessDefinition(definition runtime.ProcessDefinition)
}

type VariableStorageReader interface {
	FindLocalVariables(scopeKey int64) map[string]any

	// FindVariableScope returns the key of the nearest scope, starting at scopeKey, that defines the variable
	FindVariableScope(scopeKey int64, name string) (int64, bool)

	// GetVariableHolder returns a read view of all variables visible from scopeKey
	GetVariableHolder(scopeKey int64) *runtime.VariableHolder

	FindParentScopeKey(scopeKey int64) (int64, bool)
}

type VariableStorageWriter interface {
	// CreateScope registers a variable scope, parentKey is -1 for root scopes
	CreateScope(scopeKey int64, parentKey int64)

	RemoveScope(scopeKey int64)

	SetVariable(scopeKey int64, name string, value any)
}

type JobStorageReader interface {
	FindJobByKey(jobKey int64) (runtime.Job, error)

	FindJobByElementInstanceKey(elementInstanceKey int64) (runtime.Job, error)

	FindJobsByType(jobType string) []runtime.Job
}

type JobStorageWriter interface {
	SaveJob(job runtime.Job)

	DeleteJob(jobKey int64)
}

type IncidentStorageReader interface {
	FindIncidentByKey(incidentKey int64) (runtime.Incident, error)

	FindIncidentsByElementInstanceKey(elementInstanceKey int64) []runtime.Incident

	FindIncidentsByProcessInstanceKey(processInstanceKey int64) []runtime.Incident
}

type IncidentStorageWriter interface {
	SaveIncident(incident runtime.Incident)

	DeleteIncident(incidentKey int64)
}

type EventTriggerStorageReader interface {
	// FindEventTriggers returns pending triggers of the scope in the order they were created
	FindEventTriggers(scopeKey int64) []runtime.EventTrigger
}

type EventTriggerStorageWriter interface {
	SaveEventTrigger(trigger runtime.EventTrigger)

	DeleteEventTrigger(scopeKey int64, eventKey int64)

	DeleteEventTriggers(scopeKey int64)
}

type MessageSubscriptionStorageReader interface {
	FindMessageSubscriptionByKey(key int64) (runtime.MessageSubscription, error)

	FindMessageSubscriptionsByName(messageName string, correlationKey string) []runtime.MessageSubscription

	FindMessageSubscriptionsByElementInstanceKey(elementInstanceKey int64) []runtime.MessageSubscription
}

type MessageSubscriptionStorageWriter interface {
	SaveMessageSubscription(subscription runtime.MessageSubscription)

	DeleteMessageSubscription(key int64)
}

type SignalSubscriptionStorageReader interface {
	FindSignalSubscriptionsByName(signalName string) []runtime.SignalSubscription

	FindSignalSubscriptionsByElementInstanceKey(elementInstanceKey int64) []runtime.SignalSubscription
}

type SignalSubscriptionStorageWriter interface {
	SaveSignalSubscription(subscription runtime.SignalSubscription)

	DeleteSignalSubscription(key int64)
}

type TimerStorageReader interface {
	FindTimerByKey(timerKey int64) (runtime.Timer, error)

	FindTimersByElementInstanceKey(elementInstanceKey int64) []runtime.Timer

	FindTimersByProcessDefinitionKey(processDefinitionKey int64) []runtime.Timer

	// FindDueTimers returns timers with a due date not after dueBefore (unix millis)
	FindDueTimers(dueBefore int64) []runtime.Timer
}

type TimerStorageWriter interface {
	SaveTimer(timer runtime.Timer)

	DeleteTimer(timerKey int64)
}

type CompensationSubscriptionStorageReader interface {
	FindCompensationSubscriptionByKey(key int64) (runtime.CompensationSubscription, error)

	FindCompensationSubscriptionsByFlowScopeKey(flowScopeKey int64) []runtime.CompensationSubscription

	FindCompensationSubscriptionsByProcessInstanceKey(processInstanceKey int64) []runtime.CompensationSubscription

	FindCompensationSubscriptionsByThrowEventInstanceKey(throwEventInstanceKey int64) []runtime.CompensationSubscription
}

type CompensationSubscriptionStorageWriter interface {
	SaveCompensationSubscription(subscription runtime.CompensationSubscription)

	DeleteCompensationSubscription(key int64)
}
