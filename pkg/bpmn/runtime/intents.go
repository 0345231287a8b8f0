package runtime

type RecordType string

const (
	RecordTypeCommand          RecordType = "COMMAND"
	RecordTypeEvent            RecordType = "EVENT"
	RecordTypeCommandRejection RecordType = "COMMAND_REJECTION"
)

type ValueType string

const (
	ValueTypeProcess                  ValueType = "PROCESS"
	ValueTypeProcessInstance          ValueType = "PROCESS_INSTANCE"
	ValueTypeProcessInstanceCreation  ValueType = "PROCESS_INSTANCE_CREATION"
	ValueTypeVariable                 ValueType = "VARIABLE"
	ValueTypeJob                      ValueType = "JOB"
	ValueTypeIncident                 ValueType = "INCIDENT"
	ValueTypeProcessEvent             ValueType = "PROCESS_EVENT"
	ValueTypeMessageSubscription      ValueType = "PROCESS_MESSAGE_SUBSCRIPTION"
	ValueTypeSignalSubscription       ValueType = "SIGNAL_SUBSCRIPTION"
	ValueTypeTimer                    ValueType = "TIMER"
	ValueTypeCompensationSubscription ValueType = "COMPENSATION_SUBSCRIPTION"
)

type Intent string

// process instance commands
const (
	IntentActivateElement  Intent = "ACTIVATE_ELEMENT"
	IntentCompleteElement  Intent = "COMPLETE_ELEMENT"
	IntentTerminateElement Intent = "TERMINATE_ELEMENT"
)

// process instance events, also used as the lifecycle state of an element instance
const (
	IntentElementActivating  Intent = "ELEMENT_ACTIVATING"
	IntentElementActivated   Intent = "ELEMENT_ACTIVATED"
	IntentElementCompleting  Intent = "ELEMENT_COMPLETING"
	IntentElementCompleted   Intent = "ELEMENT_COMPLETED"
	IntentElementTerminating Intent = "ELEMENT_TERMINATING"
	IntentElementTerminated  Intent = "ELEMENT_TERMINATED"
	IntentSequenceFlowTaken  Intent = "SEQUENCE_FLOW_TAKEN"
)

// intents shared by the other value types
const (
	IntentCreated        Intent = "CREATED"
	IntentUpdated        Intent = "UPDATED"
	IntentDeleted        Intent = "DELETED"
	IntentCompleted      Intent = "COMPLETED"
	IntentFailed         Intent = "FAILED"
	IntentCanceled       Intent = "CANCELED"
	IntentErrorThrown    Intent = "ERROR_THROWN"
	IntentRetriesUpdated Intent = "RETRIES_UPDATED"
	IntentResolved       Intent = "RESOLVED"
	IntentTriggering     Intent = "TRIGGERING"
	IntentTriggered      Intent = "TRIGGERED"
)

// IsElementInstanceState reports whether the intent is one of the lifecycle states.
func (i Intent) IsElementInstanceState() bool {
	switch i {
	case IntentElementActivating,
		IntentElementActivated,
		IntentElementCompleting,
		IntentElementCompleted,
		IntentElementTerminating,
		IntentElementTerminated:
		return true
	}
	return false
}

func (i Intent) IsFinalState() bool {
	return i == IntentElementCompleted || i == IntentElementTerminated
}
