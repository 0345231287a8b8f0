package runtime

// ElementInstance is the runtime state of one occurrence of an element.
//
// The lifecycle follows the intents written by the processors:
//
//	               ┌──────────┐     ┌─────────┐     ┌──────────┐     ┌─────────┐
//	ACTIVATE ────> │ACTIVATING│ ──> │ACTIVATED│ ──> │COMPLETING│ ──> │COMPLETED│
//	               └──────────┘     └─────────┘     └──────────┘     └─────────┘
//	                    │                │               │
//	                    v                v               v
//	               ┌───────────┐     ┌──────────┐
//	TERMINATE ───> │TERMINATING│ ──> │TERMINATED│
//	               └───────────┘     └──────────┘
//
// The instance is created when ELEMENT_ACTIVATING is applied and removed when
// ELEMENT_COMPLETED or ELEMENT_TERMINATED is applied.
type ElementInstance struct {
	Key   int64                 `json:"key"`
	State Intent                `json:"state"`
	Value ProcessInstanceRecord `json:"value"`

	ActiveChildren     int `json:"activeChildren"`
	ChildrenCreated    int `json:"childrenCreated"`
	ChildrenCompleted  int `json:"childrenCompleted"`
	ChildrenTerminated int `json:"childrenTerminated"`
	// ActiveFlows counts flow continuations (taken sequence flows, triggered
	// event sub processes) whose target element is not activated yet.
	ActiveFlows int `json:"activeFlows"`

	MultiInstanceLoopCounter int    `json:"multiInstanceLoopCounter"`
	InterruptingElementId    string `json:"interruptingElementId,omitempty"`
	ProcessDepth             int    `json:"processDepth"`
	CalledChildInstanceKey   int64  `json:"calledChildInstanceKey,omitempty"`
	JobKey                   int64  `json:"jobKey,omitempty"`
}

func (e ElementInstance) IsActive() bool {
	return e.State == IntentElementActivated
}

func (e ElementInstance) IsTerminating() bool {
	return e.State == IntentElementTerminating
}

func (e ElementInstance) IsInterrupted() bool {
	return e.InterruptingElementId != ""
}

// CanTerminate reports whether the instance is in a state that can still be terminated.
func (e ElementInstance) CanTerminate() bool {
	switch e.State {
	case IntentElementActivating, IntentElementActivated, IntentElementCompleting:
		return true
	}
	return false
}

// ActiveTokens is the number of live execution paths inside the instance.
func (e ElementInstance) ActiveTokens() int {
	return e.ActiveChildren + e.ActiveFlows
}

type ErrorType string

const (
	ErrorTypeUnknown             ErrorType = "UNKNOWN"
	ErrorTypeIoMappingError      ErrorType = "IO_MAPPING_ERROR"
	ErrorTypeJobNoRetries        ErrorType = "JOB_NO_RETRIES"
	ErrorTypeConditionError      ErrorType = "CONDITION_ERROR"
	ErrorTypeExtractValueError   ErrorType = "EXTRACT_VALUE_ERROR"
	ErrorTypeCalledElementError  ErrorType = "CALLED_ELEMENT_ERROR"
	ErrorTypeUnhandledErrorEvent ErrorType = "UNHANDLED_ERROR_EVENT"
	ErrorTypeCompensationError   ErrorType = "COMPENSATION_ERROR"
)

type Incident struct {
	Key int64 `json:"key"`
	IncidentRecord
}

type JobState string

const (
	JobStateActivatable JobState = "ACTIVATABLE"
	JobStateFailed      JobState = "FAILED"
	JobStateErrorThrown JobState = "ERROR_THROWN"
)

type Job struct {
	Key   int64    `json:"key"`
	State JobState `json:"state"`
	JobRecord
}

// EventTrigger is a pending activation request for a catch event.
type EventTrigger struct {
	EventKey int64 `json:"eventKey"`
	ProcessEventRecord
}

type MessageSubscription struct {
	Key int64 `json:"key"`
	MessageSubscriptionRecord
}

type SignalSubscription struct {
	Key int64 `json:"key"`
	SignalSubscriptionRecord
}

type Timer struct {
	Key int64 `json:"key"`
	TimerRecord
}

type CompensationSubscriptionState string

const (
	CompensationSubscriptionCreated   CompensationSubscriptionState = "CREATED"
	CompensationSubscriptionTriggered CompensationSubscriptionState = "TRIGGERED"
)

type CompensationSubscription struct {
	Key   int64                         `json:"key"`
	State CompensationSubscriptionState `json:"state"`
	CompensationSubscriptionRecord
}

// ProcessDefinition is a deployed process. The executable model is compiled
// from Resource on demand.
type ProcessDefinition struct {
	ProcessRecord
}

func (p ProcessDefinition) Key() int64 {
	return p.ProcessDefinitionKey
}
