package runtime

import (
	"encoding/json"
	"fmt"

	"github.com/pbinitiative/zenexec/pkg/bpmn/model"
)

// Record is a single entry of the partition log. Commands carry an optional
// variable document, events carry the fact that was decided while processing.
type Record struct {
	Position        int64          `json:"position"`
	SourcePosition  int64          `json:"sourcePosition"`
	Key             int64          `json:"key"`
	RecordType      RecordType     `json:"recordType"`
	ValueType       ValueType      `json:"valueType"`
	Intent          Intent         `json:"intent"`
	RejectionReason string         `json:"rejectionReason,omitempty"`
	RequestId       string         `json:"requestId,omitempty"`
	Variables       map[string]any `json:"variables,omitempty"`
	Value           RecordValue    `json:"value"`
}

func (r Record) String() string {
	return fmt.Sprintf("%d %s %s.%s key=%d", r.Position, r.RecordType, r.ValueType, r.Intent, r.Key)
}

type RecordValue interface {
	ValueType() ValueType
}

// ProcessInstanceRecord describes an element instance. It is the payload of
// every PROCESS_INSTANCE command and event.
type ProcessInstanceRecord struct {
	BpmnElementType          model.ElementType `json:"bpmnElementType"`
	BpmnEventType            model.EventType   `json:"bpmnEventType"`
	ElementId                string            `json:"elementId"`
	BpmnProcessId            string            `json:"bpmnProcessId"`
	Version                  int32             `json:"version"`
	ProcessDefinitionKey     int64             `json:"processDefinitionKey"`
	ProcessInstanceKey       int64             `json:"processInstanceKey"`
	FlowScopeKey             int64             `json:"flowScopeKey"`
	ParentProcessInstanceKey int64             `json:"parentProcessInstanceKey"`
	ParentElementInstanceKey int64             `json:"parentElementInstanceKey"`
	TenantId                 string            `json:"tenantId,omitempty"`
}

func (ProcessInstanceRecord) ValueType() ValueType { return ValueTypeProcessInstance }

// ProcessRecord is a deployed process definition. Resource holds the source
// document the executable model is compiled from.
type ProcessRecord struct {
	ProcessDefinitionKey int64  `json:"processDefinitionKey"`
	BpmnProcessId        string `json:"bpmnProcessId"`
	Version              int32  `json:"version"`
	ResourceName         string `json:"resourceName"`
	Resource             []byte `json:"resource"`
	TenantId             string `json:"tenantId,omitempty"`
}

func (ProcessRecord) ValueType() ValueType { return ValueTypeProcess }

type ProcessInstanceCreationRecord struct {
	BpmnProcessId        string         `json:"bpmnProcessId"`
	Version              int32          `json:"version"`
	ProcessDefinitionKey int64          `json:"processDefinitionKey"`
	ProcessInstanceKey   int64          `json:"processInstanceKey"`
	StartElementId       string         `json:"startElementId,omitempty"`
	Variables            map[string]any `json:"variables,omitempty"`
}

func (ProcessInstanceCreationRecord) ValueType() ValueType { return ValueTypeProcessInstanceCreation }

type VariableRecord struct {
	Name                 string `json:"name"`
	Value                any    `json:"value"`
	ScopeKey             int64  `json:"scopeKey"`
	ProcessInstanceKey   int64  `json:"processInstanceKey"`
	ProcessDefinitionKey int64  `json:"processDefinitionKey"`
	BpmnProcessId        string `json:"bpmnProcessId"`
}

func (VariableRecord) ValueType() ValueType { return ValueTypeVariable }

type JobRecord struct {
	Type                 string         `json:"type"`
	Retries              int32          `json:"retries"`
	ErrorMessage         string         `json:"errorMessage,omitempty"`
	ErrorCode            string         `json:"errorCode,omitempty"`
	Variables            map[string]any `json:"variables,omitempty"`
	ElementId            string         `json:"elementId"`
	ElementInstanceKey   int64          `json:"elementInstanceKey"`
	ProcessInstanceKey   int64          `json:"processInstanceKey"`
	ProcessDefinitionKey int64          `json:"processDefinitionKey"`
	BpmnProcessId        string         `json:"bpmnProcessId"`
}

func (JobRecord) ValueType() ValueType { return ValueTypeJob }

type IncidentRecord struct {
	ErrorType            ErrorType `json:"errorType"`
	ErrorMessage         string    `json:"errorMessage"`
	ElementId            string    `json:"elementId"`
	ElementInstanceKey   int64     `json:"elementInstanceKey"`
	ProcessInstanceKey   int64     `json:"processInstanceKey"`
	ProcessDefinitionKey int64     `json:"processDefinitionKey"`
	BpmnProcessId        string    `json:"bpmnProcessId"`
	VariableScopeKey     int64     `json:"variableScopeKey"`
	JobKey               int64     `json:"jobKey,omitempty"`
}

func (IncidentRecord) ValueType() ValueType { return ValueTypeIncident }

// ProcessEventRecord is the payload of an event trigger. ScopeKey is the
// element instance that owns the trigger, TargetElementId the catch event to
// activate.
type ProcessEventRecord struct {
	ScopeKey             int64          `json:"scopeKey"`
	TargetElementId      string         `json:"targetElementId"`
	Variables            map[string]any `json:"variables,omitempty"`
	ProcessInstanceKey   int64          `json:"processInstanceKey"`
	ProcessDefinitionKey int64          `json:"processDefinitionKey"`
	Interrupting         bool           `json:"interrupting"`
}

func (ProcessEventRecord) ValueType() ValueType { return ValueTypeProcessEvent }

type MessageSubscriptionRecord struct {
	ElementInstanceKey   int64  `json:"elementInstanceKey"`
	ProcessInstanceKey   int64  `json:"processInstanceKey"`
	ProcessDefinitionKey int64  `json:"processDefinitionKey"`
	BpmnProcessId        string `json:"bpmnProcessId"`
	ElementId            string `json:"elementId"`
	MessageName          string `json:"messageName"`
	CorrelationKey       string `json:"correlationKey"`
	Interrupting         bool   `json:"interrupting"`
}

func (MessageSubscriptionRecord) ValueType() ValueType { return ValueTypeMessageSubscription }

type SignalSubscriptionRecord struct {
	ElementInstanceKey   int64  `json:"elementInstanceKey"`
	ProcessInstanceKey   int64  `json:"processInstanceKey"`
	ProcessDefinitionKey int64  `json:"processDefinitionKey"`
	BpmnProcessId        string `json:"bpmnProcessId"`
	ElementId            string `json:"elementId"`
	SignalName           string `json:"signalName"`
	Interrupting         bool   `json:"interrupting"`
}

func (SignalSubscriptionRecord) ValueType() ValueType { return ValueTypeSignalSubscription }

// TimerRecord is a timer owned by an element instance or, for timer start
// events, by a process definition (ElementInstanceKey is then -1).
type TimerRecord struct {
	ElementInstanceKey   int64  `json:"elementInstanceKey"`
	ProcessInstanceKey   int64  `json:"processInstanceKey"`
	ProcessDefinitionKey int64  `json:"processDefinitionKey"`
	TargetElementId      string `json:"targetElementId"`
	DueDate              int64  `json:"dueDate"`
	Repetitions          int    `json:"repetitions"`
	Interrupting         bool   `json:"interrupting"`
}

func (TimerRecord) ValueType() ValueType { return ValueTypeTimer }

type CompensationSubscriptionRecord struct {
	ProcessInstanceKey             int64          `json:"processInstanceKey"`
	ProcessDefinitionKey           int64          `json:"processDefinitionKey"`
	ElementId                      string         `json:"elementId"`
	ElementInstanceKey             int64          `json:"elementInstanceKey"`
	FlowScopeKey                   int64          `json:"flowScopeKey"`
	CompensationHandlerId          string         `json:"compensationHandlerId"`
	CompensationHandlerInstanceKey int64          `json:"compensationHandlerInstanceKey"`
	ThrowEventId                   string         `json:"throwEventId,omitempty"`
	ThrowEventInstanceKey          int64          `json:"throwEventInstanceKey"`
	Variables                      map[string]any `json:"variables,omitempty"`
}

func (CompensationSubscriptionRecord) ValueType() ValueType { return ValueTypeCompensationSubscription }

func newRecordValue(valueType ValueType) (RecordValue, error) {
	switch valueType {
	case ValueTypeProcess:
		return &ProcessRecord{}, nil
	case ValueTypeProcessInstance:
		return &ProcessInstanceRecord{}, nil
	case ValueTypeProcessInstanceCreation:
		return &ProcessInstanceCreationRecord{}, nil
	case ValueTypeVariable:
		return &VariableRecord{}, nil
	case ValueTypeJob:
		return &JobRecord{}, nil
	case ValueTypeIncident:
		return &IncidentRecord{}, nil
	case ValueTypeProcessEvent:
		return &ProcessEventRecord{}, nil
	case ValueTypeMessageSubscription:
		return &MessageSubscriptionRecord{}, nil
	case ValueTypeSignalSubscription:
		return &SignalSubscriptionRecord{}, nil
	case ValueTypeTimer:
		return &TimerRecord{}, nil
	case ValueTypeCompensationSubscription:
		return &CompensationSubscriptionRecord{}, nil
	}
	return nil, fmt.Errorf("unknown value type %s", valueType)
}

// UnmarshalJSON decodes the value into the concrete record type named by ValueType.
func (r *Record) UnmarshalJSON(data []byte) error {
	type plain Record
	aux := struct {
		*plain
		Value json.RawMessage `json:"value"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	value, err := newRecordValue(r.ValueType)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(aux.Value, value); err != nil {
		return fmt.Errorf("failed to unmarshal %s value: %w", r.ValueType, err)
	}
	r.Value = derefValue(value)
	return nil
}

func derefValue(value RecordValue) RecordValue {
	switch v := value.(type) {
	case *ProcessRecord:
		return *v
	case *ProcessInstanceRecord:
		return *v
	case *ProcessInstanceCreationRecord:
		return *v
	case *VariableRecord:
		return *v
	case *JobRecord:
		return *v
	case *IncidentRecord:
		return *v
	case *ProcessEventRecord:
		return *v
	case *MessageSubscriptionRecord:
		return *v
	case *SignalSubscriptionRecord:
		return *v
	case *TimerRecord:
		return *v
	case *CompensationSubscriptionRecord:
		return *v
	}
	return value
}
