package model

type ElementType string

const (
	ElementTypeProcess                      ElementType = "PROCESS"
	ElementTypeSubProcess                   ElementType = "SUB_PROCESS"
	ElementTypeEventSubProcess              ElementType = "EVENT_SUB_PROCESS"
	ElementTypeAdHocSubProcess              ElementType = "AD_HOC_SUB_PROCESS"
	ElementTypeAdHocSubProcessInnerInstance ElementType = "AD_HOC_SUB_PROCESS_INNER_INSTANCE"
	ElementTypeCallActivity                 ElementType = "CALL_ACTIVITY"
	ElementTypeMultiInstanceBody            ElementType = "MULTI_INSTANCE_BODY"
	ElementTypeStartEvent                   ElementType = "START_EVENT"
	ElementTypeEndEvent                     ElementType = "END_EVENT"
	ElementTypeIntermediateThrowEvent       ElementType = "INTERMEDIATE_THROW_EVENT"
	ElementTypeBoundaryEvent                ElementType = "BOUNDARY_EVENT"
	ElementTypeTask                         ElementType = "TASK"
	ElementTypeServiceTask                  ElementType = "SERVICE_TASK"
	ElementTypeSequenceFlow                 ElementType = "SEQUENCE_FLOW"
)

// IsContainer reports whether instances of the type own child element instances.
func (t ElementType) IsContainer() bool {
	switch t {
	case ElementTypeProcess,
		ElementTypeSubProcess,
		ElementTypeEventSubProcess,
		ElementTypeAdHocSubProcess,
		ElementTypeAdHocSubProcessInnerInstance,
		ElementTypeCallActivity,
		ElementTypeMultiInstanceBody:
		return true
	}
	return false
}

type EventType string

const (
	EventTypeUnspecified  EventType = "UNSPECIFIED"
	EventTypeNone         EventType = "NONE"
	EventTypeMessage      EventType = "MESSAGE"
	EventTypeTimer        EventType = "TIMER"
	EventTypeSignal       EventType = "SIGNAL"
	EventTypeError        EventType = "ERROR"
	EventTypeCompensation EventType = "COMPENSATION"
	EventTypeTerminate    EventType = "TERMINATE"
)

// IsSubscribable reports whether a catch event of this type waits on an event subscription.
func (t EventType) IsSubscribable() bool {
	return t == EventTypeMessage || t == EventTypeTimer || t == EventTypeSignal
}
