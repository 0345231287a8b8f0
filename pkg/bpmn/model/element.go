package model

import (
	"github.com/pbinitiative/zenexec/pkg/bpmn/model/extensions"
)

type SequenceFlow struct {
	Id     string
	Source *ExecutableElement
	Target *ExecutableElement
}

// ExecutableElement is the compiled, immutable form of a BPMN flow node.
// It is shared by all instances of the process and never mutated at runtime.
type ExecutableElement struct {
	Id        string
	Name      string
	Type      ElementType
	EventType EventType

	FlowScope *ExecutableElement
	Children  []*ExecutableElement
	Incoming  []*SequenceFlow
	Outgoing  []*SequenceFlow

	Input  []extensions.TIoMapping
	Output []extensions.TIoMapping

	// multi-instance body
	LoopCharacteristics *extensions.TLoopCharacteristics
	InnerActivity       *ExecutableElement

	// call activity
	CalledElement *extensions.TCalledElement

	// service task
	TaskDefinition *extensions.TTaskDefinition

	// ad-hoc sub process
	AdHoc         *extensions.TAdHoc
	InnerInstance *ExecutableElement
	AdHocElements []*ExecutableElement

	// events
	EventDefinition *extensions.TEventDefinition
	Interrupting    bool
	AttachedTo      *ExecutableElement
	BoundaryEvents  []*ExecutableElement

	// compensation
	CompensationHandler *ExecutableElement
	IsForCompensation   bool

	HasExecutionListeners bool
}

func (e *ExecutableElement) IsMultiInstanceInner() bool {
	return e.FlowScope != nil && e.FlowScope.Type == ElementTypeMultiInstanceBody
}

// NoneStartEvent returns the none start event of a container or nil.
func (e *ExecutableElement) NoneStartEvent() *ExecutableElement {
	for _, child := range e.Children {
		if child.Type == ElementTypeStartEvent && child.EventType == EventTypeNone {
			return child
		}
	}
	return nil
}

// StartEvents returns all start events directly owned by the container.
func (e *ExecutableElement) StartEvents() []*ExecutableElement {
	res := make([]*ExecutableElement, 0, 1)
	for _, child := range e.Children {
		if child.Type == ElementTypeStartEvent {
			res = append(res, child)
		}
	}
	return res
}

func (e *ExecutableElement) EventSubProcesses() []*ExecutableElement {
	res := make([]*ExecutableElement, 0)
	for _, child := range e.Children {
		if child.Type == ElementTypeEventSubProcess {
			res = append(res, child)
		}
	}
	return res
}

// EventSubProcessStartEvents returns the start events of all event sub processes of the container.
func (e *ExecutableElement) EventSubProcessStartEvents() []*ExecutableElement {
	res := make([]*ExecutableElement, 0)
	for _, esp := range e.EventSubProcesses() {
		res = append(res, esp.StartEvents()...)
	}
	return res
}

func (e *ExecutableElement) Child(id string) *ExecutableElement {
	for _, child := range e.Children {
		if child.Id == id {
			return child
		}
	}
	return nil
}

// IsAdHocElement reports whether id names an element that can be activated inside the ad-hoc sub process.
func (e *ExecutableElement) IsAdHocElement(id string) bool {
	for _, el := range e.AdHocElements {
		if el.Id == id {
			return true
		}
	}
	return false
}

// Definition returns the event definition or its zero value.
func (e *ExecutableElement) Definition() extensions.TEventDefinition {
	if e.EventDefinition == nil {
		return extensions.TEventDefinition{}
	}
	return *e.EventDefinition
}
