package model

import (
	"fmt"
	"os"

	"github.com/pbinitiative/zenexec/pkg/bpmn/model/extensions"
	"gopkg.in/yaml.v3"
)

// TDefinitions is the YAML document describing a single process.
type TDefinitions struct {
	Id       string          `yaml:"id"`
	Name     string          `yaml:"name,omitempty"`
	Elements []TElement      `yaml:"elements"`
	Flows    []TSequenceFlow `yaml:"flows,omitempty"`
}

type TElement struct {
	Id                  string                           `yaml:"id"`
	Name                string                           `yaml:"name,omitempty"`
	Type                ElementType                      `yaml:"type"`
	Event               EventType                        `yaml:"event,omitempty"`
	EventDefinition     *extensions.TEventDefinition     `yaml:"eventDefinition,omitempty"`
	Interrupting        *bool                            `yaml:"interrupting,omitempty"`
	AttachedTo          string                           `yaml:"attachedTo,omitempty"`
	CompensationHandler string                           `yaml:"compensationHandler,omitempty"`
	ForCompensation     bool                             `yaml:"forCompensation,omitempty"`
	Input               []extensions.TIoMapping          `yaml:"input,omitempty"`
	Output              []extensions.TIoMapping          `yaml:"output,omitempty"`
	TaskDefinition      *extensions.TTaskDefinition      `yaml:"taskDefinition,omitempty"`
	MultiInstance       *extensions.TLoopCharacteristics `yaml:"multiInstance,omitempty"`
	CalledElement       *extensions.TCalledElement       `yaml:"calledElement,omitempty"`
	AdHoc               *extensions.TAdHoc               `yaml:"adHoc,omitempty"`
	ExecutionListeners  bool                             `yaml:"executionListeners,omitempty"`
	Elements            []TElement                       `yaml:"elements,omitempty"`
	Flows               []TSequenceFlow                  `yaml:"flows,omitempty"`
}

type TSequenceFlow struct {
	Id     string `yaml:"id"`
	Source string `yaml:"source"`
	Target string `yaml:"target"`
}

type UnmarshallingError struct {
	Msg string
	Err error
}

func (e *UnmarshallingError) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Msg, e.Err)
}

func (e *UnmarshallingError) Unwrap() error {
	return e.Err
}

func newModelErrorf(format string, a ...any) error {
	return &UnmarshallingError{Msg: fmt.Sprintf(format, a...)}
}

// LoadProcessFromFile reads and compiles a process definition from a YAML file.
func LoadProcessFromFile(filename string) (*Process, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, &UnmarshallingError{Msg: fmt.Sprintf("failed to read file %s", filename), Err: err}
	}
	return ParseProcess(data)
}

// ParseProcess compiles a YAML process definition into its executable form.
func ParseProcess(data []byte) (*Process, error) {
	var defs TDefinitions
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, &UnmarshallingError{Msg: "failed to unmarshal process definition", Err: err}
	}
	return Compile(defs)
}

func Compile(defs TDefinitions) (*Process, error) {
	if defs.Id == "" {
		return nil, newModelErrorf("process definition has no id")
	}
	process := &Process{
		BpmnProcessId: defs.Id,
		Name:          defs.Name,
		elements:      map[string]*ExecutableElement{},
	}
	process.Element = &ExecutableElement{
		Id:        defs.Id,
		Name:      defs.Name,
		Type:      ElementTypeProcess,
		EventType: EventTypeUnspecified,
	}
	c := compiler{process: process}
	if err := c.compileScope(process.Element, process.Element, defs.Elements, defs.Flows); err != nil {
		return nil, err
	}
	return process, nil
}

type compiler struct {
	process *Process
}

// compileScope compiles elements into owner. The runtime flow scope of the
// compiled elements is scope which differs from owner only for ad-hoc sub
// processes where the inner instance hosts the activities.
func (c *compiler) compileScope(owner *ExecutableElement, scope *ExecutableElement, elements []TElement, flows []TSequenceFlow) error {
	local := make(map[string]*ExecutableElement, len(elements))
	for _, te := range elements {
		el, err := c.compileElement(scope, te)
		if err != nil {
			return err
		}
		local[te.Id] = el
		scope.Children = append(scope.Children, el)
	}
	if owner != scope {
		owner.Children = []*ExecutableElement{scope}
	}

	for _, tf := range flows {
		source, ok := local[tf.Source]
		if !ok {
			return newModelErrorf("sequence flow %s references unknown source %s", tf.Id, tf.Source)
		}
		target, ok := local[tf.Target]
		if !ok {
			return newModelErrorf("sequence flow %s references unknown target %s", tf.Id, tf.Target)
		}
		flow := &SequenceFlow{Id: tf.Id, Source: source, Target: target}
		source.Outgoing = append(source.Outgoing, flow)
		target.Incoming = append(target.Incoming, flow)
	}

	for _, te := range elements {
		el := local[te.Id]
		if te.Type != ElementTypeBoundaryEvent {
			continue
		}
		attached, ok := local[te.AttachedTo]
		if !ok {
			return newModelErrorf("boundary event %s is attached to unknown element %s", te.Id, te.AttachedTo)
		}
		el.AttachedTo = attached
		if el.EventType == EventTypeCompensation {
			handler, ok := local[te.CompensationHandler]
			if !ok || !handler.isForCompensation() {
				return newModelErrorf("compensation boundary event %s has no compensation handler", te.Id)
			}
			attached.CompensationHandler = handler
			continue
		}
		attached.BoundaryEvents = append(attached.BoundaryEvents, el)
	}
	return nil
}

func (c *compiler) compileElement(scope *ExecutableElement, te TElement) (*ExecutableElement, error) {
	if te.Id == "" {
		return nil, newModelErrorf("element of type %s in %s has no id", te.Type, scope.Id)
	}
	if _, exists := c.process.elements[te.Id]; exists || te.Id == c.process.BpmnProcessId {
		return nil, newModelErrorf("duplicate element id %s", te.Id)
	}
	el := &ExecutableElement{
		Id:                    te.Id,
		Name:                  te.Name,
		Type:                  te.Type,
		EventType:             EventTypeUnspecified,
		FlowScope:             scope,
		Input:                 te.Input,
		Output:                te.Output,
		EventDefinition:       te.EventDefinition,
		TaskDefinition:        te.TaskDefinition,
		CalledElement:         te.CalledElement,
		AdHoc:                 te.AdHoc,
		IsForCompensation:     te.ForCompensation,
		HasExecutionListeners: te.ExecutionListeners,
		Interrupting:          te.Interrupting == nil || *te.Interrupting,
	}

	switch te.Type {
	case ElementTypeStartEvent, ElementTypeEndEvent, ElementTypeIntermediateThrowEvent, ElementTypeBoundaryEvent:
		el.EventType = EventTypeNone
		if te.Event != "" {
			el.EventType = te.Event
		}
		if el.EventType == EventTypeError {
			el.Interrupting = true
		}
	case ElementTypeTask:
	case ElementTypeServiceTask:
		if te.TaskDefinition == nil || te.TaskDefinition.TypeName == "" {
			return nil, newModelErrorf("service task %s has no task definition", te.Id)
		}
	case ElementTypeCallActivity:
		if te.CalledElement == nil || te.CalledElement.ProcessId == "" {
			return nil, newModelErrorf("call activity %s has no called element", te.Id)
		}
	case ElementTypeSubProcess:
		if err := c.compileScope(el, el, te.Elements, te.Flows); err != nil {
			return nil, err
		}
	case ElementTypeEventSubProcess:
		if err := c.compileScope(el, el, te.Elements, te.Flows); err != nil {
			return nil, err
		}
		starts := el.StartEvents()
		if len(starts) != 1 {
			return nil, newModelErrorf("event sub process %s must have exactly one start event", te.Id)
		}
		if !starts[0].EventType.IsSubscribable() && starts[0].EventType != EventTypeError {
			return nil, newModelErrorf("event sub process %s has unsupported start event type %s", te.Id, starts[0].EventType)
		}
	case ElementTypeAdHocSubProcess:
		if el.AdHoc == nil {
			el.AdHoc = &extensions.TAdHoc{}
		}
		inner := &ExecutableElement{
			Id:        te.Id + "#innerInstance",
			Type:      ElementTypeAdHocSubProcessInnerInstance,
			EventType: EventTypeUnspecified,
			FlowScope: el,
		}
		c.process.elements[inner.Id] = inner
		el.InnerInstance = inner
		if err := c.compileScope(el, inner, te.Elements, te.Flows); err != nil {
			return nil, err
		}
		for _, child := range inner.Children {
			if len(child.Incoming) == 0 && child.Type != ElementTypeBoundaryEvent && !child.isForCompensation() {
				el.AdHocElements = append(el.AdHocElements, child)
			}
		}
	default:
		return nil, newModelErrorf("element %s has unsupported type %s", te.Id, te.Type)
	}

	if te.MultiInstance == nil {
		c.process.elements[te.Id] = el
		return el, nil
	}
	switch te.Type {
	case ElementTypeTask, ElementTypeServiceTask, ElementTypeSubProcess, ElementTypeCallActivity, ElementTypeAdHocSubProcess:
	default:
		return nil, newModelErrorf("element %s of type %s cannot be multi-instance", te.Id, te.Type)
	}
	if te.MultiInstance.InputCollection == "" {
		return nil, newModelErrorf("multi-instance activity %s has no input collection", te.Id)
	}
	body := &ExecutableElement{
		Id:                  te.Id,
		Name:                te.Name,
		Type:                ElementTypeMultiInstanceBody,
		EventType:           EventTypeUnspecified,
		FlowScope:           scope,
		LoopCharacteristics: te.MultiInstance,
		InnerActivity:       el,
		Children:            []*ExecutableElement{el},
	}
	el.FlowScope = body
	c.process.elements[te.Id] = body
	return body, nil
}

func (e *ExecutableElement) isForCompensation() bool {
	if e.Type == ElementTypeMultiInstanceBody {
		return e.InnerActivity.IsForCompensation
	}
	return e.IsForCompensation
}
