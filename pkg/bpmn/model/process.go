package model

// Process is a compiled process definition.
type Process struct {
	BpmnProcessId string
	Name          string
	Element       *ExecutableElement

	elements map[string]*ExecutableElement
}

// GetElement returns the element with the given id. For multi-instance
// activities the multi-instance body is returned.
func (p *Process) GetElement(id string) *ExecutableElement {
	if id == p.Element.Id {
		return p.Element
	}
	return p.elements[id]
}

// GetFlowNode resolves an element by id and its runtime type. The type is
// needed to tell a multi-instance body apart from its inner activity which
// share the same id.
func (p *Process) GetFlowNode(id string, elementType ElementType) *ExecutableElement {
	el := p.GetElement(id)
	if el == nil {
		return nil
	}
	if el.Type == ElementTypeMultiInstanceBody && elementType != ElementTypeMultiInstanceBody {
		return el.InnerActivity
	}
	return el
}

// Elements returns every compiled element except the process root.
func (p *Process) Elements() []*ExecutableElement {
	res := make([]*ExecutableElement, 0, len(p.elements))
	var walk func(el *ExecutableElement)
	walk = func(el *ExecutableElement) {
		for _, child := range el.Children {
			res = append(res, child)
			walk(child)
		}
	}
	walk(p.Element)
	return res
}
