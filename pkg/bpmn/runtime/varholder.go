package runtime

import (
	"maps"

	"github.com/pbinitiative/zenexec/pkg/bpmn/model/extensions"
)

// VariableHolder is a read view over a chain of variable scopes. Lookups
// resolve to the nearest scope that defines the variable.
type VariableHolder struct {
	parent         *VariableHolder
	localVariables map[string]any
}

// NewVariableHolder creates a new VariableHolder with a given parent and localVariables map.
func NewVariableHolder(parent *VariableHolder, localVariables map[string]any) *VariableHolder {
	if localVariables == nil {
		localVariables = make(map[string]any)
	}
	return &VariableHolder{
		parent:         parent,
		localVariables: localVariables,
	}
}

func (vh *VariableHolder) Parent() *VariableHolder {
	return vh.parent
}

func (vh *VariableHolder) LocalVariables() map[string]any {
	return vh.localVariables
}

func (vh *VariableHolder) GetVariable(key string) (any, bool) {
	for h := vh; h != nil; h = h.parent {
		if v, ok := h.localVariables[key]; ok {
			return v, true
		}
	}
	return nil, false
}

// Document flattens the chain into a single map, nearer scopes win.
func (vh *VariableHolder) Document() map[string]any {
	if vh == nil {
		return map[string]any{}
	}
	doc := vh.parent.Document()
	maps.Copy(doc, vh.localVariables)
	return doc
}

// EvaluateMappings evaluates mappings against the holder and returns the
// resulting document keyed by mapping target.
// uses a replaceable evaluateExpression() function eg. engine.evaluateExpression()
func (vh *VariableHolder) EvaluateMappings(mappings []extensions.TIoMapping, evaluateExpression func(expression string, variableContext map[string]any) (any, error)) (map[string]any, error) {
	result := make(map[string]any, len(mappings))
	doc := vh.Document()
	for _, mapping := range mappings {
		evalResult, err := evaluateExpression(mapping.Source, doc)
		if err != nil {
			return nil, err
		}
		result[mapping.Target] = evalResult
	}
	return result, nil
}
