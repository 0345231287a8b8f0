package bpmn

import (
	"encoding/json"
	"fmt"
	"maps"
	"strconv"
	"strings"

	"github.com/pbinitiative/feel"
	"github.com/pbinitiative/zenexec/pkg/storage"
)

// ExpressionEvaluator evaluates a single expression against a variable document.
type ExpressionEvaluator interface {
	Evaluate(expression string, variables map[string]any) (any, error)
}

// FeelExpressionEvaluator evaluates expressions prefixed with "=" as FEEL.
// Anything else is a static literal.
type FeelExpressionEvaluator struct{}

var _ ExpressionEvaluator = FeelExpressionEvaluator{}

func (FeelExpressionEvaluator) Evaluate(expression string, variables map[string]any) (any, error) {
	expression = strings.TrimSpace(expression)
	//check if is expression if not treat as constant
	if !isExpression(expression) {
		return expression, nil
	}
	res, err := feel.EvalStringWithScope(strings.TrimPrefix(expression, "="), variables)
	if err != nil {
		return nil, &ExpressionEvaluationError{
			Msg: fmt.Sprintf("failed to evaluate expression %s", expression),
			Err: err,
		}
	}
	return normalizeValue(res), nil
}

func isExpression(expression string) bool {
	return strings.HasPrefix(strings.TrimSpace(expression), "=")
}

// ExpressionProcessor evaluates expressions in the variable scope of an element instance.
type ExpressionProcessor interface {
	EvaluateAny(expression string, scopeKey int64) (any, error)
	EvaluateString(expression string, scopeKey int64) (string, error)
	EvaluateArray(expression string, scopeKey int64) ([]any, error)
	EvaluateBoolean(expression string, scopeKey int64) (bool, error)
	// EvaluateBooleanWithVariables adds variables that shadow the scope, they are never stored.
	EvaluateBooleanWithVariables(expression string, scopeKey int64, variables map[string]any) (bool, error)
}

type scopedExpressionProcessor struct {
	state     storage.ReadonlyState
	evaluator ExpressionEvaluator
}

var _ ExpressionProcessor = &scopedExpressionProcessor{}

func (p *scopedExpressionProcessor) evaluate(expression string, scopeKey int64, extra map[string]any) (any, error) {
	variables := p.state.GetVariableHolder(scopeKey).Document()
	maps.Copy(variables, extra)
	return p.evaluator.Evaluate(expression, variables)
}

func (p *scopedExpressionProcessor) EvaluateAny(expression string, scopeKey int64) (any, error) {
	return p.evaluate(expression, scopeKey, nil)
}

func (p *scopedExpressionProcessor) EvaluateString(expression string, scopeKey int64) (string, error) {
	res, err := p.evaluate(expression, scopeKey, nil)
	if err != nil {
		return "", err
	}
	switch v := res.(type) {
	case string:
		return v, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	}
	return "", &ExpressionEvaluationError{Msg: fmt.Sprintf("expected expression %s to be evaluated to a string, but was %T", expression, res)}
}

func (p *scopedExpressionProcessor) EvaluateArray(expression string, scopeKey int64) ([]any, error) {
	res, err := p.evaluate(expression, scopeKey, nil)
	if err != nil {
		return nil, err
	}
	if array, ok := res.([]any); ok {
		return array, nil
	}
	return nil, &ExpressionEvaluationError{Msg: fmt.Sprintf("expected expression %s to be evaluated to an array, but was %T", expression, res)}
}

func (p *scopedExpressionProcessor) EvaluateBoolean(expression string, scopeKey int64) (bool, error) {
	return p.EvaluateBooleanWithVariables(expression, scopeKey, nil)
}

func (p *scopedExpressionProcessor) EvaluateBooleanWithVariables(expression string, scopeKey int64, variables map[string]any) (bool, error) {
	res, err := p.evaluate(expression, scopeKey, variables)
	if err != nil {
		return false, err
	}
	switch v := res.(type) {
	case bool:
		return v, nil
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b, nil
		}
	}
	return false, &ExpressionEvaluationError{Msg: fmt.Sprintf("expected expression %s to be evaluated to a boolean, but was %T", expression, res)}
}

// normalizeValue converts a value into its json form (numbers become float64,
// structs become maps) so every replica stores exactly the same value.
func normalizeValue(value any) any {
	switch value.(type) {
	case nil, string, bool, float64:
		return value
	}
	data, err := json.Marshal(value)
	if err != nil {
		return value
	}
	var res any
	if err := json.Unmarshal(data, &res); err != nil {
		return value
	}
	return res
}

func normalizeDocument(document map[string]any) map[string]any {
	if len(document) == 0 {
		return nil
	}
	res := make(map[string]any, len(document))
	for k, v := range document {
		res[k] = normalizeValue(v)
	}
	return res
}
