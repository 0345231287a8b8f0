package bpmn

import (
	"testing"

	"github.com/pbinitiative/zenexec/pkg/storage/inmemory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeelEvaluatorTreatsPlainTextAsLiteral(t *testing.T) {
	evaluator := FeelExpressionEvaluator{}

	res, err := evaluator.Evaluate("  PT1H ", nil)

	require.NoError(t, err)
	assert.Equal(t, "PT1H", res)
}

func TestFeelEvaluatorResolvesVariables(t *testing.T) {
	evaluator := FeelExpressionEvaluator{}

	res, err := evaluator.Evaluate("= orderId", map[string]any{"orderId": "order-1"})

	require.NoError(t, err)
	assert.Equal(t, "order-1", res)
}

func TestFeelEvaluatorComparesNumbers(t *testing.T) {
	evaluator := FeelExpressionEvaluator{}

	res, err := evaluator.Evaluate("= price > 50", map[string]any{"price": float64(100)})

	require.NoError(t, err)
	assert.Equal(t, true, res)
}

func TestNormalizeValue(t *testing.T) {
	type order struct {
		Id    string `json:"id"`
		Count int    `json:"count"`
	}
	tests := []struct {
		name     string
		value    any
		expected any
	}{
		{name: "nil", value: nil, expected: nil},
		{name: "string", value: "a", expected: "a"},
		{name: "int", value: 42, expected: float64(42)},
		{name: "int slice", value: []int{1, 2}, expected: []any{float64(1), float64(2)}},
		{name: "struct", value: order{Id: "o-1", Count: 2}, expected: map[string]any{"id": "o-1", "count": float64(2)}},
		{name: "nested map", value: map[string]any{"items": []string{"x"}}, expected: map[string]any{"items": []any{"x"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, normalizeValue(tt.value))
		})
	}
}

func TestScopedExpressionProcessor(t *testing.T) {
	state := inmemory.NewState()
	state.CreateScope(1, -1)
	state.CreateScope(2, 1)
	state.SetVariable(1, "orderId", "order-1")
	state.SetVariable(1, "amount", float64(12.5))
	state.SetVariable(1, "items", []any{"a", "b"})
	state.SetVariable(2, "orderId", "order-2")
	state.SetVariable(2, "approved", "true")
	processor := &scopedExpressionProcessor{
		state:     state,
		evaluator: &testEvaluator{funcs: map[string]func(map[string]any) (any, error){}},
	}

	t.Run("inner scope shadows outer scope", func(t *testing.T) {
		res, err := processor.EvaluateString("=orderId", 2)
		require.NoError(t, err)
		assert.Equal(t, "order-2", res)

		res, err = processor.EvaluateString("=orderId", 1)
		require.NoError(t, err)
		assert.Equal(t, "order-1", res)
	})

	t.Run("numbers are formatted as strings", func(t *testing.T) {
		res, err := processor.EvaluateString("=amount", 2)
		require.NoError(t, err)
		assert.Equal(t, "12.5", res)
	})

	t.Run("array", func(t *testing.T) {
		res, err := processor.EvaluateArray("=items", 2)
		require.NoError(t, err)
		assert.Equal(t, []any{"a", "b"}, res)

		_, err = processor.EvaluateArray("=orderId", 2)
		var evalErr *ExpressionEvaluationError
		assert.ErrorAs(t, err, &evalErr)
	})

	t.Run("boolean accepts boolean strings", func(t *testing.T) {
		res, err := processor.EvaluateBoolean("=approved", 2)
		require.NoError(t, err)
		assert.True(t, res)

		_, err = processor.EvaluateBoolean("=items", 2)
		assert.Error(t, err)
	})

	t.Run("extra variables shadow the scope and are not stored", func(t *testing.T) {
		res, err := processor.EvaluateBooleanWithVariables("=approved", 2, map[string]any{"approved": false})
		require.NoError(t, err)
		assert.False(t, res)
		assert.Equal(t, "true", state.FindLocalVariables(2)["approved"])
	})

	t.Run("unknown scope has no variables", func(t *testing.T) {
		res, err := processor.EvaluateAny("=orderId", 99)
		require.NoError(t, err)
		assert.Nil(t, res)
	})
}
