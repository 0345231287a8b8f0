package appcontext

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestExecutionKey(t *testing.T) {
	ctx := WithExecutionKey(context.Background(), 42)

	valFromCtx, found := GetExecutionKey(ctx)
	assert.True(t, found)
	assert.Equal(t, int64(42), valFromCtx)

	_, found = GetExecutionKey(context.Background())
	assert.False(t, found)
}

func TestRequestIdIsGeneratedWhenEmpty(t *testing.T) {
	ctx := WithRequestId(context.Background(), "")

	id, found := GetRequestId(ctx)
	assert.True(t, found)
	_, err := uuid.Parse(id)
	assert.NoError(t, err)

	id, found = GetRequestId(WithRequestId(context.Background(), "given"))
	assert.True(t, found)
	assert.Equal(t, "given", id)
}
