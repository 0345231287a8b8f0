package appcontext

import (
	"context"

	"github.com/google/uuid"
)

type EXECUTION_CONTEXT string

var (
	ExecutionKey EXECUTION_CONTEXT = "executionKey"
	RequestId    EXECUTION_CONTEXT = "requestId"
)

// WithExecutionKey stores the key of the process instance being executed.
func WithExecutionKey(ctx context.Context, key int64) context.Context {
	return context.WithValue(ctx, ExecutionKey, key)
}

func GetExecutionKey(ctx context.Context) (int64, bool) {
	executionContextKey := ctx.Value(ExecutionKey)
	if executionContextKey == nil {
		return 0, false
	}
	key, ok := executionContextKey.(int64)
	return key, ok
}

// WithRequestId stores the id an external command is deduplicated with.
// A new random id is generated when id is empty.
func WithRequestId(ctx context.Context, id string) context.Context {
	if id == "" {
		id = uuid.NewString()
	}
	return context.WithValue(ctx, RequestId, id)
}

func GetRequestId(ctx context.Context) (string, bool) {
	requestId := ctx.Value(RequestId)
	if requestId == nil {
		return "", false
	}
	id, ok := requestId.(string)
	return id, ok && id != ""
}
