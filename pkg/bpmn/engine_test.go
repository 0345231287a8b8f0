package bpmn

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/pbinitiative/zenexec/internal/appcontext"
	"github.com/pbinitiative/zenexec/pkg/bpmn/model"
	"github.com/pbinitiative/zenexec/pkg/bpmn/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testEvaluator resolves "=name" and "=a.b" against the variables and "=true"
// and "=false" to booleans. Expressions registered in funcs take precedence.
type testEvaluator struct {
	funcs map[string]func(variables map[string]any) (any, error)
}

func (e *testEvaluator) Evaluate(expression string, variables map[string]any) (any, error) {
	expression = strings.TrimSpace(expression)
	if !isExpression(expression) {
		return expression, nil
	}
	if fn, ok := e.funcs[expression]; ok {
		return fn(variables)
	}
	body := strings.TrimSpace(strings.TrimPrefix(expression, "="))
	switch body {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	var current any = variables
	for _, part := range strings.Split(body, ".") {
		document, ok := current.(map[string]any)
		if !ok {
			return nil, nil
		}
		current = document[part]
	}
	return current, nil
}

type testEngine struct {
	*Engine
	log       *MemLog
	evaluator *testEvaluator
	now       time.Time
}

func newTestEngine(t *testing.T, options ...EngineOption) *testEngine {
	t.Helper()
	te := &testEngine{
		log:       NewMemLog(),
		evaluator: &testEvaluator{funcs: map[string]func(map[string]any) (any, error){}},
		now:       time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	defaults := []EngineOption{
		WithLogStream(te.log),
		WithExpressionEvaluator(te.evaluator),
		WithClock(func() time.Time { return te.now }),
	}
	engine, err := NewEngine(append(defaults, options...)...)
	require.NoError(t, err)
	te.Engine = engine
	return te
}

func (te *testEngine) deploy(t *testing.T, fileName string) runtime.ProcessDefinition {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("test-cases", fileName))
	require.NoError(t, err)
	definition, err := te.DeployProcess(t.Context(), fileName, data)
	require.NoError(t, err)
	return definition
}

func (te *testEngine) createInstance(t *testing.T, bpmnProcessId string, variables map[string]any) int64 {
	t.Helper()
	key, err := te.CreateProcessInstance(t.Context(), bpmnProcessId, variables)
	require.NoError(t, err)
	return key
}

// records returns the committed records of valueType with intent.
func (te *testEngine) records(valueType runtime.ValueType, intent runtime.Intent) []runtime.Record {
	res := make([]runtime.Record, 0)
	for _, record := range te.log.Records() {
		if record.ValueType == valueType && record.Intent == intent {
			res = append(res, record)
		}
	}
	return res
}

// elementRecords returns the committed element events of elementId with intent.
func (te *testEngine) elementRecords(elementId string, intent runtime.Intent) []runtime.Record {
	res := make([]runtime.Record, 0)
	for _, record := range te.records(runtime.ValueTypeProcessInstance, intent) {
		if record.RecordType != runtime.RecordTypeEvent {
			continue
		}
		if record.Value.(runtime.ProcessInstanceRecord).ElementId == elementId {
			res = append(res, record)
		}
	}
	return res
}

// elementPath returns the ids of the elements that reached intent, in log order.
func (te *testEngine) elementPath(intent runtime.Intent) []string {
	res := make([]string, 0)
	for _, record := range te.records(runtime.ValueTypeProcessInstance, intent) {
		if record.RecordType == runtime.RecordTypeEvent {
			res = append(res, record.Value.(runtime.ProcessInstanceRecord).ElementId)
		}
	}
	return res
}

func (te *testEngine) hasCompleted(elementInstanceKey int64) bool {
	return slices.ContainsFunc(te.records(runtime.ValueTypeProcessInstance, runtime.IntentElementCompleted), func(record runtime.Record) bool {
		return record.Key == elementInstanceKey
	})
}

func (te *testEngine) hasTerminated(elementInstanceKey int64) bool {
	return slices.ContainsFunc(te.records(runtime.ValueTypeProcessInstance, runtime.IntentElementTerminated), func(record runtime.Record) bool {
		return record.Key == elementInstanceKey
	})
}

func (te *testEngine) incidentsCreated() []runtime.IncidentRecord {
	res := make([]runtime.IncidentRecord, 0)
	for _, record := range te.records(runtime.ValueTypeIncident, runtime.IntentCreated) {
		res = append(res, record.Value.(runtime.IncidentRecord))
	}
	return res
}

func (te *testEngine) singleJob(t *testing.T, jobType string) ActivatedJob {
	t.Helper()
	jobs := te.FindActivatableJobs(jobType)
	require.Len(t, jobs, 1, "expected exactly one activatable job of type %s", jobType)
	return jobs[0]
}

// completeJobs completes every activatable job of jobType and returns how many were completed.
func (te *testEngine) completeJobs(t *testing.T, jobType string, variables map[string]any) int {
	t.Helper()
	jobs := te.FindActivatableJobs(jobType)
	for _, job := range jobs {
		require.NoError(t, te.CompleteJob(t.Context(), job.Key, variables))
	}
	return len(jobs)
}

func TestMetadataIsGivenFromLoadedFile(t *testing.T) {
	// given
	engine := newTestEngine(t)

	// when
	definition := engine.deploy(t, "simple_task.yaml")

	// then
	assert.Greater(t, definition.ProcessDefinitionKey, int64(1))
	assert.Equal(t, "Simple_Task_Process", definition.BpmnProcessId)
	assert.Equal(t, int32(1), definition.Version)
	assert.Equal(t, "simple_task.yaml", definition.ResourceName)
}

func TestLoadingTheSameFileWillNotIncreaseTheVersionNorChangeTheProcessKey(t *testing.T) {
	// given
	engine := newTestEngine(t)
	first := engine.deploy(t, "simple_task.yaml")

	// when
	second := engine.deploy(t, "simple_task.yaml")

	// then
	assert.Equal(t, int32(1), second.Version)
	assert.Equal(t, first.ProcessDefinitionKey, second.ProcessDefinitionKey)
	assert.Len(t, engine.records(runtime.ValueTypeProcess, runtime.IntentCreated), 1)
}

func TestLoadingTheSameProcessWithModificationWillCreateNewVersion(t *testing.T) {
	// given
	engine := newTestEngine(t)

	// when
	process1 := engine.deploy(t, "simple_task.yaml")
	process2 := engine.deploy(t, "simple_task_modified_taskId.yaml")
	process3 := engine.deploy(t, "simple_task.yaml")

	// then
	assert.Equal(t, process1.BpmnProcessId, process2.BpmnProcessId)
	assert.Equal(t, int32(1), process1.Version)
	assert.Equal(t, int32(2), process2.Version)
	assert.Equal(t, int32(3), process3.Version)
	assert.NotEqual(t, process2.ProcessDefinitionKey, process1.ProcessDefinitionKey)
	assert.Len(t, engine.GetProcessDefinitions(), 1)
}

func TestDeployingAnInvalidDefinitionIsRejected(t *testing.T) {
	// given
	engine := newTestEngine(t)

	// when
	_, err := engine.DeployProcess(t.Context(), "broken.yaml", []byte("id: broken\nelements:\n  - {id: a, type: SERVICE_TASK}\n"))

	// then
	var engineErr *EngineError
	assert.ErrorAs(t, err, &engineErr)
	var modelErr *model.UnmarshallingError
	assert.ErrorAs(t, err, &modelErr)
	assert.Empty(t, engine.log.Batches())
	assert.NoError(t, engine.Halted())
}

func TestServiceTaskCreatesJobAndCompletesWithIt(t *testing.T) {
	// given
	engine := newTestEngine(t)
	engine.deploy(t, "simple_task.yaml")
	instanceKey := engine.createInstance(t, "Simple_Task_Process", map[string]any{"orderId": "order-1"})

	// when
	job := engine.singleJob(t, "worker")
	err := engine.CompleteJob(t.Context(), job.Key, map[string]any{"approved": true})

	// then
	require.NoError(t, err)
	assert.Equal(t, "id", job.ElementId)
	assert.Equal(t, "order-1", job.Variables["orderId"])
	assert.Equal(t, int32(DefaultJobRetries), job.Retries)
	assert.True(t, engine.hasCompleted(instanceKey))
	assert.Equal(t, []string{"start", "id", "end", "Simple_Task_Process"}, engine.elementPath(runtime.IntentElementCompleted))
	assert.Empty(t, engine.FindActivatableJobs("worker"))
	_, err = engine.GetElementInstance(instanceKey)
	assert.Error(t, err, "completed instances are removed from the state")
}

func TestLifecycleEventsAreWrittenInOrder(t *testing.T) {
	// given
	engine := newTestEngine(t)
	engine.deploy(t, "simple_task.yaml")

	// when
	engine.createInstance(t, "Simple_Task_Process", nil)

	// then
	intents := make([]runtime.Intent, 0)
	for _, record := range engine.log.Records() {
		value, ok := record.Value.(runtime.ProcessInstanceRecord)
		if ok && value.ElementId == "start" && record.RecordType == runtime.RecordTypeEvent {
			intents = append(intents, record.Intent)
		}
	}
	assert.Equal(t, []runtime.Intent{
		runtime.IntentElementActivating,
		runtime.IntentElementActivated,
		runtime.IntentElementCompleting,
		runtime.IntentElementCompleted,
	}, intents)
}

func TestEveryBatchHasIncreasingPositionsAndItsSourcePosition(t *testing.T) {
	// given
	engine := newTestEngine(t)
	engine.deploy(t, "simple_task.yaml")
	engine.createInstance(t, "Simple_Task_Process", nil)
	engine.completeJobs(t, "worker", nil)

	// when
	batches := engine.log.Batches()

	// then
	lastPosition := int64(0)
	for _, batch := range batches {
		require.NotEmpty(t, batch.Records)
		for _, record := range batch.Records {
			assert.Equal(t, lastPosition+1, record.Position)
			assert.Equal(t, batch.SourcePosition, record.SourcePosition)
			lastPosition = record.Position
		}
	}
	assert.Equal(t, lastPosition, engine.State().LastAppliedPosition())
}

func TestSimpleAndUncontrolledForkingTwoTasks(t *testing.T) {
	// given
	engine := newTestEngine(t)
	engine.deploy(t, "forked_flow.yaml")

	// when
	instanceKey := engine.createInstance(t, "forked-flow", nil)

	// then
	instance, err := engine.GetElementInstance(instanceKey)
	require.NoError(t, err)
	assert.Equal(t, 2, instance.ActiveChildren)
	assert.Equal(t, 0, instance.ActiveFlows)
	assert.Len(t, engine.FindActivatableJobs("fork"), 2)

	// when
	engine.completeJobs(t, "fork", nil)

	// then
	assert.True(t, engine.hasCompleted(instanceKey))
}

func TestTokensAreConservedWhileFlowsAreTaken(t *testing.T) {
	// given
	engine := newTestEngine(t)
	engine.deploy(t, "forked_flow.yaml")
	instanceKey := engine.createInstance(t, "forked-flow", nil)
	jobs := engine.FindActivatableJobs("fork")
	require.Len(t, jobs, 2)

	// when
	require.NoError(t, engine.CompleteJob(t.Context(), jobs[0].Key, nil))

	// then
	instance, err := engine.GetElementInstance(instanceKey)
	require.NoError(t, err)
	assert.True(t, instance.IsActive())
	assert.Equal(t, 1, instance.ActiveTokens())
	assert.Equal(t, 3, instance.ChildrenCompleted, "start event, one task and one end event completed")
	children := engine.GetChildElementInstances(instanceKey)
	require.Len(t, children, 1)
	assert.Equal(t, jobs[1].ElementId, children[0].Value.ElementId)
}

func TestSubProcessCompletesWithItsLastChild(t *testing.T) {
	// given
	engine := newTestEngine(t)
	engine.deploy(t, "sub_process.yaml")
	instanceKey := engine.createInstance(t, "sub-process", nil)
	job := engine.singleJob(t, "inner")
	sub := engine.elementRecords("sub", runtime.IntentElementActivated)
	require.Len(t, sub, 1)

	// when
	require.NoError(t, engine.CompleteJob(t.Context(), job.Key, map[string]any{"result": "done"}))

	// then
	assert.True(t, engine.hasCompleted(sub[0].Key))
	assert.True(t, engine.hasCompleted(instanceKey))
	assert.Equal(t, []string{"start", "sub-start", "inner", "sub-end", "sub", "end", "sub-process"}, engine.elementPath(runtime.IntentElementCompleted))
}

func TestCreateInstanceByIdUsesLatestProcessVersion(t *testing.T) {
	// given
	engine := newTestEngine(t)
	engine.deploy(t, "simple_task.yaml")
	v2 := engine.deploy(t, "simple_task_modified_taskId.yaml")

	// when
	engine.createInstance(t, "Simple_Task_Process", nil)

	// then
	job := engine.singleJob(t, "worker")
	assert.Equal(t, "id-modified", job.ElementId)
	assert.Equal(t, v2.ProcessDefinitionKey, job.ProcessDefinitionKey)
}

func TestCreateInstanceOfExactVersion(t *testing.T) {
	// given
	engine := newTestEngine(t)
	v1 := engine.deploy(t, "simple_task.yaml")
	engine.deploy(t, "simple_task_modified_taskId.yaml")

	// when
	_, err := engine.CreateProcessInstance(t.Context(), "", nil, WithProcessDefinitionKey(v1.ProcessDefinitionKey))

	// then
	require.NoError(t, err)
	assert.Equal(t, "id", engine.singleJob(t, "worker").ElementId)
}

func TestCreateInstanceByIdReturnErrorWhenNoIDFound(t *testing.T) {
	// given
	engine := newTestEngine(t)

	// when
	_, err := engine.CreateProcessInstance(t.Context(), "unknown", nil)

	// then
	var engineErr *EngineError
	assert.ErrorAs(t, err, &engineErr)
	assert.NoError(t, engine.Halted())
}

func TestCreateInstanceAtUnknownStartElementIsRejected(t *testing.T) {
	// given
	engine := newTestEngine(t)
	engine.deploy(t, "simple_task.yaml")

	// when
	_, err := engine.CreateProcessInstance(t.Context(), "Simple_Task_Process", nil, WithStartElement("id"))

	// then
	var engineErr *EngineError
	assert.ErrorAs(t, err, &engineErr)
}

func TestCreateInstanceWithSameRequestIdIsIdempotent(t *testing.T) {
	// given
	engine := newTestEngine(t)
	engine.deploy(t, "simple_task.yaml")
	ctx := appcontext.WithRequestId(t.Context(), "request-1")

	// when
	first, err := engine.CreateProcessInstance(ctx, "Simple_Task_Process", nil)
	require.NoError(t, err)
	second, err := engine.CreateProcessInstance(ctx, "Simple_Task_Process", nil)
	require.NoError(t, err)

	// then
	assert.Equal(t, first, second)
	assert.Len(t, engine.FindActivatableJobs("worker"), 1)
	creations := engine.records(runtime.ValueTypeProcessInstanceCreation, runtime.IntentCreated)
	require.Len(t, creations, 1)
	assert.Equal(t, "request-1", creations[0].RequestId)
}

func TestCancelInstanceShouldCancelInstance(t *testing.T) {
	// given
	engine := newTestEngine(t)
	engine.deploy(t, "forked_flow.yaml")
	instanceKey := engine.createInstance(t, "forked-flow", nil)

	// when
	err := engine.CancelProcessInstance(t.Context(), instanceKey)

	// then
	require.NoError(t, err)
	assert.True(t, engine.hasTerminated(instanceKey))
	assert.Len(t, engine.elementRecords("id-a-1", runtime.IntentElementTerminated), 1)
	assert.Len(t, engine.elementRecords("id-b-1", runtime.IntentElementTerminated), 1)
	assert.Len(t, engine.records(runtime.ValueTypeJob, runtime.IntentCanceled), 2)
	assert.Empty(t, engine.FindActivatableJobs("fork"))

	// when
	err = engine.CancelProcessInstance(t.Context(), instanceKey)

	// then
	var engineErr *EngineError
	assert.ErrorAs(t, err, &engineErr)
}

func TestTerminateEndEventTerminatesSiblingsAndCompletesTheScope(t *testing.T) {
	// given
	engine := newTestEngine(t)
	engine.deploy(t, "terminate_end.yaml")

	// when
	instanceKey := engine.createInstance(t, "terminate-end", nil)

	// then
	assert.True(t, engine.hasCompleted(instanceKey))
	assert.Len(t, engine.elementRecords("slow", runtime.IntentElementTerminated), 1)
	assert.Len(t, engine.elementRecords("terminate", runtime.IntentElementCompleted), 1)
	assert.Empty(t, engine.elementRecords("end-slow", runtime.IntentElementActivating))
	assert.Empty(t, engine.FindActivatableJobs("slow"))
}

func TestTerminateEndEventDropsPendingFlowsOfTheScope(t *testing.T) {
	// given
	engine := newTestEngine(t)
	engine.deploy(t, "terminate_end_pending_flow.yaml")

	// when
	instanceKey := engine.createInstance(t, "terminate-pending-flow", nil)

	// then
	assert.Len(t, engine.elementRecords("terminate", runtime.IntentElementCompleted), 1)
	assert.Empty(t, engine.elementRecords("t2", runtime.IntentElementActivating))
	assert.Empty(t, engine.elementRecords("after", runtime.IntentElementActivating))
	assert.Empty(t, engine.FindActivatableJobs("after"))
	assert.True(t, engine.hasCompleted(instanceKey))
	assert.Empty(t, engine.GetChildElementInstances(instanceKey))
	_, err := engine.GetElementInstance(instanceKey)
	assert.Error(t, err)
}

func TestCompensationThrowEventWaitsForTheHandler(t *testing.T) {
	// given
	engine := newTestEngine(t)
	engine.deploy(t, "compensation.yaml")

	// when
	instanceKey := engine.createInstance(t, "compensation", nil)

	// then
	assert.Len(t, engine.records(runtime.ValueTypeCompensationSubscription, runtime.IntentCreated), 1)
	job := engine.singleJob(t, "cancel-booking")
	undo := engine.elementRecords("undo", runtime.IntentElementActivated)
	require.Len(t, undo, 1)
	assert.False(t, engine.hasCompleted(undo[0].Key))

	// when
	require.NoError(t, engine.CompleteJob(t.Context(), job.Key, nil))

	// then
	assert.True(t, engine.hasCompleted(undo[0].Key))
	assert.True(t, engine.hasCompleted(instanceKey))
}
