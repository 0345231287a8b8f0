package bpmn

import (
	"bytes"
	"testing"

	"github.com/pbinitiative/zenexec/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenexec/pkg/storage/inmemory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplayingTheLogRebuildsTheSameState(t *testing.T) {
	// given
	var buf bytes.Buffer
	state := inmemory.NewState()
	engine := newTestEngine(t, WithState(state))
	engine.logStream = TeeLog(engine.log, NewJSONLinesLog(&buf))

	engine.deploy(t, "simple_task.yaml")
	engine.deploy(t, "event_sub_process_message_non_interrupting.yaml")
	engine.deploy(t, "multi_instance_sequential.yaml")
	engine.createInstance(t, "Simple_Task_Process", map[string]any{"count": 1, "tags": []string{"a", "b"}})
	engine.createInstance(t, "Simple_Task_Process", nil)
	engine.completeJobs(t, "worker", map[string]any{"done": true})
	engine.createInstance(t, "event-sub-process-message-non-interrupting", map[string]any{"orderId": "order-1"})
	_, err := engine.PublishMessage(t.Context(), "remind", "order-1", nil)
	require.NoError(t, err)
	engine.createInstance(t, "multi-instance-sequential", map[string]any{"items": []any{"x", "y"}})
	engine.completeJobs(t, "collect", nil)
	job := engine.singleJob(t, "notify")
	require.NoError(t, engine.FailJob(t.Context(), job.Key, 0, "down"))

	// when
	batches, err := ReadBatches(&buf)
	require.NoError(t, err)
	replayed := inmemory.NewState()
	replayer := NewReplayer(replayed, NewEventAppliers())
	for _, batch := range batches {
		require.NoError(t, replayer.ApplyBatch(batch))
	}

	// then
	assert.Len(t, batches, len(engine.log.Batches()))
	assert.Empty(t, replayer.PendingCommands())
	expected, err := state.Snapshot()
	require.NoError(t, err)
	actual, err := replayed.Snapshot()
	require.NoError(t, err)
	assert.JSONEq(t, string(expected), string(actual))
	assert.Equal(t, state.LastAppliedPosition(), replayed.LastAppliedPosition())
}

func TestBatchDeliveredTwiceIsAppliedOnce(t *testing.T) {
	// given
	engine := newTestEngine(t)
	engine.deploy(t, "simple_task.yaml")
	engine.createInstance(t, "Simple_Task_Process", map[string]any{"count": 1})
	batches := engine.log.Batches()
	replayed := inmemory.NewState()
	replayer := NewReplayer(replayed, NewEventAppliers())
	for _, batch := range batches {
		require.NoError(t, replayer.ApplyBatch(batch))
	}
	once, err := replayed.Snapshot()
	require.NoError(t, err)

	// when
	for _, batch := range batches {
		require.NoError(t, replayer.ApplyBatch(batch))
	}

	// then
	twice, err := replayed.Snapshot()
	require.NoError(t, err)
	assert.JSONEq(t, string(once), string(twice))
}

func TestReplayContinuesWithPendingCommands(t *testing.T) {
	// given
	engine := newTestEngine(t)
	engine.deploy(t, "simple_task.yaml")
	engine.createInstance(t, "Simple_Task_Process", nil)
	committed := engine.log.Batches()[:2]

	replayer := NewReplayer(inmemory.NewState(), NewEventAppliers())
	for _, batch := range committed {
		require.NoError(t, replayer.ApplyBatch(batch))
	}
	pending := replayer.PendingCommands()
	require.NotEmpty(t, pending)
	assert.Equal(t, runtime.RecordTypeCommand, pending[0].RecordType)
	assert.Equal(t, runtime.IntentActivateElement, pending[0].Intent)

	// when
	follower := newTestEngine(t)
	err := follower.Replay(t.Context(), committed)

	// then
	require.NoError(t, err)
	job := follower.singleJob(t, "worker")
	require.NoError(t, follower.CompleteJob(t.Context(), job.Key, nil))
	assert.Len(t, follower.elementRecords("Simple_Task_Process", runtime.IntentElementCompleted), 1)
	for _, batch := range follower.log.Batches() {
		assert.Greater(t, batch.Records[0].Position, committed[1].LastPosition(), "positions continue after the replayed log")
	}
}

func TestMissingEventApplierHaltsThePartition(t *testing.T) {
	// given
	appliers := NewEventAppliers()
	delete(appliers.appliers, applierKey{valueType: runtime.ValueTypeJob, intent: runtime.IntentCreated})
	engine := newTestEngine(t, WithEventAppliers(appliers))
	engine.deploy(t, "simple_task.yaml")

	// when
	_, err := engine.CreateProcessInstance(t.Context(), "Simple_Task_Process", nil)

	// then
	require.ErrorIs(t, err, ErrPartitionHalted)
	assert.ErrorIs(t, err, ErrNoEventApplier)
	assert.ErrorIs(t, engine.Halted(), ErrNoEventApplier)
	assert.Empty(t, engine.records(runtime.ValueTypeJob, runtime.IntentCreated), "the failed batch is never committed")

	// when
	_, err = engine.CreateProcessInstance(t.Context(), "Simple_Task_Process", nil)

	// then
	assert.ErrorIs(t, err, ErrPartitionHalted)
}
