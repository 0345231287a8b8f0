package bpmn

import (
	"errors"

	"github.com/pbinitiative/zenexec/pkg/bpmn/runtime"
)

// recordBatchBuilder collects the records written while a single command is processed.
type recordBatchBuilder struct {
	sourcePosition int64
	requestId      string
	records        []runtime.Record
	// first applier error, the batch is discarded when set
	err error
	// called processes resolved by the call activities activated in this command
	calledProcesses map[int64]calledProcess
}

func (b *recordBatchBuilder) reset(sourcePosition int64, requestId string) {
	b.sourcePosition = sourcePosition
	b.requestId = requestId
	b.records = make([]runtime.Record, 0, 8)
	b.err = nil
	b.calledProcesses = map[int64]calledProcess{}
}

func (b *recordBatchBuilder) build() RecordBatch {
	return RecordBatch{
		SourcePosition: b.sourcePosition,
		Records:        b.records,
	}
}

// followUpCommands returns the commands of the batch that still have to be processed.
func (b *recordBatchBuilder) followUpCommands() []runtime.Record {
	res := make([]runtime.Record, 0)
	for _, record := range b.records {
		if record.RecordType == runtime.RecordTypeCommand && record.Position != b.sourcePosition {
			res = append(res, record)
		}
	}
	return res
}

// StateWriter appends events to the current batch. Every event is applied to
// the state right away so later steps of the same command observe it.
type StateWriter struct {
	engine *Engine
}

func (w *StateWriter) AppendFollowUpEvent(key int64, intent runtime.Intent, value runtime.RecordValue) {
	record := runtime.Record{
		Key:        key,
		RecordType: runtime.RecordTypeEvent,
		ValueType:  value.ValueType(),
		Intent:     intent,
		Value:      value,
	}
	w.engine.appendRecord(&record)
	if err := w.engine.appliers.Apply(record, w.engine.state); err != nil {
		w.engine.batch.err = errors.Join(w.engine.batch.err, err)
	}
}

// CommandWriter appends follow-up commands to the current batch. They are
// processed after the batch was committed, in the order they were written.
type CommandWriter struct {
	engine *Engine
}

func (w *CommandWriter) AppendFollowUpCommand(key int64, intent runtime.Intent, value runtime.RecordValue, variables map[string]any) {
	record := runtime.Record{
		Key:        key,
		RecordType: runtime.RecordTypeCommand,
		ValueType:  value.ValueType(),
		Intent:     intent,
		Variables:  normalizeDocument(variables),
		Value:      value,
	}
	w.engine.appendRecord(&record)
}

func (w *CommandWriter) AppendRejection(command runtime.Record, reason string) {
	record := runtime.Record{
		Key:             command.Key,
		RecordType:      runtime.RecordTypeCommandRejection,
		ValueType:       command.ValueType,
		Intent:          command.Intent,
		RejectionReason: reason,
		RequestId:       command.RequestId,
		Value:           command.Value,
	}
	w.engine.appendRecord(&record)
}
