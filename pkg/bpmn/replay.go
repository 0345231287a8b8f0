package bpmn

import (
	"maps"
	"slices"

	"github.com/pbinitiative/zenexec/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenexec/pkg/storage"
)

// Replayer rebuilds state from committed batches using the event appliers only.
// It also tracks the follow-up commands that were written but not processed yet,
// a new leader continues with them.
type Replayer struct {
	state    storage.MutableState
	appliers *EventAppliers
	pending  map[int64]runtime.Record
}

func NewReplayer(state storage.MutableState, appliers *EventAppliers) *Replayer {
	return &Replayer{
		state:    state,
		appliers: appliers,
		pending:  make(map[int64]runtime.Record),
	}
}

// ApplyBatch applies the events of the batch. Records at or below the last
// applied position are skipped so a batch can be delivered more than once.
func (r *Replayer) ApplyBatch(batch RecordBatch) error {
	for _, record := range batch.Records {
		if record.Position <= r.state.LastAppliedPosition() {
			continue
		}
		switch record.RecordType {
		case runtime.RecordTypeEvent:
			if err := r.appliers.Apply(record, r.state); err != nil {
				return err
			}
		case runtime.RecordTypeCommand:
			r.pending[record.Position] = record
		}
		r.state.SetLastAppliedPosition(record.Position)
	}
	delete(r.pending, batch.SourcePosition)
	return nil
}

// PendingCommands returns the unprocessed commands in log order.
func (r *Replayer) PendingCommands() []runtime.Record {
	positions := slices.Sorted(maps.Keys(r.pending))
	res := make([]runtime.Record, 0, len(positions))
	for _, position := range positions {
		res = append(res, r.pending[position])
	}
	return res
}

func (r *Replayer) SetPendingCommands(commands []runtime.Record) {
	r.pending = make(map[int64]runtime.Record, len(commands))
	for _, command := range commands {
		r.pending[command.Position] = command
	}
}
