package bpmn

import (
	"context"
	"fmt"

	"github.com/pbinitiative/zenexec/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenexec/pkg/storage"
)

// ApplyReplicated applies a batch committed by another replica. Batches the
// engine wrote itself are skipped by position. Follow-up commands of the
// batch stay pending until Promote is called.
func (engine *Engine) ApplyReplicated(batch RecordBatch) error {
	engine.mu.Lock()
	defer engine.mu.Unlock()
	if engine.replica == nil {
		engine.replica = NewReplayer(engine.state, engine.appliers)
	}
	if err := engine.replica.ApplyBatch(batch); err != nil {
		engine.halted = err
		return fmt.Errorf("%w: %w", ErrPartitionHalted, err)
	}
	engine.position = max(engine.position, engine.state.LastAppliedPosition())
	return nil
}

// Promote makes the engine continue as the leader. Commands the previous
// leader committed but did not process are processed first.
func (engine *Engine) Promote(ctx context.Context) error {
	engine.mu.Lock()
	pending := engine.pendingReplicated()
	engine.replica = nil
	engine.mu.Unlock()
	return engine.Resume(ctx, pending)
}

func (engine *Engine) pendingReplicated() []runtime.Record {
	if engine.replica == nil {
		return nil
	}
	return engine.replica.PendingCommands()
}

// ReadConsistent runs fn on the state and the commands still pending from
// replicated batches unless a command is being processed, in which case
// ErrEngineBusy is returned instead of waiting.
func (engine *Engine) ReadConsistent(fn func(state storage.ReadonlyState, pending []runtime.Record) error) error {
	if !engine.mu.TryLock() {
		return ErrEngineBusy
	}
	defer engine.mu.Unlock()
	if engine.halted != nil {
		return fmt.Errorf("%w: %w", ErrPartitionHalted, engine.halted)
	}
	return fn(engine.state, engine.pendingReplicated())
}

// RestoreState replaces the state through fn, for example from a snapshot.
// fn returns the commands that were pending in the restored state. A halted
// engine continues from the restored state.
func (engine *Engine) RestoreState(fn func(state storage.MutableState) ([]runtime.Record, error)) error {
	engine.mu.Lock()
	defer engine.mu.Unlock()
	pending, err := fn(engine.state)
	if err != nil {
		return err
	}
	engine.halted = nil
	engine.queue = engine.queue[:0]
	engine.replica = NewReplayer(engine.state, engine.appliers)
	engine.replica.SetPendingCommands(pending)
	engine.position = engine.state.LastAppliedPosition()
	return nil
}
