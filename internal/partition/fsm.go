// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package partition

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/hashicorp/raft"
	"github.com/pbinitiative/zenexec/pkg/bpmn"
	"github.com/pbinitiative/zenexec/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenexec/pkg/storage"
)

// fsm applies committed record batches to the partition state.
type fsm struct {
	partition *Partition
}

var _ raft.FSM = &fsm{}

// Apply is called once a log entry is committed by a majority of the cluster.
//
// Batches appended by this node while it was the leader are already part of
// the state and are skipped. The leader holds the engine lock while waiting
// for the commit so they must not reach the engine again.
func (f *fsm) Apply(l *raft.Log) interface{} {
	var batch bpmn.RecordBatch
	if err := json.Unmarshal(l.Data, &batch); err != nil {
		panic(fmt.Sprintf("failed to unmarshal record batch: %s", err.Error()))
	}
	if batch.LastPosition() <= f.partition.written.Load() {
		return nil
	}
	if err := f.partition.engine.ApplyReplicated(batch); err != nil {
		f.partition.logger.Error(fmt.Sprintf("failed to apply batch at index %d: %s", l.Index, err))
		return err
	}
	return nil
}

// Snapshot captures the state together with the commands that were written
// but not processed yet. It fails while the engine is in the middle of a
// command and raft retries on its next snapshot interval.
func (f *fsm) Snapshot() (raft.FSMSnapshot, error) {
	snapshot := &fsmSnapshot{}
	err := f.partition.engine.ReadConsistent(func(_ storage.ReadonlyState, pending []runtime.Record) error {
		data, err := f.partition.state.Snapshot()
		if err != nil {
			return fmt.Errorf("failed to snapshot state: %w", err)
		}
		snapshot.State = data
		snapshot.Pending = pending
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// Restore replaces the state with the snapshot content.
func (f *fsm) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	var snapshot fsmSnapshot
	if err := json.NewDecoder(rc).Decode(&snapshot); err != nil {
		return fmt.Errorf("failed to decode partition snapshot: %w", err)
	}
	return f.partition.engine.RestoreState(func(storage.MutableState) ([]runtime.Record, error) {
		if err := f.partition.state.Restore(snapshot.State); err != nil {
			return nil, fmt.Errorf("failed to restore state: %w", err)
		}
		return snapshot.Pending, nil
	})
}
