// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package inmemory_test

import (
	"testing"

	"github.com/pbinitiative/zenexec/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenexec/pkg/storage/inmemory"
	"github.com/pbinitiative/zenexec/pkg/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryStorage(t *testing.T) {
	tester := storagetest.StorageTester{}

	for name, testFunc := range tester.GetTests() {
		t.Run(name, testFunc(inmemory.NewState(), t))
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	// given
	state := inmemory.NewState()
	state.SaveElementInstance(runtime.ElementInstance{
		Key:   1,
		State: runtime.IntentElementActivated,
		Value: runtime.ProcessInstanceRecord{ElementId: "process", FlowScopeKey: -1},
	})
	state.SaveElementInstance(runtime.ElementInstance{
		Key:   2,
		State: runtime.IntentElementActivating,
		Value: runtime.ProcessInstanceRecord{ElementId: "task", FlowScopeKey: 1},
	})
	state.CreateScope(1, -1)
	state.SetVariable(1, "name", "value")
	state.SetLastAppliedPosition(12)
	snapshot, err := state.Snapshot()
	require.NoError(t, err)

	// when
	restored := inmemory.NewState()
	err = restored.Restore(snapshot)

	// then
	require.NoError(t, err)
	restoredSnapshot, err := restored.Snapshot()
	require.NoError(t, err)
	assert.JSONEq(t, string(snapshot), string(restoredSnapshot))
	assert.Equal(t, int64(12), restored.LastAppliedPosition())
	assert.Len(t, restored.FindChildElementInstances(1), 1)
}
