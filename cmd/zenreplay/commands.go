package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pbinitiative/zenexec/pkg/bpmn"
	"github.com/pbinitiative/zenexec/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenexec/pkg/storage/inmemory"
)

func readLog(fileName string) ([]bpmn.RecordBatch, error) {
	f, err := os.Open(fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to open log: %w", err)
	}
	defer f.Close()
	return bpmn.ReadBatches(f)
}

// replay applies every batch of the log to an empty state.
func replay(fileName string) (*inmemory.State, []runtime.Record, error) {
	batches, err := readLog(fileName)
	if err != nil {
		return nil, nil, err
	}
	state := inmemory.NewState()
	replayer := bpmn.NewReplayer(state, bpmn.NewEventAppliers())
	for _, batch := range batches {
		if err := replayer.ApplyBatch(batch); err != nil {
			return nil, nil, fmt.Errorf("failed to replay batch of command %d: %w", batch.SourcePosition, err)
		}
	}
	return state, replayer.PendingCommands(), nil
}

type replayedState struct {
	State   json.RawMessage  `json:"state"`
	Pending []runtime.Record `json:"pending,omitempty"`
}

func printState(w io.Writer, fileName string, withPending bool) error {
	state, pending, err := replay(fileName)
	if err != nil {
		return err
	}
	snapshot, err := state.Snapshot()
	if err != nil {
		return err
	}
	out := replayedState{State: snapshot}
	if withPending {
		out.Pending = pending
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}

func printRecords(w io.Writer, fileName string) error {
	batches, err := readLog(fileName)
	if err != nil {
		return err
	}
	for _, batch := range batches {
		for _, record := range batch.Records {
			if _, err := fmt.Fprintln(w, record.String()); err != nil {
				return err
			}
		}
	}
	return nil
}

func compareLogs(w io.Writer, left string, right string) error {
	snapshots := make([][]byte, 2)
	for i, fileName := range []string{left, right} {
		state, _, err := replay(fileName)
		if err != nil {
			return fmt.Errorf("%s: %w", fileName, err)
		}
		snapshots[i], err = state.Snapshot()
		if err != nil {
			return err
		}
	}
	if !bytes.Equal(snapshots[0], snapshots[1]) {
		return fmt.Errorf("%s and %s replay to different states", left, right)
	}
	_, err := fmt.Fprintf(w, "%s and %s replay to the same state\n", left, right)
	return err
}

// recordLog runs an engine writing to fileName, deploys the definitions and
// creates one instance of every process id.
func recordLog(ctx context.Context, fileName string, definitions []string, processIds []string, variablesJson string) error {
	var variables map[string]any
	if variablesJson != "" {
		if err := json.Unmarshal([]byte(variablesJson), &variables); err != nil {
			return fmt.Errorf("failed to parse variables: %w", err)
		}
	}
	f, err := os.Create(fileName)
	if err != nil {
		return fmt.Errorf("failed to create log: %w", err)
	}
	defer f.Close()
	engine, err := bpmn.NewEngine(bpmn.WithLogStream(bpmn.NewJSONLinesLog(f)))
	if err != nil {
		return err
	}
	for _, definition := range definitions {
		resource, err := os.ReadFile(definition)
		if err != nil {
			return fmt.Errorf("failed to read definition: %w", err)
		}
		if _, err := engine.DeployProcess(ctx, filepath.Base(definition), resource); err != nil {
			return fmt.Errorf("failed to deploy %s: %w", definition, err)
		}
	}
	for _, processId := range processIds {
		if _, err := engine.CreateProcessInstance(ctx, processId, variables); err != nil {
			return fmt.Errorf("failed to create instance of %s: %w", processId, err)
		}
	}
	return f.Sync()
}
