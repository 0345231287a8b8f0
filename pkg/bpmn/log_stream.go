package bpmn

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/pbinitiative/zenexec/pkg/bpmn/runtime"
)

// RecordBatch is the result of processing one command. SourcePosition is the
// position of the processed command, Records the events, follow-up commands and
// rejections written for it in order.
type RecordBatch struct {
	SourcePosition int64            `json:"sourcePosition"`
	Records        []runtime.Record `json:"records"`
}

func (b RecordBatch) LastPosition() int64 {
	if len(b.Records) == 0 {
		return 0
	}
	return b.Records[len(b.Records)-1].Position
}

// LogStream is the commit log of a partition. Append returns once the batch is durable.
type LogStream interface {
	Append(ctx context.Context, batch RecordBatch) error
}

// MemLog keeps committed batches in memory.
type MemLog struct {
	mu      sync.RWMutex
	batches []RecordBatch
}

var _ LogStream = &MemLog{}

func NewMemLog() *MemLog {
	return &MemLog{batches: make([]RecordBatch, 0)}
}

func (l *MemLog) Append(_ context.Context, batch RecordBatch) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.batches = append(l.batches, batch)
	return nil
}

func (l *MemLog) Batches() []RecordBatch {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.batches)
}

// Records returns all committed records in log order.
func (l *MemLog) Records() []runtime.Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	res := make([]runtime.Record, 0)
	for _, batch := range l.batches {
		res = append(res, batch.Records...)
	}
	return res
}

// JSONLinesLog writes every committed batch as one json document per line.
type JSONLinesLog struct {
	mu  sync.Mutex
	enc *json.Encoder
}

var _ LogStream = &JSONLinesLog{}

func NewJSONLinesLog(w io.Writer) *JSONLinesLog {
	return &JSONLinesLog{enc: json.NewEncoder(w)}
}

func (l *JSONLinesLog) Append(_ context.Context, batch RecordBatch) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enc.Encode(batch)
}

// ReadBatches reads batches written by JSONLinesLog.
func ReadBatches(r io.Reader) ([]RecordBatch, error) {
	res := make([]RecordBatch, 0)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var batch RecordBatch
		if err := json.Unmarshal(scanner.Bytes(), &batch); err != nil {
			return nil, fmt.Errorf("failed to read batch on line %d: %w", line, err)
		}
		res = append(res, batch)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// multiLog appends to several logs, the first one failing aborts the append.
type multiLog []LogStream

func (m multiLog) Append(ctx context.Context, batch RecordBatch) error {
	for _, l := range m {
		if err := l.Append(ctx, batch); err != nil {
			return err
		}
	}
	return nil
}

// TeeLog returns a LogStream appending every batch to all given logs.
func TeeLog(logs ...LogStream) LogStream {
	return multiLog(logs)
}
