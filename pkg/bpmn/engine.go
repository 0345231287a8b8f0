package bpmn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pbinitiative/zenexec/internal/appcontext"
	"github.com/pbinitiative/zenexec/internal/log"
	"github.com/pbinitiative/zenexec/pkg/bpmn/model"
	"github.com/pbinitiative/zenexec/pkg/bpmn/runtime"
	otelPkg "github.com/pbinitiative/zenexec/pkg/otel"
	"github.com/pbinitiative/zenexec/pkg/storage"
	"github.com/pbinitiative/zenexec/pkg/storage/inmemory"
	"github.com/pbinitiative/zenexec/pkg/zenflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultMaxProcessDepth     = 1000
	DefaultIdempotencyCacheTTL = 5 * time.Minute
	defaultIdempotencyCacheLen = 10_000
)

// Engine is the deterministic core of one partition. Commands are processed
// one at a time, every command produces one RecordBatch that is appended to
// the LogStream before its follow-up commands are processed.
type Engine struct {
	mu sync.Mutex

	name            string
	partitionId     uint32
	state           storage.MutableState
	appliers        *EventAppliers
	logStream       LogStream
	keyGen          *snowflake.Node
	evaluator       ExpressionEvaluator
	expressions     ExpressionProcessor
	clock           func() time.Time
	maxProcessDepth int

	position int64
	batch    recordBatchBuilder
	queue    []runtime.Record
	// set once a processing error stopped the partition
	halted error
	// applies batches committed by other replicas while this one follows
	replica *Replayer

	stateWriter   *StateWriter
	commandWriter *CommandWriter

	transitions  *StateTransitionBehavior
	variables    *VariableBehavior
	incidents    *IncidentBehavior
	jobs         *JobBehavior
	events       *EventSubscriptionBehavior
	errorEvents  *ErrorEventBehavior
	compensation *CompensationBehavior

	idempotency *expirable.LRU[string, int64]
	metrics     *otelPkg.EngineMetrics
	tracer      trace.Tracer
}

type EngineOption = func(*Engine)

// NewEngine creates the engine of a partition. Without options it runs on an
// empty in-memory state and an in-memory log.
func NewEngine(options ...EngineOption) (*Engine, error) {
	engine := &Engine{
		partitionId:     1,
		appliers:        NewEventAppliers(),
		evaluator:       FeelExpressionEvaluator{},
		clock:           time.Now,
		maxProcessDepth: DefaultMaxProcessDepth,
		queue:           make([]runtime.Record, 0),
		idempotency:     expirable.NewLRU[string, int64](defaultIdempotencyCacheLen, nil, DefaultIdempotencyCacheTTL),
	}
	for _, option := range options {
		option(engine)
	}
	if engine.name == "" {
		engine.name = fmt.Sprintf("partition-%d-engine", engine.partitionId)
	}
	if engine.state == nil {
		engine.state = inmemory.NewState()
	}
	if engine.logStream == nil {
		engine.logStream = NewMemLog()
	}
	if engine.keyGen == nil {
		keyGen, err := zenflake.NewKeyGenerator(engine.partitionId)
		if err != nil {
			return nil, fmt.Errorf("failed to create key generator for partition %d: %w", engine.partitionId, err)
		}
		engine.keyGen = keyGen
	}
	metrics, err := otelPkg.NewMetrics(otel.Meter(engine.name))
	if err != nil {
		return nil, fmt.Errorf("failed to create engine metrics: %w", err)
	}
	engine.metrics = metrics
	engine.tracer = otel.GetTracerProvider().Tracer(engine.name)

	engine.position = engine.state.LastAppliedPosition()
	engine.expressions = &scopedExpressionProcessor{state: engine.state, evaluator: engine.evaluator}
	engine.stateWriter = &StateWriter{engine: engine}
	engine.commandWriter = &CommandWriter{engine: engine}
	engine.transitions = &StateTransitionBehavior{engine: engine}
	engine.variables = &VariableBehavior{engine: engine}
	engine.incidents = &IncidentBehavior{engine: engine}
	engine.jobs = &JobBehavior{engine: engine}
	engine.events = &EventSubscriptionBehavior{engine: engine}
	engine.errorEvents = &ErrorEventBehavior{engine: engine}
	engine.compensation = &CompensationBehavior{engine: engine}
	return engine, nil
}

func WithName(name string) EngineOption {
	return func(engine *Engine) {
		engine.name = name
	}
}

func WithPartitionId(partitionId uint32) EngineOption {
	return func(engine *Engine) {
		engine.partitionId = partitionId
	}
}

// WithState runs the engine on an existing state, processing continues after its last applied position.
func WithState(state storage.MutableState) EngineOption {
	return func(engine *Engine) {
		engine.state = state
	}
}

func WithLogStream(logStream LogStream) EngineOption {
	return func(engine *Engine) {
		engine.logStream = logStream
	}
}

func WithEventAppliers(appliers *EventAppliers) EngineOption {
	return func(engine *Engine) {
		engine.appliers = appliers
	}
}

func WithExpressionEvaluator(evaluator ExpressionEvaluator) EngineOption {
	return func(engine *Engine) {
		engine.evaluator = evaluator
	}
}

func WithKeyGenerator(keyGen *snowflake.Node) EngineOption {
	return func(engine *Engine) {
		engine.keyGen = keyGen
	}
}

// WithClock replaces the clock timers are scheduled with.
func WithClock(clock func() time.Time) EngineOption {
	return func(engine *Engine) {
		engine.clock = clock
	}
}

func WithMaxProcessDepth(depth int) EngineOption {
	return func(engine *Engine) {
		engine.maxProcessDepth = depth
	}
}

// WithIdempotencyCache configures how long request ids of api calls are remembered.
func WithIdempotencyCache(size int, ttl time.Duration) EngineOption {
	return func(engine *Engine) {
		engine.idempotency = expirable.NewLRU[string, int64](size, nil, ttl)
	}
}

// Name returns the name of the engine, only useful in case you control multiple ones
func (engine *Engine) Name() string {
	return engine.name
}

func (engine *Engine) PartitionId() uint32 {
	return engine.partitionId
}

// State returns the read side of the partition state.
func (engine *Engine) State() storage.ReadonlyState {
	return engine.state
}

// Halted returns the processing error that stopped the partition or nil.
func (engine *Engine) Halted() error {
	engine.mu.Lock()
	defer engine.mu.Unlock()
	return engine.halted
}

func (engine *Engine) generateKey() int64 {
	return engine.keyGen.Generate().Int64()
}

// appendRecord assigns the next log position to record and adds it to the current batch.
func (engine *Engine) appendRecord(record *runtime.Record) {
	engine.position++
	record.Position = engine.position
	record.SourcePosition = engine.batch.sourcePosition
	if record.RequestId == "" {
		record.RequestId = engine.batch.requestId
	}
	engine.batch.records = append(engine.batch.records, *record)
	engine.state.SetLastAppliedPosition(record.Position)
}

// elementOf returns the compiled element an instance was created for.
func (engine *Engine) elementOf(instance runtime.ElementInstance) (*model.ExecutableElement, error) {
	return engine.lookupElement(instance.Value)
}

func (engine *Engine) lookupElement(value runtime.ProcessInstanceRecord) (*model.ExecutableElement, error) {
	process, err := engine.state.GetProcess(value.ProcessDefinitionKey)
	if err != nil {
		return nil, &ProcessingError{Msg: fmt.Sprintf("failed to load process definition %d", value.ProcessDefinitionKey), Err: err}
	}
	element := process.GetFlowNode(value.ElementId, value.BpmnElementType)
	if element == nil {
		return nil, newProcessingErrorf("element %s not found in process %s", value.ElementId, process.BpmnProcessId)
	}
	return element, nil
}

// execute runs an api operation as a batch with source position -1 and then
// processes all follow-up commands it produced.
func (engine *Engine) execute(ctx context.Context, name string, operation func(ctx context.Context) error) error {
	engine.mu.Lock()
	defer engine.mu.Unlock()
	if engine.halted != nil {
		return fmt.Errorf("%w: %w", ErrPartitionHalted, engine.halted)
	}
	requestId, _ := appcontext.GetRequestId(ctx)
	ctx, span := engine.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String(otelPkg.AttributeRequestId, requestId),
	))
	engine.batch.reset(-1, requestId)
	err := engine.commitBatch(ctx, span, operation(ctx))
	span.End()
	if err != nil {
		return err
	}
	return engine.drainQueue(ctx)
}

// drainQueue processes queued commands until no follow-up is left.
func (engine *Engine) drainQueue(ctx context.Context) error {
	for len(engine.queue) > 0 {
		command := engine.queue[0]
		engine.queue = engine.queue[1:]
		if err := engine.processQueuedCommand(ctx, command); err != nil {
			return err
		}
	}
	return nil
}

func (engine *Engine) processQueuedCommand(ctx context.Context, command runtime.Record) error {
	ctx, span := engine.tracer.Start(ctx, fmt.Sprintf("%s:%s", command.ValueType, command.Intent), trace.WithAttributes(
		attribute.Int64(otelPkg.AttributeRecordPosition, command.Position),
		attribute.Int64(otelPkg.AttributeElementKey, command.Key),
		attribute.String(otelPkg.AttributeIntent, string(command.Intent)),
		attribute.String(otelPkg.AttributeValueType, string(command.ValueType)),
	))
	defer span.End()
	if value, ok := command.Value.(runtime.ProcessInstanceRecord); ok {
		ctx = appcontext.WithExecutionKey(ctx, value.ProcessInstanceKey)
		span.SetAttributes(
			attribute.Int64(otelPkg.AttributeProcessInstanceKey, value.ProcessInstanceKey),
			attribute.String(otelPkg.AttributeElementId, value.ElementId),
			attribute.String(otelPkg.AttributeElementType, string(value.BpmnElementType)),
		)
	}
	engine.batch.reset(command.Position, command.RequestId)
	return engine.commitBatch(ctx, span, engine.processCommand(command))
}

func (engine *Engine) processCommand(command runtime.Record) error {
	switch command.ValueType {
	case runtime.ValueTypeProcessInstance:
		return engine.processProcessInstanceCommand(command)
	}
	return newProcessingErrorf("no processor for command %s.%s", command.ValueType, command.Intent)
}

// commitBatch appends the current batch to the log and queues its follow-up
// commands. An api error raised before anything was written is returned to
// the caller, every other error halts the partition.
func (engine *Engine) commitBatch(ctx context.Context, span trace.Span, processingErr error) error {
	if processingErr == nil {
		processingErr = engine.batch.err
	}
	if processingErr != nil {
		var engineErr *EngineError
		if errors.As(processingErr, &engineErr) && len(engine.batch.records) == 0 {
			span.SetStatus(codes.Error, processingErr.Error())
			return processingErr
		}
		return engine.halt(ctx, span, processingErr)
	}
	if len(engine.batch.records) == 0 {
		return nil
	}
	batch := engine.batch.build()
	span.SetAttributes(attribute.Int(otelPkg.AttributeRecordCount, len(batch.Records)))
	if err := engine.logStream.Append(ctx, batch); err != nil {
		return engine.halt(ctx, span, fmt.Errorf("failed to append batch at position %d: %w", batch.LastPosition(), err))
	}
	engine.recordMetrics(ctx, batch)
	engine.queue = append(engine.queue, engine.batch.followUpCommands()...)
	return nil
}

// halt stops the partition. State and position already reflect the discarded
// batch, the partition has to be rebuilt from the log before it can continue.
func (engine *Engine) halt(ctx context.Context, span trace.Span, err error) error {
	engine.halted = err
	engine.queue = engine.queue[:0]
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	log.Errorf(ctx, "%s halted at position %d: %s", engine.name, engine.position, err)
	return fmt.Errorf("%w: %w", ErrPartitionHalted, err)
}

func (engine *Engine) recordMetrics(ctx context.Context, batch RecordBatch) {
	for _, record := range batch.Records {
		if record.RecordType == runtime.RecordTypeCommandRejection {
			engine.metrics.CommandsRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("intent", string(record.Intent))))
			continue
		}
		if record.RecordType != runtime.RecordTypeEvent {
			continue
		}
		switch value := record.Value.(type) {
		case runtime.ProcessInstanceRecord:
			engine.recordElementMetrics(ctx, record.Intent, value)
		case runtime.JobRecord:
			attrs := metric.WithAttributes(attribute.String("type", value.Type))
			switch record.Intent {
			case runtime.IntentCreated:
				engine.metrics.JobsCreated.Add(ctx, 1, attrs)
			case runtime.IntentCompleted:
				engine.metrics.JobsCompleted.Add(ctx, 1, attrs)
			case runtime.IntentFailed:
				engine.metrics.JobsFailed.Add(ctx, 1, attrs)
			}
		case runtime.IncidentRecord:
			attrs := metric.WithAttributes(attribute.String("errorType", string(value.ErrorType)))
			switch record.Intent {
			case runtime.IntentCreated:
				engine.metrics.IncidentsCreated.Add(ctx, 1, attrs)
			case runtime.IntentResolved:
				engine.metrics.IncidentsResolved.Add(ctx, 1, attrs)
			}
		}
	}
}

func (engine *Engine) recordElementMetrics(ctx context.Context, intent runtime.Intent, value runtime.ProcessInstanceRecord) {
	attrs := metric.WithAttributes(attribute.String("type", string(value.BpmnElementType)))
	isProcess := value.BpmnElementType == model.ElementTypeProcess
	processAttrs := metric.WithAttributes(attribute.String("bpmnProcessId", value.BpmnProcessId))
	switch intent {
	case runtime.IntentElementActivated:
		engine.metrics.ElementsActivated.Add(ctx, 1, attrs)
		if isProcess {
			engine.metrics.ProcessesStarted.Add(ctx, 1, processAttrs)
			engine.metrics.ProcessesRunning.Add(ctx, 1, processAttrs)
		}
	case runtime.IntentElementCompleted:
		engine.metrics.ElementsCompleted.Add(ctx, 1, attrs)
		if isProcess {
			engine.metrics.ProcessesEnded.Add(ctx, 1, processAttrs)
			engine.metrics.ProcessesRunning.Add(ctx, -1, processAttrs)
		}
	case runtime.IntentElementTerminated:
		engine.metrics.ElementsTerminated.Add(ctx, 1, attrs)
		if isProcess {
			engine.metrics.ProcessesEnded.Add(ctx, 1, processAttrs)
			engine.metrics.ProcessesRunning.Add(ctx, -1, processAttrs)
		}
	}
}
