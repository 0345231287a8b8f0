package bpmn

import (
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/pbinitiative/zenexec/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenexec/pkg/storage"
)

// EventApplier folds one committed event into the state. Appliers are pure
// state mutations: they never evaluate expressions, never fail and never do I/O.
type EventApplier func(key int64, value runtime.RecordValue, state storage.MutableState)

type applierKey struct {
	valueType runtime.ValueType
	intent    runtime.Intent
}

// EventAppliers is the registry used both while processing and while replaying the log.
type EventAppliers struct {
	appliers map[applierKey]EventApplier
	logger   hclog.Logger
}

// NewEventAppliers returns a registry with the appliers of every event the engine writes.
func NewEventAppliers() *EventAppliers {
	a := &EventAppliers{
		appliers: make(map[applierKey]EventApplier),
		logger:   hclog.Default().Named("event-appliers"),
	}
	a.registerProcessInstanceAppliers()
	a.registerProcessAppliers()
	a.registerVariableAppliers()
	a.registerJobAppliers()
	a.registerIncidentAppliers()
	a.registerProcessEventAppliers()
	a.registerSubscriptionAppliers()
	a.registerTimerAppliers()
	a.registerCompensationAppliers()

	// audit only, the created instance is described by its PROCESS_INSTANCE events
	a.RegisterNoop(runtime.ValueTypeProcessInstanceCreation, runtime.IntentCreated)
	return a
}

func (a *EventAppliers) Register(valueType runtime.ValueType, intent runtime.Intent, applier EventApplier) {
	a.appliers[applierKey{valueType: valueType, intent: intent}] = applier
}

// RegisterNoop marks an event as intentionally not changing the state.
func (a *EventAppliers) RegisterNoop(valueType runtime.ValueType, intent runtime.Intent) {
	a.Register(valueType, intent, func(key int64, _ runtime.RecordValue, _ storage.MutableState) {
		a.logger.Trace("no-op event applied", "valueType", valueType, "intent", intent, "key", key)
	})
}

// IsRegistered reports whether an applier exists for the event.
func (a *EventAppliers) IsRegistered(valueType runtime.ValueType, intent runtime.Intent) bool {
	_, ok := a.appliers[applierKey{valueType: valueType, intent: intent}]
	return ok
}

// Apply applies an event record. Missing appliers are an error, never a silent skip.
func (a *EventAppliers) Apply(record runtime.Record, state storage.MutableState) error {
	if record.RecordType != runtime.RecordTypeEvent {
		return fmt.Errorf("record %s is not an event", record)
	}
	applier, ok := a.appliers[applierKey{valueType: record.ValueType, intent: record.Intent}]
	if !ok {
		return fmt.Errorf("%w for %s.%s", ErrNoEventApplier, record.ValueType, record.Intent)
	}
	applier(record.Key, record.Value, state)
	return nil
}

// register binds a typed applier to the value type of T.
func register[T runtime.RecordValue](a *EventAppliers, intent runtime.Intent, applier func(key int64, value T, state storage.MutableState)) {
	var zero T
	a.Register(zero.ValueType(), intent, func(key int64, value runtime.RecordValue, state storage.MutableState) {
		applier(key, value.(T), state)
	})
}
