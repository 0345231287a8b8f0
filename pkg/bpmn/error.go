// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"errors"
	"fmt"

	"github.com/pbinitiative/zenexec/pkg/bpmn/runtime"
)

var (
	// ErrPartitionHalted is returned for every command after a processing error stopped the partition.
	ErrPartitionHalted = errors.New("partition halted after processing error")
	// ErrNoEventApplier is returned when an event intent has no registered applier.
	ErrNoEventApplier = errors.New("no event applier registered")
	// ErrEngineBusy is returned when the state cannot be read consistently because a command is in flight.
	ErrEngineBusy = errors.New("engine is processing a command")
	// ErrCommandRejected is returned by the engine api when the submitted command was rejected.
	ErrCommandRejected = errors.New("command rejected")
)

type EngineError struct {
	Msg string
}

func (e *EngineError) Error() string {
	return e.Msg
}

// newEngineErrorf uses fmt.Sprintf(format, a...) to format the message
func newEngineErrorf(format string, a ...interface{}) error {
	return &EngineError{
		Msg: fmt.Sprintf(format, a...),
	}
}

type ExpressionEvaluationError struct {
	Msg string
	Err error
}

func (e *ExpressionEvaluationError) Error() string {
	if e.Err != nil {
		return e.Msg + "\nerror: " + e.Err.Error()
	}
	return e.Msg
}

func (e *ExpressionEvaluationError) Unwrap() error {
	return e.Err
}

// Failure is an expected, recoverable problem of an element instance.
// It is turned into an incident that blocks the instance until resolved.
type Failure struct {
	ErrorType runtime.ErrorType
	Message   string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.ErrorType, f.Message)
}

func newFailuref(errorType runtime.ErrorType, format string, a ...interface{}) *Failure {
	return &Failure{
		ErrorType: errorType,
		Message:   fmt.Sprintf(format, a...),
	}
}

// ProcessingError is an unexpected condition that must not be turned into an
// incident. The command is aborted and the partition halts.
type ProcessingError struct {
	Msg string
	Err error
}

func (e *ProcessingError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

func newProcessingErrorf(format string, a ...interface{}) error {
	return &ProcessingError{
		Msg: fmt.Sprintf(format, a...),
	}
}

// asFailure reports whether err is a Failure, non failures are processing errors.
func asFailure(err error) (*Failure, bool) {
	var failure *Failure
	if errors.As(err, &failure) {
		return failure, true
	}
	return nil, false
}
