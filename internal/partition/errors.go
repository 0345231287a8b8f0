// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package partition

import "errors"

var (
	// ErrNotOpen is returned when a Partition is not open.
	ErrNotOpen = errors.New("partition not open")

	// ErrAlreadyOpen is returned when a Partition is already open.
	ErrAlreadyOpen = errors.New("partition already open")

	// ErrNotLeader is returned when a node attempts to execute a leader-only
	// operation.
	ErrNotLeader = errors.New("not leader")

	// ErrWaitForLeaderTimeout is returned when the Partition cannot determine the leader
	// within the specified time.
	ErrWaitForLeaderTimeout = errors.New("timeout waiting for leader")
)
