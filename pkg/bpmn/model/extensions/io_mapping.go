// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package extensions

// TIoMapping maps the result of the Source expression into the Target variable.
type TIoMapping struct {
	Source string `yaml:"source" json:"source"`
	Target string `yaml:"target" json:"target"`
}

// TCalledElement references the process started by a call activity.
// ProcessId may be a static id or an expression prefixed with "=".
type TCalledElement struct {
	ProcessId                   string `yaml:"processId" json:"processId"`
	PropagateAllParentVariables *bool  `yaml:"propagateAllParentVariables,omitempty" json:"propagateAllParentVariables,omitempty"`
	PropagateAllChildVariables  *bool  `yaml:"propagateAllChildVariables,omitempty" json:"propagateAllChildVariables,omitempty"`
}

func (c TCalledElement) ShouldPropagateAllParentVariables() bool {
	return c.PropagateAllParentVariables == nil || *c.PropagateAllParentVariables
}

func (c TCalledElement) ShouldPropagateAllChildVariables() bool {
	return c.PropagateAllChildVariables == nil || *c.PropagateAllChildVariables
}
