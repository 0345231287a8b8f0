// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package extensions

type TLoopCharacteristics struct {
	IsSequential        bool   `yaml:"sequential" json:"sequential"`
	InputCollection     string `yaml:"inputCollection" json:"inputCollection"`
	InputElement        string `yaml:"inputElement,omitempty" json:"inputElement,omitempty"`
	OutputCollection    string `yaml:"outputCollection,omitempty" json:"outputCollection,omitempty"`
	OutputElement       string `yaml:"outputElement,omitempty" json:"outputElement,omitempty"`
	CompletionCondition string `yaml:"completionCondition,omitempty" json:"completionCondition,omitempty"`
}

// TAdHoc configures an ad-hoc sub process.
type TAdHoc struct {
	ActiveElementsCollection string `yaml:"activeElementsCollection,omitempty" json:"activeElementsCollection,omitempty"`
	CompletionCondition      string `yaml:"completionCondition,omitempty" json:"completionCondition,omitempty"`
	CancelRemainingInstances bool   `yaml:"cancelRemainingInstances,omitempty" json:"cancelRemainingInstances,omitempty"`
}
