// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package profile

import (
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"
)

type ProfileType string

var Current = DEV // dev profile as default

const (
	DEV  ProfileType = "DEV"
	TEST ProfileType = "TEST"
	PROD ProfileType = "PROD"
)

func InitProfile() {
	switch strings.ToUpper(os.Getenv("PROFILE")) {
	case "DEV":
		Current = DEV
	case "TEST":
		Current = TEST
	case "PROD":
		Current = PROD
	}
	fmt.Printf("Current profile: %s\n", Current)
}

// LogFormat is the zap encoding used when LOG_FORMAT is not set.
func (p ProfileType) LogFormat() string {
	if p == DEV {
		return "console"
	}
	return "json"
}

// RaftLogger returns the hclog logger raft and the partition log with.
func (p ProfileType) RaftLogger(name string) hclog.Logger {
	level := hclog.Info
	if p == PROD {
		level = hclog.Warn
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:       name,
		Level:      level,
		JSONFormat: p != DEV,
	})
}
