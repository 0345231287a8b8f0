// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package log

import (
	"context"
	"os"
	"sync"

	"github.com/pbinitiative/zenexec/internal/appcontext"
	"github.com/pbinitiative/zenexec/internal/profile"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger   *zap.SugaredLogger = zap.NewNop().Sugar()
	initOnce sync.Once
)

// Init configures the global logger. LOG_LEVEL selects the level (debug, info, warn, error)
// and LOG_FORMAT (json or console) overrides the encoding of the current profile.
func Init() {
	initOnce.Do(func() {
		level := zapcore.InfoLevel
		if lvl, ok := os.LookupEnv("LOG_LEVEL"); ok {
			if err := level.Set(lvl); err != nil {
				level = zapcore.InfoLevel
			}
		}
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(level)
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		format, ok := os.LookupEnv("LOG_FORMAT")
		if !ok {
			format = profile.Current.LogFormat()
		}
		if format == "console" {
			cfg.Encoding = "console"
			cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
		l, err := cfg.Build(zap.AddCallerSkip(1))
		if err != nil {
			panic("failed to initialize logger: " + err.Error())
		}
		logger = l.Sugar()
	})
}

// withContext adds the execution key and request id stored in ctx.
func withContext(ctx context.Context) *zap.SugaredLogger {
	l := logger
	if key, ok := appcontext.GetExecutionKey(ctx); ok {
		l = l.With("executionKey", key)
	}
	if requestId, ok := appcontext.GetRequestId(ctx); ok {
		l = l.With("requestId", requestId)
	}
	return l
}

func Debugf(ctx context.Context, format string, args ...any) {
	withContext(ctx).Debugf(format, args...)
}

func Infof(ctx context.Context, format string, args ...any) {
	withContext(ctx).Infof(format, args...)
}

func Errorf(ctx context.Context, format string, args ...any) {
	withContext(ctx).Errorf(format, args...)
}

func Info(format string, args ...any) {
	logger.Infof(format, args...)
}

func Error(format string, args ...any) {
	logger.Errorf(format, args...)
}

func Fatalf(format string, args ...any) {
	logger.Fatalf(format, args...)
}

// Sync flushes buffered log entries.
func Sync() {
	_ = logger.Sync()
}
