// Package logger is what every raspivid package logs through. The actual
// logger travels in the context (see go-belt's logger.CtxWithLogger), so
// the CLI, the tests and embedding programs each pick their own backend.
package logger

import (
	"context"

	"github.com/facebookincubator/go-belt/tool/logger"
)

func Debugf(ctx context.Context, format string, args ...any) {
	logger.Debugf(ctx, format, args...)
}

func Infof(ctx context.Context, format string, args ...any) {
	logger.Infof(ctx, format, args...)
}

// Warnf is for degraded but working setups, e.g. a camera parameter the
// sensor refused or a bitrate that had to be clamped.
func Warnf(ctx context.Context, format string, args ...any) {
	logger.Warnf(ctx, format, args...)
}

func Errorf(ctx context.Context, format string, args ...any) {
	logger.Errorf(ctx, format, args...)
}

// Panic logs and then panics; the logger backend does the panicking.
func Panic(ctx context.Context, values ...any) {
	logger.Panic(ctx, values...)
}
