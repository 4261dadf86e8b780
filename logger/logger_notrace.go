//go:build !debug_trace

package logger

import (
	"context"
)

// Tracef is compiled out unless built with the debug_trace tag, so the
// dispatch path does not pay for formatting the arguments.
func Tracef(ctx context.Context, format string, args ...any) {}
