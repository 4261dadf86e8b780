// Package internal holds helpers shared by the raspivid packages.
package internal

import (
	"context"
	"fmt"

	"github.com/xaionaro-go/raspivid/logger"
)

// Assert guards invariants of the hardware layout (e.g. how many ports a
// component exposes). A violation is a programming error or a firmware
// mismatch, neither of which can be handled, so it panics.
func Assert(
	ctx context.Context,
	cond bool,
	what string,
) {
	if cond {
		return
	}
	msg := fmt.Sprintf("assertion failed: %s", what)
	logger.Panic(ctx, msg)
	// the logger backend may be configured not to panic
	panic(msg)
}
