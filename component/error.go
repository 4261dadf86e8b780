package component

import (
	"fmt"
)

// ErrInvalidTopology is returned when a connection is requested between
// stages that cannot be linked, e.g. a source without a default output.
type ErrInvalidTopology struct {
	Component string
	Reason    string
}

func (e ErrInvalidTopology) Error() string {
	return fmt.Sprintf("invalid topology at %s: %s", e.Component, e.Reason)
}

type ErrHardwareUnavailable struct {
	Name string
	Err  error
}

func (e ErrHardwareUnavailable) Error() string {
	return fmt.Sprintf("unable to create hardware component '%s': %v", e.Name, e.Err)
}

func (e ErrHardwareUnavailable) Unwrap() error {
	return e.Err
}

// ErrMacroblockRateExceeded is returned by the encoder when the configured
// resolution and frame rate need more macroblocks per second than the
// highest supported H.264 level allows.
type ErrMacroblockRateExceeded struct {
	Rate uint64
	Max  uint64
}

func (e ErrMacroblockRateExceeded) Error() string {
	return fmt.Sprintf("the macroblock rate %d exceeds the maximum of %d", e.Rate, e.Max)
}

type ErrUnknownPort struct {
	Component string
	Port      string
}

func (e ErrUnknownPort) Error() string {
	return fmt.Sprintf("%s has no port '%s'", e.Component, e.Port)
}
