package port

import (
	"fmt"

	"github.com/xaionaro-go/raspivid/types"
)

type ErrFormatRejected struct {
	Port   string
	Format types.Format
	Err    error
}

func (e ErrFormatRejected) Error() string {
	return fmt.Sprintf("format %s was rejected by %s: %v", e.Format, e.Port, e.Err)
}

func (e ErrFormatRejected) Unwrap() error {
	return e.Err
}

type ErrConnectionRejected struct {
	Source string
	Sink   string
	Err    error
}

func (e ErrConnectionRejected) Error() string {
	return fmt.Sprintf("unable to connect %s to %s: %v", e.Source, e.Sink, e.Err)
}

func (e ErrConnectionRejected) Unwrap() error {
	return e.Err
}

type ErrAllocationFailed struct {
	Port string
	Num  uint32
	Size uint32
	Err  error
}

func (e ErrAllocationFailed) Error() string {
	return fmt.Sprintf("unable to allocate %d buffers of %d bytes on %s: %v", e.Num, e.Size, e.Port, e.Err)
}

func (e ErrAllocationFailed) Unwrap() error {
	return e.Err
}

type ErrSendFailed struct {
	Port string
	Err  error
}

func (e ErrSendFailed) Error() string {
	return fmt.Sprintf("unable to send a buffer to %s: %v", e.Port, e.Err)
}

func (e ErrSendFailed) Unwrap() error {
	return e.Err
}

type ErrAlreadyConnected struct {
	Port string
}

func (e ErrAlreadyConnected) Error() string {
	return fmt.Sprintf("%s is already connected", e.Port)
}

// ErrAlreadyEnabled is returned by AddCallback on a port that already
// delivers buffers to someone.
type ErrAlreadyEnabled struct {
	Port string
}

func (e ErrAlreadyEnabled) Error() string {
	return fmt.Sprintf("%s is already enabled", e.Port)
}

type ErrNoBufferPool struct {
	Port string
}

func (e ErrNoBufferPool) Error() string {
	return fmt.Sprintf("%s has no buffer pool", e.Port)
}

type ErrPortClosed struct {
	Port string
}

func (e ErrPortClosed) Error() string {
	return fmt.Sprintf("%s is closed", e.Port)
}
