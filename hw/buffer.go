package hw

import (
	"fmt"
	"go.uber.org/atomic"
)

// BufferFlags is the bitset carried by every buffer header.
type BufferFlags uint32

const (
	BufferFlagEOS BufferFlags = 1 << iota
	BufferFlagFrameStart
	BufferFlagFrameEnd
	BufferFlagKeyframe
	BufferFlagDiscontinuity
	BufferFlagConfig
	BufferFlagEncrypted
	BufferFlagCodecSideInfo
	BufferFlagSnapshot
	BufferFlagCorrupted
	BufferFlagTransmissionFailed
	// BufferFlagEvent marks a buffer whose payload is an out-of-band event
	// described by Buffer.Command rather than frame data.
	BufferFlagEvent

	BufferFlagFrame = BufferFlagFrameStart | BufferFlagFrameEnd
)

func (f BufferFlags) Has(flag BufferFlags) bool {
	return f&flag == flag
}

// Command tells what an event buffer carries; zero for plain data.
type Command uint32

const (
	CommandNone Command = 0
)

// Buffer is a buffer header: a fixed-capacity payload plus metadata.
//
// A Buffer is exclusively owned by whoever currently holds it (the
// hardware, a pool, or a callback) and is handed off, never copied.
type Buffer struct {
	Data    []byte
	Length  uint32
	Offset  uint32
	Flags   BufferFlags
	Command Command
	PTS     int64
	DTS     int64

	// UserData is free for the owner of the buffer; the hardware never touches it.
	UserData any

	lockCount atomic.Int32
	releaseFn func(*Buffer)
}

// NewBuffer allocates a header around payload; release is called by
// Release to return the buffer to its owner.
func NewBuffer(payload []byte, release func(*Buffer)) *Buffer {
	return &Buffer{
		Data:      payload,
		releaseFn: release,
	}
}

// Capacity is the amount of bytes the buffer can carry.
func (b *Buffer) Capacity() uint32 {
	return uint32(len(b.Data))
}

// Bytes returns the valid part of the payload.
func (b *Buffer) Bytes() []byte {
	end := b.Offset + b.Length
	if end > b.Capacity() {
		end = b.Capacity()
	}
	if b.Offset > end {
		return nil
	}
	return b.Data[b.Offset:end]
}

// Lock makes the payload accessible to the CPU; calls must be paired with Unlock.
func (b *Buffer) Lock() {
	b.lockCount.Add(1)
}

func (b *Buffer) Unlock() {
	if b.lockCount.Add(-1) < 0 {
		panic(fmt.Sprintf("buffer %p is unlocked more times than locked", b))
	}
}

func (b *Buffer) IsLocked() bool {
	return b.lockCount.Load() > 0
}

// Reset clears the metadata, keeping the payload memory.
func (b *Buffer) Reset() {
	b.Length = 0
	b.Offset = 0
	b.Flags = 0
	b.Command = CommandNone
	b.PTS = 0
	b.DTS = 0
}

// Release hands the buffer back to its owner (typically a pool queue).
func (b *Buffer) Release() {
	b.Reset()
	if b.releaseFn != nil {
		b.releaseFn(b)
	}
}

// SetReleaseFunc changes where Release returns the buffer to.
func (b *Buffer) SetReleaseFunc(fn func(*Buffer)) {
	b.releaseFn = fn
}

func (b *Buffer) String() string {
	return fmt.Sprintf("Buffer{len:%d/%d flags:0x%x cmd:0x%x}", b.Length, b.Capacity(), uint32(b.Flags), uint32(b.Command))
}
