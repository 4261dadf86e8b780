package types

import (
	"fmt"
	"strings"
)

// Encoding is a FourCC-coded frame encoding as understood by the hardware.
type Encoding uint32

// FourCC packs a four-character code the same way the firmware does
// (first character in the least significant byte).
func FourCC(code string) Encoding {
	var b [4]byte
	copy(b[:], code)
	for i := len(code); i < 4; i++ {
		b[i] = ' '
	}
	return Encoding(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24)
}

var (
	EncodingUnknown = Encoding(0)
	EncodingOpaque  = FourCC("OPQV")
	EncodingI420    = FourCC("I420")
	EncodingH264    = FourCC("H264")
	EncodingMJPEG   = FourCC("MJPG")
	EncodingRGB24   = FourCC("RGB3")
)

func (e Encoding) String() string {
	if e == EncodingUnknown {
		return "<unknown>"
	}
	b := []byte{byte(e), byte(e >> 8), byte(e >> 16), byte(e >> 24)}
	return strings.TrimRight(string(b), " ")
}

// IsRaw reports whether buffers of this encoding carry uncompressed pixels.
func (e Encoding) IsRaw() bool {
	switch e {
	case EncodingI420, EncodingRGB24, EncodingOpaque:
		return true
	}
	return false
}

// FrameSize returns the size in bytes of one frame of the given aligned
// dimensions, or zero if the encoding has no fixed frame size.
func (e Encoding) FrameSize(width, height uint32) uint32 {
	switch e {
	case EncodingI420, EncodingOpaque:
		return width * height * 3 / 2
	case EncodingRGB24:
		return width * height * 3
	}
	return 0
}

func (e Encoding) MarshalText() ([]byte, error) {
	if e == EncodingUnknown {
		return []byte{}, nil
	}
	return []byte(e.String()), nil
}

func (e *Encoding) UnmarshalText(b []byte) error {
	s := strings.TrimSpace(string(b))
	switch {
	case s == "":
		*e = EncodingUnknown
		return nil
	case len(s) > 4:
		return fmt.Errorf("invalid FourCC %q: longer than 4 characters", s)
	}
	*e = FourCC(strings.ToUpper(s))
	return nil
}
