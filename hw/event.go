package hw

import (
	"encoding/binary"
	"fmt"

	"github.com/xaionaro-go/raspivid/types"
)

var (
	EventError            = Command(types.FourCC("ERRO"))
	EventEOS              = Command(types.FourCC("EEOS"))
	EventFormatChanged    = Command(types.FourCC("EFCH"))
	EventParameterChanged = Command(types.FourCC("EPCH"))
)

func (c Command) String() string {
	if c == CommandNone {
		return "none"
	}
	return types.Encoding(c).String()
}

// CameraSettings is the payload of a parameter-changed event carrying
// ParameterIDCameraSettings.
type CameraSettings struct {
	Exposure      uint32
	AnalogGain    types.Rational
	DigitalGain   types.Rational
	AWBRedGain    types.Rational
	AWBBlueGain   types.Rational
	FocusPosition uint32
}

const cameraSettingsSize = 4 + 4 + 4*8 + 4

// ParameterChangedEvent is an event buffer payload: which parameter
// changed and its new value.
type ParameterChangedEvent struct {
	ID       ParameterID
	Settings *CameraSettings
}

func putRational(b []byte, r types.Rational) {
	binary.LittleEndian.PutUint32(b, r.Num)
	binary.LittleEndian.PutUint32(b[4:], r.Den)
}

func getRational(b []byte) types.Rational {
	return types.Rational{
		Num: binary.LittleEndian.Uint32(b),
		Den: binary.LittleEndian.Uint32(b[4:]),
	}
}

func (e ParameterChangedEvent) MarshalBinary() ([]byte, error) {
	b := make([]byte, 8, 8+cameraSettingsSize)
	binary.LittleEndian.PutUint32(b, uint32(e.ID))
	if e.Settings == nil {
		binary.LittleEndian.PutUint32(b[4:], 8)
		return b, nil
	}
	binary.LittleEndian.PutUint32(b[4:], 8+cameraSettingsSize)
	b = b[:8+cameraSettingsSize]
	s := b[8:]
	binary.LittleEndian.PutUint32(s, e.Settings.Exposure)
	putRational(s[4:], e.Settings.AnalogGain)
	putRational(s[12:], e.Settings.DigitalGain)
	putRational(s[20:], e.Settings.AWBRedGain)
	putRational(s[28:], e.Settings.AWBBlueGain)
	binary.LittleEndian.PutUint32(s[36:], e.Settings.FocusPosition)
	return b, nil
}

func (e *ParameterChangedEvent) UnmarshalBinary(b []byte) error {
	if len(b) < 8 {
		return fmt.Errorf("parameter-changed event is too short: %d bytes", len(b))
	}
	e.ID = ParameterID(binary.LittleEndian.Uint32(b))
	size := binary.LittleEndian.Uint32(b[4:])
	if int(size) > len(b) {
		return fmt.Errorf("parameter-changed event declares %d bytes, but only %d are present", size, len(b))
	}
	e.Settings = nil
	if e.ID != ParameterIDCameraSettings {
		return nil
	}
	if size < 8+cameraSettingsSize {
		return fmt.Errorf("camera settings event is too short: %d bytes", size)
	}
	s := b[8:]
	e.Settings = &CameraSettings{
		Exposure:      binary.LittleEndian.Uint32(s),
		AnalogGain:    getRational(s[4:]),
		DigitalGain:   getRational(s[12:]),
		AWBRedGain:    getRational(s[20:]),
		AWBBlueGain:   getRational(s[28:]),
		FocusPosition: binary.LittleEndian.Uint32(s[36:]),
	}
	return nil
}

// ParseParameterChangedEvent decodes the payload of an EventParameterChanged buffer.
func ParseParameterChangedEvent(buf *Buffer) (*ParameterChangedEvent, error) {
	if buf.Command != EventParameterChanged {
		return nil, fmt.Errorf("buffer carries event %s, not %s", buf.Command, EventParameterChanged)
	}
	var ev ParameterChangedEvent
	if err := ev.UnmarshalBinary(buf.Bytes()); err != nil {
		return nil, err
	}
	return &ev, nil
}
