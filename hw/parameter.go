package hw

import (
	"github.com/xaionaro-go/raspivid/types"
)

// ParameterID identifies a port parameter.
type ParameterID uint32

const (
	ParameterIDUndefined ParameterID = iota
	ParameterIDZeroCopy
	ParameterIDCapture
	ParameterIDCameraNum
	ParameterIDCameraCustomSensorConfig
	ParameterIDCameraConfig
	ParameterIDCameraSettings
	ParameterIDChangeEventRequest
	ParameterIDFPSRange
	ParameterIDDisplayRegion
	ParameterIDProfile
	ParameterIDVideoEncodeInitialQuant
	ParameterIDVideoEncodeMinQuant
	ParameterIDVideoEncodeMaxQuant
	ParameterIDVideoImmutableInput
	ParameterIDVideoEncodeInlineHeader
	ParameterIDVideoEncodeInlineVectors
	ParameterIDVideoIntraRefresh
	ParameterIDVideoIntraPeriod
)

// Parameter is a value that can be set on (or read from) a port.
type Parameter interface {
	ParameterID() ParameterID
}

type ParameterBool struct {
	ID    ParameterID
	Value bool
}

func (p ParameterBool) ParameterID() ParameterID { return p.ID }

type ParameterUint32 struct {
	ID    ParameterID
	Value uint32
}

func (p ParameterUint32) ParameterID() ParameterID { return p.ID }

type ParameterInt32 struct {
	ID    ParameterID
	Value int32
}

func (p ParameterInt32) ParameterID() ParameterID { return p.ID }

// DisplaySet tells which fields of ParameterDisplayRegion are meaningful.
type DisplaySet uint32

const (
	DisplaySetFullscreen DisplaySet = 1 << iota
	DisplaySetDestRect
	DisplaySetAlpha
	DisplaySetLayer
)

type ParameterDisplayRegion struct {
	Set        DisplaySet
	Fullscreen bool
	DestRect   types.Rect
	Layer      int32
	Alpha      uint32
}

func (ParameterDisplayRegion) ParameterID() ParameterID { return ParameterIDDisplayRegion }

type VideoProfile uint32

const (
	VideoProfileH264Baseline VideoProfile = iota
	VideoProfileH264Main
	VideoProfileH264High
)

type VideoLevel uint32

const (
	VideoLevelH264_4 VideoLevel = iota + 40
	VideoLevelH264_41
	VideoLevelH264_42
)

func (l VideoLevel) String() string {
	switch l {
	case VideoLevelH264_4:
		return "4"
	case VideoLevelH264_41:
		return "4.1"
	case VideoLevelH264_42:
		return "4.2"
	}
	return "unknown"
}

type ParameterVideoProfile struct {
	Profile VideoProfile
	Level   VideoLevel
}

func (ParameterVideoProfile) ParameterID() ParameterID { return ParameterIDProfile }

type IntraRefresh uint32

const (
	IntraRefreshCyclic IntraRefresh = iota
	IntraRefreshAdaptive
	IntraRefreshBoth
	IntraRefreshCyclicMRows
)

type ParameterIntraRefresh struct {
	Mode   IntraRefresh
	AirMBs uint32
	AirRef uint32
	CirMBs uint32
	PirMBs uint32
}

func (ParameterIntraRefresh) ParameterID() ParameterID { return ParameterIDVideoIntraRefresh }

type TimestampMode uint32

const (
	TimestampModeZero TimestampMode = iota
	TimestampModeRawSTC
	TimestampModeResetSTC
)

type ParameterCameraConfig struct {
	MaxStillsWidth            uint32
	MaxStillsHeight           uint32
	StillsYUV422              bool
	OneShotStills             bool
	MaxPreviewVideoWidth      uint32
	MaxPreviewVideoHeight     uint32
	NumPreviewVideoFrames     uint32
	StillsCaptureCircularBufH uint32
	FastPreviewResume         bool
	UseSTCTimestamp           TimestampMode
}

func (ParameterCameraConfig) ParameterID() ParameterID { return ParameterIDCameraConfig }

type ParameterFPSRange struct {
	Low  types.Rational
	High types.Rational
}

func (ParameterFPSRange) ParameterID() ParameterID { return ParameterIDFPSRange }

// ParameterChangeEventRequest asks the component to emit
// EventParameterChanged on its control port whenever ChangeID changes.
type ParameterChangeEventRequest struct {
	ChangeID ParameterID
	Enable   bool
}

func (ParameterChangeEventRequest) ParameterID() ParameterID { return ParameterIDChangeEventRequest }
