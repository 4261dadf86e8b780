package types

import (
	"fmt"
)

// Format describes what flows through a port.
type Format struct {
	Encoding        Encoding `yaml:"encoding"`
	EncodingVariant Encoding `yaml:"encoding_variant,omitempty"`
	Width           uint32   `yaml:"width"`
	Height          uint32   `yaml:"height"`
	Crop            Rect     `yaml:"crop,omitempty"`
	FrameRate       Rational `yaml:"framerate,omitempty"`
	Bitrate         uint32   `yaml:"bitrate,omitempty"`
}

// DefaultFormat is the format every port starts from unless a stage says
// otherwise: opaque (I420 underneath) 1920x1080 with a variable frame rate.
func DefaultFormat() Format {
	return Format{
		Encoding:        EncodingOpaque,
		EncodingVariant: EncodingI420,
		Width:           1920,
		Height:          1080,
		FrameRate:       Rational{Num: 0, Den: 1},
	}
}

// Aligned returns the format the hardware will actually run with:
// dimensions rounded up to the hardware alignment and, if no crop
// rectangle size was given, a crop covering the requested picture.
func (f Format) Aligned() Format {
	r := f
	r.Width = AlignUp[uint32](f.Width, WidthAlignment)
	r.Height = AlignUp[uint32](f.Height, HeightAlignment)
	if r.Crop.Width == 0 {
		r.Crop.Width = f.Width
	}
	if r.Crop.Height == 0 {
		r.Crop.Height = f.Height
	}
	return r
}

func (f Format) String() string {
	return fmt.Sprintf("%s/%s %dx%d crop:%s fps:%s", f.Encoding, f.EncodingVariant, f.Width, f.Height, f.Crop, f.FrameRate)
}
