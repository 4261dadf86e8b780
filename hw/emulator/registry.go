package emulator

import (
	"github.com/xaionaro-go/raspivid/hw"
	"github.com/xaionaro-go/raspivid/types"
)

var (
	rawEncodings = []types.Encoding{
		types.EncodingOpaque,
		types.EncodingI420,
		types.EncodingRGB24,
	}
	yuvEncodings = []types.Encoding{
		types.EncodingOpaque,
		types.EncodingI420,
	}
	scaledEncodings = []types.Encoding{
		types.EncodingI420,
		types.EncodingRGB24,
	}
	compressedEncodings = []types.Encoding{
		types.EncodingH264,
		types.EncodingMJPEG,
	}
)

var stageFactories = map[string]func() stage{
	hw.ComponentNameCamera:        func() stage { return &camera{} },
	hw.ComponentNameVideoEncoder:  func() stage { return &encoder{} },
	hw.ComponentNameResizer:       func() stage { return &resizer{} },
	hw.ComponentNameVideoSplitter: func() stage { return &splitter{} },
	hw.ComponentNameVideoRenderer: func() stage { return &sink{inputs: rawEncodings} },
	hw.ComponentNameNullSink:      func() stage { return &sink{} },
}
