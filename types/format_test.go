package types

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestAlignUp(t *testing.T) {
	for _, tc := range []struct {
		in, align, out uint32
	}{
		{0, 32, 0},
		{1, 32, 32},
		{32, 32, 32},
		{640, 32, 640},
		{1080, 16, 1088},
		{1920, 32, 1920},
		{1921, 32, 1952},
		{479, 16, 480},
		{math.MaxUint32 - 31, 32, math.MaxUint32 - 31},
		{math.MaxUint32 - 30, 32, math.MaxUint32 - 31},
		{math.MaxUint32, 16, math.MaxUint32 - 15},
	} {
		require.Equal(t, tc.out, AlignUp(tc.in, tc.align), "AlignUp(%d, %d)", tc.in, tc.align)
	}
}

func TestFormatAligned(t *testing.T) {
	f := Format{
		Encoding: EncodingI420,
		Width:    1000,
		Height:   700,
	}.Aligned()
	require.Equal(t, uint32(1024), f.Width)
	require.Equal(t, uint32(704), f.Height)
	require.Equal(t, Rect{Width: 1000, Height: 700}, f.Crop)

	explicitCrop := Format{Width: 64, Height: 32, Crop: Rect{X: 2, Y: 2, Width: 10, Height: 10}}.Aligned()
	require.Equal(t, Rect{X: 2, Y: 2, Width: 10, Height: 10}, explicitCrop.Crop)
}

func TestEncoding(t *testing.T) {
	require.Equal(t, "I420", EncodingI420.String())
	require.Equal(t, "H264", EncodingH264.String())
	require.Equal(t, "RGB3", EncodingRGB24.String())
	require.Equal(t, uint32(0x30323449), uint32(EncodingI420))
	require.Equal(t, uint32(1920*1088*3/2), EncodingI420.FrameSize(1920, 1088))
	require.Zero(t, EncodingH264.FrameSize(1920, 1088))

	var f Format
	require.NoError(t, yaml.Unmarshal([]byte("encoding: i420\nwidth: 640\nheight: 480\nframerate: 30\n"), &f))
	require.Equal(t, EncodingI420, f.Encoding)
	require.Equal(t, Rational{Num: 30, Den: 1}, f.FrameRate)

	var e Encoding
	require.Error(t, e.UnmarshalText([]byte("TOOLONG")))
}
