package emulator

import (
	"context"
	"image"

	"github.com/anthonynsimon/bild/transform"
	"github.com/xaionaro-go/raspivid/hw"
	"github.com/xaionaro-go/raspivid/logger"
	"github.com/xaionaro-go/raspivid/types"
)

type resizer struct{}

func (*resizer) ports() (inputs, outputs [][]types.Encoding) {
	return [][]types.Encoding{rawEncodings}, [][]types.Encoding{scaledEncodings}
}

func visibleSize(f types.Format) (int, int) {
	w, h := f.Crop.Width, f.Crop.Height
	if w == 0 || w > f.Width {
		w = f.Width
	}
	if h == 0 || h > f.Height {
		h = f.Height
	}
	return int(w), int(h)
}

func (*resizer) process(
	ctx context.Context,
	c *Component,
	_ *Port,
	f *frame,
) {
	out := c.outputs[0]
	outFmt := out.committedFormat()
	scaled := make([]byte, outFmt.Encoding.FrameSize(outFmt.Width, outFmt.Height))

	switch {
	case f.format.Encoding == types.EncodingRGB24 && outFmt.Encoding == types.EncodingRGB24:
		if !scaleRGB24(f.data, f.format, scaled, outFmt) {
			logger.Warnf(ctx, "%s: a short input frame: %d bytes for %s", c, len(f.data), f.format)
			return
		}
	case f.format.Encoding != types.EncodingRGB24 && outFmt.Encoding == types.EncodingI420:
		if !scaleI420(f.data, f.format, scaled, outFmt) {
			logger.Warnf(ctx, "%s: a short input frame: %d bytes for %s", c, len(f.data), f.format)
			return
		}
	default:
		logger.Warnf(ctx, "%s: conversion %s -> %s is not supported", c, f.format.Encoding, outFmt.Encoding)
		return
	}

	out.produce(ctx, func(dst []byte) uint32 {
		return uint32(copy(dst, scaled))
	}, f.flags, f.pts, hw.CommandNone)
}

func scaleI420(src []byte, srcFmt types.Format, dst []byte, dstFmt types.Format) bool {
	sy, su, sv, ok := planes(src, srcFmt)
	if !ok {
		return false
	}
	dy, du, dv, ok := planes(dst, dstFmt)
	if !ok {
		return false
	}
	sw, sh := visibleSize(srcFmt)
	dw, dh := visibleSize(dstFmt)
	ss, ds := int(srcFmt.Width), int(dstFmt.Width)
	scalePlane(sy, ss, sw, sh, dy, ds, dw, dh)
	scalePlane(su, ss/2, max(sw/2, 1), max(sh/2, 1), du, ds/2, max(dw/2, 1), max(dh/2, 1))
	scalePlane(sv, ss/2, max(sw/2, 1), max(sh/2, 1), dv, ds/2, max(dw/2, 1), max(dh/2, 1))
	return true
}

func scalePlane(
	src []byte, srcStride, srcW, srcH int,
	dst []byte, dstStride, dstW, dstH int,
) {
	img := &image.Gray{
		Pix:    src,
		Stride: srcStride,
		Rect:   image.Rect(0, 0, srcW, srcH),
	}
	res := transform.Resize(img, dstW, dstH, transform.Linear)
	for y := 0; y < dstH; y++ {
		row := dst[y*dstStride : y*dstStride+dstW]
		for x := range row {
			row[x] = res.Pix[y*res.Stride+x*4]
		}
	}
}

func scaleRGB24(src []byte, srcFmt types.Format, dst []byte, dstFmt types.Format) bool {
	if uint32(len(src)) < srcFmt.Encoding.FrameSize(srcFmt.Width, srcFmt.Height) {
		return false
	}
	sw, sh := visibleSize(srcFmt)
	dw, dh := visibleSize(dstFmt)
	ss, ds := int(srcFmt.Width)*3, int(dstFmt.Width)*3

	img := image.NewRGBA(image.Rect(0, 0, sw, sh))
	for y := 0; y < sh; y++ {
		for x := 0; x < sw; x++ {
			s := src[y*ss+x*3:]
			d := img.Pix[y*img.Stride+x*4:]
			d[0], d[1], d[2], d[3] = s[0], s[1], s[2], 0xff
		}
	}
	res := transform.Resize(img, dw, dh, transform.Linear)
	for y := 0; y < dh; y++ {
		for x := 0; x < dw; x++ {
			s := res.Pix[y*res.Stride+x*4:]
			d := dst[y*ds+x*3:]
			d[0], d[1], d[2] = s[0], s[1], s[2]
		}
	}
	return true
}
