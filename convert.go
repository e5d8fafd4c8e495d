package h265transport

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"
)

// Converter resamples packed RGB24 frames into the I420 layout the
// encoder consumes, at a fixed destination resolution.
//
// Destination planes are allocated once at construction and reused for
// every call; the converter assumes the resolution stays fixed for the
// session's lifetime. When the source resolution differs from the
// destination the frame is scaled first.
type Converter struct {
	srcFormat PixelFormat
	dstWidth  int
	dstHeight int

	// Pre-allocated output frame, reused across calls
	dst *Frame

	// Scratch images for the resize path, allocated on first use
	scratch *image.RGBA
	scaled  *image.RGBA
}

// NewConverter creates a converter from srcFormat to I420 at the given
// resolution. Only byte-aligned packed 3-bytes-per-pixel sources are
// supported; anything else fails configuration and leaves no usable
// partial state.
func NewConverter(srcFormat PixelFormat, dstWidth, dstHeight int) (*Converter, error) {
	if srcFormat.BitsPerPixel()%8 != 0 {
		return nil, fmt.Errorf("%w: %s bit depth is not byte aligned", ErrConfiguration, srcFormat)
	}
	if srcFormat.BytesPerPixel() != 3 {
		return nil, fmt.Errorf("%w: unsupported pixel format %s", ErrConfiguration, srcFormat)
	}
	if dstWidth <= 0 || dstHeight <= 0 || dstWidth%2 != 0 || dstHeight%2 != 0 {
		return nil, fmt.Errorf("%w: invalid destination resolution %dx%d", ErrConfiguration, dstWidth, dstHeight)
	}

	return &Converter{
		srcFormat: srcFormat,
		dstWidth:  dstWidth,
		dstHeight: dstHeight,
		dst:       NewI420Frame(dstWidth, dstHeight),
	}, nil
}

// Convert produces an I420 frame at the configured resolution. The
// returned frame's planes are owned by the converter and valid until
// the next Convert call. Sequence index and header carry over.
func (c *Converter) Convert(frame *Frame) (*Frame, error) {
	if frame.Format != c.srcFormat {
		return nil, fmt.Errorf("expected %s frame, got %s", c.srcFormat, frame.Format)
	}
	if len(frame.Data) == 0 || len(frame.Stride) == 0 {
		return nil, fmt.Errorf("frame has no plane data")
	}
	if frame.Stride[0] < frame.Width*3 {
		return nil, fmt.Errorf("stride %d too small for width %d", frame.Stride[0], frame.Width)
	}

	src, stride := frame.Data[0], frame.Stride[0]
	width, height := frame.Width, frame.Height

	if width != c.dstWidth || height != c.dstHeight {
		src = c.resample(src, stride, width, height)
		stride = c.dstWidth * 3
		width, height = c.dstWidth, c.dstHeight
	}

	rgbToI420(src, stride, width, height, c.dst)

	c.dst.Seq = frame.Seq
	c.dst.Header = frame.Header
	return c.dst, nil
}

// resample scales packed RGB24 to the destination resolution and
// returns it repacked as RGB24 with no row padding. Goes through RGBA
// because the bilinear scaler operates on stdlib image types.
func (c *Converter) resample(src []byte, stride, width, height int) []byte {
	if c.scratch == nil || c.scratch.Rect.Dx() != width || c.scratch.Rect.Dy() != height {
		c.scratch = image.NewRGBA(image.Rect(0, 0, width, height))
	}
	if c.scaled == nil {
		c.scaled = image.NewRGBA(image.Rect(0, 0, c.dstWidth, c.dstHeight))
	}

	for y := 0; y < height; y++ {
		srcRow := src[y*stride:]
		dstRow := c.scratch.Pix[y*c.scratch.Stride:]
		for x := 0; x < width; x++ {
			dstRow[x*4+0] = srcRow[x*3+0]
			dstRow[x*4+1] = srcRow[x*3+1]
			dstRow[x*4+2] = srcRow[x*3+2]
			dstRow[x*4+3] = 0xFF
		}
	}

	draw.ApproxBiLinear.Scale(c.scaled, c.scaled.Bounds(), c.scratch, c.scratch.Bounds(), draw.Src, nil)

	out := make([]byte, c.dstWidth*c.dstHeight*3)
	for y := 0; y < c.dstHeight; y++ {
		srcRow := c.scaled.Pix[y*c.scaled.Stride:]
		dstRow := out[y*c.dstWidth*3:]
		for x := 0; x < c.dstWidth; x++ {
			dstRow[x*3+0] = srcRow[x*4+0]
			dstRow[x*3+1] = srcRow[x*4+1]
			dstRow[x*3+2] = srcRow[x*4+2]
		}
	}
	return out
}

// rgbToI420 converts packed RGB24 into the destination's I420 planes
// using BT.601 studio-swing coefficients. Chroma is averaged over each
// 2x2 block.
func rgbToI420(src []byte, stride, width, height int, dst *Frame) {
	yPlane, uPlane, vPlane := dst.Data[0], dst.Data[1], dst.Data[2]
	yStride, uvStride := dst.Stride[0], dst.Stride[1]

	for row := 0; row < height; row++ {
		srcRow := src[row*stride:]
		for col := 0; col < width; col++ {
			r := int(srcRow[col*3+0])
			g := int(srcRow[col*3+1])
			b := int(srcRow[col*3+2])
			yPlane[row*yStride+col] = byte(((66*r + 129*g + 25*b + 128) >> 8) + 16)
		}
	}

	for row := 0; row < height; row += 2 {
		r0 := src[row*stride:]
		r1 := src[(row+1)*stride:]
		for col := 0; col < width; col += 2 {
			// Average the 2x2 block before computing chroma
			r := int(r0[col*3]) + int(r0[(col+1)*3]) + int(r1[col*3]) + int(r1[(col+1)*3])
			g := int(r0[col*3+1]) + int(r0[(col+1)*3+1]) + int(r1[col*3+1]) + int(r1[(col+1)*3+1])
			b := int(r0[col*3+2]) + int(r0[(col+1)*3+2]) + int(r1[col*3+2]) + int(r1[(col+1)*3+2])
			r, g, b = (r+2)>>2, (g+2)>>2, (b+2)>>2

			idx := (row/2)*uvStride + col/2
			uPlane[idx] = byte(((-38*r - 74*g + 112*b + 128) >> 8) + 128)
			vPlane[idx] = byte(((112*r - 94*g - 18*b + 128) >> 8) + 128)
		}
	}
}
