// Package raster holds the interleaved pixel buffer the shield and watermark
// stages mutate, and the lossless codecs that move it to and from bytes.
package raster

import (
	"fmt"

	"xdao.co/faceguard/faults"
)

// Buffer is an interleaved 8-bit pixel buffer.
//
// Pix holds Width*Height*Channels samples in row-major order. Channels is 3
// (RGB) or 4 (RGBA). The alpha sample, when present, is the last in each pixel.
type Buffer struct {
	Pix      []byte
	Width    int
	Height   int
	Channels int
}

// New allocates a zeroed buffer of the given shape.
func New(width, height, channels int) (*Buffer, error) {
	b := &Buffer{Width: width, Height: height, Channels: channels}
	if err := b.validateShape(); err != nil {
		return nil, err
	}
	b.Pix = make([]byte, width*height*channels)
	return b, nil
}

// Validate reports a ValidationError when the buffer shape is unusable.
func (b *Buffer) Validate() error {
	if b == nil {
		return faults.New(faults.KindValidation, "FG-VAL-001", "nil pixel buffer")
	}
	if err := b.validateShape(); err != nil {
		return err
	}
	if want := b.Width * b.Height * b.Channels; len(b.Pix) != want {
		return faults.New(faults.KindValidation, "FG-VAL-004",
			fmt.Sprintf("pixel buffer length %d does not match %dx%dx%d", len(b.Pix), b.Width, b.Height, b.Channels))
	}
	return nil
}

func (b *Buffer) validateShape() error {
	if b.Width <= 0 || b.Height <= 0 {
		return faults.New(faults.KindValidation, "FG-VAL-002",
			fmt.Sprintf("invalid dimensions %dx%d", b.Width, b.Height))
	}
	if b.Channels < 3 || b.Channels > 4 {
		return faults.New(faults.KindValidation, "FG-VAL-003",
			fmt.Sprintf("unsupported channel count %d (want 3 or 4)", b.Channels))
	}
	return nil
}

// Clone returns a deep copy.
func (b *Buffer) Clone() *Buffer {
	out := *b
	out.Pix = append([]byte(nil), b.Pix...)
	return &out
}

// Pixels returns Width*Height.
func (b *Buffer) Pixels() int { return b.Width * b.Height }

// Offset returns the index of the first sample of pixel (x, y).
func (b *Buffer) Offset(x, y int) int { return (y*b.Width + x) * b.Channels }

// HasAlpha reports whether the buffer carries an alpha channel.
func (b *Buffer) HasAlpha() bool { return b.Channels == 4 }

// Equal reports whether a and b have the same shape and samples.
func Equal(a, b *Buffer) bool {
	if a.Width != b.Width || a.Height != b.Height || a.Channels != b.Channels {
		return false
	}
	return string(a.Pix) == string(b.Pix)
}

// SameShape reports whether a and b have identical geometry and channel count.
func SameShape(a, b *Buffer) bool {
	return a.Width == b.Width && a.Height == b.Height && a.Channels == b.Channels && len(a.Pix) == len(b.Pix)
}

// Rect is an axis-aligned rectangle in pixel coordinates. Max is exclusive.
type Rect struct {
	MinX, MinY, MaxX, MaxY int
}

// Empty reports whether r has no area.
func (r Rect) Empty() bool { return r.MinX >= r.MaxX || r.MinY >= r.MaxY }

// Clip intersects r with the buffer bounds.
func (b *Buffer) Clip(r Rect) Rect {
	r.MinX = max(r.MinX, 0)
	r.MinY = max(r.MinY, 0)
	r.MaxX = min(r.MaxX, b.Width)
	r.MaxY = min(r.MaxY, b.Height)
	return r
}

// Crop copies the clipped region r into a new buffer with the same channel count.
func (b *Buffer) Crop(r Rect) (*Buffer, error) {
	r = b.Clip(r)
	if r.Empty() {
		return nil, faults.New(faults.KindValidation, "FG-VAL-005", "crop region is empty")
	}
	out, err := New(r.MaxX-r.MinX, r.MaxY-r.MinY, b.Channels)
	if err != nil {
		return nil, err
	}
	rowLen := out.Width * b.Channels
	for y := r.MinY; y < r.MaxY; y++ {
		src := b.Offset(r.MinX, y)
		dst := out.Offset(0, y-r.MinY)
		copy(out.Pix[dst:dst+rowLen], b.Pix[src:src+rowLen])
	}
	return out, nil
}

// Paste writes the RGB samples of src into b with its top-left corner at (x, y).
// Alpha samples of b are left untouched. Parts of src falling outside b are dropped.
func (b *Buffer) Paste(src *Buffer, x, y int) {
	for sy := 0; sy < src.Height; sy++ {
		ty := y + sy
		if ty < 0 || ty >= b.Height {
			continue
		}
		for sx := 0; sx < src.Width; sx++ {
			tx := x + sx
			if tx < 0 || tx >= b.Width {
				continue
			}
			so := src.Offset(sx, sy)
			to := b.Offset(tx, ty)
			copy(b.Pix[to:to+3], src.Pix[so:so+3])
		}
	}
}
