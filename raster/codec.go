package raster

import (
	"bytes"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"strings"

	"xdao.co/faceguard/faults"
)

// Encoder turns a buffer into final output bytes.
//
// Implementations must be lossless and deterministic: the watermark lives in
// sample LSBs and the receipt hashes the exact bytes produced.
type Encoder interface {
	Encode(b *Buffer) ([]byte, error)
	Format() string
}

// Decoder turns encoded bytes back into a buffer.
type Decoder interface {
	Decode(data []byte) (*Buffer, error)
}

// PNG is the lossless encoder/decoder used for protected output.
type PNG struct {
	// Level is the zlib compression level; the zero value is png.DefaultCompression.
	Level png.CompressionLevel
}

func (PNG) Format() string { return "png" }

func (p PNG) Encode(b *Buffer) ([]byte, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	enc := png.Encoder{CompressionLevel: p.Level}
	var out bytes.Buffer
	if err := enc.Encode(&out, ToImage(b)); err != nil {
		return nil, faults.Wrap(faults.KindInternal, "FG-ENC-001", "png encode failed", err)
	}
	return out.Bytes(), nil
}

func (PNG) Decode(data []byte) (*Buffer, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, faults.Wrap(faults.KindValidation, "FG-DEC-001", "png decode failed", err)
	}
	return FromImage(img), nil
}

// AnyDecoder decodes any format registered with the image package
// (PNG, JPEG and GIF are linked in). Use it for inputs only.
type AnyDecoder struct{}

func (AnyDecoder) Decode(data []byte) (*Buffer, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, faults.Wrap(faults.KindValidation, "FG-DEC-002", "image decode failed", err)
	}
	return FromImage(img), nil
}

// EncoderFor returns the output encoder for a negotiated format name.
// Lossy formats are rejected because they destroy the LSB watermark.
func EncoderFor(format string) (Encoder, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "png":
		return PNG{}, nil
	case "jpg", "jpeg", "webp", "avif", "heic":
		return nil, faults.New(faults.KindValidation, "FG-VAL-010", "lossy output format "+format+" would destroy the watermark")
	default:
		return nil, faults.New(faults.KindValidation, "FG-VAL-011", "unsupported output format "+format)
	}
}

// ToImage wraps b as an image. RGBA buffers become *image.NRGBA (straight
// alpha, stored losslessly by PNG); RGB buffers become opaque *image.NRGBA.
func ToImage(b *Buffer) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, b.Width, b.Height))
	if b.Channels == 4 {
		copy(img.Pix, b.Pix)
		return img
	}
	for i, j := 0, 0; i < len(b.Pix); i, j = i+3, j+4 {
		img.Pix[j] = b.Pix[i]
		img.Pix[j+1] = b.Pix[i+1]
		img.Pix[j+2] = b.Pix[i+2]
		img.Pix[j+3] = 0xff
	}
	return img
}

// FromImage converts img to a buffer. Fully opaque images become 3-channel
// buffers; anything with transparency keeps its alpha channel.
func FromImage(img image.Image) *Buffer {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	nrgba := make([]byte, w*h*4)
	opaque := true

	switch src := img.(type) {
	case *image.NRGBA:
		for y := 0; y < h; y++ {
			row := src.Pix[y*src.Stride : y*src.Stride+w*4]
			copy(nrgba[y*w*4:], row)
		}
	default:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				c := color.NRGBAModel.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA)
				o := (y*w + x) * 4
				nrgba[o], nrgba[o+1], nrgba[o+2], nrgba[o+3] = c.R, c.G, c.B, c.A
			}
		}
	}
	for i := 3; i < len(nrgba); i += 4 {
		if nrgba[i] != 0xff {
			opaque = false
			break
		}
	}
	if !opaque {
		return &Buffer{Pix: nrgba, Width: w, Height: h, Channels: 4}
	}
	rgb := make([]byte, w*h*3)
	for i, j := 0, 0; i < len(nrgba); i, j = i+4, j+3 {
		rgb[j], rgb[j+1], rgb[j+2] = nrgba[i], nrgba[i+1], nrgba[i+2]
	}
	return &Buffer{Pix: rgb, Width: w, Height: h, Channels: 3}
}
