// Package shield implements the seeded adversarial perturbation engine.
//
// Three layers run in a fixed order over the RGB samples of a buffer:
// high-frequency noise, chromatic shift and micro-warp. Each layer reads from a
// snapshot taken before it started, so no layer observes its own partial
// output. Alpha samples are never written.
package shield

import (
	"fmt"
	"math"

	"xdao.co/faceguard/prng"
	"xdao.co/faceguard/raster"
)

// Engine applies perturbations. The zero value uses prng.Default.
type Engine struct {
	PRNG prng.Algorithm
}

// Shield perturbs b in place for the requested level.
//
// Normal shields the whole image with the normal recipe and ignores boxes.
// High shields the whole image with the normal recipe, then re-shields each
// box with the high recipe on a crop of the unshielded pixels and composites
// it back. High without boxes applies the high recipe to the whole image.
func (e Engine) Shield(b *raster.Buffer, seed string, level Level, boxes []Box) error {
	if err := b.Validate(); err != nil {
		return err
	}
	if level != High || len(boxes) == 0 {
		return e.Apply(b, seed, ParamsFor(level))
	}

	orig := b.Clone()
	if err := e.Apply(b, seed, ParamsFor(Normal)); err != nil {
		return err
	}
	for i, box := range boxes {
		r := b.Clip(box.rect())
		if r.Empty() {
			continue
		}
		region, err := orig.Crop(r)
		if err != nil {
			return err
		}
		if err := e.Apply(region, fmt.Sprintf("%s:box:%d", seed, i), ParamsFor(High)); err != nil {
			return err
		}
		b.Paste(region, r.MinX, r.MinY)
	}
	return nil
}

// Apply runs the three layers with params. It is deterministic in
// (buffer, seed, params, PRNG) and validates before mutating anything.
func (e Engine) Apply(b *raster.Buffer, seed string, p Params) error {
	if err := b.Validate(); err != nil {
		return err
	}
	if err := p.validate(); err != nil {
		return err
	}
	src, err := prng.New(e.PRNG, seed)
	if err != nil {
		return err
	}
	orig := b.Clone()

	noise(b, src, p.NoiseStrength)
	chromaticShift(b, p.ShiftPixels)
	warp(b, src, p.WarpStrength, p.WarpPeriod)

	// Shift and warp can in principle land every sample back on its input;
	// a second noise pass always moves every RGB sample.
	if p.NoiseStrength > 0 && raster.Equal(b, orig) {
		noise(b, src, p.NoiseStrength)
	}
	return nil
}

func noise(b *raster.Buffer, src prng.Source, strength float64) {
	if strength <= 0 {
		return
	}
	snap := b.Clone()
	for off := 0; off < len(b.Pix); off += b.Channels {
		n := (src.Float64() - 0.5) * strength
		d := int(math.Round(n))
		if d == 0 {
			d = 1
			if n < 0 {
				d = -1
			}
		}
		for c := 0; c < 3; c++ {
			s := int(snap.Pix[off+c])
			v := s + d
			if v < 0 || v > 255 {
				v = s - d
			}
			b.Pix[off+c] = clamp8(v)
		}
	}
}

func chromaticShift(b *raster.Buffer, shift int) {
	if shift == 0 {
		return
	}
	snap := b.Clone()
	for y := 0; y < b.Height; y++ {
		for x := 0; x < b.Width; x++ {
			off := b.Offset(x, y)
			b.Pix[off] = snap.Pix[snap.Offset(clampi(x+shift, 0, b.Width-1), y)]
			b.Pix[off+2] = snap.Pix[snap.Offset(clampi(x-shift, 0, b.Width-1), y)+2]
		}
	}
}

func warp(b *raster.Buffer, src prng.Source, strength, period float64) {
	if strength <= 0 {
		return
	}
	if period <= 0 {
		period = 1
	}
	phase := src.Float64() * 2 * math.Pi
	snap := b.Clone()
	for y := 0; y < b.Height; y++ {
		dx := int(math.Floor(strength * math.Sin(float64(y)/period+phase)))
		for x := 0; x < b.Width; x++ {
			dy := int(math.Floor(strength * math.Sin(float64(x)/period+phase)))
			sx := clampi(x+dx, 0, b.Width-1)
			sy := clampi(y+dy, 0, b.Height-1)
			off := b.Offset(x, y)
			so := snap.Offset(sx, sy)
			copy(b.Pix[off:off+3], snap.Pix[so:so+3])
		}
	}
}

func clamp8(v int) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}

func clampi(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
