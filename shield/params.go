package shield

import (
	"fmt"
	"strings"

	"xdao.co/faceguard/faults"
	"xdao.co/faceguard/raster"
)

// Level is the aggression level requested by the caller.
type Level string

const (
	Normal Level = "normal"
	High   Level = "high"
)

// ParseLevel accepts "normal" or "high" (case-insensitive); empty means normal.
func ParseLevel(s string) (Level, error) {
	switch Level(strings.ToLower(strings.TrimSpace(s))) {
	case "", Normal:
		return Normal, nil
	case High:
		return High, nil
	default:
		return "", faults.New(faults.KindValidation, "FG-VAL-021", fmt.Sprintf("unknown aggression level %q", s))
	}
}

// Params configures the three perturbation layers.
type Params struct {
	// NoiseStrength is the peak-to-peak amplitude of the per-pixel noise.
	NoiseStrength float64
	// ShiftPixels is the horizontal offset of the red and blue channels.
	ShiftPixels int
	// WarpStrength is the peak displacement of the micro-warp, in pixels.
	WarpStrength float64
	// WarpPeriod is the wavelength divisor of the warp sine, in pixels.
	WarpPeriod float64
}

// ParamsFor returns the fixed recipe for a level.
func ParamsFor(l Level) Params {
	if l == High {
		return Params{NoiseStrength: 14, ShiftPixels: 2, WarpStrength: 3, WarpPeriod: 8}
	}
	return Params{NoiseStrength: 7, ShiftPixels: 1, WarpStrength: 1.5, WarpPeriod: 12}
}

func (p Params) validate() error {
	if p.NoiseStrength < 0 || p.ShiftPixels < 0 || p.WarpStrength < 0 || p.WarpPeriod < 0 {
		return faults.New(faults.KindValidation, "FG-VAL-020", "perturbation parameters must be non-negative")
	}
	return nil
}

// Box is an axis-aligned region, typically a face reported by a detector.
type Box struct {
	X, Y, W, H int
}

func (b Box) rect() raster.Rect {
	return raster.Rect{MinX: b.X, MinY: b.Y, MaxX: b.X + b.W, MaxY: b.Y + b.H}
}

// ParseBox parses "x,y,w,h".
func ParseBox(s string) (Box, error) {
	var b Box
	if _, err := fmt.Sscanf(s, "%d,%d,%d,%d", &b.X, &b.Y, &b.W, &b.H); err != nil {
		return Box{}, faults.Wrap(faults.KindValidation, "FG-VAL-022", fmt.Sprintf("invalid box %q (want x,y,w,h)", s), err)
	}
	if b.W <= 0 || b.H <= 0 {
		return Box{}, faults.New(faults.KindValidation, "FG-VAL-022", fmt.Sprintf("invalid box %q: width and height must be positive", s))
	}
	return b, nil
}
