package shield

import (
	"math"

	"xdao.co/faceguard/faults"
	"xdao.co/faceguard/raster"
)

// MinProtectedScore is the floor applied to any buffer that differs from its
// original at all.
const MinProtectedScore = 50

const (
	madWeight      = 10
	gradientWeight = 6
)

// Score rates how far shielded diverges from orig on a 0-100 scale.
//
// It combines the mean absolute RGB difference with the mean change in local
// luma gradients (horizontal and vertical neighbours). Identical buffers score
// 0; any difference scores at least MinProtectedScore.
func Score(orig, shielded *raster.Buffer) (int, error) {
	if err := orig.Validate(); err != nil {
		return 0, err
	}
	if err := shielded.Validate(); err != nil {
		return 0, err
	}
	if orig.Width != shielded.Width || orig.Height != shielded.Height {
		return 0, faults.New(faults.KindValidation, "FG-VAL-030", "score inputs differ in size")
	}

	var sad float64
	changed := false
	lo := luma(orig)
	ls := luma(shielded)
	for i := 0; i < orig.Pixels(); i++ {
		oo := i * orig.Channels
		so := i * shielded.Channels
		for c := 0; c < 3; c++ {
			d := math.Abs(float64(orig.Pix[oo+c]) - float64(shielded.Pix[so+c]))
			if d != 0 {
				changed = true
			}
			sad += d
		}
	}
	if !changed {
		return 0, nil
	}
	mad := sad / float64(orig.Pixels()*3)

	var gradDelta float64
	var count int
	w, h := orig.Width, orig.Height
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			if x+1 < w {
				gradDelta += math.Abs((lo[i+1] - lo[i]) - (ls[i+1] - ls[i]))
				count++
			}
			if y+1 < h {
				gradDelta += math.Abs((lo[i+w] - lo[i]) - (ls[i+w] - ls[i]))
				count++
			}
		}
	}
	if count > 0 {
		gradDelta /= float64(count)
	}

	score := int(math.Round(madWeight*mad + gradientWeight*gradDelta))
	score = clampi(score, 0, 100)
	if score < MinProtectedScore {
		score = MinProtectedScore
	}
	return score, nil
}

func luma(b *raster.Buffer) []float64 {
	out := make([]float64, b.Pixels())
	for i := range out {
		o := i * b.Channels
		out[i] = 0.299*float64(b.Pix[o]) + 0.587*float64(b.Pix[o+1]) + 0.114*float64(b.Pix[o+2])
	}
	return out
}
