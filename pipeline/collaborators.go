package pipeline

import (
	"context"

	"xdao.co/faceguard/raster"
	"xdao.co/faceguard/shield"
)

// FaceDetector reports face regions for hardened shielding. Detection itself
// is an external service; implementations adapt it to this interface.
type FaceDetector interface {
	Detect(ctx context.Context, b *raster.Buffer) ([]shield.Box, error)
}

// GenerativeShield is an optional model-based pre-pass. It receives a copy of
// the input and must return a buffer of the same shape; only RGB samples of
// the result are used.
type GenerativeShield interface {
	Shield(ctx context.Context, b *raster.Buffer, seed string) (*raster.Buffer, error)
}

// FaceDetectorFunc adapts a function to FaceDetector.
type FaceDetectorFunc func(ctx context.Context, b *raster.Buffer) ([]shield.Box, error)

func (f FaceDetectorFunc) Detect(ctx context.Context, b *raster.Buffer) ([]shield.Box, error) {
	return f(ctx, b)
}
