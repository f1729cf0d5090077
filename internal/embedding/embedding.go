// Package embedding turns face images into fixed-length feature vectors and
// scores them against each other.
package embedding

import (
	"context"
	"fmt"
	"image"

	"go.uber.org/zap"

	"github.com/example/idverify/internal/imageprocessor"
)

const (
	// Dimension is the length of every embedding produced by this package.
	Dimension = 128
	// FrameSize is the side of the canonical square frame fed to backends.
	FrameSize = 160
)

// Embedding is an immutable face feature vector.
type Embedding []float64

// Backend produces an embedding from a decoded image.
type Backend interface {
	Name() string
	Embed(ctx context.Context, img image.Image) (Embedding, error)
}

// Extractor runs the configured primary backend and falls back to the
// perceptual hash whenever the primary is absent or fails.
type Extractor struct {
	primary  Backend
	fallback *PerceptualHashBackend
	logger   *zap.Logger
}

// NewExtractor builds an extractor. primary may be nil, in which case every
// call uses the perceptual hash.
func NewExtractor(primary Backend, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		primary:  primary,
		fallback: NewPerceptualHashBackend(),
		logger:   logger.Named("embedding"),
	}
}

// Backend reports the name of the primary backend in use.
func (e *Extractor) Backend() string {
	if e.primary == nil {
		return e.fallback.Name()
	}
	return e.primary.Name()
}

// Extract decodes data and returns its embedding. It only fails with an
// *imageprocessor.DecodeError.
func (e *Extractor) Extract(ctx context.Context, data []byte) (Embedding, error) {
	img, err := imageprocessor.Decode(data)
	if err != nil {
		return nil, err
	}
	return e.ExtractImage(ctx, img)
}

// ExtractImage embeds an already decoded image.
func (e *Extractor) ExtractImage(ctx context.Context, img image.Image) (Embedding, error) {
	if e.primary != nil {
		vec, err := e.primary.Embed(ctx, img)
		if err == nil {
			if err = checkDimension(vec); err == nil {
				return vec, nil
			}
		}
		e.logger.Warn("primary embedding backend failed, using perceptual hash",
			zap.String("backend", e.primary.Name()), zap.Error(err))
	}
	return e.fallback.Embed(ctx, img)
}

func checkDimension(vec Embedding) error {
	if len(vec) != Dimension {
		return fmt.Errorf("backend produced %d dimensions, want %d", len(vec), Dimension)
	}
	return nil
}
