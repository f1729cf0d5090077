package embedding

import (
	"context"
	"image"

	"github.com/example/idverify/internal/imageprocessor"
)

const (
	hashSide      = 64
	hashChunkSize = hashSide * hashSide / Dimension
)

// PerceptualHashBackend averages a 64×64 greyscale thumbnail over 128
// contiguous chunks. The output is bit-identical for identical input bytes.
type PerceptualHashBackend struct{}

// NewPerceptualHashBackend returns the deterministic fallback backend.
func NewPerceptualHashBackend() *PerceptualHashBackend {
	return &PerceptualHashBackend{}
}

// Name implements Backend.
func (*PerceptualHashBackend) Name() string { return "perceptual_hash" }

// Embed implements Backend. It never fails.
func (*PerceptualHashBackend) Embed(_ context.Context, img image.Image) (Embedding, error) {
	gray := imageprocessor.Grayscale(imageprocessor.Resize(img, hashSide, hashSide))

	vec := make(Embedding, Dimension)
	for i := range vec {
		chunk := gray.Pix[i*hashChunkSize : (i+1)*hashChunkSize]
		var sum int
		for _, p := range chunk {
			sum += int(p)
		}
		mean := float64(sum) / float64(hashChunkSize)
		vec[i] = mean/127.5 - 1
	}
	return vec, nil
}
