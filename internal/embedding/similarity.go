package embedding

import (
	"fmt"
	"math"
)

// ShapeMismatchError is returned when two embeddings cannot be compared.
type ShapeMismatchError struct {
	Left, Right int
}

// Error implements the error interface.
func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("embedding shape mismatch: %d vs %d", e.Left, e.Right)
}

// Cosine returns the cosine similarity of a and b. A zero vector scores 0
// against anything.
func Cosine(a, b Embedding) (float64, error) {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0, &ShapeMismatchError{Left: len(a), Right: len(b)}
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}
