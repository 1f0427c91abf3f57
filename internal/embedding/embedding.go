// Package embedding produces fixed-length vectors for answer texts. The
// consensus scorer only needs stable, L2-normalisable vectors whose cosine
// similarity tracks textual agreement.
package embedding

import (
	"context"
)

// Embedder turns a text into a fixed-length vector. Implementations must be
// deterministic for the same input and safe for concurrent use.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dim() int
}
