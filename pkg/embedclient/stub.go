package embedclient

import (
	"context"
	"hash/fnv"
)

// Stub is a deterministic, in-memory Client: it hashes each text into a
// small fixed-dimension vector so identical texts always embed to the
// same vector and similarity comparisons are reproducible in tests
// without a real embedding model.
type Stub struct {
	Model string
	Local bool
	Dim   int
}

// Embed hashes each text into a Dim-length vector (default 16).
func (s *Stub) Embed(ctx context.Context, texts []string, progressCb ProgressFunc) (Result, error) {
	dim := s.Dim
	if dim <= 0 {
		dim = 16
	}
	out := make([][]float64, len(texts))
	for i, t := range texts {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		out[i] = hashVector(t, dim)
		if progressCb != nil {
			progressCb(i+1, len(texts))
		}
	}
	return Result{Embeddings: out}, nil
}

// EmbedOne embeds a single text via Embed.
func (s *Stub) EmbedOne(ctx context.Context, text string) ([]float64, error) {
	res, err := s.Embed(ctx, []string{text}, nil)
	if err != nil {
		return nil, err
	}
	return res.Embeddings[0], nil
}

// GetModel returns the configured model identifier.
func (s *Stub) GetModel() string { return s.Model }

// IsLocal reports the configured locality.
func (s *Stub) IsLocal() bool { return s.Local }

// hashVector derives a dim-length pseudo-embedding from text using a
// rolling FNV hash reseeded per dimension, so near-duplicate texts don't
// collide to the same vector but identical texts always do.
func hashVector(text string, dim int) []float64 {
	v := make([]float64, dim)
	for d := 0; d < dim; d++ {
		h := fnv.New64a()
		_, _ = h.Write([]byte{byte(d)})
		_, _ = h.Write([]byte(text))
		sum := h.Sum64()
		v[d] = float64(sum%2000)/1000.0 - 1.0
	}
	return v
}
