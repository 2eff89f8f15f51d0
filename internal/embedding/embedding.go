// Package embedding converts text into dense vector embeddings for semantic
// matching. Implementations talk to a backend (Ollama, OpenAI, Azure OpenAI)
// over plain HTTP. All backends report a model version string so cached
// vectors are never mixed across models.
package embedding

import (
	"context"
	"errors"
)

// ErrProviderUnavailable marks embedding failures caused by the backend being
// unreachable, misconfigured, or over quota. Callers treat this as a signal
// to degrade to non-semantic matching rather than fail the request.
var ErrProviderUnavailable = errors.New("embedding: provider unavailable")

// Provider converts texts into embedding vectors.
// Implementations must be safe for concurrent use.
type Provider interface {
	// Embed converts a batch of texts into their embeddings. The returned
	// slice is parallel to the input slice. Backend failures are reported
	// as errors wrapping ErrProviderUnavailable.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// ModelVersion identifies the backend and model producing the vectors,
	// e.g. "ollama/nomic-embed-text". Vectors from different model versions
	// are never comparable.
	ModelVersion() string
}

// EmbedOne embeds a single text. Convenience wrapper over Embed.
func EmbedOne(ctx context.Context, p Provider, text string) ([]float32, error) {
	vecs, err := p.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, errors.New("embedding: backend returned wrong batch size")
	}
	return vecs[0], nil
}
