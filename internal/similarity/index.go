// Package similarity finds the best candidate text for a query, using exact
// string matching first and embedding cosine similarity second. It is the
// matching core behind both chat-history reuse and training-data retrieval.
package similarity

import (
	"context"
	"math"
	"strings"

	"github.com/cotienbot/cotienbot/internal/embedding"
)

// Match describes the winning candidate of a FindBest call.
type Match struct {
	// Index is the position of the winning candidate in the input slice.
	Index int
	// Score is the similarity score in [0, 1]. Exact matches score 1.0.
	Score float64
	// Exact marks a case-insensitive exact string match, which bypasses
	// the embedding provider entirely.
	Exact bool
}

// Index matches queries against candidate texts.
// Safe for concurrent use.
type Index struct {
	// provider computes embeddings for semantic comparison. Typically an
	// embedding.Memo so repeated candidates are embedded once per process.
	provider embedding.Provider
}

// New constructs an Index over the given embedding provider.
func New(provider embedding.Provider) *Index {
	return &Index{provider: provider}
}

// Normalise returns the canonical form of a text for exact comparison:
// whitespace-trimmed and lowercased.
func Normalise(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// FindBest returns the best-matching candidate for the query, or found=false
// when no candidate clears the threshold.
//
// Matching order:
//
//  1. Empty candidate set: found=false immediately, nothing is embedded.
//  2. Exact scan: the first candidate equal to the query after Normalise
//     wins with score 1.0. The embedding provider is never called.
//  3. Semantic scan: query and candidates are embedded in one batch and
//     compared by cosine similarity. A candidate must score strictly above
//     the threshold; among qualifying candidates the highest score wins,
//     and the earliest qualifying candidate wins ties.
//
// When the provider is unavailable the error wraps
// embedding.ErrProviderUnavailable and found is false; by then the exact scan
// has already run, so callers degrade to exact-only matching by treating the
// error as no-match.
func (idx *Index) FindBest(ctx context.Context, query string, candidates []string, threshold float64) (Match, bool, error) {
	if len(candidates) == 0 {
		return Match{}, false, nil
	}

	norm := Normalise(query)
	for i, c := range candidates {
		if Normalise(c) == norm {
			return Match{Index: i, Score: 1.0, Exact: true}, true, nil
		}
	}

	texts := make([]string, 0, len(candidates)+1)
	texts = append(texts, query)
	texts = append(texts, candidates...)

	vecs, err := idx.provider.Embed(ctx, texts)
	if err != nil {
		return Match{}, false, err
	}

	queryVec := vecs[0]
	best := Match{Index: -1}
	for i, vec := range vecs[1:] {
		score := Cosine(queryVec, vec)
		if score <= threshold {
			continue
		}
		// Strictly-greater keeps the earliest candidate on equal scores.
		if best.Index < 0 || score > best.Score {
			best = Match{Index: i, Score: score}
		}
	}

	if best.Index < 0 {
		return Match{}, false, nil
	}
	return best, true, nil
}

// Cosine returns the cosine similarity of two vectors: dot(a,b)/(|a|*|b|).
// Mismatched lengths or a zero-magnitude vector yield 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
