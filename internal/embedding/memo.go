package embedding

import (
	"context"
	"sync"
)

// Memo wraps a Provider with an in-process memoisation layer. Each distinct
// text is embedded at most once per process lifetime; repeated requests are
// served from memory. Entries are never evicted: embeddings are deterministic
// for a fixed model version, so a cached vector never goes stale.
//
// Cache keys include the wrapped provider's model version, so swapping the
// backend model never serves vectors computed by a different model.
type Memo struct {
	// inner is the wrapped provider doing the real work.
	inner Provider

	// mu guards vectors.
	mu sync.RWMutex
	// vectors maps memoKey(text) to the cached embedding.
	vectors map[string][]float32
}

// NewMemo wraps the given provider with memoisation.
func NewMemo(inner Provider) *Memo {
	return &Memo{
		inner:   inner,
		vectors: make(map[string][]float32),
	}
}

// ModelVersion reports the wrapped provider's model version.
func (m *Memo) ModelVersion() string {
	return m.inner.ModelVersion()
}

// Len returns the number of memoised embeddings, for metrics and tests.
func (m *Memo) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.vectors)
}

func (m *Memo) key(text string) string {
	return m.inner.ModelVersion() + "\x00" + text
}

// Embed returns embeddings for the given texts, computing only the ones not
// yet memoised. A backend failure caches nothing, so every text is retried on
// the next call.
func (m *Memo) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))

	var missing []string
	var missingIdx []int
	m.mu.RLock()
	for i, text := range texts {
		if vec, ok := m.vectors[m.key(text)]; ok {
			out[i] = vec
		} else {
			missing = append(missing, text)
			missingIdx = append(missingIdx, i)
		}
	}
	m.mu.RUnlock()

	if len(missing) == 0 {
		return out, nil
	}

	computed, err := m.inner.Embed(ctx, missing)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	for j, vec := range computed {
		out[missingIdx[j]] = vec
		m.vectors[m.key(missing[j])] = vec
	}
	m.mu.Unlock()

	return out, nil
}
