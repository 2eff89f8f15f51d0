// Package vectorstore persists training-fact embeddings in Qdrant and serves
// per-user similarity search. It is an optional acceleration layer: when
// Qdrant is not configured the retrieval engine scans stored facts in memory
// instead, so the bot never hard-depends on it.
package vectorstore

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/qdrant/go-client/qdrant"
)

// Fact is a stored or retrieved training fact.
type Fact struct {
	// ID is the numeric point ID, derived from the fact's write sequence.
	ID uint64

	// UserID is the owner; search is always scoped to one user.
	UserID string

	// Info is the fact text.
	Info string

	// Type is the classified fact category.
	Type string

	// Score is the similarity score assigned during search (0.0 to 1.0).
	// Zero value means the score was not computed.
	Score float32
}

// Config holds connection parameters for a Qdrant instance.
type Config struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name to use.
	Collection string

	// VectorSize is the dimensionality of the stored embeddings.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// Store holds fact embeddings in a Qdrant collection.
// Safe for concurrent use.
type Store struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this store.
	cfg *Config
}

// ConfigFromEnv resolves Qdrant settings from QDRANT_HOST, QDRANT_PORT,
// QDRANT_COLLECTION, QDRANT_API_KEY, and QDRANT_TLS. Returns nil when
// QDRANT_HOST is unset, meaning the vector store is not configured.
func ConfigFromEnv(vectorSize int) *Config {
	host := os.Getenv("QDRANT_HOST")
	if host == "" {
		return nil
	}
	port := 6334
	if v := os.Getenv("QDRANT_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			port = p
		}
	}
	collection := os.Getenv("QDRANT_COLLECTION")
	if collection == "" {
		collection = "cotienbot_facts"
	}
	return &Config{
		Host:       host,
		Port:       port,
		Collection: collection,
		VectorSize: uint64(vectorSize),
		APIKey:     os.Getenv("QDRANT_API_KEY"),
		UseTLS:     os.Getenv("QDRANT_TLS") == "true",
	}
}

// New connects to Qdrant and ensures the fact collection exists.
func New(ctx context.Context, cfg *Config) (*Store, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: create client: %w", err)
	}

	s := &Store{client: client, cfg: cfg}
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// ensureCollection creates the Qdrant collection if it does not already exist.
func (s *Store) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("vectorstore: check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("vectorstore: create collection %q: %w", s.cfg.Collection, err)
	}
	return nil
}

// Upsert stores a fact with its pre-computed embedding.
func (s *Store) Upsert(ctx context.Context, fact Fact, vector []float32) error {
	point := &qdrant.PointStruct{
		Id:      qdrant.NewIDNum(fact.ID),
		Vectors: qdrant.NewVectors(vector...),
		Payload: qdrant.NewValueMap(map[string]any{
			"user_id": fact.UserID,
			"info":    fact.Info,
			"type":    fact.Type,
		}),
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Points:         []*qdrant.PointStruct{point},
	})
	if err != nil {
		return fmt.Errorf("vectorstore: upsert: %w", err)
	}
	return nil
}

// SearchUser performs a cosine similarity search over one user's facts and
// returns the top-k results, best first.
func (s *Store) SearchUser(ctx context.Context, userID string, queryVector []float32, topK int) ([]Fact, error) {
	limit := uint64(topK)
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(queryVector...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("user_id", userID),
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: search: %w", err)
	}

	facts := make([]Fact, 0, len(results))
	for _, r := range results {
		f := Fact{
			ID:     r.Id.GetNum(),
			UserID: userID,
			Score:  r.Score,
		}
		if p := r.Payload; p != nil {
			if v, ok := p["info"]; ok {
				f.Info = v.GetStringValue()
			}
			if v, ok := p["type"]; ok {
				f.Type = v.GetStringValue()
			}
		}
		facts = append(facts, f)
	}
	return facts, nil
}

// Delete removes facts from the collection by their point IDs.
func (s *Store) Delete(ctx context.Context, ids []uint64) error {
	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewIDNum(id))
	}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.cfg.Collection,
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return fmt.Errorf("vectorstore: delete: %w", err)
	}
	return nil
}

// Ping checks Qdrant connectivity. Satisfies the server's readiness probe
// interface.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("vectorstore: ping: %w", err)
	}
	return nil
}

// Name returns the probe label for readiness responses.
func (s *Store) Name() string { return "qdrant" }

// Close closes the underlying Qdrant gRPC connection.
func (s *Store) Close() error {
	return s.client.Close()
}
