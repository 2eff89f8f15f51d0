package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cotienbot/cotienbot/internal/buffer"
	"github.com/cotienbot/cotienbot/internal/docstore"
	"github.com/cotienbot/cotienbot/internal/embedding"
	"github.com/cotienbot/cotienbot/internal/generator"
	"github.com/cotienbot/cotienbot/internal/retrieval"
	"github.com/cotienbot/cotienbot/internal/server"
	"github.com/cotienbot/cotienbot/internal/vectorstore"
)

// drainTimeout bounds the final history flush during shutdown.
const drainTimeout = 10 * time.Second

// buildEngine assembles the full retrieval stack: document store, embedding
// provider, generator, optional Qdrant fact store, write buffer, and engine.
//
// The generator and vector store are optional; when their backends are not
// configured the engine degrades to history reuse and apology fallbacks.
// The returned cleanup drains the write buffer and closes every backend, and
// must be called exactly once.
func buildEngine(ctx context.Context, log *slog.Logger) (*retrieval.Engine, []server.Pinger, func(), error) {
	dbPath := os.Getenv("COTIENBOT_DB")
	if dbPath == "" {
		var err error
		dbPath, err = docstore.DefaultDBPath()
		if err != nil {
			return nil, nil, nil, fmt.Errorf("resolve db path: %w", err)
		}
	}
	store, err := docstore.Open(dbPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open docstore: %w", err)
	}
	log.Info("docstore opened", slog.String("path", dbPath))

	embedder, err := embedding.NewFromEnv()
	if err != nil {
		_ = store.Close()
		return nil, nil, nil, fmt.Errorf("init embedding provider: %w", err)
	}
	memo := embedding.NewMemo(embedder)
	log.Info("embedding provider initialised", slog.String("model", embedder.ModelVersion()))

	// A missing generator config is survivable: the engine still reuses
	// history and replies with apologies for everything else.
	gen, err := generator.NewFromEnv(ctx)
	if err != nil {
		log.Warn("generator disabled", slog.Any("error", err))
		gen = nil
	} else {
		log.Info("generator initialised", slog.String("tag", gen.Tag()))
	}

	var facts *vectorstore.Store
	backend := os.Getenv("EMBEDDING_PROVIDER")
	if backend == "" {
		backend = os.Getenv("MODEL_PROVIDER")
	}
	if cfg := vectorstore.ConfigFromEnv(embedding.DefaultDimensions(backend)); cfg != nil {
		facts, err = vectorstore.New(ctx, cfg)
		if err != nil {
			log.Warn("qdrant fact store disabled", slog.Any("error", err))
			facts = nil
		} else {
			log.Info("qdrant fact store connected", slog.String("collection", cfg.Collection))
		}
	}

	buf := buffer.New(store)
	engine := retrieval.New(store, buf, memo, gen, facts, retrieval.OptionsFromEnv())

	pingers := []server.Pinger{store}
	if facts != nil {
		pingers = append(pingers, facts)
	}

	cleanup := func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		if err := buf.Drain(drainCtx); err != nil {
			log.Error("history drain failed", slog.Any("error", err))
		}
		if facts != nil {
			if err := facts.Close(); err != nil {
				log.Warn("qdrant close failed", slog.Any("error", err))
			}
		}
		if err := store.Close(); err != nil {
			log.Warn("docstore close failed", slog.Any("error", err))
		}
	}

	return engine, pingers, cleanup, nil
}
