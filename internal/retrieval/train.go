package retrieval

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/cotienbot/cotienbot/internal/docstore"
	"github.com/cotienbot/cotienbot/internal/embedding"
	"github.com/cotienbot/cotienbot/internal/logging"
	"github.com/cotienbot/cotienbot/internal/record"
	"github.com/cotienbot/cotienbot/internal/similarity"
	"github.com/cotienbot/cotienbot/internal/vectorstore"
)

// factsListLimit caps the entries returned by Facts.
const factsListLimit = 50

// RecordFact validates and stores a user-taught fact: it is classified,
// embedded (best effort), appended to the user's training data, logged to
// the append-only training log, and indexed in the vector store when one is
// configured. The response cache is cleared because any cached answer may be
// out of date once the bot knows something new.
func (e *Engine) RecordFact(ctx context.Context, userID, info string) (record.TrainingRecord, error) {
	log := logging.FromContext(ctx).With(slog.String("user_id", userID))

	info = strings.TrimSpace(info)
	if info == "" {
		return record.TrainingRecord{}, ErrEmptyFact
	}
	if len(info) > MaxFactLen {
		return record.TrainingRecord{}, ErrFactTooLong
	}

	unlock := e.users.Lock(userID)
	defer unlock()

	doc, err := e.store.Get(ctx, record.UsersCollection, userID)
	if err != nil {
		return record.TrainingRecord{}, err
	}
	var training []record.TrainingRecord
	if doc != nil {
		training = record.DecodeTraining(doc[record.TrainingField])
	}

	norm := similarity.Normalise(info)
	for _, tr := range training {
		if similarity.Normalise(tr.Info) == norm {
			return record.TrainingRecord{}, ErrDuplicateFact
		}
	}

	// Embedding is best effort: a fact stored without a vector still shows
	// up in exact matching and gets embedded lazily on later searches.
	vec, err := embedding.EmbedOne(ctx, e.provider, info)
	if err != nil {
		log.Warn("train: embedding unavailable, storing fact without vector",
			slog.String("error", err.Error()))
		vec = nil
	}

	stamp, err := e.store.Stamp(ctx)
	if err != nil {
		return record.TrainingRecord{}, err
	}

	rec := record.TrainingRecord{
		Info:      info,
		Type:      record.Classify(info),
		Embedding: vec,
		CreatedAt: stamp,
	}

	training = append(training, rec)
	if len(training) > MaxRetainedFacts {
		training = training[len(training)-MaxRetainedFacts:]
	}
	err = e.store.Set(ctx, record.UsersCollection, userID,
		docstore.Document{record.TrainingField: record.EncodeTraining(training)}, true)
	if err != nil {
		return record.TrainingRecord{}, err
	}

	// The log write is not transactional with the user document; a missing
	// log row only affects the operator listing, not retrieval.
	if _, err := e.store.Add(ctx, record.TrainingLogCollection, docstore.Document{
		"user_id": userID,
		"info":    rec.Info,
		"type":    string(rec.Type),
		"seq":     rec.CreatedAt.Seq,
		"time":    rec.CreatedAt.Time.Format(time.RFC3339Nano),
	}); err != nil {
		log.Warn("train: training log write failed", slog.String("error", err.Error()))
	}

	if e.facts != nil && vec != nil {
		if err := e.facts.Upsert(ctx, vectorstore.Fact{
			ID:     uint64(stamp.Seq),
			UserID: userID,
			Info:   rec.Info,
			Type:   string(rec.Type),
		}, vec); err != nil {
			log.Warn("train: vector index write failed", slog.String("error", err.Error()))
		}
	}

	e.cache.Clear()
	log.Info("train: fact recorded",
		slog.String("type", string(rec.Type)),
		slog.Int64("seq", rec.CreatedAt.Seq),
	)
	return rec, nil
}

// TrainFromURL fetches a web page, extracts its readable text, and records
// it as a training fact. Extraction already bounds the text to MaxFactLen.
func (e *Engine) TrainFromURL(ctx context.Context, userID, rawURL string) (record.TrainingRecord, error) {
	text, err := e.fetcher.Extract(ctx, rawURL)
	if err != nil {
		return record.TrainingRecord{}, err
	}
	return e.RecordFact(ctx, userID, text)
}

// Facts returns the user's accepted training facts from the append-only log,
// newest first.
func (e *Engine) Facts(ctx context.Context, userID string) ([]record.TrainingRecord, error) {
	docs, err := e.store.Query(ctx, record.TrainingLogCollection,
		[]docstore.Filter{{Field: "user_id", Value: userID}}, true, factsListLimit)
	if err != nil {
		return nil, err
	}
	out := make([]record.TrainingRecord, 0, len(docs))
	for _, doc := range docs {
		if rec, ok := record.TrainingFromDoc(map[string]any(doc)); ok {
			out = append(out, rec)
		}
	}
	return out, nil
}
