// Package retrieval implements the answer pipeline: reuse a cached or
// previously generated response when the incoming message is close enough to
// one the bot has answered before, otherwise retrieve the user's training
// facts and generate a fresh reply. Every failure degrades to a best-effort
// text response; the bot never surfaces an internal error to the user.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cotienbot/cotienbot/internal/buffer"
	"github.com/cotienbot/cotienbot/internal/docstore"
	"github.com/cotienbot/cotienbot/internal/embedding"
	"github.com/cotienbot/cotienbot/internal/generator"
	"github.com/cotienbot/cotienbot/internal/ingest"
	"github.com/cotienbot/cotienbot/internal/logging"
	"github.com/cotienbot/cotienbot/internal/record"
	"github.com/cotienbot/cotienbot/internal/similarity"
	"github.com/cotienbot/cotienbot/internal/syncx"
	"github.com/cotienbot/cotienbot/internal/vectorstore"
)

const (
	// DefaultHistoryThreshold gates reuse of previous responses. High on
	// purpose: replaying a stored answer for a merely related question
	// reads as a non-sequitur.
	DefaultHistoryThreshold = 0.9
	// DefaultTrainingThreshold gates training facts fed to the generator.
	// Looser than history reuse: a loosely related fact still helps the
	// model, it does not get replayed verbatim.
	DefaultTrainingThreshold = 0.5

	// MaxFactLen bounds a single training fact, in bytes.
	MaxFactLen = 5000
	// MaxRetainedFacts bounds the training facts kept per user; the oldest
	// are dropped first, matching the history retention policy.
	MaxRetainedFacts = 50

	// maxPromptFacts caps the facts included in a generator prompt.
	maxPromptFacts = 3
)

// User-facing texts. The bot serves Vietnamese users.
const (
	emptyMessageText = "Bạn muốn hỏi gì nè? Hãy nhắn cho mình một câu nhé!"
	apologyText      = "Xin lỗi, hiện tại mình chưa thể trả lời. Bạn thử lại sau nhé!"
	rateLimitedText  = "Mình đang nhận quá nhiều câu hỏi. Bạn chờ một chút rồi hỏi lại nhé!"
	factReplyPrefix  = "Dựa trên dữ liệu huấn luyện: "
)

// Fact validation errors, surfaced to the transports as user feedback.
var (
	// ErrEmptyFact rejects training input with no content.
	ErrEmptyFact = errors.New("retrieval: fact is empty")
	// ErrFactTooLong rejects training input over MaxFactLen bytes.
	ErrFactTooLong = fmt.Errorf("retrieval: fact exceeds %d bytes", MaxFactLen)
	// ErrDuplicateFact rejects a fact the user has already taught.
	ErrDuplicateFact = errors.New("retrieval: fact already recorded")
)

// Outcome labels how an answer was produced, for logging and metrics.
type Outcome string

const (
	// OutcomeEmpty is returned for blank input.
	OutcomeEmpty Outcome = "empty"
	// OutcomeCached means the response cache had the exact (user, message).
	OutcomeCached Outcome = "cached"
	// OutcomeHistoryExact means a stored exchange matched the message exactly.
	OutcomeHistoryExact Outcome = "history_exact"
	// OutcomeHistorySemantic means a stored exchange matched semantically.
	OutcomeHistorySemantic Outcome = "history_semantic"
	// OutcomeTraining means a training fact matched and was answered directly.
	OutcomeTraining Outcome = "training"
	// OutcomeGenerated means the language model produced a fresh response.
	OutcomeGenerated Outcome = "generated"
	// OutcomeRateLimited means the generator window was exhausted.
	OutcomeRateLimited Outcome = "rate_limited"
	// OutcomeFallback means generation failed and a static apology was used.
	OutcomeFallback Outcome = "fallback"
)

// HistoryMatchMode selects how chat history is matched for reuse.
type HistoryMatchMode string

const (
	// MatchSemantic reuses history on exact or embedding match.
	MatchSemantic HistoryMatchMode = "semantic"
	// MatchExact reuses history on exact match only.
	MatchExact HistoryMatchMode = "exact"
)

// Result is the outcome of an Answer call.
type Result struct {
	// Text is the response to show the user. Always non-empty.
	Text string
	// Outcome labels how the text was produced.
	Outcome Outcome
}

// Options tunes an Engine.
type Options struct {
	// HistoryThreshold gates history reuse (strictly greater than).
	HistoryThreshold float64
	// TrainingThreshold gates training fact retrieval (strictly greater than).
	TrainingThreshold float64
	// HistoryMatch selects exact-only or semantic history reuse.
	HistoryMatch HistoryMatchMode
	// WindowLimit is the generator calls allowed per minute.
	WindowLimit int
	// CacheCapacity bounds the response cache.
	CacheCapacity int
}

// OptionsFromEnv resolves engine tuning from HISTORY_THRESHOLD,
// TRAINING_THRESHOLD, HISTORY_MATCH, and GENERATOR_RATE_LIMIT.
func OptionsFromEnv() Options {
	opts := Options{
		HistoryThreshold:  envFloat("HISTORY_THRESHOLD", DefaultHistoryThreshold),
		TrainingThreshold: envFloat("TRAINING_THRESHOLD", DefaultTrainingThreshold),
		HistoryMatch:      MatchSemantic,
		WindowLimit:       envInt("GENERATOR_RATE_LIMIT", DefaultWindowLimit),
		CacheCapacity:     DefaultCacheCapacity,
	}
	if os.Getenv("HISTORY_MATCH") == string(MatchExact) {
		opts.HistoryMatch = MatchExact
	}
	return opts
}

// Engine answers user messages and records training facts.
// Safe for concurrent use; operations on the same user are serialised.
type Engine struct {
	store    docstore.Store
	buf      *buffer.Buffer
	index    *similarity.Index
	provider embedding.Provider
	gen      *generator.Client
	facts    *vectorstore.Store
	fetcher  *ingest.Fetcher

	opts   Options
	window *Window
	cache  *ResponseCache
	users  *syncx.KeyedMutex
}

// New constructs an Engine. gen and facts may be nil: without a generator the
// bot falls back to history reuse and apologies, and without a vector store
// fact search scans stored embeddings in memory.
func New(store docstore.Store, buf *buffer.Buffer, provider embedding.Provider, gen *generator.Client, facts *vectorstore.Store, opts Options) *Engine {
	if opts.HistoryThreshold == 0 {
		opts.HistoryThreshold = DefaultHistoryThreshold
	}
	if opts.TrainingThreshold == 0 {
		opts.TrainingThreshold = DefaultTrainingThreshold
	}
	if opts.HistoryMatch == "" {
		opts.HistoryMatch = MatchSemantic
	}
	return &Engine{
		store:    store,
		buf:      buf,
		index:    similarity.New(provider),
		provider: provider,
		gen:      gen,
		facts:    facts,
		fetcher:  ingest.NewFetcher(),
		opts:     opts,
		window:   NewWindow(opts.WindowLimit, DefaultWindowSpan),
		cache:    NewResponseCache(opts.CacheCapacity),
		users:    syncx.NewKeyedMutex(),
	}
}

// Window exposes the generator rate limiter, for metrics.
func (e *Engine) Window() *Window { return e.window }

// Cache exposes the response cache, for metrics.
func (e *Engine) Cache() *ResponseCache { return e.cache }

// Answer produces the bot's response to a user message. It never returns an
// error to the caller; every internal failure degrades to a usable text.
//
// The pipeline per message: reuse a stored exchange if one matches and is not
// stale, answer directly from a matching training fact, then fall through the
// rate gate and response cache to the generator. Every answered message is
// appended to the user's history.
func (e *Engine) Answer(ctx context.Context, userID, message string) Result {
	log := logging.FromContext(ctx).With(slog.String("user_id", userID))
	message = strings.TrimSpace(message)
	if message == "" {
		return Result{Text: emptyMessageText, Outcome: OutcomeEmpty}
	}

	unlock := e.users.Lock(userID)
	defer unlock()

	history, training := e.loadUser(ctx, userID)

	res, ok := e.reuseHistory(ctx, log, history, training, message)
	if !ok {
		res, ok = e.matchTraining(ctx, log, userID, training, message)
	}
	if !ok {
		res = e.generate(ctx, log, userID, message, recentFacts(training), history)
	}

	e.recordExchange(ctx, log, userID, message, res)
	return res
}

// loadUser reads the user's stored document and merges the buffered history
// tail. A store read failure degrades to empty state.
func (e *Engine) loadUser(ctx context.Context, userID string) ([]record.ChatRecord, []record.TrainingRecord) {
	doc, err := e.store.Get(ctx, record.UsersCollection, userID)
	if err != nil {
		logging.FromContext(ctx).Error("answer: store read failed, continuing with empty state",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		doc = nil
	}

	var history []record.ChatRecord
	var training []record.TrainingRecord
	if doc != nil {
		history = record.DecodeChats(doc[record.HistoryField])
		training = record.DecodeTraining(doc[record.TrainingField])
	}
	history = append(history, e.buf.Pending(userID)...)
	return history, training
}

// reuseHistory looks for a previous exchange close enough to replay. Only
// generated responses are candidates, and a candidate older than the newest
// training fact is stale: the user taught the bot something since, so the
// old answer may no longer hold.
func (e *Engine) reuseHistory(ctx context.Context, log *slog.Logger, history []record.ChatRecord, training []record.TrainingRecord, message string) (Result, bool) {
	var candidates []string
	var recs []record.ChatRecord
	for _, h := range history {
		if h.Generated && h.Response != "" {
			candidates = append(candidates, h.Message)
			recs = append(recs, h)
		}
	}
	if len(candidates) == 0 {
		return Result{}, false
	}

	var latestTraining int64
	for _, tr := range training {
		if tr.CreatedAt.Seq > latestTraining {
			latestTraining = tr.CreatedAt.Seq
		}
	}

	var match similarity.Match
	var found bool
	if e.opts.HistoryMatch == MatchExact {
		norm := similarity.Normalise(message)
		for i, c := range candidates {
			if similarity.Normalise(c) == norm {
				match = similarity.Match{Index: i, Score: 1.0, Exact: true}
				found = true
				break
			}
		}
	} else {
		var err error
		match, found, err = e.index.FindBest(ctx, message, candidates, e.opts.HistoryThreshold)
		if err != nil {
			// Exact matching already ran inside FindBest; degrade quietly.
			log.Warn("answer: semantic history match unavailable",
				slog.String("error", err.Error()))
			return Result{}, false
		}
	}
	if !found {
		return Result{}, false
	}

	rec := recs[match.Index]
	if latestTraining > 0 && rec.Stamp.Seq <= latestTraining {
		log.Debug("answer: history match stale, newer training exists",
			slog.Int64("match_seq", rec.Stamp.Seq),
			slog.Int64("training_seq", latestTraining),
		)
		return Result{}, false
	}

	outcome := OutcomeHistorySemantic
	if match.Exact {
		outcome = OutcomeHistoryExact
	}
	log.Info("answer: reused history response",
		slog.String("outcome", string(outcome)),
		slog.Float64("score", match.Score),
	)
	return Result{Text: rec.Response, Outcome: outcome}, true
}

// matchTraining answers directly from the best-matching training fact. This
// branch is deliberately generator-free: the fact is the answer, phrased with
// a fixed prefix, so it stays available when the model quota is exhausted.
// Uses Qdrant for the semantic search when configured, otherwise the
// in-memory index. Search failures degrade to no match.
func (e *Engine) matchTraining(ctx context.Context, log *slog.Logger, userID string, training []record.TrainingRecord, message string) (Result, bool) {
	if len(training) == 0 {
		return Result{}, false
	}

	infos := make([]string, len(training))
	for i, tr := range training {
		infos[i] = tr.Info
	}

	var info string
	var found bool
	if e.facts != nil {
		info, found = e.vectorMatch(ctx, log, userID, infos, message)
	} else {
		match, ok, err := e.index.FindBest(ctx, message, infos, e.opts.TrainingThreshold)
		if err != nil {
			log.Warn("answer: training lookup unavailable", slog.String("error", err.Error()))
			return Result{}, false
		}
		if ok {
			info, found = infos[match.Index], true
		}
	}
	if !found {
		return Result{}, false
	}

	log.Info("answer: matched training fact")
	return Result{Text: factReplyPrefix + info, Outcome: OutcomeTraining}, true
}

// vectorMatch runs the fact search through Qdrant. The exact-text scan still
// happens locally first, keeping the no-embedding short circuit.
func (e *Engine) vectorMatch(ctx context.Context, log *slog.Logger, userID string, infos []string, message string) (string, bool) {
	norm := similarity.Normalise(message)
	for _, info := range infos {
		if similarity.Normalise(info) == norm {
			return info, true
		}
	}

	vec, err := embedding.EmbedOne(ctx, e.provider, message)
	if err != nil {
		log.Warn("answer: query embedding unavailable", slog.String("error", err.Error()))
		return "", false
	}
	found, err := e.facts.SearchUser(ctx, userID, vec, 1)
	if err != nil {
		log.Warn("answer: vector search failed", slog.String("error", err.Error()))
		return "", false
	}
	if len(found) == 0 || float64(found[0].Score) <= e.opts.TrainingThreshold {
		return "", false
	}
	return found[0].Info, true
}

// recentFacts returns the newest facts, newest first, as personal context for
// generator prompts.
func recentFacts(training []record.TrainingRecord) []string {
	var out []string
	for i := len(training) - 1; i >= 0 && len(out) < maxPromptFacts; i-- {
		out = append(out, training[i].Info)
	}
	return out
}

// generate produces a fresh response: rate gate, then response cache, then
// the model. The budget is consumed only when the model is actually called,
// and only successful generations enter the cache. Falls back to a static
// apology when the generator is missing or failing.
func (e *Engine) generate(ctx context.Context, log *slog.Logger, userID, message string, facts []string, history []record.ChatRecord) Result {
	if e.gen == nil {
		return Result{Text: apologyText, Outcome: OutcomeFallback}
	}
	if !e.window.Ready() {
		log.Warn("answer: generator window exhausted")
		return Result{Text: rateLimitedText, Outcome: OutcomeRateLimited}
	}
	if cached, ok := e.cache.Get(userID, message); ok {
		log.Debug("answer: response cache hit")
		return Result{Text: cached, Outcome: OutcomeCached}
	}
	if !e.window.Allow() {
		return Result{Text: rateLimitedText, Outcome: OutcomeRateLimited}
	}

	var turns []generator.Turn
	for _, h := range history {
		if h.Response != "" {
			turns = append(turns, generator.Turn{User: h.Message, Bot: h.Response})
		}
	}

	text, err := e.gen.Generate(ctx, &generator.Request{
		Message: message,
		Facts:   facts,
		History: turns,
	})
	if err != nil || text == "" {
		log.Error("answer: generation failed", slog.String("error", fmt.Sprint(err)))
		return Result{Text: apologyText, Outcome: OutcomeFallback}
	}

	res := Result{
		Text:    "[" + e.gen.Tag() + "] " + text,
		Outcome: OutcomeGenerated,
	}
	e.cache.Put(userID, message, res.Text)
	return res
}

// recordExchange appends the exchange to the user's buffered history. Every
// answered message is recorded, but only generated responses are marked
// reusable; apologies, rate-limit texts, and replays themselves must never
// become reuse candidates.
func (e *Engine) recordExchange(ctx context.Context, log *slog.Logger, userID, message string, res Result) {
	stamp, err := e.store.Stamp(ctx)
	if err != nil {
		log.Warn("answer: stamp unavailable", slog.String("error", err.Error()))
		stamp = docstore.Stamp{Time: time.Now()}
	}
	rec := record.ChatRecord{
		Message:   message,
		Response:  res.Text,
		Generated: res.Outcome == OutcomeGenerated,
		Stamp:     stamp,
	}
	if err := e.buf.Append(ctx, userID, rec); err != nil {
		log.Warn("answer: history flush failed, records retained",
			slog.String("error", err.Error()))
	}
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
