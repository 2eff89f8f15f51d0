// Package record defines the chat and training record types persisted in the
// document store, together with their document codecs. Records live inside
// per-user documents as JSON arrays, so the codecs convert between typed Go
// structs and the generic map values the store hands back.
package record

import (
	"time"

	"github.com/cotienbot/cotienbot/internal/docstore"
)

// UsersCollection is the store collection holding one document per user.
const UsersCollection = "users"

// TrainingLogCollection is the append-only store collection recording every
// accepted training fact, for the operator-facing facts listing.
const TrainingLogCollection = "training_log"

const (
	// HistoryField is the user-document field holding the chat history array.
	HistoryField = "history"
	// TrainingField is the user-document field holding the training data array.
	TrainingField = "training"
)

// ChatRecord is one question/answer exchange in a user's chat history.
type ChatRecord struct {
	// Message is the user's message text.
	Message string
	// Response is the bot's reply text.
	Response string
	// Generated marks responses produced by the language model, as opposed
	// to reused history or static fallbacks. Only generated responses are
	// eligible for later semantic reuse.
	Generated bool
	// Stamp is the server-assigned write stamp of the exchange.
	Stamp docstore.Stamp
}

// TrainingRecord is one user-taught fact.
type TrainingRecord struct {
	// Info is the fact text.
	Info string
	// Type is the classified fact category.
	Type Type
	// Embedding is the stored embedding vector for Info. May be nil for
	// records written before an embedding provider was configured.
	Embedding []float32
	// CreatedAt is the server-assigned write stamp of the fact.
	CreatedAt docstore.Stamp
}

// Doc converts the chat record to its stored document form.
func (r ChatRecord) Doc() map[string]any {
	return map[string]any{
		"message":   r.Message,
		"response":  r.Response,
		"generated": r.Generated,
		"seq":       r.Stamp.Seq,
		"time":      r.Stamp.Time.Format(time.RFC3339Nano),
	}
}

// Doc converts the training record to its stored document form.
func (r TrainingRecord) Doc() map[string]any {
	doc := map[string]any{
		"info": r.Info,
		"type": string(r.Type),
		"seq":  r.CreatedAt.Seq,
		"time": r.CreatedAt.Time.Format(time.RFC3339Nano),
	}
	if len(r.Embedding) > 0 {
		vec := make([]any, len(r.Embedding))
		for i, v := range r.Embedding {
			vec[i] = float64(v)
		}
		doc["embedding"] = vec
	}
	return doc
}

// ChatFromDoc decodes a single chat record from its stored form. Returns
// false if the value is not a well-formed chat document; callers skip such
// entries rather than failing the whole read.
func ChatFromDoc(v any) (ChatRecord, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return ChatRecord{}, false
	}
	msg, ok := m["message"].(string)
	if !ok {
		return ChatRecord{}, false
	}
	resp, _ := m["response"].(string)
	gen, _ := m["generated"].(bool)
	return ChatRecord{
		Message:   msg,
		Response:  resp,
		Generated: gen,
		Stamp:     stampFromDoc(m),
	}, true
}

// TrainingFromDoc decodes a single training record from its stored form.
func TrainingFromDoc(v any) (TrainingRecord, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return TrainingRecord{}, false
	}
	info, ok := m["info"].(string)
	if !ok || info == "" {
		return TrainingRecord{}, false
	}
	typ, _ := m["type"].(string)
	rec := TrainingRecord{
		Info:      info,
		Type:      Type(typ),
		CreatedAt: stampFromDoc(m),
	}
	if raw, ok := m["embedding"].([]any); ok {
		vec := make([]float32, 0, len(raw))
		for _, x := range raw {
			f, ok := x.(float64)
			if !ok {
				vec = nil
				break
			}
			vec = append(vec, float32(f))
		}
		rec.Embedding = vec
	}
	return rec, true
}

// DecodeChats decodes the chat history array from a user document field.
// Malformed entries are skipped.
func DecodeChats(v any) []ChatRecord {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]ChatRecord, 0, len(raw))
	for _, item := range raw {
		if rec, ok := ChatFromDoc(item); ok {
			out = append(out, rec)
		}
	}
	return out
}

// DecodeTraining decodes the training data array from a user document field.
// Malformed entries are skipped.
func DecodeTraining(v any) []TrainingRecord {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]TrainingRecord, 0, len(raw))
	for _, item := range raw {
		if rec, ok := TrainingFromDoc(item); ok {
			out = append(out, rec)
		}
	}
	return out
}

// EncodeChats converts chat records to the stored array form.
func EncodeChats(recs []ChatRecord) []any {
	out := make([]any, len(recs))
	for i, r := range recs {
		out[i] = r.Doc()
	}
	return out
}

// EncodeTraining converts training records to the stored array form.
func EncodeTraining(recs []TrainingRecord) []any {
	out := make([]any, len(recs))
	for i, r := range recs {
		out[i] = r.Doc()
	}
	return out
}

func stampFromDoc(m map[string]any) docstore.Stamp {
	var st docstore.Stamp
	if seq, ok := m["seq"].(float64); ok {
		st.Seq = int64(seq)
	}
	if ts, ok := m["time"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			st.Time = parsed
		}
	}
	return st
}
