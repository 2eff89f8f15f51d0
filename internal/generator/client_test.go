package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// scriptedModel fails the first failures calls to Generate, then succeeds
// with the given reply.
type scriptedModel struct {
	failures int
	calls    int
	reply    string
}

func (m *scriptedModel) Generate(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.calls++
	if m.calls <= m.failures {
		return nil, errors.New("backend exploded")
	}
	return schema.AssistantMessage(m.reply, nil), nil
}

func (m *scriptedModel) Stream(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("streaming not supported")
}

func TestClient_Generate(t *testing.T) {
	t.Parallel()

	cm := &scriptedModel{reply: "  Xin chào!  "}
	c := NewClient(cm, "Gemini")

	got, err := c.Generate(context.Background(), &Request{Message: "chào bạn"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got != "Xin chào!" {
		t.Errorf("got %q, want trimmed reply", got)
	}
	if c.Tag() != "Gemini" {
		t.Errorf("tag: got %q", c.Tag())
	}
}

func TestClient_Generate_RetriesTransientFailure(t *testing.T) {
	t.Parallel()

	cm := &scriptedModel{failures: 2, reply: "ok"}
	c := NewClient(cm, "Gemini", WithRetries(2))

	got, err := c.Generate(context.Background(), &Request{Message: "hi"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got != "ok" {
		t.Errorf("got %q, want ok", got)
	}
	if cm.calls != 3 {
		t.Errorf("calls: got %d, want 3", cm.calls)
	}
}

func TestClient_Generate_AllAttemptsFail(t *testing.T) {
	t.Parallel()

	cm := &scriptedModel{failures: 100}
	c := NewClient(cm, "Gemini", WithRetries(1))

	_, err := c.Generate(context.Background(), &Request{Message: "hi"})
	if err == nil {
		t.Fatal("expected error")
	}
	if cm.calls != 2 {
		t.Errorf("calls: got %d, want 2", cm.calls)
	}
}

func TestClient_Generate_StopsWhenContextCancelled(t *testing.T) {
	t.Parallel()

	cm := &scriptedModel{failures: 100}
	c := NewClient(cm, "Gemini", WithRetries(5), WithTimeout(time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	_, err := c.Generate(ctx, &Request{Message: "hi"})
	if err == nil {
		t.Fatal("expected error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("cancelled generate took %v", elapsed)
	}
}

func TestClient_BuildMessages(t *testing.T) {
	t.Parallel()

	c := NewClient(&scriptedModel{}, "Gemini")

	var history []Turn
	for i := 0; i < 8; i++ {
		history = append(history, Turn{User: fmt.Sprintf("q%d", i), Bot: fmt.Sprintf("a%d", i)})
	}

	msgs := c.buildMessages(&Request{
		Message: "tôi tên gì?",
		Facts:   []string{"tên tôi là Minh"},
		History: history,
	})

	if msgs[0].Role != schema.System {
		t.Fatalf("first message role: %v", msgs[0].Role)
	}
	if !strings.Contains(msgs[0].Content, "tên tôi là Minh") {
		t.Error("system message missing training fact")
	}

	last := msgs[len(msgs)-1]
	if last.Role != schema.User || last.Content != "tôi tên gì?" {
		t.Errorf("last message: %+v", last)
	}

	// Eight turns capped to five: 1 system + 5*2 history + 1 user.
	if len(msgs) != 12 {
		t.Fatalf("message count: got %d, want 12", len(msgs))
	}
	// The retained turns are the newest ones.
	if msgs[1].Content != "q3" {
		t.Errorf("oldest retained turn: got %q, want q3", msgs[1].Content)
	}
}
