package generator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/cotienbot/cotienbot/internal/budget"
	"github.com/cotienbot/cotienbot/internal/logging"
)

const (
	// DefaultTimeout bounds a single generation attempt.
	DefaultTimeout = 10 * time.Second
	// DefaultRetries is the number of retries after a failed attempt.
	DefaultRetries = 2
	// retryBackoff is the base delay between attempts, scaled linearly.
	retryBackoff = 500 * time.Millisecond

	// maxHistoryTurns caps the prior exchanges included in the prompt.
	maxHistoryTurns = 5
)

// systemPrompt is the assistant persona. The bot serves Vietnamese users.
const systemPrompt = "Bạn là Cô Tiên, một trợ lý ảo thân thiện và hữu ích. " +
	"Hãy trả lời ngắn gọn, tự nhiên bằng tiếng Việt. " +
	"Nếu có thông tin về người dùng bên dưới, hãy dùng nó để cá nhân hoá câu trả lời."

// Turn is one prior user/bot exchange, for prompt context.
type Turn struct {
	// User is the user's message.
	User string
	// Bot is the bot's reply.
	Bot string
}

// Request carries everything the generator needs to produce a response.
type Request struct {
	// Message is the current user message.
	Message string
	// Facts are the user's training facts relevant to the message.
	Facts []string
	// History holds prior exchanges, oldest first. Only the newest
	// maxHistoryTurns are used.
	History []Turn
}

// Client wraps a chat model with prompt assembly, a per-attempt timeout, and
// retry on transient failure. Safe for concurrent use.
type Client struct {
	model   model.BaseChatModel
	tag     string
	timeout time.Duration
	retries int
}

// ClientOption customises a Client.
type ClientOption func(*Client)

// WithTimeout overrides the per-attempt timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRetries overrides the retry count.
func WithRetries(n int) ClientOption {
	return func(c *Client) {
		if n >= 0 {
			c.retries = n
		}
	}
}

// NewClient constructs a Client over the given chat model. tag is the display
// label for generated responses (see Config.Tag).
func NewClient(cm model.BaseChatModel, tag string, opts ...ClientOption) *Client {
	c := &Client{
		model:   cm,
		tag:     tag,
		timeout: DefaultTimeout,
		retries: DefaultRetries,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Tag returns the display label for generated responses.
func (c *Client) Tag() string { return c.tag }

// Generate produces a response for the request. Each attempt runs under the
// client timeout; failed attempts are retried with linear backoff unless the
// caller's context is done.
func (c *Client) Generate(ctx context.Context, req *Request) (string, error) {
	msgs := c.buildMessages(req)
	log := logging.FromContext(ctx)

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("generator: %w", ctx.Err())
			case <-time.After(time.Duration(attempt) * retryBackoff):
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		out, err := c.model.Generate(attemptCtx, msgs)
		cancel()
		if err == nil {
			return strings.TrimSpace(out.Content), nil
		}
		lastErr = err
		log.Warn("generator: attempt failed",
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
		if ctx.Err() != nil {
			break
		}
	}
	return "", fmt.Errorf("generator: all attempts failed: %w", lastErr)
}

// buildMessages assembles the prompt: persona plus facts as the system
// message, trimmed history turns, then the current user message.
func (c *Client) buildMessages(req *Request) []*schema.Message {
	var sys strings.Builder
	sys.WriteString(systemPrompt)
	if len(req.Facts) > 0 {
		sys.WriteString("\n\nThông tin về người dùng:\n")
		for _, f := range req.Facts {
			sys.WriteString("- ")
			sys.WriteString(f)
			sys.WriteString("\n")
		}
	}

	history := req.History
	if len(history) > maxHistoryTurns {
		history = history[len(history)-maxHistoryTurns:]
	}
	var historyMsgs []*schema.Message
	for _, turn := range history {
		historyMsgs = append(historyMsgs, schema.UserMessage(turn.User))
		historyMsgs = append(historyMsgs, schema.AssistantMessage(turn.Bot, nil))
	}

	fixed := []*schema.Message{
		schema.SystemMessage(sys.String()),
		schema.UserMessage(req.Message),
	}
	historyMsgs = budget.TrimHistory(fixed, historyMsgs, budget.DefaultMaxContextTokens)

	msgs := make([]*schema.Message, 0, len(historyMsgs)+2)
	msgs = append(msgs, fixed[0])
	msgs = append(msgs, historyMsgs...)
	msgs = append(msgs, fixed[1])
	return msgs
}
