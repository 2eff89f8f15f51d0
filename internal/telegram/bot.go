// Package telegram runs the long-polling Telegram front end of the bot.
// It translates chat messages and commands into retrieval engine calls and
// replies with the engine's best-effort text.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/cotienbot/cotienbot/internal/record"
	"github.com/cotienbot/cotienbot/internal/retrieval"
)

// pollTimeout is the long-poll timeout in seconds for GetUpdates.
const pollTimeout = 60

// Vietnamese reply texts for the bot commands.
const (
	startText = "Xin chào! Mình là Cô Tiên. Hãy nhắn tin cho mình nhé!"
	helpText  = "Các lệnh:\n" +
		"/start - bắt đầu trò chuyện\n" +
		"/help - xem hướng dẫn\n" +
		"/getid - xem ID của bạn\n" +
		"/train <thông tin> - dạy mình một điều về bạn\n" +
		"/train url=<liên kết> - dạy mình từ một trang web"
	mediaText      = "Mình chỉ hiểu tin nhắn văn bản thôi, bạn nhắn chữ cho mình nhé!"
	trainUsageText = "Bạn hãy dùng: /train <thông tin> hoặc /train url=<liên kết>"
	trainOKText    = "Mình đã ghi nhớ rồi nhé!"
	trainDupText   = "Điều này mình đã biết rồi mà!"
	trainLongText  = "Thông tin dài quá, bạn rút gọn giúp mình nhé!"
	trainFailText  = "Xin lỗi, mình chưa ghi nhớ được, bạn thử lại sau nhé!"
)

// engine is the subset of the retrieval engine the bot calls.
// *retrieval.Engine satisfies it; tests inject a fake.
type engine interface {
	Answer(ctx context.Context, userID, message string) retrieval.Result
	RecordFact(ctx context.Context, userID, info string) (record.TrainingRecord, error)
	TrainFromURL(ctx context.Context, userID, rawURL string) (record.TrainingRecord, error)
}

// sender abstracts the Telegram send API so handlers can be tested without
// a live bot connection.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Bot is the long-polling Telegram front end.
type Bot struct {
	// api is the Telegram Bot API client. Nil in tests.
	api *tgbotapi.BotAPI
	// send delivers outgoing messages.
	send sender
	// engine answers messages and records facts.
	engine engine
	// log is the structured logger for bot events.
	log *slog.Logger
}

// New connects to the Telegram Bot API with the given token.
func New(token string, eng engine, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: connect: %w", err)
	}
	log.Info("telegram: authorized", slog.String("username", api.Self.UserName))
	return &Bot{api: api, send: api, engine: eng, log: log}, nil
}

// Run polls for updates until the context is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeout

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			b.handleMessage(ctx, update.Message)
		}
	}
}

// handleMessage dispatches one incoming message to the matching handler.
func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	userID := strconv.FormatInt(msg.From.ID, 10)

	if msg.Text == "" {
		// Photos, stickers, voice notes. The bot is text-only.
		b.reply(msg.Chat.ID, mediaText)
		return
	}

	if msg.IsCommand() {
		b.handleCommand(ctx, msg, userID)
		return
	}

	res := b.engine.Answer(ctx, userID, msg.Text)
	b.log.Info("telegram: answered",
		slog.String("user_id", userID),
		slog.String("outcome", string(res.Outcome)),
	)
	b.reply(msg.Chat.ID, res.Text)
}

// handleCommand handles /start, /help, /getid and /train.
func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message, userID string) {
	switch msg.Command() {
	case "start":
		b.reply(msg.Chat.ID, startText)
	case "help":
		b.reply(msg.Chat.ID, helpText)
	case "getid":
		b.reply(msg.Chat.ID, fmt.Sprintf("ID của bạn: %s", userID))
	case "train":
		b.handleTrain(ctx, msg, userID)
	default:
		b.reply(msg.Chat.ID, helpText)
	}
}

// handleTrain records a fact from the command arguments, either raw text or
// a url=<link> form that extracts the page's readable text.
func (b *Bot) handleTrain(ctx context.Context, msg *tgbotapi.Message, userID string) {
	args := strings.TrimSpace(msg.CommandArguments())
	if args == "" {
		b.reply(msg.Chat.ID, trainUsageText)
		return
	}

	var err error
	if rawURL, ok := trainURLArg(args); ok {
		_, err = b.engine.TrainFromURL(ctx, userID, rawURL)
	} else {
		_, err = b.engine.RecordFact(ctx, userID, strings.TrimPrefix(args, "text="))
	}

	switch {
	case err == nil:
		b.reply(msg.Chat.ID, trainOKText)
	case errors.Is(err, retrieval.ErrDuplicateFact):
		b.reply(msg.Chat.ID, trainDupText)
	case errors.Is(err, retrieval.ErrFactTooLong):
		b.reply(msg.Chat.ID, trainLongText)
	case errors.Is(err, retrieval.ErrEmptyFact):
		b.reply(msg.Chat.ID, trainUsageText)
	default:
		b.log.Error("telegram: train failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		b.reply(msg.Chat.ID, trainFailText)
	}
}

// trainURLArg reports whether the /train arguments use the url=<link> form.
func trainURLArg(args string) (string, bool) {
	if rest, ok := strings.CutPrefix(args, "url="); ok {
		return strings.TrimSpace(rest), true
	}
	return "", false
}

// reply sends text to the chat, logging delivery failures.
func (b *Bot) reply(chatID int64, text string) {
	out := tgbotapi.NewMessage(chatID, text)
	if _, err := b.send.Send(out); err != nil {
		b.log.Error("telegram: send failed",
			slog.Int64("chat_id", chatID),
			slog.String("error", err.Error()),
		)
	}
}
