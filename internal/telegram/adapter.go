package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/adaptivechat/internal/chat"
	"github.com/user/adaptivechat/internal/dispatch"
	"github.com/user/adaptivechat/internal/gateway"
	"github.com/user/adaptivechat/internal/types"
)

const maxTelegramMessage = 4096

const (
	callbackConfirm = "confirm"
	callbackDecline = "decline"
)

// botClient is the part of the Bot API the adapter sends through.
type botClient interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Adapter bridges Telegram to the gateway.
type Adapter struct {
	bot     *tgbotapi.BotAPI
	client  botClient
	gateway *gateway.Gateway
}

// New creates a Telegram adapter.
func New(token string, gw *gateway.Gateway) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return &Adapter{bot: bot, client: bot, gateway: gw}, nil
}

// Start begins long-polling for Telegram updates.
func (a *Adapter) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := a.bot.GetUpdatesChan(u)

	for {
		select {
		case update := <-updates:
			switch {
			case update.CallbackQuery != nil:
				a.handleCallback(ctx, update.CallbackQuery)
			case update.Message != nil && update.Message.Text != "":
				a.handleMessage(ctx, update.Message)
			}
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			return
		}
	}
}

func (a *Adapter) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.IsCommand() {
		a.handleCommand(ctx, msg)
		return
	}

	chatID := msg.Chat.ID
	key := buildConversationKey(msg.From.ID, chatID)

	// a new message declines any open question
	if a.gateway.Conversation(key).Snapshot().Question != nil {
		if err := a.gateway.Conversation(key).Decline(); err == nil {
			slog.Debug("declined pending question", "conversation", string(key))
		}
	}

	event := &types.InboundEvent{
		Source: "telegram",
		Key:    key,
		UserID: strconv.FormatInt(msg.From.ID, 10),
		Text:   msg.Text,
	}
	err := a.gateway.HandleInbound(ctx, event,
		gateway.WithOnQuestion(func(q *dispatch.Question) {
			a.sendQuestion(chatID, q)
		}),
		gateway.WithOnComplete(func(snap chat.Snapshot) {
			if reply := formatReply(snap); reply != "" {
				a.sendResponse(chatID, reply)
			}
		}),
		gateway.WithOnError(func(err error) {
			a.sendResponse(chatID, "Sorry, something went wrong processing your message.")
		}),
	)
	if err != nil {
		slog.Error("handle inbound", "conversation", string(key), "error", err)
		a.sendResponse(chatID, "Sorry, I encountered an error processing your message.")
	}
}

func (a *Adapter) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil || cb.From == nil {
		return
	}
	key := buildConversationKey(cb.From.ID, cb.Message.Chat.ID)
	conv := a.gateway.Conversation(key)

	var err error
	answer := "On it."
	switch cb.Data {
	case callbackConfirm:
		err = conv.Confirm()
	case callbackDecline:
		err = conv.Decline()
		answer = "Okay, I'll leave it there."
	default:
		return
	}
	if err != nil {
		answer = "That question has expired."
	}

	if _, err := a.client.Request(tgbotapi.NewCallback(cb.ID, answer)); err != nil {
		slog.Warn("answer callback", "error", err)
	}
	markup := tgbotapi.NewEditMessageReplyMarkup(cb.Message.Chat.ID, cb.Message.MessageID, tgbotapi.InlineKeyboardMarkup{
		InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{},
	})
	if _, err := a.client.Request(markup); err != nil {
		slog.Debug("clear keyboard", "error", err)
	}
}

func (a *Adapter) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	key := buildConversationKey(msg.From.ID, chatID)

	switch msg.Command() {
	case "start":
		a.sendResponse(chatID, "Hello! Ask me anything. Quick questions get a quick answer; bigger tasks go to the agent.")

	case "new":
		a.gateway.Cancel(key)
		if err := a.gateway.Reset(ctx, key); err != nil {
			a.sendResponse(chatID, "Can't start a new conversation while a message is in flight. Try /stop first.")
			return
		}
		a.sendResponse(chatID, "Starting a new conversation.")

	case "stop":
		a.gateway.Cancel(key)
		a.sendResponse(chatID, "Stopped.")

	case "status":
		snap := a.gateway.Conversation(key).Snapshot()
		thread := string(snap.ThreadID)
		if thread == "" {
			thread = "(new)"
		}
		a.sendResponse(chatID, fmt.Sprintf("Thread: %s\nMessages: %d\nState: %s", thread, len(snap.Messages), snap.State))

	default:
		a.sendResponse(chatID, "Unknown command. Available: /start, /new, /stop, /status")
	}
}

func (a *Adapter) sendQuestion(chatID int64, q *dispatch.Question) {
	msg := tgbotapi.NewMessage(chatID, q.Prompt)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData(q.YesLabel, callbackConfirm),
		tgbotapi.NewInlineKeyboardButtonData(q.NoLabel, callbackDecline),
	))
	if _, err := a.client.Send(msg); err != nil {
		slog.Error("send question", "error", err)
	}
}

func (a *Adapter) sendResponse(chatID int64, text string) {
	parts := splitMessage(text)
	for _, part := range parts {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = "Markdown"
		if _, err := a.client.Send(msg); err != nil {
			// Retry without markdown if it fails
			msg.ParseMode = ""
			if _, err := a.client.Send(msg); err != nil {
				slog.Error("send message", "error", err)
			}
		}
	}
}

// formatReply renders the assistant's answer to the latest user message. A
// failed stream shows its partial content followed by the error.
func formatReply(snap chat.Snapshot) string {
	if len(snap.Messages) == 0 {
		return ""
	}
	last := snap.Messages[len(snap.Messages)-1]
	if last.Role != types.RoleAssistant {
		if snap.StreamError != "" && snap.StreamError != dispatch.CancelledReason {
			return "Sorry, that failed: " + snap.StreamError
		}
		return ""
	}
	switch snap.StreamError {
	case "":
		return last.Content
	case dispatch.CancelledReason:
		return last.Content + "\n\n(stopped)"
	default:
		return last.Content + "\n\n(error: " + snap.StreamError + ")"
	}
}

// splitMessage cuts text into Telegram-sized parts without splitting a rune.
func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		end := maxTelegramMessage
		if end >= len(text) {
			end = len(text)
		} else {
			for end > 0 && !utf8.RuneStart(text[end]) {
				end--
			}
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	return parts
}

func buildConversationKey(userID, chatID int64) types.ConversationKey {
	return types.NewConversationKey("telegram",
		strconv.FormatInt(userID, 10),
		strconv.FormatInt(chatID, 10),
	)
}
