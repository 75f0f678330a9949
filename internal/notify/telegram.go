package notify

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// TelegramSink pushes events to one Telegram chat.
type TelegramSink struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegramSink connects to the bot API and verifies the token.
func NewTelegramSink(token string, chatID int64) (*TelegramSink, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram token not set")
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	log.Info().Str("username", api.Self.UserName).Msg("🤖 Telegram notifications enabled")
	return &TelegramSink{api: api, chatID: chatID}, nil
}

// Deliver sends one event as a Markdown message.
func (t *TelegramSink) Deliver(ev Event) {
	msg := tgbotapi.NewMessage(t.chatID, format(ev))
	msg.ParseMode = tgbotapi.ModeMarkdown

	if _, err := t.api.Send(msg); err != nil {
		log.Warn().Err(err).Str("kind", string(ev.Kind)).Msg("Failed to send Telegram message")
	}
}

func format(ev Event) string {
	emoji := map[EventKind]string{
		EventTrade:          "✅",
		EventProfit:         "💰",
		EventError:          "⚠️",
		EventWarning:        "🔶",
		EventSummary:        "📊",
		EventCircuitBreaker: "🚨",
		EventStatusChange:   "🔄",
		EventBotStopped:     "🛑",
	}[ev.Kind]
	if emoji == "" {
		emoji = "📌"
	}

	header := fmt.Sprintf("%s *%s*", emoji, ev.Title)
	if ev.BotName != "" {
		header += fmt.Sprintf("\n🤖 %s", ev.BotName)
	}
	if ev.Body == "" {
		return header
	}
	return header + "\n\n" + ev.Body
}

// LogSink mirrors every event into the structured log. Registered always so
// notifications survive even with no Telegram configured.
type LogSink struct{}

func (LogSink) Deliver(ev Event) {
	log.Info().
		Str("kind", string(ev.Kind)).
		Str("bot", ev.BotName).
		Str("title", ev.Title).
		Msg("🔔 " + ev.Body)
}
