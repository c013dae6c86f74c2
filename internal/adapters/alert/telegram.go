package alert

import (
	"context"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"pin-affiliate-bot/internal/domain"
	"pin-affiliate-bot/internal/infra/metrics"
)

// Telegram не принимает сообщения длиннее 4096 символов.
const messageLimit = 4096

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram отправляет оповещения оператору в личный чат.
type Telegram struct {
	bot    sender
	chatID int64
	log    zerolog.Logger
}

// NewTelegram создаёт канал оповещений.
func NewTelegram(bot sender, chatID int64, log zerolog.Logger) *Telegram {
	return &Telegram{bot: bot, chatID: chatID, log: log}
}

var severityBadges = map[domain.Severity]string{
	domain.SeverityInfo:     "ℹ️",
	domain.SeverityWarning:  "⚠️",
	domain.SeverityCritical: "🚨",
}

// Notify отправляет сообщение оператору. Длинные сообщения, например
// развёрнутые цепочки ошибок, режутся на части в пределах лимита.
// Ошибка доставки не прерывает пайплайн и только пишется в журнал.
func (t *Telegram) Notify(_ context.Context, message string, severity domain.Severity) {
	badge := severityBadges[severity]
	if badge == "" {
		badge = severityBadges[domain.SeverityInfo]
	}
	for _, part := range chunk(badge + " " + message) {
		msg := tgbotapi.NewMessage(t.chatID, part)
		start := time.Now()
		_, err := t.bot.Send(msg)
		metrics.ObserveNetworkRequest("telegram_bot", "send_alert", strconv.FormatInt(t.chatID, 10), start, err)
		if err != nil {
			t.log.Error().Err(err).Msg("не удалось отправить оповещение")
			return
		}
	}
}

// chunk режет текст на куски не длиннее лимита, предпочитая границы строк.
func chunk(text string) []string {
	runes := []rune(text)
	if len(runes) <= messageLimit {
		return []string{text}
	}

	var parts []string
	for start := 0; start < len(runes); {
		end := start + messageLimit
		if end >= len(runes) {
			end = len(runes)
		} else {
			for i := end; i > start; i-- {
				if runes[i-1] == '\n' {
					end = i
					break
				}
			}
		}
		part := strings.Trim(string(runes[start:end]), "\n")
		if part != "" {
			parts = append(parts, part)
		}
		start = end
		for start < len(runes) && runes[start] == '\n' {
			start++
		}
	}
	return parts
}

var _ domain.AlertChannel = (*Telegram)(nil)
