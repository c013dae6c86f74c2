package alert

import (
	"context"

	"github.com/rs/zerolog"

	"pin-affiliate-bot/internal/domain"
)

// Log пишет оповещения в журнал. Используется, когда Telegram не настроен
// и в режиме dry-run.
type Log struct {
	log zerolog.Logger
}

// NewLog создаёт журнальный канал оповещений.
func NewLog(logger zerolog.Logger) *Log {
	return &Log{log: logger}
}

// Notify пишет оповещение с уровнем, соответствующим важности.
func (l *Log) Notify(_ context.Context, message string, severity domain.Severity) {
	event := l.log.Info()
	switch severity {
	case domain.SeverityWarning:
		event = l.log.Warn()
	case domain.SeverityCritical:
		event = l.log.Error()
	}
	event.Str("severity", string(severity)).Msg(message)
}

var _ domain.AlertChannel = (*Log)(nil)
