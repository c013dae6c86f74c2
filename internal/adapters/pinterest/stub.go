package pinterest

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"pin-affiliate-bot/internal/domain"
)

// Stub имитирует платформу публикации в режиме dry-run: пины не
// отправляются, содержимое пишется в журнал.
type Stub struct {
	log zerolog.Logger
}

// NewStub создаёт заглушку.
func NewStub(logger zerolog.Logger) *Stub {
	return &Stub{log: logger}
}

// CreatePin пишет содержимое пина в журнал и возвращает сгенерированный
// идентификатор.
func (s *Stub) CreatePin(_ context.Context, payload domain.PinPayload) (string, error) {
	id := "dry-" + uuid.NewString()
	s.log.Info().
		Str("pin_id", id).
		Str("board_id", payload.BoardID).
		Str("title", payload.Title).
		Str("link", payload.Link).
		Str("description", strings.ReplaceAll(payload.Description, "\n", " ")).
		Msg("dry-run: пин не отправлен")
	return id, nil
}

// Refresh возвращает фиктивный токен.
func (s *Stub) Refresh(_ context.Context) (string, error) {
	token := "pina_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	s.log.Info().Msg("dry-run: токен не обновлялся")
	return token, nil
}

var _ domain.PublishingAPI = (*Stub)(nil)
var _ domain.TokenRefresher = (*Stub)(nil)
