package publish

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/failsafe-go/failsafe-go"
	"github.com/rs/zerolog"

	"pin-affiliate-bot/internal/domain"
	"pin-affiliate-bot/internal/infra/metrics"
	"pin-affiliate-bot/internal/infra/retry"
)

// Config задаёт назначение публикации. Доску выбирает оператор, адаптер
// платформы отклонит пустую при реальной отправке.
type Config struct {
	BoardID        string
	BoardSectionID string
}

// Service публикует собранных кандидатов. Временные сбои платформы
// повторяются с экспоненциальной задержкой, отклонённый токен один раз
// обновляется, остальные ошибки возвращаются сразу.
type Service struct {
	cfg       Config
	api       domain.PublishingAPI
	refresher domain.TokenRefresher
	exec      failsafe.Executor[string]
	log       zerolog.Logger
}

// NewService создаёт сервис публикации. refresher может быть nil: тогда
// отклонённый токен сразу считается фатальной ошибкой.
func NewService(cfg Config, api domain.PublishingAPI, refresher domain.TokenRefresher, retryCfg retry.Config, log zerolog.Logger) *Service {
	return &Service{
		cfg:       cfg,
		api:       api,
		refresher: refresher,
		exec: retry.NewExecutor[string](retryCfg, func(_ string, err error) bool {
			return errors.Is(err, domain.ErrRetryable)
		}),
		log: log.With().Str("component", "publish").Logger(),
	}
}

// Publish отправляет кандидата на платформу и возвращает идентификатор
// созданного пина. Возвращаемая ошибка классифицирована: ErrRetryable
// после исчерпания повторов либо ErrFatalExternal.
func (s *Service) Publish(ctx context.Context, candidate domain.PostCandidate) (string, error) {
	payload := domain.PinPayload{
		Title:          candidate.Title,
		Description:    description(candidate),
		Link:           candidate.AffiliateLink,
		BoardID:        s.cfg.BoardID,
		BoardSectionID: s.cfg.BoardSectionID,
		ImageURL:       candidate.ImageURL,
		AltText:        candidate.AltText,
	}

	refreshed := false
	pinID, err := retry.Do(ctx, s.exec, func() (string, error) {
		id, err := s.api.CreatePin(ctx, payload)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, domain.ErrUnauthorized) {
			return "", err
		}
		if s.refresher == nil {
			return "", fmt.Errorf("токен отклонён, обновление не настроено: %w", domain.ErrFatalExternal)
		}
		if refreshed {
			return "", fmt.Errorf("токен отклонён повторно: %w", domain.ErrFatalExternal)
		}
		s.log.Warn().Str("topic", candidate.Topic).Msg("токен публикации отклонён, обновляем")
		if _, err := s.refresher.Refresh(ctx); err != nil {
			return "", fmt.Errorf("обновление токена: %w", err)
		}
		refreshed = true
		id, err = s.api.CreatePin(ctx, payload)
		if err == nil {
			return id, nil
		}
		if errors.Is(err, domain.ErrUnauthorized) {
			return "", fmt.Errorf("токен отклонён после обновления: %w", domain.ErrFatalExternal)
		}
		return "", err
	})
	if err != nil {
		s.log.Warn().Err(err).Str("topic", candidate.Topic).Msg("публикация не удалась")
		return "", fmt.Errorf("публикация %q: %w", candidate.Topic, err)
	}

	metrics.PostsPublishedTotal.Inc()
	s.log.Info().
		Str("pin_id", pinID).
		Str("topic", candidate.Topic).
		Str("niche", candidate.Niche).
		Msg("пин опубликован")
	return pinID, nil
}

// description собирает тело пина: подпись с раскрытием, пустая строка,
// строка хэштегов.
func description(c domain.PostCandidate) string {
	line := hashtagLine(c.Hashtags)
	if line == "" {
		return c.Caption
	}
	return c.Caption + "\n\n" + line
}

func hashtagLine(tags []string) string {
	parts := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(strings.TrimPrefix(tag, "#"))
		if tag == "" {
			continue
		}
		parts = append(parts, "#"+tag)
	}
	return strings.Join(parts, " ")
}

var _ domain.Publisher = (*Service)(nil)
