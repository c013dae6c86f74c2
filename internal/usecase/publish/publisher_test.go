package publish

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"pin-affiliate-bot/internal/domain"
	"pin-affiliate-bot/internal/infra/retry"
)

type stubAPI struct {
	calls    int
	payloads []domain.PinPayload
	errs     []error
	id       string
}

func (s *stubAPI) CreatePin(_ context.Context, payload domain.PinPayload) (string, error) {
	idx := s.calls
	s.calls++
	s.payloads = append(s.payloads, payload)
	if idx < len(s.errs) && s.errs[idx] != nil {
		return "", s.errs[idx]
	}
	return s.id, nil
}

type stubRefresher struct {
	calls int
	err   error
}

func (s *stubRefresher) Refresh(context.Context) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return "pina_refreshed_token_0123456789abcdef", nil
}

func testCandidate() domain.PostCandidate {
	return domain.PostCandidate{
		Topic:         "natural skincare routine",
		Title:         "Natural Skincare Routine: Glow Guide",
		Caption:       "Morning glow starts here.\n\nAs an Amazon Associate I earn from qualifying purchases.",
		ImageURL:      "https://img.example.com/pin.png",
		AltText:       "natural skincare routine, flat lay",
		AffiliateLink: "https://www.amazon.com/s?k=skincare&tag=test-20",
		Hashtags:      []string{"skincare", "glow", "selfcare"},
		Niche:         "skincare",
	}
}

func newTestService(api *stubAPI, refresher domain.TokenRefresher) *Service {
	cfg := Config{BoardID: "board-1"}
	retryCfg := retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	return NewService(cfg, api, refresher, retryCfg, zerolog.Nop())
}

func TestPublishComposesPayload(t *testing.T) {
	api := &stubAPI{id: "812345"}
	svc := newTestService(api, &stubRefresher{})

	pinID, err := svc.Publish(context.Background(), testCandidate())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if pinID != "812345" {
		t.Fatalf("ожидали идентификатор 812345, получили %q", pinID)
	}
	if len(api.payloads) != 1 {
		t.Fatalf("ожидали один вызов создания пина, получили %d", len(api.payloads))
	}
	payload := api.payloads[0]
	if payload.BoardID != "board-1" {
		t.Fatalf("доска должна браться из конфигурации: %q", payload.BoardID)
	}
	wantDesc := testCandidate().Caption + "\n\n#skincare #glow #selfcare"
	if payload.Description != wantDesc {
		t.Fatalf("неожиданное описание:\n%q\nожидали:\n%q", payload.Description, wantDesc)
	}
	if payload.Link != testCandidate().AffiliateLink || payload.ImageURL != testCandidate().ImageURL {
		t.Fatalf("неожиданный payload: %+v", payload)
	}
	if payload.AltText != testCandidate().AltText {
		t.Fatalf("альтернативный текст должен переноситься: %q", payload.AltText)
	}
}

func TestPublishRetriesTransientError(t *testing.T) {
	api := &stubAPI{
		id:   "812345",
		errs: []error{fmt.Errorf("pinterest: 503: %w", domain.ErrRetryable)},
	}
	svc := newTestService(api, &stubRefresher{})

	if _, err := svc.Publish(context.Background(), testCandidate()); err != nil {
		t.Fatalf("не ожидали ошибку после повтора: %v", err)
	}
	if api.calls != 2 {
		t.Fatalf("ожидали два вызова, получили %d", api.calls)
	}
}

func TestPublishExhaustsRetries(t *testing.T) {
	transient := fmt.Errorf("pinterest: 429: %w", domain.ErrRetryable)
	api := &stubAPI{errs: []error{transient, transient, transient}}
	svc := newTestService(api, &stubRefresher{})

	_, err := svc.Publish(context.Background(), testCandidate())
	if !errors.Is(err, domain.ErrRetryable) {
		t.Fatalf("ожидали классифицированную временную ошибку, получили %v", err)
	}
	if api.calls != 3 {
		t.Fatalf("ожидали три попытки, получили %d", api.calls)
	}
}

func TestPublishFatalNotRetried(t *testing.T) {
	api := &stubAPI{errs: []error{fmt.Errorf("pinterest: 400: %w", domain.ErrFatalExternal)}}
	svc := newTestService(api, &stubRefresher{})

	_, err := svc.Publish(context.Background(), testCandidate())
	if !errors.Is(err, domain.ErrFatalExternal) {
		t.Fatalf("ожидали фатальную ошибку, получили %v", err)
	}
	if api.calls != 1 {
		t.Fatalf("фатальная ошибка не должна повторяться, вызовов %d", api.calls)
	}
}

func TestPublishRefreshesRejectedToken(t *testing.T) {
	api := &stubAPI{
		id:   "812345",
		errs: []error{fmt.Errorf("pinterest: 401: %w", domain.ErrUnauthorized)},
	}
	refresher := &stubRefresher{}
	svc := newTestService(api, refresher)

	pinID, err := svc.Publish(context.Background(), testCandidate())
	if err != nil {
		t.Fatalf("не ожидали ошибку после обновления токена: %v", err)
	}
	if pinID != "812345" {
		t.Fatalf("ожидали идентификатор 812345, получили %q", pinID)
	}
	if refresher.calls != 1 {
		t.Fatalf("ожидали одно обновление токена, получили %d", refresher.calls)
	}
	if api.calls != 2 {
		t.Fatalf("ожидали повторную отправку после обновления, вызовов %d", api.calls)
	}
}

func TestPublishSecondRejectionFatal(t *testing.T) {
	unauthorized := fmt.Errorf("pinterest: 401: %w", domain.ErrUnauthorized)
	api := &stubAPI{errs: []error{unauthorized, unauthorized}}
	refresher := &stubRefresher{}
	svc := newTestService(api, refresher)

	_, err := svc.Publish(context.Background(), testCandidate())
	if !errors.Is(err, domain.ErrFatalExternal) {
		t.Fatalf("повторный отказ токена должен быть фатальным, получили %v", err)
	}
	if refresher.calls != 1 {
		t.Fatalf("обновление выполняется один раз, получили %d", refresher.calls)
	}
	if api.calls != 2 {
		t.Fatalf("ожидали два вызова создания пина, получили %d", api.calls)
	}
}

func TestPublishWithoutRefresherFatal(t *testing.T) {
	api := &stubAPI{errs: []error{fmt.Errorf("pinterest: 401: %w", domain.ErrUnauthorized)}}
	svc := newTestService(api, nil)

	_, err := svc.Publish(context.Background(), testCandidate())
	if !errors.Is(err, domain.ErrFatalExternal) {
		t.Fatalf("без обновителя отказ токена фатален, получили %v", err)
	}
	if api.calls != 1 {
		t.Fatalf("ожидали один вызов, получили %d", api.calls)
	}
}
