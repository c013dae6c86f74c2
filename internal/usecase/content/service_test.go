package content

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pin-affiliate-bot/internal/adapters/captiongen"
	"pin-affiliate-bot/internal/domain"
	"pin-affiliate-bot/internal/infra/retry"
)

type stubImages struct {
	calls    int
	failures int
	failErr  error
	result   domain.ImageResult
	lastReq  domain.ImageRequest
}

func (s *stubImages) Generate(_ context.Context, req domain.ImageRequest) (domain.ImageResult, error) {
	s.calls++
	s.lastReq = req
	if s.failures > 0 {
		s.failures--
		return domain.ImageResult{}, s.failErr
	}
	return s.result, nil
}

type stubTexts struct {
	calls    int
	err      error
	caption  string
	title    string
	hashtags []string
	cost     decimal.Decimal
	tokens   int
}

func (s *stubTexts) Generate(_ context.Context, req domain.TextRequest) (domain.TextResult, error) {
	s.calls++
	if s.err != nil {
		return domain.TextResult{}, s.err
	}
	caption := s.caption
	if caption == "" {
		caption = strings.Repeat("a", req.MinChars)
	}
	title := s.title
	if title == "" {
		title = "Glow Guide"
	}
	hashtags := s.hashtags
	if hashtags == nil {
		hashtags = []string{"skincare", "glow", "beauty"}
	}
	return domain.TextResult{
		Title:      title,
		Caption:    caption,
		Hashtags:   hashtags,
		TokensUsed: s.tokens,
		Cost:       s.cost,
	}, nil
}

type stubLinks struct{}

func (stubLinks) Format(query, niche string) string {
	return "https://www.amazon.com/s?k=" + strings.ReplaceAll(query, " ", "+") + "&tag=test-20"
}

func testConfig() Config {
	return Config{
		Disclosure:     "standard",
		CaptionMin:     180,
		CaptionMax:     220,
		MaxTokens:      200,
		BannedPhrases:  []string{"cure", "miracle", "guaranteed results"},
		TopicBlacklist: []string{"sale", "discount", "free", "cheap", "tutorial", "how to", "diy"},
	}
}

func testRetry() retry.Config {
	return retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func newTestService(t *testing.T, images *stubImages, texts *stubTexts) *Service {
	t.Helper()
	svc, err := NewService(testConfig(), images, texts, captiongen.NewTemplate(), stubLinks{}, testRetry(), zerolog.Nop())
	if err != nil {
		t.Fatalf("не ожидали ошибку создания сервиса: %v", err)
	}
	return svc
}

func TestFilterKeepsNicheTopicsSorted(t *testing.T) {
	svc := newTestService(t, &stubImages{}, &stubTexts{})
	trends := []domain.Trend{
		{Topic: "Curly Hair Care", Score: 800},
		{Topic: "best crypto coins", Score: 900},
		{Topic: "Natural Skincare Routine", Score: 1000},
		{Topic: "lipstick sale", Score: 700},
		{Topic: "how to do makeup", Score: 600},
	}

	filtered := svc.Filter(trends)
	if len(filtered) != 2 {
		t.Fatalf("ожидали две темы после фильтрации, получили %d: %+v", len(filtered), filtered)
	}
	if filtered[0].Topic != "natural skincare routine" || filtered[1].Topic != "curly hair care" {
		t.Fatalf("ожидали нормализованные темы по убыванию балла: %+v", filtered)
	}
	if len(filtered[0].Matches) == 0 {
		t.Fatalf("ожидали совпавшие ключевые слова: %+v", filtered[0])
	}
}

func TestClassifyNicheKeywords(t *testing.T) {
	niche, matches := classifyNiche("vitamin c serum")
	if niche != "skincare" || len(matches) == 0 {
		t.Fatalf("ожидали нишу skincare, получили %q (%v)", niche, matches)
	}
	if niche, _ := classifyNiche("crypto trading"); niche != "" {
		t.Fatalf("тема вне профиля должна остаться без ниши, получили %q", niche)
	}
}

func TestBuildComposesCandidate(t *testing.T) {
	images := &stubImages{result: domain.ImageResult{URL: "https://img.example.com/pin.png", Cost: decimal.RequireFromString("0.04")}}
	texts := &stubTexts{cost: decimal.RequireFromString("0.003"), tokens: 1500}
	svc := newTestService(t, images, texts)

	candidate, usage, err := svc.Build(context.Background(), domain.Trend{Topic: "natural skincare routine"}, domain.BuildOptions{})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if candidate.Niche != "skincare" || candidate.SubNiche != "clean" {
		t.Fatalf("неожиданная классификация: %s/%s", candidate.Niche, candidate.SubNiche)
	}
	length := utf8.RuneCountInString(candidate.Caption)
	if length < 180 || length > 220 {
		t.Fatalf("длина подписи %d вне окна [180, 220]", length)
	}
	if !strings.HasSuffix(candidate.Caption, candidate.Disclosure) {
		t.Fatalf("подпись должна завершаться раскрытием: %q", candidate.Caption)
	}
	if strings.Count(candidate.Caption, candidate.Disclosure) != 1 {
		t.Fatalf("раскрытие должно входить ровно один раз")
	}
	if !strings.Contains(candidate.AffiliateLink, "tag=test-20") {
		t.Fatalf("ссылка без партнёрской метки: %q", candidate.AffiliateLink)
	}
	if candidate.ImageURL != "https://img.example.com/pin.png" || candidate.AltText == "" {
		t.Fatalf("неожиданное изображение: %+v", candidate)
	}
	if !strings.Contains(images.lastReq.Prompt, "earth tones") {
		t.Fatalf("промпт должен собираться из шаблона под-ниши: %q", images.lastReq.Prompt)
	}
	if images.lastReq.Size != "1024x1024" {
		t.Fatalf("разрешение изображения фиксировано: %q", images.lastReq.Size)
	}
	if !usage.ImageCost.Equal(decimal.RequireFromString("0.04")) || !usage.TextCost.Equal(decimal.RequireFromString("0.003")) {
		t.Fatalf("неожиданная стоимость сборки: %+v", usage)
	}
	if usage.TextTokens != 1500 {
		t.Fatalf("ожидали 1500 токенов, получили %d", usage.TextTokens)
	}
}

func TestBuildRetriesTransientImageFailure(t *testing.T) {
	images := &stubImages{
		failures: 1,
		failErr:  fmt.Errorf("imagegen: 429: %w", domain.ErrRetryable),
		result:   domain.ImageResult{URL: "https://img.example.com/pin.png", Cost: decimal.RequireFromString("0.04")},
	}
	svc := newTestService(t, images, &stubTexts{})

	_, _, err := svc.Build(context.Background(), domain.Trend{Topic: "glow serum"}, domain.BuildOptions{})
	if err != nil {
		t.Fatalf("не ожидали ошибку после повтора: %v", err)
	}
	if images.calls != 2 {
		t.Fatalf("ожидали два вызова генерации, получили %d", images.calls)
	}
}

func TestBuildImageFailureCarriesStage(t *testing.T) {
	images := &stubImages{
		failures: 10,
		failErr:  fmt.Errorf("imagegen: 400: %w", domain.ErrFatalExternal),
	}
	svc := newTestService(t, images, &stubTexts{})

	_, usage, err := svc.Build(context.Background(), domain.Trend{Topic: "glow serum"}, domain.BuildOptions{})
	var genErr *domain.GenerationError
	if !errors.As(err, &genErr) || genErr.Stage != domain.StageImage {
		t.Fatalf("ожидали ошибку стадии изображения, получили %v", err)
	}
	if images.calls != 1 {
		t.Fatalf("фатальная ошибка не должна повторяться, вызовов %d", images.calls)
	}
	if !usage.ImageCost.IsZero() || !usage.TextCost.IsZero() {
		t.Fatalf("неудавшаяся сборка не должна нести стоимость: %+v", usage)
	}
}

func TestBuildCaptionFailureKeepsImageCost(t *testing.T) {
	images := &stubImages{result: domain.ImageResult{URL: "https://img.example.com/pin.png", Cost: decimal.RequireFromString("0.04")}}
	texts := &stubTexts{err: fmt.Errorf("captiongen: 500: %w", domain.ErrRetryable)}
	svc := newTestService(t, images, texts)

	_, usage, err := svc.Build(context.Background(), domain.Trend{Topic: "glow serum"}, domain.BuildOptions{})
	var genErr *domain.GenerationError
	if !errors.As(err, &genErr) || genErr.Stage != domain.StageCaption {
		t.Fatalf("ожидали ошибку стадии подписи, получили %v", err)
	}
	if texts.calls != 3 {
		t.Fatalf("временная ошибка должна повторяться до исчерпания попыток, вызовов %d", texts.calls)
	}
	if !usage.ImageCost.Equal(decimal.RequireFromString("0.04")) {
		t.Fatalf("стоимость удавшегося изображения должна сохраниться: %+v", usage)
	}
	if !usage.TextCost.IsZero() {
		t.Fatalf("стоимость неудавшегося текста должна быть нулевой: %+v", usage)
	}
}

func TestBuildRejectsBannedPhrase(t *testing.T) {
	images := &stubImages{result: domain.ImageResult{URL: "https://img.example.com/pin.png", Cost: decimal.RequireFromString("0.04")}}
	texts := &stubTexts{caption: "This Miracle routine " + strings.Repeat("a", 110)}
	svc := newTestService(t, images, texts)

	_, usage, err := svc.Build(context.Background(), domain.Trend{Topic: "glow serum"}, domain.BuildOptions{})
	var compErr *domain.ComplianceError
	if !errors.As(err, &compErr) || compErr.Rule != "banned_phrase" {
		t.Fatalf("ожидали отклонение по запрещённой фразе, получили %v", err)
	}
	// Платные вызовы уже случились, их стоимость остаётся в отчёте сборки.
	if !usage.ImageCost.Equal(decimal.RequireFromString("0.04")) {
		t.Fatalf("стоимость изображения должна сохраниться: %+v", usage)
	}
}

func TestBuildRejectsCaptionOutOfBounds(t *testing.T) {
	images := &stubImages{result: domain.ImageResult{URL: "https://img.example.com/pin.png"}}
	texts := &stubTexts{caption: "too short"}
	svc := newTestService(t, images, texts)

	_, _, err := svc.Build(context.Background(), domain.Trend{Topic: "glow serum"}, domain.BuildOptions{})
	var compErr *domain.ComplianceError
	if !errors.As(err, &compErr) || compErr.Rule != "caption_length" {
		t.Fatalf("ожидали отклонение по длине подписи, получили %v", err)
	}
}

func TestBuildRejectsBadHashtagCount(t *testing.T) {
	images := &stubImages{result: domain.ImageResult{URL: "https://img.example.com/pin.png"}}
	texts := &stubTexts{hashtags: []string{"skincare", "glow"}}
	svc := newTestService(t, images, texts)

	_, _, err := svc.Build(context.Background(), domain.Trend{Topic: "glow serum"}, domain.BuildOptions{})
	var compErr *domain.ComplianceError
	if !errors.As(err, &compErr) || compErr.Rule != "hashtags" {
		t.Fatalf("ожидали отклонение по числу хештегов, получили %v", err)
	}
}

func TestBuildRejectsTopicOutsideNiches(t *testing.T) {
	svc := newTestService(t, &stubImages{}, &stubTexts{})

	_, _, err := svc.Build(context.Background(), domain.Trend{Topic: "crypto trading"}, domain.BuildOptions{})
	var compErr *domain.ComplianceError
	if !errors.As(err, &compErr) || compErr.Rule != "niche" {
		t.Fatalf("ожидали отклонение вне ниш, получили %v", err)
	}
}

func TestBuildTemplateCaptionSkipsPaidTextCall(t *testing.T) {
	images := &stubImages{result: domain.ImageResult{URL: "https://img.example.com/pin.png", Cost: decimal.RequireFromString("0.04")}}
	texts := &stubTexts{}
	svc := newTestService(t, images, texts)

	candidate, usage, err := svc.Build(context.Background(), domain.Trend{Topic: "natural skincare routine"}, domain.BuildOptions{TemplateCaption: true})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if texts.calls != 0 {
		t.Fatalf("платный текстовый бэкенд не должен вызываться, вызовов %d", texts.calls)
	}
	if !usage.TextCost.IsZero() {
		t.Fatalf("шаблонная подпись должна быть бесплатной: %+v", usage)
	}
	length := utf8.RuneCountInString(candidate.Caption)
	if length < 180 || length > 220 {
		t.Fatalf("длина шаблонной подписи %d вне окна [180, 220]", length)
	}
}
