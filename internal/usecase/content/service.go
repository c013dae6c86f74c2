package content

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/failsafe-go/failsafe-go"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pin-affiliate-bot/internal/domain"
	"pin-affiliate-bot/internal/infra/metrics"
	"pin-affiliate-bot/internal/infra/retry"
)

// captionSeparator отделяет сгенерированную подпись от раскрытия.
const captionSeparator = "\n\n"

// Service собирает кандидата поста из тренда: фильтрация тем, генерация
// изображения и текста, компоновка и проверка правил. Каждый платный вызов
// повторяется при временных сбоях; правила проверяются один раз над
// готовым кандидатом и при нарушении отклоняют его целиком.
type Service struct {
	cfg      Config
	images   domain.ImageBackend
	texts    domain.TextBackend
	template domain.TextBackend
	links    domain.AffiliateLinkFormatter
	log      zerolog.Logger
	now      func() time.Time

	imageExec failsafe.Executor[domain.ImageResult]
	textExec  failsafe.Executor[domain.TextResult]
}

// NewService создаёт конвейер контента.
func NewService(
	cfg Config,
	images domain.ImageBackend,
	texts domain.TextBackend,
	template domain.TextBackend,
	links domain.AffiliateLinkFormatter,
	retryCfg retry.Config,
	log zerolog.Logger,
) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("конфигурация контента: %w", err)
	}
	retryTransient := func(err error) bool {
		return errors.Is(err, domain.ErrRetryable)
	}
	return &Service{
		cfg:      cfg,
		images:   images,
		texts:    texts,
		template: template,
		links:    links,
		log:      log,
		now:      time.Now,
		imageExec: retry.NewExecutor[domain.ImageResult](retryCfg, func(_ domain.ImageResult, err error) bool {
			return retryTransient(err)
		}),
		textExec: retry.NewExecutor[domain.TextResult](retryCfg, func(_ domain.TextResult, err error) bool {
			return retryTransient(err)
		}),
	}, nil
}

// Filter отсеивает темы вне ниш и из чёрного списка, нормализует регистр и
// сортирует по убыванию популярности.
func (s *Service) Filter(trends []domain.Trend) []domain.Trend {
	out := make([]domain.Trend, 0, len(trends))
	for _, trend := range trends {
		topic := strings.ToLower(strings.TrimSpace(trend.Topic))
		if topic == "" {
			continue
		}
		if phrase, banned := s.blacklisted(topic); banned {
			s.log.Debug().Str("topic", topic).Str("phrase", phrase).Msg("тема отсеяна чёрным списком")
			continue
		}
		niche, matches := classifyNiche(topic)
		if niche == "" {
			continue
		}
		trend.Topic = topic
		trend.Matches = matches
		out = append(out, trend)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// Build собирает кандидата: партнёрская ссылка, изображение, текст,
// раскрытие, проверка правил. Ошибка генерации несёт стадию неудавшегося
// вызова, BuildUsage всегда отражает фактически потраченное.
func (s *Service) Build(ctx context.Context, trend domain.Trend, opts domain.BuildOptions) (*domain.PostCandidate, domain.BuildUsage, error) {
	usage := domain.BuildUsage{ImageCost: decimal.Zero, TextCost: decimal.Zero}

	topic := strings.ToLower(strings.TrimSpace(trend.Topic))
	niche, matches := classifyNiche(topic)
	if niche == "" {
		return nil, usage, s.reject(&domain.ComplianceError{Rule: "niche", Detail: fmt.Sprintf("тема %q вне ниш аккаунта", topic)})
	}
	subNiche, visual := identifySubNiche(topic)
	disclosure, ok := DisclosureText(s.cfg.Disclosure)
	if !ok {
		return nil, usage, fmt.Errorf("неизвестный вариант раскрытия %q", s.cfg.Disclosure)
	}
	link := s.links.Format(topic, niche)

	imageReq := domain.ImageRequest{
		Prompt:  buildImagePrompt(topic, visual),
		Size:    "1024x1024",
		Quality: "standard",
	}
	imageResult, err := retry.Do(ctx, s.imageExec, func() (domain.ImageResult, error) {
		return s.images.Generate(ctx, imageReq)
	})
	if err != nil {
		return nil, usage, &domain.GenerationError{Stage: domain.StageImage, Err: err}
	}
	usage.ImageCost = imageResult.Cost

	overhead := utf8.RuneCountInString(disclosure) + len(captionSeparator)
	textReq := domain.TextRequest{
		Topic:     topic,
		Niche:     niche,
		SubNiche:  subNiche,
		Keywords:  matches,
		MinChars:  s.cfg.CaptionMin - overhead,
		MaxChars:  s.cfg.CaptionMax - overhead,
		MaxTokens: s.cfg.MaxTokens,
	}
	var textResult domain.TextResult
	if opts.TemplateCaption {
		textResult, err = s.template.Generate(ctx, textReq)
	} else {
		textResult, err = retry.Do(ctx, s.textExec, func() (domain.TextResult, error) {
			return s.texts.Generate(ctx, textReq)
		})
	}
	if err != nil {
		return nil, usage, &domain.GenerationError{Stage: domain.StageCaption, Err: err}
	}
	usage.TextCost = textResult.Cost
	usage.TextTokens = textResult.TokensUsed

	candidate := &domain.PostCandidate{
		Topic:         topic,
		Title:         strings.TrimSpace(textResult.Title),
		Caption:       strings.TrimSpace(textResult.Caption) + captionSeparator + disclosure,
		ImageURL:      imageResult.URL,
		AltText:       altText(topic, visual),
		AffiliateLink: link,
		Disclosure:    disclosure,
		Hashtags:      textResult.Hashtags,
		Niche:         niche,
		SubNiche:      subNiche,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.validate(candidate); err != nil {
		return nil, usage, err
	}
	return candidate, usage, nil
}

// validate проверяет готового кандидата по правилам компоновки. Кандидат с
// любым нарушением отклоняется целиком, частичные исправления запрещены.
func (s *Service) validate(c *domain.PostCandidate) error {
	if c.Title == "" {
		return s.reject(&domain.ComplianceError{Rule: "title", Detail: "пустой заголовок"})
	}
	length := utf8.RuneCountInString(c.Caption)
	if length < s.cfg.CaptionMin || length > s.cfg.CaptionMax {
		return s.reject(&domain.ComplianceError{
			Rule:   "caption_length",
			Detail: fmt.Sprintf("длина %d вне окна [%d, %d]", length, s.cfg.CaptionMin, s.cfg.CaptionMax),
		})
	}
	if strings.Count(c.Caption, c.Disclosure) != 1 {
		return s.reject(&domain.ComplianceError{Rule: "disclosure", Detail: "раскрытие должно входить в подпись ровно один раз"})
	}
	if n := len(c.Hashtags); n < 3 || n > 5 {
		return s.reject(&domain.ComplianceError{Rule: "hashtags", Detail: fmt.Sprintf("%d хештегов вне диапазона [3, 5]", n)})
	}
	for _, phrase := range s.cfg.BannedPhrases {
		phrase = strings.TrimSpace(phrase)
		if phrase == "" {
			continue
		}
		if containsFold(c.Caption, phrase) || containsFold(c.Title, phrase) {
			return s.reject(&domain.ComplianceError{Rule: "banned_phrase", Detail: phrase})
		}
	}
	return nil
}

func (s *Service) reject(err *domain.ComplianceError) error {
	metrics.IncComplianceReject(err.Rule)
	s.log.Info().Str("rule", err.Rule).Str("detail", err.Detail).Msg("кандидат отклонён правилами")
	return err
}

// blacklisted сверяет тему с чёрным списком: фразы с пробелом ищутся как
// подстрока, одиночные слова сравниваются по словам темы, чтобы "free" не
// задевал "oil-free".
func (s *Service) blacklisted(topic string) (string, bool) {
	words := map[string]struct{}{}
	for _, word := range strings.Fields(topic) {
		words[word] = struct{}{}
	}
	for _, phrase := range s.cfg.TopicBlacklist {
		phrase = strings.ToLower(strings.TrimSpace(phrase))
		if phrase == "" {
			continue
		}
		if strings.Contains(phrase, " ") {
			if strings.Contains(topic, phrase) {
				return phrase, true
			}
			continue
		}
		if _, ok := words[phrase]; ok {
			return phrase, true
		}
	}
	return "", false
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

var _ domain.ContentPipeline = (*Service)(nil)
