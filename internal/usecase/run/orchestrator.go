package run

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pin-affiliate-bot/internal/domain"
	"pin-affiliate-bot/internal/infra/metrics"
)

// Config задаёт параметры одного запуска конвейера.
type Config struct {
	// PostLimit — сколько постов публикуется за один запуск.
	PostLimit int
	// DrainBatch — размер пачки разгрузки очереди отложенных.
	DrainBatch int
	// HaltThreshold — сколько фатальных внешних ошибок подряд
	// останавливают запуск.
	HaltThreshold int
	// ImageReserve резервируется в дневном бюджете перед каждой
	// генерацией изображения.
	ImageReserve decimal.Decimal
	// TextReserve резервируется в месячном бюджете перед каждой платной
	// генерацией подписи: верхняя оценка стоимости одного вызова.
	TextReserve decimal.Decimal
	// TemplateCaptions отключает платную генерацию подписи целиком.
	TemplateCaptions bool
	// TemplateFallback собирает подпись из шаблона, когда месячный бюджет
	// исчерпан, вместо пропуска кандидата.
	TemplateFallback bool
	// LowBudgetAlert — порог остатка, ниже которого оператору уходит
	// предупреждение.
	LowBudgetAlert decimal.Decimal
	// DedupTTL — окно межзапусковой дедупликации тем. Ноль отключает её.
	DedupTTL time.Duration
}

func normalize(cfg Config) Config {
	if cfg.PostLimit < 1 {
		cfg.PostLimit = 1
	}
	if cfg.DrainBatch < 1 {
		cfg.DrainBatch = 5
	}
	if cfg.HaltThreshold < 1 {
		cfg.HaltThreshold = 3
	}
	return cfg
}

// Service ведёт один запуск: тренды → фильтр → по кандидату резерв
// бюджета, сборка, публикация → разгрузка очереди отложенных. Это
// единственный компонент с сайд-эффектной последовательностью, все
// остальные вызываются синхронно и возвращают типизированные исходы.
type Service struct {
	cfg       Config
	trends    domain.TrendSource
	pipeline  domain.ContentPipeline
	publisher domain.Publisher
	ledger    domain.BudgetLedger
	queue     domain.FallbackQueue
	alerts    domain.AlertChannel
	cache     domain.Cache
	log       zerolog.Logger
	now       func() time.Time
}

// NewService создаёт оркестратор. alerts и cache могут быть nil: без
// первого оповещения не отправляются, без второго не работает
// межзапусковая дедупликация тем.
func NewService(cfg Config, trends domain.TrendSource, pipeline domain.ContentPipeline, publisher domain.Publisher, ledger domain.BudgetLedger, queue domain.FallbackQueue, alerts domain.AlertChannel, cache domain.Cache, log zerolog.Logger) *Service {
	return &Service{
		cfg:       normalize(cfg),
		trends:    trends,
		pipeline:  pipeline,
		publisher: publisher,
		ledger:    ledger,
		queue:     queue,
		alerts:    alerts,
		cache:     cache,
		log:       log.With().Str("component", "run").Logger(),
		now:       time.Now,
	}
}

type candidateOutcome int

const (
	outcomePublished candidateOutcome = iota
	outcomeQueued
	outcomeBudgetSkip
	outcomeGenerationFailed
)

type attemptResult struct {
	outcome candidateOutcome
	spend   decimal.Decimal
	// fatal помечает исходы класса фатальных внешних ошибок: они
	// двигают счётчик остановки запуска.
	fatal bool
}

// Run выполняет один полный запуск конвейера. Ошибка возвращается только
// при недоступном хранилище состояния или недостижимом источнике трендов:
// остальные сбои учитываются в RunResult и не прерывают запуск.
func (s *Service) Run(ctx context.Context) (domain.RunResult, error) {
	runID := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	log := s.log.With().Str("run_id", runID).Logger()
	result := domain.RunResult{RunID: runID, Spend: decimal.Zero}
	started := time.Now()

	if err := s.ledger.Rollover(ctx); err != nil {
		metrics.ObserveRun("fatal")
		s.alert(ctx, fmt.Sprintf("Запуск %s прерван: %v", runID, err), domain.SeverityCritical)
		return result, fmt.Errorf("ролловер бюджетных периодов: %w", err)
	}

	trends, err := s.trends.Fetch(ctx)
	if err != nil {
		metrics.ObserveRun("fatal")
		s.alert(ctx, fmt.Sprintf("Запуск %s прерван: источник трендов недоступен: %v", runID, err), domain.SeverityCritical)
		return result, fmt.Errorf("получение трендов: %w", err)
	}
	log.Info().Int("trends", len(trends)).Msg("тренды получены")

	candidates := s.pipeline.Filter(trends)
	if len(candidates) == 0 {
		log.Info().Msg("после фильтрации не осталось кандидатов")
		metrics.ObserveRun("empty")
		return result, nil
	}

	consecutiveFatal := 0
	for _, trend := range candidates {
		if s.alreadyPosted(trend) {
			log.Debug().Str("topic", trend.Topic).Msg("тема уже публиковалась, пропуск")
			continue
		}
		if result.Halted || result.Attempted >= s.cfg.PostLimit {
			result.NotAttempted++
			continue
		}

		result.Attempted++
		res, err := s.attempt(ctx, log, trend)
		result.Spend = result.Spend.Add(res.spend)
		if err != nil {
			// Хранилище состояния недоступно: гарантии бюджета и очереди
			// не проверяемы, запуск завершается закрыто.
			metrics.ObserveRun("fatal")
			s.alert(ctx, fmt.Sprintf("Запуск %s прерван: %v", runID, err), domain.SeverityCritical)
			return result, err
		}

		switch res.outcome {
		case outcomePublished:
			result.Succeeded++
		case outcomeQueued:
			result.Queued++
		case outcomeBudgetSkip, outcomeGenerationFailed:
			result.FailedFatal++
		}

		if res.fatal {
			consecutiveFatal++
			if consecutiveFatal >= s.cfg.HaltThreshold {
				result.Halted = true
				result.HaltReason = fmt.Sprintf("%d фатальных внешних ошибок подряд", consecutiveFatal)
				s.alert(ctx, fmt.Sprintf("Запуск %s остановлен: %s", runID, result.HaltReason), domain.SeverityCritical)
			}
		} else if res.outcome != outcomeBudgetSkip {
			consecutiveFatal = 0
		}
	}

	if !result.Halted {
		stats, err := s.Drain(ctx)
		if err != nil {
			metrics.ObserveRun("fatal")
			s.alert(ctx, fmt.Sprintf("Запуск %s прерван при разгрузке очереди: %v", runID, err), domain.SeverityCritical)
			return result, err
		}
		if stats.Attempted > 0 {
			log.Info().
				Int("attempted", stats.Attempted).
				Int("published", stats.Published).
				Int("failed", stats.Failed).
				Msg("очередь отложенных разгружена")
		}
	}

	s.checkBudgetAlerts(ctx)

	outcome := "success"
	if result.Halted {
		outcome = "halted"
	}
	metrics.ObserveRun(outcome)
	log.Info().
		Int("attempted", result.Attempted).
		Int("succeeded", result.Succeeded).
		Int("queued", result.Queued).
		Int("failed_fatal", result.FailedFatal).
		Int("not_attempted", result.NotAttempted).
		Str("spend", result.Spend.StringFixed(4)).
		Bool("halted", result.Halted).
		Dur("elapsed", time.Since(started)).
		Msg("запуск завершён")
	return result, nil
}

// attempt проводит одного кандидата через резерв бюджета, сборку и
// публикацию. Ошибка возвращается только при недоступном хранилище.
func (s *Service) attempt(ctx context.Context, log zerolog.Logger, trend domain.Trend) (attemptResult, error) {
	res := attemptResult{spend: decimal.Zero}

	useTemplate := s.cfg.TemplateCaptions
	reservedDay := decimal.Zero
	reservedMonth := decimal.Zero

	if s.cfg.ImageReserve.IsPositive() {
		if err := s.ledger.Reserve(ctx, s.cfg.ImageReserve, domain.PeriodDay); err != nil {
			if errors.Is(err, domain.ErrBudgetExceeded) {
				log.Warn().Err(err).Str("topic", trend.Topic).Msg("дневной бюджет исчерпан, кандидат пропущен")
				res.outcome = outcomeBudgetSkip
				return res, nil
			}
			return res, fmt.Errorf("резерв дневного бюджета: %w", err)
		}
		reservedDay = s.cfg.ImageReserve
	}

	if !useTemplate && s.cfg.TextReserve.IsPositive() {
		switch err := s.ledger.Reserve(ctx, s.cfg.TextReserve, domain.PeriodMonth); {
		case err == nil:
			reservedMonth = s.cfg.TextReserve
		case errors.Is(err, domain.ErrBudgetExceeded) && s.cfg.TemplateFallback:
			log.Warn().Str("topic", trend.Topic).Msg("месячный бюджет исчерпан, подпись собирается из шаблона")
			useTemplate = true
		case errors.Is(err, domain.ErrBudgetExceeded):
			if reservedDay.IsPositive() {
				if rerr := s.ledger.Release(ctx, reservedDay, domain.PeriodDay); rerr != nil {
					return res, fmt.Errorf("возврат дневного резерва: %w", rerr)
				}
			}
			log.Warn().Err(err).Str("topic", trend.Topic).Msg("месячный бюджет исчерпан, кандидат пропущен")
			res.outcome = outcomeBudgetSkip
			return res, nil
		default:
			return res, fmt.Errorf("резерв месячного бюджета: %w", err)
		}
	}

	candidate, usage, buildErr := s.pipeline.Build(ctx, trend, domain.BuildOptions{TemplateCaption: useTemplate})
	res.spend = usage.ImageCost.Add(usage.TextCost)

	// Сверка резервов с фактической стоимостью: излишек возвращается,
	// расход выполненных вызовов остаётся даже при ошибке сборки.
	if err := s.settle(ctx, reservedDay, usage.ImageCost, domain.PeriodDay); err != nil {
		return res, err
	}
	if err := s.settle(ctx, reservedMonth, usage.TextCost, domain.PeriodMonth); err != nil {
		return res, err
	}

	if buildErr != nil {
		res.outcome = outcomeGenerationFailed
		res.fatal = errors.Is(buildErr, domain.ErrFatalExternal)
		if errors.Is(buildErr, domain.ErrCompliance) {
			log.Info().Err(buildErr).Str("topic", trend.Topic).Msg("кандидат не прошёл правила, пропуск")
		} else {
			log.Warn().Err(buildErr).Str("topic", trend.Topic).Msg("сборка кандидата не удалась")
		}
		return res, nil
	}

	pinID, pubErr := s.publisher.Publish(ctx, *candidate)
	if pubErr != nil {
		entry, qerr := s.queue.Enqueue(ctx, *candidate, pubErr.Error())
		if qerr != nil {
			return res, fmt.Errorf("постановка кандидата в очередь: %w", qerr)
		}
		metrics.PostsQueuedTotal.Inc()
		res.outcome = outcomeQueued
		res.fatal = errors.Is(pubErr, domain.ErrFatalExternal)
		log.Warn().
			Err(pubErr).
			Str("topic", trend.Topic).
			Str("entry_id", entry.ID).
			Int("attempts", entry.Attempts).
			Msg("кандидат отправлен в очередь отложенных")
		if entry.State == domain.QueueStateDead {
			s.alert(ctx, fmt.Sprintf("Пост %q исчерпал попытки публикации и ждёт ручного разбора", entry.Candidate.Topic), domain.SeverityWarning)
		}
		return res, nil
	}

	res.outcome = outcomePublished
	s.rememberPosted(trend)
	log.Info().
		Str("pin_id", pinID).
		Str("topic", trend.Topic).
		Str("spend", res.spend.StringFixed(4)).
		Msg("кандидат опубликован")
	return res, nil
}

// Drain разгружает одну пачку очереди отложенных: успех подтверждается,
// неуспех возвращает запись в очередь с увеличенным счётчиком попыток.
func (s *Service) Drain(ctx context.Context) (domain.DrainStats, error) {
	var stats domain.DrainStats
	entries, err := s.queue.DequeueBatch(ctx, s.cfg.DrainBatch)
	if err != nil {
		return stats, fmt.Errorf("выборка очереди отложенных: %w", err)
	}
	for _, entry := range entries {
		stats.Attempted++
		pinID, err := s.publisher.Publish(ctx, entry.Candidate)
		if err != nil {
			stats.Failed++
			updated, qerr := s.queue.Enqueue(ctx, entry.Candidate, fmt.Sprintf("повторная публикация: %v", err))
			if qerr != nil {
				return stats, fmt.Errorf("обновление записи очереди: %w", qerr)
			}
			if updated.State == domain.QueueStateDead {
				s.alert(ctx, fmt.Sprintf("Пост %q исчерпал попытки публикации и ждёт ручного разбора", entry.Candidate.Topic), domain.SeverityWarning)
			}
			continue
		}
		stats.Published++
		if err := s.queue.Ack(ctx, entry.ID); err != nil {
			return stats, fmt.Errorf("подтверждение записи очереди: %w", err)
		}
		s.log.Info().
			Str("pin_id", pinID).
			Str("topic", entry.Candidate.Topic).
			Int("attempts", entry.Attempts).
			Msg("отложенный пост опубликован")
	}
	return stats, nil
}

// settle возвращает в бюджет разницу между резервом и фактической
// стоимостью вызова.
func (s *Service) settle(ctx context.Context, reserved, actual decimal.Decimal, period domain.PeriodKind) error {
	excess := reserved.Sub(actual)
	if !excess.IsPositive() {
		return nil
	}
	if err := s.ledger.Release(ctx, excess, period); err != nil {
		return fmt.Errorf("возврат излишка резерва %s: %w", period, err)
	}
	return nil
}

func (s *Service) checkBudgetAlerts(ctx context.Context) {
	if !s.cfg.LowBudgetAlert.IsPositive() {
		return
	}
	for _, period := range []domain.PeriodKind{domain.PeriodDay, domain.PeriodMonth} {
		remaining, err := s.ledger.Remaining(ctx, period)
		if err != nil {
			s.log.Warn().Err(err).Str("period", string(period)).Msg("не удалось получить остаток бюджета")
			continue
		}
		if remaining.GreaterThan(s.cfg.LowBudgetAlert) {
			continue
		}
		message := fmt.Sprintf("Остаток бюджета %s ниже порога: $%s", period, remaining.StringFixed(2))
		notify := func() error {
			s.alert(ctx, message, domain.SeverityWarning)
			return nil
		}
		if s.cache == nil {
			_ = notify()
			continue
		}
		key := fmt.Sprintf("alert:budget:%s:%s", period, period.Key(s.now()))
		if err := s.cache.Once(key, 24*time.Hour, notify); err != nil {
			s.log.Warn().Err(err).Msg("не удалось отправить оповещение о бюджете")
		}
	}
}

func (s *Service) alert(ctx context.Context, message string, severity domain.Severity) {
	if s.alerts == nil {
		return
	}
	s.alerts.Notify(ctx, message, severity)
}

func dedupKey(trend domain.Trend) string {
	return "posted:" + strings.ToLower(strings.TrimSpace(trend.Topic))
}

func (s *Service) alreadyPosted(trend domain.Trend) bool {
	if s.cache == nil || s.cfg.DedupTTL <= 0 {
		return false
	}
	_, err := s.cache.Get(dedupKey(trend))
	return err == nil
}

func (s *Service) rememberPosted(trend domain.Trend) {
	if s.cache == nil || s.cfg.DedupTTL <= 0 {
		return
	}
	if err := s.cache.Set(dedupKey(trend), []byte("1"), s.cfg.DedupTTL); err != nil {
		s.log.Warn().Err(err).Str("topic", trend.Topic).Msg("не удалось запомнить опубликованную тему")
	}
}
