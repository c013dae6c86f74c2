package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jessevdk/go-flags"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pin-affiliate-bot/internal/adapters/affiliate"
	"pin-affiliate-bot/internal/adapters/alert"
	"pin-affiliate-bot/internal/adapters/captiongen"
	"pin-affiliate-bot/internal/adapters/imagegen"
	"pin-affiliate-bot/internal/adapters/pinterest"
	"pin-affiliate-bot/internal/adapters/trends"
	"pin-affiliate-bot/internal/domain"
	"pin-affiliate-bot/internal/infra/cache"
	"pin-affiliate-bot/internal/infra/config"
	applog "pin-affiliate-bot/internal/infra/log"
	"pin-affiliate-bot/internal/infra/openai"
	"pin-affiliate-bot/internal/infra/retry"
	"pin-affiliate-bot/internal/infra/storage"
	"pin-affiliate-bot/internal/usecase/budget"
	"pin-affiliate-bot/internal/usecase/content"
	"pin-affiliate-bot/internal/usecase/fallback"
	"pin-affiliate-bot/internal/usecase/publish"
	"pin-affiliate-bot/internal/usecase/run"
)

// promptTokenAllowance — запас на промпт-токены при верхней оценке
// стоимости одного текстового вызова: тарифицируется весь диалог, а не
// только ответ.
const promptTokenAllowance = 400

type options struct {
	Count           int    `short:"c" long:"count" description:"Сколько постов опубликовать за запуск (перекрывает RUN_POST_LIMIT)"`
	DryRun          bool   `long:"dry-run" description:"Тестовый прогон: без платных вызовов и реальной публикации"`
	DrainOnly       bool   `long:"drain-only" description:"Только разгрузить очередь отложенных, новые посты не собирать"`
	BudgetOverride  string `long:"budget-override" description:"Разовый потолок дневного бюджета, например 0.50"`
	TemplateCaption bool   `long:"template-caption" description:"Собирать подписи из шаблонного банка фраз без обращения к LLM"`
}

func main() {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return
		}
		os.Exit(1)
	}

	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv).With().Str("service", "poster").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orchestrator, err := buildOrchestrator(cfg, opts, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("poster: сборка зависимостей")
	}

	if opts.DrainOnly {
		stats, err := orchestrator.Drain(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("poster: разгрузка очереди")
		}
		logger.Info().
			Int("attempted", stats.Attempted).
			Int("published", stats.Published).
			Int("failed", stats.Failed).
			Msg("poster: очередь разгружена")
		return
	}

	result, err := orchestrator.Run(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("poster: запуск не удался")
	}
	logger.Info().
		Str("run_id", result.RunID).
		Int("succeeded", result.Succeeded).
		Int("queued", result.Queued).
		Int("failed_fatal", result.FailedFatal).
		Str("spend", result.Spend.StringFixed(4)).
		Msg("poster: запуск завершён")
	if result.Halted {
		logger.Error().Str("reason", result.HaltReason).Msg("poster: запуск остановлен")
		os.Exit(2)
	}
}

func buildOrchestrator(cfg config.AppConfig, opts options, logger zerolog.Logger) (*run.Service, error) {
	ledgerCfg := budget.Config{DayCap: cfg.Budget.DayCap, MonthCap: cfg.Budget.MonthCap}
	if opts.BudgetOverride != "" {
		dayCap, err := decimal.NewFromString(opts.BudgetOverride)
		if err != nil || dayCap.IsNegative() {
			return nil, fmt.Errorf("некорректный потолок бюджета %q", opts.BudgetOverride)
		}
		logger.Warn().Str("day_cap", dayCap.StringFixed(2)).Msg("poster: дневной потолок переопределён")
		ledgerCfg.DayCap = dayCap
	}
	ledger := budget.NewLedger(storage.NewStore(filepath.Join(cfg.StateDir, "budget.json")), ledgerCfg, logger)
	queue := fallback.NewQueue(storage.NewStore(filepath.Join(cfg.StateDir, "fallback_queue.json")), fallback.Config{MaxAttempts: cfg.Run.QueueMaxAttempts}, logger)

	retryCfg := retry.Config{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
	}

	template := captiongen.NewTemplate()
	var images domain.ImageBackend
	var texts domain.TextBackend
	if opts.DryRun {
		images = imagegen.NewStub()
		texts = template
	} else {
		client := openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Timeout)
		images = imagegen.NewOpenAI(client, cfg.OpenAI.ImageModel, cfg.Budget.ImageCost, cfg.OpenAI.Timeout)
		texts = captiongen.NewOpenAI(client, cfg.OpenAI.TextModel, cfg.Budget.TextRatePer1K, cfg.OpenAI.Timeout)
	}

	pipeline, err := content.NewService(content.Config{
		Disclosure:     cfg.Content.Disclosure,
		CaptionMin:     cfg.Content.CaptionMin,
		CaptionMax:     cfg.Content.CaptionMax,
		MaxTokens:      cfg.Content.MaxTokens,
		BannedPhrases:  cfg.Content.BannedPhrases,
		TopicBlacklist: cfg.Content.TopicBlacklist,
	}, images, texts, template, affiliate.NewAmazon(cfg.Affiliate.Tag), retryCfg, logger)
	if err != nil {
		return nil, err
	}

	var api domain.PublishingAPI
	var refresher domain.TokenRefresher
	var source domain.TrendSource
	if opts.DryRun {
		stub := pinterest.NewStub(logger)
		api, refresher = stub, stub
		source = trends.NewMock()
	} else {
		client, err := pinterest.New(cfg.Pinterest.BaseURL, cfg.Pinterest.AccessToken,
			pinterest.WithTimeout(cfg.Pinterest.Timeout),
			pinterest.WithRefreshCredentials(cfg.Pinterest.AppID, cfg.Pinterest.AppSecret, cfg.Pinterest.RefreshToken),
			pinterest.WithTrendsQuery(cfg.Trends.Region, cfg.Trends.Limit),
			pinterest.WithMinCallGap(cfg.Pinterest.MinCallGap),
		)
		if err != nil {
			return nil, fmt.Errorf("клиент pinterest: %w", err)
		}
		api, refresher = client, client
		switch cfg.Trends.Source {
		case "rss":
			source = trends.NewRSS(cfg.Trends.FeedURL, cfg.Trends.Limit)
		case "mock":
			source = trends.NewMock()
		default:
			source = client
		}
	}

	publisher := publish.NewService(publish.Config{
		BoardID:        cfg.Pinterest.BoardID,
		BoardSectionID: cfg.Pinterest.BoardSectionID,
	}, api, refresher, retryCfg, logger)

	var alerts domain.AlertChannel = alert.NewLog(logger)
	if cfg.Alerts.TelegramToken != "" && cfg.Alerts.TelegramChatID != 0 {
		bot, err := tgbotapi.NewBotAPI(cfg.Alerts.TelegramToken)
		if err != nil {
			logger.Warn().Err(err).Msg("poster: телеграм-оповещения недоступны, используется лог")
		} else {
			alerts = alert.NewTelegram(bot, cfg.Alerts.TelegramChatID, logger)
		}
	}

	var store domain.Cache = cache.NewMemory()
	if cfg.Redis.Addr != "" {
		store = cache.NewRedis(redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr}))
	}

	runCfg := run.Config{
		PostLimit:        cfg.Run.PostLimit,
		DrainBatch:       cfg.Run.DrainBatch,
		HaltThreshold:    cfg.Run.MaxConsecutiveFatal,
		ImageReserve:     cfg.Budget.ImageCost,
		TextReserve:      textReserve(cfg),
		TemplateCaptions: opts.TemplateCaption,
		TemplateFallback: cfg.Content.TemplateFallback,
		LowBudgetAlert:   cfg.Budget.AlertThreshold,
		DedupTTL:         cfg.Redis.DedupTTL,
	}
	if opts.Count > 0 {
		runCfg.PostLimit = opts.Count
	}
	if opts.DryRun {
		// Заглушки бесплатны, бюджет не резервируется и не расходуется.
		runCfg.ImageReserve = decimal.Zero
		runCfg.TextReserve = decimal.Zero
		runCfg.TemplateCaptions = true
	}

	return run.NewService(runCfg, source, pipeline, publisher, ledger, queue, alerts, store, logger), nil
}

// textReserve считает верхнюю оценку стоимости одного текстового вызова.
func textReserve(cfg config.AppConfig) decimal.Decimal {
	tokens := decimal.NewFromInt(int64(cfg.Content.MaxTokens + promptTokenAllowance))
	return cfg.Budget.TextRatePer1K.Mul(tokens).Div(decimal.NewFromInt(1000))
}
