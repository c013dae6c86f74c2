package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	chi "github.com/go-chi/chi/v5"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
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
	httpinfra "pin-affiliate-bot/internal/infra/http"
	applog "pin-affiliate-bot/internal/infra/log"
	"pin-affiliate-bot/internal/infra/metrics"
	"pin-affiliate-bot/internal/infra/openai"
	"pin-affiliate-bot/internal/infra/retry"
	"pin-affiliate-bot/internal/infra/storage"
	"pin-affiliate-bot/internal/usecase/budget"
	"pin-affiliate-bot/internal/usecase/content"
	"pin-affiliate-bot/internal/usecase/fallback"
	"pin-affiliate-bot/internal/usecase/publish"
	"pin-affiliate-bot/internal/usecase/run"
	"pin-affiliate-bot/internal/usecase/schedule"
)

const promptTokenAllowance = 400

type deps struct {
	orchestrator *run.Service
	ledger       *budget.Ledger
	queue        *fallback.Queue
}

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv).With().Str("service", "posterd").Logger()
	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := buildDeps(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("posterd: сборка зависимостей")
	}
	scheduler, err := schedule.NewService(cfg.Schedule.PostAt, cfg.Schedule.Timezone, cfg.Schedule.DrainEvery)
	if err != nil {
		logger.Fatal().Err(err).Msg("posterd: расписание")
	}

	srv := httpinfra.NewServer(logger.With().Str("component", "ops").Logger())
	registerOps(srv.Router, d)
	go func() {
		if err := srv.Start(cfg.OpsAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("posterd: ops-сервер остановлен")
		}
	}()

	loop(ctx, logger, d, scheduler)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.Info().Msg("posterd: остановка")
}

// loop ведёт плановые публикации и разгрузки до остановки процесса,
// недоступности хранилища состояния или остановки запусков оркестратором.
func loop(ctx context.Context, logger zerolog.Logger, d deps, scheduler *schedule.Service) {
	nextPost := scheduler.NextPost(time.Now())
	postTimer := time.NewTimer(time.Until(nextPost))
	drainTimer := time.NewTimer(time.Until(scheduler.NextDrain(time.Now())))
	defer postTimer.Stop()
	defer drainTimer.Stop()
	logger.Info().Time("next_post", nextPost).Msg("posterd: старт")

	for {
		select {
		case <-ctx.Done():
			return
		case <-postTimer.C:
			result, err := d.orchestrator.Run(ctx)
			if err != nil {
				if errors.Is(err, domain.ErrPersistence) {
					logger.Error().Err(err).Msg("posterd: хранилище состояния недоступно, плановые запуски остановлены")
					return
				}
				logger.Error().Err(err).Msg("posterd: запуск не удался")
			}
			if result.Halted {
				logger.Error().Str("reason", result.HaltReason).Msg("posterd: плановые запуски остановлены")
				return
			}
			nextPost = scheduler.NextPost(time.Now())
			logger.Info().Time("next_post", nextPost).Msg("posterd: следующая публикация запланирована")
			postTimer.Reset(time.Until(nextPost))
		case <-drainTimer.C:
			if _, err := d.orchestrator.Drain(ctx); err != nil {
				if errors.Is(err, domain.ErrPersistence) {
					logger.Error().Err(err).Msg("posterd: хранилище состояния недоступно, плановые запуски остановлены")
					return
				}
				logger.Error().Err(err).Msg("posterd: разгрузка очереди не удалась")
			}
			drainTimer.Reset(time.Until(scheduler.NextDrain(time.Now())))
		}
	}
}

func registerOps(r chi.Router, d deps) {
	r.Get("/api/v1/budget", func(w http.ResponseWriter, r *http.Request) {
		entries, err := d.ledger.Snapshot(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to read budget state")
			return
		}
		writeJSON(w, map[string]any{"entries": entries})
	})

	r.Get("/api/v1/queue", func(w http.ResponseWriter, r *http.Request) {
		entries, err := d.queue.List(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to read queue state")
			return
		}
		writeJSON(w, map[string]any{"entries": entries})
	})

	r.Get("/api/v1/queue/dead", func(w http.ResponseWriter, r *http.Request) {
		entries, err := d.queue.Dead(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to read queue state")
			return
		}
		writeJSON(w, map[string]any{"entries": entries})
	})

	r.Delete("/api/v1/queue/{id}", func(w http.ResponseWriter, r *http.Request) {
		if err := d.queue.Purge(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to purge entry")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func buildDeps(cfg config.AppConfig, logger zerolog.Logger) (deps, error) {
	ledger := budget.NewLedger(
		storage.NewStore(filepath.Join(cfg.StateDir, "budget.json")),
		budget.Config{DayCap: cfg.Budget.DayCap, MonthCap: cfg.Budget.MonthCap},
		logger,
	)
	queue := fallback.NewQueue(
		storage.NewStore(filepath.Join(cfg.StateDir, "fallback_queue.json")),
		fallback.Config{MaxAttempts: cfg.Run.QueueMaxAttempts},
		logger,
	)

	retryCfg := retry.Config{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
	}

	client := openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Timeout)
	images := imagegen.NewOpenAI(client, cfg.OpenAI.ImageModel, cfg.Budget.ImageCost, cfg.OpenAI.Timeout)
	texts := captiongen.NewOpenAI(client, cfg.OpenAI.TextModel, cfg.Budget.TextRatePer1K, cfg.OpenAI.Timeout)

	pipeline, err := content.NewService(content.Config{
		Disclosure:     cfg.Content.Disclosure,
		CaptionMin:     cfg.Content.CaptionMin,
		CaptionMax:     cfg.Content.CaptionMax,
		MaxTokens:      cfg.Content.MaxTokens,
		BannedPhrases:  cfg.Content.BannedPhrases,
		TopicBlacklist: cfg.Content.TopicBlacklist,
	}, images, texts, captiongen.NewTemplate(), affiliate.NewAmazon(cfg.Affiliate.Tag), retryCfg, logger)
	if err != nil {
		return deps{}, err
	}

	pinClient, err := pinterest.New(cfg.Pinterest.BaseURL, cfg.Pinterest.AccessToken,
		pinterest.WithTimeout(cfg.Pinterest.Timeout),
		pinterest.WithRefreshCredentials(cfg.Pinterest.AppID, cfg.Pinterest.AppSecret, cfg.Pinterest.RefreshToken),
		pinterest.WithTrendsQuery(cfg.Trends.Region, cfg.Trends.Limit),
		pinterest.WithMinCallGap(cfg.Pinterest.MinCallGap),
	)
	if err != nil {
		return deps{}, fmt.Errorf("клиент pinterest: %w", err)
	}

	var source domain.TrendSource = pinClient
	switch cfg.Trends.Source {
	case "rss":
		source = trends.NewRSS(cfg.Trends.FeedURL, cfg.Trends.Limit)
	case "mock":
		source = trends.NewMock()
	}

	publisher := publish.NewService(publish.Config{
		BoardID:        cfg.Pinterest.BoardID,
		BoardSectionID: cfg.Pinterest.BoardSectionID,
	}, pinClient, pinClient, retryCfg, logger)

	var alerts domain.AlertChannel = alert.NewLog(logger)
	if cfg.Alerts.TelegramToken != "" && cfg.Alerts.TelegramChatID != 0 {
		bot, err := tgbotapi.NewBotAPI(cfg.Alerts.TelegramToken)
		if err != nil {
			logger.Warn().Err(err).Msg("posterd: телеграм-оповещения недоступны, используется лог")
		} else {
			alerts = alert.NewTelegram(bot, cfg.Alerts.TelegramChatID, logger)
		}
	}

	var store domain.Cache = cache.NewMemory()
	if cfg.Redis.Addr != "" {
		store = cache.NewRedis(redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr}))
	}

	orchestrator := run.NewService(run.Config{
		PostLimit:        cfg.Run.PostLimit,
		DrainBatch:       cfg.Run.DrainBatch,
		HaltThreshold:    cfg.Run.MaxConsecutiveFatal,
		ImageReserve:     cfg.Budget.ImageCost,
		TextReserve:      textReserve(cfg),
		TemplateFallback: cfg.Content.TemplateFallback,
		LowBudgetAlert:   cfg.Budget.AlertThreshold,
		DedupTTL:         cfg.Redis.DedupTTL,
	}, source, pipeline, publisher, ledger, queue, alerts, store, logger)

	return deps{orchestrator: orchestrator, ledger: ledger, queue: queue}, nil
}

// textReserve считает верхнюю оценку стоимости одного текстового вызова:
// тарифицируется весь диалог, поэтому к лимиту ответа добавляется запас
// на промпт-токены.
func textReserve(cfg config.AppConfig) decimal.Decimal {
	tokens := decimal.NewFromInt(int64(cfg.Content.MaxTokens + promptTokenAllowance))
	return cfg.Budget.TextRatePer1K.Mul(tokens).Div(decimal.NewFromInt(1000))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": msg})
}
