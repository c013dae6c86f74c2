package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv   string `envconfig:"APP_ENV" default:"dev"`
	StateDir string `envconfig:"STATE_DIR" default:"./state"`
	OpsAddr  string `envconfig:"OPS_ADDR" default:":8080"`

	Pinterest struct {
		BaseURL        string        `envconfig:"PINTEREST_BASE_URL" default:"https://api.pinterest.com"`
		AccessToken    string        `envconfig:"PINTEREST_ACCESS_TOKEN"`
		RefreshToken   string        `envconfig:"PINTEREST_REFRESH_TOKEN"`
		AppID          string        `envconfig:"PINTEREST_APP_ID"`
		AppSecret      string        `envconfig:"PINTEREST_APP_SECRET"`
		BoardID        string        `envconfig:"PINTEREST_BOARD_ID"`
		BoardSectionID string        `envconfig:"PINTEREST_BOARD_SECTION_ID"`
		Timeout        time.Duration `envconfig:"PINTEREST_TIMEOUT" default:"15s"`
		MinCallGap     time.Duration `envconfig:"PINTEREST_MIN_CALL_GAP" default:"12s"`
	} `envconfig:""`

	OpenAI struct {
		APIKey     string        `envconfig:"OPENAI_API_KEY"`
		BaseURL    string        `envconfig:"OPENAI_BASE_URL"`
		ImageModel string        `envconfig:"OPENAI_IMAGE_MODEL" default:"dall-e-3"`
		TextModel  string        `envconfig:"OPENAI_TEXT_MODEL" default:"gpt-3.5-turbo"`
		Timeout    time.Duration `envconfig:"OPENAI_TIMEOUT" default:"60s"`
	} `envconfig:""`

	Budget struct {
		DayCap         decimal.Decimal `envconfig:"BUDGET_DAY_CAP" default:"0.20"`
		MonthCap       decimal.Decimal `envconfig:"BUDGET_MONTH_CAP" default:"10.00"`
		ImageCost      decimal.Decimal `envconfig:"BUDGET_IMAGE_COST" default:"0.04"`
		TextRatePer1K  decimal.Decimal `envconfig:"BUDGET_TEXT_RATE_PER_1K" default:"0.002"`
		AlertThreshold decimal.Decimal `envconfig:"BUDGET_ALERT_THRESHOLD" default:"0.05"`
	} `envconfig:""`

	Content struct {
		Disclosure       string   `envconfig:"CONTENT_DISCLOSURE" default:"standard"`
		CaptionMin       int      `envconfig:"CONTENT_CAPTION_MIN" default:"180"`
		CaptionMax       int      `envconfig:"CONTENT_CAPTION_MAX" default:"220"`
		MaxTokens        int      `envconfig:"CONTENT_MAX_TOKENS" default:"200"`
		BannedPhrases    []string `envconfig:"CONTENT_BANNED_PHRASES" default:"cure,miracle,guaranteed results,clinically proven,fda approved"`
		TopicBlacklist   []string `envconfig:"CONTENT_TOPIC_BLACKLIST" default:"sale,discount,free,cheap,tutorial,how to,diy"`
		TemplateFallback bool     `envconfig:"CONTENT_TEMPLATE_FALLBACK" default:"false"`
	} `envconfig:""`

	Affiliate struct {
		Tag string `envconfig:"AMAZON_ASSOCIATE_TAG"`
	} `envconfig:""`

	Run struct {
		PostLimit           int `envconfig:"RUN_POST_LIMIT" default:"3"`
		DrainBatch          int `envconfig:"RUN_DRAIN_BATCH" default:"5"`
		MaxConsecutiveFatal int `envconfig:"RUN_MAX_CONSECUTIVE_FATAL" default:"3"`
		QueueMaxAttempts    int `envconfig:"QUEUE_MAX_ATTEMPTS" default:"3"`
	} `envconfig:""`

	Retry struct {
		MaxAttempts int           `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
		BaseDelay   time.Duration `envconfig:"RETRY_BASE_DELAY" default:"500ms"`
		MaxDelay    time.Duration `envconfig:"RETRY_MAX_DELAY" default:"8s"`
	} `envconfig:""`

	Trends struct {
		Source  string `envconfig:"TRENDS_SOURCE" default:"pinterest"`
		Region  string `envconfig:"TRENDS_REGION" default:"US"`
		Limit   int    `envconfig:"TRENDS_LIMIT" default:"50"`
		FeedURL string `envconfig:"TRENDS_FEED_URL"`
	} `envconfig:""`

	Redis struct {
		Addr     string        `envconfig:"REDIS_ADDR"`
		DedupTTL time.Duration `envconfig:"REDIS_DEDUP_TTL" default:"72h"`
	} `envconfig:""`

	Alerts struct {
		TelegramToken  string `envconfig:"ALERT_TG_BOT_TOKEN"`
		TelegramChatID int64  `envconfig:"ALERT_TG_CHAT_ID"`
	} `envconfig:""`

	Schedule struct {
		PostAt     string        `envconfig:"SCHEDULE_POST_AT" default:"09:00"`
		Timezone   string        `envconfig:"SCHEDULE_TZ" default:"UTC"`
		DrainEvery time.Duration `envconfig:"SCHEDULE_DRAIN_EVERY" default:"6h"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения. Файл .env, если он есть,
// подхватывается до чтения переменных. Некорректная конфигурация
// останавливает процесс сразу, а не при первом использовании.
func Load() AppConfig {
	_ = godotenv.Load()
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	if err := cfg.validate(); err != nil {
		log.Fatalf("некорректная конфигурация: %v", err)
	}
	return cfg
}

func (c AppConfig) validate() error {
	if c.Content.CaptionMin <= 0 || c.Content.CaptionMax <= c.Content.CaptionMin {
		return fmt.Errorf("границы длины подписи заданы неверно: [%d, %d]", c.Content.CaptionMin, c.Content.CaptionMax)
	}
	if c.Content.MaxTokens <= 0 {
		return fmt.Errorf("бюджет токенов должен быть положительным: %d", c.Content.MaxTokens)
	}
	if c.Budget.DayCap.IsNegative() || c.Budget.MonthCap.IsNegative() {
		return fmt.Errorf("потолок бюджета не может быть отрицательным")
	}
	if c.Budget.ImageCost.IsNegative() || c.Budget.TextRatePer1K.IsNegative() {
		return fmt.Errorf("стоимость генерации не может быть отрицательной")
	}
	if c.Run.PostLimit < 0 || c.Run.DrainBatch < 0 {
		return fmt.Errorf("лимиты запуска не могут быть отрицательными")
	}
	if c.Run.QueueMaxAttempts < 1 {
		return fmt.Errorf("максимум попыток очереди должен быть не меньше 1: %d", c.Run.QueueMaxAttempts)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("максимум попыток повторов должен быть не меньше 1: %d", c.Retry.MaxAttempts)
	}
	switch c.Trends.Source {
	case "pinterest", "rss", "mock":
	default:
		return fmt.Errorf("неизвестный источник трендов %q", c.Trends.Source)
	}
	if c.Trends.Source == "rss" && c.Trends.FeedURL == "" {
		return fmt.Errorf("для источника rss требуется TRENDS_FEED_URL")
	}
	return nil
}
