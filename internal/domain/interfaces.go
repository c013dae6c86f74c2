package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// TrendSource отдаёт трендовые темы для фильтрации.
type TrendSource interface {
	Fetch(ctx context.Context) ([]Trend, error)
}

// ImageBackend генерирует изображение. Каждый вызов платный.
type ImageBackend interface {
	Generate(ctx context.Context, req ImageRequest) (ImageResult, error)
}

// TextBackend генерирует заголовок, подпись и хэштеги. Каждый вызов
// платный и тарифицируется по токенам.
type TextBackend interface {
	Generate(ctx context.Context, req TextRequest) (TextResult, error)
}

// PublishingAPI создаёт пост на платформе публикации и возвращает его
// идентификатор.
type PublishingAPI interface {
	CreatePin(ctx context.Context, payload PinPayload) (string, error)
}

// TokenRefresher обновляет токен доступа платформы публикации.
type TokenRefresher interface {
	Refresh(ctx context.Context) (string, error)
}

// AffiliateLinkFormatter строит партнёрскую ссылку по теме и нише.
// Чистая функция без побочных эффектов.
type AffiliateLinkFormatter interface {
	Format(query, niche string) string
}

// AlertChannel доставляет оповещения оператору. Сбои доставки никогда не
// прерывают запуск.
type AlertChannel interface {
	Notify(ctx context.Context, message string, severity Severity)
}

// BudgetLedger гейтит каждый платный вызов генерации: резерв до вызова,
// компенсирующий возврат при неудаче вызова.
type BudgetLedger interface {
	Reserve(ctx context.Context, amount decimal.Decimal, period PeriodKind) error
	Release(ctx context.Context, amount decimal.Decimal, period PeriodKind) error
	Reset(ctx context.Context, period PeriodKind) error
	Rollover(ctx context.Context) error
	Remaining(ctx context.Context, period PeriodKind) (decimal.Decimal, error)
	Snapshot(ctx context.Context) ([]BudgetEntry, error)
}

// FallbackQueue хранит не опубликованные с первого раза кандидаты до
// подтверждённой публикации. Выборка не удаляет записи: удаление
// происходит только через Ack после успешной публикации или через Purge.
type FallbackQueue interface {
	Enqueue(ctx context.Context, candidate PostCandidate, reason string) (QueueEntry, error)
	DequeueBatch(ctx context.Context, maxN int) ([]QueueEntry, error)
	Ack(ctx context.Context, entryID string) error
	Size(ctx context.Context) (int, error)
	List(ctx context.Context) ([]QueueEntry, error)
	Dead(ctx context.Context) ([]QueueEntry, error)
	Purge(ctx context.Context, entryID string) error
}

// ContentPipeline превращает тренд в готовый к публикации пост. Build
// всегда возвращает фактическую стоимость выполненных платных вызовов,
// в том числе при ошибке: по ней вызывающая сторона сверяет резервы.
type ContentPipeline interface {
	Filter(trends []Trend) []Trend
	Build(ctx context.Context, trend Trend, opts BuildOptions) (*PostCandidate, BuildUsage, error)
}

// Publisher публикует кандидата с ограниченным числом повторов и
// возвращает классифицированную ошибку: ErrRetryable либо ErrFatalExternal.
type Publisher interface {
	Publish(ctx context.Context, candidate PostCandidate) (string, error)
}

// Cache используется для простых TTL-хранилищ.
type Cache interface {
	Once(key string, ttl time.Duration, fn func() error) error
	Set(key string, value []byte, ttl time.Duration) error
	Get(key string) ([]byte, error)
}
