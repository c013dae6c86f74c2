package retry

import (
	"context"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

// Config задаёт параметры ограниченных повторов с экспоненциальной
// задержкой. Единый механизм для всех внешних вызовов: генерация
// изображений, генерация текста, публикация.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultConfig возвращает параметры по умолчанию.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    8 * time.Second,
	}
}

func normalize(cfg Config) Config {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	return cfg
}

// NewExecutor строит executor с классификатором исходов: повтор
// выполняется только когда handleIf возвращает true. После исчерпания
// попыток возвращается последняя ошибка как есть.
func NewExecutor[T any](cfg Config, handleIf func(T, error) bool) failsafe.Executor[T] {
	cfg = normalize(cfg)
	builder := retrypolicy.NewBuilder[T]().
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithMaxRetries(cfg.MaxAttempts - 1).
		WithJitterFactor(0.1)
	if handleIf != nil {
		builder = builder.HandleIf(handleIf)
	}
	return failsafe.With(builder.Build())
}

// Do выполняет fn через executor с учётом контекста.
func Do[T any](ctx context.Context, executor failsafe.Executor[T], fn func() (T, error)) (T, error) {
	return executor.WithContext(ctx).Get(fn)
}
