package imagegen

import (
	"context"

	"github.com/shopspring/decimal"

	"pin-affiliate-bot/internal/domain"
)

// Stub имитирует генерацию изображения в режиме dry-run: возвращает
// заглушечный URL без платного вызова.
type Stub struct{}

// NewStub создаёт заглушку генератора изображений.
func NewStub() *Stub {
	return &Stub{}
}

// Generate возвращает фиксированный URL с нулевой стоимостью.
func (s *Stub) Generate(_ context.Context, _ domain.ImageRequest) (domain.ImageResult, error) {
	return domain.ImageResult{
		URL:  "https://placehold.co/1024x1024.png",
		Cost: decimal.Zero,
	}, nil
}

var _ domain.ImageBackend = (*Stub)(nil)
