package trends

import (
	"context"
	"time"

	"pin-affiliate-bot/internal/domain"
)

// Mock возвращает фиксированный набор тем. Используется в dry-run и в
// локальной разработке, когда живой источник трендов недоступен.
type Mock struct{}

// NewMock создаёт заглушку источника трендов.
func NewMock() *Mock {
	return &Mock{}
}

// Fetch возвращает предопределённые темы.
func (m *Mock) Fetch(_ context.Context) ([]domain.Trend, error) {
	now := time.Now().UTC()
	return []domain.Trend{
		{Topic: "natural skincare routine", Score: 1000, DiscoveredAt: now},
		{Topic: "curly hair care", Score: 800, DiscoveredAt: now},
		{Topic: "minimal makeup look", Score: 600, DiscoveredAt: now},
	}, nil
}

var _ domain.TrendSource = (*Mock)(nil)
