package trends

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"pin-affiliate-bot/internal/domain"
	"pin-affiliate-bot/internal/infra/metrics"
)

// RSS извлекает темы из RSS-ленты. Балл темы определяется позицией в
// ленте: верхние записи считаются популярнее.
type RSS struct {
	parser *gofeed.Parser
	url    string
	limit  int
}

// NewRSS создаёт источник трендов поверх RSS-ленты.
func NewRSS(feedURL string, limit int) *RSS {
	if limit <= 0 {
		limit = 50
	}
	return &RSS{parser: gofeed.NewParser(), url: feedURL, limit: limit}
}

// Fetch загружает ленту и превращает заголовки записей в темы.
func (r *RSS) Fetch(ctx context.Context) ([]domain.Trend, error) {
	start := time.Now()
	feed, err := r.parser.ParseURLWithContext(r.url, ctx)
	metrics.ObserveNetworkRequest("trends", "fetch_feed", "rss", start, err)
	if err != nil {
		return nil, fmt.Errorf("fetch feed %q: %w", r.url, err)
	}

	now := time.Now().UTC()
	trends := make([]domain.Trend, 0, len(feed.Items))
	for i, item := range feed.Items {
		if len(trends) >= r.limit {
			break
		}
		title := strings.TrimSpace(item.Title)
		if title == "" {
			continue
		}
		trends = append(trends, domain.Trend{
			Topic:        title,
			Score:        len(feed.Items) - i,
			DiscoveredAt: now,
		})
	}
	return trends, nil
}

var _ domain.TrendSource = (*RSS)(nil)
