package affiliate

import (
	"net/url"
	"strings"

	"pin-affiliate-bot/internal/domain"
)

const defaultSearchURL = "https://www.amazon.com/s"

// Поисковый довесок по нише сужает выдачу до релевантной категории.
// Неизвестная ниша получает общий довесок beauty.
var searchTerms = map[string]string{
	"skincare": "skincare beauty",
	"haircare": "hair care products",
	"makeup":   "makeup cosmetics",
}

const defaultSearchTerm = "beauty"

// Amazon строит партнёрские ссылки на поиск Amazon. Ссылка детерминирована
// по запросу и нише, поэтому пригодна как часть стабильной идентичности
// кандидата.
type Amazon struct {
	searchURL string
	tag       string
}

// NewAmazon создаёт форматтер с партнёрской меткой аккаунта.
func NewAmazon(tag string) *Amazon {
	return &Amazon{searchURL: defaultSearchURL, tag: tag}
}

// Format собирает ссылку поиска с меткой партнёра.
func (a *Amazon) Format(query, niche string) string {
	term, ok := searchTerms[strings.ToLower(niche)]
	if !ok {
		term = defaultSearchTerm
	}
	values := url.Values{
		"k":   {strings.TrimSpace(query) + " " + term},
		"tag": {a.tag},
	}
	return a.searchURL + "?" + values.Encode()
}

var _ domain.AffiliateLinkFormatter = (*Amazon)(nil)
