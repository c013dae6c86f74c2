package affiliate

import (
	"net/url"
	"testing"
)

func TestFormatAppendsCategoryAndTag(t *testing.T) {
	formatter := NewAmazon("beautybot-20")
	link := formatter.Format("natural skincare routine", "skincare")

	parsed, err := url.Parse(link)
	if err != nil {
		t.Fatalf("не удалось разобрать ссылку: %v", err)
	}
	if parsed.Host != "www.amazon.com" || parsed.Path != "/s" {
		t.Fatalf("неожиданный адрес поиска: %s", link)
	}
	if got := parsed.Query().Get("k"); got != "natural skincare routine skincare beauty" {
		t.Fatalf("неожиданный поисковый запрос: %q", got)
	}
	if got := parsed.Query().Get("tag"); got != "beautybot-20" {
		t.Fatalf("неожиданная партнёрская метка: %q", got)
	}
}

func TestFormatUnknownNicheFallsBackToBeauty(t *testing.T) {
	formatter := NewAmazon("beautybot-20")
	link := formatter.Format("query", "nails")

	parsed, err := url.Parse(link)
	if err != nil {
		t.Fatalf("не удалось разобрать ссылку: %v", err)
	}
	if got := parsed.Query().Get("k"); got != "query beauty" {
		t.Fatalf("ожидали общий довесок beauty, получили %q", got)
	}
}

func TestFormatDeterministic(t *testing.T) {
	formatter := NewAmazon("beautybot-20")
	if formatter.Format("serum", "skincare") != formatter.Format("serum", "skincare") {
		t.Fatalf("ожидали детерминированную ссылку")
	}
}
