package trends

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

const feedXML = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Beauty trends</title>
    <item><title>glass skin routine</title></item>
    <item><title>  </title></item>
    <item><title>heatless curls</title></item>
  </channel>
</rss>`

func TestRSSFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(feedXML))
	}))
	t.Cleanup(server.Close)

	source := NewRSS(server.URL, 10)
	trends, err := source.Fetch(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(trends) != 2 {
		t.Fatalf("ожидали две темы после отсева пустых, получили %d", len(trends))
	}
	if trends[0].Topic != "glass skin routine" || trends[1].Topic != "heatless curls" {
		t.Fatalf("неожиданные темы: %+v", trends)
	}
	if trends[0].Score <= trends[1].Score {
		t.Fatalf("ожидали убывающий балл по позиции в ленте: %d и %d", trends[0].Score, trends[1].Score)
	}
}

func TestRSSFetchLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(feedXML))
	}))
	t.Cleanup(server.Close)

	source := NewRSS(server.URL, 1)
	trends, err := source.Fetch(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(trends) != 1 {
		t.Fatalf("ожидали одну тему из-за лимита, получили %d", len(trends))
	}
}

func TestMockFetch(t *testing.T) {
	trends, err := NewMock().Fetch(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(trends) != 3 {
		t.Fatalf("ожидали три предопределённые темы, получили %d", len(trends))
	}
	if trends[0].Topic != "natural skincare routine" {
		t.Fatalf("неожиданная первая тема: %q", trends[0].Topic)
	}
}
