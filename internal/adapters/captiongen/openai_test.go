package captiongen

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"pin-affiliate-bot/internal/domain"
	openai "pin-affiliate-bot/internal/infra/openai"
)

type stubChatClient struct {
	req  openai.ChatCompletionRequest
	resp openai.ChatCompletionResponse
	err  error
}

func (s *stubChatClient) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.req = req
	return s.resp, s.err
}

func TestGenerateParsesPayloadAndCost(t *testing.T) {
	client := &stubChatClient{resp: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatMessage{Content: `{"title":"Glow Guide","caption":"A calm caption.","hashtags":["skincare","  ","glow"]}`},
		}},
		Usage: &openai.ChatCompletionUsage{PromptTokens: 1000, CompletionTokens: 500, TotalTokens: 1500},
	}}
	gen := NewOpenAI(client, "gpt-3.5-turbo", decimal.RequireFromString("0.002"), time.Second)

	result, err := gen.Generate(context.Background(), domain.TextRequest{
		Topic:     "natural skincare routine",
		Niche:     "skincare",
		SubNiche:  "serum",
		Keywords:  []string{"serum", "glow"},
		MinChars:  140,
		MaxChars:  180,
		MaxTokens: 200,
	})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if result.Title != "Glow Guide" || result.Caption != "A calm caption." {
		t.Fatalf("неожиданный разбор ответа: %+v", result)
	}
	if len(result.Hashtags) != 2 {
		t.Fatalf("ожидали два хештега после отсева пустых, получили %v", result.Hashtags)
	}
	if result.TokensUsed != 1500 {
		t.Fatalf("ожидали 1500 токенов, получили %d", result.TokensUsed)
	}
	if !result.Cost.Equal(decimal.RequireFromString("0.003")) {
		t.Fatalf("ожидали стоимость 0.003, получили %s", result.Cost)
	}
	if client.req.MaxTokens != 200 {
		t.Fatalf("ожидали ограничение в 200 токенов, получили %d", client.req.MaxTokens)
	}
	if client.req.ResponseFormat == nil || client.req.ResponseFormat.Type != openai.ResponseFormatTypeJSONObject {
		t.Fatalf("ожидали формат ответа json_object")
	}
}

func TestGenerateEmptyChoices(t *testing.T) {
	gen := NewOpenAI(&stubChatClient{}, "", decimal.Zero, 0)
	if _, err := gen.Generate(context.Background(), domain.TextRequest{Topic: "topic"}); err == nil {
		t.Fatalf("ожидали ошибку на пустом ответе")
	}
}

func TestGenerateMalformedJSON(t *testing.T) {
	client := &stubChatClient{resp: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatMessage{Content: "not json"}}},
	}}
	gen := NewOpenAI(client, "", decimal.Zero, 0)
	if _, err := gen.Generate(context.Background(), domain.TextRequest{Topic: "topic"}); err == nil {
		t.Fatalf("ожидали ошибку разбора JSON")
	}
}

func TestGenerateClassifiesErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{name: "rate limited", err: &openai.APIError{StatusCode: 429}, want: domain.ErrRetryable},
		{name: "unauthorized", err: &openai.APIError{StatusCode: 401}, want: domain.ErrFatalExternal},
		{name: "network", err: errors.New("timeout"), want: domain.ErrRetryable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gen := NewOpenAI(&stubChatClient{err: tc.err}, "", decimal.Zero, 0)
			_, err := gen.Generate(context.Background(), domain.TextRequest{Topic: "topic"})
			if !errors.Is(err, tc.want) {
				t.Fatalf("ожидали класс %v, получили %v", tc.want, err)
			}
		})
	}
}
