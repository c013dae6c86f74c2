package captiongen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"pin-affiliate-bot/internal/domain"
	openai "pin-affiliate-bot/internal/infra/openai"
)

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAI генерирует заголовок, подпись и хештеги пина через Chat Completions.
type OpenAI struct {
	client    chatClient
	model     string
	ratePer1K decimal.Decimal
	timeout   time.Duration
}

// NewOpenAI создаёт генератор текста. Стоимость считается по тарифу за
// тысячу токенов.
func NewOpenAI(client chatClient, model string, ratePer1K decimal.Decimal, timeout time.Duration) *OpenAI {
	if model == "" {
		model = "gpt-3.5-turbo"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAI{client: client, model: model, ratePer1K: ratePer1K, timeout: timeout}
}

type captionPayload struct {
	Title    string   `json:"title"`
	Caption  string   `json:"caption"`
	Hashtags []string `json:"hashtags"`
}

// Generate строит текст пина по теме.
func (g *OpenAI) Generate(ctx context.Context, req domain.TextRequest) (domain.TextResult, error) {
	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		return domain.TextResult{}, fmt.Errorf("captiongen: пустая тема")
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	keywords := strings.Join(req.Keywords, ", ")
	if keywords == "" {
		keywords = req.Niche
	}
	userPrompt := fmt.Sprintf(`Write a Pinterest pin for the topic "%s" (niche: %s, sub-niche: %s).
Return JSON of the form {"title": "...", "caption": "...", "hashtags": ["..."]} with no commentary.
Rules:
- title: catchy, at most 80 characters;
- caption: between %d and %d characters, friendly tone, naturally mention: %s;
- hashtags: 3 to 5 items, lowercase, without the # sign;
- never promise medical or guaranteed results.`,
		topic, req.Niche, req.SubNiche, req.MinChars, req.MaxChars, keywords)

	chatReq := openai.ChatCompletionRequest{
		Model:       g.model,
		Temperature: 0.7,
		MaxTokens:   req.MaxTokens,
		Messages: []openai.ChatMessage{
			{
				Role:    openai.RoleSystem,
				Content: "You are a social media copywriter for a beauty account. Keep the tone warm and concrete, avoid medical claims.",
			},
			{
				Role:    openai.RoleUser,
				Content: userPrompt,
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ResponseFormatTypeJSONObject},
	}

	resp, err := g.client.CreateChatCompletion(callCtx, chatReq)
	if err != nil {
		return domain.TextResult{}, classify("chat completion", err)
	}
	if len(resp.Choices) == 0 {
		return domain.TextResult{}, fmt.Errorf("captiongen: пустой ответ")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	var parsed captionPayload
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return domain.TextResult{}, fmt.Errorf("распаковка ответа LLM: %w", err)
	}

	tokens := 0
	if resp.Usage != nil {
		tokens = resp.Usage.TotalTokens
	}
	cost := g.ratePer1K.Mul(decimal.NewFromInt(int64(tokens))).Div(decimal.NewFromInt(1000))

	return domain.TextResult{
		Title:      strings.TrimSpace(parsed.Title),
		Caption:    strings.TrimSpace(parsed.Caption),
		Hashtags:   filterValues(parsed.Hashtags),
		TokensUsed: tokens,
		Cost:       cost,
	}, nil
}

// classify переводит ошибки провайдера в доменные классы: 429 и 5xx можно
// повторить, остальные коды повтором не исправить, сетевые сбои временные.
func classify(op string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500 {
			return fmt.Errorf("captiongen: %s (%v): %w", op, err, domain.ErrRetryable)
		}
		return fmt.Errorf("captiongen: %s (%v): %w", op, err, domain.ErrFatalExternal)
	}
	return fmt.Errorf("captiongen: %s (%v): %w", op, err, domain.ErrRetryable)
}

func filterValues(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

var _ domain.TextBackend = (*OpenAI)(nil)
