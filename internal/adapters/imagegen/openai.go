package imagegen

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"pin-affiliate-bot/internal/domain"
	openai "pin-affiliate-bot/internal/infra/openai"
)

type imageClient interface {
	CreateImage(ctx context.Context, req openai.ImageGenerationRequest) (openai.ImageGenerationResponse, error)
}

// OpenAI генерирует изображения пинов через OpenAI Images API.
type OpenAI struct {
	client  imageClient
	model   string
	cost    decimal.Decimal
	timeout time.Duration
}

// NewOpenAI создаёт генератор изображений. Стоимость одного изображения
// фиксирована тарифом модели.
func NewOpenAI(client imageClient, model string, cost decimal.Decimal, timeout time.Duration) *OpenAI {
	if model == "" {
		model = "dall-e-3"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAI{client: client, model: model, cost: cost, timeout: timeout}
}

// Generate создаёт одно изображение по промпту.
func (g *OpenAI) Generate(ctx context.Context, req domain.ImageRequest) (domain.ImageResult, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return domain.ImageResult{}, fmt.Errorf("imagegen: пустой промпт")
	}
	size := req.Size
	if size == "" {
		size = "1024x1024"
	}
	quality := req.Quality
	if quality == "" {
		quality = "standard"
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.CreateImage(callCtx, openai.ImageGenerationRequest{
		Model:   g.model,
		Prompt:  prompt,
		N:       1,
		Size:    size,
		Quality: quality,
	})
	if err != nil {
		return domain.ImageResult{}, classify("generate image", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return domain.ImageResult{}, fmt.Errorf("imagegen: пустой ответ генерации")
	}
	return domain.ImageResult{URL: resp.Data[0].URL, Cost: g.cost}, nil
}

// classify переводит ошибки провайдера в доменные классы: 429 и 5xx можно
// повторить, остальные коды повтором не исправить, сетевые сбои временные.
func classify(op string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500 {
			return fmt.Errorf("imagegen: %s (%v): %w", op, err, domain.ErrRetryable)
		}
		return fmt.Errorf("imagegen: %s (%v): %w", op, err, domain.ErrFatalExternal)
	}
	return fmt.Errorf("imagegen: %s (%v): %w", op, err, domain.ErrRetryable)
}

var _ domain.ImageBackend = (*OpenAI)(nil)
