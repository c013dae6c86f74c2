package pinterest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"pin-affiliate-bot/internal/domain"
	"pin-affiliate-bot/internal/infra/metrics"
)

const (
	defaultBaseURL = "https://api.pinterest.com"

	titleMaxRunes       = 100
	descriptionMaxRunes = 500
	altTextMaxRunes     = 500
)

// Client вызывает Pinterest API v5: создание пинов, трендовые темы,
// обновление токена доступа.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu    sync.RWMutex
	token string

	appID        string
	appSecret    string
	refreshToken string

	region string
	limit  int

	// Документированный лимит платформы — около 5 запросов в минуту,
	// поэтому между вызовами создания пина выдерживается пауза.
	minCallGap time.Duration
	gapMu      sync.Mutex
	lastCall   time.Time
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if c.httpClient == nil {
			c.httpClient = &http.Client{}
		}
		c.httpClient.Timeout = timeout
	}
}

// WithRefreshCredentials задаёт данные приложения для обновления токена.
func WithRefreshCredentials(appID, appSecret, refreshToken string) Option {
	return func(c *Client) {
		c.appID = appID
		c.appSecret = appSecret
		c.refreshToken = refreshToken
	}
}

// WithTrendsQuery задаёт регион и размер выдачи трендов.
func WithTrendsQuery(region string, limit int) Option {
	return func(c *Client) {
		if region != "" {
			c.region = region
		}
		if limit > 0 {
			c.limit = limit
		}
	}
}

// WithMinCallGap задаёт минимальный интервал между вызовами создания пина.
func WithMinCallGap(gap time.Duration) Option {
	return func(c *Client) {
		c.minCallGap = gap
	}
}

func New(baseURL, accessToken string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	client := &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		token:      accessToken,
		region:     "US",
		limit:      50,
		minCallGap: 12 * time.Second,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// APIError описывает ошибочный ответ платформы публикации. RetryAfter
// заполняется из одноимённого заголовка при ответе 429.
type APIError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("pinterest api error: status=%d body=%s", e.Status, e.Body)
}

// Unwrap классифицирует ответ: 401 — отклонённый токен, 429 и 5xx —
// временные сбои, остальные 4xx повтором не исправить.
func (e *APIError) Unwrap() error {
	switch {
	case e.Status == http.StatusUnauthorized:
		return domain.ErrUnauthorized
	case e.Status == http.StatusTooManyRequests:
		return domain.ErrRetryable
	case e.Status >= 500:
		return domain.ErrRetryable
	default:
		return domain.ErrFatalExternal
	}
}

// CreatePin создаёт пин и возвращает его идентификатор.
func (c *Client) CreatePin(ctx context.Context, payload domain.PinPayload) (string, error) {
	if payload.BoardID == "" {
		return "", fmt.Errorf("pinterest: board id is required: %w", domain.ErrFatalExternal)
	}
	if err := c.waitTurn(ctx); err != nil {
		return "", err
	}
	body := map[string]any{
		"title":       clipRunes(payload.Title, titleMaxRunes),
		"description": clipRunes(payload.Description, descriptionMaxRunes),
		"link":        payload.Link,
		"board_id":    payload.BoardID,
		"alt_text":    clipRunes(payload.AltText, altTextMaxRunes),
		"media_source": map[string]string{
			"source_type": "image_url",
			"url":         payload.ImageURL,
		},
	}
	if payload.BoardSectionID != "" {
		body["board_section_id"] = payload.BoardSectionID
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := c.post(ctx, "/v5/pins", "create_pin", body, &created); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
			c.deferNextCall(apiErr.RetryAfter)
		}
		return "", err
	}
	if created.ID == "" {
		return "", fmt.Errorf("pinterest: empty pin id in response: %w", domain.ErrFatalExternal)
	}
	return created.ID, nil
}

// Fetch возвращает трендовые темы раздела beauty.
func (c *Client) Fetch(ctx context.Context) ([]domain.Trend, error) {
	q := url.Values{
		"scope":  {"beauty"},
		"region": {c.region},
		"limit":  {strconv.Itoa(c.limit)},
	}
	var resp struct {
		Data []struct {
			Query  string `json:"query"`
			Volume int    `json:"volume"`
		} `json:"data"`
	}
	if err := c.get(ctx, "/v5/trending/topics?"+q.Encode(), "trending_topics", &resp); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	trends := make([]domain.Trend, 0, len(resp.Data))
	for _, item := range resp.Data {
		query := strings.TrimSpace(item.Query)
		if query == "" {
			continue
		}
		trends = append(trends, domain.Trend{Topic: query, Score: item.Volume, DiscoveredAt: now})
	}
	return trends, nil
}

// Refresh обменивает refresh-токен на новый токен доступа и применяет его
// к живому клиенту.
func (c *Client) Refresh(ctx context.Context) (string, error) {
	if c.appID == "" || c.appSecret == "" || c.refreshToken == "" {
		return "", fmt.Errorf("pinterest: refresh credentials are not configured: %w", domain.ErrFatalExternal)
	}
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {c.refreshToken},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.resolve("/v5/oauth/token"), strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.appID, c.appSecret)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ObserveNetworkRequest("pinterest", "oauth_token", "api", start, err)
		return "", fmt.Errorf("pinterest: refresh request (%v): %w", err, domain.ErrRetryable)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.ObserveNetworkRequest("pinterest", "oauth_token", "api", start, err)
		return "", fmt.Errorf("pinterest: read refresh response (%v): %w", err, domain.ErrRetryable)
	}
	if resp.StatusCode >= 400 {
		apiErr := newAPIError(resp, data)
		metrics.ObserveNetworkRequest("pinterest", "oauth_token", "api", start, apiErr)
		return "", apiErr
	}
	metrics.ObserveNetworkRequest("pinterest", "oauth_token", "api", start, nil)

	var token struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(data, &token); err != nil {
		return "", fmt.Errorf("decode refresh response: %w", err)
	}
	if !validToken(token.AccessToken) {
		return "", fmt.Errorf("pinterest: refreshed token looks malformed: %w", domain.ErrFatalExternal)
	}

	c.mu.Lock()
	c.token = token.AccessToken
	c.mu.Unlock()
	return token.AccessToken, nil
}

// validToken отсеивает явно битые токены до первого сетевого вызова.
func validToken(token string) bool {
	return strings.HasPrefix(token, "pina_") && len(token) > 30
}

func (c *Client) waitTurn(ctx context.Context) error {
	if c.minCallGap <= 0 {
		return nil
	}
	c.gapMu.Lock()
	defer c.gapMu.Unlock()
	wait := c.minCallGap - time.Since(c.lastCall)
	if !c.lastCall.IsZero() && wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	c.lastCall = time.Now()
	return nil
}

// deferNextCall сдвигает отметку последнего вызова так, чтобы следующая
// попытка создать пин состоялась не раньше срока из Retry-After.
func (c *Client) deferNextCall(retryAfter time.Duration) {
	if c.minCallGap <= 0 {
		return
	}
	c.gapMu.Lock()
	defer c.gapMu.Unlock()
	deferred := time.Now().Add(retryAfter - c.minCallGap)
	if deferred.After(c.lastCall) {
		c.lastCall = deferred
	}
}

func (c *Client) get(ctx context.Context, endpoint, operation string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, operation, out)
}

func (c *Client) post(ctx context.Context, endpoint, operation string, body, out any) error {
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return err
	}
	return c.do(req, operation, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body any) (*http.Request, error) {
	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		buf = strings.NewReader(string(raw))
	}
	req, err := http.NewRequestWithContext(ctx, method, c.resolve(endpoint), buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.RLock()
	req.Header.Set("Authorization", "Bearer "+c.token)
	c.mu.RUnlock()
	return req, nil
}

func (c *Client) resolve(endpoint string) string {
	resolved := *c.baseURL
	rawPath := endpoint
	rawQuery := ""
	if idx := strings.Index(endpoint, "?"); idx >= 0 {
		rawPath = endpoint[:idx]
		rawQuery = endpoint[idx+1:]
	}
	basePath := strings.TrimSuffix(c.baseURL.Path, "/")
	resolved.Path = path.Clean(basePath + rawPath)
	resolved.RawQuery = rawQuery
	return resolved.String()
}

func (c *Client) do(req *http.Request, operation string, out any) error {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ObserveNetworkRequest("pinterest", operation, "api", start, err)
		return fmt.Errorf("pinterest: do request (%v): %w", err, domain.ErrRetryable)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.ObserveNetworkRequest("pinterest", operation, "api", start, err)
		return fmt.Errorf("pinterest: read response (%v): %w", err, domain.ErrRetryable)
	}
	if resp.StatusCode >= 400 {
		apiErr := newAPIError(resp, data)
		metrics.ObserveNetworkRequest("pinterest", operation, "api", start, apiErr)
		return apiErr
	}
	metrics.ObserveNetworkRequest("pinterest", operation, "api", start, nil)

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func newAPIError(resp *http.Response, body []byte) *APIError {
	apiErr := &APIError{
		Status: resp.StatusCode,
		Body:   clipRunes(strings.TrimSpace(string(body)), 300),
	}
	if apiErr.Status == http.StatusTooManyRequests {
		if seconds, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && seconds > 0 {
			apiErr.RetryAfter = time.Duration(seconds) * time.Second
		}
	}
	return apiErr
}

func clipRunes(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}

var _ domain.PublishingAPI = (*Client)(nil)
var _ domain.TrendSource = (*Client)(nil)
var _ domain.TokenRefresher = (*Client)(nil)
