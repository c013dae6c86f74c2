package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Trend описывает трендовую тему из источника трендов. Живёт в пределах
// одного запуска.
type Trend struct {
	Topic        string
	Matches      []string
	Score        int
	DiscoveredAt time.Time
}

// PostCandidate представляет собранный пост. После сборки не изменяется:
// кандидат либо публикуется, либо целиком попадает в очередь отложенных.
type PostCandidate struct {
	Topic         string    `json:"topic"`
	Title         string    `json:"title"`
	Caption       string    `json:"caption"`
	ImageURL      string    `json:"image_url"`
	AltText       string    `json:"alt_text"`
	AffiliateLink string    `json:"affiliate_link"`
	Disclosure    string    `json:"disclosure"`
	Hashtags      []string  `json:"hashtags"`
	Niche         string    `json:"niche"`
	SubNiche      string    `json:"sub_niche"`
	CreatedAt     time.Time `json:"created_at"`
}

// Identity возвращает стабильный ключ кандидата. Повторные сбои одного и
// того же логического поста обновляют одну запись очереди, а не плодят новые.
func (c PostCandidate) Identity() string {
	return strings.ToLower(strings.TrimSpace(c.Topic)) + "|" + c.AffiliateLink
}

// PeriodKind задаёт вид бюджетного периода.
type PeriodKind string

const (
	// PeriodDay — дневной бюджет генерации изображений.
	PeriodDay PeriodKind = "day"
	// PeriodMonth — месячный бюджет генерации текста.
	PeriodMonth PeriodKind = "month"
)

// Key возвращает ключ периода для переданного момента времени (UTC).
func (p PeriodKind) Key(t time.Time) string {
	switch p {
	case PeriodMonth:
		return t.UTC().Format("2006-01")
	default:
		return t.UTC().Format("2006-01-02")
	}
}

// BudgetEntry хранит расход одного бюджетного периода. На каждый вид
// периода существует ровно одна живая запись; инвариант Spent <= Cap
// обеспечивается резервированием до платного вызова.
type BudgetEntry struct {
	Period    PeriodKind      `json:"period"`
	PeriodKey string          `json:"period_key"`
	Spent     decimal.Decimal `json:"spent"`
	Cap       decimal.Decimal `json:"cap"`
	LastReset time.Time       `json:"last_reset"`
}

// QueueEntryState описывает состояние записи очереди отложенных постов.
type QueueEntryState string

const (
	// QueueStatePending — запись ждёт повторной публикации.
	QueueStatePending QueueEntryState = "pending"
	// QueueStateDead — запись исчерпала попытки и ждёт ручного разбора.
	QueueStateDead QueueEntryState = "dead"
)

// QueueEntry — запись очереди отложенных постов. Ключом служит
// PostCandidate.Identity, удаление происходит только через Ack или Purge.
type QueueEntry struct {
	ID            string          `json:"id"`
	Identity      string          `json:"identity"`
	Candidate     PostCandidate   `json:"candidate"`
	Reason        string          `json:"reason"`
	Attempts      int             `json:"attempts"`
	State         QueueEntryState `json:"state"`
	FirstFailedAt time.Time       `json:"first_failed_at"`
	LastAttemptAt time.Time       `json:"last_attempt_at"`
}

// RunResult подводит итог одного запуска оркестратора. Используется для
// отчётности и не сохраняется как доменное состояние.
type RunResult struct {
	RunID        string
	Attempted    int
	Succeeded    int
	Queued       int
	FailedFatal  int
	NotAttempted int
	Spend        decimal.Decimal
	Halted       bool
	HaltReason   string
}

// DrainStats подводит итог одного цикла разгрузки очереди.
type DrainStats struct {
	Attempted int
	Published int
	Failed    int
}

// PinPayload — тело запроса создания пина. Ограничения длины полей
// принадлежат платформе публикации и проверяются её адаптером.
type PinPayload struct {
	Title          string
	Description    string
	Link           string
	BoardID        string
	BoardSectionID string
	ImageURL       string
	AltText        string
}

// ImageRequest — запрос генерации изображения. Промпт собирается из
// фиксированного шаблона ниши, разрешение и стиль не варьируются.
type ImageRequest struct {
	Prompt  string
	Size    string
	Quality string
}

// ImageResult — результат генерации изображения с фактической ценой вызова.
type ImageResult struct {
	URL  string
	Cost decimal.Decimal
}

// TextRequest — запрос генерации подписи с целевыми границами длины и
// бюджетом токенов.
type TextRequest struct {
	Topic     string
	Niche     string
	SubNiche  string
	Keywords  []string
	MinChars  int
	MaxChars  int
	MaxTokens int
}

// TextResult — результат генерации подписи.
type TextResult struct {
	Title      string
	Caption    string
	Hashtags   []string
	TokensUsed int
	Cost       decimal.Decimal
}

// BuildOptions уточняет сборку кандидата.
type BuildOptions struct {
	// TemplateCaption просит собрать подпись из шаблонного банка фраз без
	// платного вызова текстового бэкенда.
	TemplateCaption bool
}

// BuildUsage — фактическая стоимость платных вызовов одной сборки.
// Неудавшийся или не выполнявшийся вызов оставляет ноль.
type BuildUsage struct {
	ImageCost  decimal.Decimal
	TextCost   decimal.Decimal
	TextTokens int
}

// Severity задаёт важность оповещения.
type Severity string

const (
	// SeverityInfo — информационное оповещение.
	SeverityInfo Severity = "info"
	// SeverityWarning — требует внимания оператора.
	SeverityWarning Severity = "warning"
	// SeverityCritical — требует вмешательства оператора.
	SeverityCritical Severity = "critical"
)
