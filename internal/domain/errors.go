package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrCompliance возвращается, когда контент нарушает правило компоновки.
	// Такие ошибки никогда не повторяются.
	ErrCompliance = errors.New("контент нарушает правила")

	// ErrBudgetExceeded возвращается при отклонённом резервировании бюджета.
	ErrBudgetExceeded = errors.New("бюджет исчерпан")

	// ErrRetryable помечает временные сбои внешних сервисов: сеть, 5xx,
	// лимит запросов, таймаут.
	ErrRetryable = errors.New("временная ошибка внешнего сервиса")

	// ErrFatalExternal помечает ошибки внешних сервисов, которые повтором
	// не исправить: авторизация, валидация.
	ErrFatalExternal = errors.New("фатальная ошибка внешнего сервиса")

	// ErrUnauthorized возвращается при отклонённом токене публикации.
	ErrUnauthorized = errors.New("токен публикации не принят")

	// ErrPersistence возвращается, когда хранилище леджера или очереди
	// нечитаемо либо недоступно для записи. Запуск завершается закрыто.
	ErrPersistence = errors.New("хранилище состояния недоступно")
)

// ComplianceError называет нарушенное правило контента.
type ComplianceError struct {
	Rule   string
	Detail string
}

func (e *ComplianceError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("правило %q нарушено", e.Rule)
	}
	return fmt.Sprintf("правило %q нарушено: %s", e.Rule, e.Detail)
}

// Unwrap относит ошибку к классу ErrCompliance.
func (e *ComplianceError) Unwrap() error { return ErrCompliance }

// BudgetError содержит диагностику отклонённого резервирования.
type BudgetError struct {
	Period    PeriodKind
	Requested decimal.Decimal
	Spent     decimal.Decimal
	Cap       decimal.Decimal
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("бюджет %s: запрошено %s при потраченных %s из %s", e.Period, e.Requested, e.Spent, e.Cap)
}

// Unwrap относит ошибку к классу ErrBudgetExceeded.
func (e *BudgetError) Unwrap() error { return ErrBudgetExceeded }

// GenerationStage указывает платный вызов внутри сборки кандидата.
type GenerationStage string

const (
	// StageImage — вызов генерации изображения.
	StageImage GenerationStage = "image"
	// StageCaption — вызов генерации подписи.
	StageCaption GenerationStage = "caption"
)

// GenerationError сообщает, какой из платных вызовов генерации не удался.
// По стадии вызывающая сторона решает, какие резервы бюджета вернуть.
type GenerationError struct {
	Stage GenerationStage
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("генерация (%s): %v", e.Stage, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }
