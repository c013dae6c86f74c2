package budget

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pin-affiliate-bot/internal/domain"
	"pin-affiliate-bot/internal/infra/metrics"
	"pin-affiliate-bot/internal/infra/storage"
)

// Config задаёт потолки бюджетных периодов.
type Config struct {
	DayCap   decimal.Decimal
	MonthCap decimal.Decimal
}

// Ledger хранит расход бюджета в JSON-файле под файловой блокировкой.
// Потолки приходят из конфигурации и перекрывают сохранённые значения при
// каждом обращении, поэтому флаг переопределения бюджета действует сразу.
//
// Чтение никогда не мутирует состояние: смена периода применяется только
// явным вызовом Rollover или Reset.
type Ledger struct {
	store *storage.Store
	cfg   Config
	log   zerolog.Logger
	now   func() time.Time
}

// NewLedger создаёт леджер поверх файлового хранилища.
func NewLedger(store *storage.Store, cfg Config, log zerolog.Logger) *Ledger {
	return &Ledger{store: store, cfg: cfg, log: log, now: time.Now}
}

type persistedState struct {
	Entries map[domain.PeriodKind]domain.BudgetEntry `json:"entries"`
}

// Reserve прибавляет сумму к расходу периода, если потолок не превышается.
// Отказ возвращается как BudgetError и ничего не записывает.
func (l *Ledger) Reserve(ctx context.Context, amount decimal.Decimal, period domain.PeriodKind) error {
	if amount.IsNegative() {
		return fmt.Errorf("бюджет: отрицательная сумма резерва %s", amount)
	}
	if amount.IsZero() {
		return nil
	}
	var updated domain.BudgetEntry
	err := l.store.Update(func(data []byte) ([]byte, error) {
		state, err := decodeState(data)
		if err != nil {
			return nil, err
		}
		entry := l.entryFor(state, period)
		next := entry.Spent.Add(amount)
		if next.GreaterThan(entry.Cap) {
			return nil, &domain.BudgetError{Period: period, Requested: amount, Spent: entry.Spent, Cap: entry.Cap}
		}
		entry.Spent = next
		state.Entries[period] = entry
		updated = entry
		return encodeState(state)
	})
	if err != nil {
		return wrapStorage("резервирование бюджета", err)
	}
	observeEntry(updated)
	return nil
}

// Release возвращает сумму неудавшегося платного вызова. Расход не
// опускается ниже нуля.
func (l *Ledger) Release(ctx context.Context, amount decimal.Decimal, period domain.PeriodKind) error {
	if amount.IsNegative() {
		return fmt.Errorf("бюджет: отрицательная сумма возврата %s", amount)
	}
	if amount.IsZero() {
		return nil
	}
	var updated domain.BudgetEntry
	err := l.store.Update(func(data []byte) ([]byte, error) {
		state, err := decodeState(data)
		if err != nil {
			return nil, err
		}
		entry := l.entryFor(state, period)
		entry.Spent = entry.Spent.Sub(amount)
		if entry.Spent.IsNegative() {
			entry.Spent = decimal.Zero
		}
		state.Entries[period] = entry
		updated = entry
		return encodeState(state)
	})
	if err != nil {
		return wrapStorage("возврат бюджета", err)
	}
	observeEntry(updated)
	return nil
}

// Reset обнуляет расход периода и ставит текущий ключ периода.
func (l *Ledger) Reset(ctx context.Context, period domain.PeriodKind) error {
	var updated domain.BudgetEntry
	err := l.store.Update(func(data []byte) ([]byte, error) {
		state, err := decodeState(data)
		if err != nil {
			return nil, err
		}
		entry := l.freshEntry(period)
		state.Entries[period] = entry
		updated = entry
		return encodeState(state)
	})
	if err != nil {
		return wrapStorage("сброс бюджета", err)
	}
	l.log.Info().Str("period", string(period)).Str("key", updated.PeriodKey).Msg("бюджет: период обнулён")
	observeEntry(updated)
	return nil
}

// Rollover обнуляет периоды с устаревшим ключом. Вызывается в начале
// каждого запуска; при актуальных ключах ничего не записывает.
func (l *Ledger) Rollover(ctx context.Context) error {
	rolled := make([]domain.BudgetEntry, 0, 2)
	err := l.store.Update(func(data []byte) ([]byte, error) {
		state, err := decodeState(data)
		if err != nil {
			return nil, err
		}
		rolled = rolled[:0]
		now := l.now().UTC()
		for _, period := range []domain.PeriodKind{domain.PeriodDay, domain.PeriodMonth} {
			entry, ok := state.Entries[period]
			if ok && entry.PeriodKey == period.Key(now) {
				continue
			}
			fresh := l.freshEntry(period)
			state.Entries[period] = fresh
			rolled = append(rolled, fresh)
		}
		if len(rolled) == 0 {
			return nil, nil
		}
		return encodeState(state)
	})
	if err != nil {
		return wrapStorage("переход бюджетного периода", err)
	}
	for _, entry := range rolled {
		l.log.Info().Str("period", string(entry.Period)).Str("key", entry.PeriodKey).Msg("бюджет: период обнулён")
		observeEntry(entry)
	}
	return nil
}

// Remaining возвращает остаток периода без изменения состояния.
func (l *Ledger) Remaining(ctx context.Context, period domain.PeriodKind) (decimal.Decimal, error) {
	data, err := l.store.Read()
	if err != nil {
		return decimal.Zero, wrapStorage("чтение бюджета", err)
	}
	state, err := decodeState(data)
	if err != nil {
		return decimal.Zero, wrapStorage("чтение бюджета", err)
	}
	entry := l.entryFor(state, period)
	return entry.Cap.Sub(entry.Spent), nil
}

// Snapshot возвращает живые записи обоих периодов без изменения состояния.
func (l *Ledger) Snapshot(ctx context.Context) ([]domain.BudgetEntry, error) {
	data, err := l.store.Read()
	if err != nil {
		return nil, wrapStorage("чтение бюджета", err)
	}
	state, err := decodeState(data)
	if err != nil {
		return nil, wrapStorage("чтение бюджета", err)
	}
	entries := make([]domain.BudgetEntry, 0, 2)
	for _, period := range []domain.PeriodKind{domain.PeriodDay, domain.PeriodMonth} {
		entry := l.entryFor(state, period)
		entries = append(entries, entry)
		observeEntry(entry)
	}
	return entries, nil
}

// entryFor возвращает запись периода с потолком из конфигурации.
// Отсутствующая запись означает нулевой расход текущего периода.
func (l *Ledger) entryFor(state *persistedState, period domain.PeriodKind) domain.BudgetEntry {
	entry, ok := state.Entries[period]
	if !ok {
		entry = l.freshEntry(period)
	}
	entry.Cap = l.capFor(period)
	return entry
}

func (l *Ledger) freshEntry(period domain.PeriodKind) domain.BudgetEntry {
	now := l.now().UTC()
	return domain.BudgetEntry{
		Period:    period,
		PeriodKey: period.Key(now),
		Spent:     decimal.Zero,
		Cap:       l.capFor(period),
		LastReset: now,
	}
}

func (l *Ledger) capFor(period domain.PeriodKind) decimal.Decimal {
	if period == domain.PeriodMonth {
		return l.cfg.MonthCap
	}
	return l.cfg.DayCap
}

func decodeState(data []byte) (*persistedState, error) {
	state := &persistedState{Entries: make(map[domain.PeriodKind]domain.BudgetEntry)}
	if len(data) == 0 {
		return state, nil
	}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("%w: расшифровка состояния бюджета: %v", domain.ErrPersistence, err)
	}
	if state.Entries == nil {
		state.Entries = make(map[domain.PeriodKind]domain.BudgetEntry)
	}
	return state, nil
}

func encodeState(state *persistedState) ([]byte, error) {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: кодирование состояния бюджета: %v", domain.ErrPersistence, err)
	}
	return data, nil
}

// wrapStorage относит ошибки файлового хранилища к классу ErrPersistence.
// Уже классифицированные ошибки проходят без изменений.
func wrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrBudgetExceeded) || errors.Is(err, domain.ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrPersistence, op, err)
}

func observeEntry(entry domain.BudgetEntry) {
	metrics.SetBudget(string(entry.Period), entry.Spent.InexactFloat64(), entry.Cap.InexactFloat64())
}

var _ domain.BudgetLedger = (*Ledger)(nil)
