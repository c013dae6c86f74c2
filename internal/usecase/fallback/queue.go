package fallback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"pin-affiliate-bot/internal/domain"
	"pin-affiliate-bot/internal/infra/metrics"
	"pin-affiliate-bot/internal/infra/storage"
)

// Config задаёт пределы очереди отложенных постов.
type Config struct {
	// MaxAttempts — сколько всего попыток публикации даётся записи, считая
	// первую. Достигнув предела, запись переходит в состояние dead.
	MaxAttempts int
}

// Queue — файловая очередь отложенных постов: FIFO с дедупликацией по
// стабильной идентичности кандидата. Повторный сбой того же логического
// поста обновляет существующую запись. Записи удаляются только через Ack
// после подтверждённой публикации или через Purge вручную.
type Queue struct {
	store *storage.Store
	cfg   Config
	log   zerolog.Logger
	now   func() time.Time
}

// NewQueue создаёт очередь поверх файлового хранилища.
func NewQueue(store *storage.Store, cfg Config, log zerolog.Logger) *Queue {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Queue{store: store, cfg: cfg, log: log, now: time.Now}
}

type persistedState struct {
	// Entries хранит записи по идентичности кандидата, Order — порядок
	// первого поступления для честного FIFO.
	Entries map[string]domain.QueueEntry `json:"entries"`
	Order   []string                     `json:"order"`
}

// Enqueue кладёт кандидата в очередь или обновляет существующую запись той
// же идентичности: счётчик попыток растёт, содержимое замещается свежим.
func (q *Queue) Enqueue(ctx context.Context, candidate domain.PostCandidate, reason string) (domain.QueueEntry, error) {
	identity := candidate.Identity()
	var saved domain.QueueEntry
	var pending, dead int
	err := q.store.Update(func(data []byte) ([]byte, error) {
		state, err := decodeState(data)
		if err != nil {
			return nil, err
		}
		now := q.now().UTC()
		entry, ok := state.Entries[identity]
		if !ok {
			entry = domain.QueueEntry{
				ID:            uuid.NewString(),
				Identity:      identity,
				Candidate:     candidate,
				Reason:        reason,
				Attempts:      1,
				State:         domain.QueueStatePending,
				FirstFailedAt: now,
				LastAttemptAt: now,
			}
			state.Order = append(state.Order, identity)
		} else {
			entry.Attempts++
			entry.Candidate = candidate
			entry.Reason = reason
			entry.LastAttemptAt = now
		}
		if entry.State == domain.QueueStatePending && entry.Attempts >= q.cfg.MaxAttempts {
			entry.State = domain.QueueStateDead
		}
		state.Entries[identity] = entry
		saved = entry
		pending, dead = state.counts()
		return encodeState(state)
	})
	if err != nil {
		return domain.QueueEntry{}, wrapStorage("постановка в очередь", err)
	}
	if saved.State == domain.QueueStateDead {
		q.log.Warn().
			Str("identity", saved.Identity).
			Int("attempts", saved.Attempts).
			Msg("очередь: запись исчерпала попытки и ждёт ручного разбора")
	}
	metrics.SetQueueDepth(pending, dead)
	return saved, nil
}

// DequeueBatch возвращает до maxN ожидающих записей в порядке поступления.
// Записи не удаляются: подтверждение публикации делает Ack.
func (q *Queue) DequeueBatch(ctx context.Context, maxN int) ([]domain.QueueEntry, error) {
	if maxN <= 0 {
		return nil, nil
	}
	state, err := q.readState()
	if err != nil {
		return nil, err
	}
	batch := make([]domain.QueueEntry, 0, maxN)
	for _, identity := range state.Order {
		entry, ok := state.Entries[identity]
		if !ok || entry.State != domain.QueueStatePending {
			continue
		}
		batch = append(batch, entry)
		if len(batch) == maxN {
			break
		}
	}
	return batch, nil
}

// Ack удаляет запись после подтверждённой публикации. Повторный вызов для
// уже удалённой записи не ошибка.
func (q *Queue) Ack(ctx context.Context, entryID string) error {
	return q.remove("подтверждение публикации", entryID)
}

// Purge удаляет запись вручную, в том числе из состояния dead.
func (q *Queue) Purge(ctx context.Context, entryID string) error {
	return q.remove("ручное удаление", entryID)
}

func (q *Queue) remove(op, entryID string) error {
	var pending, dead int
	err := q.store.Update(func(data []byte) ([]byte, error) {
		state, err := decodeState(data)
		if err != nil {
			return nil, err
		}
		identity := ""
		for id, entry := range state.Entries {
			if entry.ID == entryID {
				identity = id
				break
			}
		}
		if identity == "" {
			return nil, nil
		}
		delete(state.Entries, identity)
		state.Order = removeValue(state.Order, identity)
		pending, dead = state.counts()
		return encodeState(state)
	})
	if err != nil {
		return wrapStorage(op, err)
	}
	metrics.SetQueueDepth(pending, dead)
	return nil
}

// Size возвращает число записей, ожидающих повторной публикации. Записи в
// состоянии dead не считаются: их отдаёт Dead.
func (q *Queue) Size(ctx context.Context) (int, error) {
	state, err := q.readState()
	if err != nil {
		return 0, err
	}
	pending, dead := state.counts()
	metrics.SetQueueDepth(pending, dead)
	return pending, nil
}

// List возвращает все записи очереди в порядке поступления.
func (q *Queue) List(ctx context.Context) ([]domain.QueueEntry, error) {
	state, err := q.readState()
	if err != nil {
		return nil, err
	}
	return state.inOrder(func(domain.QueueEntry) bool { return true }), nil
}

// Dead возвращает записи, исчерпавшие попытки.
func (q *Queue) Dead(ctx context.Context) ([]domain.QueueEntry, error) {
	state, err := q.readState()
	if err != nil {
		return nil, err
	}
	return state.inOrder(func(entry domain.QueueEntry) bool {
		return entry.State == domain.QueueStateDead
	}), nil
}

func (q *Queue) readState() (*persistedState, error) {
	data, err := q.store.Read()
	if err != nil {
		return nil, wrapStorage("чтение очереди", err)
	}
	state, err := decodeState(data)
	if err != nil {
		return nil, wrapStorage("чтение очереди", err)
	}
	return state, nil
}

func (s *persistedState) counts() (pending, dead int) {
	for _, entry := range s.Entries {
		if entry.State == domain.QueueStateDead {
			dead++
		} else {
			pending++
		}
	}
	return pending, dead
}

func (s *persistedState) inOrder(keep func(domain.QueueEntry) bool) []domain.QueueEntry {
	out := make([]domain.QueueEntry, 0, len(s.Order))
	for _, identity := range s.Order {
		entry, ok := s.Entries[identity]
		if !ok || !keep(entry) {
			continue
		}
		out = append(out, entry)
	}
	return out
}

func decodeState(data []byte) (*persistedState, error) {
	state := &persistedState{Entries: make(map[string]domain.QueueEntry)}
	if len(data) == 0 {
		return state, nil
	}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("%w: расшифровка состояния очереди: %v", domain.ErrPersistence, err)
	}
	if state.Entries == nil {
		state.Entries = make(map[string]domain.QueueEntry)
	}
	return state, nil
}

func encodeState(state *persistedState) ([]byte, error) {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: кодирование состояния очереди: %v", domain.ErrPersistence, err)
	}
	return data, nil
}

func wrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrPersistence, op, err)
}

func removeValue(values []string, target string) []string {
	out := values[:0]
	for _, v := range values {
		if v != target {
			out = append(out, v)
		}
	}
	return out
}

var _ domain.FallbackQueue = (*Queue)(nil)
