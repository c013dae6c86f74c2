package fallback

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"pin-affiliate-bot/internal/domain"
	"pin-affiliate-bot/internal/infra/storage"
)

func newTestQueue(t *testing.T, maxAttempts int) (*Queue, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queue.json")
	return NewQueue(storage.NewStore(path), Config{MaxAttempts: maxAttempts}, zerolog.Nop()), path
}

func candidate(topic string) domain.PostCandidate {
	return domain.PostCandidate{
		Topic:         topic,
		Title:         "Title",
		Caption:       "Caption",
		AffiliateLink: "https://www.amazon.com/s?k=" + topic,
	}
}

func TestEnqueueDeduplicatesByIdentity(t *testing.T) {
	queue, _ := newTestQueue(t, 5)
	ctx := context.Background()

	first, err := queue.Enqueue(ctx, candidate("serum"), "сетевой сбой")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	second, err := queue.Enqueue(ctx, candidate("serum"), "лимит запросов")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("повторный сбой должен обновлять ту же запись")
	}
	if second.Attempts != 2 || second.Reason != "лимит запросов" {
		t.Fatalf("неожиданная запись после повтора: %+v", second)
	}

	if _, err := queue.Enqueue(ctx, candidate("mascara"), "сетевой сбой"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	size, err := queue.Size(ctx)
	if err != nil {
		t.Fatalf("не ожидали ошибку размера: %v", err)
	}
	if size != 2 {
		t.Fatalf("ожидали две записи, получили %d", size)
	}
}

func TestEnqueueMarksDeadAfterMaxAttempts(t *testing.T) {
	queue, _ := newTestQueue(t, 2)
	ctx := context.Background()

	if _, err := queue.Enqueue(ctx, candidate("serum"), "сбой"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	entry, err := queue.Enqueue(ctx, candidate("serum"), "сбой")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if entry.State != domain.QueueStateDead {
		t.Fatalf("ожидали состояние dead, получили %s", entry.State)
	}

	size, err := queue.Size(ctx)
	if err != nil {
		t.Fatalf("не ожидали ошибку размера: %v", err)
	}
	if size != 0 {
		t.Fatalf("dead-записи не должны считаться ожидающими, размер %d", size)
	}
	batch, err := queue.DequeueBatch(ctx, 10)
	if err != nil {
		t.Fatalf("не ожидали ошибку выборки: %v", err)
	}
	if len(batch) != 0 {
		t.Fatalf("dead-записи не должны попадать в выборку: %+v", batch)
	}
	dead, err := queue.Dead(ctx)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(dead) != 1 || dead[0].Attempts != 2 {
		t.Fatalf("dead-запись должна остаться видимой: %+v", dead)
	}
}

func TestDequeueBatchPeeksInOrder(t *testing.T) {
	queue, _ := newTestQueue(t, 5)
	ctx := context.Background()

	for _, topic := range []string{"serum", "shampoo", "lipstick"} {
		if _, err := queue.Enqueue(ctx, candidate(topic), "сбой"); err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
	}

	batch, err := queue.DequeueBatch(ctx, 2)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(batch) != 2 || batch[0].Candidate.Topic != "serum" || batch[1].Candidate.Topic != "shampoo" {
		t.Fatalf("ожидали первые две записи в порядке поступления: %+v", batch)
	}

	// Выборка не удаляет: повторный вызов возвращает те же записи.
	again, err := queue.DequeueBatch(ctx, 2)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(again) != 2 || again[0].ID != batch[0].ID {
		t.Fatalf("повторная выборка должна вернуть те же записи: %+v", again)
	}
}

func TestAckRemovesEntryIdempotently(t *testing.T) {
	queue, _ := newTestQueue(t, 5)
	ctx := context.Background()

	entry, err := queue.Enqueue(ctx, candidate("serum"), "сбой")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if err := queue.Ack(ctx, entry.ID); err != nil {
		t.Fatalf("не ожидали ошибку подтверждения: %v", err)
	}
	size, err := queue.Size(ctx)
	if err != nil {
		t.Fatalf("не ожидали ошибку размера: %v", err)
	}
	if size != 0 {
		t.Fatalf("ожидали пустую очередь, размер %d", size)
	}

	if err := queue.Ack(ctx, entry.ID); err != nil {
		t.Fatalf("повторное подтверждение не должно падать: %v", err)
	}
	if err := queue.Ack(ctx, "нет-такой-записи"); err != nil {
		t.Fatalf("подтверждение неизвестной записи не должно падать: %v", err)
	}
}

func TestQueueSurvivesReload(t *testing.T) {
	queue, path := newTestQueue(t, 5)
	ctx := context.Background()

	original, err := queue.Enqueue(ctx, candidate("serum"), "сбой")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	reloaded := NewQueue(storage.NewStore(path), Config{MaxAttempts: 5}, zerolog.Nop())
	batch, err := reloaded.DequeueBatch(ctx, 10)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(batch) != 1 || batch[0].ID != original.ID {
		t.Fatalf("очередь должна переживать перезапуск: %+v", batch)
	}
}

func TestPurgeRemovesDeadEntry(t *testing.T) {
	queue, _ := newTestQueue(t, 1)
	ctx := context.Background()

	entry, err := queue.Enqueue(ctx, candidate("serum"), "сбой")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if entry.State != domain.QueueStateDead {
		t.Fatalf("при пределе в одну попытку запись сразу dead: %+v", entry)
	}
	if err := queue.Purge(ctx, entry.ID); err != nil {
		t.Fatalf("не ожидали ошибку удаления: %v", err)
	}
	dead, err := queue.Dead(ctx)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(dead) != 0 {
		t.Fatalf("ожидали пустой список dead, получили %+v", dead)
	}
}

func TestCorruptQueueFailsClosed(t *testing.T) {
	queue, path := newTestQueue(t, 5)
	ctx := context.Background()
	if err := os.WriteFile(path, []byte("{broken"), 0o644); err != nil {
		t.Fatalf("не удалось подготовить файл: %v", err)
	}

	if _, err := queue.Enqueue(ctx, candidate("serum"), "сбой"); !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("ожидали ошибку хранилища, получили %v", err)
	}
	if _, err := queue.DequeueBatch(ctx, 1); !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("ожидали ошибку хранилища, получили %v", err)
	}
}
