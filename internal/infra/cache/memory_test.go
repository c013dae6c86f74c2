package cache

import (
	"errors"
	"testing"
	"time"
)

func TestMemoryOnceRunsSingleTime(t *testing.T) {
	c := NewMemory()
	calls := 0
	for i := 0; i < 3; i++ {
		if err := c.Once("key", time.Minute, func() error { calls++; return nil }); err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
	}
	if calls != 1 {
		t.Fatalf("функция должна выполниться один раз, выполнилась %d", calls)
	}
}

func TestMemoryOnceRetriesAfterError(t *testing.T) {
	c := NewMemory()
	boom := errors.New("boom")
	if err := c.Once("key", time.Minute, func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("ожидали ошибку из функции, получили %v", err)
	}
	calls := 0
	if err := c.Once("key", time.Minute, func() error { calls++; return nil }); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if calls != 1 {
		t.Fatalf("после ошибки ключ должен был освободиться")
	}
}

func TestMemoryGetExpired(t *testing.T) {
	c := NewMemory()
	current := time.Now()
	c.now = func() time.Time { return current }

	if err := c.Set("key", []byte("v"), time.Minute); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if v, err := c.Get("key"); err != nil || string(v) != "v" {
		t.Fatalf("ожидали значение, получили %q, %v", v, err)
	}

	current = current.Add(2 * time.Minute)
	if _, err := c.Get("key"); !errors.Is(err, ErrMiss) {
		t.Fatalf("ожидали ErrMiss, получили %v", err)
	}
}
