package cache

import (
	"errors"
	"sync"
	"time"
)

// ErrMiss возвращается, когда ключа нет или он истёк.
var ErrMiss = errors.New("cache: key not found")

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache — внутрипроцессная реализация domain.Cache. Используется,
// когда Redis не настроен: дедупликация работает в пределах жизни
// процесса.
type MemoryCache struct {
	mu    sync.Mutex
	items map[string]memoryItem
	now   func() time.Time
}

// NewMemory создаёт кэш в памяти.
func NewMemory() *MemoryCache {
	return &MemoryCache{items: make(map[string]memoryItem), now: time.Now}
}

// Once выполняет функцию, если ключ ещё не задан.
func (c *MemoryCache) Once(key string, ttl time.Duration, fn func() error) error {
	c.mu.Lock()
	item, ok := c.items[key]
	if ok && c.now().Before(item.expiresAt) {
		c.mu.Unlock()
		return nil
	}
	c.items[key] = memoryItem{value: []byte("1"), expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()

	if err := fn(); err != nil {
		c.mu.Lock()
		delete(c.items, key)
		c.mu.Unlock()
		return err
	}
	return nil
}

// Set задаёт значение.
func (c *MemoryCache) Set(key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = memoryItem{value: append([]byte(nil), value...), expiresAt: c.now().Add(ttl)}
	return nil
}

// Get возвращает значение.
func (c *MemoryCache) Get(key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.items[key]
	if !ok || !c.now().Before(item.expiresAt) {
		return nil, ErrMiss
	}
	return item.value, nil
}
