package storage

import (
	"fmt"
	"os"
)

// Store хранит один JSON-документ на диске. Каждый цикл
// чтения-изменения-записи выполняется под файловой блокировкой, запись
// атомарна: сначала временный файл, затем rename. Падение посреди записи
// не оставляет полузаписанного состояния.
type Store struct {
	path string
	lock *FileLock
}

// NewStore создаёт хранилище для указанного файла. Файл блокировки
// кладётся рядом с суффиксом ".lock".
func NewStore(path string) *Store {
	return &Store{
		path: path,
		lock: NewFileLock(path + ".lock"),
	}
}

// Path возвращает путь файла состояния.
func (s *Store) Path() string { return s.path }

// Read возвращает текущее содержимое под блокировкой. Отсутствующий файл
// не ошибка: возвращается nil.
func (s *Store) Read() ([]byte, error) {
	if err := s.lock.Lock(); err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	defer func() { _ = s.lock.Unlock() }()
	return s.readLocked()
}

// Update читает состояние, передаёт его fn и атомарно записывает
// результат. Вся последовательность выполняется под блокировкой. Если fn
// возвращает nil вместо данных, запись пропускается.
func (s *Store) Update(fn func(data []byte) ([]byte, error)) error {
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	defer func() { _ = s.lock.Unlock() }()

	data, err := s.readLocked()
	if err != nil {
		return err
	}
	next, err := fn(data)
	if err != nil {
		return err
	}
	if next == nil {
		return nil
	}
	return s.writeLocked(next)
}

func (s *Store) readLocked() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}
	return data, nil
}

func (s *Store) writeLocked(data []byte) error {
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp) // best-effort cleanup
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
