package storage

import (
	"fmt"
	"os"
	"syscall"
)

// FileLock — межпроцессная эксклюзивная блокировка через flock(2).
// Защищает цикл чтения-изменения-записи файлов состояния, когда ручной
// запуск накладывается на запуск по расписанию.
type FileLock struct {
	path string
	file *os.File
}

// NewFileLock создаёт блокировку по указанному пути.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

// Lock захватывает эксклюзивную блокировку, ожидая освобождения.
// Файл блокировки создаётся при необходимости.
func (fl *FileLock) Lock() error {
	f, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		_ = f.Close()
		return fmt.Errorf("flock: %w", err)
	}
	fl.file = f
	return nil
}

// TryLock пытается захватить блокировку без ожидания. Возвращает false,
// если блокировку держит другой процесс.
func (fl *FileLock) TryLock() (bool, error) {
	f, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return false, fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if err == syscall.EWOULDBLOCK {
			return false, nil
		}
		return false, fmt.Errorf("flock: %w", err)
	}
	fl.file = f
	return true, nil
}

// Unlock снимает блокировку и закрывает файл.
func (fl *FileLock) Unlock() error {
	if fl.file == nil {
		return nil
	}
	if err := syscall.Flock(int(fl.file.Fd()), syscall.LOCK_UN); err != nil {
		_ = fl.file.Close()
		fl.file = nil
		return fmt.Errorf("funlock: %w", err)
	}
	err := fl.file.Close()
	fl.file = nil
	return err
}
