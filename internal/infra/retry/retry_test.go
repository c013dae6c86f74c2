package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("transient")

func testConfig() Config {
	return Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	executor := NewExecutor[string](testConfig(), func(_ string, err error) bool {
		return errors.Is(err, errTransient)
	})

	attempts := 0
	got, err := Do(context.Background(), executor, func() (string, error) {
		attempts++
		if attempts < 3 {
			return "", errTransient
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if got != "ok" {
		t.Fatalf("ожидали ok, получили %q", got)
	}
	if attempts != 3 {
		t.Fatalf("ожидали 3 попытки, получили %d", attempts)
	}
}

func TestDoStopsAfterMaxAttempts(t *testing.T) {
	executor := NewExecutor[string](testConfig(), func(_ string, err error) bool {
		return errors.Is(err, errTransient)
	})

	attempts := 0
	_, err := Do(context.Background(), executor, func() (string, error) {
		attempts++
		return "", errTransient
	})
	if !errors.Is(err, errTransient) {
		t.Fatalf("ожидали последнюю ошибку, получили %v", err)
	}
	if attempts != 3 {
		t.Fatalf("ожидали 3 попытки, получили %d", attempts)
	}
}

func TestDoDoesNotRetryFatal(t *testing.T) {
	fatal := errors.New("fatal")
	executor := NewExecutor[string](testConfig(), func(_ string, err error) bool {
		return errors.Is(err, errTransient)
	})

	attempts := 0
	_, err := Do(context.Background(), executor, func() (string, error) {
		attempts++
		return "", fatal
	})
	if !errors.Is(err, fatal) {
		t.Fatalf("ожидали фатальную ошибку, получили %v", err)
	}
	if attempts != 1 {
		t.Fatalf("фатальная ошибка не должна повторяться, попыток %d", attempts)
	}
}
