package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidTimezone возвращается, если указан некорректный часовой пояс.
var ErrInvalidTimezone = errors.New("invalid timezone")

// ErrInvalidTime возвращается, если время публикации не в формате HH:MM.
var ErrInvalidTime = errors.New("invalid post time")

const defaultDrainEvery = 6 * time.Hour

// Service считает моменты следующей публикации и следующей разгрузки
// очереди. Публикация выполняется раз в сутки в настроенное время,
// разгрузка — с фиксированным интервалом.
type Service struct {
	hour       int
	minute     int
	loc        *time.Location
	drainEvery time.Duration
}

// NewService создаёт расписание. postAt задаётся как "HH:MM" в часовом
// поясе timezone; пустой timezone означает UTC.
func NewService(postAt, timezone string, drainEvery time.Duration) (*Service, error) {
	parsed, err := time.Parse("15:04", strings.TrimSpace(postAt))
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTime, postAt)
	}

	loc := time.UTC
	if strings.TrimSpace(timezone) != "" {
		name, err := normalizeTimezone(timezone)
		if err != nil {
			return nil, err
		}
		loc, err = time.LoadLocation(name)
		if err != nil {
			return nil, ErrInvalidTimezone
		}
	}

	if drainEvery <= 0 {
		drainEvery = defaultDrainEvery
	}
	return &Service{hour: parsed.Hour(), minute: parsed.Minute(), loc: loc, drainEvery: drainEvery}, nil
}

// NextPost возвращает ближайший момент публикации строго после after.
func (s *Service) NextPost(after time.Time) time.Time {
	local := after.In(s.loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), s.hour, s.minute, 0, 0, s.loc)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// NextDrain возвращает момент следующей разгрузки очереди.
func (s *Service) NextDrain(after time.Time) time.Time {
	return after.Add(s.drainEvery)
}

func normalizeTimezone(raw string) (string, error) {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		return "", ErrInvalidTimezone
	}
	candidate = strings.ReplaceAll(candidate, " ", "_")
	if _, err := time.LoadLocation(candidate); err == nil {
		return candidate, nil
	}

	lower := strings.ToLower(candidate)
	parts := strings.Split(lower, "/")
	for i, part := range parts {
		segments := strings.Split(part, "_")
		for j, segment := range segments {
			pieces := strings.Split(segment, "-")
			for k, piece := range pieces {
				if piece == "" {
					continue
				}
				pieces[k] = strings.ToUpper(piece[:1]) + piece[1:]
			}
			segments[j] = strings.Join(pieces, "-")
		}
		parts[i] = strings.Join(segments, "_")
	}
	normalized := strings.Join(parts, "/")
	if _, err := time.LoadLocation(normalized); err == nil {
		return normalized, nil
	}
	return "", ErrInvalidTimezone
}
