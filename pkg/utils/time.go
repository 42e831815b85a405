package utils

import (
	"fmt"
	"time"
)

// time.go - утилиты для работы со временем
//
// Торговый день считается в часовом поясе планировщика (по умолчанию Asia/Seoul),
// поэтому все функции принимают *time.Location явно.
//
// Использование:
// - граница торгового дня для дневного лимита убытка
// - расписание ежедневного отчёта
// - выборки из БД по дням

// ============================================================
// Границы дня
// ============================================================

// DayStartIn возвращает начало дня (00:00:00) для t в указанной зоне
//
// Пример:
//
//	// t: 2024-01-15 16:30:00 UTC, loc: Asia/Seoul (UTC+9)
//	start := DayStartIn(t, loc)
//	// start: 2024-01-16 00:00:00 KST
func DayStartIn(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// DayEndIn возвращает последний момент дня для t в указанной зоне
func DayEndIn(t time.Time, loc *time.Location) time.Time {
	return DayStartIn(t, loc).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// TradingDay возвращает дату торгового дня в формате YYYY-MM-DD
func TradingDay(t time.Time, loc *time.Location) string {
	return DayStartIn(t, loc).Format("2006-01-02")
}

// SameTradingDay проверяет, что a и b относятся к одному торговому дню
func SameTradingDay(a, b time.Time, loc *time.Location) bool {
	return DayStartIn(a, loc).Equal(DayStartIn(b, loc))
}

// ============================================================
// Диапазоны
// ============================================================

// TimeRange представляет временной диапазон [Start, End]
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Contains проверяет, попадает ли время в диапазон
func (tr TimeRange) Contains(t time.Time) bool {
	return !t.Before(tr.Start) && !t.After(tr.End)
}

// Duration возвращает продолжительность диапазона
func (tr TimeRange) Duration() time.Duration {
	return tr.End.Sub(tr.Start)
}

// DayRangeIn возвращает диапазон дня, содержащего t
func DayRangeIn(t time.Time, loc *time.Location) TimeRange {
	return TimeRange{Start: DayStartIn(t, loc), End: DayEndIn(t, loc)}
}

// ParseDayRange разбирает дату YYYY-MM-DD и возвращает диапазон этого дня
func ParseDayRange(day string, loc *time.Location) (TimeRange, error) {
	if loc == nil {
		loc = time.UTC
	}
	d, err := time.ParseInLocation("2006-01-02", day, loc)
	if err != nil {
		return TimeRange{}, fmt.Errorf("invalid date %q: %w", day, err)
	}
	return DayRangeIn(d, loc), nil
}

// ============================================================
// Расписание
// ============================================================

// ClockTime - время суток (часы и минуты)
type ClockTime struct {
	Hour   int
	Minute int
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// ParseClock разбирает строку вида "08:30"
func ParseClock(s string) (ClockTime, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return ClockTime{}, fmt.Errorf("invalid clock time %q, expected HH:MM", s)
	}
	return ClockTime{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// NextDailyAt возвращает ближайший момент строго после now, когда в зоне loc наступает время at
//
// Пример:
//
//	// now: 2024-01-15 09:00 KST, at: 08:30
//	next := NextDailyAt(now, ClockTime{8, 30}, loc)
//	// next: 2024-01-16 08:30 KST
func NextDailyAt(now time.Time, at ClockTime, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), at.Hour, at.Minute, 0, 0, loc)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// ============================================================
// Конвертация
// ============================================================

// FromUnixMillis конвертирует миллисекунды Unix в time.Time (UTC)
func FromUnixMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// FormatDuration форматирует продолжительность в человекочитаемый вид
//
// Примеры:
//   - "45s"
//   - "5m30s"
//   - "2h15m"
//   - "3d5h"
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}

	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd%dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh%dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

// LoadLocation загружает часовой пояс, возвращая UTC для пустой строки
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", name, err)
	}
	return loc, nil
}
