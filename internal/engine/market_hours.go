package engine

import (
	"log/slog"
	"strings"
	"time"

	"otc_stream/internal/domain"

	"github.com/scmhub/calendar"
)

const (
	minutesPerDay  = 24 * 60
	minutesPerWeek = 7 * minutesPerDay

	msgOpen24x7 = "Market open 24/7"
	msgOpen     = "Market open"
	msgClosed   = "OTC - market closed"
)

// session is a half-open [start, end) window in minutes since Sunday 00:00 UTC.
type session struct {
	start, end int
}

func weekMinute(day time.Weekday, hour, minute int) int {
	return int(day)*minutesPerDay + hour*60 + minute
}

// Trading windows in UTC.
var sessions = map[domain.Category][]session{
	// Sunday 22:00 -> Friday 22:00
	domain.CategoryForex: {{weekMinute(time.Sunday, 22, 0), weekMinute(time.Friday, 22, 0)}},
	// Sunday 23:00 -> Friday 22:00
	domain.CategoryCommodities: {{weekMinute(time.Sunday, 23, 0), weekMinute(time.Friday, 22, 0)}},
	// Monday-Friday 14:30 -> 21:00
	domain.CategoryStocks:  usEquitySessions(),
	domain.CategoryIndices: usEquitySessions(),
}

func usEquitySessions() []session {
	out := make([]session, 0, 5)
	for d := time.Monday; d <= time.Friday; d++ {
		out = append(out, session{weekMinute(d, 14, 30), weekMinute(d, 21, 0)})
	}
	return out
}

// MarketHours resolves market status from the UTC session table, optionally consulting an
// exchange holiday calendar for equity categories.
type MarketHours struct {
	holidays *calendar.Calendar
}

// NewMarketHours returns a resolver backed by the session table only.
func NewMarketHours() *MarketHours {
	return &MarketHours{}
}

// NewMarketHoursWithCalendar also closes stocks and indices on days the exchange
// identified by mic (ISO 10383, e.g. "xnys") is not a business day.
func NewMarketHoursWithCalendar(mic string) *MarketHours {
	mic = strings.ToLower(strings.TrimSpace(mic))
	if mic == "" {
		return NewMarketHours()
	}
	cal := calendar.GetCalendar(mic)
	if cal == nil {
		slog.Warn("Holiday calendar not available, using session table only", slog.String("mic", mic))
		return NewMarketHours()
	}
	return &MarketHours{holidays: cal}
}

// IsOpen reports whether category's real market is open at now.
func (m *MarketHours) IsOpen(category domain.Category, now time.Time) bool {
	if category == domain.CategoryCrypto {
		return true
	}
	windows, ok := sessions[category]
	if !ok {
		return false
	}
	now = now.UTC()
	wm := weekMinute(now.Weekday(), now.Hour(), now.Minute())
	open := false
	for _, s := range windows {
		if wm >= s.start && wm < s.end {
			open = true
			break
		}
	}
	if open && m.holidays != nil && isEquity(category) {
		return m.holidays.IsBusinessDay(now)
	}
	return open
}

// Resolve returns the market status of symbol at now.
func (m *MarketHours) Resolve(symbol string, category domain.Category, now time.Time) domain.MarketStatus {
	status := domain.MarketStatus{Symbol: symbol, Category: category}
	switch {
	case category == domain.CategoryCrypto:
		status.IsOpen, status.Message = true, msgOpen24x7
	case m.IsOpen(category, now):
		status.IsOpen, status.Message = true, msgOpen
	default:
		status.IsOTC, status.Message = true, msgClosed
	}
	if next := m.NextTransition(category, now); !next.IsZero() {
		status.NextTransitionMs = next.UnixMilli()
	}
	return status
}

// NextTransition returns the next instant after now at which category's status may change.
// Crypto never changes and gets the zero time.
func (m *MarketHours) NextTransition(category domain.Category, now time.Time) time.Time {
	windows, ok := sessions[category]
	if category == domain.CategoryCrypto || !ok {
		return time.Time{}
	}
	now = now.UTC()
	weekStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).
		AddDate(0, 0, -int(now.Weekday()))
	elapsed := now.Sub(weekStart)

	best := time.Duration(-1)
	for _, s := range windows {
		for _, edge := range []int{s.start, s.end} {
			d := time.Duration(edge)*time.Minute - elapsed
			if d <= 0 {
				d += minutesPerWeek * time.Minute
			}
			if best < 0 || d < best {
				best = d
			}
		}
	}
	next := now.Add(best)

	// Holidays can flip status at any UTC midnight.
	if m.holidays != nil && isEquity(category) {
		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
		if midnight.Before(next) {
			next = midnight
		}
	}
	return next
}

func isEquity(c domain.Category) bool {
	return c == domain.CategoryStocks || c == domain.CategoryIndices
}
