// Package markethours provides trading-calendar checks for Indian exchanges.
package markethours

import (
	"time"
)

// Session classifies a moment within the trading day.
type Session string

const (
	SessionPreMarket  Session = "PRE_MARKET"
	SessionOpen       Session = "OPEN"
	SessionPostMarket Session = "POST_MARKET"
	SessionClosed     Session = "CLOSED"
)

// NSE/BSE equity session bands, in exchange local time.
const (
	preMarketOpenHour     = 9
	preMarketOpenMinute   = 0
	marketOpenHour        = 9
	marketOpenMinute      = 15
	marketCloseHour       = 15
	marketCloseMinute     = 30
	postMarketCloseHour   = 16
	postMarketCloseMinute = 0
)

// Service answers market-hours questions for NSE/BSE equities.
type Service struct {
	loc      *time.Location
	holidays map[string]string // "2006-01-02" -> name
}

// NewService creates a market hours service in the exchange timezone.
// Falls back to a fixed IST offset when the tz database is unavailable.
func NewService() *Service {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		loc = time.FixedZone("IST", 5*3600+1800)
	}
	return &Service{
		loc:      loc,
		holidays: exchangeHolidays(),
	}
}

// Location returns the exchange timezone.
func (s *Service) Location() *time.Location { return s.loc }

// IsTradingDay reports whether the date is neither a weekend nor a holiday.
func (s *Service) IsTradingDay(t time.Time) bool {
	local := t.In(s.loc)
	if local.Weekday() == time.Saturday || local.Weekday() == time.Sunday {
		return false
	}
	_, holiday := s.holidays[local.Format("2006-01-02")]
	return !holiday
}

// IsMarketOpen reports whether regular trading is active at t.
func (s *Service) IsMarketOpen(t time.Time) bool {
	return s.SessionAt(t) == SessionOpen
}

// SessionAt classifies t into a session band.
func (s *Service) SessionAt(t time.Time) Session {
	local := t.In(s.loc)
	if !s.IsTradingDay(local) {
		return SessionClosed
	}

	minutes := local.Hour()*60 + local.Minute()
	preOpen := preMarketOpenHour*60 + preMarketOpenMinute
	open := marketOpenHour*60 + marketOpenMinute
	closed := marketCloseHour*60 + marketCloseMinute
	postClose := postMarketCloseHour*60 + postMarketCloseMinute

	switch {
	case minutes >= preOpen && minutes < open:
		return SessionPreMarket
	case minutes >= open && minutes <= closed:
		return SessionOpen
	case minutes > closed && minutes <= postClose:
		return SessionPostMarket
	default:
		return SessionClosed
	}
}

// SessionBounds returns the open and close instants of the regular session
// for the trading day containing t (in exchange time). ok is false on
// non-trading days.
func (s *Service) SessionBounds(t time.Time) (open, close time.Time, ok bool) {
	local := t.In(s.loc)
	if !s.IsTradingDay(local) {
		return time.Time{}, time.Time{}, false
	}
	open = time.Date(local.Year(), local.Month(), local.Day(), marketOpenHour, marketOpenMinute, 0, 0, s.loc)
	close = time.Date(local.Year(), local.Month(), local.Day(), marketCloseHour, marketCloseMinute, 0, 0, s.loc)
	return open, close, true
}

// PreviousSessionClose returns the close instant of the most recent completed
// session at or before t.
func (s *Service) PreviousSessionClose(t time.Time) time.Time {
	local := t.In(s.loc)
	for i := 0; i < 30; i++ {
		day := local.AddDate(0, 0, -i)
		if !s.IsTradingDay(day) {
			continue
		}
		close := time.Date(day.Year(), day.Month(), day.Day(), marketCloseHour, marketCloseMinute, 0, 0, s.loc)
		if close.Before(local) || close.Equal(local) {
			return close
		}
	}
	return local
}

// ClipToSessions narrows [from, to] so both ends fall on trading days. Used
// by the data fabric before intraday requests.
func (s *Service) ClipToSessions(from, to time.Time) (time.Time, time.Time) {
	for i := 0; i < 30 && !s.IsTradingDay(from); i++ {
		from = from.AddDate(0, 0, 1)
	}
	for i := 0; i < 30 && !s.IsTradingDay(to); i++ {
		to = to.AddDate(0, 0, -1)
	}
	return from, to
}
