package util

import (
	"time"
)

// TradingCalendar provides market-hours awareness for a weekday session in a
// fixed time zone. Exchange holidays are not modelled.
type TradingCalendar struct {
	loc   *time.Location
	open  time.Duration // offset from local midnight
	close time.Duration
}

// NewTradingCalendar creates a TradingCalendar whose session runs from open
// to close (offsets from local midnight) on weekdays in loc.
func NewTradingCalendar(loc *time.Location, open, close time.Duration) *TradingCalendar {
	if loc == nil {
		loc = time.UTC
	}
	return &TradingCalendar{loc: loc, open: open, close: close}
}

// NewUSEquityCalendar returns the NYSE regular session, 9:30-16:00 ET. When
// the zone database is unavailable it falls back to a fixed UTC-5 offset.
func NewUSEquityCalendar() *TradingCalendar {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.FixedZone("EST", -5*60*60)
	}
	return NewTradingCalendar(loc, 9*time.Hour+30*time.Minute, 16*time.Hour)
}

func isWeekday(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// midnight returns local midnight of t's calendar day in the calendar zone.
func (tc *TradingCalendar) midnight(t time.Time) time.Time {
	lt := t.In(tc.loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, tc.loc)
}

// sessionAt returns the wall-clock instant offset from the given midnight.
// Hours and minutes are applied through time.Date so DST days stay correct.
func (tc *TradingCalendar) sessionAt(day time.Time, offset time.Duration) time.Time {
	h := int(offset / time.Hour)
	m := int((offset % time.Hour) / time.Minute)
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, tc.loc)
}

// IsMarketOpen returns whether the market is open at time t.
func (tc *TradingCalendar) IsMarketOpen(t time.Time) bool {
	day := tc.midnight(t)
	if !isWeekday(day) {
		return false
	}
	openAt := tc.sessionAt(day, tc.open)
	closeAt := tc.sessionAt(day, tc.close)
	return !t.Before(openAt) && t.Before(closeAt)
}

// NextOpen returns the next market open time at or after t.
func (tc *TradingCalendar) NextOpen(t time.Time) time.Time {
	return tc.next(t, tc.open)
}

// NextClose returns the next market close time at or after t.
func (tc *TradingCalendar) NextClose(t time.Time) time.Time {
	return tc.next(t, tc.close)
}

func (tc *TradingCalendar) next(t time.Time, offset time.Duration) time.Time {
	day := tc.midnight(t)
	for i := 0; i < 8; i++ {
		if isWeekday(day) {
			at := tc.sessionAt(day, offset)
			if !at.Before(t) {
				return at
			}
		}
		day = time.Date(day.Year(), day.Month(), day.Day()+1, 0, 0, 0, 0, tc.loc)
	}
	return time.Time{}
}
