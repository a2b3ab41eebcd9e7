// Package markethours exposes the exchange-hours predicates C6 needs to
// gate a canonical's generation on processing date D (spec §2/§4.6:
// "Resolve exchange hours for canonical and underlying. If either is
// closed on D, skip"). The spec treats a full market-hours database as an
// external collaborator (§1); this package is the minimal read-only
// stand-in, grounded on the teacher's own simplified weekday + Tradier
// market-clock check in config.IsWithinTradingHours / broker.IsTradingDay.
package markethours

import (
	"time"

	"github.com/solstice-quant/derivuniverse/internal/marketdata"
)

// Calendar is a read-only, process-wide initialized exchange-hours
// predicate, matching spec §5's "Market-hours database: read-only shared
// map, initialised once per process."
type Calendar struct {
	holidays map[string]bool // "<market>|YYYY-MM-DD" -> holiday
}

// NewCalendar builds a Calendar with no holidays registered: until
// AddHoliday marks a date, IsOpen closes only Saturdays and Sundays.
func NewCalendar() *Calendar {
	return &Calendar{holidays: make(map[string]bool)}
}

// AddHoliday marks a market closed on the given date.
func (c *Calendar) AddHoliday(market string, date time.Time) {
	c.holidays[key(market, date)] = true
}

func key(market string, date time.Time) string {
	return market + "|" + date.Format("2006-01-02")
}

// IsOpen reports whether the given market is open for regular trading on
// date D: not a weekend, and not a registered holiday.
func (c *Calendar) IsOpen(market string, date time.Time) bool {
	switch date.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !c.holidays[key(market, date)]
}

// LookbackStart implements history.Calendar: it walks back bars weekday
// sessions from end and returns that session's start-of-day. Holidays are
// market-specific and this signature carries no market argument, so only
// the weekend skip applies here — a day narrower than IsOpen's own check,
// acceptable slack for a lookback window. Sub-daily resolutions use the
// same session count as Daily; spec §4.2 names a bar count per rung, not
// a separate intraday stepping rule.
func (c *Calendar) LookbackStart(end time.Time, _ marketdata.Resolution, bars int) time.Time {
	if bars <= 0 {
		bars = 1
	}
	d := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, end.Location())
	found := 0
	for found < bars {
		d = d.AddDate(0, 0, -1)
		switch d.Weekday() {
		case time.Saturday, time.Sunday:
		default:
			found++
		}
	}
	return d
}
