package clock

import (
	"time"

	"github.com/smallbiznis/milkrun/internal/config"
	"gorm.io/datatypes"
)

// Calendar answers civil-date questions in the business timezone.
//
// Civil dates are stored as datatypes.Date values at UTC midnight of the
// local calendar day, so a row keyed on 2026-03-01 reads back as 2026-03-01
// regardless of the database session timezone. Day-of-month rules always use
// the civil components, never the UTC instant of "now".
type Calendar struct {
	clock   Clock
	billing *config.BillingConfigHolder
}

func NewCalendar(c Clock, billing *config.BillingConfigHolder) *Calendar {
	return &Calendar{clock: c, billing: billing}
}

func (c *Calendar) Location() *time.Location {
	if c.billing == nil {
		return time.UTC
	}
	return c.billing.Get().Location()
}

// Now returns the current instant in the business timezone.
func (c *Calendar) Now() time.Time {
	return c.clock.Now().In(c.Location())
}

// Today returns the current civil date.
func (c *Calendar) Today() datatypes.Date {
	return c.DateOf(c.clock.Now())
}

// DateOf converts an instant to the civil date it falls on locally.
func (c *Calendar) DateOf(t time.Time) datatypes.Date {
	local := t.In(c.Location())
	return Date(local.Year(), local.Month(), local.Day())
}

// DayOfMonth returns today's local day of month.
func (c *Calendar) DayOfMonth() int {
	return c.Now().Day()
}

// YearMonth returns today's local year and month.
func (c *Calendar) YearMonth() (int, time.Month) {
	now := c.Now()
	return now.Year(), now.Month()
}

// Date builds a civil date.
func Date(year int, month time.Month, day int) datatypes.Date {
	return datatypes.Date(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

// AddDays shifts a civil date by n days.
func AddDays(d datatypes.Date, n int) datatypes.Date {
	t := time.Time(d)
	return Date(t.Year(), t.Month(), t.Day()+n)
}

// DaysInMonth returns the number of days of the given month.
func DaysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// SameDate reports whether two civil dates are the same day.
func SameDate(a, b datatypes.Date) bool {
	ta, tb := time.Time(a), time.Time(b)
	return ta.Year() == tb.Year() && ta.Month() == tb.Month() && ta.Day() == tb.Day()
}

// Format renders a civil date as YYYY-MM-DD.
func Format(d datatypes.Date) string {
	return time.Time(d).Format(time.DateOnly)
}
