package clock

import (
	"testing"
	"time"

	"github.com/smallbiznis/milkrun/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCalendar(t *testing.T, now time.Time, tz string) (*Calendar, *FakeClock) {
	t.Helper()
	cfg := config.DefaultBillingConfig()
	cfg.Timezone = tz
	holder, err := config.NewStaticBillingConfigHolder(cfg)
	require.NoError(t, err)
	fake := NewFakeClock(now)
	return NewCalendar(fake, holder), fake
}

func TestCalendarTodayUsesBusinessTimezone(t *testing.T) {
	// 20:00 UTC on Jan 31 is already Feb 1 in Kolkata (+05:30).
	cal, _ := newCalendar(t, time.Date(2026, 1, 31, 20, 0, 0, 0, time.UTC), "Asia/Kolkata")

	assert.Equal(t, "2026-02-01", Format(cal.Today()))
	assert.Equal(t, 1, cal.DayOfMonth())
	year, month := cal.YearMonth()
	assert.Equal(t, 2026, year)
	assert.Equal(t, time.February, month)

	stored := time.Time(cal.Today())
	assert.Equal(t, time.UTC, stored.Location())
	assert.Zero(t, stored.Hour())
}

func TestCalendarFollowsFakeClock(t *testing.T) {
	cal, fake := newCalendar(t, time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC), "UTC")
	assert.Equal(t, "2026-03-31", Format(cal.Today()))

	fake.Advance(24 * time.Hour)
	assert.Equal(t, "2026-04-01", Format(cal.Today()))
}

func TestDateHelpers(t *testing.T) {
	assert.Equal(t, 29, DaysInMonth(2028, time.February))
	assert.Equal(t, 28, DaysInMonth(2026, time.February))
	assert.Equal(t, 31, DaysInMonth(2026, time.December))

	d := Date(2026, time.December, 31)
	assert.Equal(t, "2027-01-01", Format(AddDays(d, 1)))
	assert.Equal(t, "2026-12-24", Format(AddDays(d, -7)))
	assert.True(t, SameDate(d, Date(2026, time.December, 31)))
	assert.False(t, SameDate(d, AddDays(d, 1)))
}
