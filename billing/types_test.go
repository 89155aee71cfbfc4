package billing_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/warp/lodging-ledger/billing"
)

func TestExpandRange_CheckOutDayExcluded(t *testing.T) {
	// A stay [2025-01-01, 2025-01-04) occupies exactly three nights.
	from := billing.NewDate(2025, time.January, 1)
	to := billing.NewDate(2025, time.January, 4)

	days := billing.ExpandRange(from, to)

	assert.Equal(t, []billing.Date{
		billing.NewDate(2025, time.January, 1),
		billing.NewDate(2025, time.January, 2),
		billing.NewDate(2025, time.January, 3),
	}, days)
	assert.Equal(t, 3, billing.DaysBetween(from, to))
}

func TestExpandRange_SingleNight(t *testing.T) {
	from := billing.NewDate(2025, time.June, 30)
	to := billing.NewDate(2025, time.July, 1)

	days := billing.ExpandRange(from, to)
	assert.Equal(t, []billing.Date{from}, days)
}

func TestExpandRange_CrossesMonthBoundary(t *testing.T) {
	from := billing.NewDate(2025, time.January, 30)
	to := billing.NewDate(2025, time.February, 2)

	days := billing.ExpandRange(from, to)
	assert.Len(t, days, 3)
	assert.Equal(t, billing.NewDate(2025, time.February, 1), days[2])
}

func TestExpandRange_EmptyAndInverted(t *testing.T) {
	day := billing.NewDate(2025, time.March, 10)

	assert.Nil(t, billing.ExpandRange(day, day), "empty range has no nights")
	assert.Nil(t, billing.ExpandRange(day.AddDays(2), day), "inverted range has no nights")
}

func TestParseDate_RoundTrip(t *testing.T) {
	d, err := billing.ParseDate("2025-11-03")
	assert.NoError(t, err)
	assert.Equal(t, "2025-11-03", d.String())

	_, err = billing.ParseDate("03/11/2025")
	assert.Error(t, err)
}

func TestDateOf_TruncatesToUTCDay(t *testing.T) {
	at := time.Date(2025, time.May, 7, 23, 45, 0, 0, time.UTC)
	assert.Equal(t, billing.NewDate(2025, time.May, 7), billing.DateOf(at))
}
