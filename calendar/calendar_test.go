package calendar

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCalendar(t *testing.T) *Calendar {
	t.Helper()
	cal, err := New(Config{
		Timezone:     "America/Chicago",
		SessionOpen:  "17:00",
		SessionClose: "16:00",
		ValidFrom:    "2025-01-01",
		ValidTo:      "2025-12-31",
		Holidays:     []string{"2025-07-04"},
		ClosedDays:   []string{"Saturday"},
	})
	require.NoError(t, err)
	return cal
}

func TestWindowForOvernightSession(t *testing.T) {
	cal := testCalendar(t)
	loc, _ := time.LoadLocation("America/Chicago")

	// Tuesday 10:00 belongs to Tuesday's session, which opened Monday 17:00.
	ts := time.Date(2025, 3, 11, 10, 0, 0, 0, loc)
	w, err := cal.WindowFor(ts)
	require.NoError(t, err)
	assert.Equal(t, "2025-03-11", w.Date)
	assert.Equal(t, time.Date(2025, 3, 10, 17, 0, 0, 0, loc), w.Start)
	assert.Equal(t, time.Date(2025, 3, 11, 16, 0, 0, 0, loc), w.End)
	assert.True(t, w.Trading)
	assert.True(t, w.InSession(ts))
}

func TestWindowForAfterCloseRollsToNextDate(t *testing.T) {
	cal := testCalendar(t)
	loc, _ := time.LoadLocation("America/Chicago")

	// Tuesday 16:30 is after close: belongs to Wednesday's session date.
	ts := time.Date(2025, 3, 11, 16, 30, 0, 0, loc)
	w, err := cal.WindowFor(ts)
	require.NoError(t, err)
	assert.Equal(t, "2025-03-12", w.Date)
	// 16:30 is in the maintenance break before the 17:00 open.
	assert.False(t, w.InSession(ts))
}

func TestWindowForHoliday(t *testing.T) {
	cal := testCalendar(t)
	loc, _ := time.LoadLocation("America/Chicago")

	ts := time.Date(2025, 7, 4, 10, 0, 0, 0, loc)
	w, err := cal.WindowFor(ts)
	require.NoError(t, err)
	assert.False(t, w.Trading)
	assert.False(t, w.InSession(ts))
}

func TestWindowForCalendarGap(t *testing.T) {
	cal := testCalendar(t)
	loc, _ := time.LoadLocation("America/Chicago")

	_, err := cal.WindowFor(time.Date(2026, 2, 1, 10, 0, 0, 0, loc))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCalendarGap))
}

func TestBoundaryCrossed(t *testing.T) {
	cal := testCalendar(t)
	loc, _ := time.LoadLocation("America/Chicago")

	w, err := cal.WindowFor(time.Date(2025, 3, 11, 10, 0, 0, 0, loc))
	require.NoError(t, err)

	// Same session: not crossed, even for a duplicate boundary probe.
	crossed, err := cal.BoundaryCrossed(w, time.Date(2025, 3, 11, 15, 59, 0, 0, loc))
	require.NoError(t, err)
	assert.False(t, crossed)

	// After the close the session date advances.
	crossed, err = cal.BoundaryCrossed(w, time.Date(2025, 3, 11, 17, 5, 0, 0, loc))
	require.NoError(t, err)
	assert.True(t, crossed)
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(Config{
		Timezone:     "America/Chicago",
		SessionOpen:  "17:00",
		SessionClose: "17:00",
		ValidFrom:    "2025-01-01",
		ValidTo:      "2025-12-31",
	})
	assert.Error(t, err)

	_, err = New(Config{
		Timezone:     "Not/AZone",
		SessionOpen:  "17:00",
		SessionClose: "16:00",
		ValidFrom:    "2025-01-01",
		ValidTo:      "2025-12-31",
	})
	assert.Error(t, err)
}
