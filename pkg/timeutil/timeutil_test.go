package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartOfDay_RespectsLocation(t *testing.T) {
	almaty := time.FixedZone("Asia/Almaty", 5*60*60)
	// 22:30 UTC on the 1st is already the 2nd in Almaty.
	instant := time.Date(2024, 3, 1, 22, 30, 0, 0, time.UTC)

	assert.Equal(t, 1, StartOfDay(instant, time.UTC).Day())
	assert.Equal(t, 2, StartOfDay(instant, almaty).Day())
	assert.Equal(t, 1, StartOfDay(instant, nil).Day())
}

func TestDaysBetween(t *testing.T) {
	base := time.Date(2024, 1, 31, 23, 59, 0, 0, time.UTC)

	assert.Equal(t, 0, DaysBetween(base, base.Add(-time.Hour), time.UTC))
	assert.Equal(t, 1, DaysBetween(base, base.Add(2*time.Minute), time.UTC))
	assert.Equal(t, -2, DaysBetween(base, base.AddDate(0, 0, -2), time.UTC))
	assert.True(t, IsConsecutiveDay(base, base.Add(time.Minute), time.UTC))
	assert.False(t, IsConsecutiveDay(base, base.AddDate(0, 0, 2), time.UTC))
}

func TestDaysBetween_AcrossDST(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata not available")
	}
	before := time.Date(2024, 3, 9, 12, 0, 0, 0, ny)
	after := time.Date(2024, 3, 10, 12, 0, 0, 0, ny)

	assert.Equal(t, 1, DaysBetween(before, after, ny))
	assert.False(t, IsSameDay(before, after, ny))
}

func TestParseAndFormatDate(t *testing.T) {
	parsed, err := ParseDateIn("2024-02-29", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, "2024-02-29", FormatDateIn(parsed, time.UTC))

	_, err = ParseDateIn("29.02.2024", time.UTC)
	assert.Error(t, err)
}

func TestFixedClock(t *testing.T) {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	clock := NewFixedClock(start)

	assert.Equal(t, start, clock.Now())
	clock.AddDays(1)
	assert.Equal(t, start.AddDate(0, 0, 1), clock.Now())
	clock.Advance(time.Hour)
	assert.Equal(t, 11, clock.Now().Hour())
}

func TestLoadLocation_FallsBackToUTC(t *testing.T) {
	assert.Equal(t, time.UTC, LoadLocation(""))
	assert.Equal(t, time.UTC, LoadLocation("Not/AZone"))
}
