package progression

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/edusphere/edusphere-hub/internal/domain/shared"
)

func TestRebuild(t *testing.T) {
	txs := []*XpTransaction{
		{ID: "1", UserID: "u1", Amount: 60, Source: "task"},
		{ID: "2", UserID: "u1", Amount: 50, Source: "focus_session"},
		{ID: "3", UserID: "", Amount: 500, Source: "game"},
		{ID: "4", UserID: "u2", Amount: 70, Source: "task"},
	}
	d := shared.NewDate(2024, 3, 10)
	dates := []shared.Date{d.AddDays(-5), d.AddDays(-2), d.AddDays(-1), d, d}

	stats := Rebuild("u1", txs, dates, now)

	assert.Equal(t, 110, stats.TotalXP)
	assert.Equal(t, 2, stats.Level)
	assert.Equal(t, 10, stats.CurrentLevelXP)
	assert.Equal(t, 3, stats.StreakDays)
	assert.Equal(t, d, stats.LastActivityDate)
	assert.NoError(t, stats.Validate())
}

func TestRebuild_Empty(t *testing.T) {
	stats := Rebuild("u1", nil, nil, now)

	assert.Equal(t, 0, stats.TotalXP)
	assert.Equal(t, 1, stats.Level)
	assert.Equal(t, 0, stats.StreakDays)
	assert.True(t, stats.LastActivityDate.IsZero())
}

func TestRebuild_MatchesIncrementalStreak(t *testing.T) {
	start := shared.NewDate(2024, 1, 30)
	days := []shared.Date{start, start.AddDays(1), start.AddDays(3), start.AddDays(4)}

	incremental := UserStats{UserID: "u1"}
	exists := false
	for _, day := range days {
		incremental, _ = NextStreak(incremental, exists, day)
		exists = true
	}

	rebuilt := Rebuild("u1", nil, days, now)
	assert.Equal(t, incremental.StreakDays, rebuilt.StreakDays)
	assert.Equal(t, incremental.LastActivityDate, rebuilt.LastActivityDate)
}
