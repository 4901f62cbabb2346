package progression

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelOf(t *testing.T) {
	tests := []struct {
		total   int
		level   int
		current int
	}{
		{0, 1, 0},
		{99, 1, 99},
		{100, 2, 0},
		{150, 2, 50},
		{999, 10, 99},
		{-20, 1, 0},
	}

	for _, tt := range tests {
		got := LevelOf(tt.total)
		assert.Equal(t, tt.level, got.Level, "total %d", tt.total)
		assert.Equal(t, tt.current, got.CurrentLevelXP, "total %d", tt.total)
	}
}

func TestLevelOf_Invariants(t *testing.T) {
	prev := LevelOf(0)
	for total := 0; total <= 1000; total++ {
		lvl := LevelOf(total)
		assert.Equal(t, total, (lvl.Level-1)*XPPerLevel+lvl.CurrentLevelXP)
		assert.GreaterOrEqual(t, lvl.Level, prev.Level)
		assert.True(t, lvl.CurrentLevelXP >= 0 && lvl.CurrentLevelXP < XPPerLevel)
		prev = lvl
	}
}

func TestLevel_XPToNext(t *testing.T) {
	assert.Equal(t, 100, LevelOf(0).XPToNext())
	assert.Equal(t, 25, LevelOf(175).XPToNext())
	assert.Equal(t, 75, LevelOf(175).Progress())
}
