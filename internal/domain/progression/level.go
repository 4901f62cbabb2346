package progression

// XPPerLevel is the number of points between two consecutive levels.
const XPPerLevel = 100

// Level is the result of the level calculation for a point total.
type Level struct {
	Level          int `json:"level"`
	CurrentLevelXP int `json:"current_level_xp"`
}

// LevelOf maps a point total to its level. Level 1 starts at 0 points.
// Negative totals are treated as 0; the ledger never produces them.
func LevelOf(total int) Level {
	if total < 0 {
		total = 0
	}
	return Level{
		Level:          total/XPPerLevel + 1,
		CurrentLevelXP: total % XPPerLevel,
	}
}

// XPToNext returns how many points are missing for the next level.
func (l Level) XPToNext() int {
	return XPPerLevel - l.CurrentLevelXP
}

// Progress returns the percentage (0-99) reached inside the current level.
func (l Level) Progress() int {
	return l.CurrentLevelXP * 100 / XPPerLevel
}
