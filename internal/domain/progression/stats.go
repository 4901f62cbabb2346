package progression

import (
	"time"

	"github.com/edusphere/edusphere-hub/internal/domain/shared"
)

// MaxTotalXP keeps totals exact in JSON clients, which read numbers as doubles.
const MaxTotalXP = 1<<53 - 1

// UserStats is the per-user aggregate of the ledger and habit logs.
// It is a cache: Rebuild can always recompute it from history.
type UserStats struct {
	UserID           shared.UserID `json:"user_id"`
	TotalXP          int           `json:"total_xp"`
	Level            int           `json:"level"`
	CurrentLevelXP   int           `json:"current_level_xp"`
	StreakDays       int           `json:"streak_days"`
	LastActivityDate shared.Date   `json:"last_activity_date"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// NewUserStats returns the defaults used when no row exists yet.
func NewUserStats(userID shared.UserID) UserStats {
	return UserStats{
		UserID: userID,
		Level:  1,
	}
}

// AddXP is ApplyXP for a single award. It fails with ErrTotalXPOverflow
// instead of letting the total pass MaxTotalXP.
func (s UserStats) AddXP(amount int, now time.Time) (UserStats, bool, error) {
	if amount > 0 && s.TotalXP > MaxTotalXP-amount {
		return s, false, shared.ErrTotalXPOverflow
	}
	next, up := s.ApplyXP(amount, now)
	return next, up, nil
}

// ApplyXP adds amount to the total and recomputes the level. The total
// stays within [0, MaxTotalXP].
// leveledUp is true only when the new level is strictly greater.
func (s UserStats) ApplyXP(amount int, now time.Time) (next UserStats, leveledUp bool) {
	before := LevelOf(s.TotalXP).Level

	next = s
	switch {
	case amount > 0 && s.TotalXP > MaxTotalXP-amount:
		next.TotalXP = MaxTotalXP
	case s.TotalXP+amount < 0:
		next.TotalXP = 0
	default:
		next.TotalXP = s.TotalXP + amount
	}
	lvl := LevelOf(next.TotalXP)
	next.Level = lvl.Level
	next.CurrentLevelXP = lvl.CurrentLevelXP
	next.UpdatedAt = now

	return next, lvl.Level > before
}

// Validate checks the level invariants of the row.
func (s UserStats) Validate() error {
	if s.UserID.IsEmpty() {
		return shared.NewDomainError("progression", "ValidateStats", shared.ErrInvalidID, "user ID is required")
	}
	if s.TotalXP < 0 || s.StreakDays < 0 {
		return shared.NewDomainError("progression", "ValidateStats", shared.ErrNegativeValue, "totals cannot be negative")
	}
	lvl := LevelOf(s.TotalXP)
	if s.Level != lvl.Level || s.CurrentLevelXP != lvl.CurrentLevelXP {
		return shared.NewDomainError("progression", "ValidateStats", shared.ErrInvalidInput, "level does not match total_xp")
	}
	return nil
}

// LevelInfo returns the level calculation for the stored total.
func (s UserStats) LevelInfo() Level {
	return LevelOf(s.TotalXP)
}
