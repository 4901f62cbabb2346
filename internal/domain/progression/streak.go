package progression

import "github.com/edusphere/edusphere-hub/internal/domain/shared"

// StreakOutcome tags what the streak tracker did.
type StreakOutcome string

const (
	StreakUnchanged   StreakOutcome = "unchanged"
	StreakIncremented StreakOutcome = "incremented"
	StreakReset       StreakOutcome = "reset"
	StreakCreated     StreakOutcome = "created"
	// StreakRecovered means the stats row could not be read and was
	// overwritten with a fresh one-day streak.
	StreakRecovered StreakOutcome = "recovered"
)

// NextStreak applies one day of activity to the stats row.
//
//	last == today      -> unchanged
//	last == today - 1  -> +1
//	anything else      -> 1 (older, empty or in the future)
//	no row             -> 1, created
//
// last_activity_date always becomes today.
func NextStreak(cur UserStats, exists bool, today shared.Date) (UserStats, StreakOutcome) {
	if !exists {
		next := NewUserStats(cur.UserID)
		next.StreakDays = 1
		next.LastActivityDate = today
		return next, StreakCreated
	}

	next := cur
	next.LastActivityDate = today

	switch {
	case cur.LastActivityDate.Equal(today) && !cur.LastActivityDate.IsZero():
		return next, StreakUnchanged
	case !cur.LastActivityDate.IsZero() && cur.LastActivityDate.AddDays(1).Equal(today):
		next.StreakDays = cur.StreakDays + 1
		return next, StreakIncremented
	default:
		next.StreakDays = 1
		return next, StreakReset
	}
}

// RecoveredStreak is the row written when the current row cannot be read.
func RecoveredStreak(userID shared.UserID, today shared.Date) UserStats {
	s := NewUserStats(userID)
	s.StreakDays = 1
	s.LastActivityDate = today
	return s
}
