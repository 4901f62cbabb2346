package progression

import (
	"sort"
	"time"

	"github.com/edusphere/edusphere-hub/internal/domain/shared"
)

// Rebuild recomputes a user's stats from history.
//
// total_xp is the sum of the user's ledger rows. The streak is the run of
// consecutive days that ends at the most recent habit log date, and that
// date becomes last_activity_date. Anonymous rows and rows of other users
// are ignored.
func Rebuild(userID shared.UserID, txs []*XpTransaction, logDates []shared.Date, now time.Time) UserStats {
	stats := NewUserStats(userID)

	total := 0
	for _, tx := range txs {
		if tx == nil || tx.IsAnonymous() || tx.UserID != userID {
			continue
		}
		total += tx.Amount
	}
	stats, _ = stats.ApplyXP(total, now)

	stats.StreakDays, stats.LastActivityDate = trailingRun(logDates)
	stats.UpdatedAt = now
	return stats
}

// trailingRun returns the length of the consecutive-day run ending at the
// latest date, and that date.
func trailingRun(dates []shared.Date) (int, shared.Date) {
	days := make([]shared.Date, 0, len(dates))
	seen := make(map[string]struct{}, len(dates))
	for _, d := range dates {
		if d.IsZero() {
			continue
		}
		key := d.String()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		days = append(days, d)
	}
	if len(days) == 0 {
		return 0, shared.Date{}
	}

	sort.Slice(days, func(i, j int) bool { return days[i].After(days[j]) })

	run := 1
	for i := 1; i < len(days); i++ {
		if days[i].AddDays(1).Equal(days[i-1]) {
			run++
			continue
		}
		break
	}
	return run, days[0]
}
