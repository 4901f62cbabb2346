package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/edusphere/edusphere-hub/internal/domain/progression"
	"github.com/edusphere/edusphere-hub/internal/domain/shared"
	"github.com/edusphere/edusphere-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// STREAK TRACKER
// Runs after every successful habit log.
// ══════════════════════════════════════════════════════════════════════════════

// StreakUpdate is the result of one streak evaluation.
type StreakUpdate struct {
	Stats   progression.UserStats
	Outcome progression.StreakOutcome
}

// StreakTracker updates the consecutive-day counter of a user.
type StreakTracker struct {
	stats     progression.StatsRepository
	publisher shared.EventPublisher
	clock     timeutil.Clock
	location  *time.Location
	logger    *slog.Logger
}

// NewStreakTracker creates a new StreakTracker. Days are counted in location.
func NewStreakTracker(
	stats progression.StatsRepository,
	publisher shared.EventPublisher,
	clock timeutil.Clock,
	location *time.Location,
	logger *slog.Logger,
) *StreakTracker {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if location == nil {
		location = time.UTC
	}
	return &StreakTracker{
		stats:     stats,
		publisher: publisher,
		clock:     clock,
		location:  location,
		logger:    orDefault(logger).With("component", "streak_tracker"),
	}
}

// Update applies today's activity to the user's streak.
//
// When the current row cannot be read, the tracker logs the failure and
// writes a one-day streak; the outcome is then StreakRecovered.
func (t *StreakTracker) Update(ctx context.Context, userID shared.UserID) (*StreakUpdate, error) {
	if userID.IsEmpty() {
		return nil, fmt.Errorf("update_streak: %w", shared.ErrUserIDRequired)
	}

	now := t.clock.Now()
	today := shared.DateOf(now, t.location)

	var outcome progression.StreakOutcome
	stats, err := t.stats.Update(ctx, userID, func(cur progression.UserStats, exists bool) (progression.UserStats, error) {
		var next progression.UserStats
		next, outcome = progression.NextStreak(cur, exists, today)
		next.UpdatedAt = now.UTC()
		return next, nil
	})

	if err != nil {
		if !errors.Is(err, progression.ErrStatsRead) {
			return nil, fmt.Errorf("update_streak: %w", err)
		}

		t.logger.Error("stats read failed, resetting streak to one day",
			"user_id", userID,
			"today", today.String(),
			"error", err,
		)
		stats = progression.RecoveredStreak(userID, today)
		stats.UpdatedAt = now.UTC()
		if perr := t.stats.PutStreak(ctx, stats); perr != nil {
			return nil, fmt.Errorf("update_streak: recover: %w", perr)
		}
		outcome = progression.StreakRecovered
	}

	t.logger.Debug("streak updated", "user_id", userID, "streak_days", stats.StreakDays, "outcome", outcome)
	publishAll(t.publisher, t.logger, shared.NewStreakUpdatedEvent(userID.String(), stats.StreakDays, string(outcome), now.UTC()))

	return &StreakUpdate{Stats: stats, Outcome: outcome}, nil
}
