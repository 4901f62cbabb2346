package command

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/edusphere/edusphere-hub/internal/domain/progression"
	"github.com/edusphere/edusphere-hub/internal/domain/shared"
	"github.com/edusphere/edusphere-hub/internal/domain/wellness"
	"github.com/edusphere/edusphere-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// REBUILD STATS COMMAND
// Recomputes UserStats from the ledger and the habit logs.
// ══════════════════════════════════════════════════════════════════════════════

// RebuildStatsCommand names the user to rebuild.
type RebuildStatsCommand struct {
	UserID string
}

// RebuildStatsResult compares the stored row with the rebuilt one.
type RebuildStatsResult struct {
	Before  progression.UserStats
	After   progression.UserStats
	Existed bool
	Changed bool
}

// RebuildStatsHandler handles the RebuildStatsCommand.
type RebuildStatsHandler struct {
	ledger    progression.LedgerRepository
	logs      wellness.LogRepository
	stats     progression.StatsRepository
	publisher shared.EventPublisher
	clock     timeutil.Clock
	logger    *slog.Logger
}

// NewRebuildStatsHandler creates a new RebuildStatsHandler.
func NewRebuildStatsHandler(
	ledger progression.LedgerRepository,
	logs wellness.LogRepository,
	stats progression.StatsRepository,
	publisher shared.EventPublisher,
	clock timeutil.Clock,
	logger *slog.Logger,
) *RebuildStatsHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &RebuildStatsHandler{
		ledger:    ledger,
		logs:      logs,
		stats:     stats,
		publisher: publisher,
		clock:     clock,
		logger:    orDefault(logger).With("command", "rebuild_stats"),
	}
}

// Handle executes the rebuild.
func (h *RebuildStatsHandler) Handle(ctx context.Context, cmd RebuildStatsCommand) (*RebuildStatsResult, error) {
	userID := shared.UserID(strings.TrimSpace(cmd.UserID))
	if userID.IsEmpty() {
		return nil, fmt.Errorf("rebuild_stats: %w", shared.ErrUserIDRequired)
	}

	// History is read before taking the stats lock: the sqlite store runs on
	// a single connection.
	txs, err := h.ledger.AllByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("rebuild_stats: load ledger: %w", err)
	}
	dates, err := h.logs.LogDates(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("rebuild_stats: load log dates: %w", err)
	}

	now := h.clock.Now().UTC()
	result := &RebuildStatsResult{}

	after, err := h.stats.Update(ctx, userID, func(cur progression.UserStats, exists bool) (progression.UserStats, error) {
		result.Before = cur
		result.Existed = exists
		return progression.Rebuild(userID, txs, dates, now), nil
	})
	if err != nil {
		return nil, fmt.Errorf("rebuild_stats: %w", err)
	}

	result.After = after
	result.Changed = !result.Existed ||
		result.Before.TotalXP != after.TotalXP ||
		result.Before.StreakDays != after.StreakDays ||
		!result.Before.LastActivityDate.Equal(after.LastActivityDate)

	if result.Changed {
		h.logger.Info("stats rebuilt",
			"user_id", userID,
			"total_xp_before", result.Before.TotalXP,
			"total_xp_after", after.TotalXP,
			"streak_days", after.StreakDays,
		)
	}
	publishAll(h.publisher, h.logger, shared.NewStatsRebuiltEvent(userID.String(), after.TotalXP, after.Level, after.StreakDays, now))

	return result, nil
}
