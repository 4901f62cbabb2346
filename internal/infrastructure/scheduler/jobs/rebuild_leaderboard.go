// Package jobs contains the worker's scheduled jobs.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/edusphere/edusphere-hub/internal/domain/progression"
)

// ══════════════════════════════════════════════════════════════════════════════
// REBUILD LEADERBOARD JOB
// ══════════════════════════════════════════════════════════════════════════════

// RebuildLeaderboardJob reloads the leaderboard cache from the stats store.
type RebuildLeaderboardJob struct {
	stats  progression.StatsRepository
	cache  progression.LeaderboardCache
	logger *slog.Logger
	config RebuildLeaderboardConfig
}

// RebuildLeaderboardConfig contains configuration for the rebuild job.
type RebuildLeaderboardConfig struct {
	// Size is how many rows are loaded into the cache.
	Size int

	// Timeout is the maximum duration for the rebuild operation.
	Timeout time.Duration
}

// DefaultRebuildLeaderboardConfig returns sensible defaults.
func DefaultRebuildLeaderboardConfig() RebuildLeaderboardConfig {
	return RebuildLeaderboardConfig{
		Size:    progression.MaxLeaderboardSize,
		Timeout: time.Minute,
	}
}

// NewRebuildLeaderboardJob creates a new rebuild leaderboard job.
func NewRebuildLeaderboardJob(
	stats progression.StatsRepository,
	cache progression.LeaderboardCache,
	logger *slog.Logger,
	config RebuildLeaderboardConfig,
) *RebuildLeaderboardJob {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Size <= 0 || config.Size > progression.MaxLeaderboardSize {
		config.Size = progression.MaxLeaderboardSize
	}
	return &RebuildLeaderboardJob{
		stats:  stats,
		cache:  cache,
		logger: logger.With("job", "rebuild_leaderboard"),
		config: config,
	}
}

// Name returns the job name.
func (j *RebuildLeaderboardJob) Name() string {
	return "rebuild_leaderboard"
}

// Description returns a human-readable description.
func (j *RebuildLeaderboardJob) Description() string {
	return "Reloads the cached XP leaderboard from user stats"
}

// Run executes the rebuild job.
func (j *RebuildLeaderboardJob) Run(ctx context.Context) error {
	if j.cache == nil {
		return errors.New("rebuild_leaderboard: no leaderboard cache configured")
	}
	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	rows, err := j.stats.Top(ctx, j.config.Size)
	if err != nil {
		return fmt.Errorf("rebuild_leaderboard: load stats: %w", err)
	}

	entries := progression.RankStats(rows)
	if err := j.cache.Replace(ctx, entries); err != nil {
		return fmt.Errorf("rebuild_leaderboard: replace cache: %w", err)
	}

	j.logger.Info("leaderboard rebuilt", "entries", len(entries))
	return nil
}
