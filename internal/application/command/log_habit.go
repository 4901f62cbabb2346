package command

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/edusphere/edusphere-hub/internal/domain/shared"
	"github.com/edusphere/edusphere-hub/internal/domain/wellness"
	"github.com/edusphere/edusphere-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// LOG HABIT COMMAND
// Upserts today's value for a habit, then advances the owner's streak.
// ══════════════════════════════════════════════════════════════════════════════

// LogHabitCommand contains the data of one habit log.
type LogHabitCommand struct {
	HabitID string

	// Value is required; zero is a valid value.
	Value *float64

	// UserID, when set, must own the habit.
	UserID string

	// LogDate is YYYY-MM-DD; empty means today in the service timezone.
	LogDate string

	Notes string
}

// Validate validates the command.
func (c LogHabitCommand) Validate() error {
	if strings.TrimSpace(c.HabitID) == "" {
		return shared.ErrHabitIDRequired
	}
	if c.Value == nil {
		return shared.ErrHabitValueRequired
	}
	return nil
}

// LogHabitResult contains the stored log and the streak outcome.
type LogHabitResult struct {
	Log *wellness.HabitLog

	// Streak is nil when the streak update failed; StreakWarning then
	// describes the failure.
	Streak        *StreakUpdate
	StreakWarning string
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// LogHabitHandler handles the LogHabitCommand.
type LogHabitHandler struct {
	habits    wellness.HabitRepository
	logs      wellness.LogRepository
	streak    *StreakTracker
	publisher shared.EventPublisher
	clock     timeutil.Clock
	location  *time.Location
	logger    *slog.Logger
}

// NewLogHabitHandler creates a new LogHabitHandler.
func NewLogHabitHandler(
	habits wellness.HabitRepository,
	logs wellness.LogRepository,
	streak *StreakTracker,
	publisher shared.EventPublisher,
	clock timeutil.Clock,
	location *time.Location,
	logger *slog.Logger,
) *LogHabitHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if location == nil {
		location = time.UTC
	}
	return &LogHabitHandler{
		habits:    habits,
		logs:      logs,
		streak:    streak,
		publisher: publisher,
		clock:     clock,
		location:  location,
		logger:    orDefault(logger).With("command", "log_habit"),
	}
}

// Handle executes the habit log.
func (h *LogHabitHandler) Handle(ctx context.Context, cmd LogHabitCommand) (*LogHabitResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("log_habit: validation failed: %w", err)
	}

	now := h.clock.Now()

	habit, err := h.habits.GetByID(ctx, strings.TrimSpace(cmd.HabitID))
	if err != nil {
		return nil, fmt.Errorf("log_habit: get habit: %w", err)
	}
	if userID := shared.UserID(strings.TrimSpace(cmd.UserID)); !userID.IsEmpty() && !habit.OwnedBy(userID) {
		return nil, fmt.Errorf("log_habit: %w", shared.ErrHabitNotOwned)
	}

	logDate := shared.DateOf(now, h.location)
	if cmd.LogDate != "" {
		if logDate, err = shared.ParseDate(cmd.LogDate); err != nil {
			return nil, fmt.Errorf("log_habit: validation failed: %w", err)
		}
	}

	entry, err := wellness.NewHabitLog(wellness.NewLogParams{
		ID:      newID(),
		Habit:   habit,
		LogDate: logDate,
		Value:   *cmd.Value,
		Notes:   cmd.Notes,
		Now:     now.UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("log_habit: %w", err)
	}

	stored, err := h.logs.Upsert(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("log_habit: upsert: %w", err)
	}

	publishAll(h.publisher, h.logger, shared.NewHabitLoggedEvent(
		stored.UserID.String(), stored.HabitID, stored.LogDate.String(), stored.Value, now.UTC(),
	))

	result := &LogHabitResult{Log: stored}

	// The streak counts the day of the call, not log_date.
	if h.streak != nil {
		update, err := h.streak.Update(ctx, habit.UserID)
		if err != nil {
			h.logger.Warn("streak update failed", "user_id", habit.UserID, "habit_id", habit.ID, "error", err)
			result.StreakWarning = err.Error()
		} else {
			result.Streak = update
		}
	}

	return result, nil
}
