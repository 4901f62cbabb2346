package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/edusphere/edusphere-hub/internal/domain/shared"
	"github.com/edusphere/edusphere-hub/internal/domain/wellness"
	"github.com/edusphere/edusphere-hub/pkg/timeutil"
)

// EnsureDefaultHabitsCommand asks for the starter habits of a user.
type EnsureDefaultHabitsCommand struct {
	UserID string
}

// EnsureDefaultHabitsResult lists the user's habits after the call.
type EnsureDefaultHabitsResult struct {
	Habits  []*wellness.Habit
	Created int
}

// EnsureDefaultHabitsHandler creates the default habit types a user is missing.
type EnsureDefaultHabitsHandler struct {
	habits wellness.HabitRepository
	clock  timeutil.Clock
}

// NewEnsureDefaultHabitsHandler creates a new EnsureDefaultHabitsHandler.
func NewEnsureDefaultHabitsHandler(habits wellness.HabitRepository, clock timeutil.Clock) *EnsureDefaultHabitsHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &EnsureDefaultHabitsHandler{habits: habits, clock: clock}
}

// Handle executes the command. Calling it twice creates nothing the second time.
func (h *EnsureDefaultHabitsHandler) Handle(ctx context.Context, cmd EnsureDefaultHabitsCommand) (*EnsureDefaultHabitsResult, error) {
	userID := shared.UserID(strings.TrimSpace(cmd.UserID))
	if userID.IsEmpty() {
		return nil, fmt.Errorf("ensure_default_habits: %w", shared.ErrUserIDRequired)
	}

	existing, err := h.habits.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ensure_default_habits: list habits: %w", err)
	}

	missing := wellness.MissingDefaults(existing)
	if len(missing) == 0 {
		return &EnsureDefaultHabitsResult{Habits: existing}, nil
	}

	created, err := buildHabits(userID, missing, h.clock)
	if err != nil {
		return nil, fmt.Errorf("ensure_default_habits: %w", err)
	}
	if err := h.habits.CreateMany(ctx, created); err != nil {
		return nil, fmt.Errorf("ensure_default_habits: create habits: %w", err)
	}

	return &EnsureDefaultHabitsResult{
		Habits:  append(existing, created...),
		Created: len(created),
	}, nil
}

func buildHabits(userID shared.UserID, templates []wellness.HabitTemplate, clock timeutil.Clock) ([]*wellness.Habit, error) {
	now := clock.Now().UTC()
	habits := make([]*wellness.Habit, 0, len(templates))
	for _, tpl := range templates {
		habit, err := wellness.NewHabit(newID(), userID, tpl, now)
		if err != nil {
			return nil, err
		}
		habits = append(habits, habit)
	}
	return habits, nil
}
