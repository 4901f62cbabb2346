package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/edusphere/edusphere-hub/internal/domain/shared"
	"github.com/edusphere/edusphere-hub/internal/domain/wellness"
	"github.com/edusphere/edusphere-hub/pkg/timeutil"
)

// CreateHabitsCommand creates several habits for one user.
type CreateHabitsCommand struct {
	UserID string
	Habits []wellness.HabitTemplate
}

// Validate validates the command.
func (c CreateHabitsCommand) Validate() error {
	if strings.TrimSpace(c.UserID) == "" {
		return shared.ErrUserIDRequired
	}
	if len(c.Habits) == 0 {
		return shared.NewDomainError("wellness", "CreateHabits", shared.ErrEmptyValue, "habits must not be empty")
	}
	return nil
}

// CreateHabitsHandler handles the CreateHabitsCommand. Either all habits
// are stored or none.
type CreateHabitsHandler struct {
	habits wellness.HabitRepository
	clock  timeutil.Clock
}

// NewCreateHabitsHandler creates a new CreateHabitsHandler.
func NewCreateHabitsHandler(habits wellness.HabitRepository, clock timeutil.Clock) *CreateHabitsHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &CreateHabitsHandler{habits: habits, clock: clock}
}

// Handle executes the command.
func (h *CreateHabitsHandler) Handle(ctx context.Context, cmd CreateHabitsCommand) ([]*wellness.Habit, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("create_habits: validation failed: %w", err)
	}

	habits, err := buildHabits(shared.UserID(strings.TrimSpace(cmd.UserID)), cmd.Habits, h.clock)
	if err != nil {
		return nil, fmt.Errorf("create_habits: validation failed: %w", err)
	}
	if err := h.habits.CreateMany(ctx, habits); err != nil {
		return nil, fmt.Errorf("create_habits: %w", err)
	}
	return habits, nil
}
