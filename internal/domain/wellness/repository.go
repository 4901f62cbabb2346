package wellness

import (
	"context"

	"github.com/edusphere/edusphere-hub/internal/domain/shared"
)

// HabitRepository stores habits.
type HabitRepository interface {
	// CreateMany inserts habits in one batch.
	CreateMany(ctx context.Context, habits []*Habit) error

	// GetByID returns shared.ErrHabitNotFound when the habit does not exist.
	GetByID(ctx context.Context, id string) (*Habit, error)

	// ListByUser returns a user's habits ordered by creation time.
	ListByUser(ctx context.Context, userID shared.UserID) ([]*Habit, error)
}

// LogRepository stores habit logs.
type LogRepository interface {
	// Upsert inserts the log or overwrites value and notes of the existing
	// (habit_id, log_date) row. The stored row is returned.
	Upsert(ctx context.Context, log *HabitLog) (*HabitLog, error)

	// ListByUser returns a user's logs inside the range, oldest first.
	ListByUser(ctx context.Context, userID shared.UserID, r shared.DateRange) ([]*HabitLog, error)

	// LogDates returns the distinct days a user logged anything.
	LogDates(ctx context.Context, userID shared.UserID) ([]shared.Date, error)
}
