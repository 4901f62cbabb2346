package wellness

import (
	"strings"
	"time"

	"github.com/edusphere/edusphere-hub/internal/domain/shared"
)

// HabitLog is the value recorded for one habit on one day.
// (HabitID, LogDate) is unique; a second log on the same day overwrites.
type HabitLog struct {
	ID        string        `json:"id"`
	HabitID   string        `json:"habit_id"`
	UserID    shared.UserID `json:"user_id"`
	LogDate   shared.Date   `json:"log_date"`
	Value     float64       `json:"value"`
	Notes     string        `json:"notes,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Completion returns value/target capped at 1. A zero target counts as met.
func (l *HabitLog) Completion(h *Habit) float64 {
	if h == nil || h.TargetValue <= 0 {
		return 1
	}
	ratio := l.Value / h.TargetValue
	if ratio > 1 {
		return 1
	}
	if ratio < 0 {
		return 0
	}
	return ratio
}

// NewLogParams holds the inputs for NewHabitLog.
type NewLogParams struct {
	ID      string
	Habit   *Habit
	LogDate shared.Date
	Value   float64
	Notes   string
	Now     time.Time
}

// NewHabitLog builds a log for the habit's owner.
func NewHabitLog(p NewLogParams) (*HabitLog, error) {
	if p.Habit == nil {
		return nil, shared.ErrHabitNotFound
	}
	if p.LogDate.IsZero() {
		return nil, shared.NewDomainError("wellness", "NewHabitLog", shared.ErrEmptyValue, "log_date is required")
	}

	return &HabitLog{
		ID:        p.ID,
		HabitID:   p.Habit.ID,
		UserID:    p.Habit.UserID,
		LogDate:   p.LogDate,
		Value:     p.Value,
		Notes:     strings.TrimSpace(p.Notes),
		CreatedAt: p.Now,
		UpdatedAt: p.Now,
	}, nil
}

// HabitWithLogs groups a habit with its logs in a date range.
type HabitWithLogs struct {
	Habit *Habit      `json:"habit"`
	Logs  []*HabitLog `json:"logs"`
}
