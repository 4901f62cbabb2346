package query

import (
	"context"
	"fmt"
	"time"

	"github.com/edusphere/edusphere-hub/internal/domain/shared"
	"github.com/edusphere/edusphere-hub/internal/domain/wellness"
	"github.com/edusphere/edusphere-hub/pkg/timeutil"
)

// DefaultHabitWindowDays is the range used when no dates are given.
const DefaultHabitWindowDays = 7

// ListHabitsQuery запрашивает привычки пользователя с логами за период.
// Пустые From/To означают последние 7 дней.
type ListHabitsQuery struct {
	UserID string
	From   string
	To     string
}

// ListHabitsResult содержит привычки и период.
type ListHabitsResult struct {
	Habits []wellness.HabitWithLogs `json:"habits"`
	From   shared.Date              `json:"from"`
	To     shared.Date              `json:"to"`
}

// ListHabitsHandler обрабатывает ListHabitsQuery.
type ListHabitsHandler struct {
	habits   wellness.HabitRepository
	logs     wellness.LogRepository
	clock    timeutil.Clock
	location *time.Location
}

// NewListHabitsHandler создаёт новый обработчик.
func NewListHabitsHandler(habits wellness.HabitRepository, logs wellness.LogRepository, clock timeutil.Clock, location *time.Location) *ListHabitsHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if location == nil {
		location = time.UTC
	}
	return &ListHabitsHandler{habits: habits, logs: logs, clock: clock, location: location}
}

// Handle выполняет запрос.
func (h *ListHabitsHandler) Handle(ctx context.Context, q ListHabitsQuery) (*ListHabitsResult, error) {
	userID, err := shared.NewUserID(q.UserID)
	if err != nil {
		return nil, fmt.Errorf("list_habits: %w", err)
	}

	rng, err := h.resolveRange(q)
	if err != nil {
		return nil, fmt.Errorf("list_habits: %w", err)
	}

	habits, err := h.habits.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list_habits: %w", err)
	}
	logs, err := h.logs.ListByUser(ctx, userID, rng)
	if err != nil {
		return nil, fmt.Errorf("list_habits: %w", err)
	}

	byHabit := make(map[string][]*wellness.HabitLog, len(habits))
	for _, l := range logs {
		byHabit[l.HabitID] = append(byHabit[l.HabitID], l)
	}

	out := make([]wellness.HabitWithLogs, 0, len(habits))
	for _, habit := range habits {
		entries := byHabit[habit.ID]
		if entries == nil {
			entries = []*wellness.HabitLog{}
		}
		out = append(out, wellness.HabitWithLogs{Habit: habit, Logs: entries})
	}

	return &ListHabitsResult{Habits: out, From: rng.From, To: rng.To}, nil
}

func (h *ListHabitsHandler) resolveRange(q ListHabitsQuery) (shared.DateRange, error) {
	today := shared.DateOf(h.clock.Now(), h.location)
	rng := shared.LastNDays(today, DefaultHabitWindowDays)

	if from := trimmed(q.From); from != "" {
		d, err := shared.ParseDate(from)
		if err != nil {
			return shared.DateRange{}, err
		}
		rng.From = d
	}
	if to := trimmed(q.To); to != "" {
		d, err := shared.ParseDate(to)
		if err != nil {
			return shared.DateRange{}, err
		}
		rng.To = d
	}
	return shared.NewDateRange(rng.From, rng.To)
}
