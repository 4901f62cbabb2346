// Package wellness contains daily habits and their per-day logs.
// This is a pure domain layer with zero external dependencies.
package wellness

import (
	"strings"
	"time"

	"github.com/edusphere/edusphere-hub/internal/domain/shared"
)

// HabitType is one of the tracked wellness categories.
type HabitType string

const (
	HabitSleep       HabitType = "sleep"
	HabitHydration   HabitType = "hydration"
	HabitMindfulness HabitType = "mindfulness"
	HabitMovement    HabitType = "movement"
)

// IsValid checks if the habit type is known.
func (h HabitType) IsValid() bool {
	switch h {
	case HabitSleep, HabitHydration, HabitMindfulness, HabitMovement:
		return true
	}
	return false
}

// Habit is a user's tracked habit with its daily target.
type Habit struct {
	ID          string        `json:"id"`
	UserID      shared.UserID `json:"user_id"`
	HabitType   HabitType     `json:"habit_type"`
	TargetValue float64       `json:"target_value"`
	Unit        string        `json:"unit"`
	CreatedAt   time.Time     `json:"created_at"`
}

// OwnedBy reports whether the habit belongs to userID.
func (h *Habit) OwnedBy(userID shared.UserID) bool {
	return h.UserID == userID
}

// HabitTemplate describes a habit before it is assigned to a user.
type HabitTemplate struct {
	HabitType   HabitType `json:"habit_type"`
	TargetValue float64   `json:"target_value"`
	Unit        string    `json:"unit"`
}

// DefaultHabits returns the starter set created for new users.
func DefaultHabits() []HabitTemplate {
	return []HabitTemplate{
		{HabitType: HabitSleep, TargetValue: 8, Unit: "hours"},
		{HabitType: HabitHydration, TargetValue: 8, Unit: "glasses"},
		{HabitType: HabitMindfulness, TargetValue: 10, Unit: "minutes"},
		{HabitType: HabitMovement, TargetValue: 30, Unit: "minutes"},
	}
}

// NewHabit validates a template and assigns it to a user.
func NewHabit(id string, userID shared.UserID, tpl HabitTemplate, createdAt time.Time) (*Habit, error) {
	if id == "" {
		return nil, shared.NewDomainError("wellness", "NewHabit", shared.ErrInvalidID, "habit ID is required")
	}
	if userID.IsEmpty() {
		return nil, shared.ErrUserIDRequired
	}
	if !tpl.HabitType.IsValid() {
		return nil, shared.ErrInvalidHabitType
	}
	if tpl.TargetValue < 0 {
		return nil, shared.NewDomainError("wellness", "NewHabit", shared.ErrNegativeValue, "target_value cannot be negative")
	}

	return &Habit{
		ID:          id,
		UserID:      userID,
		HabitType:   tpl.HabitType,
		TargetValue: tpl.TargetValue,
		Unit:        strings.TrimSpace(tpl.Unit),
		CreatedAt:   createdAt,
	}, nil
}

// MissingDefaults returns the default templates whose type the user lacks.
func MissingDefaults(existing []*Habit) []HabitTemplate {
	have := make(map[HabitType]bool, len(existing))
	for _, h := range existing {
		have[h.HabitType] = true
	}

	var missing []HabitTemplate
	for _, tpl := range DefaultHabits() {
		if !have[tpl.HabitType] {
			missing = append(missing, tpl)
		}
	}
	return missing
}
