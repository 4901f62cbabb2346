package shared

import (
	"encoding/json"
	"time"
)

type EventType string

const (
	EventXPAwarded     EventType = "progress.xp_awarded"
	EventLevelUp       EventType = "progress.level_up"
	EventStreakUpdated EventType = "progress.streak_updated"
	EventStatsRebuilt  EventType = "progress.stats_rebuilt"

	EventHabitLogged EventType = "wellness.habit_logged"
)

// Event is a fact the ledger or the habit tracker produced. The aggregate
// is always the user.
type Event interface {
	EventType() EventType
	OccurredAt() time.Time
	AggregateID() string
	// Payload is what goes on the wire; keys are snake_case.
	Payload() map[string]interface{}
}

// BaseEvent is embedded by every concrete event.
type BaseEvent struct {
	Type          EventType `json:"type"`
	At            time.Time `json:"timestamp"`
	UserKey       string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

func NewBaseEvent(eventType EventType, userID string, at time.Time) BaseEvent {
	return BaseEvent{Type: eventType, At: at, UserKey: userID, Version: 1}
}

func (e BaseEvent) EventType() EventType  { return e.Type }
func (e BaseEvent) OccurredAt() time.Time { return e.At }
func (e BaseEvent) AggregateID() string   { return e.UserKey }
func (e BaseEvent) Correlation() string   { return e.CorrelationID }

// WithCorrelationID returns a copy tagged with the request that caused it.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ════════════════════════════════════════════════════════════════════════════
// PROGRESS
// ════════════════════════════════════════════════════════════════════════════

// XPAwardedEvent follows an award that reached the user's stats. TotalXP
// and Level are the values after the award.
type XPAwardedEvent struct {
	BaseEvent
	UserID        string `json:"user_id"`
	TransactionID string `json:"transaction_id"`
	Amount        int    `json:"amount"`
	Source        string `json:"source"`
	TotalXP       int    `json:"total_xp"`
	Level         int    `json:"level"`
}

func NewXPAwardedEvent(userID, transactionID string, amount int, source string, totalXP, level int, at time.Time) XPAwardedEvent {
	return XPAwardedEvent{
		BaseEvent:     NewBaseEvent(EventXPAwarded, userID, at),
		UserID:        userID,
		TransactionID: transactionID,
		Amount:        amount,
		Source:        source,
		TotalXP:       totalXP,
		Level:         level,
	}
}

func (e XPAwardedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":        e.UserID,
		"transaction_id": e.TransactionID,
		"amount":         e.Amount,
		"source":         e.Source,
		"total_xp":       e.TotalXP,
		"level":          e.Level,
	}
}

// LevelUpEvent: NewLevel > OldLevel, possibly by more than one.
type LevelUpEvent struct {
	BaseEvent
	UserID   string `json:"user_id"`
	OldLevel int    `json:"old_level"`
	NewLevel int    `json:"new_level"`
	TotalXP  int    `json:"total_xp"`
}

func NewLevelUpEvent(userID string, oldLevel, newLevel, totalXP int, at time.Time) LevelUpEvent {
	return LevelUpEvent{
		BaseEvent: NewBaseEvent(EventLevelUp, userID, at),
		UserID:    userID,
		OldLevel:  oldLevel,
		NewLevel:  newLevel,
		TotalXP:   totalXP,
	}
}

func (e LevelUpEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":   e.UserID,
		"old_level": e.OldLevel,
		"new_level": e.NewLevel,
		"total_xp":  e.TotalXP,
	}
}

// StreakUpdatedEvent carries the tracker outcome (progression.StreakOutcome
// as a string) and the resulting streak length.
type StreakUpdatedEvent struct {
	BaseEvent
	UserID     string `json:"user_id"`
	StreakDays int    `json:"streak_days"`
	Outcome    string `json:"outcome"`
}

func NewStreakUpdatedEvent(userID string, streakDays int, outcome string, at time.Time) StreakUpdatedEvent {
	return StreakUpdatedEvent{
		BaseEvent:  NewBaseEvent(EventStreakUpdated, userID, at),
		UserID:     userID,
		StreakDays: streakDays,
		Outcome:    outcome,
	}
}

func (e StreakUpdatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":     e.UserID,
		"streak_days": e.StreakDays,
		"outcome":     e.Outcome,
	}
}

// StatsRebuiltEvent follows a recomputation of stats from the ledger.
type StatsRebuiltEvent struct {
	BaseEvent
	UserID     string `json:"user_id"`
	TotalXP    int    `json:"total_xp"`
	Level      int    `json:"level"`
	StreakDays int    `json:"streak_days"`
}

func NewStatsRebuiltEvent(userID string, totalXP, level, streakDays int, at time.Time) StatsRebuiltEvent {
	return StatsRebuiltEvent{
		BaseEvent:  NewBaseEvent(EventStatsRebuilt, userID, at),
		UserID:     userID,
		TotalXP:    totalXP,
		Level:      level,
		StreakDays: streakDays,
	}
}

func (e StatsRebuiltEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":     e.UserID,
		"total_xp":    e.TotalXP,
		"level":       e.Level,
		"streak_days": e.StreakDays,
	}
}

// ════════════════════════════════════════════════════════════════════════════
// WELLNESS
// ════════════════════════════════════════════════════════════════════════════

// HabitLoggedEvent follows a habit log upsert. LogDate is YYYY-MM-DD.
type HabitLoggedEvent struct {
	BaseEvent
	UserID  string  `json:"user_id"`
	HabitID string  `json:"habit_id"`
	LogDate string  `json:"log_date"`
	Value   float64 `json:"value"`
}

func NewHabitLoggedEvent(userID, habitID, logDate string, value float64, at time.Time) HabitLoggedEvent {
	return HabitLoggedEvent{
		BaseEvent: NewBaseEvent(EventHabitLogged, userID, at),
		UserID:    userID,
		HabitID:   habitID,
		LogDate:   logDate,
		Value:     value,
	}
}

func (e HabitLoggedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":  e.UserID,
		"habit_id": e.HabitID,
		"log_date": e.LogDate,
		"value":    e.Value,
	}
}

// ════════════════════════════════════════════════════════════════════════════
// TRANSPORT
// ════════════════════════════════════════════════════════════════════════════

// EventEnvelope is the serialized form of an event, as published to Redis.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// EventHandler errors are logged by the bus; they never reach the publisher.
type EventHandler func(event Event) error

type EventPublisher interface {
	Publish(event Event) error
}

type EventSubscriber interface {
	Subscribe(eventType EventType, handler EventHandler) error
	// SubscribeAll receives every event type.
	SubscribeAll(handler EventHandler) error
}

type EventBus interface {
	EventPublisher
	EventSubscriber
}
