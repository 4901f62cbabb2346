// Package eventhandler содержит обработчики доменных событий.
package eventhandler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/edusphere/edusphere-hub/internal/domain/progression"
	"github.com/edusphere/edusphere-hub/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON XP AWARDED HANDLER
// Обновляет кеш лидерборда после каждого начисления XP.
// Ошибка кеша не влияет на начисление: воркер периодически
// перестраивает лидерборд целиком.
// ═══════════════════════════════════════════════════════════════════════════

// OnXPAwardedHandler обрабатывает событие начисления XP.
type OnXPAwardedHandler struct {
	cache   progression.LeaderboardCache
	logger  *slog.Logger
	timeout time.Duration
}

// NewOnXPAwardedHandler создаёт новый обработчик.
func NewOnXPAwardedHandler(cache progression.LeaderboardCache, logger *slog.Logger) *OnXPAwardedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OnXPAwardedHandler{
		cache:   cache,
		logger:  logger.With("handler", "on_xp_awarded"),
		timeout: 2 * time.Second,
	}
}

// Handle обрабатывает событие.
// Реализует интерфейс shared.EventHandler.
func (h *OnXPAwardedHandler) Handle(event shared.Event) error {
	entry, ok := entryFromEvent(event)
	if !ok {
		h.logger.Warn("received event without leaderboard data", "event_type", event.EventType())
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	// Пересчёт статистики может уменьшить total_xp, поэтому он перезаписывает
	// запись; начисление только повышает.
	write := h.cache.UpdateEntry
	if event.EventType() == shared.EventStatsRebuilt {
		write = h.cache.SetEntry
	}
	if err := write(ctx, entry); err != nil {
		h.logger.Error("failed to update leaderboard cache",
			"user_id", entry.UserID,
			"total_xp", entry.TotalXP,
			"error", err,
		)
		return fmt.Errorf("on_xp_awarded: %w", err)
	}

	h.logger.Debug("leaderboard cache updated", "user_id", entry.UserID, "total_xp", entry.TotalXP)
	return nil
}

// entryFromEvent accepts the concrete event and events decoded from the
// Redis bus, whose payload numbers arrive as float64.
func entryFromEvent(event shared.Event) (progression.LeaderboardEntry, bool) {
	switch e := event.(type) {
	case shared.XPAwardedEvent:
		return progression.LeaderboardEntry{UserID: e.UserID, TotalXP: e.TotalXP, Level: e.Level}, e.UserID != ""
	case shared.StatsRebuiltEvent:
		return progression.LeaderboardEntry{UserID: e.UserID, TotalXP: e.TotalXP, Level: e.Level, StreakDays: e.StreakDays}, e.UserID != ""
	}

	payload := event.Payload()
	userID, _ := payload["user_id"].(string)
	total, okTotal := asInt(payload["total_xp"])
	if userID == "" || !okTotal {
		return progression.LeaderboardEntry{}, false
	}
	streak, _ := asInt(payload["streak_days"])
	return progression.LeaderboardEntry{
		UserID:     userID,
		TotalXP:    total,
		Level:      progression.LevelOf(total).Level,
		StreakDays: streak,
	}, true
}

func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
