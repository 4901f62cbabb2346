// Package query contains read operations following CQRS pattern.
// Queries never modify state - they only read and return data.
package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/edusphere/edusphere-hub/internal/domain/progression"
	"github.com/edusphere/edusphere-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET STATS QUERY
// Возвращает XP, уровень и серию пользователя.
// Если строки ещё нет, возвращаются значения по умолчанию.
// ══════════════════════════════════════════════════════════════════════════════

// GetStatsQuery содержит параметры запроса.
type GetStatsQuery struct {
	UserID string
}

// StatsDTO - представление UserStats для API.
type StatsDTO struct {
	UserID           string      `json:"user_id"`
	TotalXP          int         `json:"total_xp"`
	Level            int         `json:"level"`
	CurrentLevelXP   int         `json:"current_level_xp"`
	XPToNextLevel    int         `json:"xp_to_next_level"`
	StreakDays       int         `json:"streak_days"`
	LastActivityDate shared.Date `json:"last_activity_date"`
}

// NewStatsDTO builds the DTO from a stats row.
func NewStatsDTO(s progression.UserStats) StatsDTO {
	lvl := progression.LevelOf(s.TotalXP)
	return StatsDTO{
		UserID:           s.UserID.String(),
		TotalXP:          s.TotalXP,
		Level:            lvl.Level,
		CurrentLevelXP:   lvl.CurrentLevelXP,
		XPToNextLevel:    lvl.XPToNext(),
		StreakDays:       s.StreakDays,
		LastActivityDate: s.LastActivityDate,
	}
}

// GetStatsHandler обрабатывает GetStatsQuery.
type GetStatsHandler struct {
	stats progression.StatsRepository
}

// NewGetStatsHandler создаёт новый обработчик.
func NewGetStatsHandler(stats progression.StatsRepository) *GetStatsHandler {
	return &GetStatsHandler{stats: stats}
}

// Handle выполняет запрос.
func (h *GetStatsHandler) Handle(ctx context.Context, q GetStatsQuery) (*StatsDTO, error) {
	userID, err := shared.NewUserID(q.UserID)
	if err != nil {
		return nil, fmt.Errorf("get_stats: %w", err)
	}

	row, err := h.stats.Get(ctx, userID)
	if err != nil {
		if shared.IsNotFound(err) {
			dto := NewStatsDTO(progression.NewUserStats(userID))
			return &dto, nil
		}
		return nil, fmt.Errorf("get_stats: %w", err)
	}

	dto := NewStatsDTO(*row)
	return &dto, nil
}

func trimmed(s string) string { return strings.TrimSpace(s) }
