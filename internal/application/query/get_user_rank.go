package query

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/edusphere/edusphere-hub/internal/domain/progression"
	"github.com/edusphere/edusphere-hub/internal/domain/shared"
	"github.com/edusphere/edusphere-hub/pkg/circuitbreaker"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET USER RANK QUERY
// Позиция пользователя в лидерборде. Порядок тот же, что у GetLeaderboard:
// total_xp по убыванию, при равенстве - user_id.
// ══════════════════════════════════════════════════════════════════════════════

// GetUserRankQuery содержит параметры запроса позиции.
type GetUserRankQuery struct {
	UserID string
}

// UserRankDTO - позиция пользователя с прогрессом уровня.
type UserRankDTO struct {
	UserID     string  `json:"user_id"`
	Rank       int     `json:"rank"`
	TotalUsers int     `json:"total_users"`
	Percentile float64 `json:"percentile"`

	TotalXP        int `json:"total_xp"`
	Level          int `json:"level"`
	CurrentLevelXP int `json:"current_level_xp"`
	XPToNextLevel  int `json:"xp_to_next_level"`
	// LevelProgress - процент пройденного уровня, 0-99.
	LevelProgress int `json:"level_progress"`
	StreakDays    int `json:"streak_days"`

	Source string `json:"source"`
}

// NewUserRankDTO builds the DTO from a rank and where it was read from.
func NewUserRankDTO(r progression.UserRank, source string) UserRankDTO {
	lvl := progression.LevelOf(r.TotalXP)
	return UserRankDTO{
		UserID:         r.UserID,
		Rank:           r.Rank,
		TotalUsers:     r.TotalUsers,
		Percentile:     math.Round(r.Percentile()*10) / 10,
		TotalXP:        r.TotalXP,
		Level:          lvl.Level,
		CurrentLevelXP: lvl.CurrentLevelXP,
		XPToNextLevel:  lvl.XPToNext(),
		LevelProgress:  lvl.Progress(),
		StreakDays:     r.StreakDays,
		Source:         source,
	}
}

// GetUserRankHandler обрабатывает GetUserRankQuery.
type GetUserRankHandler struct {
	stats   progression.StatsRepository
	cache   progression.LeaderboardCache
	breaker *circuitbreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewGetUserRankHandler создаёт обработчик. cache и breaker могут быть nil.
func NewGetUserRankHandler(
	stats progression.StatsRepository,
	cache progression.LeaderboardCache,
	breaker *circuitbreaker.CircuitBreaker,
	logger *slog.Logger,
) *GetUserRankHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GetUserRankHandler{
		stats:   stats,
		cache:   cache,
		breaker: breaker,
		logger:  logger.With("query", "get_user_rank"),
	}
}

// Handle returns shared.ErrStatsNotFound for a user who never earned XP.
func (h *GetUserRankHandler) Handle(ctx context.Context, q GetUserRankQuery) (*UserRankDTO, error) {
	userID, err := shared.NewUserID(q.UserID)
	if err != nil {
		return nil, fmt.Errorf("get_user_rank: %w", err)
	}

	// Тёплый кеш отвечает сразу; холодный или недоступный - идём в хранилище.
	rank, found, err := h.tryGetFromCache(ctx, userID.String())
	if err != nil {
		h.logger.Warn("rank cache read failed, using store", "error", err)
	} else if found {
		dto := NewUserRankDTO(rank, SourceCache)
		return &dto, nil
	}

	rank, err = h.stats.Rank(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get_user_rank: %w", err)
	}
	dto := NewUserRankDTO(rank, SourceStore)
	return &dto, nil
}

func (h *GetUserRankHandler) tryGetFromCache(ctx context.Context, userID string) (progression.UserRank, bool, error) {
	if h.cache == nil {
		return progression.UserRank{}, false, nil
	}

	var (
		rank  progression.UserRank
		found bool
	)
	read := func(ctx context.Context) error {
		var err error
		rank, found, err = h.cache.GetRank(ctx, userID)
		return err
	}

	if h.breaker == nil {
		err := read(ctx)
		return rank, found, err
	}
	err := h.breaker.Execute(ctx, read)
	return rank, found, err
}
