package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/edusphere/edusphere-hub/internal/domain/progression"
	"github.com/edusphere/edusphere-hub/pkg/circuitbreaker"
	"github.com/edusphere/edusphere-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET LEADERBOARD QUERY
// Топ пользователей по total_xp. Сначала читается кеш (Redis),
// при холодном или недоступном кеше - хранилище.
// ══════════════════════════════════════════════════════════════════════════════

// Leaderboard sources reported in the result.
const (
	SourceCache = "cache"
	SourceStore = "store"
)

// GetLeaderboardQuery содержит параметры запроса лидерборда.
type GetLeaderboardQuery struct {
	// Limit - количество записей (по умолчанию и максимум 100).
	Limit int
}

// Validate проверяет корректность параметров запроса.
func (q *GetLeaderboardQuery) Validate() error {
	if q.Limit < 0 {
		return errors.New("limit cannot be negative")
	}
	if q.Limit == 0 || q.Limit > progression.MaxLeaderboardSize {
		q.Limit = progression.MaxLeaderboardSize
	}
	return nil
}

// GetLeaderboardResult содержит результат запроса лидерборда.
type GetLeaderboardResult struct {
	Entries     []progression.LeaderboardEntry `json:"entries"`
	Source      string                         `json:"source"`
	GeneratedAt time.Time                      `json:"generated_at"`
}

// GetLeaderboardHandler обрабатывает запросы на получение лидерборда.
type GetLeaderboardHandler struct {
	stats   progression.StatsRepository
	cache   progression.LeaderboardCache
	breaker *circuitbreaker.CircuitBreaker
	clock   timeutil.Clock
	logger  *slog.Logger
}

// NewGetLeaderboardHandler создаёт новый обработчик. cache и breaker могут быть nil.
func NewGetLeaderboardHandler(
	stats progression.StatsRepository,
	cache progression.LeaderboardCache,
	breaker *circuitbreaker.CircuitBreaker,
	clock timeutil.Clock,
	logger *slog.Logger,
) *GetLeaderboardHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GetLeaderboardHandler{
		stats:   stats,
		cache:   cache,
		breaker: breaker,
		clock:   clock,
		logger:  logger.With("query", "get_leaderboard"),
	}
}

// Handle выполняет запрос на получение лидерборда.
func (h *GetLeaderboardHandler) Handle(ctx context.Context, q GetLeaderboardQuery) (*GetLeaderboardResult, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("get_leaderboard: %w", err)
	}

	// Попытка получить из кеша
	cached, err := h.tryGetFromCache(ctx, q.Limit)
	if err != nil {
		h.logger.Warn("leaderboard cache read failed, using store", "error", err)
	} else if len(cached) > 0 {
		return &GetLeaderboardResult{Entries: cached, Source: SourceCache, GeneratedAt: h.clock.Now().UTC()}, nil
	}

	rows, err := h.stats.Top(ctx, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("get_leaderboard: %w", err)
	}

	return &GetLeaderboardResult{
		Entries:     progression.RankStats(rows),
		Source:      SourceStore,
		GeneratedAt: h.clock.Now().UTC(),
	}, nil
}

// tryGetFromCache читает кеш через circuit breaker.
func (h *GetLeaderboardHandler) tryGetFromCache(ctx context.Context, limit int) ([]progression.LeaderboardEntry, error) {
	if h.cache == nil {
		return nil, nil
	}

	var entries []progression.LeaderboardEntry
	read := func(ctx context.Context) error {
		var err error
		entries, err = h.cache.GetTop(ctx, limit)
		return err
	}

	if h.breaker == nil {
		return entries, read(ctx)
	}
	return entries, h.breaker.Execute(ctx, read)
}
