package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/edusphere/edusphere-hub/internal/application/command"
	"github.com/edusphere/edusphere-hub/internal/application/query"
	"github.com/edusphere/edusphere-hub/internal/domain/progression"
	"github.com/edusphere/edusphere-hub/internal/domain/shared"
	"github.com/edusphere/edusphere-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot serves the root endpoint with basic API information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"name":    "EduSphere Gamification API",
		"version": s.config.Version,
		"endpoints": map[string]string{
			"health":      "/health",
			"award":       "/api/v1/xp",
			"leaderboard": "/api/v1/leaderboard",
			"rewards":     "/api/v1/rewards",
		},
	}, nil)
}

// handleHealth handles the health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker == nil {
		writeJSON(w, r, http.StatusOK, map[string]interface{}{
			"status": "healthy",
			"uptime": s.Uptime().Round(time.Second).String(),
		}, nil)
		return
	}

	status := s.deps.HealthChecker.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, status, nil)
}

// handleReady handles the readiness endpoint.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Ready {
			writeJSONError(w, r, http.StatusServiceUnavailable, "not_ready", status.Message, status.Checks)
			return
		}
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"}, nil)
}

// handleLive handles the liveness endpoint.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"}, nil)
}

// ══════════════════════════════════════════════════════════════════════════════
// XP HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleAwardXP handles POST /api/v1/xp
func (s *Server) handleAwardXP(w http.ResponseWriter, r *http.Request) {
	var req AwardXPRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.deps.AwardXP.Handle(r.Context(), req.command(getRequestID(r.Context())))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeAward(w, r, req.UserID, result)
}

// handleClaimReward handles POST /api/v1/rewards/{key}/claim
func (s *Server) handleClaimReward(w http.ResponseWriter, r *http.Request) {
	var req ClaimRewardRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.deps.ClaimReward.Handle(r.Context(), req.command(r.PathValue("key"), getRequestID(r.Context())))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeAward(w, r, req.UserID, result)
}

func writeAward(w http.ResponseWriter, r *http.Request, userID string, result *command.AwardXPResult) {
	logger.FromContext(r.Context()).Info("xp awarded",
		logger.UserID(userID),
		logger.TransactionID(result.Transaction.ID),
		logger.XPAmount(result.Transaction.Amount),
		logger.Source(result.Transaction.Source),
		logger.UserLevel(result.Level),
	)

	writeJSON(w, r, http.StatusCreated, map[string]interface{}{
		"transaction":      result.Transaction,
		"total_xp":         result.TotalXP,
		"level":            result.Level,
		"current_level_xp": result.CurrentLevelXP,
		"level_up":         result.LevelUp,
	}, nil)
}

// handleGetXPHistory handles GET /api/v1/users/{id}/xp
func (s *Server) handleGetXPHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", shared.DefaultPageSize)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.deps.GetXPHistory.Handle(r.Context(), query.GetXPHistoryQuery{
		UserID: r.PathValue("id"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, result.Transactions, &ResponseMeta{
		Count:   len(result.Transactions),
		Limit:   result.Limit,
		Offset:  result.Offset,
		HasMore: result.HasMore,
	})
}

// handleGetStats handles GET /api/v1/users/{id}/stats
func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.GetStats.Handle(r.Context(), query.GetStatsQuery{UserID: r.PathValue("id")})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, stats, nil)
}

// handleGetUserRank handles GET /api/v1/users/{id}/rank
func (s *Server) handleGetUserRank(w http.ResponseWriter, r *http.Request) {
	rank, err := s.deps.GetUserRank.Handle(r.Context(), query.GetUserRankQuery{UserID: r.PathValue("id")})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, rank, nil)
}

// handleRebuildStats handles POST /api/v1/users/{id}/stats/rebuild
func (s *Server) handleRebuildStats(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.RebuildStats.Handle(r.Context(), command.RebuildStatsCommand{UserID: r.PathValue("id")})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"stats":   query.NewStatsDTO(result.After),
		"changed": result.Changed,
	}, nil)
}

// handleGetLeaderboard handles GET /api/v1/leaderboard
func (s *Server) handleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", progression.MaxLeaderboardSize)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if limit < 0 {
		s.writeError(w, r, &RequestError{Message: "limit cannot be negative"})
		return
	}

	result, err := s.deps.GetLeaderboard.Handle(r.Context(), query.GetLeaderboardQuery{Limit: limit})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, result.Entries, &ResponseMeta{
		Source: result.Source,
		Count:  len(result.Entries),
	})
}

// handleListRewards handles GET /api/v1/rewards
func (s *Server) handleListRewards(w http.ResponseWriter, r *http.Request) {
	rewards := progression.Catalog()
	writeJSON(w, r, http.StatusOK, rewards, &ResponseMeta{Count: len(rewards)})
}

// ══════════════════════════════════════════════════════════════════════════════
// WELLNESS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleCreateHabits handles POST /api/v1/habits
func (s *Server) handleCreateHabits(w http.ResponseWriter, r *http.Request) {
	var req CreateHabitsRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	habits, err := s.deps.CreateHabits.Handle(r.Context(), req.command())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, habits, &ResponseMeta{Count: len(habits)})
}

// handleEnsureDefaultHabits handles POST /api/v1/users/{id}/habits/defaults
func (s *Server) handleEnsureDefaultHabits(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.EnsureDefaultHabits.Handle(r.Context(), command.EnsureDefaultHabitsCommand{UserID: r.PathValue("id")})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if result.Created > 0 {
		status = http.StatusCreated
	}
	writeJSON(w, r, status, map[string]interface{}{
		"habits":  result.Habits,
		"created": result.Created,
	}, nil)
}

// handleListHabits handles GET /api/v1/users/{id}/habits
func (s *Server) handleListHabits(w http.ResponseWriter, r *http.Request) {
	q := query.ListHabitsQuery{
		UserID: r.PathValue("id"),
		From:   r.URL.Query().Get("from"),
		To:     r.URL.Query().Get("to"),
	}

	result, err := s.deps.ListHabits.Handle(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if len(result.Habits) == 0 && s.defaultHabitsOnList(q.UserID) {
		ensured, err := s.deps.EnsureDefaultHabits.Handle(r.Context(), command.EnsureDefaultHabitsCommand{UserID: q.UserID})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		logger.FromContext(r.Context()).Info("default habits created",
			logger.UserID(q.UserID),
			logger.Int("created", ensured.Created),
		)
		if result, err = s.deps.ListHabits.Handle(r.Context(), q); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	writeJSON(w, r, http.StatusOK, result, &ResponseMeta{Count: len(result.Habits)})
}

func (s *Server) defaultHabitsOnList(userID string) bool {
	return s.deps.DefaultHabitsOnList != nil &&
		s.deps.EnsureDefaultHabits != nil &&
		s.deps.DefaultHabitsOnList(strings.TrimSpace(userID))
}

// handleLogHabit handles POST /api/v1/habits/logs
func (s *Server) handleLogHabit(w http.ResponseWriter, r *http.Request) {
	var req LogHabitRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.deps.LogHabit.Handle(r.Context(), req.command())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	data := map[string]interface{}{"log": result.Log}
	if result.Streak != nil {
		data["streak_days"] = result.Streak.Stats.StreakDays
		data["streak_outcome"] = result.Streak.Outcome
	}
	if result.StreakWarning != "" {
		data["streak_warning"] = result.StreakWarning
	}

	logger.FromContext(r.Context()).Info("habit logged",
		logger.HabitID(result.Log.HabitID),
		logger.UserID(result.Log.UserID.String()),
	)
	writeJSON(w, r, http.StatusCreated, data, nil)
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// writeError maps an application error onto the error envelope.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContext(r.Context())

	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		if reqErr.TooLarge {
			writeJSONError(w, r, http.StatusRequestEntityTooLarge, "payload_too_large", reqErr.Message, nil)
			return
		}
		var details interface{}
		if len(reqErr.Fields) > 0 {
			details = reqErr.Fields
		}
		writeJSONError(w, r, http.StatusBadRequest, "validation_error", reqErr.Message, details)
		return
	}

	switch {
	case shared.IsPartialApply(err):
		var partial *command.PartialApplyError
		var details interface{}
		if errors.As(err, &partial) {
			details = map[string]interface{}{"transaction": partial.Transaction}
		}
		log.Error("award partially applied", logger.Err(err))
		writeJSONError(w, r, http.StatusInternalServerError, "partial_apply",
			"XP was recorded but stats were not updated", details)

	case shared.IsValidation(err):
		writeJSONError(w, r, http.StatusBadRequest, "validation_error", domainMessage(err), nil)

	case shared.IsNotFound(err):
		writeJSONError(w, r, http.StatusNotFound, "not_found", domainMessage(err), nil)

	case shared.IsAlreadyExists(err):
		writeJSONError(w, r, http.StatusConflict, "conflict", domainMessage(err), nil)

	case shared.IsPersistence(err):
		log.Error("storage failure", logger.Err(err))
		writeJSONError(w, r, http.StatusInternalServerError, "persistence_error", "Storage is unavailable", nil)

	default:
		log.Error("request failed", logger.Err(err))
		writeJSONError(w, r, http.StatusInternalServerError, "internal_error", "An unexpected error occurred", nil)
	}
}

// domainMessage returns the first DomainError message in the chain, or err's text.
func domainMessage(err error) string {
	var de *shared.DomainError
	if errors.As(err, &de) {
		return de.Message
	}
	return err.Error()
}

// queryInt extracts an integer query parameter with a default value.
func queryInt(r *http.Request, key string, defaultValue int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &RequestError{
			Message: "invalid query parameter",
			Fields:  map[string]string{key: key + " must be an integer"},
		}
	}
	return v, nil
}
