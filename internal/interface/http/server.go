// Package http serves the gamification REST API: XP awards and history,
// stats, habits and habit logs, the leaderboard and the reward catalog.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/edusphere/edusphere-hub/internal/application/command"
	"github.com/edusphere/edusphere-hub/internal/application/query"
	"github.com/edusphere/edusphere-hub/internal/interface/http/handlers"
	"github.com/edusphere/edusphere-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

type Config struct {
	Host string
	Port int

	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
	// MaxBodyBytes caps JSON bodies on /api/v1 routes.
	MaxBodyBytes int64

	// AllowedOrigins enables CORS; "*" echoes any origin. Empty disables it.
	AllowedOrigins []string
	// RateLimitPerMinute is per client IP. 0 disables limiting.
	RateLimitPerMinute int

	Version string
}

func DefaultConfig() Config {
	return Config{
		Host:               "0.0.0.0",
		Port:               8080,
		ReadTimeout:        15 * time.Second,
		WriteTimeout:       15 * time.Second,
		IdleTimeout:        time.Minute,
		MaxHeaderBytes:     1 << 20,
		MaxBodyBytes:       1 << 20,
		AllowedOrigins:     []string{"*"},
		RateLimitPerMinute: 300,
		Version:            "v1",
	}
}

func (c Config) Address() string {
	return net.JoinHostPort(c.Host, fmt.Sprint(c.Port))
}

// Dependencies are the application handlers behind the routes.
type Dependencies struct {
	// commands
	AwardXP             *command.AwardXPHandler
	LogHabit            *command.LogHabitHandler
	CreateHabits        *command.CreateHabitsHandler
	EnsureDefaultHabits *command.EnsureDefaultHabitsHandler
	RebuildStats        *command.RebuildStatsHandler
	ClaimReward         *command.ClaimRewardHandler

	// queries
	GetStats       *query.GetStatsHandler
	GetXPHistory   *query.GetXPHistoryHandler
	ListHabits     *query.ListHabitsHandler
	GetLeaderboard *query.GetLeaderboardHandler
	GetUserRank    *query.GetUserRankHandler

	// DefaultHabitsOnList reports whether a user with no habits gets the
	// default set on their first habit list. Nil disables it.
	DefaultHabitsOnList func(userID string) bool

	// Auth protects /api/v1 routes. Nil or a keyless Auth leaves them open.
	Auth *handlers.APIKeyAuth

	HealthChecker handlers.HealthChecker
	Logger        *logger.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

type Server struct {
	config  Config
	deps    Dependencies
	logger  *logger.Logger
	mux     *http.ServeMux
	handler http.Handler
	limiter *ipLimiter

	httpServer *http.Server
	running    atomic.Bool
	startedAt  atomic.Int64 // unix nanos
}

func NewServer(config Config, deps Dependencies) *Server {
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = 1 << 20
	}
	s := &Server{
		config: config,
		deps:   deps,
		logger: deps.Logger,
		mux:    http.NewServeMux(),
	}
	if s.logger == nil {
		s.logger = logger.Default()
	}
	if config.RateLimitPerMinute > 0 {
		s.limiter = newIPLimiter(config.RateLimitPerMinute, time.Minute)
	}
	s.startedAt.Store(time.Now().UnixNano())

	s.routes()

	// Первый в списке оборачивает остальные.
	h := handlers.Chain(s.rateLimit, s.cors, s.withRequestID, s.recoverPanics, s.logRequests)(s.mux)
	s.handler = h

	s.httpServer = &http.Server{
		Addr:           config.Address(),
		Handler:        h,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}
	return s
}

// Handler is the routed mux with every middleware applied.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() {
	s.mux.HandleFunc("GET /{$}", s.handleRoot)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /ready", s.handleReady)
	s.mux.HandleFunc("GET /live", s.handleLive)

	s.api("POST /api/v1/xp", s.handleAwardXP)
	s.api("GET /api/v1/users/{id}/xp", s.handleGetXPHistory)
	s.api("GET /api/v1/users/{id}/stats", s.handleGetStats)
	s.api("POST /api/v1/users/{id}/stats/rebuild", s.handleRebuildStats)
	s.api("GET /api/v1/users/{id}/rank", s.handleGetUserRank)
	s.api("GET /api/v1/leaderboard", s.handleGetLeaderboard)
	s.api("GET /api/v1/rewards", s.handleListRewards, handlers.CacheControlMiddleware(rewardsMaxAge))
	s.api("POST /api/v1/rewards/{key}/claim", s.handleClaimReward)

	s.api("POST /api/v1/habits", s.handleCreateHabits)
	s.api("POST /api/v1/habits/logs", s.handleLogHabit)
	s.api("GET /api/v1/users/{id}/habits", s.handleListHabits)
	s.api("POST /api/v1/users/{id}/habits/defaults", s.handleEnsureDefaultHabits)
}

// rewardsMaxAge lets clients cache the catalog; it only changes on deploy.
const rewardsMaxAge = 10 * time.Minute

// api registers a route behind the body limit and, when configured, auth.
// Responses are no-store unless caching is passed in.
func (s *Server) api(pattern string, fn http.HandlerFunc, caching ...handlers.MiddlewareFunc) {
	mw := []handlers.MiddlewareFunc{handlers.SecurityHeadersMiddleware}
	if len(caching) > 0 {
		mw = append(mw, caching...)
	} else {
		mw = append(mw, handlers.NoCacheMiddleware)
	}
	mw = append(mw, handlers.RequestSizeLimitMiddleware(s.config.MaxBodyBytes))
	if s.deps.Auth != nil {
		mw = append(mw, s.deps.Auth.Middleware)
	}
	s.mux.Handle(pattern, handlers.ChainHandler(fn, mw...))
}

// Start blocks until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("server already running")
	}
	s.startedAt.Store(time.Now().UnixNano())
	s.logger.Info("starting HTTP server", logger.String("address", s.config.Address()))

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// StartAsync runs Start in a goroutine. The channel is closed when it returns.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := s.Start(); err != nil {
			errCh <- err
		}
	}()
	return errCh
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.limiter != nil {
		s.limiter.Stop()
	}
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Uptime() time.Duration {
	return time.Since(time.Unix(0, s.startedAt.Load()))
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

type requestIDKey struct{}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		ctx = logger.WithContext(ctx, s.logger.WithRequestID(id))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		began := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		fields := []logger.Field{
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", sw.status),
			logger.Latency(time.Since(began)),
			logger.String("ip", clientIP(r)),
		}
		log := logger.FromContext(r.Context())
		if sw.status >= http.StatusInternalServerError {
			log.Warn("http request", fields...)
		} else {
			log.Info("http request", fields...)
		}
	})
}

func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				logger.FromContext(r.Context()).Error("panic recovered",
					logger.Any("error", p),
					logger.String("path", r.URL.Path),
					logger.String("stack", string(debug.Stack())),
				)
				writeJSONError(w, r, http.StatusInternalServerError, "internal_server_error", "An unexpected error occurred", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) cors(next http.Handler) http.Handler {
	if len(s.config.AllowedOrigins) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && s.originAllowed(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key, X-Request-ID")
			h.Set("Access-Control-Max-Age", "86400")
			h.Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, o := range s.config.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(clientIP(r)) {
			w.Header().Set("Retry-After", fmt.Sprint(int(s.limiter.window.Seconds())))
			writeJSONError(w, r, http.StatusTooManyRequests, "rate_limit_exceeded", "Too many requests, please try again later", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// clientIP prefers proxy headers; the API is deployed behind an ingress.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func getRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSES
// ══════════════════════════════════════════════════════════════════════════════

// JSONResponse is the envelope of every API response.
type JSONResponse struct {
	Success   bool          `json:"success"`
	Data      any           `json:"data,omitempty"`
	Error     *APIError     `json:"error,omitempty"`
	Meta      *ResponseMeta `json:"meta,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ResponseMeta struct {
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
	Source    string    `json:"source,omitempty"`
	Count     int       `json:"count,omitempty"`
	Limit     int       `json:"limit,omitempty"`
	Offset    int       `json:"offset,omitempty"`
	HasMore   bool      `json:"has_more,omitempty"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any, meta *ResponseMeta) {
	if meta == nil {
		meta = &ResponseMeta{}
	}
	send(w, r, status, JSONResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
		Meta:    meta,
	})
}

func writeJSONError(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	send(w, r, status, JSONResponse{
		Error: &APIError{Code: code, Message: message, Details: details},
		Meta:  &ResponseMeta{},
	})
}

func send(w http.ResponseWriter, r *http.Request, status int, body JSONResponse) {
	body.Meta.Timestamp = time.Now().UTC()
	body.Meta.Version = "v1"
	body.RequestID = getRequestID(r.Context())

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// ══════════════════════════════════════════════════════════════════════════════
// RATE LIMITING
// ══════════════════════════════════════════════════════════════════════════════

// ipLimiter counts requests per key in fixed windows. Stale windows are
// swept once per window so idle clients do not accumulate.
type ipLimiter struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket

	stop     chan struct{}
	stopOnce sync.Once
}

type bucket struct {
	start time.Time
	count int
}

func newIPLimiter(limit int, window time.Duration) *ipLimiter {
	l := &ipLimiter{
		limit:   limit,
		window:  window,
		buckets: make(map[string]*bucket),
		stop:    make(chan struct{}),
	}
	go l.sweep()
	return l
}

func (l *ipLimiter) Allow(key string) bool {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok || now.Sub(b.start) >= l.window {
		l.buckets[key] = &bucket{start: now, count: 1}
		return true
	}
	if b.count >= l.limit {
		return false
	}
	b.count++
	return true
}

func (l *ipLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *ipLimiter) sweep() {
	ticker := time.NewTicker(l.window)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case now := <-ticker.C:
			l.mu.Lock()
			for key, b := range l.buckets {
				if now.Sub(b.start) >= l.window {
					delete(l.buckets, key)
				}
			}
			l.mu.Unlock()
		}
	}
}
