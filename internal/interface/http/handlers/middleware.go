package handlers

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// MiddlewareFunc wraps a handler.
type MiddlewareFunc func(http.Handler) http.Handler

// Chain composes middleware; the first argument ends up outermost.
func Chain(middlewares ...MiddlewareFunc) MiddlewareFunc {
	return func(h http.Handler) http.Handler {
		return ChainHandler(h, middlewares...)
	}
}

func ChainHandler(h http.Handler, middlewares ...MiddlewareFunc) http.Handler {
	for i := range middlewares {
		h = middlewares[len(middlewares)-1-i](h)
	}
	return h
}

// ════════════════════════════════════════════════════════════════════════════
// API KEYS
// ════════════════════════════════════════════════════════════════════════════

var ErrInvalidKeyHash = errors.New("api key hash is not a bcrypt hash")

// APIKeyAuth accepts a request whose key matches one of the configured
// bcrypt hashes. A key that matched once is remembered by its SHA-256
// digest, so bcrypt runs once per key and not once per request.
type APIKeyAuth struct {
	header string
	hashes [][]byte

	mu    sync.RWMutex
	known map[[sha256.Size]byte]struct{}
}

// NewAPIKeyAuth skips blank entries; an empty header name means X-API-Key.
func NewAPIKeyAuth(header string, hashes []string) (*APIKeyAuth, error) {
	a := &APIKeyAuth{header: header, known: make(map[[sha256.Size]byte]struct{})}
	if a.header == "" {
		a.header = "X-API-Key"
	}
	for _, h := range hashes {
		if h = strings.TrimSpace(h); h == "" {
			continue
		}
		if _, err := bcrypt.Cost([]byte(h)); err != nil {
			return nil, ErrInvalidKeyHash
		}
		a.hashes = append(a.hashes, []byte(h))
	}
	return a, nil
}

// Enabled is false when no hash is configured; Middleware then lets everything through.
func (a *APIKeyAuth) Enabled() bool { return len(a.hashes) > 0 }

func (a *APIKeyAuth) verify(key string) bool {
	digest := sha256.Sum256([]byte(key))

	a.mu.RLock()
	_, hit := a.known[digest]
	a.mu.RUnlock()
	if hit {
		return true
	}

	for _, h := range a.hashes {
		if bcrypt.CompareHashAndPassword(h, []byte(key)) != nil {
			continue
		}
		a.mu.Lock()
		a.known[digest] = struct{}{}
		a.mu.Unlock()
		return true
	}
	return false
}

// presentedKey reads the configured header, then "Authorization: Bearer".
func (a *APIKeyAuth) presentedKey(r *http.Request) string {
	if key := r.Header.Get(a.header); key != "" {
		return key
	}
	token, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !found {
		return ""
	}
	return token
}

func (a *APIKeyAuth) Middleware(next http.Handler) http.Handler {
	if !a.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch key := a.presentedKey(r); {
		case key == "":
			WriteError(w, http.StatusUnauthorized, "missing_api_key", "API key is required")
		case !a.verify(key):
			WriteError(w, http.StatusUnauthorized, "invalid_api_key", "Invalid API key")
		default:
			next.ServeHTTP(w, r)
		}
	})
}

// ════════════════════════════════════════════════════════════════════════════
// HEADERS
// ════════════════════════════════════════════════════════════════════════════

var securityHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Referrer-Policy", "strict-origin-when-cross-origin"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
}

// SecurityHeadersMiddleware: the API serves JSON only, so nothing may frame or embed it.
func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, kv := range securityHeaders {
			w.Header().Set(kv[0], kv[1])
		}
		next.ServeHTTP(w, r)
	})
}

func NoCacheMiddleware(next http.Handler) http.Handler {
	return cacheControl(func(*http.Request) string { return "no-store" })(next)
}

// CacheControlMiddleware lets clients keep GET responses for maxAge.
// Other methods stay no-store.
func CacheControlMiddleware(maxAge time.Duration) func(http.Handler) http.Handler {
	public := "public, max-age=" + strconv.Itoa(max(0, int(maxAge/time.Second)))
	return cacheControl(func(r *http.Request) string {
		if r.Method == http.MethodGet {
			return public
		}
		return "no-store"
	})
}

func cacheControl(value func(*http.Request) string) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", value(r))
			next.ServeHTTP(w, r)
		})
	}
}

// RequestSizeLimitMiddleware rejects a declared oversize body up front and
// caps the rest with http.MaxBytesReader.
func RequestSizeLimitMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				WriteError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "Request body too large")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// WriteError writes the API error envelope so that rejections from this
// package look like handler errors.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   map[string]string{"code": code, "message": message},
	})
}
