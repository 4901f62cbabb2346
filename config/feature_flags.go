package config

import (
	"errors"
	"hash/fnv"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Flag names.
const (
	// Serve the leaderboard from Redis when the cache is warm.
	FeatureLeaderboardCache = "gamification.leaderboard_cache"
	// Create the default habits the first time a user lists an empty habit set.
	FeatureDefaultHabits = "gamification.default_habits"
	// Publish events to handlers (leaderboard refresh on award).
	FeatureEvents = "gamification.events"
)

var (
	ErrFeatureNotFound       = errors.New("feature not found")
	ErrInvalidRolloutPercent = errors.New("rollout percent must be 0-100")
)

// Feature is one toggle. A feature is active when Enabled and inside the
// optional [EnabledFrom, EnabledUntil] window; RolloutPercent then decides
// per user.
type Feature struct {
	Name           string
	Description    string
	Enabled        bool
	RolloutPercent int
	EnabledFrom    *time.Time
	EnabledUntil   *time.Time
}

var builtinFeatures = []Feature{
	{Name: FeatureLeaderboardCache, Description: "Serve the leaderboard from the Redis sorted set"},
	{Name: FeatureDefaultHabits, Description: "Seed sleep, hydration, mindfulness and movement habits on first list"},
	{Name: FeatureEvents, Description: "Dispatch domain events to subscribers"},
}

// FeatureFlags holds the toggles for one process. Users are bucketed by a
// hash of flag name and user ID, so a user keeps the same answer across
// requests and restarts.
type FeatureFlags struct {
	mu        sync.RWMutex
	features  map[string]*Feature
	overrides map[string]map[string]bool // user -> flag -> on
	now       func() time.Time
}

// NewFeatureFlags turns every built-in flag fully on.
func NewFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features:  make(map[string]*Feature, len(builtinFeatures)),
		overrides: make(map[string]map[string]bool),
		now:       time.Now,
	}
	for _, f := range builtinFeatures {
		f := f
		f.Enabled, f.RolloutPercent = true, 100
		ff.features[f.Name] = &f
	}
	return ff
}

// LoadFeatureFlags applies FEATURE_<NAME>=true|false|<percent> on top of
// the defaults, e.g. FEATURE_GAMIFICATION_DEFAULT_HABITS=25. Values that
// parse as neither are ignored.
func LoadFeatureFlags() *FeatureFlags {
	ff := NewFeatureFlags()
	for name, f := range ff.features {
		raw := strings.TrimSpace(os.Getenv(envKey(name)))
		if raw == "" {
			continue
		}
		if on, err := strconv.ParseBool(raw); err == nil {
			f.RolloutPercent = 0
			if on {
				f.RolloutPercent = 100
			}
			f.Enabled = on
		} else if p, err := strconv.Atoi(raw); err == nil && p >= 0 && p <= 100 {
			f.RolloutPercent, f.Enabled = p, p > 0
		}
	}
	return ff
}

// envKey: "gamification.default_habits" -> "FEATURE_GAMIFICATION_DEFAULT_HABITS".
func envKey(name string) string {
	return "FEATURE_" + strings.ToUpper(strings.ReplaceAll(name, ".", "_"))
}

// IsEnabled is the process-wide answer: a partial rollout counts as on.
func (ff *FeatureFlags) IsEnabled(name string) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	f, ok := ff.features[name]
	return ok && ff.active(f) && f.RolloutPercent > 0
}

// IsEnabledForUser checks the user's override first, then the rollout bucket.
func (ff *FeatureFlags) IsEnabledForUser(name, userID string) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	if on, ok := ff.overrides[userID][name]; ok {
		return on
	}
	f, ok := ff.features[name]
	if !ok || !ff.active(f) {
		return false
	}
	return f.RolloutPercent >= 100 || bucket(name, userID) < f.RolloutPercent
}

func (ff *FeatureFlags) active(f *Feature) bool {
	if !f.Enabled {
		return false
	}
	now := ff.now()
	return (f.EnabledFrom == nil || !now.Before(*f.EnabledFrom)) &&
		(f.EnabledUntil == nil || !now.After(*f.EnabledUntil))
}

// bucket is in [0, 100).
func bucket(name, userID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	_, _ = h.Write([]byte(userID))
	return int(h.Sum32() % 100)
}

func (ff *FeatureFlags) SetUserOverride(userID, name string, on bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	m := ff.overrides[userID]
	if m == nil {
		m = make(map[string]bool)
		ff.overrides[userID] = m
	}
	m[name] = on
}

func (ff *FeatureFlags) ClearUserOverrides(userID string) {
	ff.mu.Lock()
	delete(ff.overrides, userID)
	ff.mu.Unlock()
}

// SetRolloutPercent also flips Enabled: 0 turns the flag off.
func (ff *FeatureFlags) SetRolloutPercent(name string, percent int) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	f, ok := ff.features[name]
	switch {
	case !ok:
		return ErrFeatureNotFound
	case percent < 0 || percent > 100:
		return ErrInvalidRolloutPercent
	}
	f.RolloutPercent, f.Enabled = percent, percent > 0
	return nil
}

func (ff *FeatureFlags) EnableFeature(name string) error  { return ff.SetRolloutPercent(name, 100) }
func (ff *FeatureFlags) DisableFeature(name string) error { return ff.SetRolloutPercent(name, 0) }

// GetAllFeatures returns copies; editing them changes nothing.
func (ff *FeatureFlags) GetAllFeatures() map[string]Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	out := make(map[string]Feature, len(ff.features))
	for name, f := range ff.features {
		out[name] = *f
	}
	return out
}
