// Package memory provides in-process repositories. They back tests and the
// DATABASE_DRIVER=memory mode; nothing survives a restart.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/edusphere/edusphere-hub/internal/domain/progression"
	"github.com/edusphere/edusphere-hub/internal/domain/shared"
	"github.com/edusphere/edusphere-hub/internal/domain/wellness"
)

// Store groups the repositories over one set of maps.
type Store struct {
	Ledger *LedgerRepository
	Stats  *StatsRepository
	Habits *HabitRepository
	Logs   *LogRepository
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		Ledger: &LedgerRepository{},
		Stats:  &StatsRepository{rows: make(map[shared.UserID]progression.UserStats)},
		Habits: &HabitRepository{rows: make(map[string]*wellness.Habit)},
		Logs:   &LogRepository{rows: make(map[logKey]*wellness.HabitLog)},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER
// ══════════════════════════════════════════════════════════════════════════════

// LedgerRepository implements progression.LedgerRepository.
type LedgerRepository struct {
	mu   sync.RWMutex
	rows []*progression.XpTransaction
}

var _ progression.LedgerRepository = (*LedgerRepository)(nil)

// Append implements progression.LedgerRepository.
func (r *LedgerRepository) Append(ctx context.Context, tx *progression.XpTransaction) error {
	if err := ctx.Err(); err != nil {
		return shared.WrapError("progression", "Append", shared.ErrPersistence, "context done", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.rows {
		if existing.ID == tx.ID {
			return shared.NewDomainError("progression", "Append", shared.ErrAlreadyExists, "transaction already exists")
		}
	}
	cp := *tx
	r.rows = append(r.rows, &cp)
	return nil
}

// ListByUser implements progression.LedgerRepository.
func (r *LedgerRepository) ListByUser(ctx context.Context, userID shared.UserID, page shared.Pagination) ([]*progression.XpTransaction, error) {
	all, _ := r.AllByUser(ctx, userID)

	// newest first; ledger order breaks ties
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	if page.Offset >= len(all) {
		return []*progression.XpTransaction{}, nil
	}
	end := page.Offset + page.Limit
	if page.Limit <= 0 || end > len(all) {
		end = len(all)
	}
	return all[page.Offset:end], nil
}

// AllByUser implements progression.LedgerRepository.
func (r *LedgerRepository) AllByUser(_ context.Context, userID shared.UserID) ([]*progression.XpTransaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*progression.XpTransaction, 0)
	for _, tx := range r.rows {
		if tx.UserID == userID && !tx.IsAnonymous() {
			cp := *tx
			out = append(out, &cp)
		}
	}
	return out, nil
}

// UserIDs implements progression.LedgerRepository.
func (r *LedgerRepository) UserIDs(_ context.Context) ([]shared.UserID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[shared.UserID]struct{})
	for _, tx := range r.rows {
		if !tx.IsAnonymous() {
			seen[tx.UserID] = struct{}{}
		}
	}
	return sortedIDs(seen), nil
}

// Len returns the number of stored transactions, anonymous ones included.
func (r *LedgerRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rows)
}

// ══════════════════════════════════════════════════════════════════════════════
// STATS
// ══════════════════════════════════════════════════════════════════════════════

// StatsRepository implements progression.StatsRepository. One mutex
// serializes every Update.
type StatsRepository struct {
	mu   sync.Mutex
	rows map[shared.UserID]progression.UserStats
}

var _ progression.StatsRepository = (*StatsRepository)(nil)

// Get implements progression.StatsRepository.
func (r *StatsRepository) Get(_ context.Context, userID shared.UserID) (*progression.UserStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[userID]
	if !ok {
		return nil, shared.ErrStatsNotFound
	}
	return &row, nil
}

// Update implements progression.StatsRepository.
func (r *StatsRepository) Update(ctx context.Context, userID shared.UserID, mutate progression.StatsMutation) (progression.UserStats, error) {
	if err := ctx.Err(); err != nil {
		return progression.UserStats{}, shared.WrapError("progression", "UpdateStats", shared.ErrPersistence, "context done", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, exists := r.rows[userID]
	if !exists {
		cur = progression.NewUserStats(userID)
	}

	next, err := mutate(cur, exists)
	if err != nil {
		return progression.UserStats{}, err
	}
	next.UserID = userID
	r.rows[userID] = next
	return next, nil
}

// PutStreak implements progression.StatsRepository.
func (r *StatsRepository) PutStreak(_ context.Context, stats progression.UserStats) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[stats.UserID]
	if !ok {
		row = progression.NewUserStats(stats.UserID)
	}
	row.StreakDays = stats.StreakDays
	row.LastActivityDate = stats.LastActivityDate
	row.UpdatedAt = stats.UpdatedAt
	r.rows[stats.UserID] = row
	return nil
}

// Top implements progression.StatsRepository.
func (r *StatsRepository) Top(_ context.Context, limit int) ([]progression.UserStats, error) {
	r.mu.Lock()
	out := make([]progression.UserStats, 0, len(r.rows))
	for _, row := range r.rows {
		out = append(out, row)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalXP != out[j].TotalXP {
			return out[i].TotalXP > out[j].TotalXP
		}
		return out[i].UserID < out[j].UserID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Rank implements progression.StatsRepository.
func (r *StatsRepository) Rank(_ context.Context, userID shared.UserID) (progression.UserRank, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	me, ok := r.rows[userID]
	if !ok {
		return progression.UserRank{}, shared.ErrStatsNotFound
	}
	ahead := 0
	for id, row := range r.rows {
		if row.TotalXP > me.TotalXP || (row.TotalXP == me.TotalXP && id < userID) {
			ahead++
		}
	}
	return progression.UserRank{
		UserID:     userID.String(),
		Rank:       ahead + 1,
		TotalXP:    me.TotalXP,
		StreakDays: me.StreakDays,
		TotalUsers: len(r.rows),
	}, nil
}

// UserIDs implements progression.StatsRepository.
func (r *StatsRepository) UserIDs(_ context.Context) ([]shared.UserID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[shared.UserID]struct{}, len(r.rows))
	for id := range r.rows {
		seen[id] = struct{}{}
	}
	return sortedIDs(seen), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HABITS
// ══════════════════════════════════════════════════════════════════════════════

// HabitRepository implements wellness.HabitRepository.
type HabitRepository struct {
	mu   sync.RWMutex
	rows map[string]*wellness.Habit
}

var _ wellness.HabitRepository = (*HabitRepository)(nil)

// CreateMany implements wellness.HabitRepository.
func (r *HabitRepository) CreateMany(_ context.Context, habits []*wellness.Habit) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, h := range habits {
		if _, ok := r.rows[h.ID]; ok {
			return shared.NewDomainError("wellness", "CreateHabits", shared.ErrAlreadyExists, "habit already exists")
		}
	}
	for _, h := range habits {
		cp := *h
		r.rows[h.ID] = &cp
	}
	return nil
}

// GetByID implements wellness.HabitRepository.
func (r *HabitRepository) GetByID(_ context.Context, id string) (*wellness.Habit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.rows[id]
	if !ok {
		return nil, shared.ErrHabitNotFound
	}
	cp := *h
	return &cp, nil
}

// ListByUser implements wellness.HabitRepository.
func (r *HabitRepository) ListByUser(_ context.Context, userID shared.UserID) ([]*wellness.Habit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*wellness.Habit, 0)
	for _, h := range r.rows {
		if h.UserID == userID {
			cp := *h
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].HabitType < out[j].HabitType
	})
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HABIT LOGS
// ══════════════════════════════════════════════════════════════════════════════

type logKey struct {
	habitID string
	day     string
}

// LogRepository implements wellness.LogRepository.
type LogRepository struct {
	mu   sync.RWMutex
	rows map[logKey]*wellness.HabitLog
}

var _ wellness.LogRepository = (*LogRepository)(nil)

// Upsert implements wellness.LogRepository.
func (r *LogRepository) Upsert(_ context.Context, log *wellness.HabitLog) (*wellness.HabitLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := logKey{habitID: log.HabitID, day: log.LogDate.String()}
	if existing, ok := r.rows[key]; ok {
		existing.Value = log.Value
		existing.Notes = log.Notes
		existing.UpdatedAt = log.UpdatedAt
		cp := *existing
		return &cp, nil
	}

	cp := *log
	r.rows[key] = &cp
	out := cp
	return &out, nil
}

// ListByUser implements wellness.LogRepository.
func (r *LogRepository) ListByUser(_ context.Context, userID shared.UserID, rng shared.DateRange) ([]*wellness.HabitLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*wellness.HabitLog, 0)
	for _, l := range r.rows {
		if l.UserID == userID && rng.Contains(l.LogDate) {
			cp := *l
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LogDate.Equal(out[j].LogDate) {
			return out[i].LogDate.Before(out[j].LogDate)
		}
		return out[i].HabitID < out[j].HabitID
	})
	return out, nil
}

// LogDates implements wellness.LogRepository.
func (r *LogRepository) LogDates(_ context.Context, userID shared.UserID) ([]shared.Date, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]shared.Date)
	for _, l := range r.rows {
		if l.UserID == userID {
			seen[l.LogDate.String()] = l.LogDate
		}
	}
	out := make([]shared.Date, 0, len(seen))
	for _, d := range seen {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func sortedIDs(set map[shared.UserID]struct{}) []shared.UserID {
	out := make([]shared.UserID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
