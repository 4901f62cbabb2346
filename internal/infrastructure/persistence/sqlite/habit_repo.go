package sqlite

import (
	"context"
	"database/sql"

	"github.com/edusphere/edusphere-hub/internal/domain/shared"
	"github.com/edusphere/edusphere-hub/internal/domain/wellness"
)

// ══════════════════════════════════════════════════════════════════════════════
// HABITS
// ══════════════════════════════════════════════════════════════════════════════

// HabitRepository implements wellness.HabitRepository.
type HabitRepository struct {
	db *sql.DB
}

var _ wellness.HabitRepository = (*HabitRepository)(nil)

// NewHabitRepository creates a new HabitRepository.
func NewHabitRepository(db *sql.DB) *HabitRepository {
	return &HabitRepository{db: db}
}

const habitColumns = `id, user_id, habit_type, target_value, unit, created_at`

// CreateMany inserts all habits or none.
func (r *HabitRepository) CreateMany(ctx context.Context, habits []*wellness.Habit) error {
	if len(habits) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storeError("wellness", "CreateHabits", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO wellness_habits (`+habitColumns+`) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return storeError("wellness", "CreateHabits", err)
	}
	defer stmt.Close()

	for _, h := range habits {
		_, err := stmt.ExecContext(ctx, h.ID, h.UserID.String(), string(h.HabitType), h.TargetValue, h.Unit, formatTime(h.CreatedAt))
		if err != nil {
			if isConstraint(err) {
				return shared.WrapError("wellness", "CreateHabits", shared.ErrAlreadyExists, "habit already exists", err)
			}
			return storeError("wellness", "CreateHabits", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return storeError("wellness", "CreateHabits", err)
	}
	return nil
}

// GetByID returns a habit by ID.
func (r *HabitRepository) GetByID(ctx context.Context, id string) (*wellness.Habit, error) {
	h, err := scanHabit(r.db.QueryRowContext(ctx,
		`SELECT `+habitColumns+` FROM wellness_habits WHERE id = ?`, id))
	if err != nil {
		if isNoRows(err) {
			return nil, shared.ErrHabitNotFound
		}
		return nil, storeError("wellness", "GetHabit", err)
	}
	return h, nil
}

// ListByUser returns a user's habits ordered by creation time.
func (r *HabitRepository) ListByUser(ctx context.Context, userID shared.UserID) ([]*wellness.Habit, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+habitColumns+`
		FROM wellness_habits
		WHERE user_id = ?
		ORDER BY created_at, habit_type
	`, userID.String())
	if err != nil {
		return nil, storeError("wellness", "ListHabits", err)
	}
	defer rows.Close()

	out := make([]*wellness.Habit, 0)
	for rows.Next() {
		h, err := scanHabit(rows)
		if err != nil {
			return nil, storeError("wellness", "ListHabits", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("wellness", "ListHabits", err)
	}
	return out, nil
}

func scanHabit(row rowScanner) (*wellness.Habit, error) {
	var (
		h                          wellness.Habit
		userID, habitType, created string
	)
	if err := row.Scan(&h.ID, &userID, &habitType, &h.TargetValue, &h.Unit, &created); err != nil {
		return nil, err
	}
	createdAt, err := parseTime(created)
	if err != nil {
		return nil, err
	}
	h.UserID = shared.UserID(userID)
	h.HabitType = wellness.HabitType(habitType)
	h.CreatedAt = createdAt
	return &h, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HABIT LOGS
// ══════════════════════════════════════════════════════════════════════════════

// LogRepository implements wellness.LogRepository.
type LogRepository struct {
	db *sql.DB
}

var _ wellness.LogRepository = (*LogRepository)(nil)

// NewLogRepository creates a new LogRepository.
func NewLogRepository(db *sql.DB) *LogRepository {
	return &LogRepository{db: db}
}

const logColumns = `id, habit_id, user_id, log_date, value, notes, created_at, updated_at`

// Upsert writes the day's value and returns the stored row.
func (r *LogRepository) Upsert(ctx context.Context, log *wellness.HabitLog) (*wellness.HabitLog, error) {
	stored, err := scanLog(r.db.QueryRowContext(ctx, `
		INSERT INTO habit_logs (`+logColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(habit_id, log_date) DO UPDATE SET
			value = excluded.value,
			notes = excluded.notes,
			updated_at = excluded.updated_at
		RETURNING `+logColumns,
		log.ID,
		log.HabitID,
		log.UserID.String(),
		log.LogDate,
		log.Value,
		nullString(log.Notes),
		formatTime(log.CreatedAt),
		formatTime(log.UpdatedAt),
	))
	if err != nil {
		if isForeignKey(err) {
			return nil, shared.ErrHabitNotFound
		}
		return nil, storeError("wellness", "UpsertLog", err)
	}
	return stored, nil
}

// ListByUser returns the logs of a user inside rng, oldest first.
func (r *LogRepository) ListByUser(ctx context.Context, userID shared.UserID, rng shared.DateRange) ([]*wellness.HabitLog, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+logColumns+`
		FROM habit_logs
		WHERE user_id = ? AND log_date BETWEEN ? AND ?
		ORDER BY log_date, habit_id
	`, userID.String(), rng.From, rng.To)
	if err != nil {
		return nil, storeError("wellness", "ListLogs", err)
	}
	defer rows.Close()

	out := make([]*wellness.HabitLog, 0)
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, storeError("wellness", "ListLogs", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("wellness", "ListLogs", err)
	}
	return out, nil
}

// LogDates returns the distinct days a user logged anything, ascending.
func (r *LogRepository) LogDates(ctx context.Context, userID shared.UserID) ([]shared.Date, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT log_date FROM habit_logs WHERE user_id = ? ORDER BY log_date`, userID.String())
	if err != nil {
		return nil, storeError("wellness", "LogDates", err)
	}
	defer rows.Close()

	out := make([]shared.Date, 0)
	for rows.Next() {
		var d shared.Date
		if err := rows.Scan(&d); err != nil {
			return nil, storeError("wellness", "LogDates", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("wellness", "LogDates", err)
	}
	return out, nil
}

func scanLog(row rowScanner) (*wellness.HabitLog, error) {
	var (
		l                  wellness.HabitLog
		userID             string
		notes              sql.NullString
		created, updatedAt string
	)
	err := row.Scan(&l.ID, &l.HabitID, &userID, &l.LogDate, &l.Value, &notes, &created, &updatedAt)
	if err != nil {
		return nil, err
	}
	if l.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if l.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	l.UserID = shared.UserID(userID)
	l.Notes = notes.String
	return &l, nil
}
