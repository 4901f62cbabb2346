package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/edusphere/edusphere-hub/internal/domain/shared"
	"github.com/edusphere/edusphere-hub/internal/domain/wellness"
)

// ══════════════════════════════════════════════════════════════════════════════
// HABIT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// HabitRepository implements wellness.HabitRepository for PostgreSQL.
type HabitRepository struct {
	conn *Connection
}

var _ wellness.HabitRepository = (*HabitRepository)(nil)

// NewHabitRepository creates a new HabitRepository.
func NewHabitRepository(conn *Connection) *HabitRepository {
	return &HabitRepository{conn: conn}
}

const habitColumns = `id, user_id, habit_type, target_value, unit, created_at`

// CreateMany inserts all habits in one batch inside a transaction.
func (r *HabitRepository) CreateMany(ctx context.Context, habits []*wellness.Habit) error {
	if len(habits) == 0 {
		return nil
	}

	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, h := range habits {
			batch.Queue(`INSERT INTO wellness_habits (`+habitColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
				h.ID, h.UserID.String(), string(h.HabitType), h.TargetValue, h.Unit, h.CreatedAt,
			)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.WrapError("wellness", "CreateHabits", shared.ErrAlreadyExists, "habit already exists", err)
		}
		return storeError("wellness", "CreateHabits", err)
	}
	return nil
}

// GetByID returns a habit by ID.
func (r *HabitRepository) GetByID(ctx context.Context, id string) (*wellness.Habit, error) {
	// Malformed IDs would fail the uuid cast.
	if _, err := uuid.Parse(id); err != nil {
		return nil, shared.ErrHabitNotFound
	}
	query := `SELECT ` + habitColumns + ` FROM wellness_habits WHERE id = $1`

	h, err := scanHabit(r.conn.QueryRow(ctx, query, id))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrHabitNotFound
		}
		return nil, storeError("wellness", "GetHabit", err)
	}
	return h, nil
}

// ListByUser returns a user's habits ordered by creation time.
func (r *HabitRepository) ListByUser(ctx context.Context, userID shared.UserID) ([]*wellness.Habit, error) {
	query := `
		SELECT ` + habitColumns + `
		FROM wellness_habits
		WHERE user_id = $1
		ORDER BY created_at, habit_type
	`

	rows, err := r.conn.Query(ctx, query, userID.String())
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

func scanHabit(row pgx.Row) (*wellness.Habit, error) {
	var (
		h         wellness.Habit
		userID    string
		habitType string
	)
	if err := row.Scan(&h.ID, &userID, &habitType, &h.TargetValue, &h.Unit, &h.CreatedAt); err != nil {
		return nil, err
	}
	h.UserID = shared.UserID(userID)
	h.HabitType = wellness.HabitType(habitType)
	h.CreatedAt = h.CreatedAt.UTC()
	return &h, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HABIT LOG REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// LogRepository implements wellness.LogRepository for PostgreSQL.
type LogRepository struct {
	conn *Connection
}

var _ wellness.LogRepository = (*LogRepository)(nil)

// NewLogRepository creates a new LogRepository.
func NewLogRepository(conn *Connection) *LogRepository {
	return &LogRepository{conn: conn}
}

const logColumns = `id, habit_id, user_id, log_date, value, notes, created_at, updated_at`

// Upsert writes the day's value. An existing (habit_id, log_date) row keeps
// its ID and created_at.
func (r *LogRepository) Upsert(ctx context.Context, log *wellness.HabitLog) (*wellness.HabitLog, error) {
	query := `
		INSERT INTO habit_logs (` + logColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (habit_id, log_date) DO UPDATE SET
			value = EXCLUDED.value,
			notes = EXCLUDED.notes,
			updated_at = EXCLUDED.updated_at
		RETURNING ` + logColumns

	row := r.conn.QueryRow(ctx, query,
		log.ID,
		log.HabitID,
		log.UserID.String(),
		log.LogDate.Time(),
		log.Value,
		nullString(log.Notes),
		log.CreatedAt,
		log.UpdatedAt,
	)
	stored, err := scanLog(row)
	if err != nil {
		if IsForeignKeyViolation(err) {
			return nil, shared.ErrHabitNotFound
		}
		return nil, storeError("wellness", "UpsertLog", err)
	}
	return stored, nil
}

// ListByUser returns the logs of a user inside r, oldest first.
func (r *LogRepository) ListByUser(ctx context.Context, userID shared.UserID, rng shared.DateRange) ([]*wellness.HabitLog, error) {
	query := `
		SELECT ` + logColumns + `
		FROM habit_logs
		WHERE user_id = $1 AND log_date BETWEEN $2 AND $3
		ORDER BY log_date, habit_id
	`

	rows, err := r.conn.Query(ctx, query, userID.String(), rng.From.Time(), rng.To.Time())
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
	rows, err := r.conn.Query(ctx, `
		SELECT DISTINCT log_date FROM habit_logs
		WHERE user_id = $1
		ORDER BY log_date
	`, userID.String())
	if err != nil {
		return nil, storeError("wellness", "LogDates", err)
	}
	defer rows.Close()

	out := make([]shared.Date, 0)
	for rows.Next() {
		var day time.Time
		if err := rows.Scan(&day); err != nil {
			return nil, storeError("wellness", "LogDates", err)
		}
		out = append(out, shared.DateOf(day, time.UTC))
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("wellness", "LogDates", err)
	}
	return out, nil
}

func scanLog(row pgx.Row) (*wellness.HabitLog, error) {
	var (
		l       wellness.HabitLog
		userID  string
		logDate time.Time
		notes   *string
	)
	err := row.Scan(&l.ID, &l.HabitID, &userID, &logDate, &l.Value, &notes, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	l.UserID = shared.UserID(userID)
	l.LogDate = shared.DateOf(logDate, time.UTC)
	l.Notes = deref(notes)
	l.CreatedAt = l.CreatedAt.UTC()
	l.UpdatedAt = l.UpdatedAt.UTC()
	return &l, nil
}
