package command

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/edusphere/edusphere-hub/internal/domain/progression"
	"github.com/edusphere/edusphere-hub/internal/domain/shared"
	"github.com/edusphere/edusphere-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// AWARD XP COMMAND
// Appends a ledger row and folds it into the user's stats.
// ══════════════════════════════════════════════════════════════════════════════

// AwardXPCommand contains the data of one award.
type AwardXPCommand struct {
	// UserID may be empty: the award is then recorded anonymously and
	// never reaches any stats row.
	UserID string

	// Amount is the number of points, 1..progression.MaxAwardAmount.
	Amount int

	// Source is a free-form tag such as "task" or "focus_session".
	Source string

	// SourceID optionally references the object that earned the points.
	SourceID string

	// Description is an optional human-readable note.
	Description string

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c AwardXPCommand) Validate() error {
	return progression.ValidateAward(c.Amount, c.Source)
}

// AwardXPResult contains the outcome of an award.
type AwardXPResult struct {
	Transaction    *progression.XpTransaction
	TotalXP        int
	Level          int
	CurrentLevelXP int
	LevelUp        bool
}

// PartialApplyError is returned when the ledger row was written but the
// stats update failed. The row stays in the ledger.
type PartialApplyError struct {
	Transaction *progression.XpTransaction
	Err         error
}

func (e *PartialApplyError) Error() string {
	return fmt.Sprintf("award_xp: transaction %s recorded but stats not updated: %v", e.Transaction.ID, e.Err)
}

// Unwrap exposes both the partial-apply kind and the store failure.
func (e *PartialApplyError) Unwrap() []error {
	return []error{shared.ErrPartialApply, e.Err}
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// AwardXPHandler handles the AwardXPCommand.
type AwardXPHandler struct {
	ledger    progression.LedgerRepository
	stats     progression.StatsRepository
	publisher shared.EventPublisher
	clock     timeutil.Clock
	logger    *slog.Logger
}

// NewAwardXPHandler creates a new AwardXPHandler.
func NewAwardXPHandler(
	ledger progression.LedgerRepository,
	stats progression.StatsRepository,
	publisher shared.EventPublisher,
	clock timeutil.Clock,
	logger *slog.Logger,
) *AwardXPHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &AwardXPHandler{
		ledger:    ledger,
		stats:     stats,
		publisher: publisher,
		clock:     clock,
		logger:    orDefault(logger).With("command", "award_xp"),
	}
}

// Handle executes the award.
func (h *AwardXPHandler) Handle(ctx context.Context, cmd AwardXPCommand) (*AwardXPResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("award_xp: validation failed: %w", err)
	}

	now := h.clock.Now().UTC()

	tx, err := progression.NewTransaction(progression.NewTransactionParams{
		ID:          newID(),
		UserID:      shared.UserID(cmd.UserID),
		Amount:      cmd.Amount,
		Source:      cmd.Source,
		SourceID:    cmd.SourceID,
		Description: cmd.Description,
		CreatedAt:   now,
	})
	if err != nil {
		return nil, fmt.Errorf("award_xp: %w", err)
	}

	// Переполнение проверяется до записи в журнал: отклонённая награда не
	// должна оставлять строку в ledger.
	if !tx.IsAnonymous() {
		if err := h.checkHeadroom(ctx, tx); err != nil {
			return nil, err
		}
	}

	if err := h.ledger.Append(ctx, tx); err != nil {
		return nil, fmt.Errorf("award_xp: append transaction: %w", err)
	}

	if tx.IsAnonymous() {
		h.logger.Debug("anonymous award recorded", "transaction_id", tx.ID, "amount", tx.Amount, "source", tx.Source)
		first := progression.LevelOf(0)
		return &AwardXPResult{
			Transaction:    tx,
			Level:          first.Level,
			CurrentLevelXP: first.CurrentLevelXP,
		}, nil
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Stats update under the per-user lock
	// ─────────────────────────────────────────────────────────────────────────

	var (
		oldLevel  int
		leveledUp bool
	)
	updated, err := h.stats.Update(ctx, tx.UserID, func(cur progression.UserStats, exists bool) (progression.UserStats, error) {
		oldLevel = progression.LevelOf(cur.TotalXP).Level
		next, up, err := cur.AddXP(tx.Amount, now)
		leveledUp = up
		return next, err
	})
	if err != nil {
		h.logger.Error("stats update failed after ledger append",
			"transaction_id", tx.ID,
			"user_id", tx.UserID,
			"amount", tx.Amount,
			"error", err,
		)
		return nil, &PartialApplyError{Transaction: tx, Err: err}
	}

	events := []shared.Event{
		withCorrelation(shared.NewXPAwardedEvent(
			tx.UserID.String(), tx.ID, tx.Amount, tx.Source, updated.TotalXP, updated.Level, now,
		), cmd.CorrelationID),
	}
	if leveledUp {
		events = append(events, shared.NewLevelUpEvent(tx.UserID.String(), oldLevel, updated.Level, updated.TotalXP, now))
		h.logger.Info("level up", "user_id", tx.UserID, "old_level", oldLevel, "new_level", updated.Level)
	}
	publishAll(h.publisher, h.logger, events...)

	return &AwardXPResult{
		Transaction:    tx,
		TotalXP:        updated.TotalXP,
		Level:          updated.Level,
		CurrentLevelXP: updated.CurrentLevelXP,
		LevelUp:        leveledUp,
	}, nil
}

// checkHeadroom rejects an award that would push the user's total past
// progression.MaxTotalXP. A user without a row has the full range.
func (h *AwardXPHandler) checkHeadroom(ctx context.Context, tx *progression.XpTransaction) error {
	cur, err := h.stats.Get(ctx, tx.UserID)
	switch {
	case shared.IsNotFound(err):
		return nil
	case err != nil:
		return fmt.Errorf("award_xp: read stats: %w", err)
	}
	if _, _, err := cur.AddXP(tx.Amount, tx.CreatedAt); err != nil {
		return fmt.Errorf("award_xp: %w", err)
	}
	return nil
}

func withCorrelation(e shared.XPAwardedEvent, id string) shared.XPAwardedEvent {
	if id != "" {
		e.BaseEvent = e.BaseEvent.WithCorrelationID(id)
	}
	return e
}
