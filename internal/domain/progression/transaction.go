package progression

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/edusphere/edusphere-hub/internal/domain/shared"
)

// MaxSourceLength bounds the free-form source tag.
const MaxSourceLength = 64

// MaxAwardAmount caps a single award. The biggest catalog reward is far below it.
const MaxAwardAmount = 100_000

// Well-known award sources. Any non-empty tag is accepted by the ledger.
const (
	SourceFocusSession = "focus_session"
	SourceTask         = "task"
	SourceHabit        = "habit"
	SourceGame         = "game"
	SourceManual       = "manual"
)

// XpTransaction is one immutable, append-only ledger row.
type XpTransaction struct {
	ID          string        `json:"id"`
	UserID      shared.UserID `json:"user_id,omitempty"`
	Amount      int           `json:"amount"`
	Source      string        `json:"source"`
	SourceID    string        `json:"source_id,omitempty"`
	Description string        `json:"description,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// IsAnonymous reports whether the row is excluded from stats aggregation.
func (t *XpTransaction) IsAnonymous() bool {
	return t.UserID.IsEmpty()
}

// NewTransactionParams holds the inputs for NewTransaction.
type NewTransactionParams struct {
	ID          string
	UserID      shared.UserID
	Amount      int
	Source      string
	SourceID    string
	Description string
	CreatedAt   time.Time
}

// NewTransaction validates the award inputs and builds a ledger row.
func NewTransaction(p NewTransactionParams) (*XpTransaction, error) {
	source := strings.TrimSpace(p.Source)
	if err := ValidateAward(p.Amount, source); err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, shared.NewDomainError("progression", "NewTransaction", shared.ErrInvalidID, "transaction ID is required")
	}

	return &XpTransaction{
		ID:          p.ID,
		UserID:      shared.UserID(strings.TrimSpace(string(p.UserID))),
		Amount:      p.Amount,
		Source:      source,
		SourceID:    strings.TrimSpace(p.SourceID),
		Description: strings.TrimSpace(p.Description),
		CreatedAt:   p.CreatedAt,
	}, nil
}

// ValidateAward checks the amount and source of an award.
func ValidateAward(amount int, source string) error {
	switch {
	case amount == 0:
		return shared.ErrAmountRequired
	case amount < 0:
		return shared.ErrAmountNotPositive
	case amount > MaxAwardAmount:
		return shared.ErrAmountTooLarge
	}
	source = strings.TrimSpace(source)
	if source == "" {
		return shared.ErrSourceRequired
	}
	if utf8.RuneCountInString(source) > MaxSourceLength {
		return shared.ErrSourceTooLong
	}
	return nil
}

// SumAmounts adds up the amounts of the given rows, skipping anonymous ones.
func SumAmounts(txs []*XpTransaction) int {
	total := 0
	for _, tx := range txs {
		if tx == nil || tx.IsAnonymous() {
			continue
		}
		total += tx.Amount
	}
	return total
}
