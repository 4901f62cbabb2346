package query

import (
	"context"
	"fmt"

	"github.com/edusphere/edusphere-hub/internal/domain/progression"
	"github.com/edusphere/edusphere-hub/internal/domain/shared"
)

// GetXPHistoryQuery запрашивает журнал XP пользователя, новые записи первыми.
type GetXPHistoryQuery struct {
	UserID string
	Limit  int
	Offset int
}

// GetXPHistoryResult содержит страницу журнала.
type GetXPHistoryResult struct {
	Transactions []*progression.XpTransaction `json:"transactions"`
	Limit        int                          `json:"limit"`
	Offset       int                          `json:"offset"`
	HasMore      bool                         `json:"has_more"`
}

// GetXPHistoryHandler обрабатывает GetXPHistoryQuery.
type GetXPHistoryHandler struct {
	ledger progression.LedgerRepository
}

// NewGetXPHistoryHandler создаёт новый обработчик.
func NewGetXPHistoryHandler(ledger progression.LedgerRepository) *GetXPHistoryHandler {
	return &GetXPHistoryHandler{ledger: ledger}
}

// Handle выполняет запрос.
func (h *GetXPHistoryHandler) Handle(ctx context.Context, q GetXPHistoryQuery) (*GetXPHistoryResult, error) {
	userID, err := shared.NewUserID(q.UserID)
	if err != nil {
		return nil, fmt.Errorf("get_xp_history: %w", err)
	}

	page := shared.NewPagination(q.Limit, q.Offset)

	// one extra row tells whether another page exists
	lookahead := shared.Pagination{Limit: page.Limit + 1, Offset: page.Offset}
	txs, err := h.ledger.ListByUser(ctx, userID, lookahead)
	if err != nil {
		return nil, fmt.Errorf("get_xp_history: %w", err)
	}

	hasMore := len(txs) > page.Limit
	if hasMore {
		txs = txs[:page.Limit]
	}

	return &GetXPHistoryResult{
		Transactions: txs,
		Limit:        page.Limit,
		Offset:       page.Offset,
		HasMore:      hasMore,
	}, nil
}
