package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/edusphere/edusphere-hub/internal/domain/progression"
	"github.com/edusphere/edusphere-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CLAIM REWARD COMMAND
// Начисление по каталогу: сумма и источник берутся из награды, клиент
// передаёт только ключ и уровень игры.
// ══════════════════════════════════════════════════════════════════════════════

// ClaimRewardCommand awards the catalog amount for Key.
type ClaimRewardCommand struct {
	UserID string
	Key    string

	// Level is the game level reached; only per-level rewards use it.
	Level int

	SourceID      string
	CorrelationID string
}

// Validate resolves the reward. Unknown keys are shared.ErrRewardNotFound.
func (c ClaimRewardCommand) Validate() (progression.Reward, error) {
	if c.Level < 0 || c.Level > progression.MaxRewardLevel {
		return progression.Reward{}, shared.ErrRewardLevel
	}
	reward, ok := progression.LookupReward(strings.TrimSpace(c.Key))
	if !ok {
		return progression.Reward{}, shared.ErrRewardNotFound
	}
	return reward, nil
}

// ClaimRewardHandler turns a catalog claim into an award.
type ClaimRewardHandler struct {
	award *AwardXPHandler
}

func NewClaimRewardHandler(award *AwardXPHandler) *ClaimRewardHandler {
	return &ClaimRewardHandler{award: award}
}

// Handle runs the award with the reward's source and amount. The reward key
// is the ledger source_id unless the client sent one.
func (h *ClaimRewardHandler) Handle(ctx context.Context, cmd ClaimRewardCommand) (*AwardXPResult, error) {
	reward, err := cmd.Validate()
	if err != nil {
		return nil, fmt.Errorf("claim_reward: %w", err)
	}

	sourceID := strings.TrimSpace(cmd.SourceID)
	if sourceID == "" {
		sourceID = reward.Key
	}
	return h.award.Handle(ctx, AwardXPCommand{
		UserID:        cmd.UserID,
		Amount:        reward.AmountFor(cmd.Level),
		Source:        reward.Source,
		SourceID:      sourceID,
		Description:   reward.Description,
		CorrelationID: cmd.CorrelationID,
	})
}
