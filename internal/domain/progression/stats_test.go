package progression

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edusphere/edusphere-hub/internal/domain/shared"
)

var now = time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

func TestApplyXP_LevelUpOnlyWhenCrossingBoundary(t *testing.T) {
	stats := NewUserStats("u1")

	stats, up := stats.ApplyXP(50, now)
	assert.False(t, up)
	assert.Equal(t, 1, stats.Level)

	stats, up = stats.ApplyXP(50, now)
	assert.True(t, up)
	assert.Equal(t, 100, stats.TotalXP)
	assert.Equal(t, 2, stats.Level)
	assert.Equal(t, 0, stats.CurrentLevelXP)

	stats, up = stats.ApplyXP(99, now)
	assert.False(t, up)
	require.NoError(t, stats.Validate())
}

func TestApplyXP_Commutes(t *testing.T) {
	a, _ := NewUserStats("u1").ApplyXP(30, now)
	a, _ = a.ApplyXP(80, now)
	b, _ := NewUserStats("u1").ApplyXP(80, now)
	b, _ = b.ApplyXP(30, now)

	assert.Equal(t, a, b)
	assert.Equal(t, 110, a.TotalXP)
}

func TestUserStats_AddXPRejectsOverflow(t *testing.T) {
	s, _ := NewUserStats("u1").ApplyXP(MaxTotalXP-10, now)

	next, up, err := s.AddXP(10, now)
	require.NoError(t, err)
	assert.False(t, up)
	assert.Equal(t, MaxTotalXP, next.TotalXP)

	same, up, err := next.AddXP(1, now)
	require.ErrorIs(t, err, shared.ErrTotalXPOverflow)
	assert.True(t, shared.IsValidation(err))
	assert.False(t, up)
	assert.Equal(t, MaxTotalXP, same.TotalXP)
}

func TestUserStats_ApplyXPSaturates(t *testing.T) {
	s, _ := NewUserStats("u1").ApplyXP(MaxTotalXP, now)
	next, _ := s.ApplyXP(math.MaxInt, now)
	assert.Equal(t, MaxTotalXP, next.TotalXP)
	assert.NoError(t, next.Validate())
}

func TestUserStats_Validate(t *testing.T) {
	bad := UserStats{UserID: "u1", TotalXP: 150, Level: 1, CurrentLevelXP: 50}
	assert.True(t, shared.IsValidation(bad.Validate()))

	assert.Error(t, UserStats{TotalXP: 0, Level: 1}.Validate())
}

func TestValidateAward(t *testing.T) {
	assert.NoError(t, ValidateAward(10, "task"))
	assert.ErrorIs(t, ValidateAward(0, "task"), shared.ErrAmountRequired)
	assert.ErrorIs(t, ValidateAward(-5, "task"), shared.ErrAmountNotPositive)
	assert.NoError(t, ValidateAward(MaxAwardAmount, "task"))
	assert.ErrorIs(t, ValidateAward(MaxAwardAmount+1, "task"), shared.ErrAmountTooLarge)
	assert.True(t, shared.IsValidation(ValidateAward(math.MaxInt, "task")))
	assert.ErrorIs(t, ValidateAward(10, "  "), shared.ErrSourceRequired)

	long := make([]byte, MaxSourceLength+1)
	for i := range long {
		long[i] = 'a'
	}
	assert.ErrorIs(t, ValidateAward(10, string(long)), shared.ErrSourceTooLong)
}

func TestNewTransaction_Trims(t *testing.T) {
	tx, err := NewTransaction(NewTransactionParams{
		ID: "tx-1", UserID: " u1 ", Amount: 25, Source: " task ", CreatedAt: now,
	})
	require.NoError(t, err)
	assert.Equal(t, shared.UserID("u1"), tx.UserID)
	assert.Equal(t, "task", tx.Source)
	assert.False(t, tx.IsAnonymous())

	anon, err := NewTransaction(NewTransactionParams{ID: "tx-2", Amount: 5, Source: "game"})
	require.NoError(t, err)
	assert.True(t, anon.IsAnonymous())
	assert.Equal(t, 25, SumAmounts([]*XpTransaction{tx, anon}))
}

func TestCatalog(t *testing.T) {
	rewards := Catalog()
	require.Len(t, rewards, 6)
	assert.Equal(t, "focus_session", rewards[0].Key)

	seq, ok := LookupReward("game_sequence")
	require.True(t, ok)
	assert.Equal(t, 35, seq.AmountFor(3))

	focus, _ := LookupReward("focus_session")
	assert.Equal(t, 50, focus.AmountFor(7))

	_, ok = LookupReward("unknown")
	assert.False(t, ok)
}
