package shared

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainError_Is(t *testing.T) {
	wrapped := fmt.Errorf("award_xp: %w", ErrAmountNotPositive)

	assert.True(t, IsValidation(wrapped))
	assert.False(t, IsNotFound(wrapped))

	store := WrapError("progression", "Record", ErrPersistence, "insert failed", errors.New("disk full"))
	assert.True(t, IsPersistence(store))
	assert.Contains(t, store.Error(), "disk full")
	assert.True(t, IsNotFound(ErrHabitNotFound))
	assert.True(t, IsValidation(ErrHabitNotOwned))
}

func TestDateOf_UsesLocation(t *testing.T) {
	almaty := time.FixedZone("Asia/Almaty", 5*60*60)
	instant := time.Date(2024, 3, 1, 22, 30, 0, 0, time.UTC)

	assert.Equal(t, "2024-03-01", DateOf(instant, time.UTC).String())
	assert.Equal(t, "2024-03-02", DateOf(instant, almaty).String())
	assert.Equal(t, "2024-03-01", DateOf(instant, nil).String())
}

func TestDate_Arithmetic(t *testing.T) {
	d := NewDate(2024, time.February, 28)

	assert.Equal(t, "2024-02-29", d.AddDays(1).String())
	assert.Equal(t, "2024-03-01", d.AddDays(2).String())
	assert.Equal(t, 2, d.DaysUntil(d.AddDays(2)))
	assert.Equal(t, -1, d.DaysUntil(d.AddDays(-1)))
	assert.True(t, d.Before(d.AddDays(1)))
	assert.True(t, d.Equal(NewDate(2024, 2, 28)))
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2024-01-15")
	require.NoError(t, err)
	assert.Equal(t, NewDate(2024, time.January, 15), d)

	_, err = ParseDate("15/01/2024")
	assert.True(t, IsValidation(err))
}

func TestDate_JSON(t *testing.T) {
	type payload struct {
		Day  Date `json:"day"`
		None Date `json:"none"`
	}

	data, err := json.Marshal(payload{Day: NewDate(2024, 5, 1)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"day":"2024-05-01","none":null}`, string(data))

	var decoded payload
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, NewDate(2024, 5, 1), decoded.Day)
	assert.True(t, decoded.None.IsZero())
}

func TestDate_Scan(t *testing.T) {
	var d Date
	require.NoError(t, d.Scan("2024-07-04"))
	assert.Equal(t, "2024-07-04", d.String())

	require.NoError(t, d.Scan(time.Date(2024, 7, 5, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2024-07-05", d.String())

	require.NoError(t, d.Scan("2024-07-06T00:00:00Z"))
	assert.Equal(t, "2024-07-06", d.String())

	require.NoError(t, d.Scan(nil))
	assert.True(t, d.IsZero())

	v, err := d.Value()
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestDateRange(t *testing.T) {
	today := NewDate(2024, 1, 10)
	r := LastNDays(today, 7)

	assert.Equal(t, "2024-01-04", r.From.String())
	assert.True(t, r.Contains(today))
	assert.False(t, r.Contains(today.AddDays(1)))

	_, err := NewDateRange(today, today.AddDays(-1))
	assert.Error(t, err)
}

func TestNewPagination(t *testing.T) {
	assert.Equal(t, Pagination{Limit: DefaultPageSize}, NewPagination(0, -5))
	assert.Equal(t, Pagination{Limit: MaxPageSize, Offset: 10}, NewPagination(500, 10))
}

func TestNewUserID(t *testing.T) {
	id, err := NewUserID("  u-1 ")
	require.NoError(t, err)
	assert.Equal(t, UserID("u-1"), id)

	_, err = NewUserID("  ")
	assert.True(t, IsValidation(err))
}
