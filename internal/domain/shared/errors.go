// Package shared holds what every domain package needs: typed IDs, the
// DomainError family and the domain events. It imports nothing outside the
// standard library.
package shared

import (
	"errors"
	"fmt"
)

// Kinds. Match them with errors.Is; a DomainError matches its Kind.
var (
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrInvalidFormat   = errors.New("invalid format")

	// ErrPersistence is the kind of every store failure, whatever the driver.
	ErrPersistence = errors.New("persistence failure")

	// ErrPartialApply marks an award whose ledger row was written but whose
	// stats update failed. The row is not rolled back.
	ErrPartialApply = errors.New("partially applied")
)

// DomainError carries where a failure happened (Domain.Op), what kind it
// is and, optionally, the driver or validator error underneath.
type DomainError struct {
	Domain  string // "progression", "wellness", ...
	Op      string
	Kind    error
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	where := e.Domain + "." + e.Op
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", where, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", where, e.Message, e.Err)
}

// Unwrap prefers the cause; without one it exposes the kind.
func (e *DomainError) Unwrap() error {
	if e.Err == nil {
		return e.Kind
	}
	return e.Err
}

// Is matches the kind as well as anything in the cause chain.
func (e *DomainError) Is(target error) bool {
	return (e.Kind != nil && errors.Is(e.Kind, target)) ||
		(e.Err != nil && errors.Is(e.Err, target))
}

func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message}
}

// WrapError is NewDomainError with a cause.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message, Err: err}
}

// Progression domain errors
var (
	ErrAmountRequired    = NewDomainError("progression", "Validate", ErrValidation, "amount is required")
	ErrAmountNotPositive = NewDomainError("progression", "Validate", ErrValueOutOfRange, "amount must be a positive integer")
	ErrAmountTooLarge    = NewDomainError("progression", "Validate", ErrValueOutOfRange, "amount must be at most 100000")
	ErrTotalXPOverflow   = NewDomainError("progression", "ApplyXP", ErrValueOutOfRange, "award would exceed the maximum total XP")
	ErrSourceRequired    = NewDomainError("progression", "Validate", ErrValidation, "source is required")
	ErrSourceTooLong     = NewDomainError("progression", "Validate", ErrValueOutOfRange, "source must be at most 64 characters")
	ErrStatsNotFound     = NewDomainError("progression", "FindStats", ErrNotFound, "stats not found")
	ErrRewardNotFound    = NewDomainError("progression", "LookupReward", ErrNotFound, "reward not found")
	ErrRewardLevel       = NewDomainError("progression", "Validate", ErrValueOutOfRange, "level must be between 0 and 1000")
)

// Wellness domain errors
var (
	ErrHabitNotFound      = NewDomainError("wellness", "FindHabit", ErrNotFound, "habit not found")
	ErrHabitIDRequired    = NewDomainError("wellness", "Validate", ErrValidation, "habit_id is required")
	ErrHabitValueRequired = NewDomainError("wellness", "Validate", ErrValidation, "value is required")
	ErrHabitNotOwned      = NewDomainError("wellness", "Validate", ErrValidation, "habit does not belong to user")
	ErrInvalidHabitType   = NewDomainError("wellness", "Validate", ErrInvalidInput, "unknown habit type")
	ErrUserIDRequired     = NewDomainError("wellness", "Validate", ErrValidation, "user_id is required")
)

func IsNotFound(err error) bool      { return errors.Is(err, ErrNotFound) }
func IsAlreadyExists(err error) bool { return errors.Is(err, ErrAlreadyExists) }
func IsPersistence(err error) bool   { return errors.Is(err, ErrPersistence) }
func IsPartialApply(err error) bool  { return errors.Is(err, ErrPartialApply) }

// IsValidation is true for every input-related kind; the HTTP layer maps
// them all to 400.
func IsValidation(err error) bool {
	for _, kind := range []error{
		ErrValidation, ErrInvalidID, ErrInvalidInput, ErrEmptyValue,
		ErrNegativeValue, ErrValueOutOfRange, ErrInvalidFormat,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
