package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	"github.com/edusphere/edusphere-hub/internal/application/command"
	"github.com/edusphere/edusphere-hub/internal/domain/wellness"
)

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST DTOs
// ══════════════════════════════════════════════════════════════════════════════

// AwardXPRequest is the body of POST /api/v1/xp.
type AwardXPRequest struct {
	UserID      string `json:"user_id" validate:"max=128"`
	Amount      int    `json:"amount" validate:"required,gt=0,max=100000"`
	Source      string `json:"source" validate:"notblank,max=64"`
	SourceID    string `json:"source_id" validate:"max=128"`
	Description string `json:"description" validate:"max=500"`
}

func (r AwardXPRequest) command(correlationID string) command.AwardXPCommand {
	return command.AwardXPCommand{
		UserID:        r.UserID,
		Amount:        r.Amount,
		Source:        r.Source,
		SourceID:      r.SourceID,
		Description:   r.Description,
		CorrelationID: correlationID,
	}
}

// ClaimRewardRequest is the body of POST /api/v1/rewards/{key}/claim.
type ClaimRewardRequest struct {
	UserID   string `json:"user_id" validate:"max=128"`
	Level    int    `json:"level" validate:"gte=0,lte=1000"`
	SourceID string `json:"source_id" validate:"max=128"`
}

func (r ClaimRewardRequest) command(key, correlationID string) command.ClaimRewardCommand {
	return command.ClaimRewardCommand{
		UserID:        r.UserID,
		Key:           key,
		Level:         r.Level,
		SourceID:      r.SourceID,
		CorrelationID: correlationID,
	}
}

// HabitTemplateRequest describes one habit to create.
type HabitTemplateRequest struct {
	HabitType   string  `json:"habit_type" validate:"required,oneof=sleep hydration mindfulness movement"`
	TargetValue float64 `json:"target_value" validate:"gte=0"`
	Unit        string  `json:"unit" validate:"max=32"`
}

// CreateHabitsRequest is the body of POST /api/v1/habits.
type CreateHabitsRequest struct {
	UserID string                 `json:"user_id" validate:"notblank,max=128"`
	Habits []HabitTemplateRequest `json:"habits" validate:"required,min=1,max=20,dive"`
}

func (r CreateHabitsRequest) command() command.CreateHabitsCommand {
	tpls := make([]wellness.HabitTemplate, 0, len(r.Habits))
	for _, h := range r.Habits {
		tpls = append(tpls, wellness.HabitTemplate{
			HabitType:   wellness.HabitType(h.HabitType),
			TargetValue: h.TargetValue,
			Unit:        h.Unit,
		})
	}
	return command.CreateHabitsCommand{UserID: r.UserID, Habits: tpls}
}

// LogHabitRequest is the body of POST /api/v1/habits/logs.
type LogHabitRequest struct {
	HabitID string   `json:"habit_id" validate:"notblank"`
	Value   *float64 `json:"value" validate:"required"`
	UserID  string   `json:"user_id" validate:"max=128"`
	LogDate string   `json:"log_date" validate:"omitempty,datetime=2006-01-02"`
	Notes   string   `json:"notes" validate:"max=1000"`
}

func (r LogHabitRequest) command() command.LogHabitCommand {
	return command.LogHabitCommand{
		HabitID: r.HabitID,
		Value:   r.Value,
		UserID:  r.UserID,
		LogDate: r.LogDate,
		Notes:   r.Notes,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// VALIDATION
// ══════════════════════════════════════════════════════════════════════════════

const notBlankTag = "notblank"

// requestValidator validates DTOs and renders English messages keyed by
// the JSON field name.
type requestValidator struct {
	validate   *validator.Validate
	translator ut.Translator
}

var requests = newRequestValidator()

func newRequestValidator() *requestValidator {
	v := validator.New()

	_en := en.New()
	uni := ut.New(_en, _en)
	trans, _ := uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(v, trans)

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation(notBlankTag, func(fl validator.FieldLevel) bool {
		s, ok := fl.Field().Interface().(string)
		return ok && strings.TrimSpace(s) != ""
	})
	_ = v.RegisterTranslation(notBlankTag, trans,
		func(ut.Translator) error { return nil },
		func(_ ut.Translator, fe validator.FieldError) string {
			return fe.Field() + " cannot be blank"
		},
	)

	return &requestValidator{validate: v, translator: trans}
}

// RequestError is a malformed or invalid request body.
type RequestError struct {
	Message string
	Fields  map[string]string
	// TooLarge is set when the body hit the size limit; it maps to 413.
	TooLarge bool
}

func (e *RequestError) Error() string {
	return e.Message
}

// check validates dst and returns a *RequestError listing every bad field.
func (rv *requestValidator) check(dst interface{}) error {
	err := rv.validate.Struct(dst)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &RequestError{Message: err.Error()}
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		// Namespace keeps dive paths like "habits[0].habit_type".
		ns := fe.Namespace()
		if i := strings.IndexByte(ns, '.'); i >= 0 {
			ns = ns[i+1:]
		}
		fields[ns] = fe.Translate(rv.translator)
	}
	return &RequestError{Message: "request validation failed", Fields: fields}
}

// decodeJSON reads a JSON body into dst and validates it.
func decodeJSON(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return &RequestError{Message: "request body is empty"}
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return &RequestError{Message: "Request body too large", TooLarge: true}
		}
		return &RequestError{Message: fmt.Sprintf("malformed JSON body: %v", err)}
	}
	return requests.check(dst)
}
