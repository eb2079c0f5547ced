package core

import (
	"log/slog"

	"github.com/go-playground/validator/v10"

	"brokerdesk/internal/types"
)

// Validator wraps go-playground/validator so handlers validate request
// payloads through one shared instance with struct field caching.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a new Validator.
func NewValidator(logger *slog.Logger) *Validator {
	return &Validator{
		validate: validator.New(),
		logger:   logger,
	}
}

// ValidateStruct validates the struct's `validate` tags and maps the first
// failure to a client-safe AppError. Field-by-field detail beyond the first
// failure is not reported; clients fix one problem at a time.
func (v *Validator) ValidateStruct(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	validationErrs, ok := err.(validator.ValidationErrors)
	if !ok || len(validationErrs) == 0 {
		return types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"request validation failed",
			err,
		)
	}

	first := validationErrs[0]
	switch first.Tag() {
	case "required":
		return types.NewAppErrorWithDetails(
			types.ErrCodeValidationMissingField,
			"missing required field",
			nil,
			map[string]any{"field": first.Field()},
		)
	case "email":
		return types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidEmail,
			"invalid email address",
			nil,
			map[string]any{"field": first.Field()},
		)
	default:
		return types.NewAppErrorWithDetails(
			types.ErrCodeValidationMissingField,
			"invalid value for field",
			nil,
			map[string]any{"field": first.Field(), "rule": first.Tag()},
		)
	}
}
