package core

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"crosswatch/internal/types"
)

// Validator wraps go-playground/validator so handlers share one configured
// instance. Validation errors are reported using JSON field names, matching
// what the client actually sent.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a new Validator with JSON tag name reporting enabled.
func NewValidator(logger *slog.Logger) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report JSON wire names ("marker") instead of Go identifiers ("Marker")
	// in validation error details.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Validator{
		validate: v,
		logger:   logger,
	}
}

// ValidateStruct runs the struct's validation tags and translates failures
// into a typed AppError. Returns nil when validation passes.
//
// When any failed rule is "required", the error code is
// validation_missing_required_field; otherwise validation_body_invalid.
// The Details map carries one human-readable message per failed field.
func (v *Validator) ValidateStruct(s any) *types.AppError {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		// The handler passed something that is not a struct. This is a
		// programming error, not client input.
		return types.NewAppError(types.ErrCodeInternalUnexpected, "validation target is not a struct", err)
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		details := make(map[string]any, len(fieldErrs))
		missingField := false
		for _, fe := range fieldErrs {
			field := fe.Field()
			if field == "" {
				field = fe.StructField()
			}
			details[field] = validationMessage(fe)
			if fe.Tag() == "required" {
				missingField = true
			}
		}

		code := types.ErrCodeValidationBody
		if missingField {
			code = types.ErrCodeValidationMissingField
		}
		return types.NewAppErrorWithDetails(code, "request validation failed", nil, details)
	}

	return types.NewAppError(types.ErrCodeValidationBody, "request validation failed", err)
}

// validationMessage converts a single field error into a client-facing message.
func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	case "lte":
		return "must be less than or equal to " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "lt":
		return "must be less than " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	case "min":
		return "must have a minimum length/value of " + fe.Param()
	case "max":
		return "must have a maximum length/value of " + fe.Param()
	default:
		return fmt.Sprintf("failed validation rule %q", fe.Tag())
	}
}
