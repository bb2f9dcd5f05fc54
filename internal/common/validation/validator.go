package validation

import (
	"fmt"
	"reflect"
	"strings"
	"time"
	"unicode"

	"melody-map/internal/common/errors"

	"github.com/go-playground/validator/v10"
)

// Validator wraps go-playground/validator with request-body rules used by the API
type Validator struct {
	validate *validator.Validate
}

// FieldError is a single failed rule, keyed by the JSON field name
type FieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Param   string `json:"param,omitempty"`
	Message string `json:"message"`
}

// Result holds every failed rule of a struct validation
type Result struct {
	Valid  bool         `json:"valid"`
	Errors []FieldError `json:"errors,omitempty"`
}

// New creates a validator with the custom tags registered
func New() *Validator {
	v := validator.New()

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	registerTokenValidators(v)

	return &Validator{validate: v}
}

// Struct validates s and returns a single ValidationError summarising every failure
func (v *Validator) Struct(s interface{}) error {
	result := v.StructResult(s)
	if result.Valid {
		return nil
	}
	if len(result.Errors) == 1 {
		return errors.ValidationError(result.Errors[0].Message)
	}

	messages := make([]string, len(result.Errors))
	for i, e := range result.Errors {
		messages[i] = e.Message
	}
	return errors.ValidationError(fmt.Sprintf("validation failed: %s", strings.Join(messages, "; ")))
}

// StructResult validates s and returns the per-field failures
func (v *Validator) StructResult(s interface{}) *Result {
	err := v.validate.Struct(s)
	if err == nil {
		return &Result{Valid: true}
	}

	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return &Result{Errors: []FieldError{{Field: "unknown", Tag: "error", Message: err.Error()}}}
	}

	out := make([]FieldError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, FieldError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Param:   fe.Param(),
			Message: formatFieldError(fe),
		})
	}
	return &Result{Errors: out}
}

// Var validates a single value against a tag expression
func (v *Validator) Var(field interface{}, tag string) error {
	if err := v.validate.Var(field, tag); err != nil {
		return errors.ValidationError(err.Error())
	}
	return nil
}

func formatFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("field '%s' is required", fe.Field())
	case "min":
		return fmt.Sprintf("field '%s' must be at least %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("field '%s' must be at most %s", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("field '%s' must be one of: %s", fe.Field(), fe.Param())
	case "oauth_token":
		return fmt.Sprintf("field '%s' must be a token without whitespace", fe.Field())
	case "duration":
		return fmt.Sprintf("field '%s' must be a valid duration", fe.Field())
	default:
		return fmt.Sprintf("field '%s' failed validation: %s", fe.Field(), fe.Tag())
	}
}

func registerTokenValidators(v *validator.Validate) {
	// Bearer tokens are opaque but never contain whitespace.
	_ = v.RegisterValidation("oauth_token", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if s == "" {
			return false
		}
		return strings.IndexFunc(s, unicode.IsSpace) < 0
	})

	_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		_, err := time.ParseDuration(fl.Field().String())
		return err == nil
	})
}

var defaultValidator = New()

// ValidateStruct validates s with the package-level validator
func ValidateStruct(s interface{}) error {
	return defaultValidator.Struct(s)
}

// ValidateVar validates a value with the package-level validator
func ValidateVar(field interface{}, tag string) error {
	return defaultValidator.Var(field, tag)
}
