package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	once     sync.Once
	validate *validator.Validate
)

// Validator checks Config values.
type Validator struct {
	validate *validator.Validate
}

// NewValidator returns the shared validator instance.
func NewValidator() *Validator {
	once.Do(func() {
		validate = validator.New()

		_ = validate.RegisterValidation("basename", validateBasename)

		// Report fields by their config key.
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})

	return &Validator{validate: validate}
}

// Struct validates a struct and joins every field failure into one error.
func (v *Validator) Struct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		return fmt.Errorf("invalid validation error: %w", err)
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, formatError(fe))
	}
	return fmt.Errorf("validation failed: %s", strings.Join(msgs, "; "))
}

func formatError(err validator.FieldError) string {
	field := strings.TrimPrefix(err.Namespace(), "Config.")
	switch err.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, err.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, err.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, err.Param())
	case "basename":
		return fmt.Sprintf("%s must be a file name without directories", field)
	case "nefield":
		return fmt.Sprintf("%s must differ from %s", field, err.Param())
	default:
		return fmt.Sprintf("%s failed on tag %s", field, err.Tag())
	}
}

// validateBasename accepts a plain file name: no separators, not . or ..
func validateBasename(fl validator.FieldLevel) bool {
	name := fl.Field().String()
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}
