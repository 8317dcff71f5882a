package core

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var structValidator = NewValidator()

// NewValidator returns a validator that reports json field names and knows the
// method and strategy tags.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		for _, tag := range []string{"json", "yaml"} {
			name := strings.SplitN(field.Tag.Get(tag), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name != "" {
				return name
			}
		}
		return field.Name
	})
	_ = v.RegisterValidation("method", func(fl validator.FieldLevel) bool {
		_, ok := ParseMethod(fl.Field().String())
		return ok
	})
	_ = v.RegisterValidation("strategy", func(fl validator.FieldLevel) bool {
		_, ok := ParseStrategy(fl.Field().String())
		return ok
	})
	return v
}

// validateStruct runs tag validation and converts the first failure into a
// field-level ValidationError.
func validateStruct(value any) error {
	err := structValidator.Struct(value)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return Wrap(CodeValidation, err.Error(), err)
	}
	return ValidationFromFieldError(fieldErrs[0])
}

// ValidationFromFieldError renders one validator failure as a ValidationError.
func ValidationFromFieldError(fe validator.FieldError) error {
	return Validation(fieldPath(fe), describeTag(fe))
}

func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if idx := strings.Index(ns, "."); idx >= 0 {
		return ns[idx+1:]
	}
	return fe.Field()
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "min":
		if fe.Kind() == reflect.String {
			return "must be at least " + fe.Param() + " characters"
		}
		return "must be at least " + fe.Param()
	case "max":
		if fe.Kind() == reflect.String {
			return "must be at most " + fe.Param() + " characters"
		}
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of " + fe.Param()
	case "method":
		return "must be one of GET, POST, PUT, DELETE, PATCH, ALL"
	case "strategy":
		return "must be one of fixed-window, sliding-window, token-bucket, leaky-bucket"
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}
