package app

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	// Prices are stored as DECIMAL(10,2).
	_ = v.RegisterValidation("cents", func(fl validator.FieldLevel) bool {
		f := fl.Field()
		if f.Kind() != reflect.Float64 && f.Kind() != reflect.Float32 {
			return false
		}
		scaled := f.Float() * 100
		return math.Abs(scaled-math.Round(scaled)) < 1e-4
	})
	return v
}

// roundCents drops float noise from a price that already passed the cents check.
func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

// check runs struct validation and converts failures to *ValidationError.
func (a *App) check(in any) error {
	err := a.validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate request: %w", err)
	}
	out := &ValidationError{Fields: make([]FieldError, 0, len(verrs))}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, FieldError{Field: fe.Field(), Reason: reasonFor(fe)})
	}
	return out
}

func reasonFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "required_without":
		return "is required when " + jsonName(fe.Param()) + " is absent"
	case "email":
		return "must be a valid email address"
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "max":
		if fe.Kind() == reflect.String {
			return "must be at most " + fe.Param() + " characters"
		}
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "gt":
		return "must be greater than " + fe.Param()
	case "lt":
		return "must be less than " + fe.Param()
	case "cents":
		return "must have at most 2 decimal places"
	default:
		return "is invalid"
	}
}

func jsonName(field string) string {
	switch field {
	case "RecipientID":
		return "recipient_id"
	case "ChatKey":
		return "chat_key"
	default:
		return strings.ToLower(field)
	}
}
