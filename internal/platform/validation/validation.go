// Package validation binds request bodies and checks them with validator
// struct tags, returning field-level 400 errors.
package validation

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

// FieldError is one invalid field in a request.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// ErrorBody is the JSON body of a validation failure.
type ErrorBody struct {
	Message string       `json:"message"`
	Errors  []FieldError `json:"errors,omitempty"`
}

var (
	once     sync.Once
	instance *validator.Validate
)

// Validator returns the shared validator with json field names and the
// custom "digits12" tag registered.
func Validator() *validator.Validate {
	once.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		_ = v.RegisterValidation("digits12", func(fl validator.FieldLevel) bool {
			return isTwelveDigits(fl.Field().String())
		})
		instance = v
	})
	return instance
}

// isTwelveDigits reports whether s, with non-digits dropped, is exactly 12 digits.
func isTwelveDigits(s string) bool {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n == 12
}

// Struct validates v and converts failures into field errors.
func Struct(v interface{}) error {
	if err := Validator().Struct(v); err != nil {
		return newHTTPError(err)
	}
	return nil
}

// BindAndValidate binds the request into payload and validates it.
func BindAndValidate(c echo.Context, payload interface{}) error {
	if err := c.Bind(payload); err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprint(he.Message))
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return Struct(payload)
}

func newHTTPError(err error) error {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	body := ErrorBody{Message: "Validation failed"}
	for _, fe := range ve {
		body.Errors = append(body.Errors, FieldError{Field: fe.Field(), Error: describe(fe)})
	}
	return echo.NewHTTPError(http.StatusBadRequest, body)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_without":
		return "is required"
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at least %s characters", fe.Param())
		}
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must not exceed %s characters", fe.Param())
		}
		return fmt.Sprintf("must not exceed %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "email":
		return "must be a valid email address"
	case "uuid":
		return "must be a valid UUID"
	case "digits12":
		return "must contain exactly 12 digits"
	case "datetime":
		return fmt.Sprintf("must be a date in format %s", fe.Param())
	default:
		if fe.Param() != "" {
			return fmt.Sprintf("%s:%s", fe.Tag(), fe.Param())
		}
		return fe.Tag()
	}
}
