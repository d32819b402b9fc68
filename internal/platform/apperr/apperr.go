// Package apperr carries an HTTP status alongside domain errors so services
// stay free of echo while handlers translate errors in one place.
package apperr

import (
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/labstack/echo/v4"
)

// Error is a domain error with the status it maps to.
type Error struct {
	Status  int
	Message string
	// Details is rendered next to message when set.
	Details interface{}
}

func (e *Error) Error() string { return e.Message }

// Is matches errors of the same status and message, so package sentinels
// compare equal to freshly built copies.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Status == e.Status && t.Message == e.Message
}

func New(status int, msg string) *Error { return &Error{Status: status, Message: msg} }

func BadRequest(msg string) *Error   { return New(http.StatusBadRequest, msg) }
func Unauthorized(msg string) *Error { return New(http.StatusUnauthorized, msg) }
func Forbidden(msg string) *Error    { return New(http.StatusForbidden, msg) }
func NotFound(msg string) *Error     { return New(http.StatusNotFound, msg) }
func Conflict(msg string) *Error     { return New(http.StatusConflict, msg) }
func BadGateway(msg string) *Error   { return New(http.StatusBadGateway, msg) }

// WithDetails returns a copy of e carrying details.
func (e *Error) WithDetails(details interface{}) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// Status returns the HTTP status for err. Unknown errors are 500.
func Status(err error) int {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Status
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return http.StatusNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return http.StatusConflict
		case "23503", "23502", "23514", "22P02":
			return http.StatusBadRequest
		}
	}
	return http.StatusInternalServerError
}

// ToHTTP converts err into an echo.HTTPError. Internal errors keep the cause
// for logging but expose a generic message.
func ToHTTP(err error) *echo.HTTPError {
	if err == nil {
		return nil
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	status := Status(err)

	var ae *Error
	if errors.As(err, &ae) {
		if ae.Details != nil {
			return echo.NewHTTPError(status, map[string]interface{}{"message": ae.Message, "details": ae.Details})
		}
		return echo.NewHTTPError(status, ae.Message)
	}

	switch status {
	case http.StatusNotFound:
		return echo.NewHTTPError(status, "not found")
	case http.StatusConflict:
		return echo.NewHTTPError(status, "record already exists")
	case http.StatusBadRequest:
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return echo.NewHTTPError(status, "referenced record does not exist")
		}
		return echo.NewHTTPError(status, "invalid data")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
}
