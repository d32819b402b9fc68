package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Account roles and clinic staff roles.
const (
	RoleClinic   = "clinic"
	RoleEmployer = "employer"

	ClinicRoleManager         = "manager"
	ClinicRoleDoctor          = "doctor"
	ClinicRoleProfpathologist = "profpathologist"
	ClinicRoleReceptionist    = "receptionist"
)

// RequireRole returns middleware that checks if the user has at least one of the specified roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if HasRole(RolesFromContext(c.Request().Context()), roles...) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

// HasRole reports whether granted contains any of required.
func HasRole(granted []string, required ...string) bool {
	for _, want := range required {
		for _, has := range granted {
			if has == want {
				return true
			}
		}
	}
	return false
}
