package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths lists routes reachable without a token: health checks and the
// login endpoints that issue tokens.
var publicPaths = map[string]bool{
	"/health":                     true,
	"/health/db":                  true,
	"/api/v1/auth/send-otp":       true,
	"/api/v1/auth/verify-otp":     true,
	"/api/v1/auth/login-password": true,
}

// AuthSkipper returns true for requests whose route should skip authentication.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}

// IsPublicPath reports whether the given route path bypasses authentication.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}
