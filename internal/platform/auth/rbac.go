package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	RoleInstructor = "instructor"
	RoleStudent    = "student"
)

// IsKnownRole reports whether r is a role the simulator grants.
func IsKnownRole(r string) bool {
	return r == RoleInstructor || r == RoleStudent
}

// HasRole reports whether roles grants required. Instructors hold every
// student permission.
func HasRole(roles []string, required string) bool {
	for _, has := range roles {
		if has == required || has == RoleInstructor {
			return true
		}
	}
	return false
}

// RequireRole returns middleware that checks if the user has at least one of the specified roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userRoles := RolesFromContext(c.Request().Context())
			for _, required := range roles {
				if HasRole(userRoles, required) {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}
