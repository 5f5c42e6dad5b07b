package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// RequireSession rejects anonymous requests with 401.
func RequireSession() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if SessionFromContext(c.Request().Context()) == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			return next(c)
		}
	}
}

// RequireKind admits only sessions of the given account kind.
func RequireKind(kind Kind) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			sess := SessionFromContext(c.Request().Context())
			if sess == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			if sess.Kind != kind {
				return echo.NewHTTPError(http.StatusForbidden, fmt.Sprintf("%s account required", kind))
			}
			return next(c)
		}
	}
}

func RequireStudent() echo.MiddlewareFunc {
	return RequireKind(KindStudent)
}

func RequireStaff() echo.MiddlewareFunc {
	return RequireKind(KindStaff)
}

// RequireRole admits sessions holding any of roles; admin always passes.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userRoles := RolesFromContext(c.Request().Context())
			if len(userRoles) == 0 {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			for _, required := range roles {
				for _, has := range userRoles {
					if has == required || has == RoleAdmin {
						return next(c)
					}
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}
