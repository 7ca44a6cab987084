package middleware

import (
	"net/http"

	"github.com/farelis/tiendra/internal/domain"
	"github.com/labstack/echo/v4"
)

const (
	sessionCookieName = "session"
	userContextKey    = "auth.user"
	tenantContextKey  = "auth.tenant"
)

// SessionAuth resolves the acting user from the session cookie (or bearer
// token) and loads its tenant. Requests without a valid session are rejected.
func SessionAuth(tenants domain.TenantStore) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := sessionToken(c)
			if token == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing session")
			}

			user, err := tenants.GetUserBySessionToken(c.Request().Context(), token)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid session")
			}

			tenant, err := tenants.GetTenant(c.Request().Context(), user.TenantID)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "unknown store")
			}

			c.Set(userContextKey, user)
			c.Set(tenantContextKey, tenant)
			return next(c)
		}
	}
}

func sessionToken(c echo.Context) string {
	if cookie, err := c.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	auth := c.Request().Header.Get(echo.HeaderAuthorization)
	const prefix = "Bearer "
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}

// UserFromContext returns the authenticated user set by SessionAuth.
func UserFromContext(c echo.Context) (*domain.User, bool) {
	user, ok := c.Get(userContextKey).(*domain.User)
	return user, ok
}

// TenantFromContext returns the authenticated user's tenant.
func TenantFromContext(c echo.Context) (*domain.Tenant, bool) {
	tenant, ok := c.Get(tenantContextKey).(*domain.Tenant)
	return tenant, ok
}
