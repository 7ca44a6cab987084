package middleware

import (
	"net/http"
	"time"

	"github.com/farelis/tiendra/internal/domain"
	"github.com/farelis/tiendra/internal/telemetry"
	"github.com/labstack/echo/v4"
)

// BillingGate enforces the tenant's billing state on authenticated routes.
// Runs after SessionAuth; requests without a tenant in context pass through
// untouched so public routes can share the chain.
func BillingGate() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tenant, ok := TenantFromContext(c)
			if !ok {
				return next(c)
			}

			decision := domain.EvaluateGate(tenant, c.Request().URL.Path, time.Now())
			if decision.Allow {
				return next(c)
			}

			if m := telemetry.Business; m != nil {
				m.GateDenied.WithLabelValues(string(tenant.BillingStatus)).Inc()
			}

			if decision.PaymentRequired {
				return echo.NewHTTPError(http.StatusPaymentRequired, "subscription payment required")
			}
			return echo.NewHTTPError(http.StatusForbidden, "access suspended")
		}
	}
}
