package handler

import (
	"net/http"

	"github.com/farelis/tiendra/internal/domain"
	"github.com/farelis/tiendra/internal/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Deps bundles everything route registration needs.
type Deps struct {
	Webhooks *WebhookHandler
	Payments *PaymentsHandler
	Billing  *BillingHandler
	Tenants  domain.TenantStore
	Pool     *pgxpool.Pool
	Logger   zerolog.Logger
}

// NewServer builds the echo instance with all routes and middleware wired.
func NewServer(deps Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = NewRequestValidator()

	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(deps.Logger))

	// Operational surface, no auth.
	e.GET("/health", Health(deps.Pool))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Provider-facing surface. Webhooks authenticate by signature, the OAuth
	// callback by the encrypted state blob.
	e.POST("/payments/webhooks/:provider", deps.Webhooks.Handle)
	e.GET("/payments/:provider/callback", deps.Payments.Callback)

	// Admin surface.
	auth := e.Group("", middleware.SessionAuth(deps.Tenants), middleware.BillingGate())
	auth.GET("/payments/:provider/connect/:storeID", deps.Payments.Connect)
	auth.POST("/payments/checkout/:orderID", deps.Payments.CreateCheckout)
	auth.POST("/billing/subscriptions", deps.Billing.CreateSubscription)
	auth.POST("/billing/subscriptions/plan", deps.Billing.ChangePlan)
	auth.POST("/billing/sync", deps.Billing.Sync)

	return e
}

// Health reports process liveness and database reachability.
func Health(pool *pgxpool.Pool) echo.HandlerFunc {
	return func(c echo.Context) error {
		if pool != nil {
			if err := pool.Ping(c.Request().Context()); err != nil {
				return c.JSON(http.StatusServiceUnavailable, map[string]string{
					"status": "degraded",
					"reason": "database unreachable",
				})
			}
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	}
}
