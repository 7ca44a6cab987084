package handler

import (
	"net/http"

	"github.com/farelis/tiendra/internal/domain"
	"github.com/farelis/tiendra/internal/middleware"
	"github.com/farelis/tiendra/internal/mercadopago"
	"github.com/farelis/tiendra/internal/service"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// BillingHandler exposes subscription lifecycle operations to store admins.
type BillingHandler struct {
	billing *service.BillingService
	logger  zerolog.Logger
}

// NewBillingHandler creates the billing handler.
func NewBillingHandler(billing *service.BillingService, logger zerolog.Logger) *BillingHandler {
	return &BillingHandler{
		billing: billing,
		logger:  logger.With().Str("component", "billing_handler").Logger(),
	}
}

type createSubscriptionRequest struct {
	Provider        string `json:"provider"`
	PlanCode        string `json:"plan_code" validate:"required"`
	PayerEmail      string `json:"payer_email" validate:"required,email"`
	UsePlanCheckout bool   `json:"use_plan_checkout"`
}

// CreateSubscription handles POST /billing/subscriptions.
func (h *BillingHandler) CreateSubscription(c echo.Context) error {
	const op = "billing.create_subscription"

	user, ok := middleware.UserFromContext(c)
	if !ok {
		return ErrorResponse(c, domain.Unauthorized(op, "authentication required"))
	}
	if !user.IsAdmin() {
		return ErrorResponse(c, domain.Forbidden(op, "only store admins can manage billing"))
	}

	var req createSubscriptionRequest
	if err := c.Bind(&req); err != nil {
		return ErrorResponse(c, domain.Invalid(op, "invalid request body"))
	}
	if err := c.Validate(&req); err != nil {
		return ErrorResponse(c, err)
	}
	if req.Provider == "" {
		req.Provider = mercadopago.ProviderCode
	}

	output, err := h.billing.CreateSubscription(c.Request().Context(), service.CreateSubscriptionInput{
		TenantID:        user.TenantID,
		Provider:        req.Provider,
		PlanCode:        req.PlanCode,
		PayerEmail:      req.PayerEmail,
		UsePlanCheckout: req.UsePlanCheckout,
	})
	if err != nil {
		return ErrorResponse(c, err)
	}
	return c.JSON(http.StatusCreated, output)
}

type changePlanRequest struct {
	Provider string `json:"provider"`
	PlanCode string `json:"plan_code" validate:"required"`
}

type subscriptionResponse struct {
	SubscriptionID string               `json:"subscription_id"`
	ExternalID     string               `json:"external_id"`
	Status         domain.BillingStatus `json:"status"`
}

// ChangePlan handles POST /billing/subscriptions/plan.
func (h *BillingHandler) ChangePlan(c echo.Context) error {
	const op = "billing.change_plan"

	user, ok := middleware.UserFromContext(c)
	if !ok {
		return ErrorResponse(c, domain.Unauthorized(op, "authentication required"))
	}
	if !user.IsAdmin() {
		return ErrorResponse(c, domain.Forbidden(op, "only store admins can manage billing"))
	}

	var req changePlanRequest
	if err := c.Bind(&req); err != nil {
		return ErrorResponse(c, domain.Invalid(op, "invalid request body"))
	}
	if err := c.Validate(&req); err != nil {
		return ErrorResponse(c, err)
	}
	if req.Provider == "" {
		req.Provider = mercadopago.ProviderCode
	}

	sub, err := h.billing.ChangeSubscriptionPlan(c.Request().Context(), user.TenantID, req.Provider, req.PlanCode)
	if err != nil {
		return ErrorResponse(c, err)
	}
	return c.JSON(http.StatusOK, subscriptionResponse{
		SubscriptionID: sub.ID.String(),
		ExternalID:     sub.ExternalID,
		Status:         sub.Status,
	})
}

type syncResponse struct {
	Synced int `json:"synced"`
}

// Sync handles POST /billing/sync, the manual reconciliation trigger.
func (h *BillingHandler) Sync(c echo.Context) error {
	const op = "billing.sync"

	user, ok := middleware.UserFromContext(c)
	if !ok {
		return ErrorResponse(c, domain.Unauthorized(op, "authentication required"))
	}
	if !user.IsAdmin() {
		return ErrorResponse(c, domain.Forbidden(op, "only store admins can manage billing"))
	}

	providerCode := c.QueryParam("provider")
	if providerCode == "" {
		providerCode = mercadopago.ProviderCode
	}

	count, err := h.billing.SyncActiveSubscriptions(c.Request().Context(), providerCode)
	if err != nil {
		return ErrorResponse(c, err)
	}
	return c.JSON(http.StatusOK, syncResponse{Synced: count})
}
