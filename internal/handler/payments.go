package handler

import (
	"fmt"
	"io"
	"net/http"

	"github.com/farelis/tiendra/internal/domain"
	"github.com/farelis/tiendra/internal/middleware"
	"github.com/farelis/tiendra/internal/service"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// maxCheckoutBody caps the checkout request payload.
const maxCheckoutBody = 64 << 10

// PaymentsHandler exposes merchant account connection and checkout creation.
type PaymentsHandler struct {
	payments    *service.PaymentsService
	frontendURL string
	logger      zerolog.Logger
}

// NewPaymentsHandler creates the payments handler.
func NewPaymentsHandler(payments *service.PaymentsService, frontendURL string, logger zerolog.Logger) *PaymentsHandler {
	return &PaymentsHandler{
		payments:    payments,
		frontendURL: frontendURL,
		logger:      logger.With().Str("component", "payments_handler").Logger(),
	}
}

// Connect handles GET /payments/:provider/connect/:storeID. It redirects the
// store admin to the provider's OAuth authorize page.
func (h *PaymentsHandler) Connect(c echo.Context) error {
	user, ok := middleware.UserFromContext(c)
	if !ok {
		return ErrorResponse(c, domain.Unauthorized("payments.connect", "authentication required"))
	}

	storeID, err := uuid.Parse(c.Param("storeID"))
	if err != nil {
		return ErrorResponse(c, domain.Invalid("payments.connect", "invalid store id"))
	}

	url, err := h.payments.ConnectAccount(c.Request().Context(), c.Param("provider"), storeID, user.ID)
	if err != nil {
		return ErrorResponse(c, err)
	}
	return c.Redirect(http.StatusFound, url)
}

// Callback handles GET /payments/:provider/callback, the provider's OAuth
// redirect target. The browser lands back on the storefront dashboard either
// way; the outcome travels in a query flag.
func (h *PaymentsHandler) Callback(c echo.Context) error {
	providerCode := c.Param("provider")
	state := c.QueryParam("state")
	code := c.QueryParam("code")

	if code == "" || state == "" {
		return c.Redirect(http.StatusFound, h.settingsURL("error=missing_parameters"))
	}

	_, err := h.payments.CompleteConnection(c.Request().Context(), providerCode, state, code)
	if err != nil {
		h.logger.Warn().Err(err).Str("provider", providerCode).Msg("oauth callback failed")
		return c.Redirect(http.StatusFound, h.settingsURL("error=connection_failed"))
	}
	return c.Redirect(http.StatusFound, h.settingsURL("connected="+providerCode))
}

func (h *PaymentsHandler) settingsURL(query string) string {
	return fmt.Sprintf("%s/settings/payments?%s", h.frontendURL, query)
}

type checkoutRequest struct {
	Provider   string `json:"provider" validate:"required"`
	PayerEmail string `json:"payer_email" validate:"omitempty,email"`
}

type checkoutResponse struct {
	CheckoutID  string `json:"checkout_id"`
	CheckoutURL string `json:"checkout_url"`
}

// CreateCheckout handles POST /payments/checkout/:orderID. The Idempotency-Key
// header is mandatory; replays return the originally stored outcome verbatim.
func (h *PaymentsHandler) CreateCheckout(c echo.Context) error {
	const op = "payments.create_checkout"

	user, ok := middleware.UserFromContext(c)
	if !ok {
		return ErrorResponse(c, domain.Unauthorized(op, "authentication required"))
	}

	orderID, err := uuid.Parse(c.Param("orderID"))
	if err != nil {
		return ErrorResponse(c, domain.Invalid(op, "invalid order id"))
	}

	key := c.Request().Header.Get("Idempotency-Key")
	if len(key) < 8 || len(key) > 128 {
		return ErrorResponse(c, domain.Invalid(op, "Idempotency-Key header must be between 8 and 128 characters"))
	}

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxCheckoutBody))
	if err != nil {
		return ErrorResponse(c, domain.Invalid(op, "failed to read request body"))
	}

	var req checkoutRequest
	if err := unmarshalAndValidate(c, body, &req); err != nil {
		return ErrorResponse(c, err)
	}

	output, err := h.payments.CreateCheckout(c.Request().Context(), service.CheckoutInput{
		TenantID:       user.TenantID,
		OrderID:        orderID,
		Provider:       req.Provider,
		PayerEmail:     req.PayerEmail,
		IdempotencyKey: key,
		RequestBody:    body,
	})
	if err != nil {
		return ErrorResponse(c, err)
	}

	if output.Replayed {
		return c.JSONBlob(output.ReplayStatus, []byte(output.ReplayBody))
	}
	return c.JSON(http.StatusCreated, checkoutResponse{
		CheckoutID:  output.CheckoutID,
		CheckoutURL: output.CheckoutURL,
	})
}
