package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/farelis/tiendra/internal/domain"
	"github.com/farelis/tiendra/internal/provider"
	"github.com/farelis/tiendra/internal/service"
	"github.com/farelis/tiendra/internal/telemetry"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// maxWebhookBody caps how much of a notification body is read.
const maxWebhookBody = 1 << 20

// WebhookHandler ingests provider notifications. It verifies authenticity,
// dispatches by topic and acknowledges everything it safely can: the provider
// retries on any non-2xx, so only genuinely retryable failures return one.
type WebhookHandler struct {
	payments *service.PaymentsService
	billing  *service.BillingService
	registry *provider.Registry
	logger   zerolog.Logger
}

// NewWebhookHandler creates the webhook handler.
func NewWebhookHandler(payments *service.PaymentsService, billing *service.BillingService, registry *provider.Registry, logger zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		payments: payments,
		billing:  billing,
		registry: registry,
		logger:   logger.With().Str("component", "webhook").Logger(),
	}
}

// notification is the lenient shape of an inbound webhook body. Providers
// move fields between query string and body across notification versions, so
// every field is optional and the query string wins.
type notification struct {
	ID     json.Number `json:"id"`
	Type   string      `json:"type"`
	Action string      `json:"action"`
	UserID json.Number `json:"user_id"`
	Data   struct {
		ID string `json:"id"`
	} `json:"data"`
}

// Handle processes POST /payments/webhooks/:provider.
func (h *WebhookHandler) Handle(c echo.Context) error {
	start := time.Now()
	providerCode := c.Param("provider")

	entry, ok := h.registry.Get(providerCode)
	if !ok {
		return ErrorResponse(c, domain.NotFound("webhook.handle", "payment provider", providerCode))
	}

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return ErrorResponse(c, domain.Errorf(domain.EINVALID, "webhook.handle", "failed to read body"))
	}

	var n notification
	if len(body) > 0 {
		// A malformed body is tolerated; the query string may still carry
		// everything needed.
		if err := json.Unmarshal(body, &n); err != nil {
			h.logger.Debug().Err(err).Msg("unparseable webhook body")
		}
	}

	topic := firstNonEmpty(c.QueryParam("type"), c.QueryParam("topic"), n.Type)
	resourceID := firstNonEmpty(c.QueryParam("data.id"), c.QueryParam("id"), n.Data.ID)

	if m := telemetry.Business; m != nil {
		m.WebhookReceived.WithLabelValues(providerCode, topic).Inc()
	}

	signature := c.Request().Header.Get("x-signature")
	requestID := c.Request().Header.Get("x-request-id")
	if !entry.Webhooks.Verify(signature, requestID, resourceID) {
		h.logger.Warn().
			Str("provider", providerCode).
			Str("topic", topic).
			Msg("webhook signature verification failed")
		return ErrorResponse(c, domain.Unauthorized("webhook.handle", "invalid webhook signature"))
	}

	if resourceID == "" {
		return h.ignore(c, providerCode, "missing_resource_id")
	}

	// Query-string-only notification vintages carry no body id; the delivery
	// id header keeps distinct notifications for one resource distinct.
	webhookID := n.ID.String()
	if webhookID == "" {
		webhookID = requestID
	}

	var herr error
	switch topic {
	case "payment":
		herr = h.payments.HandlePaymentNotification(c.Request().Context(), service.PaymentNotification{
			Provider:   providerCode,
			PaymentID:  resourceID,
			MerchantID: n.UserID.String(),
			WebhookID:  webhookID,
		})
	case "preapproval", "subscription_preapproval":
		herr = h.billing.HandlePreapprovalNotification(c.Request().Context(), service.PreapprovalNotification{
			Provider:      providerCode,
			PreapprovalID: resourceID,
			WebhookID:     webhookID,
		})
	default:
		return h.ignore(c, providerCode, "unknown_topic")
	}

	if m := telemetry.Business; m != nil {
		m.WebhookLatency.WithLabelValues(providerCode, topic).Observe(time.Since(start).Seconds())
	}

	if herr != nil {
		// Malformed or unresolvable notifications are acknowledged so the
		// provider stops retrying; everything else returns an error status to
		// trigger a retry.
		if domain.IsCode(herr, domain.EWEBHOOK) {
			return h.ignore(c, providerCode, "unprocessable")
		}
		if m := telemetry.Business; m != nil {
			m.WebhookFailed.WithLabelValues(providerCode, topic, domain.ErrorCode(herr)).Inc()
		}
		h.logger.Error().Err(herr).
			Str("provider", providerCode).
			Str("topic", topic).
			Str("resource_id", resourceID).
			Msg("webhook processing failed")
		return ErrorResponse(c, herr)
	}

	if m := telemetry.Business; m != nil {
		m.WebhookProcessed.WithLabelValues(providerCode, topic).Inc()
	}
	return c.NoContent(http.StatusOK)
}

func (h *WebhookHandler) ignore(c echo.Context, providerCode, reason string) error {
	if m := telemetry.Business; m != nil {
		m.WebhookIgnored.WithLabelValues(providerCode, reason).Inc()
	}
	return c.NoContent(http.StatusOK)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
