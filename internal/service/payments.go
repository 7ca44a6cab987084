package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/farelis/tiendra/internal/crypto"
	"github.com/farelis/tiendra/internal/domain"
	"github.com/farelis/tiendra/internal/events"
	"github.com/farelis/tiendra/internal/provider"
	"github.com/farelis/tiendra/internal/telemetry"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// oauthStateTTL bounds how long an OAuth state blob stays redeemable.
	oauthStateTTL = 10 * time.Minute

	// tokenRefreshMargin triggers a refresh when the access token expires
	// within this window.
	tokenRefreshMargin = 5 * time.Minute

	// checkoutScope is the idempotency ledger scope for checkout creation.
	checkoutScope = "checkout"
)

// PaymentsService owns merchant account connection, checkout creation and
// payment webhook ingestion.
type PaymentsService struct {
	registry  *provider.Registry
	payments  domain.PaymentsStore
	tenants   domain.TenantStore
	encryptor crypto.Encryptor
	ledger    *IdempotencyService
	publisher *events.Publisher
	logger    zerolog.Logger

	backendURL string
	now        func() time.Time
}

// NewPaymentsService wires the payments service.
func NewPaymentsService(
	registry *provider.Registry,
	payments domain.PaymentsStore,
	tenants domain.TenantStore,
	encryptor crypto.Encryptor,
	ledger *IdempotencyService,
	publisher *events.Publisher,
	backendURL string,
	logger zerolog.Logger,
) *PaymentsService {
	return &PaymentsService{
		registry:   registry,
		payments:   payments,
		tenants:    tenants,
		encryptor:  encryptor,
		ledger:     ledger,
		publisher:  publisher,
		backendURL: backendURL,
		logger:     logger.With().Str("component", "payments").Logger(),
		now:        time.Now,
	}
}

// oauthState is the payload sealed into the opaque state parameter. The
// encrypted blob is the CSRF binding between the connect redirect and the
// provider callback.
type oauthState struct {
	TenantID uuid.UUID `json:"tenant_id"`
	ActorID  uuid.UUID `json:"actor_id"`
	IssuedAt time.Time `json:"issued_at"`
}

// ConnectAccount starts the merchant OAuth flow for a tenant and returns the
// provider authorize URL to redirect the admin to.
func (s *PaymentsService) ConnectAccount(ctx context.Context, providerCode string, tenantID, actorID uuid.UUID) (string, error) {
	const op = "payments.connect_account"

	entry, err := s.providerEntry(providerCode)
	if err != nil {
		return "", err
	}

	actor, err := s.tenants.GetUser(ctx, actorID)
	if err != nil {
		return "", err
	}
	if actor.TenantID != tenantID || !actor.IsAdmin() {
		return "", domain.Forbidden(op, "only store admins can connect payment accounts")
	}

	state, err := s.sealState(oauthState{TenantID: tenantID, ActorID: actorID, IssuedAt: s.now()})
	if err != nil {
		return "", domain.WrapError(err, domain.EINTERNAL, op, "failed to seal oauth state")
	}

	url, err := entry.Payments.AuthorizeURL(state)
	if err != nil {
		return "", err
	}
	return url, nil
}

// CompleteConnection redeems the provider callback: it validates the state
// blob, exchanges the authorization code and persists the encrypted token
// pair on the tenant's payment account.
func (s *PaymentsService) CompleteConnection(ctx context.Context, providerCode, state, code string) (*domain.StorePaymentAccount, error) {
	const op = "payments.complete_connection"

	entry, err := s.providerEntry(providerCode)
	if err != nil {
		return nil, err
	}

	claims, err := s.openState(state)
	if err != nil {
		return nil, domain.ErrInvalidOAuthState
	}
	if s.now().Sub(claims.IssuedAt) > oauthStateTTL {
		return nil, domain.ErrInvalidOAuthState
	}

	// The actor must still be an admin of the tenant it claimed at connect
	// time. Role changes mid-flow invalidate the state.
	actor, err := s.tenants.GetUser(ctx, claims.ActorID)
	if err != nil {
		return nil, domain.ErrInvalidOAuthState
	}
	if actor.TenantID != claims.TenantID || !actor.IsAdmin() {
		return nil, domain.ErrInvalidOAuthState
	}

	tokens, err := entry.Payments.ExchangeCode(ctx, code)
	if err != nil {
		return nil, err
	}

	params, err := s.encryptTokens(claims.TenantID, providerCode, claims.ActorID, tokens)
	if err != nil {
		return nil, domain.WrapError(err, domain.EINTERNAL, op, "failed to encrypt merchant tokens")
	}

	account, err := s.payments.UpsertAccount(ctx, *params)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("tenant_id", claims.TenantID.String()).
		Str("provider", providerCode).
		Str("merchant_id", tokens.MerchantID).
		Msg("payment account connected")

	s.publisher.Publish(events.SubjectAccountConnected, claims.TenantID, providerCode, map[string]string{
		"merchant_id": tokens.MerchantID,
	})

	return account, nil
}

// AccessToken returns a usable merchant access token for the tenant,
// refreshing it first when it is about to expire. A failed refresh falls back
// to the current token so a provider hiccup does not take checkout down.
func (s *PaymentsService) AccessToken(ctx context.Context, tenantID uuid.UUID, providerCode string) (string, *domain.StorePaymentAccount, error) {
	account, err := s.payments.GetAccount(ctx, tenantID, providerCode)
	if err != nil {
		if domain.IsCode(err, domain.ENOTFOUND) {
			return "", nil, domain.ErrAccountNotConnected
		}
		return "", nil, err
	}
	token, err := s.accessTokenForAccount(ctx, providerCode, account)
	if err != nil {
		return "", nil, err
	}
	return token, account, nil
}

func (s *PaymentsService) accessTokenForAccount(ctx context.Context, providerCode string, account *domain.StorePaymentAccount) (string, error) {
	const op = "payments.access_token"

	plaintext, err := s.encryptor.Decrypt(account.AccessTokenEnc)
	if err != nil {
		return "", domain.WrapError(err, domain.EINTERNAL, op, "failed to decrypt access token")
	}
	current := string(plaintext)

	if !s.needsRefresh(account) {
		return current, nil
	}

	refreshed, err := s.refreshAccountTokens(ctx, providerCode, account)
	if err != nil {
		// Concurrent refreshers race benignly: both get valid tokens and the
		// last write wins. A hard failure falls back to the current token.
		s.logger.Warn().Err(err).
			Str("tenant_id", account.TenantID.String()).
			Str("provider", providerCode).
			Msg("token refresh failed, using current token")
		if m := telemetry.Business; m != nil {
			m.TokenRefreshes.WithLabelValues(providerCode, "failed").Inc()
		}
		return current, nil
	}
	if m := telemetry.Business; m != nil {
		m.TokenRefreshes.WithLabelValues(providerCode, "ok").Inc()
	}
	return refreshed, nil
}

func (s *PaymentsService) needsRefresh(account *domain.StorePaymentAccount) bool {
	if account.RefreshTokenEnc == "" || account.TokenExpiresAt == nil {
		return false
	}
	return account.TokenExpiresAt.Sub(s.now()) <= tokenRefreshMargin
}

func (s *PaymentsService) refreshAccountTokens(ctx context.Context, providerCode string, account *domain.StorePaymentAccount) (string, error) {
	entry, err := s.providerEntry(providerCode)
	if err != nil {
		return "", err
	}

	refreshPlain, err := s.encryptor.Decrypt(account.RefreshTokenEnc)
	if err != nil {
		return "", err
	}

	tokens, err := entry.Payments.RefreshTokens(ctx, string(refreshPlain))
	if err != nil {
		return "", err
	}

	accessEnc, err := s.encryptor.Encrypt([]byte(tokens.AccessToken))
	if err != nil {
		return "", err
	}
	refreshEnc := ""
	if tokens.RefreshToken != "" {
		refreshEnc, err = s.encryptor.Encrypt([]byte(tokens.RefreshToken))
		if err != nil {
			return "", err
		}
	}

	expiresAt := tokens.ExpiresAt
	if err := s.payments.UpdateAccountTokens(ctx, account.ID, accessEnc, refreshEnc, &expiresAt); err != nil {
		return "", err
	}
	return tokens.AccessToken, nil
}

// CheckoutInput describes one checkout creation request.
type CheckoutInput struct {
	TenantID       uuid.UUID
	OrderID        uuid.UUID
	Provider       string
	PayerEmail     string
	IdempotencyKey string

	// RequestBody is the raw request payload, hashed into the idempotency
	// ledger to detect key reuse with a different body.
	RequestBody []byte
}

// CheckoutOutput is either a fresh checkout session or a replayed outcome.
type CheckoutOutput struct {
	CheckoutID  string `json:"checkout_id"`
	CheckoutURL string `json:"checkout_url"`

	Replayed     bool   `json:"-"`
	ReplayStatus int    `json:"-"`
	ReplayBody   string `json:"-"`
}

// CreateCheckout creates a hosted checkout for an order under the protection
// of the idempotency ledger. The same key is forwarded to the provider so
// neither side can double-create a session.
func (s *PaymentsService) CreateCheckout(ctx context.Context, input CheckoutInput) (*CheckoutOutput, error) {
	const op = "payments.create_checkout"

	begin, err := s.ledger.Begin(ctx, input.TenantID, checkoutScope, input.IdempotencyKey, input.RequestBody)
	if err != nil {
		return nil, err
	}
	if begin.Replay {
		return &CheckoutOutput{Replayed: true, ReplayStatus: begin.Status, ReplayBody: begin.Body}, nil
	}

	output, err := s.createCheckoutLocked(ctx, input)
	if err != nil {
		s.ledger.Abandon(ctx, begin.Record)
		return nil, err
	}

	body, merr := json.Marshal(output)
	if merr != nil {
		s.logger.Error().Err(merr).Str("op", op).Msg("failed to marshal checkout outcome")
	} else {
		s.ledger.Complete(ctx, begin.Record, http.StatusCreated, string(body))
	}
	return output, nil
}

func (s *PaymentsService) createCheckoutLocked(ctx context.Context, input CheckoutInput) (*CheckoutOutput, error) {
	const op = "payments.create_checkout"

	entry, err := s.providerEntry(input.Provider)
	if err != nil {
		return nil, err
	}

	order, err := s.payments.GetOrder(ctx, input.TenantID, input.OrderID)
	if err != nil {
		return nil, err
	}
	if order.PaymentStatus == string(domain.PaymentPaid) {
		return nil, domain.Invalid(op, "order is already paid")
	}

	token, _, err := s.AccessToken(ctx, input.TenantID, input.Provider)
	if err != nil {
		return nil, err
	}

	checkout, err := entry.Payments.CreateCheckout(ctx, token, provider.CreateCheckoutParams{
		ExternalReference: order.ID.String(),
		Items: []provider.CheckoutItem{{
			Title:       fmt.Sprintf("Order %s", order.OrderNumber),
			Quantity:    1,
			AmountCents: order.TotalCents,
			Currency:    order.Currency,
		}},
		NotificationURL: fmt.Sprintf("%s/payments/webhooks/%s", s.backendURL, input.Provider),
		PayerEmail:      input.PayerEmail,
		IdempotencyKey:  input.IdempotencyKey,
	})
	if err != nil {
		return nil, err
	}

	if m := telemetry.Business; m != nil {
		m.CheckoutsCreated.WithLabelValues(input.Provider).Inc()
	}
	s.logger.Info().
		Str("tenant_id", input.TenantID.String()).
		Str("order_id", order.ID.String()).
		Str("checkout_id", checkout.ID).
		Msg("checkout created")

	return &CheckoutOutput{CheckoutID: checkout.ID, CheckoutURL: checkout.URL}, nil
}

// PaymentNotification is one inbound payment webhook, already
// signature-verified by the transport layer.
type PaymentNotification struct {
	Provider   string
	PaymentID  string
	MerchantID string // collector/user id from the notification, may be empty
	WebhookID  string // provider delivery id, used for dedup
}

// HandlePaymentNotification ingests one payment webhook: dedup, merchant
// resolution, authoritative fetch, local upsert and order status derivation.
// Redeliveries and unresolvable merchants return nil so the transport
// acknowledges them. A retryable failure releases the dedup row so the
// provider's redelivery is processed instead of dropped as a duplicate.
func (s *PaymentsService) HandlePaymentNotification(ctx context.Context, n PaymentNotification) error {
	const op = "payments.handle_notification"

	eventID := fmt.Sprintf("payment:%s:%s", n.PaymentID, n.WebhookID)
	fresh, err := s.payments.RecordPaymentEvent(ctx, domain.PaymentEvent{
		ID:         uuid.New(),
		Provider:   n.Provider,
		EventID:    eventID,
		EventType:  "payment",
		ResourceID: n.PaymentID,
	})
	if err != nil {
		return domain.WrapError(err, domain.EINTERNAL, op, "failed to record webhook event")
	}
	if !fresh {
		if m := telemetry.Business; m != nil {
			m.WebhookIgnored.WithLabelValues(n.Provider, "duplicate").Inc()
		}
		s.logger.Debug().Str("payment_id", n.PaymentID).Msg("duplicate payment webhook ignored")
		return nil
	}

	if err := s.ingestPaymentNotification(ctx, n); err != nil {
		s.releaseEvent(ctx, n.Provider, eventID)
		return err
	}
	return nil
}

func (s *PaymentsService) ingestPaymentNotification(ctx context.Context, n PaymentNotification) error {
	account, err := s.resolveAccount(ctx, n)
	if err != nil {
		if domain.IsCode(err, domain.ENOTFOUND) {
			if m := telemetry.Business; m != nil {
				m.WebhookIgnored.WithLabelValues(n.Provider, "unresolved_merchant").Inc()
			}
			s.logger.Warn().
				Str("payment_id", n.PaymentID).
				Str("merchant_id", n.MerchantID).
				Msg("payment webhook for unknown merchant ignored")
			return nil
		}
		return err
	}

	entry, err := s.providerEntry(n.Provider)
	if err != nil {
		return err
	}

	token, err := s.accessTokenForAccount(ctx, n.Provider, account)
	if err != nil {
		return err
	}

	resource, err := entry.Payments.GetPayment(ctx, token, n.PaymentID)
	if err != nil {
		return err
	}

	status := entry.Payments.MapPaymentStatus(resource.Status)

	// A payment with no external reference was created outside our checkout
	// flow and is ingested without an order. A reference that does not
	// resolve within the tenant is an error, not an orphan.
	orderID := uuid.Nil
	if parsed, perr := uuid.Parse(resource.ExternalReference); perr == nil {
		if _, oerr := s.payments.GetOrder(ctx, account.TenantID, parsed); oerr != nil {
			if domain.IsCode(oerr, domain.ENOTFOUND) {
				s.logger.Error().
					Str("tenant_id", account.TenantID.String()).
					Str("payment_id", n.PaymentID).
					Str("external_reference", resource.ExternalReference).
					Msg("payment references an order outside the resolved tenant")
				return domain.ErrOrderNotFound
			}
			return oerr
		}
		orderID = parsed
	}

	payment, err := s.payments.UpsertPayment(ctx, domain.UpsertPaymentParams{
		TenantID:    account.TenantID,
		OrderID:     orderID,
		Provider:    n.Provider,
		ExternalID:  resource.ID,
		Status:      status,
		AmountCents: resource.AmountCents,
		Currency:    resource.Currency,
		RawPayload:  resource.Raw,
	})
	if err != nil {
		return err
	}

	if orderID != uuid.Nil {
		if err := s.payments.SetOrderPaymentStatus(ctx, orderID, string(status)); err != nil {
			return err
		}
	}

	if m := telemetry.Business; m != nil {
		m.PaymentsIngested.WithLabelValues(n.Provider, string(status)).Inc()
	}
	s.logger.Info().
		Str("tenant_id", account.TenantID.String()).
		Str("payment_id", resource.ID).
		Str("status", string(status)).
		Msg("payment ingested")

	s.publisher.Publish(events.SubjectPaymentUpdated, account.TenantID, n.Provider, map[string]any{
		"payment_id": payment.ExternalID,
		"order_id":   orderID,
		"status":     status,
	})

	return nil
}

// releaseEvent deletes a dedup ledger row after a retryable failure so the
// provider's redelivery of the same event is processed again.
func (s *PaymentsService) releaseEvent(ctx context.Context, providerCode, eventID string) {
	if err := s.payments.DeletePaymentEvent(ctx, providerCode, eventID); err != nil {
		s.logger.Error().Err(err).
			Str("provider", providerCode).
			Str("event_id", eventID).
			Msg("failed to release webhook event")
	}
}

// resolveAccount finds the tenant account a notification belongs to. The
// merchant id on the notification is authoritative; when absent, an existing
// payment row for the same external id pins the tenant.
func (s *PaymentsService) resolveAccount(ctx context.Context, n PaymentNotification) (*domain.StorePaymentAccount, error) {
	if n.MerchantID != "" {
		return s.payments.GetAccountByMerchantID(ctx, n.Provider, n.MerchantID)
	}

	existing, err := s.payments.GetPaymentByExternalID(ctx, n.Provider, n.PaymentID)
	if err != nil {
		return nil, err
	}
	return s.payments.GetAccount(ctx, existing.TenantID, n.Provider)
}

func (s *PaymentsService) providerEntry(code string) (provider.Entry, error) {
	entry, ok := s.registry.Get(code)
	if !ok {
		return provider.Entry{}, domain.NotFound("payments.provider_entry", "payment provider", code)
	}
	return entry, nil
}

func (s *PaymentsService) encryptTokens(tenantID uuid.UUID, providerCode string, actorID uuid.UUID, tokens *provider.OAuthTokens) (*domain.UpsertAccountParams, error) {
	accessEnc, err := s.encryptor.Encrypt([]byte(tokens.AccessToken))
	if err != nil {
		return nil, err
	}

	refreshEnc := ""
	if tokens.RefreshToken != "" {
		refreshEnc, err = s.encryptor.Encrypt([]byte(tokens.RefreshToken))
		if err != nil {
			return nil, err
		}
	}

	var expiresAt *time.Time
	if !tokens.ExpiresAt.IsZero() {
		t := tokens.ExpiresAt
		expiresAt = &t
	}

	return &domain.UpsertAccountParams{
		TenantID:           tenantID,
		Provider:           providerCode,
		ExternalMerchantID: tokens.MerchantID,
		AccessTokenEnc:     accessEnc,
		RefreshTokenEnc:    refreshEnc,
		TokenExpiresAt:     expiresAt,
		ConnectedBy:        actorID,
	}, nil
}

func (s *PaymentsService) sealState(state oauthState) (string, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return "", err
	}
	return s.encryptor.Encrypt(raw)
}

func (s *PaymentsService) openState(blob string) (*oauthState, error) {
	raw, err := s.encryptor.Decrypt(blob)
	if err != nil {
		return nil, err
	}
	var state oauthState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, err
	}
	if state.TenantID == uuid.Nil || state.ActorID == uuid.Nil {
		return nil, domain.ErrInvalidOAuthState
	}
	return &state, nil
}
