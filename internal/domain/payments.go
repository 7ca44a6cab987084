package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// PaymentStatus is the internal payment state vocabulary.
type PaymentStatus string

const (
	PaymentPaid      PaymentStatus = "PAID"
	PaymentPending   PaymentStatus = "PENDING"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentRefunded  PaymentStatus = "REFUNDED"
	PaymentCancelled PaymentStatus = "CANCELLED"
)

// StorePaymentAccount links a tenant to its provider-side merchant account.
// Tokens are stored encrypted by the credential vault; at most one active
// account exists per (tenant, provider).
type StorePaymentAccount struct {
	ID                 uuid.UUID
	TenantID           uuid.UUID
	Provider           string
	ExternalMerchantID string
	AccessTokenEnc     string
	RefreshTokenEnc    string
	TokenExpiresAt     *time.Time
	ConnectedBy        uuid.UUID
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Payment is one provider payment, unique per (provider, external id).
// Created and updated only by webhook processing.
type Payment struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	OrderID     uuid.UUID
	Provider    string
	ExternalID  string
	Status      PaymentStatus
	AmountCents int64
	Currency    string
	RawPayload  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PaymentEvent is the webhook dedup ledger row. EventID is a deterministic
// composite of (event type, resource id, provider delivery id) so redeliveries
// collide on the (provider, event_id) unique constraint.
type PaymentEvent struct {
	ID         uuid.UUID
	Provider   string
	EventID    string
	EventType  string
	ResourceID string
	CreatedAt  time.Time
}

// Order is the narrow order surface this core needs: payment-status
// derivation and tenant ownership checks. Order management itself lives
// outside the integration core.
type Order struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	OrderNumber   string
	TotalCents    int64
	Currency      string
	Status        string
	PaymentStatus string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// UpsertPaymentParams carries provider payment state. Keyed by
// (Provider, ExternalID).
type UpsertPaymentParams struct {
	TenantID    uuid.UUID
	OrderID     uuid.UUID
	Provider    string
	ExternalID  string
	Status      PaymentStatus
	AmountCents int64
	Currency    string
	RawPayload  string
}

// UpsertAccountParams carries freshly exchanged or refreshed OAuth tokens,
// already encrypted. Keyed by (TenantID, Provider).
type UpsertAccountParams struct {
	TenantID           uuid.UUID
	Provider           string
	ExternalMerchantID string
	AccessTokenEnc     string
	RefreshTokenEnc    string
	TokenExpiresAt     *time.Time
	ConnectedBy        uuid.UUID
}

// PaymentsStore is the persistence port for the payments bounded context.
type PaymentsStore interface {
	GetAccount(ctx context.Context, tenantID uuid.UUID, provider string) (*StorePaymentAccount, error)
	GetAccountByMerchantID(ctx context.Context, provider, merchantID string) (*StorePaymentAccount, error)
	UpsertAccount(ctx context.Context, params UpsertAccountParams) (*StorePaymentAccount, error)
	UpdateAccountTokens(ctx context.Context, accountID uuid.UUID, accessTokenEnc, refreshTokenEnc string, expiresAt *time.Time) error

	GetPaymentByExternalID(ctx context.Context, provider, externalID string) (*Payment, error)
	UpsertPayment(ctx context.Context, params UpsertPaymentParams) (*Payment, error)

	// RecordPaymentEvent inserts into the webhook dedup ledger. Returns
	// (false, nil) when the event was already recorded.
	RecordPaymentEvent(ctx context.Context, event PaymentEvent) (bool, error)

	// DeletePaymentEvent releases a dedup ledger row so a redelivery of the
	// same event is processed instead of dropped.
	DeletePaymentEvent(ctx context.Context, provider, eventID string) error

	GetOrder(ctx context.Context, tenantID, orderID uuid.UUID) (*Order, error)
	SetOrderPaymentStatus(ctx context.Context, orderID uuid.UUID, paymentStatus string) error
}

// Predefined payment-domain errors.
var (
	ErrAccountNotConnected = &Error{
		Code:    ENOTFOUND,
		Message: "No payment account connected for this store",
	}

	ErrOrderNotFound = &Error{
		Code:    ENOTFOUND,
		Message: "Order not found for this store",
	}

	ErrInvalidOAuthState = &Error{
		Code:    EINVALID,
		Message: "OAuth state is invalid or expired",
	}

	ErrIdempotencyConflict = &Error{
		Code:    ECONFLICT,
		Message: "Idempotency key was already used with a different request body",
	}

	ErrIdempotencyInFlight = &Error{
		Code:    ECONFLICT,
		Message: "A request with this idempotency key is already being processed",
	}

	ErrMissingProviderCredentials = &Error{
		Code:    ECONFIG,
		Message: "Payment provider credentials are not configured",
	}
)
