package provider

import (
	"context"
	"time"

	"github.com/farelis/tiendra/internal/domain"
)

// PaymentProvider is the seam for merchant-account linking, checkout creation
// and payment lookup. The MercadoPago client is the only implementation today;
// a second provider plugs in through the registry without touching the
// services.
type PaymentProvider interface {
	// AuthorizeURL builds the OAuth authorize redirect carrying the opaque
	// state blob produced by the payments service.
	AuthorizeURL(state string) (string, error)

	// ExchangeCode trades an authorization code for merchant tokens.
	ExchangeCode(ctx context.Context, code string) (*OAuthTokens, error)

	// RefreshTokens trades a refresh token for a fresh token pair.
	RefreshTokens(ctx context.Context, refreshToken string) (*OAuthTokens, error)

	// CreateCheckout creates a hosted checkout session on the merchant's
	// account. The idempotency key is forwarded to the provider so its own
	// retries cannot create duplicate sessions.
	CreateCheckout(ctx context.Context, accessToken string, params CreateCheckoutParams) (*Checkout, error)

	// GetPayment fetches the full payment resource.
	GetPayment(ctx context.Context, accessToken, paymentID string) (*PaymentResource, error)

	// MapPaymentStatus translates the provider payment vocabulary into the
	// internal one. Total: unknown input maps to PENDING.
	MapPaymentStatus(status string) domain.PaymentStatus
}

// SubscriptionProvider is the seam for preapproval-based recurring billing.
type SubscriptionProvider interface {
	// CreatePreapproval creates a provider subscription directly; the payer
	// completes authorization at the returned init point.
	CreatePreapproval(ctx context.Context, params CreatePreapprovalParams) (*PreapprovalResource, error)

	// GetPreapproval fetches the authoritative subscription snapshot.
	GetPreapproval(ctx context.Context, id string) (*PreapprovalResource, error)

	// SearchPreapprovals lists all provider subscriptions in one status bucket.
	SearchPreapprovals(ctx context.Context, status string) ([]PreapprovalResource, error)

	// UpdatePreapprovalAmount changes only the recurring amount/currency; the
	// provider-side plan identity is never swapped.
	UpdatePreapprovalAmount(ctx context.Context, id string, amountCents int64, currency string) (*PreapprovalResource, error)

	// EnsurePlan creates a provider-side preapproval plan for the local plan
	// if none exists yet, returning the external plan id.
	EnsurePlan(ctx context.Context, plan domain.Plan) (string, error)

	// PlanCheckoutURL builds the hosted checkout URL for a pre-registered
	// provider plan, carrying tenant reference and payer email.
	PlanCheckoutURL(externalPlanID, externalReference, payerEmail string) string

	// MapStatus translates the provider subscription vocabulary into the
	// internal one. Total: unknown input maps to INACTIVE.
	MapStatus(status string) domain.BillingStatus
}

// WebhookVerifier validates authenticity of inbound webhook calls.
type WebhookVerifier interface {
	// Verify checks the timestamped HMAC signature header against the
	// configured shared secret. Passes unconditionally when no secret is
	// configured.
	Verify(signatureHeader, requestID, resourceID string) bool
}

// OAuthTokens is the result of a code exchange or refresh.
type OAuthTokens struct {
	AccessToken  string
	RefreshToken string
	MerchantID   string
	ExpiresAt    time.Time
	Scope        string
}

// CheckoutItem is one line of a checkout session.
type CheckoutItem struct {
	Title       string
	Quantity    int64
	AmountCents int64
	Currency    string
}

// CreateCheckoutParams contains parameters for creating a checkout session.
type CreateCheckoutParams struct {
	ExternalReference string
	Items             []CheckoutItem
	NotificationURL   string
	PayerEmail        string
	IdempotencyKey    string
}

// Checkout is a created checkout session.
type Checkout struct {
	ID                string
	URL               string
	ExternalReference string
}

// PaymentResource is the provider's payment snapshot.
type PaymentResource struct {
	ID                string
	Status            string
	AmountCents       int64
	Currency          string
	ExternalReference string
	MerchantID        string
	PayerEmail        string
	Raw               string
}

// CreatePreapprovalParams contains parameters for creating a subscription.
type CreatePreapprovalParams struct {
	Reason            string
	ExternalReference string
	PayerEmail        string
	AmountCents       int64
	Currency          string
	Frequency         int
	FrequencyType     string // "months"
	BackURL           string
}

// PreapprovalResource is the provider's subscription snapshot.
type PreapprovalResource struct {
	ID                string
	Status            string
	ExternalReference string
	PayerEmail        string
	AmountCents       int64
	Currency          string
	InitPoint         string
	NextPaymentDate   *time.Time
	StartDate         *time.Time
	EndDate           *time.Time
	Raw               string
}
