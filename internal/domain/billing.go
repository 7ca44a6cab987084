package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// BillingStatus is the internal billing state vocabulary. Provider statuses
// are translated into these values by the provider status mapper and never
// stored raw.
type BillingStatus string

const (
	BillingActive   BillingStatus = "ACTIVE"
	BillingTrialing BillingStatus = "TRIALING"
	BillingPastDue  BillingStatus = "PAST_DUE"
	BillingCanceled BillingStatus = "CANCELED"
	BillingExpired  BillingStatus = "EXPIRED"
	BillingInactive BillingStatus = "INACTIVE"
)

// Plan is a catalog plan definition. Mutated by an administrative surface
// outside this core; read-heavy here.
type Plan struct {
	ID              uuid.UUID
	Code            string
	Name            string
	PriceCents      int64
	Currency        string
	BillingInterval string
	TrialDays       int32
	ExternalPlanID  string // provider-side preapproval plan id, empty until synced
	Active          bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Free reports whether the plan is the zero-cost tier. Free plans never go
// through the provider.
func (p Plan) Free() bool {
	return p.PriceCents <= 0
}

// Subscription is one tenant's recurring-billing relationship, keyed
// externally by the provider subscription id.
type Subscription struct {
	ID                 uuid.UUID
	TenantID           uuid.UUID
	PlanID             uuid.UUID
	ExternalID         string
	Status             BillingStatus
	PayerEmail         string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  bool
	RawPayload         string // opaque provider snapshot, audit only
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// SubscriptionEvent is one entry of the append-only lifecycle audit trail.
type SubscriptionEvent struct {
	ID             uuid.UUID
	SubscriptionID uuid.UUID
	TenantID       uuid.UUID
	EventType      string
	Payload        string
	CreatedAt      time.Time
}

// Subscription event types recorded by the billing service.
const (
	SubscriptionEventCreated     = "created"
	SubscriptionEventWebhook     = "webhook_received"
	SubscriptionEventPlanChanged = "plan_changed"
	SubscriptionEventSynced      = "synced"
)

// UpsertSubscriptionParams carries the provider-derived state written on every
// webhook and sync pass. The row is keyed by ExternalID.
type UpsertSubscriptionParams struct {
	TenantID           uuid.UUID
	PlanID             uuid.UUID
	ExternalID         string
	Status             BillingStatus
	PayerEmail         string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  bool
	RawPayload         string
}

// BillingStore is the persistence port for the billing bounded context.
type BillingStore interface {
	GetPlanByCode(ctx context.Context, code string) (*Plan, error)
	ListActivePlans(ctx context.Context) ([]Plan, error)
	SetPlanExternalID(ctx context.Context, planID uuid.UUID, externalPlanID string) error

	GetSubscriptionByExternalID(ctx context.Context, externalID string) (*Subscription, error)
	GetActiveSubscriptionForTenant(ctx context.Context, tenantID uuid.UUID) (*Subscription, error)
	UpsertSubscription(ctx context.Context, params UpsertSubscriptionParams) (*Subscription, error)

	RecordSubscriptionEvent(ctx context.Context, event SubscriptionEvent) error
}

// Predefined billing-domain errors. The set is closed: the transport layer
// maps these codes to HTTP statuses and log levels.
var (
	ErrPlanNotFound = &Error{
		Code:    ENOTFOUND,
		Message: "Plan not found",
	}

	ErrPlanInactive = &Error{
		Code:    EINVALID,
		Message: "Plan is not active",
	}

	ErrFreePlanNotBillable = &Error{
		Code:    EINVALID,
		Message: "The free tier does not go through the payment provider",
	}

	ErrNoActiveSubscription = &Error{
		Code:    ENOTFOUND,
		Message: "No active subscription for this store",
	}

	ErrSubscriptionTenantUnresolved = &Error{
		Code:    EWEBHOOK,
		Message: "Could not resolve the store this subscription belongs to",
	}

	ErrUnknownWebhookTopic = &Error{
		Code:    EWEBHOOK,
		Message: "Unrecognized webhook topic",
	}
)
