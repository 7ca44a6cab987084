package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Tenant carries the denormalized billing snapshot read by the access gate.
// The snapshot is always derived from the authoritative Subscription row.
type Tenant struct {
	ID                    uuid.UUID
	Slug                  string
	Name                  string
	OwnerEmail            string
	BillingStatus         BillingStatus
	PlanCode              string
	PlanStartedAt         *time.Time
	PlanEndsAt            *time.Time
	CurrentSubscriptionID uuid.UUID
	PastDueOverride       bool
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// User is the minimal actor surface: OAuth state validation needs to check
// that the actor is still an admin of the tenant it claims.
type User struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	Email     string
	Role      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsAdmin reports whether the user administers its tenant.
func (u User) IsAdmin() bool {
	return u.Role == "admin"
}

// BillingSnapshot is the set of denormalized fields written onto the tenant
// record after every subscription change.
type BillingSnapshot struct {
	BillingStatus         BillingStatus
	PlanCode              string
	PlanStartedAt         *time.Time
	PlanEndsAt            *time.Time
	CurrentSubscriptionID uuid.UUID
}

// TenantStore is the persistence port for tenant and actor lookups.
type TenantStore interface {
	GetTenant(ctx context.Context, id uuid.UUID) (*Tenant, error)
	GetTenantBySlug(ctx context.Context, slug string) (*Tenant, error)
	GetTenantByOwnerEmail(ctx context.Context, email string) (*Tenant, error)
	UpdateBillingSnapshot(ctx context.Context, tenantID uuid.UUID, snapshot BillingSnapshot) error

	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	GetUserBySessionToken(ctx context.Context, token string) (*User, error)
}

// ErrTenantNotFound indicates the referenced tenant does not exist.
var ErrTenantNotFound = &Error{
	Code:    ENOTFOUND,
	Message: "Store not found",
}
