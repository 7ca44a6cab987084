package postgres

import (
	"context"
	"fmt"

	"github.com/farelis/tiendra/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TenantStore implements domain.TenantStore using PostgreSQL.
type TenantStore struct {
	pool *pgxpool.Pool
}

var _ domain.TenantStore = (*TenantStore)(nil)

// NewTenantStore creates a new TenantStore instance.
func NewTenantStore(pool *pgxpool.Pool) *TenantStore {
	return &TenantStore{pool: pool}
}

const tenantColumns = `id, slug, name, owner_email, billing_status, COALESCE(plan_code, ''),
	plan_started_at, plan_ends_at,
	COALESCE(current_subscription_id, '00000000-0000-0000-0000-000000000000'::uuid),
	past_due_override, created_at, updated_at`

// GetTenant returns a tenant by id.
func (s *TenantStore) GetTenant(ctx context.Context, id uuid.UUID) (*domain.Tenant, error) {
	return s.getTenant(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id)
}

// GetTenantBySlug returns a tenant by its slug.
func (s *TenantStore) GetTenantBySlug(ctx context.Context, slug string) (*domain.Tenant, error) {
	return s.getTenant(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE slug = $1`, slug)
}

// GetTenantByOwnerEmail resolves a tenant from its owner's email. Used as the
// last-resort webhook resolution heuristic when the provider's
// external-reference field is absent.
func (s *TenantStore) GetTenantByOwnerEmail(ctx context.Context, email string) (*domain.Tenant, error) {
	return s.getTenant(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE owner_email = $1 LIMIT 1`, email)
}

func (s *TenantStore) getTenant(ctx context.Context, query string, arg any) (*domain.Tenant, error) {
	row := s.pool.QueryRow(ctx, query, arg)

	var t domain.Tenant
	err := row.Scan(&t.ID, &t.Slug, &t.Name, &t.OwnerEmail, &t.BillingStatus, &t.PlanCode,
		&t.PlanStartedAt, &t.PlanEndsAt, &t.CurrentSubscriptionID, &t.PastDueOverride,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrTenantNotFound
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return &t, nil
}

// UpdateBillingSnapshot writes the denormalized billing fields derived from
// the authoritative subscription row. Idempotent by construction.
func (s *TenantStore) UpdateBillingSnapshot(ctx context.Context, tenantID uuid.UUID, snapshot domain.BillingSnapshot) error {
	var subID any
	if snapshot.CurrentSubscriptionID != uuid.Nil {
		subID = snapshot.CurrentSubscriptionID
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE tenants SET
			billing_status = $2,
			plan_code = NULLIF($3, ''),
			plan_started_at = $4,
			plan_ends_at = $5,
			current_subscription_id = $6,
			updated_at = now()
		 WHERE id = $1`,
		tenantID, snapshot.BillingStatus, snapshot.PlanCode,
		snapshot.PlanStartedAt, snapshot.PlanEndsAt, subID)
	if err != nil {
		return fmt.Errorf("failed to update billing snapshot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTenantNotFound
	}
	return nil
}

// GetUser returns a user by id.
func (s *TenantStore) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, email, role, created_at, updated_at FROM users WHERE id = $1`, id)

	var u domain.User
	err := row.Scan(&u.ID, &u.TenantID, &u.Email, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.NotFound("tenant.get_user", "user", id.String())
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// GetUserBySessionToken resolves the authenticated actor for admin requests.
func (s *TenantStore) GetUserBySessionToken(ctx context.Context, token string) (*domain.User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, email, role, created_at, updated_at
		 FROM users WHERE session_token = $1`, token)

	var u domain.User
	err := row.Scan(&u.ID, &u.TenantID, &u.Email, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.Unauthorized("tenant.get_user_by_session", "invalid session")
		}
		return nil, fmt.Errorf("failed to get user by session: %w", err)
	}
	return &u, nil
}
