package postgres

import (
	"context"
	"fmt"

	"github.com/farelis/tiendra/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// BillingStore implements domain.BillingStore using PostgreSQL.
type BillingStore struct {
	pool *pgxpool.Pool
}

// Compile-time check to ensure BillingStore implements domain.BillingStore.
var _ domain.BillingStore = (*BillingStore)(nil)

// NewBillingStore creates a new BillingStore instance.
func NewBillingStore(pool *pgxpool.Pool) *BillingStore {
	return &BillingStore{pool: pool}
}

const planColumns = `id, code, name, price_cents, currency, billing_interval, trial_days,
	COALESCE(external_plan_id, ''), active, created_at, updated_at`

const subscriptionColumns = `id, tenant_id, plan_id, external_id, status, COALESCE(payer_email, ''),
	current_period_start, current_period_end, cancel_at_period_end, COALESCE(raw_payload, ''),
	created_at, updated_at`

// GetPlanByCode returns the plan with the given code.
func (s *BillingStore) GetPlanByCode(ctx context.Context, code string) (*domain.Plan, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+planColumns+` FROM plans WHERE code = $1`, code)

	var p domain.Plan
	err := row.Scan(&p.ID, &p.Code, &p.Name, &p.PriceCents, &p.Currency, &p.BillingInterval,
		&p.TrialDays, &p.ExternalPlanID, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrPlanNotFound
		}
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	return &p, nil
}

// ListActivePlans returns all active plans.
func (s *BillingStore) ListActivePlans(ctx context.Context) ([]domain.Plan, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+planColumns+` FROM plans WHERE active ORDER BY price_cents`)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	var plans []domain.Plan
	for rows.Next() {
		var p domain.Plan
		if err := rows.Scan(&p.ID, &p.Code, &p.Name, &p.PriceCents, &p.Currency, &p.BillingInterval,
			&p.TrialDays, &p.ExternalPlanID, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

// SetPlanExternalID persists the provider-side preapproval plan id.
func (s *BillingStore) SetPlanExternalID(ctx context.Context, planID uuid.UUID, externalPlanID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE plans SET external_plan_id = $2, updated_at = now() WHERE id = $1`,
		planID, externalPlanID)
	if err != nil {
		return fmt.Errorf("failed to set plan external id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPlanNotFound
	}
	return nil
}

// GetSubscriptionByExternalID returns the subscription keyed by the provider
// subscription id.
func (s *BillingStore) GetSubscriptionByExternalID(ctx context.Context, externalID string) (*domain.Subscription, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE external_id = $1`, externalID)

	sub, err := scanSubscription(row)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrNoActiveSubscription
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

// GetActiveSubscriptionForTenant returns the tenant's most recent
// not-yet-terminal subscription.
func (s *BillingStore) GetActiveSubscriptionForTenant(ctx context.Context, tenantID uuid.UUID) (*domain.Subscription, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE tenant_id = $1 AND status IN ('ACTIVE', 'TRIALING', 'PAST_DUE')
		 ORDER BY updated_at DESC LIMIT 1`, tenantID)

	sub, err := scanSubscription(row)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrNoActiveSubscription
		}
		return nil, fmt.Errorf("failed to get active subscription: %w", err)
	}
	return sub, nil
}

// UpsertSubscription inserts or updates the row keyed by external_id. The
// unique constraint makes duplicate webhook delivery collapse into one row
// regardless of delivery order.
func (s *BillingStore) UpsertSubscription(ctx context.Context, params domain.UpsertSubscriptionParams) (*domain.Subscription, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO subscriptions
			(tenant_id, plan_id, external_id, status, payer_email,
			 current_period_start, current_period_end, cancel_at_period_end, raw_payload)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (external_id) DO UPDATE SET
			plan_id = EXCLUDED.plan_id,
			status = EXCLUDED.status,
			payer_email = EXCLUDED.payer_email,
			current_period_start = COALESCE(EXCLUDED.current_period_start, subscriptions.current_period_start),
			current_period_end = COALESCE(EXCLUDED.current_period_end, subscriptions.current_period_end),
			cancel_at_period_end = EXCLUDED.cancel_at_period_end,
			raw_payload = EXCLUDED.raw_payload,
			updated_at = now()
		 RETURNING `+subscriptionColumns,
		params.TenantID, params.PlanID, params.ExternalID, params.Status, params.PayerEmail,
		params.CurrentPeriodStart, params.CurrentPeriodEnd, params.CancelAtPeriodEnd, params.RawPayload)

	sub, err := scanSubscription(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return sub, nil
}

// RecordSubscriptionEvent appends one audit trail entry.
func (s *BillingStore) RecordSubscriptionEvent(ctx context.Context, event domain.SubscriptionEvent) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO subscription_events (subscription_id, tenant_id, event_type, payload)
		 VALUES ($1, $2, $3, $4)`,
		event.SubscriptionID, event.TenantID, event.EventType, event.Payload)
	if err != nil {
		return fmt.Errorf("failed to record subscription event: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := row.Scan(&sub.ID, &sub.TenantID, &sub.PlanID, &sub.ExternalID, &sub.Status,
		&sub.PayerEmail, &sub.CurrentPeriodStart, &sub.CurrentPeriodEnd,
		&sub.CancelAtPeriodEnd, &sub.RawPayload, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}
