package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/farelis/tiendra/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PaymentsStore implements domain.PaymentsStore using PostgreSQL.
type PaymentsStore struct {
	pool *pgxpool.Pool
}

var _ domain.PaymentsStore = (*PaymentsStore)(nil)

// NewPaymentsStore creates a new PaymentsStore instance.
func NewPaymentsStore(pool *pgxpool.Pool) *PaymentsStore {
	return &PaymentsStore{pool: pool}
}

const accountColumns = `id, tenant_id, provider, external_merchant_id, access_token_enc,
	COALESCE(refresh_token_enc, ''), token_expires_at,
	COALESCE(connected_by, '00000000-0000-0000-0000-000000000000'::uuid),
	created_at, updated_at`

const paymentColumns = `id, tenant_id, COALESCE(order_id, '00000000-0000-0000-0000-000000000000'::uuid),
	provider, external_id, status, amount_cents, currency, COALESCE(raw_payload, ''), created_at, updated_at`

// GetAccount returns the tenant's payment account for one provider.
func (s *PaymentsStore) GetAccount(ctx context.Context, tenantID uuid.UUID, provider string) (*domain.StorePaymentAccount, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM store_payment_accounts
		 WHERE tenant_id = $1 AND provider = $2`, tenantID, provider)

	acct, err := scanAccount(row)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrAccountNotConnected
		}
		return nil, fmt.Errorf("failed to get payment account: %w", err)
	}
	return acct, nil
}

// GetAccountByMerchantID resolves an account from the provider-side merchant
// id carried in webhook payloads.
func (s *PaymentsStore) GetAccountByMerchantID(ctx context.Context, provider, merchantID string) (*domain.StorePaymentAccount, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM store_payment_accounts
		 WHERE provider = $1 AND external_merchant_id = $2`, provider, merchantID)

	acct, err := scanAccount(row)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrAccountNotConnected
		}
		return nil, fmt.Errorf("failed to get payment account by merchant: %w", err)
	}
	return acct, nil
}

// UpsertAccount inserts or replaces the tenant's account for the provider.
// The (tenant_id, provider) unique constraint keeps at most one active
// account per pair.
func (s *PaymentsStore) UpsertAccount(ctx context.Context, params domain.UpsertAccountParams) (*domain.StorePaymentAccount, error) {
	var connectedBy any
	if params.ConnectedBy != uuid.Nil {
		connectedBy = params.ConnectedBy
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO store_payment_accounts
			(tenant_id, provider, external_merchant_id, access_token_enc, refresh_token_enc,
			 token_expires_at, connected_by)
		 VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)
		 ON CONFLICT (tenant_id, provider) DO UPDATE SET
			external_merchant_id = EXCLUDED.external_merchant_id,
			access_token_enc = EXCLUDED.access_token_enc,
			refresh_token_enc = EXCLUDED.refresh_token_enc,
			token_expires_at = EXCLUDED.token_expires_at,
			connected_by = EXCLUDED.connected_by,
			updated_at = now()
		 RETURNING `+accountColumns,
		params.TenantID, params.Provider, params.ExternalMerchantID, params.AccessTokenEnc,
		params.RefreshTokenEnc, params.TokenExpiresAt, connectedBy)

	acct, err := scanAccount(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert payment account: %w", err)
	}
	return acct, nil
}

// UpdateAccountTokens persists a refreshed token pair. Last write wins when
// two refreshes race; both resulting tokens are valid.
func (s *PaymentsStore) UpdateAccountTokens(ctx context.Context, accountID uuid.UUID, accessTokenEnc, refreshTokenEnc string, expiresAt *time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE store_payment_accounts
		 SET access_token_enc = $2, refresh_token_enc = NULLIF($3, ''), token_expires_at = $4, updated_at = now()
		 WHERE id = $1`,
		accountID, accessTokenEnc, refreshTokenEnc, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to update account tokens: %w", err)
	}
	return nil
}

// GetPaymentByExternalID returns the payment keyed by (provider, external id).
func (s *PaymentsStore) GetPaymentByExternalID(ctx context.Context, provider, externalID string) (*domain.Payment, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments
		 WHERE provider = $1 AND external_id = $2`, provider, externalID)

	p, err := scanPayment(row)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.NotFound("payments.get_payment", "payment", externalID)
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return p, nil
}

// UpsertPayment inserts or updates the row keyed by (provider, external_id).
// Duplicate webhook delivery collapses into a single row.
func (s *PaymentsStore) UpsertPayment(ctx context.Context, params domain.UpsertPaymentParams) (*domain.Payment, error) {
	var orderID any
	if params.OrderID != uuid.Nil {
		orderID = params.OrderID
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO payments
			(tenant_id, order_id, provider, external_id, status, amount_cents, currency, raw_payload)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (provider, external_id) DO UPDATE SET
			status = EXCLUDED.status,
			amount_cents = EXCLUDED.amount_cents,
			currency = EXCLUDED.currency,
			raw_payload = EXCLUDED.raw_payload,
			updated_at = now()
		 RETURNING `+paymentColumns,
		params.TenantID, orderID, params.Provider, params.ExternalID, params.Status,
		params.AmountCents, params.Currency, params.RawPayload)

	p, err := scanPayment(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert payment: %w", err)
	}
	return p, nil
}

// RecordPaymentEvent inserts into the webhook dedup ledger. Returns false
// when the (provider, event_id) pair was already recorded, short-circuiting
// reprocessing of the identical physical event.
func (s *PaymentsStore) RecordPaymentEvent(ctx context.Context, event domain.PaymentEvent) (bool, error) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO payment_events (provider, event_id, event_type, resource_id)
		 VALUES ($1, $2, $3, $4)`,
		event.Provider, event.EventID, event.EventType, event.ResourceID)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to record payment event: %w", err)
	}
	return true, nil
}

// DeletePaymentEvent releases a dedup row after a retryable processing
// failure, letting the provider's redelivery through.
func (s *PaymentsStore) DeletePaymentEvent(ctx context.Context, provider, eventID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM payment_events WHERE provider = $1 AND event_id = $2`,
		provider, eventID)
	if err != nil {
		return fmt.Errorf("failed to delete payment event: %w", err)
	}
	return nil
}

// GetOrder returns an order scoped to a tenant.
func (s *PaymentsStore) GetOrder(ctx context.Context, tenantID, orderID uuid.UUID) (*domain.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, order_number, total_cents, currency, status, payment_status, created_at, updated_at
		 FROM orders WHERE id = $1 AND tenant_id = $2`, orderID, tenantID)

	var o domain.Order
	err := row.Scan(&o.ID, &o.TenantID, &o.OrderNumber, &o.TotalCents, &o.Currency,
		&o.Status, &o.PaymentStatus, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return &o, nil
}

// SetOrderPaymentStatus updates the order's derived payment status.
func (s *PaymentsStore) SetOrderPaymentStatus(ctx context.Context, orderID uuid.UUID, paymentStatus string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE orders SET payment_status = $2, updated_at = now() WHERE id = $1`,
		orderID, paymentStatus)
	if err != nil {
		return fmt.Errorf("failed to set order payment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func scanAccount(row rowScanner) (*domain.StorePaymentAccount, error) {
	var acct domain.StorePaymentAccount
	err := row.Scan(&acct.ID, &acct.TenantID, &acct.Provider, &acct.ExternalMerchantID,
		&acct.AccessTokenEnc, &acct.RefreshTokenEnc, &acct.TokenExpiresAt, &acct.ConnectedBy,
		&acct.CreatedAt, &acct.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

func scanPayment(row rowScanner) (*domain.Payment, error) {
	var p domain.Payment
	err := row.Scan(&p.ID, &p.TenantID, &p.OrderID, &p.Provider, &p.ExternalID, &p.Status,
		&p.AmountCents, &p.Currency, &p.RawPayload, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
