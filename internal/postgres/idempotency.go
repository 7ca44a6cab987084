package postgres

import (
	"context"
	"fmt"

	"github.com/farelis/tiendra/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// IdempotencyStore implements domain.IdempotencyStore using PostgreSQL.
type IdempotencyStore struct {
	pool *pgxpool.Pool
}

var _ domain.IdempotencyStore = (*IdempotencyStore)(nil)

// NewIdempotencyStore creates a new IdempotencyStore instance.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool}
}

// InsertRecord inserts a fresh ledger row. When the (tenant_id, scope, key)
// unique constraint fires it returns (nil, false, nil): the caller lost the
// race and must re-read the winning row.
func (s *IdempotencyStore) InsertRecord(ctx context.Context, record domain.IdempotencyRecord) (*domain.IdempotencyRecord, bool, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO idempotency_keys (id, tenant_id, scope, key, request_hash, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, tenant_id, scope, key, request_hash,
		           COALESCE(response_status, 0), COALESCE(response_body, ''),
		           expires_at, created_at`,
		record.ID, record.TenantID, record.Scope, record.Key, record.RequestHash, record.ExpiresAt)

	var out domain.IdempotencyRecord
	err := row.Scan(&out.ID, &out.TenantID, &out.Scope, &out.Key, &out.RequestHash,
		&out.ResponseStatus, &out.ResponseBody, &out.ExpiresAt, &out.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to insert idempotency record: %w", err)
	}
	return &out, true, nil
}

// GetRecord returns the ledger row for the key, or ENOTFOUND.
func (s *IdempotencyStore) GetRecord(ctx context.Context, tenantID uuid.UUID, scope, key string) (*domain.IdempotencyRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, scope, key, request_hash,
		        COALESCE(response_status, 0), COALESCE(response_body, ''),
		        expires_at, created_at
		 FROM idempotency_keys
		 WHERE tenant_id = $1 AND scope = $2 AND key = $3`,
		tenantID, scope, key)

	var out domain.IdempotencyRecord
	err := row.Scan(&out.ID, &out.TenantID, &out.Scope, &out.Key, &out.RequestHash,
		&out.ResponseStatus, &out.ResponseBody, &out.ExpiresAt, &out.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.NotFound("idempotency.get_record", "idempotency key", key)
		}
		return nil, fmt.Errorf("failed to get idempotency record: %w", err)
	}
	return &out, nil
}

// DeleteRecord removes an expired row so the key can be reused.
func (s *IdempotencyStore) DeleteRecord(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete idempotency record: %w", err)
	}
	return nil
}

// CompleteRecord persists the outcome of the guarded operation for replay.
func (s *IdempotencyStore) CompleteRecord(ctx context.Context, id uuid.UUID, status int, body string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE idempotency_keys SET response_status = $2, response_body = $3 WHERE id = $1`,
		id, status, body)
	if err != nil {
		return fmt.Errorf("failed to complete idempotency record: %w", err)
	}
	return nil
}
