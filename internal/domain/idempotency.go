package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// IdempotencyRecord is one (tenant, scope, key) ledger row. The unique
// constraint on that triple is the sole synchronization primitive for
// concurrent identical requests.
type IdempotencyRecord struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	Scope          string
	Key            string
	RequestHash    string
	ResponseStatus int    // 0 until completed
	ResponseBody   string // empty until completed
	ExpiresAt      time.Time
	CreatedAt      time.Time
}

// Completed reports whether an outcome has been persisted for replay.
func (r IdempotencyRecord) Completed() bool {
	return r.ResponseStatus != 0
}

// Expired reports whether the record is past its TTL at the given instant.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// IdempotencyStore is the persistence port for the idempotency ledger.
type IdempotencyStore interface {
	// InsertRecord inserts a new ledger row. Returns (nil, false, nil) when the
	// unique constraint fired, meaning a competing row already exists.
	InsertRecord(ctx context.Context, record IdempotencyRecord) (*IdempotencyRecord, bool, error)

	GetRecord(ctx context.Context, tenantID uuid.UUID, scope, key string) (*IdempotencyRecord, error)
	DeleteRecord(ctx context.Context, id uuid.UUID) error
	CompleteRecord(ctx context.Context, id uuid.UUID, status int, body string) error
}
