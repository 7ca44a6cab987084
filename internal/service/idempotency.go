package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/farelis/tiendra/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// idempotencyTTL bounds how long a key reserves its outcome for replay.
const idempotencyTTL = 24 * time.Hour

// IdempotencyService implements the request idempotency ledger. A key is
// claimed by inserting a row under the (tenant, scope, key) unique constraint;
// the loser of a concurrent insert re-reads the winner's row and either
// replays its stored outcome or reports the request as in flight.
type IdempotencyService struct {
	store  domain.IdempotencyStore
	logger zerolog.Logger
	now    func() time.Time
}

// NewIdempotencyService creates the ledger service.
func NewIdempotencyService(store domain.IdempotencyStore, logger zerolog.Logger) *IdempotencyService {
	return &IdempotencyService{
		store:  store,
		logger: logger.With().Str("component", "idempotency").Logger(),
		now:    time.Now,
	}
}

// BeginResult is the outcome of claiming an idempotency key.
type BeginResult struct {
	// Record is the ledger row owned by this request. Set only when Replay is
	// false; the caller must Complete it after the guarded operation.
	Record *domain.IdempotencyRecord

	// Replay indicates the key already completed with an identical request
	// body. Status and Body carry the stored outcome to return verbatim.
	Replay bool
	Status int
	Body   string
}

// Begin claims the key for the given request body. It returns
// ErrIdempotencyConflict when the key was used with a different body and
// ErrIdempotencyInFlight when an identical request is still running.
func (s *IdempotencyService) Begin(ctx context.Context, tenantID uuid.UUID, scope, key string, requestBody []byte) (*BeginResult, error) {
	hash := hashRequestBody(requestBody)

	// One retry covers the expired-row case: delete then re-insert.
	for attempt := 0; attempt < 2; attempt++ {
		record := domain.IdempotencyRecord{
			ID:          uuid.New(),
			TenantID:    tenantID,
			Scope:       scope,
			Key:         key,
			RequestHash: hash,
			ExpiresAt:   s.now().Add(idempotencyTTL),
		}

		inserted, ok, err := s.store.InsertRecord(ctx, record)
		if err != nil {
			return nil, domain.WrapError(err, domain.EINTERNAL, "idempotency.begin", "failed to claim idempotency key")
		}
		if ok {
			return &BeginResult{Record: inserted}, nil
		}

		existing, err := s.store.GetRecord(ctx, tenantID, scope, key)
		if err != nil {
			if domain.IsCode(err, domain.ENOTFOUND) {
				// The competing row vanished between insert and read; retry.
				continue
			}
			return nil, domain.WrapError(err, domain.EINTERNAL, "idempotency.begin", "failed to read idempotency key")
		}

		if existing.Expired(s.now()) {
			if err := s.store.DeleteRecord(ctx, existing.ID); err != nil {
				return nil, domain.WrapError(err, domain.EINTERNAL, "idempotency.begin", "failed to expire idempotency key")
			}
			continue
		}

		if existing.RequestHash != hash {
			return nil, domain.ErrIdempotencyConflict
		}
		if existing.Completed() {
			return &BeginResult{Replay: true, Status: existing.ResponseStatus, Body: existing.ResponseBody}, nil
		}
		return nil, domain.ErrIdempotencyInFlight
	}

	return nil, domain.Errorf(domain.EINTERNAL, "idempotency.begin", "could not claim idempotency key %q", key)
}

// Complete stores the guarded operation's outcome for later replay. A failure
// here is logged but not surfaced: the operation itself already succeeded.
func (s *IdempotencyService) Complete(ctx context.Context, record *domain.IdempotencyRecord, status int, body string) {
	if record == nil {
		return
	}
	if err := s.store.CompleteRecord(ctx, record.ID, status, body); err != nil {
		s.logger.Error().Err(err).
			Str("scope", record.Scope).
			Str("key", record.Key).
			Msg("failed to persist idempotency outcome")
	}
}

// Abandon releases the key after the guarded operation failed, so the client
// can safely retry with the same key.
func (s *IdempotencyService) Abandon(ctx context.Context, record *domain.IdempotencyRecord) {
	if record == nil {
		return
	}
	if err := s.store.DeleteRecord(ctx, record.ID); err != nil {
		s.logger.Error().Err(err).
			Str("scope", record.Scope).
			Str("key", record.Key).
			Msg("failed to release idempotency key")
	}
}

func hashRequestBody(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
