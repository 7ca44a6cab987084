package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Subjects published by the billing core. Consumers (email, analytics,
// storefront cache invalidation) subscribe to these.
const (
	SubjectPaymentUpdated      = "tiendra.payments.updated"
	SubjectSubscriptionUpdated = "tiendra.subscriptions.updated"
	SubjectAccountConnected    = "tiendra.accounts.connected"
)

// Event is the envelope for every published message.
type Event struct {
	ID         uuid.UUID       `json:"id"`
	TenantID   uuid.UUID       `json:"tenant_id"`
	Provider   string          `json:"provider"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// Publisher emits lifecycle events over NATS. Publishing is strictly
// best-effort: a broker outage never fails the request that triggered the
// event.
type Publisher struct {
	conn   *nats.Conn
	logger zerolog.Logger
}

// NewPublisher connects to the broker. An empty URL disables publishing and
// returns a no-op publisher.
func NewPublisher(url string, logger zerolog.Logger) (*Publisher, error) {
	if url == "" {
		return &Publisher{logger: logger}, nil
	}

	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &Publisher{conn: conn, logger: logger}, nil
}

// Publish emits one event. Errors are logged, never returned.
func (p *Publisher) Publish(subject string, tenantID uuid.UUID, providerCode string, data any) {
	if p == nil || p.conn == nil {
		return
	}

	payload, err := json.Marshal(data)
	if err != nil {
		p.logger.Error().Err(err).Str("subject", subject).Msg("failed to marshal event payload")
		return
	}

	event := Event{
		ID:         uuid.New(),
		TenantID:   tenantID,
		Provider:   providerCode,
		OccurredAt: time.Now().UTC(),
		Data:       payload,
	}

	body, err := json.Marshal(event)
	if err != nil {
		p.logger.Error().Err(err).Str("subject", subject).Msg("failed to marshal event envelope")
		return
	}

	if err := p.conn.Publish(subject, body); err != nil {
		p.logger.Warn().Err(err).Str("subject", subject).Msg("failed to publish event")
	}
}

// Close drains the connection.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	p.conn.Drain()
}
