package service

import (
	"context"
	"fmt"
	"time"

	"github.com/farelis/tiendra/internal/domain"
	"github.com/farelis/tiendra/internal/events"
	"github.com/farelis/tiendra/internal/provider"
	"github.com/farelis/tiendra/internal/telemetry"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// BillingService owns subscription lifecycle: creation, webhook ingestion,
// plan changes and the periodic reconciliation sweep. Every mutation funnels
// through one upsert keyed by the provider subscription id, followed by a
// snapshot write onto the tenant row.
type BillingService struct {
	registry  *provider.Registry
	billing   domain.BillingStore
	payments  domain.PaymentsStore
	tenants   domain.TenantStore
	publisher *events.Publisher
	logger    zerolog.Logger

	frontendURL string
	now         func() time.Time
}

// NewBillingService wires the billing service.
func NewBillingService(
	registry *provider.Registry,
	billing domain.BillingStore,
	payments domain.PaymentsStore,
	tenants domain.TenantStore,
	publisher *events.Publisher,
	frontendURL string,
	logger zerolog.Logger,
) *BillingService {
	return &BillingService{
		registry:    registry,
		billing:     billing,
		payments:    payments,
		tenants:     tenants,
		publisher:   publisher,
		frontendURL: frontendURL,
		logger:      logger.With().Str("component", "billing").Logger(),
		now:         time.Now,
	}
}

// CreateSubscriptionInput describes a subscription creation request.
type CreateSubscriptionInput struct {
	TenantID   uuid.UUID
	Provider   string
	PlanCode   string
	PayerEmail string

	// UsePlanCheckout routes the payer through the provider's hosted plan
	// checkout instead of creating the preapproval directly. The local row is
	// then created by the first webhook.
	UsePlanCheckout bool
}

// CreateSubscriptionOutput is the result of starting a subscription.
type CreateSubscriptionOutput struct {
	SubscriptionID uuid.UUID            `json:"subscription_id,omitempty"`
	ExternalID     string               `json:"external_id,omitempty"`
	Status         domain.BillingStatus `json:"status,omitempty"`
	CheckoutURL    string               `json:"checkout_url"`
}

// CreateSubscription starts recurring billing for a tenant on an active paid
// plan. Free plans never touch the provider.
func (s *BillingService) CreateSubscription(ctx context.Context, input CreateSubscriptionInput) (*CreateSubscriptionOutput, error) {
	entry, err := s.subscriptionProvider(input.Provider)
	if err != nil {
		return nil, err
	}

	plan, err := s.billing.GetPlanByCode(ctx, input.PlanCode)
	if err != nil {
		return nil, err
	}
	if !plan.Active {
		return nil, domain.ErrPlanInactive
	}
	if plan.Free() {
		return nil, domain.ErrFreePlanNotBillable
	}

	tenant, err := s.tenants.GetTenant(ctx, input.TenantID)
	if err != nil {
		return nil, err
	}

	if input.UsePlanCheckout {
		externalPlanID, err := s.ensurePlanRegistered(ctx, entry, plan)
		if err != nil {
			return nil, err
		}
		url := entry.Subscriptions.PlanCheckoutURL(externalPlanID, tenant.ID.String(), input.PayerEmail)
		return &CreateSubscriptionOutput{CheckoutURL: url}, nil
	}

	resource, err := entry.Subscriptions.CreatePreapproval(ctx, provider.CreatePreapprovalParams{
		Reason:            fmt.Sprintf("%s plan for %s", plan.Name, tenant.Name),
		ExternalReference: tenant.ID.String(),
		PayerEmail:        input.PayerEmail,
		AmountCents:       plan.PriceCents,
		Currency:          plan.Currency,
		Frequency:         1,
		FrequencyType:     "months",
		BackURL:           fmt.Sprintf("%s/billing/return", s.frontendURL),
	})
	if err != nil {
		return nil, err
	}

	sub, err := s.upsertFromResource(ctx, entry, input.Provider, tenant, plan.ID, resource)
	if err != nil {
		return nil, err
	}
	s.recordEvent(ctx, sub, domain.SubscriptionEventCreated, resource.Raw)

	if m := telemetry.Business; m != nil {
		m.SubscriptionsCreated.WithLabelValues(input.Provider, plan.Code).Inc()
	}
	s.logger.Info().
		Str("tenant_id", tenant.ID.String()).
		Str("plan", plan.Code).
		Str("external_id", resource.ID).
		Msg("subscription created")

	return &CreateSubscriptionOutput{
		SubscriptionID: sub.ID,
		ExternalID:     sub.ExternalID,
		Status:         sub.Status,
		CheckoutURL:    resource.InitPoint,
	}, nil
}

// PreapprovalNotification is one inbound subscription webhook, already
// signature-verified by the transport layer.
type PreapprovalNotification struct {
	Provider      string
	PreapprovalID string
	WebhookID     string // provider delivery id, used for dedup
}

// HandlePreapprovalNotification ingests one subscription webhook: dedup,
// authoritative fetch, tenant resolution, upsert and snapshot sync.
// Redeliveries and unresolvable tenants return nil so the transport
// acknowledges them. A retryable failure releases the dedup row so the
// provider's redelivery is processed instead of dropped as a duplicate.
func (s *BillingService) HandlePreapprovalNotification(ctx context.Context, n PreapprovalNotification) error {
	const op = "billing.handle_notification"

	entry, err := s.subscriptionProvider(n.Provider)
	if err != nil {
		return err
	}

	eventID := fmt.Sprintf("preapproval:%s:%s", n.PreapprovalID, n.WebhookID)
	fresh, err := s.payments.RecordPaymentEvent(ctx, domain.PaymentEvent{
		ID:         uuid.New(),
		Provider:   n.Provider,
		EventID:    eventID,
		EventType:  "preapproval",
		ResourceID: n.PreapprovalID,
	})
	if err != nil {
		return domain.WrapError(err, domain.EINTERNAL, op, "failed to record webhook event")
	}
	if !fresh {
		if m := telemetry.Business; m != nil {
			m.WebhookIgnored.WithLabelValues(n.Provider, "duplicate").Inc()
		}
		s.logger.Debug().Str("preapproval_id", n.PreapprovalID).Msg("duplicate subscription webhook ignored")
		return nil
	}

	resource, err := entry.Subscriptions.GetPreapproval(ctx, n.PreapprovalID)
	if err != nil {
		s.releaseEvent(ctx, n.Provider, eventID)
		return err
	}

	sub, err := s.ingestResource(ctx, entry, n.Provider, resource, "webhook")
	if err != nil {
		if domain.IsCode(err, domain.EWEBHOOK) {
			if m := telemetry.Business; m != nil {
				m.WebhookIgnored.WithLabelValues(n.Provider, "unresolved_tenant").Inc()
			}
			s.logger.Warn().
				Str("preapproval_id", n.PreapprovalID).
				Str("external_reference", resource.ExternalReference).
				Msg("subscription webhook for unknown store ignored")
			return nil
		}
		s.releaseEvent(ctx, n.Provider, eventID)
		return err
	}

	s.recordEvent(ctx, sub, domain.SubscriptionEventWebhook, resource.Raw)
	return nil
}

// releaseEvent deletes a dedup ledger row after a retryable failure so the
// provider's redelivery of the same event is processed again.
func (s *BillingService) releaseEvent(ctx context.Context, providerCode, eventID string) {
	if err := s.payments.DeletePaymentEvent(ctx, providerCode, eventID); err != nil {
		s.logger.Error().Err(err).
			Str("provider", providerCode).
			Str("event_id", eventID).
			Msg("failed to release webhook event")
	}
}

// ChangeSubscriptionPlan moves the tenant's active subscription onto another
// active paid plan. Only the recurring amount changes provider-side; the
// subscription identity is preserved.
func (s *BillingService) ChangeSubscriptionPlan(ctx context.Context, tenantID uuid.UUID, providerCode, newPlanCode string) (*domain.Subscription, error) {
	entry, err := s.subscriptionProvider(providerCode)
	if err != nil {
		return nil, err
	}

	plan, err := s.billing.GetPlanByCode(ctx, newPlanCode)
	if err != nil {
		return nil, err
	}
	if !plan.Active {
		return nil, domain.ErrPlanInactive
	}
	if plan.Free() {
		return nil, domain.ErrFreePlanNotBillable
	}

	current, err := s.billing.GetActiveSubscriptionForTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	resource, err := entry.Subscriptions.UpdatePreapprovalAmount(ctx, current.ExternalID, plan.PriceCents, plan.Currency)
	if err != nil {
		return nil, err
	}

	tenant, err := s.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	sub, err := s.upsertFromResource(ctx, entry, providerCode, tenant, plan.ID, resource)
	if err != nil {
		return nil, err
	}
	s.recordEvent(ctx, sub, domain.SubscriptionEventPlanChanged, resource.Raw)

	if m := telemetry.Business; m != nil {
		m.PlanChanges.WithLabelValues(providerCode, plan.Code).Inc()
	}
	s.logger.Info().
		Str("tenant_id", tenantID.String()).
		Str("plan", plan.Code).
		Str("external_id", sub.ExternalID).
		Msg("subscription plan changed")

	return sub, nil
}

// SyncActiveSubscriptions reconciles local state against the provider by
// walking the authorized and pending buckets. Individual failures are logged
// and skipped so one bad row cannot stall the sweep.
func (s *BillingService) SyncActiveSubscriptions(ctx context.Context, providerCode string) (int, error) {
	entry, err := s.subscriptionProvider(providerCode)
	if err != nil {
		return 0, err
	}

	synced := 0
	for _, bucket := range []string{"authorized", "pending"} {
		resources, err := entry.Subscriptions.SearchPreapprovals(ctx, bucket)
		if err != nil {
			return synced, err
		}

		for i := range resources {
			resource := &resources[i]
			sub, err := s.ingestResource(ctx, entry, providerCode, resource, "sync")
			if err != nil {
				s.logger.Warn().Err(err).
					Str("external_id", resource.ID).
					Msg("skipping subscription during sync")
				continue
			}
			s.recordEvent(ctx, sub, domain.SubscriptionEventSynced, resource.Raw)
			synced++
		}
	}

	s.logger.Info().Int("count", synced).Str("provider", providerCode).Msg("subscription sync complete")
	return synced, nil
}

// SyncPlans registers every active paid plan with the provider so plan-based
// checkout works, persisting the returned external plan ids.
func (s *BillingService) SyncPlans(ctx context.Context, providerCode string) error {
	entry, err := s.subscriptionProvider(providerCode)
	if err != nil {
		return err
	}

	plans, err := s.billing.ListActivePlans(ctx)
	if err != nil {
		return err
	}

	for _, plan := range plans {
		if plan.Free() || plan.ExternalPlanID != "" {
			continue
		}
		if _, err := s.ensurePlanRegistered(ctx, entry, &plan); err != nil {
			s.logger.Warn().Err(err).Str("plan", plan.Code).Msg("failed to register plan with provider")
		}
	}
	return nil
}

// ingestResource is the shared webhook/sync path: resolve tenant and plan,
// upsert the subscription row and refresh the tenant snapshot.
func (s *BillingService) ingestResource(ctx context.Context, entry provider.Entry, providerCode string, resource *provider.PreapprovalResource, source string) (*domain.Subscription, error) {
	tenant, err := s.resolveTenant(ctx, resource)
	if err != nil {
		return nil, err
	}

	planID, err := s.resolvePlan(ctx, resource)
	if err != nil {
		return nil, err
	}

	sub, err := s.upsertFromResource(ctx, entry, providerCode, tenant, planID, resource)
	if err != nil {
		return nil, err
	}

	if m := telemetry.Business; m != nil {
		m.SubscriptionsSynced.WithLabelValues(providerCode, source).Inc()
	}
	return sub, nil
}

// resolveTenant maps a provider subscription back to a tenant. The external
// reference is authoritative; the payer email is a last-resort heuristic for
// subscriptions created outside this system.
func (s *BillingService) resolveTenant(ctx context.Context, resource *provider.PreapprovalResource) (*domain.Tenant, error) {
	if id, err := uuid.Parse(resource.ExternalReference); err == nil {
		tenant, err := s.tenants.GetTenant(ctx, id)
		if err == nil {
			return tenant, nil
		}
		if !domain.IsCode(err, domain.ENOTFOUND) {
			return nil, err
		}
	}

	if resource.PayerEmail != "" {
		tenant, err := s.tenants.GetTenantByOwnerEmail(ctx, resource.PayerEmail)
		if err == nil {
			return tenant, nil
		}
		if !domain.IsCode(err, domain.ENOTFOUND) {
			return nil, err
		}
	}

	return nil, domain.ErrSubscriptionTenantUnresolved
}

// resolvePlan picks the plan for an incoming subscription: an existing local
// row pins it, otherwise the recurring amount is matched against the active
// catalog.
func (s *BillingService) resolvePlan(ctx context.Context, resource *provider.PreapprovalResource) (uuid.UUID, error) {
	existing, err := s.billing.GetSubscriptionByExternalID(ctx, resource.ID)
	if err == nil {
		return existing.PlanID, nil
	}
	if !domain.IsCode(err, domain.ENOTFOUND) {
		return uuid.Nil, err
	}

	plans, err := s.billing.ListActivePlans(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	for _, plan := range plans {
		if !plan.Free() && plan.PriceCents == resource.AmountCents {
			return plan.ID, nil
		}
	}

	return uuid.Nil, domain.Errorf(domain.EWEBHOOK, "billing.resolve_plan",
		"no plan matches subscription %s amount %d", resource.ID, resource.AmountCents)
}

func (s *BillingService) upsertFromResource(ctx context.Context, entry provider.Entry, providerCode string, tenant *domain.Tenant, planID uuid.UUID, resource *provider.PreapprovalResource) (*domain.Subscription, error) {
	status := entry.Subscriptions.MapStatus(resource.Status)

	sub, err := s.billing.UpsertSubscription(ctx, domain.UpsertSubscriptionParams{
		TenantID:           tenant.ID,
		PlanID:             planID,
		ExternalID:         resource.ID,
		Status:             status,
		PayerEmail:         resource.PayerEmail,
		CurrentPeriodStart: resource.StartDate,
		CurrentPeriodEnd:   nextPeriodEnd(resource),
		CancelAtPeriodEnd:  false,
		RawPayload:         resource.Raw,
	})
	if err != nil {
		return nil, err
	}

	plan, err := s.planByID(ctx, planID)
	if err != nil {
		return nil, err
	}

	snapshot := SnapshotFromSubscription(sub, plan)
	if err := s.tenants.UpdateBillingSnapshot(ctx, tenant.ID, snapshot); err != nil {
		return nil, err
	}

	s.publisher.Publish(events.SubjectSubscriptionUpdated, tenant.ID, providerCode, map[string]any{
		"subscription_id": sub.ID,
		"status":          sub.Status,
		"plan":            snapshot.PlanCode,
	})

	return sub, nil
}

func (s *BillingService) planByID(ctx context.Context, planID uuid.UUID) (*domain.Plan, error) {
	plans, err := s.billing.ListActivePlans(ctx)
	if err != nil {
		return nil, err
	}
	for i := range plans {
		if plans[i].ID == planID {
			return &plans[i], nil
		}
	}
	// The plan may have been deactivated after the subscription was created;
	// the snapshot then carries an empty plan code.
	return &domain.Plan{ID: planID}, nil
}

func (s *BillingService) ensurePlanRegistered(ctx context.Context, entry provider.Entry, plan *domain.Plan) (string, error) {
	if plan.ExternalPlanID != "" {
		return plan.ExternalPlanID, nil
	}

	externalPlanID, err := entry.Subscriptions.EnsurePlan(ctx, *plan)
	if err != nil {
		return "", err
	}
	if err := s.billing.SetPlanExternalID(ctx, plan.ID, externalPlanID); err != nil {
		return "", err
	}
	plan.ExternalPlanID = externalPlanID
	return externalPlanID, nil
}

// recordEvent appends to the subscription audit trail. Failures are logged,
// never surfaced: the state change itself already committed.
func (s *BillingService) recordEvent(ctx context.Context, sub *domain.Subscription, eventType, payload string) {
	err := s.billing.RecordSubscriptionEvent(ctx, domain.SubscriptionEvent{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		TenantID:       sub.TenantID,
		EventType:      eventType,
		Payload:        payload,
	})
	if err != nil {
		s.logger.Error().Err(err).
			Str("subscription_id", sub.ID.String()).
			Str("event_type", eventType).
			Msg("failed to record subscription event")
	}
}

func (s *BillingService) subscriptionProvider(code string) (provider.Entry, error) {
	entry, ok := s.registry.Get(code)
	if !ok {
		return provider.Entry{}, domain.NotFound("billing.provider_entry", "payment provider", code)
	}
	return entry, nil
}

// SnapshotFromSubscription derives the denormalized tenant billing fields
// from the authoritative subscription row.
func SnapshotFromSubscription(sub *domain.Subscription, plan *domain.Plan) domain.BillingSnapshot {
	startedAt := sub.CurrentPeriodStart
	if startedAt == nil {
		t := sub.CreatedAt
		startedAt = &t
	}

	// Without a period end the gate would deny immediately; the last sync
	// time anchors the grace window instead.
	endsAt := sub.CurrentPeriodEnd
	if endsAt == nil {
		t := sub.UpdatedAt
		endsAt = &t
	}

	return domain.BillingSnapshot{
		BillingStatus:         sub.Status,
		PlanCode:              plan.Code,
		PlanStartedAt:         startedAt,
		PlanEndsAt:            endsAt,
		CurrentSubscriptionID: sub.ID,
	}
}

// nextPeriodEnd prefers the provider's next payment date as the period bound,
// falling back to an explicit end date.
func nextPeriodEnd(resource *provider.PreapprovalResource) *time.Time {
	if resource.NextPaymentDate != nil {
		return resource.NextPaymentDate
	}
	return resource.EndDate
}
