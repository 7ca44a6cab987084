package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/farelis/tiendra/internal/domain"
	"github.com/farelis/tiendra/internal/events"
	"github.com/farelis/tiendra/internal/provider"
	"github.com/farelis/tiendra/internal/service"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubVerifier controls signature verification outcome per test.
type stubVerifier struct {
	ok bool
}

func (s *stubVerifier) Verify(signatureHeader, requestID, resourceID string) bool {
	return s.ok
}

// stubPaymentProvider satisfies provider.PaymentProvider; only the methods a
// given test drives are expected to run.
type stubPaymentProvider struct{}

func (stubPaymentProvider) AuthorizeURL(state string) (string, error) { return "", nil }
func (stubPaymentProvider) ExchangeCode(ctx context.Context, code string) (*provider.OAuthTokens, error) {
	return nil, domain.Errorf(domain.EPROVIDER, "stub", "not wired")
}
func (stubPaymentProvider) RefreshTokens(ctx context.Context, refreshToken string) (*provider.OAuthTokens, error) {
	return nil, domain.Errorf(domain.EPROVIDER, "stub", "not wired")
}
func (stubPaymentProvider) CreateCheckout(ctx context.Context, accessToken string, params provider.CreateCheckoutParams) (*provider.Checkout, error) {
	return nil, domain.Errorf(domain.EPROVIDER, "stub", "not wired")
}
func (stubPaymentProvider) GetPayment(ctx context.Context, accessToken, paymentID string) (*provider.PaymentResource, error) {
	return nil, domain.Errorf(domain.EPROVIDER, "stub", "not wired")
}
func (stubPaymentProvider) MapPaymentStatus(status string) domain.PaymentStatus {
	return domain.PaymentPending
}

type stubSubscriptionProvider struct{}

func (stubSubscriptionProvider) CreatePreapproval(ctx context.Context, params provider.CreatePreapprovalParams) (*provider.PreapprovalResource, error) {
	return nil, domain.Errorf(domain.EPROVIDER, "stub", "not wired")
}
func (stubSubscriptionProvider) GetPreapproval(ctx context.Context, id string) (*provider.PreapprovalResource, error) {
	return nil, domain.Errorf(domain.EPROVIDER, "stub", "not wired")
}
func (stubSubscriptionProvider) SearchPreapprovals(ctx context.Context, status string) ([]provider.PreapprovalResource, error) {
	return nil, nil
}
func (stubSubscriptionProvider) UpdatePreapprovalAmount(ctx context.Context, id string, amountCents int64, currency string) (*provider.PreapprovalResource, error) {
	return nil, domain.Errorf(domain.EPROVIDER, "stub", "not wired")
}
func (stubSubscriptionProvider) EnsurePlan(ctx context.Context, plan domain.Plan) (string, error) {
	return "", domain.Errorf(domain.EPROVIDER, "stub", "not wired")
}
func (stubSubscriptionProvider) PlanCheckoutURL(externalPlanID, externalReference, payerEmail string) string {
	return ""
}
func (stubSubscriptionProvider) MapStatus(status string) domain.BillingStatus {
	return domain.BillingInactive
}

// stubPaymentsStore implements domain.PaymentsStore: the event ledger works,
// everything else reports not found so webhook processing stops early.
type stubPaymentsStore struct {
	mu     sync.Mutex
	events map[string]bool
}

func newStubPaymentsStore() *stubPaymentsStore {
	return &stubPaymentsStore{events: make(map[string]bool)}
}

func (s *stubPaymentsStore) GetAccount(context.Context, uuid.UUID, string) (*domain.StorePaymentAccount, error) {
	return nil, domain.ErrAccountNotConnected
}
func (s *stubPaymentsStore) GetAccountByMerchantID(context.Context, string, string) (*domain.StorePaymentAccount, error) {
	return nil, domain.ErrAccountNotConnected
}
func (s *stubPaymentsStore) UpsertAccount(context.Context, domain.UpsertAccountParams) (*domain.StorePaymentAccount, error) {
	return nil, domain.ErrAccountNotConnected
}
func (s *stubPaymentsStore) UpdateAccountTokens(context.Context, uuid.UUID, string, string, *time.Time) error {
	return nil
}
func (s *stubPaymentsStore) GetPaymentByExternalID(_ context.Context, _, externalID string) (*domain.Payment, error) {
	return nil, domain.NotFound("payments.get_payment", "payment", externalID)
}
func (s *stubPaymentsStore) UpsertPayment(context.Context, domain.UpsertPaymentParams) (*domain.Payment, error) {
	return nil, domain.ErrOrderNotFound
}
func (s *stubPaymentsStore) RecordPaymentEvent(_ context.Context, event domain.PaymentEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := event.Provider + "/" + event.EventID
	if s.events[k] {
		return false, nil
	}
	s.events[k] = true
	return true, nil
}
func (s *stubPaymentsStore) DeletePaymentEvent(_ context.Context, provider, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.events, provider+"/"+eventID)
	return nil
}
func (s *stubPaymentsStore) eventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}
func (s *stubPaymentsStore) GetOrder(context.Context, uuid.UUID, uuid.UUID) (*domain.Order, error) {
	return nil, domain.ErrOrderNotFound
}
func (s *stubPaymentsStore) SetOrderPaymentStatus(context.Context, uuid.UUID, string) error {
	return nil
}

type stubTenantStore struct{}

func (stubTenantStore) GetTenant(context.Context, uuid.UUID) (*domain.Tenant, error) {
	return nil, domain.ErrTenantNotFound
}
func (stubTenantStore) GetTenantBySlug(context.Context, string) (*domain.Tenant, error) {
	return nil, domain.ErrTenantNotFound
}
func (stubTenantStore) GetTenantByOwnerEmail(context.Context, string) (*domain.Tenant, error) {
	return nil, domain.ErrTenantNotFound
}
func (stubTenantStore) UpdateBillingSnapshot(context.Context, uuid.UUID, domain.BillingSnapshot) error {
	return nil
}
func (stubTenantStore) GetUser(context.Context, uuid.UUID) (*domain.User, error) {
	return nil, domain.NotFound("tenant.get_user", "user", "")
}
func (stubTenantStore) GetUserBySessionToken(context.Context, string) (*domain.User, error) {
	return nil, domain.Unauthorized("tenant.get_user_by_session", "invalid session")
}

type stubBillingStore struct{}

func (stubBillingStore) GetPlanByCode(context.Context, string) (*domain.Plan, error) {
	return nil, domain.ErrPlanNotFound
}
func (stubBillingStore) ListActivePlans(context.Context) ([]domain.Plan, error) { return nil, nil }
func (stubBillingStore) SetPlanExternalID(context.Context, uuid.UUID, string) error {
	return nil
}
func (stubBillingStore) GetSubscriptionByExternalID(context.Context, string) (*domain.Subscription, error) {
	return nil, domain.ErrNoActiveSubscription
}
func (stubBillingStore) GetActiveSubscriptionForTenant(context.Context, uuid.UUID) (*domain.Subscription, error) {
	return nil, domain.ErrNoActiveSubscription
}
func (stubBillingStore) UpsertSubscription(context.Context, domain.UpsertSubscriptionParams) (*domain.Subscription, error) {
	return nil, domain.ErrNoActiveSubscription
}
func (stubBillingStore) RecordSubscriptionEvent(context.Context, domain.SubscriptionEvent) error {
	return nil
}

type stubIdempotencyStore struct{}

func (stubIdempotencyStore) InsertRecord(_ context.Context, record domain.IdempotencyRecord) (*domain.IdempotencyRecord, bool, error) {
	return &record, true, nil
}
func (stubIdempotencyStore) GetRecord(context.Context, uuid.UUID, string, string) (*domain.IdempotencyRecord, error) {
	return nil, domain.NotFound("idempotency.get_record", "idempotency key", "")
}
func (stubIdempotencyStore) DeleteRecord(context.Context, uuid.UUID) error { return nil }
func (stubIdempotencyStore) CompleteRecord(context.Context, uuid.UUID, int, string) error {
	return nil
}

func newWebhookTestHandler(t *testing.T, verifierOK bool) (*WebhookHandler, *stubPaymentsStore) {
	t.Helper()

	registry, err := provider.NewRegistry(map[string]provider.Entry{
		"mercadopago": {
			Payments:      stubPaymentProvider{},
			Subscriptions: stubSubscriptionProvider{},
			Webhooks:      &stubVerifier{ok: verifierOK},
		},
	})
	require.NoError(t, err)

	publisher, err := events.NewPublisher("", zerolog.Nop())
	require.NoError(t, err)

	store := newStubPaymentsStore()
	ledger := service.NewIdempotencyService(stubIdempotencyStore{}, zerolog.Nop())
	paymentsSvc := service.NewPaymentsService(registry, store, stubTenantStore{}, nil, ledger, publisher, "https://api.example.com", zerolog.Nop())
	billingSvc := service.NewBillingService(registry, stubBillingStore{}, store, stubTenantStore{}, publisher, "https://shop.example.com", zerolog.Nop())

	return NewWebhookHandler(paymentsSvc, billingSvc, registry, zerolog.Nop()), store
}

func performWebhook(h *WebhookHandler, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/payments/webhooks/:provider")
	c.SetParamNames("provider")
	c.SetParamValues("mercadopago")
	_ = h.Handle(c)
	return rec
}

func TestWebhookRejectsInvalidSignature(t *testing.T) {
	h, _ := newWebhookTestHandler(t, false)

	rec := performWebhook(h, "/payments/webhooks/mercadopago?type=payment&data.id=123", `{}`, map[string]string{
		"x-signature":  "ts=1,v1=bad",
		"x-request-id": "req-1",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookUnknownProviderIs404(t *testing.T) {
	h, _ := newWebhookTestHandler(t, true)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/payments/webhooks/stripe", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/payments/webhooks/:provider")
	c.SetParamNames("provider")
	c.SetParamValues("stripe")
	_ = h.Handle(c)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhookAcknowledgesUnknownTopic(t *testing.T) {
	h, _ := newWebhookTestHandler(t, true)

	rec := performWebhook(h, "/payments/webhooks/mercadopago?type=plan&data.id=123", `{}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhookAcknowledgesMissingResourceID(t *testing.T) {
	h, _ := newWebhookTestHandler(t, true)

	rec := performWebhook(h, "/payments/webhooks/mercadopago?type=payment", `{}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhookAcknowledgesUnresolvableMerchant(t *testing.T) {
	h, _ := newWebhookTestHandler(t, true)

	// No account matches; processing downgrades to an acknowledged ignore.
	rec := performWebhook(h, "/payments/webhooks/mercadopago?type=payment&data.id=pay-1",
		`{"id":99,"user_id":424242,"data":{"id":"pay-1"}}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhookReadsTopicFromBody(t *testing.T) {
	h, _ := newWebhookTestHandler(t, true)

	rec := performWebhook(h, "/payments/webhooks/mercadopago",
		`{"id":99,"type":"payment","data":{"id":"pay-2"}}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhookBodylessDeliveriesKeptDistinctByRequestID(t *testing.T) {
	h, store := newWebhookTestHandler(t, true)

	// Two distinct deliveries for the same payment, neither carrying a body
	// id. The x-request-id header must keep their ledger entries apart.
	rec := performWebhook(h, "/payments/webhooks/mercadopago?type=payment&data.id=pay-7", `{}`, map[string]string{
		"x-request-id": "req-a",
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = performWebhook(h, "/payments/webhooks/mercadopago?type=payment&data.id=pay-7", `{}`, map[string]string{
		"x-request-id": "req-b",
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, 2, store.eventCount())
}
