package service

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"time"

	"github.com/farelis/tiendra/internal/domain"
	"github.com/farelis/tiendra/internal/provider"
	"github.com/google/uuid"
)

// mockIdempotencyStore is an in-memory ledger keyed like the real table.
type mockIdempotencyStore struct {
	mu      sync.Mutex
	records map[string]*domain.IdempotencyRecord

	insertErr error
}

func newMockIdempotencyStore() *mockIdempotencyStore {
	return &mockIdempotencyStore{records: make(map[string]*domain.IdempotencyRecord)}
}

func ledgerKey(tenantID uuid.UUID, scope, key string) string {
	return tenantID.String() + "/" + scope + "/" + key
}

func (m *mockIdempotencyStore) InsertRecord(_ context.Context, record domain.IdempotencyRecord) (*domain.IdempotencyRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return nil, false, m.insertErr
	}
	k := ledgerKey(record.TenantID, record.Scope, record.Key)
	if _, exists := m.records[k]; exists {
		return nil, false, nil
	}
	record.CreatedAt = time.Now()
	stored := record
	m.records[k] = &stored
	out := stored
	return &out, true, nil
}

func (m *mockIdempotencyStore) GetRecord(_ context.Context, tenantID uuid.UUID, scope, key string) (*domain.IdempotencyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[ledgerKey(tenantID, scope, key)]
	if !ok {
		return nil, domain.NotFound("idempotency.get_record", "idempotency key", key)
	}
	out := *record
	return &out, nil
}

func (m *mockIdempotencyStore) DeleteRecord(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, record := range m.records {
		if record.ID == id {
			delete(m.records, k)
			return nil
		}
	}
	return nil
}

func (m *mockIdempotencyStore) CompleteRecord(_ context.Context, id uuid.UUID, status int, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, record := range m.records {
		if record.ID == id {
			record.ResponseStatus = status
			record.ResponseBody = body
			return nil
		}
	}
	return errors.New("record not found")
}

// mockPaymentsStore implements domain.PaymentsStore with overridable funcs
// and an in-memory event ledger for dedup tests.
type mockPaymentsStore struct {
	mu     sync.Mutex
	events map[string]bool

	GetAccountFunc             func(ctx context.Context, tenantID uuid.UUID, providerCode string) (*domain.StorePaymentAccount, error)
	GetAccountByMerchantIDFunc func(ctx context.Context, providerCode, merchantID string) (*domain.StorePaymentAccount, error)
	UpsertAccountFunc          func(ctx context.Context, params domain.UpsertAccountParams) (*domain.StorePaymentAccount, error)
	UpdateAccountTokensFunc    func(ctx context.Context, accountID uuid.UUID, accessTokenEnc, refreshTokenEnc string, expiresAt *time.Time) error
	GetPaymentByExternalIDFunc func(ctx context.Context, providerCode, externalID string) (*domain.Payment, error)
	UpsertPaymentFunc          func(ctx context.Context, params domain.UpsertPaymentParams) (*domain.Payment, error)
	GetOrderFunc               func(ctx context.Context, tenantID, orderID uuid.UUID) (*domain.Order, error)
	SetOrderPaymentStatusFunc  func(ctx context.Context, orderID uuid.UUID, paymentStatus string) error
}

func newMockPaymentsStore() *mockPaymentsStore {
	return &mockPaymentsStore{events: make(map[string]bool)}
}

func (m *mockPaymentsStore) GetAccount(ctx context.Context, tenantID uuid.UUID, providerCode string) (*domain.StorePaymentAccount, error) {
	if m.GetAccountFunc != nil {
		return m.GetAccountFunc(ctx, tenantID, providerCode)
	}
	return nil, domain.ErrAccountNotConnected
}

func (m *mockPaymentsStore) GetAccountByMerchantID(ctx context.Context, providerCode, merchantID string) (*domain.StorePaymentAccount, error) {
	if m.GetAccountByMerchantIDFunc != nil {
		return m.GetAccountByMerchantIDFunc(ctx, providerCode, merchantID)
	}
	return nil, domain.ErrAccountNotConnected
}

func (m *mockPaymentsStore) UpsertAccount(ctx context.Context, params domain.UpsertAccountParams) (*domain.StorePaymentAccount, error) {
	if m.UpsertAccountFunc != nil {
		return m.UpsertAccountFunc(ctx, params)
	}
	return &domain.StorePaymentAccount{
		ID:                 uuid.New(),
		TenantID:           params.TenantID,
		Provider:           params.Provider,
		ExternalMerchantID: params.ExternalMerchantID,
		AccessTokenEnc:     params.AccessTokenEnc,
		RefreshTokenEnc:    params.RefreshTokenEnc,
		TokenExpiresAt:     params.TokenExpiresAt,
	}, nil
}

func (m *mockPaymentsStore) UpdateAccountTokens(ctx context.Context, accountID uuid.UUID, accessTokenEnc, refreshTokenEnc string, expiresAt *time.Time) error {
	if m.UpdateAccountTokensFunc != nil {
		return m.UpdateAccountTokensFunc(ctx, accountID, accessTokenEnc, refreshTokenEnc, expiresAt)
	}
	return nil
}

func (m *mockPaymentsStore) GetPaymentByExternalID(ctx context.Context, providerCode, externalID string) (*domain.Payment, error) {
	if m.GetPaymentByExternalIDFunc != nil {
		return m.GetPaymentByExternalIDFunc(ctx, providerCode, externalID)
	}
	return nil, domain.NotFound("payments.get_payment", "payment", externalID)
}

func (m *mockPaymentsStore) UpsertPayment(ctx context.Context, params domain.UpsertPaymentParams) (*domain.Payment, error) {
	if m.UpsertPaymentFunc != nil {
		return m.UpsertPaymentFunc(ctx, params)
	}
	return &domain.Payment{
		ID:          uuid.New(),
		TenantID:    params.TenantID,
		OrderID:     params.OrderID,
		Provider:    params.Provider,
		ExternalID:  params.ExternalID,
		Status:      params.Status,
		AmountCents: params.AmountCents,
		Currency:    params.Currency,
	}, nil
}

func (m *mockPaymentsStore) RecordPaymentEvent(_ context.Context, event domain.PaymentEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := event.Provider + "/" + event.EventID
	if m.events[k] {
		return false, nil
	}
	m.events[k] = true
	return true, nil
}

func (m *mockPaymentsStore) DeletePaymentEvent(_ context.Context, provider, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.events, provider+"/"+eventID)
	return nil
}

func (m *mockPaymentsStore) GetOrder(ctx context.Context, tenantID, orderID uuid.UUID) (*domain.Order, error) {
	if m.GetOrderFunc != nil {
		return m.GetOrderFunc(ctx, tenantID, orderID)
	}
	return nil, domain.ErrOrderNotFound
}

func (m *mockPaymentsStore) SetOrderPaymentStatus(ctx context.Context, orderID uuid.UUID, paymentStatus string) error {
	if m.SetOrderPaymentStatusFunc != nil {
		return m.SetOrderPaymentStatusFunc(ctx, orderID, paymentStatus)
	}
	return nil
}

// mockTenantStore implements domain.TenantStore.
type mockTenantStore struct {
	GetTenantFunc             func(ctx context.Context, id uuid.UUID) (*domain.Tenant, error)
	GetTenantBySlugFunc       func(ctx context.Context, slug string) (*domain.Tenant, error)
	GetTenantByOwnerEmailFunc func(ctx context.Context, email string) (*domain.Tenant, error)
	UpdateBillingSnapshotFunc func(ctx context.Context, tenantID uuid.UUID, snapshot domain.BillingSnapshot) error
	GetUserFunc               func(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetUserBySessionTokenFunc func(ctx context.Context, token string) (*domain.User, error)
}

func (m *mockTenantStore) GetTenant(ctx context.Context, id uuid.UUID) (*domain.Tenant, error) {
	if m.GetTenantFunc != nil {
		return m.GetTenantFunc(ctx, id)
	}
	return nil, domain.ErrTenantNotFound
}

func (m *mockTenantStore) GetTenantBySlug(ctx context.Context, slug string) (*domain.Tenant, error) {
	if m.GetTenantBySlugFunc != nil {
		return m.GetTenantBySlugFunc(ctx, slug)
	}
	return nil, domain.ErrTenantNotFound
}

func (m *mockTenantStore) GetTenantByOwnerEmail(ctx context.Context, email string) (*domain.Tenant, error) {
	if m.GetTenantByOwnerEmailFunc != nil {
		return m.GetTenantByOwnerEmailFunc(ctx, email)
	}
	return nil, domain.ErrTenantNotFound
}

func (m *mockTenantStore) UpdateBillingSnapshot(ctx context.Context, tenantID uuid.UUID, snapshot domain.BillingSnapshot) error {
	if m.UpdateBillingSnapshotFunc != nil {
		return m.UpdateBillingSnapshotFunc(ctx, tenantID, snapshot)
	}
	return nil
}

func (m *mockTenantStore) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	if m.GetUserFunc != nil {
		return m.GetUserFunc(ctx, id)
	}
	return nil, domain.NotFound("tenant.get_user", "user", id.String())
}

func (m *mockTenantStore) GetUserBySessionToken(ctx context.Context, token string) (*domain.User, error) {
	if m.GetUserBySessionTokenFunc != nil {
		return m.GetUserBySessionTokenFunc(ctx, token)
	}
	return nil, domain.Unauthorized("tenant.get_user_by_session", "invalid session")
}

// mockBillingStore implements domain.BillingStore over in-memory maps.
type mockBillingStore struct {
	mu            sync.Mutex
	plans         []domain.Plan
	subscriptions map[string]*domain.Subscription
	subEvents     []domain.SubscriptionEvent
}

func newMockBillingStore(plans ...domain.Plan) *mockBillingStore {
	return &mockBillingStore{
		plans:         plans,
		subscriptions: make(map[string]*domain.Subscription),
	}
}

func (m *mockBillingStore) GetPlanByCode(_ context.Context, code string) (*domain.Plan, error) {
	for i := range m.plans {
		if m.plans[i].Code == code {
			plan := m.plans[i]
			return &plan, nil
		}
	}
	return nil, domain.ErrPlanNotFound
}

func (m *mockBillingStore) ListActivePlans(_ context.Context) ([]domain.Plan, error) {
	var out []domain.Plan
	for _, plan := range m.plans {
		if plan.Active {
			out = append(out, plan)
		}
	}
	return out, nil
}

func (m *mockBillingStore) SetPlanExternalID(_ context.Context, planID uuid.UUID, externalPlanID string) error {
	for i := range m.plans {
		if m.plans[i].ID == planID {
			m.plans[i].ExternalPlanID = externalPlanID
			return nil
		}
	}
	return domain.ErrPlanNotFound
}

func (m *mockBillingStore) GetSubscriptionByExternalID(_ context.Context, externalID string) (*domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subscriptions[externalID]
	if !ok {
		return nil, domain.ErrNoActiveSubscription
	}
	out := *sub
	return &out, nil
}

func (m *mockBillingStore) GetActiveSubscriptionForTenant(_ context.Context, tenantID uuid.UUID) (*domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sub := range m.subscriptions {
		if sub.TenantID != tenantID {
			continue
		}
		switch sub.Status {
		case domain.BillingActive, domain.BillingTrialing, domain.BillingPastDue:
			out := *sub
			return &out, nil
		}
	}
	return nil, domain.ErrNoActiveSubscription
}

func (m *mockBillingStore) UpsertSubscription(_ context.Context, params domain.UpsertSubscriptionParams) (*domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subscriptions[params.ExternalID]
	if !ok {
		sub = &domain.Subscription{ID: uuid.New(), ExternalID: params.ExternalID, CreatedAt: time.Now()}
		m.subscriptions[params.ExternalID] = sub
	}
	sub.TenantID = params.TenantID
	sub.PlanID = params.PlanID
	sub.Status = params.Status
	sub.PayerEmail = params.PayerEmail
	if params.CurrentPeriodStart != nil {
		sub.CurrentPeriodStart = params.CurrentPeriodStart
	}
	if params.CurrentPeriodEnd != nil {
		sub.CurrentPeriodEnd = params.CurrentPeriodEnd
	}
	sub.CancelAtPeriodEnd = params.CancelAtPeriodEnd
	sub.RawPayload = params.RawPayload
	sub.UpdatedAt = time.Now()

	out := *sub
	return &out, nil
}

func (m *mockBillingStore) RecordSubscriptionEvent(_ context.Context, event domain.SubscriptionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subEvents = append(m.subEvents, event)
	return nil
}

// mockPaymentProvider implements provider.PaymentProvider.
type mockPaymentProvider struct {
	AuthorizeURLFunc   func(state string) (string, error)
	ExchangeCodeFunc   func(ctx context.Context, code string) (*provider.OAuthTokens, error)
	RefreshTokensFunc  func(ctx context.Context, refreshToken string) (*provider.OAuthTokens, error)
	CreateCheckoutFunc func(ctx context.Context, accessToken string, params provider.CreateCheckoutParams) (*provider.Checkout, error)
	GetPaymentFunc     func(ctx context.Context, accessToken, paymentID string) (*provider.PaymentResource, error)
}

func (m *mockPaymentProvider) AuthorizeURL(state string) (string, error) {
	if m.AuthorizeURLFunc != nil {
		return m.AuthorizeURLFunc(state)
	}
	return "https://auth.example.com/authorize?state=" + state, nil
}

func (m *mockPaymentProvider) ExchangeCode(ctx context.Context, code string) (*provider.OAuthTokens, error) {
	if m.ExchangeCodeFunc != nil {
		return m.ExchangeCodeFunc(ctx, code)
	}
	return &provider.OAuthTokens{
		AccessToken:  "access-" + code,
		RefreshToken: "refresh-" + code,
		MerchantID:   "merchant-1",
		ExpiresAt:    time.Now().Add(6 * time.Hour),
	}, nil
}

func (m *mockPaymentProvider) RefreshTokens(ctx context.Context, refreshToken string) (*provider.OAuthTokens, error) {
	if m.RefreshTokensFunc != nil {
		return m.RefreshTokensFunc(ctx, refreshToken)
	}
	return &provider.OAuthTokens{
		AccessToken:  "refreshed-access",
		RefreshToken: "refreshed-refresh",
		MerchantID:   "merchant-1",
		ExpiresAt:    time.Now().Add(6 * time.Hour),
	}, nil
}

func (m *mockPaymentProvider) CreateCheckout(ctx context.Context, accessToken string, params provider.CreateCheckoutParams) (*provider.Checkout, error) {
	if m.CreateCheckoutFunc != nil {
		return m.CreateCheckoutFunc(ctx, accessToken, params)
	}
	return &provider.Checkout{
		ID:                "pref-1",
		URL:               "https://checkout.example.com/pref-1",
		ExternalReference: params.ExternalReference,
	}, nil
}

func (m *mockPaymentProvider) GetPayment(ctx context.Context, accessToken, paymentID string) (*provider.PaymentResource, error) {
	if m.GetPaymentFunc != nil {
		return m.GetPaymentFunc(ctx, accessToken, paymentID)
	}
	return &provider.PaymentResource{ID: paymentID, Status: "approved", Currency: "ARS"}, nil
}

func (m *mockPaymentProvider) MapPaymentStatus(status string) domain.PaymentStatus {
	switch status {
	case "approved":
		return domain.PaymentPaid
	case "rejected":
		return domain.PaymentFailed
	case "refunded":
		return domain.PaymentRefunded
	case "cancelled":
		return domain.PaymentCancelled
	default:
		return domain.PaymentPending
	}
}

// mockSubscriptionProvider implements provider.SubscriptionProvider.
type mockSubscriptionProvider struct {
	CreatePreapprovalFunc       func(ctx context.Context, params provider.CreatePreapprovalParams) (*provider.PreapprovalResource, error)
	GetPreapprovalFunc          func(ctx context.Context, id string) (*provider.PreapprovalResource, error)
	SearchPreapprovalsFunc      func(ctx context.Context, status string) ([]provider.PreapprovalResource, error)
	UpdatePreapprovalAmountFunc func(ctx context.Context, id string, amountCents int64, currency string) (*provider.PreapprovalResource, error)
	EnsurePlanFunc              func(ctx context.Context, plan domain.Plan) (string, error)
}

func (m *mockSubscriptionProvider) CreatePreapproval(ctx context.Context, params provider.CreatePreapprovalParams) (*provider.PreapprovalResource, error) {
	if m.CreatePreapprovalFunc != nil {
		return m.CreatePreapprovalFunc(ctx, params)
	}
	return &provider.PreapprovalResource{
		ID:                "preapproval-1",
		Status:            "pending",
		ExternalReference: params.ExternalReference,
		PayerEmail:        params.PayerEmail,
		AmountCents:       params.AmountCents,
		Currency:          params.Currency,
		InitPoint:         "https://checkout.example.com/preapproval-1",
	}, nil
}

func (m *mockSubscriptionProvider) GetPreapproval(ctx context.Context, id string) (*provider.PreapprovalResource, error) {
	if m.GetPreapprovalFunc != nil {
		return m.GetPreapprovalFunc(ctx, id)
	}
	return &provider.PreapprovalResource{ID: id, Status: "authorized"}, nil
}

func (m *mockSubscriptionProvider) SearchPreapprovals(ctx context.Context, status string) ([]provider.PreapprovalResource, error) {
	if m.SearchPreapprovalsFunc != nil {
		return m.SearchPreapprovalsFunc(ctx, status)
	}
	return nil, nil
}

func (m *mockSubscriptionProvider) UpdatePreapprovalAmount(ctx context.Context, id string, amountCents int64, currency string) (*provider.PreapprovalResource, error) {
	if m.UpdatePreapprovalAmountFunc != nil {
		return m.UpdatePreapprovalAmountFunc(ctx, id, amountCents, currency)
	}
	return &provider.PreapprovalResource{ID: id, Status: "authorized", AmountCents: amountCents, Currency: currency}, nil
}

func (m *mockSubscriptionProvider) EnsurePlan(ctx context.Context, plan domain.Plan) (string, error) {
	if m.EnsurePlanFunc != nil {
		return m.EnsurePlanFunc(ctx, plan)
	}
	return "external-plan-" + plan.Code, nil
}

func (m *mockSubscriptionProvider) PlanCheckoutURL(externalPlanID, externalReference, payerEmail string) string {
	return "https://checkout.example.com/plans/" + externalPlanID + "?ref=" + externalReference
}

func (m *mockSubscriptionProvider) MapStatus(status string) domain.BillingStatus {
	switch status {
	case "authorized":
		return domain.BillingActive
	case "pending":
		return domain.BillingTrialing
	case "paused":
		return domain.BillingPastDue
	case "cancelled":
		return domain.BillingCanceled
	case "expired":
		return domain.BillingExpired
	default:
		return domain.BillingInactive
	}
}

// mockVerifier implements provider.WebhookVerifier.
type mockVerifier struct {
	ok bool
}

func (m *mockVerifier) Verify(signatureHeader, requestID, resourceID string) bool {
	return m.ok
}

// fakeEncryptor is a reversible stand-in for the AES vault.
type fakeEncryptor struct{}

func (fakeEncryptor) Encrypt(plaintext []byte) (string, error) {
	return "enc:" + base64.StdEncoding.EncodeToString(plaintext), nil
}

func (fakeEncryptor) Decrypt(ciphertext string) ([]byte, error) {
	if len(ciphertext) < 4 || ciphertext[:4] != "enc:" {
		return nil, errors.New("invalid ciphertext")
	}
	return base64.StdEncoding.DecodeString(ciphertext[4:])
}
