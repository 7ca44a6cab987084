package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/farelis/tiendra/internal/domain"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func performGated(t *testing.T, tenant *domain.Tenant, path string) (*httptest.ResponseRecorder, error) {
	t.Helper()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if tenant != nil {
		c.Set(tenantContextKey, tenant)
	}

	next := func(c echo.Context) error { return c.NoContent(http.StatusOK) }
	err := BillingGate()(next)(c)
	return rec, err
}

func TestBillingGateAllowsActiveTenant(t *testing.T) {
	rec, err := performGated(t, &domain.Tenant{BillingStatus: domain.BillingActive}, "/admin/products")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBillingGateBlocksPastDueWith402(t *testing.T) {
	_, err := performGated(t, &domain.Tenant{BillingStatus: domain.BillingPastDue}, "/admin/products")
	require.Error(t, err)

	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusPaymentRequired, httpErr.Code)
}

func TestBillingGateAllowsCanceledWithinGrace(t *testing.T) {
	endsAt := time.Now().Add(48 * time.Hour)
	rec, err := performGated(t, &domain.Tenant{BillingStatus: domain.BillingCanceled, PlanEndsAt: &endsAt}, "/admin/products")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBillingGateAllowsBillingRoutesRegardlessOfState(t *testing.T) {
	rec, err := performGated(t, &domain.Tenant{BillingStatus: domain.BillingInactive}, "/billing/subscriptions")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBillingGatePassesThroughWithoutTenant(t *testing.T) {
	rec, err := performGated(t, nil, "/admin/products")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
}
