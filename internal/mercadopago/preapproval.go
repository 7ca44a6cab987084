package mercadopago

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"time"

	"github.com/farelis/tiendra/internal/domain"
	"github.com/farelis/tiendra/internal/provider"
)

type autoRecurring struct {
	Frequency         int     `json:"frequency"`
	FrequencyType     string  `json:"frequency_type"`
	TransactionAmount float64 `json:"transaction_amount"`
	CurrencyID        string  `json:"currency_id"`
}

type preapprovalRequest struct {
	Reason            string        `json:"reason,omitempty"`
	ExternalReference string        `json:"external_reference,omitempty"`
	PayerEmail        string        `json:"payer_email,omitempty"`
	BackURL           string        `json:"back_url,omitempty"`
	AutoRecurring     autoRecurring `json:"auto_recurring"`
	Status            string        `json:"status,omitempty"`
}

type preapprovalResponse struct {
	ID                string        `json:"id"`
	Status            string        `json:"status"`
	ExternalReference string        `json:"external_reference"`
	PayerEmail        string        `json:"payer_email"`
	InitPoint         string        `json:"init_point"`
	NextPaymentDate   string        `json:"next_payment_date"`
	DateCreated       string        `json:"date_created"`
	AutoRecurring     autoRecurring `json:"auto_recurring"`
}

type searchPaging struct {
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

type preapprovalSearchResponse struct {
	Results []preapprovalResponse `json:"results"`
	Paging  searchPaging          `json:"paging"`
}

// preapprovalSearchPageSize is the page size requested from the search API.
const preapprovalSearchPageSize = 100

type preapprovalPlanRequest struct {
	Reason        string        `json:"reason"`
	AutoRecurring autoRecurring `json:"auto_recurring"`
	BackURL       string        `json:"back_url,omitempty"`
}

type preapprovalPlanResponse struct {
	ID string `json:"id"`
}

// CreatePreapproval creates a provider subscription directly. The payer
// completes authorization at the returned init point; the real local row is
// written once the webhook arrives.
func (c *Client) CreatePreapproval(ctx context.Context, params provider.CreatePreapprovalParams) (*provider.PreapprovalResource, error) {
	if err := c.requirePlatformToken("mercadopago.create_preapproval"); err != nil {
		return nil, err
	}

	req := preapprovalRequest{
		Reason:            params.Reason,
		ExternalReference: params.ExternalReference,
		PayerEmail:        params.PayerEmail,
		BackURL:           params.BackURL,
		Status:            "pending",
		AutoRecurring: autoRecurring{
			Frequency:         params.Frequency,
			FrequencyType:     params.FrequencyType,
			TransactionAmount: centsToAmount(params.AmountCents),
			CurrencyID:        params.Currency,
		},
	}

	var resp preapprovalResponse
	if err := c.doRequest(ctx, "POST", "/preapproval", c.cfg.AccessToken, req, nil, &resp); err != nil {
		return nil, err
	}

	return preapprovalFromResponse(resp), nil
}

// GetPreapproval fetches the authoritative subscription snapshot.
func (c *Client) GetPreapproval(ctx context.Context, id string) (*provider.PreapprovalResource, error) {
	if err := c.requirePlatformToken("mercadopago.get_preapproval"); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, domain.Invalid("mercadopago.get_preapproval", "preapproval id is required")
	}

	var resp preapprovalResponse
	if err := c.doRequest(ctx, "GET", "/preapproval/"+id, c.cfg.AccessToken, nil, nil, &resp); err != nil {
		return nil, err
	}

	return preapprovalFromResponse(resp), nil
}

// SearchPreapprovals lists all provider subscriptions in one status bucket,
// walking the search API's limit/offset paging until exhausted.
func (c *Client) SearchPreapprovals(ctx context.Context, status string) ([]provider.PreapprovalResource, error) {
	if err := c.requirePlatformToken("mercadopago.search_preapprovals"); err != nil {
		return nil, err
	}

	var results []provider.PreapprovalResource
	for offset := 0; ; {
		q := url.Values{}
		if status != "" {
			q.Set("status", status)
		}
		q.Set("limit", strconv.Itoa(preapprovalSearchPageSize))
		q.Set("offset", strconv.Itoa(offset))

		var resp preapprovalSearchResponse
		if err := c.doRequest(ctx, "GET", "/preapproval/search?"+q.Encode(), c.cfg.AccessToken, nil, nil, &resp); err != nil {
			return nil, err
		}
		if len(resp.Results) == 0 {
			break
		}

		for _, r := range resp.Results {
			results = append(results, *preapprovalFromResponse(r))
		}
		offset += len(resp.Results)
		if resp.Paging.Total > 0 && offset >= resp.Paging.Total {
			break
		}
	}
	return results, nil
}

// UpdatePreapprovalAmount changes only the billed amount and currency. The
// provider-side plan identity is not swapped on plan changes.
func (c *Client) UpdatePreapprovalAmount(ctx context.Context, id string, amountCents int64, currency string) (*provider.PreapprovalResource, error) {
	if err := c.requirePlatformToken("mercadopago.update_preapproval_amount"); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, domain.Invalid("mercadopago.update_preapproval_amount", "preapproval id is required")
	}

	req := struct {
		AutoRecurring autoRecurring `json:"auto_recurring"`
	}{
		AutoRecurring: autoRecurring{
			TransactionAmount: centsToAmount(amountCents),
			CurrencyID:        currency,
		},
	}

	var resp preapprovalResponse
	if err := c.doRequest(ctx, "PUT", "/preapproval/"+id, c.cfg.AccessToken, req, nil, &resp); err != nil {
		return nil, err
	}

	return preapprovalFromResponse(resp), nil
}

// EnsurePlan creates a provider-side preapproval plan for the local plan when
// none exists, returning the external plan id.
func (c *Client) EnsurePlan(ctx context.Context, plan domain.Plan) (string, error) {
	if plan.ExternalPlanID != "" {
		return plan.ExternalPlanID, nil
	}
	if err := c.requirePlatformToken("mercadopago.ensure_plan"); err != nil {
		return "", err
	}

	req := preapprovalPlanRequest{
		Reason: plan.Name,
		AutoRecurring: autoRecurring{
			Frequency:         1,
			FrequencyType:     "months",
			TransactionAmount: centsToAmount(plan.PriceCents),
			CurrencyID:        plan.Currency,
		},
	}

	var resp preapprovalPlanResponse
	if err := c.doRequest(ctx, "POST", "/preapproval_plan", c.cfg.AccessToken, req, nil, &resp); err != nil {
		return "", err
	}

	return resp.ID, nil
}

// PlanCheckoutURL builds the hosted checkout URL for a pre-registered plan.
// Subscriptions anchored to an existing plan cannot be created server-side
// without a stored card token, so the payer is redirected here instead.
func (c *Client) PlanCheckoutURL(externalPlanID, externalReference, payerEmail string) string {
	q := url.Values{}
	q.Set("preapproval_plan_id", externalPlanID)
	if externalReference != "" {
		q.Set("external_reference", externalReference)
	}
	if payerEmail != "" {
		q.Set("payer_email", payerEmail)
	}
	return c.cfg.WWWBaseURL + "/subscriptions/checkout?" + q.Encode()
}

func preapprovalFromResponse(resp preapprovalResponse) *provider.PreapprovalResource {
	raw, _ := json.Marshal(resp)

	out := &provider.PreapprovalResource{
		ID:                resp.ID,
		Status:            resp.Status,
		ExternalReference: resp.ExternalReference,
		PayerEmail:        resp.PayerEmail,
		AmountCents:       amountToCents(resp.AutoRecurring.TransactionAmount),
		Currency:          resp.AutoRecurring.CurrencyID,
		InitPoint:         resp.InitPoint,
		Raw:               string(raw),
	}

	if t := parseProviderTime(resp.DateCreated); t != nil {
		out.StartDate = t
	}
	if t := parseProviderTime(resp.NextPaymentDate); t != nil {
		out.NextPaymentDate = t
	}

	return out
}

// parseProviderTime handles the provider's RFC3339-with-millis timestamps.
// Returns nil for empty or unparseable values; period bounds are optional.
func parseProviderTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.000-07:00"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
