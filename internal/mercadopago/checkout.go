package mercadopago

import (
	"context"

	"github.com/farelis/tiendra/internal/domain"
	"github.com/farelis/tiendra/internal/provider"
)

type preferenceItem struct {
	Title      string  `json:"title"`
	Quantity   int64   `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	CurrencyID string  `json:"currency_id"`
}

type preferenceRequest struct {
	Items             []preferenceItem `json:"items"`
	ExternalReference string           `json:"external_reference"`
	NotificationURL   string           `json:"notification_url,omitempty"`
	Payer             *preferencePayer `json:"payer,omitempty"`
}

type preferencePayer struct {
	Email string `json:"email"`
}

type preferenceResponse struct {
	ID                string `json:"id"`
	InitPoint         string `json:"init_point"`
	SandboxInitPoint  string `json:"sandbox_init_point"`
	ExternalReference string `json:"external_reference"`
}

// CreateCheckout creates a checkout preference on the merchant's account.
// The caller-supplied idempotency key is forwarded so provider-side retries
// of the same creation collapse into a single session.
func (c *Client) CreateCheckout(ctx context.Context, accessToken string, params provider.CreateCheckoutParams) (*provider.Checkout, error) {
	op := "mercadopago.create_checkout"

	if accessToken == "" {
		return nil, domain.ErrAccountNotConnected
	}
	if len(params.Items) == 0 {
		return nil, domain.Invalid(op, "checkout requires at least one item")
	}

	req := preferenceRequest{
		ExternalReference: params.ExternalReference,
		NotificationURL:   params.NotificationURL,
	}
	for _, item := range params.Items {
		req.Items = append(req.Items, preferenceItem{
			Title:      item.Title,
			Quantity:   item.Quantity,
			UnitPrice:  centsToAmount(item.AmountCents),
			CurrencyID: item.Currency,
		})
	}
	if params.PayerEmail != "" {
		req.Payer = &preferencePayer{Email: params.PayerEmail}
	}

	headers := map[string]string{}
	if params.IdempotencyKey != "" {
		headers["X-Idempotency-Key"] = params.IdempotencyKey
	}

	var resp preferenceResponse
	if err := c.doRequest(ctx, "POST", "/checkout/preferences", accessToken, req, headers, &resp); err != nil {
		return nil, err
	}

	return &provider.Checkout{
		ID:                resp.ID,
		URL:               resp.InitPoint,
		ExternalReference: resp.ExternalReference,
	}, nil
}
