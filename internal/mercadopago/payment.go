package mercadopago

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/farelis/tiendra/internal/domain"
	"github.com/farelis/tiendra/internal/provider"
)

type paymentResponse struct {
	ID                int64   `json:"id"`
	Status            string  `json:"status"`
	TransactionAmount float64 `json:"transaction_amount"`
	CurrencyID        string  `json:"currency_id"`
	ExternalReference string  `json:"external_reference"`
	CollectorID       int64   `json:"collector_id"`
	Payer             struct {
		Email string `json:"email"`
	} `json:"payer"`
}

// GetPayment fetches the full payment resource using the merchant's token.
func (c *Client) GetPayment(ctx context.Context, accessToken, paymentID string) (*provider.PaymentResource, error) {
	if accessToken == "" {
		return nil, domain.ErrAccountNotConnected
	}
	if paymentID == "" {
		return nil, domain.Invalid("mercadopago.get_payment", "payment id is required")
	}

	var resp paymentResponse
	if err := c.doRequest(ctx, "GET", "/v1/payments/"+paymentID, accessToken, nil, nil, &resp); err != nil {
		return nil, err
	}

	raw, _ := json.Marshal(resp)

	return &provider.PaymentResource{
		ID:                strconv.FormatInt(resp.ID, 10),
		Status:            resp.Status,
		AmountCents:       amountToCents(resp.TransactionAmount),
		Currency:          resp.CurrencyID,
		ExternalReference: resp.ExternalReference,
		MerchantID:        strconv.FormatInt(resp.CollectorID, 10),
		PayerEmail:        resp.Payer.Email,
		Raw:               string(raw),
	}, nil
}
