package mercadopago

import "github.com/farelis/tiendra/internal/domain"

// MapStatus translates the provider's preapproval status vocabulary into the
// internal billing status. Total function: anything unrecognized maps to
// INACTIVE.
func (c *Client) MapStatus(status string) domain.BillingStatus {
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

// MapPaymentStatus translates the provider's payment status vocabulary into
// the internal payment status. Total function: anything unrecognized maps to
// PENDING.
func (c *Client) MapPaymentStatus(status string) domain.PaymentStatus {
	switch status {
	case "approved":
		return domain.PaymentPaid
	case "pending", "in_process", "authorized":
		return domain.PaymentPending
	case "rejected":
		return domain.PaymentFailed
	case "refunded", "charged_back":
		return domain.PaymentRefunded
	case "cancelled":
		return domain.PaymentCancelled
	default:
		return domain.PaymentPending
	}
}
