package domain

import (
	"strings"
	"time"
)

// GateDecision is the access gate verdict for one request.
type GateDecision struct {
	Allow bool
	// PaymentRequired signals the transport layer to answer 402 instead of 403.
	PaymentRequired bool
}

// gateAllowList holds the path prefixes that always pass, regardless of
// billing state. Without it a tenant with an expired plan could never reach
// the billing endpoints needed to fix that state.
var gateAllowList = []string{
	"/health",
	"/metrics",
	"/public/",
	"/payments/webhooks/",
	"/payments/mercadopago/callback",
	"/billing/",
	"/superadmin/",
}

// EvaluateGate decides whether a request may proceed given the tenant's
// cached billing snapshot. Pure function of its inputs; now is injected for
// testability.
func EvaluateGate(tenant *Tenant, path string, now time.Time) GateDecision {
	for _, prefix := range gateAllowList {
		if strings.HasPrefix(path, prefix) || path == strings.TrimSuffix(prefix, "/") {
			return GateDecision{Allow: true}
		}
	}

	withinGrace := tenant.PlanEndsAt != nil && !now.After(*tenant.PlanEndsAt)

	switch tenant.BillingStatus {
	case BillingActive, BillingTrialing:
		return GateDecision{Allow: true}

	case BillingPastDue:
		if tenant.PastDueOverride {
			return GateDecision{Allow: true}
		}
		return GateDecision{Allow: false, PaymentRequired: true}

	case BillingInactive:
		if withinGrace {
			return GateDecision{Allow: true}
		}
		return GateDecision{Allow: false, PaymentRequired: true}

	case BillingCanceled, BillingExpired:
		if withinGrace {
			return GateDecision{Allow: true}
		}
		return GateDecision{Allow: false, PaymentRequired: true}

	default:
		return GateDecision{Allow: false}
	}
}
