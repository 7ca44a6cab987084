package provider

import "fmt"

// Entry bundles the three provider-facing surfaces for one provider code.
type Entry struct {
	Payments      PaymentProvider
	Subscriptions SubscriptionProvider
	Webhooks      WebhookVerifier
}

// Registry is an immutable mapping from provider code to implementation,
// constructed once at process start and handed to the services by dependency
// injection. There is deliberately no registration method after construction.
type Registry struct {
	entries map[string]Entry
}

// NewRegistry builds a registry from the given entries. The map is copied so
// later mutation of the argument cannot leak in.
func NewRegistry(entries map[string]Entry) (*Registry, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("provider registry requires at least one provider")
	}

	copied := make(map[string]Entry, len(entries))
	for code, entry := range entries {
		if entry.Payments == nil || entry.Subscriptions == nil || entry.Webhooks == nil {
			return nil, fmt.Errorf("provider %q: incomplete entry", code)
		}
		copied[code] = entry
	}

	return &Registry{entries: copied}, nil
}

// Get returns the entry for a provider code.
func (r *Registry) Get(code string) (Entry, bool) {
	entry, ok := r.entries[code]
	return entry, ok
}

// Codes lists the registered provider codes.
func (r *Registry) Codes() []string {
	codes := make([]string, 0, len(r.entries))
	for code := range r.entries {
		codes = append(codes, code)
	}
	return codes
}
