// Package mercadopago implements the payment and subscription provider seams
// against the MercadoPago HTTP API: OAuth merchant linking, checkout
// preference creation, payment lookup, and preapproval-based recurring
// billing.
package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/farelis/tiendra/internal/domain"
	"github.com/farelis/tiendra/internal/telemetry"
	"github.com/rs/zerolog"
)

const (
	// ProviderCode is the registry key for this provider.
	ProviderCode = "mercadopago"

	defaultBaseURL     = "https://api.mercadopago.com"
	defaultAuthBaseURL = "https://auth.mercadopago.com"
	defaultWWWBaseURL  = "https://www.mercadopago.com"
)

// Config holds the provider credentials and endpoint overrides (the overrides
// exist for tests).
type Config struct {
	ClientID      string
	ClientSecret  string
	RedirectURI   string
	WebhookSecret string

	// AccessToken is the platform-level token used for preapproval and plan
	// management (the platform, not the merchant, owns SaaS subscriptions).
	AccessToken string

	BaseURL     string
	AuthBaseURL string
	WWWBaseURL  string

	Timeout time.Duration
}

// Client talks to the MercadoPago API. It implements provider.PaymentProvider
// and provider.SubscriptionProvider. Timeouts and retries are the HTTP
// client's concern; a provider failure surfaces immediately as EPROVIDER.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a MercadoPago client.
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.AuthBaseURL == "" {
		cfg.AuthBaseURL = defaultAuthBaseURL
	}
	if cfg.WWWBaseURL == "" {
		cfg.WWWBaseURL = defaultWWWBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With().Str("provider", ProviderCode).Logger(),
	}
}

// apiError is the provider's error envelope.
type apiError struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Status  int    `json:"status"`
}

// doRequest executes one JSON API call. token is sent as a bearer credential;
// extraHeaders lets callers forward idempotency keys. Non-2xx responses map
// to EPROVIDER.
func (c *Client) doRequest(ctx context.Context, method, path, token string, body any, extraHeaders map[string]string, out any) error {
	op := "mercadopago." + method + " " + path

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return domain.WrapError(err, domain.EINTERNAL, op, "failed to encode request body")
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reqBody)
	if err != nil {
		return domain.WrapError(err, domain.EINTERNAL, op, "failed to build request")
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range extraHeaders {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.observe(path, method, start, err == nil)
	if err != nil {
		return domain.ProviderError(err, op, "provider request failed")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.ProviderError(err, op, "failed to read provider response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiError
		_ = json.Unmarshal(respBody, &apiErr)
		msg := apiErr.Message
		if msg == "" {
			msg = apiErr.Error
		}
		c.logger.Warn().
			Int("status", resp.StatusCode).
			Str("path", path).
			Str("provider_message", msg).
			Msg("provider call rejected")
		return domain.Errorf(domain.EPROVIDER, op, "provider returned %d: %s", resp.StatusCode, msg)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return domain.ProviderError(err, op, "unexpected provider response shape")
		}
	}

	return nil
}

func (c *Client) observe(path, method string, start time.Time, ok bool) {
	if telemetry.Business == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	telemetry.Business.ProviderAPILatency.
		WithLabelValues(ProviderCode, method+" "+path, outcome).
		Observe(time.Since(start).Seconds())
}

// requireCredentials guards OAuth operations that need the app credentials.
func (c *Client) requireCredentials() error {
	if c.cfg.ClientID == "" || c.cfg.ClientSecret == "" {
		return domain.ErrMissingProviderCredentials
	}
	return nil
}

// requirePlatformToken guards preapproval operations that run on the
// platform account.
func (c *Client) requirePlatformToken(op string) error {
	if c.cfg.AccessToken == "" {
		return &domain.Error{
			Code:    domain.ECONFIG,
			Op:      op,
			Message: "Platform access token is not configured",
		}
	}
	return nil
}

func centsToAmount(cents int64) float64 {
	return float64(cents) / 100
}

func amountToCents(amount float64) int64 {
	return int64(amount*100 + 0.5)
}
