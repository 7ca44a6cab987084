package mercadopago

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/farelis/tiendra/internal/provider"
)

// AuthorizeURL builds the OAuth authorize redirect for merchant account
// linking. The state blob is opaque here; the payments service encrypts and
// validates it.
func (c *Client) AuthorizeURL(state string) (string, error) {
	if err := c.requireCredentials(); err != nil {
		return "", err
	}

	q := url.Values{}
	q.Set("client_id", c.cfg.ClientID)
	q.Set("response_type", "code")
	q.Set("platform_id", "mp")
	q.Set("state", state)
	q.Set("redirect_uri", c.cfg.RedirectURI)

	return c.cfg.AuthBaseURL + "/authorization?" + q.Encode(), nil
}

type oauthTokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	GrantType    string `json:"grant_type"`
	Code         string `json:"code,omitempty"`
	RedirectURI  string `json:"redirect_uri,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

type oauthTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	UserID       int64  `json:"user_id"`
	Scope        string `json:"scope"`
	TokenType    string `json:"token_type"`
}

// ExchangeCode trades an authorization code for merchant tokens.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*provider.OAuthTokens, error) {
	if err := c.requireCredentials(); err != nil {
		return nil, err
	}

	req := oauthTokenRequest{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		GrantType:    "authorization_code",
		Code:         code,
		RedirectURI:  c.cfg.RedirectURI,
	}

	var resp oauthTokenResponse
	if err := c.doRequest(ctx, "POST", "/oauth/token", "", req, nil, &resp); err != nil {
		return nil, err
	}

	return tokensFromResponse(resp), nil
}

// RefreshTokens trades a refresh token for a fresh token pair.
func (c *Client) RefreshTokens(ctx context.Context, refreshToken string) (*provider.OAuthTokens, error) {
	if err := c.requireCredentials(); err != nil {
		return nil, err
	}

	req := oauthTokenRequest{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		GrantType:    "refresh_token",
		RefreshToken: refreshToken,
	}

	var resp oauthTokenResponse
	if err := c.doRequest(ctx, "POST", "/oauth/token", "", req, nil, &resp); err != nil {
		return nil, err
	}

	return tokensFromResponse(resp), nil
}

func tokensFromResponse(resp oauthTokenResponse) *provider.OAuthTokens {
	return &provider.OAuthTokens{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		MerchantID:   strconv.FormatInt(resp.UserID, 10),
		ExpiresAt:    time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second),
		Scope:        resp.Scope,
	}
}
