// internal/common/auth/provider.go
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"session-trust/internal/common/errors"
	"session-trust/internal/models"
)

// ProviderClient talks to the external OpenID Connect authentication
// provider. The engine never issues tokens itself; it introspects, refreshes
// and revokes sessions through the provider's standard endpoints.
type ProviderClient struct {
	baseURL      string
	realm        string
	clientID     string
	clientSecret string
	httpClient   *http.Client
}

// TokenResponse holds the response from the provider's token endpoint.
type TokenResponse struct {
	AccessToken      string `json:"access_token"`
	ExpiresIn        int    `json:"expires_in"`
	RefreshExpiresIn int    `json:"refresh_expires_in"`
	TokenType        string `json:"token_type"`
	RefreshToken     string `json:"refresh_token"`
	Scope            string `json:"scope"`
}

// introspection is the provider's token introspection response.
type introspection struct {
	Active       bool   `json:"active"`
	Subject      string `json:"sub"`
	SessionState string `json:"session_state"`
	IssuedAt     int64  `json:"iat"`
	ExpiresAt    int64  `json:"exp"`
}

// NewProviderClient creates a new instance of ProviderClient.
func NewProviderClient(baseURL, realm, clientID, clientSecret string) *ProviderClient {
	return &ProviderClient{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		realm:        realm,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

// CurrentSession introspects an access token and returns the session it
// represents, or nil if the provider reports the token inactive.
func (p *ProviderClient) CurrentSession(ctx context.Context, accessToken string) (*models.Session, error) {
	introspectURL := fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token/introspect", p.baseURL, p.realm)

	data := url.Values{}
	data.Set("token", accessToken)
	data.Set("client_id", p.clientID)
	data.Set("client_secret", p.clientSecret)

	var result introspection
	if err := p.postForm(ctx, introspectURL, data, &result); err != nil {
		return nil, errors.NewAuthProviderError("introspect", err)
	}

	if !result.Active {
		return nil, nil
	}

	return &models.Session{
		ID:        result.SessionState,
		UserID:    result.Subject,
		Token:     accessToken,
		CreatedAt: time.Unix(result.IssuedAt, 0).UTC(),
		ExpiresAt: time.Unix(result.ExpiresAt, 0).UTC(),
	}, nil
}

// RefreshSession exchanges a refresh token for a new token pair. A failure
// here is fatal to the monitored session.
func (p *ProviderClient) RefreshSession(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	tokenURL := fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", p.baseURL, p.realm)

	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)
	data.Set("client_id", p.clientID)
	data.Set("client_secret", p.clientSecret)

	var tokenResp TokenResponse
	if err := p.postForm(ctx, tokenURL, data, &tokenResp); err != nil {
		return nil, errors.NewSessionRefreshFailedError(err)
	}

	return &tokenResp, nil
}

// SignOut revokes the session behind the given refresh token.
func (p *ProviderClient) SignOut(ctx context.Context, refreshToken string) error {
	logoutURL := fmt.Sprintf("%s/realms/%s/protocol/openid-connect/logout", p.baseURL, p.realm)

	data := url.Values{}
	data.Set("refresh_token", refreshToken)
	data.Set("client_id", p.clientID)
	data.Set("client_secret", p.clientSecret)

	if err := p.postForm(ctx, logoutURL, data, nil); err != nil {
		return errors.NewAuthProviderError("logout", err)
	}
	return nil
}

// postForm executes a form POST and decodes the JSON response into out when
// out is non-nil.
func (p *ProviderClient) postForm(ctx context.Context, endpoint string, data url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("provider request failed with status %d: %s", resp.StatusCode, string(body))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
