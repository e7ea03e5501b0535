package auth

import (
	"context"
	"sync"

	"session-trust/internal/models"
)

// SessionControl binds the provider client to one concrete session so the
// lifecycle checks can refresh or revoke it without carrying tokens around.
type SessionControl struct {
	provider *ProviderClient

	mu      sync.Mutex
	session *models.Session
}

func NewSessionControl(provider *ProviderClient, session *models.Session) *SessionControl {
	return &SessionControl{provider: provider, session: session}
}

// Refresh exchanges the session's refresh token for a new token pair and
// rotates the stored tokens on success.
func (c *SessionControl) Refresh(ctx context.Context) error {
	c.mu.Lock()
	refreshToken := c.session.RefreshToken
	c.mu.Unlock()

	resp, err := c.provider.RefreshSession(ctx, refreshToken)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.session.Token = resp.AccessToken
	if resp.RefreshToken != "" {
		c.session.RefreshToken = resp.RefreshToken
	}
	c.mu.Unlock()
	return nil
}

// SignOut revokes the session at the provider.
func (c *SessionControl) SignOut(ctx context.Context) error {
	c.mu.Lock()
	refreshToken := c.session.RefreshToken
	c.mu.Unlock()
	return c.provider.SignOut(ctx, refreshToken)
}
