package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/links-ads/satctl/internal/config"
	"go.uber.org/zap"
)

// ODataAuthenticator handles OAuth2 password-grant authentication for
// Copernicus-style OData catalogues. The credential is a bearer token pair;
// refresh uses the refresh token and falls back to a full re-authentication
// when the refresh grant is rejected.
type ODataAuthenticator struct {
	tokenURL string
	clientID string
	username string
	password string

	client *http.Client
	logger *zap.Logger

	mu           sync.RWMutex
	accessToken  string
	refreshToken string
}

// NewODataAuthenticator creates an authenticator for the given credentials.
func NewODataAuthenticator(cfg config.ODataAuthConfig, logger *zap.Logger) (*ODataAuthenticator, error) {
	if cfg.TokenURL == "" || cfg.ClientID == "" {
		return nil, errors.New("token URL and client ID must be set")
	}
	if cfg.Username == "" || cfg.Password == "" {
		return nil, errors.New("username and password must be set")
	}

	return &ODataAuthenticator{
		tokenURL: cfg.TokenURL,
		clientID: cfg.ClientID,
		username: cfg.Username,
		password: cfg.Password,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
	}, nil
}

// Authenticate exchanges username/password for a token pair.
func (a *ODataAuthenticator) Authenticate(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.authenticateLocked(ctx)
}

// EnsureAuthenticated makes sure a valid access token is held. Concurrent
// callers from the unauthenticated state trigger a single exchange; the
// rest wait on the lock and observe its result.
func (a *ODataAuthenticator) EnsureAuthenticated(ctx context.Context, forceRefresh bool) error {
	a.mu.RLock()
	authenticated := a.accessToken != ""
	a.mu.RUnlock()

	if authenticated && !forceRefresh {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	// Re-check: another caller may have finished the exchange while we
	// waited for the write lock.
	if a.accessToken != "" && !forceRefresh {
		return nil
	}
	if a.accessToken == "" {
		return a.authenticateLocked(ctx)
	}
	return a.refreshLocked(ctx)
}

// AuthHeaders returns the bearer header for the current token, or an empty
// map when unauthenticated.
func (a *ODataAuthenticator) AuthHeaders() map[string]string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.accessToken == "" {
		return map[string]string{}
	}
	return map[string]string{"Authorization": "Bearer " + a.accessToken}
}

func (a *ODataAuthenticator) authenticateLocked(ctx context.Context) error {
	// A failed exchange must leave us unauthenticated, so clear the pair
	// before talking to the provider.
	a.accessToken = ""
	a.refreshToken = ""

	form := url.Values{
		"grant_type": {"password"},
		"username":   {a.username},
		"password":   {a.password},
		"client_id":  {a.clientID},
	}

	access, refresh, err := requestToken(ctx, a.client, a.tokenURL, form)
	if err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	a.accessToken = access
	a.refreshToken = refresh
	a.logger.Debug("authenticated with token endpoint", zap.String("client_id", a.clientID))
	return nil
}

func (a *ODataAuthenticator) refreshLocked(ctx context.Context) error {
	if a.refreshToken == "" {
		a.logger.Warn("no refresh token available, re-authenticating")
		return a.authenticateLocked(ctx)
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {a.refreshToken},
		"client_id":     {a.clientID},
	}

	access, refresh, err := requestToken(ctx, a.client, a.tokenURL, form)
	if err != nil {
		a.logger.Warn("token refresh failed, re-authenticating", zap.Error(err))
		return a.authenticateLocked(ctx)
	}

	a.accessToken = access
	// The provider may rotate the refresh token together with the access
	// token.
	if refresh != "" {
		a.refreshToken = refresh
	}
	a.logger.Debug("refreshed access token")
	return nil
}

// requestToken performs one OAuth2 token-endpoint exchange and returns the
// access/refresh pair. Shared by the bearer and the storage-key flows.
func requestToken(ctx context.Context, client *http.Client, tokenURL string, form url.Values) (access, refresh string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var token struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if token.AccessToken == "" {
		return "", "", errors.New("no access token in response")
	}
	return token.AccessToken, token.RefreshToken, nil
}
