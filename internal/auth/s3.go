package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/links-ads/satctl/internal/config"
	"go.uber.org/zap"
)

// S3Authenticator provides object-storage credentials. Static keys from the
// configuration are used directly; otherwise a temporary key pair is fetched
// from the provider's keys endpoint after a bearer-token exchange
// (Copernicus-style). The credential is an aws.Config handed to the storage
// downloader; it carries no request headers.
type S3Authenticator struct {
	cfg      config.S3AuthConfig
	endpoint string
	region   string

	client *http.Client
	logger *zap.Logger

	mu            sync.RWMutex
	accessKey     string
	secretKey     string
	sessionToken  string
	authenticated bool
}

// NewS3Authenticator creates an authenticator for the given credentials.
// Static keys take precedence over the key-exchange endpoints.
func NewS3Authenticator(cfg config.S3AuthConfig, s3cfg config.S3Config, logger *zap.Logger) (*S3Authenticator, error) {
	static := cfg.AccessKey != "" && cfg.SecretKey != ""
	if !static {
		if cfg.KeysURL == "" {
			return nil, errors.New("either static access keys or a keys endpoint must be set")
		}
		if cfg.TokenURL == "" || cfg.ClientID == "" {
			return nil, errors.New("token URL and client ID must be set for key exchange")
		}
		if cfg.Username == "" || cfg.Password == "" {
			return nil, errors.New("username and password must be set for key exchange")
		}
	}

	return &S3Authenticator{
		cfg:      cfg,
		endpoint: s3cfg.EndpointURL,
		region:   s3cfg.Region,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
	}, nil
}

// Authenticate installs static keys or performs the temporary-key exchange.
func (a *S3Authenticator) Authenticate(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.authenticateLocked(ctx)
}

// EnsureAuthenticated makes sure a usable key pair is held. A forced
// refresh replaces the keys wholesale by repeating the exchange.
func (a *S3Authenticator) EnsureAuthenticated(ctx context.Context, forceRefresh bool) error {
	a.mu.RLock()
	authenticated := a.authenticated
	a.mu.RUnlock()

	if authenticated && !forceRefresh {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.authenticated && !forceRefresh {
		return nil
	}
	return a.authenticateLocked(ctx)
}

// AuthHeaders returns an empty map: the credential travels inside the
// storage session, not in request headers.
func (a *S3Authenticator) AuthHeaders() map[string]string {
	return map[string]string{}
}

// AuthSession returns the storage configuration for the current key pair.
func (a *S3Authenticator) AuthSession() (aws.Config, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if !a.authenticated {
		return aws.Config{}, ErrNotAuthenticated
	}

	cfg := aws.Config{
		Region:      a.region,
		Credentials: credentials.NewStaticCredentialsProvider(a.accessKey, a.secretKey, a.sessionToken),
	}
	if a.endpoint != "" {
		cfg.BaseEndpoint = aws.String(a.endpoint)
	}
	return cfg, nil
}

func (a *S3Authenticator) authenticateLocked(ctx context.Context) error {
	a.accessKey = ""
	a.secretKey = ""
	a.sessionToken = ""
	a.authenticated = false

	if a.cfg.AccessKey != "" && a.cfg.SecretKey != "" {
		a.accessKey = a.cfg.AccessKey
		a.secretKey = a.cfg.SecretKey
		a.sessionToken = a.cfg.SessionToken
		a.authenticated = true
		a.logger.Debug("using static storage keys")
		return nil
	}

	access, secret, session, err := a.exchangeKeys(ctx)
	if err != nil {
		return fmt.Errorf("storage key exchange failed: %w", err)
	}

	a.accessKey = access
	a.secretKey = secret
	a.sessionToken = session
	a.authenticated = true
	a.logger.Debug("obtained temporary storage keys")
	return nil
}

// exchangeKeys obtains a bearer token and trades it for a temporary S3 key
// pair at the provider's keys endpoint.
func (a *S3Authenticator) exchangeKeys(ctx context.Context) (access, secret, session string, err error) {
	form := url.Values{
		"grant_type": {"password"},
		"username":   {a.cfg.Username},
		"password":   {a.cfg.Password},
		"client_id":  {a.cfg.ClientID},
	}
	bearer, _, err := requestToken(ctx, a.client, a.cfg.TokenURL, form)
	if err != nil {
		return "", "", "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.KeysURL, nil)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to build keys request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", "", "", fmt.Errorf("keys request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", "", fmt.Errorf("keys endpoint returned status %d", resp.StatusCode)
	}

	var keys struct {
		AccessKey    string `json:"access_key"`
		SecretKey    string `json:"secret_key"`
		SessionToken string `json:"session_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&keys); err != nil {
		return "", "", "", fmt.Errorf("failed to decode keys response: %w", err)
	}
	if keys.AccessKey == "" || keys.SecretKey == "" {
		return "", "", "", errors.New("incomplete key pair in response")
	}
	return keys.AccessKey, keys.SecretKey, keys.SessionToken, nil
}
