// Package auth implements provider authentication with refresh semantics.
// A single authenticator instance is shared by all downloader workers of a
// source; implementations serialize credential exchanges internally.
package auth

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/links-ads/satctl/internal/config"
	"github.com/links-ads/satctl/internal/registry"
	"go.uber.org/zap"
)

// ErrNotAuthenticated is returned when a credential is requested before a
// successful authentication.
var ErrNotAuthenticated = errors.New("not authenticated")

// Authenticator produces request-ready credentials for one provider and
// owns the refresh policy for them.
type Authenticator interface {
	// Authenticate performs the provider's credential exchange. A failed
	// exchange leaves the authenticator without a credential.
	Authenticate(ctx context.Context) error

	// EnsureAuthenticated returns without side effects when a credential
	// exists and forceRefresh is false. Otherwise it authenticates, or
	// refreshes the current credential when forceRefresh is set.
	EnsureAuthenticated(ctx context.Context, forceRefresh bool) error

	// AuthHeaders returns the header map for transport-level auth.
	// Providers that authenticate through an opaque session return an
	// empty map; callers obtain the session via SessionProvider.
	AuthHeaders() map[string]string
}

// SessionProvider is implemented by authenticators whose credential is an
// opaque storage session instead of request headers.
type SessionProvider interface {
	// AuthSession returns the storage configuration carrying the current
	// credential. It fails with ErrNotAuthenticated before the first
	// successful exchange.
	AuthSession() (aws.Config, error)
}

// Factory builds an authenticator from the application configuration.
type Factory func(cfg *config.Config, logger *zap.Logger) (Authenticator, error)

// NewRegistry returns a registry with the built-in providers registered.
func NewRegistry() *registry.Registry[Factory] {
	reg := registry.New[Factory]("authenticator")
	reg.Register("odata", func(cfg *config.Config, logger *zap.Logger) (Authenticator, error) {
		return NewODataAuthenticator(cfg.Auth.OData, logger)
	})
	reg.Register("s3", func(cfg *config.Config, logger *zap.Logger) (Authenticator, error) {
		return NewS3Authenticator(cfg.Auth.S3, cfg.S3, logger)
	})
	return reg
}
