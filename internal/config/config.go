package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the entire application configuration
type Config struct {
	Logging   LoggingConfig           `mapstructure:"logging"`
	Download  DownloadConfig          `mapstructure:"download"`
	Inventory InventoryConfig         `mapstructure:"inventory"`
	Auth      AuthConfig              `mapstructure:"auth"`
	S3        S3Config                `mapstructure:"s3"`
	Sources   map[string]SourceConfig `mapstructure:"sources"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Events bool   `mapstructure:"events"` // Log every bus event at debug level
}

// DownloadConfig contains transfer settings shared by all downloaders
type DownloadConfig struct {
	MaxRetries      int    `mapstructure:"max_retries"`
	ChunkSize       int    `mapstructure:"chunk_size"`
	Timeout         string `mapstructure:"timeout"`
	PoolConnections int    `mapstructure:"pool_connections"`
	PoolMaxSize     int    `mapstructure:"pool_max_size"`
	RequestInterval string `mapstructure:"request_interval"`
	RetryBackoff    string `mapstructure:"retry_backoff"`
	RetryMaxBackoff string `mapstructure:"retry_max_backoff"`
	Workers         int    `mapstructure:"workers"`
	SourcesParallel int    `mapstructure:"sources_parallel"`
}

// InventoryConfig contains transfer inventory settings
type InventoryConfig struct {
	Path string `mapstructure:"path"` // Empty disables the inventory
}

// AuthConfig groups credentials per authentication provider
type AuthConfig struct {
	OData ODataAuthConfig `mapstructure:"odata"`
	S3    S3AuthConfig    `mapstructure:"s3"`
}

// ODataAuthConfig contains OAuth2 password-grant credentials
type ODataAuthConfig struct {
	TokenURL string `mapstructure:"token_url"`
	ClientID string `mapstructure:"client_id"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// S3AuthConfig contains object-storage credentials, either static keys
// or the token/keys endpoints for a temporary-key exchange
type S3AuthConfig struct {
	AccessKey    string `mapstructure:"access_key"`
	SecretKey    string `mapstructure:"secret_key"`
	SessionToken string `mapstructure:"session_token"`
	KeysURL      string `mapstructure:"keys_url"`
	TokenURL     string `mapstructure:"token_url"`
	ClientID     string `mapstructure:"client_id"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
}

// S3Config contains object-storage endpoint settings
type S3Config struct {
	EndpointURL string `mapstructure:"endpoint_url"`
	Region      string `mapstructure:"region"`
}

// SourceConfig describes one product source
type SourceConfig struct {
	Auth            string `mapstructure:"auth"`
	Downloader      string `mapstructure:"downloader"`
	Description     string `mapstructure:"description"`
	ExtractArchives bool   `mapstructure:"extract_archives"`
}

// Load loads configuration from the specified file path
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	// Set defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.events", false)
	viper.SetDefault("download.max_retries", 3)
	viper.SetDefault("download.chunk_size", 8192)
	viper.SetDefault("download.timeout", "30s")
	viper.SetDefault("download.pool_connections", 10)
	viper.SetDefault("download.pool_max_size", 2)
	viper.SetDefault("download.request_interval", "0s")
	viper.SetDefault("download.retry_backoff", "1s")
	viper.SetDefault("download.retry_max_backoff", "30s")
	viper.SetDefault("download.workers", 1)
	viper.SetDefault("download.sources_parallel", 1)
	viper.SetDefault("inventory.path", "")
	viper.SetDefault("auth.odata.token_url", "https://identity.dataspace.copernicus.eu/auth/realms/CDSE/protocol/openid-connect/token")
	viper.SetDefault("auth.odata.client_id", "cdse-public")
	viper.SetDefault("auth.s3.token_url", "https://identity.dataspace.copernicus.eu/auth/realms/CDSE/protocol/openid-connect/token")
	viper.SetDefault("auth.s3.client_id", "cdse-public")
	viper.SetDefault("s3.endpoint_url", "https://eodata.dataspace.copernicus.eu")
	viper.SetDefault("s3.region", "default")

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate logging config
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "text":
		// Valid formats
	default:
		return fmt.Errorf("invalid logging.format: %s", c.Logging.Format)
	}

	// Validate download config
	if c.Download.MaxRetries < 1 {
		return fmt.Errorf("download.max_retries must be positive")
	}
	if c.Download.ChunkSize < 1 {
		return fmt.Errorf("download.chunk_size must be positive")
	}
	if c.Download.PoolConnections < 1 {
		return fmt.Errorf("download.pool_connections must be positive")
	}
	if c.Download.PoolMaxSize < 1 {
		return fmt.Errorf("download.pool_max_size must be positive")
	}
	if c.Download.Workers < 1 {
		return fmt.Errorf("download.workers must be positive")
	}
	if c.Download.SourcesParallel < 1 {
		return fmt.Errorf("download.sources_parallel must be positive")
	}
	if _, err := time.ParseDuration(c.Download.Timeout); err != nil {
		return fmt.Errorf("invalid download.timeout: %w", err)
	}
	if c.Download.RequestInterval != "" {
		if _, err := time.ParseDuration(c.Download.RequestInterval); err != nil {
			return fmt.Errorf("invalid download.request_interval: %w", err)
		}
	}
	if c.Download.RetryBackoff != "" {
		if _, err := time.ParseDuration(c.Download.RetryBackoff); err != nil {
			return fmt.Errorf("invalid download.retry_backoff: %w", err)
		}
	}
	if c.Download.RetryMaxBackoff != "" {
		if _, err := time.ParseDuration(c.Download.RetryMaxBackoff); err != nil {
			return fmt.Errorf("invalid download.retry_max_backoff: %w", err)
		}
	}

	// Validate source config
	for name, src := range c.Sources {
		if src.Downloader == "" {
			return fmt.Errorf("sources.%s.downloader is required", name)
		}
		if src.Auth == "" {
			return fmt.Errorf("sources.%s.auth is required", name)
		}
	}

	return nil
}

// GetTimeout returns the per-request timeout as time.Duration
func (c *DownloadConfig) GetTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Timeout)
	if d == 0 {
		return 30 * time.Second
	}
	return d
}

// GetRequestInterval returns the minimum request spacing as time.Duration
func (c *DownloadConfig) GetRequestInterval() time.Duration {
	d, _ := time.ParseDuration(c.RequestInterval)
	return d
}

// GetRetryBackoff returns the initial retry backoff as time.Duration
func (c *DownloadConfig) GetRetryBackoff() time.Duration {
	d, _ := time.ParseDuration(c.RetryBackoff)
	if d == 0 {
		return time.Second
	}
	return d
}

// GetRetryMaxBackoff returns the retry backoff cap as time.Duration
func (c *DownloadConfig) GetRetryMaxBackoff() time.Duration {
	d, _ := time.ParseDuration(c.RetryMaxBackoff)
	if d == 0 {
		return 30 * time.Second
	}
	return d
}
