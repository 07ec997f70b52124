package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "DEALWATCH"
	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultDatabasePath    = "dealwatch.db"
	defaultLogLevel        = "info"
	defaultCatalogBaseURL  = "https://www.cheapshark.com/api/1.0"
	defaultImageBaseURL    = "https://www.cheapshark.com"
	defaultCatalogPageSize = 16
	defaultPerStoreQuota   = 5
	defaultTotalTarget     = 16
	defaultListingPageSize = 20
	defaultTokenTTLMinutes = 30
	defaultRefreshTTLHours = 168
	defaultAllowedStoreIDs = "1,7,25"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress     string
	DatabasePath    string
	LogLevel        string
	SigningSecret   string
	TokenTTL        time.Duration
	RefreshTTL      time.Duration
	CatalogBaseURL  string
	CatalogPageSize int
	ImageBaseURL    string
	AllowedStoreIDs []string
	PerStoreQuota   int
	TotalTarget     int
	ListingPageSize int
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("token.refresh_ttl_hours", defaultRefreshTTLHours)
	configViper.SetDefault("catalog.base_url", defaultCatalogBaseURL)
	configViper.SetDefault("catalog.page_size", defaultCatalogPageSize)
	configViper.SetDefault("catalog.image_base_url", defaultImageBaseURL)
	configViper.SetDefault("sync.store_ids", defaultAllowedStoreIDs)
	configViper.SetDefault("sync.per_store_quota", defaultPerStoreQuota)
	configViper.SetDefault("sync.total_target", defaultTotalTarget)
	configViper.SetDefault("listing.page_size", defaultListingPageSize)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:     configViper.GetString("http.address"),
		DatabasePath:    configViper.GetString("database.path"),
		LogLevel:        configViper.GetString("log.level"),
		SigningSecret:   configViper.GetString("auth.signing_secret"),
		TokenTTL:        time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		RefreshTTL:      time.Duration(configViper.GetInt("token.refresh_ttl_hours")) * time.Hour,
		CatalogBaseURL:  configViper.GetString("catalog.base_url"),
		CatalogPageSize: configViper.GetInt("catalog.page_size"),
		ImageBaseURL:    configViper.GetString("catalog.image_base_url"),
		AllowedStoreIDs: splitStoreIDs(configViper.GetString("sync.store_ids")),
		PerStoreQuota:   configViper.GetInt("sync.per_store_quota"),
		TotalTarget:     configViper.GetInt("sync.total_target"),
		ListingPageSize: configViper.GetInt("listing.page_size"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func splitStoreIDs(raw string) []string {
	parts := strings.Split(raw, ",")
	ids := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			ids = append(ids, trimmed)
		}
	}
	return ids
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.CatalogBaseURL) == "" {
		return fmt.Errorf("catalog.base_url is required")
	}
	if len(c.AllowedStoreIDs) == 0 {
		return fmt.Errorf("sync.store_ids requires at least one store id")
	}
	if c.TotalTarget <= 0 {
		return fmt.Errorf("sync.total_target must be positive")
	}
	return nil
}
