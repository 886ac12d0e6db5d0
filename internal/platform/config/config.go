package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	defaultEnvFile         = ".env"
	defaultAPIBaseURL      = "http://localhost:8080"
	defaultAPITimeout      = 10 * time.Second
	defaultCSRFHeader      = "X-CSRFToken"
	defaultTokenPage       = "/"
	defaultPollInterval    = 10 * time.Second
	defaultCartPath        = "/cart/"
	defaultCurrency        = "Ksh"
	defaultPort            = "8080"
	defaultReadTimeout     = 15 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultIdleTimeout     = 120 * time.Second
	defaultStoreTTL        = 7 * 24 * time.Hour
	defaultLogLevel        = "info"
	defaultStorefrontTitle = "Storefront"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	API        APIConfig
	Sync       SyncConfig
	Storefront StorefrontConfig
	Server     ServerConfig
	Session    SessionConfig
	Store      StoreConfig
	Catalog    CatalogConfig
	Log        LogConfig
}

// APIConfig configures the cart service client.
type APIConfig struct {
	BaseURL    string
	Timeout    time.Duration
	CSRFHeader string
	CSRFToken  string
	TokenPage  string
}

// SyncConfig configures the cart synchronisation controller.
type SyncConfig struct {
	PollInterval time.Duration
	CartPath     string
}

// StorefrontConfig describes the shop profile used by the drawer footer.
type StorefrontConfig struct {
	File                  string
	SiteName              string
	WhatsApp              string
	Currency              string
	FreeDeliveryThreshold decimal.Decimal
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// SessionConfig controls the session cookie.
type SessionConfig struct {
	Secure     bool
	CSRFHeader string
}

// StoreConfig selects the cart store backend. An empty RedisURL means in-memory.
type StoreConfig struct {
	RedisURL string
	TTL      time.Duration
}

// CatalogConfig points at an optional YAML catalog.
type CatalogConfig struct {
	File string
}

// LogConfig controls logger verbosity.
type LogConfig struct {
	Level string
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.LookupEnv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// Load resolves configuration from defaults, the optional .env file, the process
// environment and explicit overrides, in increasing order of precedence.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	if err := ctx.Err(); err != nil {
		return Config{}, err
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	var invalid []string

	storefront := StorefrontConfig{
		File:     stringWithDefault(lookup, "CARTSYNC_STOREFRONT_FILE", ""),
		SiteName: defaultStorefrontTitle,
		Currency: defaultCurrency,
	}
	if storefront.File != "" {
		profile, err := loadStorefrontFile(storefront.File)
		if err != nil {
			return Config{}, err
		}
		if err := profile.apply(&storefront); err != nil {
			invalid = append(invalid, "Storefront.File")
		}
	}
	storefront.SiteName = stringWithDefault(lookup, "CARTSYNC_STOREFRONT_SITE_NAME", storefront.SiteName)
	storefront.WhatsApp = stringWithDefault(lookup, "CARTSYNC_STOREFRONT_WHATSAPP", storefront.WhatsApp)
	storefront.Currency = stringWithDefault(lookup, "CARTSYNC_STOREFRONT_CURRENCY", storefront.Currency)
	if threshold, ok, err := decimalValue(lookup, "CARTSYNC_STOREFRONT_FREE_DELIVERY"); err != nil {
		invalid = append(invalid, "Storefront.FreeDeliveryThreshold")
	} else if ok {
		storefront.FreeDeliveryThreshold = threshold
	}

	cfg := Config{
		API: APIConfig{
			BaseURL:    strings.TrimRight(stringWithDefault(lookup, "CARTSYNC_API_BASE_URL", defaultAPIBaseURL), "/"),
			Timeout:    durationWithDefault(lookup, "CARTSYNC_API_TIMEOUT", defaultAPITimeout),
			CSRFHeader: stringWithDefault(lookup, "CARTSYNC_API_CSRF_HEADER", defaultCSRFHeader),
			CSRFToken:  stringWithDefault(lookup, "CARTSYNC_API_CSRF_TOKEN", ""),
			TokenPage:  stringWithDefault(lookup, "CARTSYNC_API_TOKEN_PAGE", defaultTokenPage),
		},
		Sync: SyncConfig{
			PollInterval: durationWithDefault(lookup, "CARTSYNC_SYNC_POLL_INTERVAL", defaultPollInterval),
			CartPath:     stringWithDefault(lookup, "CARTSYNC_SYNC_CART_PATH", defaultCartPath),
		},
		Storefront: storefront,
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "CARTD_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "CARTD_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "CARTD_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "CARTD_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Session: SessionConfig{
			Secure:     boolWithDefault(lookup, "CARTD_SESSION_SECURE", false),
			CSRFHeader: stringWithDefault(lookup, "CARTD_CSRF_HEADER", defaultCSRFHeader),
		},
		Store: StoreConfig{
			RedisURL: stringWithDefault(lookup, "CARTD_STORE_REDIS_URL", ""),
			TTL:      durationWithDefault(lookup, "CARTD_STORE_TTL", defaultStoreTTL),
		},
		Catalog: CatalogConfig{
			File: stringWithDefault(lookup, "CARTD_CATALOG_FILE", ""),
		},
		Log: LogConfig{
			Level: strings.ToLower(stringWithDefault(lookup, "LOG_LEVEL", defaultLogLevel)),
		},
	}

	if err := validateConfig(cfg, invalid); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateConfig(cfg Config, invalid []string) error {
	missing := append([]string(nil), invalid...)

	if u, err := url.Parse(cfg.API.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		missing = append(missing, "API.BaseURL")
	}
	if cfg.API.Timeout <= 0 {
		missing = append(missing, "API.Timeout")
	}
	if strings.TrimSpace(cfg.API.CSRFHeader) == "" {
		missing = append(missing, "API.CSRFHeader")
	}
	if cfg.Sync.PollInterval <= 0 {
		missing = append(missing, "Sync.PollInterval")
	}
	if !strings.HasPrefix(cfg.Sync.CartPath, "/") {
		missing = append(missing, "Sync.CartPath")
	}
	if strings.TrimSpace(cfg.Storefront.Currency) == "" {
		missing = append(missing, "Storefront.Currency")
	}
	if cfg.Storefront.FreeDeliveryThreshold.IsNegative() {
		missing = append(missing, "Storefront.FreeDeliveryThreshold")
	}
	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if strings.TrimSpace(cfg.Session.CSRFHeader) == "" {
		missing = append(missing, "Session.CSRFHeader")
	}
	if cfg.Store.TTL <= 0 {
		missing = append(missing, "Store.TTL")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

type storefrontFile struct {
	SiteName     string `yaml:"site_name"`
	WhatsApp     string `yaml:"whatsapp"`
	Currency     string `yaml:"currency"`
	FreeDelivery string `yaml:"free_delivery_threshold"`
}

func (f storefrontFile) apply(dst *StorefrontConfig) error {
	if v := strings.TrimSpace(f.SiteName); v != "" {
		dst.SiteName = v
	}
	if v := strings.TrimSpace(f.WhatsApp); v != "" {
		dst.WhatsApp = v
	}
	if v := strings.TrimSpace(f.Currency); v != "" {
		dst.Currency = v
	}
	if v := strings.TrimSpace(f.FreeDelivery); v != "" {
		threshold, err := decimal.NewFromString(v)
		if err != nil {
			return err
		}
		dst.FreeDeliveryThreshold = threshold
	}
	return nil
}

func loadStorefrontFile(path string) (storefrontFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return storefrontFile{}, fmt.Errorf("config: unable to read storefront file %s: %w", path, err)
	}
	var profile storefrontFile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return storefrontFile{}, fmt.Errorf("config: failed parsing storefront file %s: %w", path, err)
	}
	return profile, nil
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	if _, err := os.Stat(absPath); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	values, err := godotenv.Read(absPath)
	if err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
		// Bare integers are read as seconds.
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

func decimalValue(lookup func(string) (string, bool), key string) (decimal.Decimal, bool, error) {
	value, ok := lookup(key)
	if !ok || strings.TrimSpace(value) == "" {
		return decimal.Zero, false, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return decimal.Zero, false, err
	}
	return d, true, nil
}
