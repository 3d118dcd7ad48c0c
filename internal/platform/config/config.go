package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultResolverTimeout      = 5 * time.Second
	defaultResolverMaxBodyBytes = 1 << 20
	defaultProtocolVersion      = "2026-01-01"
	defaultCurrency             = "USD"
	defaultTaxDefaultBps        = 0
	defaultStoreBackend         = "memory"
	defaultRedisAddr            = "localhost:6379"
	defaultStoreTTL             = 24 * time.Hour
	defaultPaymentHandler       = "mock"
	defaultPermalinkBase        = "https://example.com/order"
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Protocol    ProtocolConfig
	Resolver    ResolverConfig
	Checkout    CheckoutConfig
	Tax         TaxConfig
	Payments    PaymentsConfig
	Store       StoreConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// ProtocolConfig pins the merchant's protocol surface.
type ProtocolConfig struct {
	Version string
}

// ResolverConfig bounds remote client-profile fetches.
type ResolverConfig struct {
	Timeout      time.Duration
	MaxBodyBytes int64
	UserAgent    string
}

// CheckoutConfig carries merchant-side checkout settings.
type CheckoutConfig struct {
	Currency           string
	OrderPermalinkBase string
	DiscountCodes      map[string]int64
}

// TaxConfig keys tax rates, in basis points, by address region.
type TaxConfig struct {
	RegionBps    map[string]int64
	DefaultBps   int64
	NoAddressBps int64
}

// PaymentsConfig selects and credentials the payment handlers.
type PaymentsConfig struct {
	DefaultHandler string
	StripeAPIKey   string
}

// StoreConfig selects the checkout store backend.
type StoreConfig struct {
	Backend       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
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

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// Load assembles the application configuration by combining defaults, .env overrides,
// and environment variables.
func Load(opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}

	for _, opt := range opts {
		opt(&options)
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

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "UCP_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "UCP_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "UCP_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "UCP_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Protocol: ProtocolConfig{
			Version: stringWithDefault(lookup, "UCP_PROTOCOL_VERSION", defaultProtocolVersion),
		},
		Resolver: ResolverConfig{
			Timeout:      durationWithDefault(lookup, "UCP_RESOLVER_TIMEOUT", defaultResolverTimeout),
			MaxBodyBytes: int64WithDefault(lookup, "UCP_RESOLVER_MAX_BODY_BYTES", defaultResolverMaxBodyBytes),
			UserAgent:    stringWithDefault(lookup, "UCP_RESOLVER_USER_AGENT", "ucp-merchant/1.0"),
		},
		Checkout: CheckoutConfig{
			Currency:           strings.ToUpper(stringWithDefault(lookup, "UCP_CHECKOUT_CURRENCY", defaultCurrency)),
			OrderPermalinkBase: stringWithDefault(lookup, "UCP_CHECKOUT_PERMALINK_BASE", defaultPermalinkBase),
			DiscountCodes:      amountMapWithDefault(lookup, "UCP_CHECKOUT_DISCOUNT_CODES"),
		},
		Tax: TaxConfig{
			RegionBps:    amountMapWithDefault(lookup, "UCP_TAX_REGION_BPS"),
			DefaultBps:   int64WithDefault(lookup, "UCP_TAX_DEFAULT_BPS", defaultTaxDefaultBps),
			NoAddressBps: int64WithDefault(lookup, "UCP_TAX_NO_ADDRESS_BPS", 0),
		},
		Payments: PaymentsConfig{
			DefaultHandler: strings.ToLower(stringWithDefault(lookup, "UCP_PAYMENTS_DEFAULT_HANDLER", defaultPaymentHandler)),
			StripeAPIKey:   stringWithDefault(lookup, "UCP_PAYMENTS_STRIPE_API_KEY", ""),
		},
		Store: StoreConfig{
			Backend:       strings.ToLower(stringWithDefault(lookup, "UCP_STORE_BACKEND", defaultStoreBackend)),
			RedisAddr:     stringWithDefault(lookup, "UCP_STORE_REDIS_ADDR", defaultRedisAddr),
			RedisPassword: stringWithDefault(lookup, "UCP_STORE_REDIS_PASSWORD", ""),
			RedisDB:       intWithDefault(lookup, "UCP_STORE_REDIS_DB", 0),
			TTL:           durationWithDefault(lookup, "UCP_STORE_TTL", defaultStoreTTL),
		},
		Idempotency: IdempotencyConfig{
			Header:           stringWithDefault(lookup, "UCP_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              durationWithDefault(lookup, "UCP_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  durationWithDefault(lookup, "UCP_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: intWithDefault(lookup, "UCP_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if strings.TrimSpace(cfg.Protocol.Version) == "" {
		missing = append(missing, "Protocol.Version")
	}
	if cfg.Resolver.Timeout <= 0 {
		missing = append(missing, "Resolver.Timeout")
	}
	if cfg.Resolver.MaxBodyBytes <= 0 {
		missing = append(missing, "Resolver.MaxBodyBytes")
	}
	if cfg.Checkout.Currency == "" {
		missing = append(missing, "Checkout.Currency")
	}
	if cfg.Tax.DefaultBps < 0 {
		missing = append(missing, "Tax.DefaultBps")
	}
	if cfg.Tax.NoAddressBps < 0 {
		missing = append(missing, "Tax.NoAddressBps")
	}
	switch cfg.Store.Backend {
	case "memory":
	case "redis":
		if cfg.Store.RedisAddr == "" {
			missing = append(missing, "Store.RedisAddr")
		}
	default:
		missing = append(missing, "Store.Backend")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		missing = append(missing, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		missing = append(missing, "Idempotency.TTL")
	}
	if cfg.Idempotency.CleanupInterval <= 0 {
		missing = append(missing, "Idempotency.CleanupInterval")
	}
	if cfg.Idempotency.CleanupBatchSize <= 0 {
		missing = append(missing, "Idempotency.CleanupBatchSize")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		value = strings.Trim(value, "\"'")
		values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func int64WithDefault(lookup func(string) (string, bool), key string, fallback int64) int64 {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

// amountMapWithDefault parses "key=value" CSV entries into a map of integer
// minor-unit amounts, e.g. "CA=1000,NY=875".
func amountMapWithDefault(lookup func(string) (string, bool), key string) map[string]int64 {
	values := make(map[string]int64)
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return values
	}
	entries := strings.Split(raw, ",")
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.TrimSpace(parts[0])
		amount, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
		if err != nil || name == "" {
			continue
		}
		values[name] = amount
	}
	return values
}
