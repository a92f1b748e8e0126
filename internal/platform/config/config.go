package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/text/currency"

	"github.com/tillpoint/api/internal/pricing"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultEnvironment          = "local"
	defaultOrderBackend         = OrderBackendFirestore
	defaultFirestoreTxAttempts  = 5
	defaultFirestoreTxTimeout   = 15 * time.Second
	defaultDBMaxOpenConns       = 10
	defaultDBMaxIdleConns       = 5
	defaultDBConnMaxLifetime    = 30 * time.Minute
	defaultRedisSnapshotTTL     = 12 * time.Hour
	defaultKafkaWriteTimeout    = 10 * time.Second
	defaultPricingMode          = pricing.PriceModeExclusive
	defaultPricingCurrency      = "VND"
	defaultPricingMaxItems      = 200
	defaultQuoteRateLimit       = 30
	defaultQuoteRateWindow      = time.Second
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
	defaultMetricsPath          = "/metrics"
)

const (
	// OrderBackendFirestore stores orders in Firestore.
	OrderBackendFirestore = "firestore"
	// OrderBackendPostgres stores orders in Postgres through gorm.
	OrderBackendPostgres = "postgres"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Build       BuildConfig
	Storage     StorageConfig
	Firestore   FirestoreConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	PubSub      PubSubConfig
	Kafka       KafkaConfig
	Pricing     PricingConfig
	Idempotency IdempotencyConfig
	Metrics     MetricsConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// BuildConfig carries build metadata reported by health endpoints.
type BuildConfig struct {
	Version     string
	CommitSHA   string
	Environment string
}

// StorageConfig selects the order store.
type StorageConfig struct {
	OrderBackend string
}

// FirestoreConfig stores database parameters. TxAttempts and TxTimeout bound every
// read-modify-write transaction run through the provider.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
	TxAttempts   int
	TxTimeout    time.Duration
}

// DatabaseConfig configures the SQL order store.
type DatabaseConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig configures the customer display snapshot store. An empty Addr disables it.
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	SnapshotTTL time.Duration
}

// PubSubConfig configures the customer display topic. An empty topic disables it.
type PubSubConfig struct {
	ProjectID    string
	DisplayTopic string
	EmulatorHost string
}

// KafkaConfig configures order and display event streams. No brokers disables Kafka.
// A non-empty SASLUsername enables SASL/PLAIN over TLS.
type KafkaConfig struct {
	Brokers      []string
	OrderTopic   string
	DisplayTopic string
	WriteTimeout time.Duration
	SASLUsername string
	SASLPassword string
}

// PricingConfig holds store level pricing settings.
type PricingConfig struct {
	DefaultMode     pricing.PriceMode
	StoreModes      map[string]pricing.PriceMode
	Currency        string
	MaxItems        int
	QuoteRateLimit  int
	QuoteRateWindow time.Duration
}

// ModeFor returns the price mode configured for a store, falling back to the default.
func (c PricingConfig) ModeFor(storeID string) pricing.PriceMode {
	if mode, ok := c.StoreModes[strings.ToLower(strings.TrimSpace(storeID))]; ok {
		return mode
	}
	return c.DefaultMode
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// MetricsConfig controls the Prometheus scrape endpoint.
type MetricsConfig struct {
	Enabled bool
	Path    string
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

// SecretResolver resolves Secret Manager references found in configuration values.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret calls f.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// SecretError describes a configuration field whose secret reference failed to resolve.
type SecretError struct {
	Field string
	Err   error
}

// Error implements the error interface. The reference itself is left out.
func (e *SecretError) Error() string {
	return fmt.Sprintf("config: resolve secret for %s: %v", e.Field, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
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

// WithSecretResolver sets the resolver used for secretmanager://, sm:// and secret:// values.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// Load assembles the application configuration by combining defaults, .env overrides and
// environment variables.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)
	lookup, err := options.lookup()
	if err != nil {
		return Config{}, err
	}

	var invalid []string

	defaultMode, err := pricing.ParsePriceMode(stringWithDefault(lookup, "API_PRICING_MODE", string(defaultPricingMode)))
	if err != nil {
		invalid = append(invalid, "Pricing.DefaultMode")
	}
	storeModes := make(map[string]pricing.PriceMode)
	for store, raw := range mapWithDefault(lookup, "API_PRICING_STORE_MODES") {
		mode, err := pricing.ParsePriceMode(raw)
		if err != nil {
			invalid = append(invalid, fmt.Sprintf("Pricing.StoreModes[%s]", store))
			continue
		}
		storeModes[store] = mode
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Build: BuildConfig{
			Version:     stringWithDefault(lookup, "API_BUILD_VERSION", "dev"),
			CommitSHA:   stringWithDefault(lookup, "API_BUILD_COMMIT_SHA", ""),
			Environment: strings.ToLower(stringWithDefault(lookup, "API_ENVIRONMENT", defaultEnvironment)),
		},
		Storage: StorageConfig{
			OrderBackend: strings.ToLower(stringWithDefault(lookup, "API_ORDER_BACKEND", defaultOrderBackend)),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
			TxAttempts:   intWithDefault(lookup, "API_FIRESTORE_TX_ATTEMPTS", defaultFirestoreTxAttempts),
			TxTimeout:    durationWithDefault(lookup, "API_FIRESTORE_TX_TIMEOUT", defaultFirestoreTxTimeout),
		},
		Database: DatabaseConfig{
			DSN:             stringWithDefault(lookup, "API_DATABASE_DSN", ""),
			MaxOpenConns:    intWithDefault(lookup, "API_DATABASE_MAX_OPEN_CONNS", defaultDBMaxOpenConns),
			MaxIdleConns:    intWithDefault(lookup, "API_DATABASE_MAX_IDLE_CONNS", defaultDBMaxIdleConns),
			ConnMaxLifetime: durationWithDefault(lookup, "API_DATABASE_CONN_MAX_LIFETIME", defaultDBConnMaxLifetime),
		},
		Redis: RedisConfig{
			Addr:        stringWithDefault(lookup, "API_REDIS_ADDR", ""),
			Password:    stringWithDefault(lookup, "API_REDIS_PASSWORD", ""),
			DB:          intWithDefault(lookup, "API_REDIS_DB", 0),
			SnapshotTTL: durationWithDefault(lookup, "API_REDIS_SNAPSHOT_TTL", defaultRedisSnapshotTTL),
		},
		PubSub: PubSubConfig{
			ProjectID:    stringWithDefault(lookup, "API_PUBSUB_PROJECT_ID", ""),
			DisplayTopic: stringWithDefault(lookup, "API_PUBSUB_DISPLAY_TOPIC", ""),
			EmulatorHost: stringWithDefault(lookup, "API_PUBSUB_EMULATOR_HOST", ""),
		},
		Kafka: KafkaConfig{
			Brokers:      csvWithDefault(lookup, "API_KAFKA_BROKERS"),
			OrderTopic:   stringWithDefault(lookup, "API_KAFKA_ORDER_TOPIC", "orders.persisted"),
			DisplayTopic: stringWithDefault(lookup, "API_KAFKA_DISPLAY_TOPIC", ""),
			WriteTimeout: durationWithDefault(lookup, "API_KAFKA_WRITE_TIMEOUT", defaultKafkaWriteTimeout),
			SASLUsername: stringWithDefault(lookup, "API_KAFKA_SASL_USERNAME", ""),
			SASLPassword: stringWithDefault(lookup, "API_KAFKA_SASL_PASSWORD", ""),
		},
		Pricing: PricingConfig{
			DefaultMode:     defaultMode,
			StoreModes:      storeModes,
			Currency:        strings.ToUpper(stringWithDefault(lookup, "API_PRICING_CURRENCY", defaultPricingCurrency)),
			MaxItems:        intWithDefault(lookup, "API_PRICING_MAX_ITEMS", defaultPricingMaxItems),
			QuoteRateLimit:  intWithDefault(lookup, "API_PRICING_QUOTE_RATE_LIMIT", defaultQuoteRateLimit),
			QuoteRateWindow: durationWithDefault(lookup, "API_PRICING_QUOTE_RATE_WINDOW", defaultQuoteRateWindow),
		},
		Idempotency: IdempotencyConfig{
			Header:           stringWithDefault(lookup, "API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              durationWithDefault(lookup, "API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  durationWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: intWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
		Metrics: MetricsConfig{
			Enabled: boolWithDefault(lookup, "API_METRICS_ENABLED", true),
			Path:    stringWithDefault(lookup, "API_METRICS_PATH", defaultMetricsPath),
		},
	}

	// The display topic lives in the Firestore project unless configured otherwise.
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}

	secretFields := []struct {
		name  string
		field *string
	}{
		{"Database.DSN", &cfg.Database.DSN},
		{"Redis.Password", &cfg.Redis.Password},
		{"Kafka.SASLUsername", &cfg.Kafka.SASLUsername},
		{"Kafka.SASLPassword", &cfg.Kafka.SASLPassword},
	}
	for _, target := range secretFields {
		resolved, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, &SecretError{Field: target.name, Err: err}
		}
		*target.field = resolved
	}

	if err := validateConfig(cfg, invalid); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// EnvironmentValues returns the raw values Load would read, with the same precedence:
// injected map over system environment over the .env file.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := newLoaderOptions(opts)
	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string, len(dotEnvValues))
	for key, value := range dotEnvValues {
		values[key] = value
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			if key, value, ok := strings.Cut(entry, "="); ok && key != "" {
				values[key] = value
			}
		}
	}
	for key, value := range options.envMap {
		values[key] = value
	}
	return values, nil
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

func (o loaderOptions) lookup() (func(string) (string, bool), error) {
	dotEnvValues, err := loadDotEnv(o.envFile)
	if err != nil {
		return nil, err
	}
	return func(key string) (string, bool) {
		if o.envMap != nil {
			if value, ok := o.envMap[key]; ok {
				return value, true
			}
		}
		if o.useSystemEnv {
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
	}, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if !isSecretReference(value) {
		return value, nil
	}
	if resolver == nil {
		return "", errSecretResolverNotConfigured
	}
	return resolver.ResolveSecret(ctx, strings.TrimSpace(value))
}

func isSecretReference(value string) bool {
	scheme, _, ok := strings.Cut(strings.TrimSpace(value), "://")
	if !ok {
		return false
	}
	switch strings.ToLower(scheme) {
	case "secretmanager", "sm", "secret":
		return true
	default:
		return false
	}
}

func validateConfig(cfg Config, invalid []string) error {
	missing := append([]string(nil), invalid...)

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	switch cfg.Storage.OrderBackend {
	case OrderBackendFirestore:
		if cfg.Firestore.ProjectID == "" {
			missing = append(missing, "Firestore.ProjectID")
		}
	case OrderBackendPostgres:
		if cfg.Database.DSN == "" {
			missing = append(missing, "Database.DSN")
		}
	default:
		missing = append(missing, "Storage.OrderBackend")
	}
	if cfg.Firestore.TxAttempts <= 0 {
		missing = append(missing, "Firestore.TxAttempts")
	}
	if cfg.Firestore.TxTimeout <= 0 {
		missing = append(missing, "Firestore.TxTimeout")
	}
	if _, err := currency.ParseISO(cfg.Pricing.Currency); err != nil {
		missing = append(missing, "Pricing.Currency")
	}
	if cfg.Pricing.MaxItems <= 0 {
		missing = append(missing, "Pricing.MaxItems")
	}
	if len(cfg.Kafka.Brokers) > 0 && strings.TrimSpace(cfg.Kafka.OrderTopic) == "" {
		missing = append(missing, "Kafka.OrderTopic")
	}
	if cfg.Kafka.SASLUsername != "" && cfg.Kafka.SASLPassword == "" {
		missing = append(missing, "Kafka.SASLPassword")
	}
	if cfg.PubSub.DisplayTopic != "" && cfg.PubSub.ProjectID == "" {
		missing = append(missing, "PubSub.ProjectID")
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
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		missing = append(missing, "Metrics.Path")
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

func csvWithDefault(lookup func(string) (string, bool), key string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// mapWithDefault parses "key=value" CSV pairs; keys are lower-cased.
func mapWithDefault(lookup func(string) (string, bool), key string) map[string]string {
	values := make(map[string]string)
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return values
	}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(parts[0]))
		value := strings.TrimSpace(parts[1])
		if name == "" || value == "" {
			continue
		}
		values[name] = value
	}
	return values
}
