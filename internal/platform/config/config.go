// Package config loads runtime settings from FULFILLMENT_* variables, a .env file and Secret Manager.
package config

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/language"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultStoreDriver          = StoreDriverFirestore
	defaultSQLitePath           = "./data/fulfillment.db"
	defaultFirestoreTxAttempts  = 5
	defaultFirestoreTxTimeout   = 15 * time.Second
	defaultEventsTopic          = "fulfillment-events"
	defaultAMQPExchange         = "purchasing"
	defaultAMQPQueue            = "fulfillment.purchase-received"
	defaultAMQPRoutingKey       = "purchase.received"
	defaultAMQPPrefetch         = 10
	defaultAMQPActorID          = "svc_purchasing"
	defaultSecurityEnvironment  = "local"
	defaultOIDCJWKSURL          = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer       = "https://accounts.google.com"
	defaultIdempotencyBackend   = IdempotencyBackendFirestore
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
	defaultLocale               = "en"
	defaultBatchRateLimit       = 30
	defaultBatchRateWindow      = time.Minute
)

// Store drivers.
const (
	StoreDriverFirestore = "firestore"
	StoreDriverSQLite    = "sqlite"
)

// Idempotency backends.
const (
	IdempotencyBackendMemory    = "memory"
	IdempotencyBackendFirestore = "firestore"
	IdempotencyBackendRedis     = "redis"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Store       StoreConfig
	PubSub      PubSubConfig
	AMQP        AMQPConfig
	Redis       RedisConfig
	Idempotency IdempotencyConfig
	Stripe      StripeConfig
	Security    SecurityConfig
	Allocation  AllocationConfig
	Locale      LocaleConfig
	RateLimit   RateLimitConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirebaseConfig identifies the project whose ID tokens authenticate staff.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
	TxAttempts   int
	TxTimeout    time.Duration
}

// StoreConfig selects the repository driver.
type StoreConfig struct {
	Driver     string
	SQLitePath string
}

// PubSubConfig configures outbound fulfillment events. An empty topic disables publishing.
type PubSubConfig struct {
	ProjectID   string
	EventsTopic string
}

// AMQPConfig configures the purchase receipt consumer. An empty URL disables it.
type AMQPConfig struct {
	URL        string
	Exchange   string
	Queue      string
	RoutingKey string
	Prefetch   int
	ActorID    string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Backend          string
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// StripeConfig enables PaymentIntent verification when APIKey is set.
type StripeConfig struct {
	APIKey   string
	Account  string
	Currency string
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
}

// OIDCConfig controls Google-signed token verification on internal endpoints.
type OIDCConfig struct {
	JWKSURL   string
	Audience  string
	Audiences map[string]string
	Issuers   []string
}

type AllocationConfig struct {
	DefaultStoreID string
}

// LocaleConfig selects the language used for formatted money in responses.
type LocaleConfig struct {
	Default string
}

// Tag returns the parsed default language.
func (l LocaleConfig) Tag() language.Tag {
	tag, err := language.Parse(l.Default)
	if err != nil {
		return language.English
	}
	return tag
}

// RateLimitConfig caps batch status transitions per actor. A zero limit disables the cap.
type RateLimitConfig struct {
	BatchTransitions int
	Window           time.Duration
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile               string
	envMap                map[string]string
	useSystemEnv          bool
	secret                SecretResolver
	requiredSecrets       []string
	panicOnMissingSecrets bool
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

func (o loaderOptions) source() (source, error) {
	dotenv, err := loadDotEnv(o.envFile)
	if err != nil {
		return source{}, err
	}
	return source{explicit: o.envMap, system: o.useSystemEnv, dotenv: dotenv}, nil
}

// WithEnvFile overrides the .env file path. An empty path disables it.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap injects values that take precedence over the OS environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv disables reading the OS environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// WithRequiredSecrets marks config fields (e.g. "Stripe.APIKey") that must resolve to a value.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) { o.requiredSecrets = append(o.requiredSecrets, names...) }
}

// WithPanicOnMissingSecrets causes Load to panic when required secrets are missing.
func WithPanicOnMissingSecrets() Option {
	return func(o *loaderOptions) { o.panicOnMissingSecrets = true }
}

// EnvironmentValues returns the effective environment after applying Load's precedence rules,
// so the secret fetcher can be configured from the same inputs before Load runs.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	src, err := newLoaderOptions(opts).source()
	if err != nil {
		return nil, err
	}
	return src.values(), nil
}

// Load assembles the configuration from defaults, .env, the environment and secret references.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)
	src, err := options.source()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         src.str("FULFILLMENT_SERVER_PORT", defaultPort),
			ReadTimeout:  src.duration("FULFILLMENT_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: src.duration("FULFILLMENT_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  src.duration("FULFILLMENT_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       src.str("FULFILLMENT_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: src.str("FULFILLMENT_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    src.str("FULFILLMENT_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: src.str("FULFILLMENT_FIRESTORE_EMULATOR_HOST", ""),
			TxAttempts:   src.integer("FULFILLMENT_FIRESTORE_TX_ATTEMPTS", defaultFirestoreTxAttempts),
			TxTimeout:    src.duration("FULFILLMENT_FIRESTORE_TX_TIMEOUT", defaultFirestoreTxTimeout),
		},
		Store: StoreConfig{
			Driver:     strings.ToLower(src.str("FULFILLMENT_STORE_DRIVER", defaultStoreDriver)),
			SQLitePath: src.str("FULFILLMENT_STORE_SQLITE_PATH", defaultSQLitePath),
		},
		PubSub: PubSubConfig{
			ProjectID:   src.str("FULFILLMENT_PUBSUB_PROJECT_ID", ""),
			EventsTopic: src.str("FULFILLMENT_PUBSUB_EVENTS_TOPIC", defaultEventsTopic),
		},
		AMQP: AMQPConfig{
			URL:        src.str("FULFILLMENT_AMQP_URL", ""),
			Exchange:   src.str("FULFILLMENT_AMQP_EXCHANGE", defaultAMQPExchange),
			Queue:      src.str("FULFILLMENT_AMQP_QUEUE", defaultAMQPQueue),
			RoutingKey: src.str("FULFILLMENT_AMQP_ROUTING_KEY", defaultAMQPRoutingKey),
			Prefetch:   src.integer("FULFILLMENT_AMQP_PREFETCH", defaultAMQPPrefetch),
			ActorID:    src.str("FULFILLMENT_AMQP_ACTOR_ID", defaultAMQPActorID),
		},
		Redis: RedisConfig{
			Addr:     src.str("FULFILLMENT_REDIS_ADDR", ""),
			Password: src.str("FULFILLMENT_REDIS_PASSWORD", ""),
			DB:       src.integer("FULFILLMENT_REDIS_DB", 0),
		},
		Idempotency: IdempotencyConfig{
			Backend:          strings.ToLower(src.str("FULFILLMENT_IDEMPOTENCY_BACKEND", defaultIdempotencyBackend)),
			Header:           src.str("FULFILLMENT_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              src.duration("FULFILLMENT_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  src.duration("FULFILLMENT_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: src.integer("FULFILLMENT_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
		Stripe: StripeConfig{
			APIKey:   src.str("FULFILLMENT_STRIPE_API_KEY", ""),
			Account:  src.str("FULFILLMENT_STRIPE_ACCOUNT", ""),
			Currency: strings.ToLower(src.str("FULFILLMENT_STRIPE_CURRENCY", "")),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(src.str("FULFILLMENT_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
			OIDC: OIDCConfig{
				JWKSURL:   src.str("FULFILLMENT_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience:  src.str("FULFILLMENT_SECURITY_OIDC_AUDIENCE", ""),
				Audiences: src.pairs("FULFILLMENT_SECURITY_OIDC_AUDIENCES"),
				Issuers:   src.csv("FULFILLMENT_SECURITY_OIDC_ISSUERS"),
			},
		},
		Allocation: AllocationConfig{
			DefaultStoreID: src.str("FULFILLMENT_ALLOCATION_DEFAULT_STORE_ID", ""),
		},
		Locale: LocaleConfig{
			Default: src.str("FULFILLMENT_LOCALE_DEFAULT", defaultLocale),
		},
		RateLimit: RateLimitConfig{
			BatchTransitions: src.integer("FULFILLMENT_RATE_LIMIT_BATCH_TRANSITIONS", defaultBatchRateLimit),
			Window:           src.duration("FULFILLMENT_RATE_LIMIT_WINDOW", defaultBatchRateWindow),
		},
	}

	// Firestore and Pub/Sub share the Firebase project unless overridden.
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultSecurityIssuer}
	}
	if cfg.Security.OIDC.Audience == "" {
		cfg.Security.OIDC.Audience = cfg.Security.OIDC.Audiences[cfg.Security.Environment]
	}

	resolved := make(map[string]string)
	for _, target := range []struct {
		name  string
		field *string
	}{
		{"Stripe.APIKey", &cfg.Stripe.APIKey},
		{"Redis.Password", &cfg.Redis.Password},
		{"AMQP.URL", &cfg.AMQP.URL},
	} {
		value, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = value
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		if options.panicOnMissingSecrets {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}
	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, "secret://") && !strings.HasPrefix(trimmed, "sm://") {
		return value, nil
	}
	ref := "secret://" + strings.TrimPrefix(strings.TrimPrefix(trimmed, "secret://"), "sm://")
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var invalid []string
	check := func(ok bool, field string) {
		if !ok {
			invalid = append(invalid, field)
		}
	}

	check(cfg.Server.Port != "", "Server.Port")
	check(cfg.Firebase.ProjectID != "", "Firebase.ProjectID")
	check(slices.Contains([]string{StoreDriverFirestore, StoreDriverSQLite}, cfg.Store.Driver), "Store.Driver")
	if cfg.Store.Driver == StoreDriverSQLite {
		check(cfg.Store.SQLitePath != "", "Store.SQLitePath")
	}

	backends := []string{IdempotencyBackendMemory, IdempotencyBackendFirestore, IdempotencyBackendRedis}
	check(slices.Contains(backends, cfg.Idempotency.Backend), "Idempotency.Backend")
	if cfg.Store.Driver == StoreDriverFirestore || cfg.Idempotency.Backend == IdempotencyBackendFirestore {
		check(cfg.Firestore.ProjectID != "", "Firestore.ProjectID")
		check(cfg.Firestore.TxAttempts > 0, "Firestore.TxAttempts")
		check(cfg.Firestore.TxTimeout > 0, "Firestore.TxTimeout")
	}
	if cfg.Idempotency.Backend == IdempotencyBackendRedis {
		check(cfg.Redis.Addr != "", "Redis.Addr")
	}
	check(cfg.Idempotency.Header != "", "Idempotency.Header")
	check(cfg.Idempotency.TTL > 0, "Idempotency.TTL")
	check(cfg.Idempotency.CleanupInterval > 0, "Idempotency.CleanupInterval")
	check(cfg.Idempotency.CleanupBatchSize > 0, "Idempotency.CleanupBatchSize")

	if cfg.AMQP.URL != "" {
		check(cfg.AMQP.Queue != "", "AMQP.Queue")
		check(cfg.AMQP.Prefetch > 0, "AMQP.Prefetch")
		check(cfg.AMQP.ActorID != "", "AMQP.ActorID")
	}
	check(cfg.RateLimit.BatchTransitions >= 0, "RateLimit.BatchTransitions")
	if cfg.RateLimit.BatchTransitions > 0 {
		check(cfg.RateLimit.Window > 0, "RateLimit.Window")
	}
	_, err := language.Parse(cfg.Locale.Default)
	check(err == nil, "Locale.Default")

	if len(invalid) > 0 {
		return &ValidationError{fields: invalid}
	}
	return nil
}
