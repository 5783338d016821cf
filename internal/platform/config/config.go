package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

const (
	defaultEnvFile          = ".env"
	defaultPort             = "8080"
	defaultReadTimeout      = 15 * time.Second
	defaultWriteTimeout     = 30 * time.Second
	defaultIdleTimeout      = 120 * time.Second
	defaultEnvironment      = "local"
	defaultCurrency         = "usd"
	defaultGatewayTimeout   = 10 * time.Second
	defaultCookieName       = "cart_items"
	defaultCookieTTL        = 30 * 24 * time.Hour
	defaultIdempotencyTTL   = 24 * time.Hour
	defaultIdempotencyHdr   = "Idempotency-Key"
	defaultProductCacheTTL  = 5 * time.Minute
	defaultPostgresMaxOpen  = 25
	defaultPostgresMaxIdle  = 5
	defaultOIDCJWKSURL      = "https://www.googleapis.com/oauth2/v3/certs"
	defaultOIDCIssuer       = "https://accounts.google.com"
	defaultBreakerFailures  = 5
	defaultBreakerOpenFor   = 30 * time.Second
	defaultBreakerInterval  = time.Minute
	defaultBreakerHalfOpen  = 1
	defaultEventsTopic      = "storefront-events"
	defaultReconcileMinAge  = 30 * time.Minute
	defaultReconcileBatch   = 100
	defaultCheckoutBasePath = "http://localhost:3000"
)

// Storage drivers.
const (
	DriverFirestore = "firestore"
	DriverPostgres  = "postgres"
	DriverMemory    = "memory"
	DriverRedis     = "redis"
	DriverPubSub    = "pubsub"
	DriverKafka     = "kafka"
	DriverNone      = "none"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Environment string
	Server      ServerConfig
	Storage     StorageConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Postgres    PostgresConfig
	Redis       RedisConfig
	Stripe      StripeConfig
	Breaker     BreakerConfig
	Checkout    CheckoutConfig
	GuestCart   GuestCartConfig
	Events      EventsConfig
	OIDC        OIDCConfig
	Idempotency IdempotencyConfig
	Catalog     CatalogConfig
	Reconcile   ReconcileConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver string
}

// FirebaseConfig stores Firebase project settings used for ID token verification.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PostgresConfig configures the relational backend.
type PostgresConfig struct {
	DSN            string
	MaxOpenConns   int
	MaxIdleConns   int
	MigrateOnStart bool
}

// RedisConfig configures the product cache and redis-backed idempotency. Empty Addr disables both.
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	ProductTTL time.Duration
}

// StripeConfig collects payment gateway credentials.
type StripeConfig struct {
	APIKey         string
	WebhookSecret  string
	Currency       string
	GatewayTimeout time.Duration
}

// BreakerConfig tunes the circuit breaker around gateway calls.
type BreakerConfig struct {
	MaxHalfOpenRequests uint32
	Interval            time.Duration
	OpenTimeout         time.Duration
	ConsecutiveFailures uint32
}

// CheckoutConfig controls gateway callback URLs.
type CheckoutConfig struct {
	PublicBaseURL string
}

// SuccessURL is the gateway success callback with the session placeholder.
func (c CheckoutConfig) SuccessURL() string {
	return strings.TrimRight(c.PublicBaseURL, "/") + "/checkout/success?session_id={CHECKOUT_SESSION_ID}"
}

// CancelURL is the gateway failure callback with the session placeholder.
func (c CheckoutConfig) CancelURL() string {
	return strings.TrimRight(c.PublicBaseURL, "/") + "/checkout/failure?session_id={CHECKOUT_SESSION_ID}"
}

// GuestCartConfig configures the signed anonymous cart cookie.
type GuestCartConfig struct {
	CookieName string
	SigningKey string
	TTL        time.Duration
	Secure     bool
}

// EventsConfig selects the domain event transport.
type EventsConfig struct {
	Driver    string
	ProjectID string
	Topic     string
	Brokers   []string
}

// OIDCConfig controls Google-signed token verification for internal routes.
type OIDCConfig struct {
	JWKSURL  string
	Audience string
	Issuers  []string
}

// IdempotencyConfig controls the checkout idempotency middleware.
type IdempotencyConfig struct {
	Driver string
	Header string
	TTL    time.Duration
}

// CatalogConfig points the memory driver at a YAML seed file.
type CatalogConfig struct {
	SeedFile string
}

// ReconcileConfig tunes the stale pending payment sweep.
type ReconcileConfig struct {
	MinAge    time.Duration
	BatchSize int
}

// Load assembles configuration from defaults, the .env file, the process environment,
// explicit overrides, and secret references.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts...)

	dotEnv, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}
	lookup := options.lookup(dotEnv)

	cfg := Config{
		Environment: strings.ToLower(stringWithDefault(lookup, "STOREFRONT_ENVIRONMENT", defaultEnvironment)),
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "STOREFRONT_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "STOREFRONT_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "STOREFRONT_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "STOREFRONT_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Storage: StorageConfig{
			Driver: strings.ToLower(stringWithDefault(lookup, "STOREFRONT_STORAGE_DRIVER", DriverFirestore)),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "STOREFRONT_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "STOREFRONT_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "STOREFRONT_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "STOREFRONT_FIRESTORE_EMULATOR_HOST", ""),
		},
		Postgres: PostgresConfig{
			DSN:            stringWithDefault(lookup, "STOREFRONT_POSTGRES_DSN", ""),
			MaxOpenConns:   intWithDefault(lookup, "STOREFRONT_POSTGRES_MAX_OPEN_CONNS", defaultPostgresMaxOpen),
			MaxIdleConns:   intWithDefault(lookup, "STOREFRONT_POSTGRES_MAX_IDLE_CONNS", defaultPostgresMaxIdle),
			MigrateOnStart: boolWithDefault(lookup, "STOREFRONT_POSTGRES_MIGRATE_ON_START", false),
		},
		Redis: RedisConfig{
			Addr:       stringWithDefault(lookup, "STOREFRONT_REDIS_ADDR", ""),
			Password:   stringWithDefault(lookup, "STOREFRONT_REDIS_PASSWORD", ""),
			DB:         intWithDefault(lookup, "STOREFRONT_REDIS_DB", 0),
			ProductTTL: durationWithDefault(lookup, "STOREFRONT_REDIS_PRODUCT_TTL", defaultProductCacheTTL),
		},
		Stripe: StripeConfig{
			APIKey:         stringWithDefault(lookup, "STOREFRONT_STRIPE_API_KEY", ""),
			WebhookSecret:  stringWithDefault(lookup, "STOREFRONT_STRIPE_WEBHOOK_SECRET", ""),
			Currency:       strings.ToLower(stringWithDefault(lookup, "STOREFRONT_STRIPE_CURRENCY", defaultCurrency)),
			GatewayTimeout: durationWithDefault(lookup, "STOREFRONT_STRIPE_GATEWAY_TIMEOUT", defaultGatewayTimeout),
		},
		Breaker: BreakerConfig{
			MaxHalfOpenRequests: uint32(intWithDefault(lookup, "STOREFRONT_BREAKER_HALF_OPEN_REQUESTS", defaultBreakerHalfOpen)),
			Interval:            durationWithDefault(lookup, "STOREFRONT_BREAKER_INTERVAL", defaultBreakerInterval),
			OpenTimeout:         durationWithDefault(lookup, "STOREFRONT_BREAKER_OPEN_TIMEOUT", defaultBreakerOpenFor),
			ConsecutiveFailures: uint32(intWithDefault(lookup, "STOREFRONT_BREAKER_CONSECUTIVE_FAILURES", defaultBreakerFailures)),
		},
		Checkout: CheckoutConfig{
			PublicBaseURL: stringWithDefault(lookup, "STOREFRONT_PUBLIC_BASE_URL", defaultCheckoutBasePath),
		},
		GuestCart: GuestCartConfig{
			CookieName: stringWithDefault(lookup, "STOREFRONT_GUEST_CART_COOKIE", defaultCookieName),
			SigningKey: stringWithDefault(lookup, "STOREFRONT_GUEST_CART_SIGNING_KEY", ""),
			TTL:        durationWithDefault(lookup, "STOREFRONT_GUEST_CART_TTL", defaultCookieTTL),
			Secure:     boolWithDefault(lookup, "STOREFRONT_GUEST_CART_SECURE", true),
		},
		Events: EventsConfig{
			Driver:    strings.ToLower(stringWithDefault(lookup, "STOREFRONT_EVENTS_DRIVER", DriverNone)),
			ProjectID: stringWithDefault(lookup, "STOREFRONT_EVENTS_PROJECT_ID", ""),
			Topic:     stringWithDefault(lookup, "STOREFRONT_EVENTS_TOPIC", defaultEventsTopic),
			Brokers:   csvWithDefault(lookup, "STOREFRONT_EVENTS_KAFKA_BROKERS"),
		},
		OIDC: OIDCConfig{
			JWKSURL:  stringWithDefault(lookup, "STOREFRONT_OIDC_JWKS_URL", defaultOIDCJWKSURL),
			Audience: stringWithDefault(lookup, "STOREFRONT_OIDC_AUDIENCE", ""),
			Issuers:  csvWithDefault(lookup, "STOREFRONT_OIDC_ISSUERS"),
		},
		Idempotency: IdempotencyConfig{
			Driver: strings.ToLower(stringWithDefault(lookup, "STOREFRONT_IDEMPOTENCY_DRIVER", "")),
			Header: stringWithDefault(lookup, "STOREFRONT_IDEMPOTENCY_HEADER", defaultIdempotencyHdr),
			TTL:    durationWithDefault(lookup, "STOREFRONT_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
		},
		Catalog: CatalogConfig{
			SeedFile: stringWithDefault(lookup, "STOREFRONT_CATALOG_SEED_FILE", ""),
		},
		Reconcile: ReconcileConfig{
			MinAge:    durationWithDefault(lookup, "STOREFRONT_RECONCILE_MIN_AGE", defaultReconcileMinAge),
			BatchSize: intWithDefault(lookup, "STOREFRONT_RECONCILE_BATCH_SIZE", defaultReconcileBatch),
		},
	}

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.Events.ProjectID == "" {
		cfg.Events.ProjectID = cfg.Firestore.ProjectID
	}
	if len(cfg.OIDC.Issuers) == 0 {
		cfg.OIDC.Issuers = []string{defaultOIDCIssuer}
	}
	if cfg.Idempotency.Driver == "" {
		cfg.Idempotency.Driver = defaultIdempotencyDriver(cfg)
	}

	resolved := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Stripe.APIKey", &cfg.Stripe.APIKey},
		{"Stripe.WebhookSecret", &cfg.Stripe.WebhookSecret},
		{"GuestCart.SigningKey", &cfg.GuestCart.SigningKey},
		{"Postgres.DSN", &cfg.Postgres.DSN},
		{"Redis.Password", &cfg.Redis.Password},
	}
	for _, target := range secretFields {
		value, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
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

func defaultIdempotencyDriver(cfg Config) string {
	switch {
	case cfg.Redis.Addr != "":
		return DriverRedis
	case cfg.Storage.Driver == DriverFirestore:
		return DriverFirestore
	default:
		return DriverMemory
	}
}

func validateConfig(cfg Config) error {
	var invalid []string

	if cfg.Server.Port == "" {
		invalid = append(invalid, "Server.Port")
	}
	switch cfg.Storage.Driver {
	case DriverFirestore:
		if cfg.Firestore.ProjectID == "" {
			invalid = append(invalid, "Firestore.ProjectID")
		}
	case DriverPostgres:
		if cfg.Postgres.DSN == "" {
			invalid = append(invalid, "Postgres.DSN")
		}
	case DriverMemory:
	default:
		invalid = append(invalid, "Storage.Driver")
	}
	if len(cfg.Stripe.Currency) != 3 {
		invalid = append(invalid, "Stripe.Currency")
	}
	if cfg.Stripe.GatewayTimeout <= 0 {
		invalid = append(invalid, "Stripe.GatewayTimeout")
	}
	if u, err := url.Parse(cfg.Checkout.PublicBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		invalid = append(invalid, "Checkout.PublicBaseURL")
	}
	if strings.TrimSpace(cfg.GuestCart.CookieName) == "" {
		invalid = append(invalid, "GuestCart.CookieName")
	}
	if cfg.GuestCart.TTL <= 0 {
		invalid = append(invalid, "GuestCart.TTL")
	}
	switch cfg.Events.Driver {
	case DriverNone:
	case DriverPubSub:
		if cfg.Events.ProjectID == "" {
			invalid = append(invalid, "Events.ProjectID")
		}
	case DriverKafka:
		if len(cfg.Events.Brokers) == 0 {
			invalid = append(invalid, "Events.Brokers")
		}
	default:
		invalid = append(invalid, "Events.Driver")
	}
	switch cfg.Idempotency.Driver {
	case DriverMemory, DriverFirestore:
	case DriverRedis:
		if cfg.Redis.Addr == "" {
			invalid = append(invalid, "Redis.Addr")
		}
	default:
		invalid = append(invalid, "Idempotency.Driver")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		invalid = append(invalid, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		invalid = append(invalid, "Idempotency.TTL")
	}
	if cfg.Reconcile.BatchSize <= 0 {
		invalid = append(invalid, "Reconcile.BatchSize")
	}

	if len(invalid) > 0 {
		return &ValidationError{fields: invalid}
	}
	return nil
}
