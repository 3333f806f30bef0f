package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	defaultEnvFile             = ".env"
	defaultPort                = "8080"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 30 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultSessionCookie       = "cart_session"
	defaultSessionHeader       = "X-Cart-Session"
	defaultSessionTTL          = 30 * 24 * time.Hour
	defaultRedisKeyPrefix      = "cartengine:"
	defaultReindexTopic        = "cart-search-reindex"
	defaultArchivePrefix       = "orders"
	defaultStripeGatewayID     = "stripe"
	defaultFieldMaxLength      = 255
	defaultSecurityEnvironment = "local"
	defaultOIDCJWKSURL         = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer      = "https://accounts.google.com"
	defaultSecurityIAPIssuer   = "https://cloud.google.com/iap"
	defaultIdempotencyHeader   = "Idempotency-Key"
	defaultIdempotencyTTL      = 24 * time.Hour
	defaultIdempotencyInterval = time.Hour
	defaultIdempotencyBatch    = 200
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Redis       RedisConfig
	Session     SessionConfig
	PubSub      PubSubConfig
	Storage     StorageConfig
	Payments    PaymentsConfig
	Checkout    CheckoutConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// RedisConfig points at the Redis instance holding sessions and idempotency records.
// Without an Addr sessions stay in process memory and idempotency records go to Firestore.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// SessionConfig controls how a browser session is tied to its cart.
type SessionConfig struct {
	CookieName string
	Header     string
	TTL        time.Duration
}

// PubSubConfig names the topic receiving cart search reindex jobs. An empty topic disables publishing.
type PubSubConfig struct {
	ProjectID    string
	ReindexTopic string
}

// StorageConfig names the bucket receiving completed order snapshots.
type StorageConfig struct {
	OrdersBucket  string
	ArchivePrefix string
}

// PaymentsConfig carries payment provider credentials.
type PaymentsConfig struct {
	StripeAPIKey    string
	StripeGatewayID string
}

// CheckoutConfig holds the store-wide checkout switches.
type CheckoutConfig struct {
	RequireNonEmptyCart    bool
	RequireShippingMethod  bool
	RequireBillingAddress  bool
	RequireShippingAddress bool
	AllowWithoutPayment    bool
	ValidateCustomFields   bool
	UpdateSearchIndexes    bool
	RequiredFields         []string
	FieldMaxLength         int
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
}

// OIDCConfig controls Google-signed token verification.
type OIDCConfig struct {
	JWKSURL   string
	Audience  string
	Audiences map[string]string
	Issuers   []string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := defaultLoaderOptions()
	for _, opt := range opts {
		opt(&options)
	}

	env, err := options.source()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         env.str("API_SERVER_PORT", defaultPort),
			ReadTimeout:  env.duration("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: env.duration("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  env.duration("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       env.str("API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: env.str("API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    env.str("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: env.str("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Redis: RedisConfig{
			Addr:      env.str("API_REDIS_ADDR", ""),
			Password:  env.str("API_REDIS_PASSWORD", ""),
			DB:        env.integer("API_REDIS_DB", 0),
			KeyPrefix: env.str("API_REDIS_KEY_PREFIX", defaultRedisKeyPrefix),
		},
		Session: SessionConfig{
			CookieName: env.str("API_SESSION_COOKIE", defaultSessionCookie),
			Header:     env.str("API_SESSION_HEADER", defaultSessionHeader),
			TTL:        env.duration("API_SESSION_TTL", defaultSessionTTL),
		},
		PubSub: PubSubConfig{
			ProjectID:    env.str("API_PUBSUB_PROJECT_ID", ""),
			ReindexTopic: env.str("API_PUBSUB_REINDEX_TOPIC", defaultReindexTopic),
		},
		Storage: StorageConfig{
			OrdersBucket:  env.str("API_STORAGE_ORDERS_BUCKET", ""),
			ArchivePrefix: strings.Trim(env.str("API_STORAGE_ARCHIVE_PREFIX", defaultArchivePrefix), "/"),
		},
		Payments: PaymentsConfig{
			StripeAPIKey:    env.str("API_PSP_STRIPE_API_KEY", ""),
			StripeGatewayID: env.str("API_PSP_STRIPE_GATEWAY_ID", defaultStripeGatewayID),
		},
		Checkout: CheckoutConfig{
			RequireNonEmptyCart:    env.flag("API_CHECKOUT_REQUIRE_NON_EMPTY_CART", true),
			RequireShippingMethod:  env.flag("API_CHECKOUT_REQUIRE_SHIPPING_METHOD", false),
			RequireBillingAddress:  env.flag("API_CHECKOUT_REQUIRE_BILLING_ADDRESS", false),
			RequireShippingAddress: env.flag("API_CHECKOUT_REQUIRE_SHIPPING_ADDRESS", false),
			AllowWithoutPayment:    env.flag("API_CHECKOUT_ALLOW_WITHOUT_PAYMENT", false),
			ValidateCustomFields:   env.flag("API_CHECKOUT_VALIDATE_CUSTOM_FIELDS", false),
			UpdateSearchIndexes:    env.flag("API_CHECKOUT_UPDATE_SEARCH_INDEXES", true),
			RequiredFields:         env.list("API_CHECKOUT_REQUIRED_FIELDS"),
			FieldMaxLength:         env.integer("API_CHECKOUT_FIELD_MAX_LENGTH", defaultFieldMaxLength),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(env.str("API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
			OIDC: OIDCConfig{
				JWKSURL:   env.str("API_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience:  env.str("API_SECURITY_OIDC_AUDIENCE", ""),
				Audiences: env.pairs("API_SECURITY_OIDC_AUDIENCES"),
				Issuers:   env.list("API_SECURITY_OIDC_ISSUERS"),
			},
		},
		Idempotency: IdempotencyConfig{
			Header:           env.str("API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              env.duration("API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  env.duration("API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: env.integer("API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatch),
		},
	}

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firebase.ProjectID
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultSecurityIssuer, defaultSecurityIAPIssuer}
	}
	if cfg.Security.OIDC.Audience == "" {
		if audience, ok := cfg.Security.OIDC.Audiences[cfg.Security.Environment]; ok {
			cfg.Security.OIDC.Audience = audience
		}
	}

	resolved := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Payments.StripeAPIKey", &cfg.Payments.StripeAPIKey},
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

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Firebase.ProjectID == "" {
		missing = append(missing, "Firebase.ProjectID")
	}
	if cfg.Firestore.ProjectID == "" {
		missing = append(missing, "Firestore.ProjectID")
	}
	if strings.TrimSpace(cfg.Session.Header) == "" && strings.TrimSpace(cfg.Session.CookieName) == "" {
		missing = append(missing, "Session.Header")
	}
	if cfg.Session.TTL <= 0 {
		missing = append(missing, "Session.TTL")
	}
	if cfg.Checkout.FieldMaxLength < 0 {
		missing = append(missing, "Checkout.FieldMaxLength")
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
