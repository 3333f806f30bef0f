package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"
	"github.com/go-chi/chi/v5"
	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/hanko-field/cartengine/internal/domain"
	"github.com/hanko-field/cartengine/internal/handlers"
	"github.com/hanko-field/cartengine/internal/payments"
	"github.com/hanko-field/cartengine/internal/platform/auth"
	"github.com/hanko-field/cartengine/internal/platform/config"
	pfirestore "github.com/hanko-field/cartengine/internal/platform/firestore"
	"github.com/hanko-field/cartengine/internal/platform/idempotency"
	"github.com/hanko-field/cartengine/internal/platform/jobs"
	"github.com/hanko-field/cartengine/internal/platform/observability"
	"github.com/hanko-field/cartengine/internal/platform/redisx"
	"github.com/hanko-field/cartengine/internal/platform/session"
	platformstorage "github.com/hanko-field/cartengine/internal/platform/storage"
	"github.com/hanko-field/cartengine/internal/repositories"
	firestoreRepo "github.com/hanko-field/cartengine/internal/repositories/firestore"
	"github.com/hanko-field/cartengine/internal/services"
)

const (
	meterName               = "github.com/hanko-field/cartengine"
	firebaseVerifyTimeout   = 5 * time.Second
	defaultLoadAttempts     = 20
	defaultLoadWindow       = time.Minute
	firestoreProbeTimeout   = 2 * time.Second
	redisProbeTimeout       = time.Second
	closeTimeoutPerResource = 5 * time.Second
)

// Container wires repositories, services, and transport for runtime use.
type Container struct {
	Config       config.Config
	Logger       *zap.Logger
	Repositories repositories.Registry
	Cart         services.CartService
	Idempotency  idempotency.Store
	Router       http.Handler

	closers []namedCloser
}

type namedCloser struct {
	name  string
	close func(ctx context.Context) error
}

type containerOptions struct {
	logger   *zap.Logger
	build    handlers.BuildInfo
	registry repositories.Registry
	verifier auth.TokenVerifier
	clock    func() time.Time
}

// Option customises container construction.
type Option func(*containerOptions)

func WithLogger(logger *zap.Logger) Option {
	return func(o *containerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithBuildInfo(info handlers.BuildInfo) Option {
	return func(o *containerOptions) {
		o.build = info
	}
}

// WithRegistry replaces the Firestore registry, mainly for tests.
func WithRegistry(reg repositories.Registry) Option {
	return func(o *containerOptions) {
		o.registry = reg
	}
}

// WithTokenVerifier replaces the Firebase ID token verifier.
func WithTokenVerifier(v auth.TokenVerifier) Option {
	return func(o *containerOptions) {
		o.verifier = v
	}
}

func WithClock(clock func() time.Time) Option {
	return func(o *containerOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// NewContainer constructs the runtime dependencies. Optional backends (Redis, Pub/Sub, Cloud
// Storage, Stripe) are only dialled when configured.
func NewContainer(ctx context.Context, cfg config.Config, opts ...Option) (c *Container, err error) {
	options := containerOptions{logger: zap.NewNop(), clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	logger := options.logger

	c = &Container{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeoutPerResource)
			defer cancel()
			_ = c.Close(closeCtx)
			c = nil
		}
	}()

	var provider *pfirestore.Provider
	reg := options.registry
	if reg == nil {
		provider = pfirestore.NewProvider(cfg.Firestore, pfirestore.WithClientOptions(googleClientOptions(cfg)...))
		firestoreReg, err := firestoreRepo.NewRegistry(provider)
		if err != nil {
			return c, fmt.Errorf("build firestore registry: %w", err)
		}
		reg = firestoreReg
	}
	c.Repositories = reg
	c.addCloser("repositories", reg.Close)

	var redisClient *goredis.Client
	if strings.TrimSpace(cfg.Redis.Addr) != "" {
		redisClient, err = redisx.NewClient(ctx, cfg.Redis)
		if err != nil {
			return c, fmt.Errorf("connect redis: %w", err)
		}
		c.addCloser("redis", func(context.Context) error { return redisClient.Close() })
	}

	sessions, err := buildSessionStore(cfg, redisClient)
	if err != nil {
		return c, err
	}
	c.Idempotency, err = buildIdempotencyStore(cfg, redisClient, provider)
	if err != nil {
		return c, err
	}

	indexer, err := c.buildIndexer(ctx, cfg)
	if err != nil {
		return c, err
	}
	archiver, err := c.buildArchiver(ctx, cfg)
	if err != nil {
		return c, err
	}

	gateways, paymentSources, err := buildPayments(cfg, reg.PaymentSources())
	if err != nil {
		return c, err
	}

	meter := otel.GetMeterProvider().Meter(meterName)
	cartService, err := services.NewCartService(services.CartServiceDeps{
		Carts:          reg.Carts(),
		Addresses:      reg.Addresses(),
		PaymentSources: paymentSources,
		Gateways:       gateways,
		Sessions:       sessions,
		Validator: services.NewCartValidator(reg.Purchasables(), services.CustomFieldRules{
			Required:  cfg.Checkout.RequiredFields,
			MaxLength: cfg.Checkout.FieldMaxLength,
		}),
		Indexer:  indexer,
		Archiver: archiver,
		Settings: checkoutSettings(cfg.Checkout),
		Clock:    options.clock,
		Logger:   observability.EventLogger(logger.Named("cart")),
		Meter:    meter,
	})
	if err != nil {
		return c, fmt.Errorf("build cart service: %w", err)
	}
	c.Cart = cartService

	verifier := options.verifier
	if verifier == nil {
		firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase.ProjectID, googleClientOptions(cfg)...)
		if err != nil {
			return c, fmt.Errorf("build firebase verifier: %w", err)
		}
		verifier = firebaseVerifier
	}
	authenticator := auth.NewAuthenticator(verifier, auth.WithVerificationTimeout(firebaseVerifyTimeout))

	health, err := buildHealthRepository(provider, redisClient, options.clock)
	if err != nil {
		return c, err
	}

	c.Router = c.buildRouter(cfg, routerDeps{
		authenticator: authenticator,
		sessions:      sessionOptions(cfg),
		health:        handlers.NewHealthHandlers(handlers.WithHealthBuildInfo(options.build), handlers.WithHealthRepository(health), handlers.WithHealthClock(options.clock)),
		oidc:          auth.NewOIDCValidator(auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, auth.WithJWKSLogger(logger.Named("jwks"))), auth.WithOIDCLogger(logger.Named("auth")), auth.WithOIDCMeter(meter)),
		clock:         options.clock,
	})

	logger.Info("container ready",
		zap.Bool("redis", redisClient != nil),
		zap.Bool("reindex", indexer != nil),
		zap.Bool("archive", archiver != nil),
		zap.Bool("stripe", strings.TrimSpace(cfg.Payments.StripeAPIKey) != ""),
	)
	return c, nil
}

// Close releases clients in reverse construction order.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		closer := c.closers[i]
		if err := closer.close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", closer.name, err))
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func (c *Container) addCloser(name string, fn func(ctx context.Context) error) {
	c.closers = append(c.closers, namedCloser{name: name, close: fn})
}

func (c *Container) buildIndexer(ctx context.Context, cfg config.Config) (services.SearchIndexer, error) {
	topicID := strings.TrimSpace(cfg.PubSub.ReindexTopic)
	if topicID == "" || !cfg.Checkout.UpdateSearchIndexes {
		return nil, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID, googleClientOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("build pubsub client: %w", err)
	}
	topic := client.Topic(topicID)
	c.addCloser("pubsub", func(context.Context) error {
		topic.Stop()
		return client.Close()
	})
	publisher, err := jobs.NewCartReindexPublisher(topic)
	if err != nil {
		return nil, err
	}
	return publisher, nil
}

func (c *Container) buildArchiver(ctx context.Context, cfg config.Config) (services.OrderArchiver, error) {
	bucket := strings.TrimSpace(cfg.Storage.OrdersBucket)
	if bucket == "" {
		return nil, nil
	}
	client, err := gcs.NewClient(ctx, googleClientOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("build storage client: %w", err)
	}
	c.addCloser("storage", func(context.Context) error { return client.Close() })
	archiver, err := platformstorage.NewOrderArchiver(client, bucket, cfg.Storage.ArchivePrefix)
	if err != nil {
		return nil, err
	}
	return archiver, nil
}

func buildSessionStore(cfg config.Config, client *goredis.Client) (services.CartSessionStore, error) {
	if client == nil {
		return session.NewMemoryStore(cfg.Session.TTL), nil
	}
	store, err := session.NewRedisStore(client, redisx.Key(cfg.Redis.KeyPrefix, "session"), cfg.Session.TTL)
	if err != nil {
		return nil, fmt.Errorf("build session store: %w", err)
	}
	return store, nil
}

func buildIdempotencyStore(cfg config.Config, client *goredis.Client, provider *pfirestore.Provider) (idempotency.Store, error) {
	switch {
	case client != nil:
		store, err := idempotency.NewRedisStore(client, redisx.Key(cfg.Redis.KeyPrefix, "idem"))
		if err != nil {
			return nil, fmt.Errorf("build idempotency store: %w", err)
		}
		return store, nil
	case provider != nil:
		store, err := idempotency.NewFirestoreStore(provider)
		if err != nil {
			return nil, fmt.Errorf("build idempotency store: %w", err)
		}
		return store, nil
	default:
		return idempotency.NewMemoryStore(), nil
	}
}

// buildPayments registers the Stripe gateway and verifies its payment sources when an API key
// is configured. Without one, stored sources are trusted as-is and no gateway is known.
func buildPayments(cfg config.Config, sources repositories.PaymentSourceRepository) (services.GatewayFinder, repositories.PaymentSourceRepository, error) {
	apiKey := strings.TrimSpace(cfg.Payments.StripeAPIKey)
	var gateways []domain.Gateway
	if apiKey != "" {
		gateways = append(gateways, domain.Gateway{
			ID:       cfg.Payments.StripeGatewayID,
			Name:     "Stripe",
			Provider: payments.ProviderStripe,
		})
	}
	registry, err := payments.NewGatewayRegistry(gateways...)
	if err != nil {
		return nil, nil, fmt.Errorf("build gateway registry: %w", err)
	}
	if apiKey == "" || sources == nil {
		return registry, sources, nil
	}
	verified, err := payments.NewVerifiedPaymentSources(sources, registry, payments.StripeConfig{APIKey: apiKey})
	if err != nil {
		return nil, nil, fmt.Errorf("build stripe payment sources: %w", err)
	}
	return registry, verified, nil
}

func buildHealthRepository(provider *pfirestore.Provider, client *goredis.Client, clock func() time.Time) (repositories.HealthRepository, error) {
	var probes []repositories.Probe
	if provider != nil {
		probes = append(probes, repositories.Probe{
			Name:    "firestore",
			Timeout: firestoreProbeTimeout,
			Check:   provider.Ping,
		})
	}
	if client != nil {
		probes = append(probes, repositories.Probe{
			Name:     "redis",
			Timeout:  redisProbeTimeout,
			Optional: true,
			Check: func(ctx context.Context) error {
				return client.Ping(ctx).Err()
			},
		})
	}
	return repositories.NewProbeHealthRepository(probes, clock)
}

func checkoutSettings(cfg config.CheckoutConfig) services.CheckoutSettings {
	return services.CheckoutSettings{
		RequireNonEmptyCart:              cfg.RequireNonEmptyCart,
		RequireShippingMethod:            cfg.RequireShippingMethod,
		RequireBillingAddress:            cfg.RequireBillingAddress,
		RequireShippingAddress:           cfg.RequireShippingAddress,
		AllowCheckoutWithoutPayment:      cfg.AllowWithoutPayment,
		ValidateCustomFieldsOnSubmission: cfg.ValidateCustomFields,
		UpdateSearchIndexes:              cfg.UpdateSearchIndexes,
	}
}

func sessionOptions(cfg config.Config) session.Options {
	return session.Options{
		CookieName: cfg.Session.CookieName,
		Header:     cfg.Session.Header,
		TTL:        cfg.Session.TTL,
		Secure:     cfg.Security.Environment != "local",
	}
}

type routerDeps struct {
	authenticator *auth.Authenticator
	sessions      session.Options
	health        *handlers.HealthHandlers
	oidc          *auth.OIDCValidator
	clock         func() time.Time
}

// buildRouter assembles the middleware chains. Annotate runs after auth and session so request
// logs carry both identifiers.
func (c *Container) buildRouter(cfg config.Config, deps routerDeps) chi.Router {
	logger := c.Logger
	idem := idempotency.Middleware(c.Idempotency,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(logger.Named("idempotency")),
		idempotency.WithClock(deps.clock),
		idempotency.WithRequester(requesterID),
	)

	cartHandlers := handlers.NewCartHandlers(c.Cart, handlers.WithLoadRateLimit(defaultLoadAttempts, defaultLoadWindow, deps.clock))
	adminHandlers := handlers.NewAdminCartHandlers(c.Cart)
	maintenance := handlers.NewMaintenanceHandlers(c.Idempotency, cfg.Idempotency.CleanupBatchSize, deps.clock)

	return handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.TraceMiddleware(traceProjectID(cfg)),
			observability.RequestLogger(logger.Named("http")),
			observability.Recoverer(logger),
		),
		handlers.WithHealthHandlers(deps.health),
		handlers.WithCartRoutes(cartHandlers.Routes,
			deps.authenticator.OptionalFirebaseAuth(),
			session.Middleware(deps.sessions),
			observability.Annotate,
			idem,
		),
		handlers.WithAdminRoutes(adminHandlers.Routes,
			deps.authenticator.RequireFirebaseAuth(auth.RoleStaff, auth.RoleAdmin),
			observability.Annotate,
			idem,
		),
		handlers.WithInternalRoutes(maintenance.Routes,
			deps.oidc.RequireOIDC(oidcAudiences(cfg.Security.OIDC), cfg.Security.OIDC.Issuers),
		),
	)
}

// requesterID scopes idempotency keys to the signed-in user, falling back to the session.
func requesterID(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok && identity.UID != "" {
		return "user:" + identity.UID
	}
	if id := session.IDFromContext(r.Context()); id != "" {
		return "session:" + id
	}
	return ""
}

func oidcAudiences(cfg config.OIDCConfig) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(value string) {
		value = strings.TrimSpace(value)
		if value == "" {
			return
		}
		if _, ok := seen[value]; ok {
			return
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	add(cfg.Audience)
	for _, audience := range cfg.Audiences {
		add(audience)
	}
	return out
}

// googleClientOptions applies the service account file shared by every Google client.
func googleClientOptions(cfg config.Config) []option.ClientOption {
	if file := strings.TrimSpace(cfg.Firebase.CredentialsFile); file != "" {
		return []option.ClientOption{option.WithCredentialsFile(file)}
	}
	return nil
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}
