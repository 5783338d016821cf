package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/payments"
	"github.com/hanko-field/storefront/internal/platform/config"
	"github.com/hanko-field/storefront/internal/platform/events"
	pfirestore "github.com/hanko-field/storefront/internal/platform/firestore"
	"github.com/hanko-field/storefront/internal/platform/idempotency"
	"github.com/hanko-field/storefront/internal/platform/observability"
	"github.com/hanko-field/storefront/internal/repositories"
	"github.com/hanko-field/storefront/internal/repositories/cache"
	firestoreRepo "github.com/hanko-field/storefront/internal/repositories/firestore"
	"github.com/hanko-field/storefront/internal/repositories/memory"
	"github.com/hanko-field/storefront/internal/repositories/postgres"
	"github.com/hanko-field/storefront/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Cart     services.CartService
	Checkout services.CheckoutService
	Payments services.PaymentService
	Orders   services.OrderService
	Profiles services.ProfileService
	System   services.SystemService
}

// Container wires repositories, the payment gateway, and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Products     repositories.ProductRepository
	Gateway      payments.Gateway
	Webhooks     payments.WebhookVerifier
	Events       events.Publisher
	Idempotency  idempotency.Store
	Services     Services

	closers []func(context.Context) error
}

type options struct {
	logger   *zap.Logger
	registry repositories.Registry
	gateway  payments.Gateway
	events   events.Publisher
	redis    redis.UniversalClient
	build    services.BuildInfo
	checks   []repositories.DependencyCheck
	clock    func() time.Time
}

// Option customises container construction.
type Option func(*options)

// WithLogger sets the base logger bridged into every service.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRegistry supplies a prebuilt registry instead of opening cfg.Storage.Driver.
// The container takes ownership and closes it.
func WithRegistry(reg repositories.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithGateway replaces the Stripe gateway. The breaker still wraps it.
func WithGateway(gateway payments.Gateway) Option {
	return func(o *options) { o.gateway = gateway }
}

// WithPublisher replaces the configured event transport.
func WithPublisher(publisher events.Publisher) Option {
	return func(o *options) { o.events = publisher }
}

// WithRedisClient supplies the client used for the product cache and the redis
// idempotency store instead of dialling cfg.Redis.Addr.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(o *options) { o.redis = client }
}

// WithBuildInfo sets the version metadata reported by readiness probes.
func WithBuildInfo(info services.BuildInfo) Option {
	return func(o *options) { o.build = info }
}

// WithHealthChecks adds readiness probes beyond the storage and cache checks.
func WithHealthChecks(checks ...repositories.DependencyCheck) Option {
	return func(o *options) { o.checks = append(o.checks, checks...) }
}

// WithClock overrides the clock handed to services.
func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

// NewContainer constructs the runtime dependencies described by cfg. On error
// everything opened so far is closed again.
func NewContainer(ctx context.Context, cfg config.Config, opts ...Option) (container *Container, err error) {
	o := options{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	c := &Container{Config: cfg}
	defer func() {
		if err != nil {
			_ = c.Close(context.WithoutCancel(ctx))
		}
	}()

	var fsProvider *pfirestore.Provider
	firestoreProvider := func() *pfirestore.Provider {
		if fsProvider == nil {
			fsProvider = pfirestore.NewProvider(cfg.Firestore)
			c.closers = append(c.closers, fsProvider.Close)
		}
		return fsProvider
	}

	reg := o.registry
	if reg == nil {
		reg, err = openRegistry(ctx, cfg, o.clock, firestoreProvider)
		if err != nil {
			return nil, err
		}
	}
	c.Repositories = reg
	c.closers = append(c.closers, reg.Close)
	checks := append([]repositories.DependencyCheck(nil), reg.Checks()...)

	redisClient := o.redis
	if redisClient == nil && cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		c.closers = append(c.closers, func(context.Context) error { return client.Close() })
		redisClient = client
	}

	c.Products = reg.Products()
	if redisClient != nil {
		productCache, cacheErr := cache.NewProductCache(reg.Products(), redisClient,
			cache.WithTTL(cfg.Redis.ProductTTL),
			cache.WithLogger(cache.Logger(observability.ServiceLogger(o.logger, "product-cache"))),
		)
		if cacheErr != nil {
			return nil, fmt.Errorf("build product cache: %w", cacheErr)
		}
		c.Products = productCache
		checks = append(checks, repositories.DependencyCheck{
			Name:     "redis",
			Optional: true,
			Check: func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			},
		})
	}

	switch cfg.Idempotency.Driver {
	case config.DriverRedis:
		if redisClient == nil {
			return nil, errors.New("idempotency: redis driver requires Redis.Addr")
		}
		c.Idempotency = idempotency.NewRedisStore(redisClient)
	case config.DriverFirestore:
		c.Idempotency = idempotency.NewFirestoreStore(firestoreProvider())
	default:
		c.Idempotency = idempotency.NewMemoryStore()
	}

	c.Events = o.events
	if c.Events == nil {
		c.Events, err = openPublisher(ctx, cfg.Events)
		if err != nil {
			return nil, err
		}
	}
	publisher := c.Events
	c.closers = append(c.closers, func(context.Context) error { return publisher.Close() })

	gateway := o.gateway
	if gateway == nil {
		gateway, err = payments.NewStripeGateway(payments.StripeGatewayConfig{
			APIKey:  cfg.Stripe.APIKey,
			Timeout: cfg.Stripe.GatewayTimeout,
			Logger:  payments.Logger(observability.ServiceLogger(o.logger, "stripe")),
		})
		if err != nil {
			return nil, fmt.Errorf("build payment gateway: %w", err)
		}
	}
	c.Gateway, err = payments.NewBreakerGateway(gateway, payments.BreakerSettings{
		MaxHalfOpenRequests: cfg.Breaker.MaxHalfOpenRequests,
		Interval:            cfg.Breaker.Interval,
		OpenTimeout:         cfg.Breaker.OpenTimeout,
		ConsecutiveFailures: cfg.Breaker.ConsecutiveFailures,
		Logger:              payments.Logger(observability.ServiceLogger(o.logger, "payments-breaker")),
	})
	if err != nil {
		return nil, fmt.Errorf("build payment breaker: %w", err)
	}

	if cfg.Stripe.WebhookSecret != "" {
		verifier, verr := payments.NewStripeWebhookVerifier(cfg.Stripe.WebhookSecret)
		if verr != nil {
			return nil, fmt.Errorf("build webhook verifier: %w", verr)
		}
		c.Webhooks = verifier
	}

	c.Services, err = buildServices(cfg, c, o, append(checks, o.checks...))
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Close releases resources in reverse order of acquisition.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// OpenRegistry opens the storage backend named by cfg.Storage.Driver on its
// own, for tools that need repositories without the payment stack.
func OpenRegistry(ctx context.Context, cfg config.Config) (repositories.Registry, error) {
	return openRegistry(ctx, cfg, time.Now, func() *pfirestore.Provider {
		return pfirestore.NewProvider(cfg.Firestore)
	})
}

func openRegistry(ctx context.Context, cfg config.Config, clock func() time.Time, provider func() *pfirestore.Provider) (repositories.Registry, error) {
	switch cfg.Storage.Driver {
	case config.DriverMemory:
		var products []domain.Product
		if cfg.Catalog.SeedFile != "" {
			seeded, err := repositories.LoadCatalogSeed(cfg.Catalog.SeedFile, clock().UTC())
			if err != nil {
				return nil, fmt.Errorf("load catalog seed: %w", err)
			}
			products = seeded
		}
		return memory.NewStore(products...), nil
	case config.DriverPostgres:
		reg, err := postgres.NewRegistry(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("open postgres registry: %w", err)
		}
		return reg, nil
	case config.DriverFirestore:
		reg, err := firestoreRepo.NewRegistry(provider())
		if err != nil {
			return nil, fmt.Errorf("open firestore registry: %w", err)
		}
		return reg, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}
}

func openPublisher(ctx context.Context, cfg config.EventsConfig) (events.Publisher, error) {
	switch cfg.Driver {
	case config.DriverPubSub:
		client, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("open pubsub client: %w", err)
		}
		publisher, err := events.NewPubSubPublisher(client, cfg.Topic)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return publisher, nil
	case config.DriverKafka:
		publisher, err := events.NewKafkaPublisher(cfg.Brokers, cfg.Topic)
		if err != nil {
			return nil, err
		}
		return publisher, nil
	default:
		return events.NopPublisher{}, nil
	}
}

func buildServices(cfg config.Config, c *Container, o options, checks []repositories.DependencyCheck) (Services, error) {
	var svc Services
	reg := c.Repositories
	serviceLogger := func(name string) services.Logger {
		return services.Logger(observability.ServiceLogger(o.logger, name))
	}

	cartSvc, err := services.NewCartService(services.CartServiceDeps{
		Carts:    reg.Carts(),
		Products: c.Products,
		Clock:    o.clock,
		Logger:   serviceLogger("cart"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}
	svc.Cart = cartSvc

	checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Carts:          reg.Carts(),
		Products:       c.Products,
		Orders:         reg.Orders(),
		Gateway:        c.Gateway,
		Events:         c.Events,
		Currency:       cfg.Stripe.Currency,
		SuccessURL:     cfg.Checkout.SuccessURL(),
		CancelURL:      cfg.Checkout.CancelURL(),
		GatewayTimeout: cfg.Stripe.GatewayTimeout,
		Clock:          o.clock,
		Logger:         serviceLogger("checkout"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}
	svc.Checkout = checkoutSvc

	paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
		Payments:       reg.Payments(),
		Orders:         reg.Orders(),
		Gateway:        c.Gateway,
		Events:         c.Events,
		GatewayTimeout: cfg.Stripe.GatewayTimeout,
		Clock:          o.clock,
		Logger:         serviceLogger("payments"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build payment service: %w", err)
	}
	svc.Payments = paymentSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:         reg.Orders(),
		PaymentsRepo:   reg.Payments(),
		Products:       c.Products,
		Payments:       paymentSvc,
		Gateway:        c.Gateway,
		GatewayTimeout: cfg.Stripe.GatewayTimeout,
		Logger:         serviceLogger("orders"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	profileSvc, err := services.NewProfileService(services.ProfileServiceDeps{
		Profiles: reg.Profiles(),
		Clock:    o.clock,
		Logger:   serviceLogger("profiles"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build profile service: %w", err)
	}
	svc.Profiles = profileSvc

	if len(checks) > 0 {
		healthRepo, err := repositories.NewDependencyHealthRepository(checks, repositories.WithDependencyClock(o.clock))
		if err != nil {
			return Services{}, fmt.Errorf("build health repository: %w", err)
		}
		build := o.build
		if build.Environment == "" {
			build.Environment = cfg.Environment
		}
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            o.clock,
			Build:            build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
