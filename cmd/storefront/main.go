package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/hanko-field/storefront/internal/di"
	"github.com/hanko-field/storefront/internal/handlers"
	"github.com/hanko-field/storefront/internal/platform/auth"
	"github.com/hanko-field/storefront/internal/platform/config"
	"github.com/hanko-field/storefront/internal/platform/guestcart"
	"github.com/hanko-field/storefront/internal/platform/idempotency"
	"github.com/hanko-field/storefront/internal/platform/observability"
	"github.com/hanko-field/storefront/internal/platform/secrets"
	"github.com/hanko-field/storefront/internal/repositories"
	"github.com/hanko-field/storefront/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("storefront")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames()...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	container, err := di.NewContainer(ctx, cfg,
		di.WithLogger(logger),
		di.WithBuildInfo(buildInfo),
		di.WithHealthChecks(secretManagerCheck(envValues, fetcher)...),
	)
	if err != nil {
		logger.Fatal("failed to initialise dependencies", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("dependency close error", zap.Error(err))
		}
	}()

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)

	codec, err := guestcart.NewCodec([]byte(cfg.GuestCart.SigningKey),
		guestcart.WithCookieName(cfg.GuestCart.CookieName),
		guestcart.WithTTL(cfg.GuestCart.TTL),
		guestcart.WithSecure(cfg.GuestCart.Secure),
	)
	if err != nil {
		logger.Fatal("failed to initialise guest cart codec", zap.Error(err))
	}

	idempotencyMiddleware := checkoutIdempotency(container.Idempotency, cfg.Idempotency, logger)

	svc := container.Services
	meHandlers := handlers.NewMeHandlers(authenticator, svc.Profiles)
	cartHandlers := handlers.NewCartHandlers(authenticator, svc.Cart, codec)
	orderHandlers := handlers.NewOrderHandlers(authenticator, svc.Orders)
	checkoutHandlers := handlers.NewCheckoutHandlers(handlers.CheckoutHandlersDeps{
		Authenticator: authenticator,
		Checkout:      svc.Checkout,
		Payments:      svc.Payments,
		Carts:         svc.Cart,
		Profiles:      svc.Profiles,
		GuestCarts:    codec,
		Idempotency:   idempotencyMiddleware,
	})
	webhookHandlers := handlers.NewWebhookHandlers(container.Webhooks, svc.Payments)
	internalHandlers := handlers.NewInternalHandlers(svc.Payments, cfg.Reconcile.MinAge, cfg.Reconcile.BatchSize)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(svc.System),
	)

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithMeRoutes(meHandlers.Routes),
		handlers.WithCartRoutes(cartHandlers.Routes),
		handlers.WithAdditionalRoutes(cartHandlers.RegisterStandaloneRoutes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithAdditionalRoutes(checkoutHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
		handlers.WithInternalRoutes(internalHandlers.Routes),
	}
	if oidcMiddleware := buildOIDCMiddleware(logger.Named("auth"), cfg); oidcMiddleware != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(oidcMiddleware))
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr), zap.String("storage", cfg.Storage.Driver))
	go func() {
		serverLogger.Info("storefront listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["STOREFRONT_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		Environment: environment,
		StartedAt:   started,
	}
}

// secretManagerCheck probes Secret Manager reachability. A missing probe
// secret still proves the API answered.
func secretManagerCheck(env map[string]string, fetcher *secrets.Fetcher) []repositories.DependencyCheck {
	if fetcher == nil || secretProject(env) == "" {
		return nil
	}
	const secretHealthReference = "secret://system/healthz?version=latest"
	return []repositories.DependencyCheck{{
		Name:     "secretManager",
		Timeout:  time.Second,
		Optional: true,
		Check: func(ctx context.Context) error {
			_, err := fetcher.Resolve(ctx, secretHealthReference)
			if err == nil {
				return nil
			}
			if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
				return nil
			}
			return err
		},
	}}
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.OIDC.JWKSURL) == "" {
		return nil
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	adapter := observability.NewPrintfAdapter(logger)
	cache := auth.NewJWKSCache(cfg.OIDC.JWKSURL, auth.WithJWKSLogger(adapter))
	validator := auth.NewOIDCValidator(cache, adapter)

	audience := strings.TrimSpace(cfg.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	if len(cfg.OIDC.Issuers) == 0 {
		logger.Warn("auth: OIDC issuers not configured; internal routes will reject requests")
	}

	return validator.RequireOIDC(audience, cfg.OIDC.Issuers)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func secretProject(env map[string]string) string {
	if project := strings.TrimSpace(env["STOREFRONT_SECRET_PROJECT_ID"]); project != "" {
		return project
	}
	return strings.TrimSpace(env["STOREFRONT_FIREBASE_PROJECT_ID"])
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
	}
	if project := secretProject(env); project != "" {
		opts = append(opts, secrets.WithProject(project))
	}
	if path := strings.TrimSpace(env["STOREFRONT_SECRET_FALLBACK_FILE"]); path != "" {
		opts = append(opts, secrets.WithFallbackFile(path))
	}
	if raw := strings.TrimSpace(env["STOREFRONT_SECRET_CACHE_TTL"]); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("parse STOREFRONT_SECRET_CACHE_TTL: %w", err)
		}
		opts = append(opts, secrets.WithCacheTTL(ttl))
	}
	if credentials := strings.TrimSpace(env["STOREFRONT_FIREBASE_CREDENTIALS_FILE"]); credentials != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentials)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

func requiredSecretNames() []string {
	return []string{
		"Stripe.APIKey",
		"Stripe.WebhookSecret",
		"GuestCart.SigningKey",
	}
}

// checkoutIdempotency guards the order-creating routes. The key is mandatory
// there, so a client retry can never create a second order.
func checkoutIdempotency(store idempotency.Store, cfg config.IdempotencyConfig, logger *zap.Logger) func(http.Handler) http.Handler {
	return idempotency.Middleware(
		store,
		idempotency.WithHeader(cfg.Header),
		idempotency.WithTTL(cfg.TTL),
		idempotency.WithRequiredKey(),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)
}
