package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"STOREFRONT_FIREBASE_PROJECT_ID": "sf-dev",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Storage.Driver != DriverFirestore {
		t.Errorf("expected firestore driver, got %s", cfg.Storage.Driver)
	}
	if cfg.Firestore.ProjectID != "sf-dev" {
		t.Errorf("expected firestore project to default to firebase project, got %s", cfg.Firestore.ProjectID)
	}
	if cfg.Stripe.Currency != "usd" {
		t.Errorf("expected usd, got %s", cfg.Stripe.Currency)
	}
	if cfg.Stripe.GatewayTimeout != 10*time.Second {
		t.Errorf("unexpected gateway timeout %s", cfg.Stripe.GatewayTimeout)
	}
	if cfg.GuestCart.CookieName != "cart_items" {
		t.Errorf("unexpected cookie name %s", cfg.GuestCart.CookieName)
	}
	if cfg.GuestCart.TTL != 30*24*time.Hour {
		t.Errorf("unexpected cookie ttl %s", cfg.GuestCart.TTL)
	}
	if cfg.Events.Driver != DriverNone {
		t.Errorf("expected events disabled, got %s", cfg.Events.Driver)
	}
	if cfg.Idempotency.Driver != DriverFirestore {
		t.Errorf("expected firestore idempotency, got %s", cfg.Idempotency.Driver)
	}
	if cfg.Idempotency.Header != defaultIdempotencyHdr {
		t.Errorf("unexpected idempotency header %s", cfg.Idempotency.Header)
	}
	if len(cfg.OIDC.Issuers) != 1 || cfg.OIDC.Issuers[0] != defaultOIDCIssuer {
		t.Errorf("unexpected issuers %v", cfg.OIDC.Issuers)
	}
	if got := cfg.Checkout.SuccessURL(); got != "http://localhost:3000/checkout/success?session_id={CHECKOUT_SESSION_ID}" {
		t.Errorf("unexpected success url %s", got)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"STOREFRONT_ENVIRONMENT":            "PROD",
		"STOREFRONT_SERVER_PORT":            "9090",
		"STOREFRONT_STORAGE_DRIVER":         "postgres",
		"STOREFRONT_POSTGRES_DSN":           "sm://db/dsn",
		"STOREFRONT_REDIS_ADDR":             "localhost:6379",
		"STOREFRONT_STRIPE_API_KEY":         "secret://stripe/api",
		"STOREFRONT_STRIPE_WEBHOOK_SECRET":  "secret://stripe/webhook",
		"STOREFRONT_STRIPE_CURRENCY":        "JPY",
		"STOREFRONT_GUEST_CART_SIGNING_KEY": "secret://cart/key",
		"STOREFRONT_GUEST_CART_SECURE":      "false",
		"STOREFRONT_PUBLIC_BASE_URL":        "https://shop.example.com/",
		"STOREFRONT_EVENTS_DRIVER":          "kafka",
		"STOREFRONT_EVENTS_KAFKA_BROKERS":   "k1:9092, k2:9092",
		"STOREFRONT_OIDC_ISSUERS":           "https://a.example.com, https://b.example.com",
	}
	secrets := map[string]string{
		"secret://db/dsn":         "postgres://u:p@db/shop",
		"secret://stripe/api":     "sk_test",
		"secret://stripe/webhook": "whsec",
		"secret://cart/key":       "cart-key",
	}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", errors.New("unknown ref")
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver),
		WithRequiredSecrets("Stripe.APIKey", "Stripe.WebhookSecret", "GuestCart.SigningKey"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Environment != "prod" {
		t.Errorf("expected prod, got %s", cfg.Environment)
	}
	if cfg.Postgres.DSN != "postgres://u:p@db/shop" {
		t.Errorf("dsn not resolved: %s", cfg.Postgres.DSN)
	}
	if cfg.Stripe.APIKey != "sk_test" || cfg.Stripe.WebhookSecret != "whsec" {
		t.Errorf("stripe secrets not resolved: %+v", cfg.Stripe)
	}
	if cfg.Stripe.Currency != "jpy" {
		t.Errorf("expected lowercased currency, got %s", cfg.Stripe.Currency)
	}
	if cfg.GuestCart.Secure {
		t.Errorf("expected insecure cookie override")
	}
	if cfg.Idempotency.Driver != DriverRedis {
		t.Errorf("expected redis idempotency when redis configured, got %s", cfg.Idempotency.Driver)
	}
	if len(cfg.Events.Brokers) != 2 || cfg.Events.Brokers[1] != "k2:9092" {
		t.Errorf("unexpected brokers %v", cfg.Events.Brokers)
	}
	if len(cfg.OIDC.Issuers) != 2 {
		t.Errorf("unexpected issuers %v", cfg.OIDC.Issuers)
	}
	if got := cfg.Checkout.CancelURL(); got != "https://shop.example.com/checkout/failure?session_id={CHECKOUT_SESSION_ID}" {
		t.Errorf("unexpected cancel url %s", got)
	}
}

func TestLoadValidationErrors(t *testing.T) {
	env := map[string]string{
		"STOREFRONT_STORAGE_DRIVER":  "postgres",
		"STOREFRONT_EVENTS_DRIVER":   "carrier-pigeon",
		"STOREFRONT_PUBLIC_BASE_URL": "not a url",
	}
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	want := map[string]bool{"Postgres.DSN": true, "Events.Driver": true, "Checkout.PublicBaseURL": true}
	for _, field := range verr.Fields() {
		delete(want, field)
	}
	if len(want) != 0 {
		t.Fatalf("missing fields in validation error: %v (got %v)", want, verr.Fields())
	}
}

func TestLoadSecretReferenceWithoutResolver(t *testing.T) {
	env := map[string]string{
		"STOREFRONT_STORAGE_DRIVER": "memory",
		"STOREFRONT_STRIPE_API_KEY": "secret://stripe/api",
	}
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var serr *SecretError
	if !errors.As(err, &serr) {
		t.Fatalf("expected secret error, got %v", err)
	}
	if serr.Ref != "secret://stripe/api" {
		t.Fatalf("unexpected ref %s", serr.Ref)
	}
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	env := map[string]string{"STOREFRONT_STORAGE_DRIVER": "memory"}
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""),
		WithRequiredSecrets("Stripe.APIKey", "Stripe.APIKey", "GuestCart.SigningKey"))

	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected missing secrets error, got %v", err)
	}
	if names := missing.Names(); len(names) != 2 || names[0] != "GuestCart.SigningKey" {
		t.Fatalf("unexpected names %v", names)
	}
	for _, redacted := range missing.RedactedNames() {
		if redacted == "Stripe.APIKey" {
			t.Fatalf("redacted names leaked secret name")
		}
	}
}

func TestLoadPanicsOnMissingSecretsWhenConfigured(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	env := map[string]string{"STOREFRONT_STORAGE_DRIVER": "memory"}
	_, _ = Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""),
		WithRequiredSecrets("Stripe.APIKey"), WithPanicOnMissingSecrets())
}

func TestLoadReadsDotEnvWithLowestPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# local\nexport STOREFRONT_STORAGE_DRIVER=memory\nSTOREFRONT_SERVER_PORT=\"7000\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(path), WithoutSystemEnv(),
		WithEnvMap(map[string]string{"STOREFRONT_SERVER_PORT": "7100"}))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Storage.Driver != DriverMemory {
		t.Errorf("expected driver from dotenv, got %s", cfg.Storage.Driver)
	}
	if cfg.Server.Port != "7100" {
		t.Errorf("expected env map to win, got %s", cfg.Server.Port)
	}

	values, err := EnvironmentValues(WithEnvFile(path), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("EnvironmentValues: %v", err)
	}
	if values["STOREFRONT_SERVER_PORT"] != "7000" {
		t.Errorf("expected dotenv value, got %q", values["STOREFRONT_SERVER_PORT"])
	}
}

func TestNormalizeSecretReference(t *testing.T) {
	if got := NormalizeSecretReference(" sm://a/b "); got != "secret://a/b" {
		t.Fatalf("unexpected %s", got)
	}
	if IsSecretReference("plain") {
		t.Fatalf("plain value treated as secret")
	}
}
