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
		"API_FIREBASE_PROJECT_ID": "cart-dev",
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
	if cfg.Firestore.ProjectID != "cart-dev" || cfg.PubSub.ProjectID != "cart-dev" {
		t.Errorf("expected firestore and pubsub projects to default to firebase project, got %s / %s", cfg.Firestore.ProjectID, cfg.PubSub.ProjectID)
	}
	if cfg.Redis.Addr != "" || cfg.Redis.KeyPrefix != defaultRedisKeyPrefix {
		t.Errorf("unexpected redis defaults %+v", cfg.Redis)
	}
	if cfg.Session.Header != defaultSessionHeader || cfg.Session.CookieName != defaultSessionCookie {
		t.Errorf("unexpected session defaults %+v", cfg.Session)
	}
	if cfg.PubSub.ReindexTopic != defaultReindexTopic {
		t.Errorf("unexpected reindex topic %s", cfg.PubSub.ReindexTopic)
	}
	if !cfg.Checkout.RequireNonEmptyCart || cfg.Checkout.AllowWithoutPayment || !cfg.Checkout.UpdateSearchIndexes {
		t.Errorf("unexpected checkout defaults %+v", cfg.Checkout)
	}
	if len(cfg.Checkout.RequiredFields) != 0 || cfg.Checkout.FieldMaxLength != defaultFieldMaxLength {
		t.Errorf("unexpected custom field defaults %+v", cfg.Checkout)
	}
	if cfg.Payments.StripeGatewayID != defaultStripeGatewayID {
		t.Errorf("unexpected stripe gateway id %s", cfg.Payments.StripeGatewayID)
	}
	if cfg.Security.Environment != "local" {
		t.Errorf("expected default security environment local, got %s", cfg.Security.Environment)
	}
	if len(cfg.Security.OIDC.Issuers) != 2 {
		t.Errorf("expected default issuers, got %v", cfg.Security.OIDC.Issuers)
	}
	if cfg.Idempotency.Header != defaultIdempotencyHeader || cfg.Idempotency.TTL != defaultIdempotencyTTL {
		t.Errorf("unexpected idempotency defaults %+v", cfg.Idempotency)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":                      "9090",
		"API_SERVER_WRITE_TIMEOUT":             "25s",
		"API_FIREBASE_PROJECT_ID":              "cart-prod",
		"API_FIRESTORE_PROJECT_ID":             "cart-fire",
		"API_REDIS_ADDR":                       "10.0.0.5:6379",
		"API_REDIS_PASSWORD":                   "secret://redis/password",
		"API_REDIS_DB":                         "2",
		"API_SESSION_TTL":                      "72h",
		"API_PUBSUB_REINDEX_TOPIC":             "reindex-prod",
		"API_STORAGE_ORDERS_BUCKET":            "orders-prod",
		"API_STORAGE_ARCHIVE_PREFIX":           "/archive/",
		"API_PSP_STRIPE_API_KEY":               "secret://stripe/api",
		"API_CHECKOUT_ALLOW_WITHOUT_PAYMENT":   "yes",
		"API_CHECKOUT_REQUIRE_NON_EMPTY_CART":  "off",
		"API_CHECKOUT_REQUIRE_SHIPPING_METHOD": "1",
		"API_CHECKOUT_VALIDATE_CUSTOM_FIELDS":  "true",
		"API_CHECKOUT_REQUIRED_FIELDS":         "giftMessage, deliveryDate",
		"API_CHECKOUT_FIELD_MAX_LENGTH":        "120",
		"API_SECURITY_ENVIRONMENT":             "PROD",
		"API_SECURITY_OIDC_AUDIENCES":          "prod=https://carts.example.com,stg=https://stg.example.com",
		"API_IDEMPOTENCY_HEADER":               "X-Idem-Key",
		"API_IDEMPOTENCY_CLEANUP_BATCH":        "500",
	}

	secrets := map[string]string{
		"secret://stripe/api":     "sk_live_123",
		"secret://redis/password": "redis-pass",
	}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", errors.New("unknown secret")
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" || cfg.Server.WriteTimeout != 25*time.Second {
		t.Errorf("unexpected server config %+v", cfg.Server)
	}
	if cfg.Firestore.ProjectID != "cart-fire" {
		t.Errorf("expected explicit firestore project, got %s", cfg.Firestore.ProjectID)
	}
	if cfg.Redis.Addr != "10.0.0.5:6379" || cfg.Redis.Password != "redis-pass" || cfg.Redis.DB != 2 {
		t.Errorf("unexpected redis config %+v", cfg.Redis)
	}
	if cfg.Session.TTL != 72*time.Hour {
		t.Errorf("unexpected session ttl %s", cfg.Session.TTL)
	}
	if cfg.Storage.OrdersBucket != "orders-prod" || cfg.Storage.ArchivePrefix != "archive" {
		t.Errorf("unexpected storage config %+v", cfg.Storage)
	}
	if cfg.Payments.StripeAPIKey != "sk_live_123" {
		t.Errorf("expected resolved stripe key, got %s", cfg.Payments.StripeAPIKey)
	}
	checkout := cfg.Checkout
	if !checkout.AllowWithoutPayment || checkout.RequireNonEmptyCart || !checkout.RequireShippingMethod || !checkout.ValidateCustomFields {
		t.Errorf("unexpected checkout switches %+v", checkout)
	}
	if len(checkout.RequiredFields) != 2 || checkout.RequiredFields[1] != "deliveryDate" || checkout.FieldMaxLength != 120 {
		t.Errorf("unexpected custom field rules %+v", checkout)
	}
	if cfg.Security.Environment != "prod" || cfg.Security.OIDC.Audience != "https://carts.example.com" {
		t.Errorf("expected audience picked from environment map, got %+v", cfg.Security)
	}
	if cfg.Idempotency.Header != "X-Idem-Key" || cfg.Idempotency.CleanupBatchSize != 500 {
		t.Errorf("unexpected idempotency config %+v", cfg.Idempotency)
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "# local overrides\nexport API_SERVER_PORT=7070\nAPI_FIREBASE_PROJECT_ID=\"cart-dot\"\n"
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write dotenv file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(envPath), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Port != "7070" {
		t.Errorf("expected port from dotenv 7070, got %s", cfg.Server.Port)
	}
	if cfg.Firebase.ProjectID != "cart-dot" {
		t.Errorf("expected firebase project from dotenv, got %s", cfg.Firebase.ProjectID)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{"API_SESSION_TTL": "-1s"}), WithoutSystemEnv(), WithEnvFile(""))
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	fields := validation.Fields()
	want := map[string]bool{"Firebase.ProjectID": true, "Firestore.ProjectID": true, "Session.TTL": true}
	if len(fields) != len(want) {
		t.Fatalf("unexpected fields %v", fields)
	}
	for _, field := range fields {
		if !want[field] {
			t.Fatalf("unexpected field %s", field)
		}
	}
}

func TestLoadSecretResolverError(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "cart-dev",
		"API_PSP_STRIPE_API_KEY":  "secret://missing",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %v", err)
	}
	if secretErr.Ref != "secret://missing" {
		t.Errorf("unexpected secret ref %s", secretErr.Ref)
	}
	if !errors.Is(err, errSecretResolverNotConfigured) {
		t.Errorf("expected resolver not configured cause, got %v", err)
	}
}

func TestLoadSupportsLegacySecretScheme(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "cart-dev",
		"API_PSP_STRIPE_API_KEY":  "sm://stripe/api",
	}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if ref != "secret://stripe/api" {
			t.Fatalf("expected normalized ref, got %s", ref)
		}
		return "sk_test_legacy", nil
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Payments.StripeAPIKey != "sk_test_legacy" {
		t.Fatalf("expected legacy secret, got %s", cfg.Payments.StripeAPIKey)
	}
}

func TestEnvironmentValuesMergesSources(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_FIREBASE_PROJECT_ID=dot-project\nAPI_SECRET_FALLBACK_FILE=.dot.local\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("failed writing env file: %v", err)
	}

	t.Setenv("API_FIREBASE_PROJECT_ID", "os-project")
	t.Setenv("API_SECRET_PROJECT_IDS", "prod=project-prod")

	values, err := EnvironmentValues(WithEnvFile(envPath), WithEnvMap(map[string]string{
		"API_FIREBASE_PROJECT_ID": "override-project",
	}))
	if err != nil {
		t.Fatalf("EnvironmentValues returned error: %v", err)
	}

	if got := values["API_FIREBASE_PROJECT_ID"]; got != "override-project" {
		t.Fatalf("expected override project, got %s", got)
	}
	if got := values["API_SECRET_FALLBACK_FILE"]; got != ".dot.local" {
		t.Fatalf("expected dotenv fallback file, got %s", got)
	}
	if got := values["API_SECRET_PROJECT_IDS"]; got != "prod=project-prod" {
		t.Fatalf("expected system env project map, got %s", got)
	}
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	env := map[string]string{"API_FIREBASE_PROJECT_ID": "cart-dev"}

	_, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Payments.StripeAPIKey", "Payments.StripeAPIKey"),
	)
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %v", err)
	}
	if got := missing.RedactedNames(); len(got) != 1 || got[0] != redactSecretName("Payments.StripeAPIKey") {
		t.Fatalf("unexpected redacted names %v", got)
	}
}

func TestLoadMissingRequiredSecretsPanic(t *testing.T) {
	env := map[string]string{"API_FIREBASE_PROJECT_ID": "cart-dev"}

	defer func() {
		rec := recover()
		missing, ok := rec.(*MissingSecretsError)
		if !ok {
			t.Fatalf("expected MissingSecretsError panic, got %T", rec)
		}
		if names := missing.Names(); len(names) != 1 || names[0] != "Redis.Password" {
			t.Fatalf("unexpected missing secrets %v", names)
		}
	}()

	_, _ = Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Redis.Password"),
		WithPanicOnMissingSecrets(),
	)
}
