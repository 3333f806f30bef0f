package di

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/hanko-field/cartengine/internal/domain"
	"github.com/hanko-field/cartengine/internal/platform/auth"
	"github.com/hanko-field/cartengine/internal/platform/config"
	"github.com/hanko-field/cartengine/internal/platform/session"
	"github.com/hanko-field/cartengine/internal/repositories"
)

type stubRegistry struct {
	closed bool
}

func (r *stubRegistry) Close(context.Context) error               { r.closed = true; return nil }
func (r *stubRegistry) Carts() repositories.CartRepository        { return stubCarts{} }
func (r *stubRegistry) Addresses() repositories.AddressRepository { return nil }
func (r *stubRegistry) Purchasables() repositories.PurchasableRepository {
	return nil
}
func (r *stubRegistry) PaymentSources() repositories.PaymentSourceRepository { return nil }

type stubCarts struct{}

func (stubCarts) FindIncompleteByNumber(context.Context, string) (domain.Cart, error) {
	return domain.Cart{}, errors.New("not found")
}

func (stubCarts) Save(_ context.Context, cart domain.Cart, _ *time.Time) (domain.Cart, error) {
	return cart, nil
}

type stubVerifier struct{}

func (stubVerifier) VerifyIDToken(context.Context, string) (*firebaseauth.Token, error) {
	return nil, errors.New("invalid")
}

func testConfig() config.Config {
	return config.Config{
		Firebase: config.FirebaseConfig{ProjectID: "cart-test"},
		Session:  config.SessionConfig{CookieName: "cart_session", Header: "X-Cart-Session", TTL: time.Hour},
		Payments: config.PaymentsConfig{StripeGatewayID: "stripe"},
		Checkout: config.CheckoutConfig{RequireNonEmptyCart: true, FieldMaxLength: 255},
		Security: config.SecurityConfig{
			Environment: "local",
			OIDC: config.OIDCConfig{
				JWKSURL:  "http://127.0.0.1:0/certs",
				Audience: "https://cart.example.com",
				Issuers:  []string{"https://accounts.google.com"},
			},
		},
		Idempotency: config.IdempotencyConfig{Header: "Idempotency-Key", TTL: time.Hour, CleanupInterval: time.Hour, CleanupBatchSize: 10},
	}
}

func TestNewContainerWiresRouter(t *testing.T) {
	reg := &stubRegistry{}
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	c, err := NewContainer(context.Background(), testConfig(),
		WithRegistry(reg),
		WithTokenVerifier(stubVerifier{}),
		WithClock(func() time.Time { return now }),
	)
	if err != nil {
		t.Fatalf("new container: %v", err)
	}

	tests := []struct {
		name       string
		method     string
		path       string
		header     map[string]string
		wantStatus int
	}{
		{name: "liveness", method: http.MethodGet, path: "/healthz", wantStatus: http.StatusOK},
		{name: "readiness without probes", method: http.MethodGet, path: "/readyz", wantStatus: http.StatusOK},
		{name: "guest cart", method: http.MethodGet, path: "/api/v1/cart", wantStatus: http.StatusOK},
		{name: "bad bearer on cart", method: http.MethodGet, path: "/api/v1/cart", header: map[string]string{"Authorization": "Bearer nope"}, wantStatus: http.StatusUnauthorized},
		{name: "admin requires auth", method: http.MethodPost, path: "/api/v1/admin/carts/abc/update", wantStatus: http.StatusUnauthorized},
		{name: "internal requires oidc", method: http.MethodPost, path: "/internal/maintenance/idempotency/cleanup", wantStatus: http.StatusUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			for k, v := range tc.header {
				req.Header.Set(k, v)
			}
			rr := httptest.NewRecorder()
			c.Router.ServeHTTP(rr, req)
			if rr.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tc.wantStatus, rr.Code, rr.Body.String())
			}
		})
	}

	rr := httptest.NewRecorder()
	c.Router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil))
	if rr.Header().Get("X-Cart-Session") == "" {
		t.Fatal("expected a session id to be issued")
	}
	var body struct {
		Cart struct {
			Number string `json:"number"`
		} `json:"cart"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil || body.Cart.Number == "" {
		t.Fatalf("expected a fresh cart number, got %s (%v)", rr.Body.String(), err)
	}

	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !reg.closed {
		t.Fatal("expected registry to be closed")
	}
}

func TestOIDCAudiencesDeduplicates(t *testing.T) {
	got := oidcAudiences(config.OIDCConfig{
		Audience:  "https://cart.example.com",
		Audiences: map[string]string{"prod": "https://cart.example.com", "stg": " "},
	})
	if len(got) != 1 || got[0] != "https://cart.example.com" {
		t.Fatalf("unexpected audiences %v", got)
	}
}

func TestRequesterIDPrefersUser(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	if got := requesterID(req); got != "" {
		t.Fatalf("expected empty requester, got %q", got)
	}

	ctx := session.WithID(req.Context(), "sess-1")
	if got := requesterID(req.WithContext(ctx)); got != "session:sess-1" {
		t.Fatalf("expected session requester, got %q", got)
	}

	ctx = auth.WithIdentity(ctx, &auth.Identity{UID: "user-1"})
	if got := requesterID(req.WithContext(ctx)); got != "user:user-1" {
		t.Fatalf("expected user requester, got %q", got)
	}
}
