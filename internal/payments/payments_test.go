package payments

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stripe/stripe-go/v78"

	domain "github.com/hanko-field/cartengine/internal/domain"
	"github.com/hanko-field/cartengine/internal/repositories"
)

type stubSources struct {
	source domain.PaymentSource
	err    error
}

func (s stubSources) FindPaymentSource(context.Context, string) (domain.PaymentSource, error) {
	return s.source, s.err
}

type stubPaymentMethods struct {
	method  *stripe.PaymentMethod
	err     error
	calls   int
	account string
}

func (s *stubPaymentMethods) Get(id string, params *stripe.PaymentMethodParams) (*stripe.PaymentMethod, error) {
	s.calls++
	if params.StripeAccount != nil {
		s.account = *params.StripeAccount
	}
	return s.method, s.err
}

func newRegistry(t *testing.T) *GatewayRegistry {
	t.Helper()
	registry, err := NewGatewayRegistry(
		domain.Gateway{ID: "stripe", Name: "Card", Provider: "Stripe"},
		domain.Gateway{ID: "manual", Name: "Bank transfer", Provider: "manual"},
	)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return registry
}

func TestGatewayRegistry(t *testing.T) {
	registry := newRegistry(t)
	gateway, ok := registry.FindGateway(context.Background(), " stripe ")
	if !ok || gateway.Provider != ProviderStripe {
		t.Fatalf("expected stripe gateway, got %#v %v", gateway, ok)
	}
	if _, ok := registry.FindGateway(context.Background(), "paypal"); ok {
		t.Fatal("expected unknown gateway to be missing")
	}

	if _, err := NewGatewayRegistry(domain.Gateway{ID: "a"}, domain.Gateway{ID: "a"}); err == nil {
		t.Fatal("expected duplicate ids to fail")
	}
	if _, err := NewGatewayRegistry(domain.Gateway{}); err == nil {
		t.Fatal("expected blank id to fail")
	}
}

func TestVerifiedPaymentSources(t *testing.T) {
	stripeSource := domain.PaymentSource{ID: "ps-1", CustomerID: "user-1", GatewayID: "stripe", Token: "pm_123"}

	tests := []struct {
		name         string
		source       domain.PaymentSource
		method       *stripe.PaymentMethod
		stripeErr    error
		wantNotFound bool
		wantUnavail  bool
		wantCalls    int
		wantDesc     string
	}{
		{
			name:      "attached card",
			source:    stripeSource,
			method:    &stripe.PaymentMethod{ID: "pm_123", Customer: &stripe.Customer{ID: "cus_1"}, Card: &stripe.PaymentMethodCard{Brand: "Visa", Last4: "4242"}},
			wantCalls: 1,
			wantDesc:  "visa ending in 4242",
		},
		{
			name:         "detached card",
			source:       stripeSource,
			method:       &stripe.PaymentMethod{ID: "pm_123"},
			wantNotFound: true,
			wantCalls:    1,
		},
		{
			name:         "missing at stripe",
			source:       stripeSource,
			stripeErr:    &stripe.Error{Code: stripe.ErrorCodeResourceMissing, HTTPStatusCode: http.StatusNotFound},
			wantNotFound: true,
			wantCalls:    1,
		},
		{
			name:        "stripe outage",
			source:      stripeSource,
			stripeErr:   &stripe.Error{HTTPStatusCode: http.StatusServiceUnavailable},
			wantUnavail: true,
			wantCalls:   1,
		},
		{
			name:     "manual gateway skips lookup",
			source:   domain.PaymentSource{ID: "ps-2", GatewayID: "manual", Description: "invoice"},
			wantDesc: "invoice",
		},
		{
			name:         "stripe source without token",
			source:       domain.PaymentSource{ID: "ps-3", GatewayID: "stripe"},
			wantNotFound: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			api := &stubPaymentMethods{method: tc.method, err: tc.stripeErr}
			verified, err := NewVerifiedPaymentSources(stubSources{source: tc.source}, newRegistry(t), StripeConfig{AccountID: "acct_1", paymentMethods: api})
			if err != nil {
				t.Fatalf("new verifier: %v", err)
			}

			got, err := verified.FindPaymentSource(context.Background(), tc.source.ID)
			if api.calls != tc.wantCalls {
				t.Fatalf("expected %d stripe calls, got %d", tc.wantCalls, api.calls)
			}
			if tc.wantNotFound || tc.wantUnavail {
				var repoErr repositories.RepositoryError
				if !errors.As(err, &repoErr) {
					t.Fatalf("expected repository error, got %v", err)
				}
				if repoErr.IsNotFound() != tc.wantNotFound || repoErr.IsUnavailable() != tc.wantUnavail {
					t.Fatalf("unexpected classification for %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Description != tc.wantDesc {
				t.Fatalf("expected description %q, got %q", tc.wantDesc, got.Description)
			}
			if tc.wantCalls > 0 && api.account != "acct_1" {
				t.Fatalf("expected connected account header, got %q", api.account)
			}
		})
	}
}

func TestVerifiedPaymentSourcesPassesRepositoryErrors(t *testing.T) {
	boom := errors.New("firestore down")
	verified, err := NewVerifiedPaymentSources(stubSources{err: boom}, newRegistry(t), StripeConfig{paymentMethods: &stubPaymentMethods{}})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	if _, err := verified.FindPaymentSource(context.Background(), "ps-1"); !errors.Is(err, boom) {
		t.Fatalf("expected repository error, got %v", err)
	}
}

func TestNewVerifiedPaymentSourcesRequiresKey(t *testing.T) {
	if _, err := NewVerifiedPaymentSources(stubSources{}, nil, StripeConfig{}); err == nil {
		t.Fatal("expected missing api key to fail")
	}
}
