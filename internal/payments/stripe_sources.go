package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	domain "github.com/hanko-field/cartengine/internal/domain"
	"github.com/hanko-field/cartengine/internal/repositories"
)

type stripePaymentMethodAPI interface {
	Get(id string, params *stripe.PaymentMethodParams) (*stripe.PaymentMethod, error)
}

// StripeConfig configures payment method lookups.
type StripeConfig struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends

	paymentMethods stripePaymentMethodAPI
}

// VerifiedPaymentSources wraps a payment source repository and drops sources the payment
// provider no longer recognises. Sources on non-Stripe gateways pass through unchanged.
type VerifiedPaymentSources struct {
	next     repositories.PaymentSourceRepository
	gateways *GatewayRegistry
	api      stripePaymentMethodAPI
	account  string
}

// NewVerifiedPaymentSources wraps next with Stripe verification. cfg.APIKey is required unless
// a payment method client has been injected.
func NewVerifiedPaymentSources(next repositories.PaymentSourceRepository, gateways *GatewayRegistry, cfg StripeConfig) (*VerifiedPaymentSources, error) {
	if next == nil {
		return nil, errors.New("payments: payment source repository is required")
	}
	api := cfg.paymentMethods
	if api == nil {
		apiKey := strings.TrimSpace(cfg.APIKey)
		if apiKey == "" {
			return nil, errors.New("stripe: api key is required")
		}
		api = client.New(apiKey, cfg.Backends).PaymentMethods
	}
	return &VerifiedPaymentSources{
		next:     next,
		gateways: gateways,
		api:      api,
		account:  strings.TrimSpace(cfg.AccountID),
	}, nil
}

func (v *VerifiedPaymentSources) FindPaymentSource(ctx context.Context, sourceID string) (domain.PaymentSource, error) {
	source, err := v.next.FindPaymentSource(ctx, sourceID)
	if err != nil {
		return domain.PaymentSource{}, err
	}
	if v.gateways.providerFor(source.GatewayID) != ProviderStripe {
		return source, nil
	}
	if source.Token == "" {
		return domain.PaymentSource{}, &sourceError{op: "stripe.paymentMethods.get", err: errors.New("payment source has no token"), notFound: true}
	}

	params := &stripe.PaymentMethodParams{}
	params.Context = ctx
	if v.account != "" {
		params.SetStripeAccount(v.account)
	}
	pm, err := v.api.Get(source.Token, params)
	if err != nil {
		return domain.PaymentSource{}, classifyStripeError(err)
	}
	// A detached method can no longer be charged for the customer.
	if pm == nil || pm.Customer == nil {
		return domain.PaymentSource{}, &sourceError{op: "stripe.paymentMethods.get", err: fmt.Errorf("payment method %s detached", source.Token), notFound: true}
	}
	if source.Description == "" && pm.Card != nil {
		source.Description = fmt.Sprintf("%s ending in %s", strings.ToLower(string(pm.Card.Brand)), pm.Card.Last4)
	}
	return source, nil
}

func classifyStripeError(err error) error {
	out := &sourceError{op: "stripe.paymentMethods.get", err: err}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch {
		case stripeErr.Code == stripe.ErrorCodeResourceMissing, stripeErr.HTTPStatusCode == http.StatusNotFound:
			out.notFound = true
		case stripeErr.HTTPStatusCode == http.StatusTooManyRequests, stripeErr.HTTPStatusCode >= http.StatusInternalServerError:
			out.unavailable = true
		}
		return out
	}
	out.unavailable = true
	return out
}

// sourceError carries the repository error categories for provider lookups.
type sourceError struct {
	op          string
	err         error
	notFound    bool
	unavailable bool
}

func (e *sourceError) Error() string       { return e.op + ": " + e.err.Error() }
func (e *sourceError) Unwrap() error       { return e.err }
func (e *sourceError) IsNotFound() bool    { return e.notFound }
func (e *sourceError) IsConflict() bool    { return false }
func (e *sourceError) IsUnavailable() bool { return e.unavailable }

var (
	_ repositories.PaymentSourceRepository = (*VerifiedPaymentSources)(nil)
	_ repositories.RepositoryError         = (*sourceError)(nil)
)
