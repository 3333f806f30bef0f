package firestore

import (
	"context"
	"errors"
	"fmt"

	pfirestore "github.com/hanko-field/cartengine/internal/platform/firestore"
	"github.com/hanko-field/cartengine/internal/repositories"
)

// Registry exposes the Firestore-backed repositories behind repositories.Registry.
type Registry struct {
	provider       *pfirestore.Provider
	carts          *CartRepository
	addresses      *AddressRepository
	paymentSources *PaymentSourceRepository
	purchasables   *PurchasableRepository
}

// NewRegistry builds every repository on top of the shared provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}

	carts, err := NewCartRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build cart repository: %w", err)
	}
	addresses, err := NewAddressRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build address repository: %w", err)
	}
	paymentSources, err := NewPaymentSourceRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build payment source repository: %w", err)
	}
	purchasables, err := NewPurchasableRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build purchasable repository: %w", err)
	}

	return &Registry{
		provider:       provider,
		carts:          carts,
		addresses:      addresses,
		paymentSources: paymentSources,
		purchasables:   purchasables,
	}, nil
}

func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}

func (r *Registry) Carts() repositories.CartRepository { return r.carts }

func (r *Registry) Addresses() repositories.AddressRepository { return r.addresses }

func (r *Registry) PaymentSources() repositories.PaymentSourceRepository { return r.paymentSources }

func (r *Registry) Purchasables() repositories.PurchasableRepository { return r.purchasables }

var _ repositories.Registry = (*Registry)(nil)
