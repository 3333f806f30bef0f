package repositories

import (
	"context"
	"time"

	domain "github.com/hanko-field/cartengine/internal/domain"
)

// Registry exposes access to repositories for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Carts() CartRepository
	Addresses() AddressRepository
	PaymentSources() PaymentSourceRepository
	Purchasables() PurchasableRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// CartRepository persists open and completed carts.
type CartRepository interface {
	// FindIncompleteByNumber returns the open cart carrying the number. Completed carts are never
	// returned; a RepositoryError with IsNotFound is returned instead.
	FindIncompleteByNumber(ctx context.Context, number string) (domain.Cart, error)
	// Save creates the cart when expectedUpdatedAt is nil and replaces it otherwise. A replace fails
	// with IsConflict if the stored cart changed since expectedUpdatedAt. Callers assign the ID.
	Save(ctx context.Context, cart domain.Cart, expectedUpdatedAt *time.Time) (domain.Cart, error)
}

// AddressRepository reads customers' saved addresses and creates cart-owned copies.
type AddressRepository interface {
	ListSaved(ctx context.Context, userID string) ([]domain.Address, error)
	// Duplicate stores a copy of the address owned by ownerID and returns it with a fresh ID.
	// The source address is never modified.
	Duplicate(ctx context.Context, address domain.Address, ownerID string) (domain.Address, error)
	// Discard deletes a copy made by Duplicate that never reached a saved cart.
	Discard(ctx context.Context, address domain.Address) error
}

// PaymentSourceRepository looks up stored payment instruments.
type PaymentSourceRepository interface {
	FindPaymentSource(ctx context.Context, sourceID string) (domain.PaymentSource, error)
}

// PurchasableRepository resolves catalogue entries referenced by line items.
type PurchasableRepository interface {
	FindPurchasables(ctx context.Context, ids []string) (map[string]domain.Purchasable, error)
}

// HealthRepository reports on the dependencies the API needs to serve carts.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
