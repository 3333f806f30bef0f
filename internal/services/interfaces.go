package services

import (
	"context"

	domain "github.com/hanko-field/cartengine/internal/domain"
)

type (
	Cart          = domain.Cart
	LineItem      = domain.LineItem
	Address       = domain.Address
	Notice        = domain.Notice
	Purchasable   = domain.Purchasable
	PaymentSource = domain.PaymentSource
	Gateway       = domain.Gateway
	FieldErrors   = domain.FieldErrors
)

// CartService applies shopper and staff edits to carts and reports the outcome per field.
type CartService interface {
	GetCart(ctx context.Context, mctx MutationContext, cmd GetCartCommand) (Cart, error)
	UpdateCart(ctx context.Context, mctx MutationContext, edits CartEdits) (MutationResult, error)
	LoadCart(ctx context.Context, mctx MutationContext, number string) (Cart, error)
	CompleteCart(ctx context.Context, mctx MutationContext, cmd CompleteCartCommand) (MutationResult, error)
}

// Actor is the authenticated user performing a request. Guests have no actor.
type Actor struct {
	UID   string
	Email string
	Roles []string
}

// MutationContext carries the request scoped facts every cart operation needs.
type MutationContext struct {
	Actor     *Actor
	Channel   domain.Channel
	SessionID string
}

// IsSiteRequest reports whether the request came from the storefront rather than the control panel.
func (m MutationContext) IsSiteRequest() bool {
	return m.Channel == "" || m.Channel == domain.ChannelSite
}

// ActorID returns the acting user's UID or an empty string for guests.
func (m MutationContext) ActorID() string {
	if m.Actor == nil {
		return ""
	}
	return m.Actor.UID
}

// GetCartCommand selects the cart to return.
type GetCartCommand struct {
	Number    string
	ForceSave bool
}

// AddRequest asks for a purchasable with the given options to be added to the cart.
type AddRequest struct {
	PurchasableID string
	Options       map[string]any
	Note          string
	Qty           int
}

// LineEdit changes an existing line item addressed by its identifier.
type LineEdit struct {
	ID      string
	Qty     domain.Optional[int]
	Note    domain.Optional[string]
	Options domain.Optional[map[string]any]
	Remove  bool
}

// AddressEdits describes the address slots submitted with a cart update.
type AddressEdits struct {
	ShippingAddressID        domain.Optional[string]
	BillingAddressID         domain.Optional[string]
	ShippingAddress          domain.Optional[map[string]string]
	BillingAddress           domain.Optional[map[string]string]
	EstimatedShippingAddress domain.Optional[map[string]string]
	EstimatedBillingAddress  domain.Optional[map[string]string]

	ShippingSameAsBilling          bool
	BillingSameAsShipping          bool
	EstimatedBillingSameAsShipping bool
	MakePrimaryShippingAddress     bool
	MakePrimaryBillingAddress      bool
}

// CartEdits is one batch of independent, optional edits applied as a single transition.
type CartEdits struct {
	Number domain.Optional[string]

	ClearLineItems bool
	ClearNotices   bool
	Fields         domain.Optional[map[string]any]

	PurchasableID domain.Optional[string]
	Note          domain.Optional[string]
	Options       domain.Optional[map[string]any]
	Qty           domain.Optional[int]

	Purchasables []AddRequest
	LineItems    []LineEdit
	Addresses    AddressEdits

	Email                       domain.Optional[string]
	RegisterUserOnOrderComplete domain.Optional[bool]
	PaymentCurrency             domain.Optional[string]
	CouponCode                  domain.Optional[string]
	GatewayID                   domain.Optional[string]
	PaymentSourceID             domain.Optional[string]
	ShippingMethodHandle        domain.Optional[string]

	// Complete runs the completion gate after the edits; a violation discards the whole batch.
	Complete bool

	SuccessMessage domain.Optional[string]
	FailMessage    domain.Optional[string]
}

// CompleteCartCommand attempts to turn the cart into an order without taking payment.
type CompleteCartCommand struct {
	Number                      domain.Optional[string]
	RegisterUserOnOrderComplete domain.Optional[bool]
	SuccessMessage              domain.Optional[string]
	FailMessage                 domain.Optional[string]
}

// MutationResult is the per-request outcome of a cart update.
type MutationResult struct {
	Success bool
	Message string
	Cart    Cart
	Errors  FieldErrors
}

// CheckoutSettings are the store-wide switches that shape checkout.
type CheckoutSettings struct {
	RequireNonEmptyCart              bool
	RequireShippingMethod            bool
	RequireBillingAddress            bool
	RequireShippingAddress           bool
	AllowCheckoutWithoutPayment      bool
	ValidateCustomFieldsOnSubmission bool
	UpdateSearchIndexes              bool
}

// GatewayFinder resolves configured payment gateways.
type GatewayFinder interface {
	FindGateway(ctx context.Context, gatewayID string) (Gateway, bool)
}

// CartSessionStore remembers which cart number belongs to a browser session.
type CartSessionStore interface {
	CartNumber(ctx context.Context, sessionID string) (string, error)
	RememberCart(ctx context.Context, sessionID, number string) error
	ForgetCart(ctx context.Context, sessionID string) error
}

// SearchIndexer schedules cart search index refreshes after a save.
type SearchIndexer interface {
	EnqueueCartReindex(ctx context.Context, cart Cart) error
}

// OrderArchiver stores a snapshot of an order once it completes.
type OrderArchiver interface {
	ArchiveCompletedOrder(ctx context.Context, cart Cart) error
}

// CartValidator checks the named cart fields and returns the violations found.
type CartValidator interface {
	Validate(ctx context.Context, cart Cart, fields []string) FieldErrors
}
