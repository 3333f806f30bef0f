package domain

import (
	"time"
)

// Channel identifies where a cart mutation originated.
type Channel string

const (
	// ChannelSite marks storefront requests made by shoppers.
	ChannelSite Channel = "site"
	// ChannelControlPanel marks staff requests made through the admin surface.
	ChannelControlPanel Channel = "control_panel"
)

// Cart is an order aggregate prior to completion.
type Cart struct {
	ID         string
	Number     string
	Reference  string
	CustomerID string
	Email      string

	LineItems []LineItem

	ShippingMethodHandle string
	GatewayID            string
	PaymentSourceID      string
	CouponCode           *string
	PaymentCurrency      string

	ShippingAddress          *Address
	BillingAddress           *Address
	EstimatedShippingAddress *Address
	EstimatedBillingAddress  *Address
	SourceShippingAddressID  string
	SourceBillingAddressID   string

	BillingSameAsShipping          bool
	ShippingSameAsBilling          bool
	EstimatedBillingSameAsShipping bool
	MakePrimaryShippingAddress     bool
	MakePrimaryBillingAddress      bool
	RegisterUserOnOrderComplete    bool

	IsCompleted bool
	DateOrdered *time.Time

	Fields  map[string]any
	Notices []Notice

	// Errors is request scoped and never persisted.
	Errors FieldErrors

	CreatedAt time.Time
	UpdatedAt time.Time
}

// LineItem is one purchasable-with-options-and-quantity entry on a cart.
type LineItem struct {
	ID               string
	PurchasableID    string
	Options          map[string]any
	OptionsSignature string
	Qty              int
	Note             string
}

// Address is either a customer's saved address (OwnerID empty) or a copy owned by a cart.
type Address struct {
	ID      string
	OwnerID string
	UserID  string
	Fields  map[string]string
}

// Notice is a message attached to the cart for the shopper, such as a price change.
type Notice struct {
	Type      string
	Attribute string
	Message   string
}

// Purchasable is the catalogue entry a line item references.
type Purchasable struct {
	ID        string
	SKU       string
	Title     string
	Available bool
}

// PaymentSource is a stored payment instrument belonging to a customer.
type PaymentSource struct {
	ID          string
	CustomerID  string
	GatewayID   string
	Token       string
	Description string
}

// Gateway describes a configured payment gateway.
type Gateway struct {
	ID       string
	Name     string
	Provider string
}

// ShippingAddressID returns the identifier of the address in the shipping slot.
func (c Cart) ShippingAddressID() string {
	if c.ShippingAddress == nil {
		return ""
	}
	return c.ShippingAddress.ID
}

// BillingAddressID returns the identifier of the address in the billing slot.
func (c Cart) BillingAddressID() string {
	if c.BillingAddress == nil {
		return ""
	}
	return c.BillingAddress.ID
}

// IsEmpty reports whether the cart has no line items.
func (c Cart) IsEmpty() bool {
	return len(c.LineItems) == 0
}

// TotalQty sums the quantities of all line items.
func (c Cart) TotalQty() int {
	total := 0
	for _, item := range c.LineItems {
		total += item.Qty
	}
	return total
}

// Clone returns a deep copy so a working cart can be mutated without touching the original.
func (c Cart) Clone() Cart {
	out := c
	if c.LineItems != nil {
		out.LineItems = make([]LineItem, len(c.LineItems))
		for i, item := range c.LineItems {
			out.LineItems[i] = item.Clone()
		}
	}
	if c.CouponCode != nil {
		code := *c.CouponCode
		out.CouponCode = &code
	}
	out.ShippingAddress = c.ShippingAddress.Clone()
	out.BillingAddress = c.BillingAddress.Clone()
	out.EstimatedShippingAddress = c.EstimatedShippingAddress.Clone()
	out.EstimatedBillingAddress = c.EstimatedBillingAddress.Clone()
	if c.DateOrdered != nil {
		ordered := *c.DateOrdered
		out.DateOrdered = &ordered
	}
	out.Fields = CloneAnyMap(c.Fields)
	if c.Notices != nil {
		out.Notices = append([]Notice(nil), c.Notices...)
	}
	out.Errors = c.Errors.Clone()
	return out
}

// Clone returns a deep copy of the line item.
func (l LineItem) Clone() LineItem {
	out := l
	out.Options = CloneAnyMap(l.Options)
	return out
}

// Clone returns a deep copy of the address, or nil for a nil receiver.
func (a *Address) Clone() *Address {
	if a == nil {
		return nil
	}
	out := *a
	if a.Fields != nil {
		out.Fields = make(map[string]string, len(a.Fields))
		for k, v := range a.Fields {
			out.Fields[k] = v
		}
	}
	return &out
}

// CloneAnyMap copies nested maps and slices so callers never share mutable option values.
func CloneAnyMap(values map[string]any) map[string]any {
	if values == nil {
		return nil
	}
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = cloneAny(v)
	}
	return out
}

func cloneAny(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return CloneAnyMap(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = cloneAny(item)
		}
		return out
	default:
		return v
	}
}
