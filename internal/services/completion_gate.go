package services

import (
	"fmt"
	"strings"
	"time"
)

const (
	completionErrEmail          = "No customer email address exists on this cart."
	completionErrEmpty          = "Order can not be empty."
	completionErrShippingMethod = "There is no shipping method selected for this order."
	completionErrBilling        = "Billing address required."
	completionErrShipping       = "Shipping address required."
	completionErrFailed         = "Completing order failed."
)

// CompletionGate checks checkout preconditions and performs the open to completed transition.
type CompletionGate struct {
	settings CheckoutSettings
	complete func(*Cart) error
}

// NewCompletionGate builds a gate. A nil transition marks the cart complete using the clock.
func NewCompletionGate(settings CheckoutSettings, now func() time.Time, complete func(*Cart) error) CompletionGate {
	if now == nil {
		now = time.Now
	}
	if complete == nil {
		complete = func(cart *Cart) error { return markAsComplete(cart, now().UTC()) }
	}
	return CompletionGate{settings: settings, complete: complete}
}

// CheckAndComplete records every violated precondition on cart.Errors. Only when none are
// violated does it run the transition; a failing or panicking transition becomes an isComplete
// error. It reports whether the cart is now completed.
func (g CompletionGate) CheckAndComplete(cart *Cart) bool {
	if cart == nil {
		return false
	}
	if cart.IsCompleted {
		return true
	}

	violations := FieldErrors{}
	if strings.TrimSpace(cart.Email) == "" {
		violations.Add("email", completionErrEmail)
	}
	if g.settings.RequireNonEmptyCart && cart.IsEmpty() {
		violations.Add("lineItems", completionErrEmpty)
	}
	if g.settings.RequireShippingMethod && strings.TrimSpace(cart.ShippingMethodHandle) == "" {
		violations.Add("shippingMethodHandle", completionErrShippingMethod)
	}
	if g.settings.RequireBillingAddress && cart.BillingAddress == nil {
		violations.Add("billingAddressId", completionErrBilling)
	}
	if g.settings.RequireShippingAddress && cart.ShippingAddress == nil {
		violations.Add("shippingAddressId", completionErrShipping)
	}
	if !violations.Empty() {
		cart.Errors.Merge(violations)
		return false
	}

	if err := g.runTransition(cart); err != nil {
		cart.Errors.Add("isComplete", completionErrFailed)
		return false
	}
	return cart.IsCompleted
}

func (g CompletionGate) runTransition(cart *Cart) (err error) {
	working := cart.Clone()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cart completion panicked: %v", r)
		}
	}()
	if err := g.complete(&working); err != nil {
		return err
	}
	if !working.IsCompleted {
		return fmt.Errorf("cart completion did not mark cart %s complete", cart.Number)
	}
	errs := cart.Errors
	*cart = working
	cart.Errors = errs
	return nil
}

func markAsComplete(cart *Cart, now time.Time) error {
	if strings.TrimSpace(cart.Number) == "" {
		return fmt.Errorf("cart has no number")
	}
	ordered := now
	cart.IsCompleted = true
	cart.DateOrdered = &ordered
	if cart.Reference == "" {
		cart.Reference = strings.ToUpper(cart.Number[:min(len(cart.Number), 7)])
	}
	return nil
}
