package services

import (
	"context"
	"errors"
	"strings"

	domain "github.com/hanko-field/cartengine/internal/domain"
	"github.com/hanko-field/cartengine/internal/repositories"
)

// AddressAssigner decides which address object ends up in each cart address slot.
//
// Saved addresses from a customer's address book are shared records and are never attached
// directly; they are duplicated into a copy owned by the cart. Inline payloads become new
// cart-owned addresses. Estimated addresses are merged in place when the cart already owns one.
type AddressAssigner struct {
	addresses repositories.AddressRepository
	logger    func(context.Context, string, map[string]any)
}

// NewAddressAssigner builds an assigner backed by the address repository.
func NewAddressAssigner(addresses repositories.AddressRepository, logger func(context.Context, string, map[string]any)) AddressAssigner {
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return AddressAssigner{addresses: addresses, logger: logger}
}

// Assign applies the submitted address edits to the cart and returns the copies it wrote. An
// unknown saved address id leaves the slot untouched. Errors are returned only when the address
// backend fails, in which case copies already written are discarded.
func (a AddressAssigner) Assign(ctx context.Context, cart *Cart, actor *Actor, edits AddressEdits) (copies []Address, err error) {
	if cart == nil {
		return nil, nil
	}
	defer func() {
		if err != nil {
			a.Discard(ctx, copies)
			copies = nil
		}
	}()

	shippingID := optionalTrimmed(edits.ShippingAddressID)
	billingID := optionalTrimmed(edits.BillingAddressID)

	var book map[string]Address
	savedAddress := func(id string) (Address, bool, error) {
		if book == nil {
			loaded, err := a.loadAddressBook(ctx, actor)
			if err != nil {
				return Address{}, false, err
			}
			book = loaded
		}
		addr, ok := book[id]
		return addr, ok, nil
	}

	if shippingID != "" && !edits.ShippingSameAsBilling {
		saved, ok, lookupErr := savedAddress(shippingID)
		if lookupErr != nil {
			return copies, lookupErr
		}
		if ok {
			copied, dupErr := a.duplicate(ctx, saved, cart.ID)
			if dupErr != nil {
				return copies, dupErr
			}
			copies = append(copies, copied)
			cart.SourceShippingAddressID = shippingID
			cart.ShippingAddress = &copied
		} else {
			a.logger(ctx, "cart.saved_address_not_found", map[string]any{"cartNumber": cart.Number, "slot": "shipping"})
		}
	} else if fields, ok := inlineAddress(edits.ShippingAddress); ok && !edits.ShippingSameAsBilling {
		cart.SourceShippingAddressID = ""
		cart.ShippingAddress = &Address{OwnerID: cart.ID, Fields: fields}
	}

	if billingID != "" && !edits.BillingSameAsShipping {
		saved, ok, lookupErr := savedAddress(billingID)
		if lookupErr != nil {
			return copies, lookupErr
		}
		if ok {
			copied, dupErr := a.duplicate(ctx, saved, cart.ID)
			if dupErr != nil {
				return copies, dupErr
			}
			copies = append(copies, copied)
			cart.SourceBillingAddressID = billingID
			cart.BillingAddress = &copied
		} else {
			a.logger(ctx, "cart.saved_address_not_found", map[string]any{"cartNumber": cart.Number, "slot": "billing"})
		}
	} else if fields, ok := inlineAddress(edits.BillingAddress); ok && !edits.BillingSameAsShipping {
		cart.SourceBillingAddressID = ""
		cart.BillingAddress = &Address{OwnerID: cart.ID, Fields: fields}
	}

	if fields, ok := inlineAddress(edits.EstimatedShippingAddress); ok {
		cart.EstimatedShippingAddress = mergeEstimated(cart.EstimatedShippingAddress, fields, cart.ID)
	}
	if fields, ok := inlineAddress(edits.EstimatedBillingAddress); ok {
		cart.EstimatedBillingAddress = mergeEstimated(cart.EstimatedBillingAddress, fields, cart.ID)
	}

	cart.BillingSameAsShipping = edits.BillingSameAsShipping
	cart.ShippingSameAsBilling = edits.ShippingSameAsBilling
	cart.EstimatedBillingSameAsShipping = edits.EstimatedBillingSameAsShipping

	if edits.MakePrimaryShippingAddress {
		cart.MakePrimaryShippingAddress = true
	}
	if edits.MakePrimaryBillingAddress {
		cart.MakePrimaryBillingAddress = true
	}

	// Billing mirrors shipping: same owned copy, same source, no second duplicate.
	if shippingID != "" && !edits.ShippingSameAsBilling && edits.BillingSameAsShipping {
		cart.SourceBillingAddressID = cart.SourceShippingAddressID
		cart.BillingAddress = cart.ShippingAddress.Clone()
	}
	if billingID != "" && !edits.BillingSameAsShipping && edits.ShippingSameAsBilling {
		cart.SourceShippingAddressID = cart.SourceBillingAddressID
		cart.ShippingAddress = cart.BillingAddress.Clone()
	}

	return copies, nil
}

// Discard deletes copies written by Assign for a transition that was not saved. Failures are
// logged only.
func (a AddressAssigner) Discard(ctx context.Context, copies []Address) {
	if a.addresses == nil {
		return
	}
	for _, copied := range copies {
		if err := a.addresses.Discard(ctx, copied); err != nil {
			a.logger(ctx, "cart.address_discard_failed", map[string]any{
				"addressId": copied.ID,
				"error":     err.Error(),
			})
		}
	}
}

func (a AddressAssigner) loadAddressBook(ctx context.Context, actor *Actor) (map[string]Address, error) {
	if actor == nil || strings.TrimSpace(actor.UID) == "" {
		return map[string]Address{}, nil
	}
	if a.addresses == nil {
		return nil, ErrCartUnavailable
	}
	addresses, err := a.addresses.ListSaved(ctx, actor.UID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return map[string]Address{}, nil
		}
		return nil, ErrCartUnavailable
	}

	book := make(map[string]Address, len(addresses))
	for _, addr := range addresses {
		if id := strings.TrimSpace(addr.ID); id != "" {
			book[id] = addr
		}
	}
	return book, nil
}

func (a AddressAssigner) duplicate(ctx context.Context, saved Address, ownerID string) (Address, error) {
	if strings.TrimSpace(ownerID) == "" {
		return Address{}, ErrCartInvalidInput
	}
	copied, err := a.addresses.Duplicate(ctx, *saved.Clone(), ownerID)
	if err != nil {
		return Address{}, ErrCartUnavailable
	}
	return copied, nil
}

func mergeEstimated(current *Address, fields map[string]string, ownerID string) *Address {
	if current != nil && current.ID != "" && current.OwnerID == ownerID {
		merged := current.Clone()
		if merged.Fields == nil {
			merged.Fields = map[string]string{}
		}
		for key, value := range fields {
			merged.Fields[key] = value
		}
		return merged
	}
	return &Address{OwnerID: ownerID, Fields: fields}
}

func inlineAddress(value domain.Optional[map[string]string]) (map[string]string, bool) {
	fields, ok := value.Get()
	if !ok {
		return nil, false
	}
	out := make(map[string]string, len(fields))
	for key, v := range fields {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		out[key] = strings.TrimSpace(v)
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}
