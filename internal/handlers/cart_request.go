package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"strings"

	domain "github.com/hanko-field/cartengine/internal/domain"
	"github.com/hanko-field/cartengine/internal/services"
)

// updateCartRequest mirrors the storefront form. Every member is optional and absence differs
// from an empty value.
type updateCartRequest struct {
	Number domain.Optional[string] `json:"number"`

	ClearLineItems jsonFlag                        `json:"clearLineItems"`
	ClearNotices   jsonFlag                        `json:"clearNotices"`
	Fields         domain.Optional[map[string]any] `json:"fields"`

	PurchasableID domain.Optional[string]         `json:"purchasableId"`
	Note          domain.Optional[string]         `json:"note"`
	Options       domain.Optional[map[string]any] `json:"options"`
	Qty           domain.Optional[int]            `json:"qty"`

	Purchasables purchasableRows              `json:"purchasables"`
	LineItems    map[string]lineItemEditInput `json:"lineItems"`

	ShippingAddressID        domain.Optional[string]            `json:"shippingAddressId"`
	BillingAddressID         domain.Optional[string]            `json:"billingAddressId"`
	ShippingAddress          domain.Optional[map[string]string] `json:"shippingAddress"`
	BillingAddress           domain.Optional[map[string]string] `json:"billingAddress"`
	EstimatedShippingAddress domain.Optional[map[string]string] `json:"estimatedShippingAddress"`
	EstimatedBillingAddress  domain.Optional[map[string]string] `json:"estimatedBillingAddress"`

	ShippingAddressSameAsBilling          jsonFlag `json:"shippingAddressSameAsBilling"`
	BillingAddressSameAsShipping          jsonFlag `json:"billingAddressSameAsShipping"`
	EstimatedBillingAddressSameAsShipping jsonFlag `json:"estimatedBillingAddressSameAsShipping"`
	MakePrimaryShippingAddress            jsonFlag `json:"makePrimaryShippingAddress"`
	MakePrimaryBillingAddress             jsonFlag `json:"makePrimaryBillingAddress"`

	Email                       domain.Optional[string] `json:"email"`
	RegisterUserOnOrderComplete registerUserFlag        `json:"registerUserOnOrderComplete"`
	PaymentCurrency             domain.Optional[string] `json:"paymentCurrency"`
	CouponCode                  domain.Optional[string] `json:"couponCode"`
	GatewayID                   domain.Optional[string] `json:"gatewayId"`
	PaymentSourceID             domain.Optional[string] `json:"paymentSourceId"`
	ShippingMethodHandle        domain.Optional[string] `json:"shippingMethodHandle"`

	Complete jsonFlag `json:"complete"`

	SuccessMessage domain.Optional[string] `json:"successMessage"`
	FailMessage    domain.Optional[string] `json:"failMessage"`
}

type purchasableInput struct {
	ID      string         `json:"id"`
	Options map[string]any `json:"options"`
	Note    string         `json:"note"`
	Qty     *int           `json:"qty"`
}

type lineItemEditInput struct {
	Qty     domain.Optional[int]            `json:"qty"`
	Note    domain.Optional[string]         `json:"note"`
	Options domain.Optional[map[string]any] `json:"options"`
	Remove  jsonFlag                        `json:"remove"`
}

func (r updateCartRequest) edits() services.CartEdits {
	edits := services.CartEdits{
		Number:         r.Number,
		ClearLineItems: bool(r.ClearLineItems),
		ClearNotices:   bool(r.ClearNotices),
		Fields:         r.Fields,

		PurchasableID: r.PurchasableID,
		Note:          r.Note,
		Options:       r.Options,
		Qty:           r.Qty,

		Purchasables: r.Purchasables.addRequests(),
		LineItems:    lineEdits(r.LineItems),
		Addresses: services.AddressEdits{
			ShippingAddressID:              r.ShippingAddressID,
			BillingAddressID:               r.BillingAddressID,
			ShippingAddress:                r.ShippingAddress,
			BillingAddress:                 r.BillingAddress,
			EstimatedShippingAddress:       r.EstimatedShippingAddress,
			EstimatedBillingAddress:        r.EstimatedBillingAddress,
			ShippingSameAsBilling:          bool(r.ShippingAddressSameAsBilling),
			BillingSameAsShipping:          bool(r.BillingAddressSameAsShipping),
			EstimatedBillingSameAsShipping: bool(r.EstimatedBillingAddressSameAsShipping),
			MakePrimaryShippingAddress:     bool(r.MakePrimaryShippingAddress),
			MakePrimaryBillingAddress:      bool(r.MakePrimaryBillingAddress),
		},

		Email:                       r.Email,
		RegisterUserOnOrderComplete: r.RegisterUserOnOrderComplete.value,
		PaymentCurrency:             r.PaymentCurrency,
		CouponCode:                  r.CouponCode,
		GatewayID:                   r.GatewayID,
		PaymentSourceID:             r.PaymentSourceID,
		ShippingMethodHandle:        r.ShippingMethodHandle,

		Complete: bool(r.Complete),

		SuccessMessage: r.SuccessMessage,
		FailMessage:    r.FailMessage,
	}
	return edits
}

// completeCartRequest is the body of /cart/complete.
type completeCartRequest struct {
	Number                      domain.Optional[string] `json:"number"`
	RegisterUserOnOrderComplete registerUserFlag        `json:"registerUserOnOrderComplete"`
	SuccessMessage              domain.Optional[string] `json:"successMessage"`
	FailMessage                 domain.Optional[string] `json:"failMessage"`
}

func (r completeCartRequest) command() services.CompleteCartCommand {
	return services.CompleteCartCommand{
		Number:                      r.Number,
		RegisterUserOnOrderComplete: r.RegisterUserOnOrderComplete.value,
		SuccessMessage:              r.SuccessMessage,
		FailMessage:                 r.FailMessage,
	}
}

type loadCartRequest struct {
	Number string `json:"number"`
}

// lineEdits orders edits by line item id so repeated requests apply identically.
func lineEdits(in map[string]lineItemEditInput) []services.LineEdit {
	if len(in) == 0 {
		return nil
	}
	ids := make([]string, 0, len(in))
	for id := range in {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]services.LineEdit, 0, len(ids))
	for _, id := range ids {
		edit := in[id]
		out = append(out, services.LineEdit{
			ID:      strings.TrimSpace(id),
			Qty:     edit.Qty,
			Note:    edit.Note,
			Options: edit.Options,
			Remove:  bool(edit.Remove),
		})
	}
	return out
}

// purchasableRows accepts either a JSON array or an object keyed by row index, the shape HTML
// forms produce for purchasables[0][id] style inputs.
type purchasableRows []purchasableInput

func (p *purchasableRows) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*p = nil
		return nil
	}
	if data[0] == '[' {
		var rows []purchasableInput
		if err := json.Unmarshal(data, &rows); err != nil {
			return err
		}
		*p = rows
		return nil
	}

	var keyed map[string]purchasableInput
	if err := json.Unmarshal(data, &keyed); err != nil {
		return errors.New("purchasables must be an array or an object of rows")
	}
	keys := make([]string, 0, len(keyed))
	for key := range keyed {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, errA := strconv.Atoi(keys[i])
		b, errB := strconv.Atoi(keys[j])
		if errA == nil && errB == nil {
			return a < b
		}
		return keys[i] < keys[j]
	})
	rows := make([]purchasableInput, 0, len(keys))
	for _, key := range keys {
		rows = append(rows, keyed[key])
	}
	*p = rows
	return nil
}

func (p purchasableRows) addRequests() []services.AddRequest {
	if len(p) == 0 {
		return nil
	}
	out := make([]services.AddRequest, 0, len(p))
	for _, row := range p {
		qty := 1
		if row.Qty != nil {
			qty = *row.Qty
		}
		out = append(out, services.AddRequest{
			PurchasableID: strings.TrimSpace(row.ID),
			Options:       row.Options,
			Note:          row.Note,
			Qty:           qty,
		})
	}
	return out
}

// jsonFlag reads presence-style booleans: true, "1", "true", "on" and "yes" are true.
type jsonFlag bool

func (f *jsonFlag) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*f = jsonFlag(truthy(raw))
	return nil
}

// registerUserFlag is set only by truthy values or the literal string "false". Other falsy
// values leave the cart's current setting untouched.
type registerUserFlag struct {
	value domain.Optional[bool]
}

func (f *registerUserFlag) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch {
	case truthy(raw):
		f.value = domain.Some(true)
	case raw == "false":
		f.value = domain.Some(false)
	default:
		f.value = domain.None[bool]()
	}
	return nil
}

func truthy(raw any) bool {
	switch v := raw.(type) {
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "on", "yes":
			return true
		}
	}
	return false
}
