package handlers

import (
	"time"

	"github.com/hanko-field/cartengine/internal/services"
)

type cartPayload struct {
	ID                             string              `json:"id,omitempty"`
	Number                         string              `json:"number"`
	Reference                      string              `json:"reference,omitempty"`
	CustomerID                     string              `json:"customerId,omitempty"`
	Email                          string              `json:"email,omitempty"`
	LineItems                      []lineItemPayload   `json:"lineItems"`
	TotalQty                       int                 `json:"totalQty"`
	ShippingMethodHandle           string              `json:"shippingMethodHandle,omitempty"`
	GatewayID                      string              `json:"gatewayId,omitempty"`
	PaymentSourceID                string              `json:"paymentSourceId,omitempty"`
	CouponCode                     *string             `json:"couponCode"`
	PaymentCurrency                string              `json:"paymentCurrency,omitempty"`
	ShippingAddress                *addressPayload     `json:"shippingAddress"`
	BillingAddress                 *addressPayload     `json:"billingAddress"`
	EstimatedShippingAddress       *addressPayload     `json:"estimatedShippingAddress"`
	EstimatedBillingAddress        *addressPayload     `json:"estimatedBillingAddress"`
	SourceShippingAddressID        string              `json:"sourceShippingAddressId,omitempty"`
	SourceBillingAddressID         string              `json:"sourceBillingAddressId,omitempty"`
	ShippingAddressSameAsBilling   bool                `json:"shippingAddressSameAsBilling"`
	BillingAddressSameAsShipping   bool                `json:"billingAddressSameAsShipping"`
	EstimatedBillingSameAsShipping bool                `json:"estimatedBillingAddressSameAsShipping"`
	RegisterUserOnOrderComplete    bool                `json:"registerUserOnOrderComplete"`
	IsCompleted                    bool                `json:"isCompleted"`
	DateOrdered                    string              `json:"dateOrdered,omitempty"`
	Fields                         map[string]any      `json:"fields,omitempty"`
	Notices                        []noticePayload     `json:"notices"`
	Errors                         map[string][]string `json:"errors,omitempty"`
	DateUpdated                    string              `json:"dateUpdated,omitempty"`
}

type lineItemPayload struct {
	ID               string         `json:"id"`
	PurchasableID    string         `json:"purchasableId"`
	Options          map[string]any `json:"options"`
	OptionsSignature string         `json:"optionsSignature"`
	Qty              int            `json:"qty"`
	Note             string         `json:"note,omitempty"`
}

type addressPayload struct {
	ID     string            `json:"id,omitempty"`
	Fields map[string]string `json:"fields"`
}

type noticePayload struct {
	Type      string `json:"type"`
	Attribute string `json:"attribute"`
	Message   string `json:"message"`
}

func buildCartPayload(cart services.Cart) cartPayload {
	payload := cartPayload{
		ID:                             cart.ID,
		Number:                         cart.Number,
		Reference:                      cart.Reference,
		CustomerID:                     cart.CustomerID,
		Email:                          cart.Email,
		LineItems:                      make([]lineItemPayload, 0, len(cart.LineItems)),
		ShippingMethodHandle:           cart.ShippingMethodHandle,
		GatewayID:                      cart.GatewayID,
		PaymentSourceID:                cart.PaymentSourceID,
		CouponCode:                     cart.CouponCode,
		PaymentCurrency:                cart.PaymentCurrency,
		ShippingAddress:                buildAddressPayload(cart.ShippingAddress),
		BillingAddress:                 buildAddressPayload(cart.BillingAddress),
		EstimatedShippingAddress:       buildAddressPayload(cart.EstimatedShippingAddress),
		EstimatedBillingAddress:        buildAddressPayload(cart.EstimatedBillingAddress),
		SourceShippingAddressID:        cart.SourceShippingAddressID,
		SourceBillingAddressID:         cart.SourceBillingAddressID,
		ShippingAddressSameAsBilling:   cart.ShippingSameAsBilling,
		BillingAddressSameAsShipping:   cart.BillingSameAsShipping,
		EstimatedBillingSameAsShipping: cart.EstimatedBillingSameAsShipping,
		RegisterUserOnOrderComplete:    cart.RegisterUserOnOrderComplete,
		IsCompleted:                    cart.IsCompleted,
		Fields:                         cart.Fields,
		Notices:                        make([]noticePayload, 0, len(cart.Notices)),
	}
	for _, item := range cart.LineItems {
		options := item.Options
		if options == nil {
			options = map[string]any{}
		}
		payload.LineItems = append(payload.LineItems, lineItemPayload{
			ID:               item.ID,
			PurchasableID:    item.PurchasableID,
			Options:          options,
			OptionsSignature: item.OptionsSignature,
			Qty:              item.Qty,
			Note:             item.Note,
		})
		payload.TotalQty += item.Qty
	}
	for _, notice := range cart.Notices {
		payload.Notices = append(payload.Notices, noticePayload(notice))
	}
	if !cart.Errors.Empty() {
		payload.Errors = cart.Errors
	}
	if cart.DateOrdered != nil {
		payload.DateOrdered = formatTime(*cart.DateOrdered)
	}
	if !cart.UpdatedAt.IsZero() {
		payload.DateUpdated = formatTime(cart.UpdatedAt)
	}
	return payload
}

func buildAddressPayload(address *services.Address) *addressPayload {
	if address == nil {
		return nil
	}
	fields := make(map[string]string, len(address.Fields))
	for k, v := range address.Fields {
		fields[k] = v
	}
	return &addressPayload{ID: address.ID, Fields: fields}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
