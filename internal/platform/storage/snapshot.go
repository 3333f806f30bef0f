package storage

import (
	"time"

	"github.com/hanko-field/cartengine/internal/services"
)

const snapshotVersion = 1

type orderSnapshot struct {
	Version              int                 `json:"version"`
	CartID               string              `json:"cartId"`
	Number               string              `json:"number"`
	Reference            string              `json:"reference,omitempty"`
	CustomerID           string              `json:"customerId,omitempty"`
	Email                string              `json:"email"`
	DateOrdered          *time.Time          `json:"dateOrdered,omitempty"`
	PaymentCurrency      string              `json:"paymentCurrency,omitempty"`
	GatewayID            string              `json:"gatewayId,omitempty"`
	PaymentSourceID      string              `json:"paymentSourceId,omitempty"`
	CouponCode           *string             `json:"couponCode,omitempty"`
	ShippingMethodHandle string              `json:"shippingMethodHandle,omitempty"`
	ShippingAddress      map[string]string   `json:"shippingAddress,omitempty"`
	BillingAddress       map[string]string   `json:"billingAddress,omitempty"`
	LineItems            []lineItemSnapshot  `json:"lineItems"`
	Fields               map[string]any      `json:"fields,omitempty"`
	RegisterUser         bool                `json:"registerUserOnOrderComplete"`
	Notices              []map[string]string `json:"notices,omitempty"`
}

type lineItemSnapshot struct {
	ID            string         `json:"id"`
	PurchasableID string         `json:"purchasableId"`
	Options       map[string]any `json:"options,omitempty"`
	Qty           int            `json:"qty"`
	Note          string         `json:"note,omitempty"`
}

func newOrderSnapshot(cart services.Cart) orderSnapshot {
	snapshot := orderSnapshot{
		Version:              snapshotVersion,
		CartID:               cart.ID,
		Number:               cart.Number,
		Reference:            cart.Reference,
		CustomerID:           cart.CustomerID,
		Email:                cart.Email,
		DateOrdered:          cart.DateOrdered,
		PaymentCurrency:      cart.PaymentCurrency,
		GatewayID:            cart.GatewayID,
		PaymentSourceID:      cart.PaymentSourceID,
		CouponCode:           cart.CouponCode,
		ShippingMethodHandle: cart.ShippingMethodHandle,
		Fields:               cart.Fields,
		RegisterUser:         cart.RegisterUserOnOrderComplete,
		LineItems:            make([]lineItemSnapshot, 0, len(cart.LineItems)),
	}
	if cart.ShippingAddress != nil {
		snapshot.ShippingAddress = cart.ShippingAddress.Fields
	}
	if cart.BillingAddress != nil {
		snapshot.BillingAddress = cart.BillingAddress.Fields
	}
	for _, item := range cart.LineItems {
		snapshot.LineItems = append(snapshot.LineItems, lineItemSnapshot{
			ID:            item.ID,
			PurchasableID: item.PurchasableID,
			Options:       item.Options,
			Qty:           item.Qty,
			Note:          item.Note,
		})
	}
	for _, notice := range cart.Notices {
		snapshot.Notices = append(snapshot.Notices, map[string]string{
			"type":      notice.Type,
			"attribute": notice.Attribute,
			"message":   notice.Message,
		})
	}
	return snapshot
}
