package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/cartengine/internal/domain"
	pfirestore "github.com/hanko-field/cartengine/internal/platform/firestore"
	"github.com/hanko-field/cartengine/internal/repositories"
)

const cartCollection = "carts"

// CartRepository persists carts and completed orders in a single collection keyed by cart ID.
// Cart-owned addresses are embedded in the cart document.
type CartRepository struct {
	base *pfirestore.BaseRepository[cartDocument]
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	return &CartRepository{
		base: pfirestore.NewBaseRepository[cartDocument](provider, cartCollection),
	}, nil
}

// FindIncompleteByNumber returns the open cart carrying the number.
func (r *CartRepository) FindIncompleteByNumber(ctx context.Context, number string) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	number = strings.TrimSpace(number)
	if number == "" {
		return domain.Cart{}, pfirestore.NotFoundError("carts.findByNumber", "cart number is empty")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("number", "==", number).Where("isCompleted", "==", false).Limit(1)
	})
	if err != nil {
		return domain.Cart{}, err
	}
	if len(docs) == 0 {
		return domain.Cart{}, pfirestore.NotFoundError("carts.findByNumber", "cart "+number+" not found")
	}
	return docs[0].Data.toDomain(docs[0].ID, docs[0].UpdateTime), nil
}

// Save creates the cart when expectedUpdatedAt is nil, otherwise replaces it provided the stored
// document was last written at expectedUpdatedAt. The returned cart carries the new write time.
func (r *CartRepository) Save(ctx context.Context, cart domain.Cart, expectedUpdatedAt *time.Time) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	cartID := strings.TrimSpace(cart.ID)
	if cartID == "" {
		return domain.Cart{}, errors.New("cart repository: cart id is required")
	}
	if strings.TrimSpace(cart.Number) == "" {
		return domain.Cart{}, errors.New("cart repository: cart number is required")
	}

	doc := fromDomainCart(cart, time.Now().UTC())

	var (
		result pfirestore.MutationResult
		err    error
	)
	if expectedUpdatedAt == nil || expectedUpdatedAt.IsZero() {
		result, err = r.base.Create(ctx, cartID, doc)
	} else {
		result, err = r.base.Update(ctx, cartID, doc.updates(), firestore.LastUpdateTime(expectedUpdatedAt.UTC()))
	}
	if err != nil {
		return domain.Cart{}, err
	}

	saved := cart.Clone()
	saved.ID = cartID
	saved.CreatedAt = doc.CreatedAt
	saved.UpdatedAt = result.UpdateTime
	saved.Errors = nil
	return saved, nil
}

type cartDocument struct {
	Number               string             `firestore:"number"`
	Reference            string             `firestore:"reference,omitempty"`
	CustomerID           string             `firestore:"customerId,omitempty"`
	Email                string             `firestore:"email,omitempty"`
	LineItems            []lineItemDocument `firestore:"lineItems"`
	ShippingMethodHandle string             `firestore:"shippingMethodHandle,omitempty"`
	GatewayID            string             `firestore:"gatewayId,omitempty"`
	PaymentSourceID      string             `firestore:"paymentSourceId,omitempty"`
	CouponCode           *string            `firestore:"couponCode"`
	PaymentCurrency      string             `firestore:"paymentCurrency,omitempty"`

	ShippingAddress          *cartAddressDocument `firestore:"shippingAddress"`
	BillingAddress           *cartAddressDocument `firestore:"billingAddress"`
	EstimatedShippingAddress *cartAddressDocument `firestore:"estimatedShippingAddress"`
	EstimatedBillingAddress  *cartAddressDocument `firestore:"estimatedBillingAddress"`
	SourceShippingAddressID  string               `firestore:"sourceShippingAddressId,omitempty"`
	SourceBillingAddressID   string               `firestore:"sourceBillingAddressId,omitempty"`

	BillingSameAsShipping          bool `firestore:"billingSameAsShipping"`
	ShippingSameAsBilling          bool `firestore:"shippingSameAsBilling"`
	EstimatedBillingSameAsShipping bool `firestore:"estimatedBillingSameAsShipping"`
	MakePrimaryShippingAddress     bool `firestore:"makePrimaryShippingAddress"`
	MakePrimaryBillingAddress      bool `firestore:"makePrimaryBillingAddress"`
	RegisterUserOnOrderComplete    bool `firestore:"registerUserOnOrderComplete"`

	IsCompleted bool             `firestore:"isCompleted"`
	DateOrdered *time.Time       `firestore:"dateOrdered"`
	Fields      map[string]any   `firestore:"fields,omitempty"`
	Notices     []noticeDocument `firestore:"notices,omitempty"`
	CreatedAt   time.Time        `firestore:"createdAt"`
	UpdatedAt   time.Time        `firestore:"updatedAt"`
}

type lineItemDocument struct {
	ID               string         `firestore:"id"`
	PurchasableID    string         `firestore:"purchasableId"`
	Options          map[string]any `firestore:"options,omitempty"`
	OptionsSignature string         `firestore:"optionsSignature"`
	Qty              int            `firestore:"qty"`
	Note             string         `firestore:"note,omitempty"`
}

type cartAddressDocument struct {
	ID      string            `firestore:"id"`
	OwnerID string            `firestore:"ownerId,omitempty"`
	Fields  map[string]string `firestore:"fields"`
}

type noticeDocument struct {
	Type      string `firestore:"type"`
	Attribute string `firestore:"attribute,omitempty"`
	Message   string `firestore:"message"`
}

// updates lists every top-level field so an Update fully replaces the stored cart.
func (d cartDocument) updates() []firestore.Update {
	fields := d.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	notices := d.Notices
	if notices == nil {
		notices = []noticeDocument{}
	}
	return []firestore.Update{
		{Path: "number", Value: d.Number},
		{Path: "reference", Value: d.Reference},
		{Path: "customerId", Value: d.CustomerID},
		{Path: "email", Value: d.Email},
		{Path: "lineItems", Value: d.LineItems},
		{Path: "shippingMethodHandle", Value: d.ShippingMethodHandle},
		{Path: "gatewayId", Value: d.GatewayID},
		{Path: "paymentSourceId", Value: d.PaymentSourceID},
		{Path: "couponCode", Value: d.CouponCode},
		{Path: "paymentCurrency", Value: d.PaymentCurrency},
		{Path: "shippingAddress", Value: d.ShippingAddress},
		{Path: "billingAddress", Value: d.BillingAddress},
		{Path: "estimatedShippingAddress", Value: d.EstimatedShippingAddress},
		{Path: "estimatedBillingAddress", Value: d.EstimatedBillingAddress},
		{Path: "sourceShippingAddressId", Value: d.SourceShippingAddressID},
		{Path: "sourceBillingAddressId", Value: d.SourceBillingAddressID},
		{Path: "billingSameAsShipping", Value: d.BillingSameAsShipping},
		{Path: "shippingSameAsBilling", Value: d.ShippingSameAsBilling},
		{Path: "estimatedBillingSameAsShipping", Value: d.EstimatedBillingSameAsShipping},
		{Path: "makePrimaryShippingAddress", Value: d.MakePrimaryShippingAddress},
		{Path: "makePrimaryBillingAddress", Value: d.MakePrimaryBillingAddress},
		{Path: "registerUserOnOrderComplete", Value: d.RegisterUserOnOrderComplete},
		{Path: "isCompleted", Value: d.IsCompleted},
		{Path: "dateOrdered", Value: d.DateOrdered},
		{Path: "fields", Value: fields},
		{Path: "notices", Value: notices},
		{Path: "updatedAt", Value: d.UpdatedAt},
	}
}

func fromDomainCart(cart domain.Cart, now time.Time) cartDocument {
	createdAt := cart.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = now
	}
	updatedAt := cart.UpdatedAt.UTC()
	if updatedAt.IsZero() {
		updatedAt = now
	}

	doc := cartDocument{
		Number:                         strings.TrimSpace(cart.Number),
		Reference:                      cart.Reference,
		CustomerID:                     cart.CustomerID,
		Email:                          cart.Email,
		LineItems:                      make([]lineItemDocument, 0, len(cart.LineItems)),
		ShippingMethodHandle:           cart.ShippingMethodHandle,
		GatewayID:                      cart.GatewayID,
		PaymentSourceID:                cart.PaymentSourceID,
		CouponCode:                     cart.CouponCode,
		PaymentCurrency:                cart.PaymentCurrency,
		ShippingAddress:                fromDomainCartAddress(cart.ShippingAddress),
		BillingAddress:                 fromDomainCartAddress(cart.BillingAddress),
		EstimatedShippingAddress:       fromDomainCartAddress(cart.EstimatedShippingAddress),
		EstimatedBillingAddress:        fromDomainCartAddress(cart.EstimatedBillingAddress),
		SourceShippingAddressID:        cart.SourceShippingAddressID,
		SourceBillingAddressID:         cart.SourceBillingAddressID,
		BillingSameAsShipping:          cart.BillingSameAsShipping,
		ShippingSameAsBilling:          cart.ShippingSameAsBilling,
		EstimatedBillingSameAsShipping: cart.EstimatedBillingSameAsShipping,
		MakePrimaryShippingAddress:     cart.MakePrimaryShippingAddress,
		MakePrimaryBillingAddress:      cart.MakePrimaryBillingAddress,
		RegisterUserOnOrderComplete:    cart.RegisterUserOnOrderComplete,
		IsCompleted:                    cart.IsCompleted,
		DateOrdered:                    cart.DateOrdered,
		Fields:                         domain.CloneAnyMap(cart.Fields),
		CreatedAt:                      createdAt,
		UpdatedAt:                      updatedAt,
	}
	for _, item := range cart.LineItems {
		doc.LineItems = append(doc.LineItems, lineItemDocument{
			ID:               item.ID,
			PurchasableID:    item.PurchasableID,
			Options:          domain.CloneAnyMap(item.Options),
			OptionsSignature: item.OptionsSignature,
			Qty:              item.Qty,
			Note:             item.Note,
		})
	}
	for _, notice := range cart.Notices {
		doc.Notices = append(doc.Notices, noticeDocument(notice))
	}
	return doc
}

func (d cartDocument) toDomain(id string, updateTime time.Time) domain.Cart {
	cart := domain.Cart{
		ID:                             id,
		Number:                         d.Number,
		Reference:                      d.Reference,
		CustomerID:                     d.CustomerID,
		Email:                          d.Email,
		LineItems:                      make([]domain.LineItem, 0, len(d.LineItems)),
		ShippingMethodHandle:           d.ShippingMethodHandle,
		GatewayID:                      d.GatewayID,
		PaymentSourceID:                d.PaymentSourceID,
		CouponCode:                     d.CouponCode,
		PaymentCurrency:                d.PaymentCurrency,
		ShippingAddress:                d.ShippingAddress.toDomain(),
		BillingAddress:                 d.BillingAddress.toDomain(),
		EstimatedShippingAddress:       d.EstimatedShippingAddress.toDomain(),
		EstimatedBillingAddress:        d.EstimatedBillingAddress.toDomain(),
		SourceShippingAddressID:        d.SourceShippingAddressID,
		SourceBillingAddressID:         d.SourceBillingAddressID,
		BillingSameAsShipping:          d.BillingSameAsShipping,
		ShippingSameAsBilling:          d.ShippingSameAsBilling,
		EstimatedBillingSameAsShipping: d.EstimatedBillingSameAsShipping,
		MakePrimaryShippingAddress:     d.MakePrimaryShippingAddress,
		MakePrimaryBillingAddress:      d.MakePrimaryBillingAddress,
		RegisterUserOnOrderComplete:    d.RegisterUserOnOrderComplete,
		IsCompleted:                    d.IsCompleted,
		DateOrdered:                    d.DateOrdered,
		Fields:                         domain.CloneAnyMap(d.Fields),
		CreatedAt:                      d.CreatedAt,
		UpdatedAt:                      updateTime,
	}
	if cart.Fields == nil {
		cart.Fields = map[string]any{}
	}
	if cart.UpdatedAt.IsZero() {
		cart.UpdatedAt = d.UpdatedAt
	}
	for _, item := range d.LineItems {
		cart.LineItems = append(cart.LineItems, domain.LineItem{
			ID:               item.ID,
			PurchasableID:    item.PurchasableID,
			Options:          domain.CloneAnyMap(item.Options),
			OptionsSignature: item.OptionsSignature,
			Qty:              item.Qty,
			Note:             item.Note,
		})
	}
	for _, notice := range d.Notices {
		cart.Notices = append(cart.Notices, domain.Notice(notice))
	}
	return cart
}

func fromDomainCartAddress(addr *domain.Address) *cartAddressDocument {
	if addr == nil {
		return nil
	}
	return &cartAddressDocument{
		ID:      addr.ID,
		OwnerID: addr.OwnerID,
		Fields:  cloneStringMap(addr.Fields),
	}
}

func (d *cartAddressDocument) toDomain() *domain.Address {
	if d == nil {
		return nil
	}
	return &domain.Address{
		ID:      d.ID,
		OwnerID: d.OwnerID,
		Fields:  cloneStringMap(d.Fields),
	}
}

func cloneStringMap(values map[string]string) map[string]string {
	if values == nil {
		return nil
	}
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}

var _ repositories.CartRepository = (*CartRepository)(nil)
