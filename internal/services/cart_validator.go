package services

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/currency"

	"github.com/hanko-field/cartengine/internal/repositories"
)

const (
	maxLineItemNoteLength = 2000
	maxCouponCodeLength   = 64
	customFieldPrefix     = "fields."
)

// activeCartFields are validated on every save.
var activeCartFields = []string{"email", "paymentCurrency", "couponCode", "lineItems"}

// CustomFieldRules describes the constraints enforced on submitted custom fields.
type CustomFieldRules struct {
	Required  []string
	MaxLength int
}

type cartValidator struct {
	purchasables repositories.PurchasableRepository
	rules        CustomFieldRules
}

// NewCartValidator returns the default validator. Without a purchasable repository line items
// are only checked for quantity and note length.
func NewCartValidator(purchasables repositories.PurchasableRepository, rules CustomFieldRules) CartValidator {
	return &cartValidator{purchasables: purchasables, rules: rules}
}

func (v *cartValidator) Validate(ctx context.Context, cart Cart, fields []string) FieldErrors {
	errs := FieldErrors{}
	for _, field := range fields {
		switch {
		case field == "email":
			v.validateEmail(cart, &errs)
		case field == "paymentCurrency":
			v.validateCurrency(cart, &errs)
		case field == "couponCode":
			if cart.CouponCode != nil && utf8.RuneCountInString(*cart.CouponCode) > maxCouponCodeLength {
				errs.Add("couponCode", "Coupon code is too long.")
			}
		case field == "lineItems":
			v.validateLineItems(ctx, cart, &errs)
		case strings.HasPrefix(field, customFieldPrefix):
			v.validateCustomField(cart, strings.TrimPrefix(field, customFieldPrefix), &errs)
		}
	}
	return errs
}

func (v *cartValidator) validateEmail(cart Cart, errs *FieldErrors) {
	email := strings.TrimSpace(cart.Email)
	if email == "" {
		return
	}
	if !validEmail(email) {
		errs.Add("email", invalidEmailMessage(email))
	}
}

func (v *cartValidator) validateCurrency(cart Cart, errs *FieldErrors) {
	code := strings.TrimSpace(cart.PaymentCurrency)
	if code == "" {
		return
	}
	if _, err := currency.ParseISO(code); err != nil {
		errs.Add("paymentCurrency", "Payment currency is not supported.")
	}
}

func (v *cartValidator) validateLineItems(ctx context.Context, cart Cart, errs *FieldErrors) {
	if len(cart.LineItems) == 0 {
		return
	}

	var catalogue map[string]Purchasable
	if v.purchasables != nil {
		ids := make([]string, 0, len(cart.LineItems))
		for _, item := range cart.LineItems {
			ids = append(ids, item.PurchasableID)
		}
		found, err := v.purchasables.FindPurchasables(ctx, ids)
		if err != nil {
			errs.Add("lineItems", "Unable to verify the items in this cart.")
			return
		}
		catalogue = found
	}

	for i, item := range cart.LineItems {
		prefix := fmt.Sprintf("lineItems.%d.", i)
		if item.Qty < 1 {
			errs.Add(prefix+"qty", "Quantity must be at least 1.")
		}
		if utf8.RuneCountInString(item.Note) > maxLineItemNoteLength {
			errs.Add(prefix+"note", "Note is too long.")
		}
		if catalogue == nil {
			continue
		}
		purchasable, ok := catalogue[item.PurchasableID]
		if !ok || !purchasable.Available {
			errs.Add(prefix+"purchasableId", "This item is no longer available.")
		}
	}
}

func (v *cartValidator) validateCustomField(cart Cart, key string, errs *FieldErrors) {
	field := customFieldPrefix + key
	value := cart.Fields[key]
	text, isText := value.(string)

	for _, required := range v.rules.Required {
		if required != key {
			continue
		}
		if value == nil || (isText && strings.TrimSpace(text) == "") {
			errs.Add(field, fmt.Sprintf("%s cannot be blank.", key))
		}
	}
	if isText && v.rules.MaxLength > 0 && utf8.RuneCountInString(text) > v.rules.MaxLength {
		errs.Add(field, fmt.Sprintf("%s is too long.", key))
	}
}

// validEmail accepts a bare address only; display names and comments are rejected.
func validEmail(email string) bool {
	parsed, err := mail.ParseAddress(email)
	return err == nil && parsed.Address == email
}

func invalidEmailMessage(email string) string {
	return fmt.Sprintf("%q is not a valid email address.", email)
}
