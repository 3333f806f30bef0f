package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	domain "github.com/hanko-field/cartengine/internal/domain"
)

type stubPurchasableRepository struct {
	items map[string]domain.Purchasable
	err   error
}

func (s stubPurchasableRepository) FindPurchasables(_ context.Context, ids []string) (map[string]domain.Purchasable, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[string]domain.Purchasable, len(ids))
	for _, id := range ids {
		if item, ok := s.items[id]; ok {
			out[id] = item
		}
	}
	return out, nil
}

func TestCartValidatorScalarFields(t *testing.T) {
	validator := NewCartValidator(nil, CustomFieldRules{})
	long := strings.Repeat("x", maxCouponCodeLength+1)

	tests := []struct {
		name   string
		cart   Cart
		fields []string
		want   []string
	}{
		{"valid email", Cart{Email: "shopper@example.com"}, []string{"email"}, nil},
		{"invalid email", Cart{Email: "not-an-email"}, []string{"email"}, []string{"email"}},
		{"display name rejected", Cart{Email: "Shopper <shopper@example.com>"}, []string{"email"}, []string{"email"}},
		{"blank email skipped", Cart{}, []string{"email"}, nil},
		{"known currency", Cart{PaymentCurrency: "JPY"}, []string{"paymentCurrency"}, nil},
		{"malformed currency", Cart{PaymentCurrency: "yen!"}, []string{"paymentCurrency"}, []string{"paymentCurrency"}},
		{"long coupon", Cart{CouponCode: &long}, []string{"couponCode"}, []string{"couponCode"}},
		{"unlisted fields skipped", Cart{Email: "not-an-email"}, []string{"lineItems"}, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			errs := validator.Validate(context.Background(), tc.cart, tc.fields)
			if len(errs) != len(tc.want) {
				t.Fatalf("expected errors on %v, got %v", tc.want, errs)
			}
			for _, field := range tc.want {
				if !errs.Has(field) {
					t.Fatalf("expected error on %s, got %v", field, errs)
				}
			}
		})
	}
}

func TestCartValidatorEmailMessage(t *testing.T) {
	validator := NewCartValidator(nil, CustomFieldRules{})
	errs := validator.Validate(context.Background(), Cart{Email: "not-an-email"}, []string{"email"})
	if got, want := errs.First("email"), `"not-an-email" is not a valid email address.`; got != want {
		t.Fatalf("unexpected message %q, want %q", got, want)
	}
}

func TestCartValidatorLineItems(t *testing.T) {
	repo := stubPurchasableRepository{items: map[string]domain.Purchasable{
		"prod-1": {ID: "prod-1", Available: true},
		"prod-2": {ID: "prod-2", Available: false},
	}}
	validator := NewCartValidator(repo, CustomFieldRules{})
	cart := Cart{LineItems: []LineItem{
		{PurchasableID: "prod-1", Qty: 0},
		{PurchasableID: "prod-2", Qty: 1},
		{PurchasableID: "prod-9", Qty: 1, Note: strings.Repeat("n", maxLineItemNoteLength+1)},
		{PurchasableID: "prod-1", Qty: 3},
	}}

	errs := validator.Validate(context.Background(), cart, []string{"lineItems"})
	for _, field := range []string{"lineItems.0.qty", "lineItems.1.purchasableId", "lineItems.2.purchasableId", "lineItems.2.note"} {
		if !errs.Has(field) {
			t.Fatalf("expected error on %s, got %v", field, errs)
		}
	}
	if errs.Has("lineItems.3.qty") || errs.Has("lineItems.3.purchasableId") {
		t.Fatalf("valid line flagged: %v", errs)
	}

	failing := NewCartValidator(stubPurchasableRepository{err: errors.New("down")}, CustomFieldRules{})
	if errs := failing.Validate(context.Background(), cart, []string{"lineItems"}); !errs.Has("lineItems") {
		t.Fatalf("expected catalogue failure to be reported, got %v", errs)
	}
}

func TestCartValidatorCustomFields(t *testing.T) {
	validator := NewCartValidator(nil, CustomFieldRules{Required: []string{"giftMessage"}, MaxLength: 5})
	cart := Cart{Fields: map[string]any{"giftMessage": "  ", "poNumber": "123456", "count": 12345678}}

	errs := validator.Validate(context.Background(), cart, []string{"fields.giftMessage", "fields.poNumber", "fields.count"})
	if errs.First("fields.giftMessage") != "giftMessage cannot be blank." {
		t.Fatalf("expected blank error, got %v", errs)
	}
	if errs.First("fields.poNumber") != "poNumber is too long." {
		t.Fatalf("expected length error, got %v", errs)
	}
	if errs.Has("fields.count") {
		t.Fatalf("non-text values are not length checked, got %v", errs)
	}
}
