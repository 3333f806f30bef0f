package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/cartengine/internal/domain"
	"github.com/hanko-field/cartengine/internal/platform/auth"
	"github.com/hanko-field/cartengine/internal/platform/session"
	"github.com/hanko-field/cartengine/internal/services"
)

type stubCartService struct {
	getFunc      func(ctx context.Context, mctx services.MutationContext, cmd services.GetCartCommand) (services.Cart, error)
	updateFunc   func(ctx context.Context, mctx services.MutationContext, edits services.CartEdits) (services.MutationResult, error)
	loadFunc     func(ctx context.Context, mctx services.MutationContext, number string) (services.Cart, error)
	completeFunc func(ctx context.Context, mctx services.MutationContext, cmd services.CompleteCartCommand) (services.MutationResult, error)
}

func (s *stubCartService) GetCart(ctx context.Context, mctx services.MutationContext, cmd services.GetCartCommand) (services.Cart, error) {
	return s.getFunc(ctx, mctx, cmd)
}

func (s *stubCartService) UpdateCart(ctx context.Context, mctx services.MutationContext, edits services.CartEdits) (services.MutationResult, error) {
	return s.updateFunc(ctx, mctx, edits)
}

func (s *stubCartService) LoadCart(ctx context.Context, mctx services.MutationContext, number string) (services.Cart, error) {
	return s.loadFunc(ctx, mctx, number)
}

func (s *stubCartService) CompleteCart(ctx context.Context, mctx services.MutationContext, cmd services.CompleteCartCommand) (services.MutationResult, error) {
	return s.completeFunc(ctx, mctx, cmd)
}

func newCartRouter(h *CartHandlers) chi.Router {
	r := chi.NewRouter()
	r.Route("/cart", h.Routes)
	return r
}

func withShopper(req *http.Request, uid string) *http.Request {
	ctx := session.WithID(req.Context(), "sess-1")
	if uid != "" {
		ctx = auth.WithIdentity(ctx, &auth.Identity{UID: uid, Email: uid + "@example.com", Roles: []string{auth.RoleUser}})
	}
	return req.WithContext(ctx)
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rr.Body.String())
	}
	return body
}

func TestCartHandlersGetCart(t *testing.T) {
	updated := time.Date(2024, 5, 12, 10, 0, 0, 0, time.UTC)
	coupon := "SPRING"
	service := &stubCartService{
		getFunc: func(_ context.Context, mctx services.MutationContext, cmd services.GetCartCommand) (services.Cart, error) {
			if mctx.Channel != domain.ChannelSite || mctx.SessionID != "sess-1" || mctx.ActorID() != "" {
				t.Fatalf("unexpected mutation context %#v", mctx)
			}
			if cmd.Number != "01abc" || !cmd.ForceSave {
				t.Fatalf("unexpected command %#v", cmd)
			}
			return services.Cart{
				Number:     "01abc",
				CouponCode: &coupon,
				LineItems: []services.LineItem{
					{ID: "li-1", PurchasableID: "7", Options: map[string]any{"size": "M"}, Qty: 2},
					{ID: "li-2", PurchasableID: "8", Qty: 1},
				},
				ShippingAddress: &services.Address{ID: "addr-1", Fields: map[string]string{"locality": "Tokyo"}},
				UpdatedAt:       updated,
			}, nil
		},
	}

	req := withShopper(httptest.NewRequest(http.MethodGet, "/cart?number=01abc&forceSave=1", nil), "")
	rr := httptest.NewRecorder()
	newCartRouter(NewCartHandlers(service)).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	cart := decodeBody(t, rr)["cart"].(map[string]any)
	if cart["number"] != "01abc" || cart["couponCode"] != "SPRING" {
		t.Fatalf("unexpected cart payload %#v", cart)
	}
	if cart["totalQty"].(float64) != 3 {
		t.Fatalf("expected total qty 3, got %v", cart["totalQty"])
	}
	if cart["billingAddress"] != nil {
		t.Fatalf("expected null billing address, got %v", cart["billingAddress"])
	}
	if cart["dateUpdated"] != "2024-05-12T10:00:00Z" {
		t.Fatalf("unexpected dateUpdated %v", cart["dateUpdated"])
	}
}

func TestCartHandlersUpdateCartTranslatesRequest(t *testing.T) {
	var got services.CartEdits
	var gotCtx services.MutationContext
	service := &stubCartService{
		updateFunc: func(_ context.Context, mctx services.MutationContext, edits services.CartEdits) (services.MutationResult, error) {
			got, gotCtx = edits, mctx
			return services.MutationResult{Success: true, Message: "Cart updated.", Cart: services.Cart{Number: "01abc"}}, nil
		},
	}

	body := `{
		"purchasables": {"1": {"id": "7", "options": {"size": "M"}, "qty": 1}, "0": {"id": "7", "options": {"size": "M"}, "qty": 2}, "2": {"id": "9"}},
		"lineItems": {"li-2": {"remove": "1"}, "li-1": {"qty": 0}},
		"couponCode": "  ",
		"billingAddressSameAsShipping": "on",
		"shippingAddressId": "home",
		"registerUserOnOrderComplete": "false",
		"paymentSourceId": "",
		"fields": {"giftMessage": "hi"},
		"complete": "1"
	}`
	req := withShopper(httptest.NewRequest(http.MethodPost, "/cart/update", strings.NewReader(body)), "user-1")
	rr := httptest.NewRecorder()
	newCartRouter(NewCartHandlers(service)).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotCtx.ActorID() != "user-1" || !gotCtx.IsSiteRequest() {
		t.Fatalf("unexpected mutation context %#v", gotCtx)
	}
	if len(got.Purchasables) != 3 || got.Purchasables[0].Qty != 2 || got.Purchasables[2].Qty != 1 {
		t.Fatalf("expected rows ordered by index with default qty, got %#v", got.Purchasables)
	}
	if len(got.LineItems) != 2 || got.LineItems[0].ID != "li-1" || !got.LineItems[1].Remove {
		t.Fatalf("unexpected line edits %#v", got.LineItems)
	}
	if qty, ok := got.LineItems[0].Qty.Get(); !ok || qty != 0 {
		t.Fatalf("expected explicit zero qty, got %v %v", qty, ok)
	}
	if code, ok := got.CouponCode.Get(); !ok || code != "  " {
		t.Fatalf("expected blank coupon to be submitted, got %q %v", code, ok)
	}
	if source, ok := got.PaymentSourceID.Get(); !ok || source != "" {
		t.Fatalf("expected explicit empty payment source, got %q %v", source, ok)
	}
	if got.Email.IsSet() {
		t.Fatal("expected omitted email to stay unset")
	}
	if flag, ok := got.RegisterUserOnOrderComplete.Get(); !ok || flag {
		t.Fatalf("expected literal \"false\" to clear registration, got %v %v", flag, ok)
	}
	if !got.Addresses.BillingSameAsShipping || got.Addresses.ShippingAddressID.OrElse("") != "home" {
		t.Fatalf("unexpected address edits %#v", got.Addresses)
	}
	if !got.Complete {
		t.Fatal("expected complete flag to reach the service")
	}
}

func TestCartHandlersUpdateCartFailureReturnsErrors(t *testing.T) {
	service := &stubCartService{
		updateFunc: func(context.Context, services.MutationContext, services.CartEdits) (services.MutationResult, error) {
			return services.MutationResult{
				Success: false,
				Message: "Unable to update cart.",
				Cart:    services.Cart{Number: "01abc"},
				Errors:  domain.FieldErrors{"email": {"No customer email address exists on this cart."}},
			}, nil
		},
	}
	req := withShopper(httptest.NewRequest(http.MethodPost, "/cart/update", strings.NewReader(`{"email": ""}`)), "")
	rr := httptest.NewRecorder()
	newCartRouter(NewCartHandlers(service)).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["message"] != "Unable to update cart." || body["success"] != false {
		t.Fatalf("unexpected body %#v", body)
	}
	cart := body["cart"].(map[string]any)
	if _, ok := cart["errors"].(map[string]any)["email"]; !ok {
		t.Fatalf("expected field errors merged into cart, got %#v", cart)
	}
}

func TestCartHandlersRejectsMalformedBody(t *testing.T) {
	service := &stubCartService{
		updateFunc: func(context.Context, services.MutationContext, services.CartEdits) (services.MutationResult, error) {
			t.Fatal("service should not be called")
			return services.MutationResult{}, nil
		},
	}
	req := withShopper(httptest.NewRequest(http.MethodPost, "/cart/update", strings.NewReader(`{"qty": "many"}`)), "")
	rr := httptest.NewRecorder()
	newCartRouter(NewCartHandlers(service)).ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestCartHandlersErrorMapping(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantMessage string
	}{
		{name: "payment required", err: services.ErrCartPaymentRequired, wantStatus: http.StatusUnauthorized, wantMessage: "You must make a payment to complete the order."},
		{name: "not found", err: services.ErrCartNotFound, wantStatus: http.StatusNotFound, wantMessage: "Cart not found"},
		{name: "conflict", err: services.ErrCartConflict, wantStatus: http.StatusConflict},
		{name: "unavailable", err: services.ErrCartUnavailable, wantStatus: http.StatusServiceUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			service := &stubCartService{
				completeFunc: func(context.Context, services.MutationContext, services.CompleteCartCommand) (services.MutationResult, error) {
					return services.MutationResult{}, tc.err
				},
			}
			req := withShopper(httptest.NewRequest(http.MethodPost, "/cart/complete", nil), "")
			rr := httptest.NewRecorder()
			newCartRouter(NewCartHandlers(service)).ServeHTTP(rr, req)
			if rr.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d", tc.wantStatus, rr.Code)
			}
			if tc.wantMessage != "" && decodeBody(t, rr)["message"] != tc.wantMessage {
				t.Fatalf("unexpected message %s", rr.Body.String())
			}
		})
	}
}

func TestCartHandlersCompletePassesCommand(t *testing.T) {
	var got services.CompleteCartCommand
	service := &stubCartService{
		completeFunc: func(_ context.Context, _ services.MutationContext, cmd services.CompleteCartCommand) (services.MutationResult, error) {
			got = cmd
			return services.MutationResult{Success: true, Message: "Order placed.", Cart: services.Cart{Number: "01abc", IsCompleted: true}}, nil
		},
	}
	req := withShopper(httptest.NewRequest(http.MethodPost, "/cart/complete", strings.NewReader(`{"registerUserOnOrderComplete": 1, "successMessage": "Order placed."}`)), "")
	rr := httptest.NewRecorder()
	newCartRouter(NewCartHandlers(service)).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if flag, ok := got.RegisterUserOnOrderComplete.Get(); !ok || !flag {
		t.Fatalf("expected registration flag, got %v %v", flag, ok)
	}
	if got.SuccessMessage.OrElse("") != "Order placed." {
		t.Fatalf("unexpected success message %#v", got.SuccessMessage)
	}
}

func TestCartHandlersLoadCart(t *testing.T) {
	service := &stubCartService{
		loadFunc: func(_ context.Context, _ services.MutationContext, number string) (services.Cart, error) {
			switch number {
			case "":
				return services.Cart{}, services.ErrCartNumberRequired
			case "missing":
				return services.Cart{}, services.ErrCartNotRetrievable
			}
			return services.Cart{Number: number}, nil
		},
	}
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	router := newCartRouter(NewCartHandlers(service, WithLoadRateLimit(3, time.Minute, func() time.Time { return now })))

	cases := []struct {
		body        string
		wantStatus  int
		wantMessage string
	}{
		{body: `{"number": "01xyz"}`, wantStatus: http.StatusOK},
		{body: `{}`, wantStatus: http.StatusBadRequest, wantMessage: "A cart number must be specified."},
		{body: `{"number": "missing"}`, wantStatus: http.StatusNotFound, wantMessage: "Unable to retrieve cart."},
		{body: `{"number": "01xyz"}`, wantStatus: http.StatusTooManyRequests},
	}
	for i, tc := range cases {
		req := withShopper(httptest.NewRequest(http.MethodPost, "/cart/load", strings.NewReader(tc.body)), "")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != tc.wantStatus {
			t.Fatalf("case %d: expected %d, got %d", i, tc.wantStatus, rr.Code)
		}
		if tc.wantMessage != "" && decodeBody(t, rr)["message"] != tc.wantMessage {
			t.Fatalf("case %d: unexpected body %s", i, rr.Body.String())
		}
	}
}

func TestCartHandlersLoadCartLimitsGuestsByClientAddress(t *testing.T) {
	service := &stubCartService{
		loadFunc: func(_ context.Context, _ services.MutationContext, number string) (services.Cart, error) {
			return services.Cart{Number: number}, nil
		},
	}
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	router := newCartRouter(NewCartHandlers(service, WithLoadRateLimit(2, time.Minute, func() time.Time { return now })))

	load := func(sessionID, remoteAddr string) int {
		req := httptest.NewRequest(http.MethodPost, "/cart/load", strings.NewReader(`{"number": "01xyz"}`))
		req.RemoteAddr = remoteAddr
		req = req.WithContext(session.WithID(req.Context(), sessionID))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr.Code
	}

	if code := load("sess-a", "203.0.113.7:5100"); code != http.StatusOK {
		t.Fatalf("expected first load to pass, got %d", code)
	}
	if code := load("sess-b", "203.0.113.7:5200"); code != http.StatusOK {
		t.Fatalf("expected second load to pass, got %d", code)
	}
	if code := load("sess-c", "203.0.113.7:5300"); code != http.StatusTooManyRequests {
		t.Fatalf("expected fresh session from the same address to be limited, got %d", code)
	}
	if code := load("sess-c", "198.51.100.4:5300"); code != http.StatusOK {
		t.Fatalf("expected another address to have its own budget, got %d", code)
	}
}

func TestAdminCartHandlersUseControlPanelChannel(t *testing.T) {
	var gotCtx services.MutationContext
	var gotNumber string
	service := &stubCartService{
		updateFunc: func(_ context.Context, mctx services.MutationContext, edits services.CartEdits) (services.MutationResult, error) {
			gotCtx = mctx
			gotNumber = edits.Number.OrElse("")
			return services.MutationResult{Success: true, Cart: services.Cart{Number: gotNumber}}, nil
		},
	}
	r := chi.NewRouter()
	r.Route("/admin", NewAdminCartHandlers(service).Routes)

	req := withShopper(httptest.NewRequest(http.MethodPost, "/admin/carts/01abc/update", strings.NewReader(`{"number": "ignored", "paymentSourceId": "ps-1"}`)), "staff-1")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotCtx.Channel != domain.ChannelControlPanel || gotCtx.IsSiteRequest() {
		t.Fatalf("expected control panel channel, got %q", gotCtx.Channel)
	}
	if gotNumber != "01abc" {
		t.Fatalf("expected path number to win, got %q", gotNumber)
	}
}
