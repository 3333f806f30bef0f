package handlers

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/cartengine/internal/domain"
	"github.com/hanko-field/cartengine/internal/platform/auth"
	"github.com/hanko-field/cartengine/internal/platform/httpx"
	"github.com/hanko-field/cartengine/internal/platform/session"
	"github.com/hanko-field/cartengine/internal/services"
)

const maxCartBodySize = 64 * 1024

// CartHandlers serves the storefront cart endpoints for guests and signed-in shoppers.
type CartHandlers struct {
	carts       services.CartService
	loadLimiter rateLimiter
}

// CartOption customises CartHandlers.
type CartOption func(*CartHandlers)

// WithLoadRateLimit bounds /cart/load attempts to limit per window, counted per user for
// signed-in shoppers and per client address for guests. Cart numbers act as bearer tokens for
// guest carts, so guessing them must stay slow.
func WithLoadRateLimit(limit int, window time.Duration, clock func() time.Time) CartOption {
	return func(h *CartHandlers) {
		h.loadLimiter = newFixedWindowLimiter(limit, window, clock)
	}
}

// NewCartHandlers builds the storefront cart handlers. Without WithLoadRateLimit loads are
// not throttled.
func NewCartHandlers(carts services.CartService, opts ...CartOption) *CartHandlers {
	h := &CartHandlers{carts: carts}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the /cart endpoints. Authentication and session middleware are applied by the
// router group.
func (h *CartHandlers) Routes(r chi.Router) {
	r.Get("/", h.getCart)
	r.Post("/update", h.updateCart)
	r.Post("/load", h.loadCart)
	r.Post("/complete", h.completeCart)
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeCartUnavailable(ctx, w)
		return
	}
	query := r.URL.Query()
	cart, err := h.carts.GetCart(ctx, siteMutationContext(ctx), services.GetCartCommand{
		Number:    strings.TrimSpace(query.Get("number")),
		ForceSave: truthy(query.Get("forceSave")),
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"cart": buildCartPayload(cart)})
}

func (h *CartHandlers) updateCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeCartUnavailable(ctx, w)
		return
	}
	var req updateCartRequest
	if !decodeCartBody(w, r, &req) {
		return
	}
	result, err := h.carts.UpdateCart(ctx, siteMutationContext(ctx), req.edits())
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeMutationResult(w, result)
}

func (h *CartHandlers) loadCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeCartUnavailable(ctx, w)
		return
	}
	mctx := siteMutationContext(ctx)
	if h.loadLimiter != nil && !h.loadLimiter.Allow(loadLimitKey(r, mctx)) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many cart load attempts", http.StatusTooManyRequests))
		return
	}

	var req loadCartRequest
	if !decodeCartBody(w, r, &req) {
		return
	}
	if req.Number == "" {
		req.Number = r.URL.Query().Get("number")
	}
	cart, err := h.carts.LoadCart(ctx, mctx, req.Number)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"cart":    buildCartPayload(cart),
	})
}

// loadLimitKey counts guests by client address. A guest can always start a fresh session, so
// the session id alone would not bound attempts. RemoteAddr is already rewritten by the RealIP
// middleware when the service runs behind a proxy.
func loadLimitKey(r *http.Request, mctx services.MutationContext) string {
	if uid := mctx.ActorID(); uid != "" {
		return "user:" + uid
	}
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	if addr == "" {
		return "session:" + mctx.SessionID
	}
	return "ip:" + addr
}

func (h *CartHandlers) completeCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeCartUnavailable(ctx, w)
		return
	}
	var req completeCartRequest
	if !decodeCartBody(w, r, &req) {
		return
	}
	result, err := h.carts.CompleteCart(ctx, siteMutationContext(ctx), req.command())
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeMutationResult(w, result)
}

// AdminCartHandlers lets staff edit any open cart from the control panel.
type AdminCartHandlers struct {
	carts services.CartService
}

func NewAdminCartHandlers(carts services.CartService) *AdminCartHandlers {
	return &AdminCartHandlers{carts: carts}
}

func (h *AdminCartHandlers) Routes(r chi.Router) {
	r.Post("/carts/{number}/update", h.updateCart)
}

func (h *AdminCartHandlers) updateCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeCartUnavailable(ctx, w)
		return
	}
	number := strings.TrimSpace(chi.URLParam(r, "number"))
	if number == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "cart number is required", http.StatusBadRequest))
		return
	}
	var req updateCartRequest
	if !decodeCartBody(w, r, &req) {
		return
	}
	edits := req.edits()
	edits.Number = domain.Some(number)

	mctx := siteMutationContext(ctx)
	mctx.Channel = domain.ChannelControlPanel
	result, err := h.carts.UpdateCart(ctx, mctx, edits)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeMutationResult(w, result)
}

// siteMutationContext builds the acting context from the verified identity and session.
func siteMutationContext(ctx context.Context) services.MutationContext {
	mctx := services.MutationContext{
		Channel:   domain.ChannelSite,
		SessionID: session.IDFromContext(ctx),
	}
	if identity, ok := auth.IdentityFromContext(ctx); ok {
		mctx.Actor = &services.Actor{
			UID:   identity.UID,
			Email: identity.Email,
			Roles: append([]string(nil), identity.Roles...),
		}
	}
	return mctx
}

// decodeCartBody accepts an empty body as an empty request.
func decodeCartBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := httpx.DecodeJSON(r, dst, maxCartBodySize)
	switch {
	case err == nil, errors.Is(err, httpx.ErrEmptyBody):
		return true
	case errors.Is(err, httpx.ErrBodyTooLarge):
		httpx.WriteError(r.Context(), w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "request body must be a valid JSON object", http.StatusBadRequest))
	}
	return false
}

// writeMutationResult reports failures with 400 and the field errors merged into the cart.
func writeMutationResult(w http.ResponseWriter, result services.MutationResult) {
	cart := buildCartPayload(result.Cart)
	if result.Success {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": result.Message,
			"cart":    cart,
		})
		return
	}
	errs := map[string][]string(result.Errors)
	if errs == nil {
		errs = map[string][]string{}
	}
	cart.Errors = errs
	httpx.WriteJSON(w, http.StatusBadRequest, map[string]any{
		"success": false,
		"error":   "cart_update_failed",
		"message": result.Message,
		"errors":  errs,
		"cart":    cart,
	})
}

func writeCartUnavailable(ctx context.Context, w http.ResponseWriter) {
	httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
}

func writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCartPaymentRequired):
		httpx.WriteError(ctx, w, httpx.NewError("payment_required", "You must make a payment to complete the order.", http.StatusUnauthorized))
	case errors.Is(err, services.ErrCartNumberRequired):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "A cart number must be specified.", http.StatusBadRequest))
	case errors.Is(err, services.ErrCartNotRetrievable):
		httpx.WriteError(ctx, w, httpx.NewError("cart_not_found", "Unable to retrieve cart.", http.StatusNotFound))
	case errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid cart request", http.StatusBadRequest))
	case errors.Is(err, services.ErrCartNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_not_found", "Cart not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartConflict):
		httpx.WriteError(ctx, w, httpx.NewError("cart_conflict", "cart has been modified; refresh and retry", http.StatusConflict))
	case errors.Is(err, services.ErrCartUnavailable):
		writeCartUnavailable(ctx, w)
	default:
		httpx.WriteError(ctx, w, httpx.NewError("cart_error", "failed to process cart", http.StatusInternalServerError))
	}
}
