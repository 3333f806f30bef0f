package services

import (
	"context"
	"strings"

	domain "github.com/hanko-field/cartengine/internal/domain"
)

// loadOrCreateCart returns the session's open cart, or a new one. With forceSave a new cart is
// stored immediately so it has an identity that owned addresses can reference.
func (s *cartService) loadOrCreateCart(ctx context.Context, mctx MutationContext, forceSave bool) (Cart, error) {
	number := s.sessionCartNumber(ctx, mctx)
	if number != "" {
		cart, err := s.carts.FindIncompleteByNumber(ctx, number)
		switch {
		case err == nil:
			return s.claimCart(cart, mctx), nil
		case isRepoNotFound(err):
			// The session points at a cart that completed or vanished.
			if mctx.SessionID != "" {
				_ = s.sessions.ForgetCart(ctx, mctx.SessionID)
			}
		default:
			return Cart{}, translateRepoError(err)
		}
	}

	cart := s.newCart(mctx)
	if !forceSave {
		return cart, nil
	}

	cart.ID = s.newID()
	saved, err := s.carts.Save(ctx, cart, nil)
	if err != nil {
		s.logger(ctx, "cart.create_failed", map[string]any{
			"cartNumber": cart.Number,
			"error":      err.Error(),
		})
		return Cart{}, translateRepoError(err)
	}
	if mctx.SessionID != "" {
		if err := s.sessions.RememberCart(ctx, mctx.SessionID, saved.Number); err != nil {
			s.logger(ctx, "cart.session_store_failed", map[string]any{
				"cartNumber": saved.Number,
				"error":      err.Error(),
			})
		}
	}
	return saved, nil
}

// loadCartByNumber returns the open cart with the number. A missing or completed cart is a hard
// ErrCartNotFound.
func (s *cartService) loadCartByNumber(ctx context.Context, mctx MutationContext, number string) (Cart, error) {
	cart, err := s.carts.FindIncompleteByNumber(ctx, number)
	if err != nil {
		return Cart{}, translateRepoError(err)
	}
	return s.claimCart(cart, mctx), nil
}

func (s *cartService) resolveCart(ctx context.Context, mctx MutationContext, number domain.Optional[string], forceSave bool) (Cart, error) {
	if value := optionalTrimmed(number); value != "" {
		return s.loadCartByNumber(ctx, mctx, value)
	}
	return s.loadOrCreateCart(ctx, mctx, forceSave)
}

func (s *cartService) sessionCartNumber(ctx context.Context, mctx MutationContext) string {
	if mctx.SessionID == "" {
		return ""
	}
	number, err := s.sessions.CartNumber(ctx, mctx.SessionID)
	if err != nil {
		s.logger(ctx, "cart.session_lookup_failed", map[string]any{"error": err.Error()})
		return ""
	}
	return strings.TrimSpace(number)
}

func (s *cartService) newCart(mctx MutationContext) Cart {
	now := s.now()
	cart := Cart{
		Number:    s.newNumber(),
		LineItems: []LineItem{},
		Fields:    map[string]any{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	return s.claimCart(cart, mctx)
}

// claimCart assigns an unowned cart to the signed-in shopper.
func (s *cartService) claimCart(cart Cart, mctx MutationContext) Cart {
	if mctx.Actor == nil || !mctx.IsSiteRequest() {
		return cart
	}
	if cart.CustomerID == "" {
		cart.CustomerID = mctx.Actor.UID
	}
	if cart.Email == "" && cart.CustomerID == mctx.Actor.UID {
		cart.Email = strings.TrimSpace(mctx.Actor.Email)
	}
	return cart
}
