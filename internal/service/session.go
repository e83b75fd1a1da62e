package service

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"kasirstok/backend/internal/cart"
	"kasirstok/backend/internal/domain"
	"kasirstok/backend/internal/store"
)

// SessionKey names the cart of one cashier on one terminal.
func SessionKey(username string, terminalID string) string {
	username = strings.ToLower(strings.TrimSpace(username))
	terminalID = strings.TrimSpace(terminalID)
	if terminalID == "" {
		terminalID = "default"
	}
	return username + ":" + terminalID
}

func (s *Service) Cart(ctx context.Context, session string) (*cart.Cart, error) {
	return s.carts.Get(ctx, session)
}

func (s *Service) CartView(ctx context.Context, session string) (domain.CartView, error) {
	c, err := s.carts.Get(ctx, session)
	if err != nil {
		return domain.CartView{}, err
	}
	return c.View(), nil
}

// AddToCart stages a line in the session's cart. A positive Grams marks a
// weighed selection; otherwise Quantity counts units and defaults to one.
func (s *Service) AddToCart(ctx context.Context, session string, req domain.CartAddRequest) (domain.CartView, error) {
	productID := strings.TrimSpace(req.ProductID)
	code := strings.TrimSpace(req.Barcode)
	if (productID == "") == (code == "") {
		return domain.CartView{}, cart.ErrInvalidSelection
	}
	if req.Grams.IsNegative() || req.Quantity.IsNegative() {
		return domain.CartView{}, store.ErrInvalidTransaction
	}

	sel := cart.ByProductID(productID)
	if code != "" {
		sel = cart.ByBarcode(code)
	}
	qty := req.Quantity
	if req.Grams.IsPositive() {
		sel = sel.Weighed()
		qty = req.Grams
	} else if qty.IsZero() {
		qty = decimal.NewFromInt(1)
	}

	c, err := s.carts.Get(ctx, session)
	if err != nil {
		return domain.CartView{}, err
	}
	if _, err := c.Add(ctx, sel, qty); err != nil {
		return domain.CartView{}, err
	}
	s.persistCart(ctx, session, c)
	return c.View(), nil
}

func (s *Service) RemoveFromCart(ctx context.Context, session string, index int) (domain.CartView, error) {
	c, err := s.carts.Get(ctx, session)
	if err != nil {
		return domain.CartView{}, err
	}
	if _, err := c.Remove(index); err != nil {
		return domain.CartView{}, err
	}
	s.persistCart(ctx, session, c)
	return c.View(), nil
}

func (s *Service) ClearCart(ctx context.Context, session string) error {
	c, err := s.carts.Get(ctx, session)
	if err != nil {
		return err
	}
	c.Clear()
	s.persistCart(ctx, session, c)
	return nil
}

// CheckoutSession confirms the session's cart on behalf of the actor in ctx.
func (s *Service) CheckoutSession(ctx context.Context, session string, paymentMethod string) (domain.SaleReceipt, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.SaleReceipt{}, store.ErrInvalidTransaction
	}
	c, err := s.carts.Get(ctx, session)
	if err != nil {
		return domain.SaleReceipt{}, err
	}
	receipt, err := s.ConfirmSale(ctx, c, paymentMethod, actor.Username)
	if err != nil {
		return domain.SaleReceipt{}, err
	}
	s.persistCart(ctx, session, c)
	return receipt, nil
}

// persistCart saves the session snapshot. Failures are logged, not returned.
func (s *Service) persistCart(ctx context.Context, session string, c *cart.Cart) {
	if err := s.carts.Persist(ctx, session, c); err != nil {
		s.log(ctx).Warn("cart snapshot not saved", zap.String("session", session), zap.Error(err))
	}
}
