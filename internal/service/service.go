package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"kasirstok/backend/internal/barcode"
	"kasirstok/backend/internal/cart"
	"kasirstok/backend/internal/domain"
	"kasirstok/backend/internal/logger"
	"kasirstok/backend/internal/store"
	"kasirstok/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	// PriceRoundingStep rounds sale prices up to the next multiple.
	PriceRoundingStep decimal.Decimal
	// StrictLedger turns a shortfall of active units into an error
	// instead of a logged discrepancy.
	StrictLedger bool
	// RestoreBulkBarcodeUnits makes cancellation reactivate units sold as
	// bulk_by_barcode, not only by_barcode.
	RestoreBulkBarcodeUnits bool
	CartTTL                 time.Duration
}

type Service struct {
	repo     store.Repository
	barcodes *barcode.Generator
	carts    *cart.Registry
	logger   *zap.Logger
	opts     Options
	now      func() time.Time
}

func New(repo store.Repository, barcodes *barcode.Generator, snapshots cart.SnapshotStore, log *zap.Logger, opts Options) *Service {
	if barcodes == nil {
		barcodes = barcode.NewGenerator()
	}
	if log == nil {
		log = zap.NewNop()
	}
	if !opts.PriceRoundingStep.IsPositive() {
		opts.PriceRoundingStep = decimal.NewFromInt(1)
	}

	return &Service{
		repo:     repo,
		barcodes: barcodes,
		carts:    cart.NewRegistry(repo, snapshots, opts.CartTTL),
		logger:   log.Named("service"),
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	product, err := s.repo.GetProduct(ctx, strings.TrimSpace(productID))
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) LowStockProducts(ctx context.Context) ([]domain.Product, error) {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	low := make([]domain.Product, 0, len(products))
	for _, p := range products {
		if p.IsLowStock() {
			low = append(low, p)
		}
	}
	return low, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || !req.UnitKind.Valid() {
		return domain.Product{}, store.ErrInvalidTransaction
	}
	if req.UnitCost.IsNegative() || req.MarginRate.IsNegative() || req.InitialStock.IsNegative() || req.LowStockThreshold.IsNegative() {
		return domain.Product{}, store.ErrInvalidTransaction
	}
	if req.UnitKind == domain.UnitKindDiscrete && !req.InitialStock.IsInteger() {
		return domain.Product{}, store.ErrInvalidTransaction
	}
	expiry, err := parseDate(req.ExpiryDate)
	if err != nil {
		return domain.Product{}, err
	}

	now := s.now()
	salePrice, rounded := s.priceFor(req.UnitCost, req.MarginRate)
	product := domain.Product{
		ID:                xid.New("prd"),
		Name:              req.Name,
		UnitKind:          req.UnitKind,
		Quantity:          decimal.Zero,
		UnitCost:          req.UnitCost,
		SalePrice:         salePrice,
		MarginRate:        req.MarginRate,
		RoundedPrice:      rounded,
		SupplierID:        strings.TrimSpace(req.SupplierID),
		CategoryID:        strings.TrimSpace(req.CategoryID),
		LowStockThreshold: req.LowStockThreshold,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertProduct(ctx, product); err != nil {
			return err
		}
		if !req.InitialStock.IsPositive() {
			return nil
		}
		received, err := s.receiveTx(ctx, tx, product, req.InitialStock, unitTemplate{expiry: expiry, notes: "initial stock"})
		if err != nil {
			return err
		}
		product = received.Product
		return nil
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_create", "product", product.ID,
		zap.String("name", product.Name),
		zap.String("unit_kind", string(product.UnitKind)),
		zap.String("initial_stock", req.InitialStock.String()))
	return product, nil
}

func (s *Service) UpdatePricing(ctx context.Context, productID string, req domain.PricingUpdateRequest) (domain.Product, error) {
	if req.UnitCost == nil && req.MarginRate == nil {
		return domain.Product{}, store.ErrInvalidTransaction
	}
	if (req.UnitCost != nil && req.UnitCost.IsNegative()) || (req.MarginRate != nil && req.MarginRate.IsNegative()) {
		return domain.Product{}, store.ErrInvalidTransaction
	}

	var updated domain.Product
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		product, err := tx.LockProduct(ctx, strings.TrimSpace(productID))
		if err != nil {
			return err
		}
		if req.UnitCost != nil {
			product.UnitCost = *req.UnitCost
		}
		if req.MarginRate != nil {
			product.MarginRate = *req.MarginRate
		}
		product.SalePrice, product.RoundedPrice = s.priceFor(product.UnitCost, product.MarginRate)
		product.UpdatedAt = s.now()
		if err := tx.UpdateProductPricing(ctx, *product); err != nil {
			return err
		}
		updated = *product
		return nil
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_pricing", "product", updated.ID,
		zap.String("unit_cost", updated.UnitCost.String()),
		zap.String("margin_rate", updated.MarginRate.String()),
		zap.String("rounded_price", updated.RoundedPrice.String()))
	return updated, nil
}

// priceFor derives the sale price from cost and margin, and the shelf price
// rounded up to the configured step.
func (s *Service) priceFor(cost decimal.Decimal, margin decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	sale := cost.Mul(decimal.NewFromInt(1).Add(margin)).Round(2)
	step := s.opts.PriceRoundingStep
	rounded := sale.Div(step).Ceil().Mul(step)
	return sale, rounded
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, fields ...zap.Field) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}
	base := []zap.Field{
		zap.String("actor", actor.Username),
		zap.String("role", actor.Role),
		zap.String("entity_type", entityType),
		zap.String("entity_id", entityID),
	}
	s.log(ctx).Named("audit").Info(action, append(base, fields...)...)
}

// log prefers the request-scoped logger attached by the transport layer.
func (s *Service) log(ctx context.Context) *zap.Logger {
	return logger.FromContext(ctx, s.logger)
}

func parseDate(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if parsed, err := time.Parse(layout, raw); err == nil {
			date := domain.DateUTC(parsed)
			return &date, nil
		}
	}
	return nil, fmt.Errorf("%w: expiry_date must be YYYY-MM-DD", store.ErrInvalidTransaction)
}

func isSupportedPaymentMethod(method string) bool {
	switch method {
	case "cash", "card", "qris", "ewallet", "transfer":
		return true
	default:
		return false
	}
}
