package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"kasirstok/backend/internal/barcode"
	"kasirstok/backend/internal/domain"
	"kasirstok/backend/internal/store"
	"kasirstok/backend/internal/store/memory"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestService(t *testing.T, opts ...func(*Options)) (*Service, *memory.Store) {
	t.Helper()
	svc, repo, _ := newObservedService(t, opts...)
	return svc, repo
}

func newObservedService(t *testing.T, opts ...func(*Options)) (*Service, *memory.Store, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	options := Options{PriceRoundingStep: decimal.NewFromInt(100), CartTTL: time.Hour}
	for _, opt := range opts {
		opt(&options)
	}
	repo := memory.New()
	svc := New(repo, barcode.NewGenerator(), nil, zap.New(core), options)
	return svc, repo, logs
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "cashier", Role: "cashier"})
}

func mustProduct(t *testing.T, svc *Service, name string, kind domain.UnitKind, cost string, stock string) domain.Product {
	t.Helper()
	product, err := svc.CreateProduct(context.Background(), domain.ProductCreateRequest{
		Name:              name,
		UnitKind:          kind,
		UnitCost:          dec(cost),
		MarginRate:        dec("0"),
		LowStockThreshold: dec("1"),
		InitialStock:      dec(stock),
	})
	require.NoError(t, err)
	return product
}

func activeUnits(t *testing.T, svc *Service, productID string) []domain.StockUnit {
	t.Helper()
	units, err := svc.ListUnits(context.Background(), productID, domain.UnitStatusActive)
	require.NoError(t, err)
	return units
}

func quantityOf(t *testing.T, svc *Service, productID string) decimal.Decimal {
	t.Helper()
	product, err := svc.GetProduct(context.Background(), productID)
	require.NoError(t, err)
	return product.Quantity
}

func TestCreateProductDerivesPrices(t *testing.T) {
	svc, _ := newTestService(t)

	product, err := svc.CreateProduct(context.Background(), domain.ProductCreateRequest{
		Name:       "Kopi Bubuk",
		UnitKind:   domain.UnitKindDiscrete,
		UnitCost:   dec("1234"),
		MarginRate: dec("0.1"),
	})
	require.NoError(t, err)

	assert.Equal(t, "1357.4", product.SalePrice.String())
	assert.Equal(t, "1400", product.RoundedPrice.String())
	assert.True(t, product.Quantity.IsZero())
	assert.Empty(t, activeUnits(t, svc, product.ID))
}

func TestCreateProductReceivesInitialStock(t *testing.T) {
	svc, _ := newTestService(t)

	discrete := mustProduct(t, svc, "Susu UHT", domain.UnitKindDiscrete, "15000", "4")
	assert.Equal(t, "4", discrete.Quantity.String())
	assert.Len(t, activeUnits(t, svc, discrete.ID), 4)

	bulk := mustProduct(t, svc, "Beras Curah", domain.UnitKindDivisible, "11000", "12.5")
	assert.Equal(t, "12.5", bulk.Quantity.String())
	batch := activeUnits(t, svc, bulk.ID)
	require.Len(t, batch, 1)
	assert.True(t, barcode.IsBulk(batch[0].Barcode))
}

func TestCreateProductValidation(t *testing.T) {
	svc, _ := newTestService(t)

	tests := []struct {
		name string
		req  domain.ProductCreateRequest
	}{
		{"blank name", domain.ProductCreateRequest{Name: " ", UnitKind: domain.UnitKindDiscrete}},
		{"unknown kind", domain.ProductCreateRequest{Name: "X", UnitKind: "liquid"}},
		{"negative cost", domain.ProductCreateRequest{Name: "X", UnitKind: domain.UnitKindDiscrete, UnitCost: dec("-1")}},
		{"fractional discrete stock", domain.ProductCreateRequest{Name: "X", UnitKind: domain.UnitKindDiscrete, InitialStock: dec("1.5")}},
		{"bad expiry", domain.ProductCreateRequest{Name: "X", UnitKind: domain.UnitKindDiscrete, ExpiryDate: "31/12/2026"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateProduct(context.Background(), tt.req)
			assert.ErrorIs(t, err, store.ErrInvalidTransaction)
		})
	}

	products, err := svc.ListProducts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, products)
}

func TestUpdatePricingRecomputesShelfPrice(t *testing.T) {
	svc, _ := newTestService(t)
	product := mustProduct(t, svc, "Teh Celup", domain.UnitKindDiscrete, "8000", "1")

	margin := dec("0.25")
	updated, err := svc.UpdatePricing(context.Background(), product.ID, domain.PricingUpdateRequest{MarginRate: &margin})
	require.NoError(t, err)
	assert.Equal(t, "10000", updated.SalePrice.String())
	assert.Equal(t, "10000", updated.RoundedPrice.String())

	cost := dec("8050")
	updated, err = svc.UpdatePricing(context.Background(), product.ID, domain.PricingUpdateRequest{UnitCost: &cost})
	require.NoError(t, err)
	assert.Equal(t, "10062.5", updated.SalePrice.String())
	assert.Equal(t, "10100", updated.RoundedPrice.String())

	_, err = svc.UpdatePricing(context.Background(), product.ID, domain.PricingUpdateRequest{})
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)

	_, err = svc.UpdatePricing(context.Background(), "missing", domain.PricingUpdateRequest{UnitCost: &cost})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestLowStockProducts(t *testing.T) {
	svc, _ := newTestService(t)
	low := mustProduct(t, svc, "Roti", domain.UnitKindDiscrete, "10000", "1")
	mustProduct(t, svc, "Gula", domain.UnitKindDivisible, "14000", "20")

	products, err := svc.LowStockProducts(context.Background())
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, low.ID, products[0].ID)
}

func TestAuditEntriesCarryActor(t *testing.T) {
	svc, _, logs := newObservedService(t)
	ctx := WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})

	_, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{Name: "Sabun", UnitKind: domain.UnitKindDiscrete, UnitCost: dec("5000")})
	require.NoError(t, err)

	entries := logs.FilterMessage("product_create").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "admin", entries[0].ContextMap()["actor"])
	assert.Equal(t, "service.audit", entries[0].LoggerName)
}
