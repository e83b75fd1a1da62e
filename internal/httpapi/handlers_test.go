package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kasirstok/backend/internal/barcode"
	"kasirstok/backend/internal/cart"
	"kasirstok/backend/internal/domain"
	"kasirstok/backend/internal/service"
	"kasirstok/backend/internal/store"
	"kasirstok/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, barcode.NewGenerator(), nil, zap.NewNop(), service.Options{
		PriceRoundingStep: decimal.NewFromInt(100),
		CartTTL:           time.Hour,
	})
	auth := NewAuthManager(context.Background(), "test-secret-key", time.Hour, repo)

	return New(svc, auth, "*", zap.NewNop())
}

func login(t *testing.T, h http.Handler, username, password string) string {
	t.Helper()

	body, _ := json.Marshal(domain.LoginRequest{Username: username, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	h.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())

	var payload domain.LoginResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&payload))
	require.NotEmpty(t, payload.AccessToken)
	return payload.AccessToken
}

func call(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res := httptest.NewRecorder()
	h.ServeHTTP(res, req)
	return res
}

func decodeBody[T any](t *testing.T, res *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out), res.Body.String())
	return out
}

func TestHandleHealth(t *testing.T) {
	h := newTestAPI(t).Handler()

	res := call(t, h, http.MethodGet, "/healthz", "", nil)

	require.Equal(t, http.StatusOK, res.Code)
	body := decodeBody[map[string]any](t, res)
	assert.Equal(t, true, body["ok"])
	assert.NotEmpty(t, res.Header().Get("X-Request-Id"))
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	h := newTestAPI(t).Handler()

	res := call(t, h, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "admin", Password: "wrongpassword"})

	assert.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestHandleProducts_RequiresAuth(t *testing.T) {
	h := newTestAPI(t).Handler()

	res := call(t, h, http.MethodGet, "/api/v1/products", "", nil)

	assert.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestHandleProducts_WithValidToken(t *testing.T) {
	h := newTestAPI(t).Handler()
	token := login(t, h, "cashier", "cashier123")

	res := call(t, h, http.MethodGet, "/api/v1/products", token, nil)

	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	body := decodeBody[struct {
		Items []domain.Product `json:"items"`
	}](t, res)
	assert.Len(t, body.Items, 5)
}

func TestAdminRoutesRejectCashier(t *testing.T) {
	h := newTestAPI(t).Handler()
	token := login(t, h, "cashier", "cashier123")

	res := call(t, h, http.MethodPost, "/api/v1/products/prd-susu-uht/adjustments", token, domain.StockAdjustmentRequest{Delta: decimal.NewFromInt(1)})

	assert.Equal(t, http.StatusForbidden, res.Code)
}

func TestGetUnknownProductReturns404(t *testing.T) {
	h := newTestAPI(t).Handler()
	token := login(t, h, "admin", "admin123")

	res := call(t, h, http.MethodGet, "/api/v1/products/prd-tidak-ada", token, nil)

	assert.Equal(t, http.StatusNotFound, res.Code)
}

func TestCreateProductAndReceiveStock(t *testing.T) {
	h := newTestAPI(t).Handler()
	token := login(t, h, "admin", "admin123")

	res := call(t, h, http.MethodPost, "/api/v1/products", token, domain.ProductCreateRequest{
		Name:       "Teh Botol",
		UnitKind:   domain.UnitKindDiscrete,
		UnitCost:   decimal.NewFromInt(4000),
		MarginRate: decimal.RequireFromString("0.25"),
	})
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())
	product := decodeBody[domain.Product](t, res)
	assert.True(t, product.RoundedPrice.Equal(decimal.NewFromInt(5000)))

	res = call(t, h, http.MethodPost, "/api/v1/products/"+product.ID+"/receipts", token, map[string]any{
		"quantity":    "3",
		"expiry_date": "2030-01-31",
	})
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())
	receipt := decodeBody[domain.StockReceipt](t, res)
	assert.True(t, receipt.Product.Quantity.Equal(decimal.NewFromInt(3)))
	assert.Len(t, receipt.Units, 3)

	res = call(t, h, http.MethodGet, "/api/v1/products/"+product.ID+"/units?status=active", token, nil)
	require.Equal(t, http.StatusOK, res.Code)
	units := decodeBody[struct {
		Items []domain.StockUnit `json:"items"`
	}](t, res)
	assert.Len(t, units.Items, 3)

	res = call(t, h, http.MethodGet, "/api/v1/units/"+units.Items[0].Barcode, token, nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, units.Items[0].ID, decodeBody[domain.StockUnit](t, res).ID)
}

func TestCartConfirmAndCancelFlow(t *testing.T) {
	h := newTestAPI(t).Handler()
	admin := login(t, h, "admin", "admin123")
	cashier := login(t, h, "cashier", "cashier123")

	res := call(t, h, http.MethodGet, "/api/v1/products/prd-roti-tawar/units?status=active", admin, nil)
	require.Equal(t, http.StatusOK, res.Code)
	units := decodeBody[struct {
		Items []domain.StockUnit `json:"items"`
	}](t, res)
	require.NotEmpty(t, units.Items)
	code := units.Items[0].Barcode

	res = call(t, h, http.MethodPost, "/api/v1/cart/items", cashier, domain.CartAddRequest{Barcode: code})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())

	res = call(t, h, http.MethodPost, "/api/v1/cart/items", cashier, domain.CartAddRequest{Barcode: code})
	assert.Equal(t, http.StatusConflict, res.Code)

	res = call(t, h, http.MethodPost, "/api/v1/cart/items", cashier, map[string]any{
		"product_id": "prd-beras-curah",
		"grams":      "500",
	})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	view := decodeBody[domain.CartView](t, res)
	require.Len(t, view.Items, 2)
	assert.True(t, view.Total.Equal(decimal.NewFromInt(17800+6500)), view.Total.String())

	res = call(t, h, http.MethodGet, "/api/v1/cart", cashier, nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Len(t, decodeBody[domain.CartView](t, res).Items, 2)

	res = call(t, h, http.MethodPost, "/api/v1/sales/confirm", cashier, domain.SaleConfirmRequest{PaymentMethod: "cash"})
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())
	receipt := decodeBody[domain.SaleReceipt](t, res)
	assert.Len(t, receipt.Lines, 2)

	res = call(t, h, http.MethodGet, "/api/v1/cart", cashier, nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Empty(t, decodeBody[domain.CartView](t, res).Items)

	res = call(t, h, http.MethodGet, "/api/v1/products/prd-roti-tawar", cashier, nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.True(t, decodeBody[domain.Product](t, res).Quantity.Equal(decimal.NewFromInt(5)))

	res = call(t, h, http.MethodGet, "/api/v1/sales/"+receipt.SaleID, cashier, nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "cashier", decodeBody[domain.SaleRecord](t, res).UserID)

	res = call(t, h, http.MethodPost, "/api/v1/sales/cancel-last", cashier, nil)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	assert.Equal(t, receipt.SaleID, decodeBody[domain.CancelResult](t, res).SaleID)

	res = call(t, h, http.MethodGet, "/api/v1/products/prd-roti-tawar", cashier, nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.True(t, decodeBody[domain.Product](t, res).Quantity.Equal(decimal.NewFromInt(6)))

	res = call(t, h, http.MethodPost, "/api/v1/sales/cancel-last", cashier, nil)
	assert.Equal(t, http.StatusConflict, res.Code)
}

func TestConfirmEmptyCartReturns409(t *testing.T) {
	h := newTestAPI(t).Handler()
	token := login(t, h, "cashier", "cashier123")

	res := call(t, h, http.MethodPost, "/api/v1/sales/confirm", token, domain.SaleConfirmRequest{PaymentMethod: "cash"})

	assert.Equal(t, http.StatusConflict, res.Code)
}

func TestCartsAreScopedByTerminal(t *testing.T) {
	h := newTestAPI(t).Handler()
	token := login(t, h, "cashier", "cashier123")

	body, _ := json.Marshal(domain.CartAddRequest{ProductID: "prd-mie-goreng"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(terminalHeader, "kasir-2")
	res := httptest.NewRecorder()
	h.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())

	res = call(t, h, http.MethodGet, "/api/v1/cart", token, nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Empty(t, decodeBody[domain.CartView](t, res).Items)
}

func TestRemoveCartItemOutOfRange(t *testing.T) {
	h := newTestAPI(t).Handler()
	token := login(t, h, "cashier", "cashier123")

	res := call(t, h, http.MethodDelete, "/api/v1/cart/items/3", token, nil)
	assert.Equal(t, http.StatusBadRequest, res.Code)

	res = call(t, h, http.MethodDelete, "/api/v1/cart/items/abc", token, nil)
	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestDeactivateAndReactivateUnit(t *testing.T) {
	h := newTestAPI(t).Handler()
	token := login(t, h, "admin", "admin123")

	res := call(t, h, http.MethodGet, "/api/v1/products/prd-susu-uht/units", token, nil)
	require.Equal(t, http.StatusOK, res.Code)
	units := decodeBody[struct {
		Items []domain.StockUnit `json:"items"`
	}](t, res)
	require.NotEmpty(t, units.Items)
	unitID := units.Items[0].ID

	res = call(t, h, http.MethodPost, "/api/v1/units/"+unitID+"/deactivate", token, map[string]string{"reason": "rusak"})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	assert.Equal(t, domain.UnitStatusInactive, decodeBody[domain.StockUnit](t, res).Status)

	res = call(t, h, http.MethodPost, "/api/v1/units/"+unitID+"/reactivate", token, nil)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	assert.Equal(t, domain.UnitStatusActive, decodeBody[domain.StockUnit](t, res).Status)
}

func TestPurgeExpiredRejectsBadDate(t *testing.T) {
	h := newTestAPI(t).Handler()
	token := login(t, h, "admin", "admin123")

	res := call(t, h, http.MethodPost, "/api/v1/units/purge-expired", token, domain.PurgeExpiredRequest{AsOf: "kemarin"})
	assert.Equal(t, http.StatusBadRequest, res.Code)

	res = call(t, h, http.MethodPost, "/api/v1/units/purge-expired", token, nil)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	assert.Equal(t, 0, decodeBody[domain.PurgeResult](t, res).Deleted)
}

func TestStatusForMapsDomainErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{store.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("lookup: %w", store.ErrNotFound), http.StatusNotFound},
		{store.ErrInsufficientStock, http.StatusConflict},
		{cart.ErrOutOfStock, http.StatusConflict},
		{service.ErrEmptyCart, http.StatusConflict},
		{service.ErrNothingToCancel, http.StatusConflict},
		{fmt.Errorf("%w: %w", service.ErrTransactionFailed, store.ErrInsufficientStock), http.StatusConflict},
		{store.ErrInvalidTransaction, http.StatusBadRequest},
		{cart.ErrWeightRequired, http.StatusBadRequest},
		{cart.ErrIndexOutOfRange, http.StatusBadRequest},
		{fmt.Errorf("%w: %w", service.ErrTransactionFailed, errors.New("connection reset")), http.StatusInternalServerError},
		{barcode.ErrAllocation, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}

func TestServerErrorsUseGenericBody(t *testing.T) {
	res := httptest.NewRecorder()
	writeError(res, http.StatusInternalServerError, errors.New("pq: connection refused"))

	assert.Equal(t, http.StatusInternalServerError, res.Code)
	assert.False(t, strings.Contains(res.Body.String(), "connection refused"))
}

func TestAdminCreatesCashierWhoCanSell(t *testing.T) {
	h := newTestAPI(t).Handler()
	admin := login(t, h, "admin", "admin123")

	res := call(t, h, http.MethodPost, "/api/v1/users/cashiers", admin, domain.CashierCreateRequest{Username: "kasir2", Password: "rahasia22"})
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())

	res = call(t, h, http.MethodGet, "/api/v1/users/cashiers", admin, nil)
	require.Equal(t, http.StatusOK, res.Code)
	body := decodeBody[struct {
		Cashiers []domain.CashierUser `json:"cashiers"`
	}](t, res)
	assert.Len(t, body.Cashiers, 2)

	cashier := login(t, h, "kasir2", "rahasia22")
	res = call(t, h, http.MethodPost, "/api/v1/cart/items", cashier, domain.CartAddRequest{ProductID: "prd-mie-goreng", Quantity: decimal.NewFromInt(2)})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	res = call(t, h, http.MethodPost, "/api/v1/sales/confirm", cashier, domain.SaleConfirmRequest{PaymentMethod: "qris"})
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())

	res = call(t, h, http.MethodGet, "/api/v1/sales?limit=1", cashier, nil)
	require.Equal(t, http.StatusOK, res.Code)
	sales := decodeBody[struct {
		Items []domain.SaleRecord `json:"items"`
	}](t, res)
	require.Len(t, sales.Items, 1)
	assert.Equal(t, "kasir2", sales.Items[0].UserID)
}
