package memory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"kasirstok/backend/internal/domain"
	"kasirstok/backend/internal/store"
)

// Store keeps everything in process memory. Units of work run on a copy of
// the data that replaces the live copy only when the work succeeds.
type Store struct {
	mu   sync.RWMutex
	data *state
}

var _ store.Repository = (*Store)(nil)

type unitRow struct {
	unit domain.StockUnit
	seq  int64
}

type state struct {
	products        map[string]domain.Product
	units           map[string]unitRow
	unitIDByBarcode map[string]string
	sales           []domain.SaleRecord
	users           map[string]domain.UserAccount
	seq             int64
}

func newState() *state {
	return &state{
		products:        make(map[string]domain.Product),
		units:           make(map[string]unitRow),
		unitIDByBarcode: make(map[string]string),
		sales:           make([]domain.SaleRecord, 0, 64),
		users:           make(map[string]domain.UserAccount),
	}
}

func New() *Store {
	return &Store{data: newState()}
}

// UsesDefaultCredentials reports whether NewSeeded falls back to the dev
// passwords because SEED_ADMIN_PASSWORD or SEED_CASHIER_PASSWORD is unset.
func UsesDefaultCredentials() bool {
	return os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == ""
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			panic(fmt.Sprintf("memory: hash seed password for %s: %v", u.username, err))
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store with demo users and a small catalog whose
// discrete products already carry one active unit per counted item.
func NewSeeded() *Store {
	st := newState()
	st.users = seedUsers()

	now := time.Now().UTC()
	seeds := []struct {
		id    string
		name  string
		kind  domain.UnitKind
		qty   string
		cost  string
		price string
	}{
		{"prd-susu-uht", "Susu UHT 1L", domain.UnitKindDiscrete, "12", "15000", "18900"},
		{"prd-mie-goreng", "Mie Goreng Instan", domain.UnitKindDiscrete, "24", "2800", "3500"},
		{"prd-roti-tawar", "Roti Tawar", domain.UnitKindDiscrete, "6", "13500", "17800"},
		{"prd-beras-curah", "Beras Curah", domain.UnitKindDivisible, "50", "11000", "13000"},
		{"prd-gula-pasir", "Gula Pasir Curah", domain.UnitKindDivisible, "25", "14500", "17400"},
	}

	code := int64(8990000000000)
	for _, seed := range seeds {
		qty := decimal.RequireFromString(seed.qty)
		cost := decimal.RequireFromString(seed.cost)
		price := decimal.RequireFromString(seed.price)
		st.products[seed.id] = domain.Product{
			ID:                seed.id,
			Name:              seed.name,
			UnitKind:          seed.kind,
			Quantity:          qty,
			UnitCost:          cost,
			SalePrice:         price,
			MarginRate:        price.Sub(cost).Div(cost).Round(4),
			RoundedPrice:      price,
			LowStockThreshold: decimal.NewFromInt(5),
			CreatedAt:         now,
			UpdatedAt:         now,
		}

		if seed.kind == domain.UnitKindDivisible {
			st.seq++
			unit := domain.StockUnit{
				ID:        fmt.Sprintf("unit-seed-%d", st.seq),
				ProductID: seed.id,
				Barcode:   fmt.Sprintf("BSEED%08d", st.seq),
				Status:    domain.UnitStatusActive,
				IngressAt: now,
				UpdatedAt: now,
			}
			st.putUnit(unit)
			continue
		}
		for i := int64(0); i < qty.IntPart(); i++ {
			code++
			st.seq++
			unit := domain.StockUnit{
				ID:        fmt.Sprintf("unit-seed-%d", st.seq),
				ProductID: seed.id,
				Barcode:   fmt.Sprintf("%013d", code),
				Status:    domain.UnitStatusActive,
				IngressAt: now,
				UpdatedAt: now,
			}
			st.putUnit(unit)
		}
	}

	return &Store{data: st}
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.data.clone()
	if err := fn(ctx, work); err != nil {
		return err
	}
	s.data = work
	return nil
}

func (s *Store) write(ctx context.Context, fn func(st *state) error) error {
	return s.WithTx(ctx, func(_ context.Context, tx store.Tx) error {
		return fn(tx.(*state))
	})
}

func (s *Store) read(fn func(st *state) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.data)
}

func (s *Store) InsertProduct(ctx context.Context, product domain.Product) error {
	return s.write(ctx, func(st *state) error { return st.InsertProduct(ctx, product) })
}

func (s *Store) GetProduct(ctx context.Context, productID string) (product *domain.Product, err error) {
	err = s.read(func(st *state) error {
		product, err = st.GetProduct(ctx, productID)
		return err
	})
	return product, err
}

func (s *Store) LockProduct(ctx context.Context, productID string) (*domain.Product, error) {
	return s.GetProduct(ctx, productID)
}

func (s *Store) SetProductQuantity(ctx context.Context, productID string, qty decimal.Decimal, at time.Time) error {
	return s.write(ctx, func(st *state) error { return st.SetProductQuantity(ctx, productID, qty, at) })
}

func (s *Store) UpdateProductPricing(ctx context.Context, product domain.Product) error {
	return s.write(ctx, func(st *state) error { return st.UpdateProductPricing(ctx, product) })
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.data.products))
	for _, p := range s.data.products {
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if c := cmpString(a.Name, b.Name); c != 0 {
			return c
		}
		return cmpString(a.ID, b.ID)
	})
	return products, nil
}

func (s *Store) BarcodeExists(ctx context.Context, code string) (exists bool, err error) {
	err = s.read(func(st *state) error {
		exists, err = st.BarcodeExists(ctx, code)
		return err
	})
	return exists, err
}

func (s *Store) InsertStockUnit(ctx context.Context, unit domain.StockUnit) error {
	return s.write(ctx, func(st *state) error { return st.InsertStockUnit(ctx, unit) })
}

func (s *Store) GetStockUnit(ctx context.Context, unitID string) (unit *domain.StockUnit, err error) {
	err = s.read(func(st *state) error {
		unit, err = st.GetStockUnit(ctx, unitID)
		return err
	})
	return unit, err
}

func (s *Store) GetStockUnitByBarcode(ctx context.Context, code string) (unit *domain.StockUnit, err error) {
	err = s.read(func(st *state) error {
		unit, err = st.GetStockUnitByBarcode(ctx, code)
		return err
	})
	return unit, err
}

func (s *Store) UpdateStockUnit(ctx context.Context, unit domain.StockUnit) error {
	return s.write(ctx, func(st *state) error { return st.UpdateStockUnit(ctx, unit) })
}

func (s *Store) ListStockUnits(ctx context.Context, productID string, status domain.UnitStatus) (units []domain.StockUnit, err error) {
	err = s.read(func(st *state) error {
		units, err = st.ListStockUnits(ctx, productID, status)
		return err
	})
	return units, err
}

func (s *Store) DeleteInactiveStockUnits(ctx context.Context, productID string) (deleted int, err error) {
	err = s.write(ctx, func(st *state) error {
		deleted, err = st.DeleteInactiveStockUnits(ctx, productID)
		return err
	})
	return deleted, err
}

func (s *Store) ListExpiredStockUnits(ctx context.Context, asOf time.Time) (units []domain.StockUnit, err error) {
	err = s.read(func(st *state) error {
		units, err = st.ListExpiredStockUnits(ctx, asOf)
		return err
	})
	return units, err
}

func (s *Store) DeleteStockUnits(ctx context.Context, unitIDs []string) (deleted int, err error) {
	err = s.write(ctx, func(st *state) error {
		deleted, err = st.DeleteStockUnits(ctx, unitIDs)
		return err
	})
	return deleted, err
}

func (s *Store) InsertSale(ctx context.Context, sale domain.SaleRecord) error {
	return s.write(ctx, func(st *state) error { return st.InsertSale(ctx, sale) })
}

func (s *Store) LockLatestSale(ctx context.Context) (sale *domain.SaleRecord, err error) {
	err = s.read(func(st *state) error {
		sale, err = st.LockLatestSale(ctx)
		return err
	})
	return sale, err
}

func (s *Store) SetSaleStatus(ctx context.Context, saleID string, status domain.SaleStatus, at time.Time) error {
	return s.write(ctx, func(st *state) error { return st.SetSaleStatus(ctx, saleID, status, at) })
}

func (s *Store) GetSale(_ context.Context, saleID string) (*domain.SaleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.data.sales {
		if s.data.sales[i].ID == saleID {
			sale := cloneSale(s.data.sales[i])
			return &sale, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListSales(_ context.Context, limit int) ([]domain.SaleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 50
	}
	sales := make([]domain.SaleRecord, 0, min(limit, len(s.data.sales)))
	for i := len(s.data.sales) - 1; i >= 0 && len(sales) < limit; i-- {
		sales = append(sales, cloneSale(s.data.sales[i]))
	}
	return sales, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := s.data.users[username]; exists {
		return store.ErrInvalidTransaction
	}
	user.Username = username
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.data.users[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.data.users))
	for _, user := range s.data.users {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}
	user, exists := s.data.users[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.data.users[username] = user
	return nil
}

func cmpString(a string, b string) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}
