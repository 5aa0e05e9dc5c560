package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"warungpos/internal/domain"
	"warungpos/internal/ledger"
	"warungpos/internal/store"
	"warungpos/internal/xid"
)

type Store struct {
	mu               sync.RWMutex
	products         map[string]domain.Product
	suppliersByID    map[string]domain.Supplier
	customersByID    map[string]domain.Customer
	invoicesByID     map[string]domain.Invoice
	opnames          []domain.StockOpname
	wastes           []domain.StockWaste
	returnsByID      map[string]domain.StockReturn
	returnSeqByDay   map[string]int
	transactionsByID map[string]domain.Transaction
	shiftsByID       map[string]domain.CashierShift
	openShiftByUser  map[string]string
	movements        []domain.StockMovement
	auditLogs        []domain.AuditLog
	usersByUsername  map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

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
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
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

func rupiah(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func NewSeeded() *Store {
	now := time.Now().UTC()
	products := []domain.Product{
		{ID: "prd-indomie", Code: "PRD-001", Name: "Indomie Goreng", Category: "makanan", Type: domain.ProductTypeFinishGoods, Price: rupiah(3500), Cost: rupiah(2800), CurrentStock: 120, Unit: "pcs", MonitorStock: true, MinStock: 24},
		{ID: "prd-airmineral", Code: "PRD-002", Name: "Air Mineral 600ml", Category: "minuman", Type: domain.ProductTypeFinishGoods, Price: rupiah(4000), Cost: rupiah(2500), CurrentStock: 150, Unit: "botol", MonitorStock: true, MinStock: 48},
		{ID: "prd-kopisachet", Code: "PRD-003", Name: "Kopi Sachet", Category: "minuman", Type: domain.ProductTypeFinishGoods, Price: rupiah(2500), Cost: rupiah(1700), CurrentStock: 200, Unit: "sachet", MonitorStock: false, MinStock: 0},
		{ID: "prd-gula", Code: "BHN-001", Name: "Gula Pasir", Category: "bahan", Type: domain.ProductTypeRawMaterial, Price: rupiah(0), Cost: rupiah(800), CurrentStock: 180, Unit: "sendok", MonitorStock: true, MinStock: 40},
		{ID: "prd-teh", Code: "BHN-002", Name: "Teh Celup", Category: "bahan", Type: domain.ProductTypeRawMaterial, Price: rupiah(0), Cost: rupiah(500), CurrentStock: 200, Unit: "kantong", MonitorStock: true, MinStock: 30},
		{ID: "prd-esbatu", Code: "BHN-003", Name: "Es Batu", Category: "bahan", Type: domain.ProductTypeRawMaterial, Price: rupiah(0), Cost: rupiah(300), CurrentStock: 300, Unit: "balok", MonitorStock: false, MinStock: 0},
		{ID: "prd-estehmanis", Code: "MNU-001", Name: "Es Teh Manis", Category: "menu", Type: domain.ProductTypeRecipeGoods, Price: rupiah(5000), Cost: rupiah(0), CurrentStock: 0, Unit: "gelas", Recipe: []domain.RecipeItem{
			{MaterialID: "prd-gula", Qty: 2, Unit: "sendok"},
			{MaterialID: "prd-teh", Qty: 1, Unit: "kantong"},
			{MaterialID: "prd-esbatu", Qty: 1, Unit: "balok"},
		}},
	}

	productMap := make(map[string]domain.Product, len(products))
	for _, p := range products {
		p.CreatedAt = now
		p.UpdatedAt = now
		productMap[p.ID] = p
	}

	suppliers := map[string]domain.Supplier{
		"sup-sumberrejeki": {ID: "sup-sumberrejeki", Name: "Toko Grosir Sumber Rejeki", Phone: "0812-1111-2222", Address: "Jl. Pasar Baru 12", CreatedAt: now},
		"sup-berkahjaya":   {ID: "sup-berkahjaya", Name: "CV Berkah Jaya", Phone: "0813-3333-4444", Address: "Jl. Raya Selatan 88", CreatedAt: now},
	}
	customers := map[string]domain.Customer{
		"cus-umum": {ID: "cus-umum", Name: "Pelanggan Umum", CreatedAt: now},
	}

	return &Store{
		products:         productMap,
		suppliersByID:    suppliers,
		customersByID:    customers,
		invoicesByID:     make(map[string]domain.Invoice),
		opnames:          make([]domain.StockOpname, 0, 16),
		wastes:           make([]domain.StockWaste, 0, 16),
		returnsByID:      make(map[string]domain.StockReturn),
		returnSeqByDay:   make(map[string]int),
		transactionsByID: make(map[string]domain.Transaction),
		shiftsByID:       make(map[string]domain.CashierShift),
		openShiftByUser:  make(map[string]string),
		movements:        make([]domain.StockMovement, 0, 128),
		auditLogs:        make([]domain.AuditLog, 0, 128),
		usersByUsername:  seedUsers(),
	}
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.Code == "" || product.Name == "" {
		return nil, fmt.Errorf("%w: code and name are required", store.ErrValidation)
	}
	switch product.Type {
	case domain.ProductTypeFinishGoods, domain.ProductTypeRecipeGoods, domain.ProductTypeRawMaterial:
	default:
		return nil, fmt.Errorf("%w: unknown product type %q", store.ErrValidation, product.Type)
	}
	if product.CurrentStock < 0 {
		return nil, fmt.Errorf("%w: initial stock cannot be negative", store.ErrValidation)
	}
	for _, existing := range s.products {
		if existing.Code == product.Code && existing.DeletedAt == nil {
			return nil, fmt.Errorf("%w: product code %s already exists", store.ErrStateConflict, product.Code)
		}
	}

	now := time.Now().UTC()
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	product.CreatedAt = now
	product.UpdatedAt = now
	product.DeletedAt = nil
	s.products[product.ID] = cloneProduct(product)

	if product.CurrentStock > 0 {
		s.appendMovement(domain.StockMovement{
			ProductID:     product.ID,
			Type:          domain.MovementOpname,
			Qty:           product.CurrentStock,
			PreviousStock: 0,
			NewStock:      product.CurrentStock,
			UnitCost:      product.Cost,
			TotalValue:    product.Cost.Mul(decimal.NewFromInt(int64(product.CurrentStock))),
			ReferenceID:   product.ID,
			ReferenceType: "product_create",
		})
	}

	created := cloneProduct(product)
	return &created, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists || product.DeletedAt != nil {
		return nil, store.ErrNotFound
	}
	dup := cloneProduct(product)
	return &dup, nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if p.DeletedAt != nil {
			continue
		}
		products = append(products, cloneProduct(p))
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return cmpString(a.Name, b.Name)
		}
		return cmpString(a.Category, b.Category)
	})

	return products, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.products[product.ID]
	if !exists || existing.DeletedAt != nil {
		return nil, store.ErrNotFound
	}
	if product.Name == "" {
		return nil, fmt.Errorf("%w: name is required", store.ErrValidation)
	}

	// stock and cost only move through ledger operations
	product.Code = existing.Code
	product.Type = existing.Type
	product.Cost = existing.Cost
	product.CurrentStock = existing.CurrentStock
	product.CreatedAt = existing.CreatedAt
	product.UpdatedAt = time.Now().UTC()
	product.DeletedAt = nil
	s.products[product.ID] = cloneProduct(product)

	updated := cloneProduct(product)
	return &updated, nil
}

func (s *Store) SoftDeleteProduct(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.products[id]
	if !exists || product.DeletedAt != nil {
		return store.ErrNotFound
	}
	at = at.UTC()
	product.DeletedAt = &at
	product.UpdatedAt = at
	s.products[id] = product
	return nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, exists := s.products[id]; exists {
			result[id] = cloneProduct(p)
		}
	}
	return result, nil
}

func (s *Store) CreateSupplier(_ context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if supplier.Name == "" {
		return nil, fmt.Errorf("%w: supplier name is required", store.ErrValidation)
	}
	if supplier.ID == "" {
		supplier.ID = xid.New("sup")
	}
	if supplier.CreatedAt.IsZero() {
		supplier.CreatedAt = time.Now().UTC()
	}
	supplier.DeletedAt = nil
	s.suppliersByID[supplier.ID] = supplier
	created := supplier
	return &created, nil
}

func (s *Store) GetSupplier(_ context.Context, id string) (*domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	supplier, exists := s.suppliersByID[id]
	if !exists || supplier.DeletedAt != nil {
		return nil, store.ErrNotFound
	}
	dup := supplier
	return &dup, nil
}

func (s *Store) ListSuppliers(_ context.Context) ([]domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	suppliers := make([]domain.Supplier, 0, len(s.suppliersByID))
	for _, sup := range s.suppliersByID {
		if sup.DeletedAt != nil {
			continue
		}
		suppliers = append(suppliers, sup)
	}
	slices.SortFunc(suppliers, func(a, b domain.Supplier) int {
		return cmpString(a.Name, b.Name)
	})
	return suppliers, nil
}

func (s *Store) SoftDeleteSupplier(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	supplier, exists := s.suppliersByID[id]
	if !exists || supplier.DeletedAt != nil {
		return store.ErrNotFound
	}
	at = at.UTC()
	supplier.DeletedAt = &at
	s.suppliersByID[id] = supplier
	return nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if customer.Name == "" {
		return nil, fmt.Errorf("%w: customer name is required", store.ErrValidation)
	}
	if customer.ID == "" {
		customer.ID = xid.New("cus")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	customer.DeletedAt = nil
	s.customersByID[customer.ID] = customer
	created := customer
	return &created, nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, exists := s.customersByID[id]
	if !exists || customer.DeletedAt != nil {
		return nil, store.ErrNotFound
	}
	dup := customer
	return &dup, nil
}

func (s *Store) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customers := make([]domain.Customer, 0, len(s.customersByID))
	for _, c := range s.customersByID {
		if c.DeletedAt != nil {
			continue
		}
		customers = append(customers, c)
	}
	slices.SortFunc(customers, func(a, b domain.Customer) int {
		return cmpString(a.Name, b.Name)
	})
	return customers, nil
}

func (s *Store) SoftDeleteCustomer(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	customer, exists := s.customersByID[id]
	if !exists || customer.DeletedAt != nil {
		return store.ErrNotFound
	}
	at = at.UTC()
	customer.DeletedAt = &at
	s.customersByID[id] = customer
	return nil
}

func (s *Store) CreateInvoice(_ context.Context, invoice domain.Invoice) (*domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if invoice.InvoiceNumber == "" || len(invoice.Items) == 0 {
		return nil, fmt.Errorf("%w: invoice number and items are required", store.ErrValidation)
	}
	supplier, exists := s.suppliersByID[invoice.SupplierID]
	if !exists || supplier.DeletedAt != nil {
		return nil, fmt.Errorf("%w: supplier %s", store.ErrNotFound, invoice.SupplierID)
	}
	for _, item := range invoice.Items {
		if item.Qty < 1 {
			return nil, fmt.Errorf("%w: item qty must be positive", store.ErrValidation)
		}
		product, ok := s.products[item.ProductID]
		if !ok || product.DeletedAt != nil {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, item.ProductID)
		}
	}

	now := time.Now().UTC()
	if invoice.ID == "" {
		invoice.ID = xid.New("inv")
	}
	if invoice.CreatedAt.IsZero() {
		invoice.CreatedAt = now
	}
	invoice.PaymentStatus = ledger.PaymentStatus(invoice.Total, invoice.PaidAmount)

	for _, item := range invoice.Items {
		product := s.products[item.ProductID]
		prev := product.CurrentStock
		product.Cost = ledger.PurchaseCost(product.CurrentStock, product.Cost, item.Qty, item.UnitPrice)
		product.CurrentStock += item.Qty
		product.UpdatedAt = now
		s.products[item.ProductID] = product

		s.appendMovement(domain.StockMovement{
			ProductID:     item.ProductID,
			Type:          domain.MovementPurchase,
			Qty:           item.Qty,
			PreviousStock: prev,
			NewStock:      product.CurrentStock,
			UnitCost:      item.UnitPrice,
			TotalValue:    item.Total,
			ReferenceID:   invoice.ID,
			ReferenceType: "invoice",
			Actor:         invoice.CreatedBy,
			CreatedAt:     now,
		})
	}

	s.invoicesByID[invoice.ID] = cloneInvoice(invoice)
	created := cloneInvoice(invoice)
	return &created, nil
}

func (s *Store) GetInvoice(_ context.Context, id string) (*domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	invoice, exists := s.invoicesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	dup := cloneInvoice(invoice)
	return &dup, nil
}

func (s *Store) ListInvoices(_ context.Context, supplierID string, limit int) ([]domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	invoices := make([]domain.Invoice, 0, len(s.invoicesByID))
	for _, inv := range s.invoicesByID {
		if supplierID != "" && inv.SupplierID != supplierID {
			continue
		}
		invoices = append(invoices, cloneInvoice(inv))
	}
	slices.SortFunc(invoices, func(a, b domain.Invoice) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(invoices) > limit {
		invoices = invoices[:limit]
	}
	return invoices, nil
}

func (s *Store) PayInvoice(_ context.Context, id string, amount decimal.Decimal) (*domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	invoice, exists := s.invoicesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	if !amount.GreaterThan(decimal.Zero) {
		return nil, fmt.Errorf("%w: payment amount must be positive", store.ErrValidation)
	}
	if invoice.PaymentStatus == domain.PaymentStatusPaid {
		return nil, fmt.Errorf("%w: invoice %s already settled", store.ErrStateConflict, id)
	}

	invoice.PaidAmount = invoice.PaidAmount.Add(amount)
	invoice.PaymentStatus = ledger.PaymentStatus(invoice.Total, invoice.PaidAmount)
	s.invoicesByID[id] = cloneInvoice(invoice)
	updated := cloneInvoice(invoice)
	return &updated, nil
}

func (s *Store) CreateStockOpname(_ context.Context, opname domain.StockOpname) (*domain.StockOpname, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(opname.Items) == 0 {
		return nil, fmt.Errorf("%w: opname items are required", store.ErrValidation)
	}
	for _, item := range opname.Items {
		if item.ActualStock < 0 {
			return nil, fmt.Errorf("%w: counted stock cannot be negative", store.ErrValidation)
		}
		product, ok := s.products[item.ProductID]
		if !ok || product.DeletedAt != nil {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, item.ProductID)
		}
	}

	now := time.Now().UTC()
	if opname.ID == "" {
		opname.ID = xid.New("opn")
	}
	opname.CreatedAt = now

	resolved := make([]domain.StockOpnameItem, 0, len(opname.Items))
	for _, item := range opname.Items {
		product := s.products[item.ProductID]
		item.SystemStock = product.CurrentStock
		item.Variance = item.ActualStock - item.SystemStock
		resolved = append(resolved, item)

		product.CurrentStock = item.ActualStock
		product.UpdatedAt = now
		s.products[item.ProductID] = product

		s.appendMovement(domain.StockMovement{
			ProductID:     item.ProductID,
			Type:          domain.MovementOpname,
			Qty:           item.Variance,
			PreviousStock: item.SystemStock,
			NewStock:      item.ActualStock,
			UnitCost:      product.Cost,
			TotalValue:    product.Cost.Mul(decimal.NewFromInt(int64(abs(item.Variance)))),
			ReferenceID:   opname.ID,
			ReferenceType: "stock_opname",
			Actor:         opname.CreatedBy,
			CreatedAt:     now,
		})
	}
	opname.Items = resolved

	s.opnames = append(s.opnames, cloneOpname(opname))
	created := cloneOpname(opname)
	return &created, nil
}

func (s *Store) ListStockOpnames(_ context.Context, limit int) ([]domain.StockOpname, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.StockOpname, 0, len(s.opnames))
	for _, op := range s.opnames {
		result = append(result, cloneOpname(op))
	}
	slices.SortFunc(result, func(a, b domain.StockOpname) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateStockWaste(_ context.Context, waste domain.StockWaste) (*domain.StockWaste, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if waste.Qty < 1 {
		return nil, fmt.Errorf("%w: waste qty must be positive", store.ErrValidation)
	}
	product, exists := s.products[waste.ProductID]
	if !exists || product.DeletedAt != nil {
		return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, waste.ProductID)
	}

	now := time.Now().UTC()
	if waste.ID == "" {
		waste.ID = xid.New("wst")
	}
	waste.CreatedAt = now

	prev := product.CurrentStock
	applied, newStock := ledger.ClampedDecrement(product.CurrentStock, waste.Qty)
	product.CurrentStock = newStock
	product.UpdatedAt = now
	s.products[waste.ProductID] = product

	s.appendMovement(domain.StockMovement{
		ProductID:     waste.ProductID,
		Type:          domain.MovementWaste,
		Qty:           -applied,
		PreviousStock: prev,
		NewStock:      newStock,
		UnitCost:      product.Cost,
		TotalValue:    product.Cost.Mul(decimal.NewFromInt(int64(applied))),
		ReferenceID:   waste.ID,
		ReferenceType: "stock_waste",
		Actor:         waste.CreatedBy,
		CreatedAt:     now,
	})

	s.wastes = append(s.wastes, waste)
	created := waste
	return &created, nil
}

func (s *Store) ListStockWastes(_ context.Context, limit int) ([]domain.StockWaste, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.StockWaste, len(s.wastes))
	copy(result, s.wastes)
	slices.SortFunc(result, func(a, b domain.StockWaste) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateStockReturn(_ context.Context, ret domain.StockReturn) (*domain.StockReturn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(ret.Items) == 0 {
		return nil, fmt.Errorf("%w: return items are required", store.ErrValidation)
	}
	supplier, exists := s.suppliersByID[ret.SupplierID]
	if !exists || supplier.DeletedAt != nil {
		return nil, fmt.Errorf("%w: supplier %s", store.ErrNotFound, ret.SupplierID)
	}
	if _, exists := s.invoicesByID[ret.InvoiceID]; !exists {
		return nil, fmt.Errorf("%w: invoice %s", store.ErrNotFound, ret.InvoiceID)
	}
	for _, item := range ret.Items {
		if item.Qty < 1 {
			return nil, fmt.Errorf("%w: return qty must be positive", store.ErrValidation)
		}
		product, ok := s.products[item.ProductID]
		if !ok || product.DeletedAt != nil {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, item.ProductID)
		}
	}

	now := time.Now().UTC()
	if ret.ID == "" {
		ret.ID = xid.New("rtn")
	}
	ret.CreatedAt = now
	ret.Status = domain.ReturnStatusPending
	ret.ReturnNumber = s.nextReturnNumber(now)

	for _, item := range ret.Items {
		product := s.products[item.ProductID]
		prev := product.CurrentStock
		applied, newStock := ledger.ClampedDecrement(product.CurrentStock, item.Qty)
		product.Cost = ledger.ReturnCost(prev, product.Cost, applied, item.UnitPrice)
		product.CurrentStock = newStock
		product.UpdatedAt = now
		s.products[item.ProductID] = product

		s.appendMovement(domain.StockMovement{
			ProductID:     item.ProductID,
			Type:          domain.MovementReturn,
			Qty:           -applied,
			PreviousStock: prev,
			NewStock:      newStock,
			UnitCost:      item.UnitPrice,
			TotalValue:    item.UnitPrice.Mul(decimal.NewFromInt(int64(applied))),
			ReferenceID:   ret.ID,
			ReferenceType: "stock_return",
			Actor:         ret.CreatedBy,
			CreatedAt:     now,
		})
	}

	s.returnsByID[ret.ID] = cloneReturn(ret)
	created := cloneReturn(ret)
	return &created, nil
}

// nextReturnNumber allocates RT-YYYYMMDD-NNN under the store lock so two
// returns on the same day can never collide.
func (s *Store) nextReturnNumber(now time.Time) string {
	day := now.UTC().Format("20060102")
	s.returnSeqByDay[day]++
	return fmt.Sprintf("RT-%s-%03d", day, s.returnSeqByDay[day])
}

func (s *Store) GetStockReturn(_ context.Context, id string) (*domain.StockReturn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ret, exists := s.returnsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	dup := cloneReturn(ret)
	return &dup, nil
}

func (s *Store) ListStockReturns(_ context.Context, limit int) ([]domain.StockReturn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.StockReturn, 0, len(s.returnsByID))
	for _, ret := range s.returnsByID {
		result = append(result, cloneReturn(ret))
	}
	slices.SortFunc(result, func(a, b domain.StockReturn) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ReturnNumber, a.ReturnNumber)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) ConfirmStockReturn(_ context.Context, id string, amount decimal.Decimal, notes string, at time.Time) (*domain.StockReturn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ret, exists := s.returnsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	if ret.Status != domain.ReturnStatusPending {
		return nil, fmt.Errorf("%w: return %s already reconciled", store.ErrStateConflict, ret.ReturnNumber)
	}
	if amount.IsNegative() {
		return nil, fmt.Errorf("%w: confirmed amount cannot be negative", store.ErrValidation)
	}

	at = at.UTC()
	ret.Status = domain.ReturnStatusReconciled
	ret.ConfirmedAmount = amount
	ret.ConfirmationDate = &at
	if notes != "" {
		ret.Notes = notes
	}
	s.returnsByID[id] = cloneReturn(ret)
	updated := cloneReturn(ret)
	return &updated, nil
}

func (s *Store) CreateTransaction(_ context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(tx.Items) == 0 {
		return nil, fmt.Errorf("%w: transaction items are required", store.ErrValidation)
	}
	switch tx.Status {
	case domain.TxStatusPaid, domain.TxStatusUnpaid, domain.TxStatusSaved:
	default:
		return nil, fmt.Errorf("%w: unknown transaction status %q", store.ErrValidation, tx.Status)
	}
	for _, item := range tx.Items {
		if item.Qty < 1 {
			return nil, fmt.Errorf("%w: item qty must be positive", store.ErrValidation)
		}
		product, ok := s.products[item.ProductID]
		if !ok || product.DeletedAt != nil {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, item.ProductID)
		}
	}

	now := time.Now().UTC()
	if tx.ID == "" {
		tx.ID = xid.New("trx")
	}
	if tx.TransactionNumber == "" {
		tx.TransactionNumber = strings.ToUpper(tx.ID)
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}

	if tx.Status == domain.TxStatusPaid {
		if err := s.deductForSale(&tx, now); err != nil {
			return nil, err
		}
		paidAt := now
		tx.PaidAt = &paidAt
	}

	s.transactionsByID[tx.ID] = cloneTransaction(tx)
	created := cloneTransaction(tx)
	return &created, nil
}

// deductForSale validates availability for every line, recipe materials
// included, before touching a single counter. Caller holds the write lock.
func (s *Store) deductForSale(tx *domain.Transaction, now time.Time) error {
	demand := ledger.SaleDemand(tx.Items, s.products)
	ids := make([]string, 0, len(demand))
	for id := range demand {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, id := range ids {
		product, ok := s.products[id]
		if !ok || product.DeletedAt != nil {
			return fmt.Errorf("%w: product %s", store.ErrNotFound, id)
		}
		if product.CurrentStock < demand[id] {
			return fmt.Errorf("%w: product %s has %d, need %d", store.ErrInsufficientStock, product.Name, product.CurrentStock, demand[id])
		}
	}

	for _, id := range ids {
		product := s.products[id]
		prev := product.CurrentStock
		product.CurrentStock -= demand[id]
		product.UpdatedAt = now
		s.products[id] = product

		s.appendMovement(domain.StockMovement{
			ProductID:     id,
			Type:          domain.MovementSale,
			Qty:           -demand[id],
			PreviousStock: prev,
			NewStock:      product.CurrentStock,
			UnitCost:      product.Cost,
			TotalValue:    product.Cost.Mul(decimal.NewFromInt(int64(demand[id]))),
			ReferenceID:   tx.ID,
			ReferenceType: "transaction",
			Actor:         tx.CreatedBy,
			CreatedAt:     now,
		})
	}
	return nil
}

func (s *Store) GetTransaction(_ context.Context, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, exists := s.transactionsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	dup := cloneTransaction(tx)
	return &dup, nil
}

func (s *Store) ListTransactions(_ context.Context, status string, from time.Time, to time.Time, limit int) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Transaction, 0, len(s.transactionsByID))
	for _, tx := range s.transactionsByID {
		if status != "" && tx.Status != status {
			continue
		}
		if !from.IsZero() && tx.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !tx.CreatedAt.Before(to) {
			continue
		}
		result = append(result, cloneTransaction(tx))
	}
	slices.SortFunc(result, func(a, b domain.Transaction) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) PayTransaction(_ context.Context, id string, payments []domain.Payment, at time.Time) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, exists := s.transactionsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	if tx.Status == domain.TxStatusPaid {
		return nil, fmt.Errorf("%w: transaction %s already paid", store.ErrStateConflict, tx.TransactionNumber)
	}
	if len(payments) == 0 {
		return nil, fmt.Errorf("%w: at least one payment is required", store.ErrValidation)
	}
	received := decimal.Zero
	for _, p := range payments {
		if !p.Amount.GreaterThan(decimal.Zero) {
			return nil, fmt.Errorf("%w: payment amount must be positive", store.ErrValidation)
		}
		received = received.Add(p.Amount)
	}
	if received.LessThan(tx.Total) {
		return nil, fmt.Errorf("%w: received %s below total %s", store.ErrValidation, received, tx.Total)
	}

	at = at.UTC()
	if err := s.deductForSale(&tx, at); err != nil {
		return nil, err
	}

	tx.Status = domain.TxStatusPaid
	tx.Payments = append([]domain.Payment(nil), payments...)
	tx.PaidAt = &at
	s.transactionsByID[id] = cloneTransaction(tx)
	updated := cloneTransaction(tx)
	return &updated, nil
}

func (s *Store) OpenShift(_ context.Context, shift domain.CashierShift) (*domain.CashierShift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if shift.OpenedBy == "" {
		return nil, fmt.Errorf("%w: opened_by is required", store.ErrValidation)
	}
	if shift.OpeningBalance.IsNegative() {
		return nil, fmt.Errorf("%w: opening balance cannot be negative", store.ErrValidation)
	}
	if openID, exists := s.openShiftByUser[shift.OpenedBy]; exists {
		return nil, fmt.Errorf("%w: shift %s still open for %s", store.ErrStateConflict, openID, shift.OpenedBy)
	}

	if shift.ID == "" {
		shift.ID = xid.New("shf")
	}
	if shift.OpenedAt.IsZero() {
		shift.OpenedAt = time.Now().UTC()
	}
	shift.Status = domain.ShiftStatusOpen
	shift.ClosedAt = nil
	s.shiftsByID[shift.ID] = shift
	s.openShiftByUser[shift.OpenedBy] = shift.ID

	created := shift
	return &created, nil
}

func (s *Store) GetShift(_ context.Context, id string) (*domain.CashierShift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shift, exists := s.shiftsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	dup := shift
	return &dup, nil
}

func (s *Store) GetOpenShiftByUser(_ context.Context, username string) (*domain.CashierShift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.openShiftByUser[username]
	if !exists {
		return nil, store.ErrNotFound
	}
	shift := s.shiftsByID[id]
	dup := shift
	return &dup, nil
}

func (s *Store) ListShifts(_ context.Context, limit int) ([]domain.CashierShift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.CashierShift, 0, len(s.shiftsByID))
	for _, shift := range s.shiftsByID {
		result = append(result, shift)
	}
	slices.SortFunc(result, func(a, b domain.CashierShift) int {
		if a.OpenedAt.Equal(b.OpenedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.OpenedAt.After(b.OpenedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CloseShift(_ context.Context, id string, actualCash decimal.Decimal, closedAt time.Time) (*domain.CashierShift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	shift, exists := s.shiftsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	if shift.Status != domain.ShiftStatusOpen {
		return nil, fmt.Errorf("%w: shift %s is not open", store.ErrStateConflict, id)
	}
	if actualCash.IsNegative() {
		return nil, fmt.Errorf("%w: counted cash cannot be negative", store.ErrValidation)
	}

	closedAt = closedAt.UTC()
	shift.Stats = ledger.ShiftTotals(s.shiftTransactions(shift, closedAt))
	shift.ClosingBalance = ledger.ClosingBalance(shift.OpeningBalance, shift.Stats)
	shift.Variance = ledger.Variance(actualCash, shift.ClosingBalance)
	shift.ActualCash = actualCash
	shift.Status = domain.ShiftStatusClosed
	shift.ClosedAt = &closedAt

	s.shiftsByID[id] = shift
	delete(s.openShiftByUser, shift.OpenedBy)

	closed := shift
	return &closed, nil
}

// shiftTransactions collects the cashier's paid transactions created inside
// the shift window. Caller holds a lock.
func (s *Store) shiftTransactions(shift domain.CashierShift, until time.Time) []domain.Transaction {
	txs := make([]domain.Transaction, 0, 16)
	for _, tx := range s.transactionsByID {
		if tx.Status != domain.TxStatusPaid || tx.CreatedBy != shift.OpenedBy {
			continue
		}
		if tx.CreatedAt.Before(shift.OpenedAt) || !tx.CreatedAt.Before(until) {
			continue
		}
		txs = append(txs, tx)
	}
	return txs
}

func (s *Store) ListStockMovements(_ context.Context, filter domain.MovementFilter, limit int) ([]domain.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.StockMovement, 0, len(s.movements))
	for _, m := range s.movements {
		if filter.ProductID != "" && m.ProductID != filter.ProductID {
			continue
		}
		if filter.Type != "" && m.Type != filter.Type {
			continue
		}
		if filter.From != nil && m.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && !m.CreatedAt.Before(*filter.To) {
			continue
		}
		result = append(result, m)
	}
	slices.SortFunc(result, func(a, b domain.StockMovement) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			if a.Type == b.Type {
				return cmpString(b.ID, a.ID)
			}
			return cmpString(a.Type, b.Type)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) GetSalesReport(_ context.Context, from time.Time, to time.Time) (domain.SalesReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report := domain.SalesReport{
		From:       from.UTC().Format(time.RFC3339),
		To:         to.UTC().Format(time.RFC3339),
		GrossSales: decimal.Zero,
		Discount:   decimal.Zero,
		NetSales:   decimal.Zero,
	}
	byMethod := map[string]*domain.SalesReportPayment{}
	for _, tx := range s.transactionsByID {
		if tx.Status != domain.TxStatusPaid {
			continue
		}
		if tx.CreatedAt.Before(from) || !tx.CreatedAt.Before(to) {
			continue
		}
		report.Transactions++
		report.GrossSales = report.GrossSales.Add(tx.Subtotal)
		report.Discount = report.Discount.Add(tx.Discount)
		report.NetSales = report.NetSales.Add(tx.Total)
		for _, p := range tx.Payments {
			entry, ok := byMethod[p.Method]
			if !ok {
				entry = &domain.SalesReportPayment{Method: p.Method, Total: decimal.Zero}
				byMethod[p.Method] = entry
			}
			entry.Count++
			entry.Total = entry.Total.Add(p.Amount)
		}
	}
	for _, entry := range byMethod {
		report.ByPayment = append(report.ByPayment, *entry)
	}
	slices.SortFunc(report.ByPayment, func(a, b domain.SalesReportPayment) int {
		return cmpString(a.Method, b.Method)
	})
	return report, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("aud")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, len(s.auditLogs))
	for _, entry := range s.auditLogs {
		if !from.IsZero() && entry.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}
	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || user.Password == "" {
		return fmt.Errorf("%w: username and password are required", store.ErrValidation)
	}
	if _, exists := s.usersByUsername[user.Username]; exists {
		return fmt.Errorf("%w: username %s taken", store.ErrStateConflict, user.Username)
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, u := range s.usersByUsername {
		users = append(users, u)
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
		return fmt.Errorf("%w: username and password are required", store.ErrValidation)
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

// appendMovement fills bookkeeping fields and records the movement.
// Caller holds the write lock.
func (s *Store) appendMovement(m domain.StockMovement) {
	if m.ID == "" {
		m.ID = xid.New("mov")
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	s.movements = append(s.movements, m)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneProduct(src domain.Product) domain.Product {
	dup := src
	recipe := make([]domain.RecipeItem, len(src.Recipe))
	copy(recipe, src.Recipe)
	dup.Recipe = recipe
	return dup
}

func cloneInvoice(src domain.Invoice) domain.Invoice {
	dup := src
	items := make([]domain.InvoiceItem, len(src.Items))
	copy(items, src.Items)
	dup.Items = items
	return dup
}

func cloneOpname(src domain.StockOpname) domain.StockOpname {
	dup := src
	items := make([]domain.StockOpnameItem, len(src.Items))
	copy(items, src.Items)
	dup.Items = items
	return dup
}

func cloneReturn(src domain.StockReturn) domain.StockReturn {
	dup := src
	items := make([]domain.StockReturnItem, len(src.Items))
	copy(items, src.Items)
	dup.Items = items
	return dup
}

func cloneTransaction(src domain.Transaction) domain.Transaction {
	dup := src
	items := make([]domain.TransactionItem, len(src.Items))
	copy(items, src.Items)
	dup.Items = items
	payments := make([]domain.Payment, len(src.Payments))
	copy(payments, src.Payments)
	dup.Payments = payments
	return dup
}
