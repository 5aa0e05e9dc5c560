package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"warungpos/internal/domain"
	"warungpos/internal/ledger"
	"warungpos/internal/store"
	"warungpos/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const productColumns = `id, code, name, category, type, price, cost, current_stock, unit, monitor_stock, min_stock, recipe, created_at, updated_at, deleted_at`

func scanProduct(row interface{ Scan(...any) error }) (domain.Product, error) {
	var p domain.Product
	var recipeJSON []byte
	var deletedAt sql.NullTime
	err := row.Scan(&p.ID, &p.Code, &p.Name, &p.Category, &p.Type, &p.Price, &p.Cost, &p.CurrentStock, &p.Unit, &p.MonitorStock, &p.MinStock, &recipeJSON, &p.CreatedAt, &p.UpdatedAt, &deletedAt)
	if err != nil {
		return domain.Product{}, err
	}
	if len(recipeJSON) > 0 {
		if err := json.Unmarshal(recipeJSON, &p.Recipe); err != nil {
			return domain.Product{}, err
		}
	}
	if deletedAt.Valid {
		t := deletedAt.Time.UTC()
		p.DeletedAt = &t
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
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

	now := time.Now().UTC()
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	product.CreatedAt = now
	product.UpdatedAt = now
	product.DeletedAt = nil

	recipeJSON, err := json.Marshal(product.Recipe)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO products (id, code, name, category, type, price, cost, current_stock, unit, monitor_stock, min_stock, recipe, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, product.ID, product.Code, product.Name, product.Category, product.Type, product.Price, product.Cost, product.CurrentStock, product.Unit, product.MonitorStock, product.MinStock, recipeJSON, product.CreatedAt, product.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: product code %s already exists", store.ErrStateConflict, product.Code)
		}
		return nil, err
	}

	if product.CurrentStock > 0 {
		err = insertMovement(ctx, tx, domain.StockMovement{
			ProductID:     product.ID,
			Type:          domain.MovementOpname,
			Qty:           product.CurrentStock,
			PreviousStock: 0,
			NewStock:      product.CurrentStock,
			UnitCost:      product.Cost,
			TotalValue:    product.Cost.Mul(decimal.NewFromInt(int64(product.CurrentStock))),
			ReferenceID:   product.ID,
			ReferenceType: "product_create",
			CreatedAt:     now,
		})
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := product
	return &created, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = $1 AND deleted_at IS NULL
	`, id)
	product, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &product, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE deleted_at IS NULL
		ORDER BY category, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" {
		return nil, fmt.Errorf("%w: name is required", store.ErrValidation)
	}
	recipeJSON, err := json.Marshal(product.Recipe)
	if err != nil {
		return nil, err
	}

	// Code and type are frozen; stock and cost only move through ledger
	// operations.
	row := s.db.QueryRowContext(ctx, `
		UPDATE products
		SET name = $2, category = $3, price = $4, unit = $5, monitor_stock = $6, min_stock = $7, recipe = $8, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING `+productColumns+`
	`, product.ID, product.Name, product.Category, product.Price, product.Unit, product.MonitorStock, product.MinStock, recipeJSON)
	updated, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &updated, nil
}

func (s *Store) SoftDeleteProduct(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET deleted_at = $2, updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL
	`, id, at.UTC())
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		result[product.ID] = product
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	if supplier.Name == "" {
		return nil, fmt.Errorf("%w: supplier name is required", store.ErrValidation)
	}
	if supplier.ID == "" {
		supplier.ID = xid.New("sup")
	}
	if supplier.CreatedAt.IsZero() {
		supplier.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO suppliers (id, name, phone, address, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, supplier.ID, supplier.Name, supplier.Phone, supplier.Address, supplier.CreatedAt)
	if err != nil {
		return nil, err
	}
	created := supplier
	return &created, nil
}

func (s *Store) GetSupplier(ctx context.Context, id string) (*domain.Supplier, error) {
	var supplier domain.Supplier
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, phone, address, created_at
		FROM suppliers
		WHERE id = $1 AND deleted_at IS NULL
	`, id).Scan(&supplier.ID, &supplier.Name, &supplier.Phone, &supplier.Address, &supplier.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	supplier.CreatedAt = supplier.CreatedAt.UTC()
	return &supplier, nil
}

func (s *Store) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, phone, address, created_at
		FROM suppliers
		WHERE deleted_at IS NULL
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	suppliers := make([]domain.Supplier, 0, 32)
	for rows.Next() {
		var supplier domain.Supplier
		if err := rows.Scan(&supplier.ID, &supplier.Name, &supplier.Phone, &supplier.Address, &supplier.CreatedAt); err != nil {
			return nil, err
		}
		supplier.CreatedAt = supplier.CreatedAt.UTC()
		suppliers = append(suppliers, supplier)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return suppliers, nil
}

func (s *Store) SoftDeleteSupplier(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE suppliers SET deleted_at = $2 WHERE id = $1 AND deleted_at IS NULL
	`, id, at.UTC())
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.Name == "" {
		return nil, fmt.Errorf("%w: customer name is required", store.ErrValidation)
	}
	if customer.ID == "" {
		customer.ID = xid.New("cus")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, phone, address, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, customer.ID, customer.Name, customer.Phone, customer.Address, customer.CreatedAt)
	if err != nil {
		return nil, err
	}
	created := customer
	return &created, nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	var customer domain.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, phone, address, created_at
		FROM customers
		WHERE id = $1 AND deleted_at IS NULL
	`, id).Scan(&customer.ID, &customer.Name, &customer.Phone, &customer.Address, &customer.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	customer.CreatedAt = customer.CreatedAt.UTC()
	return &customer, nil
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, phone, address, created_at
		FROM customers
		WHERE deleted_at IS NULL
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 32)
	for rows.Next() {
		var customer domain.Customer
		if err := rows.Scan(&customer.ID, &customer.Name, &customer.Phone, &customer.Address, &customer.CreatedAt); err != nil {
			return nil, err
		}
		customer.CreatedAt = customer.CreatedAt.UTC()
		customers = append(customers, customer)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return customers, nil
}

func (s *Store) SoftDeleteCustomer(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE customers SET deleted_at = $2 WHERE id = $1 AND deleted_at IS NULL
	`, id, at.UTC())
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// lockProduct reads a product row FOR UPDATE so its stock and cost can be
// adjusted inside the enclosing transaction.
func lockProduct(ctx context.Context, tx *sql.Tx, id string) (domain.Product, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = $1 AND deleted_at IS NULL
		FOR UPDATE
	`, id)
	product, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, fmt.Errorf("%w: product %s", store.ErrNotFound, id)
		}
		return domain.Product{}, err
	}
	return product, nil
}

func saveStockAndCost(ctx context.Context, tx *sql.Tx, id string, stock int, cost decimal.Decimal, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE products
		SET current_stock = $2, cost = $3, updated_at = $4
		WHERE id = $1
	`, id, stock, cost, at)
	return err
}

func insertMovement(ctx context.Context, tx *sql.Tx, m domain.StockMovement) error {
	if m.ID == "" {
		m.ID = xid.New("mov")
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO stock_movements (id, product_id, type, qty, previous_stock, new_stock, unit_cost, total_value, reference_id, reference_type, actor, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, m.ID, m.ProductID, m.Type, m.Qty, m.PreviousStock, m.NewStock, m.UnitCost, m.TotalValue, m.ReferenceID, m.ReferenceType, m.Actor, m.CreatedAt)
	return err
}

func (s *Store) CreateInvoice(ctx context.Context, invoice domain.Invoice) (*domain.Invoice, error) {
	if invoice.InvoiceNumber == "" || len(invoice.Items) == 0 {
		return nil, fmt.Errorf("%w: invoice number and items are required", store.ErrValidation)
	}
	for _, item := range invoice.Items {
		if item.Qty < 1 {
			return nil, fmt.Errorf("%w: item qty must be positive", store.ErrValidation)
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

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var supplierID string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM suppliers WHERE id = $1 AND deleted_at IS NULL
	`, invoice.SupplierID).Scan(&supplierID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: supplier %s", store.ErrNotFound, invoice.SupplierID)
		}
		return nil, err
	}

	for _, item := range invoice.Items {
		product, err := lockProduct(ctx, tx, item.ProductID)
		if err != nil {
			return nil, err
		}

		prev := product.CurrentStock
		newCost := ledger.PurchaseCost(product.CurrentStock, product.Cost, item.Qty, item.UnitPrice)
		newStock := product.CurrentStock + item.Qty
		if err := saveStockAndCost(ctx, tx, item.ProductID, newStock, newCost, now); err != nil {
			return nil, err
		}

		err = insertMovement(ctx, tx, domain.StockMovement{
			ProductID:     item.ProductID,
			Type:          domain.MovementPurchase,
			Qty:           item.Qty,
			PreviousStock: prev,
			NewStock:      newStock,
			UnitCost:      item.UnitPrice,
			TotalValue:    item.Total,
			ReferenceID:   invoice.ID,
			ReferenceType: "invoice",
			Actor:         invoice.CreatedBy,
			CreatedAt:     now,
		})
		if err != nil {
			return nil, err
		}
	}

	itemsJSON, err := json.Marshal(invoice.Items)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO invoices (id, invoice_number, supplier_id, items, total, paid_amount, payment_status, shift_id, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, invoice.ID, invoice.InvoiceNumber, invoice.SupplierID, itemsJSON, invoice.Total, invoice.PaidAmount, invoice.PaymentStatus, nullIfEmpty(invoice.ShiftID), invoice.CreatedBy, invoice.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := invoice
	return &created, nil
}

const invoiceColumns = `id, invoice_number, supplier_id, items, total, paid_amount, payment_status, COALESCE(shift_id, ''), created_by, created_at`

func scanInvoice(row interface{ Scan(...any) error }) (domain.Invoice, error) {
	var invoice domain.Invoice
	var itemsJSON []byte
	err := row.Scan(&invoice.ID, &invoice.InvoiceNumber, &invoice.SupplierID, &itemsJSON, &invoice.Total, &invoice.PaidAmount, &invoice.PaymentStatus, &invoice.ShiftID, &invoice.CreatedBy, &invoice.CreatedAt)
	if err != nil {
		return domain.Invoice{}, err
	}
	if err := json.Unmarshal(itemsJSON, &invoice.Items); err != nil {
		return domain.Invoice{}, err
	}
	invoice.CreatedAt = invoice.CreatedAt.UTC()
	return invoice, nil
}

func (s *Store) GetInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+invoiceColumns+` FROM invoices WHERE id = $1
	`, id)
	invoice, err := scanInvoice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &invoice, nil
}

func (s *Store) ListInvoices(ctx context.Context, supplierID string, limit int) ([]domain.Invoice, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE ($1 = '' OR supplier_id = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, supplierID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	invoices := make([]domain.Invoice, 0, limit)
	for rows.Next() {
		invoice, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, invoice)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return invoices, nil
}

func (s *Store) PayInvoice(ctx context.Context, id string, amount decimal.Decimal) (*domain.Invoice, error) {
	if !amount.GreaterThan(decimal.Zero) {
		return nil, fmt.Errorf("%w: payment amount must be positive", store.ErrValidation)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT `+invoiceColumns+` FROM invoices WHERE id = $1 FOR UPDATE
	`, id)
	invoice, err := scanInvoice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if invoice.PaymentStatus == domain.PaymentStatusPaid {
		return nil, fmt.Errorf("%w: invoice %s already settled", store.ErrStateConflict, id)
	}

	invoice.PaidAmount = invoice.PaidAmount.Add(amount)
	invoice.PaymentStatus = ledger.PaymentStatus(invoice.Total, invoice.PaidAmount)
	_, err = tx.ExecContext(ctx, `
		UPDATE invoices SET paid_amount = $2, payment_status = $3 WHERE id = $1
	`, id, invoice.PaidAmount, invoice.PaymentStatus)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (s *Store) CreateStockOpname(ctx context.Context, opname domain.StockOpname) (*domain.StockOpname, error) {
	if len(opname.Items) == 0 {
		return nil, fmt.Errorf("%w: opname items are required", store.ErrValidation)
	}
	for _, item := range opname.Items {
		if item.ActualStock < 0 {
			return nil, fmt.Errorf("%w: counted stock cannot be negative", store.ErrValidation)
		}
	}

	now := time.Now().UTC()
	if opname.ID == "" {
		opname.ID = xid.New("opn")
	}
	opname.CreatedAt = now

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	resolved := make([]domain.StockOpnameItem, 0, len(opname.Items))
	for _, item := range opname.Items {
		product, err := lockProduct(ctx, tx, item.ProductID)
		if err != nil {
			return nil, err
		}

		item.SystemStock = product.CurrentStock
		item.Variance = item.ActualStock - item.SystemStock
		resolved = append(resolved, item)

		if err := saveStockAndCost(ctx, tx, item.ProductID, item.ActualStock, product.Cost, now); err != nil {
			return nil, err
		}
		err = insertMovement(ctx, tx, domain.StockMovement{
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
		if err != nil {
			return nil, err
		}
	}
	opname.Items = resolved

	itemsJSON, err := json.Marshal(opname.Items)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO stock_opnames (id, notes, items, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, opname.ID, opname.Notes, itemsJSON, opname.CreatedBy, opname.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := opname
	return &created, nil
}

func (s *Store) ListStockOpnames(ctx context.Context, limit int) ([]domain.StockOpname, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, notes, items, created_by, created_at
		FROM stock_opnames
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	opnames := make([]domain.StockOpname, 0, limit)
	for rows.Next() {
		var opname domain.StockOpname
		var itemsJSON []byte
		if err := rows.Scan(&opname.ID, &opname.Notes, &itemsJSON, &opname.CreatedBy, &opname.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(itemsJSON, &opname.Items); err != nil {
			return nil, err
		}
		opname.CreatedAt = opname.CreatedAt.UTC()
		opnames = append(opnames, opname)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return opnames, nil
}

func (s *Store) CreateStockWaste(ctx context.Context, waste domain.StockWaste) (*domain.StockWaste, error) {
	if waste.Qty < 1 {
		return nil, fmt.Errorf("%w: waste qty must be positive", store.ErrValidation)
	}

	now := time.Now().UTC()
	if waste.ID == "" {
		waste.ID = xid.New("wst")
	}
	waste.CreatedAt = now

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	product, err := lockProduct(ctx, tx, waste.ProductID)
	if err != nil {
		return nil, err
	}

	prev := product.CurrentStock
	applied, newStock := ledger.ClampedDecrement(product.CurrentStock, waste.Qty)
	if err := saveStockAndCost(ctx, tx, waste.ProductID, newStock, product.Cost, now); err != nil {
		return nil, err
	}
	err = insertMovement(ctx, tx, domain.StockMovement{
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
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO stock_wastes (id, product_id, qty, reason, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, waste.ID, waste.ProductID, waste.Qty, waste.Reason, waste.CreatedBy, waste.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := waste
	return &created, nil
}

func (s *Store) ListStockWastes(ctx context.Context, limit int) ([]domain.StockWaste, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, qty, reason, created_by, created_at
		FROM stock_wastes
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	wastes := make([]domain.StockWaste, 0, limit)
	for rows.Next() {
		var waste domain.StockWaste
		if err := rows.Scan(&waste.ID, &waste.ProductID, &waste.Qty, &waste.Reason, &waste.CreatedBy, &waste.CreatedAt); err != nil {
			return nil, err
		}
		waste.CreatedAt = waste.CreatedAt.UTC()
		wastes = append(wastes, waste)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return wastes, nil
}

func (s *Store) CreateStockReturn(ctx context.Context, ret domain.StockReturn) (*domain.StockReturn, error) {
	if len(ret.Items) == 0 {
		return nil, fmt.Errorf("%w: return items are required", store.ErrValidation)
	}
	for _, item := range ret.Items {
		if item.Qty < 1 {
			return nil, fmt.Errorf("%w: return qty must be positive", store.ErrValidation)
		}
	}

	now := time.Now().UTC()
	if ret.ID == "" {
		ret.ID = xid.New("rtn")
	}
	ret.CreatedAt = now
	ret.Status = domain.ReturnStatusPending

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var supplierID string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM suppliers WHERE id = $1 AND deleted_at IS NULL
	`, ret.SupplierID).Scan(&supplierID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: supplier %s", store.ErrNotFound, ret.SupplierID)
		}
		return nil, err
	}
	var invoiceID string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM invoices WHERE id = $1
	`, ret.InvoiceID).Scan(&invoiceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: invoice %s", store.ErrNotFound, ret.InvoiceID)
		}
		return nil, err
	}

	ret.ReturnNumber, err = nextReturnNumber(ctx, tx, now)
	if err != nil {
		return nil, err
	}

	for _, item := range ret.Items {
		product, err := lockProduct(ctx, tx, item.ProductID)
		if err != nil {
			return nil, err
		}

		prev := product.CurrentStock
		applied, newStock := ledger.ClampedDecrement(product.CurrentStock, item.Qty)
		newCost := ledger.ReturnCost(prev, product.Cost, applied, item.UnitPrice)
		if err := saveStockAndCost(ctx, tx, item.ProductID, newStock, newCost, now); err != nil {
			return nil, err
		}
		err = insertMovement(ctx, tx, domain.StockMovement{
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
		if err != nil {
			return nil, err
		}
	}

	itemsJSON, err := json.Marshal(ret.Items)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO stock_returns (id, return_number, supplier_id, invoice_id, status, items, total_value, confirmed_amount, notes, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, ret.ID, ret.ReturnNumber, ret.SupplierID, ret.InvoiceID, ret.Status, itemsJSON, ret.TotalValue, ret.ConfirmedAmount, ret.Notes, ret.CreatedBy, ret.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := ret
	return &created, nil
}

// nextReturnNumber allocates RT-YYYYMMDD-NNN through a per-day counter row
// so concurrent returns on the same day never collide.
func nextReturnNumber(ctx context.Context, tx *sql.Tx, now time.Time) (string, error) {
	day := now.UTC().Format("20060102")
	var seq int
	err := tx.QueryRowContext(ctx, `
		INSERT INTO stock_return_counters (day, seq)
		VALUES ($1, 1)
		ON CONFLICT (day) DO UPDATE SET seq = stock_return_counters.seq + 1
		RETURNING seq
	`, day).Scan(&seq)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("RT-%s-%03d", day, seq), nil
}

const returnColumns = `id, return_number, supplier_id, invoice_id, status, items, total_value, confirmed_amount, confirmation_date, notes, created_by, created_at`

func scanReturn(row interface{ Scan(...any) error }) (domain.StockReturn, error) {
	var ret domain.StockReturn
	var itemsJSON []byte
	var confirmedAt sql.NullTime
	err := row.Scan(&ret.ID, &ret.ReturnNumber, &ret.SupplierID, &ret.InvoiceID, &ret.Status, &itemsJSON, &ret.TotalValue, &ret.ConfirmedAmount, &confirmedAt, &ret.Notes, &ret.CreatedBy, &ret.CreatedAt)
	if err != nil {
		return domain.StockReturn{}, err
	}
	if err := json.Unmarshal(itemsJSON, &ret.Items); err != nil {
		return domain.StockReturn{}, err
	}
	if confirmedAt.Valid {
		t := confirmedAt.Time.UTC()
		ret.ConfirmationDate = &t
	}
	ret.CreatedAt = ret.CreatedAt.UTC()
	return ret, nil
}

func (s *Store) GetStockReturn(ctx context.Context, id string) (*domain.StockReturn, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+returnColumns+` FROM stock_returns WHERE id = $1
	`, id)
	ret, err := scanReturn(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &ret, nil
}

func (s *Store) ListStockReturns(ctx context.Context, limit int) ([]domain.StockReturn, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+returnColumns+`
		FROM stock_returns
		ORDER BY created_at DESC, return_number DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	returns := make([]domain.StockReturn, 0, limit)
	for rows.Next() {
		ret, err := scanReturn(rows)
		if err != nil {
			return nil, err
		}
		returns = append(returns, ret)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return returns, nil
}

func (s *Store) ConfirmStockReturn(ctx context.Context, id string, amount decimal.Decimal, notes string, at time.Time) (*domain.StockReturn, error) {
	if amount.IsNegative() {
		return nil, fmt.Errorf("%w: confirmed amount cannot be negative", store.ErrValidation)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT `+returnColumns+` FROM stock_returns WHERE id = $1 FOR UPDATE
	`, id)
	ret, err := scanReturn(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if ret.Status != domain.ReturnStatusPending {
		return nil, fmt.Errorf("%w: return %s already reconciled", store.ErrStateConflict, ret.ReturnNumber)
	}

	at = at.UTC()
	ret.Status = domain.ReturnStatusReconciled
	ret.ConfirmedAmount = amount
	ret.ConfirmationDate = &at
	if notes != "" {
		ret.Notes = notes
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE stock_returns
		SET status = $2, confirmed_amount = $3, confirmation_date = $4, notes = $5
		WHERE id = $1
	`, id, ret.Status, ret.ConfirmedAmount, at, ret.Notes)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &ret, nil
}

func (s *Store) CreateTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
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

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	if tx.Status == domain.TxStatusPaid {
		if err := deductForSale(ctx, pgTx, &tx, now); err != nil {
			return nil, err
		}
		paidAt := now
		tx.PaidAt = &paidAt
	} else {
		for _, item := range tx.Items {
			var exists bool
			err := pgTx.QueryRowContext(ctx, `
				SELECT EXISTS (SELECT 1 FROM products WHERE id = $1 AND deleted_at IS NULL)
			`, item.ProductID).Scan(&exists)
			if err != nil {
				return nil, err
			}
			if !exists {
				return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, item.ProductID)
			}
		}
	}

	if err := insertTransaction(ctx, pgTx, tx); err != nil {
		return nil, err
	}
	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	created := tx
	return &created, nil
}

func insertTransaction(ctx context.Context, pgTx *sql.Tx, tx domain.Transaction) error {
	itemsJSON, err := json.Marshal(tx.Items)
	if err != nil {
		return err
	}
	paymentsJSON, err := json.Marshal(tx.Payments)
	if err != nil {
		return err
	}
	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO transactions (id, transaction_number, customer_id, shift_id, items, subtotal, discount, total, status, payments, created_by, created_at, paid_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, tx.ID, tx.TransactionNumber, nullIfEmpty(tx.CustomerID), nullIfEmpty(tx.ShiftID), itemsJSON, tx.Subtotal, tx.Discount, tx.Total, tx.Status, paymentsJSON, tx.CreatedBy, tx.CreatedAt, nullTime(tx.PaidAt))
	return err
}

// deductForSale validates availability for every demanded product, recipe
// materials included, before applying a single decrement. Products are
// locked in id order to keep concurrent sales deadlock-free.
func deductForSale(ctx context.Context, pgTx *sql.Tx, tx *domain.Transaction, now time.Time) error {
	lineIDs := make([]string, 0, len(tx.Items))
	for _, item := range tx.Items {
		lineIDs = append(lineIDs, item.ProductID)
	}
	rows, err := pgTx.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = ANY($1) AND deleted_at IS NULL
	`, lineIDs)
	if err != nil {
		return err
	}
	lineProducts := make(map[string]domain.Product, len(lineIDs))
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			_ = rows.Close()
			return err
		}
		lineProducts[product.ID] = product
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	_ = rows.Close()
	for _, item := range tx.Items {
		if _, ok := lineProducts[item.ProductID]; !ok {
			return fmt.Errorf("%w: product %s", store.ErrNotFound, item.ProductID)
		}
	}

	demand := ledger.SaleDemand(tx.Items, lineProducts)
	ids := make([]string, 0, len(demand))
	for id := range demand {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	locked := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		product, err := lockProduct(ctx, pgTx, id)
		if err != nil {
			return err
		}
		if product.CurrentStock < demand[id] {
			return fmt.Errorf("%w: product %s has %d, need %d", store.ErrInsufficientStock, product.Name, product.CurrentStock, demand[id])
		}
		locked[id] = product
	}

	for _, id := range ids {
		product := locked[id]
		prev := product.CurrentStock
		newStock := prev - demand[id]
		if err := saveStockAndCost(ctx, pgTx, id, newStock, product.Cost, now); err != nil {
			return err
		}
		err = insertMovement(ctx, pgTx, domain.StockMovement{
			ProductID:     id,
			Type:          domain.MovementSale,
			Qty:           -demand[id],
			PreviousStock: prev,
			NewStock:      newStock,
			UnitCost:      product.Cost,
			TotalValue:    product.Cost.Mul(decimal.NewFromInt(int64(demand[id]))),
			ReferenceID:   tx.ID,
			ReferenceType: "transaction",
			Actor:         tx.CreatedBy,
			CreatedAt:     now,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

const transactionColumns = `id, transaction_number, COALESCE(customer_id, ''), COALESCE(shift_id, ''), items, subtotal, discount, total, status, payments, created_by, created_at, paid_at`

func scanTransaction(row interface{ Scan(...any) error }) (domain.Transaction, error) {
	var tx domain.Transaction
	var itemsJSON, paymentsJSON []byte
	var paidAt sql.NullTime
	err := row.Scan(&tx.ID, &tx.TransactionNumber, &tx.CustomerID, &tx.ShiftID, &itemsJSON, &tx.Subtotal, &tx.Discount, &tx.Total, &tx.Status, &paymentsJSON, &tx.CreatedBy, &tx.CreatedAt, &paidAt)
	if err != nil {
		return domain.Transaction{}, err
	}
	if err := json.Unmarshal(itemsJSON, &tx.Items); err != nil {
		return domain.Transaction{}, err
	}
	if len(paymentsJSON) > 0 {
		if err := json.Unmarshal(paymentsJSON, &tx.Payments); err != nil {
			return domain.Transaction{}, err
		}
	}
	if paidAt.Valid {
		t := paidAt.Time.UTC()
		tx.PaidAt = &t
	}
	tx.CreatedAt = tx.CreatedAt.UTC()
	return tx, nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+transactionColumns+` FROM transactions WHERE id = $1
	`, id)
	tx, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &tx, nil
}

func (s *Store) ListTransactions(ctx context.Context, status string, from time.Time, to time.Time, limit int) ([]domain.Transaction, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE ($1 = '' OR status = $1)
		  AND ($2::timestamptz IS NULL OR created_at >= $2)
		  AND ($3::timestamptz IS NULL OR created_at < $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`, status, nullIfZeroTime(from), nullIfZeroTime(to), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transactions := make([]domain.Transaction, 0, limit)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return transactions, nil
}

func (s *Store) PayTransaction(ctx context.Context, id string, payments []domain.Payment, at time.Time) (*domain.Transaction, error) {
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

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	row := pgTx.QueryRowContext(ctx, `
		SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE
	`, id)
	tx, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if tx.Status == domain.TxStatusPaid {
		return nil, fmt.Errorf("%w: transaction %s already paid", store.ErrStateConflict, tx.TransactionNumber)
	}
	if received.LessThan(tx.Total) {
		return nil, fmt.Errorf("%w: received %s below total %s", store.ErrValidation, received, tx.Total)
	}

	at = at.UTC()
	if err := deductForSale(ctx, pgTx, &tx, at); err != nil {
		return nil, err
	}

	tx.Status = domain.TxStatusPaid
	tx.Payments = append([]domain.Payment(nil), payments...)
	tx.PaidAt = &at

	paymentsJSON, err := json.Marshal(tx.Payments)
	if err != nil {
		return nil, err
	}
	_, err = pgTx.ExecContext(ctx, `
		UPDATE transactions SET status = $2, payments = $3, paid_at = $4 WHERE id = $1
	`, id, tx.Status, paymentsJSON, at)
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return &tx, nil
}

const shiftColumns = `id, opened_by, opening_balance, status, opened_at, closed_at, actual_cash, closing_balance, variance, total_transactions, total_sales, total_cash, total_non_cash`

func scanShift(row interface{ Scan(...any) error }) (domain.CashierShift, error) {
	var shift domain.CashierShift
	var closedAt sql.NullTime
	err := row.Scan(&shift.ID, &shift.OpenedBy, &shift.OpeningBalance, &shift.Status, &shift.OpenedAt, &closedAt, &shift.ActualCash, &shift.ClosingBalance, &shift.Variance, &shift.Stats.TotalTransactions, &shift.Stats.TotalSales, &shift.Stats.TotalCash, &shift.Stats.TotalNonCash)
	if err != nil {
		return domain.CashierShift{}, err
	}
	if closedAt.Valid {
		t := closedAt.Time.UTC()
		shift.ClosedAt = &t
	}
	shift.OpenedAt = shift.OpenedAt.UTC()
	return shift, nil
}

func (s *Store) OpenShift(ctx context.Context, shift domain.CashierShift) (*domain.CashierShift, error) {
	if shift.OpenedBy == "" {
		return nil, fmt.Errorf("%w: opened_by is required", store.ErrValidation)
	}
	if shift.OpeningBalance.IsNegative() {
		return nil, fmt.Errorf("%w: opening balance cannot be negative", store.ErrValidation)
	}

	if shift.ID == "" {
		shift.ID = xid.New("shf")
	}
	if shift.OpenedAt.IsZero() {
		shift.OpenedAt = time.Now().UTC()
	}
	shift.Status = domain.ShiftStatusOpen
	shift.ClosedAt = nil

	// A partial unique index on (opened_by) WHERE status = 'open' rejects a
	// second open shift for the same cashier.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cashier_shifts (id, opened_by, opening_balance, status, opened_at)
		VALUES ($1,$2,$3,$4,$5)
	`, shift.ID, shift.OpenedBy, shift.OpeningBalance, shift.Status, shift.OpenedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: shift still open for %s", store.ErrStateConflict, shift.OpenedBy)
		}
		return nil, err
	}

	created := shift
	return &created, nil
}

func (s *Store) GetShift(ctx context.Context, id string) (*domain.CashierShift, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+shiftColumns+` FROM cashier_shifts WHERE id = $1
	`, id)
	shift, err := scanShift(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &shift, nil
}

func (s *Store) GetOpenShiftByUser(ctx context.Context, username string) (*domain.CashierShift, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+shiftColumns+`
		FROM cashier_shifts
		WHERE opened_by = $1 AND status = $2
	`, username, domain.ShiftStatusOpen)
	shift, err := scanShift(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &shift, nil
}

func (s *Store) ListShifts(ctx context.Context, limit int) ([]domain.CashierShift, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+shiftColumns+`
		FROM cashier_shifts
		ORDER BY opened_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	shifts := make([]domain.CashierShift, 0, limit)
	for rows.Next() {
		shift, err := scanShift(rows)
		if err != nil {
			return nil, err
		}
		shifts = append(shifts, shift)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return shifts, nil
}

func (s *Store) CloseShift(ctx context.Context, id string, actualCash decimal.Decimal, closedAt time.Time) (*domain.CashierShift, error) {
	if actualCash.IsNegative() {
		return nil, fmt.Errorf("%w: counted cash cannot be negative", store.ErrValidation)
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	row := pgTx.QueryRowContext(ctx, `
		SELECT `+shiftColumns+` FROM cashier_shifts WHERE id = $1 FOR UPDATE
	`, id)
	shift, err := scanShift(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if shift.Status != domain.ShiftStatusOpen {
		return nil, fmt.Errorf("%w: shift %s is not open", store.ErrStateConflict, id)
	}

	closedAt = closedAt.UTC()
	rows, err := pgTx.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE status = $1 AND created_by = $2 AND created_at >= $3 AND created_at < $4
	`, domain.TxStatusPaid, shift.OpenedBy, shift.OpenedAt, closedAt)
	if err != nil {
		return nil, err
	}
	transactions := make([]domain.Transaction, 0, 16)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	shift.Stats = ledger.ShiftTotals(transactions)
	shift.ClosingBalance = ledger.ClosingBalance(shift.OpeningBalance, shift.Stats)
	shift.Variance = ledger.Variance(actualCash, shift.ClosingBalance)
	shift.ActualCash = actualCash
	shift.Status = domain.ShiftStatusClosed
	shift.ClosedAt = &closedAt

	_, err = pgTx.ExecContext(ctx, `
		UPDATE cashier_shifts
		SET status = $2, closed_at = $3, actual_cash = $4, closing_balance = $5, variance = $6,
		    total_transactions = $7, total_sales = $8, total_cash = $9, total_non_cash = $10
		WHERE id = $1
	`, id, shift.Status, closedAt, shift.ActualCash, shift.ClosingBalance, shift.Variance,
		shift.Stats.TotalTransactions, shift.Stats.TotalSales, shift.Stats.TotalCash, shift.Stats.TotalNonCash)
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return &shift, nil
}

func (s *Store) ListStockMovements(ctx context.Context, filter domain.MovementFilter, limit int) ([]domain.StockMovement, error) {
	query := `
		SELECT id, product_id, type, qty, previous_stock, new_stock, unit_cost, total_value, COALESCE(reference_id, ''), COALESCE(reference_type, ''), actor, created_at
		FROM stock_movements
		WHERE ($1 = '' OR product_id = $1)
		  AND ($2 = '' OR type = $2)
		  AND ($3::timestamptz IS NULL OR created_at >= $3)
		  AND ($4::timestamptz IS NULL OR created_at < $4)
		ORDER BY created_at DESC, type ASC, id DESC
	`
	args := []any{filter.ProductID, filter.Type, nullTime(filter.From), nullTime(filter.To)}
	if limit > 0 {
		query += ` LIMIT $5`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := make([]domain.StockMovement, 0, 128)
	for rows.Next() {
		var m domain.StockMovement
		if err := rows.Scan(&m.ID, &m.ProductID, &m.Type, &m.Qty, &m.PreviousStock, &m.NewStock, &m.UnitCost, &m.TotalValue, &m.ReferenceID, &m.ReferenceType, &m.Actor, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.CreatedAt = m.CreatedAt.UTC()
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return movements, nil
}

func (s *Store) GetSalesReport(ctx context.Context, from time.Time, to time.Time) (domain.SalesReport, error) {
	report := domain.SalesReport{
		From:       from.UTC().Format(time.RFC3339),
		To:         to.UTC().Format(time.RFC3339),
		GrossSales: decimal.Zero,
		Discount:   decimal.Zero,
		NetSales:   decimal.Zero,
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT subtotal, discount, total, payments
		FROM transactions
		WHERE status = $1 AND created_at >= $2 AND created_at < $3
	`, domain.TxStatusPaid, from.UTC(), to.UTC())
	if err != nil {
		return domain.SalesReport{}, err
	}
	defer rows.Close()

	byMethod := map[string]*domain.SalesReportPayment{}
	for rows.Next() {
		var subtotal, discount, total decimal.Decimal
		var paymentsJSON []byte
		if err := rows.Scan(&subtotal, &discount, &total, &paymentsJSON); err != nil {
			return domain.SalesReport{}, err
		}
		var payments []domain.Payment
		if len(paymentsJSON) > 0 {
			if err := json.Unmarshal(paymentsJSON, &payments); err != nil {
				return domain.SalesReport{}, err
			}
		}

		report.Transactions++
		report.GrossSales = report.GrossSales.Add(subtotal)
		report.Discount = report.Discount.Add(discount)
		report.NetSales = report.NetSales.Add(total)
		for _, p := range payments {
			entry, ok := byMethod[p.Method]
			if !ok {
				entry = &domain.SalesReportPayment{Method: p.Method, Total: decimal.Zero}
				byMethod[p.Method] = entry
			}
			entry.Count++
			entry.Total = entry.Total.Add(p.Amount)
		}
	}
	if err := rows.Err(); err != nil {
		return domain.SalesReport{}, err
	}

	methods := make([]string, 0, len(byMethod))
	for method := range byMethod {
		methods = append(methods, method)
	}
	sort.Strings(methods)
	for _, method := range methods {
		report.ByPayment = append(report.ByPayment, *byMethod[method])
	}
	return report, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("aud")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE ($1::timestamptz IS NULL OR created_at >= $1)
		  AND ($2::timestamptz IS NULL OR created_at < $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, nullIfZeroTime(from), nullIfZeroTime(to), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return fmt.Errorf("%w: username and password are required", store.ErrValidation)
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: username %s taken", store.ErrStateConflict, user.Username)
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return val.UTC()
}

func nullIfZeroTime(val time.Time) any {
	if val.IsZero() {
		return nil
	}
	return val.UTC()
}
