package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"warungpos/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrStateConflict     = errors.New("state conflict")
	ErrInsufficientStock = errors.New("insufficient stock")
)

// Repository is the persistence boundary. Composite operations (invoice
// creation, transaction payment, opname, waste, return) apply their stock
// and cost effects plus the matching stock movements in a single commit.
type Repository interface {
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	SoftDeleteProduct(ctx context.Context, id string, at time.Time) error
	// GetProductsByIDs includes soft-deleted rows so historical references
	// still resolve.
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)

	CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error)
	GetSupplier(ctx context.Context, id string) (*domain.Supplier, error)
	ListSuppliers(ctx context.Context) ([]domain.Supplier, error)
	SoftDeleteSupplier(ctx context.Context, id string, at time.Time) error

	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	ListCustomers(ctx context.Context) ([]domain.Customer, error)
	SoftDeleteCustomer(ctx context.Context, id string, at time.Time) error

	CreateInvoice(ctx context.Context, invoice domain.Invoice) (*domain.Invoice, error)
	GetInvoice(ctx context.Context, id string) (*domain.Invoice, error)
	ListInvoices(ctx context.Context, supplierID string, limit int) ([]domain.Invoice, error)
	PayInvoice(ctx context.Context, id string, amount decimal.Decimal) (*domain.Invoice, error)

	CreateStockOpname(ctx context.Context, opname domain.StockOpname) (*domain.StockOpname, error)
	ListStockOpnames(ctx context.Context, limit int) ([]domain.StockOpname, error)
	CreateStockWaste(ctx context.Context, waste domain.StockWaste) (*domain.StockWaste, error)
	ListStockWastes(ctx context.Context, limit int) ([]domain.StockWaste, error)

	CreateStockReturn(ctx context.Context, ret domain.StockReturn) (*domain.StockReturn, error)
	GetStockReturn(ctx context.Context, id string) (*domain.StockReturn, error)
	ListStockReturns(ctx context.Context, limit int) ([]domain.StockReturn, error)
	ConfirmStockReturn(ctx context.Context, id string, amount decimal.Decimal, notes string, at time.Time) (*domain.StockReturn, error)

	CreateTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error)
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, status string, from time.Time, to time.Time, limit int) ([]domain.Transaction, error)
	PayTransaction(ctx context.Context, id string, payments []domain.Payment, at time.Time) (*domain.Transaction, error)

	OpenShift(ctx context.Context, shift domain.CashierShift) (*domain.CashierShift, error)
	GetShift(ctx context.Context, id string) (*domain.CashierShift, error)
	GetOpenShiftByUser(ctx context.Context, username string) (*domain.CashierShift, error)
	ListShifts(ctx context.Context, limit int) ([]domain.CashierShift, error)
	CloseShift(ctx context.Context, id string, actualCash decimal.Decimal, closedAt time.Time) (*domain.CashierShift, error)

	ListStockMovements(ctx context.Context, filter domain.MovementFilter, limit int) ([]domain.StockMovement, error)

	GetSalesReport(ctx context.Context, from time.Time, to time.Time) (domain.SalesReport, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
