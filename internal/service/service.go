package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"warungpos/internal/domain"
	"warungpos/internal/ledger"
	"warungpos/internal/notify"
	"warungpos/internal/store"
	"warungpos/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Warning thresholds for stock return consistency checks.
var (
	returnRatioThreshold = decimal.NewFromFloat(0.8)
	highValueThreshold   = decimal.NewFromInt(1_000_000)
)

const staleInvoiceAge = 90 * 24 * time.Hour

type Service struct {
	repo     store.Repository
	notifier notify.Notifier
	log      *logrus.Logger
}

func New(repo store.Repository, notifier notify.Notifier, log *logrus.Logger) *Service {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	if log == nil {
		log = logrus.New()
	}

	return &Service{
		repo:     repo,
		notifier: notifier,
		log:      log,
	}
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	req.Code = strings.ToUpper(strings.TrimSpace(req.Code))
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)

	if req.Code == "" || req.Name == "" {
		return domain.Product{}, fmt.Errorf("%w: code and name are required", store.ErrValidation)
	}
	if req.Price.IsNegative() || req.Cost.IsNegative() || req.InitialStock < 0 || req.MinStock < 0 {
		return domain.Product{}, fmt.Errorf("%w: negative price, cost or stock", store.ErrValidation)
	}
	switch req.Type {
	case domain.ProductTypeFinishGoods, domain.ProductTypeRawMaterial:
	case domain.ProductTypeRecipeGoods:
		if len(req.Recipe) == 0 {
			return domain.Product{}, fmt.Errorf("%w: recipe products need at least one material", store.ErrValidation)
		}
	default:
		return domain.Product{}, fmt.Errorf("%w: unknown product type %q", store.ErrValidation, req.Type)
	}
	for _, item := range req.Recipe {
		if item.Qty < 1 {
			return domain.Product{}, fmt.Errorf("%w: recipe qty must be positive", store.ErrValidation)
		}
		material, err := s.repo.GetProduct(ctx, item.MaterialID)
		if err != nil {
			return domain.Product{}, fmt.Errorf("recipe material %s: %w", item.MaterialID, err)
		}
		if material.Type != domain.ProductTypeRawMaterial {
			return domain.Product{}, fmt.Errorf("%w: recipe material %s is not a raw material", store.ErrValidation, material.Name)
		}
	}

	product := domain.Product{
		Code:         req.Code,
		Name:         req.Name,
		Category:     req.Category,
		Type:         req.Type,
		Price:        req.Price,
		Cost:         req.Cost,
		CurrentStock: req.InitialStock,
		Unit:         req.Unit,
		MonitorStock: req.MonitorStock,
		MinStock:     req.MinStock,
		Recipe:       req.Recipe,
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_create", "product", created.ID, fmt.Sprintf("code=%s,type=%s,stock=%d", created.Code, created.Type, created.CurrentStock))
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	existing, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, fmt.Errorf("%w: name cannot be empty", store.ErrValidation)
		}
		updated.Name = name
	}
	if req.Category != nil {
		updated.Category = strings.TrimSpace(*req.Category)
	}
	if req.Price != nil {
		if req.Price.IsNegative() {
			return domain.Product{}, fmt.Errorf("%w: price cannot be negative", store.ErrValidation)
		}
		updated.Price = *req.Price
	}
	if req.MonitorStock != nil {
		updated.MonitorStock = *req.MonitorStock
	}
	if req.MinStock != nil {
		if *req.MinStock < 0 {
			return domain.Product{}, fmt.Errorf("%w: min stock cannot be negative", store.ErrValidation)
		}
		updated.MinStock = *req.MinStock
	}
	if req.Recipe != nil {
		if updated.Type != domain.ProductTypeRecipeGoods {
			return domain.Product{}, fmt.Errorf("%w: only recipe products carry a recipe", store.ErrValidation)
		}
		if len(*req.Recipe) == 0 {
			return domain.Product{}, fmt.Errorf("%w: recipe products need at least one material", store.ErrValidation)
		}
		for _, item := range *req.Recipe {
			if item.Qty < 1 {
				return domain.Product{}, fmt.Errorf("%w: recipe qty must be positive", store.ErrValidation)
			}
			if _, err := s.repo.GetProduct(ctx, item.MaterialID); err != nil {
				return domain.Product{}, fmt.Errorf("recipe material %s: %w", item.MaterialID, err)
			}
		}
		updated.Recipe = *req.Recipe
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_update", "product", saved.ID, fmt.Sprintf("name=%s,price=%s", saved.Name, saved.Price))
	return *saved, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return fmt.Errorf("admin role required")
	}
	if err := s.repo.SoftDeleteProduct(ctx, id, time.Now().UTC()); err != nil {
		return err
	}
	s.logAudit(ctx, "product_delete", "product", id, "")
	return nil
}

// RecipeAvailability reports how many units of a recipe product can be made
// from current material stock. Missing materials fail closed to zero.
func (s *Service) RecipeAvailability(ctx context.Context, productID string) (domain.RecipeAvailability, error) {
	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return domain.RecipeAvailability{}, err
	}
	if product.Type != domain.ProductTypeRecipeGoods {
		return domain.RecipeAvailability{}, fmt.Errorf("%w: %s is not a recipe product", store.ErrValidation, product.Name)
	}

	ids := make([]string, 0, len(product.Recipe))
	for _, item := range product.Recipe {
		ids = append(ids, item.MaterialID)
	}
	materials, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return domain.RecipeAvailability{}, err
	}

	stocks := make(map[string]int, len(materials))
	for id, m := range materials {
		if m.DeletedAt != nil {
			continue
		}
		stocks[id] = m.CurrentStock
	}
	units, limitedBy := ledger.RecipeUnits(product.Recipe, stocks)

	availability := domain.RecipeAvailability{
		ProductID:      product.ID,
		ProductName:    product.Name,
		AvailableUnits: units,
	}
	if material, ok := materials[limitedBy]; ok {
		availability.LimitedBy = material.Name
	} else if limitedBy != "" {
		availability.LimitedBy = limitedBy
	}
	return availability, nil
}

func (s *Service) CreateSupplier(ctx context.Context, req domain.SupplierCreateRequest) (domain.Supplier, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Supplier{}, fmt.Errorf("%w: supplier name is required", store.ErrValidation)
	}

	created, err := s.repo.CreateSupplier(ctx, domain.Supplier{
		Name:    req.Name,
		Phone:   strings.TrimSpace(req.Phone),
		Address: strings.TrimSpace(req.Address),
	})
	if err != nil {
		return domain.Supplier{}, err
	}
	s.logAudit(ctx, "supplier_create", "supplier", created.ID, fmt.Sprintf("name=%s", created.Name))
	return *created, nil
}

func (s *Service) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	return s.repo.ListSuppliers(ctx)
}

func (s *Service) DeleteSupplier(ctx context.Context, id string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return fmt.Errorf("admin role required")
	}
	if err := s.repo.SoftDeleteSupplier(ctx, id, time.Now().UTC()); err != nil {
		return err
	}
	s.logAudit(ctx, "supplier_delete", "supplier", id, "")
	return nil
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Customer{}, fmt.Errorf("%w: customer name is required", store.ErrValidation)
	}

	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		Name:    req.Name,
		Phone:   strings.TrimSpace(req.Phone),
		Address: strings.TrimSpace(req.Address),
	})
	if err != nil {
		return domain.Customer{}, err
	}
	s.logAudit(ctx, "customer_create", "customer", created.ID, fmt.Sprintf("name=%s", created.Name))
	return *created, nil
}

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx)
}

func (s *Service) DeleteCustomer(ctx context.Context, id string) error {
	if err := s.repo.SoftDeleteCustomer(ctx, id, time.Now().UTC()); err != nil {
		return err
	}
	s.logAudit(ctx, "customer_delete", "customer", id, "")
	return nil
}

func (s *Service) CreateInvoice(ctx context.Context, req domain.InvoiceCreateRequest) (domain.Invoice, error) {
	actor := s.actor(ctx)

	req.InvoiceNumber = strings.TrimSpace(req.InvoiceNumber)
	if req.InvoiceNumber == "" {
		return domain.Invoice{}, fmt.Errorf("%w: invoice number is required", store.ErrValidation)
	}
	if len(req.Items) == 0 {
		return domain.Invoice{}, fmt.Errorf("%w: invoice needs at least one item", store.ErrValidation)
	}
	if req.PaidAmount.IsNegative() {
		return domain.Invoice{}, fmt.Errorf("%w: paid amount cannot be negative", store.ErrValidation)
	}
	if _, err := s.repo.GetSupplier(ctx, req.SupplierID); err != nil {
		return domain.Invoice{}, fmt.Errorf("supplier %s: %w", req.SupplierID, err)
	}

	total := decimal.Zero
	items := make([]domain.InvoiceItem, 0, len(req.Items))
	for _, item := range req.Items {
		if item.Qty < 1 {
			return domain.Invoice{}, fmt.Errorf("%w: item qty must be positive", store.ErrValidation)
		}
		if item.UnitPrice.IsNegative() {
			return domain.Invoice{}, fmt.Errorf("%w: unit price cannot be negative", store.ErrValidation)
		}
		product, err := s.repo.GetProduct(ctx, item.ProductID)
		if err != nil {
			return domain.Invoice{}, fmt.Errorf("product %s: %w", item.ProductID, err)
		}
		lineTotal := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Qty)))
		items = append(items, domain.InvoiceItem{
			ProductID:   product.ID,
			ProductName: product.Name,
			Qty:         item.Qty,
			UnitPrice:   item.UnitPrice,
			Total:       lineTotal,
		})
		total = total.Add(lineTotal)
	}

	invoice := domain.Invoice{
		InvoiceNumber: req.InvoiceNumber,
		SupplierID:    req.SupplierID,
		Items:         items,
		Total:         total,
		PaidAmount:    req.PaidAmount,
		CreatedBy:     actor.Username,
	}
	if shift, err := s.repo.GetOpenShiftByUser(ctx, actor.Username); err == nil {
		invoice.ShiftID = shift.ID
	}

	created, err := s.repo.CreateInvoice(ctx, invoice)
	if err != nil {
		return domain.Invoice{}, err
	}

	s.logAudit(ctx, "invoice_create", "invoice", created.ID, fmt.Sprintf("number=%s,total=%s", created.InvoiceNumber, created.Total))
	return *created, nil
}

func (s *Service) GetInvoice(ctx context.Context, id string) (domain.Invoice, error) {
	invoice, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return domain.Invoice{}, err
	}
	return *invoice, nil
}

func (s *Service) ListInvoices(ctx context.Context, supplierID string, limit int) ([]domain.Invoice, error) {
	if limit < 1 {
		limit = 50
	}
	return s.repo.ListInvoices(ctx, supplierID, limit)
}

func (s *Service) PayInvoice(ctx context.Context, id string, req domain.InvoicePaymentRequest) (domain.Invoice, error) {
	if !req.Amount.GreaterThan(decimal.Zero) {
		return domain.Invoice{}, fmt.Errorf("%w: payment amount must be positive", store.ErrValidation)
	}
	updated, err := s.repo.PayInvoice(ctx, id, req.Amount)
	if err != nil {
		return domain.Invoice{}, err
	}
	s.logAudit(ctx, "invoice_pay", "invoice", updated.ID, fmt.Sprintf("amount=%s,status=%s", req.Amount, updated.PaymentStatus))
	return *updated, nil
}

func (s *Service) CreateStockOpname(ctx context.Context, req domain.StockOpnameRequest) (domain.StockOpname, error) {
	actor := s.actor(ctx)

	if len(req.Items) == 0 {
		return domain.StockOpname{}, fmt.Errorf("%w: opname needs at least one item", store.ErrValidation)
	}
	seen := map[string]bool{}
	items := make([]domain.StockOpnameItem, 0, len(req.Items))
	for _, item := range req.Items {
		if item.ActualStock < 0 {
			return domain.StockOpname{}, fmt.Errorf("%w: counted stock cannot be negative", store.ErrValidation)
		}
		if seen[item.ProductID] {
			return domain.StockOpname{}, fmt.Errorf("%w: duplicate product %s", store.ErrValidation, item.ProductID)
		}
		seen[item.ProductID] = true
		items = append(items, domain.StockOpnameItem{ProductID: item.ProductID, ActualStock: item.ActualStock})
	}

	created, err := s.repo.CreateStockOpname(ctx, domain.StockOpname{
		Notes:     strings.TrimSpace(req.Notes),
		Items:     items,
		CreatedBy: actor.Username,
	})
	if err != nil {
		return domain.StockOpname{}, err
	}

	s.logAudit(ctx, "stock_opname", "stock_opname", created.ID, fmt.Sprintf("items=%d", len(created.Items)))
	s.checkLowStock(ctx, productIDsFromOpname(created.Items))
	return *created, nil
}

func (s *Service) ListStockOpnames(ctx context.Context, limit int) ([]domain.StockOpname, error) {
	if limit < 1 {
		limit = 50
	}
	return s.repo.ListStockOpnames(ctx, limit)
}

func (s *Service) CreateStockWaste(ctx context.Context, req domain.StockWasteRequest) (domain.StockWaste, error) {
	actor := s.actor(ctx)

	if req.Qty < 1 {
		return domain.StockWaste{}, fmt.Errorf("%w: waste qty must be positive", store.ErrValidation)
	}
	if strings.TrimSpace(req.Reason) == "" {
		return domain.StockWaste{}, fmt.Errorf("%w: waste reason is required", store.ErrValidation)
	}

	created, err := s.repo.CreateStockWaste(ctx, domain.StockWaste{
		ProductID: req.ProductID,
		Qty:       req.Qty,
		Reason:    strings.TrimSpace(req.Reason),
		CreatedBy: actor.Username,
	})
	if err != nil {
		return domain.StockWaste{}, err
	}

	s.logAudit(ctx, "stock_waste", "stock_waste", created.ID, fmt.Sprintf("product=%s,qty=%d", created.ProductID, created.Qty))
	s.checkLowStock(ctx, []string{created.ProductID})
	return *created, nil
}

func (s *Service) ListStockWastes(ctx context.Context, limit int) ([]domain.StockWaste, error) {
	if limit < 1 {
		limit = 50
	}
	return s.repo.ListStockWastes(ctx, limit)
}

// CreateStockReturn validates the return against the source invoice, commits
// it together with its ledger effects, and reports non-fatal consistency
// warnings alongside the result.
func (s *Service) CreateStockReturn(ctx context.Context, req domain.StockReturnCreateRequest) (domain.StockReturn, []domain.Warning, error) {
	actor := s.actor(ctx)

	if _, err := s.repo.GetSupplier(ctx, req.SupplierID); err != nil {
		return domain.StockReturn{}, nil, fmt.Errorf("supplier %s: %w", req.SupplierID, err)
	}
	invoice, err := s.repo.GetInvoice(ctx, req.InvoiceID)
	if err != nil {
		return domain.StockReturn{}, nil, fmt.Errorf("invoice %s: %w", req.InvoiceID, err)
	}
	if invoice.SupplierID != req.SupplierID {
		return domain.StockReturn{}, nil, fmt.Errorf("%w: invoice %s belongs to another supplier", store.ErrValidation, invoice.InvoiceNumber)
	}

	items, totalValue, err := buildReturnItems(req.Items, *invoice)
	if err != nil {
		return domain.StockReturn{}, nil, err
	}

	notes := strings.TrimSpace(req.Notes)
	warnings := returnWarnings(*invoice, totalValue, notes, time.Now().UTC())

	created, err := s.repo.CreateStockReturn(ctx, domain.StockReturn{
		SupplierID: req.SupplierID,
		InvoiceID:  req.InvoiceID,
		Items:      items,
		TotalValue: totalValue,
		Notes:      notes,
		CreatedBy:  actor.Username,
	})
	if err != nil {
		return domain.StockReturn{}, nil, err
	}

	s.logAudit(ctx, "stock_return_create", "stock_return", created.ID, fmt.Sprintf("number=%s,value=%s", created.ReturnNumber, created.TotalValue))
	ids := make([]string, 0, len(created.Items))
	for _, item := range created.Items {
		ids = append(ids, item.ProductID)
	}
	s.checkLowStock(ctx, ids)
	return *created, warnings, nil
}

// buildReturnItems checks every requested line against the invoice: the
// product must appear on it, quantities stay within what was bought, and
// duplicates are rejected. Prices are snapshotted from the invoice.
func buildReturnItems(reqItems []domain.StockReturnItemRequest, invoice domain.Invoice) ([]domain.StockReturnItem, decimal.Decimal, error) {
	if len(reqItems) == 0 {
		return nil, decimal.Zero, fmt.Errorf("%w: return needs at least one item", store.ErrValidation)
	}

	invoiced := make(map[string]domain.InvoiceItem, len(invoice.Items))
	for _, item := range invoice.Items {
		invoiced[item.ProductID] = item
	}

	seen := map[string]bool{}
	items := make([]domain.StockReturnItem, 0, len(reqItems))
	total := decimal.Zero
	for _, item := range reqItems {
		if item.Qty < 1 {
			return nil, decimal.Zero, fmt.Errorf("%w: return qty must be positive", store.ErrValidation)
		}
		if seen[item.ProductID] {
			return nil, decimal.Zero, fmt.Errorf("%w: duplicate product %s", store.ErrValidation, item.ProductID)
		}
		seen[item.ProductID] = true
		source, ok := invoiced[item.ProductID]
		if !ok {
			return nil, decimal.Zero, fmt.Errorf("%w: product %s is not on invoice %s", store.ErrValidation, item.ProductID, invoice.InvoiceNumber)
		}
		if item.Qty > source.Qty {
			return nil, decimal.Zero, fmt.Errorf("%w: return qty %d exceeds invoiced qty %d for %s", store.ErrValidation, item.Qty, source.Qty, source.ProductName)
		}
		lineTotal := source.UnitPrice.Mul(decimal.NewFromInt(int64(item.Qty)))
		items = append(items, domain.StockReturnItem{
			ProductID:   item.ProductID,
			ProductName: source.ProductName,
			Qty:         item.Qty,
			UnitPrice:   source.UnitPrice,
			Total:       lineTotal,
		})
		total = total.Add(lineTotal)
	}
	return items, total, nil
}

func returnWarnings(invoice domain.Invoice, totalValue decimal.Decimal, notes string, now time.Time) []domain.Warning {
	var warnings []domain.Warning
	if invoice.Total.GreaterThan(decimal.Zero) && totalValue.GreaterThan(invoice.Total.Mul(returnRatioThreshold)) {
		warnings = append(warnings, domain.Warning{
			Code:    "return_ratio_high",
			Message: fmt.Sprintf("return value %s exceeds 80%% of invoice %s total %s", totalValue, invoice.InvoiceNumber, invoice.Total),
		})
	}
	if now.Sub(invoice.CreatedAt) > staleInvoiceAge {
		warnings = append(warnings, domain.Warning{
			Code:    "invoice_stale",
			Message: fmt.Sprintf("invoice %s is older than 90 days", invoice.InvoiceNumber),
		})
	}
	if totalValue.GreaterThan(highValueThreshold) && notes == "" {
		warnings = append(warnings, domain.Warning{
			Code:    "high_value_without_notes",
			Message: fmt.Sprintf("high value return %s has no notes", totalValue),
		})
	}
	return warnings
}

func (s *Service) GetStockReturn(ctx context.Context, id string) (domain.StockReturn, error) {
	ret, err := s.repo.GetStockReturn(ctx, id)
	if err != nil {
		return domain.StockReturn{}, err
	}
	return *ret, nil
}

func (s *Service) ListStockReturns(ctx context.Context, limit int) ([]domain.StockReturn, error) {
	if limit < 1 {
		limit = 50
	}
	return s.repo.ListStockReturns(ctx, limit)
}

func (s *Service) ConfirmStockReturn(ctx context.Context, id string, req domain.StockReturnConfirmRequest) (domain.StockReturn, error) {
	if req.Amount.IsNegative() {
		return domain.StockReturn{}, fmt.Errorf("%w: confirmed amount cannot be negative", store.ErrValidation)
	}
	confirmed, err := s.repo.ConfirmStockReturn(ctx, id, req.Amount, strings.TrimSpace(req.Notes), time.Now().UTC())
	if err != nil {
		return domain.StockReturn{}, err
	}
	s.logAudit(ctx, "stock_return_confirm", "stock_return", confirmed.ID, fmt.Sprintf("number=%s,amount=%s", confirmed.ReturnNumber, confirmed.ConfirmedAmount))
	return *confirmed, nil
}

func (s *Service) CreateTransaction(ctx context.Context, req domain.TransactionCreateRequest) (domain.Transaction, error) {
	actor := s.actor(ctx)

	if len(req.Items) == 0 {
		return domain.Transaction{}, fmt.Errorf("%w: transaction needs at least one item", store.ErrValidation)
	}
	status := req.Status
	if status == "" {
		status = domain.TxStatusPaid
	}
	switch status {
	case domain.TxStatusPaid, domain.TxStatusUnpaid, domain.TxStatusSaved:
	default:
		return domain.Transaction{}, fmt.Errorf("%w: unknown transaction status %q", store.ErrValidation, status)
	}
	if req.CustomerID != "" {
		if _, err := s.repo.GetCustomer(ctx, req.CustomerID); err != nil {
			return domain.Transaction{}, fmt.Errorf("customer %s: %w", req.CustomerID, err)
		}
	}

	subtotal := decimal.Zero
	items := make([]domain.TransactionItem, 0, len(req.Items))
	for _, item := range req.Items {
		if item.Qty < 1 {
			return domain.Transaction{}, fmt.Errorf("%w: item qty must be positive", store.ErrValidation)
		}
		product, err := s.repo.GetProduct(ctx, item.ProductID)
		if err != nil {
			return domain.Transaction{}, fmt.Errorf("product %s: %w", item.ProductID, err)
		}
		lineTotal := product.Price.Mul(decimal.NewFromInt(int64(item.Qty)))
		items = append(items, domain.TransactionItem{
			ProductID:   product.ID,
			ProductName: product.Name,
			Qty:         item.Qty,
			UnitPrice:   product.Price,
			Total:       lineTotal,
		})
		subtotal = subtotal.Add(lineTotal)
	}

	if req.Discount.IsNegative() || req.Discount.GreaterThan(subtotal) {
		return domain.Transaction{}, fmt.Errorf("%w: discount outside subtotal range", store.ErrValidation)
	}
	total := subtotal.Sub(req.Discount)

	tx := domain.Transaction{
		CustomerID: req.CustomerID,
		Items:      items,
		Subtotal:   subtotal,
		Discount:   req.Discount,
		Total:      total,
		Status:     status,
		CreatedBy:  actor.Username,
	}

	if status == domain.TxStatusPaid {
		if _, err := validatePayments(req.Payments, total); err != nil {
			return domain.Transaction{}, err
		}
		tx.Payments = req.Payments
	}

	if shift, err := s.repo.GetOpenShiftByUser(ctx, actor.Username); err == nil {
		tx.ShiftID = shift.ID
	}

	created, err := s.repo.CreateTransaction(ctx, tx)
	if err != nil {
		s.notifyInsufficientStock(ctx, err)
		return domain.Transaction{}, err
	}

	s.logAudit(ctx, "transaction_create", "transaction", created.ID, fmt.Sprintf("number=%s,status=%s,total=%s", created.TransactionNumber, created.Status, created.Total))
	if created.Status == domain.TxStatusPaid {
		s.checkLowStock(ctx, s.saleProductIDs(ctx, created.Items))
	}
	return *created, nil
}

func (s *Service) GetTransaction(ctx context.Context, id string) (domain.Transaction, error) {
	tx, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	return *tx, nil
}

func (s *Service) ListTransactions(ctx context.Context, status string, date string, limit int) ([]domain.Transaction, error) {
	if limit < 1 {
		limit = 50
	}
	var from, to time.Time
	if date != "" {
		day, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid date %q", store.ErrValidation, date)
		}
		from = day.UTC()
		to = from.Add(24 * time.Hour)
	}
	return s.repo.ListTransactions(ctx, status, from, to, limit)
}

// PayTransaction settles an unpaid or saved transaction. Stock is deducted
// in the same commit, exactly once.
func (s *Service) PayTransaction(ctx context.Context, id string, req domain.TransactionPayRequest) (domain.Transaction, error) {
	existing, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	if existing.Status == domain.TxStatusPaid {
		return domain.Transaction{}, fmt.Errorf("%w: transaction %s already paid", store.ErrStateConflict, existing.TransactionNumber)
	}
	if _, err := validatePayments(req.Payments, existing.Total); err != nil {
		return domain.Transaction{}, err
	}

	paid, err := s.repo.PayTransaction(ctx, id, req.Payments, time.Now().UTC())
	if err != nil {
		s.notifyInsufficientStock(ctx, err)
		return domain.Transaction{}, err
	}

	s.logAudit(ctx, "transaction_pay", "transaction", paid.ID, fmt.Sprintf("number=%s,total=%s", paid.TransactionNumber, paid.Total))
	s.checkLowStock(ctx, s.saleProductIDs(ctx, paid.Items))
	return *paid, nil
}

func validatePayments(payments []domain.Payment, total decimal.Decimal) (decimal.Decimal, error) {
	if len(payments) == 0 {
		return decimal.Zero, fmt.Errorf("%w: at least one payment is required", store.ErrValidation)
	}
	received := decimal.Zero
	for _, p := range payments {
		if strings.TrimSpace(p.Method) == "" {
			return decimal.Zero, fmt.Errorf("%w: payment method is required", store.ErrValidation)
		}
		if !p.Amount.GreaterThan(decimal.Zero) {
			return decimal.Zero, fmt.Errorf("%w: payment amount must be positive", store.ErrValidation)
		}
		received = received.Add(p.Amount)
	}
	if received.LessThan(total) {
		return decimal.Zero, fmt.Errorf("%w: received %s below total %s", store.ErrValidation, received, total)
	}
	return received, nil
}

func (s *Service) OpenShift(ctx context.Context, req domain.ShiftOpenRequest) (domain.CashierShift, error) {
	actor := s.actor(ctx)

	if req.OpeningBalance.IsNegative() {
		return domain.CashierShift{}, fmt.Errorf("%w: opening balance cannot be negative", store.ErrValidation)
	}

	opened, err := s.repo.OpenShift(ctx, domain.CashierShift{
		OpenedBy:       actor.Username,
		OpeningBalance: req.OpeningBalance,
	})
	if err != nil {
		return domain.CashierShift{}, err
	}

	s.logAudit(ctx, "shift_open", "shift", opened.ID, fmt.Sprintf("opening_balance=%s", opened.OpeningBalance))
	return *opened, nil
}

func (s *Service) CloseShift(ctx context.Context, id string, req domain.ShiftCloseRequest) (domain.CashierShift, error) {
	actor := s.actor(ctx)

	if req.ActualCash.IsNegative() {
		return domain.CashierShift{}, fmt.Errorf("%w: counted cash cannot be negative", store.ErrValidation)
	}
	shift, err := s.repo.GetShift(ctx, id)
	if err != nil {
		return domain.CashierShift{}, err
	}
	if actor.Role != "admin" && actor.Username != shift.OpenedBy {
		return domain.CashierShift{}, fmt.Errorf("only the opening cashier or an admin can close a shift")
	}

	closed, err := s.repo.CloseShift(ctx, id, req.ActualCash, time.Now().UTC())
	if err != nil {
		return domain.CashierShift{}, err
	}

	s.logAudit(ctx, "shift_close", "shift", closed.ID, fmt.Sprintf("expected=%s,actual=%s,variance=%s", closed.ClosingBalance, closed.ActualCash, closed.Variance))
	return *closed, nil
}

// GetShift returns the shift with stats. Open shifts get their stats
// recomputed live from paid transactions; closed shifts keep the values
// fixed at close time.
func (s *Service) GetShift(ctx context.Context, id string) (domain.CashierShift, error) {
	shift, err := s.repo.GetShift(ctx, id)
	if err != nil {
		return domain.CashierShift{}, err
	}
	if shift.Status != domain.ShiftStatusOpen {
		return *shift, nil
	}

	transactions, err := s.repo.ListTransactions(ctx, domain.TxStatusPaid, shift.OpenedAt, time.Now().UTC(), 0)
	if err != nil {
		return domain.CashierShift{}, err
	}
	own := transactions[:0]
	for _, tx := range transactions {
		if tx.CreatedBy == shift.OpenedBy {
			own = append(own, tx)
		}
	}
	shift.Stats = ledger.ShiftTotals(own)
	shift.ClosingBalance = ledger.ClosingBalance(shift.OpeningBalance, shift.Stats)
	return *shift, nil
}

func (s *Service) ActiveShift(ctx context.Context) (domain.CashierShift, error) {
	actor := s.actor(ctx)
	shift, err := s.repo.GetOpenShiftByUser(ctx, actor.Username)
	if err != nil {
		return domain.CashierShift{}, err
	}
	return s.GetShift(ctx, shift.ID)
}

func (s *Service) ListShifts(ctx context.Context, limit int) ([]domain.CashierShift, error) {
	if limit < 1 {
		limit = 50
	}
	return s.repo.ListShifts(ctx, limit)
}

func (s *Service) SalesReport(ctx context.Context, date string) (domain.SalesReport, error) {
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	}
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return domain.SalesReport{}, fmt.Errorf("%w: invalid date %q", store.ErrValidation, date)
	}
	from := day.UTC()
	return s.repo.GetSalesReport(ctx, from, from.Add(24*time.Hour))
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	var from, to time.Time
	if date != "" {
		day, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid date %q", store.ErrValidation, date)
		}
		from = day.UTC()
		to = from.Add(24 * time.Hour)
	}
	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func (s *Service) actor(ctx context.Context) domain.Actor {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{Username: "system", Role: "system"}
	}
	return actor
}

// saleProductIDs expands sale items into the products whose counters moved,
// recipe materials included.
func (s *Service) saleProductIDs(ctx context.Context, items []domain.TransactionItem) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		s.log.WithError(err).Warn("resolve sale products for low stock check failed")
		return ids
	}
	demand := ledger.SaleDemand(items, products)
	expanded := make([]string, 0, len(demand))
	for id := range demand {
		expanded = append(expanded, id)
	}
	return expanded
}

func (s *Service) checkLowStock(ctx context.Context, productIDs []string) {
	if len(productIDs) == 0 {
		return
	}
	products, err := s.repo.GetProductsByIDs(ctx, productIDs)
	if err != nil {
		s.log.WithError(err).Warn("low stock check failed")
		return
	}
	for _, product := range products {
		if product.DeletedAt != nil || !product.MonitorStock {
			continue
		}
		if product.CurrentStock <= product.MinStock {
			s.notifier.Notify(ctx, notify.Event{
				Code:         notify.CodeLowStock,
				ProductID:    product.ID,
				ProductName:  product.Name,
				CurrentStock: product.CurrentStock,
				MinStock:     product.MinStock,
			})
		}
	}
}

func (s *Service) notifyInsufficientStock(ctx context.Context, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, store.ErrInsufficientStock) {
		s.notifier.Notify(ctx, notify.Event{
			Code:   notify.CodeInsufficientStock,
			Detail: err.Error(),
		})
	}
}

func productIDsFromOpname(items []domain.StockOpnameItem) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	return ids
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor := s.actor(ctx)

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"action": action,
			"entity": entityType + "/" + entityID,
		}).Warn("audit log write failed")
	}
}
