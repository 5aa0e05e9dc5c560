package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"warungpos/internal/domain"
	"warungpos/internal/store"
	"warungpos/internal/store/memory"
)

func newTestService() *Service {
	return New(memory.NewSeeded(), nil, nil)
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "cashier", Role: "cashier"})
}

func TestCreateProductRequiresAdmin(t *testing.T) {
	svc := newTestService()

	_, err := svc.CreateProduct(cashierCtx(), domain.ProductCreateRequest{
		Code:  "PRD-099",
		Name:  "Kerupuk Udang",
		Type:  domain.ProductTypeFinishGoods,
		Price: decimal.NewFromInt(7000),
	})
	if err == nil {
		t.Fatalf("expected non-admin create product to fail")
	}
}

func TestCreateProductAdminSuccess(t *testing.T) {
	svc := newTestService()

	product, err := svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{
		Code:         "PRD-050",
		Name:         "Biskuit Coklat",
		Category:     "snack",
		Type:         domain.ProductTypeFinishGoods,
		Price:        decimal.NewFromInt(8500),
		Cost:         decimal.NewFromInt(6000),
		InitialStock: 40,
		Unit:         "pcs",
		MonitorStock: true,
		MinStock:     5,
	})
	if err != nil {
		t.Fatalf("create product failed: %v", err)
	}
	if product.CurrentStock != 40 {
		t.Fatalf("expected initial stock 40, got %d", product.CurrentStock)
	}

	products, err := svc.ListProducts(adminCtx())
	if err != nil {
		t.Fatalf("list products failed: %v", err)
	}
	found := false
	for _, item := range products {
		if item.Code == "PRD-050" {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("expected new product to be listed")
	}
}

func TestCreateInvoiceRecalculatesWeightedCost(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()

	_, err := svc.CreateInvoice(ctx, domain.InvoiceCreateRequest{
		InvoiceNumber: "INV-2025-001",
		SupplierID:    "sup-sumberrejeki",
		Items: []domain.InvoiceItemRequest{
			{ProductID: "prd-indomie", Qty: 40, UnitPrice: decimal.NewFromInt(3000)},
		},
		PaidAmount: decimal.NewFromInt(120000),
	})
	if err != nil {
		t.Fatalf("create invoice failed: %v", err)
	}

	product, err := svc.GetProduct(ctx, "prd-indomie")
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if product.CurrentStock != 160 {
		t.Fatalf("expected stock 160 after purchase, got %d", product.CurrentStock)
	}
	// (120*2800 + 40*3000) / 160
	if !product.Cost.Equal(decimal.NewFromInt(2850)) {
		t.Fatalf("expected weighted cost 2850, got %s", product.Cost)
	}
}

func TestRecipeSaleDeductsMaterials(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	_, err := svc.CreateTransaction(ctx, domain.TransactionCreateRequest{
		Items:  []domain.TransactionItemRequest{{ProductID: "prd-estehmanis", Qty: 2}},
		Status: domain.TxStatusPaid,
		Payments: []domain.Payment{
			{Method: domain.PaymentMethodCash, Amount: decimal.NewFromInt(10000)},
		},
	})
	if err != nil {
		t.Fatalf("recipe sale failed: %v", err)
	}

	gula, err := svc.GetProduct(ctx, "prd-gula")
	if err != nil {
		t.Fatalf("get material failed: %v", err)
	}
	if gula.CurrentStock != 176 {
		t.Fatalf("expected gula stock 176 after selling 2 drinks, got %d", gula.CurrentStock)
	}
	teh, err := svc.GetProduct(ctx, "prd-teh")
	if err != nil {
		t.Fatalf("get material failed: %v", err)
	}
	if teh.CurrentStock != 198 {
		t.Fatalf("expected teh stock 198, got %d", teh.CurrentStock)
	}
}

func TestRecipeAvailabilityLimitedByScarcestMaterial(t *testing.T) {
	svc := newTestService()

	availability, err := svc.RecipeAvailability(adminCtx(), "prd-estehmanis")
	if err != nil {
		t.Fatalf("availability failed: %v", err)
	}
	// gula: 180/2 = 90, teh: 200/1, esbatu: 300/1
	if availability.AvailableUnits != 90 {
		t.Fatalf("expected 90 units available, got %d", availability.AvailableUnits)
	}
	if availability.LimitedBy != "Gula Pasir" {
		t.Fatalf("expected gula to be the limiting material, got %s", availability.LimitedBy)
	}
}

func TestSavedTransactionDeductsOnlyOnPay(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	tx, err := svc.CreateTransaction(ctx, domain.TransactionCreateRequest{
		Items:  []domain.TransactionItemRequest{{ProductID: "prd-indomie", Qty: 2}},
		Status: domain.TxStatusSaved,
	})
	if err != nil {
		t.Fatalf("save transaction failed: %v", err)
	}

	product, _ := svc.GetProduct(ctx, "prd-indomie")
	if product.CurrentStock != 120 {
		t.Fatalf("expected stock untouched for saved transaction, got %d", product.CurrentStock)
	}

	paid, err := svc.PayTransaction(ctx, tx.ID, domain.TransactionPayRequest{
		Payments: []domain.Payment{{Method: domain.PaymentMethodCash, Amount: decimal.NewFromInt(7000)}},
	})
	if err != nil {
		t.Fatalf("pay transaction failed: %v", err)
	}
	if paid.Status != domain.TxStatusPaid {
		t.Fatalf("expected status paid, got %s", paid.Status)
	}

	product, _ = svc.GetProduct(ctx, "prd-indomie")
	if product.CurrentStock != 118 {
		t.Fatalf("expected stock 118 after payment, got %d", product.CurrentStock)
	}

	_, err = svc.PayTransaction(ctx, tx.ID, domain.TransactionPayRequest{
		Payments: []domain.Payment{{Method: domain.PaymentMethodCash, Amount: decimal.NewFromInt(7000)}},
	})
	if !errors.Is(err, store.ErrStateConflict) {
		t.Fatalf("expected ErrStateConflict on double pay, got %v", err)
	}
}

func TestPayTransactionRejectsShortPayment(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	tx, err := svc.CreateTransaction(ctx, domain.TransactionCreateRequest{
		Items:  []domain.TransactionItemRequest{{ProductID: "prd-indomie", Qty: 2}},
		Status: domain.TxStatusUnpaid,
	})
	if err != nil {
		t.Fatalf("create unpaid transaction failed: %v", err)
	}

	_, err = svc.PayTransaction(ctx, tx.ID, domain.TransactionPayRequest{
		Payments: []domain.Payment{{Method: domain.PaymentMethodCash, Amount: decimal.NewFromInt(1000)}},
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation for short payment, got %v", err)
	}
}

func TestSaleRejectedWhenStockShort(t *testing.T) {
	svc := newTestService()

	_, err := svc.CreateTransaction(cashierCtx(), domain.TransactionCreateRequest{
		Items:  []domain.TransactionItemRequest{{ProductID: "prd-indomie", Qty: 1000}},
		Status: domain.TxStatusPaid,
		Payments: []domain.Payment{
			{Method: domain.PaymentMethodCash, Amount: decimal.NewFromInt(3500000)},
		},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
}

func TestStockOpnameSetsStockAndVariance(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()

	opname, err := svc.CreateStockOpname(ctx, domain.StockOpnameRequest{
		Notes: "monthly count",
		Items: []domain.StockOpnameItemRequest{
			{ProductID: "prd-indomie", ActualStock: 100},
		},
	})
	if err != nil {
		t.Fatalf("opname failed: %v", err)
	}
	if len(opname.Items) != 1 {
		t.Fatalf("expected 1 opname item, got %d", len(opname.Items))
	}
	if opname.Items[0].SystemStock != 120 || opname.Items[0].Variance != -20 {
		t.Fatalf("expected system 120 variance -20, got %+v", opname.Items[0])
	}

	product, _ := svc.GetProduct(ctx, "prd-indomie")
	if product.CurrentStock != 100 {
		t.Fatalf("expected stock corrected to 100, got %d", product.CurrentStock)
	}
}

func TestStockWasteClampsAtZero(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()

	_, err := svc.CreateStockWaste(ctx, domain.StockWasteRequest{
		ProductID: "prd-esbatu",
		Qty:       500,
		Reason:    "melted overnight",
	})
	if err != nil {
		t.Fatalf("waste failed: %v", err)
	}

	product, _ := svc.GetProduct(ctx, "prd-esbatu")
	if product.CurrentStock != 0 {
		t.Fatalf("expected stock clamped to 0, got %d", product.CurrentStock)
	}
}

func TestReturnSessionFullFlow(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()

	invoice, err := svc.CreateInvoice(ctx, domain.InvoiceCreateRequest{
		InvoiceNumber: "INV-2025-RT1",
		SupplierID:    "sup-sumberrejeki",
		Items: []domain.InvoiceItemRequest{
			{ProductID: "prd-indomie", Qty: 10, UnitPrice: decimal.NewFromInt(3000)},
		},
	})
	if err != nil {
		t.Fatalf("create invoice failed: %v", err)
	}

	session := svc.NewReturnSession()

	if err := session.SelectInvoice(ctx, invoice.ID); !errors.Is(err, store.ErrStateConflict) {
		t.Fatalf("expected out-of-order step to fail with ErrStateConflict, got %v", err)
	}

	if err := session.SelectSupplier(ctx, "sup-sumberrejeki"); err != nil {
		t.Fatalf("select supplier failed: %v", err)
	}
	invoices, err := session.Invoices(ctx, 10)
	if err != nil {
		t.Fatalf("list invoices failed: %v", err)
	}
	if len(invoices) == 0 {
		t.Fatalf("expected supplier invoices to be listed")
	}
	if err := session.SelectInvoice(ctx, invoice.ID); err != nil {
		t.Fatalf("select invoice failed: %v", err)
	}
	if err := session.SelectProducts(ctx, []domain.StockReturnItemRequest{
		{ProductID: "prd-indomie", Qty: 9},
	}); err != nil {
		t.Fatalf("select products failed: %v", err)
	}

	ret, warnings, err := session.Commit(ctx, "")
	if err != nil {
		t.Fatalf("commit return failed: %v", err)
	}
	if !strings.HasPrefix(ret.ReturnNumber, "RT-") {
		t.Fatalf("expected RT- return number, got %s", ret.ReturnNumber)
	}
	if ret.Status != domain.ReturnStatusPending {
		t.Fatalf("expected pending return, got %s", ret.Status)
	}

	// 9 of 10 invoiced units is above the 80% ratio threshold.
	foundRatio := false
	for _, w := range warnings {
		if w.Code == "return_ratio_high" {
			foundRatio = true
		}
	}
	if !foundRatio {
		t.Fatalf("expected return_ratio_high warning, got %v", warnings)
	}

	confirmed, err := svc.ConfirmStockReturn(ctx, ret.ID, domain.StockReturnConfirmRequest{
		Amount: decimal.NewFromInt(20000),
		Notes:  "partial credit from supplier",
	})
	if err != nil {
		t.Fatalf("confirm return failed: %v", err)
	}
	if confirmed.Status != domain.ReturnStatusReconciled {
		t.Fatalf("expected reconciled return, got %s", confirmed.Status)
	}

	_, err = svc.ConfirmStockReturn(ctx, ret.ID, domain.StockReturnConfirmRequest{
		Amount: decimal.NewFromInt(1000),
	})
	if !errors.Is(err, store.ErrStateConflict) {
		t.Fatalf("expected double confirm to fail with ErrStateConflict, got %v", err)
	}
}

func TestReturnNumbersIncrementPerDay(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()

	invoice, err := svc.CreateInvoice(ctx, domain.InvoiceCreateRequest{
		InvoiceNumber: "INV-2025-SEQ",
		SupplierID:    "sup-sumberrejeki",
		Items: []domain.InvoiceItemRequest{
			{ProductID: "prd-indomie", Qty: 30, UnitPrice: decimal.NewFromInt(3000)},
		},
	})
	if err != nil {
		t.Fatalf("create invoice failed: %v", err)
	}

	day := time.Now().UTC().Format("20060102")
	for seq := 1; seq <= 3; seq++ {
		ret, _, err := svc.CreateStockReturn(ctx, domain.StockReturnCreateRequest{
			SupplierID: "sup-sumberrejeki",
			InvoiceID:  invoice.ID,
			Items:      []domain.StockReturnItemRequest{{ProductID: "prd-indomie", Qty: 1}},
		})
		if err != nil {
			t.Fatalf("return %d failed: %v", seq, err)
		}
		want := fmt.Sprintf("RT-%s-%03d", day, seq)
		if ret.ReturnNumber != want {
			t.Fatalf("expected return number %s, got %s", want, ret.ReturnNumber)
		}
	}
}

func TestReturnRejectsQtyAboveInvoice(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()

	invoice, err := svc.CreateInvoice(ctx, domain.InvoiceCreateRequest{
		InvoiceNumber: "INV-2025-RT2",
		SupplierID:    "sup-sumberrejeki",
		Items: []domain.InvoiceItemRequest{
			{ProductID: "prd-indomie", Qty: 5, UnitPrice: decimal.NewFromInt(3000)},
		},
	})
	if err != nil {
		t.Fatalf("create invoice failed: %v", err)
	}

	_, _, err = svc.CreateStockReturn(ctx, domain.StockReturnCreateRequest{
		SupplierID: "sup-sumberrejeki",
		InvoiceID:  invoice.ID,
		Items:      []domain.StockReturnItemRequest{{ProductID: "prd-indomie", Qty: 6}},
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation for over-invoice qty, got %v", err)
	}
}

func TestPayInvoiceMovesPaymentStatus(t *testing.T) {
	svc := newTestService()
	ctx := adminCtx()

	invoice, err := svc.CreateInvoice(ctx, domain.InvoiceCreateRequest{
		InvoiceNumber: "INV-2025-PAY",
		SupplierID:    "sup-berkahjaya",
		Items: []domain.InvoiceItemRequest{
			{ProductID: "prd-gula", Qty: 100, UnitPrice: decimal.NewFromInt(700)},
		},
	})
	if err != nil {
		t.Fatalf("create invoice failed: %v", err)
	}
	if invoice.PaymentStatus != domain.PaymentStatusUnpaid {
		t.Fatalf("expected unpaid invoice, got %s", invoice.PaymentStatus)
	}

	partial, err := svc.PayInvoice(ctx, invoice.ID, domain.InvoicePaymentRequest{Amount: decimal.NewFromInt(30000)})
	if err != nil {
		t.Fatalf("partial payment failed: %v", err)
	}
	if partial.PaymentStatus != domain.PaymentStatusPartial {
		t.Fatalf("expected partial status, got %s", partial.PaymentStatus)
	}

	settled, err := svc.PayInvoice(ctx, invoice.ID, domain.InvoicePaymentRequest{Amount: decimal.NewFromInt(40000)})
	if err != nil {
		t.Fatalf("settling payment failed: %v", err)
	}
	if settled.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("expected settled status, got %s", settled.PaymentStatus)
	}

	_, err = svc.PayInvoice(ctx, invoice.ID, domain.InvoicePaymentRequest{Amount: decimal.NewFromInt(1)})
	if !errors.Is(err, store.ErrStateConflict) {
		t.Fatalf("expected paying a settled invoice to conflict, got %v", err)
	}
}

func TestShiftLifecycleComputesVariance(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	shift, err := svc.OpenShift(ctx, domain.ShiftOpenRequest{OpeningBalance: decimal.NewFromInt(100000)})
	if err != nil {
		t.Fatalf("open shift failed: %v", err)
	}

	if _, err := svc.OpenShift(ctx, domain.ShiftOpenRequest{OpeningBalance: decimal.NewFromInt(5000)}); !errors.Is(err, store.ErrStateConflict) {
		t.Fatalf("expected second open shift to conflict, got %v", err)
	}

	_, err = svc.CreateTransaction(ctx, domain.TransactionCreateRequest{
		Items:  []domain.TransactionItemRequest{{ProductID: "prd-indomie", Qty: 2}},
		Status: domain.TxStatusPaid,
		Payments: []domain.Payment{
			{Method: domain.PaymentMethodCash, Amount: decimal.NewFromInt(7000)},
		},
	})
	if err != nil {
		t.Fatalf("sale during shift failed: %v", err)
	}

	closed, err := svc.CloseShift(ctx, shift.ID, domain.ShiftCloseRequest{ActualCash: decimal.NewFromInt(105000)})
	if err != nil {
		t.Fatalf("close shift failed: %v", err)
	}
	if closed.Stats.TotalTransactions != 1 {
		t.Fatalf("expected 1 transaction in shift, got %d", closed.Stats.TotalTransactions)
	}
	if !closed.ClosingBalance.Equal(decimal.NewFromInt(107000)) {
		t.Fatalf("expected closing balance 107000, got %s", closed.ClosingBalance)
	}
	if !closed.Variance.Equal(decimal.NewFromInt(-2000)) {
		t.Fatalf("expected variance -2000, got %s", closed.Variance)
	}
}

func TestCloseShiftRequiresOwnerOrAdmin(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	shift, err := svc.OpenShift(ctx, domain.ShiftOpenRequest{OpeningBalance: decimal.NewFromInt(50000)})
	if err != nil {
		t.Fatalf("open shift failed: %v", err)
	}

	otherCtx := WithActor(context.Background(), domain.Actor{Username: "kasirlain", Role: "cashier"})
	if _, err := svc.CloseShift(otherCtx, shift.ID, domain.ShiftCloseRequest{ActualCash: decimal.NewFromInt(50000)}); err == nil {
		t.Fatalf("expected foreign cashier close to be rejected")
	}

	if _, err := svc.CloseShift(adminCtx(), shift.ID, domain.ShiftCloseRequest{ActualCash: decimal.NewFromInt(50000)}); err != nil {
		t.Fatalf("expected admin close to succeed, got %v", err)
	}
}

func TestSalesReportAggregatesPayments(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	_, err := svc.CreateTransaction(ctx, domain.TransactionCreateRequest{
		Items:    []domain.TransactionItemRequest{{ProductID: "prd-indomie", Qty: 2}},
		Discount: decimal.NewFromInt(500),
		Status:   domain.TxStatusPaid,
		Payments: []domain.Payment{
			{Method: domain.PaymentMethodCash, Amount: decimal.NewFromInt(6500)},
		},
	})
	if err != nil {
		t.Fatalf("sale failed: %v", err)
	}

	report, err := svc.SalesReport(adminCtx(), "")
	if err != nil {
		t.Fatalf("sales report failed: %v", err)
	}
	if report.Transactions != 1 {
		t.Fatalf("expected 1 transaction, got %d", report.Transactions)
	}
	if !report.GrossSales.Equal(decimal.NewFromInt(7000)) {
		t.Fatalf("expected gross 7000, got %s", report.GrossSales)
	}
	if !report.NetSales.Equal(decimal.NewFromInt(6500)) {
		t.Fatalf("expected net 6500, got %s", report.NetSales)
	}
	if len(report.ByPayment) != 1 || report.ByPayment[0].Method != domain.PaymentMethodCash {
		t.Fatalf("expected cash payment aggregation, got %+v", report.ByPayment)
	}
}
