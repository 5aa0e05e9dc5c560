package ledger

import (
	"testing"

	"github.com/shopspring/decimal"

	"warungpos/internal/domain"
)

func d(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func TestPurchaseCostWeightedAverage(t *testing.T) {
	// 120 @2800 receiving 40 @3000 averages to 2850.
	got := PurchaseCost(120, d(2800), 40, d(3000))
	if !got.Equal(d(2850)) {
		t.Fatalf("expected 2850, got %s", got)
	}
}

func TestPurchaseCostFirstReceiptTakesIncomingPrice(t *testing.T) {
	if got := PurchaseCost(0, decimal.Zero, 10, d(1500)); !got.Equal(d(1500)) {
		t.Fatalf("expected incoming price 1500 on empty stock, got %s", got)
	}
	if got := PurchaseCost(50, decimal.Zero, 10, d(1500)); !got.Equal(d(1500)) {
		t.Fatalf("expected incoming price when prior cost is zero, got %s", got)
	}
}

func TestPurchaseCostIgnoresNonPositiveQty(t *testing.T) {
	if got := PurchaseCost(50, d(2000), 0, d(9999)); !got.Equal(d(2000)) {
		t.Fatalf("expected unchanged cost, got %s", got)
	}
}

func TestReturnCostSpreadsRemainingValue(t *testing.T) {
	// 160 @2850 returning 40 @3000 leaves 120 units worth 336000.
	got := ReturnCost(160, d(2850), 40, d(3000))
	if !got.Equal(d(2800)) {
		t.Fatalf("expected 2800, got %s", got)
	}
}

func TestReturnCostFullReturnResetsToZero(t *testing.T) {
	if got := ReturnCost(40, d(3000), 40, d(3000)); !got.IsZero() {
		t.Fatalf("expected zero cost after full return, got %s", got)
	}
	if got := ReturnCost(10, d(100), 5, d(5000)); !got.IsZero() {
		t.Fatalf("expected zero cost when value would go negative, got %s", got)
	}
}

func TestClampedDecrement(t *testing.T) {
	cases := []struct {
		stock, qty, wantApplied, wantStock int
	}{
		{10, 4, 4, 6},
		{10, 10, 10, 0},
		{10, 15, 10, 0},
		{10, 0, 0, 10},
		{10, -3, 0, 10},
	}
	for _, tc := range cases {
		applied, newStock := ClampedDecrement(tc.stock, tc.qty)
		if applied != tc.wantApplied || newStock != tc.wantStock {
			t.Fatalf("ClampedDecrement(%d, %d) = (%d, %d), want (%d, %d)",
				tc.stock, tc.qty, applied, newStock, tc.wantApplied, tc.wantStock)
		}
	}
}

func TestRecipeUnitsLimitedByScarcestMaterial(t *testing.T) {
	recipe := []domain.RecipeItem{
		{MaterialID: "gula", Qty: 2},
		{MaterialID: "teh", Qty: 1},
	}
	units, limitedBy := RecipeUnits(recipe, map[string]int{"gula": 180, "teh": 60})
	if units != 60 || limitedBy != "teh" {
		t.Fatalf("expected 60 units limited by teh, got %d limited by %s", units, limitedBy)
	}
}

func TestRecipeUnitsMissingMaterialYieldsZero(t *testing.T) {
	recipe := []domain.RecipeItem{{MaterialID: "gula", Qty: 2}}
	units, limitedBy := RecipeUnits(recipe, map[string]int{})
	if units != 0 || limitedBy != "gula" {
		t.Fatalf("expected 0 units limited by gula, got %d / %s", units, limitedBy)
	}
	if units, _ := RecipeUnits(nil, map[string]int{"gula": 10}); units != 0 {
		t.Fatalf("expected empty recipe to produce nothing, got %d", units)
	}
}

func TestSaleDemandExpandsRecipes(t *testing.T) {
	products := map[string]domain.Product{
		"esteh": {
			ID:   "esteh",
			Type: domain.ProductTypeRecipeGoods,
			Recipe: []domain.RecipeItem{
				{MaterialID: "gula", Qty: 2},
				{MaterialID: "teh", Qty: 1},
			},
		},
		"indomie": {ID: "indomie", Type: domain.ProductTypeFinishGoods},
	}
	items := []domain.TransactionItem{
		{ProductID: "esteh", Qty: 3},
		{ProductID: "indomie", Qty: 2},
	}
	demand := SaleDemand(items, products)
	if demand["gula"] != 6 || demand["teh"] != 3 || demand["indomie"] != 2 {
		t.Fatalf("unexpected demand: %v", demand)
	}
	if _, ok := demand["esteh"]; ok {
		t.Fatalf("recipe product itself must not carry a counter: %v", demand)
	}
}

func TestSaleDemandKeepsUnknownProducts(t *testing.T) {
	demand := SaleDemand([]domain.TransactionItem{{ProductID: "ghost", Qty: 1}}, nil)
	if demand["ghost"] != 1 {
		t.Fatalf("expected unknown product to stay in demand, got %v", demand)
	}
}

func TestShiftTotalsCountsOnlyPaid(t *testing.T) {
	transactions := []domain.Transaction{
		{
			Status: domain.TxStatusPaid,
			Total:  d(7000),
			Payments: []domain.Payment{
				{Method: domain.PaymentMethodCash, Amount: d(7000)},
			},
		},
		{
			Status: domain.TxStatusPaid,
			Total:  d(12000),
			Payments: []domain.Payment{
				{Method: domain.PaymentMethodCash, Amount: d(2000)},
				{Method: "qris", Amount: d(10000)},
			},
		},
		{Status: domain.TxStatusSaved, Total: d(99999)},
	}

	stats := ShiftTotals(transactions)
	if stats.TotalTransactions != 2 {
		t.Fatalf("expected 2 paid transactions, got %d", stats.TotalTransactions)
	}
	if !stats.TotalSales.Equal(d(19000)) {
		t.Fatalf("expected total sales 19000, got %s", stats.TotalSales)
	}
	if !stats.TotalCash.Equal(d(9000)) {
		t.Fatalf("expected cash 9000, got %s", stats.TotalCash)
	}
	if !stats.TotalNonCash.Equal(d(10000)) {
		t.Fatalf("expected non-cash 10000, got %s", stats.TotalNonCash)
	}
}

func TestClosingBalanceAndVariance(t *testing.T) {
	stats := domain.ShiftStats{TotalCash: d(9000)}
	closing := ClosingBalance(d(100000), stats)
	if !closing.Equal(d(109000)) {
		t.Fatalf("expected closing 109000, got %s", closing)
	}
	if v := Variance(d(107000), closing); !v.Equal(d(-2000)) {
		t.Fatalf("expected shortage -2000, got %s", v)
	}
	if v := Variance(d(110000), closing); !v.Equal(d(1000)) {
		t.Fatalf("expected surplus 1000, got %s", v)
	}
}

func TestPaymentStatus(t *testing.T) {
	cases := []struct {
		total, paid int64
		want        string
	}{
		{70000, 70000, domain.PaymentStatusPaid},
		{70000, 80000, domain.PaymentStatusPaid},
		{70000, 30000, domain.PaymentStatusPartial},
		{70000, 0, domain.PaymentStatusUnpaid},
		{0, 0, domain.PaymentStatusUnpaid},
	}
	for _, tc := range cases {
		if got := PaymentStatus(d(tc.total), d(tc.paid)); got != tc.want {
			t.Fatalf("PaymentStatus(%d, %d) = %s, want %s", tc.total, tc.paid, got, tc.want)
		}
	}
}
