// Package ledger holds the pure stock and cost arithmetic shared by every
// store implementation. Nothing here touches persistence or clocks.
package ledger

import (
	"github.com/shopspring/decimal"

	"warungpos/internal/domain"
)

// PurchaseCost returns the weighted-average unit cost after receiving qty
// units at unitPrice on top of stock units carried at cost. When there is
// no prior stock or no prior cost the incoming price wins outright.
func PurchaseCost(stock int, cost decimal.Decimal, qty int, unitPrice decimal.Decimal) decimal.Decimal {
	if qty <= 0 {
		return cost
	}
	if stock <= 0 || cost.IsZero() {
		return unitPrice
	}
	existing := cost.Mul(decimal.NewFromInt(int64(stock)))
	incoming := unitPrice.Mul(decimal.NewFromInt(int64(qty)))
	return existing.Add(incoming).Div(decimal.NewFromInt(int64(stock + qty)))
}

// ReturnCost reverses a purchase at the returned unit price: the remaining
// inventory value is spread over the remaining units. A full return, or a
// reversal that would drive the value negative, resets the cost to zero.
func ReturnCost(stock int, cost decimal.Decimal, qty int, unitPrice decimal.Decimal) decimal.Decimal {
	remainingQty := stock - qty
	if remainingQty <= 0 {
		return decimal.Zero
	}
	remaining := cost.Mul(decimal.NewFromInt(int64(stock))).Sub(unitPrice.Mul(decimal.NewFromInt(int64(qty))))
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining.Div(decimal.NewFromInt(int64(remainingQty)))
}

// ClampedDecrement removes up to qty units, flooring at zero. It returns
// the quantity actually removed alongside the new stock level.
func ClampedDecrement(stock, qty int) (applied, newStock int) {
	if qty <= 0 {
		return 0, stock
	}
	if qty > stock {
		return stock, 0
	}
	return qty, stock - qty
}

// RecipeUnits computes how many units of a recipe product the given
// material stocks can produce: the minimum of floor(stock/required) across
// all materials. A missing material or a non-positive requirement yields
// zero rather than unbounded availability.
func RecipeUnits(recipe []domain.RecipeItem, stocks map[string]int) (units int, limitedBy string) {
	if len(recipe) == 0 {
		return 0, ""
	}
	first := true
	for _, item := range recipe {
		if item.Qty <= 0 {
			return 0, item.MaterialID
		}
		stock, ok := stocks[item.MaterialID]
		if !ok || stock <= 0 {
			return 0, item.MaterialID
		}
		can := stock / item.Qty
		if first || can < units {
			units = can
			limitedBy = item.MaterialID
			first = false
		}
	}
	return units, limitedBy
}

// SaleDemand aggregates the per-product stock deduction a sale requires.
// Recipe products expand into their materials; the recipe product itself
// carries no counter. Products absent from the lookup map still contribute
// a demand entry so the caller fails on the missing id instead of silently
// skipping it.
func SaleDemand(items []domain.TransactionItem, products map[string]domain.Product) map[string]int {
	demand := make(map[string]int)
	for _, item := range items {
		product, ok := products[item.ProductID]
		if ok && product.Type == domain.ProductTypeRecipeGoods {
			for _, r := range product.Recipe {
				demand[r.MaterialID] += r.Qty * item.Qty
			}
			continue
		}
		demand[item.ProductID] += item.Qty
	}
	return demand
}

// ShiftTotals recomputes shift statistics from the paid transactions in the
// shift window. Stats are always derived, never incrementally cached.
func ShiftTotals(transactions []domain.Transaction) domain.ShiftStats {
	stats := domain.ShiftStats{
		TotalSales:   decimal.Zero,
		TotalCash:    decimal.Zero,
		TotalNonCash: decimal.Zero,
	}
	for _, tx := range transactions {
		if tx.Status != domain.TxStatusPaid {
			continue
		}
		stats.TotalTransactions++
		stats.TotalSales = stats.TotalSales.Add(tx.Total)
		for _, p := range tx.Payments {
			if p.Method == domain.PaymentMethodCash {
				stats.TotalCash = stats.TotalCash.Add(p.Amount)
			} else {
				stats.TotalNonCash = stats.TotalNonCash.Add(p.Amount)
			}
		}
	}
	return stats
}

// ClosingBalance is the cash the drawer should hold at close.
func ClosingBalance(opening decimal.Decimal, stats domain.ShiftStats) decimal.Decimal {
	return opening.Add(stats.TotalCash)
}

// Variance is the counted cash minus the expected closing balance.
// Positive means surplus, negative means shortage.
func Variance(actualCash, closingBalance decimal.Decimal) decimal.Decimal {
	return actualCash.Sub(closingBalance)
}

// PaymentStatus derives an invoice payment status from the paid amount.
func PaymentStatus(total, paid decimal.Decimal) string {
	switch {
	case paid.GreaterThanOrEqual(total) && total.GreaterThan(decimal.Zero):
		return domain.PaymentStatusPaid
	case paid.GreaterThan(decimal.Zero):
		return domain.PaymentStatusPartial
	default:
		return domain.PaymentStatusUnpaid
	}
}
