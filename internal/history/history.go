// Package history is the read side of the stock movement log. Every stock
// mutation appends an immutable movement row in the same commit; this view
// only filters, joins product names and aggregates.
package history

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"warungpos/internal/cache"
	"warungpos/internal/domain"
	"warungpos/internal/store"
)

const unknownProductName = "Unknown Product"

type View struct {
	repo     store.Repository
	cache    cache.SummaryCache
	cacheTTL time.Duration
	log      *logrus.Logger
	topN     int
}

func NewView(repo store.Repository, cacheStore cache.SummaryCache, cacheTTL time.Duration, log *logrus.Logger) *View {
	if cacheStore == nil {
		cacheStore = cache.NoopSummaryCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	if log == nil {
		log = logrus.New()
	}

	return &View{
		repo:     repo,
		cache:    cacheStore,
		cacheTTL: cacheTTL,
		log:      log,
		topN:     5,
	}
}

// Movements returns movement entries newest first, product names resolved.
// Deleted products keep their rows; the name falls back so the audit trail
// never loses an entry to a missing referent.
func (v *View) Movements(ctx context.Context, filter domain.MovementFilter, limit int) ([]domain.MovementEntry, error) {
	if limit < 1 {
		limit = 100
	}
	movements, err := v.repo.ListStockMovements(ctx, filter, limit)
	if err != nil {
		return nil, fmt.Errorf("list stock movements: %w", err)
	}

	ids := make([]string, 0, len(movements))
	seen := map[string]bool{}
	for _, m := range movements {
		if !seen[m.ProductID] {
			seen[m.ProductID] = true
			ids = append(ids, m.ProductID)
		}
	}
	products, err := v.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve movement products: %w", err)
	}

	entries := make([]domain.MovementEntry, 0, len(movements))
	for _, m := range movements {
		name := unknownProductName
		if p, ok := products[m.ProductID]; ok {
			name = p.Name
		}
		entries = append(entries, domain.MovementEntry{StockMovement: m, ProductName: name})
	}
	return entries, nil
}

// Summary aggregates the movement log over a window: entry counts and
// absolute values per type, the net stock change, and the most-moved
// products. Results are cached briefly since the log is append-only.
func (v *View) Summary(ctx context.Context, from time.Time, to time.Time) (domain.MovementSummary, error) {
	from = from.UTC()
	to = to.UTC()
	key := summaryCacheKey(from, to)

	if cached, ok, err := v.cache.Get(ctx, key); err != nil {
		v.log.WithError(err).Warn("movement summary cache read failed")
	} else if ok {
		return *cached, nil
	}

	movements, err := v.repo.ListStockMovements(ctx, domain.MovementFilter{From: &from, To: &to}, 0)
	if err != nil {
		return domain.MovementSummary{}, fmt.Errorf("list stock movements: %w", err)
	}

	summary := domain.MovementSummary{
		From:         from.Format(time.RFC3339),
		To:           to.Format(time.RFC3339),
		TotalEntries: len(movements),
	}

	byType := map[string]*domain.MovementTypeSummary{}
	countByProduct := map[string]int{}
	for _, m := range movements {
		entry, ok := byType[m.Type]
		if !ok {
			entry = &domain.MovementTypeSummary{Type: m.Type, Value: decimal.Zero}
			byType[m.Type] = entry
		}
		entry.Count++
		entry.Value = entry.Value.Add(m.TotalValue.Abs())
		summary.NetQty += m.Qty
		countByProduct[m.ProductID]++
	}

	for _, entry := range byType {
		summary.ByType = append(summary.ByType, *entry)
	}
	slices.SortFunc(summary.ByType, func(a, b domain.MovementTypeSummary) int {
		if a.Type < b.Type {
			return -1
		}
		if a.Type > b.Type {
			return 1
		}
		return 0
	})

	summary.TopProducts = v.topProducts(ctx, countByProduct)

	if err := v.cache.Set(ctx, key, &summary, v.cacheTTL); err != nil {
		v.log.WithError(err).Warn("movement summary cache write failed")
	}
	return summary, nil
}

func (v *View) topProducts(ctx context.Context, countByProduct map[string]int) []domain.MovementProductSummary {
	if len(countByProduct) == 0 {
		return nil
	}
	ids := make([]string, 0, len(countByProduct))
	for id := range countByProduct {
		ids = append(ids, id)
	}
	products, err := v.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		v.log.WithError(err).Warn("resolve top movement products failed")
		products = map[string]domain.Product{}
	}

	top := make([]domain.MovementProductSummary, 0, len(countByProduct))
	for id, count := range countByProduct {
		name := unknownProductName
		if p, ok := products[id]; ok {
			name = p.Name
		}
		top = append(top, domain.MovementProductSummary{ProductID: id, ProductName: name, Count: count})
	}
	slices.SortFunc(top, func(a, b domain.MovementProductSummary) int {
		if a.Count != b.Count {
			return b.Count - a.Count
		}
		if a.ProductID < b.ProductID {
			return -1
		}
		if a.ProductID > b.ProductID {
			return 1
		}
		return 0
	})
	if len(top) > v.topN {
		top = top[:v.topN]
	}
	return top
}

func summaryCacheKey(from time.Time, to time.Time) string {
	sum := sha1.Sum([]byte(from.Format(time.RFC3339) + "|" + to.Format(time.RFC3339)))
	return "movement-summary:" + hex.EncodeToString(sum[:8])
}
