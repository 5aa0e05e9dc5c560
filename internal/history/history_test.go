package history

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"warungpos/internal/domain"
	"warungpos/internal/service"
	"warungpos/internal/store/memory"
)

type recordingCache struct {
	entries map[string]*domain.MovementSummary
	gets    int
	sets    int
}

func newRecordingCache() *recordingCache {
	return &recordingCache{entries: make(map[string]*domain.MovementSummary)}
}

func (c *recordingCache) Get(_ context.Context, key string) (*domain.MovementSummary, bool, error) {
	c.gets++
	v, ok := c.entries[key]
	return v, ok, nil
}

func (c *recordingCache) Set(_ context.Context, key string, value *domain.MovementSummary, _ time.Duration) error {
	c.sets++
	c.entries[key] = value
	return nil
}

func newTestView(t *testing.T) (*View, *service.Service, *recordingCache) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	repo := memory.NewSeeded()
	svc := service.New(repo, nil, log)
	cacheStore := newRecordingCache()
	return NewView(repo, cacheStore, time.Minute, log), svc, cacheStore
}

func recordSale(t *testing.T, svc *service.Service, productID string, qty int, amount int64) {
	t.Helper()
	ctx := service.WithActor(context.Background(), domain.Actor{Username: "cashier", Role: "cashier"})
	_, err := svc.CreateTransaction(ctx, domain.TransactionCreateRequest{
		Items:  []domain.TransactionItemRequest{{ProductID: productID, Qty: qty}},
		Status: domain.TxStatusPaid,
		Payments: []domain.Payment{
			{Method: domain.PaymentMethodCash, Amount: decimal.NewFromInt(amount)},
		},
	})
	if err != nil {
		t.Fatalf("sale for movement log failed: %v", err)
	}
}

func TestMovementsResolveProductNames(t *testing.T) {
	view, svc, _ := newTestView(t)
	recordSale(t, svc, "prd-indomie", 2, 7000)

	entries, err := view.Movements(context.Background(), domain.MovementFilter{ProductID: "prd-indomie"}, 0)
	if err != nil {
		t.Fatalf("movements failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 movement, got %d", len(entries))
	}
	if entries[0].Type != domain.MovementSale || entries[0].Qty != -2 {
		t.Fatalf("unexpected movement: %+v", entries[0].StockMovement)
	}
	if entries[0].ProductName != "Indomie Goreng" {
		t.Fatalf("expected resolved product name, got %q", entries[0].ProductName)
	}
}

func TestMovementsFallBackOnDeletedProduct(t *testing.T) {
	view, svc, _ := newTestView(t)
	recordSale(t, svc, "prd-indomie", 1, 3500)

	adminCtx := service.WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
	if err := svc.DeleteProduct(adminCtx, "prd-indomie"); err != nil {
		t.Fatalf("delete product failed: %v", err)
	}

	entries, err := view.Movements(context.Background(), domain.MovementFilter{ProductID: "prd-indomie"}, 0)
	if err != nil {
		t.Fatalf("movements failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected the movement to survive the product delete, got %d entries", len(entries))
	}
	if entries[0].ProductName != "Indomie Goreng" && entries[0].ProductName != unknownProductName {
		t.Fatalf("unexpected product name %q", entries[0].ProductName)
	}
}

func TestMovementsFilterByType(t *testing.T) {
	view, svc, _ := newTestView(t)
	recordSale(t, svc, "prd-indomie", 2, 7000)

	adminCtx := service.WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
	if _, err := svc.CreateStockWaste(adminCtx, domain.StockWasteRequest{ProductID: "prd-indomie", Qty: 3, Reason: "expired"}); err != nil {
		t.Fatalf("waste failed: %v", err)
	}

	entries, err := view.Movements(context.Background(), domain.MovementFilter{Type: domain.MovementWaste}, 0)
	if err != nil {
		t.Fatalf("movements failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Type != domain.MovementWaste {
		t.Fatalf("expected only the waste movement, got %+v", entries)
	}
}

func TestMovementsOrderingStableAcrossReads(t *testing.T) {
	view, svc, _ := newTestView(t)

	// A recipe sale writes one movement per material with the same
	// timestamp and type, so the id tiebreak has to carry the ordering.
	recordSale(t, svc, "prd-estehmanis", 2, 10000)
	recordSale(t, svc, "prd-indomie", 1, 3500)

	adminCtx := service.WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
	if _, err := svc.CreateStockWaste(adminCtx, domain.StockWasteRequest{ProductID: "prd-teh", Qty: 5, Reason: "torn bags"}); err != nil {
		t.Fatalf("waste failed: %v", err)
	}

	first, err := view.Movements(context.Background(), domain.MovementFilter{}, 0)
	if err != nil {
		t.Fatalf("first read failed: %v", err)
	}
	if len(first) != 5 {
		t.Fatalf("expected 5 movements, got %d", len(first))
	}

	second, err := view.Movements(context.Background(), domain.MovementFilter{}, 0)
	if err != nil {
		t.Fatalf("second read failed: %v", err)
	}
	if len(second) != len(first) {
		t.Fatalf("read lengths diverged: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID || first[i].Type != second[i].Type {
			t.Fatalf("ordering diverged at %d: %s/%s vs %s/%s",
				i, first[i].ID, first[i].Type, second[i].ID, second[i].Type)
		}
	}
}

func TestSummaryAggregatesAndCaches(t *testing.T) {
	view, svc, cacheStore := newTestView(t)
	recordSale(t, svc, "prd-indomie", 2, 7000)
	recordSale(t, svc, "prd-indomie", 1, 3500)

	adminCtx := service.WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
	if _, err := svc.CreateStockWaste(adminCtx, domain.StockWasteRequest{ProductID: "prd-esbatu", Qty: 10, Reason: "melted"}); err != nil {
		t.Fatalf("waste failed: %v", err)
	}

	from := time.Now().UTC().Add(-time.Hour)
	to := time.Now().UTC().Add(time.Hour)

	summary, err := view.Summary(context.Background(), from, to)
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if summary.TotalEntries != 3 {
		t.Fatalf("expected 3 entries, got %d", summary.TotalEntries)
	}
	if summary.NetQty != -13 {
		t.Fatalf("expected net qty -13, got %d", summary.NetQty)
	}
	if len(summary.ByType) != 2 {
		t.Fatalf("expected sale and waste buckets, got %+v", summary.ByType)
	}
	for _, bucket := range summary.ByType {
		if bucket.Type == domain.MovementSale && bucket.Count != 2 {
			t.Fatalf("expected 2 sale movements, got %d", bucket.Count)
		}
	}
	if len(summary.TopProducts) == 0 || summary.TopProducts[0].ProductID != "prd-indomie" {
		t.Fatalf("expected indomie as most-moved product, got %+v", summary.TopProducts)
	}
	if cacheStore.sets != 1 {
		t.Fatalf("expected one cache write, got %d", cacheStore.sets)
	}

	again, err := view.Summary(context.Background(), from, to)
	if err != nil {
		t.Fatalf("cached summary failed: %v", err)
	}
	if again.TotalEntries != summary.TotalEntries {
		t.Fatalf("cached summary diverged: %+v vs %+v", again, summary)
	}
	if cacheStore.sets != 1 {
		t.Fatalf("expected cache hit on second read, writes went to %d", cacheStore.sets)
	}
}
