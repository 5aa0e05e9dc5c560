package service

import (
	"context"
	"fmt"

	"warungpos/internal/domain"
	"warungpos/internal/store"
)

// ReturnSession walks the four-step supplier return flow: pick the
// supplier, pick one of their invoices, pick products off that invoice,
// then confirm. Steps only move forward; Reset starts over. Nothing is
// persisted until Commit succeeds.
type ReturnSession struct {
	svc      *Service
	stage    ReturnStage
	supplier *domain.Supplier
	invoice  *domain.Invoice
	items    []domain.StockReturnItemRequest
}

type ReturnStage int

const (
	StageSelectSupplier ReturnStage = iota
	StageSelectInvoice
	StageSelectProducts
	StageConfirm
)

func (st ReturnStage) String() string {
	switch st {
	case StageSelectSupplier:
		return "select_supplier"
	case StageSelectInvoice:
		return "select_invoice"
	case StageSelectProducts:
		return "select_products"
	case StageConfirm:
		return "confirm"
	}
	return "unknown"
}

func (s *Service) NewReturnSession() *ReturnSession {
	return &ReturnSession{svc: s, stage: StageSelectSupplier}
}

func (r *ReturnSession) Stage() ReturnStage {
	return r.stage
}

func (r *ReturnSession) SelectSupplier(ctx context.Context, supplierID string) error {
	if r.stage != StageSelectSupplier {
		return r.stageError(StageSelectSupplier)
	}
	supplier, err := r.svc.repo.GetSupplier(ctx, supplierID)
	if err != nil {
		return fmt.Errorf("supplier %s: %w", supplierID, err)
	}
	r.supplier = supplier
	r.stage = StageSelectInvoice
	return nil
}

// Invoices lists the selected supplier's invoices to pick from.
func (r *ReturnSession) Invoices(ctx context.Context, limit int) ([]domain.Invoice, error) {
	if r.stage != StageSelectInvoice {
		return nil, r.stageError(StageSelectInvoice)
	}
	return r.svc.ListInvoices(ctx, r.supplier.ID, limit)
}

func (r *ReturnSession) SelectInvoice(ctx context.Context, invoiceID string) error {
	if r.stage != StageSelectInvoice {
		return r.stageError(StageSelectInvoice)
	}
	invoice, err := r.svc.repo.GetInvoice(ctx, invoiceID)
	if err != nil {
		return fmt.Errorf("invoice %s: %w", invoiceID, err)
	}
	if invoice.SupplierID != r.supplier.ID {
		return fmt.Errorf("%w: invoice %s belongs to another supplier", store.ErrValidation, invoice.InvoiceNumber)
	}
	r.invoice = invoice
	r.stage = StageSelectProducts
	return nil
}

// SelectProducts validates the requested lines against the invoice without
// committing anything, so the caller can correct mistakes before confirm.
func (r *ReturnSession) SelectProducts(_ context.Context, items []domain.StockReturnItemRequest) error {
	if r.stage != StageSelectProducts {
		return r.stageError(StageSelectProducts)
	}
	if _, _, err := buildReturnItems(items, *r.invoice); err != nil {
		return err
	}
	r.items = items
	r.stage = StageConfirm
	return nil
}

// Commit persists the return. The service revalidates against the invoice
// and the whole write is a single store transaction.
func (r *ReturnSession) Commit(ctx context.Context, notes string) (domain.StockReturn, []domain.Warning, error) {
	if r.stage != StageConfirm {
		return domain.StockReturn{}, nil, r.stageError(StageConfirm)
	}
	created, warnings, err := r.svc.CreateStockReturn(ctx, domain.StockReturnCreateRequest{
		SupplierID: r.supplier.ID,
		InvoiceID:  r.invoice.ID,
		Items:      r.items,
		Notes:      notes,
	})
	if err != nil {
		return domain.StockReturn{}, nil, err
	}
	r.Reset()
	return created, warnings, nil
}

func (r *ReturnSession) Reset() {
	r.stage = StageSelectSupplier
	r.supplier = nil
	r.invoice = nil
	r.items = nil
}

func (r *ReturnSession) stageError(want ReturnStage) error {
	return fmt.Errorf("%w: return flow is at %s, not %s", store.ErrStateConflict, r.stage, want)
}
