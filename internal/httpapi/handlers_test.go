package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"warungpos/internal/cache"
	"warungpos/internal/domain"
	"warungpos/internal/history"
	"warungpos/internal/notify"
	"warungpos/internal/service"
	"warungpos/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	repo := memory.NewSeeded()
	svc := service.New(repo, notify.NewLog(log), log)
	movements := history.NewView(repo, cache.NoopSummaryCache{}, 0, log)
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	return New(svc, movements, auth, "*", log)
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_Success(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "admin123",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["access_token"] == "" || body["access_token"] == nil {
		t.Fatalf("expected access_token in response, got %v", body)
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "wrongpassword",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleProducts_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleProducts_WithValidToken(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, api, "admin", "admin123")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["products"] == nil {
		t.Fatalf("expected products key in response, got %v", body)
	}
}

func TestHandleSuppliers_CashierForbidden(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, api, "cashier", "cashier123")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/suppliers", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier on suppliers, got %d", rec.Code)
	}
}

func TestCreateTransactionPaidDeductsStock(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, api, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, api)

	payload, _ := json.Marshal(domain.TransactionCreateRequest{
		Items:  []domain.TransactionItemRequest{{ProductID: "prd-indomie", Qty: 2}},
		Status: domain.TxStatusPaid,
		Payments: []domain.Payment{{
			Method: domain.PaymentMethodCash,
			Amount: decimalFromInt(7000),
		}},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/transactions", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-CSRF-Token", csrf)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	getReq := httptest.NewRequest(http.MethodGet, "/api/v1/products/prd-indomie", nil)
	getReq.Header.Set("Authorization", "Bearer "+token)
	getRec := httptest.NewRecorder()
	handler.ServeHTTP(getRec, getReq)

	if getRec.Code != http.StatusOK {
		t.Fatalf("expected 200 fetching product, got %d", getRec.Code)
	}
	var body struct {
		Product domain.Product `json:"product"`
	}
	if err := json.NewDecoder(getRec.Body).Decode(&body); err != nil {
		t.Fatalf("decode product: %v", err)
	}
	if body.Product.CurrentStock != 118 {
		t.Fatalf("expected stock 118 after paid sale of 2, got %d", body.Product.CurrentStock)
	}
}

func TestCreateTransactionInsufficientStockReturns422(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, api, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, api)

	payload, _ := json.Marshal(domain.TransactionCreateRequest{
		Items:  []domain.TransactionItemRequest{{ProductID: "prd-indomie", Qty: 1000}},
		Status: domain.TxStatusPaid,
		Payments: []domain.Payment{{
			Method: domain.PaymentMethodCash,
			Amount: decimalFromInt(3500000),
		}},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/transactions", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-CSRF-Token", csrf)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for oversized sale, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestShiftOpenAndClose(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, api, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, api)

	openPayload, _ := json.Marshal(domain.ShiftOpenRequest{OpeningBalance: decimalFromInt(100000)})
	openReq := httptest.NewRequest(http.MethodPost, "/api/v1/shifts/open", bytes.NewReader(openPayload))
	openReq.Header.Set("Content-Type", "application/json")
	openReq.Header.Set("Authorization", "Bearer "+token)
	openReq.Header.Set("X-CSRF-Token", csrf)
	openRec := httptest.NewRecorder()
	handler.ServeHTTP(openRec, openReq)

	if openRec.Code != http.StatusCreated {
		t.Fatalf("expected 201 opening shift, got %d (body: %s)", openRec.Code, openRec.Body.String())
	}
	var opened struct {
		Shift domain.CashierShift `json:"shift"`
	}
	if err := json.NewDecoder(openRec.Body).Decode(&opened); err != nil {
		t.Fatalf("decode shift: %v", err)
	}
	if opened.Shift.Status != domain.ShiftStatusOpen {
		t.Fatalf("expected open shift, got %s", opened.Shift.Status)
	}

	closePayload, _ := json.Marshal(domain.ShiftCloseRequest{ActualCash: decimalFromInt(100000)})
	closeReq := httptest.NewRequest(http.MethodPost, "/api/v1/shifts/"+opened.Shift.ID+"/close", bytes.NewReader(closePayload))
	closeReq.Header.Set("Content-Type", "application/json")
	closeReq.Header.Set("Authorization", "Bearer "+token)
	closeReq.Header.Set("X-CSRF-Token", csrf)
	closeRec := httptest.NewRecorder()
	handler.ServeHTTP(closeRec, closeReq)

	if closeRec.Code != http.StatusOK {
		t.Fatalf("expected 200 closing shift, got %d (body: %s)", closeRec.Code, closeRec.Body.String())
	}
	var closed struct {
		Shift domain.CashierShift `json:"shift"`
	}
	if err := json.NewDecoder(closeRec.Body).Decode(&closed); err != nil {
		t.Fatalf("decode closed shift: %v", err)
	}
	if closed.Shift.Status != domain.ShiftStatusClosed {
		t.Fatalf("expected closed shift, got %s", closed.Shift.Status)
	}
}
