package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type RecipeItem struct {
	MaterialID string `json:"material_id"`
	Qty        int    `json:"qty"`
	Unit       string `json:"unit"`
}

type Product struct {
	ID           string          `json:"id"`
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	Category     string          `json:"category"`
	Type         string          `json:"type"`
	Price        decimal.Decimal `json:"price"`
	Cost         decimal.Decimal `json:"cost"`
	CurrentStock int             `json:"current_stock"`
	Unit         string          `json:"unit"`
	MonitorStock bool            `json:"monitor_stock"`
	MinStock     int             `json:"min_stock"`
	Recipe       []RecipeItem    `json:"recipe,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	DeletedAt    *time.Time      `json:"deleted_at,omitempty"`
}

type ProductCreateRequest struct {
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	Category     string          `json:"category"`
	Type         string          `json:"type"`
	Price        decimal.Decimal `json:"price"`
	Cost         decimal.Decimal `json:"cost"`
	InitialStock int             `json:"initial_stock"`
	Unit         string          `json:"unit"`
	MonitorStock bool            `json:"monitor_stock"`
	MinStock     int             `json:"min_stock"`
	Recipe       []RecipeItem    `json:"recipe,omitempty"`
}

type ProductUpdateRequest struct {
	Name         *string          `json:"name,omitempty"`
	Category     *string          `json:"category,omitempty"`
	Price        *decimal.Decimal `json:"price,omitempty"`
	MonitorStock *bool            `json:"monitor_stock,omitempty"`
	MinStock     *int             `json:"min_stock,omitempty"`
	Recipe       *[]RecipeItem    `json:"recipe,omitempty"`
}

type Supplier struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Phone     string     `json:"phone"`
	Address   string     `json:"address"`
	CreatedAt time.Time  `json:"created_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

type SupplierCreateRequest struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

type Customer struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Phone     string     `json:"phone"`
	Address   string     `json:"address"`
	CreatedAt time.Time  `json:"created_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

type CustomerCreateRequest struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

type InvoiceItem struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Qty         int             `json:"qty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Total       decimal.Decimal `json:"total"`
}

type Invoice struct {
	ID            string          `json:"id"`
	InvoiceNumber string          `json:"invoice_number"`
	SupplierID    string          `json:"supplier_id"`
	Items         []InvoiceItem   `json:"items"`
	Total         decimal.Decimal `json:"total"`
	PaidAmount    decimal.Decimal `json:"paid_amount"`
	PaymentStatus string          `json:"payment_status"`
	ShiftID       string          `json:"shift_id,omitempty"`
	CreatedBy     string          `json:"created_by"`
	CreatedAt     time.Time       `json:"created_at"`
}

type InvoiceItemRequest struct {
	ProductID string          `json:"product_id"`
	Qty       int             `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type InvoiceCreateRequest struct {
	InvoiceNumber string               `json:"invoice_number"`
	SupplierID    string               `json:"supplier_id"`
	Items         []InvoiceItemRequest `json:"items"`
	PaidAmount    decimal.Decimal      `json:"paid_amount"`
}

type InvoicePaymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type StockOpnameItem struct {
	ProductID   string `json:"product_id"`
	SystemStock int    `json:"system_stock"`
	ActualStock int    `json:"actual_stock"`
	Variance    int    `json:"variance"`
}

type StockOpname struct {
	ID        string            `json:"id"`
	Notes     string            `json:"notes"`
	Items     []StockOpnameItem `json:"items"`
	CreatedBy string            `json:"created_by"`
	CreatedAt time.Time         `json:"created_at"`
}

type StockOpnameItemRequest struct {
	ProductID   string `json:"product_id"`
	ActualStock int    `json:"actual_stock"`
}

type StockOpnameRequest struct {
	Notes string                   `json:"notes"`
	Items []StockOpnameItemRequest `json:"items"`
}

type StockWaste struct {
	ID        string    `json:"id"`
	ProductID string    `json:"product_id"`
	Qty       int       `json:"qty"`
	Reason    string    `json:"reason"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

type StockWasteRequest struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
	Reason    string `json:"reason"`
}

type StockReturnItem struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Qty         int             `json:"qty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Total       decimal.Decimal `json:"total"`
}

type StockReturn struct {
	ID               string            `json:"id"`
	ReturnNumber     string            `json:"return_number"`
	SupplierID       string            `json:"supplier_id"`
	InvoiceID        string            `json:"invoice_id"`
	Status           string            `json:"status"`
	Items            []StockReturnItem `json:"items"`
	TotalValue       decimal.Decimal   `json:"total_value"`
	ConfirmedAmount  decimal.Decimal   `json:"confirmed_amount"`
	ConfirmationDate *time.Time        `json:"confirmation_date,omitempty"`
	Notes            string            `json:"notes"`
	CreatedBy        string            `json:"created_by"`
	CreatedAt        time.Time         `json:"created_at"`
}

type StockReturnItemRequest struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type StockReturnCreateRequest struct {
	SupplierID string                   `json:"supplier_id"`
	InvoiceID  string                   `json:"invoice_id"`
	Items      []StockReturnItemRequest `json:"items"`
	Notes      string                   `json:"notes"`
}

type StockReturnConfirmRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Notes  string          `json:"notes"`
}

// Warning is a non-fatal consistency finding surfaced alongside a
// successful result.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Payment struct {
	Method string          `json:"method"`
	Amount decimal.Decimal `json:"amount"`
}

type TransactionItem struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Qty         int             `json:"qty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Total       decimal.Decimal `json:"total"`
}

type Transaction struct {
	ID                string            `json:"id"`
	TransactionNumber string            `json:"transaction_number"`
	CustomerID        string            `json:"customer_id,omitempty"`
	ShiftID           string            `json:"shift_id,omitempty"`
	Items             []TransactionItem `json:"items"`
	Subtotal          decimal.Decimal   `json:"subtotal"`
	Discount          decimal.Decimal   `json:"discount"`
	Total             decimal.Decimal   `json:"total"`
	Status            string            `json:"status"`
	Payments          []Payment         `json:"payments,omitempty"`
	CreatedBy         string            `json:"created_by"`
	CreatedAt         time.Time         `json:"created_at"`
	PaidAt            *time.Time        `json:"paid_at,omitempty"`
}

type TransactionItemRequest struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type TransactionCreateRequest struct {
	CustomerID string                   `json:"customer_id,omitempty"`
	Items      []TransactionItemRequest `json:"items"`
	Discount   decimal.Decimal          `json:"discount"`
	Status     string                   `json:"status"`
	Payments   []Payment                `json:"payments,omitempty"`
}

type TransactionPayRequest struct {
	Payments []Payment `json:"payments"`
}

type ShiftStats struct {
	TotalTransactions int             `json:"total_transactions"`
	TotalSales        decimal.Decimal `json:"total_sales"`
	TotalCash         decimal.Decimal `json:"total_cash"`
	TotalNonCash      decimal.Decimal `json:"total_non_cash"`
}

type CashierShift struct {
	ID             string          `json:"id"`
	OpenedBy       string          `json:"opened_by"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	Status         string          `json:"status"`
	OpenedAt       time.Time       `json:"opened_at"`
	ClosedAt       *time.Time      `json:"closed_at,omitempty"`
	ActualCash     decimal.Decimal `json:"actual_cash"`
	ClosingBalance decimal.Decimal `json:"closing_balance"`
	Variance       decimal.Decimal `json:"variance"`
	Stats          ShiftStats      `json:"stats"`
}

type ShiftOpenRequest struct {
	OpeningBalance decimal.Decimal `json:"opening_balance"`
}

type ShiftCloseRequest struct {
	ActualCash decimal.Decimal `json:"actual_cash"`
}

type StockMovement struct {
	ID            string          `json:"id"`
	ProductID     string          `json:"product_id"`
	Type          string          `json:"type"`
	Qty           int             `json:"qty"`
	PreviousStock int             `json:"previous_stock"`
	NewStock      int             `json:"new_stock"`
	UnitCost      decimal.Decimal `json:"unit_cost"`
	TotalValue    decimal.Decimal `json:"total_value"`
	ReferenceID   string          `json:"reference_id,omitempty"`
	ReferenceType string          `json:"reference_type,omitempty"`
	Actor         string          `json:"actor"`
	CreatedAt     time.Time       `json:"created_at"`
}

type MovementFilter struct {
	ProductID string
	Type      string
	From      *time.Time
	To        *time.Time
}

type MovementEntry struct {
	StockMovement
	ProductName string `json:"product_name"`
}

type MovementTypeSummary struct {
	Type  string          `json:"type"`
	Count int             `json:"count"`
	Value decimal.Decimal `json:"value"`
}

type MovementProductSummary struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Count       int    `json:"count"`
}

type MovementSummary struct {
	From         string                   `json:"from"`
	To           string                   `json:"to"`
	TotalEntries int                      `json:"total_entries"`
	NetQty       int                      `json:"net_qty"`
	ByType       []MovementTypeSummary    `json:"by_type"`
	TopProducts  []MovementProductSummary `json:"top_products"`
}

type RecipeAvailability struct {
	ProductID      string `json:"product_id"`
	ProductName    string `json:"product_name"`
	AvailableUnits int    `json:"available_units"`
	LimitedBy      string `json:"limited_by,omitempty"`
}

type SalesReportPayment struct {
	Method string          `json:"method"`
	Count  int             `json:"count"`
	Total  decimal.Decimal `json:"total"`
}

type SalesReport struct {
	From         string               `json:"from"`
	To           string               `json:"to"`
	Transactions int                  `json:"transactions"`
	GrossSales   decimal.Decimal      `json:"gross_sales"`
	Discount     decimal.Decimal      `json:"discount"`
	NetSales     decimal.Decimal      `json:"net_sales"`
	ByPayment    []SalesReportPayment `json:"by_payment"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	ProductTypeFinishGoods = "finish_goods"
	ProductTypeRecipeGoods = "recipe_goods"
	ProductTypeRawMaterial = "raw_material"
)

const (
	MovementPurchase = "purchase"
	MovementSale     = "sale"
	MovementOpname   = "opname"
	MovementWaste    = "waste"
	MovementReturn   = "return"
)

const (
	TxStatusPaid   = "paid"
	TxStatusUnpaid = "unpaid"
	TxStatusSaved  = "saved"
)

const (
	PaymentStatusPaid    = "lunas"
	PaymentStatusUnpaid  = "belum_lunas"
	PaymentStatusPartial = "bayar_sebagian"
)

const (
	ReturnStatusPending    = "belum_selesai"
	ReturnStatusReconciled = "selesai"
)

const (
	ShiftStatusOpen   = "open"
	ShiftStatusClosed = "closed"
)

const PaymentMethodCash = "cash"
