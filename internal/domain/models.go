package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Category struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type CategoryCreateRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type Product struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Description   string           `json:"description,omitempty"`
	Price         decimal.Decimal  `json:"price"`
	CostPrice     *decimal.Decimal `json:"cost_price,omitempty"`
	Barcode       string           `json:"barcode,omitempty"`
	CategoryID    string           `json:"category_id,omitempty"`
	CategoryName  string           `json:"category_name,omitempty"`
	UnitType      string           `json:"unit_type"`
	StockQuantity decimal.Decimal  `json:"stock_quantity"`
	MinStock      decimal.Decimal  `json:"min_stock"`
	Active        bool             `json:"is_active"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

type ProductFilter struct {
	Search     string
	CategoryID string
	ActiveOnly bool
}

type ProductCreateRequest struct {
	Name          string `json:"name"`
	Description   string `json:"description"`
	Price         string `json:"price"`
	CostPrice     string `json:"cost_price"`
	Barcode       string `json:"barcode"`
	CategoryID    string `json:"category_id"`
	UnitType      string `json:"unit_type"`
	StockQuantity string `json:"stock_quantity"`
	MinStock      string `json:"min_stock"`
}

type ProductUpdateRequest struct {
	Name          *string `json:"name,omitempty"`
	Description   *string `json:"description,omitempty"`
	Price         *string `json:"price,omitempty"`
	CostPrice     *string `json:"cost_price,omitempty"`
	Barcode       *string `json:"barcode,omitempty"`
	CategoryID    *string `json:"category_id,omitempty"`
	UnitType      *string `json:"unit_type,omitempty"`
	StockQuantity *string `json:"stock_quantity,omitempty"`
	MinStock      *string `json:"min_stock,omitempty"`
	Active        *bool   `json:"is_active,omitempty"`
}

type Customer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type CustomerCreateRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
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

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
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

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)

type CashSession struct {
	ID            string           `json:"id"`
	UserID        string           `json:"user_id"`
	Status        string           `json:"status"`
	OpeningAmount decimal.Decimal  `json:"opening_amount"`
	ClosingAmount *decimal.Decimal `json:"closing_amount,omitempty"`
	TotalSales    decimal.Decimal  `json:"total_sales"`
	Notes         string           `json:"notes,omitempty"`
	OpenedAt      time.Time        `json:"opened_at"`
	ClosedAt      *time.Time       `json:"closed_at,omitempty"`
}

type CashSessionOpenRequest struct {
	OpeningAmount string `json:"opening_amount"`
	Notes         string `json:"notes"`
}

type CashSessionCloseRequest struct {
	ClosingAmount string `json:"closing_amount"`
	Notes         string `json:"notes"`
}

type CashSessionResponse struct {
	CashSession CashSession `json:"cash_session"`
}

type PaymentTotal struct {
	PaymentMethod string          `json:"payment_method"`
	Orders        int64           `json:"orders"`
	Total         decimal.Decimal `json:"total"`
}

type CashSessionSummary struct {
	CashSessionID string          `json:"cash_session_id"`
	Orders        int64           `json:"orders"`
	TotalSales    decimal.Decimal `json:"total_sales"`
	OpeningAmount decimal.Decimal `json:"opening_amount"`
	ExpectedCash  decimal.Decimal `json:"expected_cash"`
	ByPayment     []PaymentTotal  `json:"by_payment"`
}

type Order struct {
	ID             string          `json:"id"`
	OrderNumber    string          `json:"order_number"`
	Type           string          `json:"type"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	Total          decimal.Decimal `json:"total"`
	PaymentMethod  string          `json:"payment_method"`
	PaymentStatus  string          `json:"payment_status"`
	Status         string          `json:"status"`
	CashSessionID  string          `json:"cash_session_id"`
	ReceivedAmount decimal.Decimal `json:"received_amount"`
	ChangeAmount   decimal.Decimal `json:"change_amount"`
	UserID         string          `json:"user_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	CreatedAt      time.Time       `json:"created_at"`
	Items          []OrderItem     `json:"items,omitempty"`
}

type OrderItem struct {
	ID         string          `json:"id"`
	OrderID    string          `json:"order_id"`
	ProductID  string          `json:"product_id"`
	Name       string          `json:"name,omitempty"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	TotalPrice decimal.Decimal `json:"total_price"`
}

type OrderListResponse struct {
	Orders []Order `json:"orders"`
}

type CartLine struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	LineTotal decimal.Decimal `json:"line_total"`
}

type CartItemAddRequest struct {
	ProductID string `json:"product_id"`
}

type CartQuantityRequest struct {
	Quantity int `json:"quantity"`
}

type RegisterResponse struct {
	CashSession CashSession     `json:"cash_session"`
	Lines       []CartLine      `json:"lines"`
	ItemCount   int             `json:"item_count"`
	GrandTotal  decimal.Decimal `json:"grand_total"`
	State       string          `json:"state"`
}

type FinalizeRequest struct {
	PaymentMethod  string `json:"payment_method"`
	ReceivedAmount string `json:"received_amount"`
}

type SaleReceipt struct {
	Order          Order           `json:"order"`
	ReceivedAmount decimal.Decimal `json:"received_amount"`
	ChangeAmount   decimal.Decimal `json:"change_amount"`
}

type DashboardStats struct {
	TotalOrders      int64           `json:"total_orders"`
	TodayOrdersCount int64           `json:"today_orders_count"`
	TodaySales       decimal.Decimal `json:"today_sales"`
	ActiveProducts   int64           `json:"active_products"`
	LowStockCount    int64           `json:"low_stock_count"`
	TotalCategories  int64           `json:"total_categories"`
	TotalCustomers   int64           `json:"total_customers"`
	GeneratedAt      string          `json:"generated_at"`
}

const (
	OrderTypeDineIn = "dine_in"
)

const (
	OrderStatusPending   = "pending"
	OrderStatusCompleted = "completed"
	OrderStatusOrphaned  = "orphaned"
)

const (
	PaymentStatusPaid = "paid"
)

const (
	CashSessionStatusOpen   = "open"
	CashSessionStatusClosed = "closed"
)
