package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"pdv/backend/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrDuplicateOrder     = errors.New("order idempotency key already used")
	ErrSessionAlreadyOpen = errors.New("cash session already open")
)

type ProductStore interface {
	ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id string) error
	ListCategories(ctx context.Context) ([]domain.Category, error)
	CreateCategory(ctx context.Context, category domain.Category) (*domain.Category, error)
}

// CustomerStore keeps the customers counted by the dashboard. ListCustomers
// matches search against name and phone; an empty search lists everyone.
type CustomerStore interface {
	ListCustomers(ctx context.Context, search string) ([]domain.Customer, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
}

type CashSessionStore interface {
	CreateCashSession(ctx context.Context, session domain.CashSession) (*domain.CashSession, error)
	GetOpenCashSession(ctx context.Context, userID string) (*domain.CashSession, error)
	GetCashSession(ctx context.Context, id string) (*domain.CashSession, error)
	CloseCashSession(ctx context.Context, id string, closingAmount decimal.Decimal, totalSales decimal.Decimal, notes string, closedAt time.Time) (*domain.CashSession, error)
}

// NumberingAuthority hands out order numbers that are unique across all orders.
type NumberingAuthority interface {
	GenerateOrderNumber(ctx context.Context) (string, error)
}

// OrderStore persists order headers and their items as separate writes.
// CreateOrder rejects a reused idempotency key with ErrDuplicateOrder.
type OrderStore interface {
	CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error)
	CreateOrderItems(ctx context.Context, items []domain.OrderItem) error
	UpdateOrderStatus(ctx context.Context, orderID string, status string) error
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	FindOrderByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error)
	ListOrders(ctx context.Context, limit int) ([]domain.Order, error)
	// ListPendingOrders returns pending headers with their items loaded;
	// an empty sessionID matches every session.
	ListPendingOrders(ctx context.Context, sessionID string) ([]domain.Order, error)
	ListOrphanedOrders(ctx context.Context) ([]domain.Order, error)
}

type StatsStore interface {
	GetDashboardStats(ctx context.Context, since time.Time, lowStockThreshold decimal.Decimal) (domain.DashboardStats, error)
	GetCashSessionSummary(ctx context.Context, sessionID string) (domain.CashSessionSummary, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type Repository interface {
	ProductStore
	CustomerStore
	CashSessionStore
	NumberingAuthority
	OrderStore
	StatsStore
	UserStore
}

// FormatOrderNumber renders a sequence value as a display order number,
// e.g. "PDV-000042".
func FormatOrderNumber(prefix string, seq int64) string {
	return fmt.Sprintf("%s-%06d", prefix, seq)
}
