package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdv/backend/internal/cache"
	"pdv/backend/internal/checkout"
	"pdv/backend/internal/domain"
	"pdv/backend/internal/store"
	"pdv/backend/internal/store/memory"
)

func newTestService() (*Service, *memory.Store) {
	repo := memory.NewSeeded()
	return New(repo, Options{}), repo
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "cashier", Role: domain.RoleCashier})
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: domain.RoleAdmin})
}

func openRegister(t *testing.T, svc *Service, ctx context.Context) domain.CashSession {
	t.Helper()
	resp, err := svc.OpenCashSession(ctx, domain.CashSessionOpenRequest{OpeningAmount: "100,00", Notes: "troco inicial"})
	require.NoError(t, err)
	return resp.CashSession
}

func TestOpenCashSessionValidatesAmountAndUniqueness(t *testing.T) {
	svc, _ := newTestService()
	ctx := cashierCtx()

	_, err := svc.OpenCashSession(ctx, domain.CashSessionOpenRequest{OpeningAmount: "abc"})
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, err = svc.OpenCashSession(ctx, domain.CashSessionOpenRequest{OpeningAmount: "-1"})
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, err = svc.OpenCashSession(ctx, domain.CashSessionOpenRequest{OpeningAmount: "10.001"})
	require.ErrorIs(t, err, ErrInvalidAmount)

	session := openRegister(t, svc, ctx)
	assert.Equal(t, "100.00", session.OpeningAmount.StringFixed(2))
	assert.Equal(t, domain.CashSessionStatusOpen, session.Status)

	_, err = svc.OpenCashSession(ctx, domain.CashSessionOpenRequest{OpeningAmount: "10"})
	require.ErrorIs(t, err, store.ErrSessionAlreadyOpen)

	_, err = svc.OpenCashSession(context.Background(), domain.CashSessionOpenRequest{OpeningAmount: "10"})
	require.ErrorIs(t, err, ErrUnauthenticated)
}

func TestRegisterRequiresOpenSession(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.Register(cashierCtx())
	require.ErrorIs(t, err, checkout.ErrNoOpenSession)

	_, err = svc.AddToCart(cashierCtx(), "prd-arroz")
	require.ErrorIs(t, err, checkout.ErrNoOpenSession)
}

func TestCartOperationsThroughRegister(t *testing.T) {
	svc, _ := newTestService()
	ctx := cashierCtx()
	openRegister(t, svc, ctx)

	_, err := svc.AddToCart(ctx, "prd-arroz")
	require.NoError(t, err)
	_, err = svc.AddToCart(ctx, "prd-arroz")
	require.NoError(t, err)
	view, err := svc.AddToCart(ctx, "prd-leite")
	require.NoError(t, err)

	require.Len(t, view.Lines, 2)
	assert.Equal(t, 3, view.ItemCount)
	assert.Equal(t, "54.79", view.GrandTotal.StringFixed(2))
	assert.Equal(t, string(checkout.StateIdle), view.State)

	view, err = svc.SetCartQuantity(ctx, "prd-leite", 3)
	require.NoError(t, err)
	assert.Equal(t, "64.77", view.GrandTotal.StringFixed(2))

	_, err = svc.SetCartQuantity(ctx, "prd-cafe", 2)
	require.ErrorIs(t, err, store.ErrNotFound)

	view, err = svc.SetCartQuantity(ctx, "prd-leite", 0)
	require.NoError(t, err)
	require.Len(t, view.Lines, 1)

	view, err = svc.RemoveFromCart(ctx, "prd-arroz")
	require.NoError(t, err)
	assert.Empty(t, view.Lines)

	_, err = svc.AddToCart(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestAddToCartRejectsInactiveProduct(t *testing.T) {
	svc, _ := newTestService()
	openRegister(t, svc, cashierCtx())

	inactive := false
	_, err := svc.UpdateProduct(adminCtx(), "prd-refri", domain.ProductUpdateRequest{Active: &inactive})
	require.NoError(t, err)

	_, err = svc.AddToCart(cashierCtx(), "prd-refri")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestFinalizeSaleEndToEnd(t *testing.T) {
	svc, repo := newTestService()
	ctx := cashierCtx()
	session := openRegister(t, svc, ctx)

	_, err := svc.AddToCart(ctx, "prd-feijao")
	require.NoError(t, err)
	_, err = svc.AddToCart(ctx, "prd-feijao")
	require.NoError(t, err)

	_, err = svc.FinalizeSale(ctx, domain.FinalizeRequest{PaymentMethod: "cash", ReceivedAmount: "16.97"})
	require.ErrorIs(t, err, checkout.ErrInsufficientPayment)

	receipt, err := svc.FinalizeSale(ctx, domain.FinalizeRequest{PaymentMethod: "cash", ReceivedAmount: "20"})
	require.NoError(t, err)
	assert.Equal(t, "3.02", receipt.ChangeAmount.StringFixed(2))
	assert.Equal(t, "PDV-000001", receipt.Order.OrderNumber)
	assert.Equal(t, session.ID, receipt.Order.CashSessionID)
	assert.Equal(t, "cashier", receipt.Order.UserID)

	view, err := svc.Register(ctx)
	require.NoError(t, err)
	assert.Empty(t, view.Lines)

	stored, err := repo.GetOrder(context.Background(), receipt.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCompleted, stored.Status)
	require.Len(t, stored.Items, 1)
	assert.Equal(t, 2, stored.Items[0].Quantity)

	_, err = svc.FinalizeSale(ctx, domain.FinalizeRequest{PaymentMethod: "pix"})
	require.ErrorIs(t, err, checkout.ErrEmptyCart)
}

func TestCloseCashSessionRecordsTotalSales(t *testing.T) {
	svc, _ := newTestService()
	ctx := cashierCtx()
	openRegister(t, svc, ctx)

	_, err := svc.AddToCart(ctx, "prd-cafe")
	require.NoError(t, err)
	_, err = svc.FinalizeSale(ctx, domain.FinalizeRequest{PaymentMethod: "card"})
	require.NoError(t, err)
	_, err = svc.AddToCart(ctx, "prd-leite")
	require.NoError(t, err)
	_, err = svc.FinalizeSale(ctx, domain.FinalizeRequest{PaymentMethod: "cash", ReceivedAmount: "5"})
	require.NoError(t, err)

	active, err := svc.ActiveCashSession(ctx)
	require.NoError(t, err)
	summary, err := svc.CashSessionSummary(ctx, active.CashSession.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, summary.Orders)
	assert.Equal(t, "104.99", summary.ExpectedCash.StringFixed(2))

	closed, err := svc.CloseCashSession(ctx, domain.CashSessionCloseRequest{ClosingAmount: "104.99"})
	require.NoError(t, err)
	assert.Equal(t, domain.CashSessionStatusClosed, closed.CashSession.Status)
	assert.Equal(t, "20.89", closed.CashSession.TotalSales.StringFixed(2))

	_, err = svc.Register(ctx)
	require.ErrorIs(t, err, checkout.ErrNoOpenSession)
	_, err = svc.ActiveCashSession(ctx)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestCashSessionSummaryHiddenFromOtherCashiers(t *testing.T) {
	svc, _ := newTestService()
	session := openRegister(t, svc, cashierCtx())

	other := WithActor(context.Background(), domain.Actor{Username: "maria", Role: domain.RoleCashier})
	_, err := svc.CashSessionSummary(other, session.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = svc.CashSessionSummary(adminCtx(), session.ID)
	require.NoError(t, err)
}

// failingItems fails every order item write, leaving the header behind.
type failingItems struct {
	store.Repository
	mu   sync.Mutex
	fail bool
}

func (f *failingItems) CreateOrderItems(ctx context.Context, items []domain.OrderItem) error {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return errors.New("connection reset")
	}
	return f.Repository.CreateOrderItems(ctx, items)
}

func TestItemsFailureKeepsCartAndReloadMarksOrphan(t *testing.T) {
	repo := &failingItems{Repository: memory.NewSeeded(), fail: true}
	svc := New(repo, Options{})
	ctx := cashierCtx()
	openRegister(t, svc, ctx)

	_, err := svc.AddToCart(ctx, "prd-arroz")
	require.NoError(t, err)

	_, err = svc.FinalizeSale(ctx, domain.FinalizeRequest{PaymentMethod: "pix"})
	require.ErrorIs(t, err, checkout.ErrOrderItemsPersistence)

	view, err := svc.Register(ctx)
	require.NoError(t, err)
	assert.Len(t, view.Lines, 1)

	orphans, err := svc.ListOrphanedOrders(adminCtx())
	require.NoError(t, err)
	require.Len(t, orphans.Orders, 1)
	assert.Equal(t, domain.OrderStatusPending, orphans.Orders[0].Status)

	// A restarted process rebuilds the register and settles the header.
	restarted := New(repo, Options{})
	_, err = restarted.Register(ctx)
	require.NoError(t, err)

	order, err := repo.GetOrder(context.Background(), orphans.Orders[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusOrphaned, order.Status)

	repo.mu.Lock()
	repo.fail = false
	repo.mu.Unlock()
	_, err = restarted.AddToCart(ctx, "prd-arroz")
	require.NoError(t, err)
	receipt, err := restarted.FinalizeSale(ctx, domain.FinalizeRequest{PaymentMethod: "pix"})
	require.NoError(t, err)
	assert.NotEqual(t, order.OrderNumber, receipt.Order.OrderNumber)
}

// blockingNumbers parks GenerateOrderNumber until release is closed.
type blockingNumbers struct {
	store.NumberingAuthority
	entered chan struct{}
	release chan struct{}
}

func (b *blockingNumbers) GenerateOrderNumber(ctx context.Context) (string, error) {
	b.entered <- struct{}{}
	<-b.release
	return b.NumberingAuthority.GenerateOrderNumber(ctx)
}

func TestRegisterRejectsChangesWhileFinalizing(t *testing.T) {
	repo := memory.NewSeeded()
	numbers := &blockingNumbers{NumberingAuthority: repo, entered: make(chan struct{}, 1), release: make(chan struct{})}
	svc := New(repo, Options{Numbers: numbers})
	ctx := cashierCtx()
	openRegister(t, svc, ctx)
	_, err := svc.AddToCart(ctx, "prd-pao")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := svc.FinalizeSale(ctx, domain.FinalizeRequest{PaymentMethod: "pix"})
		done <- err
	}()

	select {
	case <-numbers.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("finalize never requested an order number")
	}

	_, err = svc.FinalizeSale(ctx, domain.FinalizeRequest{PaymentMethod: "pix"})
	require.ErrorIs(t, err, checkout.ErrFinalizationInFlight)
	_, err = svc.AddToCart(ctx, "prd-leite")
	require.ErrorIs(t, err, checkout.ErrFinalizationInFlight)
	_, err = svc.ClearCart(ctx)
	require.ErrorIs(t, err, checkout.ErrFinalizationInFlight)
	_, err = svc.CloseCashSession(ctx, domain.CashSessionCloseRequest{ClosingAmount: "0"})
	require.ErrorIs(t, err, checkout.ErrFinalizationInFlight)

	view, err := svc.Register(ctx)
	require.NoError(t, err)
	assert.Equal(t, string(checkout.StateSubmitting), view.State)
	assert.Len(t, view.Lines, 1)

	close(numbers.release)
	require.NoError(t, <-done)

	orders, err := svc.ListOrders(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, orders.Orders, 1)
}

func TestClearCartCancelsSale(t *testing.T) {
	svc, _ := newTestService()
	ctx := cashierCtx()
	openRegister(t, svc, ctx)
	_, err := svc.AddToCart(ctx, "prd-sabao")
	require.NoError(t, err)

	view, err := svc.ClearCart(ctx)
	require.NoError(t, err)
	assert.Empty(t, view.Lines)
	assert.True(t, view.GrandTotal.IsZero())
}

func TestProductAdminOperations(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.CreateProduct(cashierCtx(), domain.ProductCreateRequest{Name: "Biscoito", Price: "3.20"})
	require.ErrorIs(t, err, ErrAdminRequired)

	created, err := svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{
		Name:          "Biscoito Recheado",
		Price:         "3,20",
		CategoryID:    "cat-mercearia",
		StockQuantity: "30",
	})
	require.NoError(t, err)
	assert.Equal(t, "3.20", created.Price.StringFixed(2))
	assert.Equal(t, "Mercearia", created.CategoryName)
	assert.Equal(t, "un", created.UnitType)

	_, err = svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{Name: "Bad", Price: "-1"})
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, err = svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{Name: "Bad", Price: "3.205"})
	require.ErrorIs(t, err, ErrInvalidAmount)

	weighed, err := svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{
		Name: "Queijo", Price: "42.90", UnitType: "kg", StockQuantity: "2,755",
	})
	require.NoError(t, err)
	assert.Equal(t, "2.755", weighed.StockQuantity.String())

	price := "3.50"
	updated, err := svc.UpdateProduct(adminCtx(), created.ID, domain.ProductUpdateRequest{Price: &price})
	require.NoError(t, err)
	assert.Equal(t, "3.50", updated.Price.StringFixed(2))

	found, err := svc.ListProducts(context.Background(), domain.ProductFilter{Search: "biscoito"})
	require.NoError(t, err)
	require.Len(t, found, 1)

	require.NoError(t, svc.DeleteProduct(adminCtx(), created.ID))
	require.ErrorIs(t, svc.DeleteProduct(adminCtx(), created.ID), store.ErrNotFound)

	category, err := svc.CreateCategory(adminCtx(), domain.CategoryCreateRequest{Name: "Hortifruti"})
	require.NoError(t, err)
	categories, err := svc.ListCategories(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bebidas", categories[0].Name)
	assert.Contains(t, categories, category)
}

func TestDashboardStatsCachedAndInvalidatedBySale(t *testing.T) {
	mr := miniredis.RunT(t)
	client := cache.NewRedisClient(mr.Addr(), "", 0)
	t.Cleanup(func() {
		_ = client.Close()
	})
	svc := New(memory.NewSeeded(), Options{Cache: cache.NewRedisCache(client), StatsTTL: time.Minute})
	ctx := cashierCtx()

	stats, err := svc.DashboardStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalOrders)
	assert.EqualValues(t, 2, stats.LowStockCount)
	assert.True(t, mr.Exists(cache.DashboardStatsKey))

	openRegister(t, svc, ctx)
	_, err = svc.AddToCart(ctx, "prd-arroz")
	require.NoError(t, err)
	_, err = svc.FinalizeSale(ctx, domain.FinalizeRequest{PaymentMethod: "pix"})
	require.NoError(t, err)
	assert.False(t, mr.Exists(cache.DashboardStatsKey))

	stats, err = svc.DashboardStats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.TotalOrders)
	assert.EqualValues(t, 1, stats.TodayOrdersCount)
	assert.Equal(t, "24.90", stats.TodaySales.StringFixed(2))
}

// droppedReply applies the first order header write but reports a timeout,
// as when the connection drops before the reply arrives.
type droppedReply struct {
	store.Repository
	mu      sync.Mutex
	dropped bool
}

func (d *droppedReply) CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	created, err := d.Repository.CreateOrder(ctx, order)
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil && !d.dropped {
		d.dropped = true
		return nil, context.DeadlineExceeded
	}
	return created, err
}

func TestFinalizeRetryAfterDroppedReplyCompletesStoredOrder(t *testing.T) {
	repo := &droppedReply{Repository: memory.NewSeeded()}
	svc := New(repo, Options{})
	ctx := cashierCtx()
	openRegister(t, svc, ctx)
	_, err := svc.AddToCart(ctx, "prd-arroz")
	require.NoError(t, err)

	_, err = svc.FinalizeSale(ctx, domain.FinalizeRequest{PaymentMethod: "cash", ReceivedAmount: "30"})
	require.ErrorIs(t, err, checkout.ErrOrderPersistence)
	view, err := svc.Register(ctx)
	require.NoError(t, err)
	assert.Len(t, view.Lines, 1)

	receipt, err := svc.FinalizeSale(ctx, domain.FinalizeRequest{PaymentMethod: "cash", ReceivedAmount: "30"})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCompleted, receipt.Order.Status)
	assert.Equal(t, "5.10", receipt.ChangeAmount.StringFixed(2))

	orders, err := svc.ListOrders(ctx, 10)
	require.NoError(t, err)
	require.Len(t, orders.Orders, 1)
	assert.Equal(t, receipt.Order.ID, orders.Orders[0].ID)
	stored, err := repo.GetOrder(context.Background(), receipt.Order.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Items, 1)

	view, err = svc.Register(ctx)
	require.NoError(t, err)
	assert.Empty(t, view.Lines)
}

func TestCreateCustomerInvalidatesDashboard(t *testing.T) {
	mr := miniredis.RunT(t)
	client := cache.NewRedisClient(mr.Addr(), "", 0)
	t.Cleanup(func() {
		_ = client.Close()
	})
	svc := New(memory.NewSeeded(), Options{Cache: cache.NewRedisCache(client), StatsTTL: time.Minute})
	ctx := cashierCtx()

	_, err := svc.ListCustomers(context.Background(), "")
	require.ErrorIs(t, err, ErrUnauthenticated)

	stats, err := svc.DashboardStats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.TotalCustomers)

	_, err = svc.CreateCustomer(ctx, domain.CustomerCreateRequest{Name: ""})
	require.ErrorIs(t, err, store.ErrInvalidInput)
	customer, err := svc.CreateCustomer(ctx, domain.CustomerCreateRequest{Name: "Ana Prado", Phone: "11 97777-0003"})
	require.NoError(t, err)
	assert.False(t, mr.Exists(cache.DashboardStatsKey))

	stats, err = svc.DashboardStats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, stats.TotalCustomers)

	customers, err := svc.ListCustomers(ctx, "prado")
	require.NoError(t, err)
	require.Len(t, customers, 1)
	assert.Equal(t, customer.ID, customers[0].ID)
}
