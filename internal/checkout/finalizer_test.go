package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdv/backend/internal/cart"
	"pdv/backend/internal/domain"
	"pdv/backend/internal/store"
)

type fakeNumbers struct {
	mu    sync.Mutex
	next  int
	err   error
	calls int
}

func (f *fakeNumbers) GenerateOrderNumber(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	f.next++
	return fmt.Sprintf("PDV-%04d", f.next), nil
}

type fakeOrders struct {
	mu        sync.Mutex
	headers   []domain.Order
	items     map[string][]domain.OrderItem
	statuses  map[string]string
	keys      map[string]bool
	byKey     map[string]string
	headerErr error
	itemsErr  error
	statusErr error
	findErr   error
	// lostHeaderReply and lostItemsReply are returned once after the write
	// has been applied, as when the connection drops before the reply.
	lostHeaderReply error
	lostItemsReply  error
	// block, when set, holds CreateOrder until it is closed.
	block   chan struct{}
	entered chan struct{}
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{
		items:    map[string][]domain.OrderItem{},
		statuses: map[string]string{},
		keys:     map[string]bool{},
		byKey:    map[string]string{},
	}
}

func (f *fakeOrders) CreateOrder(_ context.Context, order domain.Order) (*domain.Order, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.headerErr != nil {
		return nil, f.headerErr
	}
	if f.keys[order.IdempotencyKey] {
		return nil, store.ErrDuplicateOrder
	}
	f.keys[order.IdempotencyKey] = true
	order.ID = fmt.Sprintf("order-%d", len(f.headers)+1)
	f.byKey[order.IdempotencyKey] = order.ID
	f.headers = append(f.headers, order)
	f.statuses[order.ID] = order.Status
	if err := f.lostHeaderReply; err != nil {
		f.lostHeaderReply = nil
		return nil, err
	}
	return &order, nil
}

func (f *fakeOrders) CreateOrderItems(_ context.Context, items []domain.OrderItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.itemsErr != nil {
		return f.itemsErr
	}
	for _, item := range items {
		f.items[item.OrderID] = append(f.items[item.OrderID], item)
	}
	if err := f.lostItemsReply; err != nil {
		f.lostItemsReply = nil
		return err
	}
	return nil
}

func (f *fakeOrders) UpdateOrderStatus(_ context.Context, orderID string, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return f.statusErr
	}
	f.statuses[orderID] = status
	return nil
}

func (f *fakeOrders) FindOrderByIdempotencyKey(_ context.Context, key string) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	id, ok := f.byKey[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	for _, header := range f.headers {
		if header.ID == id {
			header.Status = f.statuses[id]
			header.Items = append([]domain.OrderItem(nil), f.items[id]...)
			return &header, nil
		}
	}
	return nil, store.ErrNotFound
}

func product(id, name, price string) domain.Product {
	return domain.Product{ID: id, Name: name, Price: decimal.RequireFromString(price), Active: true}
}

func openSession() *domain.CashSession {
	return &domain.CashSession{ID: "session-1", UserID: "cashier", Status: domain.CashSessionStatusOpen}
}

// sampleCart holds A 10.00 x2 and B 3.50, total 23.50.
func sampleCart() *cart.Cart {
	c := cart.New()
	a := product("A", "Arroz", "10.00")
	c.Add(a)
	c.Add(a)
	c.Add(product("B", "Bala", "3.50"))
	return c
}

func TestFinalizeCashSaleEndToEnd(t *testing.T) {
	numbers := &fakeNumbers{}
	orders := newFakeOrders()
	var notified []domain.Order
	f := NewFinalizer(numbers, orders, func(_ context.Context, order domain.Order) {
		notified = append(notified, order)
	})
	c := sampleCart()

	receipt, err := f.Finalize(context.Background(), Sale{
		Cart:        c,
		CashSession: openSession(),
		UserID:      "cashier",
		Payment:     PaymentInput{Method: MethodCash, ReceivedAmount: "25.00"},
	})
	require.NoError(t, err)

	assert.Equal(t, "1.50", receipt.ChangeAmount.StringFixed(2))
	assert.Equal(t, "23.50", receipt.Order.Total.StringFixed(2))
	assert.Equal(t, domain.OrderStatusCompleted, receipt.Order.Status)
	assert.Equal(t, domain.PaymentStatusPaid, receipt.Order.PaymentStatus)
	assert.Equal(t, "session-1", receipt.Order.CashSessionID)
	assert.True(t, c.IsEmpty())

	require.Len(t, orders.headers, 1)
	header := orders.headers[0]
	assert.Equal(t, domain.OrderStatusPending, header.Status)
	assert.Equal(t, "25.00", header.ReceivedAmount.StringFixed(2))
	assert.Equal(t, domain.OrderStatusCompleted, orders.statuses[header.ID])

	items := orders.items[header.ID]
	require.Len(t, items, 2)
	assert.Equal(t, "A", items[0].ProductID)
	assert.Equal(t, 2, items[0].Quantity)
	assert.Equal(t, "20.00", items[0].TotalPrice.StringFixed(2))
	assert.Equal(t, "B", items[1].ProductID)
	assert.Equal(t, "3.50", items[1].TotalPrice.StringFixed(2))

	require.Len(t, notified, 1)
	assert.Equal(t, StateSucceeded, f.LastOutcome())
	assert.Equal(t, StateIdle, f.State())
}

func TestFinalizeInsufficientCashTouchesNothing(t *testing.T) {
	numbers := &fakeNumbers{}
	orders := newFakeOrders()
	f := NewFinalizer(numbers, orders)
	c := sampleCart()

	_, err := f.Finalize(context.Background(), Sale{
		Cart:        c,
		CashSession: openSession(),
		Payment:     PaymentInput{Method: MethodCash, ReceivedAmount: "23.49"},
	})
	require.ErrorIs(t, err, ErrInsufficientPayment)
	assert.Zero(t, numbers.calls)
	assert.Empty(t, orders.headers)
	assert.Equal(t, 3, c.ItemCount())
	assert.Equal(t, StateInvalidPayment, f.LastOutcome())
}

func TestFinalizeCardIgnoresReceivedInput(t *testing.T) {
	orders := newFakeOrders()
	f := NewFinalizer(&fakeNumbers{}, orders)

	receipt, err := f.Finalize(context.Background(), Sale{
		Cart:        sampleCart(),
		CashSession: openSession(),
		Payment:     PaymentInput{Method: MethodCard, ReceivedAmount: "0"},
	})
	require.NoError(t, err)
	assert.Equal(t, "23.50", receipt.ReceivedAmount.StringFixed(2))
	assert.True(t, receipt.ChangeAmount.IsZero())
	assert.Equal(t, MethodCard, orders.headers[0].PaymentMethod)
}

func TestFinalizeRequiresCartAndOpenSession(t *testing.T) {
	numbers := &fakeNumbers{}
	f := NewFinalizer(numbers, newFakeOrders())

	_, err := f.Finalize(context.Background(), Sale{Cart: cart.New(), CashSession: openSession()})
	require.ErrorIs(t, err, ErrEmptyCart)
	assert.Equal(t, StateRejected, f.LastOutcome())

	_, err = f.Finalize(context.Background(), Sale{Cart: sampleCart()})
	require.ErrorIs(t, err, ErrNoOpenSession)

	closed := openSession()
	closed.Status = domain.CashSessionStatusClosed
	_, err = f.Finalize(context.Background(), Sale{Cart: sampleCart(), CashSession: closed})
	require.ErrorIs(t, err, ErrNoOpenSession)
	assert.Equal(t, StateRejected, f.LastOutcome())

	assert.Zero(t, numbers.calls)
}

func TestFinalizeNumberingFailureWritesNothing(t *testing.T) {
	numbers := &fakeNumbers{err: errors.New("rpc unavailable")}
	orders := newFakeOrders()
	f := NewFinalizer(numbers, orders)
	c := sampleCart()

	_, err := f.Finalize(context.Background(), Sale{
		Cart:        c,
		CashSession: openSession(),
		Payment:     PaymentInput{Method: MethodPix},
	})
	require.ErrorIs(t, err, ErrOrderNumberGeneration)
	assert.Empty(t, orders.headers)
	assert.False(t, c.IsEmpty())
	assert.Equal(t, StateFailed, f.LastOutcome())
	assert.Equal(t, StateIdle, f.State())
}

func TestFinalizeHeaderFailureKeepsCart(t *testing.T) {
	orders := newFakeOrders()
	orders.headerErr = errors.New("insert failed")
	f := NewFinalizer(&fakeNumbers{}, orders)
	c := sampleCart()

	_, err := f.Finalize(context.Background(), Sale{Cart: c, CashSession: openSession(), Payment: PaymentInput{Method: MethodPix}})
	require.ErrorIs(t, err, ErrOrderPersistence)
	assert.Equal(t, 3, c.ItemCount())
}

func TestFinalizeItemsFailureLeavesPendingHeaderAndRetryCreatesNewOrder(t *testing.T) {
	numbers := &fakeNumbers{}
	orders := newFakeOrders()
	orders.itemsErr = errors.New("items insert failed")
	f := NewFinalizer(numbers, orders)
	c := sampleCart()
	sale := Sale{Cart: c, CashSession: openSession(), Payment: PaymentInput{Method: MethodCash, ReceivedAmount: "30"}}

	_, err := f.Finalize(context.Background(), sale)
	require.ErrorIs(t, err, ErrOrderItemsPersistence)
	require.Len(t, orders.headers, 1)
	orphan := orders.headers[0]
	assert.Equal(t, domain.OrderStatusPending, orders.statuses[orphan.ID])
	assert.Empty(t, orders.items[orphan.ID])
	assert.Equal(t, 3, c.ItemCount())

	orders.itemsErr = nil
	receipt, err := f.Finalize(context.Background(), sale)
	require.NoError(t, err)
	require.Len(t, orders.headers, 2)
	assert.NotEqual(t, orphan.OrderNumber, receipt.Order.OrderNumber)
	assert.NotEqual(t, orphan.IdempotencyKey, orders.headers[1].IdempotencyKey)
	assert.Equal(t, 2, numbers.calls)
}

func TestFinalizeStatusUpdateFailureStillSucceeds(t *testing.T) {
	orders := newFakeOrders()
	orders.statusErr = errors.New("update failed")
	f := NewFinalizer(&fakeNumbers{}, orders)
	c := sampleCart()

	receipt, err := f.Finalize(context.Background(), Sale{Cart: c, CashSession: openSession(), Payment: PaymentInput{Method: MethodPix}})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, receipt.Order.Status)
	assert.Len(t, receipt.Order.Items, 2)
	assert.True(t, c.IsEmpty())
}

func TestFinalizeRejectsConcurrentAttempt(t *testing.T) {
	orders := newFakeOrders()
	orders.block = make(chan struct{})
	orders.entered = make(chan struct{}, 1)
	f := NewFinalizer(&fakeNumbers{}, orders)

	done := make(chan error, 1)
	go func() {
		_, err := f.Finalize(context.Background(), Sale{Cart: sampleCart(), CashSession: openSession(), Payment: PaymentInput{Method: MethodPix}})
		done <- err
	}()

	select {
	case <-orders.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first finalize never reached storage")
	}
	assert.True(t, f.Busy())
	assert.Equal(t, StateSubmitting, f.State())
	assert.False(t, f.Reset())

	_, err := f.Finalize(context.Background(), Sale{Cart: sampleCart(), CashSession: openSession(), Payment: PaymentInput{Method: MethodPix}})
	require.ErrorIs(t, err, ErrFinalizationInFlight)

	close(orders.block)
	require.NoError(t, <-done)
	assert.Len(t, orders.headers, 1)
	assert.False(t, f.Busy())
}

func TestFinalizeRetryAfterLostHeaderReplyCompletesSameOrder(t *testing.T) {
	numbers := &fakeNumbers{}
	orders := newFakeOrders()
	f := NewFinalizer(numbers, orders)
	token := f.IdempotencyKey()
	c := sampleCart()
	sale := Sale{Cart: c, CashSession: openSession(), Payment: PaymentInput{Method: MethodCash, ReceivedAmount: "30,00"}}

	orders.lostHeaderReply = context.DeadlineExceeded
	_, err := f.Finalize(context.Background(), sale)
	require.ErrorIs(t, err, ErrOrderPersistence)
	assert.Equal(t, token, f.IdempotencyKey())
	assert.Equal(t, 3, c.ItemCount())
	require.Len(t, orders.headers, 1)
	assert.Empty(t, orders.items["order-1"])

	// A failed lookup leaves the token in place for the next try.
	orders.findErr = errors.New("connection reset")
	_, err = f.Finalize(context.Background(), sale)
	require.ErrorIs(t, err, ErrDuplicateSubmission)
	assert.Equal(t, token, f.IdempotencyKey())
	assert.Equal(t, 3, c.ItemCount())

	orders.findErr = nil
	receipt, err := f.Finalize(context.Background(), sale)
	require.NoError(t, err)
	assert.Equal(t, "order-1", receipt.Order.ID)
	assert.Equal(t, "PDV-0001", receipt.Order.OrderNumber)
	assert.Equal(t, domain.OrderStatusCompleted, receipt.Order.Status)
	assert.Equal(t, "6.50", receipt.ChangeAmount.StringFixed(2))
	assert.Len(t, receipt.Order.Items, 2)

	require.Len(t, orders.headers, 1)
	assert.Len(t, orders.items["order-1"], 2)
	assert.Equal(t, domain.OrderStatusCompleted, orders.statuses["order-1"])
	assert.True(t, c.IsEmpty())
	assert.NotEqual(t, token, f.IdempotencyKey())
	assert.Equal(t, StateSucceeded, f.LastOutcome())
}

func TestFinalizeRetryAfterLostItemsReplyKeepsSingleItemSet(t *testing.T) {
	orders := newFakeOrders()
	var notified []domain.Order
	f := NewFinalizer(&fakeNumbers{}, orders, func(_ context.Context, order domain.Order) {
		notified = append(notified, order)
	})
	token := f.IdempotencyKey()
	c := sampleCart()
	sale := Sale{Cart: c, CashSession: openSession(), Payment: PaymentInput{Method: MethodPix}}

	orders.lostItemsReply = context.Canceled
	_, err := f.Finalize(context.Background(), sale)
	require.ErrorIs(t, err, ErrOrderItemsPersistence)
	assert.Equal(t, token, f.IdempotencyKey())
	assert.Equal(t, domain.OrderStatusPending, orders.statuses["order-1"])

	receipt, err := f.Finalize(context.Background(), sale)
	require.NoError(t, err)
	assert.Equal(t, "order-1", receipt.Order.ID)
	assert.Len(t, orders.headers, 1)
	assert.Len(t, orders.items["order-1"], 2)
	assert.Equal(t, domain.OrderStatusCompleted, orders.statuses["order-1"])
	assert.True(t, c.IsEmpty())
	require.Len(t, notified, 1)
}

func TestFinalizeRetryWithChangedCartOrphansStaleHeader(t *testing.T) {
	orders := newFakeOrders()
	f := NewFinalizer(&fakeNumbers{}, orders)
	token := f.IdempotencyKey()
	c := sampleCart()
	sale := Sale{Cart: c, CashSession: openSession(), Payment: PaymentInput{Method: MethodPix}}

	orders.lostHeaderReply = context.DeadlineExceeded
	_, err := f.Finalize(context.Background(), sale)
	require.ErrorIs(t, err, ErrOrderPersistence)

	c.Add(product("C", "Cafe", "8.00"))
	_, err = f.Finalize(context.Background(), sale)
	require.ErrorIs(t, err, ErrDuplicateSubmission)
	assert.Equal(t, domain.OrderStatusOrphaned, orders.statuses["order-1"])
	assert.NotEqual(t, token, f.IdempotencyKey())
	assert.Equal(t, 4, c.ItemCount())

	receipt, err := f.Finalize(context.Background(), sale)
	require.NoError(t, err)
	assert.Equal(t, "order-2", receipt.Order.ID)
	assert.Equal(t, "31.50", receipt.Order.Total.StringFixed(2))
	assert.Empty(t, orders.items["order-1"])
}

func TestFinalizeMalformedHeaderResponse(t *testing.T) {
	f := NewFinalizer(&fakeNumbers{}, malformedOrders{})

	_, err := f.Finalize(context.Background(), Sale{Cart: sampleCart(), CashSession: openSession(), Payment: PaymentInput{Method: MethodPix}})
	require.ErrorIs(t, err, ErrMalformedResponse)
}

func TestResetRotatesToken(t *testing.T) {
	f := NewFinalizer(&fakeNumbers{}, newFakeOrders())
	before := f.IdempotencyKey()
	require.True(t, f.Reset())
	assert.NotEqual(t, before, f.IdempotencyKey())
}

type malformedOrders struct{}

func (malformedOrders) CreateOrder(_ context.Context, order domain.Order) (*domain.Order, error) {
	order.ID = ""
	return &order, nil
}

func (malformedOrders) CreateOrderItems(context.Context, []domain.OrderItem) error { return nil }

func (malformedOrders) FindOrderByIdempotencyKey(context.Context, string) (*domain.Order, error) {
	return nil, store.ErrNotFound
}

func (malformedOrders) UpdateOrderStatus(context.Context, string, string) error { return nil }
