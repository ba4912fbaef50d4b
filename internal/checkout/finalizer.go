package checkout

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"pdv/backend/internal/cart"
	"pdv/backend/internal/domain"
	"pdv/backend/internal/store"
	"pdv/backend/internal/xid"
)

type State string

const (
	StateIdle           State = "idle"
	StateValidating     State = "validating"
	StateInvalidPayment State = "invalid_payment"
	StateRejected       State = "rejected"
	StateSubmitting     State = "submitting"
	StateFailed         State = "failed"
	StateSucceeded      State = "succeeded"
)

// OrderWriter is the subset of order storage the workflow writes to.
type OrderWriter interface {
	CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error)
	CreateOrderItems(ctx context.Context, items []domain.OrderItem) error
	UpdateOrderStatus(ctx context.Context, orderID string, status string) error
	FindOrderByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error)
}

// SuccessListener is told about every finalized order, typically to drop
// cached order lists and cash session summaries.
type SuccessListener func(ctx context.Context, order domain.Order)

type Sale struct {
	Cart        *cart.Cart
	CashSession *domain.CashSession
	UserID      string
	Payment     PaymentInput
}

// Finalizer turns one register's cart into a persisted order. At most one
// attempt runs at a time; a concurrent call gets ErrFinalizationInFlight.
type Finalizer struct {
	numbers   store.NumberingAuthority
	orders    OrderWriter
	listeners []SuccessListener
	now       func() time.Time

	inFlight atomic.Bool

	mu          sync.Mutex
	state       State
	lastOutcome State
	token       string
}

func NewFinalizer(numbers store.NumberingAuthority, orders OrderWriter, listeners ...SuccessListener) *Finalizer {
	return &Finalizer{
		numbers:     numbers,
		orders:      orders,
		listeners:   listeners,
		now:         func() time.Time { return time.Now().UTC() },
		state:       StateIdle,
		lastOutcome: StateIdle,
		token:       newToken(),
	}
}

// State is StateSubmitting while remote writes are pending, StateIdle otherwise
// apart from the brief validation step.
func (f *Finalizer) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// LastOutcome is the terminal state of the most recent attempt.
func (f *Finalizer) LastOutcome() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastOutcome
}

func (f *Finalizer) Busy() bool {
	return f.inFlight.Load()
}

// IdempotencyKey is the token the next CreateOrder call will carry.
func (f *Finalizer) IdempotencyKey() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token
}

// Reset discards any pending payment state, as when the sale is cancelled.
// It is a no-op while an attempt is in flight.
func (f *Finalizer) Reset() bool {
	if f.inFlight.Load() {
		return false
	}
	f.mu.Lock()
	f.state = StateIdle
	f.lastOutcome = StateIdle
	f.token = newToken()
	f.mu.Unlock()
	return true
}

func (f *Finalizer) Finalize(ctx context.Context, sale Sale) (domain.SaleReceipt, error) {
	if !f.inFlight.CompareAndSwap(false, true) {
		return domain.SaleReceipt{}, ErrFinalizationInFlight
	}
	defer f.inFlight.Store(false)

	f.setState(StateValidating)

	if sale.Cart == nil || sale.Cart.IsEmpty() {
		f.finish(StateRejected, false)
		return domain.SaleReceipt{}, ErrEmptyCart
	}
	if sale.CashSession == nil || sale.CashSession.ID == "" || sale.CashSession.Status != domain.CashSessionStatusOpen {
		f.finish(StateRejected, false)
		return domain.SaleReceipt{}, ErrNoOpenSession
	}

	total := sale.Cart.GrandTotal()
	payment, err := ValidatePayment(sale.Payment, total)
	if err != nil {
		f.finish(StateInvalidPayment, false)
		return domain.SaleReceipt{}, err
	}

	f.setState(StateSubmitting)
	lines := sale.Cart.Lines()

	orderNumber, err := f.numbers.GenerateOrderNumber(ctx)
	if err != nil {
		return domain.SaleReceipt{}, f.fail(ctx, fmt.Errorf("%w: %w", ErrOrderNumberGeneration, err), "")
	}
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return domain.SaleReceipt{}, f.fail(ctx, fmt.Errorf("%w: empty order number", ErrMalformedResponse), "")
	}

	header := domain.Order{
		OrderNumber:    orderNumber,
		Type:           domain.OrderTypeDineIn,
		Subtotal:       total,
		Total:          total,
		PaymentMethod:  payment.Method,
		PaymentStatus:  domain.PaymentStatusPaid,
		Status:         domain.OrderStatusPending,
		CashSessionID:  sale.CashSession.ID,
		ReceivedAmount: payment.ReceivedAmount,
		ChangeAmount:   payment.ChangeAmount,
		UserID:         sale.UserID,
		IdempotencyKey: f.IdempotencyKey(),
		CreatedAt:      f.now(),
	}

	created, err := f.orders.CreateOrder(ctx, header)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateOrder) {
			return f.resume(ctx, sale, header, lines, err)
		}
		return domain.SaleReceipt{}, f.fail(ctx, fmt.Errorf("%w: %w", ErrOrderPersistence, err), "")
	}
	if err := checkCreatedOrder(created, header); err != nil {
		return domain.SaleReceipt{}, f.fail(ctx, err, "")
	}

	items := snapshotItems(created.ID, lines)
	if err := f.orders.CreateOrderItems(ctx, items); err != nil {
		return domain.SaleReceipt{}, f.fail(ctx, fmt.Errorf("%w: %w", ErrOrderItemsPersistence, err), created.ID)
	}
	created.Items = items

	return f.complete(ctx, sale, created, payment.ReceivedAmount, payment.ChangeAmount), nil
}

// resume picks up an attempt whose reply was lost. Storage already holds a
// header under the current token, so the sale continues on that order rather
// than on the one just rejected.
func (f *Finalizer) resume(ctx context.Context, sale Sale, header domain.Order, lines []domain.CartLine, dupErr error) (domain.SaleReceipt, error) {
	existing, err := f.orders.FindOrderByIdempotencyKey(ctx, header.IdempotencyKey)
	if errors.Is(err, store.ErrNotFound) {
		return domain.SaleReceipt{}, f.reject(fmt.Errorf("%w: %w", ErrDuplicateSubmission, dupErr))
	}
	if err != nil {
		return domain.SaleReceipt{}, f.fail(ctx, fmt.Errorf("%w: lookup failed: %w", ErrDuplicateSubmission, err), "")
	}
	if existing == nil || strings.TrimSpace(existing.ID) == "" {
		return domain.SaleReceipt{}, f.reject(fmt.Errorf("%w: lookup returned no order", ErrMalformedResponse))
	}

	if existing.CashSessionID != header.CashSessionID || !existing.Total.Equal(header.Total) || existing.Status == domain.OrderStatusOrphaned {
		// The cart changed since the lost attempt. Its header cannot be reused.
		if existing.Status == domain.OrderStatusPending && len(existing.Items) == 0 {
			if err := f.orders.UpdateOrderStatus(ctx, existing.ID, domain.OrderStatusOrphaned); err != nil {
				log.Printf("[checkout] WARN: could not mark stale order %s orphaned: %v", existing.OrderNumber, err)
			}
		}
		return domain.SaleReceipt{}, f.reject(fmt.Errorf("%w: order %s no longer matches the cart", ErrDuplicateSubmission, existing.OrderNumber))
	}

	if len(existing.Items) == 0 {
		items := snapshotItems(existing.ID, lines)
		if err := f.orders.CreateOrderItems(ctx, items); err != nil {
			return domain.SaleReceipt{}, f.fail(ctx, fmt.Errorf("%w: %w", ErrOrderItemsPersistence, err), existing.ID)
		}
		existing.Items = items
	}
	log.Printf("[checkout] order %s resumed from an earlier attempt", existing.OrderNumber)

	return f.complete(ctx, sale, existing, existing.ReceivedAmount, existing.ChangeAmount), nil
}

// complete settles an order whose items are stored: the status moves to
// completed, the cart empties and listeners run.
func (f *Finalizer) complete(ctx context.Context, sale Sale, order *domain.Order, received, change decimal.Decimal) domain.SaleReceipt {
	if order.Status != domain.OrderStatusCompleted {
		if err := f.orders.UpdateOrderStatus(ctx, order.ID, domain.OrderStatusCompleted); err != nil {
			log.Printf("[checkout] WARN: order %s saved with items but still pending: %v", order.OrderNumber, err)
		} else {
			order.Status = domain.OrderStatusCompleted
		}
	}

	sale.Cart.Clear()
	f.finish(StateSucceeded, true)
	log.Printf("[checkout] order %s finalized total=%s payment=%s session=%s", order.OrderNumber, order.Total.StringFixed(2), order.PaymentMethod, order.CashSessionID)

	for _, listener := range f.listeners {
		listener(ctx, *order)
	}

	return domain.SaleReceipt{
		Order:          *order,
		ReceivedAmount: received,
		ChangeAmount:   change,
	}
}

// reject ends an attempt that can never succeed with the current token.
func (f *Finalizer) reject(err error) error {
	f.finish(StateFailed, true)
	log.Printf("[checkout] ERROR: finalize failed: %v", err)
	return err
}

// fail logs err and returns it. The idempotency token survives when the
// outcome of the remote call is unknown, so a retry finds the header that
// may already exist instead of creating a second one.
func (f *Finalizer) fail(ctx context.Context, err error, orphanOrderID string) error {
	rotate := !isUnknownOutcome(ctx, err) && !errors.Is(err, ErrDuplicateSubmission)
	f.finish(StateFailed, rotate)
	if orphanOrderID != "" {
		log.Printf("[checkout] ERROR: order %s persisted without items: %v", orphanOrderID, err)
		return err
	}
	log.Printf("[checkout] ERROR: finalize failed: %v", err)
	return err
}

func (f *Finalizer) setState(state State) {
	f.mu.Lock()
	f.state = state
	f.mu.Unlock()
}

func (f *Finalizer) finish(outcome State, rotateToken bool) {
	f.mu.Lock()
	f.lastOutcome = outcome
	f.state = StateIdle
	if rotateToken {
		f.token = newToken()
	}
	f.mu.Unlock()
}

func isUnknownOutcome(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	return ctx.Err() != nil
}

func checkCreatedOrder(created *domain.Order, sent domain.Order) error {
	if created == nil {
		return fmt.Errorf("%w: no order returned", ErrMalformedResponse)
	}
	if strings.TrimSpace(created.ID) == "" {
		return fmt.Errorf("%w: order without id", ErrMalformedResponse)
	}
	if created.OrderNumber != sent.OrderNumber {
		return fmt.Errorf("%w: order number %q does not match %q", ErrMalformedResponse, created.OrderNumber, sent.OrderNumber)
	}
	if !created.Total.Equal(sent.Total) {
		return fmt.Errorf("%w: order total %s does not match %s", ErrMalformedResponse, created.Total.String(), sent.Total.String())
	}
	return nil
}

func snapshotItems(orderID string, lines []domain.CartLine) []domain.OrderItem {
	items := make([]domain.OrderItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, domain.OrderItem{
			ID:         xid.UUID(),
			OrderID:    orderID,
			ProductID:  line.ProductID,
			Name:       line.Name,
			Quantity:   line.Quantity,
			UnitPrice:  line.UnitPrice,
			TotalPrice: line.LineTotal,
		})
	}
	return items
}

func newToken() string {
	return xid.New("sale")
}
