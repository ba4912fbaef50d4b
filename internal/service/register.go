package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"pdv/backend/internal/cart"
	"pdv/backend/internal/checkout"
	"pdv/backend/internal/domain"
	"pdv/backend/internal/store"
)

// Register is the point-of-sale state of one user: the open cash session,
// the cart of the sale in progress and the finalizer that submits it.
type Register struct {
	mu         sync.Mutex
	session    domain.CashSession
	cart       *cart.Cart
	finalizer  *checkout.Finalizer
	finalizing bool
	// frozen is the view served while the finalizer owns the cart.
	frozen domain.RegisterResponse
}

func (r *Register) snapshot() domain.RegisterResponse {
	if r.finalizing {
		view := r.frozen
		view.State = string(r.finalizer.State())
		return view
	}
	return domain.RegisterResponse{
		CashSession: r.session,
		Lines:       r.cart.Lines(),
		ItemCount:   r.cart.ItemCount(),
		GrandTotal:  r.cart.GrandTotal(),
		State:       string(r.finalizer.State()),
	}
}

type registry struct {
	mu     sync.Mutex
	byUser map[string]*Register
}

func newRegistry() *registry {
	return &registry{byUser: make(map[string]*Register)}
}

func (g *registry) get(userID string) (*Register, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.byUser[userID]
	return r, ok
}

// putIfAbsent stores r unless another register won the race; the stored one
// is returned.
func (g *registry) putIfAbsent(userID string, r *Register) *Register {
	g.mu.Lock()
	defer g.mu.Unlock()
	if existing, ok := g.byUser[userID]; ok {
		return existing
	}
	g.byUser[userID] = r
	return r
}

func (g *registry) drop(userID string) {
	g.mu.Lock()
	delete(g.byUser, userID)
	g.mu.Unlock()
}

func (s *Service) newRegister(session domain.CashSession) *Register {
	finalizer := checkout.NewFinalizer(s.numbers, s.repo, func(ctx context.Context, order domain.Order) {
		s.invalidateSaleViews(ctx, order.CashSessionID)
	})
	return &Register{
		session:   session,
		cart:      cart.New(),
		finalizer: finalizer,
	}
}

// register returns the acting user's register, rebuilding it from the open
// cash session when the process has none (after a restart).
func (s *Service) register(ctx context.Context) (*Register, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if r, ok := s.registers.get(actor.Username); ok {
		return r, nil
	}

	session, err := s.repo.GetOpenCashSession(ctx, actor.Username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, checkout.ErrNoOpenSession
		}
		return nil, err
	}

	s.reconcilePending(ctx, session.ID)
	return s.registers.putIfAbsent(actor.Username, s.newRegister(*session)), nil
}

// reconcilePending settles headers left pending by an interrupted sale.
// Headers whose items were written are completed; headers without items are
// marked orphaned and never completed.
func (s *Service) reconcilePending(ctx context.Context, sessionID string) {
	pending, err := s.repo.ListPendingOrders(ctx, sessionID)
	if err != nil {
		log.Printf("[service] WARN: failed to list pending orders session=%s: %v", sessionID, err)
		return
	}

	changed := false
	for _, order := range pending {
		status := domain.OrderStatusCompleted
		if len(order.Items) == 0 {
			status = domain.OrderStatusOrphaned
		}
		if err := s.repo.UpdateOrderStatus(ctx, order.ID, status); err != nil {
			log.Printf("[service] WARN: failed to reconcile order %s: %v", order.OrderNumber, err)
			continue
		}
		changed = true
		if status == domain.OrderStatusOrphaned {
			log.Printf("[service] WARN: order %s has no items, marked orphaned session=%s", order.OrderNumber, sessionID)
		} else {
			log.Printf("[service] order %s completed on reconciliation session=%s", order.OrderNumber, sessionID)
		}
	}
	if changed {
		s.invalidateSaleViews(ctx, sessionID)
	}
}

func (s *Service) Register(ctx context.Context) (domain.RegisterResponse, error) {
	r, err := s.register(ctx)
	if err != nil {
		return domain.RegisterResponse{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot(), nil
}

// mutateCart runs fn on the register's cart unless a sale is being
// finalized.
func (s *Service) mutateCart(ctx context.Context, fn func(c *cart.Cart) error) (domain.RegisterResponse, error) {
	r, err := s.register(ctx)
	if err != nil {
		return domain.RegisterResponse{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalizing {
		return domain.RegisterResponse{}, checkout.ErrFinalizationInFlight
	}
	if err := fn(r.cart); err != nil {
		return domain.RegisterResponse{}, err
	}
	return r.snapshot(), nil
}

func (s *Service) AddToCart(ctx context.Context, productID string) (domain.RegisterResponse, error) {
	if productID == "" {
		return domain.RegisterResponse{}, store.ErrInvalidInput
	}
	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return domain.RegisterResponse{}, err
	}
	if !product.Active {
		return domain.RegisterResponse{}, fmt.Errorf("%w: product %s is inactive", store.ErrNotFound, productID)
	}

	return s.mutateCart(ctx, func(c *cart.Cart) error {
		c.Add(*product)
		return nil
	})
}

func (s *Service) SetCartQuantity(ctx context.Context, productID string, quantity int) (domain.RegisterResponse, error) {
	return s.mutateCart(ctx, func(c *cart.Cart) error {
		if !c.SetQuantity(productID, quantity) {
			return store.ErrNotFound
		}
		return nil
	})
}

func (s *Service) RemoveFromCart(ctx context.Context, productID string) (domain.RegisterResponse, error) {
	return s.mutateCart(ctx, func(c *cart.Cart) error {
		c.Remove(productID)
		return nil
	})
}

// ClearCart cancels the sale in progress and discards any payment state.
func (s *Service) ClearCart(ctx context.Context) (domain.RegisterResponse, error) {
	r, err := s.register(ctx)
	if err != nil {
		return domain.RegisterResponse{}, err
	}
	return s.mutateCart(ctx, func(c *cart.Cart) error {
		c.Clear()
		r.finalizer.Reset()
		return nil
	})
}

// FinalizeSale submits the register's cart as a paid order. The register
// rejects cart changes and further attempts until this one returns.
func (s *Service) FinalizeSale(ctx context.Context, req domain.FinalizeRequest) (domain.SaleReceipt, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.SaleReceipt{}, err
	}
	r, err := s.register(ctx)
	if err != nil {
		return domain.SaleReceipt{}, err
	}

	r.mu.Lock()
	if r.finalizing {
		r.mu.Unlock()
		return domain.SaleReceipt{}, checkout.ErrFinalizationInFlight
	}
	r.frozen = r.snapshot()
	r.finalizing = true
	session := r.session
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.finalizing = false
		r.mu.Unlock()
	}()

	return r.finalizer.Finalize(ctx, checkout.Sale{
		Cart:        r.cart,
		CashSession: &session,
		UserID:      actor.Username,
		Payment: checkout.PaymentInput{
			Method:         req.PaymentMethod,
			ReceivedAmount: req.ReceivedAmount,
		},
	})
}
