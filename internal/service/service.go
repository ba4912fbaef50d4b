package service

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"pdv/backend/internal/cache"
	"pdv/backend/internal/domain"
	"pdv/backend/internal/store"
)

var (
	ErrUnauthenticated = errors.New("authenticated user required")
	ErrAdminRequired   = errors.New("admin role required")
	ErrInvalidAmount   = errors.New("amount must be a non-negative number")
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	// Cache holds dashboard stats and cash session summaries. Defaults to
	// cache.Noop.
	Cache cache.Cache
	// Numbers overrides the repository as the order numbering authority.
	Numbers           store.NumberingAuthority
	StatsTTL          time.Duration
	LowStockThreshold decimal.Decimal
	Now               func() time.Time
}

type Service struct {
	repo      store.Repository
	numbers   store.NumberingAuthority
	cache     cache.Cache
	statsTTL  time.Duration
	lowStock  decimal.Decimal
	now       func() time.Time
	registers *registry
}

func New(repo store.Repository, opts Options) *Service {
	if opts.Cache == nil {
		opts.Cache = cache.Noop{}
	}
	if opts.Numbers == nil {
		opts.Numbers = repo
	}
	if opts.StatsTTL <= 0 {
		opts.StatsTTL = 30 * time.Second
	}
	if opts.LowStockThreshold.IsZero() {
		opts.LowStockThreshold = decimal.NewFromInt(10)
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	return &Service{
		repo:      repo,
		numbers:   opts.Numbers,
		cache:     opts.Cache,
		statsTTL:  opts.StatsTTL,
		lowStock:  opts.LowStockThreshold,
		now:       opts.Now,
		registers: newRegistry(),
	}
}

func requireActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Username == "" {
		return domain.Actor{}, ErrUnauthenticated
	}
	return actor, nil
}

func requireAdmin(ctx context.Context) (domain.Actor, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Actor{}, err
	}
	if actor.Role != domain.RoleAdmin {
		return domain.Actor{}, ErrAdminRequired
	}
	return actor, nil
}

// invalidateSaleViews drops cached read models that a new order changes.
func (s *Service) invalidateSaleViews(ctx context.Context, sessionID string) {
	keys := []string{cache.DashboardStatsKey}
	if sessionID != "" {
		keys = append(keys, cache.CashSessionSummaryKey(sessionID))
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		log.Printf("[service] WARN: failed to invalidate cached views session=%s: %v", sessionID, err)
	}
}
