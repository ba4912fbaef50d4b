package service

import (
	"context"
	"log"
	"time"

	"pdv/backend/internal/cache"
	"pdv/backend/internal/domain"
	"pdv/backend/internal/store"
)

func (s *Service) ListOrders(ctx context.Context, limit int) (domain.OrderListResponse, error) {
	if _, err := requireActor(ctx); err != nil {
		return domain.OrderListResponse{}, err
	}
	if limit < 1 {
		limit = 50
	}
	orders, err := s.repo.ListOrders(ctx, limit)
	if err != nil {
		return domain.OrderListResponse{}, err
	}
	return domain.OrderListResponse{Orders: orders}, nil
}

func (s *Service) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	if _, err := requireActor(ctx); err != nil {
		return domain.Order{}, err
	}
	if id == "" {
		return domain.Order{}, store.ErrNotFound
	}
	order, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	return *order, nil
}

// ListOrphanedOrders lists headers that were persisted without items.
func (s *Service) ListOrphanedOrders(ctx context.Context) (domain.OrderListResponse, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.OrderListResponse{}, err
	}
	orders, err := s.repo.ListOrphanedOrders(ctx)
	if err != nil {
		return domain.OrderListResponse{}, err
	}
	return domain.OrderListResponse{Orders: orders}, nil
}

func (s *Service) DashboardStats(ctx context.Context) (domain.DashboardStats, error) {
	if _, err := requireActor(ctx); err != nil {
		return domain.DashboardStats{}, err
	}

	var cached domain.DashboardStats
	found, err := s.cache.Get(ctx, cache.DashboardStatsKey, &cached)
	if err != nil {
		log.Printf("[service] WARN: dashboard cache read failed: %v", err)
	}
	if found {
		return cached, nil
	}

	now := s.now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	stats, err := s.repo.GetDashboardStats(ctx, startOfDay, s.lowStock)
	if err != nil {
		return domain.DashboardStats{}, err
	}
	if err := s.cache.Set(ctx, cache.DashboardStatsKey, stats, s.statsTTL); err != nil {
		log.Printf("[service] WARN: dashboard cache write failed: %v", err)
	}
	return stats, nil
}
