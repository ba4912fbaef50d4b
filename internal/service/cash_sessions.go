package service

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/shopspring/decimal"

	"pdv/backend/internal/cache"
	"pdv/backend/internal/checkout"
	"pdv/backend/internal/domain"
	"pdv/backend/internal/store"
)

func parseAmount(raw string) (decimal.Decimal, error) {
	amount, err := checkout.ParseAmount(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	return amount, nil
}

func (s *Service) OpenCashSession(ctx context.Context, req domain.CashSessionOpenRequest) (domain.CashSessionResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.CashSessionResponse{}, err
	}
	opening, err := parseAmount(req.OpeningAmount)
	if err != nil {
		return domain.CashSessionResponse{}, err
	}

	session, err := s.repo.CreateCashSession(ctx, domain.CashSession{
		UserID:        actor.Username,
		OpeningAmount: opening,
		Notes:         strings.TrimSpace(req.Notes),
		OpenedAt:      s.now(),
	})
	if err != nil {
		return domain.CashSessionResponse{}, err
	}

	s.registers.drop(actor.Username)
	s.registers.putIfAbsent(actor.Username, s.newRegister(*session))
	log.Printf("[service] cash session %s opened by %s opening=%s", session.ID, actor.Username, opening.StringFixed(2))

	return domain.CashSessionResponse{CashSession: *session}, nil
}

func (s *Service) CloseCashSession(ctx context.Context, req domain.CashSessionCloseRequest) (domain.CashSessionResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.CashSessionResponse{}, err
	}
	closing, err := parseAmount(req.ClosingAmount)
	if err != nil {
		return domain.CashSessionResponse{}, err
	}

	open, err := s.repo.GetOpenCashSession(ctx, actor.Username)
	if err != nil {
		return domain.CashSessionResponse{}, err
	}

	// Hold the register like a finalization so no sale starts while closing.
	if r, ok := s.registers.get(actor.Username); ok {
		r.mu.Lock()
		if r.finalizing {
			r.mu.Unlock()
			return domain.CashSessionResponse{}, checkout.ErrFinalizationInFlight
		}
		r.frozen = r.snapshot()
		r.finalizing = true
		r.mu.Unlock()
		defer func() {
			r.mu.Lock()
			r.finalizing = false
			r.mu.Unlock()
		}()
	}

	// Settle interrupted sales first so total_sales only counts completed orders.
	s.reconcilePending(ctx, open.ID)

	summary, err := s.repo.GetCashSessionSummary(ctx, open.ID)
	if err != nil {
		return domain.CashSessionResponse{}, err
	}

	closed, err := s.repo.CloseCashSession(ctx, open.ID, closing, summary.TotalSales, strings.TrimSpace(req.Notes), s.now())
	if err != nil {
		return domain.CashSessionResponse{}, err
	}

	s.registers.drop(actor.Username)
	if err := s.cache.Delete(ctx, cache.CashSessionSummaryKey(closed.ID)); err != nil {
		log.Printf("[service] WARN: failed to drop cached summary session=%s: %v", closed.ID, err)
	}
	log.Printf("[service] cash session %s closed by %s closing=%s total_sales=%s", closed.ID, actor.Username, closing.StringFixed(2), closed.TotalSales.StringFixed(2))

	return domain.CashSessionResponse{CashSession: *closed}, nil
}

func (s *Service) ActiveCashSession(ctx context.Context) (domain.CashSessionResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.CashSessionResponse{}, err
	}
	session, err := s.repo.GetOpenCashSession(ctx, actor.Username)
	if err != nil {
		return domain.CashSessionResponse{}, err
	}
	return domain.CashSessionResponse{CashSession: *session}, nil
}

// CashSessionSummary is readable by the session owner and by admins.
func (s *Service) CashSessionSummary(ctx context.Context, sessionID string) (domain.CashSessionSummary, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.CashSessionSummary{}, err
	}
	session, err := s.repo.GetCashSession(ctx, sessionID)
	if err != nil {
		return domain.CashSessionSummary{}, err
	}
	if session.UserID != actor.Username && actor.Role != domain.RoleAdmin {
		return domain.CashSessionSummary{}, store.ErrNotFound
	}

	key := cache.CashSessionSummaryKey(sessionID)
	var cached domain.CashSessionSummary
	found, err := s.cache.Get(ctx, key, &cached)
	if err != nil {
		log.Printf("[service] WARN: summary cache read failed session=%s: %v", sessionID, err)
	}
	if found {
		return cached, nil
	}

	summary, err := s.repo.GetCashSessionSummary(ctx, sessionID)
	if err != nil {
		return domain.CashSessionSummary{}, err
	}
	if err := s.cache.Set(ctx, key, summary, s.statsTTL); err != nil {
		log.Printf("[service] WARN: summary cache write failed session=%s: %v", sessionID, err)
	}
	return summary, nil
}
