package service

import (
	"context"
	"log"
	"strings"

	"pdv/backend/internal/domain"
	"pdv/backend/internal/store"
)

func (s *Service) ListCustomers(ctx context.Context, search string) ([]domain.Customer, error) {
	if _, err := requireActor(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListCustomers(ctx, search)
}

// CreateCustomer registers a customer from the counter; cashiers may do it.
func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Customer{}, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Customer{}, store.ErrInvalidInput
	}
	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		Name:  name,
		Phone: strings.TrimSpace(req.Phone),
	})
	if err != nil {
		return domain.Customer{}, err
	}
	s.invalidateSaleViews(ctx, "")
	log.Printf("[service] customer %s created by %s", created.ID, actor.Username)
	return *created, nil
}
