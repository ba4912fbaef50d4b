package service

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/shopspring/decimal"

	"pdv/backend/internal/checkout"
	"pdv/backend/internal/domain"
	"pdv/backend/internal/store"
)

var unitTypes = map[string]bool{"un": true, "kg": true, "g": true, "l": true, "ml": true, "cx": true}

func (s *Service) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	filter.Search = strings.TrimSpace(filter.Search)
	filter.CategoryID = strings.TrimSpace(filter.CategoryID)
	return s.repo.ListProducts(ctx, filter)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.Product{}, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Product{}, store.ErrInvalidInput
	}
	price, err := parseAmount(req.Price)
	if err != nil {
		return domain.Product{}, err
	}
	unit, err := normalizeUnit(req.UnitType)
	if err != nil {
		return domain.Product{}, err
	}
	product := domain.Product{
		Name:        name,
		Description: strings.TrimSpace(req.Description),
		Price:       price,
		Barcode:     strings.TrimSpace(req.Barcode),
		CategoryID:  strings.TrimSpace(req.CategoryID),
		UnitType:    unit,
		Active:      true,
	}
	if product.CostPrice, err = optionalAmount(req.CostPrice); err != nil {
		return domain.Product{}, err
	}
	if product.StockQuantity, err = quantityOrZero(req.StockQuantity); err != nil {
		return domain.Product{}, err
	}
	if product.MinStock, err = quantityOrZero(req.MinStock); err != nil {
		return domain.Product{}, err
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}
	s.invalidateSaleViews(ctx, "")
	log.Printf("[service] product %s created by %s price=%s", created.ID, actor.Username, created.Price.StringFixed(2))
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.Product{}, err
	}

	existing, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, store.ErrInvalidInput
		}
		updated.Name = name
	}
	if req.Description != nil {
		updated.Description = strings.TrimSpace(*req.Description)
	}
	if req.Price != nil {
		if updated.Price, err = parseAmount(*req.Price); err != nil {
			return domain.Product{}, err
		}
	}
	if req.CostPrice != nil {
		if updated.CostPrice, err = optionalAmount(*req.CostPrice); err != nil {
			return domain.Product{}, err
		}
	}
	if req.Barcode != nil {
		updated.Barcode = strings.TrimSpace(*req.Barcode)
	}
	if req.CategoryID != nil {
		updated.CategoryID = strings.TrimSpace(*req.CategoryID)
	}
	if req.UnitType != nil {
		if updated.UnitType, err = normalizeUnit(*req.UnitType); err != nil {
			return domain.Product{}, err
		}
	}
	if req.StockQuantity != nil {
		if updated.StockQuantity, err = quantityOrZero(*req.StockQuantity); err != nil {
			return domain.Product{}, err
		}
	}
	if req.MinStock != nil {
		if updated.MinStock, err = quantityOrZero(*req.MinStock); err != nil {
			return domain.Product{}, err
		}
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}
	s.invalidateSaleViews(ctx, "")
	if !existing.Price.Equal(saved.Price) {
		log.Printf("[service] product %s price changed by %s %s -> %s", saved.ID, actor.Username, existing.Price.StringFixed(2), saved.Price.StringFixed(2))
	}
	return *saved, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		return err
	}
	s.invalidateSaleViews(ctx, "")
	log.Printf("[service] product %s deleted by %s", id, actor.Username)
	return nil
}

func (s *Service) ListCategories(ctx context.Context) ([]domain.Category, error) {
	return s.repo.ListCategories(ctx)
}

func (s *Service) CreateCategory(ctx context.Context, req domain.CategoryCreateRequest) (domain.Category, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Category{}, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Category{}, store.ErrInvalidInput
	}
	created, err := s.repo.CreateCategory(ctx, domain.Category{
		Name:        name,
		Description: strings.TrimSpace(req.Description),
	})
	if err != nil {
		return domain.Category{}, err
	}
	s.invalidateSaleViews(ctx, "")
	return *created, nil
}

func normalizeUnit(raw string) (string, error) {
	unit := strings.ToLower(strings.TrimSpace(raw))
	if unit == "" {
		return "un", nil
	}
	if !unitTypes[unit] {
		return "", store.ErrInvalidInput
	}
	return unit, nil
}

func optionalAmount(raw string) (*decimal.Decimal, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	amount, err := parseAmount(raw)
	if err != nil {
		return nil, err
	}
	return &amount, nil
}

func quantityOrZero(raw string) (decimal.Decimal, error) {
	if strings.TrimSpace(raw) == "" {
		return decimal.Zero, nil
	}
	qty, err := checkout.ParseQuantity(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	return qty, nil
}
