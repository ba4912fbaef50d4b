package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"pdv/backend/internal/domain"
	"pdv/backend/internal/store"
	"pdv/backend/internal/xid"
)

const defaultOrderPrefix = "PDV"

type Store struct {
	mu                sync.RWMutex
	categories        map[string]domain.Category
	products          map[string]domain.Product
	customers         map[string]domain.Customer
	cashSessions      map[string]domain.CashSession
	openSessionByUser map[string]string
	orders            map[string]*domain.Order
	orderSeq          []string
	ordersByIdem      map[string]string
	usersByUsername   map[string]domain.UserAccount
	orderPrefix       string
	orderCounter      int64
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD,
// falling back to dev defaults with a warning.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// New returns an empty store with the seed users only.
func New() *Store {
	return &Store{
		categories:        make(map[string]domain.Category),
		products:          make(map[string]domain.Product),
		customers:         make(map[string]domain.Customer),
		cashSessions:      make(map[string]domain.CashSession),
		openSessionByUser: make(map[string]string),
		orders:            make(map[string]*domain.Order),
		orderSeq:          make([]string, 0, 64),
		ordersByIdem:      make(map[string]string),
		usersByUsername:   seedUsers(),
		orderPrefix:       defaultOrderPrefix,
	}
}

// NewSeeded returns a store with a small demo catalog.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	categories := []domain.Category{
		{ID: "cat-mercearia", Name: "Mercearia"},
		{ID: "cat-bebidas", Name: "Bebidas"},
		{ID: "cat-padaria", Name: "Padaria"},
		{ID: "cat-limpeza", Name: "Limpeza"},
	}
	for _, c := range categories {
		c.CreatedAt = now
		s.categories[c.ID] = c
	}

	products := []struct {
		id, name, category, price, stock, unit string
	}{
		{"prd-arroz", "Arroz Tipo 1 5kg", "cat-mercearia", "24.90", "40", "un"},
		{"prd-feijao", "Feijão Carioca 1kg", "cat-mercearia", "8.49", "35", "un"},
		{"prd-acucar", "Açúcar Refinado 1kg", "cat-mercearia", "4.79", "6", "un"},
		{"prd-cafe", "Café Torrado 500g", "cat-mercearia", "15.90", "22", "un"},
		{"prd-leite", "Leite Integral 1L", "cat-bebidas", "4.99", "60", "un"},
		{"prd-refri", "Refrigerante 2L", "cat-bebidas", "9.99", "8", "un"},
		{"prd-pao", "Pão Francês", "cat-padaria", "14.90", "12.5", "kg"},
		{"prd-sabao", "Sabão em Pó 1kg", "cat-limpeza", "12.50", "18", "un"},
	}
	for _, p := range products {
		s.products[p.id] = domain.Product{
			ID:            p.id,
			Name:          p.name,
			Price:         decimal.RequireFromString(p.price),
			CategoryID:    p.category,
			UnitType:      p.unit,
			StockQuantity: decimal.RequireFromString(p.stock),
			MinStock:      decimal.NewFromInt(5),
			Active:        true,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
	}

	for _, c := range []domain.Customer{
		{ID: "cus-1", Name: "Maria Souza", Phone: "+55 11 98888-0001"},
		{ID: "cus-2", Name: "João Lima", Phone: "+55 11 98888-0002"},
	} {
		c.CreatedAt = now
		s.customers[c.ID] = c
	}
	return s
}

// SetOrderNumberPrefix changes the prefix of numbers issued by
// GenerateOrderNumber. An empty prefix keeps the default.
func (s *Store) SetOrderNumberPrefix(prefix string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(prefix) != "" {
		s.orderPrefix = strings.TrimSpace(prefix)
	}
}

func (s *Store) ListProducts(_ context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(strings.TrimSpace(filter.Search))
	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if filter.ActiveOnly && !p.Active {
			continue
		}
		if filter.CategoryID != "" && p.CategoryID != filter.CategoryID {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(p.Name), search) {
			continue
		}
		products = append(products, s.withCategoryName(p))
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Name == b.Name {
			return strings.Compare(a.ID, b.ID)
		}
		return strings.Compare(a.Name, b.Name)
	})
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	out := s.withCategoryName(product)
	return &out, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.validateProduct(product); err != nil {
		return nil, err
	}
	if product.ID == "" {
		product.ID = xid.UUID()
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrInvalidInput
	}
	now := time.Now().UTC()
	product.CreatedAt = now
	product.UpdatedAt = now
	s.products[product.ID] = product

	out := s.withCategoryName(product)
	return &out, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.products[product.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if err := s.validateProduct(product); err != nil {
		return nil, err
	}
	product.CreatedAt = existing.CreatedAt
	product.UpdatedAt = time.Now().UTC()
	s.products[product.ID] = product

	out := s.withCategoryName(product)
	return &out, nil
}

func (s *Store) DeleteProduct(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[id]; !exists {
		return store.ErrNotFound
	}
	delete(s.products, id)
	return nil
}

func (s *Store) ListCategories(_ context.Context) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	categories := make([]domain.Category, 0, len(s.categories))
	for _, c := range s.categories {
		categories = append(categories, c)
	}
	slices.SortFunc(categories, func(a, b domain.Category) int {
		return strings.Compare(a.Name, b.Name)
	})
	return categories, nil
}

func (s *Store) CreateCategory(_ context.Context, category domain.Category) (*domain.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	category.Name = strings.TrimSpace(category.Name)
	if category.Name == "" {
		return nil, store.ErrInvalidInput
	}
	for _, existing := range s.categories {
		if strings.EqualFold(existing.Name, category.Name) {
			return nil, store.ErrInvalidInput
		}
	}
	if category.ID == "" {
		category.ID = xid.UUID()
	}
	category.CreatedAt = time.Now().UTC()
	s.categories[category.ID] = category
	out := category
	return &out, nil
}

func (s *Store) ListCustomers(_ context.Context, search string) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search = strings.ToLower(strings.TrimSpace(search))
	customers := make([]domain.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		if search != "" && !strings.Contains(strings.ToLower(c.Name), search) && !strings.Contains(c.Phone, search) {
			continue
		}
		customers = append(customers, c)
	}
	slices.SortFunc(customers, func(a, b domain.Customer) int {
		return strings.Compare(a.Name, b.Name)
	})
	return customers, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	customer.Name = strings.TrimSpace(customer.Name)
	customer.Phone = strings.TrimSpace(customer.Phone)
	if customer.Name == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if customer.ID == "" {
		customer.ID = xid.UUID()
	}
	if _, exists := s.customers[customer.ID]; exists {
		return nil, store.ErrInvalidInput
	}
	customer.CreatedAt = time.Now().UTC()
	s.customers[customer.ID] = customer
	out := customer
	return &out, nil
}

func (s *Store) CreateCashSession(_ context.Context, session domain.CashSession) (*domain.CashSession, error) {
	if strings.TrimSpace(session.UserID) == "" || session.OpeningAmount.IsNegative() {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.openSessionByUser[session.UserID]; exists {
		return nil, store.ErrSessionAlreadyOpen
	}
	if session.ID == "" {
		session.ID = xid.UUID()
	}
	if session.OpenedAt.IsZero() {
		session.OpenedAt = time.Now().UTC()
	}
	session.Status = domain.CashSessionStatusOpen
	session.ClosedAt = nil
	session.ClosingAmount = nil
	session.TotalSales = decimal.Zero

	s.cashSessions[session.ID] = session
	s.openSessionByUser[session.UserID] = session.ID
	out := session
	return &out, nil
}

func (s *Store) GetOpenCashSession(_ context.Context, userID string) (*domain.CashSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessionID, exists := s.openSessionByUser[userID]
	if !exists {
		return nil, store.ErrNotFound
	}
	session, exists := s.cashSessions[sessionID]
	if !exists || session.Status != domain.CashSessionStatusOpen {
		return nil, store.ErrNotFound
	}
	out := session
	return &out, nil
}

func (s *Store) GetCashSession(_ context.Context, id string) (*domain.CashSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.cashSessions[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	out := session
	return &out, nil
}

func (s *Store) CloseCashSession(_ context.Context, id string, closingAmount decimal.Decimal, totalSales decimal.Decimal, notes string, closedAt time.Time) (*domain.CashSession, error) {
	if closingAmount.IsNegative() {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.cashSessions[id]
	if !exists || session.Status != domain.CashSessionStatusOpen {
		return nil, store.ErrNotFound
	}
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}
	session.Status = domain.CashSessionStatusClosed
	session.ClosingAmount = &closingAmount
	session.TotalSales = totalSales
	session.ClosedAt = &closedAt
	if strings.TrimSpace(notes) != "" {
		session.Notes = notes
	}

	delete(s.openSessionByUser, session.UserID)
	s.cashSessions[id] = session
	out := session
	return &out, nil
}

func (s *Store) GenerateOrderNumber(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.orderCounter++
	return store.FormatOrderNumber(s.orderPrefix, s.orderCounter), nil
}

func (s *Store) CreateOrder(_ context.Context, order domain.Order) (*domain.Order, error) {
	if strings.TrimSpace(order.OrderNumber) == "" || strings.TrimSpace(order.CashSessionID) == "" {
		return nil, store.ErrInvalidInput
	}
	if order.Total.IsNegative() || order.ChangeAmount.IsNegative() {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.cashSessions[order.CashSessionID]
	if !exists || session.Status != domain.CashSessionStatusOpen {
		return nil, store.ErrInvalidInput
	}
	if order.IdempotencyKey != "" {
		if _, used := s.ordersByIdem[order.IdempotencyKey]; used {
			return nil, store.ErrDuplicateOrder
		}
	}
	for _, existing := range s.orders {
		if existing.OrderNumber == order.OrderNumber {
			return nil, store.ErrInvalidInput
		}
	}

	if order.ID == "" {
		order.ID = xid.UUID()
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	if order.Status == "" {
		order.Status = domain.OrderStatusPending
	}
	order.Items = nil

	saved := order
	s.orders[order.ID] = &saved
	s.orderSeq = append(s.orderSeq, order.ID)
	if order.IdempotencyKey != "" {
		s.ordersByIdem[order.IdempotencyKey] = order.ID
	}
	return cloneOrder(&saved), nil
}

func (s *Store) CreateOrderItems(_ context.Context, items []domain.OrderItem) error {
	if len(items) == 0 {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, item := range items {
		if _, exists := s.orders[item.OrderID]; !exists {
			return store.ErrNotFound
		}
		if item.Quantity < 1 {
			return store.ErrInvalidInput
		}
	}
	for _, item := range items {
		if item.ID == "" {
			item.ID = xid.UUID()
		}
		order := s.orders[item.OrderID]
		order.Items = append(order.Items, item)
	}
	return nil
}

func (s *Store) UpdateOrderStatus(_ context.Context, orderID string, status string) error {
	switch status {
	case domain.OrderStatusPending, domain.OrderStatusCompleted, domain.OrderStatusOrphaned:
	default:
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	order, exists := s.orders[orderID]
	if !exists {
		return store.ErrNotFound
	}
	order.Status = status
	return nil
}

func (s *Store) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, exists := s.orders[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return cloneOrder(order), nil
}

func (s *Store) FindOrderByIdempotencyKey(_ context.Context, key string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orderID, exists := s.ordersByIdem[key]
	if !exists {
		return nil, store.ErrNotFound
	}
	return cloneOrder(s.orders[orderID]), nil
}

func (s *Store) ListOrders(_ context.Context, limit int) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > 500 {
		limit = 50
	}
	out := make([]domain.Order, 0, min(limit, len(s.orderSeq)))
	for i := len(s.orderSeq) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, *cloneOrder(s.orders[s.orderSeq[i]]))
	}
	return out, nil
}

func (s *Store) ListPendingOrders(_ context.Context, sessionID string) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Order, 0)
	for _, id := range s.orderSeq {
		order := s.orders[id]
		if order.Status != domain.OrderStatusPending {
			continue
		}
		if sessionID != "" && order.CashSessionID != sessionID {
			continue
		}
		out = append(out, *cloneOrder(order))
	}
	return out, nil
}

func (s *Store) ListOrphanedOrders(_ context.Context) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Order, 0)
	for i := len(s.orderSeq) - 1; i >= 0; i-- {
		order := s.orders[s.orderSeq[i]]
		if order.Status == domain.OrderStatusOrphaned || (order.Status == domain.OrderStatusPending && len(order.Items) == 0) {
			out = append(out, *cloneOrder(order))
		}
	}
	return out, nil
}

func (s *Store) GetDashboardStats(_ context.Context, since time.Time, lowStockThreshold decimal.Decimal) (domain.DashboardStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := domain.DashboardStats{TodaySales: decimal.Zero}
	for _, order := range s.orders {
		if order.Status != domain.OrderStatusCompleted {
			continue
		}
		stats.TotalOrders++
		if !order.CreatedAt.Before(since) {
			stats.TodayOrdersCount++
			stats.TodaySales = stats.TodaySales.Add(order.Total)
		}
	}
	for _, product := range s.products {
		if !product.Active {
			continue
		}
		stats.ActiveProducts++
		if product.StockQuantity.LessThan(lowStockThreshold) {
			stats.LowStockCount++
		}
	}
	stats.TotalCategories = int64(len(s.categories))
	stats.TotalCustomers = int64(len(s.customers))
	stats.GeneratedAt = time.Now().UTC().Format(time.RFC3339)
	return stats, nil
}

func (s *Store) GetCashSessionSummary(_ context.Context, sessionID string) (domain.CashSessionSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.cashSessions[sessionID]
	if !exists {
		return domain.CashSessionSummary{}, store.ErrNotFound
	}

	summary := domain.CashSessionSummary{
		CashSessionID: sessionID,
		TotalSales:    decimal.Zero,
		OpeningAmount: session.OpeningAmount,
		ExpectedCash:  session.OpeningAmount,
	}
	byMethod := map[string]*domain.PaymentTotal{}
	for _, id := range s.orderSeq {
		order := s.orders[id]
		if order.CashSessionID != sessionID || order.Status != domain.OrderStatusCompleted {
			continue
		}
		summary.Orders++
		summary.TotalSales = summary.TotalSales.Add(order.Total)
		if order.PaymentMethod == "cash" {
			summary.ExpectedCash = summary.ExpectedCash.Add(order.Total)
		}
		entry, ok := byMethod[order.PaymentMethod]
		if !ok {
			entry = &domain.PaymentTotal{PaymentMethod: order.PaymentMethod, Total: decimal.Zero}
			byMethod[order.PaymentMethod] = entry
		}
		entry.Orders++
		entry.Total = entry.Total.Add(order.Total)
	}

	summary.ByPayment = make([]domain.PaymentTotal, 0, len(byMethod))
	for _, entry := range byMethod {
		summary.ByPayment = append(summary.ByPayment, *entry)
	}
	slices.SortFunc(summary.ByPayment, func(a, b domain.PaymentTotal) int {
		return strings.Compare(a.PaymentMethod, b.PaymentMethod)
	})
	return summary, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidInput
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) validateProduct(product domain.Product) error {
	if strings.TrimSpace(product.Name) == "" || product.Price.IsNegative() {
		return fmt.Errorf("%w: name and a non-negative price are required", store.ErrInvalidInput)
	}
	if product.CostPrice != nil && product.CostPrice.IsNegative() {
		return fmt.Errorf("%w: cost price is negative", store.ErrInvalidInput)
	}
	if product.CategoryID != "" {
		if _, exists := s.categories[product.CategoryID]; !exists {
			return fmt.Errorf("%w: unknown category %s", store.ErrInvalidInput, product.CategoryID)
		}
	}
	return nil
}

func (s *Store) withCategoryName(product domain.Product) domain.Product {
	if category, ok := s.categories[product.CategoryID]; ok {
		product.CategoryName = category.Name
	}
	return product
}

func cloneOrder(src *domain.Order) *domain.Order {
	if src == nil {
		return nil
	}
	out := *src
	if src.Items != nil {
		out.Items = append([]domain.OrderItem(nil), src.Items...)
	}
	return &out
}
