package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"pdv/backend/internal/domain"
	"pdv/backend/internal/store"
	"pdv/backend/internal/xid"
)

type Store struct {
	db          *sql.DB
	orderPrefix string
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, orderPrefix: "PDV"}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SetOrderNumberPrefix changes the prefix passed to generate_order_number.
func (s *Store) SetOrderNumberPrefix(prefix string) {
	if strings.TrimSpace(prefix) != "" {
		s.orderPrefix = strings.TrimSpace(prefix)
	}
}

const productColumns = `
	p.id, p.name, COALESCE(p.description, ''), p.price, p.cost_price, COALESCE(p.barcode, ''),
	p.category_id, COALESCE(c.name, ''), p.unit_type, p.stock_quantity, p.min_stock,
	p.is_active, p.created_at, p.updated_at`

func scanProduct(row interface{ Scan(dest ...any) error }) (domain.Product, error) {
	var (
		p          domain.Product
		costPrice  decimal.NullDecimal
		categoryID sql.NullString
	)
	err := row.Scan(
		&p.ID, &p.Name, &p.Description, &p.Price, &costPrice, &p.Barcode,
		&categoryID, &p.CategoryName, &p.UnitType, &p.StockQuantity, &p.MinStock,
		&p.Active, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Product{}, err
	}
	if costPrice.Valid {
		cost := costPrice.Decimal
		p.CostPrice = &cost
	}
	p.CategoryID = categoryID.String
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func (s *Store) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	var (
		where []string
		args  []any
	)
	if filter.ActiveOnly {
		where = append(where, "p.is_active = true")
	}
	if filter.CategoryID != "" {
		args = append(args, filter.CategoryID)
		where = append(where, fmt.Sprintf("p.category_id = $%d", len(args)))
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		args = append(args, "%"+search+"%")
		where = append(where, fmt.Sprintf("p.name ILIKE $%d", len(args)))
	}

	query := `SELECT ` + productColumns + `
		FROM products p
		LEFT JOIN categories c ON c.id = p.category_id`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY p.name ASC, p.id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		if isInvalidText(err) {
			return []domain.Product{}, nil
		}
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+productColumns+`
		FROM products p
		LEFT JOIN categories c ON c.id = p.category_id
		WHERE p.id = $1
	`, id)
	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isInvalidText(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.Name) == "" || product.Price.IsNegative() {
		return nil, store.ErrInvalidInput
	}
	if product.ID == "" {
		product.ID = xid.UUID()
	}
	if product.UnitType == "" {
		product.UnitType = "un"
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (
			id, name, description, price, cost_price, barcode, category_id, unit_type,
			stock_quantity, min_stock, is_active, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,now(),now())
	`, product.ID, product.Name, nullIfEmpty(product.Description), product.Price, nullDecimal(product.CostPrice),
		nullIfEmpty(product.Barcode), nullIfEmpty(product.CategoryID), product.UnitType,
		product.StockQuantity, product.MinStock, product.Active)
	if err != nil {
		if isUniqueViolation(err) || isForeignKeyViolation(err) || isCheckViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}
	return s.GetProduct(ctx, product.ID)
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.Name) == "" || product.Price.IsNegative() {
		return nil, store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2, description = $3, price = $4, cost_price = $5, barcode = $6, category_id = $7,
			unit_type = $8, stock_quantity = $9, min_stock = $10, is_active = $11, updated_at = now()
		WHERE id = $1
	`, product.ID, product.Name, nullIfEmpty(product.Description), product.Price, nullDecimal(product.CostPrice),
		nullIfEmpty(product.Barcode), nullIfEmpty(product.CategoryID), product.UnitType,
		product.StockQuantity, product.MinStock, product.Active)
	if err != nil {
		if isInvalidText(err) {
			return nil, store.ErrNotFound
		}
		if isForeignKeyViolation(err) || isCheckViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetProduct(ctx, product.ID)
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		if isInvalidText(err) {
			return store.ErrNotFound
		}
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(description, ''), created_at
		FROM categories
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := make([]domain.Category, 0, 16)
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.CreatedAt = c.CreatedAt.UTC()
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return categories, nil
}

func (s *Store) CreateCategory(ctx context.Context, category domain.Category) (*domain.Category, error) {
	category.Name = strings.TrimSpace(category.Name)
	if category.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if category.ID == "" {
		category.ID = xid.UUID()
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO categories (id, name, description, created_at)
		VALUES ($1,$2,$3,now())
		RETURNING created_at
	`, category.ID, category.Name, nullIfEmpty(category.Description)).Scan(&category.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}
	category.CreatedAt = category.CreatedAt.UTC()
	return &category, nil
}

func (s *Store) ListCustomers(ctx context.Context, search string) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(phone, ''), created_at
		FROM customers
		WHERE $1::text = '' OR name ILIKE '%' || $1::text || '%' OR phone LIKE '%' || $1::text || '%'
		ORDER BY name ASC
	`, strings.TrimSpace(search))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 32)
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.CreatedAt = c.CreatedAt.UTC()
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return customers, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	customer.Name = strings.TrimSpace(customer.Name)
	customer.Phone = strings.TrimSpace(customer.Phone)
	if customer.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if customer.ID == "" {
		customer.ID = xid.UUID()
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO customers (id, name, phone, created_at)
		VALUES ($1,$2,$3,now())
		RETURNING created_at
	`, customer.ID, customer.Name, nullIfEmpty(customer.Phone)).Scan(&customer.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}
	customer.CreatedAt = customer.CreatedAt.UTC()
	return &customer, nil
}

const cashSessionColumns = `
	id, user_id, status, opening_amount, closing_amount, total_sales,
	COALESCE(notes, ''), opened_at, closed_at`

func scanCashSession(row interface{ Scan(dest ...any) error }) (*domain.CashSession, error) {
	var (
		session       domain.CashSession
		closingAmount decimal.NullDecimal
		closedAt      sql.NullTime
	)
	if err := row.Scan(
		&session.ID, &session.UserID, &session.Status, &session.OpeningAmount, &closingAmount,
		&session.TotalSales, &session.Notes, &session.OpenedAt, &closedAt,
	); err != nil {
		return nil, err
	}
	session.OpenedAt = session.OpenedAt.UTC()
	if closingAmount.Valid {
		amount := closingAmount.Decimal
		session.ClosingAmount = &amount
	}
	if closedAt.Valid {
		at := closedAt.Time.UTC()
		session.ClosedAt = &at
	}
	return &session, nil
}

func (s *Store) CreateCashSession(ctx context.Context, session domain.CashSession) (*domain.CashSession, error) {
	if strings.TrimSpace(session.UserID) == "" || session.OpeningAmount.IsNegative() {
		return nil, store.ErrInvalidInput
	}
	if session.ID == "" {
		session.ID = xid.UUID()
	}
	if session.OpenedAt.IsZero() {
		session.OpenedAt = time.Now().UTC()
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO cash_sessions (id, user_id, status, opening_amount, total_sales, notes, opened_at)
		VALUES ($1,$2,'open',$3,0,$4,$5)
		RETURNING `+cashSessionColumns,
		session.ID, session.UserID, session.OpeningAmount, nullIfEmpty(session.Notes), session.OpenedAt)
	created, err := scanCashSession(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrSessionAlreadyOpen
		}
		return nil, err
	}
	return created, nil
}

func (s *Store) GetOpenCashSession(ctx context.Context, userID string) (*domain.CashSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+cashSessionColumns+`
		FROM cash_sessions
		WHERE user_id = $1 AND status = 'open'
		ORDER BY opened_at DESC
		LIMIT 1
	`, userID)
	session, err := scanCashSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return session, nil
}

func (s *Store) GetCashSession(ctx context.Context, id string) (*domain.CashSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+cashSessionColumns+` FROM cash_sessions WHERE id = $1`, id)
	session, err := scanCashSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isInvalidText(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return session, nil
}

func (s *Store) CloseCashSession(ctx context.Context, id string, closingAmount decimal.Decimal, totalSales decimal.Decimal, notes string, closedAt time.Time) (*domain.CashSession, error) {
	if closingAmount.IsNegative() {
		return nil, store.ErrInvalidInput
	}
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE cash_sessions
		SET status = 'closed', closing_amount = $2, total_sales = $3,
			notes = COALESCE($4, notes), closed_at = $5
		WHERE id = $1 AND status = 'open'
		RETURNING `+cashSessionColumns,
		id, closingAmount, totalSales, nullIfEmpty(notes), closedAt)
	session, err := scanCashSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isInvalidText(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return session, nil
}

func (s *Store) GenerateOrderNumber(ctx context.Context) (string, error) {
	var number string
	if err := s.db.QueryRowContext(ctx, `SELECT generate_order_number($1)`, s.orderPrefix).Scan(&number); err != nil {
		return "", err
	}
	return number, nil
}

const orderColumns = `
	id, order_number, type, subtotal, total, payment_method, payment_status, status,
	cash_session_id, received_amount, change_amount, user_id, COALESCE(idempotency_key, ''), created_at`

func scanOrder(row interface{ Scan(dest ...any) error }) (*domain.Order, error) {
	var order domain.Order
	if err := row.Scan(
		&order.ID, &order.OrderNumber, &order.Type, &order.Subtotal, &order.Total,
		&order.PaymentMethod, &order.PaymentStatus, &order.Status, &order.CashSessionID,
		&order.ReceivedAmount, &order.ChangeAmount, &order.UserID, &order.IdempotencyKey, &order.CreatedAt,
	); err != nil {
		return nil, err
	}
	order.CreatedAt = order.CreatedAt.UTC()
	return &order, nil
}

func (s *Store) CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	if strings.TrimSpace(order.OrderNumber) == "" || strings.TrimSpace(order.CashSessionID) == "" {
		return nil, store.ErrInvalidInput
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

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO orders (
			id, order_number, type, subtotal, total, payment_method, payment_status, status,
			cash_session_id, received_amount, change_amount, user_id, idempotency_key, created_at
		)
		SELECT $1::uuid, $2::text, $3::text, $4::numeric, $5::numeric, $6::text, $7::text, $8::text,
			cs.id, $10::numeric, $11::numeric, $12::text, $13::text, $14::timestamptz
		FROM cash_sessions cs
		WHERE cs.id = $9::uuid AND cs.status = 'open'
		RETURNING `+orderColumns,
		order.ID, order.OrderNumber, order.Type, order.Subtotal, order.Total, order.PaymentMethod,
		order.PaymentStatus, order.Status, order.CashSessionID, order.ReceivedAmount, order.ChangeAmount,
		order.UserID, nullIfEmpty(order.IdempotencyKey), order.CreatedAt)
	created, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: cash session %s is not open", store.ErrInvalidInput, order.CashSessionID)
		}
		if isUniqueViolationOn(err, "orders_idempotency_key_key") {
			return nil, store.ErrDuplicateOrder
		}
		if isUniqueViolation(err) || isCheckViolation(err) || isInvalidText(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}
	return created, nil
}

// CreateOrderItems inserts all items in one transaction: either every line
// of the sale is stored or none is.
func (s *Store) CreateOrderItems(ctx context.Context, items []domain.OrderItem) error {
	if len(items) == 0 {
		return store.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO order_items (id, order_id, product_id, name, quantity, unit_price, total_price)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, item := range items {
		if item.Quantity < 1 {
			return store.ErrInvalidInput
		}
		if item.ID == "" {
			item.ID = xid.UUID()
		}
		if _, err := stmt.ExecContext(ctx, item.ID, item.OrderID, nullIfEmpty(item.ProductID), item.Name, item.Quantity, item.UnitPrice, item.TotalPrice); err != nil {
			if isForeignKeyViolation(err) {
				return fmt.Errorf("%w: %v", store.ErrNotFound, err)
			}
			if isCheckViolation(err) || isInvalidText(err) {
				return store.ErrInvalidInput
			}
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) UpdateOrderStatus(ctx context.Context, orderID string, status string) error {
	switch status {
	case domain.OrderStatusPending, domain.OrderStatusCompleted, domain.OrderStatusOrphaned:
	default:
		return store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `UPDATE orders SET status = $2 WHERE id = $1`, orderID, status)
	if err != nil {
		if isInvalidText(err) {
			return store.ErrNotFound
		}
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isInvalidText(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if err := s.loadItems(ctx, []*domain.Order{order}); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *Store) FindOrderByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE idempotency_key = $1`, key)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if err := s.loadItems(ctx, []*domain.Order{order}); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *Store) ListOrders(ctx context.Context, limit int) ([]domain.Order, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return s.queryOrders(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
}

func (s *Store) ListPendingOrders(ctx context.Context, sessionID string) ([]domain.Order, error) {
	if sessionID == "" {
		return s.queryOrders(ctx, `SELECT `+orderColumns+` FROM orders WHERE status = 'pending' ORDER BY created_at ASC`)
	}
	return s.queryOrders(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status = 'pending' AND cash_session_id = $1
		ORDER BY created_at ASC
	`, sessionID)
}

func (s *Store) ListOrphanedOrders(ctx context.Context) ([]domain.Order, error) {
	return s.queryOrders(ctx, `
		SELECT `+orderColumns+`
		FROM orders o
		WHERE o.status = 'orphaned'
			OR (o.status = 'pending' AND NOT EXISTS (SELECT 1 FROM order_items oi WHERE oi.order_id = o.id))
		ORDER BY o.created_at DESC
	`)
}

func (s *Store) queryOrders(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]*domain.Order, 0, 32)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.loadItems(ctx, orders); err != nil {
		return nil, err
	}

	out := make([]domain.Order, 0, len(orders))
	for _, order := range orders {
		out = append(out, *order)
	}
	return out, nil
}

func (s *Store) loadItems(ctx context.Context, orders []*domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	byID := make(map[string]*domain.Order, len(orders))
	ids := make([]string, 0, len(orders))
	for _, order := range orders {
		byID[order.ID] = order
		ids = append(ids, order.ID)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, COALESCE(product_id::text, ''), name, quantity, unit_price, total_price
		FROM order_items
		WHERE order_id = ANY($1::uuid[])
		ORDER BY order_id, id
	`, "{"+strings.Join(ids, ",")+"}")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Name, &item.Quantity, &item.UnitPrice, &item.TotalPrice); err != nil {
			return err
		}
		if order, ok := byID[item.OrderID]; ok {
			order.Items = append(order.Items, item)
		}
	}
	return rows.Err()
}

func (s *Store) GetDashboardStats(ctx context.Context, since time.Time, lowStockThreshold decimal.Decimal) (domain.DashboardStats, error) {
	stats := domain.DashboardStats{}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM orders WHERE status = 'completed'),
			(SELECT COUNT(*) FROM orders WHERE status = 'completed' AND created_at >= $1),
			(SELECT COALESCE(SUM(total), 0) FROM orders WHERE status = 'completed' AND created_at >= $1),
			(SELECT COUNT(*) FROM products WHERE is_active = true),
			(SELECT COUNT(*) FROM products WHERE is_active = true AND stock_quantity < $2),
			(SELECT COUNT(*) FROM categories),
			(SELECT COUNT(*) FROM customers)
	`, since, lowStockThreshold).Scan(
		&stats.TotalOrders, &stats.TodayOrdersCount, &stats.TodaySales,
		&stats.ActiveProducts, &stats.LowStockCount, &stats.TotalCategories, &stats.TotalCustomers,
	)
	if err != nil {
		return domain.DashboardStats{}, err
	}
	stats.GeneratedAt = time.Now().UTC().Format(time.RFC3339)
	return stats, nil
}

func (s *Store) GetCashSessionSummary(ctx context.Context, sessionID string) (domain.CashSessionSummary, error) {
	session, err := s.GetCashSession(ctx, sessionID)
	if err != nil {
		return domain.CashSessionSummary{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT payment_method, COUNT(*), COALESCE(SUM(total), 0)
		FROM orders
		WHERE cash_session_id = $1 AND status = 'completed'
		GROUP BY payment_method
		ORDER BY payment_method
	`, sessionID)
	if err != nil {
		return domain.CashSessionSummary{}, err
	}
	defer rows.Close()

	summary := domain.CashSessionSummary{
		CashSessionID: sessionID,
		TotalSales:    decimal.Zero,
		OpeningAmount: session.OpeningAmount,
		ExpectedCash:  session.OpeningAmount,
		ByPayment:     make([]domain.PaymentTotal, 0, 3),
	}
	for rows.Next() {
		var entry domain.PaymentTotal
		if err := rows.Scan(&entry.PaymentMethod, &entry.Orders, &entry.Total); err != nil {
			return domain.CashSessionSummary{}, err
		}
		summary.Orders += entry.Orders
		summary.TotalSales = summary.TotalSales.Add(entry.Total)
		if entry.PaymentMethod == "cash" {
			summary.ExpectedCash = summary.ExpectedCash.Add(entry.Total)
		}
		summary.ByPayment = append(summary.ByPayment, entry)
	}
	if err := rows.Err(); err != nil {
		return domain.CashSessionSummary{}, err
	}
	return summary, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidInput
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func pgCode(err error) (string, string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.ConstraintName
	}
	return "", ""
}

func isUniqueViolation(err error) bool {
	code, _ := pgCode(err)
	return code == "23505"
}

func isUniqueViolationOn(err error, constraint string) bool {
	code, name := pgCode(err)
	return code == "23505" && name == constraint
}

func isForeignKeyViolation(err error) bool {
	code, _ := pgCode(err)
	return code == "23503"
}

func isCheckViolation(err error) bool {
	code, _ := pgCode(err)
	return code == "23514"
}

// isInvalidText matches a malformed uuid literal, which callers treat as an
// unknown id.
func isInvalidText(err error) bool {
	code, _ := pgCode(err)
	return code == "22P02"
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullDecimal(val *decimal.Decimal) any {
	if val == nil {
		return nil
	}
	return *val
}
