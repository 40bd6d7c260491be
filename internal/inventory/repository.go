// Package inventory owns the persisted product and order records. All stock
// mutation goes through the upsert overwrite or the atomic conditional
// decrement; request-handling code never read-modify-writes quantity.
package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"agrichat-backend/internal/common/logger"

	"github.com/google/uuid"
)

var (
	ErrProductNotFound = errors.New("PRODUCT_NOT_FOUND")
	ErrOutOfStock      = errors.New("OUT_OF_STOCK")
	ErrOrderNotFound   = errors.New("ORDER_NOT_FOUND")
	ErrInvalidQuantity = errors.New("INVALID_QUANTITY")
)

const productColumns = "id, name, owner_id, price, quantity, created_at, updated_at"

type Repository struct {
	db     *sql.DB
	logger logger.Logger
}

func NewRepository(db *sql.DB, log logger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: log.With(map[string]interface{}{"component": "inventory"}),
	}
}

// Ping tests the store connection.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// FindOptions narrows a FindProduct lookup. An empty OwnerID means a global
// catalog search; nil bounds mean unconstrained.
type FindOptions struct {
	OwnerID       string
	PriceCeiling  *float64
	QuantityFloor *float64
}

// FindProduct returns the first product whose lowercased name matches,
// scoped and filtered per opts. ErrProductNotFound when nothing matches.
func (r *Repository) FindProduct(ctx context.Context, name string, opts FindOptions) (*Product, error) {
	query := "SELECT " + productColumns + " FROM products WHERE lower(name) = $1"
	args := []interface{}{strings.ToLower(name)}

	if opts.OwnerID != "" {
		args = append(args, opts.OwnerID)
		query += fmt.Sprintf(" AND owner_id = $%d", len(args))
	}
	if opts.PriceCeiling != nil {
		args = append(args, *opts.PriceCeiling)
		query += fmt.Sprintf(" AND price <= $%d", len(args))
	}
	if opts.QuantityFloor != nil {
		args = append(args, *opts.QuantityFloor)
		query += fmt.Sprintf(" AND quantity >= $%d", len(args))
	}
	query += " ORDER BY price ASC LIMIT 1"

	var p Product
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&p.ID, &p.Name, &p.OwnerID, &p.Price, &p.Quantity, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find product: %w", err)
	}
	return &p, nil
}

// UpsertProduct inserts a listing or overwrites price and quantity of the
// existing (name, owner) record, as a single statement so a concurrent
// writer can never race an existence check.
func (r *Repository) UpsertProduct(ctx context.Context, name, ownerID string, price, quantity float64) (*Product, error) {
	const query = `
		INSERT INTO products (name, owner_id, price, quantity)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name, owner_id)
		DO UPDATE SET price = EXCLUDED.price, quantity = EXCLUDED.quantity, updated_at = now()
		RETURNING ` + productColumns

	var p Product
	err := r.db.QueryRowContext(ctx, query, strings.ToLower(name), ownerID, price, quantity).Scan(
		&p.ID, &p.Name, &p.OwnerID, &p.Price, &p.Quantity, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert product: %w", err)
	}

	r.logger.Info("product upserted", map[string]interface{}{
		"name":    p.Name,
		"ownerId": p.OwnerID,
	})
	return &p, nil
}

// UpdateProductPrice changes the price of an existing listing and reports
// whether a matching record existed.
func (r *Repository) UpdateProductPrice(ctx context.Context, name, ownerID string, newPrice float64) (bool, error) {
	const query = `UPDATE products SET price = $3, updated_at = now() WHERE lower(name) = $1 AND owner_id = $2`

	res, err := r.db.ExecContext(ctx, query, strings.ToLower(name), ownerID, newPrice)
	if err != nil {
		return false, fmt.Errorf("update product price: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update product price: %w", err)
	}
	return affected > 0, nil
}

// SearchProducts returns listings whose name contains the pattern,
// case-insensitively, optionally bounded by a price ceiling.
func (r *Repository) SearchProducts(ctx context.Context, pattern string, priceCeiling *float64) ([]Product, error) {
	query := "SELECT " + productColumns + " FROM products WHERE name ILIKE '%' || $1 || '%'"
	args := []interface{}{strings.ToLower(pattern)}
	if priceCeiling != nil {
		args = append(args, *priceCeiling)
		query += fmt.Sprintf(" AND price <= $%d", len(args))
	}
	query += " ORDER BY name, price"

	return r.queryProducts(ctx, query, args...)
}

// ListByOwner returns every listing of one farmer.
func (r *Repository) ListByOwner(ctx context.Context, ownerID string) ([]Product, error) {
	query := "SELECT " + productColumns + " FROM products WHERE owner_id = $1 ORDER BY name"
	return r.queryProducts(ctx, query, ownerID)
}

// ComparePrices returns every seller's offer for an exact product name.
func (r *Repository) ComparePrices(ctx context.Context, name string) ([]PriceQuote, error) {
	const query = `SELECT owner_id, price, quantity FROM products WHERE lower(name) = $1 ORDER BY price ASC`

	rows, err := r.db.QueryContext(ctx, query, strings.ToLower(name))
	if err != nil {
		return nil, fmt.Errorf("compare prices: %w", err)
	}
	defer rows.Close()

	var quotes []PriceQuote
	for rows.Next() {
		var q PriceQuote
		if err := rows.Scan(&q.OwnerID, &q.Price, &q.Quantity); err != nil {
			return nil, fmt.Errorf("compare prices: %w", err)
		}
		quotes = append(quotes, q)
	}
	return quotes, rows.Err()
}

func (r *Repository) queryProducts(ctx context.Context, query string, args ...interface{}) ([]Product, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.OwnerID, &p.Price, &p.Quantity, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// PlaceOrderParams carries one order request. IdempotencyKey is optional;
// when present a retried request returns the already-created order instead
// of decrementing twice.
type PlaceOrderParams struct {
	UserID         string
	ProductName    string
	Quantity       int
	IdempotencyKey string
}

// decrementStock is the atomic conditional decrement: the cheapest listing
// with enough stock loses exactly the requested quantity, or nothing
// happens. The repeated quantity guard on the outer UPDATE re-checks the
// condition under the row lock, so two concurrent orders for the last unit
// cannot both succeed.
const decrementStock = `
	UPDATE products SET quantity = quantity - $2, updated_at = now()
	WHERE id = (
		SELECT id FROM products
		WHERE lower(name) = $1 AND quantity >= $2
		ORDER BY price ASC
		LIMIT 1
	) AND quantity >= $2
	RETURNING price`

const insertOrder = `
	INSERT INTO orders (id, user_id, product_name, quantity, unit_price, total_price, status, idempotency_key, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (idempotency_key) DO NOTHING`

// PlaceOrder executes the check-and-decrement and the order insert in one
// transaction, so a crash or disconnect between the two cannot leave stock
// decremented without a matching order.
//
// Returns ErrInvalidQuantity for a non-positive quantity (a validation
// failure, not a stock failure) and ErrOutOfStock when no listing satisfies
// the condition; in that case no order record is created and no partial
// decrement occurs.
func (r *Repository) PlaceOrder(ctx context.Context, params PlaceOrderParams) (*Order, error) {
	if params.Quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	name := strings.ToLower(strings.TrimSpace(params.ProductName))
	if name == "" {
		return nil, fmt.Errorf("place order: %w", ErrProductNotFound)
	}

	if params.IdempotencyKey != "" {
		if existing, err := r.findOrderByKey(ctx, params.IdempotencyKey); err == nil {
			return existing, nil
		} else if !errors.Is(err, ErrOrderNotFound) {
			return nil, err
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("place order: begin: %w", err)
	}
	defer tx.Rollback()

	var unitPrice float64
	err = tx.QueryRowContext(ctx, decrementStock, name, params.Quantity).Scan(&unitPrice)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOutOfStock
	}
	if err != nil {
		return nil, fmt.Errorf("place order: decrement: %w", err)
	}

	order := &Order{
		ID:             uuid.NewString(),
		UserID:         params.UserID,
		ProductName:    name,
		Quantity:       params.Quantity,
		UnitPrice:      unitPrice,
		TotalPrice:     unitPrice * float64(params.Quantity),
		Status:         OrderConfirmed,
		IdempotencyKey: params.IdempotencyKey,
		CreatedAt:      time.Now().UTC(),
	}

	key := sql.NullString{String: params.IdempotencyKey, Valid: params.IdempotencyKey != ""}
	res, err := tx.ExecContext(ctx, insertOrder,
		order.ID, order.UserID, order.ProductName, order.Quantity,
		order.UnitPrice, order.TotalPrice, string(order.Status), key, order.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("place order: insert: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		// A concurrent request with the same key won the insert. Abandon our
		// decrement and hand back the order that was actually placed.
		tx.Rollback()
		return r.findOrderByKey(ctx, params.IdempotencyKey)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("place order: commit: %w", err)
	}

	r.logger.Info("order confirmed", map[string]interface{}{
		"orderId":  order.ID,
		"product":  order.ProductName,
		"quantity": order.Quantity,
		"total":    order.TotalPrice,
	})
	return order, nil
}

const orderColumns = "id, user_id, product_name, quantity, unit_price, total_price, status, created_at"

// GetOrder returns one order by id, for order tracking.
func (r *Repository) GetOrder(ctx context.Context, id string) (*Order, error) {
	return r.scanOrder(r.db.QueryRowContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE id = $1", id))
}

func (r *Repository) findOrderByKey(ctx context.Context, key string) (*Order, error) {
	return r.scanOrder(r.db.QueryRowContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE idempotency_key = $1", key))
}

func (r *Repository) scanOrder(row *sql.Row) (*Order, error) {
	var o Order
	var status string
	err := row.Scan(&o.ID, &o.UserID, &o.ProductName, &o.Quantity, &o.UnitPrice, &o.TotalPrice, &status, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan order: %w", err)
	}
	o.Status = OrderStatus(status)
	return &o, nil
}
