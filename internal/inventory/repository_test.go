package inventory

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"agrichat-backend/internal/common/logger"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepo(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepository(db, logger.NewTestLogger(t)), mock
}

func productRows(products ...Product) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "name", "owner_id", "price", "quantity", "created_at", "updated_at"})
	now := time.Now()
	for _, p := range products {
		rows.AddRow(p.ID, p.Name, p.OwnerID, p.Price, p.Quantity, now, now)
	}
	return rows
}

func TestFindProduct_CaseInsensitive(t *testing.T) {
	// "Tomato" and "tomato" must hit the same record: the argument is
	// lowercased and the SQL compares lower(name).
	for _, input := range []string{"Tomato", "tomato", "TOMATO"} {
		t.Run(input, func(t *testing.T) {
			repo, mock := newMockRepo(t)
			mock.ExpectQuery(`SELECT .+ FROM products WHERE lower\(name\) = \$1 AND owner_id = \$2`).
				WithArgs("tomato", "farmer-1").
				WillReturnRows(productRows(Product{ID: 1, Name: "tomato", OwnerID: "farmer-1", Price: 70, Quantity: 300}))

			p, err := repo.FindProduct(context.Background(), input, FindOptions{OwnerID: "farmer-1"})

			require.NoError(t, err)
			assert.Equal(t, "tomato", p.Name)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestFindProduct_GlobalCatalogOmitsOwnerFilter(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(`SELECT .+ FROM products WHERE lower\(name\) = \$1 ORDER BY price ASC LIMIT 1`).
		WithArgs("tomato").
		WillReturnRows(productRows(Product{ID: 1, Name: "tomato", OwnerID: "farmer-2", Price: 60, Quantity: 50}))

	p, err := repo.FindProduct(context.Background(), "tomato", FindOptions{})

	require.NoError(t, err)
	assert.Equal(t, "farmer-2", p.OwnerID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindProduct_FilterPredicates(t *testing.T) {
	repo, mock := newMockRepo(t)
	ceiling, floor := 80.0, 10.0
	mock.ExpectQuery(`SELECT .+ FROM products WHERE lower\(name\) = \$1 AND owner_id = \$2 AND price <= \$3 AND quantity >= \$4`).
		WithArgs("tomato", "farmer-1", 80.0, 10.0).
		WillReturnRows(productRows(Product{ID: 1, Name: "tomato", OwnerID: "farmer-1", Price: 70, Quantity: 300}))

	_, err := repo.FindProduct(context.Background(), "tomato", FindOptions{
		OwnerID:       "farmer-1",
		PriceCeiling:  &ceiling,
		QuantityFloor: &floor,
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindProduct_NotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(`SELECT .+ FROM products`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindProduct(context.Background(), "missing", FindOptions{})

	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestUpsertProduct_SingleStatement(t *testing.T) {
	// Upsert is one INSERT ... ON CONFLICT, never a read followed by a
	// write; running it twice leaves one record with the latest values.
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`ON CONFLICT \(name, owner_id\)`).
		WithArgs("tomato", "farmer-1", 70.0, 300.0).
		WillReturnRows(productRows(Product{ID: 1, Name: "tomato", OwnerID: "farmer-1", Price: 70, Quantity: 300}))
	mock.ExpectQuery(`ON CONFLICT \(name, owner_id\)`).
		WithArgs("tomato", "farmer-1", 75.0, 250.0).
		WillReturnRows(productRows(Product{ID: 1, Name: "tomato", OwnerID: "farmer-1", Price: 75, Quantity: 250}))

	first, err := repo.UpsertProduct(context.Background(), "Tomato", "farmer-1", 70, 300)
	require.NoError(t, err)
	second, err := repo.UpsertProduct(context.Background(), "Tomato", "farmer-1", 75, 250)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "same record, overwritten")
	assert.Equal(t, 75.0, second.Price)
	assert.Equal(t, 250.0, second.Quantity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateProductPrice(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		matched  bool
	}{
		{name: "existing product", affected: 1, matched: true},
		{name: "missing product", affected: 0, matched: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newMockRepo(t)
			mock.ExpectExec(`UPDATE products SET price = \$3`).
				WithArgs("tomato", "farmer-1", 90.0).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			matched, err := repo.UpdateProductPrice(context.Background(), "Tomato", "farmer-1", 90)

			require.NoError(t, err)
			assert.Equal(t, tt.matched, matched)
		})
	}
}

func TestPlaceOrder_Success(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE products SET quantity = quantity - \$2`).
		WithArgs("tomato", 5).
		WillReturnRows(sqlmock.NewRows([]string{"price"}).AddRow(70.0))
	mock.ExpectExec(`INSERT INTO orders`).
		WithArgs(sqlmock.AnyArg(), "customer-9", "tomato", 5, 70.0, 350.0, "Confirmed", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	order, err := repo.PlaceOrder(context.Background(), PlaceOrderParams{
		UserID:      "customer-9",
		ProductName: "Tomato",
		Quantity:    5,
	})

	require.NoError(t, err)
	assert.Equal(t, 350.0, order.TotalPrice, "5 kg at 70/kg")
	assert.Equal(t, 70.0, order.UnitPrice)
	assert.Equal(t, OrderConfirmed, order.Status)
	assert.NotEmpty(t, order.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlaceOrder_OutOfStock(t *testing.T) {
	// Insufficient stock must roll back with no order insert and no
	// partial decrement.
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE products SET quantity = quantity - \$2`).
		WithArgs("tomato", 500).
		WillReturnRows(sqlmock.NewRows([]string{"price"}))
	mock.ExpectRollback()

	_, err := repo.PlaceOrder(context.Background(), PlaceOrderParams{
		UserID:      "customer-9",
		ProductName: "tomato",
		Quantity:    500,
	})

	assert.ErrorIs(t, err, ErrOutOfStock)
	assert.NoError(t, mock.ExpectationsWereMet(), "no order insert must be attempted")
}

func TestPlaceOrder_InvalidQuantity(t *testing.T) {
	repo, mock := newMockRepo(t)

	for _, qty := range []int{0, -3} {
		_, err := repo.PlaceOrder(context.Background(), PlaceOrderParams{
			UserID:      "customer-9",
			ProductName: "tomato",
			Quantity:    qty,
		})
		assert.ErrorIs(t, err, ErrInvalidQuantity)
	}
	assert.NoError(t, mock.ExpectationsWereMet(), "validation failures never reach the store")
}

func TestPlaceOrder_IdempotencyKeyReturnsExistingOrder(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`SELECT .+ FROM orders WHERE idempotency_key = \$1`).
		WithArgs("key-123").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "product_name", "quantity", "unit_price", "total_price", "status", "created_at"}).
			AddRow("order-1", "customer-9", "tomato", 5, 70.0, 350.0, "Confirmed", time.Now()))

	order, err := repo.PlaceOrder(context.Background(), PlaceOrderParams{
		UserID:         "customer-9",
		ProductName:    "tomato",
		Quantity:       5,
		IdempotencyKey: "key-123",
	})

	require.NoError(t, err)
	assert.Equal(t, "order-1", order.ID)
	assert.NoError(t, mock.ExpectationsWereMet(), "no decrement on a replayed key")
}

func TestPlaceOrder_DecrementFailureRollsBack(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE products SET quantity = quantity - \$2`).
		WithArgs("tomato", 5).
		WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	_, err := repo.PlaceOrder(context.Background(), PlaceOrderParams{
		UserID:      "customer-9",
		ProductName: "tomato",
		Quantity:    5,
	})

	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrOutOfStock, "a store fault is not a stock outcome")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchProducts(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(`SELECT .+ FROM products WHERE name ILIKE`).
		WithArgs("tom").
		WillReturnRows(productRows(
			Product{ID: 1, Name: "tomato", OwnerID: "farmer-1", Price: 70, Quantity: 300},
			Product{ID: 2, Name: "tomatillo", OwnerID: "farmer-2", Price: 90, Quantity: 40},
		))

	products, err := repo.SearchProducts(context.Background(), "Tom", nil)

	require.NoError(t, err)
	assert.Len(t, products, 2)
}

func TestListByOwner(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(`SELECT .+ FROM products WHERE owner_id = \$1`).
		WithArgs("farmer-1").
		WillReturnRows(productRows(Product{ID: 1, Name: "tomato", OwnerID: "farmer-1", Price: 70, Quantity: 300}))

	products, err := repo.ListByOwner(context.Background(), "farmer-1")

	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "tomato", products[0].Name)
}

func TestComparePrices(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(`SELECT owner_id, price, quantity FROM products WHERE lower\(name\) = \$1`).
		WithArgs("tomato").
		WillReturnRows(sqlmock.NewRows([]string{"owner_id", "price", "quantity"}).
			AddRow("farmer-2", 60.0, 50.0).
			AddRow("farmer-1", 70.0, 300.0))

	quotes, err := repo.ComparePrices(context.Background(), "Tomato")

	require.NoError(t, err)
	require.Len(t, quotes, 2)
	assert.Equal(t, "farmer-2", quotes[0].OwnerID, "cheapest first")
}

func TestGetOrder_NotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(`SELECT .+ FROM orders WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetOrder(context.Background(), "missing")

	assert.ErrorIs(t, err, ErrOrderNotFound)
}
