package inventory

import "time"

// Product is a farmer's listing. The (name, owner) pair is the natural key;
// names are stored lowercase so matching is case-insensitive by construction.
type Product struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"ownerId"`
	Price     float64   `json:"price"`    // currency per kg
	Quantity  float64   `json:"quantity"` // kg on hand, never negative
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type OrderStatus string

const (
	OrderConfirmed OrderStatus = "Confirmed"
	OrderRejected  OrderStatus = "Rejected"
)

// Order is an immutable purchase record. UnitPrice and TotalPrice are
// snapshots taken at decrement time, not references to current product state.
type Order struct {
	ID             string      `json:"id"`
	UserID         string      `json:"userId"`
	ProductName    string      `json:"productName"`
	Quantity       int         `json:"quantity"`
	UnitPrice      float64     `json:"unitPrice"`
	TotalPrice     float64     `json:"totalPrice"`
	Status         OrderStatus `json:"status"`
	IdempotencyKey string      `json:"-"`
	CreatedAt      time.Time   `json:"createdAt"`
}

// PriceQuote is one seller's offer for a product name, used by the
// compare-prices intent.
type PriceQuote struct {
	OwnerID  string  `json:"ownerId"`
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}
