// Package dialogue routes a classified message to the inventory operation or
// conversational reply it calls for. The router keeps no state of its own;
// everything it needs arrives with the request or lives in the store.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"agrichat-backend/internal/classify"
	commonerrors "agrichat-backend/internal/common/errors"
	"agrichat-backend/internal/common/logger"
	"agrichat-backend/internal/common/metrics"
	"agrichat-backend/internal/compose"
	"agrichat-backend/internal/extract"
	"agrichat-backend/internal/inventory"
	"agrichat-backend/internal/memory"
)

// Classifier yields an intent and entities for a message; it never fails.
type Classifier interface {
	Classify(ctx context.Context, message string, history []string) classify.Result
}

// Inventory is the repository slice the router dispatches to.
type Inventory interface {
	FindProduct(ctx context.Context, name string, opts inventory.FindOptions) (*inventory.Product, error)
	UpsertProduct(ctx context.Context, name, ownerID string, price, quantity float64) (*inventory.Product, error)
	UpdateProductPrice(ctx context.Context, name, ownerID string, newPrice float64) (bool, error)
	SearchProducts(ctx context.Context, pattern string, priceCeiling *float64) ([]inventory.Product, error)
	ListByOwner(ctx context.Context, ownerID string) ([]inventory.Product, error)
	ComparePrices(ctx context.Context, name string) ([]inventory.PriceQuote, error)
	PlaceOrder(ctx context.Context, params inventory.PlaceOrderParams) (*inventory.Order, error)
	GetOrder(ctx context.Context, id string) (*inventory.Order, error)
}

// Responder phrases conversational replies.
type Responder interface {
	Compose(ctx context.Context, req compose.Request) string
}

// HistoryStore is the conversation memory slice the router uses.
type HistoryStore interface {
	Append(ctx context.Context, userID string, turn memory.Turn) error
	History(ctx context.Context, userID string) ([]memory.Turn, error)
}

const (
	RoleFarmer   = "farmer"
	RoleCustomer = "customer"
)

// Request is one user turn, identity already resolved by the HTTP layer.
type Request struct {
	UserID         string
	UserRole       string
	Message        string
	IdempotencyKey string
}

// Outcome is what the HTTP layer returns to the client.
type Outcome struct {
	Reply    string            `json:"response"`
	Intent   classify.Intent   `json:"intent"`
	Entities classify.Entities `json:"extracted_entities"`
}

type Router struct {
	classifier  Classifier
	repo        Inventory
	composer    Responder
	history     HistoryStore
	multiTenant bool
	logger      logger.Logger
}

func NewRouter(classifier Classifier, repo Inventory, composer Responder, history HistoryStore, multiTenant bool, log logger.Logger) *Router {
	return &Router{
		classifier:  classifier,
		repo:        repo,
		composer:    composer,
		history:     history,
		multiTenant: multiTenant,
		logger:      log.With(map[string]interface{}{"component": "dialogue"}),
	}
}

// Handle classifies the message and runs the matching operation. The returned
// error is reserved for store faults; every classification or business outcome
// (unknown intent, out of stock, missing fields) resolves to a user-facing
// reply instead.
func (rt *Router) Handle(ctx context.Context, req Request) (*Outcome, error) {
	turns := rt.loadHistory(ctx, req.UserID)

	result := rt.classifier.Classify(ctx, req.Message, formatHistory(turns))
	rt.mergeExtracted(&result, req.Message)
	metrics.RequestsTotal.WithLabelValues(string(result.Intent)).Inc()
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues(string(result.Intent)))
	defer timer.ObserveDuration()

	reply, err := rt.dispatch(ctx, req, result, turns)
	if err != nil {
		return nil, err
	}

	rt.remember(ctx, req.UserID, req.Message, reply)

	return &Outcome{Reply: reply, Intent: result.Intent, Entities: result.Entities}, nil
}

func (rt *Router) dispatch(ctx context.Context, req Request, result classify.Result, turns []memory.Turn) (string, error) {
	switch result.Intent {
	case classify.IntentAddProduct:
		return rt.addProduct(ctx, req, result.Entities)
	case classify.IntentUpdateProduct:
		return rt.updateProduct(ctx, req, result.Entities)
	case classify.IntentCheckAvailability:
		return rt.checkAvailability(ctx, result.Entities)
	case classify.IntentViewListings:
		return rt.viewListings(ctx, req)
	case classify.IntentSearchProduct:
		return rt.searchProducts(ctx, result.Entities)
	case classify.IntentComparePrices:
		return rt.comparePrices(ctx, result.Entities)
	case classify.IntentPlaceOrder:
		return rt.placeOrder(ctx, req, result.Entities)
	case classify.IntentTrackOrder:
		return rt.trackOrder(ctx, result.Entities)
	case classify.IntentDeleteProduct:
		// Recognized so the tag never leaks to the model as gibberish, but
		// listings are only ever overwritten, not removed, through chat.
		return "Removing a listing is not supported here. You can update its price or quantity instead.", nil
	case classify.IntentError:
		return compose.FallbackReply, nil
	default: // Greeting, Unknown
		return rt.composer.Compose(ctx, compose.Request{
			UserRole: req.UserRole,
			Query:    req.Message,
			History:  turns,
		}), nil
	}
}

// mergeExtracted backfills entity fields the model left empty from the
// regex extractor. The model wins every field it did provide.
func (rt *Router) mergeExtracted(result *classify.Result, message string) {
	ext := extract.Extract(message)
	if ext.Product == nil && ext.Quantity == nil && ext.Price == nil {
		return
	}

	if len(result.Entities.Products) == 0 {
		result.Entities.Products = []classify.ProductDetail{{}}
	}
	first := &result.Entities.Products[0]
	if first.Name == "" && ext.Product != nil {
		first.Name = *ext.Product
	}
	if first.Quantity == nil && ext.Quantity != nil {
		q := float64(*ext.Quantity)
		first.Quantity = &q
	}
	if first.Price == nil && ext.Price != nil {
		p := float64(*ext.Price)
		first.Price = &p
	}
}

// ownerID scopes write operations. With multi-tenancy off every farmer works
// against one shared catalog.
func (rt *Router) ownerID(req Request) string {
	if rt.multiTenant && req.UserID != "" {
		return req.UserID
	}
	return "default"
}

func (rt *Router) addProduct(ctx context.Context, req Request, ents classify.Entities) (string, error) {
	detail := ents.First()
	if detail == nil || detail.Name == "" {
		return "Please tell me which product you want to list, for example: sell 300kg tomato at 70/kg.", nil
	}
	if detail.Price == nil || detail.Quantity == nil {
		return fmt.Sprintf("To list %s I need both a quantity and a price, for example: sell 300kg %s at 70/kg.", detail.Name, detail.Name), nil
	}

	product, err := rt.repo.UpsertProduct(ctx, detail.Name, rt.ownerID(req), *detail.Price, *detail.Quantity)
	if err != nil {
		return "", commonerrors.NewStoreUnavailableError(err)
	}
	return fmt.Sprintf("Listed %s: %.0f kg at %.0f/kg.", product.Name, product.Quantity, product.Price), nil
}

func (rt *Router) updateProduct(ctx context.Context, req Request, ents classify.Entities) (string, error) {
	detail := ents.First()
	if detail == nil || detail.Name == "" {
		return "Which product's price should I update?", nil
	}
	if detail.Price == nil {
		return fmt.Sprintf("What should the new price of %s be?", detail.Name), nil
	}

	matched, err := rt.repo.UpdateProductPrice(ctx, detail.Name, rt.ownerID(req), *detail.Price)
	if err != nil {
		return "", commonerrors.NewStoreUnavailableError(err)
	}
	if !matched {
		return fmt.Sprintf("You have no listing for %s to update.", detail.Name), nil
	}
	return fmt.Sprintf("Updated %s to %.0f/kg.", detail.Name, *detail.Price), nil
}

func (rt *Router) checkAvailability(ctx context.Context, ents classify.Entities) (string, error) {
	detail := ents.First()
	if detail == nil || detail.Name == "" {
		return "I could not determine which product you are asking about.", nil
	}

	opts := inventory.FindOptions{}
	if ceiling, ok := ents.Filters[classify.FilterPriceMax]; ok {
		opts.PriceCeiling = &ceiling
	}
	if floor, ok := ents.Filters[classify.FilterQuantityMin]; ok {
		opts.QuantityFloor = &floor
	}

	product, err := rt.repo.FindProduct(ctx, detail.Name, opts)
	if errors.Is(err, inventory.ErrProductNotFound) {
		return fmt.Sprintf("Sorry, %s is not available right now.", detail.Name), nil
	}
	if err != nil {
		return "", commonerrors.NewStoreUnavailableError(err)
	}
	return fmt.Sprintf("Yes, %s is available: %.0f kg at %.0f/kg.", product.Name, product.Quantity, product.Price), nil
}

func (rt *Router) viewListings(ctx context.Context, req Request) (string, error) {
	products, err := rt.repo.ListByOwner(ctx, rt.ownerID(req))
	if err != nil {
		return "", commonerrors.NewStoreUnavailableError(err)
	}
	if len(products) == 0 {
		return "You have no listings yet.", nil
	}

	var b strings.Builder
	b.WriteString("Your current listings:")
	for _, p := range products {
		fmt.Fprintf(&b, "\n- %s: %.0f kg at %.0f/kg", p.Name, p.Quantity, p.Price)
	}
	return b.String(), nil
}

func (rt *Router) searchProducts(ctx context.Context, ents classify.Entities) (string, error) {
	detail := ents.First()
	if detail == nil || detail.Name == "" {
		return "What product should I search for?", nil
	}

	var ceiling *float64
	if max, ok := ents.Filters[classify.FilterPriceMax]; ok {
		ceiling = &max
	}

	products, err := rt.repo.SearchProducts(ctx, detail.Name, ceiling)
	if err != nil {
		return "", commonerrors.NewStoreUnavailableError(err)
	}
	if len(products) == 0 {
		return fmt.Sprintf("No products matching %q found.", detail.Name), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d matching product(s):", len(products))
	for _, p := range products {
		fmt.Fprintf(&b, "\n- %s: %.0f kg at %.0f/kg", p.Name, p.Quantity, p.Price)
	}
	return b.String(), nil
}

func (rt *Router) comparePrices(ctx context.Context, ents classify.Entities) (string, error) {
	detail := ents.First()
	if detail == nil || detail.Name == "" {
		return "Which product's prices should I compare?", nil
	}

	quotes, err := rt.repo.ComparePrices(ctx, detail.Name)
	if err != nil {
		return "", commonerrors.NewStoreUnavailableError(err)
	}
	if len(quotes) == 0 {
		return fmt.Sprintf("No sellers currently offer %s.", detail.Name), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Prices for %s:", detail.Name)
	for _, q := range quotes {
		fmt.Fprintf(&b, "\n- seller %s: %.0f/kg (%.0f kg available)", q.OwnerID, q.Price, q.Quantity)
	}
	return b.String(), nil
}

func (rt *Router) placeOrder(ctx context.Context, req Request, ents classify.Entities) (string, error) {
	detail := ents.First()
	if detail == nil || detail.Name == "" {
		return "Which product would you like to order?", nil
	}
	if detail.Quantity == nil || *detail.Quantity <= 0 {
		return fmt.Sprintf("How many kg of %s would you like to order?", detail.Name), nil
	}

	order, err := rt.repo.PlaceOrder(ctx, inventory.PlaceOrderParams{
		UserID:         req.UserID,
		ProductName:    detail.Name,
		Quantity:       int(*detail.Quantity),
		IdempotencyKey: req.IdempotencyKey,
	})
	switch {
	case errors.Is(err, inventory.ErrOutOfStock):
		metrics.OrdersRejected.WithLabelValues("out_of_stock").Inc()
		return fmt.Sprintf("Sorry, there is not enough %s in stock for %.0f kg.", detail.Name, *detail.Quantity), nil
	case errors.Is(err, inventory.ErrInvalidQuantity):
		return fmt.Sprintf("How many kg of %s would you like to order?", detail.Name), nil
	case err != nil:
		return "", commonerrors.NewStoreUnavailableError(err)
	}

	metrics.OrdersPlaced.Inc()
	return fmt.Sprintf("Order confirmed: %d kg of %s at %.0f/kg, total %.0f. Your order id is %s.",
		order.Quantity, order.ProductName, order.UnitPrice, order.TotalPrice, order.ID), nil
}

func (rt *Router) trackOrder(ctx context.Context, ents classify.Entities) (string, error) {
	detail := ents.First()
	if detail == nil || detail.OrderID == "" {
		return "Please give me the order id you want to track.", nil
	}

	order, err := rt.repo.GetOrder(ctx, detail.OrderID)
	if errors.Is(err, inventory.ErrOrderNotFound) {
		return fmt.Sprintf("I could not find an order with id %s.", detail.OrderID), nil
	}
	if err != nil {
		return "", commonerrors.NewStoreUnavailableError(err)
	}
	return fmt.Sprintf("Order %s: %d kg of %s, total %.0f, status %s.",
		order.ID, order.Quantity, order.ProductName, order.TotalPrice, order.Status), nil
}

// loadHistory is best effort; a memory outage degrades to a contextless turn
// rather than failing the request.
func (rt *Router) loadHistory(ctx context.Context, userID string) []memory.Turn {
	if userID == "" {
		return nil
	}
	turns, err := rt.history.History(ctx, userID)
	if err != nil {
		rt.logger.WithError(err).Warn("conversation history unavailable", map[string]interface{}{
			"userId": userID,
		})
		return nil
	}
	return turns
}

func (rt *Router) remember(ctx context.Context, userID, message, reply string) {
	if userID == "" {
		return
	}
	for _, turn := range []memory.Turn{
		{Role: memory.RoleUser, Content: message},
		{Role: memory.RoleAssistant, Content: reply},
	} {
		if err := rt.history.Append(ctx, userID, turn); err != nil {
			rt.logger.WithError(err).Warn("failed to record turn", map[string]interface{}{
				"userId": userID,
			})
			return
		}
	}
}

func formatHistory(turns []memory.Turn) []string {
	if len(turns) == 0 {
		return nil
	}
	lines := make([]string, len(turns))
	for i, turn := range turns {
		lines[i] = turn.Role + ": " + turn.Content
	}
	return lines
}
