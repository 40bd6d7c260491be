// Package classify turns a free-text user message into a typed intent plus
// normalized entities by calling the external classification capability and
// refusing to trust anything it says until it parses and validates.
package classify

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"agrichat-backend/internal/common/logger"
	"agrichat-backend/internal/common/metrics"
	"agrichat-backend/internal/llm"

	"github.com/xeipuuv/gojsonschema"
)

// Intent is the canonical intent vocabulary. The five source variants drifted
// between casings (AddProduct vs add_product); normalizeIntent folds them all
// into these tags.
type Intent string

const (
	IntentAddProduct        Intent = "AddProduct"
	IntentUpdateProduct     Intent = "UpdateProduct"
	IntentCheckAvailability Intent = "CheckAvailability"
	IntentViewListings      Intent = "ViewListings"
	IntentSearchProduct     Intent = "SearchProduct"
	IntentComparePrices     Intent = "ComparePrices"
	IntentPlaceOrder        Intent = "PlaceOrder"
	IntentTrackOrder        Intent = "TrackOrder"
	IntentDeleteProduct     Intent = "DeleteProduct"
	IntentGreeting          Intent = "Greeting"
	IntentUnknown           Intent = "Unknown"
	IntentError             Intent = "Error"
)

// Filter keys exposed in Entities.Filters.
const (
	FilterPriceMax    = "price_max"
	FilterQuantityMin = "quantity_min"
)

// ProductDetail is one extracted product. Nil Quantity/Price mean the model
// did not provide the field; they are never defaulted to zero here.
type ProductDetail struct {
	Name     string   `json:"name"`
	Quantity *float64 `json:"quantity,omitempty"`
	Price    *float64 `json:"price,omitempty"`
	OrderID  string   `json:"orderId,omitempty"`
}

// Entities is the normalized entity shape regardless of which of the
// upstream field spellings ("products", "product_details", "product",
// "orders") the model chose.
type Entities struct {
	Filters  map[string]float64 `json:"filters,omitempty"`
	Products []ProductDetail    `json:"products,omitempty"`
}

// Result is what a classification always yields; transport failures surface
// as IntentError, malformed replies as IntentUnknown. Never an error value.
type Result struct {
	Intent   Intent   `json:"intent"`
	Entities Entities `json:"entities"`
}

// First returns the leading product detail, if any.
func (e Entities) First() *ProductDetail {
	if len(e.Products) == 0 {
		return nil
	}
	return &e.Products[0]
}

// Completer is the slice of llm.Client the classifier needs.
type Completer interface {
	ChatCompletion(ctx context.Context, msgs []llm.Message, maxTokens int) (string, error)
}

const systemPrompt = `Extract intent and product details from the user message in pure JSON format. Do NOT use markdown, only return JSON like:

{"intent": "AddProduct", "products": [{"name": "tomato", "quantity": 300, "price": 70}]}

Valid intents: AddProduct, UpdateProduct, CheckAvailability, ViewListings, SearchProduct, ComparePrices, PlaceOrder, TrackOrder, Greeting, Unknown.
Ensure all product names are in lowercase. Include a "filters" object with numeric bounds when the user constrains price or quantity.`

// replySchema is the minimum shape a reply must satisfy before any field is
// read. The entity payload itself stays loosely typed because the upstream
// varies it per call.
const replySchema = `{
	"type": "object",
	"required": ["intent"],
	"properties": {
		"intent": {"type": "string"},
		"filters": {"type": "object"},
		"products": {"type": ["array", "object"]},
		"product_details": {"type": ["array", "object"]},
		"productDetails": {"type": ["array", "object"]},
		"product": {"type": ["object", "string"]},
		"orders": {"type": ["array", "object"]}
	}
}`

const maxExtractionTokens = 512

var jsonBlobRe = regexp.MustCompile(`(?s)\{.*\}`)

type Classifier struct {
	llm    Completer
	schema *gojsonschema.Schema
	logger logger.Logger
}

func New(completer Completer, log logger.Logger) (*Classifier, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(replySchema))
	if err != nil {
		return nil, err
	}
	return &Classifier{
		llm:    completer,
		schema: schema,
		logger: log.With(map[string]interface{}{"component": "classifier"}),
	}, nil
}

// Classify sends the message (plus bounded history) upstream and normalizes
// whatever comes back. It always returns a Result.
func (c *Classifier) Classify(ctx context.Context, message string, history []string) Result {
	msgs := []llm.Message{{Role: "system", Content: systemPrompt}}
	if len(history) > 0 {
		msgs = append(msgs, llm.Message{
			Role:    "system",
			Content: "Recent conversation:\n" + strings.Join(history, "\n"),
		})
	}
	msgs = append(msgs, llm.Message{Role: "user", Content: message})

	reply, err := c.llm.ChatCompletion(ctx, msgs, maxExtractionTokens)
	if err != nil {
		// Transport exhaustion and timeouts degrade to IntentError; the
		// router turns that into a generic fallback, never a 5xx.
		if errors.Is(err, llm.ErrTimeout) {
			metrics.ClassifierFailures.WithLabelValues("timeout").Inc()
		} else {
			metrics.ClassifierFailures.WithLabelValues("transport").Inc()
		}
		c.logger.Warn("classification call failed", map[string]interface{}{"error": err.Error()})
		return Result{Intent: IntentError, Entities: Entities{}}
	}

	raw, ok := extractJSON(reply)
	if !ok {
		metrics.ClassifierFailures.WithLabelValues("no_json").Inc()
		c.logger.Warn("no JSON object in classifier reply", map[string]interface{}{"replyLen": len(reply)})
		return Result{Intent: IntentUnknown, Entities: Entities{}}
	}

	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		metrics.ClassifierFailures.WithLabelValues("parse").Inc()
		c.logger.Warn("classifier reply is not valid JSON", map[string]interface{}{"error": err.Error()})
		return Result{Intent: IntentUnknown, Entities: Entities{}}
	}

	if res, err := c.schema.Validate(gojsonschema.NewStringLoader(raw)); err != nil || !res.Valid() {
		metrics.ClassifierFailures.WithLabelValues("shape").Inc()
		c.logger.Warn("classifier reply failed shape validation", nil)
		return Result{Intent: IntentUnknown, Entities: Entities{}}
	}

	intent := normalizeIntent(stringField(payload, "intent"))
	entities := normalizeEntities(payload)

	c.logger.Info("intent classified", map[string]interface{}{
		"intent":       string(intent),
		"productCount": len(entities.Products),
	})

	return Result{Intent: intent, Entities: entities}
}

// extractJSON strips conversational wrapping and code fencing, then grabs the
// first top-level JSON object in the reply.
func extractJSON(reply string) (string, bool) {
	s := strings.TrimSpace(reply)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	m := jsonBlobRe.FindString(s)
	if m == "" {
		return "", false
	}
	return m, true
}

var intentAliases = map[string]Intent{
	"addproduct":          IntentAddProduct,
	"updateproduct":       IntentUpdateProduct,
	"checkavailability":   IntentCheckAvailability,
	"viewlistings":        IntentViewListings,
	"viewcurrentlistings": IntentViewListings,
	"searchproduct":       IntentSearchProduct,
	"showproducts":        IntentSearchProduct,
	"compareprices":       IntentComparePrices,
	"placeorder":          IntentPlaceOrder,
	"trackorder":          IntentTrackOrder,
	"deleteproduct":       IntentDeleteProduct,
	"greet":               IntentGreeting,
	"greeting":            IntentGreeting,
	"goodbye":             IntentGreeting,
	"unknown":             IntentUnknown,
	"fallback":            IntentUnknown,
	"error":               IntentError,
}

// normalizeIntent folds the casing drift of the source variants into the
// canonical vocabulary; anything unrecognized is Unknown.
func normalizeIntent(tag string) Intent {
	key := strings.ToLower(tag)
	key = strings.ReplaceAll(key, "_", "")
	key = strings.ReplaceAll(key, " ", "")
	if intent, ok := intentAliases[key]; ok {
		return intent
	}
	return IntentUnknown
}

// normalizeEntities reconciles the possible upstream field names, in
// preference order, first non-empty wins.
func normalizeEntities(payload map[string]interface{}) Entities {
	out := Entities{}

	for _, key := range []string{"products", "product_details", "productDetails", "product", "orders"} {
		if v, ok := payload[key]; ok {
			if products := parseProducts(v); len(products) > 0 {
				out.Products = products
				break
			}
		}
	}

	if filters, ok := payload["filters"].(map[string]interface{}); ok {
		out.Filters = parseFilters(filters)
	}

	return out
}

func parseProducts(v interface{}) []ProductDetail {
	switch val := v.(type) {
	case []interface{}:
		var out []ProductDetail
		for _, item := range val {
			if m, ok := item.(map[string]interface{}); ok {
				if p, ok := parseProduct(m); ok {
					out = append(out, p)
				}
			}
		}
		return out
	case map[string]interface{}:
		if p, ok := parseProduct(val); ok {
			return []ProductDetail{p}
		}
	case string:
		name := strings.ToLower(strings.TrimSpace(val))
		if name != "" {
			return []ProductDetail{{Name: name}}
		}
	}
	return nil
}

func parseProduct(m map[string]interface{}) (ProductDetail, bool) {
	var p ProductDetail
	for _, key := range []string{"name", "product", "product_name", "productName"} {
		if s := stringField(m, key); s != "" {
			p.Name = strings.ToLower(strings.TrimSpace(s))
			break
		}
	}
	p.Quantity = numberField(m, "quantity")
	p.Price = numberField(m, "price")
	p.OrderID = stringField(m, "orderId")
	if p.OrderID == "" {
		p.OrderID = stringField(m, "order_id")
	}
	if p.Name == "" && p.OrderID == "" {
		return ProductDetail{}, false
	}
	return p, true
}

// parseFilters flattens the nested bound spellings the model produces
// ({"price": {"max": 50}}, {"max_price": 50}) into canonical keys.
func parseFilters(filters map[string]interface{}) map[string]float64 {
	out := make(map[string]float64)

	if price, ok := filters["price"].(map[string]interface{}); ok {
		if v := numberField(price, "max"); v != nil {
			out[FilterPriceMax] = *v
		}
	}
	if quantity, ok := filters["quantity"].(map[string]interface{}); ok {
		if v := numberField(quantity, "min"); v != nil {
			out[FilterQuantityMin] = *v
		}
	}
	for _, key := range []string{"max_price", "price_max"} {
		if v := numberField(filters, key); v != nil {
			out[FilterPriceMax] = *v
		}
	}
	for _, key := range []string{"min_quantity", "quantity_min"} {
		if v := numberField(filters, key); v != nil {
			out[FilterQuantityMin] = *v
		}
	}

	if len(out) == 0 {
		return nil
	}
	return out
}

func stringField(m map[string]interface{}, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

// numberField tolerates the model answering numbers as strings ("300" or
// "70/kg") as the source variants did.
func numberField(m map[string]interface{}, key string) *float64 {
	switch v := m[key].(type) {
	case float64:
		return &v
	case string:
		s := strings.TrimSpace(v)
		if idx := strings.IndexAny(s, "/ "); idx > 0 {
			s = s[:idx]
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return &f
		}
	}
	return nil
}
