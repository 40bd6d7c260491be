package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		quantity *int
		price    *int
		product  *string
	}{
		{
			name:     "full sell message",
			text:     "I want to sell 300kg tomato at 70/kg",
			quantity: intPtr(300),
			price:    intPtr(70),
			product:  strPtr("tomato"),
		},
		{
			name:    "buy message without price",
			text:    "I want to buy onions",
			product: strPtr("onions"),
		},
		{
			name:    "availability phrasing",
			text:    "What is the availability of Spinach",
			product: strPtr("spinach"),
		},
		{
			name:     "order with quantity",
			text:     "order 5kg potato",
			quantity: intPtr(5),
			product:  strPtr("potato"),
		},
		{
			name:     "no space before unit",
			text:     "sell 20 kg carrot at 30/kg",
			quantity: intPtr(20),
			price:    intPtr(30),
			product:  strPtr("carrot"),
		},
		{
			name: "no trigger keyword",
			text: "hello there, how are you?",
		},
		{
			name: "empty message",
			text: "",
		},
		{
			name:    "multi word product",
			text:    "buy green chilli for dinner",
			product: strPtr("green chilli"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Extract(tt.text)
			assertIntPtr(t, tt.quantity, got.Quantity, "quantity")
			assertIntPtr(t, tt.price, got.Price, "price")
			if tt.product == nil {
				assert.Nil(t, got.Product, "product")
			} else {
				if assert.NotNil(t, got.Product, "product") {
					assert.Equal(t, *tt.product, *got.Product)
				}
			}
		})
	}
}

func TestExtract_IsPure(t *testing.T) {
	text := "sell 300kg tomato at 70/kg"
	first := Extract(text)
	second := Extract(text)
	assert.Equal(t, first, second)
}

func assertIntPtr(t *testing.T, want, got *int, field string) {
	t.Helper()
	if want == nil {
		assert.Nil(t, got, field)
		return
	}
	if assert.NotNil(t, got, field) {
		assert.Equal(t, *want, *got, field)
	}
}

func intPtr(n int) *int       { return &n }
func strPtr(s string) *string { return &s }
