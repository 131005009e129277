package main

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/mothership-commerce/internal/domain/auth"
	"github.com/xenking/mothership-commerce/internal/domain/discount"
	"github.com/xenking/mothership-commerce/internal/domain/product"
	"github.com/xenking/mothership-commerce/internal/domain/tax"
)

func TestParseSeed_CatalogFile(t *testing.T) {
	data, err := os.ReadFile("../../db/seed/catalog.json")
	require.NoError(t, err)

	products, rules, err := parseSeed(data)
	require.NoError(t, err)
	require.Len(t, products, 3)
	require.Len(t, rules, 3)

	atlas := products[0]
	assert.Equal(t, "book", atlas.Product.Type)
	assert.Equal(t, tax.Inclusive, atlas.Product.TaxStrategy)
	require.Len(t, atlas.Units, 1)
	assert.Equal(t, "25", atlas.Units[0].Prices[product.PriceKey{Type: product.PriceRetail, Currency: "GBP"}].String())

	assert.Equal(t, tax.Exclusive, products[2].Product.TaxStrategy)
	assert.Equal(t, discount.TypeFreeLowest, rules[2].Type)
}

func TestParseSeed(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		products, rules, err := parseSeed([]byte(`{
			"products": [{"id": "p", "type": "toy", "units": [{"id": "u", "prices": [{"type": "retail", "currency": "gbp", "price": "1.50"}]}]}],
			"discounts": [{"code": "spring", "type": "percentage", "value": "5"}]
		}`))
		require.NoError(t, err)
		assert.Equal(t, tax.Inclusive, products[0].Product.TaxStrategy)
		assert.Equal(t, 1, products[0].Units[0].Revision)
		assert.Contains(t, products[0].Units[0].Prices, product.PriceKey{Type: product.PriceRetail, Currency: "GBP"})
		assert.Equal(t, "SPRING", rules[0].Code)
	})

	tests := []struct {
		name string
		data string
	}{
		{"malformed", `{"products": [`},
		{"missing type", `{"products": [{"id": "p"}]}`},
		{"unknown strategy", `{"products": [{"id": "p", "type": "toy", "tax_strategy": "sometimes"}]}`},
		{"unit without prices", `{"products": [{"id": "p", "type": "toy", "units": [{"id": "u"}]}]}`},
		{"negative price", `{"products": [{"id": "p", "type": "toy", "units": [{"id": "u", "prices": [{"type": "retail", "currency": "GBP", "price": "-1"}]}]}]}`},
		{"unknown discount type", `{"discounts": [{"code": "X", "type": "bogo"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := parseSeed([]byte(tt.data))
			require.Error(t, err)
		})
	}
}

func TestDefaultAPIKey(t *testing.T) {
	info := defaultAPIKey("secret", "pepper")
	assert.Equal(t, auth.HashKey([]byte("pepper"), "secret"), info.KeyHash)
	assert.True(t, info.HasScope("orders:write"))
}
