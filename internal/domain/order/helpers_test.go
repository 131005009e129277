package order

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/xenking/mothership-commerce/internal/domain/product"
	"github.com/xenking/mothership-commerce/internal/domain/tax"
)

const testRules = `
rates:
  GB:
    regions:
      default:
        default:
          vat: { type: VAT, rate: 20 }
        book: ~
        shipping:
          vat: { type: VAT, rate: 20 }
  US:
    defaultRegion: NY
    regions:
      NY:
        default:
          state: { type: SALES, rate: 4 }
          city: { type: SALES, rate: 4.5 }
        shipping: ~
  JE:
    regions:
      default:
        default: ~
`

var gb = tax.Address{CountryID: "GB"}

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func newTestResolver(t *testing.T) *tax.Resolver {
	t.Helper()
	rules, err := tax.ParseRules([]byte(testRules))
	require.NoError(t, err)
	return tax.NewResolver(rules)
}

// newTestUnit returns a unit whose product rates are resolved at the GB
// store, the way product.Catalog attaches them.
func newTestUnit(t *testing.T, id, productType string, strategy tax.Strategy, retail string) *product.Unit {
	t.Helper()
	rates, err := newTestResolver(t).Resolve(productType, gb)
	require.NoError(t, err)

	return &product.Unit{
		ID:       id,
		Revision: 3,
		SKU:      "SKU-" + id,
		Barcode:  "5012345678900",
		Options:  map[string]string{"size": "L"},
		Weight:   250,
		Prices: map[product.PriceKey]decimal.Decimal{
			{Type: product.PriceRetail, Currency: "GBP"}: d(retail),
			{Type: product.PriceRetail, Currency: "USD"}: d(retail),
			{Type: product.PriceRRP, Currency: "GBP"}:    d(retail).Add(decimal.NewFromInt(1)),
		},
		Product: &product.Product{
			ID:          "p-" + id,
			Name:        "Product " + id,
			Brand:       "Acme",
			Type:        productType,
			TaxStrategy: strategy,
			TaxRates:    rates,
		},
	}
}

func delivery(country, region string) Address {
	return Address{
		Type:      AddressDelivery,
		Name:      "Jo Bloggs",
		Lines:     []string{"1 High Street"},
		Town:      "Town",
		Postcode:  "AB1 2CD",
		CountryID: country,
		RegionID:  region,
	}
}

func requireBalanced(t *testing.T, o *Order) {
	t.Helper()
	for _, it := range o.Items() {
		require.True(t, it.Gross.Equal(it.Net.Add(it.Tax)), "item %s gross %s != net %s + tax %s", it.UnitID, it.Gross, it.Net, it.Tax)

		lines := decimal.Zero
		for _, l := range it.TaxLines {
			lines = lines.Add(l.Amount)
		}
		require.True(t, lines.Equal(it.Tax), "item %s tax lines %s != tax %s", it.UnitID, lines, it.Tax)
	}
	require.True(t, o.TotalGross.Equal(o.TotalNet.Add(o.TotalTax)))
}
