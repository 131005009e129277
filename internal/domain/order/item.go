package order

import (
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/mothership-commerce/internal/domain/product"
	"github.com/xenking/mothership-commerce/internal/domain/tax"
)

// Item is one order line. It snapshots product, unit and tax data at the
// time of sale; once committed its amounts never follow later catalog or
// tax rule changes.
type Item struct {
	ID      string `json:"id"`
	OrderID string `json:"order_id"`
	Status  int    `json:"status"`

	// ListPrice is the advertised retail price.
	ListPrice decimal.Decimal `json:"list_price"`
	// ActualPrice is the price charged before discounts. It equals ListPrice
	// unless overridden.
	ActualPrice decimal.Decimal `json:"actual_price"`
	// BasePrice is the net price before discounts.
	BasePrice decimal.Decimal `json:"base_price"`
	Net       decimal.Decimal `json:"net"`
	Discount  decimal.Decimal `json:"discount"`
	Tax       decimal.Decimal `json:"tax"`
	Gross     decimal.Decimal `json:"gross"`
	RRP       decimal.Decimal `json:"rrp"`
	// TaxRate is the combined rate applied on this order.
	TaxRate decimal.Decimal `json:"tax_rate"`
	// ProductTaxRate is the product's combined rate at the store address,
	// whether or not tax was charged.
	ProductTaxRate decimal.Decimal `json:"product_tax_rate"`
	TaxStrategy    tax.Strategy    `json:"tax_strategy"`
	// Taxes maps tax type to the rate applied on this order.
	Taxes map[string]decimal.Decimal `json:"taxes"`
	// TaxLines are the per-rate tax amounts; they sum to Tax.
	TaxLines []tax.Line `json:"tax_lines"`

	ProductID    string `json:"product_id"`
	ProductName  string `json:"product_name"`
	ProductType  string `json:"product_type"`
	UnitID       string `json:"unit_id"`
	UnitRevision int    `json:"unit_revision"`
	SKU          string `json:"sku"`
	Barcode      string `json:"barcode"`
	Options      string `json:"options"`
	Brand        string `json:"brand"`
	Weight       int    `json:"weight"`

	StockLocation string `json:"stock_location"`
	// DiscountCode restricts which discount applies to this item. Empty
	// means every order-wide discount applies.
	DiscountCode string `json:"discount_code,omitempty"`

	applied tax.RateSet
}

// Populate snapshots unit and its product's current tax data. currency
// selects the unit prices.
func (i *Item) Populate(unit *product.Unit, currency string) error {
	if unit.Product == nil {
		return errors.Errorf("unit %s has no product", unit.ID)
	}

	list, err := unit.Price(product.PriceRetail, currency)
	if err != nil {
		return err
	}
	rrp, err := unit.Price(product.PriceRRP, currency)
	if err != nil && !errors.Is(err, product.ErrPriceNotFound) {
		return err
	}

	p := unit.Product
	i.ListPrice = list
	i.RRP = rrp
	if i.ActualPrice.IsZero() {
		i.ActualPrice = list
	}
	i.ProductTaxRate = p.TaxRates.TotalRate()
	i.TaxStrategy = p.TaxStrategy
	i.Taxes = p.TaxRates.Taxes()
	i.ProductID = p.ID
	i.ProductName = p.Name
	i.ProductType = p.Type
	i.UnitID = unit.ID
	i.UnitRevision = unit.Revision
	i.SKU = unit.SKU
	i.Barcode = unit.Barcode
	i.Options = unit.OptionValues()
	i.Brand = p.Brand
	i.Weight = unit.Weight
	return nil
}

// ApplyRates sets the rates charged on this order, i.e. the rates at the
// delivery jurisdiction.
func (i *Item) ApplyRates(rates tax.RateSet) {
	i.applied = rates
	i.TaxRate = rates.TotalRate()
	i.Taxes = rates.Taxes()
}

// Calculate derives net, tax and gross from the actual price, the discount
// and the applied rates. Gross always equals net plus tax.
func (i *Item) Calculate() error {
	discounted := i.DiscountedPrice()
	if discounted.IsNegative() {
		return fmt.Errorf("item %s: discount %s exceeds price %s: %w", i.UnitID, i.Discount, i.ActualPrice, ErrInvalidAmount)
	}

	switch i.TaxStrategy {
	case tax.Inclusive:
		i.BasePrice = tax.RemoveTax(i.ActualPrice, i.ProductTaxRate)
		if i.TaxRate.Equal(i.ProductTaxRate) {
			// The shelf price is what the customer pays.
			i.Gross = discounted
			i.Net = tax.RemoveTax(discounted, i.TaxRate)
			i.Tax = i.Gross.Sub(i.Net)
			break
		}
		i.Net = tax.RemoveTax(discounted, i.ProductTaxRate)
		i.Tax = i.Net.Mul(i.TaxRate).Div(decimal.NewFromInt(100)).Round(2)
		i.Gross = i.Net.Add(i.Tax)
	case tax.Exclusive:
		i.BasePrice = i.ActualPrice
		i.Net = discounted
		i.Tax = i.Net.Mul(i.TaxRate).Div(decimal.NewFromInt(100)).Round(2)
		i.Gross = i.Net.Add(i.Tax)
	default:
		return errors.Wrapf(tax.ErrUnknownStrategy, "item %s", i.UnitID)
	}

	i.TaxLines = i.applied.Split(i.Tax)
	return nil
}

// TaxDiscount returns the tax the customer would have paid had the item been
// taxed. ok is false when tax was actually charged.
func (i *Item) TaxDiscount() (amount decimal.Decimal, ok bool) {
	if !i.Tax.IsZero() {
		return decimal.Zero, false
	}
	return i.ListPrice.Sub(i.Discount).Sub(i.Net).Round(2), true
}

// DiscountedPrice returns the actual price less the discount.
func (i *Item) DiscountedPrice() decimal.Decimal {
	return i.ActualPrice.Sub(i.Discount)
}

// Description joins brand, product name and options.
func (i *Item) Description() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{i.Brand, i.ProductName, i.Options} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// RecordType identifies items in transaction records.
func (i *Item) RecordType() string { return "item" }
