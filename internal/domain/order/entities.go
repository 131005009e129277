package order

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/mothership-commerce/internal/domain/tax"
)

// EntityKind names an entity collection owned by an order.
type EntityKind uint8

const (
	KindItem EntityKind = iota + 1
	KindAddress
	KindDiscount
	KindPayment
	KindRefund
	KindNote
	KindDispatch
	KindDocument
)

func (k EntityKind) String() string {
	switch k {
	case KindItem:
		return "item"
	case KindAddress:
		return "address"
	case KindDiscount:
		return "discount"
	case KindPayment:
		return "payment"
	case KindRefund:
		return "refund"
	case KindNote:
		return "note"
	case KindDispatch:
		return "dispatch"
	case KindDocument:
		return "document"
	default:
		return "unknown"
	}
}

// Entities holds every collection an order owns. Entities refer back to
// their order by ID only.
type Entities struct {
	Items      []*Item     `json:"items"`
	Addresses  []*Address  `json:"addresses"`
	Discounts  []*Discount `json:"discounts"`
	Payments   []*Payment  `json:"payments"`
	Refunds    []*Refund   `json:"refunds"`
	Notes      []*Note     `json:"notes"`
	Dispatches []*Dispatch `json:"dispatches"`
	Documents  []*Document `json:"documents"`
}

// Count returns the size of the collection of kind k.
func (e *Entities) Count(k EntityKind) int {
	switch k {
	case KindItem:
		return len(e.Items)
	case KindAddress:
		return len(e.Addresses)
	case KindDiscount:
		return len(e.Discounts)
	case KindPayment:
		return len(e.Payments)
	case KindRefund:
		return len(e.Refunds)
	case KindNote:
		return len(e.Notes)
	case KindDispatch:
		return len(e.Dispatches)
	case KindDocument:
		return len(e.Documents)
	default:
		return 0
	}
}

// AddressType distinguishes the addresses of an order.
type AddressType string

const (
	AddressDelivery AddressType = "delivery"
	AddressBilling  AddressType = "billing"
)

// Address is a postal address attached to an order.
type Address struct {
	ID        string      `json:"id"`
	OrderID   string      `json:"order_id"`
	Type      AddressType `json:"type"`
	Name      string      `json:"name"`
	Lines     []string    `json:"lines"`
	Town      string      `json:"town"`
	Postcode  string      `json:"postcode"`
	CountryID string      `json:"country_id"`
	RegionID  string      `json:"region_id,omitempty"`
}

// TaxAddress returns the jurisdiction part of the address.
func (a *Address) TaxAddress() tax.Address {
	return tax.Address{CountryID: a.CountryID, RegionID: a.RegionID}
}

// Discount is a discount applied to an order. A discount carries either a
// percentage taken off each eligible item or a fixed amount spread over the
// eligible items. Amount always holds the total actually deducted.
type Discount struct {
	ID          string          `json:"id"`
	OrderID     string          `json:"order_id"`
	Code        string          `json:"code"`
	Amount      decimal.Decimal `json:"amount"`
	Percentage  decimal.Decimal `json:"percentage"`
	Name        string          `json:"name"`
	Description string          `json:"description"`

	requested decimal.Decimal
}

// IsPercentage reports whether the discount is a percentage.
func (d *Discount) IsPercentage() bool { return d.Percentage.IsPositive() }

// Payment is money received against an order.
type Payment struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"order_id"`
	Method    string          `json:"method"`
	Amount    decimal.Decimal `json:"amount"`
	Change    decimal.Decimal `json:"change"`
	Reference string          `json:"reference"`
	CreatedAt time.Time       `json:"created_at"`
}

// Tendered returns the amount handed over with the payment: amount plus
// change.
func (p *Payment) Tendered() decimal.Decimal {
	return p.Amount.Add(p.Change)
}

// Validate checks the payment can be recorded.
func (p *Payment) Validate() error {
	if !p.Amount.IsPositive() || p.Change.IsNegative() {
		return ErrInvalidAmount
	}
	return nil
}

// Refund is money returned against an order.
type Refund struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"order_id"`
	PaymentID string          `json:"payment_id,omitempty"`
	Method    string          `json:"method"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason"`
	Reference string          `json:"reference"`
	CreatedAt time.Time       `json:"created_at"`
}

// Validate checks the refund can be recorded.
func (r *Refund) Validate() error {
	if !r.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

// Note is a free-text remark on an order.
type Note struct {
	ID               string    `json:"id"`
	OrderID          string    `json:"order_id"`
	Note             string    `json:"note"`
	CustomerNotified bool      `json:"customer_notified"`
	CreatedAt        time.Time `json:"created_at"`
}

// Dispatch is a shipment of some of an order's items.
type Dispatch struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"order_id"`
	Method    string          `json:"method"`
	Code      string          `json:"code"`
	Cost      decimal.Decimal `json:"cost"`
	ItemIDs   []string        `json:"item_ids"`
	ShippedAt *time.Time      `json:"shipped_at,omitempty"`
}

// Document is a generated file attached to an order, e.g. an invoice.
type Document struct {
	ID      string `json:"id"`
	OrderID string `json:"order_id"`
	Type    string `json:"type"`
	URL     string `json:"url"`
}

// Shipping holds the order's delivery charge. It is taxed like an item of
// the shipping product type.
type Shipping struct {
	Name      string                     `json:"name"`
	ListPrice decimal.Decimal            `json:"list_price"`
	Net       decimal.Decimal            `json:"net"`
	Discount  decimal.Decimal            `json:"discount"`
	Tax       decimal.Decimal            `json:"tax"`
	Gross     decimal.Decimal            `json:"gross"`
	TaxRate   decimal.Decimal            `json:"tax_rate"`
	Taxes     map[string]decimal.Decimal `json:"taxes"`
	TaxLines  []tax.Line                 `json:"tax_lines"`
}

// calculate prices the shipping charge at rates. Under the inclusive
// strategy ListPrice already contains tax.
func (s *Shipping) calculate(strategy tax.Strategy, rates tax.RateSet) error {
	s.TaxRate = rates.TotalRate()
	s.Taxes = rates.Taxes()
	price := s.ListPrice.Sub(s.Discount)
	if price.IsNegative() {
		price = decimal.Zero
	}

	switch strategy {
	case tax.Inclusive:
		s.Gross = price
		s.Net = tax.RemoveTax(price, s.TaxRate)
		s.Tax = s.Gross.Sub(s.Net)
	case tax.Exclusive:
		s.Net = price
		s.Tax = price.Mul(s.TaxRate).Div(decimal.NewFromInt(100)).Round(2)
		s.Gross = s.Net.Add(s.Tax)
	default:
		return tax.ErrUnknownStrategy
	}

	s.TaxLines = rates.Split(s.Tax)
	return nil
}
