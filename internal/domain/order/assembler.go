package order

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/mothership-commerce/internal/domain/product"
	"github.com/xenking/mothership-commerce/internal/domain/tax"
)

// DefaultShippingType is the product type shipping charges are taxed as.
const DefaultShippingType = "shipping"

// AssemblerOptions configure tax handling for assembled orders.
type AssemblerOptions struct {
	// Store is the merchant address. Rates are resolved here while no
	// delivery address is staged.
	Store tax.Address
	// ShippingType is the product type used to tax shipping.
	ShippingType string
	// ShippingStrategy states whether shipping prices include tax.
	ShippingStrategy tax.Strategy
}

// ItemOptions are per-item inputs to AddItem.
type ItemOptions struct {
	StockLocation string
	DiscountCode  string
	// ActualPrice overrides the list price when positive.
	ActualPrice decimal.Decimal
}

// Assembler builds an order before commit. Entities are staged under
// temporary keys (addresses by type, discounts by code, items by a
// generated key) so they can reference each other before IDs exist. Every
// mutation recalculates the whole order; a mutation that fails leaves the
// assembler exactly as it was.
//
// An Assembler is not safe for concurrent use.
type Assembler struct {
	order    *Order
	resolver tax.RateResolver
	opts     AssemblerOptions
	now      func() time.Time

	itemKeys  []string
	items     map[string]*Item
	addresses map[AddressType]*Address
	discounts map[string]*Discount
	codes     []string
	nextKey   int
}

// NewAssembler returns an Assembler for a new order in currency. A reloadable
// resolver is pinned so every line of the order is priced under the same
// rules.
func NewAssembler(currency string, resolver tax.RateResolver, opts AssemblerOptions) *Assembler {
	if opts.ShippingType == "" {
		opts.ShippingType = DefaultShippingType
	}
	if opts.ShippingStrategy == 0 {
		opts.ShippingStrategy = tax.Inclusive
	}
	return &Assembler{
		order:     &Order{CurrencyID: strings.ToUpper(currency)},
		resolver:  tax.Pin(resolver),
		opts:      opts,
		now:       time.Now,
		items:     make(map[string]*Item),
		addresses: make(map[AddressType]*Address),
		discounts: make(map[string]*Discount),
	}
}

// Order returns the order as currently assembled.
func (a *Assembler) Order() *Order { return a.order }

// Item returns the staged item stored under key.
func (a *Assembler) Item(key string) (*Item, bool) {
	it, ok := a.items[key]
	return it, ok
}

// AddItem stages one item for unit and returns its temporary key.
func (a *Assembler) AddItem(unit *product.Unit, opts ItemOptions) (string, error) {
	if a.order.CurrencyID == "" {
		return "", &ValidationError{Problems: []Problem{{Field: "currency", Message: "required"}}}
	}

	it := &Item{
		StockLocation: opts.StockLocation,
		DiscountCode:  normalizeCode(opts.DiscountCode),
		Status:        StatusAwaitingDispatch,
	}
	if opts.ActualPrice.IsPositive() {
		it.ActualPrice = opts.ActualPrice
	}
	if err := it.Populate(unit, a.order.CurrencyID); err != nil {
		return "", errors.Wrapf(err, "populate unit %s", unit.ID)
	}

	a.nextKey++
	key := "item-" + strconv.Itoa(a.nextKey)
	a.items[key] = it
	a.itemKeys = append(a.itemKeys, key)

	if err := a.recalculate(); err != nil {
		a.removeItem(key)
		return "", err
	}
	return key, nil
}

// RemoveItem drops the staged item stored under key.
func (a *Assembler) RemoveItem(key string) error {
	it, ok := a.items[key]
	if !ok {
		return errors.Errorf("item %q is not staged", key)
	}
	keys := slices.Clone(a.itemKeys)
	a.removeItem(key)
	if err := a.recalculate(); err != nil {
		a.items[key], a.itemKeys = it, keys
		return err
	}
	return nil
}

func (a *Assembler) removeItem(key string) {
	delete(a.items, key)
	a.itemKeys = slices.DeleteFunc(a.itemKeys, func(k string) bool { return k == key })
}

// SetStockLocation sets the stock location of the item stored under key.
func (a *Assembler) SetStockLocation(key, location string) error {
	it, ok := a.items[key]
	if !ok {
		return errors.Errorf("item %q is not staged", key)
	}
	it.StockLocation = location
	return nil
}

// SetAddress stages addr, replacing any address of the same type. A new
// delivery address re-prices every item.
func (a *Assembler) SetAddress(addr Address) error {
	if addr.Type != AddressDelivery && addr.Type != AddressBilling {
		return &ValidationError{Problems: []Problem{{Field: "address.type", Message: fmt.Sprintf("unknown type %q", addr.Type)}}}
	}
	addr.CountryID = strings.ToUpper(strings.TrimSpace(addr.CountryID))
	addr.RegionID = strings.ToUpper(strings.TrimSpace(addr.RegionID))

	prev, had := a.addresses[addr.Type]
	a.addresses[addr.Type] = &addr
	if err := a.recalculate(); err != nil {
		a.restoreAddress(addr.Type, prev, had)
		return err
	}
	return nil
}

// RemoveAddress drops the staged address of type t.
func (a *Assembler) RemoveAddress(t AddressType) error {
	prev, had := a.addresses[t]
	delete(a.addresses, t)
	if err := a.recalculate(); err != nil {
		a.restoreAddress(t, prev, had)
		return err
	}
	return nil
}

func (a *Assembler) restoreAddress(t AddressType, prev *Address, had bool) {
	if had {
		a.addresses[t] = prev
		return
	}
	delete(a.addresses, t)
}

// AddDiscount stages d under its code. Codes are unique per order.
func (a *Assembler) AddDiscount(d Discount) error {
	d.Code = normalizeCode(d.Code)
	switch {
	case d.Code == "":
		return &ValidationError{Problems: []Problem{{Field: "discount.code", Message: "required"}}}
	case d.Percentage.IsNegative() || d.Percentage.GreaterThan(decimal.NewFromInt(100)):
		return &ValidationError{Problems: []Problem{{Field: "discount.percentage", Message: "must be between 0 and 100"}}}
	case !d.IsPercentage() && !d.Amount.IsPositive():
		return &ValidationError{Problems: []Problem{{Field: "discount.amount", Message: "must be greater than 0"}}}
	}
	if _, ok := a.discounts[d.Code]; ok {
		return &ValidationError{Problems: []Problem{{Field: "discount.code", Message: "duplicate code " + d.Code}}}
	}

	d.requested = d.Amount
	a.discounts[d.Code] = &d
	a.codes = append(a.codes, d.Code)
	if err := a.recalculate(); err != nil {
		delete(a.discounts, d.Code)
		a.codes = a.codes[:len(a.codes)-1]
		return err
	}
	return nil
}

// RemoveDiscount drops the discount staged under code.
func (a *Assembler) RemoveDiscount(code string) error {
	code = normalizeCode(code)
	d, ok := a.discounts[code]
	if !ok {
		return errors.Errorf("discount %q is not staged", code)
	}
	codes := slices.Clone(a.codes)
	delete(a.discounts, code)
	a.codes = slices.DeleteFunc(a.codes, func(c string) bool { return c == code })
	if err := a.recalculate(); err != nil {
		a.discounts[code], a.codes = d, codes
		return err
	}
	return nil
}

// SetShipping sets the delivery charge. price follows the shipping strategy.
func (a *Assembler) SetShipping(name string, price decimal.Decimal) error {
	if price.IsNegative() {
		return &ValidationError{Problems: []Problem{{Field: "shipping.price", Message: "must not be negative"}}}
	}
	prev := a.order.Shipping
	a.order.Shipping = Shipping{Name: name, ListPrice: price}
	if err := a.recalculate(); err != nil {
		a.order.Shipping = prev
		return err
	}
	return nil
}

// AddPayment records p against the order.
func (a *Assembler) AddPayment(p Payment) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("payment: %w", err)
	}
	a.order.entities.Payments = append(a.order.entities.Payments, &p)
	return nil
}

// AddRefund records r against the order.
func (a *Assembler) AddRefund(r Refund) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("refund: %w", err)
	}
	a.order.entities.Refunds = append(a.order.entities.Refunds, &r)
	return nil
}

// AddNote attaches a note to the order.
func (a *Assembler) AddNote(n Note) {
	a.order.entities.Notes = append(a.order.entities.Notes, &n)
}

// Commit validates the assembled order, assigns identifiers and returns the
// finished order. Every failed check is reported in one *ValidationError.
func (a *Assembler) Commit() (*Order, error) {
	if problems := a.validate(); len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}

	o := a.order
	now := a.now().UTC()
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	o.CreatedAt, o.UpdatedAt = now, now
	o.Status = StatusAwaitingDispatch
	if o.Balance().IsPositive() {
		o.Status = StatusAwaitingPayment
	}

	for _, it := range o.entities.Items {
		it.ID, it.OrderID = uuid.New().String(), o.ID
	}
	for _, ad := range o.entities.Addresses {
		ad.ID, ad.OrderID = uuid.New().String(), o.ID
	}
	for _, d := range o.entities.Discounts {
		d.ID, d.OrderID = uuid.New().String(), o.ID
	}
	for _, p := range o.entities.Payments {
		p.ID, p.OrderID, p.CreatedAt = uuid.New().String(), o.ID, now
	}
	for _, r := range o.entities.Refunds {
		r.ID, r.OrderID, r.CreatedAt = uuid.New().String(), o.ID, now
	}
	for _, n := range o.entities.Notes {
		n.ID, n.OrderID, n.CreatedAt = uuid.New().String(), o.ID, now
	}
	return o, nil
}

func (a *Assembler) validate() []Problem {
	var problems []Problem
	if a.order.CurrencyID == "" {
		problems = append(problems, Problem{Field: "currency", Message: "required"})
	}
	if len(a.itemKeys) == 0 {
		problems = append(problems, Problem{Field: "items", Message: ErrEmptyItems.Error()})
	}
	for _, key := range a.itemKeys {
		it := a.items[key]
		if it.StockLocation == "" {
			problems = append(problems, Problem{Field: key + ".stock_location", Message: "required"})
		}
		if it.DiscountCode != "" {
			if _, ok := a.discounts[it.DiscountCode]; !ok {
				problems = append(problems, Problem{Field: key + ".discount_code", Message: "unknown discount " + it.DiscountCode})
			}
		}
	}
	if _, ok := a.addresses[AddressDelivery]; !ok {
		problems = append(problems, Problem{Field: "address.delivery", Message: "required"})
	}
	return problems
}

// recalculate re-prices copies of every staged entity and publishes them,
// with the rebuilt collections and totals, only when all of it succeeds.
func (a *Assembler) recalculate() error {
	jurisdiction := a.opts.Store
	if addr, ok := a.addresses[AddressDelivery]; ok {
		jurisdiction = addr.TaxAddress()
	}

	resolved := make(map[string]tax.RateSet)
	rates := func(productType string) (tax.RateSet, error) {
		if set, ok := resolved[productType]; ok {
			return set, nil
		}
		set, err := a.resolver.Resolve(productType, jurisdiction)
		if err != nil {
			return tax.RateSet{}, errors.Wrapf(err, "resolve %s", productType)
		}
		resolved[productType] = set
		return set, nil
	}

	items := make(map[string]*Item, len(a.itemKeys))
	ordered := make([]*Item, 0, len(a.itemKeys))
	for _, key := range a.itemKeys {
		it := *a.items[key]
		set, err := rates(it.ProductType)
		if err != nil {
			return err
		}
		it.ApplyRates(set)
		it.Discount = decimal.Zero
		items[key] = &it
		ordered = append(ordered, &it)
	}

	discounts := make(map[string]*Discount, len(a.codes))
	applied := make([]*Discount, 0, len(a.codes))
	for _, code := range a.codes {
		d := *a.discounts[code]
		d.Amount = distribute(&d, eligible(a.itemKeys, items, code))
		discounts[code] = &d
		applied = append(applied, &d)
	}

	for _, it := range ordered {
		if err := it.Calculate(); err != nil {
			return err
		}
	}

	shipping := a.order.Shipping
	shippingRates, err := rates(a.opts.ShippingType)
	if err != nil {
		return err
	}
	if err := shipping.calculate(a.opts.ShippingStrategy, shippingRates); err != nil {
		return err
	}

	addresses := make([]*Address, 0, len(a.addresses))
	for _, t := range []AddressType{AddressDelivery, AddressBilling} {
		if addr, ok := a.addresses[t]; ok {
			addresses = append(addresses, addr)
		}
	}

	a.items, a.discounts = items, discounts
	a.order.Shipping = shipping
	a.order.entities.Items = ordered
	a.order.entities.Discounts = applied
	a.order.entities.Addresses = addresses
	a.order.calculateTotals()
	return nil
}

// eligible returns the items a discount applies to: items naming its code,
// or every item without a code when none names it.
func eligible(keys []string, items map[string]*Item, code string) []*Item {
	var named, open []*Item
	for _, key := range keys {
		it := items[key]
		switch it.DiscountCode {
		case code:
			named = append(named, it)
		case "":
			open = append(open, it)
		}
	}
	if len(named) > 0 {
		return named
	}
	return open
}

// distribute deducts d from items and returns the total deducted. No item
// is discounted below zero.
func distribute(d *Discount, items []*Item) decimal.Decimal {
	if len(items) == 0 {
		return decimal.Zero
	}

	if d.IsPercentage() {
		total := decimal.Zero
		for _, it := range items {
			share := it.ActualPrice.Mul(d.Percentage).Div(decimal.NewFromInt(100)).Round(2)
			share = decimal.Min(share, it.DiscountedPrice())
			it.Discount = it.Discount.Add(share)
			total = total.Add(share)
		}
		return total
	}

	capacity := decimal.Zero
	for _, it := range items {
		capacity = capacity.Add(it.DiscountedPrice())
	}
	amount := decimal.Min(d.requested, capacity)
	if !capacity.IsPositive() {
		return decimal.Zero
	}

	allocated := decimal.Zero
	for i, it := range items {
		share := amount.Sub(allocated)
		if i < len(items)-1 {
			share = amount.Mul(it.DiscountedPrice()).Div(capacity).Round(2)
		}
		share = decimal.Min(share, it.DiscountedPrice())
		it.Discount = it.Discount.Add(share)
		allocated = allocated.Add(share)
	}
	return allocated
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
