package order

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Order is an order aggregate. It exclusively owns its entity collections,
// which are reached through the named accessors.
type Order struct {
	ID         string `json:"id"`
	Status     int    `json:"status"`
	CurrencyID string `json:"currency_id"`

	ProductNet      decimal.Decimal `json:"product_net"`
	ProductDiscount decimal.Decimal `json:"product_discount"`
	ProductTax      decimal.Decimal `json:"product_tax"`
	ProductGross    decimal.Decimal `json:"product_gross"`

	TotalNet      decimal.Decimal `json:"total_net"`
	TotalDiscount decimal.Decimal `json:"total_discount"`
	TotalTax      decimal.Decimal `json:"total_tax"`
	TotalGross    decimal.Decimal `json:"total_gross"`

	Shipping Shipping `json:"shipping"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	entities Entities
}

// Restore rebuilds an order read back from storage.
func Restore(o *Order, e Entities) *Order {
	o.entities = e
	return o
}

func (o *Order) Items() []*Item          { return o.entities.Items }
func (o *Order) Addresses() []*Address   { return o.entities.Addresses }
func (o *Order) Discounts() []*Discount  { return o.entities.Discounts }
func (o *Order) Payments() []*Payment    { return o.entities.Payments }
func (o *Order) Refunds() []*Refund      { return o.entities.Refunds }
func (o *Order) Notes() []*Note          { return o.entities.Notes }
func (o *Order) Dispatches() []*Dispatch { return o.entities.Dispatches }
func (o *Order) Documents() []*Document  { return o.entities.Documents }

// Count returns the number of entities of kind k.
func (o *Order) Count(k EntityKind) int { return o.entities.Count(k) }

// Address returns the address of type t.
func (o *Order) Address(t AddressType) (*Address, bool) {
	for _, a := range o.entities.Addresses {
		if a.Type == t {
			return a, true
		}
	}
	return nil, false
}

// Paid returns payments less refunds.
func (o *Order) Paid() decimal.Decimal {
	paid := decimal.Zero
	for _, p := range o.entities.Payments {
		paid = paid.Add(p.Amount)
	}
	for _, r := range o.entities.Refunds {
		paid = paid.Sub(r.Amount)
	}
	return paid
}

// Balance returns the amount still owed. It is negative when the customer
// has paid more than the order total.
func (o *Order) Balance() decimal.Decimal {
	return o.TotalGross.Sub(o.Paid())
}

// Reconciled reports whether payments exactly cover the order total.
func (o *Order) Reconciled() bool {
	return o.Balance().IsZero()
}

// calculateTotals sums item amounts into the product totals and adds the
// shipping charge for the order totals.
func (o *Order) calculateTotals() {
	o.ProductNet, o.ProductDiscount, o.ProductTax, o.ProductGross = decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero
	for _, it := range o.entities.Items {
		o.ProductNet = o.ProductNet.Add(it.Net)
		o.ProductDiscount = o.ProductDiscount.Add(it.Discount)
		o.ProductTax = o.ProductTax.Add(it.Tax)
		o.ProductGross = o.ProductGross.Add(it.Gross)
	}

	o.TotalNet = o.ProductNet.Add(o.Shipping.Net)
	o.TotalDiscount = o.ProductDiscount.Add(o.Shipping.Discount)
	o.TotalTax = o.ProductTax.Add(o.Shipping.Tax)
	o.TotalGross = o.ProductGross.Add(o.Shipping.Gross)
}

type orderFields Order

type orderJSON struct {
	*orderFields
	Entities
}

// MarshalJSON encodes the order with its entities.
func (o *Order) MarshalJSON() ([]byte, error) {
	return json.Marshal(orderJSON{orderFields: (*orderFields)(o), Entities: o.entities})
}

// UnmarshalJSON decodes an order encoded by MarshalJSON.
func (o *Order) UnmarshalJSON(data []byte) error {
	v := orderJSON{orderFields: (*orderFields)(o)}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	o.entities = v.Entities
	return nil
}

// Change is the write an update appends to a placed order.
type Change struct {
	Payment *Payment
	Refund  *Refund
	// Status is the new status; zero keeps the current one.
	Status int
}

// Apply records c on o as of at.
func (o *Order) Apply(c Change, at time.Time) {
	if c.Payment != nil {
		o.entities.Payments = append(o.entities.Payments, c.Payment)
	}
	if c.Refund != nil {
		o.entities.Refunds = append(o.entities.Refunds, c.Refund)
	}
	if c.Status != 0 {
		o.Status = c.Status
	}
	o.UpdatedAt = at
}

// UpdateFunc inspects an order loaded under lock, applies its change to it
// and returns the change to store. An error aborts the update.
type UpdateFunc func(o *Order) (Change, error)

// Repository defines persistence operations for orders.
type Repository interface {
	// Create stores a committed order and redeems one use of every code in
	// redeem within the same write. A code without uses left fails the
	// whole create with discount.ErrUsageLimitReached.
	Create(ctx context.Context, o *Order, redeem ...string) error
	Get(ctx context.Context, id string) (*Order, error)
	// Update serialises writes to order id: fn sees the latest stored
	// state and its change is stored before the lock is released.
	Update(ctx context.Context, id string, fn UpdateFunc) (*Order, error)
}

// Cache is a read-through cache of committed orders. Get returns nil, nil
// on a miss.
type Cache interface {
	Get(ctx context.Context, id string) (*Order, error)
	Set(ctx context.Context, o *Order) error
	Delete(ctx context.Context, id string) error
}

// EventType names an order lifecycle event.
type EventType string

const (
	EventCreated       EventType = "order.created"
	EventPaymentAdded  EventType = "order.payment_added"
	EventRefundAdded   EventType = "order.refund_added"
	EventCompleted     EventType = "order.completed"
	EventCancelled     EventType = "order.cancelled"
	EventStatusChanged EventType = "order.status_changed"
)

// Publisher delivers order lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, event EventType, o *Order) error
}

// Metrics records business metrics for orders.
type Metrics interface {
	OrderPlaced(o *Order)
	OrderCompleted(o *Order)
	OrderCancelled(o *Order)
	TaxResolutionFailed(reason string)
}
