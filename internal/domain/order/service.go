package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/mothership-commerce/internal/domain/discount"
	"github.com/xenking/mothership-commerce/internal/domain/product"
	"github.com/xenking/mothership-commerce/internal/domain/tax"
)

// UnitLoader loads units with their store tax rates resolved by rates.
type UnitLoader interface {
	Units(ctx context.Context, rates tax.RateResolver, ids []string) ([]product.Unit, error)
}

// ItemRequest asks for quantity items of one unit.
type ItemRequest struct {
	UnitID        string
	Quantity      int
	StockLocation string
	// ActualPrice overrides the list price when positive.
	ActualPrice decimal.Decimal
}

// ShippingRequest sets the order's delivery charge.
type ShippingRequest struct {
	Name  string
	Price decimal.Decimal
}

// PlaceOrderRequest holds the input for placing an order.
type PlaceOrderRequest struct {
	Currency     string
	Items        []ItemRequest
	Addresses    []Address
	DiscountCode string
	Shipping     *ShippingRequest
	Payments     []Payment
	Note         string
}

// Service encapsulates order placement and lifecycle business logic.
type Service struct {
	units     UnitLoader
	discounts discount.Validator
	orders    Repository
	resolver  tax.RateResolver
	opts      AssemblerOptions

	cache     Cache
	publisher Publisher
	metrics   Metrics
	now       func() time.Time
}

// Option configures optional Service collaborators.
type Option func(*Service)

// WithCache enables read-through caching of orders.
func WithCache(c Cache) Option { return func(s *Service) { s.cache = c } }

// WithPublisher enables lifecycle event publishing.
func WithPublisher(p Publisher) Option { return func(s *Service) { s.publisher = p } }

// WithMetrics enables business metrics.
func WithMetrics(m Metrics) Option { return func(s *Service) { s.metrics = m } }

// NewService creates an order Service with the required domain dependencies.
func NewService(
	units UnitLoader,
	discounts discount.Validator,
	orders Repository,
	resolver tax.RateResolver,
	opts AssemblerOptions,
	options ...Option,
) *Service {
	s := &Service{
		units:     units,
		discounts: discounts,
		orders:    orders,
		resolver:  resolver,
		opts:      opts,
		metrics:   nopMetrics{},
		now:       time.Now,
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// PlaceOrder validates the request, loads units, assembles and commits the
// order, persists it and announces it.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*Order, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}

	// Validate quantities and collect unit IDs.
	ids := make([]string, len(req.Items))
	for i, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, &InvalidQuantityError{UnitID: item.UnitID}
		}
		ids[i] = item.UnitID
	}

	// One rule table prices the whole order, even across a reload.
	rates := tax.Pin(s.resolver)

	units, err := s.units.Units(ctx, rates, ids)
	if err != nil {
		var notFound *product.UnitNotFoundError
		if errors.As(err, &notFound) {
			return nil, &UnitNotFoundError{UnitID: notFound.UnitID}
		}
		var invalid *product.ValidationError
		if errors.As(err, &invalid) {
			return nil, &ValidationError{Problems: []Problem{{Field: "items." + invalid.UnitID, Message: invalid.Reason}}}
		}
		s.observeTaxError(err)
		return nil, fmt.Errorf("load units: %w", err)
	}

	a := NewAssembler(req.Currency, rates, s.opts)
	a.now = s.now

	// Addresses first so items are priced at the delivery jurisdiction.
	for _, addr := range req.Addresses {
		if err := a.SetAddress(addr); err != nil {
			s.observeTaxError(err)
			return nil, fmt.Errorf("set %s address: %w", addr.Type, err)
		}
	}

	lines := make([]discount.Line, len(req.Items))
	for i, item := range req.Items {
		for range item.Quantity {
			_, err := a.AddItem(&units[i], ItemOptions{
				StockLocation: item.StockLocation,
				ActualPrice:   item.ActualPrice,
			})
			if err != nil {
				s.observeTaxError(err)
				return nil, fmt.Errorf("add unit %s: %w", item.UnitID, err)
			}
		}
		price := item.ActualPrice
		if !price.IsPositive() {
			if price, err = units[i].Price(product.PriceRetail, req.Currency); err != nil {
				return nil, errors.Wrapf(err, "price unit %s", item.UnitID)
			}
		}
		lines[i] = discount.Line{UnitID: item.UnitID, Price: price, Quantity: item.Quantity}
	}

	if req.Shipping != nil {
		if err := a.SetShipping(req.Shipping.Name, req.Shipping.Price); err != nil {
			return nil, fmt.Errorf("set shipping: %w", err)
		}
	}

	var redeem []string
	if req.DiscountCode != "" {
		d, err := s.discounts.Validate(ctx, req.DiscountCode, lines)
		if err != nil {
			return nil, fmt.Errorf("validate discount: %w", err)
		}
		if err := a.AddDiscount(Discount{
			Code:        d.Code,
			Amount:      d.Amount,
			Percentage:  d.Percentage,
			Name:        d.Code,
			Description: d.Description,
		}); err != nil {
			return nil, fmt.Errorf("add discount: %w", err)
		}
		redeem = append(redeem, d.Code)
	}

	for _, p := range req.Payments {
		if err := a.AddPayment(p); err != nil {
			return nil, err
		}
	}
	if req.Note != "" {
		a.AddNote(Note{Note: req.Note})
	}

	o, err := a.Commit()
	if err != nil {
		return nil, err
	}

	if err := s.orders.Create(ctx, o, redeem...); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	zctx.From(ctx).Info("Order placed",
		zap.String("order_id", o.ID),
		zap.String("currency", o.CurrencyID),
		zap.String("gross", o.TotalGross.StringFixed(2)),
		zap.String("tax", o.TotalTax.StringFixed(2)),
		zap.Int("items", o.Count(KindItem)),
	)
	s.metrics.OrderPlaced(o)
	s.publish(ctx, EventCreated, o)
	return o, nil
}

// Get returns the order with id, serving from the cache when possible.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	if s.cache != nil {
		o, err := s.cache.Get(ctx, id)
		if err != nil {
			zctx.From(ctx).Warn("Order cache read failed", zap.String("order_id", id), zap.Error(err))
		}
		if o != nil {
			return o, nil
		}
	}

	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, o); err != nil {
			zctx.From(ctx).Warn("Order cache write failed", zap.String("order_id", id), zap.Error(err))
		}
	}
	return o, nil
}

// AddPayment records a payment against a placed order. Paying off the
// balance moves an order awaiting payment on to dispatch.
func (s *Service) AddPayment(ctx context.Context, id string, p Payment) (*Order, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("payment: %w", err)
	}

	now := s.now().UTC()
	p.ID, p.CreatedAt = uuid.New().String(), now
	o, err := s.orders.Update(ctx, id, func(o *Order) (Change, error) {
		if err := checkMutable(o); err != nil {
			return Change{}, err
		}
		p.OrderID = o.ID
		c := Change{Payment: &p}
		o.Apply(c, now)
		if o.Status == StatusAwaitingPayment && !o.Balance().IsPositive() {
			c.Status = StatusAwaitingDispatch
			o.Apply(Change{Status: c.Status}, now)
		}
		return c, nil
	})
	if err != nil {
		return nil, fmt.Errorf("add payment: %w", err)
	}

	s.invalidate(ctx, o.ID)
	s.publish(ctx, EventPaymentAdded, o)
	return o, nil
}

// AddRefund records a refund against a placed order. Refunds never exceed
// what has been paid and not yet refunded.
func (s *Service) AddRefund(ctx context.Context, id string, r Refund) (*Order, error) {
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("refund: %w", err)
	}

	now := s.now().UTC()
	r.ID, r.CreatedAt = uuid.New().String(), now
	o, err := s.orders.Update(ctx, id, func(o *Order) (Change, error) {
		if paid := o.Paid(); r.Amount.GreaterThan(paid) {
			return Change{}, fmt.Errorf("refund %s exceeds paid %s: %w", r.Amount, paid, ErrInvalidAmount)
		}
		r.OrderID = o.ID
		c := Change{Refund: &r}
		o.Apply(c, now)
		return c, nil
	})
	if err != nil {
		return nil, fmt.Errorf("add refund: %w", err)
	}

	s.invalidate(ctx, o.ID)
	s.publish(ctx, EventRefundAdded, o)
	return o, nil
}

// Complete marks a reconciled order complete.
func (s *Service) Complete(ctx context.Context, id string) (*Order, error) {
	o, err := s.transition(ctx, id, StatusComplete, func(o *Order) error {
		if !o.Reconciled() {
			return &ReconciliationError{OrderID: o.ID, Balance: o.Balance()}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.OrderCompleted(o)
	s.invalidate(ctx, o.ID)
	s.publish(ctx, EventCompleted, o)
	return o, nil
}

// Cancel cancels an order that is not complete.
func (s *Service) Cancel(ctx context.Context, id string) (*Order, error) {
	o, err := s.transition(ctx, id, StatusCancelled, nil)
	if err != nil {
		return nil, err
	}

	s.metrics.OrderCancelled(o)
	s.invalidate(ctx, o.ID)
	s.publish(ctx, EventCancelled, o)
	return o, nil
}

// transition moves a mutable order to status once check, run under the
// order lock, passes.
func (s *Service) transition(ctx context.Context, id string, status int, check func(*Order) error) (*Order, error) {
	now := s.now().UTC()
	return s.orders.Update(ctx, id, func(o *Order) (Change, error) {
		if err := checkMutable(o); err != nil {
			return Change{}, err
		}
		if check != nil {
			if err := check(o); err != nil {
				return Change{}, err
			}
		}
		c := Change{Status: status}
		o.Apply(c, now)
		return c, nil
	})
}

// checkMutable rejects changes to complete and cancelled orders.
func checkMutable(o *Order) error {
	if o.Status == StatusComplete || o.Status == StatusCancelled {
		return fmt.Errorf("order %s has status %d: %w", o.ID, o.Status, ErrInvalidTransition)
	}
	return nil
}

func (s *Service) invalidate(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, id); err != nil {
		zctx.From(ctx).Warn("Order cache invalidation failed", zap.String("order_id", id), zap.Error(err))
	}
}

// publish is best effort: the order is already stored.
func (s *Service) publish(ctx context.Context, event EventType, o *Order) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event, o); err != nil {
		zctx.From(ctx).Error("Publish order event",
			zap.String("event", string(event)),
			zap.String("order_id", o.ID),
			zap.Error(err),
		)
	}
}

func (s *Service) observeTaxError(err error) {
	var cfgErr *tax.ConfigError
	if errors.As(err, &cfgErr) {
		s.metrics.TaxResolutionFailed(cfgErr.Reason.Error())
	}
}

type nopMetrics struct{}

func (nopMetrics) OrderPlaced(*Order)         {}
func (nopMetrics) OrderCompleted(*Order)      {}
func (nopMetrics) OrderCancelled(*Order)      {}
func (nopMetrics) TaxResolutionFailed(string) {}
