package discount

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Type enumerates the supported discount strategies.
type Type string

const (
	// TypePercentage takes a percentage off every item.
	TypePercentage Type = "percentage"
	// TypeFixed takes a fixed amount off the order, capped at the subtotal.
	TypeFixed Type = "fixed"
	// TypeFreeLowest removes the cost of the cheapest item.
	TypeFreeLowest Type = "free_lowest"
)

var (
	// ErrInvalidCode is returned when a code is unknown or the order does not
	// satisfy the rule's minimum item requirement.
	ErrInvalidCode = errors.New("invalid discount code")
	// ErrExpired is returned when a code is outside its valid time window.
	ErrExpired = errors.New("discount code expired")
	// ErrUsageLimitReached is returned when a code has exhausted its uses.
	ErrUsageLimitReached = errors.New("discount code usage limit reached")
)

var hundred = decimal.NewFromInt(100)

// Rule defines a discount code's behaviour and eligibility constraints.
type Rule struct {
	Code        string
	Type        Type
	Value       decimal.Decimal
	MinItems    int
	Description string
	ValidFrom   *time.Time
	ValidUntil  *time.Time
	MaxUses     int
	Uses        int
	// MaxDiscount caps the deducted amount when positive.
	MaxDiscount decimal.Decimal
}

// Discount is the outcome of applying a rule. Percentage is set when the
// deduction is a plain percentage per item; otherwise Amount is a fixed sum
// to spread over the order.
type Discount struct {
	Code        string
	Amount      decimal.Decimal
	Percentage  decimal.Decimal
	Description string
}

// Line is an order line for discount calculation purposes.
type Line struct {
	UnitID   string
	Price    decimal.Decimal
	Quantity int
}

// Repository looks up discount rules.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Rule, error)
}

// Apply calculates the discount rule grants for lines.
func Apply(rule *Rule, lines []Line) (Discount, error) {
	if rule.MinItems > 0 && totalQuantity(lines) < rule.MinItems {
		return Discount{}, ErrInvalidCode
	}

	subtotal := calcSubtotal(lines)

	var d Discount
	switch rule.Type {
	case TypePercentage:
		d = Discount{
			Amount:     floorAtZero(subtotal.Mul(rule.Value).Div(hundred)).Round(2),
			Percentage: rule.Value,
		}
	case TypeFixed:
		d = Discount{Amount: floorAtZero(decimal.Min(rule.Value, subtotal)).Round(2)}
	case TypeFreeLowest:
		d = Discount{Amount: floorAtZero(findLowestUnitPrice(lines)).Round(2)}
	default:
		return Discount{}, errors.Errorf("unsupported discount type: %q", rule.Type)
	}

	if rule.MaxDiscount.IsPositive() && d.Amount.GreaterThan(rule.MaxDiscount) {
		// A capped percentage becomes a fixed amount.
		d = Discount{Amount: rule.MaxDiscount.Round(2)}
	}
	d.Code = rule.Code
	d.Description = rule.Description
	return d, nil
}

// calcSubtotal returns the sum of price * quantity across all lines.
func calcSubtotal(lines []Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Price.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return sum
}

func totalQuantity(lines []Line) int {
	total := 0
	for _, l := range lines {
		total += l.Quantity
	}
	return total
}

// findLowestUnitPrice returns zero for no lines.
func findLowestUnitPrice(lines []Line) decimal.Decimal {
	if len(lines) == 0 {
		return decimal.Zero
	}
	lowest := lines[0].Price
	for _, l := range lines[1:] {
		if l.Price.LessThan(lowest) {
			lowest = l.Price
		}
	}
	return lowest
}

func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
