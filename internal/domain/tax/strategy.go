package tax

import (
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Strategy states whether a catalog price already includes tax.
type Strategy uint8

const (
	// Inclusive prices already contain tax.
	Inclusive Strategy = iota + 1
	// Exclusive prices have tax added on top.
	Exclusive
)

// ParseStrategy returns the strategy named name.
func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "inclusive":
		return Inclusive, nil
	case "exclusive":
		return Exclusive, nil
	default:
		return 0, &ValidationError{Field: "tax strategy", Value: name, Reason: ErrUnknownStrategy}
	}
}

func (s Strategy) String() string {
	switch s {
	case Inclusive:
		return "inclusive"
	case Exclusive:
		return "exclusive"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Strategy) MarshalText() ([]byte, error) {
	if s != Inclusive && s != Exclusive {
		return nil, errors.Wrapf(ErrUnknownStrategy, "strategy %d", s)
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Strategy) UnmarshalText(text []byte) error {
	parsed, err := ParseStrategy(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// NetPrice returns the tax-exclusive part of price. Exclusive prices are
// returned unchanged; inclusive prices have the combined rate divided out.
func (s Strategy) NetPrice(price decimal.Decimal, rates RateSet) (decimal.Decimal, error) {
	if err := checkPrice(price); err != nil {
		return decimal.Zero, err
	}
	switch s {
	case Exclusive:
		return price, nil
	case Inclusive:
		return RemoveTax(price, rates.TotalRate()), nil
	default:
		return decimal.Zero, errors.Wrapf(ErrUnknownStrategy, "strategy %d", s)
	}
}

// GrossPrice returns price including tax. Inclusive prices are returned
// unchanged; exclusive prices have the combined rate applied on top.
func (s Strategy) GrossPrice(price decimal.Decimal, rates RateSet) (decimal.Decimal, error) {
	if err := checkPrice(price); err != nil {
		return decimal.Zero, err
	}
	switch s {
	case Exclusive:
		return AddTax(price, rates.TotalRate()), nil
	case Inclusive:
		return price, nil
	default:
		return decimal.Zero, errors.Wrapf(ErrUnknownStrategy, "strategy %d", s)
	}
}

// ParsePrice converts free-form input into a price. Anything that is not a
// plain number is rejected.
func ParsePrice(s string) (decimal.Decimal, error) {
	price, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, &ValidationError{Field: "price", Value: s, Reason: ErrInvalidPrice}
	}
	if err := checkPrice(price); err != nil {
		return decimal.Zero, err
	}
	return price, nil
}

func checkPrice(price decimal.Decimal) error {
	if price.IsNegative() {
		return &ValidationError{Field: "price", Value: price.String(), Reason: ErrInvalidPrice}
	}
	return nil
}
