package product

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/mothership-commerce/internal/domain/tax"
)

var (
	// ErrNotFound is returned when a requested unit does not exist.
	ErrNotFound = errors.New("unit not found")
	// ErrPriceNotFound is returned when a unit has no price of the requested
	// type in the requested currency.
	ErrPriceNotFound = errors.New("price not found")
	// ErrInvalidUnit is matched by every *ValidationError.
	ErrInvalidUnit = errors.New("invalid unit")
)

// PriceType distinguishes the prices held for a unit.
type PriceType string

const (
	// PriceRetail is the advertised selling price.
	PriceRetail PriceType = "retail"
	// PriceRRP is the recommended retail price.
	PriceRRP PriceType = "rrp"
	// PriceCost is the purchase cost.
	PriceCost PriceType = "cost"
)

// Product is a catalog entry. Units are the purchasable variants.
type Product struct {
	ID          string
	Name        string
	DisplayName string
	Brand       string
	// Type is the product type name used for tax resolution, e.g. "book".
	Type        string
	TaxStrategy tax.Strategy
	// TaxRates are the rates resolved for Type at the store address. They
	// are attached by Catalog and are empty on freshly loaded products.
	TaxRates tax.RateSet
}

// PriceKey addresses one price of a unit.
type PriceKey struct {
	Type     PriceType
	Currency string
}

// Unit is a purchasable variant of a product.
type Unit struct {
	ID       string
	Revision int
	SKU      string
	Barcode  string
	Options  map[string]string
	// Weight in grams.
	Weight  int
	Prices  map[PriceKey]decimal.Decimal
	Product *Product
}

// Price returns the unit price of type t in currency.
func (u *Unit) Price(t PriceType, currency string) (decimal.Decimal, error) {
	p, ok := u.Prices[PriceKey{Type: t, Currency: strings.ToUpper(currency)}]
	if !ok {
		return decimal.Zero, fmt.Errorf("unit %s %s %s: %w", u.ID, t, currency, ErrPriceNotFound)
	}
	return p, nil
}

// OptionValues returns the option values ordered by option name, joined by
// ", ".
func (u *Unit) OptionValues() string {
	names := make([]string, 0, len(u.Options))
	for name := range u.Options {
		names = append(names, name)
	}
	slices.Sort(names)

	values := make([]string, 0, len(names))
	for _, name := range names {
		if v := u.Options[name]; v != "" {
			values = append(values, v)
		}
	}
	return strings.Join(values, ", ")
}

// NetPrice returns the unit's price of type t without tax.
func (u *Unit) NetPrice(t PriceType, currency string) (decimal.Decimal, error) {
	price, err := u.Price(t, currency)
	if err != nil {
		return decimal.Zero, err
	}
	return u.Product.TaxStrategy.NetPrice(price, u.Product.TaxRates)
}

// GrossPrice returns the unit's price of type t including tax.
func (u *Unit) GrossPrice(t PriceType, currency string) (decimal.Decimal, error) {
	price, err := u.Price(t, currency)
	if err != nil {
		return decimal.Zero, err
	}
	return u.Product.TaxStrategy.GrossPrice(price, u.Product.TaxRates)
}

// UnitNotFoundError indicates a requested unit does not exist.
type UnitNotFoundError struct {
	UnitID string
}

func (e *UnitNotFoundError) Error() string {
	return fmt.Sprintf("unit %s not found", e.UnitID)
}

// Is reports whether target is ErrNotFound.
func (e *UnitNotFoundError) Is(target error) bool { return target == ErrNotFound }

// ValidationError indicates a stored unit cannot be sold as loaded.
type ValidationError struct {
	UnitID string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("unit %s: %s", e.UnitID, e.Reason)
}

// Is reports whether target is ErrInvalidUnit.
func (e *ValidationError) Is(target error) bool { return target == ErrInvalidUnit }

// Repository defines read operations for the product catalog.
type Repository interface {
	// GetUnitsByIDs returns the current revision of each found unit with its
	// product attached. Missing IDs are omitted.
	GetUnitsByIDs(ctx context.Context, ids []string) ([]Unit, error)
}
