package tax

import (
	"slices"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultKey names the fallback country, region and product type.
const DefaultKey = "default"

var hundred = decimal.NewFromInt(100)

// Rate is a named percentage applicable to one product type in one
// jurisdiction. Rates are values; a copy never affects the set it came from.
type Rate struct {
	// Key is the composite {country}.{region}.{productType}.{name} key.
	Key  string
	Name string
	// Type is the tax type, e.g. "VAT".
	Type string
	// Rate is a non-negative percentage with at most three decimal places.
	Rate decimal.Decimal
}

// RateKey builds the composite key used inside a RateSet.
func RateKey(country, region, productType, name string) string {
	return strings.ToLower(strings.Join([]string{country, region, productType, name}, "."))
}

// Amount returns the tax due on net at this rate, rounded to 2 decimal places.
func (r Rate) Amount(net decimal.Decimal) decimal.Decimal {
	return net.Mul(r.Rate).Div(hundred).Round(2)
}

// TaxedPrice returns net plus the tax due at this rate.
func (r Rate) TaxedPrice(net decimal.Decimal) decimal.Decimal {
	return net.Add(r.Amount(net))
}

// Line is one rate's share of a tax amount.
type Line struct {
	Key    string
	Type   string
	Rate   decimal.Decimal
	Amount decimal.Decimal
}

// RateSet is the immutable collection of rates resolved for one product type
// and jurisdiction. The zero value is an empty set.
type RateSet struct {
	rates map[string]Rate
}

// NewRateSet builds a set from rates. Two rates sharing a key are an
// ambiguous declaration.
func NewRateSet(rates ...Rate) (RateSet, error) {
	set := RateSet{rates: make(map[string]Rate, len(rates))}
	for _, r := range rates {
		if _, ok := set.rates[r.Key]; ok {
			return RateSet{}, &ConfigError{Reason: ErrAmbiguousDeclaration, Detail: "duplicate rate " + r.Key}
		}
		set.rates[r.Key] = r
	}
	return set, nil
}

// Get returns the rate stored under key.
func (s RateSet) Get(key string) (Rate, error) {
	r, ok := s.rates[strings.ToLower(key)]
	if !ok {
		return Rate{}, &NotFoundError{Key: key}
	}
	return r, nil
}

// All returns a copy of the key to rate mapping.
func (s RateSet) All() map[string]Rate {
	out := make(map[string]Rate, len(s.rates))
	for k, r := range s.rates {
		out[k] = r
	}
	return out
}

// Count returns the number of rates in the set.
func (s RateSet) Count() int { return len(s.rates) }

// IsEmpty reports whether no rate applies.
func (s RateSet) IsEmpty() bool { return len(s.rates) == 0 }

// Keys returns the rate keys in lexical order.
func (s RateSet) Keys() []string {
	keys := make([]string, 0, len(s.rates))
	for k := range s.rates {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Rates returns the rates ordered by key.
func (s RateSet) Rates() []Rate {
	out := make([]Rate, 0, len(s.rates))
	for _, k := range s.Keys() {
		out = append(out, s.rates[k])
	}
	return out
}

// TotalRate returns the sum of every contained percentage.
func (s RateSet) TotalRate() decimal.Decimal {
	total := decimal.Zero
	for _, r := range s.rates {
		total = total.Add(r.Rate)
	}
	return total
}

// Taxes returns the combined percentage per tax type.
func (s RateSet) Taxes() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(s.rates))
	for _, r := range s.rates {
		out[r.Type] = out[r.Type].Add(r.Rate)
	}
	return out
}

// Split distributes an already computed tax amount across the rates in
// proportion to their percentages. The line amounts always sum to amount;
// the rounding remainder lands on the last line.
func (s RateSet) Split(amount decimal.Decimal) []Line {
	return splitByRate(s.Rates(), amount)
}

func splitByRate(rates []Rate, amount decimal.Decimal) []Line {
	if len(rates) == 0 {
		return nil
	}

	total := decimal.Zero
	for _, r := range rates {
		total = total.Add(r.Rate)
	}

	lines := make([]Line, len(rates))
	allocated := decimal.Zero
	for i, r := range rates {
		share := decimal.Zero
		switch {
		case i == len(rates)-1:
			share = amount.Sub(allocated)
		case total.IsPositive():
			share = amount.Mul(r.Rate).Div(total).Round(2)
		}
		allocated = allocated.Add(share)
		lines[i] = Line{Key: r.Key, Type: r.Type, Rate: r.Rate, Amount: share}
	}
	return lines
}

// AddTax returns net grossed up by rate percent, rounded to 2 decimal places.
func AddTax(net, rate decimal.Decimal) decimal.Decimal {
	return net.Add(net.Mul(rate).Div(hundred)).Round(2)
}

// RemoveTax returns the net part of a gross amount that includes rate percent,
// rounded to 2 decimal places.
func RemoveTax(gross, rate decimal.Decimal) decimal.Decimal {
	return gross.Div(decimal.NewFromInt(1).Add(rate.Div(hundred))).Round(2)
}

// Breakdown returns the tax due on net at each rate, each rounded to 2
// decimal places. The line amounts may differ from a single combined
// calculation by rounding; use Split when the lines must add up.
func (s RateSet) Breakdown(net decimal.Decimal) []Line {
	rates := s.Rates()
	lines := make([]Line, len(rates))
	for i, r := range rates {
		lines[i] = Line{Key: r.Key, Type: r.Type, Rate: r.Rate, Amount: r.Amount(net)}
	}
	return lines
}
