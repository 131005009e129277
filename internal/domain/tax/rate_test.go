package tax

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateSet(t *testing.T) {
	set, err := NewRateSet(
		Rate{Key: "ca.on.default.gst", Name: "gst", Type: "GST", Rate: decimal.NewFromInt(5)},
		Rate{Key: "ca.on.default.pst", Name: "pst", Type: "PST", Rate: decimal.NewFromInt(8)},
		Rate{Key: "ca.on.default.eco", Name: "eco", Type: "PST", Rate: decimal.RequireFromString("0.5")},
	)
	require.NoError(t, err)

	assert.Equal(t, 3, set.Count())
	assert.Equal(t, "13.5", set.TotalRate().String())
	assert.Equal(t, map[string]string{"GST": "5", "PST": "8.5"}, taxStrings(set.Taxes()))

	r, err := set.Get("CA.ON.DEFAULT.GST")
	require.NoError(t, err)
	assert.Equal(t, "GST", r.Type)

	_, err = set.Get("ca.on.default.hst")
	require.ErrorIs(t, err, ErrRateNotFound)

	all := set.All()
	delete(all, "ca.on.default.gst")
	assert.Equal(t, 3, set.Count(), "All returns a copy")
}

func TestNewRateSet_Duplicate(t *testing.T) {
	r := Rate{Key: "gb.default.default.vat", Type: "VAT", Rate: decimal.NewFromInt(20)}
	_, err := NewRateSet(r, r)
	require.ErrorIs(t, err, ErrAmbiguousDeclaration)
	require.ErrorIs(t, err, ErrConfiguration)
}

func TestRateSet_Split(t *testing.T) {
	set, err := NewRateSet(
		Rate{Key: "a", Type: "GST", Rate: decimal.NewFromInt(5)},
		Rate{Key: "b", Type: "PST", Rate: decimal.NewFromInt(8)},
	)
	require.NoError(t, err)

	lines := set.Split(decimal.RequireFromString("1.30"))
	require.Len(t, lines, 2)
	assert.Equal(t, "0.5", lines[0].Amount.String())
	assert.Equal(t, "0.8", lines[1].Amount.String())

	lines = set.Split(decimal.RequireFromString("0.01"))
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Amount)
	}
	assert.Equal(t, "0.01", sum.String())

	assert.Nil(t, RateSet{}.Split(decimal.NewFromInt(1)))
}

func TestRate_Amount(t *testing.T) {
	r := Rate{Rate: decimal.NewFromInt(20)}
	assert.Equal(t, "2", r.Amount(decimal.NewFromInt(10)).String())
	assert.Equal(t, "0.67", r.Amount(decimal.RequireFromString("3.33")).String())
	assert.Equal(t, "3.98", r.TaxedPrice(decimal.RequireFromString("3.32")).String())

	assert.Equal(t, "gb.default.book.vat", RateKey("GB", "default", "book", "VAT"))
	assert.Equal(t, "120", AddTax(decimal.NewFromInt(100), decimal.NewFromInt(20)).String())
	assert.Equal(t, "8.33", RemoveTax(decimal.NewFromInt(10), decimal.NewFromInt(20)).String())
}
