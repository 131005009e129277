package tax

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadResolver(t *testing.T, files ...string) *Resolver {
	t.Helper()

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = filepath.Join("testdata", f)
	}
	rules, err := LoadRulesFiles(paths...)
	require.NoError(t, err)
	return NewResolver(rules)
}

func TestResolver_Resolve(t *testing.T) {
	r := loadResolver(t, "tax-1.yml")

	t.Run("country without taxes resolves to empty set", func(t *testing.T) {
		rates, err := r.Resolve("basic", Address{CountryID: "CA"})
		require.NoError(t, err)
		assert.True(t, rates.IsEmpty())
		assert.Empty(t, rates.All())
	})

	t.Run("default product tax", func(t *testing.T) {
		rates, err := r.Resolve("basic", Address{CountryID: "GB"})
		require.NoError(t, err)
		require.Equal(t, 1, rates.Count())

		rate, err := rates.Get("gb.default.default.vat")
		require.NoError(t, err)
		assert.Equal(t, "VAT", rate.Type)
		assert.True(t, rate.Rate.Equal(decimal.NewFromInt(20)))
	})

	t.Run("country code is case insensitive", func(t *testing.T) {
		rates, err := r.Resolve("basic", Address{CountryID: "gb"})
		require.NoError(t, err)
		assert.Equal(t, 1, rates.Count())
	})

	t.Run("exempt product type", func(t *testing.T) {
		rates, err := r.Resolve("book", Address{CountryID: "GB"})
		require.NoError(t, err)
		assert.Equal(t, 0, rates.Count())
	})

	t.Run("unknown country without default entry", func(t *testing.T) {
		_, err := r.Resolve("basic", Address{CountryID: "INVALID"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrConfiguration))
		assert.True(t, errors.Is(err, ErrUnknownCountry))
	})

	t.Run("country without default region", func(t *testing.T) {
		_, err := r.Resolve("basic", Address{CountryID: "US"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrConfiguration))
		assert.True(t, errors.Is(err, ErrUnknownRegion))
	})

	t.Run("explicit region", func(t *testing.T) {
		rates, err := r.Resolve("basic", Address{CountryID: "US", RegionID: "NY"})
		require.NoError(t, err)
		assert.Equal(t, 2, rates.Count())
		assert.True(t, rates.TotalRate().Equal(decimal.RequireFromString("8.5")))
		assert.Equal(t, []string{"us.ny.default.city", "us.ny.default.state"}, rates.Keys())
	})

	t.Run("undeclared region falls back to default region", func(t *testing.T) {
		rates, err := r.Resolve("basic", Address{CountryID: "GB", RegionID: "WLS"})
		require.NoError(t, err)
		_, err = rates.Get("gb.default.default.vat")
		require.NoError(t, err)
	})
}

func TestResolver_MultipleTaxes(t *testing.T) {
	r := loadResolver(t, "tax-2.yml")

	rates, err := r.Resolve("book", Address{CountryID: "UK"})
	require.NoError(t, err)
	assert.Equal(t, 4, rates.Count())
	assert.True(t, rates.TotalRate().Equal(decimal.RequireFromString("6.5")))

	edu, err := rates.Get("uk.eng.book.education")
	require.NoError(t, err)
	assert.True(t, edu.Rate.IsZero(), "zero rate stays in the set")

	rates, err = r.Resolve("alcohol", Address{CountryID: "UK"})
	require.NoError(t, err)
	assert.Equal(t, 2, rates.Count())
	assert.Equal(t, map[string]string{"DUTY": "12.125", "VAT": "20"}, taxStrings(rates.Taxes()))
}

func TestResolver_DefaultCountry(t *testing.T) {
	r := loadResolver(t, "tax-3.yml")

	rates, err := r.Resolve("basic", Address{CountryID: "UNASSIGNED"})
	require.NoError(t, err)

	rate, err := rates.Get("default.default.default.tax")
	require.NoError(t, err)
	assert.True(t, rate.Rate.Equal(decimal.NewFromInt(20)))

	rates, err = r.Resolve("basic", Address{})
	require.NoError(t, err)
	assert.Equal(t, []string{"default.default.default.tax"}, rates.Keys())
}

func TestResolver_GzipRules(t *testing.T) {
	r := loadResolver(t, "tax-3.yml.gz")

	rates, err := r.Resolve("basic", Address{CountryID: "GB"})
	require.NoError(t, err)
	assert.Equal(t, []string{"gb.default.default.vat"}, rates.Keys())
}

func TestResolver_Deterministic(t *testing.T) {
	r := loadResolver(t, "tax-2.yml")

	first, err := r.Resolve("book", Address{CountryID: "UK", RegionID: "ENG"})
	require.NoError(t, err)
	for range 10 {
		again, err := r.Resolve("book", Address{CountryID: "UK", RegionID: "ENG"})
		require.NoError(t, err)
		assert.Equal(t, first.Keys(), again.Keys())
		assert.True(t, first.TotalRate().Equal(again.TotalRate()))
	}
}

func TestResolveAll(t *testing.T) {
	r := loadResolver(t, "tax-1.yml")

	t.Run("keeps request order", func(t *testing.T) {
		sets, err := ResolveAll(context.Background(), r, []Request{
			{ProductType: "basic", Address: Address{CountryID: "GB"}},
			{ProductType: "book", Address: Address{CountryID: "GB"}},
			{ProductType: "basic", Address: Address{CountryID: "US", RegionID: "CA"}},
		})
		require.NoError(t, err)
		require.Len(t, sets, 3)
		assert.Equal(t, 1, sets[0].Count())
		assert.True(t, sets[1].IsEmpty())
		assert.Equal(t, []string{"us.ca.default.state"}, sets[2].Keys())
	})

	t.Run("fails on any configuration error", func(t *testing.T) {
		_, err := ResolveAll(context.Background(), r, []Request{
			{ProductType: "basic", Address: Address{CountryID: "GB"}},
			{ProductType: "basic", Address: Address{CountryID: "US"}},
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrUnknownRegion))
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := ResolveAll(ctx, r, []Request{{ProductType: "basic", Address: Address{CountryID: "GB"}}})
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestRegistry_Reload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rates.yml")

	src, err := os.ReadFile(filepath.Join("testdata", "tax-1.yml"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, src, 0o600))

	reg, err := NewRegistry(path)
	require.NoError(t, err)

	before := reg.Resolver()
	rates, err := reg.Resolve("book", Address{CountryID: "GB"})
	require.NoError(t, err)
	assert.True(t, rates.IsEmpty())

	t.Run("broken file keeps previous resolver", func(t *testing.T) {
		require.NoError(t, os.WriteFile(path, []byte("rates: [not, a, mapping]"), 0o600))
		err := reg.Reload()
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidRules))
		assert.Same(t, before, reg.Resolver())
	})

	t.Run("valid file swaps resolver", func(t *testing.T) {
		src, err := os.ReadFile(filepath.Join("testdata", "tax-3.yml"))
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(path, src, 0o600))

		require.NoError(t, reg.Reload())
		assert.NotSame(t, before, reg.Resolver())

		rates, err := reg.Resolve("book", Address{CountryID: "FR"})
		require.NoError(t, err)
		assert.Equal(t, []string{"default.default.default.tax"}, rates.Keys())

		// The old resolver still answers from the old table.
		old, err := before.Resolve("book", Address{CountryID: "GB"})
		require.NoError(t, err)
		assert.True(t, old.IsEmpty())
	})
}

func TestPin(t *testing.T) {
	plain := loadResolver(t, "tax-1.yml")
	assert.Same(t, plain, Pin(plain))

	dir := t.TempDir()
	path := filepath.Join(dir, "rates.yml")
	src, err := os.ReadFile(filepath.Join("testdata", "tax-1.yml"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, src, 0o600))

	reg, err := NewRegistry(path)
	require.NoError(t, err)
	pinned := Pin(reg)
	assert.Same(t, reg.Resolver(), pinned)

	src, err = os.ReadFile(filepath.Join("testdata", "tax-3.yml"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, src, 0o600))
	require.NoError(t, reg.Reload())

	_, err = reg.Resolve("book", Address{CountryID: "FR"})
	require.NoError(t, err)

	// A reload does not reach resolvers pinned before it.
	rates, err := pinned.Resolve("book", Address{CountryID: "GB"})
	require.NoError(t, err)
	assert.True(t, rates.IsEmpty())
	assert.NotSame(t, reg.Resolver(), pinned)
}

func taxStrings(m map[string]decimal.Decimal) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v.String()
	}
	return out
}
