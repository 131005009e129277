package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	pgzip "github.com/klauspost/pgzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/mothership-commerce/internal/domain/discount"
)

func writePlain(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600))
	return path
}

func writeGz(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := pgzip.NewWriter(f)
	_, err = gz.Write([]byte(strings.Join(lines, "\n") + "\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
	return path
}

func TestNormalizeCode(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"spring24", "SPRING24", true},
		{"  summer99 \r", "SUMMER99", true},
		{"short", "", false},
		{"WAYTOOLONGCODE123", "", false},
		{"HAS-DASH", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := normalizeCode(tt.in, 6, 16)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestCollectCodes(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		writePlain(t, dir, "a.txt", "alpha001", "ALPHA001", "bad", "beta0002"),
		writeGz(t, dir, "b.txt.gz", "beta0002", "gamma003", "not a code"),
	}

	codes, err := collectCodes(context.Background(), files, campaign{MinLen: 6, MaxLen: 16})
	require.NoError(t, err)
	assert.Equal(t, []string{"ALPHA001", "BETA0002", "GAMMA003"}, codes)

	_, err = collectCodes(context.Background(), []string{filepath.Join(dir, "missing.txt")}, campaign{MinLen: 6, MaxLen: 16})
	require.Error(t, err)
}

func TestCampaignParse(t *testing.T) {
	c := campaign{MinLen: 6, MaxLen: 16, MaxUses: 1}
	require.NoError(t, c.parse("fixed", "5", "0", "2026-12-31"))
	assert.Equal(t, discount.TypeFixed, c.Type)
	require.NotNil(t, c.ValidUntil)
	assert.Equal(t, time.Date(2026, 12, 31, 23, 59, 59, 0, time.UTC), *c.ValidUntil)

	rules := c.rules([]string{"ALPHA001"})
	require.Len(t, rules, 1)
	assert.Equal(t, "ALPHA001", rules[0].Code)
	assert.Equal(t, 1, rules[0].MaxUses)
	assert.Equal(t, c.ValidUntil, rules[0].ValidUntil)

	bad := []struct {
		name                            string
		typ, value, maxDiscount, expiry string
	}{
		{"type", "bogo", "5", "0", ""},
		{"value", "fixed", "five", "0", ""},
		{"percentage over 100", "percentage", "150", "0", ""},
		{"max discount", "fixed", "5", "-1", ""},
		{"date", "fixed", "5", "0", "tomorrow"},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			c := campaign{MinLen: 6, MaxLen: 16}
			require.Error(t, c.parse(tt.typ, tt.value, tt.maxDiscount, tt.expiry))
		})
	}
}

type activeCodes []string

func (a activeCodes) ActiveCodes(_ context.Context, fn func(string)) error {
	for _, c := range a {
		fn(c)
	}
	return nil
}

func TestWriteFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filters", "codes.bloom.gz")
	require.NoError(t, writeFilter(context.Background(), activeCodes{"ALPHA001", "WELCOME10"}, path, 2))

	filter, err := discount.LoadCodeFilter(path)
	require.NoError(t, err)
	assert.True(t, filter.MayContain("alpha001"))
	assert.True(t, filter.MayContain("WELCOME10"))
	assert.False(t, filter.MayContain("NOTACODE99"))
}
