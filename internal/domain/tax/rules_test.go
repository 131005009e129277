package tax

import (
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRules_Errors(t *testing.T) {
	tests := []struct {
		name    string
		sources []string
		wantErr error
	}{
		{
			name: "product type declared twice through a comma list",
			sources: []string{`
rates:
  CA:
    regions:
      default:
        basic, food:
          gst: { type: GST, rate: 5 }
        basic:
          gst: { type: GST, rate: 5 }
`},
			wantErr: ErrAmbiguousDeclaration,
		},
		{
			name: "rate redeclared in a second source",
			sources: []string{
				"rates: {GB: {regions: {default: {default: {vat: {type: VAT, rate: 20}}}}}}",
				"rates: {GB: {regions: {default: {default: {vat: {type: VAT, rate: 17.5}}}}}}",
			},
			wantErr: ErrAmbiguousDeclaration,
		},
		{
			name: "exempt and taxed",
			sources: []string{
				"rates: {GB: {regions: {default: {book: ~}}}}",
				"rates: {GB: {regions: {default: {book: {vat: {type: VAT, rate: 5}}}}}}",
			},
			wantErr: ErrAmbiguousDeclaration,
		},
		{
			name: "conflicting default regions",
			sources: []string{
				"rates: {US: {defaultRegion: NY, regions: {NY: {}, CA: {}}}}",
				"rates: {US: {defaultRegion: CA}}",
			},
			wantErr: ErrAmbiguousDeclaration,
		},
		{
			name:    "default region not declared",
			sources: []string{"rates: {US: {defaultRegion: TX, regions: {NY: {}}}}"},
			wantErr: ErrInvalidRules,
		},
		{
			name:    "negative rate",
			sources: []string{"rates: {GB: {regions: {default: {default: {vat: {type: VAT, rate: -1}}}}}}"},
			wantErr: ErrInvalidRules,
		},
		{
			name:    "too many decimal places",
			sources: []string{"rates: {GB: {regions: {default: {default: {vat: {type: VAT, rate: 17.5001}}}}}}"},
			wantErr: ErrInvalidRules,
		},
		{
			name:    "rate is not a number",
			sources: []string{"rates: {GB: {regions: {default: {default: {vat: {type: VAT, rate: twenty}}}}}}"},
			wantErr: ErrInvalidRules,
		},
		{
			name:    "missing type",
			sources: []string{"rates: {GB: {regions: {default: {default: {vat: {rate: 20}}}}}}"},
			wantErr: ErrInvalidRules,
		},
		{
			name:    "unknown country field",
			sources: []string{"rates: {GB: {zones: {}}}"},
			wantErr: ErrInvalidRules,
		},
		{
			name:    "malformed yaml",
			sources: []string{"rates: {GB: ["},
			wantErr: ErrInvalidRules,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sources := make([][]byte, len(tt.sources))
			for i, s := range tt.sources {
				sources[i] = []byte(s)
			}

			_, err := ParseRules(sources...)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			assert.True(t, errors.Is(err, ErrConfiguration))
		})
	}
}

func TestParseRules_AmbiguousFixture(t *testing.T) {
	_, err := LoadRulesFiles("testdata/tax-2-ambiguous.yml")
	require.Error(t, err)

	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "CA", cfgErr.Country)
	assert.Equal(t, "default", cfgErr.Region)
	assert.Equal(t, "basic", cfgErr.ProductType)
	assert.ErrorIs(t, err, ErrAmbiguousDeclaration)
}

func TestParseRules_MergesSources(t *testing.T) {
	rules, err := ParseRules(
		[]byte("rates: {GB: {regions: {default: {default: {vat: {type: VAT, rate: 20}}}}}}"),
		[]byte("rates: {GB: {regions: {default: {book: ~}}}, FR: {regions: {default: {default: {tva: {type: VAT, rate: 20}}}}}}"),
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"FR", "GB"}, rules.CountryCodes())

	gb, ok := rules.Country("gb")
	require.True(t, ok)
	reg, ok := gb.Region("DEFAULT")
	require.True(t, ok)
	assert.True(t, reg.Products["book"].Exempt)
	assert.Len(t, reg.Products["default"].Rates, 1)
}

func TestParseRules_Empty(t *testing.T) {
	rules, err := ParseRules([]byte(""))
	require.NoError(t, err)
	assert.Empty(t, rules.Countries)

	_, err = NewResolver(rules).Resolve("basic", Address{CountryID: "GB"})
	assert.ErrorIs(t, err, ErrUnknownCountry)
}
