package discount

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestApply(t *testing.T) {
	tests := []struct {
		name           string
		rule           *Rule
		lines          []Line
		wantAmount     decimal.Decimal
		wantPercentage decimal.Decimal
		wantErr        error
		wantErrText    string
	}{
		{
			name:           "percentage 18% off 100 subtotal",
			rule:           &Rule{Code: "PCT18", Type: TypePercentage, Value: d("18"), Description: "18% off"},
			lines:          []Line{{UnitID: "u1", Price: d("50"), Quantity: 2}},
			wantAmount:     d("18"),
			wantPercentage: d("18"),
		},
		{
			name:           "percentage rounds to cents",
			rule:           &Rule{Code: "THIRD", Type: TypePercentage, Value: d("33.333")},
			lines:          []Line{{UnitID: "u1", Price: d("9.99"), Quantity: 1}},
			wantAmount:     d("3.33"),
			wantPercentage: d("33.333"),
		},
		{
			name:       "percentage above cap becomes fixed amount",
			rule:       &Rule{Code: "CAPPED", Type: TypePercentage, Value: d("50"), MaxDiscount: d("20")},
			lines:      []Line{{UnitID: "u1", Price: d("100"), Quantity: 1}},
			wantAmount: d("20"),
		},
		{
			name:       "fixed amount",
			rule:       &Rule{Code: "OVER9000", Type: TypeFixed, Value: d("9")},
			lines:      []Line{{UnitID: "u1", Price: d("12.5"), Quantity: 2}},
			wantAmount: d("9"),
		},
		{
			name:       "fixed amount capped at subtotal",
			rule:       &Rule{Code: "BIG", Type: TypeFixed, Value: d("50")},
			lines:      []Line{{UnitID: "u1", Price: d("10"), Quantity: 1}},
			wantAmount: d("10"),
		},
		{
			name: "free lowest",
			rule: &Rule{Code: "BUYGETON", Type: TypeFreeLowest, MinItems: 2},
			lines: []Line{
				{UnitID: "u1", Price: d("12.99"), Quantity: 1},
				{UnitID: "u2", Price: d("4.5"), Quantity: 1},
			},
			wantAmount: d("4.5"),
		},
		{
			name:    "below min items",
			rule:    &Rule{Code: "BUYGETON", Type: TypeFreeLowest, MinItems: 2},
			lines:   []Line{{UnitID: "u1", Price: d("12.99"), Quantity: 1}},
			wantErr: ErrInvalidCode,
		},
		{
			name:        "unsupported type",
			rule:        &Rule{Code: "BOGO", Type: "bogo"},
			lines:       []Line{{UnitID: "u1", Price: d("1"), Quantity: 1}},
			wantErrText: "unsupported discount type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Apply(tt.rule, tt.lines)
			switch {
			case tt.wantErr != nil:
				require.ErrorIs(t, err, tt.wantErr)
				return
			case tt.wantErrText != "":
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErrText)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.rule.Code, got.Code)
			assert.True(t, tt.wantAmount.Equal(got.Amount), "expected amount %s, got %s", tt.wantAmount, got.Amount)
			assert.True(t, tt.wantPercentage.Equal(got.Percentage), "expected percentage %s, got %s", tt.wantPercentage, got.Percentage)
		})
	}
}
