package expr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupFrom(values map[string]float64) Lookup {
	return func(id string) (float64, bool) {
		v, ok := values[id]
		return v, ok
	}
}

func TestEval(t *testing.T) {
	vars := map[string]float64{
		"price":      150,
		"eps_ttm":    6,
		"net_income": 100,
		"equity":     400,
		"zero":       0,
		"neg":        -4,
	}

	tests := []struct {
		formula string
		want    float64
		null    bool
	}{
		{formula: "price / eps_ttm", want: 25},
		{formula: "net_income / equity * 100", want: 25},
		{formula: "1 + 2 * 3", want: 7},
		{formula: "(1 + 2) * 3", want: 9},
		{formula: "-price + 200", want: 50},
		{formula: "2 ^ 3 ^ 2", want: 512},
		{formula: "-2 ^ 2", want: -4},
		{formula: "abs(neg) + max(1, 5, 3) - min(2, 7)", want: 7},
		{formula: "sqrt(16) * 1e1", want: 40},
		{formula: "price / zero", null: true},
		{formula: "price / missing", null: true},
		{formula: "missing * 0", null: true},
		{formula: "sqrt(neg)", null: true},
		{formula: "ln(zero)", null: true},
		{formula: "10 ^ 400", null: true},
	}

	for _, tt := range tests {
		t.Run(tt.formula, func(t *testing.T) {
			e, err := Parse(tt.formula)
			require.NoError(t, err)

			got := e.Eval(lookupFrom(vars))
			if tt.null {
				assert.False(t, got.Valid)
				return
			}
			require.True(t, got.Valid)
			assert.InDelta(t, tt.want, got.Float64, 1e-9)
		})
	}
}

func TestParse_Errors(t *testing.T) {
	for _, formula := range []string{
		"",
		"   ",
		"price /",
		"(price + 1",
		"price eps",
		"price $ 2",
		"unknown(1)",
		"abs(1, 2)",
		"min()",
		")",
	} {
		t.Run(formula, func(t *testing.T) {
			_, err := Parse(formula)
			require.Error(t, err)
			var syntaxErr *SyntaxError
			assert.True(t, errors.As(err, &syntaxErr))
		})
	}
}

func TestIdentifiers(t *testing.T) {
	e, err := Parse("(net_income - dividends) / net_income + max(roe, fcf.yield)")
	require.NoError(t, err)

	assert.Equal(t, []string{"net_income", "dividends", "roe", "fcf.yield"}, e.Identifiers())
	assert.Equal(t, "(((net_income - dividends) / net_income) + max(roe, fcf.yield))", e.String())
	assert.Equal(t, "(net_income - dividends) / net_income + max(roe, fcf.yield)", e.Source())
}
