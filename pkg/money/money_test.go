package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExponent(t *testing.T) {
	assert.Equal(t, int32(2), Exponent("USD"))
	assert.Equal(t, int32(2), Exponent("eur"))
	assert.Equal(t, int32(0), Exponent("JPY"))
	assert.Equal(t, int32(0), Exponent("IDR"))
	assert.Equal(t, int32(3), Exponent("KWD"))
}

func TestToMinor_RoundsHalfUp(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		currency string
		want     int64
	}{
		{"exact cents", "12.34", "USD", 1234},
		{"half rounds up", "10.005", "USD", 1001},
		{"below half rounds down", "10.004", "USD", 1000},
		{"zero exponent", "1500.5", "JPY", 1501},
		{"three digits", "1.2345", "KWD", 1235},
		{"whole amount", "100", "USD", 10000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ToMinor(decimal.RequireFromString(tt.amount), tt.currency))
		})
	}
}

func TestFromMinor(t *testing.T) {
	assert.True(t, decimal.RequireFromString("12.34").Equal(FromMinor(1234, "USD")))
	assert.True(t, decimal.NewFromInt(1500).Equal(FromMinor(1500, "JPY")))
	assert.True(t, decimal.RequireFromString("1.235").Equal(FromMinor(1235, "KWD")))
}

func TestFormatMinor(t *testing.T) {
	assert.Equal(t, "10.50", FormatMinor(1050, "USD"))
	assert.Equal(t, "0.05", FormatMinor(5, "EUR"))
	assert.Equal(t, "1500", FormatMinor(1500, "JPY"))
}

func TestRound(t *testing.T) {
	assert.Equal(t, "19.99", Round(decimal.RequireFromString("19.985"), "USD").StringFixed(2))
	assert.Equal(t, "19.98", Round(decimal.RequireFromString("19.984"), "USD").StringFixed(2))
}

func TestParseMajor(t *testing.T) {
	d, err := ParseMajor(" 25.00 ", "USD")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(25).Equal(d))

	_, err = ParseMajor("twenty", "USD")
	assert.Error(t, err)
}

func TestValidCurrency(t *testing.T) {
	assert.True(t, ValidCurrency("USD"))
	assert.False(t, ValidCurrency("usd"))
	assert.False(t, ValidCurrency("US"))
	assert.False(t, ValidCurrency("US1"))
}
