package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mercatto/commerce-core/pkg/enums"
)

func usd(cents int64) Money {
	return New(cents, enums.CurrencyUSD)
}

func TestAdd_SameCurrency(t *testing.T) {
	sum, err := usd(1999).Add(usd(500))
	require.NoError(t, err)
	assert.Equal(t, usd(2499), sum)
}

func TestAdd_CurrencyMismatch(t *testing.T) {
	_, err := usd(100).Add(New(100, enums.CurrencyEUR))
	require.ErrorIs(t, err, ErrCurrencyMismatch)
}

func TestSub_Negatives(t *testing.T) {
	diff, err := usd(100).Sub(usd(250))
	require.NoError(t, err)
	assert.Equal(t, int64(-150), diff.Cents)
	assert.True(t, diff.IsNegative())
	assert.Equal(t, usd(150), diff.Abs())
}

func TestMulRat_BankersRounding(t *testing.T) {
	// 25 * 1/10 = 2.5 → rounds to even (2).
	half, err := usd(25).MulRat(1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), half.Cents)

	// 35 * 1/10 = 3.5 → rounds to even (4).
	other, err := usd(35).MulRat(1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(4), other.Cents)

	_, err = usd(10).MulRat(1, 0)
	require.Error(t, err)
}

func TestMulDecimal_Percentage(t *testing.T) {
	rate := decimal.NewFromFloat(0.20)
	discounted := usd(10000).MulDecimal(rate)
	assert.Equal(t, int64(2000), discounted.Cents)
}

func TestCmpAndMin(t *testing.T) {
	cmp, err := usd(100).Cmp(usd(200))
	require.NoError(t, err)
	assert.Equal(t, -1, cmp)

	smaller, err := Min(usd(1500), usd(2000))
	require.NoError(t, err)
	assert.Equal(t, usd(1500), smaller)

	_, err = usd(1).Cmp(New(1, enums.CurrencyGBP))
	require.Error(t, err)
}

func TestSum(t *testing.T) {
	total, err := Sum(enums.CurrencyUSD, usd(100), usd(-30), usd(5))
	require.NoError(t, err)
	assert.Equal(t, int64(75), total.Cents)

	empty, err := Sum(enums.CurrencyUSD)
	require.NoError(t, err)
	assert.True(t, empty.IsZero())
}

func TestScaleProportionally_ExactTotal(t *testing.T) {
	parts := []Money{usd(-300), usd(-500), usd(-200)}
	scaled, err := ScaleProportionally(parts, usd(-500))
	require.NoError(t, err)

	var total int64
	for _, part := range scaled {
		assert.True(t, part.Cents <= 0)
		total += -part.Cents
	}
	assert.Equal(t, int64(500), total)

	// Proportions: 3:5:2 of 500 = 150/250/100 exactly.
	assert.Equal(t, int64(-150), scaled[0].Cents)
	assert.Equal(t, int64(-250), scaled[1].Cents)
	assert.Equal(t, int64(-100), scaled[2].Cents)
}

func TestScaleProportionally_LargestRemainder(t *testing.T) {
	parts := []Money{usd(-100), usd(-100), usd(-100)}
	scaled, err := ScaleProportionally(parts, usd(-100))
	require.NoError(t, err)

	var total int64
	for _, part := range scaled {
		total += -part.Cents
	}
	// 100/3 leaves one leftover cent; the sum must still reconcile exactly.
	assert.Equal(t, int64(100), total)
}

func TestScaleProportionally_ZeroParts(t *testing.T) {
	parts := []Money{usd(0), usd(0)}
	scaled, err := ScaleProportionally(parts, usd(-100))
	require.NoError(t, err)
	assert.Equal(t, parts, scaled)
}
