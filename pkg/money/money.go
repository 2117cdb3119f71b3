package money

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mercatto/commerce-core/pkg/enums"
)

// ErrCurrencyMismatch is returned when an operation mixes currencies.
var ErrCurrencyMismatch = fmt.Errorf("currency mismatch")

// Money is an amount in minor units paired with its ISO 4217 currency.
// The zero value is zero units of the empty currency and only participates in
// arithmetic against itself.
type Money struct {
	Cents    int64          `json:"cents"`
	Currency enums.Currency `json:"currency"`
}

// New builds a Money value.
func New(cents int64, currency enums.Currency) Money {
	return Money{Cents: cents, Currency: currency}
}

// Zero returns zero in the given currency.
func Zero(currency enums.Currency) Money {
	return Money{Currency: currency}
}

func (m Money) String() string {
	return fmt.Sprintf("%d %s", m.Cents, m.Currency)
}

// IsZero reports whether the amount is exactly zero.
func (m Money) IsZero() bool {
	return m.Cents == 0
}

// IsNegative reports whether the amount is below zero.
func (m Money) IsNegative() bool {
	return m.Cents < 0
}

// Neg returns the amount with its sign flipped.
func (m Money) Neg() Money {
	return Money{Cents: -m.Cents, Currency: m.Currency}
}

// Abs returns the magnitude of the amount.
func (m Money) Abs() Money {
	if m.Cents < 0 {
		return m.Neg()
	}
	return m
}

func (m Money) sameCurrency(other Money) error {
	if m.Currency != other.Currency {
		return fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	return nil
}

// Add returns m + other, failing on mixed currencies.
func (m Money) Add(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{Cents: m.Cents + other.Cents, Currency: m.Currency}, nil
}

// Sub returns m - other, failing on mixed currencies.
func (m Money) Sub(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{Cents: m.Cents - other.Cents, Currency: m.Currency}, nil
}

// MulInt returns m scaled by an integer factor.
func (m Money) MulInt(factor int64) Money {
	return Money{Cents: m.Cents * factor, Currency: m.Currency}
}

// MulRat returns m scaled by num/den with banker's rounding to minor units.
func (m Money) MulRat(num, den int64) (Money, error) {
	if den == 0 {
		return Money{}, fmt.Errorf("zero denominator")
	}
	d := decimal.NewFromInt(m.Cents).
		Mul(decimal.NewFromInt(num)).
		Div(decimal.NewFromInt(den))
	return Money{Cents: d.RoundBank(0).IntPart(), Currency: m.Currency}, nil
}

// MulDecimal returns m scaled by a decimal factor (e.g. a percentage rate)
// with banker's rounding to minor units.
func (m Money) MulDecimal(factor decimal.Decimal) Money {
	d := decimal.NewFromInt(m.Cents).Mul(factor)
	return Money{Cents: d.RoundBank(0).IntPart(), Currency: m.Currency}
}

// Cmp compares two amounts: -1 if m < other, 0 if equal, +1 if m > other.
// Mixed currencies fail.
func (m Money) Cmp(other Money) (int, error) {
	if err := m.sameCurrency(other); err != nil {
		return 0, err
	}
	switch {
	case m.Cents < other.Cents:
		return -1, nil
	case m.Cents > other.Cents:
		return 1, nil
	default:
		return 0, nil
	}
}

// Min returns the smaller of two same-currency amounts.
func Min(a, b Money) (Money, error) {
	cmp, err := a.Cmp(b)
	if err != nil {
		return Money{}, err
	}
	if cmp <= 0 {
		return a, nil
	}
	return b, nil
}

// Sum folds same-currency amounts; an empty slice yields zero in the given
// currency.
func Sum(currency enums.Currency, amounts ...Money) (Money, error) {
	total := Zero(currency)
	for _, amount := range amounts {
		next, err := total.Add(amount)
		if err != nil {
			return Money{}, err
		}
		total = next
	}
	return total, nil
}

// ScaleProportionally scales parts so their magnitudes sum to target, keeping
// the original proportions. Used by the promotion max-discount cap. Rounding
// residue is reconciled with the largest-remainder method so minor units always
// sum exactly to target. Signs of the parts are preserved.
func ScaleProportionally(parts []Money, target Money) ([]Money, error) {
	if len(parts) == 0 {
		return nil, nil
	}
	currency := parts[0].Currency
	var total int64
	for _, part := range parts {
		if part.Currency != currency {
			return nil, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, part.Currency, currency)
		}
		total += abs64(part.Cents)
	}
	if target.Currency != currency {
		return nil, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, target.Currency, currency)
	}
	if total == 0 {
		return append([]Money{}, parts...), nil
	}

	targetAbs := abs64(target.Cents)
	scaled := make([]Money, len(parts))
	remainders := make([]decimal.Decimal, len(parts))
	var assigned int64
	for i, part := range parts {
		exact := decimal.NewFromInt(abs64(part.Cents)).
			Mul(decimal.NewFromInt(targetAbs)).
			Div(decimal.NewFromInt(total))
		floor := exact.Floor()
		remainders[i] = exact.Sub(floor)
		cents := floor.IntPart()
		assigned += cents
		scaled[i] = Money{Cents: withSign(cents, part.Cents), Currency: currency}
	}

	// Distribute the leftover minor units to the largest remainders.
	for leftover := targetAbs - assigned; leftover > 0; leftover-- {
		best := -1
		for i, rem := range remainders {
			if best < 0 || rem.GreaterThan(remainders[best]) {
				best = i
			}
		}
		if best < 0 {
			break
		}
		scaled[best].Cents = withSign(abs64(scaled[best].Cents)+1, parts[best].Cents)
		remainders[best] = decimal.Zero
	}

	return scaled, nil
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func withSign(magnitude, sign int64) int64 {
	if sign < 0 {
		return -magnitude
	}
	return magnitude
}
