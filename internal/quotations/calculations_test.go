package quotations

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

var rate = decimal.RequireFromString("0.19")

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestLineSubtotal(t *testing.T) {
	tests := []struct {
		name     string
		price    string
		discount string
		qty      int
		want     string
	}{
		{"no discount", "10000", "0", 2, "20000"},
		{"ten percent", "25000", "10", 1, "22500"},
		{"full discount", "999.99", "100", 3, "0"},
		{"rounds half away from zero", "0.05", "50", 1, "0.03"},
		{"fractional discount", "1234.56", "12.5", 7, "7561.68"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LineSubtotal(d(tt.price), d(tt.discount), tt.qty)
			assert.True(t, got.Equal(d(tt.want)), "got %s want %s", got, tt.want)
		})
	}
}

func TestComputeTotalsExample(t *testing.T) {
	lines := []Line{
		BuildLine(LineInput{Catalog: CatalogSolar, ProductID: 1, Quantity: 2}, ProductSnapshot{Price: d("10000")}, 1),
		BuildLine(LineInput{Catalog: CatalogSolar, ProductID: 2, Quantity: 1, DiscountPercent: d("10")}, ProductSnapshot{Price: d("25000")}, 2),
	}
	totals := ComputeTotals(lines, rate, decimal.Zero)
	assert.True(t, totals.Subtotal.Equal(d("42500")))
	assert.True(t, totals.Tax.Equal(d("8075")))
	assert.True(t, totals.Total.Equal(d("50575")))
}

func TestComputeTotalsManualDiscountCapped(t *testing.T) {
	lines := []Line{{Subtotal: d("100")}}
	totals := ComputeTotals(lines, rate, d("500"))
	assert.True(t, totals.ManualDiscount.Equal(d("119")))
	assert.True(t, totals.Total.IsZero())

	totals = ComputeTotals(lines, rate, d("19"))
	assert.True(t, totals.Total.Equal(d("100")))
}

func TestComputeTotalsEmpty(t *testing.T) {
	totals := ComputeTotals(nil, rate, decimal.Zero)
	assert.True(t, totals.Subtotal.IsZero())
	assert.True(t, totals.Tax.IsZero())
	assert.True(t, totals.Total.IsZero())
}

func TestTotalsInvariantUnderRandomEdits(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	var lines []Line
	for i := 0; i < 200; i++ {
		switch {
		case len(lines) > 0 && rng.Intn(4) == 0:
			idx := rng.Intn(len(lines))
			lines = append(lines[:idx], lines[idx+1:]...)
		case len(lines) > 0 && rng.Intn(3) == 0:
			idx := rng.Intn(len(lines))
			l := lines[idx]
			l.Quantity = rng.Intn(9) + 1
			l.Subtotal = LineSubtotal(l.UnitPrice, l.DiscountPercent, l.Quantity)
			lines[idx] = l
		default:
			price := decimal.New(rng.Int63n(10_000_000), -2)
			discount := decimal.New(rng.Int63n(10001), -2)
			lines = append(lines, BuildLine(LineInput{Quantity: rng.Intn(20) + 1, DiscountPercent: discount},
				ProductSnapshot{Price: price}, i))
		}

		manual := decimal.New(rng.Int63n(5000), 0)
		totals := ComputeTotals(lines, rate, manual)
		assert.True(t, totals.Tax.Equal(totals.Subtotal.Mul(rate).Round(2)))
		assert.True(t, totals.Total.Equal(totals.Subtotal.Add(totals.Tax).Sub(totals.ManualDiscount)))
		for _, l := range lines {
			assert.True(t, l.Subtotal.Equal(l.UnitPrice.Mul(hundred.Sub(l.DiscountPercent)).Div(hundred).Mul(decimal.NewFromInt(int64(l.Quantity))).Round(2)))
		}
	}
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusDraft, StatusPending))
	assert.True(t, CanTransition(StatusPending, StatusApproved))
	assert.True(t, CanTransition(StatusSent, StatusRejected))
	assert.True(t, CanTransition(StatusRejected, StatusPending))
	assert.False(t, CanTransition(StatusApproved, StatusPending))
	assert.False(t, CanTransition(StatusDraft, StatusApproved))
	assert.False(t, CanTransition(StatusSent, StatusDraft))
}
