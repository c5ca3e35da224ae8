package trigger

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"papervenue/internal/types"
)

func price(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func ids(entries []Entry) []int64 {
	out := make([]int64, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.OrderID)
	}
	return out
}

func TestMatchesBuySide(t *testing.T) {
	ix := NewIndex()
	ix.Add("ACME", types.OrderSideBuy, 1, price("48.00"))
	ix.Add("ACME", types.OrderSideBuy, 2, price("50.00"))
	ix.Add("ACME", types.OrderSideBuy, 3, price("45.00"))

	// a tick at 48 qualifies buys with limit >= 48
	got := ids(ix.Matches("ACME", price("48.00")))
	require.ElementsMatch(t, []int64{1, 2}, got)

	// a tick below all limits qualifies everything
	got = ids(ix.Matches("ACME", price("40.00")))
	require.ElementsMatch(t, []int64{1, 2, 3}, got)

	got = ids(ix.Matches("ACME", price("51.00")))
	require.Empty(t, got)
}

func TestMatchesSellSide(t *testing.T) {
	ix := NewIndex()
	ix.Add("ACME", types.OrderSideSell, 4, price("52.00"))
	ix.Add("ACME", types.OrderSideSell, 5, price("55.00"))

	got := ids(ix.Matches("ACME", price("52.00")))
	require.ElementsMatch(t, []int64{4}, got)

	got = ids(ix.Matches("ACME", price("60.00")))
	require.ElementsMatch(t, []int64{4, 5}, got)
}

func TestMatchesRangeAfterGap(t *testing.T) {
	ix := NewIndex()
	ix.Add("BTC-USD", types.OrderSideBuy, 1, price("95"))
	ix.Add("BTC-USD", types.OrderSideBuy, 2, price("80"))
	ix.Add("BTC-USD", types.OrderSideSell, 3, price("104"))
	ix.Add("BTC-USD", types.OrderSideSell, 4, price("120"))

	// gap swept 90..105: buy@95 and sell@104 were passed through
	got := ids(ix.MatchesRange("BTC-USD", price("90"), price("105")))
	require.ElementsMatch(t, []int64{1, 3}, got)
}

func TestRemoveAndRebuild(t *testing.T) {
	ix := NewIndex()
	ix.Add("ACME", types.OrderSideBuy, 1, price("48.00"))
	ix.Add("ACME", types.OrderSideBuy, 2, price("49.00"))
	require.Equal(t, 2, ix.Len())

	ix.Remove("ACME", types.OrderSideBuy, 1, price("48.00"))
	require.Equal(t, 1, ix.Len())
	require.ElementsMatch(t, []int64{2}, ids(ix.Matches("ACME", price("48.50"))))

	err := ix.Rebuild(func(add func(string, types.OrderSide, int64, decimal.Decimal)) error {
		add("ACME", types.OrderSideBuy, 7, price("47.00"))
		add("OTHER", types.OrderSideSell, 8, price("10.00"))
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, ix.Len())
	require.ElementsMatch(t, []int64{7}, ids(ix.Matches("ACME", price("46.00"))))
}

func TestSymbolsIsolated(t *testing.T) {
	ix := NewIndex()
	ix.Add("A", types.OrderSideBuy, 1, price("10"))
	ix.Add("B", types.OrderSideBuy, 2, price("10"))
	require.ElementsMatch(t, []int64{1}, ids(ix.Matches("A", price("9"))))
}
