package attribution

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/combat-report/pkg/db"
)

const (
	mintX = "MintXxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx"
	mintY = "MintYyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyy"
	mintZ = "MintZzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz"
)

func at(sec int64) time.Time { return time.Unix(1_700_000_000+sec, 0) }

func event(sig string, sec int64, native float64, tokens map[string]float64) db.SwapEvent {
	return db.SwapEvent{Signature: sig, Timestamp: at(sec), NativeDelta: native, Tokens: tokens}
}

func TestMultiMintBuyIsSplitProportionally(t *testing.T) {
	c := New()
	c.Apply(event("buy", 1, -8, map[string]float64{mintX: 30, mintY: 10}))
	res := c.Run(func(func(db.SwapEvent) bool) {})

	require.Len(t, res.Records, 1)
	rec := res.Records[0]
	assert.Equal(t, db.SideBuy, rec.Side)
	assert.InDelta(t, 6.0, rec.Shares[mintX], 1e-12)
	assert.InDelta(t, 2.0, rec.Shares[mintY], 1e-12)
	assert.InDelta(t, 8.0, rec.Total(), 1e-12)

	assert.InDelta(t, 6.0, res.Positions[mintX].Cost, 1e-12)
	assert.InDelta(t, 2.0, res.Positions[mintY].Cost, 1e-12)
}

func TestSplitConservesNative(t *testing.T) {
	cases := []struct {
		native  float64
		amounts map[string]float64
	}{
		{1, map[string]float64{mintX: 1, mintY: 1, mintZ: 1}},
		{0.123456789, map[string]float64{mintX: 7.77, mintY: 0.0001, mintZ: 123456}},
		{42, map[string]float64{mintX: 3}},
	}
	for _, tc := range cases {
		shares := Split(tc.native, tc.amounts)
		sum := 0.0
		for _, s := range shares {
			sum += s
			assert.GreaterOrEqual(t, s, 0.0)
		}
		assert.InDelta(t, tc.native, sum, 1e-9)
	}
	assert.Nil(t, Split(5, map[string]float64{}))
}

func TestWeightedAverageCostRealizesSoldFraction(t *testing.T) {
	res := New().Run(seq(
		event("b1", 1, -1, map[string]float64{mintX: 100}), // 0.01/token
		event("b2", 2, -3, map[string]float64{mintX: 100}), // avg now 0.02
		event("s1", 3, 2, map[string]float64{mintX: -50}),  // basis 1
		event("s2", 4, 6, map[string]float64{mintX: -150}), // basis 3
	))

	pos := res.Positions[mintX]
	assert.InDelta(t, 4.0, pos.Realized, 1e-9)
	assert.InDelta(t, 0.0, pos.Held, 1e-9)
	assert.InDelta(t, 0.0, pos.CostBasis, 1e-9)
	assert.Equal(t, 2, pos.RoundTrips)
	assert.Equal(t, at(1), pos.FirstBuy)
	assert.Equal(t, at(4), pos.LastSell)
	assert.False(t, pos.LowConfidence)
	assert.Equal(t, 3*time.Second, pos.HoldDuration())
}

func TestBuyAndSellLegsUseSeparateRatios(t *testing.T) {
	// X sold for SOL, Y bought with the same SOL in one tx: net native +1
	// belongs to the sell side only; the Y buy gets no SOL cost.
	res := New().Run(seq(
		event("b", 1, -2, map[string]float64{mintX: 10}),
		event("mix", 2, 1, map[string]float64{mintX: -10, mintY: 500}),
	))

	require.Len(t, res.Records, 2)
	assert.Equal(t, db.SideSell, res.Records[1].Side)
	assert.Equal(t, map[string]float64{mintX: 1}, res.Records[1].Shares)

	assert.InDelta(t, -1.0, res.Positions[mintX].Realized, 1e-9)
	y := res.Positions[mintY]
	assert.Equal(t, 0.0, y.Cost)
	assert.Equal(t, 1, y.UnpricedLegs)
	assert.Equal(t, 500.0, y.Held)
}

func TestOversellIsClampedAndFlagged(t *testing.T) {
	res := New().Run(seq(
		event("b", 1, -1, map[string]float64{mintX: 10}),
		event("s", 2, 3, map[string]float64{mintX: -25}),
	))

	pos := res.Positions[mintX]
	assert.True(t, pos.LowConfidence)
	assert.InDelta(t, 2.0, pos.Realized, 1e-9)
	assert.Equal(t, 0.0, pos.Held)
	assert.Equal(t, 0.0, pos.CostBasis)

	require.Len(t, res.Anomalies, 1)
	assert.Equal(t, db.AnomalyOversold, res.Anomalies[0].Kind)
}

func TestSellWithoutPositionHasZeroBasis(t *testing.T) {
	res := New().Run(seq(event("s", 1, 0.5, map[string]float64{mintX: -10})))

	pos := res.Positions[mintX]
	assert.True(t, pos.LowConfidence)
	assert.InDelta(t, 0.5, pos.Realized, 1e-12)
	assert.Equal(t, 0, pos.RoundTrips)
	assert.False(t, pos.HasRoundTrip())
}

func TestBuyOnlyPositionHasNoRealizedProfit(t *testing.T) {
	res := New().Run(seq(event("b", 1, -2, map[string]float64{mintX: 10})))

	pos := res.Positions[mintX]
	assert.Equal(t, 0.0, pos.Realized)
	assert.Equal(t, 10.0, pos.Held)
	assert.Equal(t, time.Duration(0), pos.HoldDuration())
}

func TestDrawdownHeldThroughIsRecorded(t *testing.T) {
	res := New().Run(seq(
		event("b1", 1, -1, map[string]float64{mintX: 100}), // entry 0.01
		event("s1", 2, 0.2, map[string]float64{mintX: -40}), // exec 0.005, still holding 60
		event("s2", 3, 1.2, map[string]float64{mintX: -60}),
	))

	assert.InDelta(t, 0.5, res.Positions[mintX].MaxDrawdown, 1e-9)
}

func TestRunIsDeterministic(t *testing.T) {
	events := []db.SwapEvent{
		event("a", 1, -8, map[string]float64{mintX: 30, mintY: 10}),
		event("b", 2, 5, map[string]float64{mintX: -30}),
		event("c", 3, 1, map[string]float64{mintY: -4}),
	}
	first := New().Run(seq(events...))
	second := New().Run(seq(events...))
	assert.Equal(t, first, second)
}

func seq(events ...db.SwapEvent) func(func(db.SwapEvent) bool) {
	return func(yield func(db.SwapEvent) bool) {
		for _, ev := range events {
			if !yield(ev) {
				return
			}
		}
	}
}
