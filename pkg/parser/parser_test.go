package parser

import (
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/combat-report/pkg/db"
)

const (
	mintX = "MintXxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx"
	mintY = "MintYyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyyy"
)

func ts(sec int64) time.Time { return time.Unix(1_700_000_000+sec, 0) }

func TestEventsOrderedByTimeThenSignature(t *testing.T) {
	txs := []db.Transaction{
		{Signature: "sigC", Timestamp: ts(20), NativeDelta: -1, TokenDeltas: []db.TokenDelta{{Mint: mintX, Amount: 10}}},
		{Signature: "sigB", Timestamp: ts(10), NativeDelta: -1, TokenDeltas: []db.TokenDelta{{Mint: mintX, Amount: 10}}},
		{Signature: "sigA", Timestamp: ts(10), NativeDelta: -1, TokenDeltas: []db.TokenDelta{{Mint: mintY, Amount: 10}}},
	}

	events := slices.Collect(New().Events(txs))
	require.Len(t, events, 3)
	assert.Equal(t, "sigA", events[0].Signature)
	assert.Equal(t, "sigB", events[1].Signature)
	assert.Equal(t, "sigC", events[2].Signature)
}

func TestEventsSequenceIsRestartable(t *testing.T) {
	txs := []db.Transaction{
		{Signature: "s1", Timestamp: ts(1), NativeDelta: -2, TokenDeltas: []db.TokenDelta{{Mint: mintX, Amount: 5}}},
		{Signature: "s2", Timestamp: ts(2), NativeDelta: 3, TokenDeltas: []db.TokenDelta{{Mint: mintX, Amount: -5}}},
	}
	seq := New().Events(txs)

	var first, second []string
	for ev := range seq {
		first = append(first, ev.Signature)
	}
	for ev := range seq {
		second = append(second, ev.Signature)
	}
	assert.Equal(t, []string{"s1", "s2"}, first)
	assert.Equal(t, first, second)
}

func TestWSOLFoldedIntoNative(t *testing.T) {
	// wrap 2 SOL then spend the WSOL on a buy: native -2, WSOL net 0 after the swap
	// and a separate record where only WSOL moves.
	txs := []db.Transaction{{
		Signature:   "wrapbuy",
		Timestamp:   ts(1),
		NativeDelta: -2.00001,
		TokenDeltas: []db.TokenDelta{
			{Mint: WSOLMint, Amount: -2},
			{Mint: mintX, Amount: 100},
		},
	}}

	events := slices.Collect(New().Events(txs))
	require.Len(t, events, 1)
	ev := events[0]
	_, hasWSOL := ev.Tokens[WSOLMint]
	assert.False(t, hasWSOL, "WSOL must not appear as a token")
	assert.InDelta(t, -2.00001, ev.NativeDelta, 1e-9, "same-direction legs take the larger, not the sum")
	assert.Equal(t, 100.0, ev.Tokens[mintX])
}

func TestPureTransferIsNotASwap(t *testing.T) {
	txs := []db.Transaction{
		{Signature: "xfer", Timestamp: ts(1), NativeDelta: -5},
		{Signature: "wrap", Timestamp: ts(2), NativeDelta: -1, TokenDeltas: []db.TokenDelta{{Mint: WSOLMint, Amount: 1}}},
		{Signature: "zero", Timestamp: ts(3), TokenDeltas: []db.TokenDelta{{Mint: mintX, Amount: 0}}},
	}
	assert.Empty(t, slices.Collect(New().Events(txs)))
}

func TestUnreconcilableTransactionIsReportedAndSkipped(t *testing.T) {
	var anomalies []db.Anomaly
	p := New(WithAnomalyHandler(func(a db.Anomaly) { anomalies = append(anomalies, a) }))

	txs := []db.Transaction{
		{Signature: "bad", Timestamp: ts(1), NativeDelta: 3, TokenDeltas: []db.TokenDelta{{Mint: mintX, Amount: 10}}},
		{Signature: "good", Timestamp: ts(2), NativeDelta: -1, TokenDeltas: []db.TokenDelta{{Mint: mintX, Amount: 10}}},
	}

	events := slices.Collect(p.Events(txs))
	require.Len(t, events, 1)
	assert.Equal(t, "good", events[0].Signature)
	require.Len(t, anomalies, 1)
	assert.Equal(t, db.AnomalyUnreconciled, anomalies[0].Kind)
	assert.Equal(t, "bad", anomalies[0].Signature)
}

func TestFeeWithinToleranceIsAccepted(t *testing.T) {
	// selling dust where proceeds are smaller than the fee
	txs := []db.Transaction{
		{Signature: "dust", Timestamp: ts(1), NativeDelta: -0.000005, TokenDeltas: []db.TokenDelta{{Mint: mintX, Amount: -1}}},
	}
	assert.Len(t, slices.Collect(New().Events(txs)), 1)
}

func TestRecordsSharingSignatureAreMerged(t *testing.T) {
	txs := []db.Transaction{
		{Signature: "multi", Timestamp: ts(5), NativeDelta: -8, TokenDeltas: []db.TokenDelta{{Mint: mintX, Amount: 30}}},
		{Signature: "multi", Timestamp: ts(5), TokenDeltas: []db.TokenDelta{{Mint: mintY, Amount: 10}}},
		// verbatim repeat from an overlapping page
		{Signature: "multi", Timestamp: ts(5), TokenDeltas: []db.TokenDelta{{Mint: mintY, Amount: 10}}},
	}

	events := slices.Collect(New().Events(txs))
	require.Len(t, events, 1)
	assert.Equal(t, -8.0, events[0].NativeDelta)
	assert.Equal(t, map[string]float64{mintX: 30, mintY: 10}, events[0].Tokens)
	assert.Equal(t, []string{mintX, mintY}, events[0].Mints())
}

func TestFoldWrapped(t *testing.T) {
	assert.Equal(t, 2.0, FoldWrapped(0, 2))
	assert.Equal(t, -3.0, FoldWrapped(-3, 0))
	assert.Equal(t, -3.0, FoldWrapped(-3, -1))
	assert.Equal(t, 4.0, FoldWrapped(1, 4))
	assert.InDelta(t, 1.5, FoldWrapped(-0.5, 2), 1e-12)
}
