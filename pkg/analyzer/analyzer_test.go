package analyzer

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/combat-report/pkg/db"
	"github.com/combat-report/pkg/parser"
	"github.com/combat-report/pkg/price"
)

const wallet = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"

var t0 = time.Unix(1_700_000_000, 0)

type staticTxs struct {
	txs []db.Transaction
	err error
}

func (s staticTxs) FetchTransactions(ctx context.Context, w string) ([]db.Transaction, error) {
	return s.txs, s.err
}

// staticPrices answers from a fixed table; unknown mints are not found.
type staticPrices map[string]price.Result

func (s staticPrices) Name() string { return "static" }

func (s staticPrices) FetchPrice(ctx context.Context, mint string, at time.Time) price.Result {
	if r, ok := s[mint]; ok {
		return r
	}
	return price.Result{Outcome: price.OutcomeNotFound, Err: errors.New("no pool")}
}

func swap(sig string, at time.Duration, native float64, deltas ...db.TokenDelta) db.Transaction {
	return db.Transaction{Signature: sig, Timestamp: t0.Add(at), Wallet: wallet, NativeDelta: native, TokenDeltas: deltas}
}

func delta(mint string, amt float64) db.TokenDelta { return db.TokenDelta{Mint: mint, Amount: amt} }

func deep(p float64) price.Result {
	return price.Result{Price: p, LiquidityUSD: 1e6, Outcome: price.OutcomeOK}
}

func roundTrips() []db.Transaction {
	return []db.Transaction{
		swap("a-buy", 0, -5, delta("A", 100)),
		swap("a-sell", time.Hour, 15, delta("A", -100)),
		swap("b-buy", 2*time.Hour, -5, delta("B", 100)),
		swap("b-sell", 3*time.Hour, 1, delta("B", -100)),
	}
}

// partialExits leaves 50 A (basis 2.5) and 100 B (basis 5) still held.
func partialExits() []db.Transaction {
	return []db.Transaction{
		swap("a-buy", 0, -5, delta("A", 100)),
		swap("a-sell", time.Hour, 4, delta("A", -50)),
		swap("b-buy", 2*time.Hour, -5, delta("B", 100)),
	}
}

// rateLimited always answers 429 and counts the calls.
type rateLimited struct{ calls *int32 }

func (r rateLimited) Name() string { return "limited" }

func (r rateLimited) FetchPrice(ctx context.Context, mint string, at time.Time) price.Result {
	atomic.AddInt32(r.calls, 1)
	return price.Result{Outcome: price.OutcomeRateLimited, Err: errors.New("HTTP 429")}
}

func newAnalyzer(txs TxSource, prices price.Source) *Analyzer {
	opts := DefaultOptions()
	opts.Now = func() time.Time { return t0.Add(24 * time.Hour) }
	opts.FetcherOpts = []price.FetcherOption{
		price.WithClock(opts.Now),
		price.WithSleep(func(context.Context, time.Duration) error { return nil }),
	}
	return New(txs, prices, opts)
}

func TestWinAndLossRoundTrips(t *testing.T) {
	a := newAnalyzer(staticTxs{txs: roundTrips()}, staticPrices{"A": deep(0.2), "B": deep(0.01)})

	r, err := a.Analyze(context.Background(), wallet)
	require.NoError(t, err)

	assert.Equal(t, wallet, r.Wallet)
	assert.Equal(t, 4, r.TransactionCount)
	assert.Equal(t, 4, r.SwapCount)
	assert.Equal(t, 2, r.TokenCount)
	assert.False(t, r.InsufficientData)
	assert.Equal(t, 0.5, r.Profile.WinRate)
	assert.InDelta(t, 6.0, r.Profile.TotalProfit, 1e-9)
	assert.Equal(t, db.ConfidenceHigh, r.Profile.Confidence)
	assert.Equal(t, time.Hour, r.Profile.MedianHold)
	assert.Empty(t, r.Anomalies)

	require.Len(t, r.Tokens, 2)
	recs := r.Tokens[0].Records
	require.Len(t, recs, 2)
	assert.Equal(t, db.SideBuy, recs[0].Side)
	assert.InDelta(t, 5.0, recs[0].Shares["A"], 1e-9)
	assert.Equal(t, db.SideSell, recs[1].Side)
	assert.Equal(t, "a-sell", recs[1].Signature)
	assert.InDelta(t, 15.0, recs[1].Shares["A"], 1e-9)
}

func TestMissingPriceIsAnomalyNotFailure(t *testing.T) {
	a := newAnalyzer(staticTxs{txs: partialExits()}, staticPrices{"A": deep(0.1)})

	r, err := a.Analyze(context.Background(), wallet)
	require.NoError(t, err)

	assert.Equal(t, 2, r.TokenCount)
	assert.InDelta(t, 1.5+2.5, r.Profile.TotalProfit, 1e-9)
	assert.Equal(t, db.ConfidenceMedium, r.Profile.Confidence)
	require.Len(t, r.Anomalies, 1)
	assert.Equal(t, db.AnomalyMissingPrice, r.Anomalies[0].Kind)
	assert.Equal(t, "B", r.Anomalies[0].Mint)
	assert.Equal(t, "not_found", r.Anomalies[0].Detail)
}

func TestNoPriceSourceIsLowConfidence(t *testing.T) {
	r, err := newAnalyzer(staticTxs{txs: partialExits()}, nil).Analyze(context.Background(), wallet)
	require.NoError(t, err)
	assert.Equal(t, db.ConfidenceLow, r.Profile.Confidence)
	assert.InDelta(t, 1.5, r.Profile.TotalProfit, 1e-9)
}

func TestClosedPositionsNeedNoQuotes(t *testing.T) {
	var calls int32
	a := newAnalyzer(staticTxs{txs: roundTrips()}, rateLimited{calls: &calls})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	r, err := a.Analyze(ctx, wallet)
	require.NoError(t, err)

	assert.Zero(t, atomic.LoadInt32(&calls))
	assert.Equal(t, 2, r.TokenCount)
	assert.InDelta(t, 6.0, r.Profile.TotalProfit, 1e-9)
	assert.Equal(t, db.ConfidenceHigh, r.Profile.Confidence)
	assert.Empty(t, r.Anomalies)
	for _, tok := range r.Tokens {
		assert.Equal(t, db.QuoteNotNeeded, tok.Quote, tok.Mint)
	}

	// without any price source the realized numbers still stand
	r, err = newAnalyzer(staticTxs{txs: roundTrips()}, nil).Analyze(context.Background(), wallet)
	require.NoError(t, err)
	assert.Equal(t, db.ConfidenceHigh, r.Profile.Confidence)
}

func TestDustIsNeverPriced(t *testing.T) {
	var calls int32
	opts := DefaultOptions()
	opts.Policy.DustCostSOL = 0.05
	opts.Now = func() time.Time { return t0.Add(24 * time.Hour) }
	opts.FetcherOpts = []price.FetcherOption{
		price.WithClock(opts.Now),
		price.WithSleep(func(context.Context, time.Duration) error { return nil }),
	}
	txs := append(roundTrips(), swap("dust-buy", 4*time.Hour, -0.01, delta("D", 1000)))

	r, err := New(staticTxs{txs: txs}, rateLimited{calls: &calls}, opts).Analyze(context.Background(), wallet)
	require.NoError(t, err)

	assert.Zero(t, atomic.LoadInt32(&calls))
	assert.Equal(t, 2, r.TokenCount)
	assert.Equal(t, 1, r.DustTokens)
}

func TestPureTransfersAreInsufficientData(t *testing.T) {
	txs := []db.Transaction{
		swap("in", 0, 3),
		swap("out", time.Hour, -1),
	}
	r, err := newAnalyzer(staticTxs{txs: txs}, staticPrices{}).Analyze(context.Background(), wallet)
	require.NoError(t, err)

	assert.Equal(t, 2, r.TransactionCount)
	assert.Equal(t, 0, r.SwapCount)
	assert.Equal(t, 0, r.TokenCount)
	assert.True(t, r.InsufficientData)
	assert.Equal(t, db.ConfidenceLow, r.Profile.Confidence)
}

func TestWrappedSolNeverBecomesAPosition(t *testing.T) {
	txs := []db.Transaction{
		swap("wrap", 0, -2, delta(parser.WSOLMint, 2)),
		swap("buy", time.Minute, 0, delta(parser.WSOLMint, -2), delta("A", 50)),
		swap("sell", time.Hour, 3, delta("A", -50)),
	}
	r, err := newAnalyzer(staticTxs{txs: txs}, staticPrices{"A": deep(0.06)}).Analyze(context.Background(), wallet)
	require.NoError(t, err)

	require.Equal(t, 1, r.TokenCount)
	require.Len(t, r.Tokens, 1)
	assert.Equal(t, "A", r.Tokens[0].Mint)
	assert.InDelta(t, 2.0, r.Tokens[0].Cost, 1e-9)
	assert.InDelta(t, 1.0, r.Tokens[0].Realized, 1e-9)
}

func TestUnreconciledTransactionIsSkipped(t *testing.T) {
	txs := append(roundTrips(), swap("weird", 4*time.Hour, 2, delta("C", 10)))
	r, err := newAnalyzer(staticTxs{txs: txs}, staticPrices{"A": deep(0.2), "B": deep(0.01)}).Analyze(context.Background(), wallet)
	require.NoError(t, err)

	assert.Equal(t, 2, r.TokenCount)
	require.Len(t, r.Anomalies, 1)
	assert.Equal(t, db.AnomalyUnreconciled, r.Anomalies[0].Kind)
	assert.Equal(t, "weird", r.Anomalies[0].Signature)
}

func TestFetchFailuresFailTheWallet(t *testing.T) {
	boom := errors.New("credential rejected")
	_, err := newAnalyzer(staticTxs{err: boom}, nil).Analyze(context.Background(), wallet)
	assert.ErrorIs(t, err, boom)

	_, err = newAnalyzer(staticTxs{}, nil).Analyze(context.Background(), wallet)
	assert.ErrorIs(t, err, ErrNoTransactions)
}

func TestCancelledContextFailsTheWallet(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newAnalyzer(staticTxs{txs: roundTrips()}, staticPrices{"A": deep(0.2)}).Analyze(ctx, wallet)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAnalysisIsDeterministic(t *testing.T) {
	a := newAnalyzer(staticTxs{txs: roundTrips()}, staticPrices{"A": deep(0.2), "B": deep(0.01)})
	first, err := a.Analyze(context.Background(), wallet)
	require.NoError(t, err)
	second, err := a.Analyze(context.Background(), wallet)
	require.NoError(t, err)

	assert.Equal(t, first.Profile, second.Profile)
	assert.Equal(t, first.Tokens, second.Tokens)
}
