package price

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/combat-report/pkg/db"
	"github.com/combat-report/pkg/parser"
)

const mintX = "MintXxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx"

// scripted returns results in order, repeating the last one.
type scripted struct {
	mu      sync.Mutex
	results []Result
	calls   int
	block   bool
}

func (s *scripted) Name() string { return "scripted" }

func (s *scripted) FetchPrice(ctx context.Context, _ string, _ time.Time) Result {
	s.mu.Lock()
	i := s.calls
	s.calls++
	s.mu.Unlock()
	if s.block {
		<-ctx.Done()
		return failed(OutcomeUnavailable, ctx.Err())
	}
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	return s.results[i]
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestFetcher(src Source, opts Options) (*Fetcher, *fakeClock, *[]time.Duration) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	var sleeps []time.Duration
	f := NewFetcher(src, opts,
		WithClock(clock.now),
		WithSleep(func(_ context.Context, d time.Duration) error {
			sleeps = append(sleeps, d)
			return nil
		}),
	)
	return f, clock, &sleeps
}

func TestTransientFailuresAreRetriedWithBackoff(t *testing.T) {
	src := &scripted{results: []Result{
		failed(OutcomeRateLimited, errors.New("HTTP 429")),
		failed(OutcomeUnavailable, errors.New("HTTP 502")),
		{Price: 0.25, Outcome: OutcomeOK},
	}}
	f, clock, sleeps := newTestFetcher(src, DefaultOptions())

	q := f.GetPrice(context.Background(), mintX, clock.t)
	assert.Equal(t, db.QuoteFresh, q.Confidence)
	assert.Equal(t, 0.25, q.Price)
	assert.Equal(t, 3, src.calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *sleeps)
}

func TestExhaustedRetriesYieldMissingQuote(t *testing.T) {
	src := &scripted{results: []Result{failed(OutcomeRateLimited, errors.New("HTTP 429"))}}
	f, clock, sleeps := newTestFetcher(src, DefaultOptions())

	q := f.GetPrice(context.Background(), mintX, clock.t)
	assert.True(t, q.Missing())
	assert.Equal(t, db.QuoteMissing, q.Confidence)
	assert.Equal(t, "rate_limited", q.Reason)
	assert.Equal(t, 4, src.calls, "first attempt plus three retries")
	assert.Len(t, *sleeps, 3)
}

func TestPermanentFailureIsNotRetried(t *testing.T) {
	src := &scripted{results: []Result{failed(OutcomeNotFound, errors.New("no pool"))}}
	f, clock, sleeps := newTestFetcher(src, DefaultOptions())

	q := f.GetPrice(context.Background(), mintX, clock.t)
	assert.Equal(t, db.QuoteMissing, q.Confidence)
	assert.Equal(t, "not_found", q.Reason)
	assert.Equal(t, 1, src.calls)
	assert.Empty(t, *sleeps)
}

func TestSlowRequestCountsAsTimeout(t *testing.T) {
	src := &scripted{block: true}
	opts := DefaultOptions()
	opts.Timeout = 20 * time.Millisecond
	opts.Retries = 1
	f, clock, _ := newTestFetcher(src, opts)

	q := f.GetPrice(context.Background(), mintX, clock.t)
	assert.Equal(t, db.QuoteMissing, q.Confidence)
	assert.Equal(t, "timeout", q.Reason)
	assert.Equal(t, 2, src.calls)
}

func TestCacheServesRepeatLookupsUntilExpiry(t *testing.T) {
	src := &scripted{results: []Result{{Price: 0.5, Outcome: OutcomeOK}}}
	opts := DefaultOptions()
	opts.CacheTTL = time.Minute
	f, clock, _ := newTestFetcher(src, opts)
	ctx := context.Background()

	f.GetPrice(ctx, mintX, clock.t)
	q := f.GetPrice(ctx, mintX, clock.t)
	assert.Equal(t, 1, src.calls)
	assert.Equal(t, "cache", q.Source)
	assert.Equal(t, 0.5, q.Price)

	clock.t = clock.t.Add(2 * time.Minute)
	f.GetPrice(ctx, mintX, clock.t)
	assert.Equal(t, 2, src.calls)
}

func TestMissingQuotesAreNotCached(t *testing.T) {
	src := &scripted{results: []Result{
		failed(OutcomeNotFound, nil),
		{Price: 0.5, Outcome: OutcomeOK},
	}}
	f, clock, _ := newTestFetcher(src, DefaultOptions())

	assert.True(t, f.GetPrice(context.Background(), mintX, clock.t).Missing())
	assert.False(t, f.GetPrice(context.Background(), mintX, clock.t).Missing())
}

func TestWrappedSolIsPricedAtOne(t *testing.T) {
	src := &scripted{results: []Result{failed(OutcomeFatal, nil)}}
	f, clock, _ := newTestFetcher(src, DefaultOptions())

	q := f.GetPrice(context.Background(), parser.WSOLMint, clock.t)
	assert.Equal(t, 1.0, q.Price)
	assert.Equal(t, 0, src.calls)
}

func TestOldRequestTimeIsStale(t *testing.T) {
	src := &scripted{results: []Result{{Price: 0.5, Outcome: OutcomeOK}}}
	f, clock, _ := newTestFetcher(src, DefaultOptions())

	q := f.GetPrice(context.Background(), mintX, clock.t.Add(-time.Hour))
	assert.Equal(t, db.QuoteStale, q.Confidence)
	assert.False(t, q.Missing())
}

func TestGetPricesCoversEveryMint(t *testing.T) {
	src := &scripted{results: []Result{{Price: 0.1, Outcome: OutcomeOK}}}
	f, clock, _ := newTestFetcher(src, DefaultOptions())

	quotes := f.GetPrices(context.Background(), map[string]time.Time{mintX: clock.t, "MintY": clock.t})
	require.Len(t, quotes, 2)
	assert.Equal(t, "MintY", quotes["MintY"].Mint)
}

func TestChainFallsThroughToNextSource(t *testing.T) {
	first := &scripted{results: []Result{failed(OutcomeNotFound, errors.New("no pool"))}}
	second := &scripted{results: []Result{{Price: 2, Outcome: OutcomeOK}}}

	res := Chain{first, second}.FetchPrice(context.Background(), mintX, time.Time{})
	assert.Equal(t, OutcomeOK, res.Outcome)
	assert.Equal(t, 2.0, res.Price)

	third := &scripted{results: []Result{failed(OutcomeRateLimited, errors.New("HTTP 429"))}}
	res = Chain{third, first}.FetchPrice(context.Background(), mintX, time.Time{})
	assert.Equal(t, OutcomeRateLimited, res.Outcome, "transient failure keeps the chain retryable")
}

func TestDexScreenerPicksDeepestSolPair(t *testing.T) {
	wsol := parser.WSOLMint
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/latest/dex/tokens/"+mintX, r.URL.Path)
		w.Write([]byte(`{"pairs":[
			{"chainId":"solana","priceNative":"0.002","baseToken":{"address":"` + mintX + `"},"quoteToken":{"address":"` + wsol + `"},"liquidity":{"usd":1000}},
			{"chainId":"solana","priceNative":"0.003","baseToken":{"address":"` + mintX + `"},"quoteToken":{"address":"` + wsol + `"},"liquidity":{"usd":90000}},
			{"chainId":"solana","priceNative":"0.5","baseToken":{"address":"` + mintX + `"},"quoteToken":{"address":"USDC"},"liquidity":{"usd":500000}},
			{"chainId":"ethereum","priceNative":"9","baseToken":{"address":"` + mintX + `"},"quoteToken":{"address":"` + wsol + `"},"liquidity":{"usd":900000}}
		]}`))
	}))
	defer srv.Close()

	res := NewDexScreener(srv.URL, srv.Client()).FetchPrice(context.Background(), mintX, time.Time{})
	require.Equal(t, OutcomeOK, res.Outcome)
	assert.Equal(t, 0.003, res.Price)
	assert.Equal(t, 90000.0, res.LiquidityUSD)
}

func TestDexScreenerStatusClassification(t *testing.T) {
	status := http.StatusTooManyRequests
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()
	d := NewDexScreener(srv.URL, srv.Client())

	assert.Equal(t, OutcomeRateLimited, d.FetchPrice(context.Background(), mintX, time.Time{}).Outcome)
	status = http.StatusServiceUnavailable
	assert.Equal(t, OutcomeUnavailable, d.FetchPrice(context.Background(), mintX, time.Time{}).Outcome)
	status = http.StatusUnauthorized
	assert.Equal(t, OutcomeFatal, d.FetchPrice(context.Background(), mintX, time.Time{}).Outcome)
}

func TestDexScreenerWithoutPairsIsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"pairs":null}`))
	}))
	defer srv.Close()

	res := NewDexScreener(srv.URL, srv.Client()).FetchPrice(context.Background(), mintX, time.Time{})
	assert.Equal(t, OutcomeNotFound, res.Outcome)
}

func TestJupiterQuoteIntoSol(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		q := r.URL.Query()
		assert.Equal(t, mintX, q.Get("inputMint"))
		assert.Equal(t, parser.WSOLMint, q.Get("outputMint"))
		if q.Get("amount") != "1000000" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"outAmount":"2500000"}`))
	}))
	defer srv.Close()

	res := NewJupiter(srv.URL, "secret", srv.Client()).FetchPrice(context.Background(), mintX, time.Time{})
	require.Equal(t, OutcomeOK, res.Outcome)
	assert.InDelta(t, 0.0025, res.Price, 1e-12)
	assert.Equal(t, "secret", gotKey)
}

func TestJupiterWithoutRouteIsNotFound(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"Could not find any route"}`))
	}))
	defer srv.Close()

	res := NewJupiter(srv.URL, "", srv.Client()).FetchPrice(context.Background(), mintX, time.Time{})
	assert.Equal(t, OutcomeNotFound, res.Outcome)
	assert.Equal(t, len(quoteDecimals), calls)
	assert.True(t, strings.Contains(res.Err.Error(), "400"))
}
