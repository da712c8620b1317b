package price

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/combat-report/pkg/db"
	"github.com/combat-report/pkg/parser"
)

type Options struct {
	Timeout    time.Duration // per request
	Retries    int           // retries after the first attempt
	Backoff    time.Duration // first retry delay, doubled each time
	CacheTTL   time.Duration
	StaleAfter time.Duration // quotes further than this from the requested time are stale
}

func DefaultOptions() Options {
	return Options{
		Timeout:    10 * time.Second,
		Retries:    3,
		Backoff:    time.Second,
		CacheTTL:   3 * time.Minute,
		StaleAfter: 10 * time.Minute,
	}
}

type cacheEntry struct {
	res    Result
	stored time.Time
}

// Fetcher resolves mint prices for one analysis run. The cache lives and
// dies with the Fetcher; never share one across wallets.
type Fetcher struct {
	src  Source
	opts Options

	now   func() time.Time
	sleep func(context.Context, time.Duration) error

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type FetcherOption func(*Fetcher)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) FetcherOption {
	return func(f *Fetcher) { f.now = now }
}

// WithSleep replaces the backoff sleep, for tests.
func WithSleep(sleep func(context.Context, time.Duration) error) FetcherOption {
	return func(f *Fetcher) { f.sleep = sleep }
}

func NewFetcher(src Source, opts Options, fopts ...FetcherOption) *Fetcher {
	def := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.Backoff <= 0 {
		opts.Backoff = def.Backoff
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = def.StaleAfter
	}
	f := &Fetcher{
		src:   src,
		opts:  opts,
		now:   time.Now,
		sleep: sleepCtx,
		cache: map[string]cacheEntry{},
	}
	for _, o := range fopts {
		o(f)
	}
	return f
}

// GetPrice never fails: after exhausted retries or a permanent failure it
// returns a quote with confidence "missing" and the reason attached.
func (f *Fetcher) GetPrice(ctx context.Context, mint string, at time.Time) db.PriceQuote {
	if mint == parser.WSOLMint {
		now := f.now()
		return db.PriceQuote{Mint: mint, Price: 1, At: at, FetchedAt: now, Confidence: db.QuoteFresh, Source: "native"}
	}

	if e, ok := f.cached(mint); ok {
		return f.quote(mint, at, e.res, e.stored, "cache")
	}

	res := f.fetchWithRetry(ctx, mint, at)
	fetched := f.now()
	if res.Outcome != OutcomeOK {
		reason := res.Outcome.String()
		ev := log.Debug()
		if res.Outcome.Transient() {
			ev = log.Warn()
		}
		ev.Str("mint", abbrev(mint)).Str("reason", reason).Err(res.Err).Msg("price missing")
		return db.PriceQuote{
			Mint:       mint,
			At:         at,
			FetchedAt:  fetched,
			Confidence: db.QuoteMissing,
			Source:     f.src.Name(),
			Reason:     reason,
		}
	}

	f.mu.Lock()
	f.cache[mint] = cacheEntry{res: res, stored: fetched}
	f.mu.Unlock()
	return f.quote(mint, at, res, fetched, f.src.Name())
}

// GetPrices resolves every mint in at, in mint order.
func (f *Fetcher) GetPrices(ctx context.Context, at map[string]time.Time) map[string]db.PriceQuote {
	mints := make([]string, 0, len(at))
	for m := range at {
		mints = append(mints, m)
	}
	sort.Strings(mints)

	out := make(map[string]db.PriceQuote, len(mints))
	for _, m := range mints {
		out[m] = f.GetPrice(ctx, m, at[m])
	}
	return out
}

func (f *Fetcher) cached(mint string) (cacheEntry, bool) {
	if f.opts.CacheTTL <= 0 {
		return cacheEntry{}, false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.cache[mint]
	if !ok || f.now().Sub(e.stored) >= f.opts.CacheTTL {
		return cacheEntry{}, false
	}
	return e, true
}

func (f *Fetcher) quote(mint string, at time.Time, res Result, fetched time.Time, source string) db.PriceQuote {
	observed := res.At
	if observed.IsZero() {
		observed = fetched
	}
	if at.IsZero() {
		at = fetched
	}
	conf := db.QuoteFresh
	if gap := observed.Sub(at); gap > f.opts.StaleAfter || gap < -f.opts.StaleAfter {
		conf = db.QuoteStale
	}
	return db.PriceQuote{
		Mint:         mint,
		Price:        res.Price,
		LiquidityUSD: res.LiquidityUSD,
		At:           at,
		FetchedAt:    fetched,
		Confidence:   conf,
		Source:       source,
	}
}

func (f *Fetcher) fetchWithRetry(ctx context.Context, mint string, at time.Time) Result {
	var res Result
	for attempt := 0; attempt <= f.opts.Retries; attempt++ {
		if attempt > 0 {
			delay := f.opts.Backoff * time.Duration(1<<(attempt-1))
			log.Debug().Str("mint", abbrev(mint)).Int("attempt", attempt).
				Str("after", res.Outcome.String()).Dur("backoff", delay).Msg("retrying price")
			if err := f.sleep(ctx, delay); err != nil {
				return failed(OutcomeTimeout, err)
			}
		}

		reqCtx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
		res = f.src.FetchPrice(reqCtx, mint, at)
		expired := errors.Is(reqCtx.Err(), context.DeadlineExceeded)
		cancel()

		if res.Outcome != OutcomeOK && expired {
			res.Outcome = OutcomeTimeout
		}
		if ctx.Err() != nil {
			return failed(OutcomeTimeout, ctx.Err())
		}
		if !res.Outcome.Transient() {
			return res
		}
	}
	return res
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func abbrev(s string) string {
	if len(s) > 12 {
		return s[:6] + "..." + s[len(s)-4:]
	}
	return s
}
