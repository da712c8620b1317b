package analyzer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/combat-report/pkg/attribution"
	"github.com/combat-report/pkg/db"
	"github.com/combat-report/pkg/parser"
	"github.com/combat-report/pkg/price"
	"github.com/combat-report/pkg/scoring"
)

// ErrNoTransactions fails a wallet whose history came back empty.
var ErrNoTransactions = errors.New("no transactions returned")

// TxSource is the raw-transaction collaborator (scanner.Scanner in production).
type TxSource interface {
	FetchTransactions(ctx context.Context, wallet string) ([]db.Transaction, error)
}

type Options struct {
	Policy      scoring.Policy
	Price       price.Options
	Tolerance   float64 // parser reconciliation tolerance, SOL
	FetcherOpts []price.FetcherOption
	Now         func() time.Time
}

func DefaultOptions() Options {
	return Options{
		Policy:    scoring.DefaultPolicy(),
		Price:     price.DefaultOptions(),
		Tolerance: parser.DefaultTolerance,
	}
}

// Analyzer runs the one-wallet pipeline: fetch, parse, attribute, price,
// score. It holds no per-wallet state and is safe for concurrent use.
type Analyzer struct {
	txs    TxSource
	prices price.Source
	engine *scoring.Engine
	opts   Options
}

// New builds an Analyzer. prices may be nil, in which case every quote is
// missing and reports come back low-confidence.
func New(txs TxSource, prices price.Source, opts Options) *Analyzer {
	if opts.Tolerance <= 0 {
		opts.Tolerance = parser.DefaultTolerance
	}
	if len(opts.Policy.Tiers) == 0 {
		opts.Policy = scoring.DefaultPolicy()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Analyzer{txs: txs, prices: prices, engine: scoring.NewEngine(opts.Policy), opts: opts}
}

// Analyze produces the report for one wallet. Only a failed or empty
// transaction fetch, or the context ending, returns an error; everything
// else degrades into anomalies and a lower confidence level.
func (a *Analyzer) Analyze(ctx context.Context, wallet string) (*db.Report, error) {
	started := a.opts.Now()

	txs, err := a.txs.FetchTransactions(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", abbrev(wallet), err)
	}
	if len(txs) == 0 {
		return nil, fmt.Errorf("fetch %s: %w", abbrev(wallet), ErrNoTransactions)
	}

	var anomalies []db.Anomaly
	p := parser.New(
		parser.WithTolerance(a.opts.Tolerance),
		parser.WithAnomalyHandler(func(an db.Anomaly) { anomalies = append(anomalies, an) }),
	)
	res := attribution.New().Run(p.Events(txs))
	anomalies = append(anomalies, res.Anomalies...)
	positions := res.Sorted()

	quotes := a.quote(ctx, positions)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("analyze %s: %w", abbrev(wallet), err)
	}
	for _, pos := range positions {
		if q, ok := quotes[pos.Mint]; ok && q.Missing() {
			anomalies = append(anomalies, db.Anomaly{
				Kind:   db.AnomalyMissingPrice,
				Mint:   pos.Mint,
				Detail: q.Reason,
			})
		}
	}

	ev := a.engine.Evaluate(positions, quotes)
	for i := range ev.Tokens {
		ev.Tokens[i].Records = res.RecordsFor(ev.Tokens[i].Mint)
	}
	report := &db.Report{
		Wallet:           wallet,
		GeneratedAt:      a.opts.Now(),
		TransactionCount: len(txs),
		SwapCount:        res.Events,
		TokenCount:       ev.Scored,
		DustTokens:       ev.Dust,
		Profile:          ev.Profile,
		Tokens:           ev.Tokens,
		Anomalies:        anomalies,
		InsufficientData: ev.Scored == 0,
	}

	evt := log.Info()
	if report.InsufficientData {
		evt = log.Warn()
	}
	evt.Str("wallet", abbrev(wallet)).
		Int("txs", report.TransactionCount).
		Int("swaps", report.SwapCount).
		Int("tokens", report.TokenCount).
		Int("anomalies", len(anomalies)).
		Str("tier", report.Profile.Composite.Tier).
		Str("confidence", string(report.Profile.Confidence)).
		Dur("took", a.opts.Now().Sub(started)).
		Msg("📊 wallet analyzed")
	return report, nil
}

// quote prices the open, non-dust positions at the current time with a
// fetcher scoped to this call. Closed positions are left out.
func (a *Analyzer) quote(ctx context.Context, positions []*db.TokenPosition) map[string]db.PriceQuote {
	if a.prices == nil {
		return nil
	}
	now := a.opts.Now()
	at := make(map[string]time.Time)
	for _, pos := range positions {
		if a.engine.NeedsQuote(pos) {
			at[pos.Mint] = now
		}
	}
	if len(at) == 0 {
		return nil
	}
	fetcher := price.NewFetcher(a.prices, a.opts.Price, a.opts.FetcherOpts...)
	return fetcher.GetPrices(ctx, at)
}

func abbrev(a string) string {
	if len(a) > 12 {
		return a[:6] + "..." + a[len(a)-4:]
	}
	return a
}
