package parser

import (
	"fmt"
	"iter"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog/log"

	"github.com/combat-report/pkg/db"
)

const (
	// DefaultTolerance is how far (SOL) a one-sided swap may move native
	// balance in the "wrong" direction before it is treated as unreconcilable.
	// Covers base and priority fees.
	DefaultTolerance = 0.001

	zeroEpsilon = 1e-9
)

// WSOLMint is the wrapped-native mint folded into native deltas.
var WSOLMint = solana.WrappedSol.String()

// Parser turns a wallet's raw transactions into swap events.
type Parser struct {
	tolerance float64
	onAnomaly func(db.Anomaly)
}

type Option func(*Parser)

func WithTolerance(sol float64) Option {
	return func(p *Parser) { p.tolerance = sol }
}

// WithAnomalyHandler receives every skipped, unreconcilable transaction.
// It fires once per pass over the sequence.
func WithAnomalyHandler(fn func(db.Anomaly)) Option {
	return func(p *Parser) { p.onAnomaly = fn }
}

func New(opts ...Option) *Parser {
	p := &Parser{tolerance: DefaultTolerance}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// record is every raw record sharing one signature, merged.
type record struct {
	signature string
	timestamp time.Time
	native    float64
	deltas    map[string]float64
	source    string
}

// Events returns the swaps in txs ordered by timestamp, ties broken by
// signature. The sequence is lazy and can be ranged over more than once.
func (p *Parser) Events(txs []db.Transaction) iter.Seq[db.SwapEvent] {
	records := mergeBySignature(txs)
	return func(yield func(db.SwapEvent) bool) {
		for i := range records {
			ev, ok := p.normalize(&records[i])
			if !ok {
				continue
			}
			if !yield(ev) {
				return
			}
		}
	}
}

func mergeBySignature(txs []db.Transaction) []record {
	bySig := map[string]*record{}
	seen := map[string]bool{}
	var order []string

	for _, tx := range txs {
		if tx.Signature == "" {
			continue
		}
		// overlapping pages can repeat a record verbatim
		fp := fingerprint(tx)
		if seen[fp] {
			continue
		}
		seen[fp] = true

		r, ok := bySig[tx.Signature]
		if !ok {
			r = &record{signature: tx.Signature, timestamp: tx.Timestamp, deltas: map[string]float64{}, source: tx.Source}
			bySig[tx.Signature] = r
			order = append(order, tx.Signature)
		}
		if r.timestamp.IsZero() || (!tx.Timestamp.IsZero() && tx.Timestamp.Before(r.timestamp)) {
			r.timestamp = tx.Timestamp
		}
		if r.source == "" {
			r.source = tx.Source
		}
		r.native += tx.NativeDelta
		for _, d := range tx.TokenDeltas {
			r.deltas[d.Mint] += d.Amount
		}
	}

	out := make([]record, 0, len(order))
	for _, sig := range order {
		out = append(out, *bySig[sig])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].timestamp.Equal(out[j].timestamp) {
			return out[i].timestamp.Before(out[j].timestamp)
		}
		return out[i].signature < out[j].signature
	})
	return out
}

func fingerprint(tx db.Transaction) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s|%d|%.12g", tx.Signature, tx.Timestamp.Unix(), tx.NativeDelta)
	deltas := append([]db.TokenDelta(nil), tx.TokenDeltas...)
	sort.Slice(deltas, func(i, j int) bool {
		if deltas[i].Mint != deltas[j].Mint {
			return deltas[i].Mint < deltas[j].Mint
		}
		return deltas[i].Amount < deltas[j].Amount
	})
	for _, d := range deltas {
		fmt.Fprintf(&sb, "|%s:%.12g", d.Mint, d.Amount)
	}
	return sb.String()
}

func (p *Parser) normalize(r *record) (db.SwapEvent, bool) {
	wsol := 0.0
	tokens := map[string]float64{}
	for mint, amt := range r.deltas {
		if mint == WSOLMint {
			wsol += amt
			continue
		}
		if math.Abs(amt) < zeroEpsilon {
			continue
		}
		tokens[mint] = amt
	}

	if len(tokens) == 0 {
		log.Debug().Str("sig", abbrev(r.signature)).Msg("non-swap transaction skipped")
		return db.SwapEvent{}, false
	}

	native := FoldWrapped(r.native, wsol)

	buys, sells := 0, 0
	for _, amt := range tokens {
		if amt > 0 {
			buys++
		} else {
			sells++
		}
	}

	var problem string
	switch {
	case sells == 0 && native > p.tolerance:
		problem = fmt.Sprintf("buy of %d mint(s) credited %.6f SOL", buys, native)
	case buys == 0 && native < -p.tolerance:
		problem = fmt.Sprintf("sell of %d mint(s) debited %.6f SOL", sells, -native)
	}
	if problem != "" {
		a := db.Anomaly{Kind: db.AnomalyUnreconciled, Signature: r.signature, Detail: problem}
		log.Warn().Str("sig", abbrev(r.signature)).Str("detail", problem).Msg("⚠️ parse anomaly, transaction skipped")
		if p.onAnomaly != nil {
			p.onAnomaly(a)
		}
		return db.SwapEvent{}, false
	}

	return db.SwapEvent{
		Signature:   r.signature,
		Timestamp:   r.timestamp,
		NativeDelta: native,
		Tokens:      tokens,
		Source:      r.source,
	}, true
}

// FoldWrapped merges native SOL and WSOL deltas of one transaction.
//
// Same-direction moves are a wrap/unwrap mirror of one another, so the larger
// leg wins. Opposite moves are independent legs and add up.
func FoldWrapped(native, wsol float64) float64 {
	if math.Abs(native) < zeroEpsilon {
		return wsol
	}
	if math.Abs(wsol) < zeroEpsilon {
		return native
	}
	if native*wsol > 0 {
		if math.Abs(native) > math.Abs(wsol) {
			return native
		}
		return wsol
	}
	return native + wsol
}

func abbrev(s string) string {
	if len(s) > 12 {
		return s[:6] + "..." + s[len(s)-4:]
	}
	return s
}
