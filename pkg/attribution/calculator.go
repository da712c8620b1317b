package attribution

import (
	"fmt"
	"iter"
	"math"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/combat-report/pkg/db"
)

const epsilon = 1e-9

// Calculator keeps the per-mint positions of one wallet. It is not safe for
// concurrent use; one Calculator serves one analysis.
type Calculator struct {
	positions map[string]*db.TokenPosition
	records   []db.AttributionRecord
	anomalies []db.Anomaly
}

// Result is the final state after all events were applied.
type Result struct {
	Positions map[string]*db.TokenPosition
	Records   []db.AttributionRecord
	Anomalies []db.Anomaly
	Events    int
}

func New() *Calculator {
	return &Calculator{positions: map[string]*db.TokenPosition{}}
}

// Run applies every event in order and returns the resulting positions.
func (c *Calculator) Run(events iter.Seq[db.SwapEvent]) *Result {
	n := 0
	for ev := range events {
		c.Apply(ev)
		n++
	}
	return &Result{Positions: c.positions, Records: c.records, Anomalies: c.anomalies, Events: n}
}

// Apply folds one swap event into the positions.
func (c *Calculator) Apply(ev db.SwapEvent) {
	buys := map[string]float64{}
	sells := map[string]float64{}
	for mint, amt := range ev.Tokens {
		switch {
		case amt > epsilon:
			buys[mint] = amt
		case amt < -epsilon:
			sells[mint] = -amt
		}
	}

	// The native leg belongs to one side only: spending SOL pays for the
	// buys, receiving SOL pays for the sells. Each side gets its own ratio.
	var buyShares, sellShares map[string]float64
	if ev.NativeDelta < -epsilon && len(buys) > 0 {
		buyShares = Split(-ev.NativeDelta, buys)
		c.records = append(c.records, newRecord(ev, db.SideBuy, -ev.NativeDelta, buys, buyShares))
	}
	if ev.NativeDelta > epsilon && len(sells) > 0 {
		sellShares = Split(ev.NativeDelta, sells)
		c.records = append(c.records, newRecord(ev, db.SideSell, ev.NativeDelta, sells, sellShares))
	}

	for _, mint := range ev.Mints() {
		pos := c.position(mint)
		pos.LastActivity = ev.Timestamp

		if amt, ok := buys[mint]; ok {
			cost, priced := buyShares[mint]
			if !priced {
				c.unpriced(pos, ev, db.SideBuy)
			}
			c.buy(pos, amt, cost, ev)
		}
		if amt, ok := sells[mint]; ok {
			proceeds, priced := sellShares[mint]
			if !priced {
				c.unpriced(pos, ev, db.SideSell)
			}
			c.sell(pos, amt, proceeds, ev)
		}
	}
}

func (c *Calculator) position(mint string) *db.TokenPosition {
	pos, ok := c.positions[mint]
	if !ok {
		pos = &db.TokenPosition{Mint: mint}
		c.positions[mint] = pos
	}
	return pos
}

func (c *Calculator) buy(pos *db.TokenPosition, amount, cost float64, ev db.SwapEvent) {
	// averaging down: the wallet kept (and grew) the position below entry
	if pos.Held > epsilon && cost > 0 {
		observeDrawdown(pos, cost/amount)
	}

	pos.Bought += amount
	pos.Cost += cost
	pos.Held += amount
	pos.CostBasis += cost
	pos.BuyCount++
	if pos.FirstBuy.IsZero() {
		pos.FirstBuy = ev.Timestamp
	}
}

func (c *Calculator) sell(pos *db.TokenPosition, amount, proceeds float64, ev db.SwapEvent) {
	pos.Sold += amount
	pos.Proceeds += proceeds
	pos.SellCount++
	pos.LastSell = ev.Timestamp

	if pos.Held <= epsilon {
		// nothing tracked to sell against: zero basis
		pos.Realized += proceeds
		pos.Held = 0
		pos.CostBasis = 0
		c.flagOversold(pos, ev, fmt.Sprintf("sold %.6g with no tracked position", amount))
		return
	}

	pos.RoundTrips++

	if amount < pos.Held-epsilon {
		fraction := amount / pos.Held
		removed := pos.CostBasis * fraction
		if proceeds > 0 {
			observeDrawdown(pos, proceeds/amount)
		}
		pos.Realized += proceeds - removed
		pos.Held -= amount
		pos.CostBasis -= removed
		return
	}

	pos.Realized += proceeds - pos.CostBasis
	if amount > pos.Held*(1+1e-6)+epsilon {
		c.flagOversold(pos, ev, fmt.Sprintf("sold %.6g but only %.6g tracked", amount, pos.Held))
	}
	pos.Held = 0
	pos.CostBasis = 0
}

// observeDrawdown records how far price sat below entry at an event after
// which the position is still open.
func observeDrawdown(pos *db.TokenPosition, execPrice float64) {
	entry := pos.AvgEntry()
	if entry <= 0 || execPrice >= entry {
		return
	}
	dd := 1 - execPrice/entry
	if dd > pos.MaxDrawdown {
		pos.MaxDrawdown = math.Min(dd, 1)
	}
}

func (c *Calculator) flagOversold(pos *db.TokenPosition, ev db.SwapEvent, detail string) {
	pos.LowConfidence = true
	c.anomalies = append(c.anomalies, db.Anomaly{
		Kind:      db.AnomalyOversold,
		Signature: ev.Signature,
		Mint:      pos.Mint,
		Detail:    detail,
	})
	log.Debug().Str("mint", pos.Mint).Str("sig", ev.Signature).Msg(detail)
}

func (c *Calculator) unpriced(pos *db.TokenPosition, ev db.SwapEvent, side db.Side) {
	pos.UnpricedLegs++
	c.anomalies = append(c.anomalies, db.Anomaly{
		Kind:      db.AnomalyUnpricedLeg,
		Signature: ev.Signature,
		Mint:      pos.Mint,
		Detail:    fmt.Sprintf("%s leg without native counter-leg", side),
	})
}

// Split divides native across mints in proportion to their token amounts.
// The last mint (lexical order) absorbs rounding so shares sum to native.
func Split(native float64, amounts map[string]float64) map[string]float64 {
	mints := make([]string, 0, len(amounts))
	total := 0.0
	for m, a := range amounts {
		if a <= 0 {
			continue
		}
		mints = append(mints, m)
		total += a
	}
	if total <= 0 || len(mints) == 0 {
		return nil
	}
	sort.Strings(mints)

	shares := make(map[string]float64, len(mints))
	assigned := 0.0
	for i, m := range mints {
		if i == len(mints)-1 {
			shares[m] = native - assigned
			break
		}
		s := native * (amounts[m] / total)
		shares[m] = s
		assigned += s
	}
	return shares
}

func newRecord(ev db.SwapEvent, side db.Side, native float64, amounts, shares map[string]float64) db.AttributionRecord {
	return db.AttributionRecord{
		Signature:    ev.Signature,
		Timestamp:    ev.Timestamp,
		Side:         side,
		NativeAmount: native,
		TokenAmounts: amounts,
		Shares:       shares,
	}
}

// Sorted returns positions ordered by mint.
func (r *Result) Sorted() []*db.TokenPosition {
	out := make([]*db.TokenPosition, 0, len(r.Positions))
	for _, p := range r.Positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Mint < out[j].Mint })
	return out
}

// RecordsFor returns the attribution records that touched mint.
func (r *Result) RecordsFor(mint string) []db.AttributionRecord {
	var out []db.AttributionRecord
	for _, rec := range r.Records {
		if _, ok := rec.Shares[mint]; ok {
			out = append(out, rec)
		}
	}
	return out
}
