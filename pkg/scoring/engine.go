package scoring

import (
	"math"
	"sort"
	"time"

	"github.com/combat-report/pkg/db"
)

const heldEpsilon = 1e-9

// Engine turns attributed positions and their quotes into a ScoreProfile.
// It is pure: the same inputs always give the same profile.
type Engine struct {
	policy Policy
}

func NewEngine(p Policy) *Engine {
	return &Engine{policy: p}
}

func (e *Engine) Policy() Policy { return e.policy }

func (e *Engine) isDust(pos *db.TokenPosition) bool {
	return pos.Cost < e.policy.DustCostSOL
}

// NeedsQuote reports whether pos has a balance worth pricing. Closed and
// dust positions are fully described by their realized numbers.
func (e *Engine) NeedsQuote(pos *db.TokenPosition) bool {
	return pos.Held > heldEpsilon && !e.isDust(pos)
}

// Evaluation is the engine output for one wallet.
type Evaluation struct {
	Profile db.ScoreProfile
	Tokens  []db.TokenBreakdown // every position, dust included, ordered by mint
	Scored  int                 // positions that fed the profile
	Dust    int
}

// Evaluate scores a wallet. Open positions without a quote (or with a missing
// one) contribute no unrealized value and lower the confidence level; they
// still count toward the scored total. Closed positions never need a quote.
func (e *Engine) Evaluate(positions []*db.TokenPosition, quotes map[string]db.PriceQuote) Evaluation {
	sorted := append([]*db.TokenPosition(nil), positions...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Mint < sorted[j].Mint })

	var ev Evaluation
	var scored []scoredPosition
	for _, pos := range sorted {
		b := e.breakdown(pos, quotes)
		ev.Tokens = append(ev.Tokens, b)
		if b.Dust {
			ev.Dust++
			continue
		}
		scored = append(scored, scoredPosition{pos: pos, b: b})
	}
	ev.Scored = len(scored)
	ev.Profile = e.profile(scored)
	return ev
}

type scoredPosition struct {
	pos *db.TokenPosition
	b   db.TokenBreakdown
}

func (e *Engine) breakdown(pos *db.TokenPosition, quotes map[string]db.PriceQuote) db.TokenBreakdown {
	q, ok := quotes[pos.Mint]
	hasPrice := ok && !q.Missing()

	unrealized := 0.0
	if hasPrice && pos.Held > heldEpsilon {
		unrealized = pos.Held*q.Price - pos.CostBasis
	}
	profit := pos.Realized + unrealized

	needed := e.NeedsQuote(pos)

	b := db.TokenBreakdown{
		Mint:          pos.Mint,
		Cost:          pos.Cost,
		Proceeds:      pos.Proceeds,
		Realized:      pos.Realized,
		Unrealized:    unrealized,
		Profit:        profit,
		Hold:          pos.HoldDuration(),
		RoundTrip:     pos.HasRoundTrip(),
		HasPrice:      hasPrice,
		Quote:         db.QuoteMissing,
		LowConfidence: pos.LowConfidence,
		Dust:          e.isDust(pos),
		MaxDrawdown:   pos.MaxDrawdown,
		Covered:       (hasPrice || !needed) && !pos.LowConfidence,
	}
	switch {
	case ok:
		b.Quote = q.Confidence
	case !needed:
		b.Quote = db.QuoteNotNeeded
	}
	if pos.Cost > 0 {
		b.ROI = profit / pos.Cost
	}
	if pos.Bought > 0 {
		b.ExitPct = math.Min(1, pos.Sold/pos.Bought)
	}
	b.Win = b.RoundTrip && profit > 0
	b.HighRisk = e.highRisk(q, ok, hasPrice)
	return b
}

// highRisk: a shallow pool, or no pool at all.
func (e *Engine) highRisk(q db.PriceQuote, ok, hasPrice bool) bool {
	if hasPrice {
		return q.LiquidityUSD > 0 && q.LiquidityUSD < e.policy.HighRiskLiquidityUSD
	}
	return ok && q.Reason == "not_found"
}

func (e *Engine) profile(scored []scoredPosition) db.ScoreProfile {
	p := e.policy
	n := len(scored)
	prof := db.ScoreProfile{Confidence: db.ConfidenceLow}
	if n == 0 {
		prof.Composite = db.CompositeRating{Score: 0, Tier: p.TierFor(0)}
		return prof
	}

	var (
		holds               []time.Duration
		sizes               []float64
		winProfits, lossAbs []float64
		wins, quickFlips    int
		priced, highRisk    int
		riskTrips, riskWins int
		heldThroughDrawdown int
		trades              int
		first, last         time.Time
	)

	for _, sp := range scored {
		pos, b := sp.pos, sp.b
		prof.TotalProfit += b.Profit
		trades += pos.BuyCount + pos.SellCount
		if b.Cost > 0 {
			sizes = append(sizes, b.Cost)
		}
		if b.Covered {
			priced++
		}
		if pos.MaxDrawdown >= p.DrawdownThreshold && pos.MaxDrawdown > 0 {
			heldThroughDrawdown++
		}

		start := pos.FirstBuy
		if start.IsZero() {
			start = pos.LastActivity
		}
		if first.IsZero() || (!start.IsZero() && start.Before(first)) {
			first = start
		}
		if pos.LastActivity.After(last) {
			last = pos.LastActivity
		}

		if b.HighRisk {
			highRisk++
		}
		if !b.RoundTrip {
			continue
		}

		prof.RoundTrips++
		holds = append(holds, b.Hold)
		if b.Hold < p.QuickFlip {
			quickFlips++
		}
		switch {
		case b.Profit > 0:
			wins++
			winProfits = append(winProfits, b.Profit)
		case b.Profit < 0:
			lossAbs = append(lossAbs, -b.Profit)
		}
		if b.HighRisk {
			riskTrips++
			if b.Profit > 0 {
				riskWins++
			}
		}
	}

	prof.WinRate = safeRatio(wins, prof.RoundTrips)
	prof.MedianHold = medianDuration(holds)
	prof.QuickFlipRate = safeRatio(quickFlips, prof.RoundTrips)
	prof.ProfitFactor = e.profitFactor(winProfits, lossAbs)
	prof.PriceCoverage = safeRatio(priced, n)
	prof.Confidence = e.confidence(prof.PriceCoverage)

	days := 1.0
	if !first.IsZero() && last.After(first) {
		days = math.Max(1, last.Sub(first).Hours()/24)
	}

	in := DimensionInputs{
		TradesPerDay:     float64(trades) / days,
		SizeCV:           buildSizePattern(sizes).CV(),
		HighRiskRate:     safeRatio(highRisk, n),
		HighRiskHitRate:  safeRatio(riskWins, riskTrips),
		AvgHold:          avgDuration(holds),
		DrawdownHeldRate: safeRatio(heldThroughDrawdown, n),
		ScoredPositions:  n,
	}
	prof.Dimensions = e.Dimensions(in)
	prof.Composite = e.Composite(prof.Dimensions)
	prof.BestRole = bestRole(prof.Dimensions)
	return prof
}

// DimensionInputs are the wallet statistics each dimension is a function of.
type DimensionInputs struct {
	TradesPerDay     float64
	SizeCV           float64 // coefficient of variation of position sizes
	HighRiskRate     float64 // share of positions entered in high-risk mints
	HighRiskHitRate  float64 // share of high-risk round trips that won
	AvgHold          time.Duration
	DrawdownHeldRate float64 // share of positions kept through a drawdown
	ScoredPositions  int
}

// Dimensions computes the three scores in [0,100]. Each is non-decreasing
// in its own statistics and in ScoredPositions.
func (e *Engine) Dimensions(in DimensionInputs) db.DimensionScores {
	p := e.policy
	mult := p.SampleMultiplier(in.ScoredPositions)

	freq := 0.0
	if p.FreqTargetPerDay > 0 {
		freq = clamp(in.TradesPerDay/p.FreqTargetPerDay, 0, 1)
	}
	consistency := 1 / (1 + math.Max(0, in.SizeCV))
	stability := 100 * (p.StabilityFreqW*freq + p.StabilityConsistW*consistency)

	degen := 100 * (p.DegenEntryW*clamp(in.HighRiskRate, 0, 1) + p.DegenHitW*clamp(in.HighRiskHitRate, 0, 1))

	hold := percentileOf(in.AvgHold, p.HoldBenchmarks)
	diamond := 100 * (p.DiamondHoldW*hold + p.DiamondDrawdownW*clamp(in.DrawdownHeldRate, 0, 1))

	return db.DimensionScores{
		Stability:    clamp(stability*mult, 0, 100),
		DegenHunter:  clamp(degen*mult, 0, 100),
		DiamondHands: clamp(diamond*mult, 0, 100),
	}
}

// Composite is the fixed weighted mean of the three dimensions, tiered.
func (e *Engine) Composite(d db.DimensionScores) db.CompositeRating {
	p := e.policy
	wsum := p.CompositeStabilityW + p.CompositeDegenW + p.CompositeDiamondW
	score := 0.0
	if wsum > 0 {
		score = (p.CompositeStabilityW*d.Stability + p.CompositeDegenW*d.DegenHunter + p.CompositeDiamondW*d.DiamondHands) / wsum
	}
	score = clamp(score, 0, 100)
	return db.CompositeRating{Score: score, Tier: p.TierFor(score)}
}

func (e *Engine) confidence(coverage float64) db.ConfidenceLevel {
	switch {
	case coverage >= e.policy.HighCoverage:
		return db.ConfidenceHigh
	case coverage >= e.policy.MediumCoverage:
		return db.ConfidenceMedium
	default:
		return db.ConfidenceLow
	}
}

func (e *Engine) profitFactor(wins, losses []float64) float64 {
	if len(wins) == 0 {
		return 0
	}
	if len(losses) == 0 {
		return e.policy.ProfitFactorCap
	}
	return math.Min(e.policy.ProfitFactorCap, avg(wins)/avg(losses))
}

func bestRole(d db.DimensionScores) string {
	role, best := "stability", d.Stability
	if d.DegenHunter > best {
		role, best = "degen_hunter", d.DegenHunter
	}
	if d.DiamondHands > best {
		role, best = "diamond_hands", d.DiamondHands
	}
	if best <= 0 {
		return ""
	}
	return role
}
