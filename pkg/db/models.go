package db

import (
	"sort"
	"time"
)

// ---- Raw chain data ----

// TokenDelta is a signed balance change of one mint for the analysed wallet.
type TokenDelta struct {
	Mint   string  `json:"mint"`
	Amount float64 `json:"amount"` // UI units, decimals applied
}

// Transaction is one raw indexer record, already made relative to the wallet.
// Immutable once fetched.
type Transaction struct {
	Signature   string       `json:"signature"`
	Timestamp   time.Time    `json:"timestamp"`
	Wallet      string       `json:"wallet"`
	NativeDelta float64      `json:"native_delta"` // SOL, signed; WSOL stays in TokenDeltas
	TokenDeltas []TokenDelta `json:"token_deltas"`
	Fee         float64      `json:"fee"`    // SOL
	Source      string       `json:"source"` // DEX/program label when the indexer knows it
}

// ---- Parsed swaps ----

// SwapEvent is the normalized view of a single signature: WSOL folded into
// NativeDelta, every remaining mint with a non-zero signed amount.
type SwapEvent struct {
	Signature   string             `json:"signature"`
	Timestamp   time.Time          `json:"timestamp"`
	NativeDelta float64            `json:"native_delta"`
	Tokens      map[string]float64 `json:"tokens"`
	Source      string             `json:"source"`
}

// Mints returns the event's mints in lexical order.
func (e SwapEvent) Mints() []string {
	mints := make([]string, 0, len(e.Tokens))
	for m := range e.Tokens {
		mints = append(mints, m)
	}
	sort.Strings(mints)
	return mints
}

type AnomalyKind string

const (
	AnomalyUnreconciled AnomalyKind = "unreconciled_deltas"
	AnomalyOversold     AnomalyKind = "oversold_position"
	AnomalyUnpricedLeg  AnomalyKind = "unpriced_leg"
	AnomalyMissingPrice AnomalyKind = "missing_price"
)

// Anomaly is a per-transaction or per-token problem that was recorded and skipped.
type Anomaly struct {
	Kind      AnomalyKind `json:"kind"`
	Signature string      `json:"signature,omitempty"`
	Mint      string      `json:"mint,omitempty"`
	Detail    string      `json:"detail"`
}

// ---- Attribution ----

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// AttributionRecord splits one event's native amount across the mints on one
// side of that event, proportionally to token amounts.
type AttributionRecord struct {
	Signature    string             `json:"signature"`
	Timestamp    time.Time          `json:"timestamp"`
	Side         Side               `json:"side"`
	NativeAmount float64            `json:"native_amount"` // absolute SOL moved
	TokenAmounts map[string]float64 `json:"token_amounts"` // absolute token amounts on this side
	Shares       map[string]float64 `json:"shares"`        // mint -> attributed SOL
}

// Total is the sum of attributed shares; equals NativeAmount up to rounding.
func (r AttributionRecord) Total() float64 {
	total := 0.0
	for _, v := range r.Shares {
		total += v
	}
	return total
}

// TokenPosition is the running per-mint state for one wallet.
type TokenPosition struct {
	Mint          string    `json:"mint"`
	Bought        float64   `json:"bought"`         // cumulative tokens bought
	Cost          float64   `json:"cost"`           // cumulative SOL spent
	Sold          float64   `json:"sold"`           // cumulative tokens sold
	Proceeds      float64   `json:"proceeds"`       // cumulative SOL received
	Held          float64   `json:"held"`           // tokens still tracked
	CostBasis     float64   `json:"cost_basis"`     // SOL basis of Held
	Realized      float64   `json:"realized"`
	FirstBuy      time.Time `json:"first_buy"`
	LastSell      time.Time `json:"last_sell"`
	LastActivity  time.Time `json:"last_activity"`
	BuyCount      int       `json:"buy_count"`
	SellCount     int       `json:"sell_count"`
	RoundTrips    int       `json:"round_trips"`    // sells matched against a held position
	MaxDrawdown   float64   `json:"max_drawdown"`   // 0..1, deepest observed fall below entry while still held
	LowConfidence bool      `json:"low_confidence"`
	UnpricedLegs  int       `json:"unpriced_legs"`
}

// AvgEntry is the weighted average SOL cost per token.
func (p *TokenPosition) AvgEntry() float64 {
	if p.Held > 0 && p.CostBasis > 0 {
		return p.CostBasis / p.Held
	}
	if p.Bought > 0 {
		return p.Cost / p.Bought
	}
	return 0
}

func (p *TokenPosition) HasRoundTrip() bool { return p.RoundTrips > 0 }

// HoldDuration is last sell minus first buy, zero without a round trip.
func (p *TokenPosition) HoldDuration() time.Duration {
	if !p.HasRoundTrip() || p.FirstBuy.IsZero() || p.LastSell.Before(p.FirstBuy) {
		return 0
	}
	return p.LastSell.Sub(p.FirstBuy)
}

// ---- Prices ----

type QuoteConfidence string

const (
	QuoteFresh   QuoteConfidence = "fresh"
	QuoteStale   QuoteConfidence = "stale"
	QuoteMissing QuoteConfidence = "missing"

	// QuoteNotNeeded marks a position with nothing left to value.
	QuoteNotNeeded QuoteConfidence = "not_needed"
)

type PriceQuote struct {
	Mint         string          `json:"mint"`
	Price        float64         `json:"price"` // SOL per token
	LiquidityUSD float64         `json:"liquidity_usd"`
	At           time.Time       `json:"at"`
	FetchedAt    time.Time       `json:"fetched_at"`
	Confidence   QuoteConfidence `json:"confidence"`
	Source       string          `json:"source,omitempty"`
	Reason       string          `json:"reason,omitempty"` // why a quote is missing
}

func (q PriceQuote) Missing() bool { return q.Confidence == QuoteMissing || q.Price <= 0 }

// ---- Scores ----

type ConfidenceLevel string

const (
	ConfidenceLow    ConfidenceLevel = "low"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceHigh   ConfidenceLevel = "high"
)

// Rank orders levels: low < medium < high. Unknown values rank below low.
func (c ConfidenceLevel) Rank() int {
	switch c {
	case ConfidenceLow:
		return 1
	case ConfidenceMedium:
		return 2
	case ConfidenceHigh:
		return 3
	default:
		return 0
	}
}

type DimensionScores struct {
	Stability    float64 `json:"stability"`
	DegenHunter  float64 `json:"degen_hunter"`
	DiamondHands float64 `json:"diamond_hands"`
}

type CompositeRating struct {
	Score float64 `json:"score"` // 0..100
	Tier  string  `json:"tier"`  // S, A, B, C, F
}

type ScoreProfile struct {
	WinRate       float64         `json:"win_rate"`
	TotalProfit   float64         `json:"total_profit"` // SOL
	MedianHold    time.Duration   `json:"median_hold"`
	Dimensions    DimensionScores `json:"dimension_scores"`
	Composite     CompositeRating `json:"composite_rating"`
	Confidence    ConfidenceLevel `json:"confidence_level"`
	ProfitFactor  float64         `json:"profit_factor"`
	QuickFlipRate float64         `json:"quick_flip_rate"`
	PriceCoverage float64         `json:"price_coverage"`
	RoundTrips    int             `json:"round_trips"`
	BestRole      string          `json:"best_role"`
}

// ---- Report ----

type TokenBreakdown struct {
	Mint          string          `json:"mint"`
	Cost          float64         `json:"cost"`
	Proceeds      float64         `json:"proceeds"`
	Realized      float64         `json:"realized"`
	Unrealized    float64         `json:"unrealized"`
	Profit        float64         `json:"profit"`
	ROI           float64         `json:"roi"`
	ExitPct       float64         `json:"exit_pct"`
	Hold          time.Duration   `json:"hold"`
	RoundTrip     bool            `json:"round_trip"`
	Win           bool            `json:"win"`
	HasPrice      bool            `json:"has_price"`
	Covered       bool            `json:"covered"` // priced, or nothing left to price
	Quote         QuoteConfidence `json:"quote"`
	HighRisk      bool            `json:"high_risk"`
	LowConfidence bool            `json:"low_confidence"`
	Dust          bool            `json:"dust"`
	MaxDrawdown   float64         `json:"max_drawdown"`

	Records []AttributionRecord `json:"records,omitempty"` // the splits that built this position
}

// Report is the combat report for one wallet.
type Report struct {
	Wallet           string           `json:"wallet_address"`
	GeneratedAt      time.Time        `json:"generated_at"`
	TransactionCount int              `json:"transaction_count"`
	SwapCount        int              `json:"swap_count"`
	TokenCount       int              `json:"token_count"`
	DustTokens       int              `json:"dust_tokens"`
	Profile          ScoreProfile     `json:"profile"`
	Tokens           []TokenBreakdown `json:"tokens"`
	Anomalies        []Anomaly        `json:"anomalies,omitempty"`
	InsufficientData bool             `json:"insufficient_data"`
}

// ---- Persisted batch bookkeeping ----

type BatchRun struct {
	ID         string    `json:"id"`
	Mode       string    `json:"mode"` // "batch","single","watch"
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Total      int       `json:"total"`
	Done       int       `json:"done"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	Rejected   int       `json:"rejected"`
}

type WalletFailure struct {
	RunID     string    `json:"run_id"`
	Wallet    string    `json:"wallet"`
	Reason    string    `json:"reason"`
	Transient bool      `json:"transient"`
	CreatedAt time.Time `json:"created_at"`
}

// StoredReport is a report row as persisted, with its rank inside its run.
type StoredReport struct {
	RunID  string `json:"run_id"`
	Rank   int    `json:"rank"`
	Report Report `json:"report"`
}
