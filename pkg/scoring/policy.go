package scoring

import "time"

// Policy holds every tunable coefficient of the engine. Changing a weight
// changes scores, never the [0,100] range or the direction in which a
// statistic moves its dimension.
type Policy struct {
	// stability
	FreqTargetPerDay  float64 // trades/day that earns the full frequency component
	StabilityFreqW    float64
	StabilityConsistW float64

	// degen hunter
	HighRiskLiquidityUSD float64 // pools shallower than this are high risk
	DegenEntryW          float64
	DegenHitW            float64

	// diamond hands
	HoldBenchmarks    []time.Duration // peer hold-duration distribution, ascending
	DrawdownThreshold float64         // fall below entry that counts as "held through"
	DiamondHoldW      float64
	DiamondDrawdownW  float64

	// composite
	CompositeStabilityW float64
	CompositeDegenW     float64
	CompositeDiamondW   float64
	Tiers               []Tier // descending by MinScore

	// sample-size dampening
	SampleSteps []SampleStep // ascending by MinPositions

	// confidence
	HighCoverage   float64
	MediumCoverage float64

	QuickFlip       time.Duration
	DustCostSOL     float64 // positions that cost less are reported but not scored
	ProfitFactorCap float64
}

type Tier struct {
	Name     string
	MinScore float64
}

type SampleStep struct {
	MinPositions int
	Multiplier   float64
}

func DefaultPolicy() Policy {
	return Policy{
		FreqTargetPerDay:  5,
		StabilityFreqW:    0.4,
		StabilityConsistW: 0.6,

		HighRiskLiquidityUSD: 50_000,
		DegenEntryW:          0.5,
		DegenHitW:            0.5,

		HoldBenchmarks: []time.Duration{
			time.Minute,
			5 * time.Minute,
			15 * time.Minute,
			time.Hour,
			4 * time.Hour,
			12 * time.Hour,
			24 * time.Hour,
			3 * 24 * time.Hour,
			7 * 24 * time.Hour,
			30 * 24 * time.Hour,
		},
		DrawdownThreshold: 0.2,
		DiamondHoldW:      0.6,
		DiamondDrawdownW:  0.4,

		CompositeStabilityW: 0.4,
		CompositeDegenW:     0.3,
		CompositeDiamondW:   0.3,
		Tiers: []Tier{
			{"S", 80},
			{"A", 65},
			{"B", 50},
			{"C", 35},
			{"F", 0},
		},

		SampleSteps: []SampleStep{
			{0, 0.3},
			{5, 0.7},
			{10, 1.0},
		},

		HighCoverage:   0.8,
		MediumCoverage: 0.5,

		QuickFlip:       2 * time.Minute,
		ProfitFactorCap: 99,
	}
}

// TierFor maps a composite score to its letter.
func (p Policy) TierFor(score float64) string {
	for _, t := range p.Tiers {
		if score >= t.MinScore {
			return t.Name
		}
	}
	if n := len(p.Tiers); n > 0 {
		return p.Tiers[n-1].Name
	}
	return ""
}

// SampleMultiplier grows with the number of scored positions.
func (p Policy) SampleMultiplier(n int) float64 {
	m := 1.0
	for _, s := range p.SampleSteps {
		if n >= s.MinPositions {
			m = s.Multiplier
		}
	}
	return m
}
