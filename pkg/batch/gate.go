package batch

import (
	"fmt"

	"github.com/combat-report/pkg/db"
)

// ScoreRule rejects a wallet whose composite score is below MaxScore once it
// has traded at least MinTokens tokens.
type ScoreRule struct {
	MaxScore  float64
	MinTokens int
}

// Gate decides which finished reports are good enough to keep. Rejected
// wallets are blacklisted.
type Gate struct {
	MinTokens     int
	MinConfidence db.ConfidenceLevel // "" accepts any level
	ScoreRules    []ScoreRule
}

func DefaultGate() Gate {
	return Gate{
		MinTokens: 1,
		ScoreRules: []ScoreRule{
			{MaxScore: 45, MinTokens: 10},
			{MaxScore: 20, MinTokens: 5},
		},
	}
}

// Check returns the rejection reason, or "" when the report passes.
func (g Gate) Check(r *db.Report) string {
	if r.InsufficientData {
		return "insufficient data"
	}
	if r.TokenCount < g.MinTokens {
		return fmt.Sprintf("%d tokens < %d", r.TokenCount, g.MinTokens)
	}
	if g.MinConfidence != "" && r.Profile.Confidence.Rank() < g.MinConfidence.Rank() {
		return fmt.Sprintf("confidence %s < %s", r.Profile.Confidence, g.MinConfidence)
	}
	score := r.Profile.Composite.Score
	for _, rule := range g.ScoreRules {
		if r.TokenCount >= rule.MinTokens && score < rule.MaxScore {
			return fmt.Sprintf("score %.1f < %.0f with %d tokens", score, rule.MaxScore, r.TokenCount)
		}
	}
	return ""
}
