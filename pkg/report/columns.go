package report

import (
	"fmt"
	"strconv"
	"time"

	"github.com/combat-report/pkg/db"
)

// Columns of the batch ranking, shared by the CSV, XLSX and console tables.
var Columns = []string{
	"rank",
	"wallet_address",
	"token_count",
	"win_rate",
	"total_profit",
	"median_hold_duration",
	"stability",
	"degen_hunter",
	"diamond_hands",
	"composite_score",
	"composite_rating",
	"confidence_level",
	"profit_factor",
	"quick_flip_rate",
	"best_role",
	"dust_tokens",
	"insufficient_data",
}

// Row renders one ranked report as strings in Columns order.
func Row(rank int, r *db.Report) []string {
	p := r.Profile
	return []string{
		strconv.Itoa(rank),
		r.Wallet,
		strconv.Itoa(r.TokenCount),
		ftoa(p.WinRate, 4),
		ftoa(p.TotalProfit, 4),
		Duration(p.MedianHold),
		ftoa(p.Dimensions.Stability, 1),
		ftoa(p.Dimensions.DegenHunter, 1),
		ftoa(p.Dimensions.DiamondHands, 1),
		ftoa(p.Composite.Score, 1),
		p.Composite.Tier,
		string(p.Confidence),
		ftoa(p.ProfitFactor, 2),
		ftoa(p.QuickFlipRate, 4),
		p.BestRole,
		strconv.Itoa(r.DustTokens),
		strconv.FormatBool(r.InsufficientData),
	}
}

func ftoa(f float64, prec int) string {
	return strconv.FormatFloat(f, 'f', prec, 64)
}

// Duration prints holds the way traders read them: 45s, 12m, 3h20m, 2d5h.
func Duration(d time.Duration) string {
	switch {
	case d <= 0:
		return "-"
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		h := int(d.Hours())
		m := int(d.Minutes()) - h*60
		if m == 0 {
			return fmt.Sprintf("%dh", h)
		}
		return fmt.Sprintf("%dh%dm", h, m)
	default:
		days := int(d.Hours()) / 24
		h := int(d.Hours()) - days*24
		if h == 0 {
			return fmt.Sprintf("%dd", days)
		}
		return fmt.Sprintf("%dd%dh", days, h)
	}
}

func abbrev(a string) string {
	if len(a) > 12 {
		return a[:6] + "..." + a[len(a)-4:]
	}
	return a
}
