package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/combat-report/pkg/db"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FAFAFA")).Background(lipgloss.Color("#7D56F4")).Padding(0, 2)
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#7D56F4")).Padding(0, 1)
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Width(16)

	green  = color.New(color.FgGreen, color.Bold)
	red    = color.New(color.FgRed, color.Bold)
	yellow = color.New(color.FgYellow)
	cyan   = color.New(color.FgCyan, color.Bold)
)

const barWidth = 20

// PrintReport writes the single-wallet combat report.
func PrintReport(w io.Writer, r *db.Report) {
	p := r.Profile
	fmt.Fprintln(w, titleStyle.Render("⚔️  COMBAT REPORT  "+r.Wallet))

	if r.InsufficientData {
		yellow.Fprintf(w, "\n⚠️  insufficient data: %d transactions, no token positions\n\n", r.TransactionCount)
		return
	}

	summary := strings.Join([]string{
		line("Tokens", fmt.Sprintf("%d (+%d dust)", r.TokenCount, r.DustTokens)),
		line("Round trips", fmt.Sprint(p.RoundTrips)),
		line("Win rate", pct(p.WinRate)),
		line("Total profit", signed(p.TotalProfit)+" SOL"),
		line("Profit factor", fmt.Sprintf("%.2f", p.ProfitFactor)),
		line("Median hold", Duration(p.MedianHold)),
		line("Quick flips", pct(p.QuickFlipRate)),
		line("Price coverage", pct(p.PriceCoverage)),
		line("Confidence", confidence(p.Confidence)),
	}, "\n")

	dims := strings.Join([]string{
		line("Stability", bar(p.Dimensions.Stability)),
		line("Degen hunter", bar(p.Dimensions.DegenHunter)),
		line("Diamond hands", bar(p.Dimensions.DiamondHands)),
		line("Composite", fmt.Sprintf("%.1f  tier %s", p.Composite.Score, cyan.Sprint(p.Composite.Tier))),
		line("Best role", p.BestRole),
	}, "\n")

	fmt.Fprintln(w, lipgloss.JoinHorizontal(lipgloss.Top, boxStyle.Render(summary), " ", boxStyle.Render(dims)))

	if len(r.Tokens) > 0 {
		t := tablewriter.NewWriter(w)
		t.SetHeader([]string{"Mint", "Cost", "Proceeds", "Profit", "ROI", "Exit", "Hold", "Quote", "Flags"})
		t.SetAutoFormatHeaders(false)
		t.SetAutoWrapText(false)
		t.SetBorder(false)
		t.SetColumnAlignment([]int{
			tablewriter.ALIGN_LEFT, tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT,
			tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT,
		})
		for _, tok := range r.Tokens {
			t.Append([]string{
				abbrev(tok.Mint),
				fmt.Sprintf("%.4f", tok.Cost),
				fmt.Sprintf("%.4f", tok.Proceeds),
				signed(tok.Profit),
				pct(tok.ROI),
				pct(tok.ExitPct),
				Duration(tok.Hold),
				string(tok.Quote),
				flags(tok),
			})
		}
		t.Render()
	}

	if len(r.Anomalies) > 0 {
		yellow.Fprintf(w, "\n%d anomalies recorded:\n", len(r.Anomalies))
		for _, a := range r.Anomalies {
			ref := a.Signature
			if ref == "" {
				ref = a.Mint
			}
			fmt.Fprintf(w, "  • %-20s %-16s %s\n", a.Kind, abbrev(ref), a.Detail)
		}
	}
	fmt.Fprintln(w)
}

// PrintRanking writes the batch summary table.
func PrintRanking(w io.Writer, run db.BatchRun, reports []*db.Report, failures []db.WalletFailure) {
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("🏆 BATCH %s", run.ID)))
	fmt.Fprintf(w, "%s done  %s failed  %s rejected  %s skipped\n\n",
		green.Sprint(run.Done), red.Sprint(run.Failed), yellow.Sprint(run.Rejected), yellow.Sprint(run.Skipped))

	if len(reports) > 0 {
		t := tablewriter.NewWriter(w)
		t.SetHeader([]string{"#", "Wallet", "Tokens", "Win", "Profit", "Hold", "Stab", "Degen", "Diamond", "Score", "Tier", "Conf"})
		t.SetAutoFormatHeaders(false)
		t.SetAutoWrapText(false)
		for i, r := range reports {
			p := r.Profile
			t.Append([]string{
				fmt.Sprint(i + 1),
				r.Wallet,
				fmt.Sprint(r.TokenCount),
				pct(p.WinRate),
				signed(p.TotalProfit),
				Duration(p.MedianHold),
				fmt.Sprintf("%.0f", p.Dimensions.Stability),
				fmt.Sprintf("%.0f", p.Dimensions.DegenHunter),
				fmt.Sprintf("%.0f", p.Dimensions.DiamondHands),
				fmt.Sprintf("%.1f", p.Composite.Score),
				p.Composite.Tier,
				string(p.Confidence),
			})
		}
		t.Render()
	}

	if len(failures) > 0 {
		red.Fprintf(w, "\n%d wallets failed:\n", len(failures))
		for _, f := range failures {
			kind := "fatal"
			if f.Transient {
				kind = "transient"
			}
			fmt.Fprintf(w, "  • %s [%s] %s\n", f.Wallet, kind, f.Reason)
		}
	}
	fmt.Fprintln(w)
}

func line(label, value string) string {
	return labelStyle.Render(label) + value
}

func bar(score float64) string {
	n := int(score / 100 * barWidth)
	if n < 0 {
		n = 0
	}
	if n > barWidth {
		n = barWidth
	}
	return strings.Repeat("█", n) + strings.Repeat("░", barWidth-n) + fmt.Sprintf(" %5.1f", score)
}

func pct(f float64) string { return fmt.Sprintf("%.1f%%", f*100) }

func signed(f float64) string {
	s := fmt.Sprintf("%+.4f", f)
	switch {
	case f > 0:
		return green.Sprint(s)
	case f < 0:
		return red.Sprint(s)
	default:
		return s
	}
}

func confidence(c db.ConfidenceLevel) string {
	switch c {
	case db.ConfidenceHigh:
		return green.Sprint(c)
	case db.ConfidenceMedium:
		return yellow.Sprint(c)
	default:
		return red.Sprint(c)
	}
}

func flags(t db.TokenBreakdown) string {
	var f []string
	if t.Win {
		f = append(f, "win")
	}
	if !t.RoundTrip {
		f = append(f, "open")
	}
	if t.HighRisk {
		f = append(f, "high-risk")
	}
	if t.LowConfidence {
		f = append(f, "low-conf")
	}
	if t.Dust {
		f = append(f, "dust")
	}
	return strings.Join(f, ",")
}
