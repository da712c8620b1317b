package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"

	"github.com/combat-report/pkg/db"
)

// WriteCSV writes the ranking with a header row. reports must already be
// ranked.
func WriteCSV(w io.Writer, reports []*db.Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return err
	}
	for i, r := range reports {
		if err := cw.Write(Row(i+1, r)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// FileName is the export name for a run started at t.
func FileName(dir, prefix string, t time.Time, ext string) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s.%s", prefix, t.Format("20060102_150405"), ext))
}

func SaveCSV(path string, reports []*db.Report) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("save csv: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("save csv: %w", err)
	}
	if err := WriteCSV(f, reports); err != nil {
		f.Close()
		return fmt.Errorf("save csv: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("save csv: %w", err)
	}
	log.Info().Str("file", path).Int("rows", len(reports)).Msg("💾 csv saved")
	return nil
}

const (
	sheetRanking  = "Ranking"
	sheetTokens   = "Tokens"
	sheetFailures = "Failures"
)

// SaveXLSX writes a workbook with the ranking, every ranked wallet's
// per-token breakdown, and the failed wallets.
func SaveXLSX(path string, reports []*db.Report, failures []db.WalletFailure) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("save xlsx: %w", err)
	}
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetRanking); err != nil {
		return fmt.Errorf("save xlsx: %w", err)
	}
	for _, s := range []string{sheetTokens, sheetFailures} {
		if _, err := f.NewSheet(s); err != nil {
			return fmt.Errorf("save xlsx: %w", err)
		}
	}

	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"DDEBF7"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("save xlsx: %w", err)
	}

	ranking := [][]interface{}{toAny(Columns)}
	for i, r := range reports {
		ranking = append(ranking, rankingRow(i+1, r))
	}
	tokens := [][]interface{}{{"wallet_address", "mint", "cost", "proceeds", "realized", "unrealized", "profit", "roi", "exit_pct", "hold", "round_trip", "win", "quote", "high_risk", "low_confidence", "dust", "max_drawdown"}}
	for _, r := range reports {
		for _, t := range r.Tokens {
			tokens = append(tokens, []interface{}{
				r.Wallet, t.Mint, t.Cost, t.Proceeds, t.Realized, t.Unrealized, t.Profit, t.ROI, t.ExitPct,
				Duration(t.Hold), t.RoundTrip, t.Win, string(t.Quote), t.HighRisk, t.LowConfidence, t.Dust, t.MaxDrawdown,
			})
		}
	}
	fails := [][]interface{}{{"wallet_address", "reason", "transient"}}
	for _, fl := range failures {
		fails = append(fails, []interface{}{fl.Wallet, fl.Reason, fl.Transient})
	}

	for sheet, rows := range map[string][][]interface{}{sheetRanking: ranking, sheetTokens: tokens, sheetFailures: fails} {
		if err := writeRows(f, sheet, rows, header); err != nil {
			return fmt.Errorf("save xlsx %s: %w", sheet, err)
		}
	}
	if err := f.SetColWidth(sheetRanking, "B", "B", 46); err != nil {
		return fmt.Errorf("save xlsx: %w", err)
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save xlsx: %w", err)
	}
	log.Info().Str("file", path).Int("rows", len(reports)).Msg("💾 xlsx saved")
	return nil
}

// rankingRow keeps numbers numeric so the sheet can be sorted.
func rankingRow(rank int, r *db.Report) []interface{} {
	p := r.Profile
	return []interface{}{
		rank, r.Wallet, r.TokenCount, p.WinRate, p.TotalProfit, Duration(p.MedianHold),
		p.Dimensions.Stability, p.Dimensions.DegenHunter, p.Dimensions.DiamondHands,
		p.Composite.Score, p.Composite.Tier, string(p.Confidence),
		p.ProfitFactor, p.QuickFlipRate, p.BestRole, r.DustTokens, r.InsufficientData,
	}
}

func writeRows(f *excelize.File, sheet string, rows [][]interface{}, headerStyle int) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	if len(rows) == 0 {
		return nil
	}
	last, err := excelize.CoordinatesToCellName(len(rows[0]), 1)
	if err != nil {
		return err
	}
	return f.SetCellStyle(sheet, "A1", last, headerStyle)
}

func toAny(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
