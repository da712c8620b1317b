package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS batch_runs (
    id TEXT PRIMARY KEY,
    mode TEXT NOT NULL DEFAULT 'batch',
    started_at INTEGER NOT NULL,
    finished_at INTEGER DEFAULT 0,
    total INTEGER DEFAULT 0,
    done INTEGER DEFAULT 0,
    failed INTEGER DEFAULT 0,
    skipped INTEGER DEFAULT 0,
    rejected INTEGER DEFAULT 0
);

CREATE TABLE IF NOT EXISTS wallet_reports (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT REFERENCES batch_runs(id),
    wallet TEXT NOT NULL,
    rank INTEGER DEFAULT 0,
    token_count INTEGER,
    win_rate REAL,
    total_profit REAL,
    median_hold_sec REAL,
    stability REAL,
    degen_hunter REAL,
    diamond_hands REAL,
    composite_score REAL,
    tier TEXT,
    confidence TEXT,
    insufficient_data BOOLEAN DEFAULT FALSE,
    report_json TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    UNIQUE(run_id, wallet)
);

CREATE TABLE IF NOT EXISTS wallet_failures (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT REFERENCES batch_runs(id),
    wallet TEXT NOT NULL,
    reason TEXT,
    transient BOOLEAN DEFAULT FALSE,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_report_wallet ON wallet_reports(wallet);
CREATE INDEX IF NOT EXISTS idx_report_run ON wallet_reports(run_id);
CREATE INDEX IF NOT EXISTS idx_failure_run ON wallet_failures(run_id);
`

var ErrNotFound = errors.New("not found")

type Store struct {
	db *sql.DB
}

func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ---- Runs ----

func (s *Store) StartRun(run BatchRun) error {
	_, err := s.db.Exec(`
		INSERT INTO batch_runs (id, mode, started_at, total)
		VALUES (?, ?, ?, ?)`,
		run.ID, run.Mode, run.StartedAt.UnixMilli(), run.Total)
	if err != nil {
		return fmt.Errorf("start run %s: %w", run.ID, err)
	}
	return nil
}

func (s *Store) FinishRun(run BatchRun) error {
	finished := run.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}
	_, err := s.db.Exec(`
		UPDATE batch_runs
		SET finished_at=?, total=?, done=?, failed=?, skipped=?, rejected=?
		WHERE id=?`,
		finished.UnixMilli(), run.Total, run.Done, run.Failed, run.Skipped, run.Rejected, run.ID)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", run.ID, err)
	}
	return nil
}

func (s *Store) GetRuns(limit int) ([]BatchRun, error) {
	rows, err := s.db.Query(`
		SELECT id, mode, started_at, finished_at, total, done, failed, skipped, rejected
		FROM batch_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []BatchRun
	for rows.Next() {
		var r BatchRun
		var started, finished int64
		if err := rows.Scan(&r.ID, &r.Mode, &started, &finished, &r.Total, &r.Done, &r.Failed, &r.Skipped, &r.Rejected); err != nil {
			return nil, err
		}
		r.StartedAt = time.UnixMilli(started)
		if finished > 0 {
			r.FinishedAt = time.UnixMilli(finished)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ---- Reports ----

func (s *Store) SaveReport(runID string, rank int, r *Report) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	p := r.Profile
	_, err = s.db.Exec(`
		INSERT INTO wallet_reports (run_id, wallet, rank, token_count, win_rate, total_profit,
			median_hold_sec, stability, degen_hunter, diamond_hands, composite_score, tier,
			confidence, insufficient_data, report_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, wallet) DO UPDATE SET rank=excluded.rank, report_json=excluded.report_json`,
		runID, r.Wallet, rank, r.TokenCount, p.WinRate, p.TotalProfit,
		p.MedianHold.Seconds(), p.Dimensions.Stability, p.Dimensions.DegenHunter, p.Dimensions.DiamondHands,
		p.Composite.Score, p.Composite.Tier, string(p.Confidence), r.InsufficientData,
		string(raw), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save report %s: %w", r.Wallet, err)
	}
	return nil
}

func (s *Store) GetRunReports(runID string) ([]StoredReport, error) {
	rows, err := s.db.Query(`
		SELECT run_id, rank, report_json FROM wallet_reports
		WHERE run_id=? ORDER BY rank ASC, composite_score DESC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReports(rows)
}

// GetLatestReport returns the most recent report stored for a wallet.
func (s *Store) GetLatestReport(wallet string) (*StoredReport, error) {
	rows, err := s.db.Query(`
		SELECT run_id, rank, report_json FROM wallet_reports
		WHERE wallet=? ORDER BY created_at DESC, id DESC LIMIT 1`, wallet)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	reports, err := scanReports(rows)
	if err != nil {
		return nil, err
	}
	if len(reports) == 0 {
		return nil, ErrNotFound
	}
	return &reports[0], nil
}

func scanReports(rows *sql.Rows) ([]StoredReport, error) {
	var out []StoredReport
	for rows.Next() {
		var sr StoredReport
		var raw string
		if err := rows.Scan(&sr.RunID, &sr.Rank, &raw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(raw), &sr.Report); err != nil {
			return nil, fmt.Errorf("decode report: %w", err)
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}

// ---- Failures ----

func (s *Store) SaveFailure(f WalletFailure) error {
	created := f.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO wallet_failures (run_id, wallet, reason, transient, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		f.RunID, f.Wallet, f.Reason, f.Transient, created.UnixMilli())
	return err
}

func (s *Store) GetFailures(runID string, limit int) ([]WalletFailure, error) {
	query := `SELECT run_id, wallet, COALESCE(reason,''), transient, created_at FROM wallet_failures`
	args := []interface{}{}
	if runID != "" {
		query += ` WHERE run_id=?`
		args = append(args, runID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WalletFailure
	for rows.Next() {
		var f WalletFailure
		var created int64
		if err := rows.Scan(&f.RunID, &f.Wallet, &f.Reason, &f.Transient, &created); err != nil {
			return nil, err
		}
		f.CreatedAt = time.UnixMilli(created)
		out = append(out, f)
	}
	return out, rows.Err()
}

// ---- Stats ----

func (s *Store) GetStats() (map[string]int, error) {
	stats := map[string]int{}
	for _, table := range []string{"batch_runs", "wallet_reports", "wallet_failures"} {
		var count int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count); err != nil {
			return nil, err
		}
		stats[table] = count
	}
	return stats, nil
}
