package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/combat-report/pkg/db"
)

const (
	defaultLimit = 50
	maxLimit     = 1000
)

// Dashboard serves stored runs and reports read-only.
type Dashboard struct {
	store *db.Store
	port  int
}

func New(store *db.Store, port int) *Dashboard {
	return &Dashboard{store: store, port: port}
}

func (d *Dashboard) Handler() http.Handler {
	mux := http.NewServeMux()

	// API endpoints
	mux.HandleFunc("GET /api/stats", cors(d.handleStats))
	mux.HandleFunc("GET /api/runs", cors(d.handleRuns))
	mux.HandleFunc("GET /api/runs/{id}/reports", cors(d.handleRunReports))
	mux.HandleFunc("GET /api/reports/{wallet}", cors(d.handleWalletReport))
	mux.HandleFunc("GET /api/failures", cors(d.handleFailures))

	// Serve frontend
	mux.HandleFunc("GET /{$}", d.serveFrontend)

	return mux
}

// Run serves until ctx is cancelled.
func (d *Dashboard) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", d.port),
		Handler:           d.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Info().Str("addr", srv.Addr).Msg("🌐 dashboard started")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func cors(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		h(w, r)
	}
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Debug().Err(err).Msg("write response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, db.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	log.Error().Err(err).Msg("dashboard query")
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func limitParam(r *http.Request) int {
	limit := defaultLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit
}

func (d *Dashboard) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := d.store.GetStats()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, stats)
}

func (d *Dashboard) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := d.store.GetRuns(limitParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if runs == nil {
		runs = []db.BatchRun{}
	}
	writeJSON(w, runs)
}

func (d *Dashboard) handleRunReports(w http.ResponseWriter, r *http.Request) {
	reports, err := d.store.GetRunReports(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if reports == nil {
		reports = []db.StoredReport{}
	}
	writeJSON(w, reports)
}

func (d *Dashboard) handleWalletReport(w http.ResponseWriter, r *http.Request) {
	report, err := d.store.GetLatestReport(r.PathValue("wallet"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, report)
}

func (d *Dashboard) handleFailures(w http.ResponseWriter, r *http.Request) {
	failures, err := d.store.GetFailures(r.URL.Query().Get("run"), limitParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if failures == nil {
		failures = []db.WalletFailure{}
	}
	writeJSON(w, failures)
}
