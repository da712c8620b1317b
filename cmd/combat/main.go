package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/combat-report/pkg/analyzer"
	"github.com/combat-report/pkg/config"
	"github.com/combat-report/pkg/dashboard"
	"github.com/combat-report/pkg/db"
	"github.com/combat-report/pkg/price"
	"github.com/combat-report/pkg/report"
	"github.com/combat-report/pkg/scanner"
	"github.com/combat-report/pkg/wallets"
)

const usage = `combat - Solana wallet combat reports

usage:
  combat analyze [-json] <wallet>        analyze one wallet
  combat batch [-wallets file] [-clean-list] [-no-tui]
                                         analyze and rank a wallet list
  combat watch [-wallets file] [-now] [-serve]
                                         re-run the batch on WATCH_CRON
  combat serve                           browse stored reports over HTTP
`

func main() {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).With().Timestamp().Logger()

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	zerolog.SetGlobalLevel(cfg.Level())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() { <-sigCh; log.Info().Msg("shutting down..."); cancel() }()

	cmd, args := os.Args[1], os.Args[2:]
	var code int
	switch cmd {
	case "analyze":
		code = cmdAnalyze(ctx, cfg, args)
	case "batch":
		code = cmdBatch(ctx, cfg, args)
	case "watch":
		code = cmdWatch(ctx, cfg, args)
	case "serve":
		code = cmdServe(ctx, cfg, args)
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		code = 2
	}
	cancel()
	os.Exit(code)
}

// newAnalyzer wires the transaction source, the price chain and the
// scoring policy from cfg.
func newAnalyzer(cfg *config.Config) (*analyzer.Analyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	txs, err := scanner.New(cfg.ScannerOptions())
	if err != nil {
		return nil, err
	}
	client := &http.Client{Timeout: cfg.PriceTimeout}
	prices := price.Chain{
		price.NewDexScreener(cfg.DexScreenerAPI, client),
		price.NewJupiter(cfg.JupiterAPI, cfg.JupiterAPIKey, client),
	}
	log.Info().Str("tx_source", txs.Name()).Str("prices", "dexscreener,jupiter").
		Float64("dust_sol", cfg.DustCostSOL).Msg("⚙️  analyzer ready")
	return analyzer.New(txs, prices, cfg.AnalyzerOptions()), nil
}

func openStore(cfg *config.Config) *db.Store {
	if cfg.DBPath == "" {
		return nil
	}
	store, err := db.NewStore(cfg.DBPath)
	if err != nil {
		log.Error().Err(err).Str("db", cfg.DBPath).Msg("database init failed, results will not be stored")
		return nil
	}
	return store
}

func cmdAnalyze(ctx context.Context, cfg *config.Config, args []string) int {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "print the report as JSON")
	fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
	wallet := strings.TrimSpace(fs.Arg(0))
	if err := wallets.Validate(wallet); err != nil {
		log.Error().Err(err).Msg("❌ bad wallet")
		return 2
	}

	an, err := newAnalyzer(cfg)
	if err != nil {
		log.Error().Err(err).Msg("❌ setup failed")
		return 1
	}

	started := time.Now()
	r, err := an.Analyze(ctx, wallet)
	if err != nil {
		log.Error().Err(err).Str("wallet", wallet).Msg("❌ analysis failed")
		return 1
	}

	if store := openStore(cfg); store != nil {
		defer store.Close()
		saveSingle(store, started, r)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(r); err != nil {
			log.Error().Err(err).Msg("encode report")
			return 1
		}
		return 0
	}
	report.PrintReport(os.Stdout, r)
	return 0
}

func saveSingle(store *db.Store, started time.Time, r *db.Report) {
	run := db.BatchRun{ID: uuid.NewString(), Mode: "single", StartedAt: started, Total: 1, Done: 1}
	if err := store.StartRun(run); err != nil {
		log.Error().Err(err).Msg("record run")
		return
	}
	if err := store.SaveReport(run.ID, 1, r); err != nil {
		log.Error().Err(err).Msg("record report")
	}
	run.FinishedAt = time.Now()
	if err := store.FinishRun(run); err != nil {
		log.Error().Err(err).Msg("record run")
	}
}

func cmdServe(ctx context.Context, cfg *config.Config, args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	port := fs.Int("port", cfg.DashboardPort, "listen port")
	fs.Parse(args)

	store, err := db.NewStore(cfg.DBPath)
	if err != nil {
		log.Error().Err(err).Msg("database init failed")
		return 1
	}
	defer store.Close()

	printSummary("🌐 COMBAT REPORT - DASHBOARD", store, fmt.Sprintf("http://localhost:%d", *port))
	if err := dashboard.New(store, *port).Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("dashboard stopped")
		return 1
	}
	log.Info().Msg("goodbye 👋")
	return 0
}

func printSummary(title string, store *db.Store, lines ...string) {
	fmt.Println("\n" + strings.Repeat("═", 60))
	fmt.Println("  " + title)
	fmt.Println(strings.Repeat("═", 60))
	for _, l := range lines {
		fmt.Println("  " + l)
	}
	if store != nil {
		if stats, err := store.GetStats(); err == nil {
			fmt.Printf("  DB: %d runs, %d reports, %d failures\n", stats["batch_runs"], stats["wallet_reports"], stats["wallet_failures"])
		}
	}
	fmt.Println(strings.Repeat("═", 60) + "\n")
}
