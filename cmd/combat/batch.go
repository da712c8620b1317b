package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/combat-report/pkg/analyzer"
	"github.com/combat-report/pkg/batch"
	"github.com/combat-report/pkg/config"
	"github.com/combat-report/pkg/dashboard"
	"github.com/combat-report/pkg/db"
	"github.com/combat-report/pkg/report"
	"github.com/combat-report/pkg/wallets"
)

type batchEnv struct {
	cfg       *config.Config
	analyzer  *analyzer.Analyzer
	blacklist *wallets.Blacklist
	store     *db.Store
	list      string
	clean     bool
	tui       bool
	export    bool
}

func cmdBatch(ctx context.Context, cfg *config.Config, args []string) int {
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	list := fs.String("wallets", cfg.WalletsFile, "wallet list, one address per line")
	workers := fs.Int("workers", cfg.Workers, "wallets analyzed concurrently")
	clean := fs.Bool("clean-list", false, "rewrite the wallet list without invalid or duplicate lines")
	noTUI := fs.Bool("no-tui", false, "log progress instead of drawing it")
	noExport := fs.Bool("no-export", false, "skip the csv and xlsx files")
	fs.Parse(args)
	cfg.Workers = *workers

	env, code := setupBatch(cfg, *list, *clean, !*noTUI, !*noExport)
	if env == nil {
		return code
	}
	defer env.close()

	printSummary("⚔️  COMBAT REPORT - BATCH", env.store,
		fmt.Sprintf("Wallets:   %s", env.list),
		fmt.Sprintf("Blacklist: %s (%d)", cfg.BlacklistFile, env.blacklist.Len()),
		fmt.Sprintf("Workers:   %d", cfg.Workers),
		fmt.Sprintf("Results:   %s", cfg.ResultsDir))

	if _, err := env.run(ctx, "batch"); err != nil {
		log.Error().Err(err).Msg("❌ batch failed")
		return 1
	}
	if ctx.Err() != nil {
		log.Warn().Msg("batch interrupted, partial results written")
		return 130
	}
	return 0
}

func cmdWatch(ctx context.Context, cfg *config.Config, args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	list := fs.String("wallets", cfg.WalletsFile, "wallet list, re-read before every run")
	now := fs.Bool("now", false, "run once immediately before waiting for the schedule")
	serve := fs.Bool("serve", false, "serve the dashboard while watching")
	fs.Parse(args)

	sched, err := cfg.Schedule()
	if err != nil {
		log.Error().Err(err).Msg("❌ bad schedule")
		return 2
	}
	env, code := setupBatch(cfg, *list, false, false, true)
	if env == nil {
		return code
	}
	defer env.close()

	if *serve && env.store != nil {
		go func() {
			if err := dashboard.New(env.store, cfg.DashboardPort).Run(ctx); err != nil {
				log.Error().Err(err).Msg("dashboard stopped")
			}
		}()
	}

	job := func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := env.run(ctx, "watch"); err != nil {
			log.Error().Err(err).Msg("❌ scheduled batch failed")
		}
	}

	c := cron.New(cron.WithLogger(cron.PrintfLogger(&log.Logger)), cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(&log.Logger))))
	c.Schedule(sched, cron.FuncJob(job))
	c.Start()

	printSummary("👀 COMBAT REPORT - WATCH", env.store,
		fmt.Sprintf("Schedule:  %s", cfg.WatchCron),
		fmt.Sprintf("Wallets:   %s", env.list),
		fmt.Sprintf("Next run:  %s", sched.Next(time.Now()).Format("2006-01-02 15:04")))

	if *now {
		go job()
	}

	<-ctx.Done()
	stop := c.Stop()
	<-stop.Done()
	log.Info().Msg("goodbye 👋")
	return 0
}

func setupBatch(cfg *config.Config, list string, clean, tui, export bool) (*batchEnv, int) {
	an, err := newAnalyzer(cfg)
	if err != nil {
		log.Error().Err(err).Msg("❌ setup failed")
		return nil, 1
	}
	bl, err := wallets.OpenBlacklist(cfg.BlacklistFile)
	if err != nil {
		log.Error().Err(err).Msg("❌ blacklist")
		return nil, 1
	}
	env := &batchEnv{
		cfg:       cfg,
		analyzer:  an,
		blacklist: bl,
		store:     openStore(cfg),
		list:      list,
		clean:     clean,
		tui:       tui && isTerminal(os.Stderr),
		export:    export,
	}
	if _, err := env.loadWallets(); err != nil {
		log.Error().Err(err).Msg("❌ wallet list")
		env.close()
		return nil, 1
	}
	return env, 0
}

func (e *batchEnv) close() {
	if e.store != nil {
		e.store.Close()
	}
}

func (e *batchEnv) loadWallets() ([]string, error) {
	l, err := wallets.LoadList(e.list)
	if err != nil {
		return nil, err
	}
	for _, bad := range l.Invalid {
		log.Warn().Str("line", bad).Msg("skipping invalid address")
	}
	if e.clean && (len(l.Invalid) > 0 || l.Duplicates > 0) {
		if err := wallets.SaveList(e.list, l.Wallets); err != nil {
			return nil, err
		}
		log.Info().Str("file", e.list).Int("removed", len(l.Invalid)+l.Duplicates).Msg("🧹 wallet list cleaned")
		e.clean = false
	}
	if len(l.Wallets) == 0 {
		return nil, fmt.Errorf("%s: no valid wallets", e.list)
	}
	return l.Wallets, nil
}

// run analyzes the current wallet list once, prints the ranking and
// writes the exports.
func (e *batchEnv) run(ctx context.Context, mode string) (*batch.Result, error) {
	ws, err := e.loadWallets()
	if err != nil {
		return nil, err
	}

	opts := e.cfg.BatchOptions(mode)
	if e.store != nil {
		opts.Recorder = e.store
	}

	var res *batch.Result
	if e.tui {
		res, err = e.runWithProgress(ctx, ws, opts)
		if err != nil {
			return nil, err
		}
	} else {
		opts.Observer = logEvent
		res = batch.New(e.analyzer, e.blacklist, opts).Run(ctx, ws)
	}

	report.PrintRanking(os.Stdout, res.Run, res.Ranked, res.Failures)

	if e.export {
		csvPath := report.FileName(e.cfg.ResultsDir, "combat_ranking", res.Run.StartedAt, "csv")
		if err := report.SaveCSV(csvPath, res.Ranked); err != nil {
			log.Error().Err(err).Msg("csv export")
		}
		xlsxPath := report.FileName(e.cfg.ResultsDir, "combat_ranking", res.Run.StartedAt, "xlsx")
		if err := report.SaveXLSX(xlsxPath, res.Ranked, res.Failures); err != nil {
			log.Error().Err(err).Msg("xlsx export")
		}
		fmt.Printf("📁 results: %s\n", filepath.Clean(e.cfg.ResultsDir))
	}
	return res, nil
}

// runWithProgress draws the bubbletea view on stderr. Logging is muted while
// it owns the terminal; pressing q or ctrl+c cancels the remaining wallets.
func (e *batchEnv) runWithProgress(ctx context.Context, ws []string, opts batch.Options) (*batch.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(report.NewProgress(len(ws), cancel), tea.WithOutput(os.Stderr), tea.WithContext(ctx))
	opts.Observer = func(ev batch.Event) { p.Send(report.EventMsg(ev)) }

	level := zerolog.GlobalLevel()
	zerolog.SetGlobalLevel(zerolog.Disabled)
	defer zerolog.SetGlobalLevel(level)

	done := make(chan *batch.Result, 1)
	go func() {
		res := batch.New(e.analyzer, e.blacklist, opts).Run(ctx, ws)
		p.Send(report.DoneMsg{})
		done <- res
	}()

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		cancel()
		<-done
		return nil, fmt.Errorf("progress view: %w", err)
	}
	return <-done, nil
}

func logEvent(ev batch.Event) {
	switch ev.State {
	case batch.StateDone:
		log.Info().Str("wallet", ev.Wallet).Str("progress", fmt.Sprintf("%d/%d", ev.Index+1, ev.Total)).
			Float64("score", ev.Report.Profile.Composite.Score).Str("tier", ev.Report.Profile.Composite.Tier).Msg("✅ wallet done")
	case batch.StateRejected:
		log.Info().Str("wallet", ev.Wallet).Str("reason", ev.Reason).Msg("⛔ wallet rejected")
	case batch.StateSkipped:
		log.Debug().Str("wallet", ev.Wallet).Msg("wallet blacklisted, skipped")
	}
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}
