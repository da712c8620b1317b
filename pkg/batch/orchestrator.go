package batch

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/combat-report/pkg/db"
	"github.com/combat-report/pkg/scanner"
)

// State of one wallet within a run.
type State string

const (
	StatePending  State = "pending"
	StateRunning  State = "running"
	StateDone     State = "done"
	StateFailed   State = "failed"
	StateSkipped  State = "skipped_blacklisted"
	StateRejected State = "rejected"
)

func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateSkipped || s == StateRejected
}

const (
	DefaultWorkers       = 2
	DefaultWalletTimeout = 5 * time.Minute
)

type Analyzer interface {
	Analyze(ctx context.Context, wallet string) (*db.Report, error)
}

// Blacklist is the shared exclusion set. Implementations must serialize Add.
type Blacklist interface {
	Contains(addr string) bool
	Add(addr, reason string) (bool, error)
}

// Recorder persists run results. *db.Store satisfies it.
type Recorder interface {
	StartRun(run db.BatchRun) error
	FinishRun(run db.BatchRun) error
	SaveReport(runID string, rank int, r *db.Report) error
	SaveFailure(f db.WalletFailure) error
}

// Event is sent to the Observer on every state change.
type Event struct {
	Index  int
	Total  int
	Wallet string
	State  State
	Report *db.Report
	Err    error
	Reason string
}

// Observer is called from worker goroutines and must be safe for concurrent use.
type Observer func(Event)

type Options struct {
	Workers       int
	WalletTimeout time.Duration
	Gate          Gate
	Mode          string // stored with the run: "batch" or "watch"
	Recorder      Recorder
	Observer      Observer
}

// Outcome is the final state of one wallet.
type Outcome struct {
	Wallet   string
	State    State
	Report   *db.Report
	Err      error
	Reason   string // rejection reason
	Duration time.Duration
}

// Result of a batch run. Ranked holds only reports that passed the gate.
type Result struct {
	Run      db.BatchRun
	Outcomes []Outcome // input order
	Ranked   []*db.Report
	Failures []db.WalletFailure
}

type Orchestrator struct {
	analyzer  Analyzer
	blacklist Blacklist
	opts      Options
	now       func() time.Time
}

func New(a Analyzer, bl Blacklist, opts Options) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.WalletTimeout <= 0 {
		opts.WalletTimeout = DefaultWalletTimeout
	}
	if opts.Mode == "" {
		opts.Mode = "batch"
	}
	return &Orchestrator{analyzer: a, blacklist: bl, opts: opts, now: time.Now}
}

// Run analyzes every wallet. A wallet's failure never stops the others;
// cancelling ctx fails whatever has not finished yet.
func (o *Orchestrator) Run(ctx context.Context, wallets []string) *Result {
	run := db.BatchRun{ID: uuid.NewString(), Mode: o.opts.Mode, StartedAt: o.now(), Total: len(wallets)}
	if o.opts.Recorder != nil {
		if err := o.opts.Recorder.StartRun(run); err != nil {
			log.Error().Err(err).Msg("record run start")
		}
	}
	log.Info().Str("run", run.ID).Int("wallets", len(wallets)).Int("workers", o.opts.Workers).Msg("🚀 batch started")

	outcomes := make([]Outcome, len(wallets))
	for i, w := range wallets {
		outcomes[i] = Outcome{Wallet: w, State: StatePending}
		o.notify(Event{Index: i, Total: len(wallets), Wallet: w, State: StatePending})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Workers)
	for i, w := range wallets {
		if o.blacklist != nil && o.blacklist.Contains(w) {
			outcomes[i].State = StateSkipped
			o.notify(Event{Index: i, Total: len(wallets), Wallet: w, State: StateSkipped})
			continue
		}
		g.Go(func() error {
			outcomes[i] = o.analyze(gctx, i, len(wallets), w)
			return nil
		})
	}
	_ = g.Wait()

	res := o.aggregate(run, outcomes)
	o.persist(res)
	log.Info().Str("run", run.ID).
		Int("done", res.Run.Done).Int("failed", res.Run.Failed).
		Int("rejected", res.Run.Rejected).Int("skipped", res.Run.Skipped).
		Dur("took", res.Run.FinishedAt.Sub(run.StartedAt)).
		Msg("🏁 batch finished")
	return res
}

func (o *Orchestrator) analyze(ctx context.Context, i, total int, wallet string) Outcome {
	o.notify(Event{Index: i, Total: total, Wallet: wallet, State: StateRunning})
	start := o.now()

	wctx, cancel := context.WithTimeout(ctx, o.opts.WalletTimeout)
	report, err := o.analyzer.Analyze(wctx, wallet)
	cancel()

	out := Outcome{Wallet: wallet, Duration: o.now().Sub(start)}
	switch {
	case err != nil:
		out.State, out.Err = StateFailed, err
		log.Error().Str("wallet", abbrev(wallet)).Err(err).Msg("❌ wallet failed")
	default:
		out.Report = report
		if reason := o.opts.Gate.Check(report); reason != "" {
			out.State, out.Reason = StateRejected, reason
			if o.blacklist != nil {
				if _, err := o.blacklist.Add(wallet, reason); err != nil {
					log.Error().Str("wallet", abbrev(wallet)).Err(err).Msg("blacklist append failed")
				}
			}
		} else {
			out.State = StateDone
		}
	}
	o.notify(Event{Index: i, Total: total, Wallet: wallet, State: out.State, Report: report, Err: err, Reason: out.Reason})
	return out
}

// aggregate runs after every worker returned; it is the only writer of the
// result.
func (o *Orchestrator) aggregate(run db.BatchRun, outcomes []Outcome) *Result {
	res := &Result{Outcomes: outcomes}
	for _, out := range outcomes {
		switch out.State {
		case StateDone:
			run.Done++
			res.Ranked = append(res.Ranked, out.Report)
		case StateFailed:
			run.Failed++
			res.Failures = append(res.Failures, db.WalletFailure{
				RunID:     run.ID,
				Wallet:    out.Wallet,
				Reason:    out.Err.Error(),
				Transient: isTransient(out.Err),
				CreatedAt: o.now(),
			})
		case StateSkipped:
			run.Skipped++
		case StateRejected:
			run.Rejected++
		}
	}
	Rank(res.Ranked)
	run.FinishedAt = o.now()
	res.Run = run
	return res
}

func (o *Orchestrator) persist(res *Result) {
	rec := o.opts.Recorder
	if rec == nil {
		return
	}
	for i, r := range res.Ranked {
		if err := rec.SaveReport(res.Run.ID, i+1, r); err != nil {
			log.Error().Str("wallet", abbrev(r.Wallet)).Err(err).Msg("save report")
		}
	}
	for _, f := range res.Failures {
		if err := rec.SaveFailure(f); err != nil {
			log.Error().Str("wallet", abbrev(f.Wallet)).Err(err).Msg("save failure")
		}
	}
	if err := rec.FinishRun(res.Run); err != nil {
		log.Error().Err(err).Msg("record run finish")
	}
}

func (o *Orchestrator) notify(ev Event) {
	if o.opts.Observer != nil {
		o.opts.Observer(ev)
	}
}

// Rank orders reports by composite score, then total profit, both
// descending. Wallet address breaks exact ties.
func Rank(reports []*db.Report) {
	sort.SliceStable(reports, func(i, j int) bool {
		a, b := reports[i].Profile, reports[j].Profile
		if a.Composite.Score != b.Composite.Score {
			return a.Composite.Score > b.Composite.Score
		}
		if a.TotalProfit != b.TotalProfit {
			return a.TotalProfit > b.TotalProfit
		}
		return reports[i].Wallet < reports[j].Wallet
	})
}

func isTransient(err error) bool {
	return scanner.IsTransient(err) || errors.Is(err, context.DeadlineExceeded)
}

func abbrev(a string) string {
	if len(a) > 12 {
		return a[:6] + "..." + a[len(a)-4:]
	}
	return a
}
