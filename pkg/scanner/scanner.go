package scanner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/combat-report/pkg/db"
)

// ErrorKind separates failures worth retrying from ones that are final.
type ErrorKind int

const (
	KindTransient ErrorKind = iota // timeout, rate limit, 5xx, network
	KindFatal                      // bad credential, bad address, malformed response
)

func (k ErrorKind) String() string {
	if k == KindTransient {
		return "transient"
	}
	return "fatal"
}

// FetchError is returned by every Source. Callers branch on Kind instead of
// matching concrete error types.
type FetchError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func transient(op string, err error) error { return &FetchError{Kind: KindTransient, Op: op, Err: err} }
func fatal(op string, err error) error { return &FetchError{Kind: KindFatal, Op: op, Err: err} }

// IsTransient reports whether err (or anything it wraps) is a transient FetchError.
func IsTransient(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == KindTransient
}

var (
	ErrMissingCredential = errors.New("missing API credential")
	ErrNoSource          = errors.New("no transaction source configured")
)

// Source returns a wallet's raw transactions, newest or oldest first; the
// parser orders them.
type Source interface {
	Name() string
	FetchTransactions(ctx context.Context, wallet string) ([]db.Transaction, error)
}

const (
	SourceHelius = "helius"
	SourceRPC    = "rpc"

	DefaultPageSize   = 100
	DefaultMaxTxs     = 1000
	DefaultRetries    = 3
	DefaultRetryDelay = time.Second
	DefaultMaxDelay   = 10 * time.Second
)

type Options struct {
	Source        string // SourceHelius, SourceRPC or "" to pick by available credentials
	HeliusAPIKey  string
	HeliusBaseURL string
	RPCURL        string
	PageSize      int
	MaxTxs        int
	Retries       int
	RetryDelay    time.Duration
	MaxDelay      time.Duration
	HTTPClient    *http.Client
}

// Scanner fetches wallet history from the configured source and retries
// transient failures with exponential backoff.
type Scanner struct {
	src        Source
	retries    int
	retryDelay time.Duration
	maxDelay   time.Duration
	sleep      func(context.Context, time.Duration) error
}

type Option func(*Scanner)

// WithSleep replaces the backoff sleep, for tests.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(s *Scanner) { s.sleep = fn }
}

func WithRetries(n int, delay, maxDelay time.Duration) Option {
	return func(s *Scanner) {
		s.retries, s.retryDelay, s.maxDelay = n, delay, maxDelay
	}
}

// New picks a source the way the tracker always has: Helius when a key is
// present (richer parsed data), plain Solana RPC otherwise.
func New(opts Options) (*Scanner, error) {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.MaxTxs <= 0 {
		opts.MaxTxs = DefaultMaxTxs
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}

	kind := opts.Source
	if kind == "" {
		switch {
		case opts.HeliusAPIKey != "":
			kind = SourceHelius
		case opts.RPCURL != "":
			kind = SourceRPC
		default:
			return nil, fatal("select source", ErrNoSource)
		}
	}

	var src Source
	switch kind {
	case SourceHelius:
		if opts.HeliusAPIKey == "" {
			return nil, fatal("select source", fmt.Errorf("helius: %w", ErrMissingCredential))
		}
		src = NewHelius(opts.HeliusAPIKey, opts.HeliusBaseURL, opts.HTTPClient, opts.PageSize, opts.MaxTxs)
	case SourceRPC:
		if opts.RPCURL == "" {
			return nil, fatal("select source", fmt.Errorf("rpc: %w", ErrNoSource))
		}
		src = NewRPC(opts.RPCURL, opts.PageSize, opts.MaxTxs)
	default:
		return nil, fatal("select source", fmt.Errorf("unknown source %q", kind))
	}

	retries := opts.Retries
	if retries < 0 {
		retries = 0
	}
	return NewWithSource(src, WithRetries(retries, opts.RetryDelay, opts.MaxDelay)), nil
}

// NewWithSource wraps any Source with retry.
func NewWithSource(src Source, opts ...Option) *Scanner {
	s := &Scanner{
		src:        src,
		retries:    DefaultRetries,
		retryDelay: DefaultRetryDelay,
		maxDelay:   DefaultMaxDelay,
		sleep:      sleepCtx,
	}
	for _, o := range opts {
		o(s)
	}
	if s.retryDelay <= 0 {
		s.retryDelay = DefaultRetryDelay
	}
	if s.maxDelay <= 0 {
		s.maxDelay = DefaultMaxDelay
	}
	return s
}

func (s *Scanner) Name() string { return s.src.Name() }

// FetchTransactions returns the wallet's history. Fatal errors return at
// once; transient ones are retried, and the last one is returned once the
// retries run out.
func (s *Scanner) FetchTransactions(ctx context.Context, wallet string) ([]db.Transaction, error) {
	delay := s.retryDelay
	var lastErr error

	for attempt := 0; attempt <= s.retries; attempt++ {
		if attempt > 0 {
			log.Debug().Str("wallet", abbrev(wallet)).Int("attempt", attempt).Dur("backoff", delay).
				Err(lastErr).Msg("retrying transaction fetch")
			if err := s.sleep(ctx, delay); err != nil {
				return nil, transient("fetch "+s.src.Name(), err)
			}
			delay *= 2
			if delay > s.maxDelay {
				delay = s.maxDelay
			}
		}

		txs, err := s.src.FetchTransactions(ctx, wallet)
		if err == nil {
			log.Info().Str("wallet", abbrev(wallet)).Int("txs", len(txs)).Str("source", s.src.Name()).Msg("📥 fetched history")
			return txs, nil
		}
		if !IsTransient(err) {
			return nil, err
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
