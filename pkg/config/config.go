package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/combat-report/pkg/analyzer"
	"github.com/combat-report/pkg/batch"
	"github.com/combat-report/pkg/db"
	"github.com/combat-report/pkg/price"
	"github.com/combat-report/pkg/scanner"
	"github.com/combat-report/pkg/scoring"
)

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	// Transactions
	TxSource      string // "helius", "rpc" or "" for auto
	HeliusAPIKey  string
	HeliusBaseURL string
	SolanaRPCURL  string
	MaxTxs        int
	FetchRetries  int

	// Price APIs
	JupiterAPIKey  string
	JupiterAPI     string
	DexScreenerAPI string
	PriceTimeout   time.Duration
	PriceRetries   int
	PriceCacheTTL  time.Duration

	// Batch
	Workers           int
	WalletTimeout     time.Duration
	GateMinTokens     int
	GateMinConfidence string
	DustCostSOL       float64

	// Files
	WalletsFile   string
	BlacklistFile string
	ResultsDir    string

	// DB
	DBPath string

	// Dashboard
	DashboardPort int

	// Watch
	WatchCron string

	LogLevel string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		TxSource:      strings.ToLower(os.Getenv("TX_SOURCE")),
		HeliusAPIKey:  os.Getenv("HELIUS_API_KEY"),
		HeliusBaseURL: envOr("HELIUS_BASE_URL", scanner.DefaultHeliusURL),
		SolanaRPCURL:  envOr("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com"),
		MaxTxs:        envInt("MAX_TXS", scanner.DefaultMaxTxs),
		FetchRetries:  envInt("FETCH_RETRIES", scanner.DefaultRetries),

		JupiterAPIKey:  os.Getenv("JUPITER_API_KEY"),
		JupiterAPI:     envOr("JUPITER_API", price.DefaultJupiterURL),
		DexScreenerAPI: envOr("DEXSCREENER_API", price.DefaultDexScreenerURL),
		PriceTimeout:   envDuration("PRICE_TIMEOUT", 10*time.Second),
		PriceRetries:   envInt("PRICE_RETRIES", 3),
		PriceCacheTTL:  envDuration("PRICE_CACHE_TTL", 3*time.Minute),

		Workers:           envInt("WORKERS", batch.DefaultWorkers),
		WalletTimeout:     envDuration("WALLET_TIMEOUT", batch.DefaultWalletTimeout),
		GateMinTokens:     envInt("GATE_MIN_TOKENS", 1),
		GateMinConfidence: strings.ToLower(os.Getenv("GATE_MIN_CONFIDENCE")),
		DustCostSOL:       envFloat("DUST_COST_SOL", 0.05),

		WalletsFile:   envOr("WALLETS_FILE", "wallets.txt"),
		BlacklistFile: envOr("BLACKLIST_FILE", "blacklist.txt"),
		ResultsDir:    envOr("RESULTS_DIR", "results"),

		DBPath:        envOr("DB_PATH", "combat_report.db"),
		DashboardPort: envInt("DASHBOARD_PORT", 8080),

		WatchCron: envOr("WATCH_CRON", "0 */6 * * *"),
		LogLevel:  envOr("LOG_LEVEL", "info"),
	}

	return cfg, nil
}

// Validate rejects settings the selected transaction source cannot run
// with, plus values the batch would silently misread.
func (c *Config) Validate() error {
	switch c.TxSource {
	case "":
		if c.HeliusAPIKey == "" && c.SolanaRPCURL == "" {
			return fmt.Errorf("%w: need HELIUS_API_KEY or SOLANA_RPC_URL", ErrInvalid)
		}
	case scanner.SourceHelius:
		if c.HeliusAPIKey == "" {
			return fmt.Errorf("%w: TX_SOURCE=helius requires HELIUS_API_KEY", ErrInvalid)
		}
	case scanner.SourceRPC:
		if c.SolanaRPCURL == "" {
			return fmt.Errorf("%w: TX_SOURCE=rpc requires SOLANA_RPC_URL", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown TX_SOURCE %q", ErrInvalid, c.TxSource)
	}

	if c.Workers < 1 {
		return fmt.Errorf("%w: WORKERS must be at least 1, got %d", ErrInvalid, c.Workers)
	}
	switch db.ConfidenceLevel(c.GateMinConfidence) {
	case "", db.ConfidenceLow, db.ConfidenceMedium, db.ConfidenceHigh:
	default:
		return fmt.Errorf("%w: GATE_MIN_CONFIDENCE %q (want low, medium or high)", ErrInvalid, c.GateMinConfidence)
	}
	if c.DustCostSOL < 0 {
		return fmt.Errorf("%w: DUST_COST_SOL must not be negative", ErrInvalid)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: LOG_LEVEL: %v", ErrInvalid, err)
	}
	return nil
}

// Schedule parses WATCH_CRON (five fields or a descriptor like @hourly).
func (c *Config) Schedule() (cron.Schedule, error) {
	s, err := cron.ParseStandard(c.WatchCron)
	if err != nil {
		return nil, fmt.Errorf("%w: WATCH_CRON %q: %v", ErrInvalid, c.WatchCron, err)
	}
	return s, nil
}

func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// --- conversions into the core packages' option structs ---

func (c *Config) ScannerOptions() scanner.Options {
	return scanner.Options{
		Source:        c.TxSource,
		HeliusAPIKey:  c.HeliusAPIKey,
		HeliusBaseURL: c.HeliusBaseURL,
		RPCURL:        c.SolanaRPCURL,
		MaxTxs:        c.MaxTxs,
		Retries:       c.FetchRetries,
	}
}

func (c *Config) PriceOptions() price.Options {
	opts := price.DefaultOptions()
	if c.PriceTimeout > 0 {
		opts.Timeout = c.PriceTimeout
	}
	if c.PriceRetries >= 0 {
		opts.Retries = c.PriceRetries
	}
	if c.PriceCacheTTL > 0 {
		opts.CacheTTL = c.PriceCacheTTL
	}
	return opts
}

func (c *Config) Policy() scoring.Policy {
	p := scoring.DefaultPolicy()
	p.DustCostSOL = c.DustCostSOL
	return p
}

func (c *Config) AnalyzerOptions() analyzer.Options {
	opts := analyzer.DefaultOptions()
	opts.Policy = c.Policy()
	opts.Price = c.PriceOptions()
	return opts
}

func (c *Config) Gate() batch.Gate {
	g := batch.DefaultGate()
	g.MinTokens = c.GateMinTokens
	g.MinConfidence = db.ConfidenceLevel(c.GateMinConfidence)
	return g
}

// BatchOptions leaves Recorder and Observer to the caller.
func (c *Config) BatchOptions(mode string) batch.Options {
	return batch.Options{
		Workers:       c.Workers,
		WalletTimeout: c.WalletTimeout,
		Gate:          c.Gate(),
		Mode:          mode,
	}
}

// helpers
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// envDuration accepts Go durations ("90s", "5m") or bare seconds.
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if i, err := strconv.Atoi(v); err == nil {
		return time.Duration(i) * time.Second
	}
	return fallback
}
