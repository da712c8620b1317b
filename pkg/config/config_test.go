package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/combat-report/pkg/batch"
	"github.com/combat-report/pkg/db"
	"github.com/combat-report/pkg/scanner"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HELIUS_API_KEY", "")
	t.Setenv("TX_SOURCE", "")
	t.Setenv("WORKERS", "")
	t.Setenv("DUST_COST_SOL", "")
	t.Setenv("WALLET_TIMEOUT", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, batch.DefaultWorkers, cfg.Workers)
	assert.Equal(t, batch.DefaultWalletTimeout, cfg.WalletTimeout)
	assert.Equal(t, 0.05, cfg.DustCostSOL)
	assert.Equal(t, scanner.DefaultMaxTxs, cfg.MaxTxs)
	assert.NotEmpty(t, cfg.SolanaRPCURL)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TX_SOURCE", "Helius")
	t.Setenv("HELIUS_API_KEY", "k")
	t.Setenv("WORKERS", "6")
	t.Setenv("WALLET_TIMEOUT", "90")
	t.Setenv("PRICE_CACHE_TTL", "1m")
	t.Setenv("GATE_MIN_CONFIDENCE", "MEDIUM")
	t.Setenv("GATE_MIN_TOKENS", "3")
	t.Setenv("DUST_COST_SOL", "0.1")
	t.Setenv("MAX_TXS", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, scanner.SourceHelius, cfg.TxSource)
	assert.Equal(t, 6, cfg.Workers)
	assert.Equal(t, 90*time.Second, cfg.WalletTimeout)
	assert.Equal(t, time.Minute, cfg.PriceOptions().CacheTTL)
	assert.Equal(t, scanner.DefaultMaxTxs, cfg.MaxTxs)

	gate := cfg.Gate()
	assert.Equal(t, 3, gate.MinTokens)
	assert.Equal(t, db.ConfidenceMedium, gate.MinConfidence)
	assert.Len(t, gate.ScoreRules, 2)

	assert.Equal(t, 0.1, cfg.AnalyzerOptions().Policy.DustCostSOL)

	bo := cfg.BatchOptions("watch")
	assert.Equal(t, 6, bo.Workers)
	assert.Equal(t, "watch", bo.Mode)

	so := cfg.ScannerOptions()
	assert.Equal(t, "k", so.HeliusAPIKey)
	assert.Equal(t, scanner.SourceHelius, so.Source)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{SolanaRPCURL: "http://rpc", Workers: 2, LogLevel: "info", WatchCron: "@hourly"}
	}

	require.NoError(t, base().Validate())

	c := base()
	c.TxSource = scanner.SourceHelius
	assert.ErrorIs(t, c.Validate(), ErrInvalid)

	c = base()
	c.SolanaRPCURL = ""
	assert.ErrorIs(t, c.Validate(), ErrInvalid)

	c = base()
	c.TxSource = "etherscan"
	assert.ErrorIs(t, c.Validate(), ErrInvalid)

	c = base()
	c.Workers = 0
	assert.ErrorIs(t, c.Validate(), ErrInvalid)

	c = base()
	c.GateMinConfidence = "extreme"
	assert.ErrorIs(t, c.Validate(), ErrInvalid)

	c = base()
	c.LogLevel = "loud"
	assert.ErrorIs(t, c.Validate(), ErrInvalid)
}

func TestSchedule(t *testing.T) {
	c := &Config{WatchCron: "*/15 * * * *"}
	s, err := c.Schedule()
	require.NoError(t, err)
	from := time.Date(2024, 1, 1, 10, 7, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 15, 0, 0, time.UTC), s.Next(from))

	c.WatchCron = "every tuesday"
	_, err = c.Schedule()
	assert.ErrorIs(t, err, ErrInvalid)
}
