package price

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
)

const DefaultDexScreenerURL = "https://api.dexscreener.com"

// DexScreener prices a mint from its deepest SOL-quoted pool. Free, no key.
type DexScreener struct {
	baseURL string
	http    httpGetter
}

func NewDexScreener(baseURL string, client *http.Client) *DexScreener {
	if baseURL == "" {
		baseURL = DefaultDexScreenerURL
	}
	return &DexScreener{baseURL: strings.TrimRight(baseURL, "/"), http: newHTTPGetter(client)}
}

func (d *DexScreener) Name() string { return "dexscreener" }

func (d *DexScreener) FetchPrice(ctx context.Context, mint string, _ time.Time) Result {
	url := fmt.Sprintf("%s/latest/dex/tokens/%s", d.baseURL, mint)
	body, res := d.http.getJSON(ctx, url, map[string]string{"Referer": "https://dexscreener.com/"})
	if res.Outcome != OutcomeOK {
		return res
	}

	var payload struct {
		Pairs []struct {
			ChainID     string `json:"chainId"`
			PriceNative string `json:"priceNative"`
			BaseToken   struct {
				Address string `json:"address"`
			} `json:"baseToken"`
			QuoteToken struct {
				Address string `json:"address"`
			} `json:"quoteToken"`
			Liquidity struct {
				USD float64 `json:"usd"`
			} `json:"liquidity"`
		} `json:"pairs"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return failed(OutcomeUnavailable, fmt.Errorf("decode dexscreener: %w", err))
	}

	wsol := solana.WrappedSol.String()
	best := Result{Outcome: OutcomeNotFound, Err: fmt.Errorf("no SOL pair for %s", mint)}
	bestLiq := -1.0
	for _, p := range payload.Pairs {
		if p.ChainID != "solana" || p.BaseToken.Address != mint || p.QuoteToken.Address != wsol {
			continue
		}
		price, _ := strconv.ParseFloat(p.PriceNative, 64)
		if price <= 0 || p.Liquidity.USD <= bestLiq {
			continue
		}
		bestLiq = p.Liquidity.USD
		best = Result{Price: price, LiquidityUSD: p.Liquidity.USD, Outcome: OutcomeOK}
	}
	return best
}
