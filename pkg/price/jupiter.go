package price

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
)

const DefaultJupiterURL = "https://api.jup.ag/swap/v1/quote"

// Most SPL mints use 6 or 9 decimals; 8 covers bridged assets.
var quoteDecimals = []int{6, 9, 8}

// Jupiter prices a mint by asking for a swap quote of one token into WSOL.
// The mint's decimals are unknown here, so a few common ones are tried and
// the first quote inside a plausible range wins.
type Jupiter struct {
	endpoint string
	apiKey   string
	http     httpGetter
}

func NewJupiter(endpoint, apiKey string, client *http.Client) *Jupiter {
	if endpoint == "" {
		endpoint = DefaultJupiterURL
	}
	return &Jupiter{endpoint: endpoint, apiKey: apiKey, http: newHTTPGetter(client)}
}

func (j *Jupiter) Name() string { return "jupiter" }

func (j *Jupiter) FetchPrice(ctx context.Context, mint string, _ time.Time) Result {
	headers := map[string]string{}
	if j.apiKey != "" {
		headers["x-api-key"] = j.apiKey
	}

	last := failed(OutcomeNotFound, fmt.Errorf("no route for %s", mint))
	for _, dec := range quoteDecimals {
		amount := uint64(math.Pow10(dec))
		q := url.Values{}
		q.Set("inputMint", mint)
		q.Set("outputMint", solana.WrappedSol.String())
		q.Set("amount", strconv.FormatUint(amount, 10))
		q.Set("slippageBps", "50")

		body, res := j.http.getJSON(ctx, j.endpoint+"?"+q.Encode(), headers)
		if res.Outcome != OutcomeOK {
			if res.Outcome != OutcomeNotFound {
				return res
			}
			last = res
			continue
		}

		var quote struct {
			OutAmount string `json:"outAmount"`
		}
		if err := json.Unmarshal(body, &quote); err != nil {
			return failed(OutcomeUnavailable, fmt.Errorf("decode jupiter quote: %w", err))
		}
		out, _ := strconv.ParseUint(quote.OutAmount, 10, 64)
		if out == 0 {
			continue
		}
		price := float64(out) / float64(solana.LAMPORTS_PER_SOL)
		if price >= 1e-6 && price <= 1000 {
			return Result{Price: price, Outcome: OutcomeOK}
		}
	}
	return last
}
