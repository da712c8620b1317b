package price

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// Outcome classifies one price lookup so callers can apply retry policy
// without inspecting error types.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeRateLimited
	OutcomeTimeout
	OutcomeUnavailable // network error or 5xx
	OutcomeNotFound    // no pool / no route for the mint
	OutcomeFatal       // bad credential, malformed request
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeUnavailable:
		return "unavailable"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeFatal:
		return "fatal"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Transient reports whether a retry may succeed.
func (o Outcome) Transient() bool {
	return o == OutcomeRateLimited || o == OutcomeTimeout || o == OutcomeUnavailable
}

// Result is what a Source returns for one mint.
type Result struct {
	Price        float64 // SOL per token
	LiquidityUSD float64
	At           time.Time // when the source observed the price; zero means "now"
	Outcome      Outcome
	Err          error
}

func failed(o Outcome, err error) Result { return Result{Outcome: o, Err: err} }

// Source is a market-data API able to price a mint in SOL.
type Source interface {
	Name() string
	FetchPrice(ctx context.Context, mint string, at time.Time) Result
}

// Chain asks each source in turn and returns the first OK result.
// When none succeeds, a transient failure wins over a permanent one so the
// caller keeps retrying while any source might still answer.
type Chain []Source

func (c Chain) Name() string { return "chain" }

func (c Chain) FetchPrice(ctx context.Context, mint string, at time.Time) Result {
	res := failed(OutcomeNotFound, errors.New("no price source configured"))
	transient := false
	for _, src := range c {
		r := src.FetchPrice(ctx, mint, at)
		if r.Outcome == OutcomeOK {
			return r
		}
		if r.Err != nil {
			r.Err = fmt.Errorf("%s: %w", src.Name(), r.Err)
		}
		if r.Outcome.Transient() {
			res, transient = r, true
		} else if !transient {
			res = r
		}
		if ctx.Err() != nil {
			break
		}
	}
	return res
}

// ---- HTTP plumbing shared by the sources ----

type httpGetter struct {
	client *http.Client
}

func newHTTPGetter(client *http.Client) httpGetter {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return httpGetter{client: client}
}

// getJSON returns the body of a 200 response, or a classified failure.
func (g httpGetter) getJSON(ctx context.Context, url string, headers map[string]string) ([]byte, Result) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, failed(OutcomeFatal, err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, failed(classifyNetErr(err), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, failed(classifyStatus(resp.StatusCode), fmt.Errorf("HTTP %d", resp.StatusCode))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20)) // 10MB max
	if err != nil {
		return nil, failed(classifyNetErr(err), err)
	}
	return body, Result{Outcome: OutcomeOK}
}

func classifyStatus(code int) Outcome {
	switch {
	case code == http.StatusTooManyRequests:
		return OutcomeRateLimited
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return OutcomeTimeout
	case code >= 500:
		return OutcomeUnavailable
	case code == http.StatusBadRequest || code == http.StatusNotFound:
		return OutcomeNotFound
	default:
		return OutcomeFatal
	}
}

func classifyNetErr(err error) Outcome {
	if errors.Is(err, context.DeadlineExceeded) {
		return OutcomeTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return OutcomeTimeout
	}
	return OutcomeUnavailable
}
