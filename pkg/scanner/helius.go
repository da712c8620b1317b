package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/combat-report/pkg/db"
)

const DefaultHeliusURL = "https://api.helius.xyz"

// Helius reads the enhanced transaction history of an address, paging
// backwards with the `before` cursor.
type Helius struct {
	apiKey   string
	baseURL  string
	client   *http.Client
	pageSize int
	maxTxs   int
}

func NewHelius(apiKey, baseURL string, client *http.Client, pageSize, maxTxs int) *Helius {
	if baseURL == "" {
		baseURL = DefaultHeliusURL
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if maxTxs <= 0 {
		maxTxs = DefaultMaxTxs
	}
	return &Helius{apiKey: apiKey, baseURL: strings.TrimRight(baseURL, "/"), client: client, pageSize: pageSize, maxTxs: maxTxs}
}

func (h *Helius) Name() string { return SourceHelius }

type heliusTx struct {
	Signature        string          `json:"signature"`
	Timestamp        int64           `json:"timestamp"`
	Type             string          `json:"type"`
	Source           string          `json:"source"`
	Fee              int64           `json:"fee"`
	FeePayer         string          `json:"feePayer"`
	TransactionError json.RawMessage `json:"transactionError"`
	TokenTransfers   []struct {
		Mint            string  `json:"mint"`
		FromUserAccount string  `json:"fromUserAccount"`
		ToUserAccount   string  `json:"toUserAccount"`
		TokenAmount     float64 `json:"tokenAmount"`
	} `json:"tokenTransfers"`
	NativeTransfers []struct {
		FromUserAccount string `json:"fromUserAccount"`
		ToUserAccount   string `json:"toUserAccount"`
		Amount          int64  `json:"amount"`
	} `json:"nativeTransfers"`
}

func (h *Helius) FetchTransactions(ctx context.Context, wallet string) ([]db.Transaction, error) {
	if h.apiKey == "" {
		return nil, fatal("helius", ErrMissingCredential)
	}

	var out []db.Transaction
	before := ""
	pages := 0
	for len(out) < h.maxTxs {
		page, err := h.page(ctx, wallet, before)
		if err != nil {
			return nil, err
		}
		pages++
		for _, p := range page {
			if tx, ok := toTransaction(p, wallet); ok {
				out = append(out, tx)
			}
		}
		if len(page) < h.pageSize {
			break
		}
		before = page[len(page)-1].Signature
	}
	if len(out) > h.maxTxs {
		out = out[:h.maxTxs]
	}

	log.Debug().Str("wallet", abbrev(wallet)).Int("pages", pages).Int("txs", len(out)).Msg("helius history read")
	return out, nil
}

func (h *Helius) page(ctx context.Context, wallet, before string) ([]heliusTx, error) {
	q := url.Values{}
	q.Set("api-key", h.apiKey)
	q.Set("type", "SWAP") // MAX_TXS counts swaps only
	q.Set("limit", fmt.Sprint(h.pageSize))
	if before != "" {
		q.Set("before", before)
	}
	endpoint := fmt.Sprintf("%s/v0/addresses/%s/transactions?%s", h.baseURL, url.PathEscape(wallet), q.Encode())

	body, err := h.getJSON(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	var page []heliusTx
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fatal("helius decode", err)
	}
	return page, nil
}

// getJSON classifies every failure so the retry wrapper can act on it.
func (h *Helius) getJSON(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, fatal("helius request", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, classifyNetErr("helius", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, classifyStatus("helius", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20)) // 10MB max
	if err != nil {
		return nil, classifyNetErr("helius", err)
	}
	return body, nil
}

// toTransaction keeps only the wallet's own side of every transfer. Native
// transfers exclude the network fee, which is carried separately.
func toTransaction(p heliusTx, wallet string) (db.Transaction, bool) {
	if p.Signature == "" || isTxError(p.TransactionError) {
		return db.Transaction{}, false
	}

	tx := db.Transaction{
		Signature: p.Signature,
		Timestamp: time.Unix(p.Timestamp, 0),
		Wallet:    wallet,
		Source:    p.Source,
	}
	if p.FeePayer == wallet {
		tx.Fee = lamportsToSOL(p.Fee)
	}

	var lamports int64
	for _, nt := range p.NativeTransfers {
		if nt.ToUserAccount == wallet {
			lamports += nt.Amount
		}
		if nt.FromUserAccount == wallet {
			lamports -= nt.Amount
		}
	}
	tx.NativeDelta = lamportsToSOL(lamports)

	byMint := map[string]float64{}
	var order []string
	for _, tt := range p.TokenTransfers {
		var amt float64
		switch {
		case tt.ToUserAccount == wallet && tt.FromUserAccount == wallet:
			continue
		case tt.ToUserAccount == wallet:
			amt = tt.TokenAmount
		case tt.FromUserAccount == wallet:
			amt = -tt.TokenAmount
		default:
			continue
		}
		if _, seen := byMint[tt.Mint]; !seen {
			order = append(order, tt.Mint)
		}
		byMint[tt.Mint] += amt
	}
	for _, m := range order {
		tx.TokenDeltas = append(tx.TokenDeltas, db.TokenDelta{Mint: m, Amount: byMint[m]})
	}
	return tx, true
}

func isTxError(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s != "" && s != "null"
}

func classifyStatus(op string, code int) error {
	err := fmt.Errorf("HTTP %d", code)
	switch {
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout, code >= 500:
		return transient(op, err)
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return fatal(op, fmt.Errorf("%w: %v", ErrMissingCredential, err))
	default:
		return fatal(op, err)
	}
}

func classifyNetErr(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return fatal(op, err)
	}
	return transient(op, err)
}
