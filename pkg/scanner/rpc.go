package scanner

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/rs/zerolog/log"

	"github.com/combat-report/pkg/db"
)

// ── Solana JSON-RPC source ──────────────────────────────────
// Used when no Helius key is configured. Balance deltas come from the
// pre/post balances the node reports for each transaction.

// node-side rate limit / overloaded codes
const rpcCodeNodeBehind = -32005

type RPC struct {
	client   *rpc.Client
	pageSize int
	maxTxs   int
}

func NewRPC(rpcURL string, pageSize, maxTxs int) *RPC {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if maxTxs <= 0 {
		maxTxs = DefaultMaxTxs
	}
	return &RPC{client: rpc.New(rpcURL), pageSize: pageSize, maxTxs: maxTxs}
}

func (r *RPC) Name() string { return SourceRPC }

func (r *RPC) FetchTransactions(ctx context.Context, wallet string) ([]db.Transaction, error) {
	owner, err := solana.PublicKeyFromBase58(wallet)
	if err != nil {
		return nil, fatal("rpc address", err)
	}

	sigs, err := r.signatures(ctx, owner)
	if err != nil {
		return nil, err
	}

	var out []db.Transaction
	var skipped int
	zero := uint64(0)
	for _, s := range sigs {
		res, err := r.client.GetTransaction(ctx, s.Signature, &rpc.GetTransactionOpts{
			Commitment:                     rpc.CommitmentConfirmed,
			MaxSupportedTransactionVersion: &zero,
		})
		if errors.Is(err, rpc.ErrNotFound) {
			skipped++
			continue
		}
		if err != nil {
			return nil, classifyRPCErr("rpc getTransaction", err)
		}
		tx, ok := balanceDeltas(res, s.Signature, owner)
		if !ok {
			skipped++
			continue
		}
		out = append(out, tx)
	}

	log.Debug().Str("wallet", abbrev(wallet)).Int("sigs", len(sigs)).Int("txs", len(out)).
		Int("skipped", skipped).Str("mode", "rpc").Msg("scanned solana")
	return out, nil
}

// signatures pages backwards through the address history, dropping failed
// transactions up front.
func (r *RPC) signatures(ctx context.Context, owner solana.PublicKey) ([]*rpc.TransactionSignature, error) {
	var out []*rpc.TransactionSignature
	var before solana.Signature
	for len(out) < r.maxTxs {
		limit := r.pageSize
		page, err := r.client.GetSignaturesForAddressWithOpts(ctx, owner, &rpc.GetSignaturesForAddressOpts{
			Limit:      &limit,
			Before:     before,
			Commitment: rpc.CommitmentConfirmed,
		})
		if err != nil {
			return nil, classifyRPCErr("rpc getSignaturesForAddress", err)
		}
		for _, s := range page {
			if s.Err == nil {
				out = append(out, s)
			}
		}
		if len(page) < r.pageSize {
			break
		}
		before = page[len(page)-1].Signature
	}
	if len(out) > r.maxTxs {
		out = out[:r.maxTxs]
	}
	return out, nil
}

// balanceDeltas reads the owner's native and token balance changes. The fee
// is added back to the native delta when the owner paid it, so the delta
// matches what the Helius source reports.
func balanceDeltas(res *rpc.GetTransactionResult, sig solana.Signature, owner solana.PublicKey) (db.Transaction, bool) {
	if res == nil || res.Meta == nil || res.Meta.Err != nil || res.Transaction == nil {
		return db.Transaction{}, false
	}
	parsed, err := res.Transaction.GetTransaction()
	if err != nil || parsed == nil {
		return db.Transaction{}, false
	}

	tx := db.Transaction{
		Signature: sig.String(),
		Wallet:    owner.String(),
		Source:    SourceRPC,
	}
	if res.BlockTime != nil {
		tx.Timestamp = res.BlockTime.Time()
	}

	meta := res.Meta
	for i, key := range parsed.Message.AccountKeys {
		if !key.Equals(owner) || i >= len(meta.PreBalances) || i >= len(meta.PostBalances) {
			continue
		}
		lamports := int64(meta.PostBalances[i]) - int64(meta.PreBalances[i])
		if i == 0 {
			lamports += int64(meta.Fee)
			tx.Fee = lamportsToSOL(int64(meta.Fee))
		}
		tx.NativeDelta = lamportsToSOL(lamports)
		break
	}

	byMint := map[string]float64{}
	var order []string
	add := func(bal rpc.TokenBalance, sign float64) {
		if bal.Owner == nil || !bal.Owner.Equals(owner) || bal.UiTokenAmount == nil {
			return
		}
		mint := bal.Mint.String()
		if _, seen := byMint[mint]; !seen {
			order = append(order, mint)
		}
		byMint[mint] += sign * parseFloat(bal.UiTokenAmount.UiAmountString)
	}
	for _, b := range meta.PostTokenBalances {
		add(b, 1)
	}
	for _, b := range meta.PreTokenBalances {
		add(b, -1)
	}
	for _, m := range order {
		if byMint[m] != 0 {
			tx.TokenDeltas = append(tx.TokenDeltas, db.TokenDelta{Mint: m, Amount: byMint[m]})
		}
	}
	return tx, true
}

func classifyRPCErr(op string, err error) error {
	var httpErr *jsonrpc.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.Code == http.StatusTooManyRequests || httpErr.Code >= 500 {
			return transient(op, err)
		}
		return fatal(op, fmt.Errorf("HTTP %d: %w", httpErr.Code, err))
	}
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		if rpcErr.Code == rpcCodeNodeBehind || rpcErr.Code == http.StatusTooManyRequests {
			return transient(op, err)
		}
		return fatal(op, err)
	}
	return classifyNetErr(op, err)
}
