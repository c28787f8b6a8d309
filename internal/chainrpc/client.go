// Package chainrpc is the thin boundary to the ledger RPC client
// described in spec.md §1/§2 as an external collaborator: simulate,
// get-ledger-entries, get-balance. The core only ever depends on the
// Client interface below; this package's job is to turn those three
// request/response calls into Go method calls over the chain's JSON-RPC
// endpoint.
package chainrpc

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
)

// Client is the contract the core consumes. Every method may block on
// network I/O; callers are expected to wrap retries themselves (spec.md
// §4.1/§5 — retry policy lives in the ingestor, not here).
type Client interface {
	Simulate(ctx context.Context, txEnvelopeXDR string) (SimulateResult, error)
	GetLedgerEntries(ctx context.Context, keys []string) ([]LedgerEntry, error)
	GetBalance(ctx context.Context, contract, account common.Address) (*big.Int, error)
	GetLatestLedger(ctx context.Context) (uint32, error)
	GetEvents(ctx context.Context, startLedger uint32) ([]ContractEventRecord, uint32, error)
	SubmitTransaction(ctx context.Context, signedEnvelope string) error
	Close()
}

// sorobanClient is a Client backed by a plain JSON-RPC connection to the
// network's RPC endpoint (rpc_url in config, spec.md §6).
type sorobanClient struct {
	rpc     *rpc.Client
	timeout time.Duration
}

// Dial connects to the ledger RPC endpoint. timeout bounds every
// individual call; the ingestor counts an expiry as one retry attempt
// (spec.md §5).
func Dial(ctx context.Context, url string, timeout time.Duration) (Client, error) {
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("chainrpc: dial %s: %w", url, err)
	}
	return &sorobanClient{rpc: c, timeout: timeout}, nil
}

func (c *sorobanClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

type simulateRPCResult struct {
	Error     string `json:"error"`
	MinFee    int64  `json:"minResourceFee,string"`
	ResultXDR string `json:"resultXdr"`
}

// Simulate calls the network's simulateTransaction RPC method.
func (c *sorobanClient) Simulate(ctx context.Context, txEnvelopeXDR string) (SimulateResult, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var resp simulateRPCResult
	if err := c.rpc.CallContext(ctx, &resp, "simulateTransaction", map[string]string{
		"transaction": txEnvelopeXDR,
	}); err != nil {
		return SimulateResult{}, fmt.Errorf("chainrpc: simulateTransaction: %w", err)
	}

	return SimulateResult{
		Success:   resp.Error == "",
		MinFee:    resp.MinFee,
		ResultXDR: resp.ResultXDR,
		Error:     resp.Error,
	}, nil
}

type ledgerEntryRPCResult struct {
	Entries []struct {
		Key string `json:"key"`
		XDR string `json:"xdr"`
	} `json:"entries"`
}

// GetLedgerEntries calls the network's getLedgerEntries RPC method for a
// batch of base64-encoded ledger keys.
func (c *sorobanClient) GetLedgerEntries(ctx context.Context, keys []string) ([]LedgerEntry, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var resp ledgerEntryRPCResult
	if err := c.rpc.CallContext(ctx, &resp, "getLedgerEntries", map[string][]string{"keys": keys}); err != nil {
		return nil, fmt.Errorf("chainrpc: getLedgerEntries: %w", err)
	}

	out := make([]LedgerEntry, len(resp.Entries))
	for i, e := range resp.Entries {
		out[i] = LedgerEntry{Key: e.Key, Value: []byte(e.XDR)}
	}
	return out, nil
}

// GetBalance reads a SAC (Stellar Asset Contract)-style token balance via
// a read-only ledger-entry lookup rather than a state-changing call.
func (c *sorobanClient) GetBalance(ctx context.Context, contract, account common.Address) (*big.Int, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	key := balanceLedgerKey(contract, account)
	entries, err := c.getLedgerEntriesNoTimeout(ctx, []string{key})
	if err != nil {
		return nil, fmt.Errorf("chainrpc: get-balance for %s/%s: %w", contract.Hex(), account.Hex(), err)
	}
	if len(entries) == 0 {
		return big.NewInt(0), nil
	}
	return decodeBalanceEntry(entries[0])
}

func (c *sorobanClient) getLedgerEntriesNoTimeout(ctx context.Context, keys []string) ([]LedgerEntry, error) {
	var resp ledgerEntryRPCResult
	if err := c.rpc.CallContext(ctx, &resp, "getLedgerEntries", map[string][]string{"keys": keys}); err != nil {
		return nil, err
	}
	out := make([]LedgerEntry, len(resp.Entries))
	for i, e := range resp.Entries {
		out[i] = LedgerEntry{Key: e.Key, Value: []byte(e.XDR)}
	}
	return out, nil
}

func balanceLedgerKey(contract, account common.Address) string {
	return fmt.Sprintf("balance:%s:%s", contract.Hex(), account.Hex())
}

func decodeBalanceEntry(e LedgerEntry) (*big.Int, error) {
	v, ok := new(big.Int).SetString(string(e.Value), 10)
	if !ok {
		return nil, fmt.Errorf("chainrpc: undecodable balance entry for key %s", e.Key)
	}
	return v, nil
}

type latestLedgerRPCResult struct {
	Sequence uint32 `json:"sequence"`
}

// GetLatestLedger reports the chain's current ledger (block) number, used
// by the collector loop to know how far it can safely page forward.
func (c *sorobanClient) GetLatestLedger(ctx context.Context) (uint32, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var resp latestLedgerRPCResult
	if err := c.rpc.CallContext(ctx, &resp, "getLatestLedger"); err != nil {
		return 0, fmt.Errorf("chainrpc: getLatestLedger: %w", err)
	}
	return resp.Sequence, nil
}

type eventsRPCResult struct {
	LatestLedger uint32 `json:"latestLedger"`
	Events       []struct {
		Ledger     uint32   `json:"ledger"`
		Index      uint32   `json:"opIndex"`
		ContractID string   `json:"contractId"`
		Topic      []string `json:"topic"`
		Value      []string `json:"value"`
	} `json:"events"`
}

// GetEvents pages every contract event emitted at or after startLedger, in
// (ledger, opIndex) order, plus the ledger the node considers current.
// Each event's topic[0] names the event per spec.md §6; the remaining
// topic/value entries are the event's positional fields, dynamically typed
// at this boundary per spec.md §9 (address-shaped hex strings become
// common.Address, base-10 digit strings become *big.Int, everything else
// is left as a string).
func (c *sorobanClient) GetEvents(ctx context.Context, startLedger uint32) ([]ContractEventRecord, uint32, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var resp eventsRPCResult
	if err := c.rpc.CallContext(ctx, &resp, "getEvents", map[string]interface{}{
		"startLedger": startLedger,
	}); err != nil {
		return nil, 0, fmt.Errorf("chainrpc: getEvents: %w", err)
	}

	out := make([]ContractEventRecord, 0, len(resp.Events))
	for _, e := range resp.Events {
		if len(e.Topic) == 0 {
			continue
		}
		fields := make([]interface{}, 0, len(e.Topic)-1+len(e.Value))
		for _, t := range e.Topic[1:] {
			fields = append(fields, decodeDynamicField(t))
		}
		for _, v := range e.Value {
			fields = append(fields, decodeDynamicField(v))
		}
		out = append(out, ContractEventRecord{
			Block: e.Ledger, Index: e.Index, Contract: common.HexToAddress(e.ContractID),
			Topic: e.Topic[0], Fields: fields,
		})
	}
	return out, resp.LatestLedger, nil
}

type submitRPCResult struct {
	Status string `json:"status"`
	Error  string `json:"errorResultXdr"`
}

// SubmitTransaction sends a signed transaction envelope for inclusion.
func (c *sorobanClient) SubmitTransaction(ctx context.Context, signedEnvelope string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var resp submitRPCResult
	if err := c.rpc.CallContext(ctx, &resp, "sendTransaction", map[string]string{
		"transaction": signedEnvelope,
	}); err != nil {
		return fmt.Errorf("chainrpc: sendTransaction: %w", err)
	}
	if resp.Status == "ERROR" {
		return fmt.Errorf("chainrpc: transaction rejected: %s", resp.Error)
	}
	return nil
}

func decodeDynamicField(raw string) interface{} {
	if common.IsHexAddress(raw) {
		return common.HexToAddress(raw)
	}
	if n, ok := new(big.Int).SetString(raw, 10); ok {
		return n
	}
	return raw
}

func (c *sorobanClient) Close() {
	c.rpc.Close()
}
