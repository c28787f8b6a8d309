// Package chainadapter wires the pure strategy/auction-manager logic to
// the ledger RPC client and signer: it is the only place in the module
// that turns a UserPositions/AuctionData/Request list into a ledger read
// or a signed, submitted transaction. Every ledger-entry value it reads
// or writes is a plain decimal string or small JSON object rather than
// real Soroban XDR, matching the simplification internal/chainrpc already
// applies to balance entries — see DESIGN.md.
package chainadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/blackhole-labs/blend-liquidator/internal/chainrpc"
	"github.com/blackhole-labs/blend-liquidator/pkg/auctioneer"
	"github.com/blackhole-labs/blend-liquidator/pkg/signer"
	"github.com/blackhole-labs/blend-liquidator/pkg/types"
)

// PriceWriter is the subset of the storage adapter the oracle refresh
// path needs to persist freshly read prices.
type PriceWriter interface {
	UpsertAssetPrice(asset common.Address, price *big.Int) error
}

// Adapter is the chain-facing implementation of every external
// collaborator interface the auctioneer and liquidator strategies depend
// on (PositionFetcher, OracleRefresher, AuctionDataFetcher, BankrollSyncer,
// Submitter, ActionEmitter, ratecache.ReserveFetcher).
type Adapter struct {
	client   chainrpc.Client
	signer   *signer.Signer
	prices   PriceWriter
	oracleID common.Address
	assets   []common.Address
	backstopToken common.Address
}

// New constructs a chain adapter. assets is the full tracked-asset list
// used by the periodic oracle refresh sweep.
func New(client chainrpc.Client, signer *signer.Signer, prices PriceWriter, oracleID, backstopToken common.Address, assets []common.Address) *Adapter {
	return &Adapter{client: client, signer: signer, prices: prices, oracleID: oracleID, backstopToken: backstopToken, assets: assets}
}

func positionKey(pool, user common.Address) string {
	return fmt.Sprintf("position:%s:%s", pool.Hex(), user.Hex())
}

type positionWire struct {
	Collateral map[string]string `json:"collateral"`
	Liabilities map[string]string `json:"liabilities"`
}

// FetchUserPositions implements auctioneer.PositionFetcher and the
// liquidator's own-position read path: it reads the (pool, user) position
// ledger entry and decodes its collateral/liability balances.
func (a *Adapter) FetchUserPositions(ctx context.Context, pool, user common.Address) (*types.UserPositions, error) {
	entries, err := a.client.GetLedgerEntries(ctx, []string{positionKey(pool, user)})
	if err != nil {
		return nil, fmt.Errorf("chainadapter: fetch positions for %s/%s: %w", pool.Hex(), user.Hex(), err)
	}
	pos := types.NewUserPositions()
	if len(entries) == 0 {
		return pos, nil
	}

	var wire positionWire
	if err := json.Unmarshal(entries[0].Value, &wire); err != nil {
		return nil, fmt.Errorf("chainadapter: decode positions for %s/%s: %w", pool.Hex(), user.Hex(), err)
	}
	for assetHex, amt := range wire.Collateral {
		n, ok := new(big.Int).SetString(amt, 10)
		if !ok {
			return nil, fmt.Errorf("chainadapter: undecodable collateral amount %q", amt)
		}
		pos.Collateral[common.HexToAddress(assetHex)] = n
	}
	for assetHex, amt := range wire.Liabilities {
		n, ok := new(big.Int).SetString(amt, 10)
		if !ok {
			return nil, fmt.Errorf("chainadapter: undecodable liability amount %q", amt)
		}
		pos.Liabilities[common.HexToAddress(assetHex)] = n
	}
	return pos, nil
}

func priceKey(oracleID, asset common.Address) string {
	return fmt.Sprintf("price:%s:%s", oracleID.Hex(), asset.Hex())
}

// RefreshOraclePrices implements auctioneer.OracleRefresher: it re-reads
// every tracked asset's oracle price and upserts it into storage (spec.md
// §4.1's 10-block sweep).
func (a *Adapter) RefreshOraclePrices(ctx context.Context) error {
	keys := make([]string, len(a.assets))
	for i, asset := range a.assets {
		keys[i] = priceKey(a.oracleID, asset)
	}
	entries, err := a.client.GetLedgerEntries(ctx, keys)
	if err != nil {
		return fmt.Errorf("chainadapter: refresh oracle prices: %w", err)
	}
	for i, e := range entries {
		if i >= len(a.assets) {
			break
		}
		price, ok := new(big.Int).SetString(string(e.Value), 10)
		if !ok {
			return fmt.Errorf("chainadapter: undecodable price entry for %s", a.assets[i].Hex())
		}
		if err := a.prices.UpsertAssetPrice(a.assets[i], price); err != nil {
			return fmt.Errorf("chainadapter: persist price for %s: %w", a.assets[i].Hex(), err)
		}
	}
	return nil
}

func reserveKey(pool, asset common.Address) string {
	return fmt.Sprintf("reserve:%s:%s", pool.Hex(), asset.Hex())
}

type reserveWire struct {
	Index   uint32 `json:"index"`
	CFactor string `json:"c_factor"`
	LFactor string `json:"l_factor"`
	BRate   string `json:"b_rate"`
	DRate   string `json:"d_rate"`
	Scalar  string `json:"scalar"`
}

// FetchReserveConfig implements ratecache.ReserveFetcher: the recovery
// path after a rate-cache invalidation (spec.md §4.3).
func (a *Adapter) FetchReserveConfig(ctx context.Context, pool, asset common.Address) (*types.ReserveConfig, error) {
	entries, err := a.client.GetLedgerEntries(ctx, []string{reserveKey(pool, asset)})
	if err != nil {
		return nil, fmt.Errorf("chainadapter: fetch reserve config for %s/%s: %w", pool.Hex(), asset.Hex(), err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("chainadapter: no reserve config for %s/%s", pool.Hex(), asset.Hex())
	}
	var wire reserveWire
	if err := json.Unmarshal(entries[0].Value, &wire); err != nil {
		return nil, fmt.Errorf("chainadapter: decode reserve config for %s/%s: %w", pool.Hex(), asset.Hex(), err)
	}
	rc := &types.ReserveConfig{Pool: pool, Asset: asset, Index: wire.Index}
	for _, f := range []struct {
		s string
		d **big.Int
	}{{wire.CFactor, &rc.CFactor}, {wire.LFactor, &rc.LFactor}, {wire.BRate, &rc.EstBRate}, {wire.DRate, &rc.EstDRate}, {wire.Scalar, &rc.Scalar}} {
		n, ok := new(big.Int).SetString(f.s, 10)
		if !ok {
			return nil, fmt.Errorf("chainadapter: undecodable reserve field %q", f.s)
		}
		*f.d = n
	}
	return rc, nil
}

func auctionKey(pool, user common.Address, auctionType int) string {
	return fmt.Sprintf("auction:%s:%s:%d", pool.Hex(), user.Hex(), auctionType)
}

type auctionWire struct {
	Lot        map[string]string `json:"lot"`
	Bid        map[string]string `json:"bid"`
	StartBlock uint32            `json:"start_block"`
}

// FetchAuctionData implements liquidator.AuctionDataFetcher.
func (a *Adapter) FetchAuctionData(ctx context.Context, pool, user common.Address, auctionType int) (types.AuctionData, error) {
	entries, err := a.client.GetLedgerEntries(ctx, []string{auctionKey(pool, user, auctionType)})
	if err != nil {
		return types.AuctionData{}, fmt.Errorf("chainadapter: fetch auction data for %s/%s: %w", pool.Hex(), user.Hex(), err)
	}
	data := types.AuctionData{Lot: map[common.Address]*big.Int{}, Bid: map[common.Address]*big.Int{}}
	if len(entries) == 0 {
		return data, nil
	}
	var wire auctionWire
	if err := json.Unmarshal(entries[0].Value, &wire); err != nil {
		return types.AuctionData{}, fmt.Errorf("chainadapter: decode auction data for %s/%s: %w", pool.Hex(), user.Hex(), err)
	}
	data.StartBlock = wire.StartBlock
	for assetHex, amt := range wire.Lot {
		n, ok := new(big.Int).SetString(amt, 10)
		if !ok {
			return types.AuctionData{}, fmt.Errorf("chainadapter: undecodable lot amount %q", amt)
		}
		data.Lot[common.HexToAddress(assetHex)] = n
	}
	for assetHex, amt := range wire.Bid {
		n, ok := new(big.Int).SetString(amt, 10)
		if !ok {
			return types.AuctionData{}, fmt.Errorf("chainadapter: undecodable bid amount %q", amt)
		}
		data.Bid[common.HexToAddress(assetHex)] = n
	}
	return data, nil
}

// SyncPoolPositions implements liquidator.BankrollSyncer: the agent's own
// position within pool, under its signer's address.
func (a *Adapter) SyncPoolPositions(ctx context.Context, pool common.Address) (*types.UserPositions, error) {
	return a.FetchUserPositions(ctx, pool, a.signer.Address())
}

// SyncWallet implements liquidator.BankrollSyncer: spot wallet balances
// for the listed assets, via the token contracts' balance entries.
func (a *Adapter) SyncWallet(ctx context.Context, assets []common.Address) (map[common.Address]*big.Int, error) {
	out := make(map[common.Address]*big.Int, len(assets))
	for _, asset := range assets {
		bal, err := a.client.GetBalance(ctx, asset, a.signer.Address())
		if err != nil {
			return nil, fmt.Errorf("chainadapter: sync wallet balance for %s: %w", asset.Hex(), err)
		}
		out[asset] = bal
	}
	return out, nil
}

// SyncBackstopBalance implements liquidator.BankrollSyncer: the agent's
// own backstop-token holding, the interest planner's bid ceiling.
func (a *Adapter) SyncBackstopBalance(ctx context.Context) (*big.Int, error) {
	bal, err := a.client.GetBalance(ctx, a.backstopToken, a.signer.Address())
	if err != nil {
		return nil, fmt.Errorf("chainadapter: sync backstop balance: %w", err)
	}
	return bal, nil
}

type requestWire struct {
	RequestType uint32 `json:"request_type"`
	Address     string `json:"address"`
	Amount      string `json:"amount"`
}

func encodeRequests(requests []types.Request) ([]byte, error) {
	wire := make([]requestWire, len(requests))
	for i, r := range requests {
		amount := "0"
		if r.Amount != nil {
			amount = r.Amount.String()
		}
		wire[i] = requestWire{RequestType: r.RequestType, Address: r.Address.Hex(), Amount: amount}
	}
	return json.Marshal(wire)
}

// Submit implements liquidator.Submitter: it simulates the built request
// list, signs the simulation's result envelope, and submits it. A failed
// simulation is a hard error — the strategy does not retry a submit.
func (a *Adapter) Submit(ctx context.Context, requests []types.Request, gasBid types.GasBidInfo) error {
	return a.signAndSubmit(ctx, requests)
}

type actionWire struct {
	Kind string `json:"kind"`
	Pool string `json:"pool"`
	User string `json:"user"`
	Pct  int64  `json:"pct"`
}

// Emit implements auctioneer.ActionEmitter: it turns a protocol action
// (new_liquidation_auction / bad_debt / new_bad_debt_auction) into a
// single call against the pool contract.
func (a *Adapter) Emit(ctx context.Context, action auctioneer.Action) error {
	payload, err := json.Marshal(actionWire{
		Kind: string(action.Kind), Pool: action.Pool.Hex(), User: action.User.Hex(), Pct: action.Pct,
	})
	if err != nil {
		return fmt.Errorf("chainadapter: encode action: %w", err)
	}
	return a.simulateAndSubmit(ctx, payload)
}

func (a *Adapter) signAndSubmit(ctx context.Context, requests []types.Request) error {
	payload, err := encodeRequests(requests)
	if err != nil {
		return fmt.Errorf("chainadapter: encode requests: %w", err)
	}
	return a.simulateAndSubmit(ctx, payload)
}

func (a *Adapter) simulateAndSubmit(ctx context.Context, payload []byte) error {
	sim, err := a.client.Simulate(ctx, string(payload))
	if err != nil {
		return fmt.Errorf("chainadapter: simulate: %w", err)
	}
	if !sim.Success {
		return fmt.Errorf("chainadapter: simulation rejected: %s", sim.Error)
	}

	sig := a.signer.Sign([]byte(sim.ResultXDR))
	envelope := fmt.Sprintf("%s:%x", sim.ResultXDR, sig)

	if err := a.client.SubmitTransaction(ctx, envelope); err != nil {
		return fmt.Errorf("chainadapter: submit: %w", err)
	}
	return nil
}
