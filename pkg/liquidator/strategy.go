// Package liquidator implements the Bankroll- and pending-fill-owning
// strategy from spec.md §4.6: it tracks every auction worth bidding on,
// re-sizes each one as its target block approaches, and submits a
// request list plus gas-bid info once the projected profit clears the
// floor.
package liquidator

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/blackhole-labs/blend-liquidator/internal/fixedpoint"
	"github.com/blackhole-labs/blend-liquidator/pkg/alert"
	"github.com/blackhole-labs/blend-liquidator/pkg/auctionmanager"
	"github.com/blackhole-labs/blend-liquidator/pkg/evaluator"
	"github.com/blackhole-labs/blend-liquidator/pkg/ingestor"
	"github.com/blackhole-labs/blend-liquidator/pkg/types"
)

// Bankroll is the agent's own tracked state: per-pool positions (for the
// liquidation planner's post-fill health check), spendable wallet
// balances (for the bad-debt planner and build_requests' repay step),
// and total backstop-token holding (for the interest planner).
type Bankroll struct {
	Positions map[common.Address]*types.UserPositions // by pool
	Wallet    map[common.Address]*big.Int             // by asset
	Backstop  *big.Int
}

// NewBankroll returns an empty bankroll.
func NewBankroll() *Bankroll {
	return &Bankroll{
		Positions: make(map[common.Address]*types.UserPositions),
		Wallet:    make(map[common.Address]*big.Int),
		Backstop:  big.NewInt(0),
	}
}

// WalletBalance implements auctionmanager.WalletLookup.
func (b *Bankroll) WalletBalance(asset common.Address) *big.Int {
	if v, ok := b.Wallet[asset]; ok {
		return v
	}
	return big.NewInt(0)
}

// PoolPositions returns (creating if absent) the agent's own tracked
// positions within a pool.
func (b *Bankroll) PoolPositions(pool common.Address) *types.UserPositions {
	pos, ok := b.Positions[pool]
	if !ok {
		pos = types.NewUserPositions()
		b.Positions[pool] = pos
	}
	return pos
}

// BankrollSyncer re-reads the agent's own on-chain state.
type BankrollSyncer interface {
	SyncPoolPositions(ctx context.Context, pool common.Address) (*types.UserPositions, error)
	SyncWallet(ctx context.Context, assets []common.Address) (map[common.Address]*big.Int, error)
	SyncBackstopBalance(ctx context.Context) (*big.Int, error)
}

// AuctionDataFetcher re-reads an auction's current lot/bid schedule from
// the chain.
type AuctionDataFetcher interface {
	FetchAuctionData(ctx context.Context, pool, user common.Address, auctionType int) (types.AuctionData, error)
}

// Submitter is the external collaborator that turns a planned fill into
// a signed transaction.
type Submitter interface {
	Submit(ctx context.Context, requests []types.Request, gasBid types.GasBidInfo) error
}

// RecordKeeper persists a FilledAuctionRecord (spec.md §4.7 audit log).
type RecordKeeper interface {
	RecordFilledAuction(rec *types.FilledAuctionRecord) error
}

// Strategy owns pending_fill: the ordered list of in-flight auctions the
// agent intends to bid on. It implements ingestor.Strategy.
type Strategy struct {
	mu sync.Mutex

	self     common.Address
	pending  []*types.OngoingAuction
	bankroll *Bankroll

	reserves evaluator.ReserveLookup
	prices   evaluator.PriceLookup
	data     AuctionDataFetcher
	syncer   BankrollSyncer
	submit   Submitter
	records  RecordKeeper
	alerter  *alert.Notifier

	supportedCollateral  []common.Address
	supportedLiabilities []common.Address
	minHF                *big.Int
	minProfit            *big.Int
	bidPercentage        uint64
	cooldownBlocks       uint32
}

// New constructs a liquidator strategy. cooldownBlocks is the per-auction
// block_submitted advance after a submit (Config.SubmitCooldownBlocks,
// spec.md §4.4/§9).
func New(
	reserves evaluator.ReserveLookup,
	prices evaluator.PriceLookup,
	data AuctionDataFetcher,
	syncer BankrollSyncer,
	submit Submitter,
	records RecordKeeper,
	alerter *alert.Notifier,
	supportedCollateral, supportedLiabilities []common.Address,
	minHF, minProfit *big.Int,
	bidPercentage uint64,
	cooldownBlocks uint32,
) *Strategy {
	return &Strategy{
		bankroll: NewBankroll(),
		reserves: reserves, prices: prices, data: data, syncer: syncer, submit: submit, records: records, alerter: alerter,
		supportedCollateral: supportedCollateral, supportedLiabilities: supportedLiabilities,
		minHF: minHF, minProfit: minProfit, bidPercentage: bidPercentage,
		cooldownBlocks: cooldownBlocks,
	}
}

func (s *Strategy) Name() string { return "liquidator" }

// ProcessEvent reacts to a decoded chain event, symmetrically to the
// auctioneer (spec.md §4.6).
func (s *Strategy) ProcessEvent(ctx context.Context, ev ingestor.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Topic {
	case ingestor.TopicNewLiquidationAuction:
		return s.trackNewLiquidationAuction(ctx, ev.Pool, ev.User)

	case ingestor.TopicNewAuction:
		return s.trackNewAuction(ctx, ev.Pool, ev.AuctionType)

	case ingestor.TopicDeleteLiquidationAuction:
		s.removePending(types.AuctionKey{Pool: ev.Pool, User: ev.User, AuctionType: types.AuctionTypeUserLiquidation})
		return nil

	case ingestor.TopicFillAuction:
		return s.handleFill(ctx, ev)

	default:
		return nil
	}
}

func (s *Strategy) trackNewLiquidationAuction(ctx context.Context, pool, user common.Address) error {
	data, err := s.data.FetchAuctionData(ctx, pool, user, types.AuctionTypeUserLiquidation)
	if err != nil {
		return fmt.Errorf("liquidator: fetch auction data for %s/%s: %w", pool.Hex(), user.Hex(), err)
	}
	if !s.isSupported(data) {
		return nil
	}
	if err := s.syncBankrollForPool(ctx, pool); err != nil {
		return err
	}

	a := &types.OngoingAuction{Pool: pool, User: user, Data: data, AuctionType: types.AuctionTypeUserLiquidation}
	if _, err := auctionmanager.CalcLiquidationFill(a, s.bankroll.PoolPositions(pool), s.reserves, s.prices, s.minHF, s.minProfit); err != nil {
		return fmt.Errorf("liquidator: size liquidation fill for %s/%s: %w", pool.Hex(), user.Hex(), err)
	}
	s.pending = append(s.pending, a)
	return nil
}

func (s *Strategy) trackNewAuction(ctx context.Context, pool common.Address, auctionType int) error {
	if auctionType != types.AuctionTypeBadDebt && auctionType != types.AuctionTypeInterest {
		return nil
	}
	zero := common.Address{}
	data, err := s.data.FetchAuctionData(ctx, pool, zero, auctionType)
	if err != nil {
		return fmt.Errorf("liquidator: fetch auction data for pool %s type %d: %w", pool.Hex(), auctionType, err)
	}

	a := &types.OngoingAuction{Pool: pool, User: zero, Data: data, AuctionType: auctionType}

	if auctionType == types.AuctionTypeBadDebt {
		if err := s.syncWallet(ctx, data); err != nil {
			return err
		}
		if _, err := auctionmanager.CalcBadDebtFill(a, s.bankroll, s.reserves, s.prices, s.minProfit); err != nil {
			return fmt.Errorf("liquidator: size bad-debt fill for pool %s: %w", pool.Hex(), err)
		}
	} else {
		if err := s.syncBackstop(ctx); err != nil {
			return err
		}
		if _, err := auctionmanager.CalcInterestFill(a, s.bankroll.Backstop, s.reserves, s.prices, s.minProfit); err != nil {
			return fmt.Errorf("liquidator: size interest fill for pool %s: %w", pool.Hex(), err)
		}
	}

	s.pending = append(s.pending, a)
	return nil
}

func (s *Strategy) handleFill(ctx context.Context, ev ingestor.Event) error {
	key := types.AuctionKey{Pool: ev.Pool, User: ev.User, AuctionType: ev.AuctionType}
	idx, a := s.findPending(key)
	if a == nil {
		return nil
	}

	if ev.Liquidator == s.selfAddress() {
		if err := s.syncBankrollForPool(ctx, ev.Pool); err != nil {
			return err
		}
		if s.records != nil {
			lotAssets, lotAmounts := scaleAssetMap(a.Data.Lot, ev.Pct)
			bidAssets, bidAmounts := scaleAssetMap(a.Data.Bid, ev.Pct)
			rec := &types.FilledAuctionRecord{
				Block: ev.Block, Pool: ev.Pool, User: ev.User, FillPct: ev.Pct,
				LotAssets: lotAssets, LotAmounts: lotAmounts,
				BidAssets: bidAssets, BidAmounts: bidAmounts,
			}
			if err := s.records.RecordFilledAuction(rec); err != nil {
				return fmt.Errorf("liquidator: record filled auction: %w", err)
			}
		}
		if err := s.alertOnResidualPosition(ctx, ev.Pool); err != nil {
			return err
		}
	}

	if ev.Pct >= 100 {
		s.removeAt(idx)
		return nil
	}
	auctionmanager.PartialFillUpdate(a, ev.Pct)
	return nil
}

// selfAddress is overridden in tests; production wiring supplies the
// agent's own address via SetSelfAddress at construction time.
func (s *Strategy) selfAddress() common.Address { return s.self }

// SetSelfAddress records the agent's own signing address, used to
// attribute fill_auction events to self (spec.md §4.6).
func (s *Strategy) SetSelfAddress(addr common.Address) { s.self = addr }

// OnBlock re-sizes every pending auction within its arm window and
// submits once the target is reached and profit clears the floor
// (spec.md §4.4 state machine, §4.6 "On each new block").
func (s *Strategy) OnBlock(ctx context.Context, block uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.pending {
		if !auctionmanager.IsArmed(a, block) {
			continue
		}
		if err := s.syncBankrollForPool(ctx, a.Pool); err != nil {
			return err
		}
		profit, err := s.resize(a)
		if err != nil {
			return err
		}
		if !auctionmanager.ShouldSubmit(a, block, profit) {
			continue
		}
		if err := s.submitFill(ctx, a, block, profit); err != nil {
			return err
		}
		auctionmanager.MarkSubmitted(a, block, s.cooldownBlocks)
	}
	return nil
}

func (s *Strategy) resize(a *types.OngoingAuction) (*big.Int, error) {
	switch a.AuctionType {
	case types.AuctionTypeUserLiquidation:
		return auctionmanager.CalcLiquidationFill(a, s.bankroll.PoolPositions(a.Pool), s.reserves, s.prices, s.minHF, s.minProfit)
	case types.AuctionTypeBadDebt:
		return auctionmanager.CalcBadDebtFill(a, s.bankroll, s.reserves, s.prices, s.minProfit)
	default:
		return auctionmanager.CalcInterestFill(a, s.bankroll.Backstop, s.reserves, s.prices, s.minProfit)
	}
}

func (s *Strategy) submitFill(ctx context.Context, a *types.OngoingAuction, block uint32, profit *big.Int) error {
	scaled := auctionmanager.ScaleAuction(a.Data, block, a.PctToFill)
	requests, err := auctionmanager.BuildRequests(a, scaled, s.bankroll.PoolPositions(a.Pool), s.bankroll, s.reserves, s.prices, s.supportedCollateral, s.minHF, block)
	if err != nil {
		return fmt.Errorf("liquidator: build requests for %s/%s: %w", a.Pool.Hex(), a.User.Hex(), err)
	}
	gasBid := types.GasBidInfo{Profit: profit, BidPercentage: s.bidPercentage}
	if err := s.submit.Submit(ctx, requests, gasBid); err != nil {
		return fmt.Errorf("liquidator: submit %s/%s: %w", a.Pool.Hex(), a.User.Hex(), err)
	}
	return nil
}

func (s *Strategy) isSupported(data types.AuctionData) bool {
	for asset := range data.Lot {
		if !addressIn(asset, s.supportedCollateral) {
			return false
		}
	}
	for asset := range data.Bid {
		if !addressIn(asset, s.supportedLiabilities) {
			return false
		}
	}
	return true
}

// scaleAssetMap converts an auction's full lot/bid schedule into the
// amounts actually transferred by a fill at pct percent, for the
// append-only audit record (spec.md §3 FilledAuctionRecord).
func scaleAssetMap(m map[common.Address]*big.Int, pct int64) ([]common.Address, []*big.Int) {
	assets := make([]common.Address, 0, len(m))
	amounts := make([]*big.Int, 0, len(m))
	for asset, amount := range m {
		assets = append(assets, asset)
		amounts = append(amounts, fixedpoint.MulDivFloor(amount, big.NewInt(pct), big.NewInt(100)))
	}
	return assets, amounts
}

func addressIn(addr common.Address, set []common.Address) bool {
	for _, a := range set {
		if a == addr {
			return true
		}
	}
	return false
}

func (s *Strategy) syncBankrollForPool(ctx context.Context, pool common.Address) error {
	pos, err := s.syncer.SyncPoolPositions(ctx, pool)
	if err != nil {
		return fmt.Errorf("liquidator: sync bankroll for pool %s: %w", pool.Hex(), err)
	}
	s.bankroll.Positions[pool] = pos
	return nil
}

func (s *Strategy) syncWallet(ctx context.Context, data types.AuctionData) error {
	assets := make([]common.Address, 0, len(data.Bid))
	for asset := range data.Bid {
		assets = append(assets, asset)
	}
	balances, err := s.syncer.SyncWallet(ctx, assets)
	if err != nil {
		return fmt.Errorf("liquidator: sync wallet: %w", err)
	}
	for asset, bal := range balances {
		s.bankroll.Wallet[asset] = bal
	}
	return nil
}

func (s *Strategy) syncBackstop(ctx context.Context) error {
	bal, err := s.syncer.SyncBackstopBalance(ctx)
	if err != nil {
		return fmt.Errorf("liquidator: sync backstop balance: %w", err)
	}
	s.bankroll.Backstop = bal
	return nil
}

// alertOnResidualPosition evaluates the agent's own post-fill health in
// pool and alerts if it is anything other than a clean Ignore (spec.md
// §4.6: "alert if residual positions remain in the pool").
func (s *Strategy) alertOnResidualPosition(ctx context.Context, pool common.Address) error {
	if s.alerter == nil {
		return nil
	}
	pos := s.bankroll.PoolPositions(pool)
	if pos.IsEmpty() {
		return nil
	}
	eval, err := evaluator.Evaluate(pool, pos, s.reserves, s.prices)
	if err != nil {
		return fmt.Errorf("liquidator: evaluate own position in %s: %w", pool.Hex(), err)
	}
	if eval.Score == types.ScoreIgnore {
		return nil
	}
	// Any score other than Ignore implies LAdj > 0.
	hf := new(big.Rat).SetFrac(eval.CAdj, eval.LAdj).FloatString(4)
	msg := alert.ResidualPositionMessage(pool.Hex(), s.self.Hex(), hf)
	if err := s.alerter.Send(ctx, msg); err != nil {
		return fmt.Errorf("liquidator: send residual-position alert: %w", err)
	}
	return nil
}

func (s *Strategy) findPending(key types.AuctionKey) (int, *types.OngoingAuction) {
	for i, a := range s.pending {
		if a.Key() == key {
			return i, a
		}
	}
	return -1, nil
}

func (s *Strategy) removePending(key types.AuctionKey) {
	if i, a := s.findPending(key); a != nil {
		s.removeAt(i)
	}
}

func (s *Strategy) removeAt(i int) {
	s.pending = append(s.pending[:i], s.pending[i+1:]...)
}
