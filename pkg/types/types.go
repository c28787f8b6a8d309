// Package types holds the shared domain model for the liquidation agent:
// assets, reserve configuration, user positions, health scores, and the
// ongoing-auction record that the auction manager, auctioneer, and
// liquidator strategies all operate on.
package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Protocol-level request type codes, preserved verbatim for the external
// transaction builder.
const (
	RequestTypeWithdrawCollateral = 3
	RequestTypeRepay              = 5
	RequestTypeFillUserLiquidation = 6
	RequestTypeFillBadDebt          = 7
	RequestTypeFillInterest          = 8
)

// Auction type discriminants.
const (
	AuctionTypeUserLiquidation = 0
	AuctionTypeBadDebt         = 1
	AuctionTypeInterest        = 2
)

// Dust floors named in the auction manager spec (§4.4).
const (
	DustFloorWallet  = 100
	DustFloorBadDebt = 10
)

// Score is the evaluator's verdict for a user's position.
type Score int

const (
	ScoreBadDebt Score = iota
	ScoreIgnore
	ScoreWatch
	ScoreLiquidate
)

func (s Score) String() string {
	switch s {
	case ScoreBadDebt:
		return "bad_debt"
	case ScoreIgnore:
		return "ignore"
	case ScoreWatch:
		return "watch"
	case ScoreLiquidate:
		return "liquidate"
	default:
		return "unknown"
	}
}

// Evaluation is the full output of evaluate(): the classification plus,
// for ScoreLiquidate, the close-factor percentage clamped to [1,100].
type Evaluation struct {
	Score   Score
	Pct     int64 // only meaningful when Score == ScoreLiquidate
	CAdj    *big.Int
	CRaw    *big.Int
	LAdj    *big.Int
	LRaw    *big.Int
}

// Asset is an oracle-priced token tracked by the agent.
type Asset struct {
	ID     common.Address
	Scalar *big.Int // 10^decimals
	Price  *big.Int // 7-decimal fixed point
}

// ReserveConfig is a (pool, asset) reserve's risk parameters.
type ReserveConfig struct {
	Pool      common.Address
	Asset     common.Address
	Index     uint32
	CFactor   *big.Int // 7-decimal, <= 1e7
	LFactor   *big.Int // 7-decimal, <= 1e7
	EstBRate  *big.Int // 9-decimal, >= 1e9
	EstDRate  *big.Int // 9-decimal, >= 1e9
	Scalar    *big.Int // 10^decimals
}

// UserPositions holds a user's collateral (b-token) and liability (d-token)
// balances within a single pool, keyed by asset address.
type UserPositions struct {
	Collateral map[common.Address]*big.Int
	Liabilities map[common.Address]*big.Int
}

// NewUserPositions returns an empty position set.
func NewUserPositions() *UserPositions {
	return &UserPositions{
		Collateral:  make(map[common.Address]*big.Int),
		Liabilities: make(map[common.Address]*big.Int),
	}
}

// IsEmpty reports whether the user has no collateral and no liabilities.
func (u *UserPositions) IsEmpty() bool {
	return len(u.Collateral) == 0 && len(u.Liabilities) == 0
}

// Clone deep-copies a UserPositions value.
func (u *UserPositions) Clone() *UserPositions {
	c := NewUserPositions()
	for k, v := range u.Collateral {
		c.Collateral[k] = new(big.Int).Set(v)
	}
	for k, v := range u.Liabilities {
		c.Liabilities[k] = new(big.Int).Set(v)
	}
	return c
}

// AuctionData is the bid/lot schedule data carried by an on-chain auction.
type AuctionData struct {
	Bid        map[common.Address]*big.Int
	Lot        map[common.Address]*big.Int
	StartBlock uint32
}

// OngoingAuction is the agent's mutable tracking record for a single
// in-flight auction (§3, §4.4 state machine).
type OngoingAuction struct {
	Pool          common.Address
	User          common.Address // zero address for backstop/bad-debt auctions
	Data          AuctionData
	AuctionType   int
	PctFilled     int64 // [0,100]
	PctToFill     int64 // [0,100]
	TargetBlock   uint32
	BlockSubmitted uint32
	MinProfit     *big.Int
}

// Key uniquely identifies a pending auction within a pool.
type AuctionKey struct {
	Pool        common.Address
	User        common.Address
	AuctionType int
}

// Key returns this auction's identity tuple.
func (a *OngoingAuction) Key() AuctionKey {
	return AuctionKey{Pool: a.Pool, User: a.User, AuctionType: a.AuctionType}
}

// Request is a single protocol-level operation, emitted in order by
// build_requests and consumed opaquely by the external transaction builder.
type Request struct {
	RequestType uint32
	Address     common.Address
	Amount      *big.Int
}

// GasBidInfo accompanies a submit operation with the gas-pricing inputs the
// external submitter needs: the projected profit (in the chain's native
// currency) and the percentage of it the agent is willing to bid as gas.
type GasBidInfo struct {
	Profit        *big.Int
	BidPercentage uint64
}

// FilledAuctionRecord is the append-only audit-log entry written after a
// fill attributed to this agent.
type FilledAuctionRecord struct {
	Block   uint32
	Pool    common.Address
	User    common.Address
	LotAssets  []common.Address
	LotAmounts []*big.Int
	BidAssets  []common.Address
	BidAmounts []*big.Int
	FillPct int64
}
