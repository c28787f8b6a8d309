package auctionmanager

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/blackhole-labs/blend-liquidator/internal/fixedpoint"
	"github.com/blackhole-labs/blend-liquidator/pkg/evaluator"
	"github.com/blackhole-labs/blend-liquidator/pkg/types"
)

// sumAssetValues sums price*amount legs over an asset map, using the
// evaluator's floor/ceil rounding rule for the requested leg kind.
func sumAssetValues(assets map[common.Address]*big.Int, reserves evaluator.ReserveLookup, prices evaluator.PriceLookup, pool common.Address, isLiability bool) (raw, adj *big.Int, err error) {
	raw, adj = big.NewInt(0), big.NewInt(0)
	for asset, amount := range assets {
		if amount == nil || amount.Sign() == 0 {
			continue
		}
		rc, ok := reserves.ReserveConfig(pool, asset)
		if !ok {
			return nil, nil, fmt.Errorf("auctionmanager: missing reserve config for %s", asset.Hex())
		}
		price, ok := prices.AssetPrice(asset)
		if !ok {
			return nil, nil, fmt.Errorf("auctionmanager: missing price for %s", asset.Hex())
		}
		rate, factor := rc.EstBRate, rc.CFactor
		if isLiability {
			rate, factor = rc.EstDRate, rc.LFactor
		}
		r, a, err := evaluator.CalcPositionValue(price, amount, rate, factor, rc.Scalar, isLiability)
		if err != nil {
			return nil, nil, err
		}
		raw.Add(raw, r)
		adj.Add(adj, a)
	}
	return raw, adj, nil
}

// CalcLiquidationFill is the type-0 fill planner (spec.md §4.4
// "Liquidation fill planner"). It sizes a user-liquidation auction against
// the agent's own post-fill health floor: the additional debt the agent
// can safely absorb bounds our_max_bid.
func CalcLiquidationFill(a *types.OngoingAuction, bankroll *types.UserPositions, reserves evaluator.ReserveLookup, prices evaluator.PriceLookup, minHF, minProfit *big.Int) (*big.Int, error) {
	lotVal, _, err := sumAssetValues(a.Data.Lot, reserves, prices, a.Pool, false)
	if err != nil {
		return nil, fmt.Errorf("auctionmanager: liquidation lot valuation: %w", err)
	}
	bidVal, bidAdj, err := sumAssetValues(a.Data.Bid, reserves, prices, a.Pool, true)
	if err != nil {
		return nil, fmt.Errorf("auctionmanager: liquidation bid valuation: %w", err)
	}

	_, cAdj, _, dAdj, err := evaluator.Positions(a.Pool, bankroll, reserves, prices)
	if err != nil {
		return nil, fmt.Errorf("auctionmanager: bankroll valuation: %w", err)
	}

	ourMaxBid := GetMaxDeltaHF(cAdj, dAdj, minHF, bidAdj)
	a.MinProfit = minProfit

	return SetPercentAndTarget(a, lotVal, bidVal, bidVal, big.NewInt(0), ourMaxBid, minProfit), nil
}

// CalcBadDebtFill is the type-1 fill planner. The binding asset is the bid
// asset with the worst (bid_value·d_rate)/wallet_balance ratio; its bid
// value plus dust bounds the raw bid requirement, and the agent's wallet
// balance of that asset bounds our_max_bid.
func CalcBadDebtFill(a *types.OngoingAuction, wallet WalletLookup, reserves evaluator.ReserveLookup, prices evaluator.PriceLookup, minProfit *big.Int) (*big.Int, error) {
	lotVal, _, err := sumAssetValues(a.Data.Lot, reserves, prices, a.Pool, false)
	if err != nil {
		return nil, fmt.Errorf("auctionmanager: bad-debt lot valuation: %w", err)
	}

	var bindingValue, bindingBalance *big.Int
	worstRatio := big.NewInt(-1)

	for asset, amount := range a.Data.Bid {
		if amount == nil || amount.Sign() == 0 {
			continue
		}
		rc, ok := reserves.ReserveConfig(a.Pool, asset)
		if !ok {
			return nil, fmt.Errorf("auctionmanager: missing reserve config for bid asset %s", asset.Hex())
		}
		price, ok := prices.AssetPrice(asset)
		if !ok {
			return nil, fmt.Errorf("auctionmanager: missing price for bid asset %s", asset.Hex())
		}
		bidValue := fixedpoint.MulDivFloor(price, amount, rc.Scalar)
		balance := wallet.WalletBalance(asset)
		if balance == nil || balance.Sign() == 0 {
			continue
		}
		ratio := fixedpoint.MulDivFloor(bidValue, rc.EstDRate, balance)
		if ratio.Cmp(worstRatio) > 0 {
			worstRatio = ratio
			bindingValue = bidValue
			bindingBalance = balance
		}
	}

	if bindingValue == nil {
		bindingValue = big.NewInt(0)
		bindingBalance = big.NewInt(0)
	}

	rawBidRequired := new(big.Int).Add(bindingValue, big.NewInt(types.DustFloorBadDebt))
	a.MinProfit = minProfit

	return SetPercentAndTarget(a, lotVal, bindingValue, rawBidRequired, big.NewInt(0), bindingBalance, minProfit), nil
}

// CalcInterestFill is the type-2 fill planner: the agent's total backstop
// token holding bounds our_max_bid; lot value is the sum of lot·price at
// current oracle prices.
func CalcInterestFill(a *types.OngoingAuction, backstopBalance *big.Int, reserves evaluator.ReserveLookup, prices evaluator.PriceLookup, minProfit *big.Int) (*big.Int, error) {
	lotVal := big.NewInt(0)
	for asset, amount := range a.Data.Lot {
		if amount == nil || amount.Sign() == 0 {
			continue
		}
		rc, ok := reserves.ReserveConfig(a.Pool, asset)
		if !ok {
			return nil, fmt.Errorf("auctionmanager: missing reserve config for lot asset %s", asset.Hex())
		}
		price, ok := prices.AssetPrice(asset)
		if !ok {
			return nil, fmt.Errorf("auctionmanager: missing price for lot asset %s", asset.Hex())
		}
		lotVal.Add(lotVal, fixedpoint.MulDivFloor(price, amount, rc.Scalar))
	}

	bidVal := big.NewInt(0)
	for _, amount := range a.Data.Bid {
		if amount != nil {
			bidVal.Add(bidVal, amount)
		}
	}

	a.MinProfit = minProfit
	return SetPercentAndTarget(a, lotVal, bidVal, bidVal, big.NewInt(0), backstopBalance, minProfit), nil
}
