package auctionmanager

import (
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/blackhole-labs/blend-liquidator/internal/fixedpoint"
	"github.com/blackhole-labs/blend-liquidator/pkg/evaluator"
	"github.com/blackhole-labs/blend-liquidator/pkg/types"
)

// WalletLookup resolves the agent's own spendable balance for an asset,
// used by build_requests to decide whether a repay is worth submitting.
type WalletLookup interface {
	WalletBalance(asset common.Address) *big.Int
}

// ScaleAuction applies the protocol's linear lot/bid schedule at
// submitBlock, then scales the result by pctToFill/100 (spec.md §4.4
// "Scaled-auction helper").
func ScaleAuction(data types.AuctionData, submitBlock uint32, pctToFill int64) types.AuctionData {
	elapsed := int64(0)
	if submitBlock > data.StartBlock {
		elapsed = int64(submitBlock - data.StartBlock)
	}
	if elapsed > auctionRampBlocks {
		elapsed = auctionRampBlocks
	}

	scaled := types.AuctionData{
		Bid:        make(map[common.Address]*big.Int, len(data.Bid)),
		Lot:        make(map[common.Address]*big.Int, len(data.Lot)),
		StartBlock: data.StartBlock,
	}

	for asset, amount := range data.Lot {
		var ramped *big.Int
		if elapsed <= auctionPeakBlock {
			ramped = fixedpoint.MulDivFloor(amount, big.NewInt(elapsed), big.NewInt(auctionPeakBlock))
		} else {
			ramped = new(big.Int).Set(amount)
		}
		scaled.Lot[asset] = fixedpoint.MulDivFloor(ramped, big.NewInt(pctToFill), big.NewInt(100))
	}

	for asset, amount := range data.Bid {
		var ramped *big.Int
		if elapsed <= auctionPeakBlock {
			ramped = new(big.Int).Set(amount)
		} else {
			decay := big.NewInt(1_0000000 - 50_000*(elapsed-auctionPeakBlock))
			if decay.Sign() < 0 {
				decay = big.NewInt(0)
			}
			ramped = fixedpoint.MulDivFloor(amount, decay, fixedpoint.Scalar7Big())
		}
		scaled.Bid[asset] = fixedpoint.MulDivFloor(ramped, big.NewInt(pctToFill), big.NewInt(100))
	}

	return scaled
}

// PartialFillUpdate folds an external partial fill of fraction f (percent,
// [1,99]) into the auction's bookkeeping (spec.md §4.4 "Partial-fill
// accounting"). The kernel's literal "/(100 − f/100)" is dimensionally a
// fraction, not an integer divide; we take it as intended: the agent's
// remaining target shrinks by the complement fraction of what was filled
// externally, i.e. pct_to_fill scales by 100/(100−f).
func PartialFillUpdate(a *types.OngoingAuction, f int64) {
	if f <= 0 {
		return
	}
	if f > 99 {
		f = 99
	}

	pctFilled := a.PctFilled + (100-a.PctFilled)*f/100
	a.PctFilled = clampInt(pctFilled, 0, 99)

	denom := 100 - f
	var pctToFill int64
	if denom <= 0 {
		pctToFill = 100
	} else {
		pctToFill = a.PctToFill * 100 / denom
	}
	a.PctToFill = clampInt(pctToFill, 0, 100)
}

func clampInt(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// BuildRequests produces the ordered protocol-level request list for a
// planned fill (spec.md §4.4 "Request construction"). scaled is the
// already-ramped/percent-scaled auction data from ScaleAuction.
func BuildRequests(
	auction *types.OngoingAuction,
	scaled types.AuctionData,
	bankroll *types.UserPositions,
	wallet WalletLookup,
	reserves evaluator.ReserveLookup,
	prices evaluator.PriceLookup,
	supportedCollateral []common.Address,
	minHF *big.Int,
	submitBlock uint32,
) ([]types.Request, error) {
	requests := []types.Request{{
		RequestType: uint32(types.RequestTypeFillUserLiquidation + auction.AuctionType),
		Address:     auction.User,
		Amount:      big.NewInt(auction.PctToFill),
	}}

	if auction.AuctionType != types.AuctionTypeUserLiquidation && auction.AuctionType != types.AuctionTypeBadDebt {
		return requests, nil
	}

	extraLiability := big.NewInt(0)
	withinWindow := submitBlock-auction.Data.StartBlock < auctionRampBlocks

	for asset, bidAmount := range scaled.Bid {
		walletBal := wallet.WalletBalance(asset)
		if walletBal == nil || walletBal.Sign() == 0 {
			continue
		}
		if walletBal.Cmp(big.NewInt(types.DustFloorWallet)) <= 0 || !withinWindow {
			continue
		}
		requests = append(requests, types.Request{
			RequestType: types.RequestTypeRepay,
			Address:     asset,
			Amount:      walletBal,
		})

		rc, ok := reserves.ReserveConfig(auction.Pool, asset)
		if !ok || rc.EstDRate == nil || rc.EstDRate.Sign() == 0 {
			continue
		}
		dTokens := fixedpoint.MulDivFloor(walletBal, fixedpoint.Scalar9Big(), rc.EstDRate)
		if dTokens.Cmp(bidAmount) < 0 {
			extraLiability.Add(extraLiability, new(big.Int).Sub(bidAmount, dTokens))
		}
	}

	if auction.AuctionType != types.AuctionTypeUserLiquidation {
		return requests, nil
	}

	effectiveCollateral := big.NewInt(0)
	effectiveLiabilities := extraLiability

	for i, asset := range supportedCollateral {
		if i == 0 {
			continue // supported_collateral[0] is the retained base asset
		}
		if _, alreadyHeld := bankroll.Collateral[asset]; alreadyHeld {
			continue
		}
		lotAmount, received := scaled.Lot[asset]
		if !received || lotAmount == nil || lotAmount.Sign() == 0 {
			continue
		}

		rc, ok := reserves.ReserveConfig(auction.Pool, asset)
		if !ok {
			continue
		}
		if rc.CFactor == nil || rc.CFactor.Sign() == 0 {
			requests = append(requests, withdrawMax(asset))
			continue
		}

		price, ok := prices.AssetPrice(asset)
		if !ok {
			continue
		}
		_, adj, err := evaluator.CalcPositionValue(price, lotAmount, rc.EstBRate, rc.CFactor, rc.Scalar, false)
		if err != nil {
			continue
		}

		threshold := fixedpoint.MulDivFloor(effectiveLiabilities, minHF, fixedpoint.Scalar7Big())
		projected := new(big.Int).Add(effectiveCollateral, adj)
		if projected.Cmp(threshold) > 0 {
			requests = append(requests, withdrawMax(asset))
			continue
		}
		effectiveCollateral = projected
	}

	return requests, nil
}

func withdrawMax(asset common.Address) types.Request {
	return types.Request{
		RequestType: types.RequestTypeWithdrawCollateral,
		Address:     asset,
		Amount:      big.NewInt(math.MaxInt64),
	}
}
