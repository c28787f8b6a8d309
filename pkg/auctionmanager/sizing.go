// Package auctionmanager implements the fill-timing and fill-size sizing
// kernel, the three fill planners, request-list construction, and the
// OngoingAuction state machine from spec.md §4.4.
package auctionmanager

import (
	"math/big"

	"github.com/blackhole-labs/blend-liquidator/internal/fixedpoint"
	"github.com/blackhole-labs/blend-liquidator/pkg/types"
)

const auctionRampBlocks = 400
const auctionPeakBlock = 200

// GetFillInfo walks the protocol's linear auction schedule one block at a
// time: lot ramps 0→full over blocks 1..200, then bid ramps full→0 over
// 201..400. It returns the first block at which (mod_lot − mod_bid) clears
// minProfit, along with the profit at that block. If none clears, it
// returns (400, lotVal) so the caller can reject on the profit floor.
func GetFillInfo(minProfit, lotVal, bidVal *big.Int) (fillBlock int, profit *big.Int) {
	lotStep := fixedpoint.DivFloor(lotVal, big.NewInt(auctionPeakBlock))
	bidStep := fixedpoint.DivFloor(bidVal, big.NewInt(auctionPeakBlock))

	modLot := big.NewInt(0)
	modBid := new(big.Int).Set(bidVal)

	for i := 1; i <= auctionRampBlocks; i++ {
		if i <= auctionPeakBlock {
			modLot.Add(modLot, lotStep)
		} else {
			modBid.Sub(modBid, bidStep)
		}
		p := new(big.Int).Sub(modLot, modBid)
		if p.Cmp(minProfit) >= 0 {
			return i, p
		}
	}
	return auctionRampBlocks, lotVal
}

// GetBidRequired computes the raw bid amount required at fillBlock, given
// the auction's raw required bid and the agent's own crossing-position
// offset (spec.md §4.4 step 2).
func GetBidRequired(fillBlock int, rawBidRequired, bidOffset *big.Int) *big.Int {
	scalar7 := fixedpoint.Scalar7Big()
	if fillBlock > auctionPeakBlock {
		decay := big.NewInt(1_0000000 - 50_000*int64(fillBlock-auctionPeakBlock))
		scaled := fixedpoint.MulDivFloor(rawBidRequired, decay, scalar7)
		return new(big.Int).Sub(scaled, bidOffset)
	}
	reduction := fixedpoint.MulDivFloor(bidOffset, big.NewInt(50_000*int64(fillBlock)), scalar7)
	return new(big.Int).Sub(rawBidRequired, reduction)
}

// SetPercentAndTarget is the sizing kernel shared by all three fill
// planners. It mutates a's PctToFill and TargetBlock and returns the
// projected profit (spec.md §4.4 "Sizing kernel").
func SetPercentAndTarget(a *types.OngoingAuction, lotVal, bidVal, rawBidRequired, bidOffset, ourMaxBid, minProfit *big.Int) *big.Int {
	pctRemaining := big.NewInt(100 - a.PctFilled)
	hundred := big.NewInt(100)

	lotValS := fixedpoint.MulDivFloor(lotVal, pctRemaining, hundred)
	bidValS := fixedpoint.MulDivFloor(bidVal, pctRemaining, hundred)
	rawBidRequiredS := fixedpoint.MulDivFloor(rawBidRequired, pctRemaining, hundred)
	bidOffsetS := fixedpoint.MulDivFloor(bidOffset, pctRemaining, hundred)

	if ourMaxBid == nil || ourMaxBid.Sign() == 0 {
		a.PctToFill = 100
		a.TargetBlock = a.Data.StartBlock + auctionRampBlocks
		return lotValS
	}

	fillBlock, profit := GetFillInfo(minProfit, lotValS, bidValS)
	bidRequired := GetBidRequired(fillBlock, rawBidRequiredS, bidOffsetS)

	var pct int64
	if ourMaxBid.Cmp(bidRequired) >= 0 {
		pct = 100
	} else {
		pct = fixedpoint.MulDivFloor(ourMaxBid, hundred, bidRequired).Int64()
		scaledProfit := fixedpoint.MulDivFloor(profit, big.NewInt(pct), hundred)

		if scaledProfit.Cmp(minProfit) < 0 {
			growthRate := fixedpoint.DivFloor(fixedpoint.MulDivFloor(lotValS, big.NewInt(pct), hundred), big.NewInt(auctionPeakBlock))
			if growthRate.Sign() > 0 {
				missing := new(big.Int).Sub(minProfit, scaledProfit)
				additional := fixedpoint.DivCeil(missing, growthRate)
				fillBlock += int(additional.Int64())
				scaledProfit = new(big.Int).Add(scaledProfit, new(big.Int).Mul(growthRate, additional))
			}
		}
		profit = scaledProfit
	}

	a.PctToFill = pct
	a.TargetBlock = a.Data.StartBlock + uint32(fillBlock)
	return profit
}

// GetMaxDeltaHF computes the additional adjusted debt the agent can absorb
// in a pool without breaching minHF (spec.md seed scenario 1).
func GetMaxDeltaHF(cAdj, dAdj, minHF, newDebtAdj *big.Int) *big.Int {
	ratio := fixedpoint.MulDivFloor(cAdj, fixedpoint.Scalar7Big(), minHF)
	delta := new(big.Int).Sub(ratio, dAdj)
	if delta.Sign() < 0 {
		return big.NewInt(0)
	}
	if delta.Cmp(newDebtAdj) > 0 {
		return new(big.Int).Set(newDebtAdj)
	}
	return delta
}
