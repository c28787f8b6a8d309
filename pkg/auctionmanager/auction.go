package auctionmanager

import (
	"math/big"

	"github.com/blackhole-labs/blend-liquidator/pkg/types"
)

// armWindowBlocks is how far ahead of target_block the liquidator re-runs
// sizing on an otherwise-untouched pending auction (spec.md §4.4 state
// machine: "re-runs sizing every tick within the last 50 blocks
// pre-target").
const armWindowBlocks = 50

// IsArmed reports whether currentBlock is within the re-sizing window of
// an auction's target block. Armed/Pending is purely informational — it
// does not gate submission, only how eagerly the caller re-sizes.
func IsArmed(a *types.OngoingAuction, currentBlock uint32) bool {
	if currentBlock >= a.TargetBlock {
		return true
	}
	return a.TargetBlock-currentBlock <= armWindowBlocks
}

// ShouldSubmit reports whether the auction is ready to submit at
// currentBlock: target reached, projected profit clears the floor, and no
// attempt has been made this block.
func ShouldSubmit(a *types.OngoingAuction, currentBlock uint32, projectedProfit *big.Int) bool {
	if currentBlock < a.TargetBlock {
		return false
	}
	if a.BlockSubmitted >= currentBlock {
		return false
	}
	if a.MinProfit != nil && projectedProfit.Cmp(a.MinProfit) <= 0 {
		return false
	}
	return true
}

// MarkSubmitted advances block_submitted past currentBlock by
// cooldownBlocks so ShouldSubmit rejects a second attempt while the
// first is in flight (spec.md §4.4, §9 — operator-tunable via
// Config.SubmitCooldownBlocks rather than a fixed literal).
func MarkSubmitted(a *types.OngoingAuction, currentBlock, cooldownBlocks uint32) {
	a.BlockSubmitted = currentBlock + cooldownBlocks
}

// ApplyFill folds a fill_auction event into the auction's bookkeeping.
// It returns true when the auction is fully filled and should be retired.
func ApplyFill(a *types.OngoingAuction, fillPct int64) bool {
	if fillPct >= 100 {
		return true
	}
	PartialFillUpdate(a, fillPct)
	return false
}
