package ingestor

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/blackhole-labs/blend-liquidator/internal/chainrpc"
)

// Event topic names the ingestor dispatches on (spec.md §6).
const (
	TopicNewLiquidationAuction    = "new_liquidation_auction"
	TopicDeleteLiquidationAuction = "delete_liquidation_auction"
	TopicFillAuction              = "fill_auction"
	TopicNewAuction               = "new_auction"
	TopicBadDebt                  = "bad_debt"
	TopicSetReserve               = "set_reserve"
	TopicSupply                   = "supply"
	TopicWithdraw                 = "withdraw"
	TopicSupplyCollateral         = "supply_collateral"
	TopicWithdrawCollateral       = "withdraw_collateral"
	TopicBorrow                   = "borrow"
	TopicRepay                    = "repay"
	TopicOracleUpdate             = "oracle_update"
)

// Event is the decoded, strategy-facing shape of a single contract
// event. Not every field is meaningful for every topic; a strategy only
// reads the fields its topic handler documents.
type Event struct {
	Block uint32
	Index uint32
	Topic string
	Pool  common.Address

	// new_liquidation_auction, delete_liquidation_auction, fill_auction,
	// bad_debt: the affected user.
	User common.Address

	// new_liquidation_auction: close-factor percentage. fill_auction: the
	// fraction of the auction filled by this event, [1,100].
	Pct int64

	// new_auction, fill_auction: 0=liquidation, 1=bad-debt, 2=interest.
	AuctionType int

	// fill_auction: who filled it, for self-attribution.
	Liquidator common.Address

	// set_reserve, supply/withdraw/borrow/repay and their collateral
	// variants: the asset in question.
	Asset common.Address

	// supply/withdraw/borrow/repay: observed (amount, tokens) pair for
	// rate derivation (spec.md §4.3).
	Amount *big.Int
	Tokens *big.Int

	// supply_collateral/withdraw_collateral carry a user and signed
	// delta on top of the base supply/withdraw event; IsCollateral
	// distinguishes them from the plain (non-collateral) variant for
	// update_user dispatch (spec.md §4.5).
	IsCollateral bool
	DeltaTokens  *big.Int
}

// DecodeEvent turns a pre-decoded chain-event record into an Event,
// bounds-checking every positional field access per spec.md §9's
// "Dynamic protocol-value decoding" rule: a mistyped field is always a
// decode failure, never a panic; a missing address field is too, but a
// missing numeric field defaults to zero so the protocol's own
// zero-amount/zero-tokens drop rule (§4.3) can apply downstream instead.
func DecodeEvent(rec chainrpc.ContractEventRecord) (Event, error) {
	ev := Event{Block: rec.Block, Index: rec.Index, Topic: rec.Topic, Pool: rec.Contract}

	switch rec.Topic {
	case TopicNewLiquidationAuction:
		user, err := fieldAddress(rec, 0)
		if err != nil {
			return ev, err
		}
		pct, err := fieldInt64(rec, 1)
		if err != nil {
			return ev, err
		}
		ev.User, ev.Pct = user, pct

	case TopicDeleteLiquidationAuction, TopicBadDebt:
		user, err := fieldAddress(rec, 0)
		if err != nil {
			return ev, err
		}
		ev.User = user

	case TopicFillAuction:
		user, err := fieldAddress(rec, 0)
		if err != nil {
			return ev, err
		}
		auctionType, err := fieldInt64(rec, 1)
		if err != nil {
			return ev, err
		}
		pct, err := fieldInt64(rec, 2)
		if err != nil {
			return ev, err
		}
		liquidator, err := fieldAddress(rec, 3)
		if err != nil {
			return ev, err
		}
		ev.User, ev.AuctionType, ev.Pct, ev.Liquidator = user, int(auctionType), pct, liquidator

	case TopicNewAuction:
		auctionType, err := fieldInt64(rec, 0)
		if err != nil {
			return ev, err
		}
		ev.AuctionType = int(auctionType)

	case TopicSetReserve:
		asset, err := fieldAddress(rec, 0)
		if err != nil {
			return ev, err
		}
		ev.Asset = asset

	case TopicSupply, TopicWithdraw:
		// pool-level reserve events: no specific user's borrowing power
		// changes, so only the rate cache is updated (spec.md §4.5).
		asset, err := fieldAddress(rec, 0)
		if err != nil {
			return ev, err
		}
		amount, err := fieldBigInt(rec, 1)
		if err != nil {
			return ev, err
		}
		tokens, err := fieldBigInt(rec, 2)
		if err != nil {
			return ev, err
		}
		ev.Asset, ev.Amount, ev.Tokens = asset, amount, tokens

	case TopicBorrow, TopicRepay:
		// liability-side user events: always carry the affected user,
		// driving both the rate cache and update_user (spec.md §4.5).
		user, err := fieldAddress(rec, 0)
		if err != nil {
			return ev, err
		}
		asset, err := fieldAddress(rec, 1)
		if err != nil {
			return ev, err
		}
		amount, err := fieldBigInt(rec, 2)
		if err != nil {
			return ev, err
		}
		tokens, err := fieldBigInt(rec, 3)
		if err != nil {
			return ev, err
		}
		ev.User, ev.Asset, ev.Amount, ev.Tokens = user, asset, amount, tokens

	case TopicSupplyCollateral, TopicWithdrawCollateral:
		user, err := fieldAddress(rec, 0)
		if err != nil {
			return ev, err
		}
		asset, err := fieldAddress(rec, 1)
		if err != nil {
			return ev, err
		}
		amount, err := fieldBigInt(rec, 2)
		if err != nil {
			return ev, err
		}
		tokens, err := fieldBigInt(rec, 3)
		if err != nil {
			return ev, err
		}
		ev.User, ev.Asset, ev.Amount, ev.Tokens, ev.IsCollateral = user, asset, amount, tokens, true
		ev.DeltaTokens = tokens

	case TopicOracleUpdate:
		// no fields consumed: the 10-block sweep is the real refresh
		// path (spec.md §4.5); this topic is carried for completeness
		// only, per the Config.OracleUpdateEventsEnabled toggle.

	default:
		return ev, fmt.Errorf("ingestor: unknown event topic %q", rec.Topic)
	}

	return ev, nil
}

func fieldAddress(rec chainrpc.ContractEventRecord, i int) (common.Address, error) {
	v, ok := rec.Field(i)
	if !ok {
		return common.Address{}, fmt.Errorf("ingestor: event %s missing field %d", rec.Topic, i)
	}
	addr, ok := v.(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("ingestor: event %s field %d not an address (got %T)", rec.Topic, i, v)
	}
	return addr, nil
}

// fieldBigInt reads a numeric positional field. A missing field decodes
// to zero rather than erroring: spec.md §9 treats an absent amount/tokens
// field as the protocol's own "zero ⇒ drop" case, handled downstream by
// ratecache.UpdateRate's zero check, not as a malformed event. A present
// but wrongly-typed field is still a hard decode error.
func fieldBigInt(rec chainrpc.ContractEventRecord, i int) (*big.Int, error) {
	v, ok := rec.Field(i)
	if !ok {
		return big.NewInt(0), nil
	}
	n, ok := v.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("ingestor: event %s field %d not an integer (got %T)", rec.Topic, i, v)
	}
	return n, nil
}

// fieldInt64 reads a numeric positional field, defaulting a missing
// field to zero for the same reason as fieldBigInt.
func fieldInt64(rec chainrpc.ContractEventRecord, i int) (int64, error) {
	v, ok := rec.Field(i)
	if !ok {
		return 0, nil
	}
	switch n := v.(type) {
	case int64:
		return n, nil
	case *big.Int:
		return n.Int64(), nil
	default:
		return 0, fmt.Errorf("ingestor: event %s field %d not numeric (got %T)", rec.Topic, i, v)
	}
}
