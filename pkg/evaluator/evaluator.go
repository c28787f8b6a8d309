// Package evaluator implements the pure per-user risk model described in
// spec.md §4.2: calc_position_value, get_liq_percent, and the evaluate()
// entry point that classifies a user's positions into a Score.
//
// evaluate is a pure function of (reserve configs, asset prices, user
// positions) — it never mutates the shared caches owned by the storage
// adapter, matching the read-only-consumer discipline in spec.md §4.2/§9.
package evaluator

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/blackhole-labs/blend-liquidator/internal/fixedpoint"
	"github.com/blackhole-labs/blend-liquidator/pkg/types"
)

// ReserveLookup resolves the current reserve configuration for an asset
// within a pool. It is satisfied by the storage adapter's read path.
type ReserveLookup interface {
	ReserveConfig(pool, asset common.Address) (*types.ReserveConfig, bool)
}

// PriceLookup resolves the current oracle price (7-decimal) for an asset.
type PriceLookup interface {
	AssetPrice(asset common.Address) (*big.Int, bool)
}

var (
	inflateBase = big.NewInt(100_000_000_000_000) // 1e14
	closeFactor = big.NewInt(11_000_000)           // 1.1 scaled 7-dec (1_100_0000 in spec notation)
)

// CalcPositionValue computes (raw, adj) for a single collateral or
// liability leg, applying the floor/ceil rounding rule from spec.md §3:
// raw values floor; liability values (raw and adjusted) ceil.
func CalcPositionValue(price, amount, rate, factor, scalar *big.Int, isLiability bool) (raw, adj *big.Int, err error) {
	if scalar == nil || scalar.Sign() == 0 {
		return nil, nil, fmt.Errorf("evaluator: zero scalar")
	}
	if rate == nil || rate.Sign() == 0 {
		return nil, nil, fmt.Errorf("evaluator: zero rate")
	}
	var underlying *big.Int
	if isLiability {
		underlying = fixedpoint.MulDivCeil(amount, rate, fixedpoint.Scalar9Big())
		raw = fixedpoint.MulDivCeil(price, underlying, scalar)
	} else {
		underlying = fixedpoint.MulDivFloor(amount, rate, fixedpoint.Scalar9Big())
		raw = fixedpoint.MulDivFloor(price, underlying, scalar)
	}

	if isLiability {
		if factor == nil || factor.Sign() == 0 {
			return nil, nil, fmt.Errorf("evaluator: zero l_factor")
		}
		invFactor := fixedpoint.DivFloor(inflateBase, factor)
		adj = fixedpoint.MulDivCeil(raw, invFactor, fixedpoint.Scalar7Big())
	} else {
		adj = fixedpoint.MulDivFloor(raw, factor, fixedpoint.Scalar7Big())
	}
	return raw, adj, nil
}

// Positions sums a user's collateral and liability legs across a pool into
// (c_raw, c_adj, l_raw, l_adj), per spec.md §4.2 steps 1-2.
func Positions(pool common.Address, pos *types.UserPositions, reserves ReserveLookup, prices PriceLookup) (cRaw, cAdj, lRaw, lAdj *big.Int, err error) {
	cRaw, cAdj, lRaw, lAdj = big.NewInt(0), big.NewInt(0), big.NewInt(0), big.NewInt(0)

	for asset, amount := range pos.Collateral {
		if amount == nil || amount.Sign() == 0 {
			continue
		}
		rc, ok := reserves.ReserveConfig(pool, asset)
		if !ok {
			return nil, nil, nil, nil, fmt.Errorf("evaluator: missing reserve config for collateral asset %s", asset.Hex())
		}
		price, ok := prices.AssetPrice(asset)
		if !ok {
			return nil, nil, nil, nil, fmt.Errorf("evaluator: missing price for collateral asset %s", asset.Hex())
		}
		raw, adj, err := CalcPositionValue(price, amount, rc.EstBRate, rc.CFactor, rc.Scalar, false)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("evaluator: collateral %s: %w", asset.Hex(), err)
		}
		cRaw.Add(cRaw, raw)
		cAdj.Add(cAdj, adj)
	}

	for asset, amount := range pos.Liabilities {
		if amount == nil || amount.Sign() == 0 {
			continue
		}
		rc, ok := reserves.ReserveConfig(pool, asset)
		if !ok {
			return nil, nil, nil, nil, fmt.Errorf("evaluator: missing reserve config for liability asset %s", asset.Hex())
		}
		price, ok := prices.AssetPrice(asset)
		if !ok {
			return nil, nil, nil, nil, fmt.Errorf("evaluator: missing price for liability asset %s", asset.Hex())
		}
		raw, adj, err := CalcPositionValue(price, amount, rc.EstDRate, rc.LFactor, rc.Scalar, true)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("evaluator: liability %s: %w", asset.Hex(), err)
		}
		lRaw.Add(lRaw, raw)
		lAdj.Add(lAdj, adj)
	}

	return cRaw, cAdj, lRaw, lAdj, nil
}

// GetLiqPercent implements the protocol's close-factor formula (spec.md
// §4.2 step 4), returning a percentage clamped to [1,100].
func GetLiqPercent(lAdj, lRaw, cAdj, cRaw *big.Int) int64 {
	if lRaw.Sign() == 0 || cRaw.Sign() == 0 {
		return 1
	}

	scalar7 := fixedpoint.Scalar7Big()

	invLF := fixedpoint.MulDivFloor(lAdj, scalar7, lRaw)
	cf := fixedpoint.MulDivFloor(cAdj, scalar7, cRaw)

	numerator := new(big.Int).Sub(fixedpoint.MulDivFloor(lAdj, closeFactor, scalar7), cAdj)

	var estIncentive *big.Int
	if invLF.Sign() == 0 {
		estIncentive = new(big.Int).Set(scalar7)
	} else {
		cfScaled := fixedpoint.MulDivFloor(cf, scalar7, invLF)
		half := fixedpoint.DivFloor(new(big.Int).Sub(scalar7, cfScaled), big.NewInt(2))
		estIncentive = new(big.Int).Add(scalar7, half)
	}

	denominator := new(big.Int).Sub(
		fixedpoint.MulDivFloor(invLF, closeFactor, scalar7),
		fixedpoint.MulDivFloor(cf, estIncentive, scalar7),
	)
	if denominator.Sign() <= 0 {
		return 100
	}

	ratio := fixedpoint.MulDivFloor(numerator, scalar7, denominator)
	pct := fixedpoint.MulDivFloor(ratio, big.NewInt(100), lRaw)

	return clampPct(pct.Int64())
}

func clampPct(pct int64) int64 {
	if pct < 1 {
		return 1
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// Evaluate is the pure function from spec.md §4.2: classify a user's
// positions in a pool into a Score, computing the liquidation percentage
// when applicable.
func Evaluate(pool common.Address, pos *types.UserPositions, reserves ReserveLookup, prices PriceLookup) (*types.Evaluation, error) {
	cRaw, cAdj, lRaw, lAdj, err := Positions(pool, pos, reserves, prices)
	if err != nil {
		return nil, err
	}

	ev := &types.Evaluation{CRaw: cRaw, CAdj: cAdj, LRaw: lRaw, LAdj: lAdj}

	switch {
	case cAdj.Sign() == 0 && lAdj.Sign() > 0:
		ev.Score = types.ScoreBadDebt
	case cAdj.Sign() == 0 || isIgnoreMargin(cAdj, lAdj):
		ev.Score = types.ScoreIgnore
	case new(big.Int).Sub(cAdj, lAdj).Sign() > 0:
		ev.Score = types.ScoreWatch
	default:
		ev.Score = types.ScoreLiquidate
		ev.Pct = GetLiqPercent(lAdj, lRaw, cAdj, cRaw)
	}

	return ev, nil
}

// isIgnoreMargin reports whether (c_adj - l_adj) > 5*l_adj, the generous
// safety margin below which the agent stops watching a user.
func isIgnoreMargin(cAdj, lAdj *big.Int) bool {
	margin := new(big.Int).Sub(cAdj, lAdj)
	fiveLAdj := new(big.Int).Mul(lAdj, big.NewInt(5))
	return margin.Cmp(fiveLAdj) > 0
}
