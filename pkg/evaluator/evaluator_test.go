package evaluator

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackhole-labs/blend-liquidator/pkg/types"
)

// scenario 7: close-factor formula, pct = 84.
func TestGetLiqPercent_Scenario7(t *testing.T) {
	lAdj := big.NewInt(1_250_000_000)
	lRaw := big.NewInt(1_000_000_000)
	cAdj := big.NewInt(1_080_000_000)
	cRaw := big.NewInt(1_200_000_000)

	pct := GetLiqPercent(lAdj, lRaw, cAdj, cRaw)
	assert.Equal(t, int64(84), pct)
}

// scenario 8: collateral valuation floors c_adj below c_raw.
func TestCalcPositionValue_Scenario8_Collateral(t *testing.T) {
	price := big.NewInt(20_000_000)       // 2.0
	amount := big.NewInt(2_000_000_000)   // 2e9 shares
	bRate := big.NewInt(1_100_000_000)    // 1.1, 9-decimal
	cFactor := big.NewInt(5_000_000)      // 0.5
	scalar := big.NewInt(1_000_000_000)   // 1e9

	raw, adj, err := CalcPositionValue(price, amount, bRate, cFactor, scalar, false)
	require.NoError(t, err)

	assert.Equal(t, big.NewInt(44_000_000), raw)
	assert.Equal(t, big.NewInt(22_000_000), adj)
}

// scenario 9: liability valuation inflates l_adj above l_raw via 1e14/l_factor.
func TestCalcPositionValue_Scenario9_Liability(t *testing.T) {
	price := big.NewInt(20_000_000)
	amount := big.NewInt(2_000_000_000)
	dRate := big.NewInt(1_100_000_000)
	lFactor := big.NewInt(5_000_000) // 0.5
	scalar := big.NewInt(1_000_000_000)

	raw, adj, err := CalcPositionValue(price, amount, dRate, lFactor, scalar, true)
	require.NoError(t, err)

	assert.Equal(t, big.NewInt(44_000_000), raw)
	assert.Equal(t, big.NewInt(88_000_000), adj)
}

type fakeReserves map[common.Address]*types.ReserveConfig

func (f fakeReserves) ReserveConfig(pool, asset common.Address) (*types.ReserveConfig, bool) {
	rc, ok := f[asset]
	return rc, ok
}

type fakePrices map[common.Address]*big.Int

func (f fakePrices) AssetPrice(asset common.Address) (*big.Int, bool) {
	p, ok := f[asset]
	return p, ok
}

func TestEvaluate_BadDebt(t *testing.T) {
	pool := common.HexToAddress("0x1")
	debtAsset := common.HexToAddress("0xD1")

	reserves := fakeReserves{
		debtAsset: {
			LFactor:  big.NewInt(5_000_000),
			EstDRate: big.NewInt(1_100_000_000),
			Scalar:   big.NewInt(1_000_000_000),
		},
	}
	prices := fakePrices{debtAsset: big.NewInt(20_000_000)}

	pos := types.NewUserPositions()
	pos.Liabilities[debtAsset] = big.NewInt(2_000_000_000)

	ev, err := Evaluate(pool, pos, reserves, prices)
	require.NoError(t, err)
	assert.Equal(t, types.ScoreBadDebt, ev.Score)
}

func TestEvaluate_Ignore_HealthyMargin(t *testing.T) {
	pool := common.HexToAddress("0x1")
	collAsset := common.HexToAddress("0xC1")
	debtAsset := common.HexToAddress("0xD1")

	reserves := fakeReserves{
		collAsset: {
			CFactor:  big.NewInt(9_000_000),
			EstBRate: big.NewInt(1_000_000_000),
			Scalar:   big.NewInt(1_000_000_000),
		},
		debtAsset: {
			LFactor:  big.NewInt(9_000_000),
			EstDRate: big.NewInt(1_000_000_000),
			Scalar:   big.NewInt(1_000_000_000),
		},
	}
	prices := fakePrices{
		collAsset: big.NewInt(10_000_000),
		debtAsset: big.NewInt(10_000_000),
	}

	pos := types.NewUserPositions()
	pos.Collateral[collAsset] = big.NewInt(100_000_000_000)
	pos.Liabilities[debtAsset] = big.NewInt(1_000_000_000)

	ev, err := Evaluate(pool, pos, reserves, prices)
	require.NoError(t, err)
	assert.Equal(t, types.ScoreIgnore, ev.Score)
}

func TestEvaluate_Liquidate_ClampedPct(t *testing.T) {
	pool := common.HexToAddress("0x1")
	collAsset := common.HexToAddress("0xC1")
	debtAsset := common.HexToAddress("0xD1")

	reserves := fakeReserves{
		collAsset: {
			CFactor:  big.NewInt(9_000_000),
			EstBRate: big.NewInt(1_000_000_000),
			Scalar:   big.NewInt(1_000_000_000),
		},
		debtAsset: {
			LFactor:  big.NewInt(9_000_000),
			EstDRate: big.NewInt(1_000_000_000),
			Scalar:   big.NewInt(1_000_000_000),
		},
	}
	prices := fakePrices{
		collAsset: big.NewInt(10_000_000),
		debtAsset: big.NewInt(10_000_000),
	}

	pos := types.NewUserPositions()
	pos.Collateral[collAsset] = big.NewInt(100_000_000_000)
	pos.Liabilities[debtAsset] = big.NewInt(100_000_000_000)

	ev, err := Evaluate(pool, pos, reserves, prices)
	require.NoError(t, err)
	assert.Equal(t, types.ScoreLiquidate, ev.Score)
	assert.GreaterOrEqual(t, ev.Pct, int64(1))
	assert.LessOrEqual(t, ev.Pct, int64(100))
}

// property: scale soundness — adj collateral never exceeds raw collateral,
// and adj liabilities are never less than raw liabilities.
func TestCalcPositionValue_ScaleSoundness(t *testing.T) {
	price := big.NewInt(30_000_000)
	amount := big.NewInt(123_456_789)
	rate := big.NewInt(1_050_000_000)
	scalar := big.NewInt(1_000_000_000)

	cRaw, cAdj, err := CalcPositionValue(price, amount, rate, big.NewInt(8_000_000), scalar, false)
	require.NoError(t, err)
	assert.True(t, cAdj.Cmp(cRaw) <= 0)

	lRaw, lAdj, err := CalcPositionValue(price, amount, rate, big.NewInt(8_000_000), scalar, true)
	require.NoError(t, err)
	assert.True(t, lAdj.Cmp(lRaw) >= 0)
}

func TestEvaluate_MissingReserveConfig(t *testing.T) {
	pool := common.HexToAddress("0x1")
	debtAsset := common.HexToAddress("0xD1")

	pos := types.NewUserPositions()
	pos.Liabilities[debtAsset] = big.NewInt(1_000_000_000)

	_, err := Evaluate(pool, pos, fakeReserves{}, fakePrices{})
	assert.Error(t, err)
}
