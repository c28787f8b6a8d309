package storage

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackhole-labs/blend-liquidator/pkg/types"
)

func openTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	a, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestAdapter_AssetPriceRoundTrip(t *testing.T) {
	a := openTestAdapter(t)
	asset := common.HexToAddress("0xA1")

	_, ok := a.AssetPrice(asset)
	assert.False(t, ok)

	require.NoError(t, a.UpsertAssetPrice(asset, big.NewInt(12_345_678)))
	price, ok := a.AssetPrice(asset)
	require.True(t, ok)
	assert.Equal(t, big.NewInt(12_345_678), price)

	// upsert overwrites rather than duplicating.
	require.NoError(t, a.UpsertAssetPrice(asset, big.NewInt(99)))
	price, ok = a.AssetPrice(asset)
	require.True(t, ok)
	assert.Equal(t, big.NewInt(99), price)
}

func TestAdapter_ReserveConfigRoundTrip(t *testing.T) {
	a := openTestAdapter(t)
	pool := common.HexToAddress("0xP1")
	asset := common.HexToAddress("0xA2")

	rc := &types.ReserveConfig{
		Pool:     pool,
		Asset:    asset,
		Index:    3,
		CFactor:  big.NewInt(9_000_000),
		LFactor:  big.NewInt(9_000_000),
		EstBRate: big.NewInt(1_000_000_000),
		EstDRate: big.NewInt(1_000_000_000),
		Scalar:   big.NewInt(1_000_000_000),
	}
	require.NoError(t, a.UpsertReserveConfig(pool, asset, rc))

	got, ok := a.ReserveConfig(pool, asset)
	require.True(t, ok)
	assert.Equal(t, rc.CFactor, got.CFactor)
	assert.Equal(t, rc.Index, got.Index)

	byIndex, ok := a.ReserveConfigByIndex(pool, 3)
	require.True(t, ok)
	assert.Equal(t, asset.Hex(), byIndex.Asset.Hex())
}

func TestAdapter_UpdateRate_TouchesOnlyTargetColumn(t *testing.T) {
	a := openTestAdapter(t)
	pool := common.HexToAddress("0xP1")
	asset := common.HexToAddress("0xA2")

	rc := &types.ReserveConfig{
		Pool: pool, Asset: asset, CFactor: big.NewInt(1), LFactor: big.NewInt(1),
		EstBRate: big.NewInt(1_000_000_000), EstDRate: big.NewInt(1_000_000_000), Scalar: big.NewInt(1),
	}
	require.NoError(t, a.UpsertReserveConfig(pool, asset, rc))
	require.NoError(t, a.UpdateRate(pool, asset, true, big.NewInt(1_050_000_000)))

	got, ok := a.ReserveConfig(pool, asset)
	require.True(t, ok)
	assert.Equal(t, big.NewInt(1_050_000_000), got.EstDRate)
	assert.Equal(t, big.NewInt(1_000_000_000), got.EstBRate)
}

func TestAdapter_RegisterUser_IdempotentAndListable(t *testing.T) {
	a := openTestAdapter(t)
	pool := common.HexToAddress("0xP1")
	user := common.HexToAddress("0xU1")

	require.NoError(t, a.RegisterUser(pool, user))
	require.NoError(t, a.RegisterUser(pool, user)) // idempotent

	users, err := a.TrackedUsers(pool, 0, 0)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, user.Hex(), users[0].Hex())
}

func TestAdapter_TrackedUsers_PagesByOffsetAndLimit(t *testing.T) {
	a := openTestAdapter(t)
	pool := common.HexToAddress("0xP1")
	for i := 0; i < 5; i++ {
		require.NoError(t, a.RegisterUser(pool, common.BigToAddress(big.NewInt(int64(i+1)))))
	}

	page1, err := a.TrackedUsers(pool, 0, 2)
	require.NoError(t, err)
	assert.Len(t, page1, 2)

	page2, err := a.TrackedUsers(pool, 2, 2)
	require.NoError(t, err)
	assert.Len(t, page2, 2)

	page3, err := a.TrackedUsers(pool, 4, 2)
	require.NoError(t, err)
	assert.Len(t, page3, 1)
}

func TestAdapter_Heartbeat_OverwritesEachCall(t *testing.T) {
	dir := t.TempDir()
	a, err := Open(dir)
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.Heartbeat(10))
	data, err := os.ReadFile(filepath.Join(dir, "heartbeat.txt"))
	require.NoError(t, err)
	assert.Equal(t, "10", string(data))

	require.NoError(t, a.Heartbeat(11))
	data, err = os.ReadFile(filepath.Join(dir, "heartbeat.txt"))
	require.NoError(t, err)
	assert.Equal(t, "11", string(data))
}

func TestAdapter_RecordFilledAuction(t *testing.T) {
	a := openTestAdapter(t)
	rec := &types.FilledAuctionRecord{
		Block:      1000,
		Pool:       common.HexToAddress("0xP1"),
		User:       common.HexToAddress("0xU1"),
		LotAssets:  []common.Address{common.HexToAddress("0xA1")},
		LotAmounts: []*big.Int{big.NewInt(100)},
		BidAssets:  []common.Address{common.HexToAddress("0xA2")},
		BidAmounts: []*big.Int{big.NewInt(200)},
		FillPct:    100,
	}
	require.NoError(t, a.RecordFilledAuction(rec))
}
