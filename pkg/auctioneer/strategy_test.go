package auctioneer

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackhole-labs/blend-liquidator/pkg/ingestor"
	"github.com/blackhole-labs/blend-liquidator/pkg/ratecache"
	"github.com/blackhole-labs/blend-liquidator/pkg/types"
)

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

type fakeRateStore struct {
	configs map[common.Address]*types.ReserveConfig
	rates   map[common.Address]*big.Int
}

func newFakeRateStore() *fakeRateStore {
	return &fakeRateStore{configs: map[common.Address]*types.ReserveConfig{}, rates: map[common.Address]*big.Int{}}
}

func (s *fakeRateStore) ReserveConfig(pool, asset common.Address) (*types.ReserveConfig, bool) {
	rc, ok := s.configs[asset]
	return rc, ok
}
func (s *fakeRateStore) UpsertReserveConfig(pool, asset common.Address, rc *types.ReserveConfig) error {
	s.configs[asset] = rc
	return nil
}
func (s *fakeRateStore) UpdateRate(pool, asset common.Address, isDebt bool, rate *big.Int) error {
	s.rates[asset] = rate
	return nil
}

type fakeFetcher struct{ rc *types.ReserveConfig }

func (f *fakeFetcher) FetchReserveConfig(ctx context.Context, pool, asset common.Address) (*types.ReserveConfig, error) {
	return f.rc, nil
}

type fakeDir struct {
	registered map[common.Address][]common.Address
	tracked    map[common.Address][]common.Address
}

func newFakeDir() *fakeDir {
	return &fakeDir{registered: map[common.Address][]common.Address{}, tracked: map[common.Address][]common.Address{}}
}
func (d *fakeDir) RegisterUser(pool, user common.Address) error {
	d.registered[pool] = append(d.registered[pool], user)
	return nil
}
func (d *fakeDir) TrackedUsers(pool common.Address, offset, limit int) ([]common.Address, error) {
	all := d.tracked[pool]
	if offset >= len(all) {
		return nil, nil
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end], nil
}

type fakePositionFetcher struct {
	positions map[common.Address]*types.UserPositions
}

func (f *fakePositionFetcher) FetchUserPositions(ctx context.Context, pool, user common.Address) (*types.UserPositions, error) {
	if p, ok := f.positions[user]; ok {
		return p, nil
	}
	return types.NewUserPositions(), nil
}

type fakeOracle struct{ calls int }

func (f *fakeOracle) RefreshOraclePrices(ctx context.Context) error {
	f.calls++
	return nil
}

type fakeEmitter struct {
	actions []Action
}

func (f *fakeEmitter) Emit(ctx context.Context, a Action) error {
	f.actions = append(f.actions, a)
	return nil
}

func testReserveConfig() *types.ReserveConfig {
	return &types.ReserveConfig{
		CFactor: big.NewInt(9_000_000), LFactor: big.NewInt(9_000_000),
		EstBRate: big.NewInt(1_000_000_000), EstDRate: big.NewInt(1_000_000_000),
		Scalar: big.NewInt(1_000_000_000),
	}
}

func newTestStrategy(t *testing.T, pool common.Address) (*Strategy, fakeReserves, fakePrices, *fakeEmitter, *fakePositionFetcher, *fakeDir) {
	t.Helper()
	reserves := fakeReserves{}
	prices := fakePrices{}
	rateStore := newFakeRateStore()
	rates := ratecache.New(rateStore, &fakeFetcher{})
	dir := newFakeDir()
	fetcher := &fakePositionFetcher{positions: map[common.Address]*types.UserPositions{}}
	oracle := &fakeOracle{}
	emitter := &fakeEmitter{}

	s := New([]common.Address{pool}, reserves, prices, rates, dir, fetcher, oracle, emitter, 10, 1000, false)
	return s, reserves, prices, emitter, fetcher, dir
}

func TestProcessEvent_NewLiquidationAuction_RemovesFromWatchSet(t *testing.T) {
	pool, user := common.HexToAddress("0xP1"), common.HexToAddress("0xU1")
	s, _, _, _, _, _ := newTestStrategy(t, pool)
	s.insert(pool, user, types.NewUserPositions())

	require.NoError(t, s.ProcessEvent(context.Background(), ingestor.Event{Topic: ingestor.TopicNewLiquidationAuction, Pool: pool, User: user}))
	_, tracked := s.users[pool][user]
	assert.False(t, tracked)
}

func TestProcessEvent_BadDebt_RemovesAndEmits(t *testing.T) {
	pool, user := common.HexToAddress("0xP1"), common.HexToAddress("0xU1")
	s, _, _, emitter, _, _ := newTestStrategy(t, pool)
	s.insert(pool, user, types.NewUserPositions())

	require.NoError(t, s.ProcessEvent(context.Background(), ingestor.Event{Topic: ingestor.TopicBadDebt, Pool: pool, User: user}))
	_, tracked := s.users[pool][user]
	assert.False(t, tracked)
	require.Len(t, emitter.actions, 1)
	assert.Equal(t, ActionNewBadDebtAuction, emitter.actions[0].Kind)
}

func TestProcessEvent_DeleteLiquidationAuction_ReinsertsIfNotIgnore(t *testing.T) {
	pool, user, asset := common.HexToAddress("0xP1"), common.HexToAddress("0xU1"), common.HexToAddress("0xA1")
	s, reserves, prices, emitter, fetcher, _ := newTestStrategy(t, pool)

	reserves[asset] = testReserveConfig()
	prices[asset] = big.NewInt(1_0000000)

	pos := types.NewUserPositions()
	pos.Collateral[asset] = big.NewInt(100_0000000)
	pos.Liabilities[asset] = big.NewInt(95_0000000)
	fetcher.positions[user] = pos

	require.NoError(t, s.ProcessEvent(context.Background(), ingestor.Event{Topic: ingestor.TopicDeleteLiquidationAuction, Pool: pool, User: user}))

	_, tracked := s.users[pool][user]
	assert.True(t, tracked)
	_ = emitter
}

func TestProcessEvent_SupplyCollateral_IncreasesBorrowingPowerDropsOnIgnore(t *testing.T) {
	pool, user, asset := common.HexToAddress("0xP1"), common.HexToAddress("0xU1"), common.HexToAddress("0xA1")
	s, reserves, prices, _, _, dir := newTestStrategy(t, pool)

	reserves[asset] = testReserveConfig()
	prices[asset] = big.NewInt(1_0000000)

	pos := types.NewUserPositions()
	s.insert(pool, user, pos)

	require.NoError(t, s.ProcessEvent(context.Background(), ingestor.Event{
		Topic: ingestor.TopicSupplyCollateral, Pool: pool, User: user, Asset: asset,
		DeltaTokens: big.NewInt(100_0000000),
	}))

	// no liability at all means c_adj>0, l_adj=0 -> Ignore -> dropped.
	_, tracked := s.users[pool][user]
	assert.False(t, tracked)
	assert.Contains(t, dir.registered[pool], user)
}

func TestProcessEvent_Borrow_DecreasesBorrowingPowerNewUserFetched(t *testing.T) {
	pool, user, asset := common.HexToAddress("0xP1"), common.HexToAddress("0xU1"), common.HexToAddress("0xA1")
	s, reserves, prices, _, fetcher, _ := newTestStrategy(t, pool)

	reserves[asset] = testReserveConfig()
	prices[asset] = big.NewInt(1_0000000)

	pos := types.NewUserPositions()
	pos.Collateral[asset] = big.NewInt(100_0000000)
	pos.Liabilities[asset] = big.NewInt(95_0000000)
	fetcher.positions[user] = pos

	require.NoError(t, s.ProcessEvent(context.Background(), ingestor.Event{
		Topic: ingestor.TopicBorrow, Pool: pool, User: user, Asset: asset,
		Amount: big.NewInt(10), Tokens: big.NewInt(10_000_000_000),
	}))

	_, tracked := s.users[pool][user]
	assert.True(t, tracked)
}

func TestOnBlock_TriggersSweepOnInterval(t *testing.T) {
	pool := common.HexToAddress("0xP1")
	s, _, _, _, _, _ := newTestStrategy(t, pool)

	require.NoError(t, s.OnBlock(context.Background(), 9))
	require.NoError(t, s.OnBlock(context.Background(), 10))
}

func TestBootstrap_ScoresEveryTrackedUser(t *testing.T) {
	pool, user, asset := common.HexToAddress("0xP1"), common.HexToAddress("0xU1"), common.HexToAddress("0xA1")
	s, reserves, prices, _, fetcher, dir := newTestStrategy(t, pool)
	dir.tracked[pool] = []common.Address{user}

	reserves[asset] = testReserveConfig()
	prices[asset] = big.NewInt(1_0000000)
	pos := types.NewUserPositions()
	pos.Collateral[asset] = big.NewInt(100_0000000)
	pos.Liabilities[asset] = big.NewInt(95_0000000)
	fetcher.positions[user] = pos

	require.NoError(t, s.Bootstrap(context.Background()))
	_, tracked := s.users[pool][user]
	assert.True(t, tracked)
}

func TestBootstrap_PagesUsersByBatchLimit(t *testing.T) {
	pool := common.HexToAddress("0xP1")
	reserves, prices := fakeReserves{}, fakePrices{}
	asset := common.HexToAddress("0xA1")
	reserves[asset] = testReserveConfig()
	prices[asset] = big.NewInt(1_0000000)
	rateStore := newFakeRateStore()
	rates := ratecache.New(rateStore, &fakeFetcher{})
	dir := newFakeDir()
	for i := 0; i < 5; i++ {
		dir.tracked[pool] = append(dir.tracked[pool], common.BigToAddress(big.NewInt(int64(i+1))))
	}
	fetcher := &fakePositionFetcher{positions: map[common.Address]*types.UserPositions{}}
	for _, user := range dir.tracked[pool] {
		pos := types.NewUserPositions()
		pos.Collateral[asset] = big.NewInt(100_0000000)
		pos.Liabilities[asset] = big.NewInt(95_0000000)
		fetcher.positions[user] = pos
	}
	oracle, emitter := &fakeOracle{}, &fakeEmitter{}

	s := New([]common.Address{pool}, reserves, prices, rates, dir, fetcher, oracle, emitter, 10, 2, false)
	require.NoError(t, s.Bootstrap(context.Background()))
	assert.Len(t, s.users[pool], 5)
}

func TestProcessEvent_OracleUpdate_RefreshesOnlyWhenEnabled(t *testing.T) {
	pool := common.HexToAddress("0xP1")
	reserves, prices := fakeReserves{}, fakePrices{}
	rateStore := newFakeRateStore()
	rates := ratecache.New(rateStore, &fakeFetcher{})
	dir := newFakeDir()
	fetcher := &fakePositionFetcher{positions: map[common.Address]*types.UserPositions{}}
	oracle, emitter := &fakeOracle{}, &fakeEmitter{}

	disabled := New([]common.Address{pool}, reserves, prices, rates, dir, fetcher, oracle, emitter, 10, 1000, false)
	require.NoError(t, disabled.ProcessEvent(context.Background(), ingestor.Event{Topic: ingestor.TopicOracleUpdate, Pool: pool}))
	assert.Equal(t, 0, oracle.calls)

	enabled := New([]common.Address{pool}, reserves, prices, rates, dir, fetcher, oracle, emitter, 10, 1000, true)
	require.NoError(t, enabled.ProcessEvent(context.Background(), ingestor.Event{Topic: ingestor.TopicOracleUpdate, Pool: pool}))
	assert.Equal(t, 1, oracle.calls)
}
