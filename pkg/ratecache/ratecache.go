// Package ratecache implements the rate-update and cache-consistency
// rules from spec.md §4.3: deriving b_rate/d_rate from observed
// supply/withdraw/borrow/repay events, and invalidating + re-fetching a
// reserve's config when the derived rate is impossible.
package ratecache

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/blackhole-labs/blend-liquidator/internal/fixedpoint"
	"github.com/blackhole-labs/blend-liquidator/pkg/types"
)

// minValidRate is SCALAR_9 (1.0): a derived rate below this is impossible
// and signals a zero-token event, an out-of-order event, or a reindex.
var minValidRate = big.NewInt(fixedpoint.Scalar9)

// Store is the subset of the storage adapter's §4.7 pool_asset_data
// contract the rate cache needs.
type Store interface {
	ReserveConfig(pool, asset common.Address) (*types.ReserveConfig, bool)
	UpsertReserveConfig(pool, asset common.Address, rc *types.ReserveConfig) error
	UpdateRate(pool, asset common.Address, isDebt bool, rate *big.Int) error
}

// ReserveFetcher re-reads a (pool, asset)'s full reserve config from the
// chain, used to recover from an invalidated cache entry.
type ReserveFetcher interface {
	FetchReserveConfig(ctx context.Context, pool, asset common.Address) (*types.ReserveConfig, error)
}

// Cache wraps a Store and a ReserveFetcher to apply §4.3's update rule.
type Cache struct {
	store   Store
	fetcher ReserveFetcher
}

// New constructs a rate cache over the given storage adapter and chain
// fetcher.
func New(store Store, fetcher ReserveFetcher) *Cache {
	return &Cache{store: store, fetcher: fetcher}
}

// UpdateRate derives a rate from an observed (amount, tokens) pair and
// applies it, per spec.md §4.3. Events with zero amount or zero tokens are
// dropped without updating state. A derived rate below SCALAR_9 triggers a
// cache invalidation and full re-fetch from chain.
func (c *Cache) UpdateRate(ctx context.Context, pool, asset common.Address, isDebt bool, amount, tokens *big.Int) error {
	if amount == nil || tokens == nil || amount.Sign() == 0 || tokens.Sign() == 0 {
		return nil
	}

	rate := fixedpoint.MulDivFloor(amount, fixedpoint.Scalar9Big(), tokens)

	if rate.Cmp(minValidRate) < 0 {
		return c.invalidateAndRefetch(ctx, pool, asset)
	}

	return c.store.UpdateRate(pool, asset, isDebt, rate)
}

// invalidateAndRefetch re-reads the full reserve config for (pool, asset)
// from chain and writes it back, discarding the stale cached rate.
func (c *Cache) invalidateAndRefetch(ctx context.Context, pool, asset common.Address) error {
	rc, err := c.fetcher.FetchReserveConfig(ctx, pool, asset)
	if err != nil {
		return fmt.Errorf("ratecache: re-fetch reserve config for %s/%s: %w", pool.Hex(), asset.Hex(), err)
	}
	if err := c.store.UpsertReserveConfig(pool, asset, rc); err != nil {
		return fmt.Errorf("ratecache: persist re-fetched reserve config: %w", err)
	}
	return nil
}

// SetReserveConfig handles a set_reserve event: an unconditional refresh
// of the full (pool, asset) config, bypassing rate derivation entirely.
func (c *Cache) SetReserveConfig(ctx context.Context, pool, asset common.Address) error {
	return c.invalidateAndRefetch(ctx, pool, asset)
}

// VerifyRoundTrip recovers the original amount from a derived rate and a
// token count, within one unit of SCALAR_9 rounding (spec.md §8
// "Rate-update round-trip").
func VerifyRoundTrip(amount, tokens *big.Int) (recovered *big.Int, withinTolerance bool) {
	rate := fixedpoint.MulDivFloor(amount, fixedpoint.Scalar9Big(), tokens)
	recovered = fixedpoint.MulDivFloor(tokens, rate, fixedpoint.Scalar9Big())
	diff := new(big.Int).Sub(amount, recovered)
	diff.Abs(diff)
	return recovered, diff.Cmp(big.NewInt(1)) <= 0
}
