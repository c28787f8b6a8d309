// Package auctioneer implements the WatchSet-owning strategy from
// spec.md §4.5: it mirrors every watched user's position, reacts to
// pool events that change borrowing power, and emits the protocol
// actions (`new_liquidation_auction`, `bad_debt`) that open auctions
// against users who have crossed into a liquidatable state.
package auctioneer

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/blackhole-labs/blend-liquidator/pkg/evaluator"
	"github.com/blackhole-labs/blend-liquidator/pkg/ingestor"
	"github.com/blackhole-labs/blend-liquidator/pkg/ratecache"
	"github.com/blackhole-labs/blend-liquidator/pkg/types"
)

// ActionKind discriminates the protocol-level actions the auctioneer
// emits in response to scoring a user (spec.md §4.2 "Acting on Score").
type ActionKind string

const (
	ActionNewLiquidationAuction ActionKind = "new_liquidation_auction"
	ActionBadDebt               ActionKind = "bad_debt"
	ActionNewBadDebtAuction     ActionKind = "new_bad_debt_auction"
)

// Action is a single protocol-level action to submit on-chain.
type Action struct {
	Kind ActionKind
	Pool common.Address
	User common.Address
	Pct  int64
}

// ActionEmitter is the external collaborator that turns an Action into a
// signed transaction.
type ActionEmitter interface {
	Emit(ctx context.Context, a Action) error
}

// PositionFetcher re-reads a user's full position set from the chain,
// used whenever the in-memory WatchSet entry can't be cheaply derived
// from a delta alone.
type PositionFetcher interface {
	FetchUserPositions(ctx context.Context, pool, user common.Address) (*types.UserPositions, error)
}

// OracleRefresher re-reads and persists current oracle prices for every
// tracked asset, driven by the ingestor's 10-block sweep.
type OracleRefresher interface {
	RefreshOraclePrices(ctx context.Context) error
}

// UserDirectory is the durable, crash-recovery-facing user registry
// (spec.md §4.7 `users` table). TrackedUsers pages results (offset,
// limit) so the startup discovery sweep bounds how many rows a single
// pass reads (Config.UserSyncBatchLimit, spec.md §9).
type UserDirectory interface {
	RegisterUser(pool, user common.Address) error
	TrackedUsers(pool common.Address, offset, limit int) ([]common.Address, error)
}

// Strategy owns the WatchSet: pool -> user -> positions, for every user
// currently scored Watch or Liquidate. It implements ingestor.Strategy.
type Strategy struct {
	mu sync.Mutex

	pools    []common.Address
	users    map[common.Address]map[common.Address]*types.UserPositions

	reserves evaluator.ReserveLookup
	prices   evaluator.PriceLookup
	rates    *ratecache.Cache
	dir      UserDirectory
	fetcher  PositionFetcher
	oracle   OracleRefresher
	emitter  ActionEmitter

	oracleRefreshInterval     uint32
	userSyncBatchLimit        int
	oracleUpdateEventsEnabled bool
}

// New constructs an auctioneer strategy over the given pools.
// userSyncBatchLimit bounds how many user rows Bootstrap reads per page
// (Config.UserSyncBatchLimit); oracleUpdateEventsEnabled gates whether an
// `oracle_update` event triggers an immediate refresh on top of the
// periodic sweep (Config.OracleUpdateEventsEnabled, spec.md §9).
func New(
	pools []common.Address,
	reserves evaluator.ReserveLookup,
	prices evaluator.PriceLookup,
	rates *ratecache.Cache,
	dir UserDirectory,
	fetcher PositionFetcher,
	oracle OracleRefresher,
	emitter ActionEmitter,
	oracleRefreshInterval uint32,
	userSyncBatchLimit int,
	oracleUpdateEventsEnabled bool,
) *Strategy {
	users := make(map[common.Address]map[common.Address]*types.UserPositions, len(pools))
	for _, p := range pools {
		users[p] = make(map[common.Address]*types.UserPositions)
	}
	return &Strategy{
		pools: pools, users: users,
		reserves: reserves, prices: prices, rates: rates,
		dir: dir, fetcher: fetcher, oracle: oracle, emitter: emitter,
		oracleRefreshInterval:     oracleRefreshInterval,
		userSyncBatchLimit:        userSyncBatchLimit,
		oracleUpdateEventsEnabled: oracleUpdateEventsEnabled,
	}
}

func (s *Strategy) Name() string { return "auctioneer" }

// Bootstrap runs the startup discovery sweep: every durably-registered
// user in every pool is re-fetched and re-scored, seeding the WatchSet
// before the live stream is consumed (spec.md §4 supplemented feature).
// Each pool's user list is read in pages of userSyncBatchLimit rows
// (Config.UserSyncBatchLimit) rather than in one unbounded query.
func (s *Strategy) Bootstrap(ctx context.Context) error {
	limit := s.userSyncBatchLimit
	if limit <= 0 {
		limit = 1000
	}
	for _, pool := range s.pools {
		for offset := 0; ; offset += limit {
			users, err := s.dir.TrackedUsers(pool, offset, limit)
			if err != nil {
				return fmt.Errorf("auctioneer: bootstrap list users for %s: %w", pool.Hex(), err)
			}
			for _, user := range users {
				if err := s.refetchAndScore(ctx, pool, user); err != nil {
					return fmt.Errorf("auctioneer: bootstrap score %s/%s: %w", pool.Hex(), user.Hex(), err)
				}
			}
			if len(users) < limit {
				break
			}
		}
	}
	return nil
}

// ProcessEvent reacts to a single decoded chain event per spec.md §4.5.
func (s *Strategy) ProcessEvent(ctx context.Context, ev ingestor.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Topic {
	case ingestor.TopicNewLiquidationAuction:
		s.remove(ev.Pool, ev.User)
		return nil

	case ingestor.TopicDeleteLiquidationAuction:
		return s.refetchAndScoreLocked(ctx, ev.Pool, ev.User)

	case ingestor.TopicFillAuction:
		if ev.AuctionType != types.AuctionTypeUserLiquidation || ev.Pct != 100 {
			return nil
		}
		return s.refetchAndScoreLocked(ctx, ev.Pool, ev.User)

	case ingestor.TopicBadDebt:
		s.remove(ev.Pool, ev.User)
		return s.emit(ctx, Action{Kind: ActionNewBadDebtAuction, Pool: ev.Pool, User: ev.User})

	case ingestor.TopicSetReserve:
		return s.rates.SetReserveConfig(ctx, ev.Pool, ev.Asset)

	case ingestor.TopicSupply, ingestor.TopicWithdraw:
		return s.rates.UpdateRate(ctx, ev.Pool, ev.Asset, false, ev.Amount, ev.Tokens)
	case ingestor.TopicBorrow:
		if err := s.rates.UpdateRate(ctx, ev.Pool, ev.Asset, true, ev.Amount, ev.Tokens); err != nil {
			return err
		}
		return s.updateUserLocked(ctx, ev.Pool, ev.User, ev.Asset, ev.Tokens, false, false)
	case ingestor.TopicRepay:
		if err := s.rates.UpdateRate(ctx, ev.Pool, ev.Asset, true, ev.Amount, ev.Tokens); err != nil {
			return err
		}
		return s.updateUserLocked(ctx, ev.Pool, ev.User, ev.Asset, ev.Tokens, false, true)
	case ingestor.TopicSupplyCollateral:
		return s.updateUserLocked(ctx, ev.Pool, ev.User, ev.Asset, ev.DeltaTokens, true, true)
	case ingestor.TopicWithdrawCollateral:
		return s.updateUserLocked(ctx, ev.Pool, ev.User, ev.Asset, ev.DeltaTokens, true, false)

	case ingestor.TopicOracleUpdate:
		if !s.oracleUpdateEventsEnabled {
			return nil
		}
		return s.oracle.RefreshOraclePrices(ctx)

	default:
		return nil
	}
}

// OnBlock drives the 10-block oracle-refresh and re-evaluation sweep
// (spec.md §4.1, §4.5).
func (s *Strategy) OnBlock(ctx context.Context, block uint32) error {
	if s.oracleRefreshInterval == 0 || block%s.oracleRefreshInterval != 0 {
		return nil
	}
	if err := s.oracle.RefreshOraclePrices(ctx); err != nil {
		return fmt.Errorf("auctioneer: refresh oracle prices: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for pool, users := range s.users {
		for user, pos := range users {
			if err := s.actOnPositionsLocked(ctx, pool, user, pos); err != nil {
				return err
			}
		}
	}
	return nil
}

// updateUserLocked implements update_user(pool, user, asset, delta_tokens,
// is_collateral) from spec.md §4.5. increasesBorrowingPower tells the
// caller which branch of the conditional logic to take: true for added
// collateral or a repaid liability, false for withdrawn collateral or a
// new borrow.
func (s *Strategy) updateUserLocked(ctx context.Context, pool, user, asset common.Address, deltaTokens *big.Int, isCollateral, increasesBorrowingPower bool) error {
	if err := s.dir.RegisterUser(pool, user); err != nil {
		return fmt.Errorf("auctioneer: register user %s/%s: %w", pool.Hex(), user.Hex(), err)
	}

	pos, tracked := s.users[pool][user]

	if tracked {
		applyDelta(pos, asset, deltaTokens, isCollateral, increasesBorrowingPower)
		if increasesBorrowingPower {
			return s.actOnPositionsLocked(ctx, pool, user, pos)
		}
		// A decrease for an already-tracked user just updates state; the
		// next sweep or explicit event will re-evaluate it.
		return nil
	}

	if increasesBorrowingPower {
		// Not tracked and getting safer: nothing to do.
		return nil
	}

	return s.refetchAndScoreLocked(ctx, pool, user)
}

func applyDelta(pos *types.UserPositions, asset common.Address, delta *big.Int, isCollateral, isIncrease bool) {
	if delta == nil {
		return
	}
	m := pos.Liabilities
	if isCollateral {
		m = pos.Collateral
	}
	cur, ok := m[asset]
	if !ok {
		cur = big.NewInt(0)
	}
	signed := new(big.Int).Set(delta)
	if !isIncrease {
		signed.Neg(signed)
	}
	next := new(big.Int).Add(cur, signed)
	if next.Sign() < 0 {
		next = big.NewInt(0)
	}
	m[asset] = next
}

func (s *Strategy) refetchAndScoreLocked(ctx context.Context, pool, user common.Address) error {
	pos, err := s.fetcher.FetchUserPositions(ctx, pool, user)
	if err != nil {
		return fmt.Errorf("auctioneer: fetch positions for %s/%s: %w", pool.Hex(), user.Hex(), err)
	}
	return s.actOnPositionsLocked(ctx, pool, user, pos)
}

// refetchAndScore is the entry point used from Bootstrap, which holds no
// lock itself: the lock is taken here, once per user.
func (s *Strategy) refetchAndScore(ctx context.Context, pool, user common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refetchAndScoreLocked(ctx, pool, user)
}

// actOnPositionsLocked evaluates pos and drives the WatchSet + emits
// actions per spec.md §4.2 "Acting on Score". Caller holds s.mu.
func (s *Strategy) actOnPositionsLocked(ctx context.Context, pool, user common.Address, pos *types.UserPositions) error {
	eval, err := evaluator.Evaluate(pool, pos, s.reserves, s.prices)
	if err != nil {
		return fmt.Errorf("auctioneer: evaluate %s/%s: %w", pool.Hex(), user.Hex(), err)
	}

	switch eval.Score {
	case types.ScoreBadDebt:
		s.remove(pool, user)
		return s.emit(ctx, Action{Kind: ActionBadDebt, Pool: pool, User: user})
	case types.ScoreIgnore:
		s.remove(pool, user)
		return nil
	case types.ScoreWatch:
		s.insert(pool, user, pos)
		return nil
	case types.ScoreLiquidate:
		s.insert(pool, user, pos)
		return s.emit(ctx, Action{Kind: ActionNewLiquidationAuction, Pool: pool, User: user, Pct: eval.Pct})
	default:
		return nil
	}
}

func (s *Strategy) insert(pool, user common.Address, pos *types.UserPositions) {
	if _, ok := s.users[pool]; !ok {
		s.users[pool] = make(map[common.Address]*types.UserPositions)
	}
	s.users[pool][user] = pos
}

func (s *Strategy) remove(pool, user common.Address) {
	if m, ok := s.users[pool]; ok {
		delete(m, user)
	}
}

func (s *Strategy) emit(ctx context.Context, a Action) error {
	if s.emitter == nil {
		return nil
	}
	if err := s.emitter.Emit(ctx, a); err != nil {
		return fmt.Errorf("auctioneer: emit %s for %s/%s: %w", a.Kind, a.Pool.Hex(), a.User.Hex(), err)
	}
	return nil
}
