// Package storage implements the storage adapter contract from spec.md
// §4.7 and §6: three independent embedded-sqlite files under db_path
// (blend_assets.db, blend_users.db, filled_auctions.db), with no
// transactional isolation required between tables.
package storage

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/blackhole-labs/blend-liquidator/pkg/types"
)

// Adapter is the embedded-sqlite storage adapter. It owns three separate
// GORM connections, matching the independent-files layout in spec.md §6
// rather than a single shared database.
type Adapter struct {
	dir     string
	assets  *gorm.DB
	users   *gorm.DB
	filled  *gorm.DB
}

// Open opens (creating if absent) the three database files under dir.
func Open(dir string) (*Adapter, error) {
	assetsDB, err := openSQLite(filepath.Join(dir, "blend_assets.db"), &AssetPriceRecord{}, &PoolAssetRecord{})
	if err != nil {
		return nil, fmt.Errorf("storage: open blend_assets.db: %w", err)
	}
	usersDB, err := openSQLite(filepath.Join(dir, "blend_users.db"), &UserRecord{})
	if err != nil {
		return nil, fmt.Errorf("storage: open blend_users.db: %w", err)
	}
	filledDB, err := openSQLite(filepath.Join(dir, "filled_auctions.db"), &FilledAuctionDBRecord{})
	if err != nil {
		return nil, fmt.Errorf("storage: open filled_auctions.db: %w", err)
	}

	return &Adapter{dir: dir, assets: assetsDB, users: usersDB, filled: filledDB}, nil
}

// Heartbeat overwrites heartbeat.txt with the current block number,
// the liveness signal an external monitor polls (spec.md §6).
func (a *Adapter) Heartbeat(block uint32) error {
	path := filepath.Join(a.dir, "heartbeat.txt")
	if err := os.WriteFile(path, []byte(strconv.FormatUint(uint64(block), 10)), 0o644); err != nil {
		return fmt.Errorf("storage: write heartbeat: %w", err)
	}
	return nil
}

func openSQLite(path string, models ...interface{}) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	return db, nil
}

// Close releases the underlying sqlite file handles.
func (a *Adapter) Close() error {
	for _, db := range []*gorm.DB{a.assets, a.users, a.filled} {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		if err := sqlDB.Close(); err != nil {
			return err
		}
	}
	return nil
}

// AssetPrice implements evaluator.PriceLookup: (asset) → price.
func (a *Adapter) AssetPrice(asset common.Address) (*big.Int, bool) {
	var rec AssetPriceRecord
	if err := a.assets.First(&rec, "asset = ?", strings.ToLower(asset.Hex())).Error; err != nil {
		return nil, false
	}
	return stringToBigInt(rec.Price), true
}

// UpsertAssetPrice writes a fresh oracle price, overwriting any prior
// value (spec.md §4.7: "upsert-on-refresh").
func (a *Adapter) UpsertAssetPrice(asset common.Address, price *big.Int) error {
	rec := AssetPriceRecord{Asset: strings.ToLower(asset.Hex()), Price: bigIntToString(price)}
	return a.assets.Save(&rec).Error
}

// ReserveConfig implements evaluator.ReserveLookup and ratecache.Store's
// read path: (pool, asset) → reserve config.
func (a *Adapter) ReserveConfig(pool, asset common.Address) (*types.ReserveConfig, bool) {
	var rec PoolAssetRecord
	err := a.assets.First(&rec, "pool = ? AND asset = ?", strings.ToLower(pool.Hex()), strings.ToLower(asset.Hex())).Error
	if err != nil {
		return nil, false
	}
	return recordToReserveConfig(pool, asset, rec), true
}

// ReserveConfigByIndex translates a protocol-internal reserve index back
// to its asset within a pool (spec.md §4.7).
func (a *Adapter) ReserveConfigByIndex(pool common.Address, index uint32) (*types.ReserveConfig, bool) {
	var rec PoolAssetRecord
	err := a.assets.First(&rec, "pool = ? AND \"index\" = ?", strings.ToLower(pool.Hex()), index).Error
	if err != nil {
		return nil, false
	}
	return recordToReserveConfig(pool, common.HexToAddress(rec.Asset), rec), true
}

// UpsertReserveConfig writes a full reserve config, implementing
// ratecache.Store for the invalidate-and-refetch path.
func (a *Adapter) UpsertReserveConfig(pool, asset common.Address, rc *types.ReserveConfig) error {
	rec := PoolAssetRecord{
		Pool:    strings.ToLower(pool.Hex()),
		Asset:   strings.ToLower(asset.Hex()),
		Index:   rc.Index,
		CFactor: bigIntToString(rc.CFactor),
		LFactor: bigIntToString(rc.LFactor),
		BRate:   bigIntToString(rc.EstBRate),
		DRate:   bigIntToString(rc.EstDRate),
		Scalar:  bigIntToString(rc.Scalar),
	}
	return a.assets.Save(&rec).Error
}

// UpdateRate implements ratecache.Store's single-field rate recompute,
// leaving the rest of the reserve config untouched.
func (a *Adapter) UpdateRate(pool, asset common.Address, isDebt bool, rate *big.Int) error {
	column := "b_rate"
	if isDebt {
		column = "d_rate"
	}
	result := a.assets.Model(&PoolAssetRecord{}).
		Where("pool = ? AND asset = ?", strings.ToLower(pool.Hex()), strings.ToLower(asset.Hex())).
		Update(column, bigIntToString(rate))
	if result.Error != nil {
		return fmt.Errorf("storage: update %s for %s/%s: %w", column, pool.Hex(), asset.Hex(), result.Error)
	}
	return nil
}

// RegisterUser idempotently records a user as observed, for crash-recovery
// resync (spec.md §4.7 users table).
func (a *Adapter) RegisterUser(pool, user common.Address) error {
	rec := UserRecord{Pool: strings.ToLower(pool.Hex()), User: strings.ToLower(user.Hex())}
	return a.users.Clauses(onConflictDoNothing()).Create(&rec).Error
}

// TrackedUsers lists the page of users observed in a pool starting at
// offset, up to limit rows, for startup discovery sweeps
// (Config.UserSyncBatchLimit bounds limit at the caller).
func (a *Adapter) TrackedUsers(pool common.Address, offset, limit int) ([]common.Address, error) {
	var recs []UserRecord
	q := a.users.Where("pool = ?", strings.ToLower(pool.Hex())).Order("first_seen, user").Offset(offset)
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("storage: list tracked users: %w", err)
	}
	out := make([]common.Address, 0, len(recs))
	for _, r := range recs {
		out = append(out, common.HexToAddress(r.User))
	}
	return out, nil
}

// RecordFilledAuction appends an audit-log entry atomically after a
// successful fill attributed to this agent.
func (a *Adapter) RecordFilledAuction(rec *types.FilledAuctionRecord) error {
	row := FilledAuctionDBRecord{
		Block:      rec.Block,
		Pool:       strings.ToLower(rec.Pool.Hex()),
		User:       strings.ToLower(rec.User.Hex()),
		LotAssets:  joinAddresses(rec.LotAssets),
		LotAmounts: joinBigInts(rec.LotAmounts),
		BidAssets:  joinAddresses(rec.BidAssets),
		BidAmounts: joinBigInts(rec.BidAmounts),
		FillPct:    rec.FillPct,
	}
	return a.filled.Create(&row).Error
}

func onConflictDoNothing() clause.OnConflict {
	return clause.OnConflict{DoNothing: true}
}

func recordToReserveConfig(pool, asset common.Address, rec PoolAssetRecord) *types.ReserveConfig {
	return &types.ReserveConfig{
		Pool:     pool,
		Asset:    asset,
		Index:    rec.Index,
		CFactor:  stringToBigInt(rec.CFactor),
		LFactor:  stringToBigInt(rec.LFactor),
		EstBRate: stringToBigInt(rec.BRate),
		EstDRate: stringToBigInt(rec.DRate),
		Scalar:   stringToBigInt(rec.Scalar),
	}
}

func joinAddresses(addrs []common.Address) string {
	parts := make([]string, len(addrs))
	for i, a := range addrs {
		parts[i] = a.Hex()
	}
	return strings.Join(parts, ",")
}

func joinBigInts(vals []*big.Int) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = bigIntToString(v)
	}
	return strings.Join(parts, ",")
}
