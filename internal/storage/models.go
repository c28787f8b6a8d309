package storage

import (
	"math/big"
	"time"
)

// AssetPriceRecord is the GORM model backing the asset_prices table
// (spec.md §4.7): (asset) → price, upserted on every oracle refresh.
type AssetPriceRecord struct {
	Asset     string    `gorm:"primaryKey;size:42"`
	Price     string    `gorm:"type:varchar(78);not null;comment:big.Int as string"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (AssetPriceRecord) TableName() string { return "asset_prices" }

// PoolAssetRecord is the GORM model backing pool_asset_data: (pool, asset)
// → reserve config, looked up either by the composite key or by
// (pool, index) for translating protocol indices back to assets.
type PoolAssetRecord struct {
	Pool      string `gorm:"primaryKey;size:42"`
	Asset     string `gorm:"primaryKey;size:42"`
	Index     uint32 `gorm:"index:idx_pool_index"`
	CFactor   string `gorm:"type:varchar(78);not null"`
	LFactor   string `gorm:"type:varchar(78);not null"`
	BRate     string `gorm:"type:varchar(78);not null"`
	DRate     string `gorm:"type:varchar(78);not null"`
	Scalar    string `gorm:"type:varchar(78);not null"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (PoolAssetRecord) TableName() string { return "pool_asset_data" }

// UserRecord is the append-only-by-intent set of user identifiers ever
// observed, used for crash-recovery resync.
type UserRecord struct {
	Pool      string    `gorm:"primaryKey;size:42"`
	User      string    `gorm:"primaryKey;size:42"`
	FirstSeen time.Time `gorm:"autoCreateTime"`
}

func (UserRecord) TableName() string { return "users" }

// FilledAuctionDBRecord is the append-only audit log of fills attributed
// to this agent.
type FilledAuctionDBRecord struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	Block      uint32 `gorm:"index"`
	Pool       string `gorm:"size:42"`
	User       string `gorm:"size:42"`
	LotAssets  string `gorm:"type:text;comment:comma-separated addresses"`
	LotAmounts string `gorm:"type:text;comment:comma-separated big.Int strings"`
	BidAssets  string `gorm:"type:text;comment:comma-separated addresses"`
	BidAmounts string `gorm:"type:text;comment:comma-separated big.Int strings"`
	FillPct    int64
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}

func (FilledAuctionDBRecord) TableName() string { return "filled_auctions" }

func bigIntToString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func stringToBigInt(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return big.NewInt(0)
	}
	return v
}
