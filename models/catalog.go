package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alphaitsolutions/storefront_backend/utils"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CatalogEntry is what fulfillment needs from a Product or PreBuild.
type CatalogEntry interface {
	CatalogDescription() string
	CatalogCategory() string
	CatalogPrice() decimal.Decimal
}

// CatalogLookup resolves an order item to its catalog entry. A missing entry
// is reported as *NotFoundError.
type CatalogLookup interface {
	Resolve(ctx context.Context, itemType ItemType, itemId int) (CatalogEntry, error)
}

type Product struct {
	ID           int             `gorm:"primary_key" json:"id"`
	Category     string          `gorm:"size:100;not null" json:"category"`
	Price        decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"price"`
	Availability string          `gorm:"size:50" json:"availability"`
	Description  string          `gorm:"type:text" json:"description"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func (p *Product) CatalogDescription() string    { return p.Description }
func (p *Product) CatalogCategory() string       { return p.Category }
func (p *Product) CatalogPrice() decimal.Decimal { return p.Price }

type PreBuild struct {
	ID          int              `gorm:"primary_key" json:"id"`
	Category    PreBuildCategory `gorm:"size:20;not null" json:"category"`
	Price       decimal.Decimal  `gorm:"type:decimal(20,4);not null" json:"price"`
	Cpu         string           `gorm:"size:255" json:"cpu"`
	Gpu         string           `gorm:"size:255" json:"gpu"`
	Ram         string           `gorm:"size:255" json:"ram"`
	Storage     string           `gorm:"size:255" json:"storage"`
	Psu         string           `gorm:"size:255" json:"psu"`
	Casing      string           `gorm:"size:255" json:"casing"`
	Description string           `gorm:"type:text" json:"description"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

func (p *PreBuild) CatalogDescription() string    { return p.Description }
func (p *PreBuild) CatalogCategory() string       { return string(p.Category) }
func (p *PreBuild) CatalogPrice() decimal.Decimal { return p.Price }

// GormCatalog reads products and prebuilds straight from the database.
type GormCatalog struct {
	DB *gorm.DB
}

func (c *GormCatalog) Resolve(ctx context.Context, itemType ItemType, itemId int) (CatalogEntry, error) {
	var (
		entry CatalogEntry
		err   error
	)
	switch itemType {
	case ItemTypeProduct:
		var p Product
		err = c.DB.WithContext(ctx).First(&p, itemId).Error
		entry = &p
	case ItemTypePreBuild:
		var p PreBuild
		err = c.DB.WithContext(ctx).First(&p, itemId).Error
		entry = &p
	default:
		return nil, NewValidationError("item_type", "unknown item type %q", itemType)
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotFoundError{Resource: string(itemType), Id: itemId}
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// catalogSnapshot is the cached form of a CatalogEntry.
type catalogSnapshot struct {
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Price       decimal.Decimal `json:"price"`
}

func (s *catalogSnapshot) CatalogDescription() string    { return s.Description }
func (s *catalogSnapshot) CatalogCategory() string       { return s.Category }
func (s *catalogSnapshot) CatalogPrice() decimal.Decimal { return s.Price }

// CachedCatalog puts a Redis read-through cache in front of another lookup.
// With a nil Redis client it simply delegates.
type CachedCatalog struct {
	Next  CatalogLookup
	Redis *redis.Client
	TTL   time.Duration
}

func catalogCacheKey(itemType ItemType, itemId int) string {
	return fmt.Sprintf("Catalog:%s:%d", itemType, itemId)
}

func (c *CachedCatalog) Resolve(ctx context.Context, itemType ItemType, itemId int) (CatalogEntry, error) {
	key := catalogCacheKey(itemType, itemId)

	var snap catalogSnapshot
	if err := utils.GetRedisJSON(ctx, c.Redis, key, &snap); err == nil {
		return &snap, nil
	}

	entry, err := c.Next.Resolve(ctx, itemType, itemId)
	if err != nil {
		return nil, err
	}
	snap = catalogSnapshot{
		Description: entry.CatalogDescription(),
		Category:    entry.CatalogCategory(),
		Price:       entry.CatalogPrice(),
	}
	// Cache failures only cost a DB read next time.
	_ = utils.SetRedisJSON(ctx, c.Redis, key, &snap, c.TTL)
	return entry, nil
}

// Invalidate drops a cached entry after a catalog edit.
func (c *CachedCatalog) Invalidate(ctx context.Context, itemType ItemType, itemId int) error {
	return utils.RemoveRedisKey(ctx, c.Redis, catalogCacheKey(itemType, itemId))
}
