package models

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func catalogTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "catalog.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Product{}, &PreBuild{}))
	require.NoError(t, db.Create(&Product{ID: 3, Category: "Monitor", Description: "27in IPS", Price: decimal.NewFromInt(65000)}).Error)
	require.NoError(t, db.Create(&PreBuild{ID: 4, Category: PreBuildCategoryGaming, Description: "Raptor", Price: decimal.NewFromInt(150000), Gpu: "RTX 4070"}).Error)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func TestGormCatalog_Resolve(t *testing.T) {
	ctx := context.Background()
	catalog := &GormCatalog{DB: catalogTestDB(t)}

	entry, err := catalog.Resolve(ctx, ItemTypeProduct, 3)
	require.NoError(t, err)
	assert.Equal(t, "Monitor", entry.CatalogCategory())
	assert.Equal(t, "27in IPS", entry.CatalogDescription())

	entry, err = catalog.Resolve(ctx, ItemTypePreBuild, 4)
	require.NoError(t, err)
	assert.Equal(t, "Gaming", entry.CatalogCategory())
	assert.True(t, decimal.NewFromInt(150000).Equal(entry.CatalogPrice()))

	entry, err = catalog.Resolve(ctx, ItemTypeProduct, 4)
	assert.Nil(t, entry)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, 4, nf.Id)

	_, err = catalog.Resolve(ctx, ItemType("Service"), 1)
	assert.True(t, IsValidation(err))
}

func TestCachedCatalog_WithoutRedisDelegates(t *testing.T) {
	ctx := context.Background()
	catalog := &CachedCatalog{Next: &GormCatalog{DB: catalogTestDB(t)}}

	entry, err := catalog.Resolve(ctx, ItemTypeProduct, 3)
	require.NoError(t, err)
	assert.Equal(t, "27in IPS", entry.CatalogDescription())

	_, err = catalog.Resolve(ctx, ItemTypePreBuild, 99)
	assert.True(t, IsNotFound(err))

	assert.NoError(t, catalog.Invalidate(ctx, ItemTypeProduct, 3))
	assert.Equal(t, "Catalog:PreBuild:4", catalogCacheKey(ItemTypePreBuild, 4))
}
