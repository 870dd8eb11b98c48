package middlewares

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/alphaitsolutions/storefront_backend/config"
	"github.com/alphaitsolutions/storefront_backend/models"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func catalogDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "catalog.db")), config.GormConfig())
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Product{}, &models.PreBuild{}))
	require.NoError(t, db.Create(&[]models.Product{
		{ID: 1, Category: "Keyboard", Description: "Mechanical TKL", Price: decimal.NewFromInt(10000)},
		{ID: 2, Category: "Mouse", Description: "Wireless", Price: decimal.NewFromInt(4500)},
	}).Error)
	require.NoError(t, db.Create(&models.PreBuild{ID: 1, Category: models.PreBuildCategoryBudget, Description: "Office box", Price: decimal.NewFromInt(90000)}).Error)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// countQueries counts SELECTs issued against table.
func countQueries(t *testing.T, db *gorm.DB, table string) *int {
	t.Helper()
	var (
		mu sync.Mutex
		n  int
	)
	require.NoError(t, db.Callback().Query().After("gorm:query").Register("test:count_"+table, func(tx *gorm.DB) {
		if tx.Statement.Table == table {
			mu.Lock()
			n++
			mu.Unlock()
		}
	}))
	return &n
}

func TestLoaders_BatchAndMemoizeProducts(t *testing.T) {
	db := catalogDB(t)
	queries := countQueries(t, db, "products")
	loaders := NewLoaders(db)
	ctx := WithLoaders(context.Background(), loaders)

	// Queue every key before waiting so they land in one batch.
	thunks := make([]func() (*models.Product, error), 0, 3)
	for _, id := range []int{1, 2, 1} {
		thunks = append(thunks, loaders.productLoader.Load(ctx, id))
	}
	var got []string
	for _, thunk := range thunks {
		p, err := thunk()
		require.NoError(t, err)
		got = append(got, p.Description)
	}

	assert.Equal(t, []string{"Mechanical TKL", "Wireless", "Mechanical TKL"}, got)
	assert.Equal(t, 1, *queries)

	catalog := &LoaderCatalog{Fallback: &models.GormCatalog{DB: db}}
	entry, err := catalog.Resolve(ctx, models.ItemTypeProduct, 2)
	require.NoError(t, err)
	assert.Equal(t, "Mouse", entry.CatalogCategory())
	assert.Equal(t, 1, *queries)
}

func TestLoaderCatalog_MissingAndUnknown(t *testing.T) {
	db := catalogDB(t)
	ctx := WithLoaders(context.Background(), NewLoaders(db))
	catalog := &LoaderCatalog{Fallback: &models.GormCatalog{DB: db}}

	entry, err := catalog.Resolve(ctx, models.ItemTypePreBuild, 1)
	require.NoError(t, err)
	assert.Equal(t, "Budget", entry.CatalogCategory())

	entry, err = catalog.Resolve(ctx, models.ItemTypePreBuild, 9)
	assert.Nil(t, entry)
	assert.True(t, models.IsNotFound(err))

	_, err = catalog.Resolve(ctx, models.ItemType("Laptop"), 1)
	assert.True(t, models.IsValidation(err))
}

func TestLoaderCatalog_FallsBackOutsideRequest(t *testing.T) {
	db := catalogDB(t)
	catalog := &LoaderCatalog{Fallback: &models.GormCatalog{DB: db}}

	entry, err := catalog.Resolve(context.Background(), models.ItemTypeProduct, 2)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(4500).Equal(entry.CatalogPrice()))
	assert.Nil(t, For(context.Background()))
}

func TestLoaderMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := catalogDB(t)
	var conn *gorm.DB

	r := gin.New()
	r.Use(LoaderMiddleware(func() *gorm.DB { return conn }))
	r.GET("/", func(c *gin.Context) {
		if For(c.Request.Context()) == nil {
			c.Status(http.StatusNoContent)
			return
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	conn = db
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
