package config

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alphaitsolutions/storefront_backend/appctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type scopedOrder struct {
	ID         int
	CustomerId int
	Note       string
}

type unscopedNote struct {
	ID   int
	Body string
}

func scopedDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "scope.db")), GormConfig())
	require.NoError(t, err)
	require.NoError(t, db.Use(NewCustomerScopePlugin()))
	require.NoError(t, db.AutoMigrate(&scopedOrder{}, &unscopedNote{}))
	require.NoError(t, db.Create(&[]scopedOrder{
		{CustomerId: 7, Note: "mine"},
		{CustomerId: 7, Note: "also mine"},
		{CustomerId: 8, Note: "theirs"},
	}).Error)
	require.NoError(t, db.Create(&[]unscopedNote{{Body: "a"}, {Body: "b"}}).Error)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func asRole(role string, customerId int) context.Context {
	ctx := appctx.Set(context.Background(), appctx.ContextKeyRole, role)
	if customerId > 0 {
		ctx = appctx.Set(ctx, appctx.ContextKeyCustomerId, customerId)
	}
	return ctx
}

func TestCustomerScope_CustomerSeesOwnRows(t *testing.T) {
	db := scopedDB(t)

	var rows []scopedOrder
	require.NoError(t, db.WithContext(asRole(appctx.RoleCustomer, 7)).Find(&rows).Error)
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.Equal(t, 7, r.CustomerId)
	}

	var other scopedOrder
	err := db.WithContext(asRole(appctx.RoleCustomer, 7)).First(&other, 3).Error
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestCustomerScope_StaffAndSystemUnscoped(t *testing.T) {
	db := scopedDB(t)

	for _, ctx := range []context.Context{
		asRole(appctx.RoleAdmin, 0),
		asRole(appctx.RoleSystem, 0),
		context.Background(),
		// A customer role without an id is not scoped.
		asRole(appctx.RoleCustomer, 0),
	} {
		var rows []scopedOrder
		require.NoError(t, db.WithContext(ctx).Find(&rows).Error)
		assert.Len(t, rows, 3)
	}
}

func TestCustomerScope_TablesWithoutCustomerIdUntouched(t *testing.T) {
	db := scopedDB(t)

	var notes []unscopedNote
	require.NoError(t, db.WithContext(asRole(appctx.RoleCustomer, 7)).Find(&notes).Error)
	assert.Len(t, notes, 2)
}

func TestCustomerScope_ExplicitOwnerFilterNotDuplicated(t *testing.T) {
	db := scopedDB(t)

	var rows []scopedOrder
	err := db.WithContext(asRole(appctx.RoleCustomer, 7)).
		Where("customer_id = ?", 7).
		Find(&rows).Error
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}
