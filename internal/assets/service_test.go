package assets

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestService(t *testing.T, clock func() time.Time) (*Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "assets.db")), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Asset{}))
	catalog := Catalog()
	require.NoError(t, db.Create(&catalog).Error)

	service, err := NewService(ServiceConfig{Database: db, Clock: clock})
	require.NoError(t, err)
	return service, db
}

func TestCatalogHasElevenAssetsInThreeCategories(t *testing.T) {
	catalog := Catalog()
	require.Len(t, catalog, 11)
	categories := map[string]int{}
	for _, asset := range catalog {
		categories[asset.Category]++
	}
	assert.Equal(t, map[string]int{"Mana Shrines": 2, "Magic Towers": 4, "Defense Towers": 5}, categories)
	assert.Equal(t, "Mana Shrine 1", catalog[0].Name)
	assert.Equal(t, "Defense Tower 5", catalog[10].Name)
}

func TestListOrdersByCategoryThenName(t *testing.T) {
	service, _ := newTestService(t, time.Now)
	views, err := service.List(context.Background())
	require.NoError(t, err)
	require.Len(t, views, 11)
	assert.Equal(t, "Defense Towers", views[0].Category)
	assert.Equal(t, "Defense Tower 1", views[0].Name)
	assert.Equal(t, "Mana Shrines", views[10].Category)
	for _, view := range views {
		assert.Nil(t, view.Status)
	}
}

func TestSetAndClearStatusBumpsUpdatedAt(t *testing.T) {
	now := time.Date(2025, 2, 1, 8, 0, 0, 0, time.UTC)
	service, db := newTestService(t, func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, service.SetStatus(ctx, 3, StatusRepair))
	require.NoError(t, service.SetStatus(ctx, 4, StatusUpgrade))

	repairs, err := service.ListByStatus(ctx, StatusRepair)
	require.NoError(t, err)
	require.Len(t, repairs, 1)
	assert.Equal(t, uint(3), repairs[0].ID)
	require.NotNil(t, repairs[0].Status)
	assert.Equal(t, "repair", *repairs[0].Status)
	assert.True(t, repairs[0].UpdatedAt.Equal(now))

	now = now.Add(time.Hour)
	require.NoError(t, service.ClearStatus(ctx, 3))
	var cleared Asset
	require.NoError(t, db.Take(&cleared, 3).Error)
	assert.Nil(t, cleared.Status)
	assert.True(t, cleared.UpdatedAt.Equal(now))

	repairs, err = service.ListByStatus(ctx, StatusRepair)
	require.NoError(t, err)
	assert.Empty(t, repairs)
}

func TestStatusValidation(t *testing.T) {
	service, _ := newTestService(t, time.Now)
	ctx := context.Background()

	assert.ErrorIs(t, service.SetStatus(ctx, 1, Status("broken")), ErrInvalidStatus)
	assert.ErrorIs(t, service.SetStatus(ctx, 404, StatusRepair), ErrAssetNotFound)
	assert.ErrorIs(t, service.ClearStatus(ctx, 404), ErrAssetNotFound)

	_, err := service.ListByStatus(ctx, StatusNone)
	assert.ErrorIs(t, err, ErrInvalidStatus)

	parsed, err := ParseStatus(" Upgrade ")
	require.NoError(t, err)
	assert.Equal(t, StatusUpgrade, parsed)
	_, err = ParseStatus("available")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}
