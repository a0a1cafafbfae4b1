package repository

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/muanapay/internal/profile/domain"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestUpsertAndFind(t *testing.T) {
	ctx := context.Background()
	db, err := gorm.Open(sqlite.Open("file:profiles?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Profile{}))
	r := Provide()

	missing, err := r.FindByUserID(ctx, db, "U-none")
	require.NoError(t, err)
	require.Nil(t, missing)

	now := time.Now().UTC()
	agency := "AG-1"
	require.NoError(t, r.Upsert(ctx, db, &domain.Profile{UserID: "U1", AgencyID: &agency, CreatedAt: now, UpdatedAt: now}))
	agency2 := "AG-2"
	require.NoError(t, r.Upsert(ctx, db, &domain.Profile{UserID: "U1", AgencyID: &agency2, CreatedAt: now, UpdatedAt: now}))

	got, err := r.FindByUserID(ctx, db, "U1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "AG-2", *got.AgencyID)
}
