package db_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"review_pipeline/internal/app/db"
	"review_pipeline/internal/app/logger"
	"review_pipeline/internal/app/testhelpers"
)

func tableExists(t *testing.T, tdb *testhelpers.TestDB, name string) bool {
	t.Helper()
	var n int64
	err := tdb.DB.Raw("SELECT count(*) FROM information_schema.tables WHERE table_schema = 'public' AND table_name = ?", name).
		Scan(&n).Error
	require.NoError(t, err)
	return n > 0
}

func TestDropAllThenMigrateAgain(t *testing.T) {
	tdb := testhelpers.GetTestDB(t)
	ctx := context.Background()
	log := logger.Nop()

	require.NoError(t, db.RunMigrations(ctx, tdb.DSN, log))
	assert.True(t, tableExists(t, tdb, "reviews"))

	require.NoError(t, db.DropAll(ctx, tdb.DSN, log))
	assert.False(t, tableExists(t, tdb, "reviews"))
	assert.False(t, tableExists(t, tdb, "companies"))
	// 2 回目の巻き戻しは変更なしとして成功します。
	require.NoError(t, db.DropAll(ctx, tdb.DSN, log))

	require.NoError(t, db.RunMigrations(ctx, tdb.DSN, log))
	assert.True(t, tableExists(t, tdb, "reviews"))
	assert.True(t, tableExists(t, tdb, "company_topics"))
}
