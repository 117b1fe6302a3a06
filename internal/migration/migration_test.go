package migration

import (
	"context"
	"testing"

	"github.com/smallbiznis/greenhouse/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplySqliteIsIdempotent(t *testing.T) {
	conn, err := db.NewTest()
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, Apply(ctx, conn))
	require.NoError(t, Apply(ctx, conn))

	var values []uint64
	require.NoError(t, conn.Raw(`SELECT value FROM id_counters WHERE name = ?`, "sensor_data").Scan(&values).Error)
	assert.Equal(t, []uint64{0}, values)
	assert.True(t, conn.Migrator().HasTable("sensor_records"))
}

func TestEmbeddedMigrationsPresent(t *testing.T) {
	for _, dialect := range []string{"postgres", "mysql"} {
		entries, err := embeddedMigrations.ReadDir(migrationsDir + "/" + dialect)
		require.NoError(t, err)
		assert.Len(t, entries, 4, dialect)
	}
}
