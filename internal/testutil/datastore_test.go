package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupTestDB(t *testing.T) {
	db, cleanup := SetupTestDB(t, "TestSetupTestDB")
	defer cleanup()

	require.NotNil(t, db)
	require.NoError(t, db.Ping())

	var result string
	require.NoError(t, db.QueryRow("SELECT 'test'").Scan(&result))
	assert.Equal(t, "test", result)
}

func TestNewTestDatastore(t *testing.T) {
	ds := NewTestDatastore(t)

	var count int
	err := ds.DB.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='system_disks'").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNewTestDatastore_Subtests(t *testing.T) {
	t.Run("first/nested", func(t *testing.T) {
		ds := NewTestDatastore(t)
		_, err := ds.DB.Exec("INSERT INTO hosts (id, name, ip, mac) VALUES ('h1', 'n1', '10.0.0.1', 'aa:bb:cc:dd:ee:01')")
		require.NoError(t, err)
	})
	t.Run("second", func(t *testing.T) {
		ds := NewTestDatastore(t)
		var count int
		require.NoError(t, ds.DB.QueryRow("SELECT COUNT(*) FROM hosts").Scan(&count))
		assert.Equal(t, 0, count)
	})
}

func TestCleanupTestDB(t *testing.T) {
	dsn := NewTestDSN("test-cleanup")
	assert.NoError(t, CleanupTestDB(dsn))
	assert.NoError(t, CleanupTestDB(dsn))

	assert.Error(t, CleanupTestDB("invalid-dsn"))
}
