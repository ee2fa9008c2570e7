package store_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kernald/kernald/internal/store"
)

func TestOpen_InMemory(t *testing.T) {
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	err = db.Ping()
	require.NoError(t, err)

	var fkEnabled int
	err = db.QueryRow("PRAGMA foreign_keys").Scan(&fkEnabled)
	require.NoError(t, err)
	assert.Equal(t, 1, fkEnabled)
}

func TestMigrate(t *testing.T) {
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	require.NoError(t, store.Migrate(db))

	tables := []string{
		"services", "locks", "messages", "agents", "sessions", "notes",
		"file_claims", "resurrection_entries", "changelog_entries", "activity_entries",
	}
	for _, table := range tables {
		var count int64
		err := db.QueryRow("SELECT count(*) FROM " + table).Scan(&count)
		assert.NoError(t, err, "table %q does not exist or is not queryable", table)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	require.NoError(t, store.Migrate(db))
	require.NoError(t, store.Migrate(db))
}
