package database

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/umar/roomrelay/internal/storetest"
)

func TestStore(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	db, err := InitDB(url)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, RunMigrations(db))
	require.NoError(t, RunMigrations(db), "migrations must be re-runnable")

	storetest.RunDurableTests(t, func(t *testing.T) storetest.DurableStore {
		_, err := db.ExecContext(context.Background(),
			`TRUNCATE messages, room_members, rooms, users RESTART IDENTITY CASCADE`)
		require.NoError(t, err)
		return NewStore(db)
	})
}
