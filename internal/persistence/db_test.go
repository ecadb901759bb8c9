package persistence

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCreateAndListGames(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.CreateGame("g1", "Border Crisis"))
	require.NoError(t, db.CreateGame("g2", "Trade War"))
	assert.Error(t, db.CreateGame("g1", "Duplicate"))

	games, err := db.ListGames()
	require.NoError(t, err)
	assert.Len(t, games, 2)

	g, found, err := db.GetGame("g1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Border Crisis", g.Title)

	_, found, err = db.GetGame("missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSaveLoadStateRoundTrip(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.CreateGame("g1", "Border Crisis"))

	// Never saved: nil blob, no error.
	blob, err := db.LoadState("g1")
	require.NoError(t, err)
	assert.Nil(t, blob)

	require.NoError(t, db.SaveState("g1", []byte(`{"game_time":"2026-03-01T00:00:00Z"}`)))
	blob, err = db.LoadState("g1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"game_time":"2026-03-01T00:00:00Z"}`, string(blob))

	// Second save replaces the first.
	require.NoError(t, db.SaveState("g1", []byte(`{"game_time":"2026-03-02T00:00:00Z"}`)))
	blob, err = db.LoadState("g1")
	require.NoError(t, err)
	assert.Contains(t, string(blob), "2026-03-02")
}

func TestDeleteGameRemovesState(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.CreateGame("g1", "Border Crisis"))
	require.NoError(t, db.SaveState("g1", []byte("{}")))

	require.NoError(t, db.DeleteGame("g1"))

	_, found, err := db.GetGame("g1")
	require.NoError(t, err)
	assert.False(t, found)
	blob, err := db.LoadState("g1")
	require.NoError(t, err)
	assert.Nil(t, blob)
}

func TestTouchGameUpdatesBookkeeping(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.CreateGame("g1", "Border Crisis"))
	require.NoError(t, db.TouchGame("g1", "2026-03-05T12:00:00Z"))

	g, found, err := db.GetGame("g1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "2026-03-05T12:00:00Z", g.GameTime)
}
