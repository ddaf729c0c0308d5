package util

import (
	"net/url"
	"testing"

	"github.com/bsv-blockchain/blockvault/errors"
	"github.com/bsv-blockchain/blockvault/settings"
	"github.com/bsv-blockchain/blockvault/ulogger"
	"github.com/stretchr/testify/require"
)

func TestInitSQLDB(t *testing.T) {
	tSettings := settings.NewSettings()
	tSettings.DataFolder = t.TempDir()

	t.Run("sqlitememory", func(t *testing.T) {
		storeURL, err := url.Parse("sqlitememory:///test")
		require.NoError(t, err)

		db, err := InitSQLDB(ulogger.TestLogger{}, storeURL, tSettings)
		require.NoError(t, err)

		defer db.Close()

		var fk int
		require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
		require.Equal(t, 1, fk)
	})

	t.Run("sqlite file", func(t *testing.T) {
		storeURL, err := url.Parse("sqlite:///vault")
		require.NoError(t, err)

		db, err := InitSQLDB(ulogger.TestLogger{}, storeURL, tSettings)
		require.NoError(t, err)

		defer db.Close()

		_, err = db.Exec("CREATE TABLE t (id INTEGER PRIMARY KEY)")
		require.NoError(t, err)
		require.FileExists(t, tSettings.DataFolder+"/vault.db")
	})

	t.Run("unknown scheme", func(t *testing.T) {
		storeURL, err := url.Parse("oracle://host/db")
		require.NoError(t, err)

		_, err = InitSQLDB(ulogger.TestLogger{}, storeURL, tSettings)
		require.True(t, errors.Is(err, errors.ErrConfiguration))
	})
}
