package sql

import (
	"context"
	"flag"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-kit/kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxcd/ecsdeploy/pkg/history"
	"github.com/fluxcd/ecsdeploy/pkg/history/historytest"
)

var (
	databaseDriver = flag.String("database-driver", "sqlite3", `Database driver name, e.g., "postgres"; the default is a temporary SQLite file`)
	databaseSource = flag.String("database-source", "", `Database source name; specific to the database driver (--database-driver) used. The default is a fresh temporary file per test`)
)

func newSQL(t *testing.T) *Store {
	source := *databaseSource
	if *databaseDriver == "sqlite3" && source == "" {
		dir, err := ioutil.TempDir("", "ecsdeploy-testdb")
		require.NoError(t, err)
		t.Cleanup(func() { os.RemoveAll(dir) })
		source = filepath.Join(dir, "history.db")
	}
	db, err := New(*databaseDriver, source, log.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	if *databaseDriver != "sqlite3" {
		_, err := db.conn.Exec("DELETE FROM deployments")
		require.NoError(t, err)
	}
	return db
}

func TestStore(t *testing.T) {
	historytest.Run(t, func(t *testing.T) history.Store {
		return newSQL(t)
	})
}

func TestDriverForScheme(t *testing.T) {
	assert.Equal(t, "sqlite3", DriverForScheme("file"))
	assert.Equal(t, "sqlite3", DriverForScheme("sqlite3"))
	assert.Equal(t, "postgres", DriverForScheme("postgresql"))
	assert.Equal(t, "mysql", DriverForScheme("mysql"))
}

func TestOpenSQLiteURL(t *testing.T) {
	dir, err := ioutil.TempDir("", "ecsdeploy-testdb")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "history.db")
	db, err := Open("sqlite3://"+path, log.NewNopLogger())
	require.NoError(t, err)
	defer db.Close()
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestReopenKeepsRecords(t *testing.T) {
	dir, err := ioutil.TempDir("", "ecsdeploy-testdb")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "history.db")

	db, err := New("sqlite3", path, log.NewNopLogger())
	require.NoError(t, err)
	d := historytest.Sample("app", "prod", 1000, nil)
	d.Active = true
	require.NoError(t, db.Put(context.Background(), d))
	require.NoError(t, db.Close())

	db, err = New("sqlite3", path, log.NewNopLogger())
	require.NoError(t, err)
	defer db.Close()
	got, err := db.GetCurrentActive(context.Background(), "app", "prod")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, d, *got)
}

func TestIncompatibleTable(t *testing.T) {
	dir, err := ioutil.TempDir("", "ecsdeploy-testdb")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "history.db")

	// An older table, missing most of the columns
	old, err := New("sqlite3", path, log.NewNopLogger())
	require.NoError(t, err)
	_, err = old.conn.Exec("DROP TABLE deployments")
	require.NoError(t, err)
	_, err = old.conn.Exec("CREATE TABLE deployments (app_name TEXT, active INTEGER, environment TEXT)")
	require.NoError(t, err)
	require.NoError(t, old.Close())

	s, err := New("sqlite3", path, log.NewNopLogger())
	assert.Error(t, err)
	assert.Nil(t, s)
}
