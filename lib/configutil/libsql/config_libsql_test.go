package configlibsql

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenFileCreatesParents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "ledger.db")
	db, err := Struct{File: path}.OpenDB()
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec("create table t (x integer)")
	require.NoError(t, err)
	require.FileExists(t, path)
}

func TestOpenValidation(t *testing.T) {
	_, err := Struct{}.OpenDB()
	require.Error(t, err)

	_, err = Struct{Url: "postgres://db"}.OpenDB()
	require.Error(t, err)

	require.True(t, Struct{Url: "libsql://ledger.turso.io"}.Remote())
	require.False(t, Struct{File: "x.db"}.Remote())
}
