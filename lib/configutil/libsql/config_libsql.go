package configlibsql

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

// Struct selects the ledger database: a remote libsql server when Url is
// set, otherwise a local sqlite file.
type Struct struct {
	File      string `json:"file"`
	Url       string `json:"url"`
	AuthToken string `json:"auth_token"`
}

func (config Struct) Remote() bool {
	return strings.HasPrefix(config.Url, "libsql://") ||
		strings.HasPrefix(config.Url, "https://") ||
		strings.HasPrefix(config.Url, "http://") ||
		strings.HasPrefix(config.Url, "wss://") ||
		strings.HasPrefix(config.Url, "ws://")
}

func (config Struct) OpenDB() (*sql.DB, error) {
	if config.Url != "" {
		if !config.Remote() {
			return nil, fmt.Errorf("unsupported database url %q", config.Url)
		}
		return openRemote(config.Url, config.AuthToken)
	}
	if config.File == "" {
		return nil, fmt.Errorf("a path was not specified")
	}
	return openFile(config.File)
}

func openRemote(dsn, authToken string) (*sql.DB, error) {
	if authToken != "" {
		u, err := url.Parse(dsn)
		if err != nil {
			return nil, err
		}
		q := u.Query()
		q.Set("authToken", authToken)
		u.RawQuery = q.Encode()
		dsn = u.String()
	}
	return sql.Open("libsql", dsn)
}

func openFile(path string) (*sql.DB, error) {
	if path != ":memory:" {
		dbpath, err := filepath.Abs(path)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(dbpath), 0755); err != nil {
			return nil, err
		}
		path = dbpath
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// a single writer, and every connection of a :memory: database would
	// otherwise see its own empty database
	db.SetMaxOpenConns(1)
	if path == ":memory:" {
		return db, nil
	}
	// see this stackoverflow post for information on why the following
	// lines exist: https://stackoverflow.com/questions/35804884/sqlite-concurrent-writing-performance
	_, err = db.Exec("PRAGMA journal_mode=WAL")
	if err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
