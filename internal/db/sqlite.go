package db

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/neboloop/browserd/internal/db/migrations"
	"github.com/neboloop/browserd/internal/logging"
)

// pragmas applied to every journal connection.
var pragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"busy_timeout(5000)",
	"foreign_keys(ON)",
}

func dsn(path string, readOnly bool) string {
	q := url.Values{}
	if readOnly {
		// journal_mode cannot be changed without write access.
		q.Set("mode", "ro")
		q.Add("_pragma", "busy_timeout(5000)")
	} else {
		for _, p := range pragmas {
			q.Add("_pragma", p)
		}
	}
	return "file:" + path + "?" + q.Encode()
}

// NewSQLite opens (creating if needed) the journal at path and migrates it.
func NewSQLite(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}
	conn, err := open(dsn(path, false))
	if err != nil {
		return nil, err
	}
	if err := migrations.Run(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	logging.Infof("[journal] Opened %s", path)
	return NewStore(conn), nil
}

// OpenReadOnly opens an existing journal without migrating it, so a CLI can
// inspect the file while a server holds it open.
func OpenReadOnly(path string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("journal %s: %w", path, err)
	}
	conn, err := open(dsn(path, true))
	if err != nil {
		return nil, err
	}
	return NewStore(conn), nil
}

func open(dsn string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// One writer: every session's commands funnel through this connection.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping journal: %w", err)
	}
	return conn, nil
}
