package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

const schema = `
CREATE TABLE IF NOT EXISTS cell_config (
	id INTEGER PRIMARY KEY CHECK(id=1),
	calibration REAL NOT NULL,
	bypass_setpoint INTEGER NOT NULL,
	bypass_threshold_mv INTEGER NOT NULL,
	checksum INTEGER NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS fault_counts (
	kind TEXT PRIMARY KEY,
	count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS run_marker (
	id INTEGER PRIMARY KEY CHECK(id=1),
	running BOOLEAN NOT NULL,
	started_at TEXT,
	exited_at TEXT
);

CREATE TABLE IF NOT EXISTS balance_sessions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	started_at TEXT NOT NULL,
	ended_at TEXT NOT NULL,
	reason TEXT NOT NULL,
	charge_mah REAL NOT NULL,
	peak_temp_c INTEGER NOT NULL
);
`

// Open opens the sqlite database at path and applies the schema. A single
// connection is kept so that ":memory:" databases survive across calls.
func Open(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := ApplySchema(conn); err != nil {
		conn.Close()
		return nil, err
	}

	log.Debug().Str("path", path).Msg("Database opened")
	return conn, nil
}

func ApplySchema(conn *sql.DB) error {
	tx, err := StartTransaction(conn)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(schema); err != nil {
		RollbackTransaction(tx)
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return CommitTransaction(tx)
}
