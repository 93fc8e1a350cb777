// Package historystore archives scraped history records into sqlite or a
// remote libsql database. It is an export target, the client never reads
// from it to answer requests.
package historystore

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	devenv "operlog-client/dev/env"
	"operlog-client/lib/platforms/operlog/history"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var Schema string

func wrapOpenDB(err error) error {
	return fmt.Errorf("open db: %w", err)
}

func isRemote(dsn string) bool {
	return strings.HasPrefix(dsn, "libsql://") ||
		strings.HasPrefix(dsn, "http://") ||
		strings.HasPrefix(dsn, "https://")
}

// OpenDB opens a remote libsql database for libsql:// and http(s):// urls,
// anything else is treated as a sqlite file path (which may start with
// `<dev_state>`) or ":memory:".
func OpenDB(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, wrapOpenDB(fmt.Errorf("a path was not specified"))
	}
	if isRemote(dsn) {
		db, err := sql.Open("libsql", dsn)
		if err != nil {
			return nil, wrapOpenDB(err)
		}
		return db, nil
	}

	path, err := devenv.ResolvePath(dsn)
	if err != nil {
		return nil, wrapOpenDB(err)
	}
	if path != ":memory:" {
		err = os.MkdirAll(filepath.Dir(path), 0777)
		if err != nil {
			return nil, wrapOpenDB(err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, wrapOpenDB(err)
	}
	// sqlite only allows a single writer
	db.SetMaxOpenConns(1)
	_, err = db.Exec("PRAGMA journal_mode=WAL")
	if err != nil {
		db.Close()
		return nil, wrapOpenDB(err)
	}
	return db, nil
}

type Store struct {
	db *sql.DB
}

// NewStore creates the schema if it does not exist yet.
func NewStore(ctx context.Context, db *sql.DB) (Store, error) {
	_, err := db.ExecContext(ctx, Schema)
	if err != nil {
		return Store{}, fmt.Errorf("apply schema: %w", err)
	}
	return Store{db: db}, nil
}

const insertRecord = `insert or ignore into history_record (
    timestamp, event, specialist, end_time, comment, operator
) values (?, ?, ?, ?, ?, ?)`

// Push inserts the records in a single transaction and returns how many were
// new, records already archived are skipped.
func (s Store) Push(ctx context.Context, records []history.Record) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertRecord)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	inserted := 0
	for _, r := range records {
		res, err := stmt.ExecContext(
			ctx,
			r.Timestamp,
			r.Event,
			r.Specialist,
			r.EndTime,
			r.Comment,
			r.Operator,
		)
		if err != nil {
			return 0, fmt.Errorf("insert record at %d: %w", r.Timestamp, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		inserted += int(n)
	}

	err = tx.Commit()
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

const selectRange = `select timestamp, event, specialist, end_time, comment, operator
from history_record
where timestamp >= ? and timestamp <= ?
order by timestamp, rowid`

// Range returns the archived records with start <= timestamp <= end.
func (s Store) Range(ctx context.Context, start, end int64) ([]history.Record, error) {
	rows, err := s.db.QueryContext(ctx, selectRange, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []history.Record
	for rows.Next() {
		var r history.Record
		var specialist sql.NullString
		var endTime sql.NullInt64
		err := rows.Scan(&r.Timestamp, &r.Event, &specialist, &endTime, &r.Comment, &r.Operator)
		if err != nil {
			return nil, err
		}
		if specialist.Valid {
			r.Specialist = &specialist.String
		}
		if endTime.Valid {
			r.EndTime = &endTime.Int64
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
