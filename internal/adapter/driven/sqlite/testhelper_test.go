package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"testing"
	"time"
)

// setupTestDB opens a migrated in-memory database private to the test. The
// writer and reader pools share it through cache=shared, keyed by t.Name().
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	// In-memory databases have no WAL, so journal_mode is left out.
	dsn := fmt.Sprintf(
		"file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)",
		url.PathEscape(t.Name()),
	)

	writer := openTestConn(t, dsn, 1)
	reader := openTestConn(t, dsn, 4)
	db := &DB{Writer: writer, Reader: reader, path: dsn}
	t.Cleanup(func() { _ = db.Close() })

	if err := RunMigrations(db.Writer); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	return db
}

func openTestConn(t *testing.T, dsn string, maxConns int) *sql.DB {
	t.Helper()

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	conn.SetMaxOpenConns(maxConns)

	if err := conn.PingContext(context.Background()); err != nil {
		_ = conn.Close()
		t.Fatalf("ping test db: %v", err)
	}

	return conn
}

// fixedClock returns a clock for the repos' now field and a setter that moves
// it. Timestamps written by the repos then become exact and assertable.
func fixedClock(start time.Time) (func() time.Time, func(time.Time)) {
	current := start
	return func() time.Time { return current }, func(t time.Time) { current = t }
}
