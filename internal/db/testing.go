package db

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"
)

// OpenTest opens a fresh sqlite database under t.TempDir with the full schema
// applied. It is closed when the test ends.
func OpenTest(t testing.TB) *sql.DB {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	dsn := "file:" + filepath.Join(t.TempDir(), "exams.db") + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	dbh, err := Open(ctx, DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = dbh.Close() })
	return dbh
}
