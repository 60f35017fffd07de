package migrations

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"testing/fstest"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"sql/000002_two.up.sql":   {Data: []byte("SELECT 2;")},
		"sql/000002_two.down.sql": {Data: []byte("SELECT -2;")},
		"sql/000001_one.up.sql":   {Data: []byte("SELECT 1;")},
		"sql/000001_one.down.sql": {Data: []byte("SELECT -1;")},
		"sql/README.md":           {Data: []byte("ignored")},
	}
}

func TestLoadMigrationsSortsAndPairsUpDown(t *testing.T) {
	items, err := loadMigrations(testFS())
	if err != nil {
		t.Fatalf("loadMigrations() error = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len(items) = %d", len(items))
	}
	if items[0].Version != 1 || items[1].Version != 2 {
		t.Fatalf("unexpected migration order: %+v", items)
	}
	if items[0].Name != "one" || items[0].DownSQL != "SELECT -1;" {
		t.Fatalf("items[0] = %+v", items[0])
	}
}

func TestLoadMigrationsErrorsWhenDownMissing(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/000001_one.up.sql": {Data: []byte("SELECT 1;")},
	}
	_, err := loadMigrations(fsys)
	if err == nil {
		t.Fatal("expected error for missing down migration")
	}
	if !strings.Contains(err.Error(), "missing down SQL") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadMigrationsRejectsConflictingNames(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/000001_one.up.sql":   {Data: []byte("SELECT 1;")},
		"sql/000001_uno.down.sql": {Data: []byte("SELECT -1;")},
	}
	if _, err := loadMigrations(fsys); err == nil {
		t.Fatal("expected error for conflicting names")
	}
}

func TestEmbeddedPreferencesMigration(t *testing.T) {
	items, err := loadMigrations(embeddedFS)
	if err != nil {
		t.Fatalf("loadMigrations(embedded) error = %v", err)
	}
	if len(items) == 0 || items[0].Name != "preferences" {
		t.Fatalf("embedded migrations = %+v", items)
	}
	if !strings.Contains(items[0].UpSQL, "CREATE TABLE hfsql_preference") {
		t.Fatalf("up SQL = %q", items[0].UpSQL)
	}
	if !strings.Contains(items[0].UpSQL, "pref_key TEXT PRIMARY KEY") {
		t.Fatalf("up SQL missing key column: %q", items[0].UpSQL)
	}
	if !strings.Contains(items[0].DownSQL, "DROP TABLE IF EXISTS hfsql_preference") {
		t.Fatalf("down SQL = %q", items[0].DownSQL)
	}
}

func TestUpAppliesPendingMigrations(t *testing.T) {
	db, mock := newSQLMock(t)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS hfsql_schema_migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT version FROM hfsql_schema_migrations ORDER BY version ASC`).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(1)))
	mock.ExpectBegin()
	mock.ExpectExec(`SELECT 2;`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO hfsql_schema_migrations`).WithArgs(int64(2)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	applied, err := NewRunnerFS(testFS()).Up(context.Background(), db, 0)
	if err != nil {
		t.Fatalf("Up() error = %v", err)
	}
	if applied != 1 {
		t.Fatalf("Up() applied %d, want 1", applied)
	}
	assertSQLMock(t, mock)
}

func TestUpStopsAtFailingMigration(t *testing.T) {
	db, mock := newSQLMock(t)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS hfsql_schema_migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT version FROM hfsql_schema_migrations`).WillReturnRows(sqlmock.NewRows([]string{"version"}))
	mock.ExpectBegin()
	mock.ExpectExec(`SELECT 1;`).WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	applied, err := NewRunnerFS(testFS()).Up(context.Background(), db, 0)
	if err == nil || !strings.Contains(err.Error(), "apply migration 1") {
		t.Fatalf("Up() error = %v", err)
	}
	if applied != 0 {
		t.Fatalf("Up() applied %d, want 0", applied)
	}
	assertSQLMock(t, mock)
}

func TestDownRollsBackNewest(t *testing.T) {
	db, mock := newSQLMock(t)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS hfsql_schema_migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT version FROM hfsql_schema_migrations ORDER BY version DESC`).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(2)).AddRow(int64(1)))
	mock.ExpectBegin()
	mock.ExpectExec(`SELECT -2;`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM hfsql_schema_migrations`).WithArgs(int64(2)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rolledBack, err := NewRunnerFS(testFS()).Down(context.Background(), db, 0)
	if err != nil {
		t.Fatalf("Down() error = %v", err)
	}
	if rolledBack != 1 {
		t.Fatalf("Down() rolled back %d, want 1", rolledBack)
	}
	assertSQLMock(t, mock)
}

func TestStatusReportsAppliedAndPending(t *testing.T) {
	db, mock := newSQLMock(t)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS hfsql_schema_migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT version FROM hfsql_schema_migrations`).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(1)))

	states, err := NewRunnerFS(testFS()).Status(context.Background(), db)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if len(states) != 2 || !states[0].Applied || states[1].Applied || states[1].Name != "two" {
		t.Fatalf("Status() = %+v", states)
	}
	assertSQLMock(t, mock)
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}
