package database

import (
	"context"
	"regexp"
	"testing"
	"testing/fstest"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitStatements(t *testing.T) {
	script := `-- beds
CREATE TABLE a (
  id INT
);

-- second
INSERT INTO a VALUES (1);
INSERT INTO a VALUES (2)`
	assert.Equal(t, []string{
		"CREATE TABLE a (\n  id INT\n)",
		"INSERT INTO a VALUES (1)",
		"INSERT INTO a VALUES (2)",
	}, SplitStatements(script))
	assert.Empty(t, SplitStatements("-- nothing\n\n"))
}

func TestLoadMigrationsOrdersByVersion(t *testing.T) {
	src := fstest.MapFS{
		"010_late.sql":  {Data: []byte("SELECT 10;")},
		"002_beds.sql":  {Data: []byte("SELECT 2;")},
		"001_auth.sql":  {Data: []byte("SELECT 1;")},
		"README.md":     {Data: []byte("docs")},
		"draft.sql":     {Data: []byte("SELECT 0;")},
		"abc_notes.sql": {Data: []byte("SELECT 0;")},
	}
	migs, err := NewMigratorFS(nil, src).LoadMigrations()
	require.NoError(t, err)
	require.Len(t, migs, 3)
	assert.Equal(t, []int{1, 2, 10}, []int{migs[0].Version, migs[1].Version, migs[2].Version})
	assert.Equal(t, "002_beds.sql", migs[1].Name)
}

func TestEmbeddedMigrationsLoad(t *testing.T) {
	migs, err := NewMigrator(nil).LoadMigrations()
	require.NoError(t, err)
	require.Len(t, migs, 3)
	assert.Contains(t, migs[2].SQL, "uq_occupancy_active_bed")
	for _, m := range migs {
		assert.NotEmpty(t, SplitStatements(m.SQL), m.Name)
	}
}

func TestUpAppliesPendingOnly(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	src := fstest.MapFS{
		"001_auth.sql": {Data: []byte("CREATE TABLE users (id INT);")},
		"002_beds.sql": {Data: []byte("CREATE TABLE beds (id INT);\nCREATE INDEX idx ON beds (id);")},
	}
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schema_migrations")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT version, applied_at FROM schema_migrations")).
		WillReturnRows(sqlmock.NewRows([]string{"version", "applied_at"}).AddRow(1, time.Now()))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE beds (id INT)")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE INDEX idx ON beds (id)")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schema_migrations (version, name) VALUES (?, ?)")).
		WithArgs(2, "002_beds.sql").
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := NewMigratorFS(db, src).Up(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStatusReportsAppliedAt(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schema_migrations")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT version, applied_at FROM schema_migrations")).
		WillReturnRows(sqlmock.NewRows([]string{"version", "applied_at"}).AddRow(1, at))

	src := fstest.MapFS{
		"001_auth.sql": {Data: []byte("SELECT 1;")},
		"002_beds.sql": {Data: []byte("SELECT 2;")},
	}
	st, err := NewMigratorFS(db, src).Status(context.Background())
	require.NoError(t, err)
	require.Len(t, st, 2)
	assert.True(t, st[0].Applied)
	assert.Equal(t, at, *st[0].AppliedAt)
	assert.False(t, st[1].Applied)
	assert.Nil(t, st[1].AppliedAt)
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "root@tcp(db:3306)/beds?charset=utf8mb4&parseTime=true&loc=UTC", DSN("root", "", "db", "3306", "beds"))
	assert.Equal(t, "u:p@tcp(db:3306)/beds?charset=utf8mb4&parseTime=true&loc=UTC", DSN("u", "p", "db", "3306", "beds"))
}
