package db

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/trace.report/internal/monitoring"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	prev := monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(prev) })

	db, err := NewDB(filepath.Join(t.TempDir(), "reports.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewDB_AppliesMigrations(t *testing.T) {
	db := setupTestDB(t)

	version, dirty, err := db.MigrateVersion(MigrationsFS())
	require.NoError(t, err)
	assert.False(t, dirty)

	latest, err := LatestMigrationVersion(MigrationsFS())
	require.NoError(t, err)
	assert.Equal(t, uint(2), latest)
	assert.Equal(t, latest, version)

	for _, table := range []string{"reports", "report_findings", "report_series_stats"} {
		var n int
		require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n))
		assert.Equal(t, 1, n, table)
	}
}

func TestNewDB_Reopen(t *testing.T) {
	prev := monitoring.SetLogger(nil)
	defer monitoring.SetLogger(prev)

	path := filepath.Join(t.TempDir(), "reports.db")
	db, err := NewDB(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// A second open finds nothing to migrate.
	db, err = NewDB(path)
	require.NoError(t, err)
	defer db.Close()
	version, _, err := db.MigrateVersion(MigrationsFS())
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
}

func TestOpenDB_Pragmas(t *testing.T) {
	db, err := OpenDB(filepath.Join(t.TempDir(), "reports.db"))
	require.NoError(t, err)
	defer db.Close()

	var journal string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journal))
	assert.Equal(t, "wal", strings.ToLower(journal))

	var fk int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)

	var timeout int
	require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&timeout))
	assert.Equal(t, 5000, timeout)

	// Nothing migrated yet.
	version, dirty, err := db.MigrateVersion(MigrationsFS())
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)
	assert.False(t, dirty)
}

func TestMigrateDownAndTo(t *testing.T) {
	db := setupTestDB(t)
	migrations := MigrationsFS()

	require.NoError(t, db.MigrateDown(migrations))
	version, _, err := db.MigrateVersion(migrations)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE name='report_series_stats'`).Scan(&n))
	assert.Equal(t, 0, n)

	require.NoError(t, db.MigrateTo(migrations, 2))
	version, _, err = db.MigrateVersion(migrations)
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)

	require.NoError(t, db.MigrateForce(migrations, 1))
	version, dirty, err := db.MigrateVersion(migrations)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)
}

func adminRequest(t *testing.T, mux *http.ServeMux, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "127.0.0.1:4242" // debug routes only answer loopback
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestAttachAdminRoutes(t *testing.T) {
	db := setupTestDB(t)
	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))

	index := adminRequest(t, mux, "/debug/")
	assert.Equal(t, http.StatusOK, index.Code)
	assert.Contains(t, index.Body.String(), "tailsql")
	assert.Contains(t, index.Body.String(), "backup")

	backup := adminRequest(t, mux, "/debug/backup")
	require.Equal(t, http.StatusOK, backup.Code, backup.Body.String())
	assert.Equal(t, "application/gzip", backup.Header().Get("Content-Type"))
	assert.Contains(t, backup.Header().Get("Content-Disposition"), ".db.gz")

	zr, err := gzip.NewReader(bytes.NewReader(backup.Body.Bytes()))
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("SQLite format 3\x00")))
}

func TestAttachAdminRoutes_RejectsRemote(t *testing.T) {
	db := setupTestDB(t)
	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))

	req := httptest.NewRequest(http.MethodGet, "/debug/backup", nil)
	req.RemoteAddr = "203.0.113.7:4242"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
