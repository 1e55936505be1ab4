package test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"phototree/internal/database"
)

// GetTestDB creates a migrated, seeded in-memory SQLite database. Each call
// gets its own database so tests can run in parallel.
func GetTestDB(t *testing.T) (*gorm.DB, func()) {
	t.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared&_foreign_keys=on"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// one connection keeps the shared in-memory database alive and serializes writers
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.NewMigrationManager(db, nil).Migrate())

	tearDown := func() {
		_ = sqlDB.Close()
	}
	return db, tearDown
}

// NewLibrary creates a temporary library root. Keys ending in "/" create
// directories; every other key creates a file holding its value.
func NewLibrary(t *testing.T, entries map[string]string) string {
	t.Helper()

	root := t.TempDir()
	for rel, content := range entries {
		WriteEntry(t, root, rel, content)
	}
	return root
}

// WriteEntry creates a single directory or file below root
func WriteEntry(t *testing.T, root, rel, content string) {
	t.Helper()

	full := filepath.Join(root, filepath.FromSlash(strings.TrimSuffix(rel, "/")))
	if strings.HasSuffix(rel, "/") {
		require.NoError(t, os.MkdirAll(full, 0755))
		return
	}
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0644))
}

// Touch moves the modification time of a library entry forward
func Touch(t *testing.T, root, rel string, delta time.Duration) {
	t.Helper()

	full := filepath.Join(root, filepath.FromSlash(rel))
	info, err := os.Stat(full)
	require.NoError(t, err)
	mtime := info.ModTime().Add(delta)
	require.NoError(t, os.Chtimes(full, mtime, mtime))
}

// Exists reports whether a library entry is present on disk
func Exists(t *testing.T, root, rel string) bool {
	t.Helper()

	_, err := os.Stat(filepath.Join(root, filepath.FromSlash(rel)))
	if os.IsNotExist(err) {
		return false
	}
	require.NoError(t, err)
	return true
}
