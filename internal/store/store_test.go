package store

import (
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	// Verify file was created
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_OpensExistingDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	// Create database
	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open() failed: %v", err)
	}
	s1.Close()

	// Reopen database
	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open() failed: %v", err)
	}
	defer s2.Close()

	// Verify we can query it
	var count int
	err = s2.db.QueryRow("SELECT COUNT(*) FROM entries").Scan(&count)
	if err != nil {
		t.Errorf("query failed: %v", err)
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	// Open multiple times
	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	// Final open should work
	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	// Verify schema is intact
	tables := []string{"chains", "entries"}
	for _, table := range tables {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	// Try to open in non-existent directory
	path := "/nonexistent/dir/test.db"

	_, err := Open(path)
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	err := s.Close()
	if err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

func TestClose_MultipleCalls(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	// First close should succeed
	if err := s.Close(); err != nil {
		t.Errorf("first Close() failed: %v", err)
	}

	// Second close should not panic (though may error)
	// We just verify it doesn't panic
	_ = s.Close()
}

func TestDB_ReturnsUnderlyingConnection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	db := s.DB()
	if db == nil {
		t.Error("DB() returned nil")
	}

	// Verify it's usable
	if err := db.Ping(); err != nil {
		t.Errorf("DB() connection not usable: %v", err)
	}
}

// Pragma tests

func TestPragma_JournalMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if err := s.verifyPragma("journal_mode", "wal"); err != nil {
		t.Error(err)
	}
}

func TestPragma_Synchronous(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	// FULL = 2
	if err := s.verifyPragma("synchronous", "2"); err != nil {
		t.Error(err)
	}
}

func TestPragma_BusyTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if err := s.verifyPragma("busy_timeout", "5000"); err != nil {
		t.Error(err)
	}
}

func TestPragma_ForeignKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	// ON = 1
	if err := s.verifyPragma("foreign_keys", "1"); err != nil {
		t.Error(err)
	}
}

// Schema table tests

func TestSchema_ChainsTable(t *testing.T) {
	s := createTestStore(t)

	columns := getTableColumns(t, s.db, "chains")
	for _, want := range []string{"chain_id", "genesis_hash", "tip_hash", "length", "created_at", "updated_at"} {
		if !contains(columns, want) {
			t.Errorf("chains missing column %q, got %v", want, columns)
		}
	}
}

func TestSchema_EntriesTable(t *testing.T) {
	s := createTestStore(t)

	columns := getTableColumns(t, s.db, "entries")
	expected := []string{
		"id", "chain_id", "seq", "event_type", "resource_type", "resource_id", "actor_id",
		"timestamp", "criticality", "metadata", "metadata_hash", "metadata_bytes",
		"metadata_truncated", "idempotency_key", "corrects", "prev_hash", "entry_hash",
	}
	for _, want := range expected {
		if !contains(columns, want) {
			t.Errorf("entries missing column %q, got %v", want, columns)
		}
	}
}

func TestSchema_EntriesIndexes(t *testing.T) {
	s := createTestStore(t)

	indexes := getTableIndexes(t, s.db, "entries")
	for _, want := range []string{"idx_entries_entry_hash", "idx_entries_chain_timestamp"} {
		if !contains(indexes, want) {
			t.Errorf("entries missing index %q, got %v", want, indexes)
		}
	}
}

// Insert-only enforcement

func TestTrigger_EntriesRejectUpdate(t *testing.T) {
	s := createTestStore(t)
	appendN(t, s, "team_42", 1)

	_, err := s.db.Exec(`UPDATE entries SET actor_id = 'mallory' WHERE seq = 0`)
	if err == nil {
		t.Fatal("expected UPDATE on entries to be rejected")
	}
	if !strings.Contains(err.Error(), "immutable") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestTrigger_EntriesRejectDelete(t *testing.T) {
	s := createTestStore(t)
	appendN(t, s, "team_42", 2)

	if _, err := s.db.Exec(`DELETE FROM entries WHERE seq = 1`); err == nil {
		t.Fatal("expected DELETE on entries to be rejected")
	}
}

func TestTrigger_ChainsRejectDelete(t *testing.T) {
	s := createTestStore(t)
	appendN(t, s, "team_42", 1)

	if _, err := s.db.Exec(`DELETE FROM chains`); err == nil {
		t.Fatal("expected DELETE on chains to be rejected")
	}
}

func TestTrigger_ChainsRejectRewind(t *testing.T) {
	s := createTestStore(t)
	appendN(t, s, "team_42", 3)

	tests := []struct {
		name string
		stmt string
	}{
		{"rewind length", `UPDATE chains SET length = 1`},
		{"skip ahead", `UPDATE chains SET length = 5`},
		{"rewrite tip in place", `UPDATE chains SET tip_hash = 'x'`},
		{"rename", `UPDATE chains SET chain_id = 'other', length = length + 1`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.db.Exec(tt.stmt); err == nil {
				t.Errorf("expected %q to be rejected", tt.stmt)
			}
		})
	}
}

func TestConstraint_EntryRequiresChain(t *testing.T) {
	s := createTestStore(t)

	_, err := s.db.Exec(`INSERT INTO entries (`+entryColumns+`)
		VALUES ('e1', 'ghost', 0, 'X', '', '', 'a', '2024-01-01T00:00:00.000000Z', 'best_effort',
		'{}', 'h', 2, 0, 'k', '', 'p', 'h')`)
	if err == nil {
		t.Fatal("expected foreign key violation for entry without chain")
	}
}

// Migration tests

func TestMigration_SchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	// Verify user_version is set to currentSchemaVersion
	var version int
	err = s.db.QueryRow("PRAGMA user_version").Scan(&version)
	if err != nil {
		t.Fatalf("failed to get user_version: %v", err)
	}

	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d", version, currentSchemaVersion)
	}
}

func TestMigration_V1TimestampIndexExists(t *testing.T) {
	s := createTestStore(t)

	indexes := getTableIndexes(t, s.db, "entries")
	if !contains(indexes, "idx_entries_chain_timestamp") {
		t.Errorf("entries missing timestamp index, indexes: %v", indexes)
	}
}

func TestMigration_IdempotentUpgrade(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	// Open and close multiple times - migrations should be idempotent
	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}

		// Verify version is correct each time
		var version int
		err = s.db.QueryRow("PRAGMA user_version").Scan(&version)
		if err != nil {
			t.Fatalf("failed to get user_version: %v", err)
		}

		if version != currentSchemaVersion {
			t.Errorf("iteration %d: user_version = %d, want %d", i, version, currentSchemaVersion)
		}

		s.Close()
	}
}

func TestMigration_UpgradeFromV0(t *testing.T) {
	// Simulate a pre-migration database (version 0)
	path := filepath.Join(t.TempDir(), "test.db")

	// Create database manually without migration
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	// Apply schema but NOT migrations (simulates pre-migration state)
	if _, err := db.Exec(schemaSQL); err != nil {
		t.Fatalf("failed to apply schema: %v", err)
	}

	// Set version to 0 explicitly (pre-migration)
	if _, err := db.Exec("PRAGMA user_version = 0"); err != nil {
		t.Fatalf("failed to set user_version: %v", err)
	}
	db.Close()

	// Now open through our normal path - should trigger migration
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	// Verify version was upgraded
	var version int
	err = s.db.QueryRow("PRAGMA user_version").Scan(&version)
	if err != nil {
		t.Fatalf("failed to get user_version: %v", err)
	}

	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d after migration", version, currentSchemaVersion)
	}

	if !contains(getTableIndexes(t, s.db, "entries"), "idx_entries_chain_timestamp") {
		t.Error("expected timestamp index after migration")
	}
}

// Helper functions

func getTableColumns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		t.Fatalf("failed to get table info for %q: %v", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			t.Fatalf("failed to scan column info: %v", err)
		}
		columns = append(columns, name)
	}
	return columns
}

func getTableIndexes(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type='index' AND tbl_name=?", table)
	if err != nil {
		t.Fatalf("failed to get indexes for %q: %v", table, err)
	}
	defer rows.Close()

	var indexes []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("failed to scan index name: %v", err)
		}
		indexes = append(indexes, name)
	}
	return indexes
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
