package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ppiankov/cmdgate/internal/model"
	"github.com/ppiankov/cmdgate/internal/store"
	"github.com/ppiankov/cmdgate/internal/store/storetest"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "cmdgate.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatal("expected empty path error")
	}
}

func TestSQLiteStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return openTempStore(t)
	})
}

func TestInMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := Open(MemoryPath)
		if err != nil {
			t.Fatal(err)
		}
		return s
	})
}

func TestReopenKeepsDataAndSkipsMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cmdgate.db")
	ctx := context.Background()

	s1, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	p := model.Permission{Identity: "phone-1", Level: model.LevelAdmin, GrantedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	if err := s1.UpsertPermission(ctx, p); err != nil {
		t.Fatal(err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	got, err := s2.GetPermission(ctx, "phone-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Level != model.LevelAdmin {
		t.Errorf("expected level 3 after reopen, got %d", got.Level)
	}

	var n int
	if err := s2.sqlDB.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 recorded migration, got %d", n)
	}
}

func TestExtractUp(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"CREATE TABLE a (x INT);", "CREATE TABLE a (x INT);"},
		{"-- +migrate Up\nCREATE TABLE a (x INT);\n-- +migrate Down\nDROP TABLE a;", "\nCREATE TABLE a (x INT);\n"},
		{"-- +migrate Up\nSELECT 1;", "\nSELECT 1;"},
	}
	for _, tt := range tests {
		if got := extractUp(tt.in); got != tt.want {
			t.Errorf("extractUp(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
