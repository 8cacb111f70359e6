package postgres

import (
	"testing"
	"testing/fstest"
)

func TestLoadMigrationsSortsByVersion(t *testing.T) {
	files := fstest.MapFS{
		"010_tables.sql": {Data: []byte("SELECT 10;")},
		"002_second.sql": {Data: []byte("SELECT 2;")},
		"001_first.sql":  {Data: []byte("SELECT 1;")},
		"README.md":      {Data: []byte("docs")},
		"notes.sql":      {Data: []byte("SELECT 0;")},
		"abc_bad.sql":    {Data: []byte("SELECT 0;")},
	}

	migrations, err := newMigratorFS(nil, files).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migrations))
	}
	wantVersions := []int{1, 2, 10}
	for i, want := range wantVersions {
		if migrations[i].Version != want {
			t.Errorf("migration %d: expected version %d, got %d", i, want, migrations[i].Version)
		}
	}
	if migrations[0].SQL != "SELECT 1;" {
		t.Errorf("unexpected SQL: %s", migrations[0].SQL)
	}
}

func TestEmbeddedMigrationsPresent(t *testing.T) {
	migrations, err := NewMigrator(nil).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) < 2 {
		t.Fatalf("expected embedded migrations, got %d", len(migrations))
	}
	if migrations[0].Name != "001_tokens.sql" {
		t.Fatalf("unexpected first migration %s", migrations[0].Name)
	}
}
