package store

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"petition/api/internal/handle"
)

func TestShippedMigrationsHaveUpAndDownFiles(t *testing.T) {
	migrations, err := LoadMigrations(filepath.Join("..", "..", "db", "migrations"))
	if err != nil {
		t.Fatalf("load migrations: %v", err)
	}
	if len(migrations) == 0 {
		t.Fatal("no migrations discovered")
	}

	for i, m := range migrations {
		if m.Down == "" {
			t.Fatalf("version %s must include a down file", m.Version)
		}
		if i > 0 && migrations[i-1].Version >= m.Version {
			t.Fatalf("migrations out of order: %s before %s", migrations[i-1].Version, m.Version)
		}
	}
	if got := migrations[0].File(); got != "0001_signatures.up.sql" {
		t.Fatalf("unexpected first migration %q", got)
	}
}

func TestSignaturesSchemaMatchesHandleRules(t *testing.T) {
	raw, err := os.ReadFile(filepath.Join("..", "..", "db", "migrations", "0001_signatures.up.sql"))
	if err != nil {
		t.Fatalf("read schema: %v", err)
	}
	m := regexp.MustCompile(`char_length\(handle\) BETWEEN (\d+) AND (\d+)`).FindSubmatch(raw)
	if m == nil {
		t.Fatal("handle length check not found")
	}
	lo, _ := strconv.Atoi(string(m[1]))
	hi, _ := strconv.Atoi(string(m[2]))

	// Stored handles carry a leading @ on top of the typed characters.
	if lo > handle.MinLength || hi < handle.MaxLength+1 {
		t.Fatalf("schema allows %d..%d, validator accepts %d..%d", lo, hi, handle.MinLength, handle.MaxLength+1)
	}
	if lo != 2 {
		t.Fatalf("expected \"@a\" to fit the schema, lower bound is %d", lo)
	}
}

func TestLoadMigrationsOrdersAndPairsFiles(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir,
		"0002_b.up.sql", "0002_b.down.sql",
		"0001_a.up.sql",
		"README.md", "0003_not_sql.txt",
	)

	migrations, err := LoadMigrations(dir)
	if err != nil {
		t.Fatalf("load migrations: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(migrations))
	}
	if migrations[0].Name != "a" || migrations[0].Down != "" {
		t.Fatalf("unexpected first migration %+v", migrations[0])
	}
	if migrations[1].Name != "b" || !strings.HasSuffix(migrations[1].Down, "0002_b.down.sql") {
		t.Fatalf("unexpected second migration %+v", migrations[1])
	}
}

func TestLoadMigrationsRejectsBrokenSets(t *testing.T) {
	tests := []struct {
		name  string
		files []string
		want  string
	}{
		{name: "down without up", files: []string{"0001_a.down.sql"}, want: "no up file"},
		{name: "conflicting names", files: []string{"0001_a.up.sql", "0001_b.down.sql"}, want: "conflicting names"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFiles(t, dir, tt.files...)
			_, err := LoadMigrations(dir)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func writeFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
}
