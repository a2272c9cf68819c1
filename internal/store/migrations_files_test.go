package store

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"testing"
)

var migrationsDir = filepath.Join("..", "..", "db", "migrations")

var migrationName = regexp.MustCompile(`^(\d{4})_[a-z0-9_]+\.(up|down)\.sql$`)

// migrationPairs maps each version to the directions present on disk.
func migrationPairs(t *testing.T) map[int]map[string]string {
	t.Helper()
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}
	pairs := map[int]map[string]string{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		match := migrationName.FindStringSubmatch(entry.Name())
		if match == nil {
			t.Fatalf("migration %q does not follow NNNN_name.(up|down).sql", entry.Name())
		}
		version, _ := strconv.Atoi(match[1])
		if pairs[version] == nil {
			pairs[version] = map[string]string{}
		}
		if prev, dup := pairs[version][match[2]]; dup {
			t.Fatalf("version %d has two %s files: %s and %s", version, match[2], prev, entry.Name())
		}
		pairs[version][match[2]] = entry.Name()
	}
	return pairs
}

func TestMigrationsArePairedAndContiguous(t *testing.T) {
	pairs := migrationPairs(t)
	if len(pairs) == 0 {
		t.Fatal("no migrations discovered")
	}
	versions := make([]int, 0, len(pairs))
	for v, dirs := range pairs {
		if dirs["up"] == "" || dirs["down"] == "" {
			t.Fatalf("version %d must include both up and down files, got %v", v, dirs)
		}
		versions = append(versions, v)
	}
	sort.Ints(versions)
	for i, v := range versions {
		if v != i+1 {
			t.Fatalf("migration versions must start at 1 without gaps, got %v", versions)
		}
	}
}

func TestInitMigrationCreatesBoardTables(t *testing.T) {
	up, err := os.ReadFile(filepath.Join(migrationsDir, pairsFile(t, 1, "up")))
	if err != nil {
		t.Fatalf("read init migration: %v", err)
	}
	sql := strings.ToLower(string(up))
	for _, table := range []string{
		"users", "boards", "board_members", "board_columns", "tags", "cards",
		"subtasks", "attachments", "comments", "flows", "ideas", "user_profiles",
	} {
		if !strings.Contains(sql, "create table "+table+" (") {
			t.Errorf("init migration does not create %s", table)
		}
	}
}

func pairsFile(t *testing.T, version int, direction string) string {
	t.Helper()
	name := migrationPairs(t)[version][direction]
	if name == "" {
		t.Fatalf("missing %s migration for version %d", direction, version)
	}
	return name
}
