package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestChangeFeedMigrationCoversStreamedTables(t *testing.T) {
	migrationPath := filepath.Join("..", "..", "db", "migrations", "0002_change_feed.up.sql")
	sqlBytes, err := os.ReadFile(migrationPath)
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	sqlText := string(sqlBytes)

	for _, table := range []string{"cards", "subtasks", "comments", "flows", "ideas"} {
		trigger := "CREATE TRIGGER " + table + "_feed AFTER INSERT OR UPDATE OR DELETE ON " + table
		if !strings.Contains(sqlText, trigger) {
			t.Fatalf("expected migration to contain %q", trigger)
		}
	}
	for _, snippet := range []string{"pg_notify", "'commit_timestamp'", "'old_record'", "r - 'fts'"} {
		if !strings.Contains(sqlText, snippet) {
			t.Fatalf("expected migration to contain %q", snippet)
		}
	}
}

func TestStringListScan(t *testing.T) {
	var list stringList
	if err := list.Scan([]byte(`["a","b"]`)); err != nil {
		t.Fatalf("scan bytes: %v", err)
	}
	if len(list) != 2 || list[0] != "a" || list[1] != "b" {
		t.Fatalf("unexpected list %v", list)
	}
	if err := list.Scan(nil); err != nil {
		t.Fatalf("scan nil: %v", err)
	}
	if list == nil || len(list) != 0 {
		t.Fatalf("expected empty non-nil list, got %#v", list)
	}
	if err := list.Scan("null"); err != nil {
		t.Fatalf("scan json null: %v", err)
	}
	if list == nil {
		t.Fatal("expected json null to scan as empty list")
	}
	if err := list.Scan(42); err == nil {
		t.Fatal("expected error for unsupported source type")
	}
}

func TestFeedSettingsMigrationReadsChannelFromSettings(t *testing.T) {
	sqlBytes, err := os.ReadFile(filepath.Join("..", "..", "db", "migrations", "0003_feed_settings.up.sql"))
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	sqlText := string(sqlBytes)

	for _, snippet := range []string{
		"CREATE TABLE change_feed_settings",
		"FROM change_feed_settings",
		"pg_notify(coalesce(target, 'board_changes')",
		"'title', 'description'",
		"'assigned_to', 'tag_ids'",
	} {
		if !strings.Contains(sqlText, snippet) {
			t.Fatalf("expected migration to contain %q", snippet)
		}
	}
	if strings.Contains(sqlText, "TG_ARGV") {
		t.Fatal("expected the channel to come from change_feed_settings, not trigger arguments")
	}
}
