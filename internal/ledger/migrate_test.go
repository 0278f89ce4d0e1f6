package ledger

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// preMigrationFile writes a ledger file whose header predates the
// classification column.
func preMigrationFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "accounts.csv")
	content := "did,handle,display_name,created_at,description,location,url,avatar_url," +
		"verified,verified_type,protected,followers_count,following_count,posts_count," +
		"listed_count,likes_count,last_updated,times_checked,times_replied,times_skipped,times_no_post\n" +
		"did:plc:a,a.example,A,,bio,,,,false,,false,10,5,100,0,0,2026-01-01 10:00:00,4,1,2,1\n" +
		"did:plc:b,b.example,B,,bio,,,,false,,false,20,6,200,0,0,2026-01-01 11:00:00,2,0,1,1\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func backupsIn(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var out []string
	for _, e := range entries {
		if strings.Contains(e.Name(), "_backup_") {
			out = append(out, e.Name())
		}
	}
	return out
}

func TestMigrateAddsColumnWithBackup(t *testing.T) {
	path := preMigrationFile(t)
	l, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := l.MigrateSchema(l.CurrentSchemaColumns(), now); err != nil {
		t.Fatal(err)
	}

	backups := backupsIn(t, filepath.Dir(path))
	if len(backups) != 1 {
		t.Fatalf("expected exactly one backup, got %v", backups)
	}
	if !strings.Contains(backups[0], "20260601_120000") {
		t.Fatalf("backup not timestamped: %s", backups[0])
	}

	migrated, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	a := migrated.Get("did:plc:a")
	if a == nil || a.TimesChecked != 4 || a.TimesReplied != 1 {
		t.Fatalf("migration altered row data: %+v", a)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(strings.SplitN(string(b), "\n", 2)[0], "classification") {
		t.Fatalf("classification column not added: %s", b)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	path := preMigrationFile(t)
	l, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.MigrateSchema(l.CurrentSchemaColumns(), time.Now()); err != nil {
		t.Fatal(err)
	}
	afterFirst, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	dir := filepath.Dir(path)
	if n := len(backupsIn(t, dir)); n != 1 {
		t.Fatalf("expected one backup after first migration, got %d", n)
	}

	// Second invocation: columns exist, so no backup and no rewrite.
	l2, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := l2.MigrateSchema(l2.CurrentSchemaColumns(), time.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	afterSecond, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(afterFirst) != string(afterSecond) {
		t.Fatalf("second migration changed rows")
	}
	if n := len(backupsIn(t, dir)); n != 1 {
		t.Fatalf("second migration produced a backup; total %d", n)
	}
}

func TestMigrateFailsClosedWhenBackupImpossible(t *testing.T) {
	path := preMigrationFile(t)
	l, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	// Occupy the backup path with a directory so O_EXCL creation fails.
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := os.Mkdir(backupPath(path, now), 0o755); err != nil {
		t.Fatal(err)
	}
	original, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	err = l.MigrateSchema(l.CurrentSchemaColumns(), now)
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(original) != string(after) {
		t.Fatalf("failed migration touched the original file")
	}
}

func TestMigratePreservesUnknownColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.csv")
	content := "did,handle,last_updated,times_checked,times_replied,times_skipped,times_no_post,zodiac\n" +
		"did:plc:a,a.example,,0,0,0,0,aries\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	l, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.MigrateSchema(l.CurrentSchemaColumns(), time.Now()); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "zodiac") || !strings.Contains(string(b), "aries") {
		t.Fatalf("unknown column lost in migration:\n%s", b)
	}
}
