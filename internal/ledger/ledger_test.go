package ledger

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"parley/internal/model"
)

func profile(did, handle string) model.Profile {
	return model.Profile{
		DID:            did,
		Handle:         handle,
		DisplayName:    strings.ToUpper(handle),
		Description:    "writes about things, comma, included",
		FollowersCount: 1200,
		FollowingCount: 300,
		PostsCount:     4500,
	}
}

func newTestLedger(t *testing.T, dids ...string) *Ledger {
	t.Helper()
	l := New(filepath.Join(t.TempDir(), "accounts.csv"))
	for _, did := range dids {
		l.Upsert(profile(did, strings.TrimPrefix(did, "did:plc:")+".example"))
	}
	return l
}

func TestLoadMissingFileYieldsEmptyLedger(t *testing.T) {
	l, err := Load(filepath.Join(t.TempDir(), "accounts.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if l.Len() != 0 {
		t.Fatalf("expected empty ledger, got %d records", l.Len())
	}
}

func TestPersistLoadRoundTripIsByteStable(t *testing.T) {
	l := newTestLedger(t, "did:plc:a", "did:plc:b", "did:plc:c")
	recB := l.Get("did:plc:b")
	recB.TimesChecked = 7
	recB.TimesReplied = 3
	recB.TimesSkipped = 2
	recB.TimesNoPost = 2
	recB.LastUpdated = time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	recB.Classification = model.Friend
	if err := l.Persist(); err != nil {
		t.Fatal(err)
	}
	before, err := os.ReadFile(l.path)
	if err != nil {
		t.Fatal(err)
	}

	reloaded, err := Load(l.path)
	if err != nil {
		t.Fatal(err)
	}
	if err := reloaded.Persist(); err != nil {
		t.Fatal(err)
	}
	after, err := os.ReadFile(l.path)
	if err != nil {
		t.Fatal(err)
	}
	if string(before) != string(after) {
		t.Fatalf("load/persist round trip changed file content:\n--- before\n%s\n--- after\n%s", before, after)
	}
}

func TestUpsertPreservesOrderAndCounters(t *testing.T) {
	l := newTestLedger(t, "did:plc:a", "did:plc:b", "did:plc:c")
	l.Get("did:plc:b").TimesReplied = 9
	l.Get("did:plc:b").Classification = model.Foe

	// Re-discovery with fresher metrics must not move or reset the record.
	p := profile("did:plc:b", "b.example")
	p.FollowersCount = 99999
	l.Upsert(p)

	order := make([]string, 0, l.Len())
	for _, r := range l.All() {
		order = append(order, r.DID)
	}
	want := []string{"did:plc:a", "did:plc:b", "did:plc:c"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order changed: got %v", order)
		}
	}
	b := l.Get("did:plc:b")
	if b.TimesReplied != 9 || b.Classification != model.Foe {
		t.Fatalf("upsert clobbered history: %+v", b)
	}
	if b.Followers != "99999" {
		t.Fatalf("snapshot not refreshed: %q", b.Followers)
	}
}

func TestLoadRejectsBadHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.csv")
	if err := os.WriteFile(path, []byte("handle,name\nx,y\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestLoadRejectsMalformedRow(t *testing.T) {
	l := newTestLedger(t, "did:plc:a")
	if err := l.Persist(); err != nil {
		t.Fatal(err)
	}
	// Append a row with the wrong number of fields.
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("did:plc:z,only-two-fields\n"); err != nil {
		t.Fatal(err)
	}
	_ = f.Close()

	_, err = Load(l.path)
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt for short row, got %v", err)
	}
}

func TestLoadRejectsNonCanonicalCounterCell(t *testing.T) {
	// A counter cell that would re-encode differently (blank coerced to 0,
	// "007" to 7) must be rejected: accepting it means the next persist
	// rewrites the row, breaking load/persist byte stability.
	header := "did,handle,last_updated,times_checked,times_replied,times_skipped,times_no_post\n"
	for _, bad := range []string{"", "007", "+1", "-1", "seven"} {
		row := "did:plc:a,a.example,," + bad + ",0,0,0\n"
		path := filepath.Join(t.TempDir(), "accounts.csv")
		if err := os.WriteFile(path, []byte(header+row), 0o644); err != nil {
			t.Fatal(err)
		}
		_, err := Load(path)
		if !errors.Is(err, ErrCorrupt) {
			t.Fatalf("counter %q: expected ErrCorrupt, got %v", bad, err)
		}
	}
}

func TestLoadRejectsDuplicateDID(t *testing.T) {
	l := newTestLedger(t, "did:plc:a")
	if err := l.Persist(); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(l.path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.SplitN(string(b), "\n", 2)
	dup := lines[0] + "\n" + lines[1] + lines[1]
	if err := os.WriteFile(l.path, []byte(dup), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err = Load(l.path)
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt for duplicate id, got %v", err)
	}
}

func TestNextDueRoundRobin(t *testing.T) {
	cycleStart := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	l := newTestLedger(t, "did:plc:a", "did:plc:b", "did:plc:c")

	visited := map[string]int{}
	for i := 0; i < 3; i++ {
		rec := l.NextDue(cycleStart)
		if rec == nil {
			t.Fatalf("NextDue returned nil with %d records", l.Len())
		}
		visited[rec.DID]++
		rec.LastUpdated = cycleStart
	}
	if len(visited) != 3 {
		t.Fatalf("expected 3 distinct accounts, got %v", visited)
	}
	for did, n := range visited {
		if n != 1 {
			t.Fatalf("account %s visited %d times", did, n)
		}
	}

	// All caught up: wrap to the head rather than stalling.
	if rec := l.NextDue(cycleStart); rec == nil || rec.DID != "did:plc:a" {
		t.Fatalf("expected wrap to first record, got %+v", rec)
	}
}

func TestNextDueEmptyLedger(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "accounts.csv"))
	if rec := l.NextDue(time.Now()); rec != nil {
		t.Fatalf("expected nil, got %+v", rec)
	}
}

func TestNextDueSkipsAlreadyVisited(t *testing.T) {
	cycleStart := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	l := newTestLedger(t, "did:plc:a", "did:plc:b")
	l.Get("did:plc:a").LastUpdated = cycleStart // visited this cycle

	rec := l.NextDue(cycleStart)
	if rec == nil || rec.DID != "did:plc:b" {
		t.Fatalf("expected did:plc:b, got %+v", rec)
	}
}

func TestPersistLeavesNoTempFiles(t *testing.T) {
	l := newTestLedger(t, "did:plc:a")
	if err := l.Persist(); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(filepath.Dir(l.path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "accounts.csv" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("expected only accounts.csv, got %v", names)
	}
}
