package engage

import (
	"context"
	"testing"
	"time"

	"parley/internal/actionlog"
	"parley/internal/config"
)

func TestAllowReplyRespectsBudgets(t *testing.T) {
	db, err := actionlog.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	cfg := config.EngagementConfig{MaxPerHour: 2, MaxPerDay: 3}

	ok, err := AllowReply(ctx, db, cfg, now)
	if err != nil || !ok {
		t.Fatalf("expected allowed, got %v %v", ok, err)
	}

	_ = db.Record(ctx, now, "replied", "did:plc:a", "", "")
	_ = db.Record(ctx, now.Add(5*time.Minute), "replied", "did:plc:b", "", "")
	ok, _ = AllowReply(ctx, db, cfg, now.Add(10*time.Minute))
	if ok {
		t.Fatalf("expected blocked by hourly budget")
	}

	// Next hour clears the hourly bound; a third reply then trips the daily.
	_ = db.Record(ctx, now.Add(65*time.Minute), "replied", "did:plc:c", "", "")
	ok, _ = AllowReply(ctx, db, cfg, now.Add(70*time.Minute))
	if ok {
		t.Fatalf("expected blocked by daily budget")
	}
}

func TestSkipsDoNotConsumeBudget(t *testing.T) {
	db, err := actionlog.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	cfg := config.EngagementConfig{MaxPerHour: 1, MaxPerDay: 1}

	_ = db.Record(ctx, now, "skipped", "did:plc:a", "", "abstained")
	_ = db.Record(ctx, now, "no_content", "did:plc:b", "", "")
	ok, err := AllowReply(ctx, db, cfg, now.Add(time.Minute))
	if err != nil || !ok {
		t.Fatalf("skips should not consume budget: %v %v", ok, err)
	}
}
