package schedule

import (
	"testing"
	"time"
)

func TestNextWindowSkipsQuietHours(t *testing.T) {
	now := time.Date(2026, 3, 1, 2, 30, 0, 0, time.UTC)
	quiet := []int{0, 1, 2, 3, 4, 5}
	next := NextWindow(now, quiet)
	if next.Hour() != 6 {
		t.Fatalf("expected first window at 06:xx, got %s", next.Format(time.RFC3339))
	}
	if InQuietHours(next, quiet) {
		t.Fatalf("next window still inside quiet hours")
	}
}

func TestNextWindowImmediateWhenClear(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	next := NextWindow(now, []int{0, 1, 2})
	if !next.Equal(now) {
		t.Fatalf("expected now, got %s", next)
	}
}
