package engage

import (
	"context"
	"time"

	"parley/internal/actionlog"
	"parley/internal/config"
	"parley/internal/model"
)

// AllowReply checks hourly/daily reply budgets before a visit is allowed to
// post. Budgets count only posted replies; skips and no-content visits are
// free.
func AllowReply(ctx context.Context, db *actionlog.DB, cfg config.EngagementConfig, now time.Time) (bool, error) {
	now = now.UTC()
	startHour := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, time.UTC)
	startDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	hourCount, err := db.CountWithin(ctx, startHour, startHour.Add(time.Hour), string(model.OutcomeReplied))
	if err != nil {
		return false, err
	}
	dayCount, err := db.CountWithin(ctx, startDay, startDay.Add(24*time.Hour), string(model.OutcomeReplied))
	if err != nil {
		return false, err
	}
	if cfg.MaxPerHour > 0 && hourCount >= cfg.MaxPerHour {
		return false, nil
	}
	if cfg.MaxPerDay > 0 && dayCount >= cfg.MaxPerDay {
		return false, nil
	}
	return true, nil
}
