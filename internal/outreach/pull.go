package outreach

import (
	"context"
	"fmt"

	"parley/internal/actionlog"
	"parley/internal/ledger"
	"parley/internal/logging"
	"parley/internal/platform"
)

// PullConfig wires a follower pull into the ledger.
type PullConfig struct {
	Ledger   *ledger.Ledger
	Client   platform.Client
	Sessions SessionSource
	Actions  *actionlog.DB

	// Platform keys the credential store entry.
	Platform string
	// Actor is the account whose audience is pulled, handle or DID.
	Actor string

	PageSize     int
	MinFollowers int
	VerifiedOnly bool
}

// Pull walks the actor's follower pages and upserts each qualifying profile
// into the ledger, persisting after every page. The page cursor is stored in
// the action log so an interrupted pull resumes where it stopped instead of
// re-walking from the start. limit > 0 caps how many profiles are examined
// in this invocation. Returns how many new accounts entered the ledger.
func Pull(ctx context.Context, cfg PullConfig, limit int) (int, error) {
	sess, err := cfg.Sessions.ObtainValidSession(ctx, cfg.Platform)
	if err != nil {
		return 0, fmt.Errorf("obtaining session: %w", err)
	}

	cursorKey := "audience:" + cfg.Actor
	cursor, err := cfg.Actions.LoadCursor(ctx, cursorKey)
	if err != nil {
		return 0, fmt.Errorf("loading audience cursor: %w", err)
	}

	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}

	added, examined := 0, 0
	for {
		profiles, next, err := cfg.Client.FetchAudience(ctx, sess.AccessToken, cfg.Actor, cursor, pageSize)
		if err != nil {
			return added, fmt.Errorf("fetching audience page: %w", err)
		}
		for _, p := range profiles {
			examined++
			if cfg.MinFollowers > 0 && p.FollowersCount < cfg.MinFollowers {
				continue
			}
			if cfg.VerifiedOnly && !p.Verified {
				continue
			}
			if cfg.Ledger.Get(p.DID) == nil {
				added++
			}
			cfg.Ledger.Upsert(p)
		}
		if err := cfg.Ledger.Persist(); err != nil {
			return added, fmt.Errorf("persisting pulled page: %w", err)
		}
		cursor = next
		if err := cfg.Actions.SaveCursor(ctx, cursorKey, cursor); err != nil {
			logging.Warn("saving audience cursor failed", map[string]any{"error": err.Error()})
		}
		if cursor == "" {
			break
		}
		if limit > 0 && examined >= limit {
			break
		}
	}

	logging.Info("audience pull complete", map[string]any{
		"examined": examined,
		"added":    added,
		"ledger":   cfg.Ledger.Len(),
	})
	return added, nil
}
