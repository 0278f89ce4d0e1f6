// Package outreach drives the sequential visit loop: pick the next account
// due in the ledger, fetch its latest content, generate a reply, submit it,
// and durably record the outcome. One account per invocation; an external
// timer re-invokes the process, which bounds any single failure to one
// account.
package outreach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"parley/internal/actionlog"
	"parley/internal/ledger"
	"parley/internal/logging"
	"parley/internal/metrics"
	"parley/internal/model"
	"parley/internal/platform"
	"parley/internal/reply"
	"parley/internal/util"
)

// SessionSource hands out a currently valid session. Satisfied by
// session.Manager; kept as an interface so tests can fake issuance.
type SessionSource interface {
	ObtainValidSession(ctx context.Context, platformName string) (model.Session, error)
}

// Config wires a Scheduler. All fields are required except Now.
type Config struct {
	Ledger    *ledger.Ledger
	Client    platform.Client
	Sessions  SessionSource
	Generator reply.Generator
	Actions   *actionlog.DB

	// Platform keys the credential store entry.
	Platform string
	// Voice is the personality text handed to the generator.
	Voice string
	// MaxChars bounds reply length.
	MaxChars int
	// Lookback limits how old a post may be and still draw a reply.
	Lookback time.Duration

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Scheduler advances through the ledger one visit at a time.
type Scheduler struct {
	cfg Config
	now func() time.Time
}

func New(cfg Config) *Scheduler {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Scheduler{cfg: cfg, now: now}
}

// Visit reports how one scheduler invocation ended.
type Visit struct {
	DID      string
	Handle   string
	Outcome  model.VisitOutcome
	Reason   string
	ReplyURI string
}

// cycleStart returns the boundary records are measured against: the start
// of the current UTC day. A record whose last_updated is at or past this
// boundary has already been visited this cycle.
func cycleStart(now time.Time) time.Time {
	return now.UTC().Truncate(24 * time.Hour)
}

// VisitOnce performs a single visit. It returns (nil, nil) for an empty
// ledger, a populated Visit for a completed one, and a non-nil error only
// when the operator must intervene (authentication exhausted, persistence
// failed). Every completed visit is persisted before VisitOnce returns.
func (s *Scheduler) VisitOnce(ctx context.Context) (*Visit, error) {
	defer metrics.ObserveVisitDuration(time.Now())

	start := s.now().UTC()
	boundary := cycleStart(start)

	rec := s.cfg.Ledger.NextDue(boundary)
	if rec == nil {
		logging.Info("ledger is empty, nothing to visit", nil)
		return nil, nil
	}
	metrics.Visits.Inc()
	logging.Info("visiting account", map[string]any{
		"did":    rec.DID,
		"handle": rec.Handle,
	})

	sess, err := s.cfg.Sessions.ObtainValidSession(ctx, s.cfg.Platform)
	if err != nil {
		return nil, fmt.Errorf("obtaining session for visit to %s: %w", rec.DID, err)
	}

	if p, perr := s.cfg.Client.FetchProfile(ctx, sess.AccessToken, rec.DID); perr != nil {
		// Stale snapshot is acceptable; the visit itself still proceeds.
		logging.Warn("profile refresh failed, keeping stored snapshot", map[string]any{
			"did":   rec.DID,
			"error": perr.Error(),
		})
	} else {
		rec.ApplyProfile(p)
	}

	since := start.Add(-s.cfg.Lookback)
	post, err := s.cfg.Client.FetchLatestContent(ctx, sess.AccessToken, rec.DID, since)
	if err != nil {
		v, ferr := s.finalize(ctx, rec, boundary, model.OutcomeSkipped,
			fmt.Sprintf("fetching content: %v", err), "")
		if ferr != nil {
			return nil, ferr
		}
		if errors.Is(err, platform.ErrAuthRejected) {
			return v, fmt.Errorf("fetching content for %s: %w", rec.DID, err)
		}
		return v, nil
	}

	if post != nil {
		replied, derr := s.cfg.Actions.HasReplied(ctx, post.URI)
		if derr != nil {
			logging.Warn("dedup lookup failed", map[string]any{"uri": post.URI, "error": derr.Error()})
		} else if replied {
			logging.Info("already replied to post, treating as no content", map[string]any{"uri": post.URI})
			post = nil
		}
	}
	if post == nil {
		return s.finalize(ctx, rec, boundary, model.OutcomeNoContent, "no eligible post", "")
	}

	text, err := s.cfg.Generator.Generate(ctx, reply.Request{
		PostText:       post.Text,
		Voice:          s.cfg.Voice,
		Classification: rec.Classification,
		MaxChars:       s.cfg.MaxChars,
	})
	if err != nil {
		reason := "generator abstained"
		if !errors.Is(err, reply.ErrAbstain) {
			reason = fmt.Sprintf("generation failed: %v", err)
			logging.Warn("reply generation failed", map[string]any{"did": rec.DID, "error": err.Error()})
		}
		return s.finalize(ctx, rec, boundary, model.OutcomeSkipped, reason, post.URI)
	}
	logging.Debug("reply drafted", map[string]any{
		"did":     rec.DID,
		"preview": util.TruncateRunes(util.NormalizeWhitespace(text), 80),
	})

	// A long visit can outlive the access token; re-obtain right before
	// the write so the submit never rides a stale session.
	sess, err = s.cfg.Sessions.ObtainValidSession(ctx, s.cfg.Platform)
	if err != nil {
		v, ferr := s.finalize(ctx, rec, boundary, model.OutcomeSkipped,
			fmt.Sprintf("re-obtaining session: %v", err), post.URI)
		if ferr != nil {
			return nil, ferr
		}
		return v, fmt.Errorf("re-obtaining session before submit: %w", err)
	}

	uri, err := s.cfg.Client.SubmitReply(ctx, sess, post, text)
	if err != nil {
		v, ferr := s.finalize(ctx, rec, boundary, model.OutcomeSkipped,
			fmt.Sprintf("submit failed: %v", err), post.URI)
		if ferr != nil {
			return nil, ferr
		}
		if errors.Is(err, platform.ErrAuthRejected) {
			return v, fmt.Errorf("submitting reply to %s: %w", rec.DID, err)
		}
		return v, nil
	}

	if merr := s.cfg.Actions.MarkReplied(ctx, post.URI, s.now()); merr != nil {
		logging.Warn("recording replied uri failed", map[string]any{"uri": post.URI, "error": merr.Error()})
	}
	return s.finalize(ctx, rec, boundary, model.OutcomeReplied, text, uri)
}

// finalize applies the one-outcome-per-visit ledger mutation and persists it.
// times_checked always advances; exactly one outcome counter advances;
// last_updated moves to the cycle boundary so the cursor passes over this
// record for the rest of the cycle. The ledger hits disk before anything
// else happens, so a crash after finalize never loses a visit.
func (s *Scheduler) finalize(ctx context.Context, rec *ledger.Record, boundary time.Time, outcome model.VisitOutcome, note, ref string) (*Visit, error) {
	rec.TimesChecked++
	switch outcome {
	case model.OutcomeReplied:
		rec.TimesReplied++
	case model.OutcomeSkipped:
		rec.TimesSkipped++
	case model.OutcomeNoContent:
		rec.TimesNoPost++
	}
	rec.LastUpdated = boundary

	if err := s.cfg.Ledger.Persist(); err != nil {
		return nil, fmt.Errorf("persisting visit to %s: %w", rec.DID, err)
	}

	if err := s.cfg.Actions.Record(ctx, s.now(), string(outcome), rec.DID, ref, note); err != nil {
		logging.Warn("action log write failed", map[string]any{"did": rec.DID, "error": err.Error()})
	}
	metrics.IncOutcome(string(outcome))
	logging.Info("visit recorded", map[string]any{
		"did":     rec.DID,
		"handle":  rec.Handle,
		"outcome": string(outcome),
		"note":    note,
	})

	v := &Visit{DID: rec.DID, Handle: rec.Handle, Outcome: outcome, Reason: note}
	if outcome == model.OutcomeReplied {
		v.ReplyURI = ref
		v.Reason = ""
	}
	return v, nil
}
