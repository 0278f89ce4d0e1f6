package platform

import (
	"context"
	"errors"
	"time"

	"parley/internal/model"
)

// Distinguishable error categories surfaced by every Client implementation.
// Transport-specific failures never cross this boundary.
var (
	ErrAuthRejected = errors.New("platform rejected authentication")
	ErrRateLimited  = errors.New("platform rate limit hit")
	ErrNotFound     = errors.New("platform target not found")
	ErrTransient    = errors.New("transient platform failure")
)

// Client is the platform-specific network surface consumed by the scheduler
// and the audience puller. All calls are sequential; none are retried by the
// caller within a single visit.
type Client interface {
	// FetchProfile returns the current public profile snapshot for an account.
	FetchProfile(ctx context.Context, token, actor string) (model.Profile, error)

	// FetchLatestContent returns the account's most recent original post not
	// older than `since`, or (nil, nil) when there is no eligible content.
	FetchLatestContent(ctx context.Context, token, actor string, since time.Time) (*model.Post, error)

	// SubmitReply posts text as a reply to target and returns the submission
	// id. Single attempt: an ambiguous failure may mean a duplicate on retry,
	// which is the caller's documented trade-off.
	SubmitReply(ctx context.Context, sess model.Session, target *model.Post, text string) (string, error)

	// FetchAudience returns one page of follower summaries and the token for
	// the next page ("" when exhausted).
	FetchAudience(ctx context.Context, token, actor, cursor string, limit int) ([]model.Profile, string, error)
}

// Authenticator is the session-issuance surface consumed by the session
// manager. Kept separate from Client so tests can fake either half.
type Authenticator interface {
	// Login performs a full session issuance from the long-lived pair.
	Login(ctx context.Context, identifier, password string) (model.Session, error)

	// Refresh exchanges a refresh token for a fresh session.
	Refresh(ctx context.Context, refreshToken string) (model.Session, error)
}
