package model

import "time"

// Classification is the operator-assigned relationship marker for an account.
// The scheduler reads it to steer reply tone but never writes it.
type Classification string

const (
	Unclassified Classification = ""
	Friend       Classification = "friend"
	Foe          Classification = "foe"
)

// ValidClassification reports whether s is an accepted classification value.
func ValidClassification(s string) bool {
	switch Classification(s) {
	case Unclassified, Friend, Foe:
		return true
	}
	return false
}

// Profile is the point-in-time snapshot of a remote account's public profile.
type Profile struct {
	DID            string
	Handle         string
	DisplayName    string
	CreatedAt      time.Time
	Description    string
	Location       string
	URL            string
	AvatarURL      string
	Verified       bool
	VerifiedType   string
	Protected      bool
	FollowersCount int
	FollowingCount int
	PostsCount     int
	ListedCount    int
	LikesCount     int
}

// Post is a single piece of platform content eligible for a reply.
type Post struct {
	URI       string
	CID       string
	AuthorDID string
	Text      string
	CreatedAt time.Time
}

// Session holds the short-lived artifacts of one authenticated platform
// session. AccessToken carries its own expiry claim; the store never
// persists the expiry redundantly.
type Session struct {
	DID          string
	Handle       string
	AccessToken  string
	RefreshToken string
}

// VisitOutcome labels how a single scheduler visit to an account ended.
type VisitOutcome string

const (
	OutcomeReplied   VisitOutcome = "replied"
	OutcomeSkipped   VisitOutcome = "skipped"
	OutcomeNoContent VisitOutcome = "no_content"
)
