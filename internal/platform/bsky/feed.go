package bsky

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"parley/internal/model"
	"parley/internal/platform"
)

type rawProfile struct {
	DID            string    `json:"did"`
	Handle         string    `json:"handle"`
	DisplayName    string    `json:"displayName"`
	Description    string    `json:"description"`
	Avatar         string    `json:"avatar"`
	CreatedAt      time.Time `json:"createdAt"`
	FollowersCount int       `json:"followersCount"`
	FollowsCount   int       `json:"followsCount"`
	PostsCount     int       `json:"postsCount"`
	Verification   *struct {
		VerifiedStatus string `json:"verifiedStatus"`
	} `json:"verification"`
}

func (p rawProfile) toModel() model.Profile {
	out := model.Profile{
		DID:            p.DID,
		Handle:         p.Handle,
		DisplayName:    p.DisplayName,
		Description:    p.Description,
		AvatarURL:      p.Avatar,
		CreatedAt:      p.CreatedAt,
		FollowersCount: p.FollowersCount,
		FollowingCount: p.FollowsCount,
		PostsCount:     p.PostsCount,
	}
	if p.Verification != nil {
		out.Verified = p.Verification.VerifiedStatus == "valid"
		out.VerifiedType = p.Verification.VerifiedStatus
	}
	return out
}

// FetchProfile returns the current public profile snapshot for an account.
func (c *Client) FetchProfile(ctx context.Context, token, actor string) (model.Profile, error) {
	var out model.Profile
	if actor == "" {
		return out, fmt.Errorf("%w: empty actor", platform.ErrNotFound)
	}
	params := url.Values{"actor": {actor}}
	resp, err := c.get(ctx, token, "app.bsky.actor.getProfile", params)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()
	var raw rawProfile
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return out, fmt.Errorf("%w: decode profile: %v", platform.ErrTransient, err)
	}
	return raw.toModel(), nil
}

// FetchLatestContent returns the account's most recent original post newer
// than since, or (nil, nil) when nothing qualifies. Reposts and replies are
// excluded; only the author's own top-level posts are reply targets.
func (c *Client) FetchLatestContent(ctx context.Context, token, actor string, since time.Time) (*model.Post, error) {
	params := url.Values{
		"actor":  {actor},
		"limit":  {strconv.Itoa(clamp(5, 1, 100))},
		"filter": {"posts_no_replies"},
	}
	resp, err := c.get(ctx, token, "app.bsky.feed.getAuthorFeed", params)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var raw struct {
		Feed []struct {
			Post struct {
				URI    string `json:"uri"`
				CID    string `json:"cid"`
				Author struct {
					DID string `json:"did"`
				} `json:"author"`
				Record struct {
					Text      string    `json:"text"`
					CreatedAt time.Time `json:"createdAt"`
				} `json:"record"`
			} `json:"post"`
			Reason *struct {
				Type string `json:"$type"`
			} `json:"reason"`
		} `json:"feed"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: decode feed: %v", platform.ErrTransient, err)
	}
	for _, item := range raw.Feed {
		if item.Reason != nil {
			continue // repost of someone else's content
		}
		if item.Post.Author.DID != actor {
			continue
		}
		if item.Post.Record.CreatedAt.Before(since) {
			continue
		}
		return &model.Post{
			URI:       item.Post.URI,
			CID:       item.Post.CID,
			AuthorDID: item.Post.Author.DID,
			Text:      item.Post.Record.Text,
			CreatedAt: item.Post.Record.CreatedAt,
		}, nil
	}
	return nil, nil
}

// SubmitReply posts text as a direct reply to target. The target is treated
// as both root and parent, matching a reply to a top-level post.
func (c *Client) SubmitReply(ctx context.Context, sess model.Session, target *model.Post, text string) (string, error) {
	ref := map[string]string{"uri": target.URI, "cid": target.CID}
	body := map[string]any{
		"collection": "app.bsky.feed.post",
		"repo":       sess.DID,
		"record": map[string]any{
			"$type":     "app.bsky.feed.post",
			"text":      text,
			"createdAt": time.Now().UTC().Format(time.RFC3339),
			"reply": map[string]any{
				"root":   ref,
				"parent": ref,
			},
		},
	}
	resp, err := c.post(ctx, sess.AccessToken, "com.atproto.repo.createRecord", body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	var raw struct {
		URI string `json:"uri"`
		CID string `json:"cid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return "", fmt.Errorf("%w: decode createRecord: %v", platform.ErrTransient, err)
	}
	return raw.URI, nil
}

// FetchAudience returns one page of follower profiles and the next-page
// cursor ("" when exhausted).
func (c *Client) FetchAudience(ctx context.Context, token, actor, cursor string, limit int) ([]model.Profile, string, error) {
	params := url.Values{
		"actor": {actor},
		"limit": {strconv.Itoa(clamp(limit, 1, 100))},
	}
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	resp, err := c.get(ctx, token, "app.bsky.graph.getFollowers", params)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	var raw struct {
		Followers []rawProfile `json:"followers"`
		Cursor    string       `json:"cursor"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, "", fmt.Errorf("%w: decode followers: %v", platform.ErrTransient, err)
	}
	out := make([]model.Profile, 0, len(raw.Followers))
	for _, f := range raw.Followers {
		out = append(out, f.toModel())
	}
	return out, raw.Cursor, nil
}
