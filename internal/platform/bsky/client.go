package bsky

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"parley/internal/metrics"
	"parley/internal/model"
	"parley/internal/platform"
)

// Client talks to a Bluesky-style PDS over XRPC. It satisfies both
// platform.Client and platform.Authenticator.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	limiter     *rate.Limiter
	maxAttempts int
	baseBackoff time.Duration
}

func NewClient(pdsURL string) *Client {
	return &Client{
		baseURL:     pdsURL,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		limiter:     newDefaultLimiter(),
		maxAttempts: getEnvInt("PDS_MAX_ATTEMPTS", 5),
		baseBackoff: time.Duration(getEnvInt("PDS_BASE_BACKOFF_MS", 500)) * time.Millisecond,
	}
}

// newDefaultLimiter creates a rate limiter using env overrides if present.
func newDefaultLimiter() *rate.Limiter {
	rps := 2.0
	burst := 10
	if v := os.Getenv("PDS_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			rps = f
		}
	}
	if v := os.Getenv("PDS_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			burst = n
		}
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if i, err := strconv.Atoi(v); err == nil && i > 0 {
		return i
	}
	return def
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// xrpcError is the standard XRPC failure body.
type xrpcError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// categorize maps an XRPC failure response onto the platform error taxonomy
// and closes the body. Transport details never escape this package.
func categorize(resp *http.Response) error {
	defer resp.Body.Close()
	var xe xrpcError
	_ = json.NewDecoder(resp.Body).Decode(&xe)

	switch xe.Error {
	case "ExpiredToken", "InvalidToken", "AuthenticationRequired", "AuthMissing":
		return fmt.Errorf("%w: %s", platform.ErrAuthRejected, xe.Message)
	case "RateLimitExceeded":
		return fmt.Errorf("%w: %s", platform.ErrRateLimited, xe.Message)
	case "ActorNotFound", "AccountNotFound", "RecordNotFound", "NotFound":
		return fmt.Errorf("%w: %s", platform.ErrNotFound, xe.Message)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", platform.ErrAuthRejected, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", platform.ErrRateLimited, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: status %d", platform.ErrNotFound, resp.StatusCode)
	default:
		return fmt.Errorf("%w: status %d %s %s", platform.ErrTransient, resp.StatusCode, xe.Error, xe.Message)
	}
}

// doWithRetry issues read requests with jittered exponential backoff on 429
// and 5xx, honoring Retry-After. Writes go through do() exactly once.
func (c *Client) doWithRetry(ctx context.Context, req *http.Request, endpoint string) (*http.Response, error) {
	backoff := c.baseBackoff
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		resp, err := c.httpClient.Do(req.Clone(ctx))
		if err == nil {
			if resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599) {
				_ = resp.Body.Close()
				metrics.IncAPIRetry(endpoint)
				wait := backoff
				if ra := resp.Header.Get("Retry-After"); ra != "" {
					if secs, err := strconv.Atoi(ra); err == nil {
						wait = time.Duration(secs) * time.Second
					} else if t, err := http.ParseTime(ra); err == nil {
						if d := time.Until(t); d > 0 {
							wait = d
						}
					}
				}
				// jitter +/-20%
				jitter := time.Duration(float64(wait) * 0.2)
				if jitter > 0 {
					wait = wait - jitter + time.Duration(time.Now().UnixNano()%int64(2*jitter))
				}
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return nil, fmt.Errorf("%w: %v", platform.ErrTransient, ctx.Err())
				}
				backoff *= 2
				continue
			}
			return resp, nil
		}
		lastErr = err
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", platform.ErrTransient, ctx.Err())
		}
		backoff *= 2
	}
	return nil, fmt.Errorf("%w: request failed after %d attempts: %v", platform.ErrTransient, c.maxAttempts, lastErr)
}

func (c *Client) get(ctx context.Context, token, endpoint string, params url.Values) (*http.Response, error) {
	u := fmt.Sprintf("%s/xrpc/%s?%s", c.baseURL, endpoint, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", platform.ErrTransient, err)
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", platform.ErrTransient, err)
	}
	resp, err := c.doWithRetry(ctx, req, endpoint)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, categorize(resp)
	}
	return resp, nil
}

func (c *Client) post(ctx context.Context, token, endpoint string, body any) (*http.Response, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, fmt.Errorf("%w: encode: %v", platform.ErrTransient, err)
		}
	}
	u := fmt.Sprintf("%s/xrpc/%s", c.baseURL, endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, &buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", platform.ErrTransient, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", platform.ErrTransient, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", platform.ErrTransient, err)
	}
	if resp.StatusCode >= 400 {
		return nil, categorize(resp)
	}
	return resp, nil
}

type sessionBody struct {
	DID        string `json:"did"`
	Handle     string `json:"handle"`
	AccessJwt  string `json:"accessJwt"`
	RefreshJwt string `json:"refreshJwt"`
}

// Login performs a full session issuance from the identifier and app password.
func (c *Client) Login(ctx context.Context, identifier, password string) (model.Session, error) {
	var out model.Session
	if identifier == "" || password == "" {
		return out, fmt.Errorf("%w: missing identifier or app password", platform.ErrAuthRejected)
	}
	resp, err := c.post(ctx, "", "com.atproto.server.createSession", map[string]string{
		"identifier": identifier,
		"password":   password,
	})
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()
	var raw sessionBody
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return out, fmt.Errorf("%w: decode session: %v", platform.ErrTransient, err)
	}
	metrics.SessionLogins.Inc()
	return model.Session{DID: raw.DID, Handle: raw.Handle, AccessToken: raw.AccessJwt, RefreshToken: raw.RefreshJwt}, nil
}

// Refresh exchanges a refresh token for a fresh session pair.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (model.Session, error) {
	var out model.Session
	resp, err := c.post(ctx, refreshToken, "com.atproto.server.refreshSession", nil)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()
	var raw sessionBody
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return out, fmt.Errorf("%w: decode session: %v", platform.ErrTransient, err)
	}
	metrics.SessionRefreshes.Inc()
	return model.Session{DID: raw.DID, Handle: raw.Handle, AccessToken: raw.AccessJwt, RefreshToken: raw.RefreshJwt}, nil
}
