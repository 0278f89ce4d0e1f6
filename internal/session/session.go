package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"parley/internal/credstore"
	"parley/internal/logging"
	"parley/internal/model"
	"parley/internal/platform"
)

// ErrAuthentication means no valid session could be produced for the
// credential: stop visiting with it until an operator intervenes.
var ErrAuthentication = errors.New("authentication failed")

// expirySkew treats tokens about to expire as expired, so a token returned
// here survives the network call it is about to authenticate.
const expirySkew = 30 * time.Second

// Manager keeps one platform credential usable across process restarts
// without re-authenticating unnecessarily.
type Manager struct {
	store *credstore.Store
	auth  platform.Authenticator
	now   func() time.Time
}

func NewManager(store *credstore.Store, auth platform.Authenticator) *Manager {
	return &Manager{store: store, auth: auth, now: time.Now}
}

// ObtainValidSession returns a currently valid session for the platform,
// refreshing or re-issuing as needed. Every successful refresh or login is
// persisted before the session is returned, so a crash immediately after
// success cannot lose the new tokens.
func (m *Manager) ObtainValidSession(ctx context.Context, platformName string) (model.Session, error) {
	var out model.Session
	cred := m.store.Get(platformName)
	if cred == nil {
		return out, fmt.Errorf("%w: no credential for platform %q", ErrAuthentication, platformName)
	}

	// Reuse the stored token when its expiry claim is still in the future.
	if cred.AccessToken != "" {
		if exp, err := TokenExpiry(cred.AccessToken); err == nil && exp.After(m.now().Add(expirySkew)) {
			return model.Session{
				DID:          cred.DID,
				Handle:       cred.Identifier,
				AccessToken:  cred.AccessToken,
				RefreshToken: cred.RefreshToken,
			}, nil
		}
	}

	// Refresh when possible. A refresh failure is not fatal: fall through to
	// a full login so a revoked refresh token degrades gracefully.
	if cred.RefreshToken != "" {
		sess, err := m.auth.Refresh(ctx, cred.RefreshToken)
		if err == nil {
			if err := m.commit(cred, sess); err != nil {
				return out, err
			}
			logging.Info("session_refreshed", map[string]any{"platform": platformName})
			return sess, nil
		}
		logging.Warn("session_refresh_failed", map[string]any{"platform": platformName, "error": err.Error()})
	}

	sess, err := m.auth.Login(ctx, cred.Identifier, cred.AppPassword)
	if err != nil {
		return out, fmt.Errorf("%w: login for %q: %v", ErrAuthentication, cred.Identifier, err)
	}
	if err := m.commit(cred, sess); err != nil {
		return out, err
	}
	logging.Info("session_created", map[string]any{"platform": platformName, "did": sess.DID})
	return sess, nil
}

// commit replaces both tokens atomically in the credential and persists the
// store. Persist-then-return: a session the disk does not know about is
// never handed to a caller.
func (m *Manager) commit(cred *credstore.Credential, sess model.Session) error {
	cred.AccessToken = sess.AccessToken
	cred.RefreshToken = sess.RefreshToken
	if sess.DID != "" {
		cred.DID = sess.DID
	}
	cred.LastRefreshed = m.now().UTC()
	m.store.Put(cred)
	return m.store.Save()
}
