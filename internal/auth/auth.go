// Package auth is the credential provider: it owns the persisted session,
// hands out bearer tokens, and refreshes or tears the session down when the
// access token expires.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mpoliveira/medtrack/internal/api"
	"github.com/mpoliveira/medtrack/internal/common"
	"github.com/mpoliveira/medtrack/internal/logging"
	"github.com/mpoliveira/medtrack/internal/store"
)

// expiryLeeway makes a token count as expired slightly before its exp claim
// so a request does not race the server-side cutoff.
const expiryLeeway = 30 * time.Second

// Service implements api.TokenSource on top of a persisted session.
type Service struct {
	client api.Client
	kv     store.KV
	log    logging.Logger

	mu      sync.Mutex
	session *api.Session
	subs    []func(loggedIn bool)
}

var _ api.TokenSource = (*Service)(nil)

func NewService(client api.Client, kv store.KV, log logging.Logger) *Service {
	return &Service{client: client, kv: kv, log: log}
}

// Restore loads a previously persisted session, if any. Local records stay
// readable without one; only sync needs credentials.
func (s *Service) Restore(ctx context.Context) error {
	data, err := s.kv.Get(ctx, store.KeySession)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	var sess api.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return fmt.Errorf("failed to decode session: %w", err)
	}
	s.mu.Lock()
	s.session = &sess
	s.mu.Unlock()
	return nil
}

// Login authenticates against the backend and persists the session.
func (s *Service) Login(ctx context.Context, email, password string) error {
	sess, err := s.client.Login(ctx, email, password)
	if err != nil {
		return err
	}
	if err := s.saveSession(ctx, sess); err != nil {
		return err
	}
	s.notify(true)
	return nil
}

// Logout drops the session and notifies subscribers. Safe to call when no
// session exists.
func (s *Service) Logout(ctx context.Context) error {
	s.mu.Lock()
	hadSession := s.session != nil
	s.session = nil
	s.mu.Unlock()

	if err := s.kv.Remove(ctx, store.KeySession); err != nil {
		return err
	}
	if hadSession {
		s.notify(false)
	}
	return nil
}

// LoggedIn reports whether a session is present.
func (s *Service) LoggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session != nil
}

// UserID returns the session's user id, or 0 when logged out.
func (s *Service) UserID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return 0
	}
	return s.session.UserID
}

// Role returns the session's role (pharmacist or client), or "" when
// logged out.
func (s *Service) Role() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return ""
	}
	return s.session.Role
}

// Subscribe registers fn to run after every login (true) and logout (false).
func (s *Service) Subscribe(fn func(loggedIn bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// Token returns a valid access token, refreshing it through the backend when
// the current one is past its exp claim. A failed refresh tears the session
// down and reports ErrSessionExpired.
func (s *Service) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	sess := s.session
	s.mu.Unlock()

	if sess == nil {
		return "", common.ErrUnauthorized
	}
	if !tokenExpired(sess.AccessToken, time.Now()) {
		return sess.AccessToken, nil
	}

	s.log.Info(ctx, "access token expired, refreshing")
	fresh, err := s.client.Refresh(ctx, sess.RefreshToken)
	if err != nil {
		s.log.Warn(ctx, "token refresh failed, logging out", "error", err)
		_ = s.Logout(ctx)
		return "", fmt.Errorf("%w: %v", common.ErrSessionExpired, err)
	}
	if err := s.saveSession(ctx, fresh); err != nil {
		return "", err
	}
	return fresh.AccessToken, nil
}

func (s *Service) saveSession(ctx context.Context, sess *api.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := s.kv.Set(ctx, store.KeySession, data); err != nil {
		return err
	}
	s.mu.Lock()
	s.session = sess
	s.mu.Unlock()
	return nil
}

func (s *Service) notify(loggedIn bool) {
	s.mu.Lock()
	subs := make([]func(bool), len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()
	for _, fn := range subs {
		fn(loggedIn)
	}
}

// tokenExpired inspects the token's exp claim without verifying the
// signature; the client holds no key material and the server re-validates
// every request anyway. Tokens without an exp claim never expire locally,
// and unparseable tokens count as expired so they get refreshed.
func tokenExpired(token string, now time.Time) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return true
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return now.Add(expiryLeeway).After(exp.Time)
}
