package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/healthbridge/portal-session/internal/api/metrics"
	"github.com/healthbridge/portal-session/internal/core/domain"
	"github.com/healthbridge/portal-session/internal/core/ports"
	"github.com/healthbridge/portal-session/internal/pkg/validation"
)

type loginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type forgotInput struct {
	Email string `json:"email" validate:"required,email"`
}

type resetInput struct {
	ResetToken  string `json:"resetToken" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required,min=6"`
}

type subscriber struct {
	id uint64
	fn func(domain.Session)
}

// SessionManager owns the in-memory Session, keeps it in step with the
// credential store and publishes every transition to subscribers.
//
// Mutating operations are not queued. Callers keep at most one in flight
// (the UI disables its submit action while the session is busy). If that
// discipline is broken the last write wins; the commit phase of each
// operation (store writes plus in-memory update) is still applied as a unit,
// and results computed against a session that was replaced in the meantime
// are discarded.
type SessionManager struct {
	api      ports.SessionAPI
	store    ports.CredentialStore
	validate *validation.Validator
	log      zerolog.Logger
	now      func() time.Time

	// commitMu serializes store+state commits. Never held during network
	// calls or while notifying subscribers.
	commitMu sync.Mutex

	mu    sync.RWMutex
	state domain.Session
	ready bool
	// generation changes whenever the credentials are replaced or cleared.
	generation uint64

	subsMu  sync.Mutex
	subs    []subscriber
	nextSub uint64
}

var _ ports.SessionService = (*SessionManager)(nil)

// NewSessionManager returns a manager in the initializing state. Call
// Bootstrap before anything else.
func NewSessionManager(api ports.SessionAPI, store ports.CredentialStore, log zerolog.Logger) *SessionManager {
	return &SessionManager{
		api:      api,
		store:    store,
		validate: validation.New(),
		log:      log.With().Str("component", "session").Logger(),
		now:      time.Now,
		state:    domain.Session{Status: domain.StatusInitializing},
	}
}

// Snapshot returns a copy of the current session.
func (m *SessionManager) Snapshot() domain.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Clone()
}

// IsAuthenticated reports whether a user is signed in.
func (m *SessionManager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.IsAuthenticated()
}

// Role returns the signed-in user's role or "".
func (m *SessionManager) Role() domain.Role {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Role()
}

// Subscribe registers fn for change notifications. Subscribers run
// synchronously, in registration order, on the goroutine that caused the
// transition.
func (m *SessionManager) Subscribe(fn func(domain.Session)) func() {
	m.subsMu.Lock()
	m.nextSub++
	id := m.nextSub
	m.subs = append(m.subs, subscriber{id: id, fn: fn})
	m.subsMu.Unlock()

	return func() {
		m.subsMu.Lock()
		defer m.subsMu.Unlock()
		for i, s := range m.subs {
			if s.id == id {
				m.subs = append(m.subs[:i], m.subs[i+1:]...)
				return
			}
		}
	}
}

// Bootstrap loads the persisted session. Both the user record and the access
// token must be present for the session to be restored; otherwise any stray
// partial credentials are removed and the session settles unauthenticated.
// Calling it again re-reads the store and re-applies the result.
func (m *SessionManager) Bootstrap(ctx context.Context) error {
	const op = "bootstrap"
	start := m.now()

	m.commitMu.Lock()

	access, hasAccess, err := m.store.Get(ctx, ports.KeyAccessToken)
	if err != nil {
		return m.bootstrapFailed(ctx, start, &domain.StorageError{Op: "get", Key: ports.KeyAccessToken, Err: err})
	}
	refresh, hasRefresh, err := m.store.Get(ctx, ports.KeyRefreshToken)
	if err != nil {
		return m.bootstrapFailed(ctx, start, &domain.StorageError{Op: "get", Key: ports.KeyRefreshToken, Err: err})
	}
	rawUser, hasUser, err := m.store.Get(ctx, ports.KeyUser)
	if err != nil {
		return m.bootstrapFailed(ctx, start, &domain.StorageError{Op: "get", Key: ports.KeyUser, Err: err})
	}

	var user *domain.UserRecord
	if hasUser {
		user = &domain.UserRecord{}
		if err := json.Unmarshal([]byte(rawUser), user); err != nil || user.ID == "" {
			m.log.Warn().Err(err).Msg("stored user record unreadable, discarding")
			user, hasUser = nil, false
		}
	}

	if hasUser && hasAccess && access != "" {
		m.finish(op, start, nil, func(s *domain.Session) {
			s.User = user
			s.AccessToken = access
			s.RefreshToken = refresh
			m.ready = true
			m.generation++
		})
		m.commitMu.Unlock()
		m.publish()
		m.log.Info().Str("user_id", user.ID).Str("role", string(user.Role)).Msg("session restored")
		return nil
	}

	var clearErr error
	if hasUser || hasAccess || hasRefresh {
		m.log.Info().Bool("user", hasUser).Bool("access_token", hasAccess).Bool("refresh_token", hasRefresh).
			Msg("partial credentials found, clearing")
		clearErr = m.clearCredentials(ctx)
	}
	m.finish(op, start, clearErr, func(s *domain.Session) {
		resetCredentials(s)
		m.ready = true
		m.generation++
	})
	m.commitMu.Unlock()
	m.publish()
	return clearErr
}

// bootstrapFailed settles an unreadable store as unauthenticated. Called with
// commitMu held; releases it.
func (m *SessionManager) bootstrapFailed(ctx context.Context, start time.Time, cause error) error {
	err := cause
	if clearErr := m.clearCredentials(ctx); clearErr != nil {
		err = errors.Join(cause, clearErr)
	}
	m.finish("bootstrap", start, err, func(s *domain.Session) {
		resetCredentials(s)
		m.ready = true
		m.generation++
	})
	m.commitMu.Unlock()
	m.publish()
	metrics.SessionForcedExpiriesTotal.WithLabelValues("storage").Inc()
	m.log.Error().Err(err).Msg("credential store unreadable, session reset")
	return err
}

// Login authenticates and persists the issued credentials. The store is not
// touched unless the service accepted the credentials, and a result that
// arrives after the session was cleared is dropped.
func (m *SessionManager) Login(ctx context.Context, email, password string) (*ports.LoginResult, error) {
	const op = "login"
	if err := m.ensureReady(); err != nil {
		return nil, err
	}
	if err := m.validate.Validate(loginInput{Email: email, Password: password}); err != nil {
		m.settle(op, m.now(), err, nil)
		return nil, err
	}

	start := m.begin()
	gen := m.currentGeneration()
	res, err := m.api.Login(ctx, email, password)
	if err == nil && (res == nil || res.User == nil || res.AccessToken == "") {
		err = &domain.ServerError{Code: 200, Message: "incomplete login response"}
	}
	if err != nil {
		m.settle(op, start, err, nil)
		m.log.Warn().Err(err).Msg("login failed")
		return nil, err
	}

	user := res.User.Clone()
	m.commitMu.Lock()
	// A logout or expiry issued while the request was in flight wins.
	if m.currentGeneration() != gen {
		return nil, m.discardStale(op, start)
	}
	if err := m.persistLogin(ctx, res.TokenPair, user); err != nil {
		return nil, m.storageFailure(ctx, op, start, err)
	}
	m.finish(op, start, nil, func(s *domain.Session) {
		s.User = user
		s.AccessToken = res.AccessToken
		s.RefreshToken = res.RefreshToken
		m.generation++
	})
	m.commitMu.Unlock()
	m.publish()

	m.log.Info().Str("user_id", user.ID).Str("role", string(user.Role)).Msg("logged in")
	return &ports.LoginResult{TokenPair: res.TokenPair, User: user.Clone()}, nil
}

// Register creates an account. It never signs the caller in.
func (m *SessionManager) Register(ctx context.Context, reg ports.Registration) (*ports.Confirmation, error) {
	const op = "register"
	if err := m.ensureReady(); err != nil {
		return nil, err
	}
	if err := m.validate.Validate(reg); err != nil {
		m.settle(op, m.now(), err, nil)
		return nil, err
	}

	start := m.begin()
	conf, err := m.api.Register(ctx, reg)
	m.settle(op, start, err, nil)
	if err != nil {
		return nil, err
	}
	m.log.Info().Str("account_id", conf.ID).Str("role", string(conf.Role)).Msg("account registered")
	return conf, nil
}

// Logout tells the service the session is over, then clears local state no
// matter how the remote call went. Only a failure to clear the credential
// store is reported, and even then the session stays signed out.
func (m *SessionManager) Logout(ctx context.Context) error {
	const op = "logout"
	if err := m.ensureReady(); err != nil {
		return err
	}

	start := m.begin()
	if token, _ := m.credentials(); token != "" {
		if err := m.api.Logout(ctx, token); err != nil {
			m.log.Warn().Err(err).Msg("remote logout failed, clearing local session anyway")
		}
	}

	m.commitMu.Lock()
	clearErr := m.clearCredentials(ctx)
	m.finish(op, start, clearErr, func(s *domain.Session) {
		resetCredentials(s)
		m.generation++
	})
	m.commitMu.Unlock()
	m.publish()

	if clearErr != nil {
		m.log.Error().Err(clearErr).Msg("logout could not clear credential store")
		return clearErr
	}
	m.log.Info().Msg("logged out")
	return nil
}

// UpdateProfile sends a partial update and adopts the full record returned
// by the service. The local record is never merged by hand.
func (m *SessionManager) UpdateProfile(ctx context.Context, partial ports.ProfileUpdate) (*domain.UserRecord, error) {
	const op = "update_profile"
	if err := m.ensureReady(); err != nil {
		return nil, err
	}
	token, _ := m.credentials()
	if token == "" || !m.IsAuthenticated() {
		m.settle(op, m.now(), domain.ErrUnauthorized, nil)
		return nil, domain.ErrUnauthorized
	}
	if len(partial) == 0 {
		err := domain.NewValidationError("profile", "no fields to update")
		m.settle(op, m.now(), err, nil)
		return nil, err
	}

	start := m.begin()
	gen := m.currentGeneration()
	rec, err := m.api.UpdateProfile(ctx, token, partial)
	if err != nil {
		return nil, m.authenticatedFailure(ctx, op, start, err)
	}
	return m.commitUser(ctx, op, start, gen, rec)
}

// RefreshProfile re-fetches the profile unconditionally to reconcile local
// state after suspected drift.
func (m *SessionManager) RefreshProfile(ctx context.Context) (*domain.UserRecord, error) {
	const op = "refresh_profile"
	if err := m.ensureReady(); err != nil {
		return nil, err
	}
	token, _ := m.credentials()
	if token == "" {
		m.settle(op, m.now(), domain.ErrUnauthorized, nil)
		return nil, domain.ErrUnauthorized
	}

	start := m.begin()
	gen := m.currentGeneration()
	rec, err := m.api.GetProfile(ctx, token)
	if err != nil {
		return nil, m.authenticatedFailure(ctx, op, start, err)
	}
	return m.commitUser(ctx, op, start, gen, rec)
}

// ForgotPassword is a pass-through; the session is not touched.
func (m *SessionManager) ForgotPassword(ctx context.Context, email string) error {
	if err := m.validate.Validate(forgotInput{Email: email}); err != nil {
		return err
	}
	return m.api.ForgotPassword(ctx, email)
}

// ResetPassword is a pass-through; the session is not touched.
func (m *SessionManager) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	if err := m.validate.Validate(resetInput{ResetToken: resetToken, NewPassword: newPassword}); err != nil {
		return err
	}
	return m.api.ResetPassword(ctx, resetToken, newPassword)
}

// RefreshTokens exchanges the refresh token for a new credential pair.
func (m *SessionManager) RefreshTokens(ctx context.Context) error {
	const op = "refresh_tokens"
	if err := m.ensureReady(); err != nil {
		return err
	}
	_, refresh := m.credentials()
	if refresh == "" || !m.IsAuthenticated() {
		m.settle(op, m.now(), domain.ErrUnauthorized, nil)
		return domain.ErrUnauthorized
	}

	start := m.begin()
	gen := m.currentGeneration()
	pair, err := m.api.Refresh(ctx, refresh)
	if err == nil && (pair == nil || pair.AccessToken == "") {
		err = &domain.ServerError{Code: 200, Message: "incomplete refresh response"}
	}
	if err != nil {
		return m.authenticatedFailure(ctx, op, start, err)
	}

	m.commitMu.Lock()
	if m.currentGeneration() != gen {
		return m.discardStale(op, start)
	}
	if err := m.persistTokens(ctx, *pair); err != nil {
		return m.storageFailure(ctx, op, start, err)
	}
	m.finish(op, start, nil, func(s *domain.Session) {
		s.AccessToken = pair.AccessToken
		if pair.RefreshToken != "" {
			s.RefreshToken = pair.RefreshToken
		}
		m.generation++
	})
	m.commitMu.Unlock()
	m.publish()
	m.log.Debug().Msg("tokens refreshed")
	return nil
}

// EnsureFreshToken refreshes the credentials when the access token expires
// within skew. Tokens without a readable expiry are left alone.
func (m *SessionManager) EnsureFreshToken(ctx context.Context, skew time.Duration) error {
	token, _ := m.credentials()
	if token == "" {
		return nil
	}
	exp, ok := AccessTokenExpiry(token)
	if !ok || m.now().Add(skew).Before(exp) {
		return nil
	}
	return m.RefreshTokens(ctx)
}

// ExpireSession applies the session-expiry policy on demand, e.g. when the
// server pushes a revocation. A nil cause is reported as ErrUnauthorized.
func (m *SessionManager) ExpireSession(ctx context.Context, cause error) error {
	if err := m.ensureReady(); err != nil {
		return err
	}
	if cause == nil {
		cause = domain.ErrUnauthorized
	}
	start := m.begin()
	return m.expire(ctx, "expire_session", start, cause, "revoked")
}

func (m *SessionManager) commitUser(ctx context.Context, op string, start time.Time, gen uint64, rec *domain.UserRecord) (*domain.UserRecord, error) {
	if rec == nil || rec.ID == "" {
		err := &domain.ServerError{Code: 200, Message: "empty profile response"}
		m.settle(op, start, err, nil)
		return nil, err
	}
	user := rec.Clone()

	m.commitMu.Lock()
	if m.currentGeneration() != gen {
		return nil, m.discardStale(op, start)
	}
	if err := m.persistUser(ctx, user); err != nil {
		return nil, m.storageFailure(ctx, op, start, err)
	}
	m.finish(op, start, nil, func(s *domain.Session) {
		s.User = user
	})
	m.commitMu.Unlock()
	m.publish()
	return user.Clone(), nil
}

// discardStale drops a result computed for a session that has since been
// replaced or cleared. Called with commitMu held; releases it.
func (m *SessionManager) discardStale(op string, start time.Time) error {
	err := fmt.Errorf("%s: session changed while in flight: %w", op, domain.ErrUnauthorized)
	m.finish(op, start, err, nil)
	m.commitMu.Unlock()
	m.publish()
	m.log.Warn().Str("operation", op).Msg("discarding result for replaced session")
	return err
}

// authenticatedFailure routes an error from a bearer-authenticated call:
// Unauthorized triggers the session-expiry policy, anything else is surfaced.
func (m *SessionManager) authenticatedFailure(ctx context.Context, op string, start time.Time, err error) error {
	if errors.Is(err, domain.ErrUnauthorized) {
		return m.expire(ctx, op, start, err, "unauthorized")
	}
	m.settle(op, start, err, nil)
	m.log.Warn().Err(err).Str("operation", op).Msg("operation failed")
	return err
}

// expire clears credentials and resets the session. The returned error
// matches both ErrSessionExpired and the cause.
func (m *SessionManager) expire(ctx context.Context, op string, start time.Time, cause error, reason string) error {
	err := fmt.Errorf("%w: %w", domain.ErrSessionExpired, cause)

	m.commitMu.Lock()
	if clearErr := m.clearCredentials(ctx); clearErr != nil {
		err = errors.Join(err, clearErr)
	}
	m.finish(op, start, err, func(s *domain.Session) {
		resetCredentials(s)
		m.generation++
	})
	m.commitMu.Unlock()
	m.publish()

	metrics.SessionForcedExpiriesTotal.WithLabelValues(reason).Inc()
	m.log.Warn().Err(cause).Str("operation", op).Str("reason", reason).Msg("session expired")
	return err
}

// storageFailure forces the unauthenticated baseline after a failed write so
// memory and store cannot disagree. Called with commitMu held; releases it.
func (m *SessionManager) storageFailure(ctx context.Context, op string, start time.Time, cause error) error {
	err := cause
	if clearErr := m.clearCredentials(ctx); clearErr != nil {
		err = errors.Join(cause, clearErr)
	}
	m.finish(op, start, err, func(s *domain.Session) {
		resetCredentials(s)
		m.generation++
	})
	m.commitMu.Unlock()
	m.publish()

	metrics.SessionForcedExpiriesTotal.WithLabelValues("storage").Inc()
	m.log.Error().Err(err).Str("operation", op).Msg("credential store write failed, session reset")
	return err
}

// persistLogin writes tokens first and the user record last, so an
// interrupted write never leaves a user record without tokens.
func (m *SessionManager) persistLogin(ctx context.Context, pair ports.TokenPair, user *domain.UserRecord) error {
	if err := m.persistTokens(ctx, pair); err != nil {
		return err
	}
	if pair.RefreshToken == "" {
		if err := m.store.Delete(ctx, ports.KeyRefreshToken); err != nil {
			return &domain.StorageError{Op: "delete", Key: ports.KeyRefreshToken, Err: err}
		}
	}
	return m.persistUser(ctx, user)
}

func (m *SessionManager) persistTokens(ctx context.Context, pair ports.TokenPair) error {
	if err := m.store.Set(ctx, ports.KeyAccessToken, pair.AccessToken); err != nil {
		return &domain.StorageError{Op: "set", Key: ports.KeyAccessToken, Err: err}
	}
	if pair.RefreshToken == "" {
		return nil
	}
	if err := m.store.Set(ctx, ports.KeyRefreshToken, pair.RefreshToken); err != nil {
		return &domain.StorageError{Op: "set", Key: ports.KeyRefreshToken, Err: err}
	}
	return nil
}

func (m *SessionManager) persistUser(ctx context.Context, user *domain.UserRecord) error {
	raw, err := json.Marshal(user)
	if err != nil {
		return &domain.StorageError{Op: "encode", Key: ports.KeyUser, Err: err}
	}
	if err := m.store.Set(ctx, ports.KeyUser, string(raw)); err != nil {
		return &domain.StorageError{Op: "set", Key: ports.KeyUser, Err: err}
	}
	return nil
}

// clearCredentials deletes every key, user first, and keeps going after a
// failure so as much as possible is removed.
func (m *SessionManager) clearCredentials(ctx context.Context) error {
	var errs []error
	for _, key := range ports.CredentialKeys {
		if err := m.store.Delete(ctx, key); err != nil {
			errs = append(errs, &domain.StorageError{Op: "delete", Key: key, Err: err})
		}
	}
	return errors.Join(errs...)
}

func (m *SessionManager) ensureReady() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.ready {
		return domain.ErrNotReady
	}
	return nil
}

func (m *SessionManager) credentials() (access, refresh string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.AccessToken, m.state.RefreshToken
}

func (m *SessionManager) currentGeneration() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.generation
}

func (m *SessionManager) begin() time.Time {
	m.mu.Lock()
	m.state.Status = domain.StatusBusy
	m.mu.Unlock()
	m.publish()
	return m.now()
}

// settle finishes an operation and notifies subscribers.
func (m *SessionManager) settle(op string, start time.Time, err error, mutate func(*domain.Session)) {
	m.finish(op, start, err, mutate)
	m.publish()
}

// finish applies the settled state without notifying. Successful operations
// clear LastError.
func (m *SessionManager) finish(op string, start time.Time, err error, mutate func(*domain.Session)) {
	m.mu.Lock()
	if mutate != nil {
		mutate(&m.state)
	}
	m.state.Status = domain.StatusIdle
	m.state.LastError = domain.NewErrorInfo(err)
	m.mu.Unlock()

	result := "ok"
	if err != nil {
		result = string(domain.NewErrorInfo(err).Kind)
	}
	metrics.SessionOperationsTotal.WithLabelValues(op, result).Inc()
	metrics.SessionOperationDuration.WithLabelValues(op).Observe(m.now().Sub(start).Seconds())
}

func (m *SessionManager) publish() {
	snap := m.Snapshot()

	m.subsMu.Lock()
	subs := make([]subscriber, len(m.subs))
	copy(subs, m.subs)
	m.subsMu.Unlock()

	for _, s := range subs {
		s.fn(snap.Clone())
	}
}

func resetCredentials(s *domain.Session) {
	s.User = nil
	s.AccessToken = ""
	s.RefreshToken = ""
}
