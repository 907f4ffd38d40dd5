package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/healthbridge/portal-session/internal/core/domain"
	"github.com/healthbridge/portal-session/internal/core/ports"
)

// ---------------------------------------------------------------------------
// Stubs
// ---------------------------------------------------------------------------

type stubSessionAPI struct {
	mu    sync.Mutex
	calls map[string]int

	registerFn func(ctx context.Context, reg ports.Registration) (*ports.Confirmation, error)
	loginFn    func(ctx context.Context, email, password string) (*ports.LoginResult, error)
	logoutFn   func(ctx context.Context, token string) error
	profileFn  func(ctx context.Context, token string) (*domain.UserRecord, error)
	updateFn   func(ctx context.Context, token string, partial ports.ProfileUpdate) (*domain.UserRecord, error)
	forgotFn   func(ctx context.Context, email string) error
	resetFn    func(ctx context.Context, token, password string) error
	refreshFn  func(ctx context.Context, refreshToken string) (*ports.TokenPair, error)
}

func newStubAPI() *stubSessionAPI {
	return &stubSessionAPI{calls: make(map[string]int)}
}

func (a *stubSessionAPI) count(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls[name]++
}

func (a *stubSessionAPI) total() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, c := range a.calls {
		n += c
	}
	return n
}

func (a *stubSessionAPI) Register(ctx context.Context, reg ports.Registration) (*ports.Confirmation, error) {
	a.count("register")
	return a.registerFn(ctx, reg)
}

func (a *stubSessionAPI) Login(ctx context.Context, email, password string) (*ports.LoginResult, error) {
	a.count("login")
	return a.loginFn(ctx, email, password)
}

func (a *stubSessionAPI) Logout(ctx context.Context, token string) error {
	a.count("logout")
	if a.logoutFn == nil {
		return nil
	}
	return a.logoutFn(ctx, token)
}

func (a *stubSessionAPI) GetProfile(ctx context.Context, token string) (*domain.UserRecord, error) {
	a.count("get_profile")
	return a.profileFn(ctx, token)
}

func (a *stubSessionAPI) UpdateProfile(ctx context.Context, token string, partial ports.ProfileUpdate) (*domain.UserRecord, error) {
	a.count("update_profile")
	return a.updateFn(ctx, token, partial)
}

func (a *stubSessionAPI) ForgotPassword(ctx context.Context, email string) error {
	a.count("forgot")
	return a.forgotFn(ctx, email)
}

func (a *stubSessionAPI) ResetPassword(ctx context.Context, token, password string) error {
	a.count("reset")
	return a.resetFn(ctx, token, password)
}

func (a *stubSessionAPI) Refresh(ctx context.Context, refreshToken string) (*ports.TokenPair, error) {
	a.count("refresh")
	return a.refreshFn(ctx, refreshToken)
}

type stubStore struct {
	values    map[string]string
	setErr    map[string]error
	deleteErr map[string]error
	getErr    error
}

func newStubStore() *stubStore {
	return &stubStore{
		values:    make(map[string]string),
		setErr:    make(map[string]error),
		deleteErr: make(map[string]error),
	}
}

func (s *stubStore) Get(_ context.Context, key string) (string, bool, error) {
	if s.getErr != nil {
		return "", false, s.getErr
	}
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *stubStore) Set(_ context.Context, key, value string) error {
	if err := s.setErr[key]; err != nil {
		return err
	}
	s.values[key] = value
	return nil
}

func (s *stubStore) Delete(_ context.Context, key string) error {
	if err := s.deleteErr[key]; err != nil {
		return err
	}
	delete(s.values, key)
	return nil
}

func (s *stubStore) has(key string) bool {
	_, ok := s.values[key]
	return ok
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func patientRecord() *domain.UserRecord {
	return &domain.UserRecord{
		ID:    "u1",
		Email: "a@b.com",
		Role:  domain.RolePatient,
		Name:  domain.Name{First: "Ada", Last: "Lovelace"},
		ProfileFields: map[string]any{
			"phone": "111",
		},
	}
}

func successfulLogin(api *stubSessionAPI) {
	api.loginFn = func(_ context.Context, email, password string) (*ports.LoginResult, error) {
		return &ports.LoginResult{
			TokenPair: ports.TokenPair{AccessToken: "t1", RefreshToken: "r1"},
			User:      patientRecord(),
		}, nil
	}
}

func newBootstrapped(t *testing.T, api *stubSessionAPI, store *stubStore) *SessionManager {
	t.Helper()
	m := NewSessionManager(api, store, zerolog.Nop())
	if err := m.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}
	return m
}

func loggedIn(t *testing.T, api *stubSessionAPI, store *stubStore) *SessionManager {
	t.Helper()
	successfulLogin(api)
	m := newBootstrapped(t, api, store)
	if _, err := m.Login(context.Background(), "a@b.com", "secret1"); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	return m
}

// assertConsistent checks that an authenticated session and a complete set
// of stored credentials always go together.
func assertConsistent(t *testing.T, m *SessionManager, store *stubStore) {
	t.Helper()
	s := m.Snapshot()
	if s.Status == domain.StatusBusy {
		t.Fatalf("session still busy after a settled operation")
	}
	stored := store.has(ports.KeyUser) && store.has(ports.KeyAccessToken) && store.has(ports.KeyRefreshToken)
	if s.IsAuthenticated() != stored {
		t.Fatalf("inconsistent: authenticated=%v but stored credentials complete=%v (%v)", s.IsAuthenticated(), stored, store.values)
	}
	if !s.IsAuthenticated() && (store.has(ports.KeyUser) || store.has(ports.KeyAccessToken)) {
		t.Fatalf("unauthenticated session left credentials behind: %v", store.values)
	}
}

func marshal(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

// ---------------------------------------------------------------------------
// Bootstrap
// ---------------------------------------------------------------------------

func TestSessionManager_InitialStateIsInitializing(t *testing.T) {
	m := NewSessionManager(newStubAPI(), newStubStore(), zerolog.Nop())
	if got := m.Snapshot().Status; got != domain.StatusInitializing {
		t.Fatalf("expected initializing, got %s", got)
	}
	if _, err := m.Login(context.Background(), "a@b.com", "secret1"); !errors.Is(err, domain.ErrNotReady) {
		t.Fatalf("expected ErrNotReady before bootstrap, got %v", err)
	}
}

func TestSessionManager_Bootstrap_EmptyStore(t *testing.T) {
	store := newStubStore()
	m := newBootstrapped(t, newStubAPI(), store)

	s := m.Snapshot()
	if s.Status != domain.StatusIdle {
		t.Fatalf("expected idle, got %s", s.Status)
	}
	if s.IsAuthenticated() {
		t.Fatalf("expected unauthenticated")
	}
	assertConsistent(t, m, store)
}

func TestSessionManager_Bootstrap_RestoresSession(t *testing.T) {
	store := newStubStore()
	store.values[ports.KeyAccessToken] = "t1"
	store.values[ports.KeyRefreshToken] = "r1"
	store.values[ports.KeyUser] = string(marshal(t, patientRecord()))

	m := newBootstrapped(t, newStubAPI(), store)
	s := m.Snapshot()
	if !s.IsAuthenticated() || s.Role() != domain.RolePatient {
		t.Fatalf("expected authenticated patient, got %+v", s)
	}
	if s.AccessToken != "t1" || s.RefreshToken != "r1" {
		t.Fatalf("unexpected tokens: %q %q", s.AccessToken, s.RefreshToken)
	}
}

func TestSessionManager_Bootstrap_ClearsPartialCredentials(t *testing.T) {
	cases := map[string]map[string]string{
		"token without user": {ports.KeyAccessToken: "t1", ports.KeyRefreshToken: "r1"},
		"user without token": {ports.KeyUser: `{"id":"u1","role":"patient"}`},
		"unreadable user":    {ports.KeyAccessToken: "t1", ports.KeyUser: "{not json"},
	}
	for name, values := range cases {
		t.Run(name, func(t *testing.T) {
			store := newStubStore()
			for k, v := range values {
				store.values[k] = v
			}
			m := newBootstrapped(t, newStubAPI(), store)
			if m.IsAuthenticated() {
				t.Fatalf("expected unauthenticated")
			}
			if len(store.values) != 0 {
				t.Fatalf("expected stray credentials cleared, got %v", store.values)
			}
		})
	}
}

func TestSessionManager_Bootstrap_StoreUnreadable(t *testing.T) {
	store := newStubStore()
	store.getErr = errors.New("keychain locked")

	m := NewSessionManager(newStubAPI(), store, zerolog.Nop())
	err := m.Bootstrap(context.Background())
	if !errors.Is(err, domain.ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
	s := m.Snapshot()
	if s.IsAuthenticated() || s.Status != domain.StatusIdle {
		t.Fatalf("expected idle unauthenticated, got %+v", s)
	}
	if s.LastError == nil || s.LastError.Kind != domain.KindStorage {
		t.Fatalf("expected storage lastError, got %+v", s.LastError)
	}
}

func TestSessionManager_Bootstrap_Idempotent(t *testing.T) {
	api := newStubAPI()
	store := newStubStore()
	m := loggedIn(t, api, store)

	if err := m.Bootstrap(context.Background()); err != nil {
		t.Fatalf("second bootstrap failed: %v", err)
	}
	if !m.IsAuthenticated() || m.Snapshot().AccessToken != "t1" {
		t.Fatalf("re-bootstrap changed the session: %+v", m.Snapshot())
	}
}

// ---------------------------------------------------------------------------
// Login
// ---------------------------------------------------------------------------

func TestSessionManager_Login_Success(t *testing.T) {
	api := newStubAPI()
	store := newStubStore()
	m := loggedIn(t, api, store)

	s := m.Snapshot()
	if !s.IsAuthenticated() {
		t.Fatalf("expected authenticated")
	}
	if s.Role() != domain.RolePatient || m.Role() != domain.RolePatient {
		t.Fatalf("expected patient role, got %q", s.Role())
	}
	if s.User.ID != "u1" || s.AccessToken != "t1" || s.RefreshToken != "r1" {
		t.Fatalf("unexpected session: %+v", s)
	}
	if s.Status != domain.StatusIdle || s.LastError != nil {
		t.Fatalf("expected idle without error, got %s %+v", s.Status, s.LastError)
	}
	for _, key := range []string{ports.KeyAccessToken, ports.KeyRefreshToken, ports.KeyUser} {
		if !store.has(key) {
			t.Fatalf("expected %s persisted", key)
		}
	}
	assertConsistent(t, m, store)
}

func TestSessionManager_Login_PersistenceRoundTrip(t *testing.T) {
	api := newStubAPI()
	store := newStubStore()
	first := loggedIn(t, api, store)
	before := first.Snapshot()

	// Simulate a process restart sharing the same durable store.
	second := newBootstrapped(t, newStubAPI(), store)
	after := second.Snapshot()

	if !bytes.Equal(marshal(t, before.User), marshal(t, after.User)) {
		t.Fatalf("user differs after restart:\n%s\n%s", marshal(t, before.User), marshal(t, after.User))
	}
	if before.AccessToken != after.AccessToken || before.RefreshToken != after.RefreshToken {
		t.Fatalf("tokens differ after restart")
	}
}

func TestSessionManager_Login_WritesUserLast(t *testing.T) {
	api := newStubAPI()
	successfulLogin(api)
	store := newStubStore()
	store.setErr[ports.KeyRefreshToken] = errors.New("disk full")
	m := newBootstrapped(t, api, store)

	_, err := m.Login(context.Background(), "a@b.com", "secret1")
	var se *domain.StorageError
	if !errors.As(err, &se) {
		t.Fatalf("expected StorageError, got %v", err)
	}
	if store.has(ports.KeyUser) {
		t.Fatalf("user must not be written before tokens succeed")
	}
	if m.IsAuthenticated() {
		t.Fatalf("storage failure must leave the session unauthenticated")
	}
	if m.Snapshot().LastError.Kind != domain.KindStorage {
		t.Fatalf("expected storage lastError")
	}
	assertConsistent(t, m, store)
}

func TestSessionManager_Login_FailureLeavesStoreUntouched(t *testing.T) {
	api := newStubAPI()
	store := newStubStore()
	api.loginFn = func(context.Context, string, string) (*ports.LoginResult, error) {
		return nil, domain.ErrUnauthorized
	}
	m := newBootstrapped(t, api, store)

	_, err := m.Login(context.Background(), "a@b.com", "wrong-password")
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if errors.Is(err, domain.ErrSessionExpired) {
		t.Fatalf("a rejected login is not a session expiry")
	}
	if len(store.values) != 0 {
		t.Fatalf("store must be untouched, got %v", store.values)
	}
	s := m.Snapshot()
	if s.Status != domain.StatusIdle || s.LastError == nil || s.LastError.Kind != domain.KindUnauthorized {
		t.Fatalf("unexpected session after failed login: %+v", s)
	}
}

func TestSessionManager_Login_ValidatesInput(t *testing.T) {
	api := newStubAPI()
	successfulLogin(api)
	m := newBootstrapped(t, api, newStubStore())

	cases := []struct{ email, password, field string }{
		{"", "secret1", "email"},
		{"not-an-address", "secret1", "email"},
		{"a@b.com", "", "password"},
	}
	for _, tc := range cases {
		_, err := m.Login(context.Background(), tc.email, tc.password)
		var ve *domain.ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("%q/%q: expected ValidationError, got %v", tc.email, tc.password, err)
		}
		if _, ok := ve.Fields[tc.field]; !ok {
			t.Fatalf("%q/%q: expected field %s, got %v", tc.email, tc.password, tc.field, ve.Fields)
		}
	}
	if api.total() != 0 {
		t.Fatalf("expected no network calls, got %d", api.total())
	}
}

func TestSessionManager_Login_ClearsPreviousError(t *testing.T) {
	api := newStubAPI()
	api.loginFn = func(context.Context, string, string) (*ports.LoginResult, error) {
		return nil, &domain.NetworkError{Err: errors.New("offline")}
	}
	m := newBootstrapped(t, api, newStubStore())

	if _, err := m.Login(context.Background(), "a@b.com", "secret1"); !errors.Is(err, domain.ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
	if m.Snapshot().LastError.Kind != domain.KindNetwork {
		t.Fatalf("expected network lastError")
	}

	successfulLogin(api)
	if _, err := m.Login(context.Background(), "a@b.com", "secret1"); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if m.Snapshot().LastError != nil {
		t.Fatalf("expected lastError cleared")
	}
}

// ---------------------------------------------------------------------------
// Register
// ---------------------------------------------------------------------------

func TestSessionManager_Register_DoesNotAuthenticate(t *testing.T) {
	api := newStubAPI()
	store := newStubStore()
	api.registerFn = func(_ context.Context, reg ports.Registration) (*ports.Confirmation, error) {
		return &ports.Confirmation{ID: "u2", Email: reg.Email, Role: domain.RoleDoctor}, nil
	}
	m := newBootstrapped(t, api, store)

	conf, err := m.Register(context.Background(), ports.Registration{
		Email:    "doc@b.com",
		Password: "secret1",
		Name:     domain.Name{First: "Gregory", Last: "House"},
		Role:     domain.RoleDoctor,
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if conf.ID != "u2" || conf.Role != domain.RoleDoctor {
		t.Fatalf("unexpected confirmation: %+v", conf)
	}
	if m.IsAuthenticated() {
		t.Fatalf("registration must not sign the user in")
	}
	if len(store.values) != 0 {
		t.Fatalf("registration must not persist credentials, got %v", store.values)
	}
}

func TestSessionManager_Register_SurfacesServerValidation(t *testing.T) {
	api := newStubAPI()
	api.registerFn = func(context.Context, ports.Registration) (*ports.Confirmation, error) {
		return nil, &domain.ValidationError{Fields: map[string]string{"email": "already registered"}}
	}
	m := newBootstrapped(t, api, newStubStore())

	_, err := m.Register(context.Background(), ports.Registration{
		Email: "a@b.com", Password: "secret1", Name: domain.Name{First: "Ada"},
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	le := m.Snapshot().LastError
	if le == nil || le.Fields["email"] != "already registered" {
		t.Fatalf("expected server field error to be kept verbatim, got %+v", le)
	}
}

// ---------------------------------------------------------------------------
// Logout
// ---------------------------------------------------------------------------

func TestSessionManager_Logout_ClearsEvenWhenRemoteFails(t *testing.T) {
	remoteErrs := []error{
		nil,
		&domain.NetworkError{Err: errors.New("timeout")},
		&domain.ServerError{Code: 503},
		domain.ErrUnauthorized,
	}
	for _, remoteErr := range remoteErrs {
		api := newStubAPI()
		store := newStubStore()
		m := loggedIn(t, api, store)
		api.logoutFn = func(_ context.Context, token string) error {
			if token != "t1" {
				t.Fatalf("expected bearer t1, got %q", token)
			}
			return remoteErr
		}

		if err := m.Logout(context.Background()); err != nil {
			t.Fatalf("remote error %v: logout returned %v", remoteErr, err)
		}
		s := m.Snapshot()
		if s.IsAuthenticated() || s.AccessToken != "" || s.RefreshToken != "" {
			t.Fatalf("remote error %v: expected unauthenticated baseline, got %+v", remoteErr, s)
		}
		if len(store.values) != 0 {
			t.Fatalf("remote error %v: expected empty store, got %v", remoteErr, store.values)
		}
		assertConsistent(t, m, store)
	}
}

func TestSessionManager_Logout_WhenSignedOutSkipsRemote(t *testing.T) {
	api := newStubAPI()
	m := newBootstrapped(t, api, newStubStore())

	if err := m.Logout(context.Background()); err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	if api.total() != 0 {
		t.Fatalf("expected no remote call without a session")
	}
}

func TestSessionManager_Logout_StorageFailureStillSignsOut(t *testing.T) {
	api := newStubAPI()
	store := newStubStore()
	m := loggedIn(t, api, store)
	store.deleteErr[ports.KeyRefreshToken] = errors.New("io error")

	err := m.Logout(context.Background())
	if !errors.Is(err, domain.ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
	if m.IsAuthenticated() {
		t.Fatalf("storage failure must not re-authenticate")
	}
	if store.has(ports.KeyUser) || store.has(ports.KeyAccessToken) {
		t.Fatalf("keys that could be deleted must be gone, got %v", store.values)
	}
}

// ---------------------------------------------------------------------------
// Profile
// ---------------------------------------------------------------------------

func TestSessionManager_UpdateProfile_Unauthenticated(t *testing.T) {
	api := newStubAPI()
	m := newBootstrapped(t, api, newStubStore())

	_, err := m.UpdateProfile(context.Background(), ports.ProfileUpdate{"phone": "555"})
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if api.total() != 0 {
		t.Fatalf("expected zero network calls, got %d", api.total())
	}
}

func TestSessionManager_UpdateProfile_AdoptsServerRecord(t *testing.T) {
	api := newStubAPI()
	store := newStubStore()
	m := loggedIn(t, api, store)

	api.updateFn = func(_ context.Context, token string, partial ports.ProfileUpdate) (*domain.UserRecord, error) {
		if token != "t1" || partial["phone"] != "555" {
			t.Fatalf("unexpected call: %q %v", token, partial)
		}
		rec := patientRecord()
		rec.ProfileFields["phone"] = "555"
		rec.ProfileFields["verified"] = true // server-side addition
		return rec, nil
	}

	rec, err := m.UpdateProfile(context.Background(), ports.ProfileUpdate{"phone": "555"})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if rec.ProfileFields["verified"] != true {
		t.Fatalf("expected the server record to be returned, got %+v", rec)
	}
	s := m.Snapshot()
	if s.User.ProfileFields["phone"] != "555" || s.User.ProfileFields["verified"] != true {
		t.Fatalf("session not replaced with server record: %+v", s.User)
	}

	var stored domain.UserRecord
	if err := json.Unmarshal([]byte(store.values[ports.KeyUser]), &stored); err != nil {
		t.Fatalf("stored user unreadable: %v", err)
	}
	if stored.ProfileFields["phone"] != "555" {
		t.Fatalf("server record not persisted: %+v", stored)
	}
}

func TestSessionManager_UpdateProfile_FailureLeavesUserUnchanged(t *testing.T) {
	failures := []error{
		&domain.NetworkError{Err: errors.New("offline")},
		&domain.ValidationError{Fields: map[string]string{"phone": "invalid"}},
		&domain.ServerError{Code: 500},
	}
	for _, failure := range failures {
		api := newStubAPI()
		store := newStubStore()
		m := loggedIn(t, api, store)
		before := marshal(t, m.Snapshot().User)
		storedBefore := store.values[ports.KeyUser]

		api.updateFn = func(context.Context, string, ports.ProfileUpdate) (*domain.UserRecord, error) {
			return nil, failure
		}
		if _, err := m.UpdateProfile(context.Background(), ports.ProfileUpdate{"phone": "555"}); !errors.Is(err, failure) {
			t.Fatalf("expected %v, got %v", failure, err)
		}
		if after := marshal(t, m.Snapshot().User); !bytes.Equal(before, after) {
			t.Fatalf("user changed after failed update:\n%s\n%s", before, after)
		}
		if store.values[ports.KeyUser] != storedBefore {
			t.Fatalf("stored user changed after failed update")
		}
		if !m.IsAuthenticated() {
			t.Fatalf("a non-auth failure must keep the session")
		}
	}
}

func TestSessionManager_UpdateProfile_RejectsEmptyUpdate(t *testing.T) {
	api := newStubAPI()
	m := loggedIn(t, api, newStubStore())
	calls := api.total()

	if _, err := m.UpdateProfile(context.Background(), nil); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if api.total() != calls {
		t.Fatalf("expected no network call")
	}
}

func TestSessionManager_UpdateProfile_UnauthorizedExpiresSession(t *testing.T) {
	api := newStubAPI()
	store := newStubStore()
	m := loggedIn(t, api, store)
	api.updateFn = func(context.Context, string, ports.ProfileUpdate) (*domain.UserRecord, error) {
		return nil, domain.ErrUnauthorized
	}

	_, err := m.UpdateProfile(context.Background(), ports.ProfileUpdate{"phone": "555"})
	if !errors.Is(err, domain.ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	if m.IsAuthenticated() || len(store.values) != 0 {
		t.Fatalf("expected forced logout, session=%+v store=%v", m.Snapshot(), store.values)
	}
}

func TestSessionManager_RefreshProfile_ReplacesUser(t *testing.T) {
	api := newStubAPI()
	store := newStubStore()
	m := loggedIn(t, api, store)
	api.profileFn = func(_ context.Context, token string) (*domain.UserRecord, error) {
		rec := patientRecord()
		rec.Name.Last = "King"
		return rec, nil
	}

	rec, err := m.RefreshProfile(context.Background())
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if rec.Name.Last != "King" || m.Snapshot().User.Name.Last != "King" {
		t.Fatalf("expected refreshed record, got %+v", rec)
	}
	assertConsistent(t, m, store)
}

func TestSessionManager_RefreshProfile_UnauthorizedForcesExpiry(t *testing.T) {
	api := newStubAPI()
	store := newStubStore()
	m := loggedIn(t, api, store)
	api.profileFn = func(context.Context, string) (*domain.UserRecord, error) {
		return nil, domain.ErrUnauthorized
	}

	_, err := m.RefreshProfile(context.Background())
	if !errors.Is(err, domain.ErrSessionExpired) || !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected an expiry error matching both sentinels, got %v", err)
	}
	s := m.Snapshot()
	if s.IsAuthenticated() {
		t.Fatalf("expected unauthenticated after expiry")
	}
	if s.LastError == nil || s.LastError.Kind != domain.KindSessionExpired {
		t.Fatalf("expected session_expired lastError, got %+v", s.LastError)
	}
	for _, key := range []string{ports.KeyAccessToken, ports.KeyRefreshToken, ports.KeyUser} {
		if store.has(key) {
			t.Fatalf("expected %s cleared", key)
		}
	}
}

func TestSessionManager_StorageFailureOnUpdateForcesBaseline(t *testing.T) {
	api := newStubAPI()
	store := newStubStore()
	m := loggedIn(t, api, store)
	api.updateFn = func(context.Context, string, ports.ProfileUpdate) (*domain.UserRecord, error) {
		return patientRecord(), nil
	}
	store.setErr[ports.KeyUser] = errors.New("quota exceeded")

	_, err := m.UpdateProfile(context.Background(), ports.ProfileUpdate{"phone": "555"})
	if !errors.Is(err, domain.ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
	if m.IsAuthenticated() {
		t.Fatalf("expected unauthenticated baseline after storage failure")
	}
	assertConsistent(t, m, store)
}

func TestSessionManager_DiscardsResultForReplacedSession(t *testing.T) {
	api := newStubAPI()
	store := newStubStore()
	m := loggedIn(t, api, store)

	// A logout races the in-flight update and wins.
	api.updateFn = func(ctx context.Context, _ string, _ ports.ProfileUpdate) (*domain.UserRecord, error) {
		if err := m.Logout(ctx); err != nil {
			t.Fatalf("racing logout failed: %v", err)
		}
		return patientRecord(), nil
	}

	if _, err := m.UpdateProfile(context.Background(), ports.ProfileUpdate{"phone": "555"}); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for a stale result, got %v", err)
	}
	if m.IsAuthenticated() || len(store.values) != 0 {
		t.Fatalf("stale update resurrected the session: %+v %v", m.Snapshot(), store.values)
	}
}

func TestSessionManager_LogoutDuringLoginWins(t *testing.T) {
	api := newStubAPI()
	store := newStubStore()
	m := newBootstrapped(t, api, store)

	api.loginFn = func(ctx context.Context, _, _ string) (*ports.LoginResult, error) {
		if err := m.Logout(ctx); err != nil {
			t.Fatalf("racing logout failed: %v", err)
		}
		return &ports.LoginResult{
			TokenPair: ports.TokenPair{AccessToken: "t1", RefreshToken: "r1"},
			User:      patientRecord(),
		}, nil
	}

	res, err := m.Login(context.Background(), "a@b.com", "secret1")
	if err == nil || res != nil {
		t.Fatalf("expected the late login to be dropped, got %+v", res)
	}
	if m.IsAuthenticated() || len(store.values) != 0 {
		t.Fatalf("late login resurrected the session: %+v %v", m.Snapshot(), store.values)
	}
	assertConsistent(t, m, store)

	successfulLogin(api)
	if _, err := m.Login(context.Background(), "a@b.com", "secret1"); err != nil {
		t.Fatalf("next login failed: %v", err)
	}
	assertConsistent(t, m, store)
}

// ---------------------------------------------------------------------------
// Tokens
// ---------------------------------------------------------------------------

func TestSessionManager_RefreshTokens(t *testing.T) {
	api := newStubAPI()
	store := newStubStore()
	m := loggedIn(t, api, store)
	api.refreshFn = func(_ context.Context, refreshToken string) (*ports.TokenPair, error) {
		if refreshToken != "r1" {
			t.Fatalf("expected r1, got %q", refreshToken)
		}
		return &ports.TokenPair{AccessToken: "t2", RefreshToken: "r2"}, nil
	}

	if err := m.RefreshTokens(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	s := m.Snapshot()
	if s.AccessToken != "t2" || s.RefreshToken != "r2" {
		t.Fatalf("unexpected tokens %q %q", s.AccessToken, s.RefreshToken)
	}
	if store.values[ports.KeyAccessToken] != "t2" || store.values[ports.KeyRefreshToken] != "r2" {
		t.Fatalf("tokens not persisted: %v", store.values)
	}
	if s.User == nil || s.User.ID != "u1" {
		t.Fatalf("user must survive a token refresh")
	}
}

func TestSessionManager_RefreshTokens_RejectedExpiresSession(t *testing.T) {
	api := newStubAPI()
	store := newStubStore()
	m := loggedIn(t, api, store)
	api.refreshFn = func(context.Context, string) (*ports.TokenPair, error) {
		return nil, domain.ErrUnauthorized
	}

	if err := m.RefreshTokens(context.Background()); !errors.Is(err, domain.ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	assertConsistent(t, m, store)
	if m.IsAuthenticated() {
		t.Fatalf("expected signed out")
	}
}

func TestSessionManager_EnsureFreshToken(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sign := func(exp time.Time) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u1", "exp": exp.Unix()}).SignedString([]byte("k"))
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return s
	}

	cases := []struct {
		name        string
		exp         time.Time
		wantRefresh bool
	}{
		{"far from expiry", now.Add(time.Hour), false},
		{"inside skew", now.Add(20 * time.Second), true},
		{"already expired", now.Add(-time.Minute), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			api := newStubAPI()
			api.loginFn = func(context.Context, string, string) (*ports.LoginResult, error) {
				return &ports.LoginResult{
					TokenPair: ports.TokenPair{AccessToken: sign(tc.exp), RefreshToken: "r1"},
					User:      patientRecord(),
				}, nil
			}
			api.refreshFn = func(context.Context, string) (*ports.TokenPair, error) {
				return &ports.TokenPair{AccessToken: sign(now.Add(time.Hour)), RefreshToken: "r2"}, nil
			}
			m := newBootstrapped(t, api, newStubStore())
			m.now = func() time.Time { return now }
			if _, err := m.Login(context.Background(), "a@b.com", "secret1"); err != nil {
				t.Fatalf("login: %v", err)
			}

			if err := m.EnsureFreshToken(context.Background(), time.Minute); err != nil {
				t.Fatalf("ensure fresh: %v", err)
			}
			refreshed := api.calls["refresh"] == 1
			if refreshed != tc.wantRefresh {
				t.Fatalf("expected refresh=%v, got %v", tc.wantRefresh, refreshed)
			}
		})
	}
}

func TestSessionManager_ExpireSession(t *testing.T) {
	api := newStubAPI()
	store := newStubStore()
	m := loggedIn(t, api, store)

	err := m.ExpireSession(context.Background(), nil)
	if !errors.Is(err, domain.ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	if m.IsAuthenticated() || len(store.values) != 0 {
		t.Fatalf("expected cleared session")
	}
}

// ---------------------------------------------------------------------------
// Pass-through operations
// ---------------------------------------------------------------------------

func TestSessionManager_PasswordFlowsDoNotTouchSession(t *testing.T) {
	api := newStubAPI()
	store := newStubStore()
	m := loggedIn(t, api, store)
	api.forgotFn = func(context.Context, string) error { return nil }
	api.resetFn = func(context.Context, string, string) error {
		return &domain.ValidationError{Fields: map[string]string{"resetToken": "expired"}}
	}

	notified := 0
	unsubscribe := m.Subscribe(func(domain.Session) { notified++ })
	defer unsubscribe()
	before := marshal(t, m.Snapshot())

	if err := m.ForgotPassword(context.Background(), "a@b.com"); err != nil {
		t.Fatalf("forgot failed: %v", err)
	}
	err := m.ResetPassword(context.Background(), "tok", "newpass1")
	var ve *domain.ValidationError
	if !errors.As(err, &ve) || ve.Fields["resetToken"] != "expired" {
		t.Fatalf("expected server validation error as-is, got %v", err)
	}
	if notified != 0 {
		t.Fatalf("pass-through operations must not notify, got %d", notified)
	}
	if after := marshal(t, m.Snapshot()); !bytes.Equal(before, after) {
		t.Fatalf("session changed:\n%s\n%s", before, after)
	}
}

// ---------------------------------------------------------------------------
// Notifications and invariants
// ---------------------------------------------------------------------------

func TestSessionManager_SubscribersSeeBusyThenSettled(t *testing.T) {
	api := newStubAPI()
	successfulLogin(api)
	m := newBootstrapped(t, api, newStubStore())

	var seen []domain.Session
	unsubscribe := m.Subscribe(func(s domain.Session) { seen = append(seen, s) })

	if _, err := m.Login(context.Background(), "a@b.com", "secret1"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if len(seen) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(seen))
	}
	if seen[0].Status != domain.StatusBusy || seen[0].IsAuthenticated() {
		t.Fatalf("expected busy unauthenticated first, got %+v", seen[0])
	}
	if seen[1].Status != domain.StatusIdle || !seen[1].IsAuthenticated() {
		t.Fatalf("expected idle authenticated second, got %+v", seen[1])
	}

	unsubscribe()
	if err := m.Logout(context.Background()); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if len(seen) != 2 {
		t.Fatalf("unsubscribed callback still invoked")
	}
}

func TestSessionManager_SnapshotIsACopy(t *testing.T) {
	api := newStubAPI()
	m := loggedIn(t, api, newStubStore())

	s := m.Snapshot()
	s.User.ProfileFields["phone"] = "tampered"
	if m.Snapshot().User.ProfileFields["phone"] != "111" {
		t.Fatalf("snapshot aliases manager state")
	}
}

func TestSessionManager_ConsistencyAcrossOperations(t *testing.T) {
	api := newStubAPI()
	store := newStubStore()
	successfulLogin(api)
	api.profileFn = func(context.Context, string) (*domain.UserRecord, error) { return patientRecord(), nil }
	api.updateFn = func(context.Context, string, ports.ProfileUpdate) (*domain.UserRecord, error) {
		return nil, &domain.NetworkError{Err: errors.New("offline")}
	}
	api.logoutFn = func(context.Context, string) error { return &domain.NetworkError{Err: errors.New("offline")} }
	api.refreshFn = func(context.Context, string) (*ports.TokenPair, error) {
		return &ports.TokenPair{AccessToken: "t9", RefreshToken: "r9"}, nil
	}
	m := newBootstrapped(t, api, store)
	ctx := context.Background()

	steps := []func(){
		func() { _, _ = m.Login(ctx, "a@b.com", "secret1") },
		func() { _, _ = m.UpdateProfile(ctx, ports.ProfileUpdate{"phone": "1"}) },
		func() { _, _ = m.RefreshProfile(ctx) },
		func() { _ = m.RefreshTokens(ctx) },
		func() { _ = m.Bootstrap(ctx) },
		func() { _ = m.Logout(ctx) },
		func() { _, _ = m.UpdateProfile(ctx, ports.ProfileUpdate{"phone": "1"}) },
		func() { _, _ = m.Login(ctx, "a@b.com", "secret1") },
		func() {
			api.profileFn = func(context.Context, string) (*domain.UserRecord, error) { return nil, domain.ErrUnauthorized }
			_, _ = m.RefreshProfile(ctx)
		},
		func() { _ = m.RefreshTokens(ctx) },
		func() { _ = m.Logout(ctx) },
	}
	for i, step := range steps {
		step()
		t.Logf("step %d: authenticated=%v", i, m.IsAuthenticated())
		assertConsistent(t, m, store)
	}
}
