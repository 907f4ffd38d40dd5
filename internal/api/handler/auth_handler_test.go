package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/healthbridge/portal-session/internal/core/domain"
	"github.com/healthbridge/portal-session/internal/core/ports"
	"github.com/healthbridge/portal-session/internal/pkg/validation"
)

type stubAuthService struct {
	ports.AuthService

	registerFn func(ctx context.Context, reg ports.Registration) (*ports.Confirmation, error)
	loginFn    func(ctx context.Context, email, password string) (*ports.LoginResult, error)
	updateFn   func(ctx context.Context, accountID string, partial ports.ProfileUpdate) (*domain.UserRecord, error)
	logoutFn   func(ctx context.Context, token string) error
	refreshFn  func(ctx context.Context, refreshToken string) (*ports.TokenPair, error)
}

func (s *stubAuthService) Register(ctx context.Context, reg ports.Registration) (*ports.Confirmation, error) {
	return s.registerFn(ctx, reg)
}

func (s *stubAuthService) Login(ctx context.Context, email, password string) (*ports.LoginResult, error) {
	return s.loginFn(ctx, email, password)
}

func (s *stubAuthService) UpdateProfile(ctx context.Context, accountID string, partial ports.ProfileUpdate) (*domain.UserRecord, error) {
	return s.updateFn(ctx, accountID, partial)
}

func (s *stubAuthService) Logout(ctx context.Context, token string) error {
	return s.logoutFn(ctx, token)
}

func (s *stubAuthService) Refresh(ctx context.Context, refreshToken string) (*ports.TokenPair, error) {
	return s.refreshFn(ctx, refreshToken)
}

func newContext(method, path, body string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	e.Validator = validation.New()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func authenticate(c echo.Context) {
	c.Set(ClaimsKey, &ports.AccessClaims{AccountID: "u1", Role: domain.RolePatient, TokenID: "j1"})
	c.Set(AccessTokenKey, "t1")
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	return resp
}

func TestAuthHandler_Register_Success(t *testing.T) {
	stub := &stubAuthService{
		registerFn: func(_ context.Context, reg ports.Registration) (*ports.Confirmation, error) {
			if reg.Email != "a@b.com" || reg.Name.First != "Ada" || reg.Phone != "555" {
				t.Fatalf("unexpected registration: %+v", reg)
			}
			return &ports.Confirmation{ID: "u1", Email: reg.Email, Role: domain.RolePatient}, nil
		},
	}
	c, rec := newContext(http.MethodPost, "/auth/register",
		`{"email":"a@b.com","password":"secret1","name":{"first":"Ada"},"phone":"555"}`)

	if err := NewAuthHandler(stub).Register(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	resp := decode(t, rec)
	if resp["id"] != "u1" || resp["role"] != "patient" {
		t.Fatalf("unexpected payload: %+v", resp)
	}
}

func TestAuthHandler_Register_PropagatesServiceError(t *testing.T) {
	stub := &stubAuthService{
		registerFn: func(context.Context, ports.Registration) (*ports.Confirmation, error) {
			return nil, domain.ErrUserExists
		},
	}
	c, _ := newContext(http.MethodPost, "/auth/register", `{"email":"a@b.com"}`)

	if err := NewAuthHandler(stub).Register(c); !errors.Is(err, domain.ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestAuthHandler_InvalidPayload(t *testing.T) {
	stub := &stubAuthService{
		loginFn: func(context.Context, string, string) (*ports.LoginResult, error) {
			t.Fatalf("should not be called")
			return nil, nil
		},
	}
	c, _ := newContext(http.MethodPost, "/auth/login", "not-json")

	err := NewAuthHandler(stub).Login(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestAuthHandler_Login_FlatBody(t *testing.T) {
	stub := &stubAuthService{
		loginFn: func(_ context.Context, email, password string) (*ports.LoginResult, error) {
			if email != "a@b.com" || password != "secret1" {
				t.Fatalf("unexpected args: %s %s", email, password)
			}
			return &ports.LoginResult{
				TokenPair: ports.TokenPair{AccessToken: "t1", RefreshToken: "r1"},
				User:      &domain.UserRecord{ID: "u1", Email: email, Role: domain.RolePatient},
			}, nil
		},
	}
	c, rec := newContext(http.MethodPost, "/auth/login", `{"email":"a@b.com","password":"secret1"}`)

	if err := NewAuthHandler(stub).Login(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	resp := decode(t, rec)
	if resp["token"] != "t1" || resp["refreshToken"] != "r1" {
		t.Fatalf("expected tokens at top level, got %+v", resp)
	}
	user, ok := resp["user"].(map[string]any)
	if !ok || user["id"] != "u1" {
		t.Fatalf("unexpected user payload: %+v", resp["user"])
	}
}

func TestAuthHandler_UpdateMe(t *testing.T) {
	stub := &stubAuthService{
		updateFn: func(_ context.Context, accountID string, partial ports.ProfileUpdate) (*domain.UserRecord, error) {
			if accountID != "u1" || partial["phone"] != "555" {
				t.Fatalf("unexpected args: %s %v", accountID, partial)
			}
			return &domain.UserRecord{ID: "u1", ProfileFields: map[string]any{"phone": "555"}}, nil
		},
	}
	c, rec := newContext(http.MethodPut, "/auth/me", `{"phone":"555"}`)
	authenticate(c)

	if err := NewAuthHandler(stub).UpdateMe(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestAuthHandler_RequiresClaims(t *testing.T) {
	h := NewAuthHandler(&stubAuthService{})
	for name, fn := range map[string]echo.HandlerFunc{"me": h.Me, "update": h.UpdateMe, "logout": h.Logout} {
		c, _ := newContext(http.MethodGet, "/auth/me", `{}`)
		err := fn(c)
		var he *echo.HTTPError
		if !errors.As(err, &he) || he.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %v", name, err)
		}
	}
}

func TestAuthHandler_Logout_UsesBearerToken(t *testing.T) {
	var got string
	stub := &stubAuthService{
		logoutFn: func(_ context.Context, token string) error {
			got = token
			return nil
		},
	}
	c, rec := newContext(http.MethodPost, "/auth/logout", `{}`)
	authenticate(c)

	if err := NewAuthHandler(stub).Logout(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if got != "t1" || rec.Code != http.StatusOK {
		t.Fatalf("expected logout of t1 with 200, got %q %d", got, rec.Code)
	}
}

func TestAuthHandler_Refresh_Validates(t *testing.T) {
	stub := &stubAuthService{
		refreshFn: func(context.Context, string) (*ports.TokenPair, error) {
			t.Fatalf("should not be called")
			return nil, nil
		},
	}
	c, _ := newContext(http.MethodPost, "/auth/refresh", `{}`)

	err := NewAuthHandler(stub).Refresh(c)
	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if _, ok := ve.Fields["refreshToken"]; !ok {
		t.Fatalf("expected refreshToken field, got %v", ve.Fields)
	}
}
