package ports

import (
	"context"

	"github.com/healthbridge/portal-session/internal/core/domain"
)

// Registration is the sign-up payload. Optional fields are omitted from the
// request when empty.
type Registration struct {
	Email       string      `json:"email" validate:"required,email"`
	Password    string      `json:"password" validate:"required,min=6"`
	Name        domain.Name `json:"name"`
	Role        domain.Role `json:"role,omitempty" validate:"omitempty,oneof=patient doctor"`
	Phone       string      `json:"phone,omitempty" validate:"omitempty,max=32"`
	Gender      string      `json:"gender,omitempty" validate:"omitempty,oneof=male female other"`
	DateOfBirth string      `json:"dateOfBirth,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

// Confirmation is returned by a successful registration. It does not
// authenticate the caller.
type Confirmation struct {
	ID    string      `json:"id"`
	Email string      `json:"email"`
	Role  domain.Role `json:"role"`
}

// TokenPair holds the bearer credentials issued by the auth service.
type TokenPair struct {
	AccessToken  string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

// LoginResult is the payload of a successful login.
type LoginResult struct {
	TokenPair
	User *domain.UserRecord `json:"user"`
}

// ProfileUpdate is a partial set of profile fields. The server merges it and
// returns the full record.
type ProfileUpdate map[string]any

// SessionAPI is the remote auth service. Implementations are stateless: the
// bearer token travels with each authenticated call. Failures are reported as
// the domain taxonomy (NetworkError, ErrUnauthorized, ValidationError,
// ServerError).
type SessionAPI interface {
	Register(ctx context.Context, reg Registration) (*Confirmation, error)
	Login(ctx context.Context, email, password string) (*LoginResult, error)
	Logout(ctx context.Context, accessToken string) error
	GetProfile(ctx context.Context, accessToken string) (*domain.UserRecord, error)
	UpdateProfile(ctx context.Context, accessToken string, partial ProfileUpdate) (*domain.UserRecord, error)
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, resetToken, newPassword string) error
	Refresh(ctx context.Context, refreshToken string) (*TokenPair, error)
}
