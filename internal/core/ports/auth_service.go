package ports

import (
	"context"

	"github.com/healthbridge/portal-session/internal/core/domain"
)

// AccessClaims is what the sandbox extracts from a valid access token.
type AccessClaims struct {
	AccountID string
	Role      domain.Role
	TokenID   string
}

// AuthService is the sandbox backend's account use cases.
type AuthService interface {
	Register(ctx context.Context, reg Registration) (*Confirmation, error)
	Login(ctx context.Context, email, password string) (*LoginResult, error)
	Logout(ctx context.Context, accessToken string) error
	Authenticate(ctx context.Context, accessToken string) (*AccessClaims, error)
	Profile(ctx context.Context, accountID string) (*domain.UserRecord, error)
	UpdateProfile(ctx context.Context, accountID string, partial ProfileUpdate) (*domain.UserRecord, error)
	ForgotPassword(ctx context.Context, email string) (resetToken string, err error)
	ResetPassword(ctx context.Context, resetToken, newPassword string) error
	Refresh(ctx context.Context, refreshToken string) (*TokenPair, error)
}
