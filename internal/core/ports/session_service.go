package ports

import (
	"context"
	"time"

	"github.com/healthbridge/portal-session/internal/core/domain"
)

// SessionSource is the read side of the session manager, consumed by the
// router gate and other passive observers.
type SessionSource interface {
	Snapshot() domain.Session
	// Subscribe registers fn to be called synchronously after every state
	// transition. The returned func removes the subscription.
	Subscribe(fn func(domain.Session)) (unsubscribe func())
}

// SessionService is the mutation API of the session manager. Mutating calls
// must not overlap: callers disable the triggering action while the session
// is busy.
type SessionService interface {
	SessionSource

	Bootstrap(ctx context.Context) error
	Login(ctx context.Context, email, password string) (*LoginResult, error)
	Register(ctx context.Context, reg Registration) (*Confirmation, error)
	Logout(ctx context.Context) error
	UpdateProfile(ctx context.Context, partial ProfileUpdate) (*domain.UserRecord, error)
	RefreshProfile(ctx context.Context) (*domain.UserRecord, error)
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, resetToken, newPassword string) error

	RefreshTokens(ctx context.Context) error
	EnsureFreshToken(ctx context.Context, skew time.Duration) error
	ExpireSession(ctx context.Context, cause error) error
}
