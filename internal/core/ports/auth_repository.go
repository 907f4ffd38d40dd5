package ports

import (
	"context"
	"time"

	"github.com/healthbridge/portal-session/internal/core/domain"
)

// AccountRepository persists sandbox accounts.
type AccountRepository interface {
	Create(ctx context.Context, account *domain.Account) (*domain.Account, error)
	FindByEmail(ctx context.Context, email string) (*domain.Account, error)
	FindByID(ctx context.Context, id string) (*domain.Account, error)
	Update(ctx context.Context, account *domain.Account) error
}

// TokenRevocations tracks access tokens invalidated by logout. Entries only
// need to outlive the token they revoke.
type TokenRevocations interface {
	Revoke(ctx context.Context, tokenID string, ttl time.Duration) error
	// Claim revokes tokenID and reports whether this call was the one that
	// did it. Concurrent claims on the same id see exactly one true.
	Claim(ctx context.Context, tokenID string, ttl time.Duration) (bool, error)
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// ResetTokens stores single-use password reset tokens.
type ResetTokens interface {
	Put(ctx context.Context, token, accountID string, ttl time.Duration) error
	// Consume returns the account bound to token and deletes it. It returns
	// domain.ErrResetTokenInvalid when the token is unknown or expired.
	Consume(ctx context.Context, token string) (string, error)
}
