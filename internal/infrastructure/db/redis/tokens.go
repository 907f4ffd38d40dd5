package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/healthbridge/portal-session/internal/core/domain"
)

// TokenRevocations stores revoked access-token ids until they would have
// expired anyway.
type TokenRevocations struct {
	client *redis.Client
}

func NewTokenRevocations(client *redis.Client) *TokenRevocations {
	return &TokenRevocations{client: client}
}

func (r *TokenRevocations) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, "revoked:"+tokenID, "1", ttl).Err(); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// Claim uses SET NX so only one caller can revoke a given id.
func (r *TokenRevocations) Claim(ctx context.Context, tokenID string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, nil
	}
	ok, err := r.client.SetNX(ctx, "revoked:"+tokenID, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim token: %w", err)
	}
	return ok, nil
}

func (r *TokenRevocations) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := r.client.Exists(ctx, "revoked:"+tokenID).Result()
	if err != nil {
		return false, fmt.Errorf("check revocation: %w", err)
	}
	return n > 0, nil
}

// ResetTokens stores password reset tokens with a TTL. GETDEL consumes a
// token atomically so it can be used once.
type ResetTokens struct {
	client *redis.Client
}

func NewResetTokens(client *redis.Client) *ResetTokens {
	return &ResetTokens{client: client}
}

func (r *ResetTokens) Put(ctx context.Context, token, accountID string, ttl time.Duration) error {
	if err := r.client.Set(ctx, "reset:"+token, accountID, ttl).Err(); err != nil {
		return fmt.Errorf("store reset token: %w", err)
	}
	return nil
}

func (r *ResetTokens) Consume(ctx context.Context, token string) (string, error) {
	accountID, err := r.client.GetDel(ctx, "reset:"+token).Result()
	if errors.Is(err, redis.Nil) {
		return "", domain.ErrResetTokenInvalid
	}
	if err != nil {
		return "", fmt.Errorf("consume reset token: %w", err)
	}
	return accountID, nil
}
