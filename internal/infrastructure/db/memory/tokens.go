package memory

import (
	"context"
	"sync"
	"time"

	"github.com/healthbridge/portal-session/internal/core/domain"
)

type expiring struct {
	value     string
	expiresAt time.Time
}

// TokenRevocations is an in-memory revocation list.
type TokenRevocations struct {
	mu      sync.Mutex
	now     func() time.Time
	revoked map[string]time.Time
}

func NewTokenRevocations() *TokenRevocations {
	return &TokenRevocations{now: time.Now, revoked: make(map[string]time.Time)}
}

func (r *TokenRevocations) Revoke(_ context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revoked[tokenID] = r.now().Add(ttl)
	return nil
}

func (r *TokenRevocations) Claim(_ context.Context, tokenID string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if until, ok := r.revoked[tokenID]; ok && !now.After(until) {
		return false, nil
	}
	r.revoked[tokenID] = now.Add(ttl)
	return true, nil
}

func (r *TokenRevocations) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	until, ok := r.revoked[tokenID]
	if !ok {
		return false, nil
	}
	if r.now().After(until) {
		delete(r.revoked, tokenID)
		return false, nil
	}
	return true, nil
}

// ResetTokens is an in-memory single-use token store.
type ResetTokens struct {
	mu     sync.Mutex
	now    func() time.Time
	tokens map[string]expiring
}

func NewResetTokens() *ResetTokens {
	return &ResetTokens{now: time.Now, tokens: make(map[string]expiring)}
}

func (r *ResetTokens) Put(_ context.Context, token, accountID string, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[token] = expiring{value: accountID, expiresAt: r.now().Add(ttl)}
	return nil
}

func (r *ResetTokens) Consume(_ context.Context, token string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.tokens[token]
	if !ok {
		return "", domain.ErrResetTokenInvalid
	}
	delete(r.tokens, token)
	if r.now().After(e.expiresAt) {
		return "", domain.ErrResetTokenInvalid
	}
	return e.value, nil
}

// DedupChecker remembers push message ids for the life of the process.
type DedupChecker struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewDedupChecker() *DedupChecker {
	return &DedupChecker{seen: make(map[string]struct{})}
}

func (d *DedupChecker) MarkFirst(_ context.Context, messageID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[messageID]; ok {
		return false, nil
	}
	d.seen[messageID] = struct{}{}
	return true, nil
}
