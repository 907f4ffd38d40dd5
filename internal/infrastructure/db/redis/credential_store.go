package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// CredentialStore keeps session credentials under
// credentials:<namespace>:<key>. Single-key SET and DEL are atomic in Redis.
type CredentialStore struct {
	client    *redis.Client
	namespace string
}

// NewCredentialStore scopes keys to namespace (typically a device or
// installation id) so several clients can share one Redis.
func NewCredentialStore(client *redis.Client, namespace string) *CredentialStore {
	return &CredentialStore{client: client, namespace: namespace}
}

func (s *CredentialStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, true, nil
}

func (s *CredentialStore) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *CredentialStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

func (s *CredentialStore) key(k string) string {
	return fmt.Sprintf("credentials:%s:%s", s.namespace, k)
}
