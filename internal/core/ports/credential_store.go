package ports

import "context"

// Credential store keys. No other keys belong to the session core.
const (
	KeyAccessToken  = "accessToken"
	KeyRefreshToken = "refreshToken"
	KeyUser         = "user"
)

// CredentialKeys lists every key the session core persists, in teardown
// order: user first so an interrupted delete fails toward "missing
// credentials".
var CredentialKeys = []string{KeyUser, KeyAccessToken, KeyRefreshToken}

// CredentialStore is durable key-value persistence for session artifacts.
// Each individual Set or Delete must be atomic. Deleting an absent key is not
// an error.
type CredentialStore interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}
