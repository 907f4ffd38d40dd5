package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const dedupTTL = 24 * time.Hour

// DedupChecker remembers which push messages were already handled.
// Key format: dedup:push:<message_id>
type DedupChecker struct {
	client *redis.Client
}

// NewDedupChecker creates a DedupChecker wrapping the given Redis client.
func NewDedupChecker(client *redis.Client) *DedupChecker {
	return &DedupChecker{client: client}
}

// MarkFirst records messageID and reports whether this is the first time it
// was seen. SET NX makes check-and-mark a single atomic step.
func (d *DedupChecker) MarkFirst(ctx context.Context, messageID string) (bool, error) {
	ok, err := d.client.SetNX(ctx, d.key(messageID), "1", dedupTTL).Result()
	if err != nil {
		return false, fmt.Errorf("dedup mark: %w", err)
	}
	return ok, nil
}

func (d *DedupChecker) key(messageID string) string {
	return "dedup:push:" + messageID
}
