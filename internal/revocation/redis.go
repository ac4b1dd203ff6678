// Package revocation records refresh credentials that were spent or logged
// out, until the moment they would have expired anyway.
package revocation

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "lms:auth:revoked:"

// RedisList keeps revoked token ids as keys with a TTL equal to the remaining
// token lifetime, so the list never outgrows the live credentials.
type RedisList struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisList(client *redis.Client) *RedisList {
	return &RedisList{client: client, now: time.Now}
}

// Revoke marks the id as revoked. It reports false when another caller got
// there first.
func (l *RedisList) Revoke(ctx context.Context, tokenID string, until time.Time) (bool, error) {
	if l.client == nil {
		return false, errors.New("redis_unavailable")
	}
	ttl := until.Sub(l.now())
	if ttl <= 0 {
		// Already expired: nothing to remember, and nobody can reuse it.
		return true, nil
	}
	ok, err := l.client.SetNX(ctx, keyPrefix+tokenID, "1", ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (l *RedisList) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	if l.client == nil {
		return false, errors.New("redis_unavailable")
	}
	n, err := l.client.Exists(ctx, keyPrefix+tokenID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
