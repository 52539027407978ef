package redis

import (
	"context"
	"strings"

	"github.com/go-redis/redis/v8"
)

func idempotencyKey(userEmail, key string) string {
	return idempotencyKeyPrefix + strings.ToLower(userEmail) + ":" + key
}

// RememberIdempotencyKey binds a client key to the booking it created. The
// first writer wins; the returned id is whichever booking owns the key.
func (r *Redis) RememberIdempotencyKey(ctx context.Context, userEmail, key, bookingID string) (string, error) {
	k := idempotencyKey(userEmail, key)
	ok, err := r.Client.SetNX(ctx, k, bookingID, r.IdempotencyKeyTTL).Result()
	if err != nil {
		return "", err
	}
	if ok {
		return bookingID, nil
	}
	return r.Client.Get(ctx, k).Result()
}

// LookupIdempotencyKey returns the booking bound to key, or "" when unknown.
func (r *Redis) LookupIdempotencyKey(ctx context.Context, userEmail, key string) (string, error) {
	id, err := r.Client.Get(ctx, idempotencyKey(userEmail, key)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return id, err
}
