package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

const roleKeyPrefix = "user_role:"

// ErrUnknownUser is returned by a RoleLookup when the email has no account.
var ErrUnknownUser = errors.New("unknown user")

// RoleLookup resolves the current role of an account.
type RoleLookup interface {
	LookupRole(ctx context.Context, email string) (string, error)
}

// RedisRoleCache fronts a RoleLookup with short-lived Redis entries so role
// changes made by an admin apply without re-login.
type RedisRoleCache struct {
	Client *redis.Client
	Source RoleLookup
	TTL    time.Duration
}

func NewRedisRoleCache(client *redis.Client, source RoleLookup, ttl time.Duration) *RedisRoleCache {
	return &RedisRoleCache{Client: client, Source: source, TTL: ttl}
}

func (c *RedisRoleCache) LookupRole(ctx context.Context, email string) (string, error) {
	key := roleKeyPrefix + strings.ToLower(email)

	role, err := c.Client.Get(ctx, key).Result()
	if err == nil {
		return role, nil
	}
	if err != redis.Nil {
		// cache unavailable, go straight to the source
		return c.Source.LookupRole(ctx, email)
	}

	role, err = c.Source.LookupRole(ctx, email)
	if err != nil {
		return "", err
	}
	if err := c.Client.Set(ctx, key, role, c.TTL).Err(); err != nil {
		return role, fmt.Errorf("failed to cache role: %w", err)
	}
	return role, nil
}

// Invalidate drops the cached role for email.
func (c *RedisRoleCache) Invalidate(ctx context.Context, email string) error {
	return c.Client.Del(ctx, roleKeyPrefix+strings.ToLower(email)).Err()
}
