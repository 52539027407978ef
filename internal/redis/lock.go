package redis

import (
	"context"
	"fmt"
	"time"

	"ticket-booking/internal/logger"

	"github.com/go-redis/redis/v8"
)

const (
	holdKeyPrefix         = "booking_hold:"
	checkoutLockKeyPrefix = "checkout_lock:"
	idempotencyKeyPrefix  = "idempotency:"
	locationsKey          = "ticket_locations"
)

type Redis struct {
	Client *redis.Client
	Logger *logger.Logger

	CheckoutLockTTL   time.Duration
	IdempotencyKeyTTL time.Duration
	LocationsTTL      time.Duration
}

func NewRedis(client *redis.Client, log *logger.Logger) *Redis {
	return &Redis{
		Client:            client,
		Logger:            log,
		CheckoutLockTTL:   30 * time.Second,
		IdempotencyKeyTTL: 24 * time.Hour,
		LocationsTTL:      10 * time.Minute,
	}
}

// AcquireCheckoutLock claims the right to open a checkout session for a
// booking. It returns false when another request holds the lock.
func (r *Redis) AcquireCheckoutLock(ctx context.Context, bookingID, owner string) (bool, error) {
	return r.Client.SetNX(ctx, checkoutLockKeyPrefix+bookingID, owner, r.CheckoutLockTTL).Result()
}

// releaseIfOwner deletes KEYS[1] only while it still holds ARGV[1].
var releaseIfOwner = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// ReleaseCheckoutLock drops the lock if owner still holds it.
func (r *Redis) ReleaseCheckoutLock(ctx context.Context, bookingID, owner string) error {
	err := releaseIfOwner.Run(ctx, r.Client, []string{checkoutLockKeyPrefix + bookingID}, owner).Err()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to release checkout lock: %w", err)
	}
	return nil
}
