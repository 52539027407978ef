package redis

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// HoldBooking (re)arms the expiry marker of a booking. The key expires at
// the same moment as the booking's hold.
func (r *Redis) HoldBooking(ctx context.Context, bookingID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return r.Client.Set(ctx, holdKeyPrefix+bookingID, "1", ttl).Err()
}

func (r *Redis) ReleaseHold(ctx context.Context, bookingID string) error {
	return r.Client.Del(ctx, holdKeyPrefix+bookingID).Err()
}

// HoldTTL reports the remaining hold of a booking, or zero when none is armed.
func (r *Redis) HoldTTL(ctx context.Context, bookingID string) (time.Duration, error) {
	ttl, err := r.Client.TTL(ctx, holdKeyPrefix+bookingID).Result()
	if err != nil {
		return 0, err
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// BookingIDFromExpiredKey extracts the booking id from an expired hold key.
func BookingIDFromExpiredKey(key string) (string, bool) {
	if !strings.HasPrefix(key, holdKeyPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(key, holdKeyPrefix)
	return id, id != ""
}

// EnableExpiryNotifications turns on keyspace events for expired keys.
// Managed Redis offerings may refuse CONFIG SET; callers fall back to the
// periodic sweep.
func (r *Redis) EnableExpiryNotifications(ctx context.Context) error {
	return r.Client.ConfigSet(ctx, "notify-keyspace-events", "Ex").Err()
}

// SubscribeExpiredHolds calls onExpired for every booking whose hold key
// expires, until ctx is cancelled.
func (r *Redis) SubscribeExpiredHolds(ctx context.Context, onExpired func(ctx context.Context, bookingID string)) error {
	channel := fmt.Sprintf("__keyevent@%d__:expired", r.Client.Options().DB)
	sub := r.Client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if id, ok := BookingIDFromExpiredKey(msg.Payload); ok {
					onExpired(ctx, id)
				}
			}
		}
	}()

	r.Logger.Info("REDIS", fmt.Sprintf("Listening for expired booking holds on %s", channel))
	return nil
}

