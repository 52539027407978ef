package redis

import (
	"context"
	"encoding/json"

	"ticket-booking/internal/models"

	"github.com/go-redis/redis/v8"
)

// GetLocations returns the cached location lists, or nil on a miss.
func (r *Redis) GetLocations(ctx context.Context) (*models.Locations, error) {
	raw, err := r.Client.Get(ctx, locationsKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var locations models.Locations
	if err := json.Unmarshal(raw, &locations); err != nil {
		return nil, nil
	}
	return &locations, nil
}

func (r *Redis) SetLocations(ctx context.Context, locations models.Locations) error {
	raw, err := json.Marshal(locations)
	if err != nil {
		return err
	}
	return r.Client.Set(ctx, locationsKey, raw, r.LocationsTTL).Err()
}

func (r *Redis) InvalidateLocations(ctx context.Context) error {
	return r.Client.Del(ctx, locationsKey).Err()
}
