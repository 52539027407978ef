package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"30s":   30 * time.Second,
		"15m":   15 * time.Minute,
		"12h":   12 * time.Hour,
		"7d":    7 * 24 * time.Hour,
		"1h30m": 90 * time.Minute,
	}
	for in, want := range cases {
		got, err := ParseDuration(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseDuration("seven days")
	assert.Error(t, err)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "8081")
	t.Setenv("JWT_EXPIRES_IN", "2d")
	t.Setenv("KAFKA_ADDR", "k1:9092, k2:9092")
	t.Setenv("SITE_DOMAIN", "https://tickets.example.com/")

	cfg := Load()

	assert.Equal(t, ":8081", cfg.Server.Port)
	assert.Equal(t, 48*time.Hour, cfg.Auth.JWTExpiresIn)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "https://tickets.example.com", cfg.Stripe.SiteDomain)
	assert.Equal(t, "bdt", cfg.Stripe.Currency)
	assert.Equal(t, 6, cfg.Booking.MaxAdvertised)
	assert.Len(t, cfg.Kafka.Topics.All(), 6)
}

func TestValidate(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	cfg := Load()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")

	cfg.Auth.JWTSecret = "secret"
	assert.NoError(t, cfg.Validate())
}
