package payment

import (
	"fmt"
	"testing"
	"time"

	"ticket-booking/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"
)

const testWebhookSecret = "whsec_test_secret"

func signedEvent(t *testing.T, eventType string) ([]byte, string) {
	payload := []byte(fmt.Sprintf(`{
		"id": "evt_test_1",
		"object": "event",
		"api_version": "2020-08-27",
		"type": %q,
		"data": {"object": {
			"id": "cs_test_1",
			"object": "checkout.session",
			"payment_status": "paid",
			"amount_total": 90000,
			"currency": "bdt",
			"customer_details": {"email": "user@example.com"},
			"payment_intent": "pi_123",
			"metadata": {"bookingId": "bk-1", "ticketId": "t1", "quantity": "2", "ticketTitle": "Dhaka Express"}
		}}
	}`, eventType))
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	return payload, signed.Header
}

func TestParseWebhook(t *testing.T) {
	g, err := NewStripeGateway("sk_test_123", testWebhookSecret, logger.Discard())
	require.NoError(t, err)

	payload, header := signedEvent(t, EventCheckoutCompleted)
	event, err := g.ParseWebhook(payload, header)
	require.NoError(t, err)
	assert.Equal(t, EventCheckoutCompleted, event.Type)
	require.NotNil(t, event.Session)
	assert.Equal(t, "cs_test_1", event.Session.ID)
	assert.Equal(t, "paid", event.Session.PaymentStatus)
	assert.Equal(t, "user@example.com", event.Session.CustomerEmail)
	assert.Equal(t, "pi_123", event.Session.PaymentIntentID)
	assert.Equal(t, int64(90000), event.Session.AmountTotal)
	assert.Equal(t, "bk-1", event.Session.Metadata["bookingId"])

	_, err = g.ParseWebhook(payload, "t=1,v1=deadbeef")
	assert.ErrorIs(t, err, ErrInvalidSignature)

	other, header := signedEvent(t, "customer.created")
	event, err = g.ParseWebhook(other, header)
	require.NoError(t, err)
	assert.Nil(t, event.Session)
}

func TestStripeGatewayConfiguration(t *testing.T) {
	_, err := NewStripeGateway("", "", logger.Discard())
	assert.ErrorIs(t, err, ErrStripeClientInitFailed)

	g, err := NewStripeGateway("sk_test_123", "", logger.Discard())
	require.NoError(t, err)
	_, err = g.ParseWebhook([]byte(`{}`), "")
	assert.ErrorIs(t, err, ErrWebhookNotConfigured)
}
