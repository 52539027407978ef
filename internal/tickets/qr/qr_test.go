package qr

import (
	"bytes"
	"testing"
	"time"

	"ticket-booking/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	gen := NewQRGenerator("qr-secret")
	booking := models.Booking{ID: "bk-1", TicketID: "t-1", TicketTitle: "Dhaka Express", UserEmail: "u@example.com", VendorEmail: "v@example.com", Quantity: 2}
	ticket := &models.Ticket{From: "Dhaka", To: "Sylhet", DepartureDate: "2025-03-10", DepartureTime: "08:00"}
	issued := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	encoded, err := gen.Encrypt(PassFor(booking, ticket, issued))
	require.NoError(t, err)

	pass, err := gen.Decrypt(encoded)
	require.NoError(t, err)
	assert.Equal(t, "bk-1", pass.BookingID)
	assert.Equal(t, 2, pass.Quantity)
	assert.Equal(t, "Sylhet", pass.To)
	assert.True(t, issued.Equal(pass.IssuedAt))
}

func TestDecryptWithWrongSecret(t *testing.T) {
	encoded, err := NewQRGenerator("one").Encrypt(Pass{BookingID: "bk-1"})
	require.NoError(t, err)

	_, err = NewQRGenerator("two").Decrypt(encoded)
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = NewQRGenerator("one").Decrypt("not base64!")
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = NewQRGenerator("one").Decrypt("c2hvcnQ=")
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestGenerateEncryptedQRIsPNG(t *testing.T) {
	png, err := NewQRGenerator("qr-secret").GenerateEncryptedQR(Pass{BookingID: "bk-1"})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))
}
