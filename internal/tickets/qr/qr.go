package qr

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"ticket-booking/internal/models"

	"github.com/skip2/go-qrcode"
)

var ErrInvalidPayload = errors.New("invalid qr payload")

// Pass is the boarding pass encoded into a paid booking's QR code.
type Pass struct {
	BookingID     string    `json:"bookingId"`
	TicketID      string    `json:"ticketId"`
	TicketTitle   string    `json:"ticketTitle"`
	UserEmail     string    `json:"userEmail"`
	VendorEmail   string    `json:"vendorEmail"`
	Quantity      int       `json:"quantity"`
	From          string    `json:"from,omitempty"`
	To            string    `json:"to,omitempty"`
	DepartureDate string    `json:"departureDate,omitempty"`
	DepartureTime string    `json:"departureTime,omitempty"`
	IssuedAt      time.Time `json:"issuedAt"`
}

// PassFor builds the pass of a booking. ticket may be nil.
func PassFor(b models.Booking, ticket *models.Ticket, issued time.Time) Pass {
	pass := Pass{
		BookingID:   b.ID,
		TicketID:    b.TicketID,
		TicketTitle: b.TicketTitle,
		UserEmail:   b.UserEmail,
		VendorEmail: b.VendorEmail,
		Quantity:    b.Quantity,
		IssuedAt:    issued.UTC(),
	}
	if ticket != nil {
		pass.From = ticket.From
		pass.To = ticket.To
		pass.DepartureDate = ticket.DepartureDate
		pass.DepartureTime = ticket.DepartureTime
	}
	return pass
}

type QRGenerator struct {
	secret []byte
	size   int
}

func NewQRGenerator(secret string) *QRGenerator {
	hashed := sha256.Sum256([]byte(secret)) // normalize to 32 bytes
	return &QRGenerator{secret: hashed[:], size: 256}
}

// GenerateEncryptedQR encrypts the pass and renders it as a PNG QR code.
func (q *QRGenerator) GenerateEncryptedQR(pass Pass) ([]byte, error) {
	encrypted, err := q.Encrypt(pass)
	if err != nil {
		return nil, err
	}
	return qrcode.Encode(encrypted, qrcode.Medium, q.size)
}

func (q *QRGenerator) Encrypt(pass Pass) (string, error) {
	data, err := json.Marshal(pass)
	if err != nil {
		return "", err
	}
	return encryptAES(data, q.secret)
}

// Decrypt reverses Encrypt, as done when a vendor scans a pass.
func (q *QRGenerator) Decrypt(encoded string) (*Pass, error) {
	data, err := decryptAES(encoded, q.secret)
	if err != nil {
		return nil, err
	}
	var pass Pass
	if err := json.Unmarshal(data, &pass); err != nil || pass.BookingID == "" {
		return nil, ErrInvalidPayload
	}
	return &pass, nil
}

func encryptAES(data []byte, key []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	ciphertext := make([]byte, aes.BlockSize+len(data))
	iv := ciphertext[:aes.BlockSize]

	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", err
	}

	stream := cipher.NewCFBEncrypter(block, iv)
	stream.XORKeyStream(ciphertext[aes.BlockSize:], data)

	return base64.URLEncoding.EncodeToString(ciphertext), nil
}

func decryptAES(encoded string, key []byte) ([]byte, error) {
	ciphertext, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if len(ciphertext) < aes.BlockSize {
		return nil, ErrInvalidPayload
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	iv := ciphertext[:aes.BlockSize]
	data := make([]byte, len(ciphertext)-aes.BlockSize)
	stream := cipher.NewCFBDecrypter(block, iv)
	stream.XORKeyStream(data, ciphertext[aes.BlockSize:])
	return data, nil
}
