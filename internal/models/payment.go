package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	PaymentPending = "pending"
	PaymentPaid    = "paid"
	PaymentExpired = "expired"
)

// Payment records one hosted checkout session opened for a booking.
type Payment struct {
	bun.BaseModel `bun:"table:payments"`

	ID              string    `bun:"id,pk" json:"_id"`
	BookingID       string    `bun:"booking_id,notnull" json:"bookingId"`
	UserEmail       string    `bun:"user_email,notnull" json:"userEmail"`
	TicketTitle     string    `bun:"ticket_title" json:"ticketTitle"`
	SessionID       string    `bun:"session_id,notnull,unique" json:"sessionId"`
	PaymentIntentID string    `bun:"payment_intent_id,nullzero" json:"paymentIntentId,omitempty"`
	Amount          float64   `bun:"amount,notnull" json:"amount"`
	Currency        string    `bun:"currency,notnull" json:"currency"`
	Status          string    `bun:"status,notnull" json:"status"`
	CreatedAt       time.Time `bun:"created_at,notnull" json:"createdAt"`
	UpdatedAt       time.Time `bun:"updated_at,notnull" json:"updatedAt"`
}

// CheckoutSession is the provider-neutral view of a hosted checkout.
type CheckoutSession struct {
	ID              string            `json:"sessionId"`
	URL             string            `json:"url,omitempty"`
	PaymentStatus   string            `json:"paymentStatus"`
	CustomerEmail   string            `json:"customerEmail,omitempty"`
	AmountTotal     int64             `json:"amountTotal"`
	Currency        string            `json:"currency,omitempty"`
	PaymentIntentID string            `json:"paymentIntentId,omitempty"`
	Metadata        map[string]string `json:"metadata"`
}

// CheckoutRequest describes the single line item sold by a checkout session.
type CheckoutRequest struct {
	BookingID     string
	ProductName   string
	Description   string
	ImageURL      string
	UnitAmount    int64
	Quantity      int64
	Currency      string
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
	ExpiresAt     time.Time
	Metadata      map[string]string
}
