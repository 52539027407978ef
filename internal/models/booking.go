package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	BookingPending   = "pending"
	BookingConfirmed = "confirmed"
	BookingCancelled = "cancelled"
	BookingPaid      = "paid"
)

// IsTerminalBookingStatus reports whether a booking can no longer change.
func IsTerminalBookingStatus(status string) bool {
	return status == BookingPaid || status == BookingCancelled
}

// ActiveBookingStatuses hold inventory.
var ActiveBookingStatuses = []string{BookingPending, BookingConfirmed}

type Booking struct {
	bun.BaseModel `bun:"table:bookings"`

	ID              string     `bun:"id,pk" json:"_id"`
	TicketID        string     `bun:"ticket_id,notnull" json:"ticketId"`
	TicketTitle     string     `bun:"ticket_title" json:"ticketTitle"`
	VendorEmail     string     `bun:"vendor_email,notnull" json:"vendorEmail"`
	UserEmail       string     `bun:"user_email,notnull" json:"userEmail"`
	UserName        string     `bun:"user_name" json:"userName"`
	Quantity        int        `bun:"quantity,notnull" json:"quantity"`
	UnitPrice       float64    `bun:"unit_price,notnull" json:"unitPrice"`
	TotalPrice      float64    `bun:"total_price,notnull" json:"totalPrice"`
	Status          string     `bun:"status,notnull" json:"status"`
	IdempotencyKey  string     `bun:"idempotency_key,nullzero" json:"-"`
	StripeSessionID string     `bun:"stripe_session_id,nullzero" json:"stripeSessionId,omitempty"`
	PaymentIntentID string     `bun:"payment_intent_id,nullzero" json:"paymentIntentId,omitempty"`
	AmountPaid      float64    `bun:"amount_paid" json:"amountPaid,omitempty"`
	PaymentDate     *time.Time `bun:"payment_date" json:"paymentDate,omitempty"`
	ExpiresAt       *time.Time `bun:"expires_at" json:"expiresAt,omitempty"`
	CreatedAt       time.Time  `bun:"created_at,notnull" json:"createdAt"`
	UpdatedAt       time.Time  `bun:"updated_at,notnull" json:"updatedAt"`

	Ticket *Ticket `bun:"rel:belongs-to,join:ticket_id=id" json:"ticket,omitempty"`
}

// BookingRequest is the body of a booking creation call.
type BookingRequest struct {
	TicketID string `json:"ticketId"`
	Quantity int    `json:"quantity"`
}

// PaymentConfirmation carries what the payment provider reported for a
// completed checkout.
type PaymentConfirmation struct {
	BookingID       string
	SessionID       string
	PaymentIntentID string
	AmountPaid      float64
	PaidAt          time.Time
}

// RevenueOverview summarises a vendor's sales.
type RevenueOverview struct {
	TotalRevenue      float64        `json:"totalRevenue"`
	TotalTicketsSold  int            `json:"totalTicketsSold"`
	TotalTicketsAdded int            `json:"totalTicketsAdded"`
	Series            []RevenuePoint `json:"series"`
}

type RevenuePoint struct {
	Date        string  `json:"date"`
	Revenue     float64 `json:"revenue"`
	TicketsSold int     `json:"ticketsSold"`
}
