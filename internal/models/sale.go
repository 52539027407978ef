package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Sale is one paid booking as seen by vendor analytics. BookingID is unique
// so replayed events are recorded once.
type Sale struct {
	bun.BaseModel `bun:"table:sales"`

	BookingID   string    `bun:"booking_id,pk" json:"bookingId"`
	TicketID    string    `bun:"ticket_id,notnull" json:"ticketId"`
	VendorEmail string    `bun:"vendor_email,notnull" json:"vendorEmail"`
	Quantity    int       `bun:"quantity,notnull" json:"quantity"`
	Amount      float64   `bun:"amount,notnull" json:"amount"`
	SoldAt      time.Time `bun:"sold_at,notnull" json:"soldAt"`
}
