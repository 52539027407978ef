package models

import "time"

const (
	EventBookingCreated   = "booking.created"
	EventBookingConfirmed = "booking.confirmed"
	EventBookingCancelled = "booking.cancelled"
	EventBookingExpired   = "booking.expired"
	EventBookingPaid      = "booking.paid"
	EventTicketStatus     = "ticket.status"
)

// BookingEvent is the Kafka payload published on every booking transition.
type BookingEvent struct {
	EventType   string    `json:"eventType"`
	BookingID   string    `json:"bookingId"`
	TicketID    string    `json:"ticketId"`
	TicketTitle string    `json:"ticketTitle"`
	VendorEmail string    `json:"vendorEmail"`
	UserEmail   string    `json:"userEmail"`
	Quantity    int       `json:"quantity"`
	TotalPrice  float64   `json:"totalPrice"`
	AmountPaid  float64   `json:"amountPaid,omitempty"`
	Status      string    `json:"status"`
	OccurredAt  time.Time `json:"occurredAt"`
}

func NewBookingEvent(eventType string, b Booking) BookingEvent {
	occurred := time.Now().UTC()
	if eventType == EventBookingPaid && b.PaymentDate != nil {
		occurred = b.PaymentDate.UTC()
	}
	return BookingEvent{
		EventType:   eventType,
		BookingID:   b.ID,
		TicketID:    b.TicketID,
		TicketTitle: b.TicketTitle,
		VendorEmail: b.VendorEmail,
		UserEmail:   b.UserEmail,
		Quantity:    b.Quantity,
		TotalPrice:  b.TotalPrice,
		AmountPaid:  b.AmountPaid,
		Status:      b.Status,
		OccurredAt:  occurred,
	}
}

// TicketStatusEvent is published when an admin moderates a ticket.
type TicketStatusEvent struct {
	TicketID           string    `json:"ticketId"`
	VendorEmail        string    `json:"vendorEmail"`
	VerificationStatus string    `json:"verificationStatus"`
	IsAdvertised       bool      `json:"isAdvertised"`
	OccurredAt         time.Time `json:"occurredAt"`
}
