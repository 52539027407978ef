package models

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

const (
	TransportBus    = "bus"
	TransportTrain  = "train"
	TransportAir    = "air"
	TransportLaunch = "launch"
)

const (
	VerificationPending  = "pending"
	VerificationApproved = "approved"
	VerificationRejected = "rejected"
)

const (
	DepartureDateLayout = "2006-01-02"
	DepartureTimeLayout = "15:04"
)

func IsValidTransportType(t string) bool {
	switch t {
	case TransportBus, TransportTrain, TransportAir, TransportLaunch:
		return true
	}
	return false
}

func IsValidVerificationStatus(s string) bool {
	switch s {
	case VerificationPending, VerificationApproved, VerificationRejected:
		return true
	}
	return false
}

type Ticket struct {
	bun.BaseModel `bun:"table:tickets"`

	ID                 string     `bun:"id,pk" json:"_id"`
	Title              string     `bun:"ticket_title,notnull" json:"ticketTitle"`
	From               string     `bun:"from_location,notnull" json:"from"`
	To                 string     `bun:"to_location,notnull" json:"to"`
	TransportType      string     `bun:"transport_type,notnull" json:"transportType"`
	Price              float64    `bun:"price,notnull" json:"price"`
	Quantity           int        `bun:"quantity,notnull" json:"quantity"`
	DepartureDate      string     `bun:"departure_date,notnull" json:"departureDate"`
	DepartureTime      string     `bun:"departure_time,notnull" json:"departureTime"`
	Perks              []string   `bun:"perks" json:"perks"`
	Image              string     `bun:"image" json:"image"`
	VendorName         string     `bun:"vendor_name" json:"vendorName"`
	VendorEmail        string     `bun:"vendor_email,notnull" json:"vendorEmail"`
	VerificationStatus string     `bun:"verification_status,notnull" json:"verificationStatus"`
	IsAdvertised       bool       `bun:"is_advertised,notnull" json:"isAdvertised"`
	CreatedAt          time.Time  `bun:"created_at,notnull" json:"createdAt"`
	UpdatedAt          time.Time  `bun:"updated_at,notnull" json:"updatedAt"`
	DeletedAt          *time.Time `bun:"deleted_at,nullzero" json:"-"`
}

// Departure combines the departure date and time in loc.
func (t *Ticket) Departure(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	dep, err := time.ParseInLocation(DepartureDateLayout+" "+DepartureTimeLayout, t.DepartureDate+" "+t.DepartureTime, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid departure %q %q: %w", t.DepartureDate, t.DepartureTime, err)
	}
	return dep, nil
}

// HasDeparted reports whether departure is at or before now. A ticket with an
// unparseable departure is treated as departed so it can never be sold.
func (t *Ticket) HasDeparted(now time.Time, loc *time.Location) bool {
	dep, err := t.Departure(loc)
	if err != nil {
		return true
	}
	return !dep.After(now)
}

// Locations lists the distinct origins and destinations of bookable tickets.
type Locations struct {
	From []string `json:"from"`
	To   []string `json:"to"`
}
