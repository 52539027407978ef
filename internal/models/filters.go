package models

// UserFilter narrows the admin user listing.
type UserFilter struct {
	SearchTerm string
	Role       string
}

// TicketFilter narrows every ticket listing. Scope fields are set by the
// service, never from the query string.
type TicketFilter struct {
	SearchTerm         string
	TransportType      string
	VerificationStatus string
	From               string
	To                 string
	MinPrice           *float64
	MaxPrice           *float64
	Sort               string

	VendorEmail    string
	ApprovedOnly   bool
	ExcludeFraud   bool
	AdvertisedOnly bool
}

// BookingFilter narrows the vendor booking listing.
type BookingFilter struct {
	VendorEmail string
	Status      string
	Search      string
	SortBy      string
	SortOrder   string
}
