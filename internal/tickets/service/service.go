package tickets

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"ticket-booking/internal/logger"
	"ticket-booking/internal/models"
	"ticket-booking/internal/utils"

	"github.com/google/uuid"
)

var (
	ErrTicketNotFound     = errors.New("ticket not found")
	ErrValidation         = errors.New("validation failed")
	ErrNotOwner           = errors.New("you can only manage your own tickets")
	ErrTicketRejected     = errors.New("rejected tickets cannot be modified")
	ErrVendorFraud        = errors.New("vendor account is flagged as fraud")
	ErrNotApproved        = errors.New("only approved tickets can be advertised")
	ErrAdvertisementLimit = errors.New("advertisement limit reached")
	ErrHasActiveBookings  = errors.New("ticket has active bookings")
)

type DBLayer interface {
	CreateTicket(ctx context.Context, ticket *models.Ticket) error
	GetTicketByID(ctx context.Context, id string) (*models.Ticket, error)
	UpdateTicket(ctx context.Context, ticket *models.Ticket, columns ...string) error
	DeleteTicket(ctx context.Context, id string) error
	ListTickets(ctx context.Context, filter models.TicketFilter, p utils.Pagination) ([]models.Ticket, int, error)
	Locations(ctx context.Context) (models.Locations, error)
	SetAdvertised(ctx context.Context, id string, advertise bool, limit int) (bool, error)
	CountAdvertised(ctx context.Context) (int, error)
	CountActiveBookings(ctx context.Context, ticketID string) (int, error)
}

// VendorDirectory answers questions about vendor accounts.
type VendorDirectory interface {
	IsFraudVendor(ctx context.Context, email string) (bool, error)
}

// LocationCache stores the computed location lists.
type LocationCache interface {
	GetLocations(ctx context.Context) (*models.Locations, error)
	SetLocations(ctx context.Context, locations models.Locations) error
	InvalidateLocations(ctx context.Context) error
}

type KafkaPublisher interface {
	Publish(topic string, key string, value []byte) error
}

type TicketService struct {
	DB            DBLayer
	Vendors       VendorDirectory
	Cache         LocationCache
	Kafka         KafkaPublisher
	StatusTopic   string
	MaxAdvertised int
	Location      *time.Location
	Logger        *logger.Logger
	Now           func() time.Time
}

func NewTicketService(db DBLayer, vendors VendorDirectory, maxAdvertised int, loc *time.Location, log *logger.Logger) *TicketService {
	return &TicketService{
		DB:            db,
		Vendors:       vendors,
		MaxAdvertised: maxAdvertised,
		Location:      loc,
		Logger:        log,
		Now:           time.Now,
	}
}

func (s *TicketService) clock() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// TicketInput carries the vendor-editable fields. Nil pointers are left
// untouched on modification.
type TicketInput struct {
	Title         *string   `json:"ticketTitle"`
	From          *string   `json:"from"`
	To            *string   `json:"to"`
	TransportType *string   `json:"transportType"`
	Price         *float64  `json:"price"`
	Quantity      *int      `json:"quantity"`
	DepartureDate *string   `json:"departureDate"`
	DepartureTime *string   `json:"departureTime"`
	Perks         *[]string `json:"perks"`
	Image         *string   `json:"image"`
	VendorName    *string   `json:"vendorName"`
}

// DeleteResult mirrors what the vendor dashboard expects from a delete.
type DeleteResult struct {
	Deleted bool   `json:"deleted"`
	Reason  string `json:"reason,omitempty"`
}

func str(p *string) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(*p)
}

func validationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// validateTicket checks a new listing in full, or only the given columns of
// an edited one. Edits may bring quantity down to zero to close sales.
func validateTicket(t *models.Ticket, columns ...string) error {
	creating := len(columns) == 0
	changed := func(names ...string) bool {
		if creating {
			return true
		}
		for _, c := range columns {
			for _, n := range names {
				if c == n {
					return true
				}
			}
		}
		return false
	}

	switch {
	case changed("ticket_title") && t.Title == "":
		return validationError("ticketTitle is required")
	case changed("from_location") && t.From == "":
		return validationError("from is required")
	case changed("to_location") && t.To == "":
		return validationError("to is required")
	case changed("from_location", "to_location") && strings.EqualFold(t.From, t.To):
		return validationError("from and to must differ")
	case changed("transport_type") && !models.IsValidTransportType(t.TransportType):
		return validationError("transportType must be one of bus, train, air, launch")
	case changed("price") && t.Price < 0:
		return validationError("price cannot be negative")
	case creating && t.Quantity < 1:
		return validationError("quantity must be at least 1")
	case t.Quantity < 0:
		return validationError("quantity cannot be negative")
	case changed("image") && t.Image == "":
		return validationError("image is required")
	}
	if changed("departure_date") {
		if _, err := time.Parse(models.DepartureDateLayout, t.DepartureDate); err != nil {
			return validationError("departureDate must be YYYY-MM-DD")
		}
	}
	if changed("departure_time") {
		if _, err := time.Parse(models.DepartureTimeLayout, t.DepartureTime); err != nil {
			return validationError("departureTime must be HH:MM")
		}
	}
	if changed("image") {
		if u, err := url.Parse(t.Image); err != nil || u.Scheme == "" || u.Host == "" {
			return validationError("image must be an absolute URL")
		}
	}
	return nil
}

func (s *TicketService) checkVendorStanding(ctx context.Context, email string) error {
	if s.Vendors == nil {
		return nil
	}
	fraud, err := s.Vendors.IsFraudVendor(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to check vendor standing: %w", err)
	}
	if fraud {
		return ErrVendorFraud
	}
	return nil
}

// CreateTicket stores a vendor listing in the pending state.
func (s *TicketService) CreateTicket(ctx context.Context, vendor models.Identity, in TicketInput) (*models.Ticket, error) {
	if err := s.checkVendorStanding(ctx, vendor.Email); err != nil {
		return nil, err
	}

	now := s.clock().UTC()
	ticket := &models.Ticket{
		ID:                 uuid.NewString(),
		Title:              str(in.Title),
		From:               str(in.From),
		To:                 str(in.To),
		TransportType:      strings.ToLower(str(in.TransportType)),
		DepartureDate:      str(in.DepartureDate),
		DepartureTime:      str(in.DepartureTime),
		Image:              str(in.Image),
		VendorName:         str(in.VendorName),
		VendorEmail:        strings.ToLower(vendor.Email),
		VerificationStatus: models.VerificationPending,
		Perks:              []string{},
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if ticket.VendorName == "" {
		ticket.VendorName = vendor.Name
	}
	if in.Price != nil {
		ticket.Price = *in.Price
	}
	if in.Quantity != nil {
		ticket.Quantity = *in.Quantity
	}
	if in.Perks != nil {
		ticket.Perks = cleanPerks(*in.Perks)
	}

	if err := validateTicket(ticket); err != nil {
		return nil, err
	}
	if ticket.HasDeparted(s.clock(), s.Location) {
		return nil, validationError("departure must be in the future")
	}

	if err := s.DB.CreateTicket(ctx, ticket); err != nil {
		return nil, fmt.Errorf("failed to create ticket: %w", err)
	}
	s.Logger.LogTicket("CREATE", ticket.ID, fmt.Sprintf("%s listed %q (%d seats)", ticket.VendorEmail, ticket.Title, ticket.Quantity))
	return ticket, nil
}

func cleanPerks(perks []string) []string {
	out := make([]string, 0, len(perks))
	seen := map[string]bool{}
	for _, p := range perks {
		p = strings.TrimSpace(p)
		if p == "" || seen[strings.ToLower(p)] {
			continue
		}
		seen[strings.ToLower(p)] = true
		out = append(out, p)
	}
	return out
}

func (s *TicketService) GetTicket(ctx context.Context, id string) (*models.Ticket, error) {
	ticket, err := s.DB.GetTicketByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTicketNotFound
	}
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

// ListAll is the admin view over every ticket.
func (s *TicketService) ListAll(ctx context.Context, filter models.TicketFilter, p utils.Pagination) (utils.Page[models.Ticket], error) {
	filter.VendorEmail, filter.ApprovedOnly, filter.ExcludeFraud, filter.AdvertisedOnly = "", false, false, false
	return s.list(ctx, filter, p)
}

// ListApproved is the public catalogue.
func (s *TicketService) ListApproved(ctx context.Context, filter models.TicketFilter, p utils.Pagination) (utils.Page[models.Ticket], error) {
	filter.VendorEmail = ""
	filter.VerificationStatus = ""
	filter.ApprovedOnly = true
	filter.ExcludeFraud = true
	filter.AdvertisedOnly = false
	return s.list(ctx, filter, p)
}

// ListAdvertised returns the home page advertisement slots.
func (s *TicketService) ListAdvertised(ctx context.Context) ([]models.Ticket, error) {
	filter := models.TicketFilter{ApprovedOnly: true, ExcludeFraud: true, AdvertisedOnly: true}
	page, err := s.list(ctx, filter, utils.Pagination{Page: 1, Limit: s.MaxAdvertised})
	if err != nil {
		return nil, err
	}
	return page.Data, nil
}

// ListByVendor lists a vendor's own tickets. Vendors see only their own.
func (s *TicketService) ListByVendor(ctx context.Context, caller models.Identity, vendorEmail string, filter models.TicketFilter, p utils.Pagination) (utils.Page[models.Ticket], error) {
	vendorEmail = strings.ToLower(strings.TrimSpace(vendorEmail))
	if !caller.IsAdmin() && !strings.EqualFold(caller.Email, vendorEmail) {
		return utils.Page[models.Ticket]{}, ErrNotOwner
	}
	filter.VendorEmail = vendorEmail
	filter.ApprovedOnly, filter.ExcludeFraud, filter.AdvertisedOnly = false, false, false
	return s.list(ctx, filter, p)
}

func (s *TicketService) list(ctx context.Context, filter models.TicketFilter, p utils.Pagination) (utils.Page[models.Ticket], error) {
	tickets, total, err := s.DB.ListTickets(ctx, filter, p)
	if err != nil {
		return utils.Page[models.Ticket]{}, fmt.Errorf("failed to list tickets: %w", err)
	}
	return utils.NewPage(tickets, p, total), nil
}

// ModifyTicket lets the owning vendor edit listing details.
func (s *TicketService) ModifyTicket(ctx context.Context, caller models.Identity, id string, in TicketInput) (*models.Ticket, error) {
	ticket, err := s.GetTicket(ctx, id)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(ticket.VendorEmail, caller.Email) {
		return nil, ErrNotOwner
	}
	if ticket.VerificationStatus == models.VerificationRejected {
		return nil, ErrTicketRejected
	}

	var columns []string
	set := func(column string, apply func()) {
		apply()
		columns = append(columns, column)
	}
	if in.Title != nil {
		set("ticket_title", func() { ticket.Title = str(in.Title) })
	}
	if in.From != nil {
		set("from_location", func() { ticket.From = str(in.From) })
	}
	if in.To != nil {
		set("to_location", func() { ticket.To = str(in.To) })
	}
	if in.TransportType != nil {
		set("transport_type", func() { ticket.TransportType = strings.ToLower(str(in.TransportType)) })
	}
	if in.Price != nil {
		set("price", func() { ticket.Price = *in.Price })
	}
	if in.Quantity != nil {
		set("quantity", func() { ticket.Quantity = *in.Quantity })
	}
	if in.DepartureDate != nil {
		set("departure_date", func() { ticket.DepartureDate = str(in.DepartureDate) })
	}
	if in.DepartureTime != nil {
		set("departure_time", func() { ticket.DepartureTime = str(in.DepartureTime) })
	}
	if in.Perks != nil {
		set("perks", func() { ticket.Perks = cleanPerks(*in.Perks) })
	}
	if in.Image != nil {
		set("image", func() { ticket.Image = str(in.Image) })
	}
	if in.VendorName != nil {
		set("vendor_name", func() { ticket.VendorName = str(in.VendorName) })
	}
	if len(columns) == 0 {
		return ticket, nil
	}

	if err := validateTicket(ticket, columns...); err != nil {
		return nil, err
	}
	if err := s.DB.UpdateTicket(ctx, ticket, columns...); err != nil {
		return nil, fmt.Errorf("failed to update ticket: %w", err)
	}
	s.invalidateLocations(ctx)
	s.Logger.LogTicket("MODIFY", ticket.ID, fmt.Sprintf("updated %s", strings.Join(columns, ", ")))
	return ticket, nil
}

// DeleteTicket removes the owner's ticket unless bookings still hold seats.
func (s *TicketService) DeleteTicket(ctx context.Context, caller models.Identity, id string) (DeleteResult, error) {
	ticket, err := s.GetTicket(ctx, id)
	if err != nil {
		return DeleteResult{}, err
	}
	if !caller.IsAdmin() && !strings.EqualFold(ticket.VendorEmail, caller.Email) {
		return DeleteResult{Deleted: false, Reason: "You can only delete your own tickets"}, ErrNotOwner
	}

	active, err := s.DB.CountActiveBookings(ctx, id)
	if err != nil {
		return DeleteResult{}, fmt.Errorf("failed to check bookings: %w", err)
	}
	if active > 0 {
		reason := fmt.Sprintf("Ticket has %d active booking(s) and cannot be deleted", active)
		return DeleteResult{Deleted: false, Reason: reason}, ErrHasActiveBookings
	}

	if err := s.DB.DeleteTicket(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return DeleteResult{}, ErrTicketNotFound
		}
		return DeleteResult{}, fmt.Errorf("failed to delete ticket: %w", err)
	}
	s.invalidateLocations(ctx)
	s.Logger.LogTicket("DELETE", id, fmt.Sprintf("deleted by %s", caller.Email))
	return DeleteResult{Deleted: true}, nil
}

// UpdateStatus is the admin moderation step. Rejecting a ticket withdraws
// its advertisement.
func (s *TicketService) UpdateStatus(ctx context.Context, id, status string) (*models.Ticket, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	if !models.IsValidVerificationStatus(status) {
		return nil, validationError("status must be pending, approved or rejected")
	}
	ticket, err := s.GetTicket(ctx, id)
	if err != nil {
		return nil, err
	}

	ticket.VerificationStatus = status
	columns := []string{"verification_status"}
	if status != models.VerificationApproved && ticket.IsAdvertised {
		ticket.IsAdvertised = false
		columns = append(columns, "is_advertised")
	}
	if err := s.DB.UpdateTicket(ctx, ticket, columns...); err != nil {
		return nil, fmt.Errorf("failed to update ticket status: %w", err)
	}

	s.invalidateLocations(ctx)
	s.publishStatus(ticket)
	s.Logger.LogTicket("STATUS", ticket.ID, status)
	return ticket, nil
}

// SetAdvertisement toggles the advertisement flag within the slot limit.
func (s *TicketService) SetAdvertisement(ctx context.Context, id string, advertise bool) (*models.Ticket, error) {
	ticket, err := s.GetTicket(ctx, id)
	if err != nil {
		return nil, err
	}
	if advertise {
		if ticket.VerificationStatus != models.VerificationApproved {
			return nil, ErrNotApproved
		}
		if err := s.checkVendorStanding(ctx, ticket.VendorEmail); err != nil {
			return nil, err
		}
	}

	ok, err := s.DB.SetAdvertised(ctx, id, advertise, s.MaxAdvertised)
	if err != nil {
		return nil, fmt.Errorf("failed to update advertisement: %w", err)
	}
	if !ok {
		if advertise {
			return nil, fmt.Errorf("%w: at most %d tickets can be advertised", ErrAdvertisementLimit, s.MaxAdvertised)
		}
		return nil, ErrTicketNotFound
	}

	ticket.IsAdvertised = advertise
	s.publishStatus(ticket)
	s.Logger.LogTicket("ADVERTISE", ticket.ID, fmt.Sprintf("isAdvertised=%t", advertise))
	return ticket, nil
}

// Locations serves the cached location lists, recomputing on a miss.
func (s *TicketService) Locations(ctx context.Context) (models.Locations, error) {
	if s.Cache != nil {
		if cached, err := s.Cache.GetLocations(ctx); err == nil && cached != nil {
			return *cached, nil
		} else if err != nil {
			s.Logger.Warn("TICKET", fmt.Sprintf("Location cache read failed: %v", err))
		}
	}

	locations, err := s.DB.Locations(ctx)
	if err != nil {
		return models.Locations{}, fmt.Errorf("failed to load locations: %w", err)
	}
	if s.Cache != nil {
		if err := s.Cache.SetLocations(ctx, locations); err != nil {
			s.Logger.Warn("TICKET", fmt.Sprintf("Location cache write failed: %v", err))
		}
	}
	return locations, nil
}

func (s *TicketService) invalidateLocations(ctx context.Context) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.InvalidateLocations(ctx); err != nil {
		s.Logger.Warn("TICKET", fmt.Sprintf("Location cache invalidation failed: %v", err))
	}
}

func (s *TicketService) publishStatus(ticket *models.Ticket) {
	if s.Kafka == nil || s.StatusTopic == "" {
		return
	}
	value, err := json.Marshal(models.TicketStatusEvent{
		TicketID:           ticket.ID,
		VendorEmail:        ticket.VendorEmail,
		VerificationStatus: ticket.VerificationStatus,
		IsAdvertised:       ticket.IsAdvertised,
		OccurredAt:         s.clock().UTC(),
	})
	if err != nil {
		s.Logger.Error("KAFKA", fmt.Sprintf("Failed to marshal ticket status event: %v", err))
		return
	}
	if err := s.Kafka.Publish(s.StatusTopic, ticket.ID, value); err != nil {
		s.Logger.Error("KAFKA", fmt.Sprintf("Failed to publish ticket status for %s: %v", ticket.ID, err))
	}
}
