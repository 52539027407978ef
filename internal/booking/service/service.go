package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	bookingdb "ticket-booking/internal/booking/db"
	"ticket-booking/internal/config"
	"ticket-booking/internal/logger"
	"ticket-booking/internal/models"
	"ticket-booking/internal/tickets/qr"
	"ticket-booking/internal/utils"

	"github.com/google/uuid"
)

var (
	ErrValidation            = errors.New("validation failed")
	ErrBookingNotFound       = errors.New("booking not found")
	ErrTicketNotFound        = errors.New("ticket not found")
	ErrTicketUnavailable     = errors.New("ticket is not available for booking")
	ErrBookingClosed         = errors.New("booking closed - departure time has passed")
	ErrInsufficientInventory = errors.New("insufficient inventory")
	ErrInvalidTransition     = errors.New("invalid status transition")
	ErrAlreadyPaid           = errors.New("booking already paid")
	ErrHoldExpired           = errors.New("payment window has ended")
	ErrNotPaid               = errors.New("booking is not paid")
	ErrInvalidPass           = errors.New("invalid e-ticket")
	ErrForbidden             = errors.New("not allowed")
)

// InventoryError reports how many seats remain when a request asks for more.
type InventoryError struct {
	Available int
}

func (e *InventoryError) Error() string {
	return fmt.Sprintf("Only %d tickets available", e.Available)
}

func (e *InventoryError) Is(target error) bool {
	return target == ErrInsufficientInventory
}

type DBLayer interface {
	CreateWithReservation(ctx context.Context, booking *models.Booking) error
	GetBookingByID(ctx context.Context, id string) (*models.Booking, error)
	GetByIdempotencyKey(ctx context.Context, userEmail, key string) (*models.Booking, error)
	ListByUser(ctx context.Context, userEmail string) ([]models.Booking, error)
	ListByVendor(ctx context.Context, filter models.BookingFilter, p utils.Pagination) ([]models.Booking, int, error)
	Confirm(ctx context.Context, id string, expiresAt time.Time) (bool, error)
	ExtendHold(ctx context.Context, id string, until time.Time) (bool, error)
	CancelAndRelease(ctx context.Context, id string, fromStatuses []string, expiredBy *time.Time) (*models.Booking, error)
	MarkPaid(ctx context.Context, conf models.PaymentConfirmation, ticketTitle string) (bool, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]string, error)
}

type TicketStore interface {
	GetTicketByID(ctx context.Context, id string) (*models.Ticket, error)
}

type VendorDirectory interface {
	IsFraudVendor(ctx context.Context, email string) (bool, error)
}

// HoldStore keeps the Redis side of a booking: its expiry marker and the
// client idempotency keys.
type HoldStore interface {
	HoldBooking(ctx context.Context, bookingID string, ttl time.Duration) error
	ReleaseHold(ctx context.Context, bookingID string) error
	RememberIdempotencyKey(ctx context.Context, userEmail, key, bookingID string) (string, error)
	LookupIdempotencyKey(ctx context.Context, userEmail, key string) (string, error)
}

type KafkaPublisher interface {
	Publish(topic string, key string, value []byte) error
}

// Notifier pushes booking changes to connected vendor dashboards.
type Notifier interface {
	Emit(eventType string, booking models.Booking)
}

type RevenueReporter interface {
	RevenueOverview(ctx context.Context, vendorEmail string) (*models.RevenueOverview, error)
}

type BookingService struct {
	DB       DBLayer
	Tickets  TicketStore
	Vendors  VendorDirectory
	Holds    HoldStore
	Kafka    KafkaPublisher
	Topics   config.TopicConfig
	Notifier Notifier
	Revenue  RevenueReporter
	QR       *qr.QRGenerator
	Logger   *logger.Logger

	HoldTTL       time.Duration
	PaymentWindow time.Duration
	Location      *time.Location
	Now           func() time.Time
}

func NewBookingService(db DBLayer, tickets TicketStore, cfg config.BookingConfig, loc *time.Location, log *logger.Logger) *BookingService {
	return &BookingService{
		DB:            db,
		Tickets:       tickets,
		Logger:        log,
		HoldTTL:       cfg.HoldTTL,
		PaymentWindow: cfg.PaymentWindow,
		Location:      loc,
		Now:           time.Now,
	}
}

func (s *BookingService) clock() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// CreateBooking reserves seats for the caller. A repeated idempotency key
// returns the booking it first created and reports replayed=true.
func (s *BookingService) CreateBooking(ctx context.Context, caller models.Identity, req models.BookingRequest, idempotencyKey string) (*models.Booking, bool, error) {
	if strings.TrimSpace(req.TicketID) == "" {
		return nil, false, fmt.Errorf("%w: ticketId is required", ErrValidation)
	}
	if req.Quantity < 1 {
		return nil, false, fmt.Errorf("%w: quantity must be at least 1", ErrValidation)
	}
	idempotencyKey = strings.TrimSpace(idempotencyKey)

	if idempotencyKey != "" {
		if existing := s.findByIdempotencyKey(ctx, caller.Email, idempotencyKey); existing != nil {
			return existing, true, nil
		}
	}

	ticket, err := s.Tickets.GetTicketByID(ctx, req.TicketID)
	if bookingdb.IsNotFound(err) {
		return nil, false, ErrTicketNotFound
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load ticket: %w", err)
	}
	if ticket.VerificationStatus != models.VerificationApproved {
		return nil, false, ErrTicketUnavailable
	}
	if s.Vendors != nil {
		fraud, err := s.Vendors.IsFraudVendor(ctx, ticket.VendorEmail)
		if err != nil {
			return nil, false, fmt.Errorf("failed to check vendor standing: %w", err)
		}
		if fraud {
			return nil, false, ErrTicketUnavailable
		}
	}

	now := s.clock().UTC()
	if ticket.HasDeparted(now, s.Location) {
		return nil, false, ErrBookingClosed
	}
	if ticket.Quantity < req.Quantity {
		return nil, false, &InventoryError{Available: ticket.Quantity}
	}

	expires := now.Add(s.HoldTTL)
	booking := &models.Booking{
		ID:             uuid.NewString(),
		TicketID:       ticket.ID,
		TicketTitle:    ticket.Title,
		VendorEmail:    strings.ToLower(ticket.VendorEmail),
		UserEmail:      strings.ToLower(caller.Email),
		UserName:       caller.Name,
		Quantity:       req.Quantity,
		UnitPrice:      ticket.Price,
		TotalPrice:     ticket.Price * float64(req.Quantity),
		Status:         models.BookingPending,
		IdempotencyKey: idempotencyKey,
		ExpiresAt:      &expires,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.DB.CreateWithReservation(ctx, booking); err != nil {
		var inv *bookingdb.InsufficientInventoryError
		if errors.As(err, &inv) {
			return nil, false, &InventoryError{Available: inv.Available}
		}
		// A concurrent request with the same key may have won the insert.
		if idempotencyKey != "" {
			if existing := s.findByIdempotencyKey(ctx, caller.Email, idempotencyKey); existing != nil {
				return existing, true, nil
			}
		}
		return nil, false, fmt.Errorf("failed to create booking: %w", err)
	}
	booking.Ticket = ticket

	if s.Holds != nil {
		if err := s.Holds.HoldBooking(ctx, booking.ID, s.HoldTTL); err != nil {
			s.Logger.Warn("BOOKING", fmt.Sprintf("Failed to arm hold for %s, sweep will expire it: %v", booking.ID, err))
		}
		if idempotencyKey != "" {
			if _, err := s.Holds.RememberIdempotencyKey(ctx, booking.UserEmail, idempotencyKey, booking.ID); err != nil {
				s.Logger.Warn("BOOKING", fmt.Sprintf("Failed to cache idempotency key for %s: %v", booking.ID, err))
			}
		}
	}

	s.Logger.LogBooking("CREATE", booking.ID, fmt.Sprintf("%s reserved %d x %q", booking.UserEmail, booking.Quantity, booking.TicketTitle))
	s.announce(models.EventBookingCreated, s.Topics.BookingCreated, booking)
	return booking, false, nil
}

func (s *BookingService) findByIdempotencyKey(ctx context.Context, userEmail, key string) *models.Booking {
	if s.Holds != nil {
		id, err := s.Holds.LookupIdempotencyKey(ctx, userEmail, key)
		if err != nil {
			s.Logger.Warn("BOOKING", fmt.Sprintf("Idempotency cache lookup failed: %v", err))
		} else if id != "" {
			if b, err := s.DB.GetBookingByID(ctx, id); err == nil {
				return b
			}
		}
	}
	b, err := s.DB.GetByIdempotencyKey(ctx, userEmail, key)
	if err != nil {
		if !bookingdb.IsNotFound(err) {
			s.Logger.Warn("BOOKING", fmt.Sprintf("Idempotency lookup failed: %v", err))
		}
		return nil
	}
	return b
}

func (s *BookingService) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	b, err := s.DB.GetBookingByID(ctx, id)
	if bookingdb.IsNotFound(err) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// ListUserBookings returns the caller's own bookings, newest first.
func (s *BookingService) ListUserBookings(ctx context.Context, caller models.Identity, email string) ([]models.Booking, error) {
	if !caller.IsAdmin() && !strings.EqualFold(caller.Email, email) {
		return nil, ErrForbidden
	}
	bookings, err := s.DB.ListByUser(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	if bookings == nil {
		bookings = []models.Booking{}
	}
	return bookings, nil
}

// NormalizeStatus maps the dashboard vocabulary onto booking statuses.
func NormalizeStatus(status string) string {
	switch s := strings.ToLower(strings.TrimSpace(status)); s {
	case "approved", "accepted":
		return models.BookingConfirmed
	case "rejected":
		return models.BookingCancelled
	default:
		return s
	}
}

func (s *BookingService) ListVendorBookings(ctx context.Context, caller models.Identity, email string, filter models.BookingFilter, p utils.Pagination) (utils.Page[models.Booking], error) {
	if !caller.IsAdmin() && !strings.EqualFold(caller.Email, email) {
		return utils.Page[models.Booking]{}, ErrForbidden
	}
	filter.VendorEmail = email
	if filter.Status != "" {
		filter.Status = NormalizeStatus(filter.Status)
		switch filter.Status {
		case models.BookingPending, models.BookingConfirmed, models.BookingCancelled, models.BookingPaid:
		default:
			return utils.Page[models.Booking]{}, fmt.Errorf("%w: unknown status %q", ErrValidation, filter.Status)
		}
	}

	bookings, total, err := s.DB.ListByVendor(ctx, filter, p)
	if err != nil {
		return utils.Page[models.Booking]{}, fmt.Errorf("failed to list bookings: %w", err)
	}
	return utils.NewPage(bookings, p, total), nil
}

// UpdateStatus applies a vendor decision or a user cancellation.
func (s *BookingService) UpdateStatus(ctx context.Context, caller models.Identity, id, status string) (*models.Booking, error) {
	target := NormalizeStatus(status)
	b, err := s.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}

	isVendor := caller.IsAdmin() || (caller.Role == models.RoleVendor && strings.EqualFold(b.VendorEmail, caller.Email))
	isOwner := strings.EqualFold(b.UserEmail, caller.Email)

	switch target {
	case models.BookingConfirmed:
		if !isVendor {
			return nil, ErrForbidden
		}
		return s.confirm(ctx, b)
	case models.BookingCancelled:
		var from []string
		if isVendor {
			from = append(from, models.BookingPending)
		}
		if isOwner {
			from = append(from, models.BookingPending, models.BookingConfirmed)
		}
		if len(from) == 0 {
			return nil, ErrForbidden
		}
		return s.cancel(ctx, b, from, caller.Email)
	default:
		return nil, fmt.Errorf("%w: status must be confirmed or cancelled", ErrValidation)
	}
}

func (s *BookingService) confirm(ctx context.Context, b *models.Booking) (*models.Booking, error) {
	expires := s.clock().UTC().Add(s.PaymentWindow)
	ok, err := s.DB.Confirm(ctx, b.ID, expires)
	if err != nil {
		return nil, fmt.Errorf("failed to confirm booking: %w", err)
	}
	if !ok {
		return nil, s.transitionError(ctx, b.ID, models.BookingConfirmed)
	}

	if s.Holds != nil {
		if err := s.Holds.HoldBooking(ctx, b.ID, s.PaymentWindow); err != nil {
			s.Logger.Warn("BOOKING", fmt.Sprintf("Failed to re-arm hold for %s: %v", b.ID, err))
		}
	}

	confirmed, err := s.GetBooking(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	s.Logger.LogBooking("CONFIRM", b.ID, fmt.Sprintf("payment window open until %s", expires.Format(time.RFC3339)))
	s.announce(models.EventBookingConfirmed, s.Topics.BookingConfirmed, confirmed)
	return confirmed, nil
}

// ExtendHold keeps a confirmed booking reserved until at least until. It
// fails with ErrHoldExpired once the payment window has closed.
func (s *BookingService) ExtendHold(ctx context.Context, id string, until time.Time) (*models.Booking, error) {
	now := s.clock().UTC()
	ok, err := s.DB.ExtendHold(ctx, id, until)
	if err != nil {
		return nil, fmt.Errorf("failed to extend hold: %w", err)
	}

	b, err := s.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status != models.BookingConfirmed || b.ExpiresAt == nil || !b.ExpiresAt.After(now) {
		return nil, ErrHoldExpired
	}
	if !ok {
		return b, nil
	}

	if s.Holds != nil {
		if err := s.Holds.HoldBooking(ctx, id, until.Sub(now)); err != nil {
			s.Logger.Warn("BOOKING", fmt.Sprintf("Failed to re-arm hold for %s: %v", id, err))
		}
	}
	s.Logger.LogBooking("EXTEND", id, fmt.Sprintf("hold extended until %s", until.Format(time.RFC3339)))
	return b, nil
}

func (s *BookingService) cancel(ctx context.Context, b *models.Booking, from []string, by string) (*models.Booking, error) {
	cancelled, err := s.DB.CancelAndRelease(ctx, b.ID, from, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel booking: %w", err)
	}
	if cancelled == nil {
		return nil, s.transitionError(ctx, b.ID, models.BookingCancelled)
	}

	s.releaseHold(ctx, b.ID)
	cancelled.Ticket = b.Ticket
	s.Logger.LogBooking("CANCEL", b.ID, fmt.Sprintf("cancelled by %s, %d seat(s) returned", by, cancelled.Quantity))
	s.announce(models.EventBookingCancelled, s.Topics.BookingCancelled, cancelled)
	return cancelled, nil
}

func (s *BookingService) transitionError(ctx context.Context, id, target string) error {
	current, err := s.GetBooking(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: cannot move a %s booking to %s", ErrInvalidTransition, current.Status, target)
}

// ExpireBooking cancels a booking whose hold has ended and returns its
// seats. It reports whether this call performed the expiry.
func (s *BookingService) ExpireBooking(ctx context.Context, id string) (bool, error) {
	now := s.clock().UTC()
	expired, err := s.DB.CancelAndRelease(ctx, id, models.ActiveBookingStatuses, &now)
	if err != nil {
		return false, fmt.Errorf("failed to expire booking %s: %w", id, err)
	}
	if expired == nil {
		return false, nil
	}

	s.releaseHold(ctx, id)
	s.Logger.LogBooking("EXPIRE", id, fmt.Sprintf("hold ended, %d seat(s) returned", expired.Quantity))
	s.announce(models.EventBookingExpired, s.Topics.BookingExpired, expired)
	return true, nil
}

// OnHoldExpired is the Redis keyspace callback.
func (s *BookingService) OnHoldExpired(ctx context.Context, bookingID string) {
	if _, err := s.ExpireBooking(ctx, bookingID); err != nil {
		s.Logger.Error("BOOKING", err.Error())
	}
}

// SweepExpired expires every booking whose hold has ended.
func (s *BookingService) SweepExpired(ctx context.Context) (int, error) {
	const batch = 100
	total := 0
	for {
		ids, err := s.DB.ListExpired(ctx, s.clock(), batch)
		if err != nil {
			return total, fmt.Errorf("failed to list expired bookings: %w", err)
		}
		progressed := 0
		for _, id := range ids {
			ok, err := s.ExpireBooking(ctx, id)
			if err != nil {
				s.Logger.Error("BOOKING", err.Error())
				continue
			}
			if ok {
				progressed++
			}
		}
		total += progressed
		if len(ids) < batch || progressed == 0 {
			return total, nil
		}
	}
}

// RunSweeper calls SweepExpired every interval until ctx is cancelled.
func (s *BookingService) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.Logger.LogProcess("SWEEPER", fmt.Sprintf("expiring stale holds every %s", interval))
	for {
		select {
		case <-ctx.Done():
			s.Logger.LogProcess("SWEEPER", "stopped")
			return
		case <-ticker.C:
			n, err := s.SweepExpired(ctx)
			if err != nil {
				s.Logger.Error("SWEEPER", err.Error())
			}
			if n > 0 {
				s.Logger.LogProcess("SWEEPER", fmt.Sprintf("expired %d booking(s)", n))
			}
		}
	}
}

// MarkPaid applies a completed payment. Applying the same session twice
// returns the paid booking without side effects.
func (s *BookingService) MarkPaid(ctx context.Context, conf models.PaymentConfirmation, ticketTitle string) (*models.Booking, error) {
	b, err := s.GetBooking(ctx, conf.BookingID)
	if err != nil {
		return nil, err
	}
	if b.Status == models.BookingPaid {
		if b.StripeSessionID == conf.SessionID {
			return b, nil
		}
		return nil, ErrAlreadyPaid
	}

	ok, err := s.DB.MarkPaid(ctx, conf, ticketTitle)
	if err != nil {
		return nil, fmt.Errorf("failed to mark booking paid: %w", err)
	}

	paid, err := s.GetBooking(ctx, conf.BookingID)
	if err != nil {
		return nil, err
	}
	if !ok {
		if paid.Status == models.BookingPaid && paid.StripeSessionID == conf.SessionID {
			return paid, nil
		}
		if paid.Status == models.BookingPaid {
			return nil, ErrAlreadyPaid
		}
		s.Logger.LogSecurity("PAYMENT_MISMATCH", fmt.Sprintf("session %s paid for %s booking %s", conf.SessionID, paid.Status, paid.ID))
		return nil, fmt.Errorf("%w: cannot pay a %s booking", ErrInvalidTransition, paid.Status)
	}

	s.releaseHold(ctx, paid.ID)
	s.Logger.LogBooking("PAID", paid.ID, fmt.Sprintf("%.2f via %s", conf.AmountPaid, conf.SessionID))
	s.announce(models.EventBookingPaid, s.Topics.BookingPaid, paid)
	return paid, nil
}

// TicketQR renders the encrypted e-ticket of a paid booking as a PNG.
func (s *BookingService) TicketQR(ctx context.Context, caller models.Identity, id string) ([]byte, error) {
	b, err := s.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if !caller.IsAdmin() && !strings.EqualFold(b.UserEmail, caller.Email) {
		return nil, ErrForbidden
	}
	if b.Status != models.BookingPaid {
		return nil, ErrNotPaid
	}
	png, err := s.QR.GenerateEncryptedQR(qr.PassFor(*b, b.Ticket, s.clock()))
	if err != nil {
		return nil, fmt.Errorf("failed to generate qr: %w", err)
	}
	return png, nil
}

// VerifyPass decodes a scanned e-ticket and checks it against the vendor's
// paid bookings.
func (s *BookingService) VerifyPass(ctx context.Context, caller models.Identity, encrypted string) (*models.Booking, error) {
	pass, err := s.QR.Decrypt(strings.TrimSpace(encrypted))
	if err != nil {
		return nil, ErrInvalidPass
	}
	b, err := s.GetBooking(ctx, pass.BookingID)
	if errors.Is(err, ErrBookingNotFound) {
		return nil, ErrInvalidPass
	}
	if err != nil {
		return nil, err
	}
	if !caller.IsAdmin() && !strings.EqualFold(b.VendorEmail, caller.Email) {
		return nil, ErrForbidden
	}
	if b.Status != models.BookingPaid {
		return nil, ErrNotPaid
	}
	s.Logger.LogBooking("VERIFY", b.ID, fmt.Sprintf("pass checked by %s", caller.Email))
	return b, nil
}

func (s *BookingService) RevenueOverview(ctx context.Context, caller models.Identity, vendorEmail string) (*models.RevenueOverview, error) {
	if !caller.IsAdmin() && !strings.EqualFold(caller.Email, vendorEmail) {
		return nil, ErrForbidden
	}
	return s.Revenue.RevenueOverview(ctx, vendorEmail)
}

func (s *BookingService) releaseHold(ctx context.Context, id string) {
	if s.Holds == nil {
		return
	}
	if err := s.Holds.ReleaseHold(ctx, id); err != nil {
		s.Logger.Warn("BOOKING", fmt.Sprintf("Failed to release hold for %s: %v", id, err))
	}
}

// announce publishes the transition to Kafka and the vendor's SSE streams.
func (s *BookingService) announce(eventType, topic string, b *models.Booking) {
	if s.Notifier != nil {
		s.Notifier.Emit(eventType, *b)
	}
	if s.Kafka == nil || topic == "" {
		return
	}
	value, err := json.Marshal(models.NewBookingEvent(eventType, *b))
	if err != nil {
		s.Logger.Error("KAFKA", fmt.Sprintf("Failed to marshal %s event: %v", eventType, err))
		return
	}
	if err := s.Kafka.Publish(topic, b.ID, value); err != nil {
		s.Logger.Error("KAFKA", fmt.Sprintf("Failed to publish %s for %s: %v", eventType, b.ID, err))
	}
}
