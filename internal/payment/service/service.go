package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	booking "ticket-booking/internal/booking/service"
	"ticket-booking/internal/logger"
	"ticket-booking/internal/models"

	"github.com/google/uuid"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrNotAccepted         = errors.New("booking must be accepted by vendor before payment")
	ErrTicketNotFound      = errors.New("ticket not found")
	ErrPaymentClosed       = errors.New("payment closed - departure time has passed")
	ErrPaymentNotCompleted = errors.New("payment not completed")
	ErrInvalidMetadata     = errors.New("invalid session metadata")
	ErrCheckoutInProgress  = errors.New("checkout already in progress for this booking")
	ErrForbidden           = errors.New("not allowed")
)

// BookingPort is the part of the booking service payments depend on.
type BookingPort interface {
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	MarkPaid(ctx context.Context, conf models.PaymentConfirmation, ticketTitle string) (*models.Booking, error)
	ExtendHold(ctx context.Context, id string, until time.Time) (*models.Booking, error)
}

// Stripe accepts session expiries between 30 minutes and 24 hours out. The
// session closes checkoutGrace before the hold so late webhooks still land
// on a confirmed booking.
const (
	minCheckoutWindow = 30 * time.Minute
	maxCheckoutWindow = 24 * time.Hour
	checkoutGrace     = 5 * time.Minute
)

type TicketStore interface {
	GetTicketByID(ctx context.Context, id string) (*models.Ticket, error)
}

type Store interface {
	SavePayment(ctx context.Context, payment *models.Payment) error
	GetBySessionID(ctx context.Context, sessionID string) (*models.Payment, error)
	UpdateStatus(ctx context.Context, sessionID, status, paymentIntentID string) error
	ListByUser(ctx context.Context, userEmail string) ([]models.Payment, error)
	ExpireOpenSessions(ctx context.Context, bookingID, paidSessionID string) (int, error)
}

// CheckoutLocker serialises session creation per booking.
type CheckoutLocker interface {
	AcquireCheckoutLock(ctx context.Context, bookingID, owner string) (bool, error)
	ReleaseCheckoutLock(ctx context.Context, bookingID, owner string) error
}

type PaymentService struct {
	Bookings BookingPort
	Tickets  TicketStore
	Store    Store
	Gateway  CheckoutGateway
	Locker   CheckoutLocker
	Logger   *logger.Logger

	Currency   string
	SiteDomain string
	Location   *time.Location
	Now        func() time.Time
}

func NewPaymentService(bookings BookingPort, tickets TicketStore, store Store, gateway CheckoutGateway, log *logger.Logger) *PaymentService {
	return &PaymentService{
		Bookings: bookings,
		Tickets:  tickets,
		Store:    store,
		Gateway:  gateway,
		Logger:   log,
		Currency: "bdt",
		Location: time.UTC,
		Now:      time.Now,
	}
}

func (s *PaymentService) clock() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// checkoutDeadline picks when the checkout session stops accepting payment.
// A hold too short for Stripe's minimum is extended first.
func (s *PaymentService) checkoutDeadline(ctx context.Context, b *models.Booking, now time.Time) (time.Time, error) {
	end := b.ExpiresAt.Add(-checkoutGrace)
	if earliest := now.Add(minCheckoutWindow); end.Before(earliest) {
		extended, err := s.Bookings.ExtendHold(ctx, b.ID, earliest.Add(checkoutGrace))
		if err != nil {
			return time.Time{}, err
		}
		end = extended.ExpiresAt.Add(-checkoutGrace)
		if end.Before(earliest) {
			return time.Time{}, booking.ErrHoldExpired
		}
	}
	if latest := now.Add(maxCheckoutWindow); end.After(latest) {
		end = latest
	}
	return end, nil
}

type CheckoutResult struct {
	URL       string `json:"url"`
	SessionID string `json:"sessionId"`
}

type PaymentSuccess struct {
	Success bool            `json:"success"`
	Booking *models.Booking `json:"booking"`
	Ticket  *models.Ticket  `json:"ticket"`
}

type PaymentStatus struct {
	PaymentStatus string            `json:"paymentStatus"`
	CustomerEmail string            `json:"customerEmail"`
	AmountTotal   int64             `json:"amountTotal"`
	Metadata      map[string]string `json:"metadata"`
}

// CreateCheckoutSession opens a hosted checkout for a confirmed booking of
// the caller.
func (s *PaymentService) CreateCheckoutSession(ctx context.Context, caller models.Identity, bookingID string) (*CheckoutResult, error) {
	bookingID = strings.TrimSpace(bookingID)
	if bookingID == "" {
		return nil, fmt.Errorf("%w: booking ID is required", ErrValidation)
	}

	if s.Locker != nil {
		owner := uuid.NewString()
		ok, err := s.Locker.AcquireCheckoutLock(ctx, bookingID, owner)
		if err != nil {
			return nil, fmt.Errorf("failed to lock checkout: %w", err)
		}
		if !ok {
			return nil, ErrCheckoutInProgress
		}
		defer func() {
			if err := s.Locker.ReleaseCheckoutLock(context.Background(), bookingID, owner); err != nil {
				s.Logger.Warn("PAYMENT", fmt.Sprintf("Failed to release checkout lock for %s: %v", bookingID, err))
			}
		}()
	}

	b, err := s.Bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !caller.IsAdmin() && !strings.EqualFold(b.UserEmail, caller.Email) {
		return nil, ErrForbidden
	}
	if b.Status == models.BookingPaid {
		return nil, booking.ErrAlreadyPaid
	}
	if b.Status != models.BookingConfirmed {
		return nil, ErrNotAccepted
	}
	now := s.clock().UTC()
	if b.ExpiresAt == nil || !b.ExpiresAt.After(now) {
		return nil, booking.ErrHoldExpired
	}

	ticket, err := s.Tickets.GetTicketByID(ctx, b.TicketID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTicketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load ticket: %w", err)
	}
	if ticket.HasDeparted(s.clock(), s.Location) {
		return nil, ErrPaymentClosed
	}

	sessionEnd, err := s.checkoutDeadline(ctx, b, now)
	if err != nil {
		return nil, err
	}

	req := models.CheckoutRequest{
		BookingID:     b.ID,
		ProductName:   "Booking for: " + ticket.Title,
		Description:   fmt.Sprintf("%d seat(s) from %s to %s", b.Quantity, ticket.From, ticket.To),
		ImageURL:      ticket.Image,
		UnitAmount:    int64(math.Round(b.UnitPrice * 100)),
		Quantity:      int64(b.Quantity),
		Currency:      s.Currency,
		CustomerEmail: b.UserEmail,
		SuccessURL:    s.SiteDomain + "/user/payment-success?payment_status=success&session_id={CHECKOUT_SESSION_ID}",
		CancelURL:     s.SiteDomain + "/user/my-bookings?payment_status=cancelled",
		ExpiresAt:     sessionEnd,
		Metadata: map[string]string{
			"bookingId":   b.ID,
			"ticketId":    b.TicketID,
			"quantity":    strconv.Itoa(b.Quantity),
			"ticketTitle": ticket.Title,
		},
	}

	session, err := s.Gateway.CreateCheckoutSession(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	record := &models.Payment{
		ID:          uuid.NewString(),
		BookingID:   b.ID,
		UserEmail:   strings.ToLower(b.UserEmail),
		TicketTitle: ticket.Title,
		SessionID:   session.ID,
		Amount:      float64(req.UnitAmount*req.Quantity) / 100,
		Currency:    s.Currency,
		Status:      models.PaymentPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.Store.SavePayment(ctx, record); err != nil {
		s.Logger.Error("PAYMENT", fmt.Sprintf("Failed to store payment record for session %s: %v", session.ID, err))
	}

	s.Logger.LogPayment("CHECKOUT", b.ID, fmt.Sprintf("session %s opened for %.2f %s", session.ID, record.Amount, s.Currency))
	return &CheckoutResult{URL: session.URL, SessionID: session.ID}, nil
}

// ConfirmPayment applies a completed checkout session to its booking.
// Confirming the same session again returns the same result.
func (s *PaymentService) ConfirmPayment(ctx context.Context, sessionID string) (*PaymentSuccess, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session ID is required", ErrValidation)
	}

	session, err := s.Gateway.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve checkout session: %w", err)
	}
	return s.applySession(ctx, session)
}

func (s *PaymentService) applySession(ctx context.Context, session *models.CheckoutSession) (*PaymentSuccess, error) {
	if session.PaymentStatus != "paid" {
		return nil, ErrPaymentNotCompleted
	}
	bookingID := session.Metadata["bookingId"]
	ticketID := session.Metadata["ticketId"]
	if bookingID == "" || ticketID == "" {
		return nil, ErrInvalidMetadata
	}

	conf := models.PaymentConfirmation{
		BookingID:       bookingID,
		SessionID:       session.ID,
		PaymentIntentID: session.PaymentIntentID,
		AmountPaid:      float64(session.AmountTotal) / 100,
		PaidAt:          s.clock().UTC(),
	}
	paid, err := s.Bookings.MarkPaid(ctx, conf, session.Metadata["ticketTitle"])
	if err != nil {
		return nil, err
	}

	if err := s.Store.UpdateStatus(ctx, session.ID, models.PaymentPaid, session.PaymentIntentID); err != nil && !errors.Is(err, sql.ErrNoRows) {
		s.Logger.Error("PAYMENT", fmt.Sprintf("Failed to update payment record %s: %v", session.ID, err))
	}
	if n, err := s.Store.ExpireOpenSessions(ctx, bookingID, session.ID); err != nil {
		s.Logger.Warn("PAYMENT", fmt.Sprintf("Failed to expire open sessions of %s: %v", bookingID, err))
	} else if n > 0 {
		s.Logger.LogPayment("EXPIRE", bookingID, fmt.Sprintf("%d stale session(s) closed", n))
	}

	// A retired ticket still travels with its paid booking.
	if paid.Ticket != nil && paid.Ticket.ID != "" {
		return &PaymentSuccess{Success: true, Booking: paid, Ticket: paid.Ticket}, nil
	}
	ticket, err := s.Tickets.GetTicketByID(ctx, ticketID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTicketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load ticket: %w", err)
	}
	return &PaymentSuccess{Success: true, Booking: paid, Ticket: ticket}, nil
}

func (s *PaymentService) Status(ctx context.Context, sessionID string) (*PaymentStatus, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("%w: session ID is required", ErrValidation)
	}
	session, err := s.Gateway.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve payment status: %w", err)
	}
	return &PaymentStatus{
		PaymentStatus: session.PaymentStatus,
		CustomerEmail: session.CustomerEmail,
		AmountTotal:   session.AmountTotal,
		Metadata:      session.Metadata,
	}, nil
}

// UserHistory lists the payment records of a user, newest first.
func (s *PaymentService) UserHistory(ctx context.Context, caller models.Identity, email string) ([]models.Payment, error) {
	if !caller.IsAdmin() && !strings.EqualFold(caller.Email, email) {
		return nil, ErrForbidden
	}
	payments, err := s.Store.ListByUser(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	if payments == nil {
		payments = []models.Payment{}
	}
	return payments, nil
}

// WebhookError represents an error that occurred during webhook processing
type WebhookError struct {
	Category      string // "configuration", "validation", "processing"
	StatusCode    int
	PublicError   string
	InternalError string
	OriginalErr   error
}

func (e *WebhookError) Error() string {
	return e.InternalError
}

func (e *WebhookError) Unwrap() error {
	return e.OriginalErr
}

// HandleWebhook verifies and applies a Stripe event. A nil error means the
// event was handled or deliberately ignored and should be acknowledged.
func (s *PaymentService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := s.Gateway.ParseWebhook(payload, signature)
	if errors.Is(err, ErrWebhookNotConfigured) {
		s.Logger.Error("WEBHOOK", "Stripe webhook secret is not configured")
		return &WebhookError{
			Category:      "configuration",
			StatusCode:    http.StatusInternalServerError,
			PublicError:   "Webhook processing error",
			InternalError: err.Error(),
			OriginalErr:   err,
		}
	}
	if err != nil {
		s.Logger.LogSecurity("WEBHOOK_REJECTED", err.Error())
		return &WebhookError{
			Category:      "validation",
			StatusCode:    http.StatusBadRequest,
			PublicError:   "Webhook signature verification failed",
			InternalError: err.Error(),
			OriginalErr:   err,
		}
	}

	s.Logger.Info("WEBHOOK", fmt.Sprintf("Processing Stripe webhook event %s: %s", event.ID, event.Type))

	switch event.Type {
	case EventCheckoutCompleted:
		if event.Session.PaymentStatus != "paid" {
			s.Logger.Info("WEBHOOK", fmt.Sprintf("Session %s completed with payment status %s, waiting", event.Session.ID, event.Session.PaymentStatus))
			return nil
		}
		_, err := s.applySession(ctx, event.Session)
		switch {
		case err == nil:
			s.Logger.LogPayment("WEBHOOK", event.Session.ID, "payment applied")
		case errors.Is(err, ErrInvalidMetadata):
			return &WebhookError{
				Category:      "processing",
				StatusCode:    http.StatusBadRequest,
				PublicError:   "Invalid session metadata",
				InternalError: fmt.Sprintf("session %s: %v", event.Session.ID, err),
				OriginalErr:   err,
			}
		case errors.Is(err, booking.ErrAlreadyPaid), errors.Is(err, booking.ErrInvalidTransition), errors.Is(err, booking.ErrBookingNotFound):
			// Retrying cannot fix these. Flag them for a manual refund.
			s.Logger.LogSecurity("PAYMENT_UNAPPLIED", fmt.Sprintf("session %s: %v", event.Session.ID, err))
		default:
			return &WebhookError{
				Category:      "processing",
				StatusCode:    http.StatusInternalServerError,
				PublicError:   "Failed to process payment",
				InternalError: fmt.Sprintf("session %s: %v", event.Session.ID, err),
				OriginalErr:   err,
			}
		}

	case EventCheckoutExpired:
		err := s.Store.UpdateStatus(ctx, event.Session.ID, models.PaymentExpired, "")
		switch {
		case err == nil:
			s.Logger.LogPayment("EXPIRE", event.Session.ID, "checkout session expired")
		case errors.Is(err, sql.ErrNoRows):
			s.Logger.Debug("WEBHOOK", fmt.Sprintf("No pending payment record for expired session %s", event.Session.ID))
		default:
			return &WebhookError{
				Category:      "processing",
				StatusCode:    http.StatusInternalServerError,
				PublicError:   "Failed to process event",
				InternalError: fmt.Sprintf("session %s: %v", event.Session.ID, err),
				OriginalErr:   err,
			}
		}

	default:
		s.Logger.Info("WEBHOOK", fmt.Sprintf("Unhandled event type: %s", event.Type))
	}
	return nil
}
