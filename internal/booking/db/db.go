package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"ticket-booking/internal/models"
	"ticket-booking/internal/utils"

	"github.com/uptrace/bun"
)

type DB struct {
	Bun *bun.DB
}

// InsufficientInventoryError is returned when a reservation cannot be taken
// from the ticket's remaining seats.
type InsufficientInventoryError struct {
	Available int
}

func (e *InsufficientInventoryError) Error() string {
	return fmt.Sprintf("only %d tickets available", e.Available)
}

var vendorSortColumns = map[string]string{
	"":          "booking.created_at",
	"createdAt": "booking.created_at",
	"total":     "booking.total_price",
	"quantity":  "booking.quantity",
}

// IsValidVendorSort reports whether sortBy is a known vendor booking ordering.
func IsValidVendorSort(sortBy string) bool {
	_, ok := vendorSortColumns[sortBy]
	return ok
}

// CreateWithReservation takes booking.Quantity seats from the ticket and
// inserts the booking in one transaction. The decrement is conditional, so
// concurrent reservations can never drive the quantity below zero.
func (d *DB) CreateWithReservation(ctx context.Context, booking *models.Booking) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*models.Ticket)(nil)).
			Set("quantity = quantity - ?", booking.Quantity).
			Set("updated_at = ?", time.Now().UTC()).
			Where("id = ?", booking.TicketID).
			Where("quantity >= ?", booking.Quantity).
			Where("verification_status = ?", models.VerificationApproved).
			Where("deleted_at IS NULL").
			Exec(ctx)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var available int
			err := tx.NewSelect().
				Model((*models.Ticket)(nil)).
				Column("quantity").
				Where("id = ?", booking.TicketID).
				Scan(ctx, &available)
			if err != nil {
				return err
			}
			return &InsufficientInventoryError{Available: available}
		}

		_, err = tx.NewInsert().Model(booking).Exec(ctx)
		return err
	})
}

func (d *DB) GetBookingByID(ctx context.Context, id string) (*models.Booking, error) {
	var booking models.Booking
	err := d.Bun.NewSelect().
		Model(&booking).
		Relation("Ticket").
		Where("booking.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &booking, nil
}

// GetByIdempotencyKey finds the booking a user created with a client key.
func (d *DB) GetByIdempotencyKey(ctx context.Context, userEmail, key string) (*models.Booking, error) {
	var booking models.Booking
	err := d.Bun.NewSelect().
		Model(&booking).
		Relation("Ticket").
		Where("booking.user_email = ?", strings.ToLower(userEmail)).
		Where("booking.idempotency_key = ?", key).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &booking, nil
}

// ListByUser returns a user's bookings, newest first.
func (d *DB) ListByUser(ctx context.Context, userEmail string) ([]models.Booking, error) {
	var bookings []models.Booking
	err := d.Bun.NewSelect().
		Model(&bookings).
		Relation("Ticket").
		Where("booking.user_email = ?", strings.ToLower(userEmail)).
		OrderExpr("booking.created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return bookings, nil
}

// ListByVendor pages through bookings made on a vendor's tickets.
func (d *DB) ListByVendor(ctx context.Context, filter models.BookingFilter, p utils.Pagination) ([]models.Booking, int, error) {
	var bookings []models.Booking
	q := d.Bun.NewSelect().
		Model(&bookings).
		Relation("Ticket").
		Where("booking.vendor_email = ?", strings.ToLower(filter.VendorEmail))

	if filter.Status != "" {
		q = q.Where("booking.status = ?", filter.Status)
	}
	if term := strings.TrimSpace(filter.Search); term != "" {
		pattern := "%" + strings.ToLower(term) + "%"
		q = q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("LOWER(booking.ticket_title) LIKE ?", pattern).
				WhereOr("LOWER(booking.user_name) LIKE ?", pattern).
				WhereOr("LOWER(booking.user_email) LIKE ?", pattern)
		})
	}

	column, ok := vendorSortColumns[filter.SortBy]
	if !ok {
		column = vendorSortColumns[""]
	}
	direction := "DESC"
	if strings.EqualFold(filter.SortOrder, "asc") {
		direction = "ASC"
	}
	q = q.OrderExpr(column + " " + direction)

	total, err := q.Limit(p.Limit).Offset(p.Offset()).ScanAndCount(ctx)
	if err != nil {
		return nil, 0, err
	}
	return bookings, total, nil
}

// Confirm moves a pending booking to confirmed and restarts its hold. It
// reports false when the booking was not pending.
func (d *DB) Confirm(ctx context.Context, id string, expiresAt time.Time) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Booking)(nil)).
		Set("status = ?", models.BookingConfirmed).
		Set("expires_at = ?", expiresAt.UTC()).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("status = ?", models.BookingPending).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ExtendHold pushes the hold of a confirmed booking out to until. Holds that
// already ended, or already last until then, are left alone.
func (d *DB) ExtendHold(ctx context.Context, id string, until time.Time) (bool, error) {
	now := time.Now().UTC()
	res, err := d.Bun.NewUpdate().
		Model((*models.Booking)(nil)).
		Set("expires_at = ?", until.UTC()).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("status = ?", models.BookingConfirmed).
		Where("expires_at > ?", now).
		Where("expires_at < ?", until.UTC()).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CancelAndRelease cancels a booking currently in one of fromStatuses and
// returns its seats to the ticket. When expiredBy is set only bookings whose
// hold ended by then are cancelled. The status guard makes the release
// happen at most once however many callers race. A nil booking means
// nothing was cancelled.
func (d *DB) CancelAndRelease(ctx context.Context, id string, fromStatuses []string, expiredBy *time.Time) (*models.Booking, error) {
	var cancelled *models.Booking
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		q := tx.NewUpdate().
			Model((*models.Booking)(nil)).
			Set("status = ?", models.BookingCancelled).
			Set("updated_at = ?", time.Now().UTC()).
			Where("id = ?", id).
			Where("status IN (?)", bun.In(fromStatuses))
		if expiredBy != nil {
			q = q.Where("expires_at <= ?", expiredBy.UTC())
		}
		res, err := q.Exec(ctx)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}

		var booking models.Booking
		if err := tx.NewSelect().Model(&booking).Where("id = ?", id).Scan(ctx); err != nil {
			return err
		}

		_, err = tx.NewUpdate().
			Model((*models.Ticket)(nil)).
			Set("quantity = quantity + ?", booking.Quantity).
			Set("updated_at = ?", time.Now().UTC()).
			Where("id = ?", booking.TicketID).
			Exec(ctx)
		if err != nil {
			return err
		}
		cancelled = &booking
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}

// MarkPaid records a completed payment on a confirmed booking. It reports
// false when the booking was not confirmed, e.g. because the same payment
// was already applied.
func (d *DB) MarkPaid(ctx context.Context, conf models.PaymentConfirmation, ticketTitle string) (bool, error) {
	q := d.Bun.NewUpdate().
		Model((*models.Booking)(nil)).
		Set("status = ?", models.BookingPaid).
		Set("stripe_session_id = ?", conf.SessionID).
		Set("payment_intent_id = ?", nullable(conf.PaymentIntentID)).
		Set("amount_paid = ?", conf.AmountPaid).
		Set("payment_date = ?", conf.PaidAt.UTC()).
		Set("expires_at = NULL").
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", conf.BookingID).
		Where("status = ?", models.BookingConfirmed)
	if ticketTitle != "" {
		q = q.Set("ticket_title = ?", ticketTitle)
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// ListExpired returns ids of non-terminal bookings whose hold ended by now.
func (d *DB) ListExpired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var ids []string
	err := d.Bun.NewSelect().
		Model((*models.Booking)(nil)).
		Column("id").
		Where("status IN (?)", bun.In(models.ActiveBookingStatuses)).
		Where("expires_at IS NOT NULL").
		Where("expires_at <= ?", now.UTC()).
		OrderExpr("expires_at ASC").
		Limit(limit).
		Scan(ctx, &ids)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// IsNotFound reports whether err means the row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
