package db

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"ticket-booking/internal/models"

	"github.com/uptrace/bun"
)

type DB struct {
	Bun *bun.DB
}

func (d *DB) SavePayment(ctx context.Context, payment *models.Payment) error {
	_, err := d.Bun.NewInsert().Model(payment).Exec(ctx)
	return err
}

func (d *DB) GetBySessionID(ctx context.Context, sessionID string) (*models.Payment, error) {
	var payment models.Payment
	err := d.Bun.NewSelect().
		Model(&payment).
		Where("session_id = ?", sessionID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// UpdateStatus moves a pending payment record to status. Records already out
// of pending are left alone and sql.ErrNoRows is returned.
func (d *DB) UpdateStatus(ctx context.Context, sessionID, status, paymentIntentID string) error {
	q := d.Bun.NewUpdate().
		Model((*models.Payment)(nil)).
		Set("status = ?", status).
		Set("updated_at = ?", time.Now().UTC()).
		Where("session_id = ?", sessionID).
		Where("status = ?", models.PaymentPending)
	if paymentIntentID != "" {
		q = q.Set("payment_intent_id = ?", paymentIntentID)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListByUser returns a user's payment history, newest first.
func (d *DB) ListByUser(ctx context.Context, userEmail string) ([]models.Payment, error) {
	var payments []models.Payment
	err := d.Bun.NewSelect().
		Model(&payments).
		Where("user_email = ?", strings.ToLower(userEmail)).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return payments, nil
}

// ExpireOpenSessions marks every other pending session of a booking expired
// once one of them has been paid.
func (d *DB) ExpireOpenSessions(ctx context.Context, bookingID, paidSessionID string) (int, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Payment)(nil)).
		Set("status = ?", models.PaymentExpired).
		Set("updated_at = ?", time.Now().UTC()).
		Where("booking_id = ?", bookingID).
		Where("session_id != ?", paidSessionID).
		Where("status = ?", models.PaymentPending).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
