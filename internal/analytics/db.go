package analytics

import (
	"context"
	"strings"

	"ticket-booking/internal/models"

	"github.com/uptrace/bun"
)

// DB handles analytics database operations
type DB struct {
	bun *bun.DB
}

// NewDB creates a new analytics DB handler
func NewDB(db *bun.DB) *DB {
	return &DB{bun: db}
}

// RecordSale stores a sale once; replays of the same booking are ignored.
// It reports whether a row was written.
func (db *DB) RecordSale(ctx context.Context, sale *models.Sale) (bool, error) {
	res, err := db.bun.NewInsert().
		Model(sale).
		On("CONFLICT (booking_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// GetSalesByVendor retrieves every sale of a vendor, oldest first
func (db *DB) GetSalesByVendor(ctx context.Context, vendorEmail string) ([]models.Sale, error) {
	var sales []models.Sale
	err := db.bun.NewSelect().
		Model(&sales).
		Where("vendor_email = ?", strings.ToLower(vendorEmail)).
		Order("sold_at ASC").
		Scan(ctx)
	return sales, err
}

// CountTicketsByVendor counts the listings a vendor has added
func (db *DB) CountTicketsByVendor(ctx context.Context, vendorEmail string) (int, error) {
	return db.bun.NewSelect().
		Model((*models.Ticket)(nil)).
		Where("vendor_email = ?", strings.ToLower(vendorEmail)).
		Count(ctx)
}
