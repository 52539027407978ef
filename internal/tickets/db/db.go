package db

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"time"

	"ticket-booking/internal/models"
	"ticket-booking/internal/utils"

	"github.com/uptrace/bun"
)

type DB struct {
	Bun *bun.DB
}

var sortColumns = map[string]string{
	"":               "created_at DESC",
	"desc":           "created_at DESC",
	"-createdAt":     "created_at DESC",
	"asc":            "created_at ASC",
	"createdAt":      "created_at ASC",
	"price":          "price ASC",
	"-price":         "price DESC",
	"departureDate":  "departure_date ASC, departure_time ASC",
	"-departureDate": "departure_date DESC, departure_time DESC",
}

// IsValidSort reports whether sort is a known ticket ordering.
func IsValidSort(sort string) bool {
	_, ok := sortColumns[sort]
	return ok
}

func (d *DB) CreateTicket(ctx context.Context, ticket *models.Ticket) error {
	_, err := d.Bun.NewInsert().Model(ticket).Exec(ctx)
	return err
}

func (d *DB) GetTicketByID(ctx context.Context, id string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := d.Bun.NewSelect().
		Model(&ticket).
		Where("id = ?", id).
		Where("deleted_at IS NULL").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

// UpdateTicket writes the given columns, always bumping updated_at.
func (d *DB) UpdateTicket(ctx context.Context, ticket *models.Ticket, columns ...string) error {
	ticket.UpdatedAt = time.Now().UTC()
	res, err := d.Bun.NewUpdate().
		Model(ticket).
		Column(append(columns, "updated_at")...).
		WherePK().
		Where("deleted_at IS NULL").
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteTicket retires a ticket. The row stays so bookings, payments and
// sales made on it keep their history.
func (d *DB) DeleteTicket(ctx context.Context, id string) error {
	now := time.Now().UTC()
	res, err := d.Bun.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("deleted_at = ?", now).
		Set("is_advertised = ?", false).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("deleted_at IS NULL").
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (d *DB) ListTickets(ctx context.Context, filter models.TicketFilter, p utils.Pagination) ([]models.Ticket, int, error) {
	var tickets []models.Ticket
	q := d.Bun.NewSelect().Model(&tickets)
	q = applyTicketFilter(q, filter)

	order, ok := sortColumns[filter.Sort]
	if !ok {
		order = sortColumns[""]
	}
	for _, clause := range strings.Split(order, ", ") {
		q = q.Order(clause)
	}

	total, err := q.Limit(p.Limit).Offset(p.Offset()).ScanAndCount(ctx)
	if err != nil {
		return nil, 0, err
	}
	return tickets, total, nil
}

func applyTicketFilter(q *bun.SelectQuery, f models.TicketFilter) *bun.SelectQuery {
	q = q.Where("deleted_at IS NULL")
	if term := strings.TrimSpace(f.SearchTerm); term != "" {
		pattern := "%" + strings.ToLower(term) + "%"
		q = q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("LOWER(ticket_title) LIKE ?", pattern).
				WhereOr("LOWER(from_location) LIKE ?", pattern).
				WhereOr("LOWER(to_location) LIKE ?", pattern)
		})
	}
	if f.TransportType != "" {
		q = q.Where("transport_type = ?", f.TransportType)
	}
	if f.VerificationStatus != "" {
		q = q.Where("verification_status = ?", f.VerificationStatus)
	}
	if from := strings.TrimSpace(f.From); from != "" {
		q = q.Where("LOWER(from_location) LIKE ?", "%"+strings.ToLower(from)+"%")
	}
	if to := strings.TrimSpace(f.To); to != "" {
		q = q.Where("LOWER(to_location) LIKE ?", "%"+strings.ToLower(to)+"%")
	}
	if f.MinPrice != nil {
		q = q.Where("price >= ?", *f.MinPrice)
	}
	if f.MaxPrice != nil {
		q = q.Where("price <= ?", *f.MaxPrice)
	}
	if f.VendorEmail != "" {
		q = q.Where("vendor_email = ?", strings.ToLower(f.VendorEmail))
	}
	if f.ApprovedOnly {
		q = q.Where("verification_status = ?", models.VerificationApproved)
	}
	if f.AdvertisedOnly {
		q = q.Where("is_advertised = ?", true)
	}
	if f.ExcludeFraud {
		q = q.Where("vendor_email NOT IN (?)", fraudVendors(q.DB()))
	}
	return q
}

func fraudVendors(db bun.IDB) *bun.SelectQuery {
	return db.NewSelect().
		Model((*models.User)(nil)).
		Column("email").
		Where("is_fraud = ?", true)
}

// Locations returns the sorted distinct origins and destinations of approved
// tickets from vendors in good standing.
func (d *DB) Locations(ctx context.Context) (models.Locations, error) {
	var rows []struct {
		From string `bun:"from_location"`
		To   string `bun:"to_location"`
	}
	err := d.Bun.NewSelect().
		Model((*models.Ticket)(nil)).
		Column("from_location", "to_location").
		Where("deleted_at IS NULL").
		Where("verification_status = ?", models.VerificationApproved).
		Where("vendor_email NOT IN (?)", fraudVendors(d.Bun)).
		Scan(ctx, &rows)
	if err != nil {
		return models.Locations{}, err
	}

	from := map[string]struct{}{}
	to := map[string]struct{}{}
	for _, r := range rows {
		from[r.From] = struct{}{}
		to[r.To] = struct{}{}
	}
	return models.Locations{From: sortedKeys(from), To: sortedKeys(to)}, nil
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// SetAdvertised flips the advertisement flag. Advertising only succeeds while
// fewer than limit tickets are advertised and the ticket is approved.
func (d *DB) SetAdvertised(ctx context.Context, id string, advertise bool, limit int) (bool, error) {
	q := d.Bun.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("is_advertised = ?", advertise).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("deleted_at IS NULL")

	if advertise {
		advertised := d.Bun.NewSelect().
			Model((*models.Ticket)(nil)).
			ColumnExpr("COUNT(*)").
			Where("is_advertised = ?", true).
			Where("deleted_at IS NULL").
			Where("id != ?", id)
		q = q.Where("verification_status = ?", models.VerificationApproved).
			Where("(?) < ?", advertised, limit)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (d *DB) CountAdvertised(ctx context.Context) (int, error) {
	return d.Bun.NewSelect().
		Model((*models.Ticket)(nil)).
		Where("is_advertised = ?", true).
		Where("deleted_at IS NULL").
		Count(ctx)
}

// ClearVendorAdvertisements withdraws every advertisement of a vendor.
func (d *DB) ClearVendorAdvertisements(ctx context.Context, vendorEmail string) (int, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("is_advertised = ?", false).
		Set("updated_at = ?", time.Now().UTC()).
		Where("vendor_email = ?", strings.ToLower(vendorEmail)).
		Where("is_advertised = ?", true).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// CountActiveBookings counts bookings still holding inventory of a ticket.
func (d *DB) CountActiveBookings(ctx context.Context, ticketID string) (int, error) {
	return d.Bun.NewSelect().
		Model((*models.Booking)(nil)).
		Where("ticket_id = ?", ticketID).
		Where("status IN (?)", bun.In(models.ActiveBookingStatuses)).
		Count(ctx)
}

func (d *DB) CountByVendor(ctx context.Context, vendorEmail string) (int, error) {
	return d.Bun.NewSelect().
		Model((*models.Ticket)(nil)).
		Where("vendor_email = ?", strings.ToLower(vendorEmail)).
		Where("deleted_at IS NULL").
		Count(ctx)
}
