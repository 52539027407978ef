package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"ticket-booking/internal/logger"
	"ticket-booking/internal/models"
)

type Store interface {
	RecordSale(ctx context.Context, sale *models.Sale) (bool, error)
	GetSalesByVendor(ctx context.Context, vendorEmail string) ([]models.Sale, error)
	CountTicketsByVendor(ctx context.Context, vendorEmail string) (int, error)
}

// Service handles analytics operations
type Service struct {
	Store    Store
	Location *time.Location
	Logger   *logger.Logger
}

// NewService creates a new analytics service
func NewService(store Store, loc *time.Location, log *logger.Logger) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{Store: store, Location: loc, Logger: log}
}

// HandleBookingPaid consumes a booking.paid event and records the sale.
func (s *Service) HandleBookingPaid(ctx context.Context, value []byte) error {
	var event models.BookingEvent
	if err := json.Unmarshal(value, &event); err != nil {
		// A malformed event will never parse; drop it instead of retrying.
		s.Logger.Error("ANALYTICS", fmt.Sprintf("Discarding malformed booking event: %v", err))
		return nil
	}
	if event.EventType != models.EventBookingPaid || event.BookingID == "" {
		return nil
	}

	amount := event.AmountPaid
	if amount == 0 {
		amount = event.TotalPrice
	}
	sale := &models.Sale{
		BookingID:   event.BookingID,
		TicketID:    event.TicketID,
		VendorEmail: strings.ToLower(event.VendorEmail),
		Quantity:    event.Quantity,
		Amount:      amount,
		SoldAt:      event.OccurredAt.UTC(),
	}
	recorded, err := s.Store.RecordSale(ctx, sale)
	if err != nil {
		return fmt.Errorf("failed to record sale %s: %w", event.BookingID, err)
	}
	if recorded {
		s.Logger.LogProcess("SALE", fmt.Sprintf("recorded %s for %s (%.2f)", event.BookingID, sale.VendorEmail, amount))
	}
	return nil
}

// RevenueOverview aggregates a vendor's sales into totals and a daily series
// keyed by calendar date in the service time zone.
func (s *Service) RevenueOverview(ctx context.Context, vendorEmail string) (*models.RevenueOverview, error) {
	sales, err := s.Store.GetSalesByVendor(ctx, vendorEmail)
	if err != nil {
		return nil, fmt.Errorf("failed to load sales: %w", err)
	}
	added, err := s.Store.CountTicketsByVendor(ctx, vendorEmail)
	if err != nil {
		return nil, fmt.Errorf("failed to count tickets: %w", err)
	}

	overview := &models.RevenueOverview{
		TotalTicketsAdded: added,
		Series:            []models.RevenuePoint{},
	}
	index := map[string]int{}
	for _, sale := range sales {
		overview.TotalRevenue += sale.Amount
		overview.TotalTicketsSold += sale.Quantity

		date := sale.SoldAt.In(s.Location).Format("2006-01-02")
		i, ok := index[date]
		if !ok {
			i = len(overview.Series)
			index[date] = i
			overview.Series = append(overview.Series, models.RevenuePoint{Date: date})
		}
		overview.Series[i].Revenue += sale.Amount
		overview.Series[i].TicketsSold += sale.Quantity
	}
	return overview, nil
}
