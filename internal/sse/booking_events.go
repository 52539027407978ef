package sse

import (
	"context"
	"strings"
	"sync"

	"ticket-booking/internal/models"
)

// BookingNotice is one message pushed to a vendor dashboard.
type BookingNotice struct {
	Type    string         `json:"type"`
	Booking models.Booking `json:"booking"`
}

// BookingEventEmitter fans booking notices out to the SSE streams of the
// vendor that owns the booked ticket.
type BookingEventEmitter struct {
	// key: lowercased vendor email
	vendorClients map[string][]chan BookingNotice
	mu            sync.RWMutex
}

func NewBookingEventEmitter() *BookingEventEmitter {
	return &BookingEventEmitter{
		vendorClients: make(map[string][]chan BookingNotice),
	}
}

// SubscribeToVendor registers a client until ctx is done, at which point the
// returned channel is closed.
func (e *BookingEventEmitter) SubscribeToVendor(ctx context.Context, vendorEmail string) <-chan BookingNotice {
	key := strings.ToLower(vendorEmail)
	clientChan := make(chan BookingNotice, 10)

	e.mu.Lock()
	e.vendorClients[key] = append(e.vendorClients[key], clientChan)
	e.mu.Unlock()

	go func() {
		<-ctx.Done()
		e.removeVendorClient(key, clientChan)
	}()

	return clientChan
}

// Emit broadcasts a notice to the owning vendor's clients. Slow clients with
// a full buffer miss the notice.
func (e *BookingEventEmitter) Emit(eventType string, booking models.Booking) {
	booking.Ticket = nil
	notice := BookingNotice{Type: eventType, Booking: booking}

	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, clientChan := range e.vendorClients[strings.ToLower(booking.VendorEmail)] {
		select {
		case clientChan <- notice:
		default:
		}
	}
}

func (e *BookingEventEmitter) removeVendorClient(key string, clientChan chan BookingNotice) {
	e.mu.Lock()
	defer e.mu.Unlock()

	clients := e.vendorClients[key]
	for i, ch := range clients {
		if ch == clientChan {
			e.vendorClients[key] = append(clients[:i], clients[i+1:]...)
			close(clientChan)
			break
		}
	}

	if len(e.vendorClients[key]) == 0 {
		delete(e.vendorClients, key)
	}
}

// ClientCount returns the number of open streams of a vendor.
func (e *BookingEventEmitter) ClientCount(vendorEmail string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.vendorClients[strings.ToLower(vendorEmail)])
}
