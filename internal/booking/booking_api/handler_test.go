package booking_api_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ticket-booking/internal/analytics"
	"ticket-booking/internal/auth"
	"ticket-booking/internal/booking/booking_api"
	bookingdb "ticket-booking/internal/booking/db"
	booking "ticket-booking/internal/booking/service"
	"ticket-booking/internal/config"
	"ticket-booking/internal/database/dbtest"
	"ticket-booking/internal/logger"
	"ticket-booking/internal/models"
	"ticket-booking/internal/sse"
	ticketdb "ticket-booking/internal/tickets/db"
	"ticket-booking/internal/tickets/qr"
	userdb "ticket-booking/internal/users/db"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type env struct {
	router  http.Handler
	svc     *booking.BookingService
	tickets *ticketdb.DB
	tokens  map[string]string
}

func setup(t *testing.T) *env {
	bunDB := dbtest.Open(t)
	ctx := context.Background()

	users := &userdb.DB{Bun: bunDB}
	tokenManager := auth.NewTokenManager("secret", time.Hour)
	tokens := map[string]string{}
	for _, u := range []models.User{
		{ID: uuid.NewString(), Name: "Rahim", Email: "user@example.com", Role: models.RoleUser},
		{ID: uuid.NewString(), Name: "Karim", Email: "other@example.com", Role: models.RoleUser},
		{ID: uuid.NewString(), Name: "Green Line", Email: "vendor@example.com", Role: models.RoleVendor},
	} {
		u := u
		u.PasswordHash = "hash"
		u.CreatedAt, u.UpdatedAt = time.Now(), time.Now()
		require.NoError(t, users.CreateUser(ctx, &u))
		token, err := tokenManager.Issue(u)
		require.NoError(t, err)
		tokens[u.Email] = token
	}

	tickets := &ticketdb.DB{Bun: bunDB}
	svc := booking.NewBookingService(&bookingdb.DB{Bun: bunDB}, tickets, config.BookingConfig{HoldTTL: time.Hour, PaymentWindow: time.Hour}, time.UTC, logger.Discard())
	svc.Vendors = users
	svc.QR = qr.NewQRGenerator("qr-secret")
	svc.Revenue = analytics.NewService(analytics.NewDB(bunDB), time.UTC, logger.Discard())
	events := sse.NewBookingEventEmitter()
	svc.Notifier = events

	h := &booking_api.Handler{BookingService: svc, Events: events, Logger: logger.Discard(), DefaultPageSize: 10, MaxPageSize: 50}
	r := chi.NewRouter()
	h.RegisterRoutes(r, auth.Middleware(tokenManager, users, logger.Discard()))

	return &env{router: r, svc: svc, tickets: tickets, tokens: tokens}
}

func (e *env) seedTicket(t *testing.T, qty int) *models.Ticket {
	now := time.Now().UTC()
	ticket := &models.Ticket{
		ID:                 uuid.NewString(),
		Title:              "Dhaka to Sylhet",
		From:               "Dhaka",
		To:                 "Sylhet",
		TransportType:      models.TransportBus,
		Price:              500,
		Quantity:           qty,
		DepartureDate:      now.AddDate(0, 0, 3).Format(models.DepartureDateLayout),
		DepartureTime:      "08:00",
		VendorEmail:        "vendor@example.com",
		VerificationStatus: models.VerificationApproved,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	require.NoError(t, e.tickets.CreateTicket(context.Background(), ticket))
	return ticket
}

func (e *env) do(t *testing.T, method, path, as string, body interface{}, headers ...string) (*httptest.ResponseRecorder, envelope) {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if as != "" {
		req.Header.Set("Authorization", "Bearer "+e.tokens[as])
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var out envelope
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func TestCreateBookingFlow(t *testing.T) {
	e := setup(t)
	ticket := e.seedTicket(t, 5)

	rec, _ := e.do(t, http.MethodPost, "/bookings", "vendor@example.com", map[string]interface{}{"ticketId": ticket.ID, "quantity": 1})
	assert.Equal(t, http.StatusForbidden, rec.Code, "vendors cannot book")

	rec, out := e.do(t, http.MethodPost, "/bookings", "user@example.com", map[string]interface{}{"ticketId": ticket.ID, "quantity": 2}, booking_api.IdempotencyHeader, "req-1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created models.Booking
	require.NoError(t, json.Unmarshal(out.Data, &created))
	assert.Equal(t, models.BookingPending, created.Status)
	assert.Equal(t, 1000.0, created.TotalPrice)

	rec, out = e.do(t, http.MethodPost, "/bookings", "user@example.com", map[string]interface{}{"ticketId": ticket.ID, "quantity": 2}, booking_api.IdempotencyHeader, "req-1")
	require.Equal(t, http.StatusOK, rec.Code)
	var replayed models.Booking
	require.NoError(t, json.Unmarshal(out.Data, &replayed))
	assert.Equal(t, created.ID, replayed.ID)

	rec, out = e.do(t, http.MethodPost, "/bookings", "user@example.com", map[string]interface{}{"ticketId": ticket.ID, "quantity": 4})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Only 3 tickets available", out.Message)

	rec, out = e.do(t, http.MethodPost, "/bookings", "user@example.com", map[string]interface{}{"ticketId": "missing", "quantity": 1})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Ticket not found", out.Message)

	rec, out = e.do(t, http.MethodGet, "/bookings/user/user@example.com", "user@example.com", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var mine []models.Booking
	require.NoError(t, json.Unmarshal(out.Data, &mine))
	assert.Len(t, mine, 1)

	rec, _ = e.do(t, http.MethodGet, "/bookings/user/user@example.com", "other@example.com", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDepartedTicketClosed(t *testing.T) {
	e := setup(t)
	ticket := e.seedTicket(t, 5)
	ticket.DepartureDate = time.Now().UTC().AddDate(0, 0, -1).Format(models.DepartureDateLayout)
	require.NoError(t, e.tickets.UpdateTicket(context.Background(), ticket, "departure_date"))

	rec, out := e.do(t, http.MethodPost, "/bookings", "user@example.com", map[string]interface{}{"ticketId": ticket.ID, "quantity": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Booking closed - departure time has passed", out.Message)
}

func TestVendorDecisionsAndListing(t *testing.T) {
	e := setup(t)
	ticket := e.seedTicket(t, 10)
	ctx := context.Background()
	user := models.Identity{Email: "user@example.com", Role: models.RoleUser, Name: "Rahim"}

	first, _, err := e.svc.CreateBooking(ctx, user, models.BookingRequest{TicketID: ticket.ID, Quantity: 2}, "")
	require.NoError(t, err)
	second, _, err := e.svc.CreateBooking(ctx, user, models.BookingRequest{TicketID: ticket.ID, Quantity: 3}, "")
	require.NoError(t, err)

	rec, _ := e.do(t, http.MethodPatch, "/bookings/"+first.ID, "user@example.com", map[string]string{"status": "accepted"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, out := e.do(t, http.MethodPatch, "/bookings/"+first.ID, "vendor@example.com", map[string]string{"status": "accepted"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, string(out.Data), `"status":"confirmed"`)

	rec, _ = e.do(t, http.MethodPatch, "/bookings/"+first.ID, "vendor@example.com", map[string]string{"status": "rejected"})
	assert.Equal(t, http.StatusConflict, rec.Code, "confirmed bookings are no longer the vendor's to reject")

	rec, _ = e.do(t, http.MethodPatch, "/bookings/"+second.ID, "vendor@example.com", map[string]string{"status": "rejected"})
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := e.tickets.GetTicketByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, 8, got.Quantity, "rejected seats return to the ticket")

	rec, out = e.do(t, http.MethodGet, "/bookings/vendor/vendor@example.com?status=approved", "vendor@example.com", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(out.Data), `"total":1`)
	assert.Contains(t, string(out.Data), first.ID)

	rec, _ = e.do(t, http.MethodGet, "/bookings/vendor/vendor@example.com?sortBy=price", "vendor@example.com", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = e.do(t, http.MethodGet, "/bookings/vendor/vendor@example.com", "user@example.com", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, out = e.do(t, http.MethodGet, "/bookings/vendor/vendor@example.com/revenue", "vendor@example.com", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(out.Data), `"totalTicketsAdded":1`)
}

func TestTicketQRRequiresPayment(t *testing.T) {
	e := setup(t)
	ticket := e.seedTicket(t, 10)
	ctx := context.Background()
	user := models.Identity{Email: "user@example.com", Role: models.RoleUser}
	vendor := models.Identity{Email: "vendor@example.com", Role: models.RoleVendor}

	b, _, err := e.svc.CreateBooking(ctx, user, models.BookingRequest{TicketID: ticket.ID, Quantity: 1}, "")
	require.NoError(t, err)

	rec, _ := e.do(t, http.MethodGet, "/bookings/"+b.ID+"/qr", "user@example.com", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	_, err = e.svc.UpdateStatus(ctx, vendor, b.ID, "confirmed")
	require.NoError(t, err)
	_, err = e.svc.MarkPaid(ctx, models.PaymentConfirmation{BookingID: b.ID, SessionID: "cs_test", AmountPaid: 500, PaidAt: time.Now()}, ticket.Title)
	require.NoError(t, err)

	rec, _ = e.do(t, http.MethodGet, "/bookings/"+b.ID+"/qr", "user@example.com", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))

	rec, _ = e.do(t, http.MethodGet, "/bookings/"+b.ID+"/qr", "other@example.com", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	paid, err := e.svc.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	encoded, err := e.svc.QR.Encrypt(qr.PassFor(*paid, paid.Ticket, time.Now()))
	require.NoError(t, err)

	rec, out := e.do(t, http.MethodPost, "/bookings/verify-pass", "vendor@example.com", map[string]string{"encryptedQr": encoded})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(out.Data), b.ID)

	rec, _ = e.do(t, http.MethodPost, "/bookings/verify-pass", "vendor@example.com", map[string]string{"encryptedQr": encoded[:len(encoded)/2]})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVendorStream(t *testing.T) {
	e := setup(t)
	ticket := e.seedTicket(t, 10)
	srv := httptest.NewServer(e.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/bookings/vendor/vendor@example.com/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+e.tokens["vendor@example.com"])

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: connected\n", line)

	user := models.Identity{Email: "user@example.com", Role: models.RoleUser}
	b, _, err := e.svc.CreateBooking(context.Background(), user, models.BookingRequest{TicketID: ticket.ID, Quantity: 1}, "")
	require.NoError(t, err)

	var event, data string
	for event == "" || data == "" {
		line, err = reader.ReadString('\n')
		require.NoError(t, err)
		switch {
		case strings.HasPrefix(line, "event: ") && !strings.Contains(line, "connected"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: ") && event != "":
			data = line
		}
	}
	assert.Equal(t, models.EventBookingCreated, event)
	assert.Contains(t, data, b.ID)

	rec, _ := e.do(t, http.MethodGet, "/bookings/vendor/someone@example.com/stream", "vendor@example.com", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
