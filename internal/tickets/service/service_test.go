package tickets_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"ticket-booking/internal/logger"
	"ticket-booking/internal/models"
	tickets "ticket-booking/internal/tickets/service"
	"ticket-booking/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockTicketDBLayer is a mock implementation of the DBLayer interface
type MockTicketDBLayer struct {
	mock.Mock
}

func (m *MockTicketDBLayer) CreateTicket(ctx context.Context, ticket *models.Ticket) error {
	args := m.Called(ticket)
	return args.Error(0)
}

func (m *MockTicketDBLayer) GetTicketByID(ctx context.Context, id string) (*models.Ticket, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Ticket), args.Error(1)
}

func (m *MockTicketDBLayer) UpdateTicket(ctx context.Context, ticket *models.Ticket, columns ...string) error {
	args := m.Called(ticket, columns)
	return args.Error(0)
}

func (m *MockTicketDBLayer) DeleteTicket(ctx context.Context, id string) error {
	args := m.Called(id)
	return args.Error(0)
}

func (m *MockTicketDBLayer) ListTickets(ctx context.Context, filter models.TicketFilter, p utils.Pagination) ([]models.Ticket, int, error) {
	args := m.Called(filter, p)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]models.Ticket), args.Int(1), args.Error(2)
}

func (m *MockTicketDBLayer) Locations(ctx context.Context) (models.Locations, error) {
	args := m.Called()
	return args.Get(0).(models.Locations), args.Error(1)
}

func (m *MockTicketDBLayer) SetAdvertised(ctx context.Context, id string, advertise bool, limit int) (bool, error) {
	args := m.Called(id, advertise, limit)
	return args.Bool(0), args.Error(1)
}

func (m *MockTicketDBLayer) CountAdvertised(ctx context.Context) (int, error) {
	args := m.Called()
	return args.Int(0), args.Error(1)
}

func (m *MockTicketDBLayer) CountActiveBookings(ctx context.Context, ticketID string) (int, error) {
	args := m.Called(ticketID)
	return args.Int(0), args.Error(1)
}

type MockVendors struct {
	mock.Mock
}

func (m *MockVendors) IsFraudVendor(ctx context.Context, email string) (bool, error) {
	args := m.Called(email)
	return args.Bool(0), args.Error(1)
}

type MockLocationCache struct {
	mock.Mock
}

func (m *MockLocationCache) GetLocations(ctx context.Context) (*models.Locations, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Locations), args.Error(1)
}

func (m *MockLocationCache) SetLocations(ctx context.Context, locations models.Locations) error {
	return m.Called(locations).Error(0)
}

func (m *MockLocationCache) InvalidateLocations(ctx context.Context) error {
	return m.Called().Error(0)
}

type MockKafka struct {
	mock.Mock
}

func (m *MockKafka) Publish(topic, key string, value []byte) error {
	return m.Called(topic, key, value).Error(0)
}

var (
	vendor   = models.Identity{UserID: "v1", Email: "vendor@example.com", Role: models.RoleVendor, Name: "Green Line"}
	admin    = models.Identity{UserID: "a1", Email: "admin@example.com", Role: models.RoleAdmin}
	fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
)

func newService(db *MockTicketDBLayer, vendors tickets.VendorDirectory) *tickets.TicketService {
	svc := tickets.NewTicketService(db, vendors, 6, time.UTC, logger.Discard())
	svc.Now = func() time.Time { return fixedNow }
	return svc
}

func strPtr(s string) *string { return &s }

func validInput() tickets.TicketInput {
	price, qty := 850.0, 40
	perks := []string{"AC", " ac ", "", "WiFi"}
	return tickets.TicketInput{
		Title:         strPtr("Dhaka Express"),
		From:          strPtr("Dhaka"),
		To:            strPtr("Chittagong"),
		TransportType: strPtr("Bus"),
		Price:         &price,
		Quantity:      &qty,
		DepartureDate: strPtr("2025-03-10"),
		DepartureTime: strPtr("08:00"),
		Perks:         &perks,
		Image:         strPtr("https://img.example.com/bus.png"),
	}
}

func TestCreateTicket(t *testing.T) {
	mockDB := new(MockTicketDBLayer)
	vendors := new(MockVendors)
	svc := newService(mockDB, vendors)

	vendors.On("IsFraudVendor", vendor.Email).Return(false, nil)
	mockDB.On("CreateTicket", mock.AnythingOfType("*models.Ticket")).Return(nil)

	ticket, err := svc.CreateTicket(context.Background(), vendor, validInput())
	require.NoError(t, err)
	assert.Equal(t, models.VerificationPending, ticket.VerificationStatus)
	assert.Equal(t, "bus", ticket.TransportType)
	assert.Equal(t, "vendor@example.com", ticket.VendorEmail)
	assert.Equal(t, "Green Line", ticket.VendorName)
	assert.Equal(t, []string{"AC", "WiFi"}, ticket.Perks)
	assert.False(t, ticket.IsAdvertised)
	assert.NotEmpty(t, ticket.ID)
	mockDB.AssertExpectations(t)
}

func TestCreateTicketValidation(t *testing.T) {
	cases := map[string]func(in *tickets.TicketInput){
		"missing title":  func(in *tickets.TicketInput) { in.Title = nil },
		"same endpoints": func(in *tickets.TicketInput) { in.To = strPtr("dhaka") },
		"bad transport":  func(in *tickets.TicketInput) { in.TransportType = strPtr("rocket") },
		"zero quantity":  func(in *tickets.TicketInput) { q := 0; in.Quantity = &q },
		"negative price": func(in *tickets.TicketInput) { p := -1.0; in.Price = &p },
		"bad date":       func(in *tickets.TicketInput) { in.DepartureDate = strPtr("10/03/2025") },
		"bad time":       func(in *tickets.TicketInput) { in.DepartureTime = strPtr("8am") },
		"relative image": func(in *tickets.TicketInput) { in.Image = strPtr("/bus.png") },
		"past departure": func(in *tickets.TicketInput) { in.DepartureDate = strPtr("2025-02-28") },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			mockDB := new(MockTicketDBLayer)
			vendors := new(MockVendors)
			vendors.On("IsFraudVendor", vendor.Email).Return(false, nil)
			svc := newService(mockDB, vendors)

			in := validInput()
			mutate(&in)
			_, err := svc.CreateTicket(context.Background(), vendor, in)
			assert.ErrorIs(t, err, tickets.ErrValidation)
			mockDB.AssertNotCalled(t, "CreateTicket", mock.Anything)
		})
	}
}

func TestCreateTicketFraudVendor(t *testing.T) {
	mockDB := new(MockTicketDBLayer)
	vendors := new(MockVendors)
	svc := newService(mockDB, vendors)
	vendors.On("IsFraudVendor", vendor.Email).Return(true, nil)

	_, err := svc.CreateTicket(context.Background(), vendor, validInput())
	assert.ErrorIs(t, err, tickets.ErrVendorFraud)
	mockDB.AssertNotCalled(t, "CreateTicket", mock.Anything)
}

func TestGetTicketNotFound(t *testing.T) {
	mockDB := new(MockTicketDBLayer)
	svc := newService(mockDB, nil)
	mockDB.On("GetTicketByID", "missing").Return(nil, sql.ErrNoRows)

	_, err := svc.GetTicket(context.Background(), "missing")
	assert.ErrorIs(t, err, tickets.ErrTicketNotFound)
}

func TestListApprovedForcesPublicScope(t *testing.T) {
	mockDB := new(MockTicketDBLayer)
	svc := newService(mockDB, nil)
	p := utils.Pagination{Page: 2, Limit: 5}

	mockDB.On("ListTickets", mock.MatchedBy(func(f models.TicketFilter) bool {
		return f.ApprovedOnly && f.ExcludeFraud && f.VerificationStatus == "" && f.VendorEmail == "" && f.SearchTerm == "dhaka"
	}), p).Return([]models.Ticket{{ID: "t1"}}, 6, nil)

	page, err := svc.ListApproved(context.Background(), models.TicketFilter{
		SearchTerm:         "dhaka",
		VerificationStatus: models.VerificationPending,
		VendorEmail:        "someone@example.com",
	}, p)
	require.NoError(t, err)
	assert.Len(t, page.Data, 1)
	assert.Equal(t, utils.Meta{Page: 2, Limit: 5, Total: 6}, page.Meta)
}

func TestListByVendorOwnership(t *testing.T) {
	mockDB := new(MockTicketDBLayer)
	svc := newService(mockDB, nil)
	p := utils.Pagination{Page: 1, Limit: 10}

	_, err := svc.ListByVendor(context.Background(), vendor, "other@example.com", models.TicketFilter{}, p)
	assert.ErrorIs(t, err, tickets.ErrNotOwner)

	mockDB.On("ListTickets", mock.MatchedBy(func(f models.TicketFilter) bool {
		return f.VendorEmail == "other@example.com" && !f.ApprovedOnly
	}), p).Return([]models.Ticket{}, 0, nil)
	_, err = svc.ListByVendor(context.Background(), admin, "Other@example.com", models.TicketFilter{}, p)
	assert.NoError(t, err)
}

func TestModifyTicket(t *testing.T) {
	mockDB := new(MockTicketDBLayer)
	svc := newService(mockDB, nil)
	existing := &models.Ticket{
		ID: "t1", Title: "Old", From: "Dhaka", To: "Sylhet", TransportType: models.TransportBus,
		Price: 500, Quantity: 10, DepartureDate: "2025-03-10", DepartureTime: "08:00",
		Image: "https://img.example.com/a.png", VendorEmail: vendor.Email, VerificationStatus: models.VerificationApproved,
	}
	mockDB.On("GetTicketByID", "t1").Return(existing, nil)
	mockDB.On("UpdateTicket", existing, []string{"ticket_title", "price"}).Return(nil)

	price := 650.0
	updated, err := svc.ModifyTicket(context.Background(), vendor, "t1", tickets.TicketInput{Title: strPtr("New"), Price: &price})
	require.NoError(t, err)
	assert.Equal(t, "New", updated.Title)
	assert.Equal(t, 650.0, updated.Price)
	mockDB.AssertExpectations(t)
}

func TestModifySoldOutTicket(t *testing.T) {
	mockDB := new(MockTicketDBLayer)
	svc := newService(mockDB, nil)
	soldOut := &models.Ticket{
		ID: "t1", Title: "Dhaka Express", From: "Dhaka", To: "Sylhet", TransportType: models.TransportTrain,
		Price: 500, Quantity: 0, DepartureDate: "2025-03-10", DepartureTime: "08:00",
		Image: "https://img.example.com/a.png", VendorEmail: vendor.Email, VerificationStatus: models.VerificationApproved,
	}
	mockDB.On("GetTicketByID", "t1").Return(soldOut, nil)
	mockDB.On("UpdateTicket", soldOut, []string{"ticket_title"}).Return(nil)

	updated, err := svc.ModifyTicket(context.Background(), vendor, "t1", tickets.TicketInput{Title: strPtr("Dhaka Express AC")})
	require.NoError(t, err)
	assert.Equal(t, "Dhaka Express AC", updated.Title)
	assert.Equal(t, 0, updated.Quantity)
	mockDB.AssertExpectations(t)
}

func TestModifyTicketQuantityRules(t *testing.T) {
	mockDB := new(MockTicketDBLayer)
	svc := newService(mockDB, nil)
	listing := func() *models.Ticket {
		return &models.Ticket{
			ID: "t1", Title: "Dhaka Express", From: "Dhaka", To: "Sylhet", TransportType: models.TransportBus,
			Price: 500, Quantity: 5, DepartureDate: "2025-03-10", DepartureTime: "08:00",
			Image: "https://img.example.com/a.png", VendorEmail: vendor.Email, VerificationStatus: models.VerificationApproved,
		}
	}
	mockDB.On("GetTicketByID", "t1").Return(listing(), nil).Once()
	mockDB.On("UpdateTicket", mock.AnythingOfType("*models.Ticket"), []string{"quantity"}).Return(nil)

	zero := 0
	closed, err := svc.ModifyTicket(context.Background(), vendor, "t1", tickets.TicketInput{Quantity: &zero})
	require.NoError(t, err, "vendors close sales by zeroing quantity")
	assert.Equal(t, 0, closed.Quantity)

	mockDB.On("GetTicketByID", "t1").Return(listing(), nil)
	negative := -1
	_, err = svc.ModifyTicket(context.Background(), vendor, "t1", tickets.TicketInput{Quantity: &negative})
	assert.ErrorIs(t, err, tickets.ErrValidation)

	_, err = svc.ModifyTicket(context.Background(), vendor, "t1", tickets.TicketInput{To: strPtr("dhaka")})
	assert.ErrorIs(t, err, tickets.ErrValidation)
	mockDB.AssertNumberOfCalls(t, "UpdateTicket", 1)
}

func TestModifyTicketRejectedOrForeign(t *testing.T) {
	mockDB := new(MockTicketDBLayer)
	svc := newService(mockDB, nil)
	mockDB.On("GetTicketByID", "rejected").Return(&models.Ticket{ID: "rejected", VendorEmail: vendor.Email, VerificationStatus: models.VerificationRejected}, nil)
	mockDB.On("GetTicketByID", "foreign").Return(&models.Ticket{ID: "foreign", VendorEmail: "x@example.com"}, nil)

	_, err := svc.ModifyTicket(context.Background(), vendor, "rejected", tickets.TicketInput{Title: strPtr("New")})
	assert.ErrorIs(t, err, tickets.ErrTicketRejected)

	_, err = svc.ModifyTicket(context.Background(), vendor, "foreign", tickets.TicketInput{Title: strPtr("New")})
	assert.ErrorIs(t, err, tickets.ErrNotOwner)
}

func TestDeleteTicketWithActiveBookings(t *testing.T) {
	mockDB := new(MockTicketDBLayer)
	svc := newService(mockDB, nil)
	mockDB.On("GetTicketByID", "t1").Return(&models.Ticket{ID: "t1", VendorEmail: vendor.Email}, nil)
	mockDB.On("CountActiveBookings", "t1").Return(2, nil).Once()

	res, err := svc.DeleteTicket(context.Background(), vendor, "t1")
	assert.ErrorIs(t, err, tickets.ErrHasActiveBookings)
	assert.False(t, res.Deleted)
	assert.Contains(t, res.Reason, "2 active booking(s)")
	mockDB.AssertNotCalled(t, "DeleteTicket", "t1")

	mockDB.On("CountActiveBookings", "t1").Return(0, nil).Once()
	mockDB.On("DeleteTicket", "t1").Return(nil)
	res, err = svc.DeleteTicket(context.Background(), vendor, "t1")
	require.NoError(t, err)
	assert.True(t, res.Deleted)
}

func TestUpdateStatusRejectClearsAdvertisement(t *testing.T) {
	mockDB := new(MockTicketDBLayer)
	cache := new(MockLocationCache)
	kafka := new(MockKafka)
	svc := newService(mockDB, nil)
	svc.Cache = cache
	svc.Kafka = kafka
	svc.StatusTopic = "ticketbooking.ticket.status"

	ticket := &models.Ticket{ID: "t1", VendorEmail: vendor.Email, VerificationStatus: models.VerificationApproved, IsAdvertised: true}
	mockDB.On("GetTicketByID", "t1").Return(ticket, nil)
	mockDB.On("UpdateTicket", ticket, []string{"verification_status", "is_advertised"}).Return(nil)
	cache.On("InvalidateLocations").Return(nil)
	kafka.On("Publish", "ticketbooking.ticket.status", "t1", mock.MatchedBy(func(v []byte) bool {
		var ev models.TicketStatusEvent
		return json.Unmarshal(v, &ev) == nil && ev.VerificationStatus == models.VerificationRejected && !ev.IsAdvertised
	})).Return(nil)

	updated, err := svc.UpdateStatus(context.Background(), "t1", "Rejected")
	require.NoError(t, err)
	assert.Equal(t, models.VerificationRejected, updated.VerificationStatus)
	assert.False(t, updated.IsAdvertised)
	mockDB.AssertExpectations(t)
	cache.AssertExpectations(t)
	kafka.AssertExpectations(t)

	_, err = svc.UpdateStatus(context.Background(), "t1", "archived")
	assert.ErrorIs(t, err, tickets.ErrValidation)
}

func TestSetAdvertisement(t *testing.T) {
	mockDB := new(MockTicketDBLayer)
	vendors := new(MockVendors)
	svc := newService(mockDB, vendors)

	mockDB.On("GetTicketByID", "pending").Return(&models.Ticket{ID: "pending", VerificationStatus: models.VerificationPending}, nil)
	_, err := svc.SetAdvertisement(context.Background(), "pending", true)
	assert.ErrorIs(t, err, tickets.ErrNotApproved)

	approved := &models.Ticket{ID: "t1", VendorEmail: vendor.Email, VerificationStatus: models.VerificationApproved}
	mockDB.On("GetTicketByID", "t1").Return(approved, nil)
	vendors.On("IsFraudVendor", vendor.Email).Return(false, nil)
	mockDB.On("SetAdvertised", "t1", true, 6).Return(false, nil).Once()

	_, err = svc.SetAdvertisement(context.Background(), "t1", true)
	assert.ErrorIs(t, err, tickets.ErrAdvertisementLimit)

	mockDB.On("SetAdvertised", "t1", true, 6).Return(true, nil).Once()
	updated, err := svc.SetAdvertisement(context.Background(), "t1", true)
	require.NoError(t, err)
	assert.True(t, updated.IsAdvertised)
}

func TestLocationsUsesCache(t *testing.T) {
	mockDB := new(MockTicketDBLayer)
	cache := new(MockLocationCache)
	svc := newService(mockDB, nil)
	svc.Cache = cache

	fresh := models.Locations{From: []string{"Dhaka"}, To: []string{"Sylhet"}}
	cache.On("GetLocations").Return(nil, nil).Once()
	mockDB.On("Locations").Return(fresh, nil).Once()
	cache.On("SetLocations", fresh).Return(nil).Once()

	got, err := svc.Locations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fresh, got)

	cache.On("GetLocations").Return(&fresh, nil).Once()
	got, err = svc.Locations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fresh, got)
	mockDB.AssertNumberOfCalls(t, "Locations", 1)
}
