package users_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"ticket-booking/internal/auth"
	"ticket-booking/internal/logger"
	"ticket-booking/internal/models"
	users "ticket-booking/internal/users/service"
	"ticket-booking/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockDBLayer struct {
	mock.Mock
}

func (m *MockDBLayer) CreateUser(ctx context.Context, user *models.User) error {
	args := m.Called(user)
	return args.Error(0)
}

func (m *MockDBLayer) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	args := m.Called(email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockDBLayer) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockDBLayer) ListUsers(ctx context.Context, filter models.UserFilter, p utils.Pagination) ([]models.User, int, error) {
	args := m.Called(filter, p)
	return args.Get(0).([]models.User), args.Int(1), args.Error(2)
}

func (m *MockDBLayer) UpdateUser(ctx context.Context, user *models.User, columns ...string) error {
	args := m.Called(user, columns)
	return args.Error(0)
}

func (m *MockDBLayer) IsFraudVendor(ctx context.Context, email string) (bool, error) {
	args := m.Called(email)
	return args.Bool(0), args.Error(1)
}

type MockRoleCache struct {
	mock.Mock
}

func (m *MockRoleCache) Invalidate(ctx context.Context, email string) error {
	return m.Called(email).Error(0)
}

type MockAds struct {
	mock.Mock
}

func (m *MockAds) ClearVendorAdvertisements(ctx context.Context, vendorEmail string) (int, error) {
	args := m.Called(vendorEmail)
	return args.Int(0), args.Error(1)
}

func newService(db *MockDBLayer) *users.UserService {
	return users.NewUserService(db, auth.NewTokenManager("secret", time.Hour), 4, logger.Discard())
}

func TestRegister(t *testing.T) {
	db := new(MockDBLayer)
	svc := newService(db)
	ctx := context.Background()

	db.On("GetUserByEmail", "new@mail.com").Return(nil, sql.ErrNoRows)
	db.On("CreateUser", mock.AnythingOfType("*models.User")).Return(nil)

	res, err := svc.Register(ctx, users.RegisterInput{Name: " New ", Email: " NEW@mail.com ", Password: "secret1"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
	assert.Equal(t, "new@mail.com", res.User.Email)
	assert.Equal(t, "New", res.User.Name)
	assert.Equal(t, models.RoleUser, res.User.Role)
	assert.NotEqual(t, "secret1", res.User.PasswordHash)
	assert.True(t, auth.CheckPassword(res.User.PasswordHash, "secret1"))
}

func TestRegisterRejects(t *testing.T) {
	db := new(MockDBLayer)
	svc := newService(db)
	ctx := context.Background()

	db.On("GetUserByEmail", "taken@mail.com").Return(&models.User{Email: "taken@mail.com"}, nil)

	_, err := svc.Register(ctx, users.RegisterInput{Name: "T", Email: "taken@mail.com", Password: "secret1"})
	assert.ErrorIs(t, err, users.ErrUserExists)

	_, err = svc.Register(ctx, users.RegisterInput{Name: "T", Email: "x@mail.com", Password: "secret1", Role: models.RoleAdmin})
	assert.ErrorIs(t, err, users.ErrValidation)

	_, err = svc.Register(ctx, users.RegisterInput{Name: "T", Email: "not-an-email", Password: "secret1"})
	assert.ErrorIs(t, err, users.ErrValidation)

	_, err = svc.Register(ctx, users.RegisterInput{Name: "T", Email: "x@mail.com", Password: "123"})
	assert.ErrorIs(t, err, users.ErrValidation)

	db.AssertNotCalled(t, "CreateUser", mock.Anything)
}

func TestLogin(t *testing.T) {
	db := new(MockDBLayer)
	svc := newService(db)
	ctx := context.Background()

	hash, err := auth.HashPassword("right-pass", 4)
	require.NoError(t, err)
	db.On("GetUserByEmail", "u@mail.com").Return(&models.User{ID: "u1", Email: "u@mail.com", PasswordHash: hash, Role: models.RoleUser}, nil)
	db.On("GetUserByEmail", "ghost@mail.com").Return(nil, sql.ErrNoRows)

	res, err := svc.Login(ctx, "U@mail.com", "right-pass")
	require.NoError(t, err)
	assert.Equal(t, "u1", res.User.ID)

	_, err = svc.Login(ctx, "u@mail.com", "wrong")
	assert.ErrorIs(t, err, users.ErrInvalidCredentials)

	_, err = svc.Login(ctx, "ghost@mail.com", "whatever")
	assert.ErrorIs(t, err, users.ErrInvalidCredentials)
}

func TestUpdateWhitelistAndRolePermissions(t *testing.T) {
	db := new(MockDBLayer)
	roles := new(MockRoleCache)
	svc := newService(db)
	svc.Roles = roles
	ctx := context.Background()

	self := models.Identity{Email: "me@mail.com", Role: models.RoleUser}
	admin := models.Identity{Email: "root@mail.com", Role: models.RoleAdmin}

	db.On("GetUserByID", "u1").Return(&models.User{ID: "u1", Email: "me@mail.com", Name: "Me", Role: models.RoleUser}, nil)
	db.On("UpdateUser", mock.AnythingOfType("*models.User"), []string{"name"}).Return(nil).Once()
	db.On("UpdateUser", mock.AnythingOfType("*models.User"), []string{"role"}).Return(nil).Once()
	roles.On("Invalidate", "me@mail.com").Return(nil)

	name := "Renamed"
	u, err := svc.Update(ctx, self, "u1", users.UpdateInput{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", u.Name)

	role := models.RoleVendor
	_, err = svc.Update(ctx, self, "u1", users.UpdateInput{Role: &role})
	assert.ErrorIs(t, err, users.ErrForbidden)

	other := models.Identity{Email: "other@mail.com", Role: models.RoleUser}
	_, err = svc.Update(ctx, other, "u1", users.UpdateInput{Name: &name})
	assert.ErrorIs(t, err, users.ErrForbidden)

	u, err = svc.Update(ctx, admin, "u1", users.UpdateInput{Role: &role})
	require.NoError(t, err)
	assert.Equal(t, models.RoleVendor, u.Role)
	roles.AssertCalled(t, "Invalidate", "me@mail.com")

	db.On("GetUserByID", "missing").Return(nil, sql.ErrNoRows)
	_, err = svc.Update(ctx, admin, "missing", users.UpdateInput{Name: &name})
	assert.ErrorIs(t, err, users.ErrUserNotFound)
}

func TestMarkFraud(t *testing.T) {
	db := new(MockDBLayer)
	ads := new(MockAds)
	svc := newService(db)
	svc.Ads = ads
	ctx := context.Background()

	db.On("GetUserByID", "vendor").Return(&models.User{ID: "vendor", Email: "v@shop.com", Role: models.RoleVendor}, nil)
	db.On("GetUserByID", "customer").Return(&models.User{ID: "customer", Email: "c@mail.com", Role: models.RoleUser}, nil)
	db.On("UpdateUser", mock.AnythingOfType("*models.User"), []string{"is_fraud"}).Return(nil)
	ads.On("ClearVendorAdvertisements", "v@shop.com").Return(2, nil)

	u, err := svc.MarkFraud(ctx, "vendor", true)
	require.NoError(t, err)
	assert.True(t, u.IsFraud)
	ads.AssertExpectations(t)

	_, err = svc.MarkFraud(ctx, "customer", true)
	assert.ErrorIs(t, err, users.ErrNotVendor)
}

func TestGetRoleUnknownIsEmpty(t *testing.T) {
	db := new(MockDBLayer)
	svc := newService(db)

	db.On("GetUserByEmail", "ghost@mail.com").Return(nil, sql.ErrNoRows)
	role, err := svc.GetRole(context.Background(), "ghost@mail.com")
	require.NoError(t, err)
	assert.Equal(t, "", role)
}

func TestEnsureAdmin(t *testing.T) {
	db := new(MockDBLayer)
	svc := newService(db)
	ctx := context.Background()

	db.On("GetUserByEmail", "root@mail.com").Return(nil, sql.ErrNoRows).Once()
	db.On("CreateUser", mock.AnythingOfType("*models.User")).Return(nil)

	admin, created, err := svc.EnsureAdmin(ctx, "Root", "root@mail.com", "pass1234")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, models.RoleAdmin, admin.Role)

	db.On("GetUserByEmail", "promote@mail.com").Return(&models.User{ID: "p", Email: "promote@mail.com", Role: models.RoleVendor}, nil)
	db.On("UpdateUser", mock.AnythingOfType("*models.User"), []string{"role"}).Return(nil)

	admin, created, err = svc.EnsureAdmin(ctx, "", "promote@mail.com", "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, models.RoleAdmin, admin.Role)
}
