package db_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"ticket-booking/internal/auth"
	"ticket-booking/internal/database/dbtest"
	"ticket-booking/internal/models"
	"ticket-booking/internal/users/db"
	"ticket-booking/internal/utils"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

func setupTestDB(t *testing.T) (*db.DB, *bun.DB) {
	bunDB := dbtest.Open(t)
	return &db.DB{Bun: bunDB}, bunDB
}

func seedUser(t *testing.T, d *db.DB, name, email, role string, created time.Time) *models.User {
	u := &models.User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: "hash",
		Role:         role,
		CreatedAt:    created,
		UpdatedAt:    created,
	}
	require.NoError(t, d.CreateUser(context.Background(), u))
	return u
}

func TestGetUserByEmail(t *testing.T) {
	userDB, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	seedUser(t, userDB, "Alice", "alice@example.com", models.RoleUser, time.Now())

	u, err := userDB.GetUserByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Alice", u.Name)

	_, err = userDB.GetUserByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestDuplicateEmailRejected(t *testing.T) {
	userDB, bunDB := setupTestDB(t)
	defer bunDB.Close()

	seedUser(t, userDB, "Alice", "alice@example.com", models.RoleUser, time.Now())
	dup := &models.User{ID: uuid.NewString(), Name: "A2", Email: "alice@example.com", PasswordHash: "x", Role: models.RoleUser}
	assert.Error(t, userDB.CreateUser(context.Background(), dup))
}

func TestListUsers(t *testing.T) {
	userDB, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		seedUser(t, userDB, fmt.Sprintf("Vendor %d", i), fmt.Sprintf("v%d@shop.com", i), models.RoleVendor, base.Add(time.Duration(i)*time.Minute))
	}
	seedUser(t, userDB, "Bob Traveller", "bob@mail.com", models.RoleUser, base.Add(time.Hour))

	users, total, err := userDB.ListUsers(ctx, models.UserFilter{Role: models.RoleVendor}, utils.Pagination{Page: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, users, 2)
	assert.Equal(t, "Vendor 4", users[0].Name, "newest first")

	users, total, err = userDB.ListUsers(ctx, models.UserFilter{SearchTerm: "TRAVEL"}, utils.Pagination{Page: 1, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "bob@mail.com", users[0].Email)

	_, total, err = userDB.ListUsers(ctx, models.UserFilter{SearchTerm: "shop.com"}, utils.Pagination{Page: 3, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
}

func TestUpdateUserAndLookups(t *testing.T) {
	userDB, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	u := seedUser(t, userDB, "Vera", "vera@shop.com", models.RoleVendor, time.Now())

	role, err := userDB.LookupRole(ctx, "vera@shop.com")
	require.NoError(t, err)
	assert.Equal(t, models.RoleVendor, role)

	_, err = userDB.LookupRole(ctx, "ghost@shop.com")
	assert.ErrorIs(t, err, auth.ErrUnknownUser)

	fraud, err := userDB.IsFraudVendor(ctx, "vera@shop.com")
	require.NoError(t, err)
	assert.False(t, fraud)

	u.IsFraud = true
	require.NoError(t, userDB.UpdateUser(ctx, u, "is_fraud"))

	fraud, err = userDB.IsFraudVendor(ctx, "vera@shop.com")
	require.NoError(t, err)
	assert.True(t, fraud)

	missing := &models.User{ID: "missing"}
	assert.ErrorIs(t, userDB.UpdateUser(ctx, missing, "name"), sql.ErrNoRows)
}
