package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"ticket-booking/internal/auth"
	"ticket-booking/internal/models"
	"ticket-booking/internal/utils"

	"github.com/uptrace/bun"
)

type DB struct {
	Bun *bun.DB
}

// CreateUser → insert a new account
func (d *DB) CreateUser(ctx context.Context, user *models.User) error {
	_, err := d.Bun.NewInsert().Model(user).Exec(ctx)
	return err
}

// GetUserByEmail → fetch one account by its (lowercased) email
func (d *DB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := d.Bun.NewSelect().
		Model(&user).
		Where("email = ?", strings.ToLower(email)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUserByID → fetch one account by ID
func (d *DB) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := d.Bun.NewSelect().
		Model(&user).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// ListUsers → newest first, filtered by search term and role
func (d *DB) ListUsers(ctx context.Context, filter models.UserFilter, p utils.Pagination) ([]models.User, int, error) {
	var users []models.User
	q := d.Bun.NewSelect().Model(&users)

	if term := strings.TrimSpace(filter.SearchTerm); term != "" {
		pattern := "%" + strings.ToLower(term) + "%"
		q = q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("LOWER(name) LIKE ?", pattern).
				WhereOr("LOWER(email) LIKE ?", pattern)
		})
	}
	if filter.Role != "" {
		q = q.Where("role = ?", filter.Role)
	}

	total, err := q.
		Order("created_at DESC").
		Limit(p.Limit).
		Offset(p.Offset()).
		ScanAndCount(ctx)
	if err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

// UpdateUser → write the given columns, always bumping updated_at
func (d *DB) UpdateUser(ctx context.Context, user *models.User, columns ...string) error {
	user.UpdatedAt = time.Now().UTC()
	res, err := d.Bun.NewUpdate().
		Model(user).
		Column(append(columns, "updated_at")...).
		WherePK().
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// IsFraudVendor reports whether email belongs to a vendor flagged as fraud.
func (d *DB) IsFraudVendor(ctx context.Context, email string) (bool, error) {
	return d.Bun.NewSelect().
		Model((*models.User)(nil)).
		Where("email = ?", strings.ToLower(email)).
		Where("is_fraud = ?", true).
		Exists(ctx)
}

// LookupRole implements auth.RoleLookup.
func (d *DB) LookupRole(ctx context.Context, email string) (string, error) {
	var role string
	err := d.Bun.NewSelect().
		Model((*models.User)(nil)).
		Column("role").
		Where("email = ?", strings.ToLower(email)).
		Limit(1).
		Scan(ctx, &role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", auth.ErrUnknownUser
	}
	return role, err
}
