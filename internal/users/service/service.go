package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"ticket-booking/internal/auth"
	"ticket-booking/internal/logger"
	"ticket-booking/internal/models"
	"ticket-booking/internal/utils"

	"github.com/google/uuid"
)

var (
	ErrUserExists         = errors.New("user already exists with this email")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrNotVendor          = errors.New("only vendors can be marked as fraud")
	ErrForbidden          = errors.New("not allowed to access this account")
	ErrValidation         = errors.New("validation failed")
)

type DBLayer interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	ListUsers(ctx context.Context, filter models.UserFilter, p utils.Pagination) ([]models.User, int, error)
	UpdateUser(ctx context.Context, user *models.User, columns ...string) error
	IsFraudVendor(ctx context.Context, email string) (bool, error)
}

// RoleCache drops stale cached roles after an update.
type RoleCache interface {
	Invalidate(ctx context.Context, email string) error
}

// AdvertisementClearer withdraws every advertisement of a vendor.
type AdvertisementClearer interface {
	ClearVendorAdvertisements(ctx context.Context, vendorEmail string) (int, error)
}

type UserService struct {
	DB         DBLayer
	Tokens     *auth.TokenManager
	Roles      RoleCache
	Ads        AdvertisementClearer
	BcryptCost int
	Logger     *logger.Logger
}

func NewUserService(db DBLayer, tokens *auth.TokenManager, bcryptCost int, log *logger.Logger) *UserService {
	return &UserService{DB: db, Tokens: tokens, BcryptCost: bcryptCost, Logger: log}
}

type RegisterInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
	ImageURL string `json:"imageUrl"`
}

type UpdateInput struct {
	Name     *string `json:"name"`
	ImageURL *string `json:"imageUrl"`
	Role     *string `json:"role"`
}

type AuthResult struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *UserService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	in.Email = normalizeEmail(in.Email)
	in.Name = strings.TrimSpace(in.Name)
	if in.Role == "" {
		in.Role = models.RoleUser
	}

	if in.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if _, err := mail.ParseAddress(in.Email); err != nil {
		return nil, fmt.Errorf("%w: a valid email is required", ErrValidation)
	}
	if len(in.Password) < 6 {
		return nil, fmt.Errorf("%w: password must be at least 6 characters", ErrValidation)
	}
	if in.Role != models.RoleUser && in.Role != models.RoleVendor {
		return nil, fmt.Errorf("%w: role must be user or vendor", ErrValidation)
	}

	existing, err := s.DB.GetUserByEmail(ctx, in.Email)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to check existing user: %w", err)
	}
	if existing != nil {
		return nil, ErrUserExists
	}

	hash, err := auth.HashPassword(in.Password, s.BcryptCost)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	user := &models.User{
		ID:           uuid.NewString(),
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: hash,
		Role:         in.Role,
		ImageURL:     in.ImageURL,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.DB.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	s.Logger.Info("USER", fmt.Sprintf("Registered %s as %s", user.Email, user.Role))

	return s.issue(user)
}

func (s *UserService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	user, err := s.DB.GetUserByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, sql.ErrNoRows) {
		s.Logger.LogSecurity("LOGIN_FAILED", normalizeEmail(email))
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if !auth.CheckPassword(user.PasswordHash, password) {
		s.Logger.LogSecurity("LOGIN_FAILED", user.Email)
		return nil, ErrInvalidCredentials
	}
	return s.issue(user)
}

func (s *UserService) issue(user *models.User) (*AuthResult, error) {
	token, err := s.Tokens.Issue(*user)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, User: user}, nil
}

// GetRole returns "" for unknown emails.
func (s *UserService) GetRole(ctx context.Context, email string) (string, error) {
	user, err := s.DB.GetUserByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return user.Role, nil
}

func (s *UserService) GetByEmail(ctx context.Context, caller models.Identity, email string) (*models.User, error) {
	email = normalizeEmail(email)
	if !caller.IsAdmin() && caller.Email != email {
		return nil, ErrForbidden
	}
	user, err := s.DB.GetUserByEmail(ctx, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	return user, err
}

func (s *UserService) List(ctx context.Context, filter models.UserFilter, p utils.Pagination) (utils.Page[models.User], error) {
	users, total, err := s.DB.ListUsers(ctx, filter, p)
	if err != nil {
		return utils.Page[models.User]{}, fmt.Errorf("failed to list users: %w", err)
	}
	return utils.NewPage(users, p, total), nil
}

// Update applies the whitelisted fields. Only admins may change roles.
func (s *UserService) Update(ctx context.Context, caller models.Identity, id string, in UpdateInput) (*models.User, error) {
	user, err := s.DB.GetUserByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	if !caller.IsAdmin() && caller.Email != user.Email {
		return nil, ErrForbidden
	}

	var columns []string
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: name cannot be empty", ErrValidation)
		}
		user.Name = name
		columns = append(columns, "name")
	}
	if in.ImageURL != nil {
		user.ImageURL = *in.ImageURL
		columns = append(columns, "image_url")
	}
	if in.Role != nil {
		if !caller.IsAdmin() {
			return nil, ErrForbidden
		}
		if !models.IsValidRole(*in.Role) {
			return nil, fmt.Errorf("%w: unknown role %q", ErrValidation, *in.Role)
		}
		user.Role = *in.Role
		columns = append(columns, "role")
	}
	if len(columns) == 0 {
		return user, nil
	}

	if err := s.DB.UpdateUser(ctx, user, columns...); err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	if in.Role != nil {
		s.invalidateRole(ctx, user.Email)
		s.Logger.LogSecurity("ROLE_CHANGED", fmt.Sprintf("%s is now %s (by %s)", user.Email, user.Role, caller.Email))
	}
	return user, nil
}

// MarkFraud flags or clears a vendor. Flagged vendors lose their
// advertisement slots.
func (s *UserService) MarkFraud(ctx context.Context, id string, isFraud bool) (*models.User, error) {
	user, err := s.DB.GetUserByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	if user.Role != models.RoleVendor {
		return nil, ErrNotVendor
	}

	user.IsFraud = isFraud
	if err := s.DB.UpdateUser(ctx, user, "is_fraud"); err != nil {
		return nil, fmt.Errorf("failed to update fraud status: %w", err)
	}
	s.Logger.LogSecurity("FRAUD_FLAG", fmt.Sprintf("%s isFraud=%t", user.Email, isFraud))

	if isFraud && s.Ads != nil {
		n, err := s.Ads.ClearVendorAdvertisements(ctx, user.Email)
		if err != nil {
			s.Logger.Error("USER", fmt.Sprintf("Failed to clear advertisements of %s: %v", user.Email, err))
		} else if n > 0 {
			s.Logger.Info("USER", fmt.Sprintf("Withdrew %d advertisement(s) of %s", n, user.Email))
		}
	}
	return user, nil
}

// IsFraudVendor lets other services refuse business with flagged vendors.
func (s *UserService) IsFraudVendor(ctx context.Context, email string) (bool, error) {
	return s.DB.IsFraudVendor(ctx, email)
}

// EnsureAdmin creates the bootstrap admin or promotes an existing account.
func (s *UserService) EnsureAdmin(ctx context.Context, name, email, password string) (*models.User, bool, error) {
	email = normalizeEmail(email)
	existing, err := s.DB.GetUserByEmail(ctx, email)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, false, err
	}
	if existing != nil {
		if existing.Role == models.RoleAdmin {
			return existing, false, nil
		}
		existing.Role = models.RoleAdmin
		if err := s.DB.UpdateUser(ctx, existing, "role"); err != nil {
			return nil, false, err
		}
		s.invalidateRole(ctx, email)
		return existing, false, nil
	}

	if password == "" {
		return nil, false, fmt.Errorf("%w: password is required to create the admin", ErrValidation)
	}
	hash, err := auth.HashPassword(password, s.BcryptCost)
	if err != nil {
		return nil, false, err
	}
	now := time.Now().UTC()
	admin := &models.User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         models.RoleAdmin,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.DB.CreateUser(ctx, admin); err != nil {
		return nil, false, err
	}
	return admin, true, nil
}

func (s *UserService) invalidateRole(ctx context.Context, email string) {
	if s.Roles == nil {
		return
	}
	if err := s.Roles.Invalidate(ctx, email); err != nil {
		s.Logger.Warn("USER", fmt.Sprintf("Failed to invalidate cached role for %s: %v", email, err))
	}
}
