package user_api

import (
	"errors"
	"fmt"
	"net/http"

	"ticket-booking/internal/auth"
	"ticket-booking/internal/logger"
	"ticket-booking/internal/models"
	users "ticket-booking/internal/users/service"
	"ticket-booking/internal/utils"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	UserService     *users.UserService
	Logger          *logger.Logger
	SecureCookies   bool
	DefaultPageSize int
	MaxPageSize     int
}

// RegisterRoutes mounts /users. authn guards everything except registration
// and login.
func (h *Handler) RegisterRoutes(r chi.Router, authn func(http.Handler) http.Handler) {
	r.Route("/users", func(r chi.Router) {
		r.Post("/", h.Register)
		r.Post("/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(authn)
			r.Get("/role/{email}", h.GetRole)
			r.Get("/email/{email}", h.GetByEmail)
			r.Patch("/{id}", h.Update)

			r.With(auth.RequireRole(models.RoleAdmin)).Get("/", h.List)
			r.With(auth.RequireRole(models.RoleAdmin)).Patch("/{id}/fraud", h.MarkFraud)
		})
	})
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var in users.RegisterInput
	if err := utils.DecodeJSON(r, &in); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	res, err := h.UserService.Register(r.Context(), in)
	if err != nil {
		h.writeError(w, "Failed to create user", err)
		return
	}

	auth.SetAccessTokenCookie(w, res.Token, h.UserService.Tokens.TTL(), h.SecureCookies)
	utils.WriteSuccess(w, http.StatusCreated, "User created successfully", res)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := utils.DecodeJSON(r, &body); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	res, err := h.UserService.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		h.writeError(w, "Login failed", err)
		return
	}

	auth.SetAccessTokenCookie(w, res.Token, h.UserService.Tokens.TTL(), h.SecureCookies)
	utils.WriteSuccess(w, http.StatusOK, "User logged in successfully", res)
}

func (h *Handler) GetRole(w http.ResponseWriter, r *http.Request) {
	role, err := h.UserService.GetRole(r.Context(), chi.URLParam(r, "email"))
	if err != nil {
		h.writeError(w, "Failed to retrieve user role", err)
		return
	}

	var data struct {
		Role *string `json:"role"`
	}
	if role != "" {
		data.Role = &role
	}
	utils.WriteSuccess(w, http.StatusOK, "User role retrieved successfully", data)
}

func (h *Handler) GetByEmail(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.FromContext(r.Context())
	user, err := h.UserService.GetByEmail(r.Context(), caller, chi.URLParam(r, "email"))
	if err != nil {
		h.writeError(w, "Failed to retrieve user", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "User retrieved successfully", user)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.UserFilter{
		SearchTerm: q.Get("searchTerm"),
		Role:       q.Get("role"),
	}
	p := utils.ParsePagination(q, h.DefaultPageSize, h.MaxPageSize)

	page, err := h.UserService.List(r.Context(), filter, p)
	if err != nil {
		h.writeError(w, "Failed to retrieve users", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Users retrieved successfully", page)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var in users.UpdateInput
	if err := utils.DecodeJSON(r, &in); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	caller, _ := auth.FromContext(r.Context())
	user, err := h.UserService.Update(r.Context(), caller, chi.URLParam(r, "id"), in)
	if err != nil {
		h.writeError(w, "Failed to update user", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "User updated successfully", user)
}

func (h *Handler) MarkFraud(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IsFraud *bool `json:"isFraud"`
	}
	if err := utils.DecodeJSON(r, &body); err != nil || body.IsFraud == nil {
		utils.WriteError(w, http.StatusBadRequest, "isFraud is required", err)
		return
	}

	user, err := h.UserService.MarkFraud(r.Context(), chi.URLParam(r, "id"), *body.IsFraud)
	if err != nil {
		h.writeError(w, "Failed to update fraud status", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "User fraud status updated successfully", user)
}

func (h *Handler) writeError(w http.ResponseWriter, fallback string, err error) {
	switch {
	case errors.Is(err, users.ErrValidation):
		utils.WriteError(w, http.StatusBadRequest, "Validation failed", err)
	case errors.Is(err, users.ErrUserExists):
		utils.WriteError(w, http.StatusConflict, "User already exists with this email", err)
	case errors.Is(err, users.ErrInvalidCredentials):
		utils.WriteError(w, http.StatusUnauthorized, "Invalid credentials", err)
	case errors.Is(err, users.ErrUserNotFound):
		utils.WriteError(w, http.StatusNotFound, "User not found", err)
	case errors.Is(err, users.ErrNotVendor):
		utils.WriteError(w, http.StatusBadRequest, "Only vendors can be marked as fraud", err)
	case errors.Is(err, users.ErrForbidden):
		utils.WriteError(w, http.StatusForbidden, "Forbidden access", err)
	default:
		h.Logger.Error("USER", fmt.Sprintf("%s: %v", fallback, err))
		utils.WriteError(w, http.StatusInternalServerError, fallback, err)
	}
}
