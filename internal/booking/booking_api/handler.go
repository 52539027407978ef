package booking_api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"ticket-booking/internal/auth"
	bookingdb "ticket-booking/internal/booking/db"
	booking "ticket-booking/internal/booking/service"
	"ticket-booking/internal/logger"
	"ticket-booking/internal/models"
	"ticket-booking/internal/sse"
	"ticket-booking/internal/utils"

	"github.com/go-chi/chi/v5"
)

const IdempotencyHeader = "Idempotency-Key"

type Handler struct {
	BookingService  *booking.BookingService
	Events          *sse.BookingEventEmitter
	Logger          *logger.Logger
	DefaultPageSize int
	MaxPageSize     int
}

// RegisterRoutes mounts /bookings. Every route needs a signed-in caller.
func (h *Handler) RegisterRoutes(r chi.Router, authn func(http.Handler) http.Handler) {
	r.Route("/bookings", func(r chi.Router) {
		r.Use(authn)

		r.With(auth.RequireRole(models.RoleUser)).Post("/", h.CreateBooking)
		r.Get("/user/{email}", h.ListUserBookings)
		r.Patch("/{id}", h.UpdateStatus)
		r.Get("/{id}/qr", h.TicketQR)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(models.RoleVendor, models.RoleAdmin))
			r.Get("/vendor/{email}", h.ListVendorBookings)
			r.Get("/vendor/{email}/revenue", h.RevenueOverview)
			r.Get("/vendor/{email}/stream", h.StreamVendorBookings)
			r.Post("/verify-pass", h.VerifyPass)
		})
	})
}

func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req models.BookingRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	caller, _ := auth.FromContext(r.Context())
	b, replayed, err := h.BookingService.CreateBooking(r.Context(), caller, req, r.Header.Get(IdempotencyHeader))
	if err != nil {
		h.writeError(w, "Failed to create booking", err)
		return
	}
	if replayed {
		utils.WriteSuccess(w, http.StatusOK, "Booking already exists", b)
		return
	}
	utils.WriteSuccess(w, http.StatusCreated, "Booking created successfully", b)
}

func (h *Handler) ListUserBookings(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.FromContext(r.Context())
	bookings, err := h.BookingService.ListUserBookings(r.Context(), caller, chi.URLParam(r, "email"))
	if err != nil {
		h.writeError(w, "Failed to retrieve bookings", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Bookings retrieved successfully", bookings)
}

func (h *Handler) ListVendorBookings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.BookingFilter{
		Status:    q.Get("status"),
		Search:    q.Get("search"),
		SortBy:    q.Get("sortBy"),
		SortOrder: strings.ToLower(q.Get("sortOrder")),
	}
	if !bookingdb.IsValidVendorSort(filter.SortBy) {
		h.writeError(w, "", fmt.Errorf("%w: unknown sortBy %q", booking.ErrValidation, filter.SortBy))
		return
	}
	if filter.SortOrder != "" && filter.SortOrder != "asc" && filter.SortOrder != "desc" {
		h.writeError(w, "", fmt.Errorf("%w: sortOrder must be asc or desc", booking.ErrValidation))
		return
	}

	caller, _ := auth.FromContext(r.Context())
	p := utils.ParsePagination(q, h.DefaultPageSize, h.MaxPageSize)
	page, err := h.BookingService.ListVendorBookings(r.Context(), caller, chi.URLParam(r, "email"), filter, p)
	if err != nil {
		h.writeError(w, "Failed to retrieve vendor bookings", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Vendor bookings retrieved successfully", page)
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
	}
	if err := utils.DecodeJSON(r, &body); err != nil || body.Status == "" {
		utils.WriteError(w, http.StatusBadRequest, "status is required", err)
		return
	}

	caller, _ := auth.FromContext(r.Context())
	b, err := h.BookingService.UpdateStatus(r.Context(), caller, chi.URLParam(r, "id"), body.Status)
	if err != nil {
		h.writeError(w, "Failed to update booking", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Booking status updated successfully", b)
}

func (h *Handler) TicketQR(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.FromContext(r.Context())
	id := chi.URLParam(r, "id")
	png, err := h.BookingService.TicketQR(r.Context(), caller, id)
	if err != nil {
		h.writeError(w, "Failed to generate ticket", err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=\"ticket-%s.png\"", id))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func (h *Handler) VerifyPass(w http.ResponseWriter, r *http.Request) {
	var body struct {
		EncryptedQR string `json:"encryptedQr"`
	}
	if err := utils.DecodeJSON(r, &body); err != nil || body.EncryptedQR == "" {
		utils.WriteError(w, http.StatusBadRequest, "encryptedQr is required", err)
		return
	}

	caller, _ := auth.FromContext(r.Context())
	b, err := h.BookingService.VerifyPass(r.Context(), caller, body.EncryptedQR)
	if err != nil {
		h.writeError(w, "Failed to verify ticket", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Ticket is valid", b)
}

func (h *Handler) RevenueOverview(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.FromContext(r.Context())
	overview, err := h.BookingService.RevenueOverview(r.Context(), caller, chi.URLParam(r, "email"))
	if err != nil {
		h.writeError(w, "Failed to retrieve revenue overview", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Revenue overview retrieved successfully", overview)
}

func (h *Handler) writeError(w http.ResponseWriter, fallback string, err error) {
	var inv *booking.InventoryError
	switch {
	case errors.As(err, &inv):
		utils.WriteError(w, http.StatusBadRequest, inv.Error(), err)
	case errors.Is(err, booking.ErrValidation):
		utils.WriteError(w, http.StatusBadRequest, "Validation failed", err)
	case errors.Is(err, booking.ErrTicketNotFound):
		utils.WriteError(w, http.StatusNotFound, "Ticket not found", err)
	case errors.Is(err, booking.ErrBookingNotFound):
		utils.WriteError(w, http.StatusNotFound, "Booking not found", err)
	case errors.Is(err, booking.ErrTicketUnavailable):
		utils.WriteError(w, http.StatusBadRequest, "Ticket is not available for booking", err)
	case errors.Is(err, booking.ErrBookingClosed):
		utils.WriteError(w, http.StatusBadRequest, "Booking closed - departure time has passed", err)
	case errors.Is(err, booking.ErrInvalidTransition):
		utils.WriteError(w, http.StatusConflict, "Booking status cannot be changed", err)
	case errors.Is(err, booking.ErrAlreadyPaid):
		utils.WriteError(w, http.StatusConflict, "Booking already paid", err)
	case errors.Is(err, booking.ErrNotPaid):
		utils.WriteError(w, http.StatusBadRequest, "Ticket is available after payment", err)
	case errors.Is(err, booking.ErrInvalidPass):
		utils.WriteError(w, http.StatusBadRequest, "Invalid e-ticket", err)
	case errors.Is(err, booking.ErrForbidden):
		utils.WriteError(w, http.StatusForbidden, "Forbidden access", err)
	default:
		h.Logger.Error("BOOKING", fmt.Sprintf("%s: %v", fallback, err))
		utils.WriteError(w, http.StatusInternalServerError, fallback, err)
	}
}
