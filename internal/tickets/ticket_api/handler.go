package ticket_api

import (
	"errors"
	"fmt"
	"net/http"

	"ticket-booking/internal/auth"
	"ticket-booking/internal/logger"
	"ticket-booking/internal/models"
	ticketdb "ticket-booking/internal/tickets/db"
	tickets "ticket-booking/internal/tickets/service"
	"ticket-booking/internal/utils"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	TicketService   *tickets.TicketService
	Logger          *logger.Logger
	DefaultPageSize int
	MaxPageSize     int
}

// RegisterRoutes mounts /tickets. Catalogue reads are public.
func (h *Handler) RegisterRoutes(r chi.Router, authn func(http.Handler) http.Handler) {
	r.Route("/tickets", func(r chi.Router) {
		r.Get("/locations", h.Locations)
		r.Get("/approved/list", h.ListApproved)
		r.Get("/advertised", h.ListAdvertised)
		r.Get("/{id}", h.GetTicket)

		r.Group(func(r chi.Router) {
			r.Use(authn)

			r.With(auth.RequireRole(models.RoleVendor)).Post("/", h.CreateTicket)
			r.With(auth.RequireRole(models.RoleVendor, models.RoleAdmin)).Get("/vendor/{vendorEmail}", h.ListByVendor)
			r.With(auth.RequireRole(models.RoleVendor, models.RoleAdmin)).Patch("/{id}", h.ModifyTicket)
			r.With(auth.RequireRole(models.RoleVendor, models.RoleAdmin)).Delete("/{id}", h.DeleteTicket)

			r.With(auth.RequireRole(models.RoleAdmin)).Get("/", h.ListAll)
			r.With(auth.RequireRole(models.RoleAdmin)).Patch("/status/{id}", h.UpdateStatus)
			r.With(auth.RequireRole(models.RoleAdmin)).Patch("/advertisement/{id}", h.SetAdvertisement)
		})
	})
}

// parseFilter reads the listing query parameters shared by every catalogue view.
func parseFilter(r *http.Request) (models.TicketFilter, error) {
	q := r.URL.Query()
	filter := models.TicketFilter{
		SearchTerm:         q.Get("searchTerm"),
		TransportType:      q.Get("transportType"),
		VerificationStatus: q.Get("verificationStatus"),
		From:               q.Get("from"),
		To:                 q.Get("to"),
		MinPrice:           utils.ParseFloat(q.Get("minPrice")),
		MaxPrice:           utils.ParseFloat(q.Get("maxPrice")),
		Sort:               q.Get("sort"),
	}
	if !ticketdb.IsValidSort(filter.Sort) {
		return filter, fmt.Errorf("%w: unknown sort %q", tickets.ErrValidation, filter.Sort)
	}
	return filter, nil
}

func (h *Handler) pagination(r *http.Request) utils.Pagination {
	return utils.ParsePagination(r.URL.Query(), h.DefaultPageSize, h.MaxPageSize)
}

func (h *Handler) CreateTicket(w http.ResponseWriter, r *http.Request) {
	var in tickets.TicketInput
	if err := utils.DecodeJSON(r, &in); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	caller, _ := auth.FromContext(r.Context())
	ticket, err := h.TicketService.CreateTicket(r.Context(), caller, in)
	if err != nil {
		h.writeError(w, "Failed to create ticket", err)
		return
	}
	utils.WriteSuccess(w, http.StatusCreated, "Ticket created successfully", ticket)
}

func (h *Handler) GetTicket(w http.ResponseWriter, r *http.Request) {
	ticket, err := h.TicketService.GetTicket(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, "Failed to retrieve ticket", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Ticket retrieved successfully", ticket)
}

func (h *Handler) ListAll(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		h.writeError(w, "Failed to retrieve tickets", err)
		return
	}
	page, err := h.TicketService.ListAll(r.Context(), filter, h.pagination(r))
	if err != nil {
		h.writeError(w, "Failed to retrieve tickets", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Tickets retrieved successfully", page)
}

func (h *Handler) ListApproved(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		h.writeError(w, "Failed to retrieve tickets", err)
		return
	}
	page, err := h.TicketService.ListApproved(r.Context(), filter, h.pagination(r))
	if err != nil {
		h.writeError(w, "Failed to retrieve tickets", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Approved tickets retrieved successfully", page)
}

func (h *Handler) ListAdvertised(w http.ResponseWriter, r *http.Request) {
	list, err := h.TicketService.ListAdvertised(r.Context())
	if err != nil {
		h.writeError(w, "Failed to retrieve advertised tickets", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Advertised tickets retrieved successfully", list)
}

func (h *Handler) ListByVendor(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		h.writeError(w, "Failed to retrieve vendor tickets", err)
		return
	}
	caller, _ := auth.FromContext(r.Context())
	page, err := h.TicketService.ListByVendor(r.Context(), caller, chi.URLParam(r, "vendorEmail"), filter, h.pagination(r))
	if err != nil {
		h.writeError(w, "Failed to retrieve vendor tickets", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Vendor tickets retrieved successfully", page)
}

func (h *Handler) Locations(w http.ResponseWriter, r *http.Request) {
	locations, err := h.TicketService.Locations(r.Context())
	if err != nil {
		h.writeError(w, "Failed to retrieve locations", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Locations retrieved successfully", locations)
}

// ModifyTicket serves both the vendor edit and the admin verification shortcut.
func (h *Handler) ModifyTicket(w http.ResponseWriter, r *http.Request) {
	var body struct {
		tickets.TicketInput
		VerificationStatus *string `json:"verificationStatus"`
	}
	if err := utils.DecodeJSON(r, &body); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	caller, _ := auth.FromContext(r.Context())
	id := chi.URLParam(r, "id")

	if caller.IsAdmin() {
		if body.VerificationStatus == nil {
			utils.WriteError(w, http.StatusBadRequest, "verificationStatus is required", nil)
			return
		}
		ticket, err := h.TicketService.UpdateStatus(r.Context(), id, *body.VerificationStatus)
		if err != nil {
			h.writeError(w, "Failed to update ticket", err)
			return
		}
		utils.WriteSuccess(w, http.StatusOK, "Ticket updated successfully", ticket)
		return
	}

	ticket, err := h.TicketService.ModifyTicket(r.Context(), caller, id, body.TicketInput)
	if err != nil {
		h.writeError(w, "Failed to update ticket", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Ticket updated successfully", ticket)
}

func (h *Handler) DeleteTicket(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.FromContext(r.Context())
	res, err := h.TicketService.DeleteTicket(r.Context(), caller, chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, tickets.ErrHasActiveBookings):
		resp := utils.ErrorResponse(res.Reason, err.Error())
		resp.Data = res
		utils.WriteJSON(w, http.StatusConflict, resp)
		return
	case err != nil:
		h.writeError(w, "Failed to delete ticket", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Ticket deleted successfully", res)
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
	}
	if err := utils.DecodeJSON(r, &body); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ticket, err := h.TicketService.UpdateStatus(r.Context(), chi.URLParam(r, "id"), body.Status)
	if err != nil {
		h.writeError(w, "Failed to update ticket status", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Ticket status updated successfully", ticket)
}

func (h *Handler) SetAdvertisement(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Advertise    *bool `json:"advertise"`
		IsAdvertised *bool `json:"isAdvertised"`
	}
	if err := utils.DecodeJSON(r, &body); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	advertise := body.Advertise
	if advertise == nil {
		advertise = body.IsAdvertised
	}
	if advertise == nil {
		utils.WriteError(w, http.StatusBadRequest, "advertise is required", nil)
		return
	}

	ticket, err := h.TicketService.SetAdvertisement(r.Context(), chi.URLParam(r, "id"), *advertise)
	if err != nil {
		h.writeError(w, "Failed to update advertisement", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Ticket advertisement updated successfully", ticket)
}

func (h *Handler) writeError(w http.ResponseWriter, fallback string, err error) {
	switch {
	case errors.Is(err, tickets.ErrValidation):
		utils.WriteError(w, http.StatusBadRequest, "Validation failed", err)
	case errors.Is(err, tickets.ErrTicketNotFound):
		utils.WriteError(w, http.StatusNotFound, "Ticket not found", err)
	case errors.Is(err, tickets.ErrNotOwner):
		utils.WriteError(w, http.StatusForbidden, "You can only manage your own tickets", err)
	case errors.Is(err, tickets.ErrTicketRejected):
		utils.WriteError(w, http.StatusBadRequest, "Rejected tickets cannot be modified", err)
	case errors.Is(err, tickets.ErrVendorFraud):
		utils.WriteError(w, http.StatusForbidden, "Your vendor account has been flagged as fraud", err)
	case errors.Is(err, tickets.ErrNotApproved):
		utils.WriteError(w, http.StatusBadRequest, "Only approved tickets can be advertised", err)
	case errors.Is(err, tickets.ErrAdvertisementLimit):
		utils.WriteError(w, http.StatusConflict, fmt.Sprintf("Cannot advertise more than %d tickets", h.TicketService.MaxAdvertised), err)
	default:
		h.Logger.Error("TICKET", fmt.Sprintf("%s: %v", fallback, err))
		utils.WriteError(w, http.StatusInternalServerError, fallback, err)
	}
}
