package payment_api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"ticket-booking/internal/auth"
	booking "ticket-booking/internal/booking/service"
	"ticket-booking/internal/logger"
	payment "ticket-booking/internal/payment/service"
	"ticket-booking/internal/utils"

	"github.com/go-chi/chi/v5"
)

const maxWebhookBytes = 64 << 10

type Handler struct {
	PaymentService *payment.PaymentService
	Logger         *logger.Logger
}

// RegisterRoutes mounts /payments. The Stripe webhook authenticates by
// signature instead of a user token.
func (h *Handler) RegisterRoutes(r chi.Router, authn func(http.Handler) http.Handler) {
	r.Route("/payments", func(r chi.Router) {
		r.Post("/webhook", h.Webhook)

		r.Group(func(r chi.Router) {
			r.Use(authn)
			r.Post("/create-checkout-session", h.CreateCheckoutSession)
			r.Post("/payment-success", h.PaymentSuccess)
			r.Get("/status/{sessionId}", h.Status)
			r.Get("/user/{email}", h.UserHistory)
		})
	})
}

func (h *Handler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		BookingID string `json:"bookingId"`
	}
	if err := utils.DecodeJSON(r, &body); err != nil || body.BookingID == "" {
		utils.WriteError(w, http.StatusBadRequest, "Booking ID is required", err)
		return
	}

	caller, _ := auth.FromContext(r.Context())
	res, err := h.PaymentService.CreateCheckoutSession(r.Context(), caller, body.BookingID)
	if err != nil {
		h.writeError(w, "Failed to create checkout session", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Checkout session created successfully", res)
}

func (h *Handler) PaymentSuccess(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SessionID string `json:"sessionId"`
	}
	if err := utils.DecodeJSON(r, &body); err != nil || body.SessionID == "" {
		utils.WriteError(w, http.StatusBadRequest, "Session ID is required", err)
		return
	}

	res, err := h.PaymentService.ConfirmPayment(r.Context(), body.SessionID)
	if err != nil {
		h.writeError(w, "Failed to process payment", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Payment processed successfully", res)
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.PaymentService.Status(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		h.writeError(w, "Failed to retrieve payment status", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Payment status retrieved successfully", status)
}

func (h *Handler) UserHistory(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.FromContext(r.Context())
	payments, err := h.PaymentService.UserHistory(r.Context(), caller, chi.URLParam(r, "email"))
	if err != nil {
		h.writeError(w, "Failed to retrieve payments", err)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Payments retrieved successfully", payments)
}

func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		h.Logger.Error("WEBHOOK", fmt.Sprintf("Failed to read webhook payload: %v", err))
		utils.WriteError(w, http.StatusBadRequest, "Invalid webhook payload", nil)
		return
	}

	err = h.PaymentService.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	var whErr *payment.WebhookError
	switch {
	case errors.As(err, &whErr):
		h.Logger.Error("WEBHOOK", fmt.Sprintf("[%s] %s", whErr.Category, whErr.InternalError))
		utils.WriteError(w, whErr.StatusCode, whErr.PublicError, nil)
		return
	case err != nil:
		h.Logger.Error("WEBHOOK", err.Error())
		utils.WriteError(w, http.StatusInternalServerError, "Webhook processing error", nil)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Webhook received", map[string]bool{"received": true})
}

func (h *Handler) writeError(w http.ResponseWriter, fallback string, err error) {
	switch {
	case errors.Is(err, payment.ErrValidation):
		utils.WriteError(w, http.StatusBadRequest, "Validation failed", err)
	case errors.Is(err, booking.ErrBookingNotFound):
		utils.WriteError(w, http.StatusNotFound, "Booking not found", err)
	case errors.Is(err, booking.ErrAlreadyPaid):
		utils.WriteError(w, http.StatusConflict, "Booking already paid", err)
	case errors.Is(err, payment.ErrNotAccepted):
		utils.WriteError(w, http.StatusBadRequest, "Booking must be accepted by vendor before payment", err)
	case errors.Is(err, payment.ErrTicketNotFound):
		utils.WriteError(w, http.StatusNotFound, "Ticket not found", err)
	case errors.Is(err, booking.ErrHoldExpired):
		utils.WriteError(w, http.StatusBadRequest, "Payment window has ended", err)
	case errors.Is(err, payment.ErrPaymentClosed):
		utils.WriteError(w, http.StatusBadRequest, "Payment closed - departure time has passed", err)
	case errors.Is(err, payment.ErrPaymentNotCompleted):
		utils.WriteError(w, http.StatusBadRequest, "Payment not completed", err)
	case errors.Is(err, payment.ErrInvalidMetadata):
		utils.WriteError(w, http.StatusBadRequest, "Invalid session metadata", err)
	case errors.Is(err, payment.ErrCheckoutInProgress):
		utils.WriteError(w, http.StatusConflict, "Checkout already in progress for this booking", err)
	case errors.Is(err, booking.ErrInvalidTransition):
		utils.WriteError(w, http.StatusConflict, "Booking cannot be paid in its current status", err)
	case errors.Is(err, payment.ErrForbidden), errors.Is(err, booking.ErrForbidden):
		utils.WriteError(w, http.StatusForbidden, "Forbidden access", err)
	case errors.Is(err, payment.ErrStripeClientInitFailed):
		utils.WriteError(w, http.StatusServiceUnavailable, "Payments are not available", err)
	case errors.Is(err, payment.ErrStripeAPIError):
		h.Logger.Error("PAYMENT", fmt.Sprintf("%s: %v", fallback, err))
		utils.WriteError(w, http.StatusBadGateway, fallback, err)
	default:
		h.Logger.Error("PAYMENT", fmt.Sprintf("%s: %v", fallback, err))
		utils.WriteError(w, http.StatusInternalServerError, fallback, err)
	}
}
