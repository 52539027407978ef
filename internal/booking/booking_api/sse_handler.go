package booking_api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"ticket-booking/internal/auth"
	"ticket-booking/internal/utils"

	"github.com/go-chi/chi/v5"
)

// heartbeatInterval keeps idle streams open through proxies.
const heartbeatInterval = 25 * time.Second

// StreamVendorBookings streams booking notices for one vendor's tickets.
func (h *Handler) StreamVendorBookings(w http.ResponseWriter, r *http.Request) {
	vendorEmail := strings.ToLower(chi.URLParam(r, "email"))
	caller, _ := auth.FromContext(r.Context())
	if !caller.IsAdmin() && !strings.EqualFold(caller.Email, vendorEmail) {
		h.Logger.LogSecurity("SSE_DENIED", fmt.Sprintf("%s asked for %s", caller.Email, vendorEmail))
		utils.WriteError(w, http.StatusForbidden, "Forbidden access", nil)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.WriteError(w, http.StatusInternalServerError, "Streaming unsupported", nil)
		return
	}

	setupSSEHeaders(w)
	ctx := r.Context()
	events := h.Events.SubscribeToVendor(ctx, vendorEmail)

	fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"connected\",\"vendorEmail\":%q}\n\n", vendorEmail)
	flusher.Flush()
	h.Logger.Info("SSE", fmt.Sprintf("Vendor %s connected to booking stream", vendorEmail))

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case notice, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(notice.Booking)
			if err != nil {
				h.Logger.Error("SSE", fmt.Sprintf("Failed to serialize booking notice: %v", err))
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", notice.Type, data)
			flusher.Flush()

		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()

		case <-ctx.Done():
			h.Logger.Debug("SSE", fmt.Sprintf("Vendor %s disconnected from booking stream", vendorEmail))
			return
		}
	}
}

func setupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, max-age=0, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
