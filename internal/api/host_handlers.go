package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"curbspot/internal/auth"
	"curbspot/internal/service"
)

type HostHandler struct {
	bookings *service.BookingService
}

func NewHostHandler(bookings *service.BookingService) *HostHandler {
	return &HostHandler{bookings: bookings}
}

func (h *HostHandler) ListBookings(w http.ResponseWriter, r *http.Request) {
	resp, err := h.bookings.ListHostBookings(auth.UserID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HostHandler) Approve(w http.ResponseWriter, r *http.Request) {
	resp, err := h.bookings.ApproveBooking(auth.UserID(r), mux.Vars(r)["code"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HostHandler) Decline(w http.ResponseWriter, r *http.Request) {
	resp, err := h.bookings.DeclineBooking(auth.UserID(r), mux.Vars(r)["code"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
