package handlers

import (
	"net/http"

	"github.com/diagnosis/tolet/internal/domain"
	"github.com/diagnosis/tolet/internal/http/middleware"
)

func (h *Handler) submitBooking(w http.ResponseWriter, r *http.Request) {
	var in domain.BookingRequestInput
	if !decode(w, r, &in) {
		return
	}
	req, err := h.Bookings.Submit(r.Context(), middleware.Caller(r), in)
	reply(w, r, http.StatusCreated, req, err)
}

func (h *Handler) hostBookingRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.Bookings.RequestsForHost(r.Context(), pathEmail(r))
	reply(w, r, http.StatusOK, reqs, err)
}

func (h *Handler) listBookingRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.Bookings.Requests(r.Context())
	reply(w, r, http.StatusOK, reqs, err)
}

func (h *Handler) claimerBookings(w http.ResponseWriter, r *http.Request) {
	bookings, err := h.Bookings.ByClaimer(r.Context(), pathEmail(r))
	reply(w, r, http.StatusOK, bookings, err)
}

func (h *Handler) listBookings(w http.ResponseWriter, r *http.Request) {
	bookings, err := h.Bookings.Bookings(r.Context())
	reply(w, r, http.StatusOK, bookings, err)
}

func (h *Handler) acceptBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	b, err := h.Bookings.Accept(r.Context(), middleware.Caller(r), id)
	reply(w, r, http.StatusOK, b, err)
}

func (h *Handler) rejectBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	res, err := h.Bookings.Reject(r.Context(), middleware.Caller(r), id)
	reply(w, r, http.StatusOK, res, err)
}
