package handlers

import (
	"fmt"
	"net/http"

	"github.com/diagnosis/tolet/internal/domain"
	"github.com/diagnosis/tolet/internal/http/middleware"
	"github.com/diagnosis/tolet/internal/http/response"
)

type intentResponse struct {
	ClientSecret string `json:"ClientSecret"`
}

func (h *Handler) createPaymentIntent(w http.ResponseWriter, r *http.Request) {
	var in domain.PaymentIntentInput
	if !decode(w, r, &in) {
		return
	}
	intent, err := h.Payments.CreateIntent(r.Context(), middleware.Caller(r), in)
	if err != nil {
		response.FromError(r.Context(), w, err)
		return
	}
	response.JSON(w, http.StatusOK, intentResponse{ClientSecret: intent.ClientSecret})
}

func (h *Handler) finalizePayment(w http.ResponseWriter, r *http.Request) {
	var in domain.PaymentInput
	if !decode(w, r, &in) {
		return
	}
	p, err := h.Payments.Finalize(r.Context(), middleware.Caller(r), in)
	reply(w, r, http.StatusOK, p, err)
}

func (h *Handler) memberPayments(w http.ResponseWriter, r *http.Request) {
	list, err := h.Payments.ByEmail(r.Context(), pathEmail(r))
	reply(w, r, http.StatusOK, list, err)
}

// bookingPayment is readable by the payer and admins.
func (h *Handler) bookingPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	p, err := h.Payments.ForBooking(r.Context(), id.Hex())
	if err == nil {
		caller := middleware.Caller(r)
		if domain.NormalizeEmail(p.Email) != caller.Email && !caller.Is(domain.RoleAdmin) {
			err = fmt.Errorf("payment for booking %s: %w", id.Hex(), domain.ErrForbidden)
		}
	}
	reply(w, r, http.StatusOK, p, err)
}
