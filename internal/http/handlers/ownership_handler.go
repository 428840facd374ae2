package handlers

import (
	"net/http"

	"github.com/diagnosis/tolet/internal/domain"
	"github.com/diagnosis/tolet/internal/http/middleware"
)

func (h *Handler) requestOwnership(w http.ResponseWriter, r *http.Request) {
	var in domain.OwnershipRequestInput
	if !decode(w, r, &in) {
		return
	}
	req, err := h.Ownership.Request(r.Context(), middleware.Caller(r), in)
	reply(w, r, http.StatusCreated, req, err)
}

func (h *Handler) listOwnership(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.Ownership.List(r.Context())
	reply(w, r, http.StatusOK, reqs, err)
}

func (h *Handler) acceptOwnership(w http.ResponseWriter, r *http.Request) {
	u, err := h.Ownership.Accept(r.Context(), pathEmail(r))
	reply(w, r, http.StatusOK, u, err)
}

func (h *Handler) rejectOwnership(w http.ResponseWriter, r *http.Request) {
	res, err := h.Ownership.Reject(r.Context(), pathEmail(r))
	reply(w, r, http.StatusOK, res, err)
}
