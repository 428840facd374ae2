package handlers

import (
	"net/http"

	"github.com/diagnosis/tolet/internal/domain"
	"github.com/diagnosis/tolet/internal/http/middleware"
)

func (h *Handler) submitToLet(w http.ResponseWriter, r *http.Request) {
	var in domain.ListingDetails
	if !decode(w, r, &in) {
		return
	}
	req, err := h.Listings.Submit(r.Context(), middleware.Caller(r), in)
	reply(w, r, http.StatusCreated, req, err)
}

func (h *Handler) listToLet(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.Listings.Requests(r.Context())
	reply(w, r, http.StatusOK, reqs, err)
}

func (h *Handler) acceptToLet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	p, err := h.Listings.Accept(r.Context(), id)
	reply(w, r, http.StatusOK, p, err)
}

func (h *Handler) rejectToLet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	res, err := h.Listings.Reject(r.Context(), id)
	reply(w, r, http.StatusOK, res, err)
}

func (h *Handler) availableProperties(w http.ResponseWriter, r *http.Request) {
	props, err := h.Listings.Available(r.Context())
	reply(w, r, http.StatusOK, props, err)
}

func (h *Handler) allProperties(w http.ResponseWriter, r *http.Request) {
	props, err := h.Listings.All(r.Context())
	reply(w, r, http.StatusOK, props, err)
}

func (h *Handler) getProperty(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	p, err := h.Listings.Get(r.Context(), id)
	reply(w, r, http.StatusOK, p, err)
}

func (h *Handler) hostProperties(w http.ResponseWriter, r *http.Request) {
	props, err := h.Listings.ByHost(r.Context(), pathEmail(r))
	reply(w, r, http.StatusOK, props, err)
}

func (h *Handler) updateProperty(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var in domain.ListingDetails
	if !decode(w, r, &in) {
		return
	}
	p, err := h.Listings.Update(r.Context(), middleware.Caller(r), id, in)
	reply(w, r, http.StatusOK, p, err)
}

func (h *Handler) deleteProperty(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	res, err := h.Listings.Delete(r.Context(), id)
	reply(w, r, http.StatusOK, res, err)
}
