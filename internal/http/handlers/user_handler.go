package handlers

import (
	"crypto/subtle"
	"net/http"

	"github.com/diagnosis/tolet/internal/domain"
	"github.com/diagnosis/tolet/internal/http/middleware"
	"github.com/diagnosis/tolet/internal/http/response"
	"github.com/diagnosis/tolet/pkg/auth"
	"github.com/diagnosis/tolet/pkg/logger"
)

type tokenRequest struct {
	Email string `json:"email" validate:"required,email"`
	Name  string `json:"name" validate:"max=200"`
}

const issuerKeyHeader = "X-Issuer-Key"

// issueToken signs a session for the posted identity. The identity is
// trusted, so deployments put it behind the front-end's auth provider and
// set an issuer key.
func (h *Handler) issueToken(w http.ResponseWriter, r *http.Request) {
	if h.IssuerKey != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(issuerKeyHeader)), []byte(h.IssuerKey)) != 1 {
		logger.WarnContext(r.Context(), "Token request without issuer key", "ip", r.RemoteAddr)
		response.Unauthorized(w, "unauthorized access")
		return
	}
	var in tokenRequest
	if !decode(w, r, &in) {
		return
	}
	if err := domain.Validate(in); err != nil {
		response.FromError(r.Context(), w, err)
		return
	}

	token, err := auth.NewSessionToken(in.Email, in.Name, h.JWTSecret, h.SessionTTL)
	if err != nil {
		response.FromError(r.Context(), w, err)
		return
	}
	http.SetCookie(w, h.sessionCookie(token, int(h.SessionTTL.Seconds())))
	logger.InfoContext(r.Context(), "Session token issued", "email", domain.NormalizeEmail(in.Email))
	response.JSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, h.sessionCookie("", -1))
	response.JSON(w, http.StatusOK, map[string]bool{"success": true})
}

// sessionCookie mirrors the front-end deployment: cross-site in production,
// strict locally.
func (h *Handler) sessionCookie(value string, maxAge int) *http.Cookie {
	c := &http.Cookie{
		Name:     h.CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.Production,
		SameSite: http.SameSiteStrictMode,
	}
	if h.Production {
		c.SameSite = http.SameSiteNoneMode
	}
	return c
}

func (h *Handler) saveUser(w http.ResponseWriter, r *http.Request) {
	var in domain.UserInput
	if !decode(w, r, &in) {
		return
	}
	user, created, err := h.Users.Save(r.Context(), pathEmail(r), in)
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	reply(w, r, status, user, err)
}

func (h *Handler) hasRole(role domain.Role) http.HandlerFunc {
	key := string(role)
	return func(w http.ResponseWriter, r *http.Request) {
		ok, err := h.Users.HasRole(r.Context(), pathEmail(r), role)
		reply(w, r, http.StatusOK, map[string]bool{key: ok}, err)
	}
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Users.List(r.Context())
	reply(w, r, http.StatusOK, users, err)
}

func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	res, err := h.Users.Delete(r.Context(), id)
	if err == nil {
		logger.InfoContext(r.Context(), "User deleted", "id", id.Hex(), "by", middleware.Caller(r).Email, "deleted", res.DeletedCount)
	}
	reply(w, r, http.StatusOK, res, err)
}
