package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/diagnosis/tolet/internal/domain"
	"github.com/diagnosis/tolet/internal/http/middleware"
	"github.com/diagnosis/tolet/internal/http/response"
	"github.com/diagnosis/tolet/internal/service"
	"github.com/diagnosis/tolet/pkg/logger"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const maxBodyBytes = 1 << 20

// Policy decides who may call a route. Every route is registered with one.
type Policy struct {
	Auth       bool
	Roles      []domain.Role // any of; admins always pass
	SelfParam  string        // path parameter that must equal the caller's email
	RateLimit  bool
	Idempotent bool
}

var (
	public = Policy{}
	authed = Policy{Auth: true}
)

func role(roles ...domain.Role) Policy {
	return Policy{Auth: true, Roles: roles}
}

func self(param string, roles ...domain.Role) Policy {
	return Policy{Auth: true, SelfParam: param, Roles: roles}
}

func (p Policy) limited() Policy {
	p.RateLimit = true
	return p
}

func (p Policy) idempotent() Policy {
	p.Idempotent = true
	return p
}

type Route struct {
	Method  string
	Pattern string
	Policy  Policy
	Handler http.HandlerFunc
}

type Deps struct {
	Users     service.UserService
	Listings  service.ListingService
	Bookings  service.BookingService
	Payments  service.PaymentService
	Ownership service.OwnershipService

	Auth        *middleware.Authenticator
	RateLimiter *middleware.RateLimiter
	// Idempotency wraps routes that accept an Idempotency-Key. Optional.
	Idempotency func(http.Handler) http.Handler

	JWTSecret  string
	SessionTTL time.Duration
	CookieName string
	// IssuerKey, when set, must be sent as X-Issuer-Key to POST /jwt.
	IssuerKey  string
	Production bool
}

type Handler struct {
	Deps
}

func New(d Deps) *Handler {
	if d.CookieName == "" {
		d.CookieName = "token"
	}
	return &Handler{Deps: d}
}

// Routes is the single authorization table of the API.
func (h *Handler) Routes() []Route {
	owner, admin := domain.RoleOwner, domain.RoleAdmin
	return []Route{
		{http.MethodGet, "/", public, h.greet},
		{http.MethodPost, "/jwt", public.limited(), h.issueToken},
		{http.MethodGet, "/logout", public, h.logout},

		{http.MethodPut, "/users/{email}", self("email"), h.saveUser},
		{http.MethodGet, "/user/admin/{email}", self("email"), h.hasRole(domain.RoleAdmin)},
		{http.MethodGet, "/user/owner/{email}", self("email"), h.hasRole(domain.RoleOwner)},
		{http.MethodGet, "/user/member/{email}", self("email"), h.hasRole(domain.RoleMember)},
		{http.MethodGet, "/getUser", role(admin), h.listUsers},
		{http.MethodDelete, "/deleteUser/{id}", role(admin), h.deleteUser},

		{http.MethodPost, "/ToLetRequest", role(owner), h.submitToLet},
		{http.MethodGet, "/ToLetRequest", role(admin), h.listToLet},
		{http.MethodPost, "/acceptToLetRequest/{id}", role(admin), h.acceptToLet},
		{http.MethodPost, "/rejectToLetRequest/{id}", role(admin), h.rejectToLet},

		{http.MethodGet, "/property", public, h.availableProperties},
		{http.MethodGet, "/allProperty", role(admin), h.allProperties},
		{http.MethodGet, "/Singleproperty/{id}", public, h.getProperty},
		{http.MethodGet, "/myProperties/{email}", self("email", owner), h.hostProperties},
		{http.MethodPatch, "/updateProperty/{id}", role(owner), h.updateProperty},
		{http.MethodDelete, "/deleteProperty/{id}", role(admin), h.deleteProperty},

		{http.MethodPost, "/bookingRequest", authed.idempotent(), h.submitBooking},
		{http.MethodGet, "/bookingRequest/{email}", self("email", owner), h.hostBookingRequests},
		{http.MethodGet, "/AllbookingRequest", role(admin), h.listBookingRequests},
		{http.MethodGet, "/Allbookings", role(admin), h.listBookingRequests},
		{http.MethodGet, "/myBookings/{email}", self("email"), h.claimerBookings},
		{http.MethodGet, "/allAcceptedBookings", role(admin), h.listBookings},
		{http.MethodPost, "/booking/accept/{id}", role(owner), h.acceptBooking},
		{http.MethodPost, "/booking/reject/{id}", role(owner), h.rejectBooking},

		{http.MethodPost, "/create-payment-intent", authed.limited(), h.createPaymentIntent},
		{http.MethodPost, "/payment", authed.idempotent(), h.finalizePayment},
		{http.MethodGet, "/memberPayment/{email}", self("email"), h.memberPayments},
		{http.MethodGet, "/getBooking/{id}", authed, h.bookingPayment},

		{http.MethodPost, "/ownershipRequest", authed, h.requestOwnership},
		{http.MethodGet, "/ownershipRequest", role(admin), h.listOwnership},
		{http.MethodPatch, "/acceptOwnershipReq/{email}", role(admin), h.acceptOwnership},
		{http.MethodDelete, "/acceptOwnershipReq/{email}", role(admin), h.rejectOwnership},
	}
}

// Mount registers every route on r behind its policy.
func (h *Handler) Mount(r chi.Router) {
	for _, rt := range h.Routes() {
		r.With(h.chain(rt.Policy)...).Method(rt.Method, rt.Pattern, rt.Handler)
	}
}

func (h *Handler) chain(p Policy) []func(http.Handler) http.Handler {
	var mws []func(http.Handler) http.Handler
	if p.Auth {
		mws = append(mws, h.Auth.RequireAuth)
	}
	if p.SelfParam != "" {
		mws = append(mws, middleware.RequireSelf(p.SelfParam))
	}
	if len(p.Roles) > 0 {
		mws = append(mws, middleware.RequireRole(p.Roles...))
	}
	if p.RateLimit && h.RateLimiter != nil {
		mws = append(mws, h.RateLimiter.Middleware())
	}
	if p.Idempotent && h.Idempotency != nil {
		mws = append(mws, h.Idempotency)
	}
	return mws
}

func (h *Handler) greet(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("Hello from StayVista Server.."))
}

// decode reads a JSON body into dst. An empty body leaves dst untouched.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	logger.WarnContext(r.Context(), "Invalid JSON body", "error", err, "path", r.URL.Path)
	response.BadRequest(w, "invalid json")
	return false
}

func pathID(w http.ResponseWriter, r *http.Request) (primitive.ObjectID, bool) {
	id, err := domain.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		response.FromError(r.Context(), w, err)
		return primitive.NilObjectID, false
	}
	return id, true
}

func pathEmail(r *http.Request) string {
	return domain.NormalizeEmail(chi.URLParam(r, "email"))
}

// reply writes v as JSON or maps err.
func reply(w http.ResponseWriter, r *http.Request, status int, v any, err error) {
	if err != nil {
		response.FromError(r.Context(), w, err)
		return
	}
	response.JSON(w, status, v)
}
