package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diagnosis/tolet/internal/domain"
	"github.com/diagnosis/tolet/internal/repo/mongodb"
	"github.com/diagnosis/tolet/pkg/events"
	"github.com/diagnosis/tolet/pkg/logger"
	"github.com/diagnosis/tolet/pkg/metrics"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type BookingService interface {
	Submit(ctx context.Context, caller *domain.User, in domain.BookingRequestInput) (*domain.BookingRequest, error)
	Requests(ctx context.Context) ([]domain.BookingRequest, error)
	RequestsForHost(ctx context.Context, hostEmail string) ([]domain.BookingRequest, error)
	// Accept moves a booking request into bookings. Only the property host
	// or an admin may accept; repeated or concurrent calls yield one booking.
	Accept(ctx context.Context, caller *domain.User, id primitive.ObjectID) (*domain.Booking, error)
	Reject(ctx context.Context, caller *domain.User, id primitive.ObjectID) (domain.DeleteResult, error)
	Bookings(ctx context.Context) ([]domain.Booking, error)
	ByClaimer(ctx context.Context, email string) ([]domain.Booking, error)
}

type bookingService struct {
	properties mongodb.PropertyRepo
	requests   mongodb.BookingRequestRepo
	bookings   mongodb.BookingRepo
	outbox     mongodb.OutboxRepo
	metrics    *metrics.Metrics
	now        func() time.Time
}

func NewBookingService(
	properties mongodb.PropertyRepo,
	requests mongodb.BookingRequestRepo,
	bookings mongodb.BookingRepo,
	outbox mongodb.OutboxRepo,
	m *metrics.Metrics,
) BookingService {
	return &bookingService{
		properties: properties,
		requests:   requests,
		bookings:   bookings,
		outbox:     outbox,
		metrics:    m,
		now:        time.Now,
	}
}

func (s *bookingService) Submit(ctx context.Context, caller *domain.User, in domain.BookingRequestInput) (*domain.BookingRequest, error) {
	if err := domain.Validate(in); err != nil {
		return nil, err
	}
	claimer := domain.NormalizeEmail(in.Claimer)
	if claimer == "" {
		claimer = caller.Email
	}
	if claimer != caller.Email && !caller.Is(domain.RoleAdmin) {
		return nil, fmt.Errorf("claim for %s: %w", claimer, domain.ErrForbidden)
	}

	propertyID, err := domain.ParseID(in.PropertyID)
	if err != nil {
		return nil, err
	}
	property, err := s.properties.Get(ctx, propertyID)
	if err != nil {
		return nil, err
	}
	if property.Status != domain.ListingAvailable {
		return nil, fmt.Errorf("property %s is %s: %w", propertyID.Hex(), property.Status, domain.ErrConflict)
	}
	if property.IsHost(claimer) {
		return nil, domain.NewValidationError("claimer", "cannot book your own property")
	}

	name := in.ClaimerName
	if name == "" {
		name = caller.Name
	}
	now := s.now().UTC()
	req := &domain.BookingRequest{
		ClaimDetails: domain.ClaimDetails{
			PropertyID:  propertyID,
			Title:       property.Title,
			Rent:        property.Rent,
			City:        property.City,
			Claimer:     claimer,
			ClaimerName: name,
			HostEmail:   property.HostEmail,
			MoveIn:      in.MoveIn,
			Message:     in.Message,
		},
		Status:    domain.ClaimRequested,
		CreatedAt: now,
	}
	if err := s.requests.Insert(ctx, req); err != nil {
		return nil, err
	}

	err = emit(ctx, s.outbox, events.BookingRequested, req.ID.Hex(), events.BookingRequestedEvent{
		RequestID:  req.ID.Hex(),
		PropertyID: propertyID.Hex(),
		Claimer:    claimer,
		HostEmail:  property.HostEmail,
		CreatedAt:  now,
	}, now)
	if err != nil {
		// the request is stored; losing the notification is not worth failing the claim
		logger.ErrorContext(ctx, "Failed to record booking requested event", "error", err, "request_id", req.ID.Hex())
	}

	s.metrics.Transition("booking", "requested")
	return req, nil
}

func (s *bookingService) Requests(ctx context.Context) ([]domain.BookingRequest, error) {
	return s.requests.List(ctx)
}

func (s *bookingService) RequestsForHost(ctx context.Context, hostEmail string) ([]domain.BookingRequest, error) {
	return s.requests.ListRequestedForHost(ctx, hostEmail)
}

func (s *bookingService) Accept(ctx context.Context, caller *domain.User, id primitive.ObjectID) (*domain.Booking, error) {
	req, err := s.requests.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return s.alreadyAccepted(ctx, caller, id, err)
	}
	if err != nil {
		return nil, err
	}
	if !req.IsHost(caller.Email) && !caller.Is(domain.RoleAdmin) {
		return nil, fmt.Errorf("accept booking request %s: %w", id.Hex(), domain.ErrForbidden)
	}

	moving, err := s.requests.BeginMove(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		// a concurrent accept finished first
		return s.alreadyAccepted(ctx, caller, id, err)
	}
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	booking := moving.ToBooking(now)
	created, err := s.bookings.InsertMoved(ctx, booking)
	if err != nil {
		return nil, err
	}
	if !created {
		if booking, err = s.bookings.Get(ctx, id); err != nil {
			return nil, err
		}
	}

	err = emit(ctx, s.outbox, events.BookingAccepted, id.Hex(), events.BookingAcceptedEvent{
		BookingID:  id.Hex(),
		PropertyID: booking.PropertyID.Hex(),
		Title:      booking.Title,
		Claimer:    booking.Claimer,
		HostEmail:  booking.HostEmail,
		AcceptedAt: booking.AcceptedAt,
	}, now)
	if err != nil {
		return nil, err
	}

	if _, err := s.requests.Delete(ctx, id); err != nil {
		return nil, err
	}

	if created {
		s.metrics.Transition("booking", "accepted")
		logger.InfoContext(ctx, "Booking request accepted", "booking_id", id.Hex(), "claimer", booking.Claimer)
	}
	return booking, nil
}

func (s *bookingService) alreadyAccepted(ctx context.Context, caller *domain.User, id primitive.ObjectID, notFound error) (*domain.Booking, error) {
	b, err := s.bookings.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, notFound
	}
	if err != nil {
		return nil, err
	}
	if !b.IsHost(caller.Email) && !caller.Is(domain.RoleAdmin) {
		return nil, fmt.Errorf("accept booking request %s: %w", id.Hex(), domain.ErrForbidden)
	}
	return b, nil
}

func (s *bookingService) Reject(ctx context.Context, caller *domain.User, id primitive.ObjectID) (domain.DeleteResult, error) {
	req, err := s.requests.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return deleted(0), nil
	}
	if err != nil {
		return domain.DeleteResult{}, err
	}
	if !req.IsHost(caller.Email) && !caller.Is(domain.RoleAdmin) {
		return domain.DeleteResult{}, fmt.Errorf("reject booking request %s: %w", id.Hex(), domain.ErrForbidden)
	}

	n, err := s.requests.DeleteRequested(ctx, id)
	if err != nil {
		return domain.DeleteResult{}, err
	}
	if n > 0 {
		s.metrics.Transition("booking", "rejected")
		logger.InfoContext(ctx, "Booking request rejected", "request_id", id.Hex())
	}
	return deleted(n), nil
}

func (s *bookingService) Bookings(ctx context.Context) ([]domain.Booking, error) {
	return s.bookings.List(ctx)
}

func (s *bookingService) ByClaimer(ctx context.Context, email string) ([]domain.Booking, error) {
	return s.bookings.ListByClaimer(ctx, email)
}
