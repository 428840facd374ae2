package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diagnosis/tolet/internal/domain"
	"github.com/diagnosis/tolet/internal/repo/mongodb"
	"github.com/diagnosis/tolet/pkg/cache"
	"github.com/diagnosis/tolet/pkg/events"
	"github.com/diagnosis/tolet/pkg/logger"
	"github.com/diagnosis/tolet/pkg/metrics"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type ListingService interface {
	Submit(ctx context.Context, caller *domain.User, details domain.ListingDetails) (*domain.ToLetRequest, error)
	Requests(ctx context.Context) ([]domain.ToLetRequest, error)
	// Accept moves a to-let request into properties. Calling it again for a
	// request that was already moved returns the existing property.
	Accept(ctx context.Context, id primitive.ObjectID) (*domain.Property, error)
	Reject(ctx context.Context, id primitive.ObjectID) (domain.DeleteResult, error)

	Available(ctx context.Context) ([]domain.Property, error)
	All(ctx context.Context) ([]domain.Property, error)
	Get(ctx context.Context, id primitive.ObjectID) (*domain.Property, error)
	ByHost(ctx context.Context, email string) ([]domain.Property, error)
	Update(ctx context.Context, caller *domain.User, id primitive.ObjectID, details domain.ListingDetails) (*domain.Property, error)
	Delete(ctx context.Context, id primitive.ObjectID) (domain.DeleteResult, error)
}

type listingService struct {
	requests   mongodb.ToLetRepo
	properties mongodb.PropertyRepo
	outbox     mongodb.OutboxRepo
	cache      Cache
	cacheTTL   time.Duration
	metrics    *metrics.Metrics
	now        func() time.Time
}

func NewListingService(
	requests mongodb.ToLetRepo,
	properties mongodb.PropertyRepo,
	outbox mongodb.OutboxRepo,
	cache Cache,
	cacheTTL time.Duration,
	m *metrics.Metrics,
) ListingService {
	return &listingService{
		requests:   requests,
		properties: properties,
		outbox:     outbox,
		cache:      cache,
		cacheTTL:   cacheTTL,
		metrics:    m,
		now:        time.Now,
	}
}

func (s *listingService) Submit(ctx context.Context, caller *domain.User, details domain.ListingDetails) (*domain.ToLetRequest, error) {
	if details.HostEmail == "" {
		details.HostEmail = caller.Email
	}
	details.HostEmail = domain.NormalizeEmail(details.HostEmail)
	if err := domain.Validate(details); err != nil {
		return nil, err
	}
	if details.HostEmail != caller.Email && !caller.Is(domain.RoleAdmin) {
		return nil, fmt.Errorf("submit for %s: %w", details.HostEmail, domain.ErrForbidden)
	}

	req := &domain.ToLetRequest{
		ListingDetails: details,
		Status:         domain.ListingPending,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.requests.Insert(ctx, req); err != nil {
		return nil, err
	}
	s.metrics.Transition("tolet", "submitted")
	logger.InfoContext(ctx, "To-let request submitted", "request_id", req.ID.Hex(), "host", details.HostEmail)
	return req, nil
}

func (s *listingService) Requests(ctx context.Context) ([]domain.ToLetRequest, error) {
	return s.requests.List(ctx)
}

func (s *listingService) Accept(ctx context.Context, id primitive.ObjectID) (*domain.Property, error) {
	req, err := s.requests.BeginMove(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		// the request is gone; if its property exists a previous call finished the move
		if p, perr := s.properties.Get(ctx, id); perr == nil {
			return p, nil
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	property := req.ToProperty(now)
	created, err := s.properties.InsertMoved(ctx, property)
	if err != nil {
		return nil, err
	}
	if !created {
		if property, err = s.properties.Get(ctx, id); err != nil {
			return nil, err
		}
	}

	err = emit(ctx, s.outbox, events.ListingAccepted, id.Hex(), events.ListingAcceptedEvent{
		PropertyID: id.Hex(),
		Title:      property.Title,
		HostEmail:  property.HostEmail,
		AcceptedAt: now,
	}, now)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)

	// last, so an interrupted move can always be found and resumed
	if _, err := s.requests.Delete(ctx, id); err != nil {
		return nil, err
	}

	if created {
		s.metrics.Transition("tolet", "accepted")
		logger.InfoContext(ctx, "To-let request accepted", "property_id", id.Hex())
	}
	return property, nil
}

func (s *listingService) Reject(ctx context.Context, id primitive.ObjectID) (domain.DeleteResult, error) {
	n, err := s.requests.DeletePending(ctx, id)
	if err != nil {
		return domain.DeleteResult{}, err
	}
	if n > 0 {
		s.metrics.Transition("tolet", "rejected")
		logger.InfoContext(ctx, "To-let request rejected", "request_id", id.Hex())
	}
	return deleted(n), nil
}

func (s *listingService) Available(ctx context.Context) ([]domain.Property, error) {
	var cached []domain.Property
	found, err := s.cache.GetJSON(ctx, cache.KeyAvailableProperties, &cached)
	if err != nil {
		logger.WarnContext(ctx, "Listing cache read failed", "error", err)
	}
	if found {
		return cached, nil
	}

	props, err := s.properties.ListAvailable(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.cache.SetJSON(ctx, cache.KeyAvailableProperties, props, s.cacheTTL); err != nil {
		logger.WarnContext(ctx, "Listing cache write failed", "error", err)
	}
	return props, nil
}

func (s *listingService) All(ctx context.Context) ([]domain.Property, error) {
	return s.properties.ListAll(ctx)
}

func (s *listingService) Get(ctx context.Context, id primitive.ObjectID) (*domain.Property, error) {
	return s.properties.Get(ctx, id)
}

func (s *listingService) ByHost(ctx context.Context, email string) ([]domain.Property, error) {
	return s.properties.ListByHost(ctx, email)
}

func (s *listingService) Update(ctx context.Context, caller *domain.User, id primitive.ObjectID, details domain.ListingDetails) (*domain.Property, error) {
	current, err := s.properties.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.IsHost(caller.Email) && !caller.Is(domain.RoleAdmin) {
		return nil, fmt.Errorf("update property %s: %w", id.Hex(), domain.ErrForbidden)
	}

	// the host is not editable; a property only changes hands by re-listing
	details.HostEmail = current.HostEmail
	if err := domain.Validate(details); err != nil {
		return nil, err
	}

	p, err := s.properties.UpdateDetails(ctx, id, details)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return p, nil
}

func (s *listingService) Delete(ctx context.Context, id primitive.ObjectID) (domain.DeleteResult, error) {
	n, err := s.properties.Delete(ctx, id)
	if err != nil {
		return domain.DeleteResult{}, err
	}
	if n > 0 {
		s.invalidate(ctx)
	}
	return deleted(n), nil
}

func (s *listingService) invalidate(ctx context.Context) {
	if err := s.cache.Invalidate(ctx, cache.KeyAvailableProperties); err != nil {
		logger.WarnContext(ctx, "Listing cache invalidation failed", "error", err)
	}
}
