package service

import (
	"context"
	"fmt"
	"time"

	"github.com/diagnosis/tolet/internal/domain"
	"github.com/diagnosis/tolet/internal/repo/mongodb"
	"github.com/diagnosis/tolet/pkg/events"
	"github.com/diagnosis/tolet/pkg/logger"
	"github.com/diagnosis/tolet/pkg/metrics"
)

type OwnershipService interface {
	Request(ctx context.Context, caller *domain.User, in domain.OwnershipRequestInput) (*domain.OwnershipRequest, error)
	List(ctx context.Context) ([]domain.OwnershipRequest, error)
	// Accept makes the user an owner and clears their request. Admins keep
	// their role.
	Accept(ctx context.Context, email string) (*domain.User, error)
	Reject(ctx context.Context, email string) (domain.DeleteResult, error)
}

type ownershipService struct {
	requests mongodb.OwnershipRepo
	users    mongodb.UserRepo
	outbox   mongodb.OutboxRepo
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewOwnershipService(requests mongodb.OwnershipRepo, users mongodb.UserRepo, outbox mongodb.OutboxRepo, m *metrics.Metrics) OwnershipService {
	return &ownershipService{
		requests: requests,
		users:    users,
		outbox:   outbox,
		metrics:  m,
		now:      time.Now,
	}
}

func (s *ownershipService) Request(ctx context.Context, caller *domain.User, in domain.OwnershipRequestInput) (*domain.OwnershipRequest, error) {
	if err := domain.Validate(in); err != nil {
		return nil, err
	}
	if caller.Is(domain.RoleOwner) || caller.Is(domain.RoleAdmin) {
		return nil, fmt.Errorf("%s already has role %s: %w", caller.Email, caller.Role, domain.ErrConflict)
	}

	name := in.Name
	if name == "" {
		name = caller.Name
	}
	return s.requests.Upsert(ctx, &domain.OwnershipRequest{
		Email:     caller.Email,
		Name:      name,
		Message:   in.Message,
		CreatedAt: s.now().UTC(),
	})
}

func (s *ownershipService) List(ctx context.Context) ([]domain.OwnershipRequest, error) {
	return s.requests.List(ctx)
}

func (s *ownershipService) Accept(ctx context.Context, email string) (*domain.User, error) {
	email = domain.NormalizeEmail(email)
	user, err := s.users.PromoteToOwner(ctx, email)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	err = emit(ctx, s.outbox, events.OwnershipGranted, email, events.OwnershipGrantedEvent{
		Email:     email,
		GrantedAt: now,
	}, now)
	if err != nil {
		return nil, err
	}

	if _, err := s.requests.DeleteByEmail(ctx, email); err != nil {
		return nil, err
	}
	s.metrics.Transition("ownership", "granted")
	logger.InfoContext(ctx, "Ownership granted", "email", email, "role", user.Role)
	return user, nil
}

func (s *ownershipService) Reject(ctx context.Context, email string) (domain.DeleteResult, error) {
	n, err := s.requests.DeleteByEmail(ctx, email)
	if err != nil {
		return domain.DeleteResult{}, err
	}
	return deleted(n), nil
}
