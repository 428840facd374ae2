package service

import (
	"context"
	"errors"
	"time"

	"github.com/diagnosis/tolet/internal/domain"
	"github.com/diagnosis/tolet/internal/repo/mongodb"
	"github.com/diagnosis/tolet/pkg/logger"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type UserService interface {
	// Save creates the user for email unless one exists. An existing user is
	// returned untouched.
	Save(ctx context.Context, email string, in domain.UserInput) (user *domain.User, created bool, err error)
	Get(ctx context.Context, email string) (*domain.User, error)
	// HasRole is an exact role match; an unknown email is simply false.
	HasRole(ctx context.Context, email string, role domain.Role) (bool, error)
	List(ctx context.Context) ([]domain.User, error)
	Delete(ctx context.Context, id primitive.ObjectID) (domain.DeleteResult, error)
}

type userService struct {
	users mongodb.UserRepo
	now   func() time.Time
}

func NewUserService(users mongodb.UserRepo) UserService {
	return &userService{users: users, now: time.Now}
}

func (s *userService) Save(ctx context.Context, email string, in domain.UserInput) (*domain.User, bool, error) {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return nil, false, domain.NewValidationError("email", "is required")
	}
	if err := domain.Validate(in); err != nil {
		return nil, false, err
	}
	if in.Email != "" && domain.NormalizeEmail(in.Email) != email {
		return nil, false, domain.NewValidationError("email", "must match the path")
	}

	// self sign-up never grants owner or admin; those go through ownership
	// requests and the database respectively
	role := domain.RoleUnset
	if in.Role != "" {
		r, ok := domain.ParseRole(in.Role)
		if !ok || r != domain.RoleMember {
			return nil, false, domain.NewValidationError("role", "must be member or empty")
		}
		role = r
	}

	u := &domain.User{
		Email:     email,
		Name:      in.Name,
		Photo:     in.Photo,
		Role:      role,
		Status:    in.Status,
		Timestamp: s.now().UnixMilli(),
	}
	stored, created, err := s.users.InsertIfAbsent(ctx, u)
	if err != nil {
		return nil, false, err
	}
	if created {
		logger.InfoContext(ctx, "User created", "email", email)
	}
	return stored, created, nil
}

func (s *userService) Get(ctx context.Context, email string) (*domain.User, error) {
	return s.users.FindByEmail(ctx, email)
}

func (s *userService) HasRole(ctx context.Context, email string, role domain.Role) (bool, error) {
	u, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return u.Is(role), nil
}

func (s *userService) List(ctx context.Context) ([]domain.User, error) {
	return s.users.List(ctx)
}

func (s *userService) Delete(ctx context.Context, id primitive.ObjectID) (domain.DeleteResult, error) {
	n, err := s.users.DeleteByID(ctx, id)
	if err != nil {
		return domain.DeleteResult{}, err
	}
	return deleted(n), nil
}
